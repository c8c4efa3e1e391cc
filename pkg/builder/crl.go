package builder

import (
	"bytes"
	"crypto/x509"
	"fmt"
	"math/big"
	"time"

	"github.com/jeremyhahn/go-trusted-pki/pkg/model"
	"github.com/jeremyhahn/go-trusted-pki/pkg/pki"
	"github.com/jeremyhahn/go-trusted-pki/pkg/util"
)

// CrlBuilder issues revocation lists. The issuer private key is always
// required.
type CrlBuilder struct {
	*builder
}

func NewCrlBuilder(params *Params) *CrlBuilder {
	return &CrlBuilder{builder: newBuilder(params)}
}

func (cb *CrlBuilder) Build(config *model.CrlConfig) (*model.CrlConfig, error) {
	c, _, err := cb.BuildCRL(config)
	return c, err
}

// Issues the revocation list. Entries of an existing list are carried
// over and its number is incremented; an entry naming an already revoked
// serial number replaces it.
func (cb *CrlBuilder) BuildCRL(config *model.CrlConfig) (
	c *model.CrlConfig,
	crl *pki.RevocationList,
	err error) {

	defer cb.observe(BUILDER_CRL, time.Now(), &err)

	c = config.Clone()
	if c == nil {
		c = &model.CrlConfig{}
	}
	if c.SchemaVersion == "" {
		c.SchemaVersion = model.SCHEMA_VERSION
	}

	issuer, err := cb.loadIssuer(c.Issuer, c.IssuerKeyPair)
	if err != nil {
		return nil, nil, err
	}
	signer, signingKeyPair, err := newSigner(issuer.PrivateKey)
	if err != nil {
		return nil, nil, err
	}

	var existing *x509.RevocationList
	if c.Existing.IsSet() {
		prior, err := cb.loadCRL("existing", c.Existing)
		if err != nil {
			return nil, nil, err
		}
		existing = prior.RevocationList
		if !bytes.Equal(existing.RawIssuer, issuer.Certificate.RawSubject) {
			return nil, nil, pki.NewInputError("existing",
				fmt.Sprintf("issued by %s, not %s", existing.Issuer, issuer.Certificate.Subject))
		}
	}

	number, err := cb.number(c, existing)
	if err != nil {
		return nil, nil, err
	}
	c.Hash, err = parseHash(c.Hash, func() (string, bool) {
		if existing == nil {
			return "", false
		}
		hash, err := pki.HashFromSignatureAlgorithm(existing.SignatureAlgorithm)
		if err != nil {
			return "", false
		}
		return pki.HashName(hash), true
	})
	if err != nil {
		return nil, nil, err
	}
	hash, _ := pki.ParseHash(c.Hash)
	sigAlg, err := pki.SignatureAlgorithm(signingKeyPair.Algorithm, hash)
	if err != nil {
		return nil, nil, err
	}

	var entries []x509.RevocationListEntry
	if existing != nil {
		for _, entry := range existing.RevokedCertificateEntries {
			entries = append(entries, x509.RevocationListEntry{
				SerialNumber:   entry.SerialNumber,
				RevocationTime: entry.RevocationTime,
				ReasonCode:     entry.ReasonCode,
			})
		}
	}
	for i := range c.Entries {
		entry, err := cb.entry(i, &c.Entries[i])
		if err != nil {
			return nil, nil, err
		}
		entries = upsertEntry(entries, entry)
	}

	thisUpdate := cb.now()
	if c.ThisUpdate != nil {
		thisUpdate = c.ThisUpdate.UTC()
	}
	nextUpdate := thisUpdate.Add(DefaultCRLValidity)
	if c.NextUpdate != nil {
		nextUpdate = c.NextUpdate.UTC()
	}
	if !nextUpdate.After(thisUpdate) {
		return nil, nil, pki.NewInputError("next_update", "must be later than this_update")
	}
	c.ThisUpdate, c.NextUpdate = &thisUpdate, &nextUpdate

	template := &x509.RevocationList{
		SignatureAlgorithm:        sigAlg,
		RevokedCertificateEntries: entries,
		Number:                    number,
		ThisUpdate:                thisUpdate,
		NextUpdate:                nextUpdate,
	}
	der, err := x509.CreateRevocationList(cb.params.Random, template, issuer.Certificate, signer)
	if err != nil {
		return nil, nil, err
	}
	parsed, err := x509.ParseRevocationList(der)
	if err != nil {
		return nil, nil, err
	}
	crl = &pki.RevocationList{RevocationList: parsed}

	c.Crl = outputSlot(c.Crl)
	encoding, err := c.Crl.Encoding()
	if err != nil {
		return nil, nil, err
	}
	if err := cb.write(c.Crl, pki.EncodeCRL(parsed, encoding), encoding == pki.EncodingPEM); err != nil {
		return nil, nil, err
	}
	c.Number = number.String()
	c.Thumbprint = crl.Thumbprint().String()
	if err := cb.persist(&pki.Artifact{Kind: pki.KindRevocationList, RevocationList: crl}); err != nil {
		return nil, nil, err
	}
	cb.issued(BUILDER_CRL, pki.KindRevocationList, crl.Thumbprint(),
		"", parsed.Issuer.String(), c.Number)
	cb.params.Logger.Info("builder/crl: revocation list issued",
		"number", c.Number, "entries", len(entries))
	return c, crl, nil
}

// Returns the configured number, the successor of the existing list's
// number, or a number derived from the current time.
func (cb *CrlBuilder) number(c *model.CrlConfig, existing *x509.RevocationList) (*big.Int, error) {
	if c.Number != "" {
		return model.ParseSerialNumber("number", c.Number)
	}
	if existing != nil && existing.Number != nil {
		return new(big.Int).Add(existing.Number, big.NewInt(1)), nil
	}
	return util.TicksSerialNumber(cb.now()), nil
}

// Resolves an entry, writing the resolved serial number and revocation
// time back to the config.
func (cb *CrlBuilder) entry(i int, e *model.CrlEntry) (x509.RevocationListEntry, error) {
	var serial *big.Int
	switch {
	case e.Certificate.IsSet():
		cert, err := cb.loadCertificate(fmt.Sprintf("entries[%d].certificate", i), e.Certificate)
		if err != nil {
			return x509.RevocationListEntry{}, err
		}
		serial = cert.Certificate.SerialNumber
	case e.SerialNumber != "":
		var err error
		serial, err = model.ParseSerialNumber(fmt.Sprintf("entries[%d].serial_number", i), e.SerialNumber)
		if err != nil {
			return x509.RevocationListEntry{}, err
		}
	default:
		return x509.RevocationListEntry{}, pki.Missing(fmt.Sprintf("entries[%d].serial_number", i))
	}
	reason, err := model.ParseRevocationReason(e.Reason)
	if err != nil {
		return x509.RevocationListEntry{}, err
	}
	revoked := cb.now()
	if e.RevocationTime != nil {
		revoked = e.RevocationTime.UTC()
	}
	e.SerialNumber = serial.String()
	e.RevocationTime = &revoked
	e.Reason = model.RevocationReasonName(reason)
	return x509.RevocationListEntry{
		SerialNumber:   serial,
		RevocationTime: revoked,
		ReasonCode:     reason,
	}, nil
}

func upsertEntry(entries []x509.RevocationListEntry, entry x509.RevocationListEntry) []x509.RevocationListEntry {
	for i := range entries {
		if entries[i].SerialNumber.Cmp(entry.SerialNumber) == 0 {
			entries[i] = entry
			return entries
		}
	}
	return append(entries, entry)
}
