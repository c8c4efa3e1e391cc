package builder

import (
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"time"

	"github.com/jeremyhahn/go-trusted-pki/pkg/model"
	"github.com/jeremyhahn/go-trusted-pki/pkg/pki"
	"github.com/jeremyhahn/go-trusted-pki/pkg/util"
)

// CertBuilder issues certificates from signing requests. Without an
// issuer the certificate is self-signed with the request key.
type CertBuilder struct {
	*builder
	csrs *CsrBuilder
}

func NewCertBuilder(params *Params) *CertBuilder {
	b := newBuilder(params)
	return &CertBuilder{
		builder: b,
		csrs: &CsrBuilder{
			builder:  b,
			keyPairs: &KeyPairBuilder{builder: b},
		},
	}
}

func (cb *CertBuilder) Build(config *model.CertConfig) (*model.CertConfig, error) {
	c, _, err := cb.BuildCertificate(config)
	return c, err
}

// Issues the certificate and returns the enriched config along with the
// certificate. The certificate carries the subject private key when the
// builder generated or loaded it.
func (cb *CertBuilder) BuildCertificate(config *model.CertConfig) (
	c *model.CertConfig,
	cert *pki.Certificate,
	err error) {

	defer cb.observe(BUILDER_CERT, time.Now(), &err)

	c = config.Clone()
	if c == nil {
		c = &model.CertConfig{}
	}
	if c.SchemaVersion == "" {
		c.SchemaVersion = model.SCHEMA_VERSION
	}
	if c.Csr == nil {
		c.Csr = &model.CsrConfig{}
	}
	selfSigned := !c.Issuer.IsSet()

	// The issuer is resolved first so a missing key fails before any
	// subject key is generated
	var issuer *pki.Certificate
	if !selfSigned {
		if issuer, err = cb.loadIssuer(c.Issuer, c.IssuerKeyPair); err != nil {
			return nil, nil, err
		}
	}

	csr, subjectKey, err := cb.signingRequest(c, selfSigned)
	if err != nil {
		return nil, nil, err
	}
	request := csr.CertificateRequest
	if err := request.CheckSignature(); err != nil {
		return nil, nil, &pki.InputError{Field: "csr", Message: "signature does not verify", Err: err}
	}

	var signingKey crypto.PrivateKey
	if selfSigned {
		signingKey = subjectKey.PrivateKey
	} else {
		signingKey = issuer.PrivateKey
	}
	signer, signingKeyPair, err := newSigner(signingKey)
	if err != nil {
		return nil, nil, err
	}

	c.Hash, err = parseHash(c.Hash, func() (string, bool) {
		hash, err := pki.HashFromSignatureAlgorithm(request.SignatureAlgorithm)
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

	serial, err := cb.serialNumber(c)
	if err != nil {
		return nil, nil, err
	}
	notBefore, notAfter := cb.now(), MaxNotAfter
	if c.NotBefore != nil {
		notBefore = c.NotBefore.UTC()
	}
	if c.NotAfter != nil {
		notAfter = c.NotAfter.UTC()
	}
	if !notAfter.After(notBefore) {
		return nil, nil, pki.NewInputError("not_after", "must be later than not_before")
	}
	c.NotBefore, c.NotAfter = &notBefore, &notAfter

	template := &x509.Certificate{
		SerialNumber:       serial,
		RawSubject:         request.RawSubject,
		NotBefore:          notBefore,
		NotAfter:           notAfter,
		SignatureAlgorithm: sigAlg,
	}
	if err := cb.extensions(c, request, template, selfSigned); err != nil {
		return nil, nil, err
	}

	parent := template
	if !selfSigned {
		parent = issuer.Certificate
	}
	der, err := x509.CreateCertificate(cb.params.Random, template, parent, request.PublicKey, signer)
	if err != nil {
		return nil, nil, err
	}
	issued, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, err
	}
	cert = pki.NewCertificate(issued)
	if subjectKey != nil {
		cert = cert.WithPrivateKey(subjectKey.PrivateKey)
	}

	c.Certificate = outputSlot(c.Certificate)
	encoding, err := c.Certificate.Encoding()
	if err != nil {
		return nil, nil, err
	}
	if err := cb.write(c.Certificate, pki.EncodeCertificate(issued, encoding), encoding == pki.EncodingPEM); err != nil {
		return nil, nil, err
	}
	c.Thumbprint = cert.Thumbprint().String()
	if err := cb.persist(&pki.Artifact{Kind: pki.KindCertificate, Certificate: cert}); err != nil {
		return nil, nil, err
	}
	cb.issued(BUILDER_CERT, pki.KindCertificate, cert.Thumbprint(),
		issued.Subject.String(), issued.Issuer.String(), issued.SerialNumber.String())
	return c, cert, nil
}

// Loads the signing request from the CSR output slot when it holds one,
// building it otherwise. The subject key pair is returned when known;
// self-signing requires it.
func (cb *CertBuilder) signingRequest(c *model.CertConfig, selfSigned bool) (*pki.SigningRequest, *pki.KeyPair, error) {
	if !c.Csr.Csr.Exists(cb.params.Fs) {
		csrConfig, csr, kp, err := cb.csrs.BuildCSR(c.Csr)
		if err != nil {
			return nil, nil, err
		}
		c.Csr = csrConfig
		return csr, kp, nil
	}

	csr, err := cb.loadCSR("csr", c.Csr.Csr)
	if err != nil {
		return nil, nil, err
	}
	if c.Csr.KeyPair == nil || !c.Csr.KeyPair.PrivateKey.Exists(cb.params.Fs) {
		if selfSigned {
			return nil, nil, pki.NewInputError("csr.key_pair.private_key",
				"required to self-sign an existing signing request")
		}
		return csr, nil, nil
	}
	var kp *pki.KeyPair
	c.Csr.KeyPair, kp, err = cb.csrs.keyPairs.BuildKeyPair(c.Csr.KeyPair)
	if err != nil {
		return nil, nil, err
	}
	if !pki.PublicKeysEqual(kp.PublicKey, csr.CertificateRequest.PublicKey) {
		return nil, nil, &pki.InputError{
			Field:   "csr.key_pair.private_key",
			Message: "does not match the signing request",
			Err:     pki.ErrKeyMismatch,
		}
	}
	return csr, kp, nil
}

func (cb *CertBuilder) serialNumber(c *model.CertConfig) (*big.Int, error) {
	if c.SerialNumber == "" {
		serial := util.TicksSerialNumber(cb.now())
		c.SerialNumber = serial.String()
		return serial, nil
	}
	return model.ParseSerialNumber("serial_number", c.SerialNumber)
}

// Merges the configured extensions into those of the request. Key
// identifiers are recomputed: the subject key identifier is set when
// requested or when the certificate is a CA, and the authority key
// identifier of a self-signed certificate repeats it.
func (cb *CertBuilder) extensions(
	c *model.CertConfig,
	request *x509.CertificateRequest,
	template *x509.Certificate,
	selfSigned bool) error {

	configured, err := c.Extensions.Extensions(nil)
	if err != nil {
		return err
	}
	policy, err := c.Extensions.Policy()
	if err != nil {
		return err
	}
	merged := mergeExtensions(request.Extensions, configured, policy)

	wantSKI := pki.FindExtension(merged, pki.OIDExtensionSubjectKeyID) >= 0 ||
		(c.Extensions != nil && c.Extensions.SubjectKeyIdentifier) ||
		isCA(merged)
	wantAKI := pki.FindExtension(merged, pki.OIDExtensionAuthorityKeyID) >= 0 ||
		(c.Extensions != nil && c.Extensions.AuthorityKeyIdentifier) ||
		(c.Csr.Extensions != nil && c.Csr.Extensions.AuthorityKeyIdentifier)
	merged = pki.RemoveExtensions(merged,
		pki.OIDExtensionSubjectKeyID, pki.OIDExtensionAuthorityKeyID)

	if wantSKI {
		keyID, err := pki.SubjectKeyID(request.PublicKey)
		if err != nil {
			return err
		}
		template.SubjectKeyId = keyID
		if selfSigned && wantAKI {
			template.AuthorityKeyId = keyID
		}
	}
	template.ExtraExtensions = merged
	return nil
}

type basicConstraints struct {
	IsCA       bool `asn1:"optional"`
	MaxPathLen int  `asn1:"optional,default:-1"`
}

func isCA(extensions []pkix.Extension) bool {
	i := pki.FindExtension(extensions, pki.OIDExtensionBasicConstraints)
	if i < 0 {
		return false
	}
	var bc basicConstraints
	if _, err := asn1.Unmarshal(extensions[i].Value, &bc); err != nil {
		return false
	}
	return bc.IsCA
}
