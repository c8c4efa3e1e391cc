package builder

import (
	"crypto/x509"
	"time"

	"github.com/jeremyhahn/go-trusted-pki/pkg/model"
	"github.com/jeremyhahn/go-trusted-pki/pkg/pki"
)

// CsrBuilder produces PKCS #10 signing requests, either from a subject
// and extension description or by re-signing an existing request.
type CsrBuilder struct {
	*builder
	keyPairs *KeyPairBuilder
}

func NewCsrBuilder(params *Params) *CsrBuilder {
	b := newBuilder(params)
	return &CsrBuilder{
		builder:  b,
		keyPairs: &KeyPairBuilder{builder: b},
	}
}

func (cb *CsrBuilder) Build(config *model.CsrConfig) (*model.CsrConfig, error) {
	c, _, _, err := cb.BuildCSR(config)
	return c, err
}

// Builds the request and returns the enriched config together with the
// request and the key pair that signed it.
func (cb *CsrBuilder) BuildCSR(config *model.CsrConfig) (
	c *model.CsrConfig,
	csr *pki.SigningRequest,
	kp *pki.KeyPair,
	err error) {

	defer cb.observe(BUILDER_CSR, time.Now(), &err)

	c = config.Clone()
	if c == nil {
		c = &model.CsrConfig{}
	}
	if c.SchemaVersion == "" {
		c.SchemaVersion = model.SCHEMA_VERSION
	}

	var existing *x509.CertificateRequest
	if c.Existing.IsSet() {
		prior, err := cb.loadCSR("existing", c.Existing)
		if err != nil {
			return nil, nil, nil, err
		}
		existing = prior.CertificateRequest
	} else if c.Subject.IsEmpty() {
		return nil, nil, nil, pki.Missing("subject")
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
		return nil, nil, nil, err
	}
	hash, _ := pki.ParseHash(c.Hash)

	c.KeyPair, kp, err = cb.keyPairs.BuildKeyPair(c.KeyPair)
	if err != nil {
		return nil, nil, nil, err
	}
	signer, _, err := newSigner(kp.PrivateKey)
	if err != nil {
		return nil, nil, nil, err
	}
	sigAlg, err := pki.SignatureAlgorithm(kp.Algorithm, hash)
	if err != nil {
		return nil, nil, nil, err
	}

	template := &x509.CertificateRequest{SignatureAlgorithm: sigAlg}
	if !c.Subject.IsEmpty() {
		template.Subject, err = c.Subject.Name()
		if err != nil {
			return nil, nil, nil, err
		}
	} else {
		template.RawSubject = existing.RawSubject
	}

	extensions, err := c.Extensions.Extensions(kp.PublicKey)
	if err != nil {
		return nil, nil, nil, err
	}
	if existing != nil {
		policy, err := c.Extensions.Policy()
		if err != nil {
			return nil, nil, nil, err
		}
		extensions = mergeExtensions(existing.Extensions, extensions, policy)
		// The subject key identifier follows the new key
		if i := pki.FindExtension(extensions, pki.OIDExtensionSubjectKeyID); i >= 0 {
			keyID, err := pki.SubjectKeyID(kp.PublicKey)
			if err != nil {
				return nil, nil, nil, err
			}
			if extensions[i], err = pki.MarshalSubjectKeyID(keyID); err != nil {
				return nil, nil, nil, err
			}
		}
	}
	template.ExtraExtensions = extensions

	der, err := x509.CreateCertificateRequest(cb.params.Random, template, signer)
	if err != nil {
		return nil, nil, nil, err
	}
	request, err := x509.ParseCertificateRequest(der)
	if err != nil {
		return nil, nil, nil, err
	}
	csr = &pki.SigningRequest{CertificateRequest: request}

	c.Csr = outputSlot(c.Csr)
	encoding, err := c.Csr.Encoding()
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cb.write(c.Csr, pki.EncodeCSR(request, encoding), encoding == pki.EncodingPEM); err != nil {
		return nil, nil, nil, err
	}
	c.Thumbprint = csr.Thumbprint().String()
	if err := cb.persist(&pki.Artifact{Kind: pki.KindSigningRequest, SigningRequest: csr}); err != nil {
		return nil, nil, nil, err
	}
	cb.issued(BUILDER_CSR, pki.KindSigningRequest, csr.Thumbprint(), request.Subject.String(), "", "")
	return c, csr, kp, nil
}
