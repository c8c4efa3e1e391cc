package builder

import (
	"crypto/x509"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/jeremyhahn/go-trusted-pki/pkg/model"
	"github.com/jeremyhahn/go-trusted-pki/pkg/pki"
	"github.com/jeremyhahn/go-trusted-pki/pkg/util"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelfSignedCertificate(t *testing.T) {
	params := testParams()
	c, cert := buildCA(t, params, "Root CA")

	issued := cert.Certificate
	assert.Equal(t, issued.RawSubject, issued.RawIssuer)
	assert.Nil(t, issued.CheckSignatureFrom(issued))
	assert.True(t, issued.IsCA)
	assert.Equal(t, 1, issued.MaxPathLen)
	assert.Equal(t, x509.KeyUsageCertSign|x509.KeyUsageCRLSign|x509.KeyUsageDigitalSignature, issued.KeyUsage)
	assert.NotEmpty(t, issued.SubjectKeyId)
	assert.Equal(t, issued.SubjectKeyId, issued.AuthorityKeyId)
	assert.Equal(t, MaxNotAfter, issued.NotAfter.UTC())
	assert.Equal(t, "Root CA", issued.Subject.CommonName)

	// Serial numbers default to the issue time in ticks
	assert.Equal(t, issued.SerialNumber.String(), c.SerialNumber)
	assert.True(t, issued.SerialNumber.Cmp(big.NewInt(0)) > 0)

	// The enriched config describes what was issued
	assert.Equal(t, cert.Thumbprint().String(), c.Thumbprint)
	assert.Equal(t, "SHA-512", c.Hash)
	assert.Equal(t, x509.ECDSAWithSHA512, issued.SignatureAlgorithm)
	require.NotNil(t, c.NotBefore)
	require.NotNil(t, c.NotAfter)
	assert.NotEmpty(t, c.Csr.Thumbprint)
	assert.NotEmpty(t, c.Csr.KeyPair.Thumbprint)

	artifacts := readAll(t, c.Certificate.Data, "")
	require.Len(t, artifacts, 1)
	assert.Equal(t, cert.Thumbprint(), artifacts[0].Thumbprint())

	keys := readAll(t, c.Csr.KeyPair.PrivateKey.Data, "")
	require.Len(t, keys, 1)
	assert.True(t, keys[0].KeyPair.Matches(issued))
}

func TestIssuerSignedCertificate(t *testing.T) {
	params := testParams()
	ca, caCert := buildCA(t, params, "Issuing CA")

	config := leafConfig("www.example.com")
	config.Issuer, config.IssuerKeyPair = issuerOf(ca)
	config.Hash = "SHA-256"
	c, cert, err := NewCertBuilder(params).BuildCertificate(config)
	require.Nil(t, err)

	issued := cert.Certificate
	assert.Nil(t, issued.CheckSignatureFrom(caCert.Certificate))
	assert.Equal(t, caCert.Certificate.RawSubject, issued.RawIssuer)
	assert.Equal(t, caCert.Certificate.SubjectKeyId, issued.AuthorityKeyId)
	assert.False(t, issued.IsCA)
	assert.Empty(t, issued.SubjectKeyId)
	assert.Equal(t, []string{"www.example.com"}, issued.DNSNames)
	assert.Equal(t, "127.0.0.1", issued.IPAddresses[0].String())
	assert.Equal(t, []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}, issued.ExtKeyUsage)
	assert.Equal(t, x509.ECDSAWithSHA256, issued.SignatureAlgorithm)
	assert.True(t, cert.HasPrivateKey())
	assert.Equal(t, "SHA-256", c.Hash)

	// The chain verifies with the CA as the only root
	roots := x509.NewCertPool()
	roots.AddCert(caCert.Certificate)
	_, err = issued.Verify(x509.VerifyOptions{
		Roots:     roots,
		DNSName:   "www.example.com",
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	})
	assert.Nil(t, err)
}

func TestIssuerWithEmbeddedKey(t *testing.T) {
	params := testParams()
	ca, caCert := buildCA(t, params, "Embedded CA")

	bundle := append(append([]byte{}, ca.Certificate.Data...), ca.Csr.KeyPair.PrivateKey.Data...)
	config := leafConfig("embedded.example.com")
	config.Issuer = &model.ArtifactFile{Data: bundle}
	_, cert, err := NewCertBuilder(params).BuildCertificate(config)
	require.Nil(t, err)
	assert.Nil(t, cert.Certificate.CheckSignatureFrom(caCert.Certificate))
}

func TestIssuerFromFile(t *testing.T) {
	params := testParams()
	ca, caCert := buildCA(t, params, "File CA")
	require.Nil(t, afero.WriteFile(params.Fs, "/ca/ca.crt", ca.Certificate.Data, 0600))
	require.Nil(t, afero.WriteFile(params.Fs, "/ca/ca.key", ca.Csr.KeyPair.PrivateKey.Data, 0600))

	config := leafConfig("file.example.com")
	config.Issuer = &model.ArtifactFile{FileName: "/ca/ca.crt"}
	config.IssuerKeyPair = &model.KeyPairConfig{
		PrivateKey: &model.ArtifactFile{FileName: "/ca/ca.key"},
	}
	config.Certificate = &model.ArtifactFile{
		FileName:   "/certs/file.der",
		FileFormat: &model.FileFormat{Encoding: "der"},
	}
	c, cert, err := NewCertBuilder(params).BuildCertificate(config)
	require.Nil(t, err)
	assert.Nil(t, cert.Certificate.CheckSignatureFrom(caCert.Certificate))

	written, err := afero.ReadFile(params.Fs, "/certs/file.der")
	require.Nil(t, err)
	assert.Equal(t, cert.Certificate.Raw, written)
	assert.Equal(t, []byte(c.Certificate.Data), written)
}

func TestIssuerKeyNotFound(t *testing.T) {
	params := testParams()
	ca, _ := buildCA(t, params, "Keyless CA")

	config := leafConfig("orphan.example.com")
	config.Issuer = &model.ArtifactFile{Data: ca.Certificate.Data}
	config.Csr.KeyPair.PrivateKey = &model.ArtifactFile{FileName: "/keys/orphan.key"}
	_, err := NewCertBuilder(params).Build(config)
	assert.True(t, errors.Is(err, pki.ErrIssuerKeyNotFound))
	assert.True(t, errors.Is(err, pki.ErrInvalidInput))

	// Nothing is generated for the subject when the issuer cannot sign
	assert.False(t, util.FileExists(params.Fs, "/keys/orphan.key"))
}

func TestIssuerKeyMismatch(t *testing.T) {
	params := testParams()
	ca, _ := buildCA(t, params, "Mismatched CA")
	other, _ := buildCA(t, params, "Other CA")

	config := leafConfig("mismatch.example.com")
	config.Issuer = &model.ArtifactFile{Data: ca.Certificate.Data}
	_, config.IssuerKeyPair = issuerOf(other)
	_, err := NewCertBuilder(params).Build(config)
	assert.True(t, errors.Is(err, pki.ErrKeyMismatch))
}

func TestIssuerFromStore(t *testing.T) {
	params := testParams()
	store := newMemoryStore()
	params.Store = store
	ca, caCert := buildCA(t, params, "Stored CA")

	// Issuer certificate and key both resolved by thumbprint
	config := leafConfig("stored.example.com")
	config.Issuer = &model.ArtifactFile{Alias: ca.Thumbprint}
	_, cert, err := NewCertBuilder(params).BuildCertificate(config)
	require.Nil(t, err)
	assert.Nil(t, cert.Certificate.CheckSignatureFrom(caCert.Certificate))

	// Issuer certificate given inline, key taken from the store
	config = leafConfig("inline.example.com")
	config.Issuer = &model.ArtifactFile{Data: ca.Certificate.Data}
	_, cert, err = NewCertBuilder(params).BuildCertificate(config)
	require.Nil(t, err)
	assert.Nil(t, cert.Certificate.CheckSignatureFrom(caCert.Certificate))

	stored, err := store.Certificate(cert.Thumbprint())
	require.Nil(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.HasPrivateKey())

	// Unknown thumbprints fail as invalid input
	config = leafConfig("unknown.example.com")
	config.Issuer = &model.ArtifactFile{Alias: "00FF00FF00FF00FF00FF00FF00FF00FF00FF00FF"}
	_, err = NewCertBuilder(params).Build(config)
	assert.True(t, errors.Is(err, pki.ErrInvalidInput))
}

func TestCertificateFromExistingCSR(t *testing.T) {
	params := testParams()
	ca, caCert := buildCA(t, params, "CSR CA")
	csrConfig, csr, _, err := NewCsrBuilder(params).BuildCSR(leafConfig("csr.example.com").Csr)
	require.Nil(t, err)

	config := &model.CertConfig{
		Csr: &model.CsrConfig{Csr: &model.ArtifactFile{Data: csrConfig.Csr.Data}},
	}
	config.Issuer, config.IssuerKeyPair = issuerOf(ca)
	_, cert, err := NewCertBuilder(params).BuildCertificate(config)
	require.Nil(t, err)
	assert.False(t, cert.HasPrivateKey())
	assert.Equal(t, csr.CertificateRequest.RawSubject, cert.Certificate.RawSubject)
	assert.True(t, pki.PublicKeysEqual(csr.CertificateRequest.PublicKey, cert.Certificate.PublicKey))
	assert.Nil(t, cert.Certificate.CheckSignatureFrom(caCert.Certificate))

	// Self-signing an existing request needs its key
	_, err = NewCertBuilder(params).Build(&model.CertConfig{
		Csr: &model.CsrConfig{Csr: &model.ArtifactFile{Data: csrConfig.Csr.Data}},
	})
	assert.True(t, errors.Is(err, pki.ErrInvalidInput))

	_, cert, err = NewCertBuilder(params).BuildCertificate(&model.CertConfig{
		Csr: &model.CsrConfig{
			Csr:     &model.ArtifactFile{Data: csrConfig.Csr.Data},
			KeyPair: &model.KeyPairConfig{PrivateKey: csrConfig.KeyPair.PrivateKey},
		},
	})
	require.Nil(t, err)
	assert.True(t, cert.HasPrivateKey())
	// A self-signed leaf is not a CA, so only its signature is checked
	self := cert.Certificate
	assert.Equal(t, self.RawSubject, self.RawIssuer)
	assert.Nil(t, self.CheckSignature(self.SignatureAlgorithm, self.RawTBSCertificate, self.Signature))

	// A key that does not belong to the request is rejected
	_, err = NewCertBuilder(params).Build(&model.CertConfig{
		Csr: &model.CsrConfig{
			Csr:     &model.ArtifactFile{Data: csrConfig.Csr.Data},
			KeyPair: &model.KeyPairConfig{PrivateKey: ca.Csr.KeyPair.PrivateKey},
		},
	})
	assert.True(t, errors.Is(err, pki.ErrKeyMismatch))
}

func TestCertificateExtensionMergePolicy(t *testing.T) {
	params := testParams()
	tests := []struct {
		policy   model.MergePolicy
		expected []x509.ExtKeyUsage
	}{
		{model.MERGE_REPLACE, []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}},
		{model.MERGE_ADD_IF_ABSENT, []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}},
	}
	for _, tt := range tests {
		config := leafConfig("merge.example.com")
		config.Extensions = &model.ExtensionsConfig{
			ExtendedKeyUsage: []string{"client_auth"},
			MergePolicy:      tt.policy,
		}
		_, cert, err := NewCertBuilder(params).BuildCertificate(config)
		require.Nil(t, err)
		assert.Equal(t, tt.expected, cert.Certificate.ExtKeyUsage, tt.policy)
		assert.Equal(t, []string{"merge.example.com"}, cert.Certificate.DNSNames)
	}
}

func TestCertificateValidityAndSerial(t *testing.T) {
	params := testParams()
	notBefore := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	notAfter := time.Date(2034, 1, 1, 0, 0, 0, 0, time.UTC)

	config := leafConfig("validity.example.com")
	config.SerialNumber = "0x1F"
	config.NotBefore = &notBefore
	config.NotAfter = &notAfter
	c, cert, err := NewCertBuilder(params).BuildCertificate(config)
	require.Nil(t, err)
	assert.Equal(t, int64(31), cert.Certificate.SerialNumber.Int64())
	assert.Equal(t, notBefore, cert.Certificate.NotBefore.UTC())
	assert.Equal(t, notAfter, cert.Certificate.NotAfter.UTC())
	assert.Equal(t, "0x1F", c.SerialNumber)

	config = leafConfig("validity.example.com")
	config.NotBefore = &notAfter
	config.NotAfter = &notBefore
	_, err = NewCertBuilder(params).Build(config)
	assert.True(t, errors.Is(err, pki.ErrInvalidInput))

	config = leafConfig("validity.example.com")
	config.SerialNumber = "-5"
	_, err = NewCertBuilder(params).Build(config)
	assert.True(t, errors.Is(err, pki.ErrInvalidInput))
}

func TestCertificateConfigNotMutated(t *testing.T) {
	params := testParams()
	config := caConfig("Immutable CA")
	_, err := NewCertBuilder(params).Build(config)
	require.Nil(t, err)

	assert.Nil(t, config.Certificate)
	assert.Empty(t, config.Thumbprint)
	assert.Empty(t, config.SerialNumber)
	assert.Nil(t, config.NotBefore)
	assert.Nil(t, config.Csr.Csr)
	assert.Nil(t, config.Csr.KeyPair.PrivateKey)
	assert.Empty(t, config.Csr.KeyPair.Thumbprint)
}
