package builder

import (
	"crypto/x509"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/jeremyhahn/go-trusted-pki/pkg/model"
	"github.com/jeremyhahn/go-trusted-pki/pkg/pki"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func crlConfig(ca *model.CertConfig, entries ...model.CrlEntry) *model.CrlConfig {
	issuer, keyPair := issuerOf(ca)
	return &model.CrlConfig{
		Issuer:        issuer,
		IssuerKeyPair: keyPair,
		Entries:       entries,
	}
}

func TestBuildCRL(t *testing.T) {
	params := testParams()
	ca, caCert := buildCA(t, params, "CRL CA")

	leaf := leafConfig("revoked.example.com")
	leaf.Issuer, leaf.IssuerKeyPair = issuerOf(ca)
	issued, leafCert, err := NewCertBuilder(params).BuildCertificate(leaf)
	require.Nil(t, err)

	revokedAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	config := crlConfig(ca,
		model.CrlEntry{
			Certificate:    &model.ArtifactFile{Data: issued.Certificate.Data},
			Reason:         "key_compromise",
			RevocationTime: &revokedAt,
		},
		model.CrlEntry{SerialNumber: "12345", Reason: "5"},
	)
	c, crl, err := NewCrlBuilder(params).BuildCRL(config)
	require.Nil(t, err)

	list := crl.RevocationList
	assert.Nil(t, crl.VerifySignature(caCert.Certificate))
	assert.Nil(t, list.CheckSignatureFrom(caCert.Certificate))
	assert.Equal(t, caCert.Certificate.RawSubject, list.RawIssuer)
	assert.Equal(t, caCert.Certificate.SubjectKeyId, list.AuthorityKeyId)
	assert.True(t, crl.Contains(leafCert.Certificate))
	require.Len(t, list.RevokedCertificateEntries, 2)

	first := list.RevokedCertificateEntries[0]
	assert.Equal(t, 0, first.SerialNumber.Cmp(leafCert.Certificate.SerialNumber))
	assert.Equal(t, 1, first.ReasonCode)
	assert.Equal(t, revokedAt, first.RevocationTime.UTC())
	second := list.RevokedCertificateEntries[1]
	assert.Equal(t, int64(12345), second.SerialNumber.Int64())
	assert.Equal(t, 5, second.ReasonCode)

	// Update times default to now and one week later
	assert.Equal(t, DefaultCRLValidity, list.NextUpdate.Sub(list.ThisUpdate))
	assert.Equal(t, list.Number.String(), c.Number)
	assert.Equal(t, crl.Thumbprint().String(), c.Thumbprint)

	// Resolved entries are written back to the config
	assert.Equal(t, leafCert.Certificate.SerialNumber.String(), c.Entries[0].SerialNumber)
	assert.Equal(t, "key_compromise", c.Entries[0].Reason)
	assert.Equal(t, "cessation_of_operation", c.Entries[1].Reason)
	require.NotNil(t, c.Entries[1].RevocationTime)
	assert.Equal(t, "5", config.Entries[1].Reason)

	artifacts := readAll(t, c.Crl.Data, "")
	require.Len(t, artifacts, 1)
	assert.Equal(t, pki.KindRevocationList, artifacts[0].Kind)
}

func TestBuildCRLFromExisting(t *testing.T) {
	params := testParams()
	ca, caCert := buildCA(t, params, "Incremental CA")

	config := crlConfig(ca,
		model.CrlEntry{SerialNumber: "100", Reason: "superseded"},
		model.CrlEntry{SerialNumber: "200"},
	)
	config.Number = "41"
	first, _, err := NewCrlBuilder(params).BuildCRL(config)
	require.Nil(t, err)
	assert.Equal(t, "41", first.Number)

	// Existing entries are kept and a repeated serial replaces its entry
	next := crlConfig(ca,
		model.CrlEntry{SerialNumber: "200", Reason: "key_compromise"},
		model.CrlEntry{SerialNumber: "300"},
	)
	next.Existing = &model.ArtifactFile{Data: first.Crl.Data}
	c, crl, err := NewCrlBuilder(params).BuildCRL(next)
	require.Nil(t, err)
	assert.Nil(t, crl.VerifySignature(caCert.Certificate))
	assert.Equal(t, "42", c.Number)
	assert.Equal(t, big.NewInt(42), crl.RevocationList.Number)

	entries := crl.RevocationList.RevokedCertificateEntries
	require.Len(t, entries, 3)
	reasons := make(map[int64]int)
	for _, entry := range entries {
		reasons[entry.SerialNumber.Int64()] = entry.ReasonCode
	}
	assert.Equal(t, map[int64]int{100: 4, 200: 1, 300: 0}, reasons)
}

func TestBuildCRLRejectsForeignExisting(t *testing.T) {
	params := testParams()
	ca, _ := buildCA(t, params, "First CA")
	other, _ := buildCA(t, params, "Second CA")

	foreign, _, err := NewCrlBuilder(params).BuildCRL(crlConfig(other))
	require.Nil(t, err)

	config := crlConfig(ca)
	config.Existing = &model.ArtifactFile{Data: foreign.Crl.Data}
	_, err = NewCrlBuilder(params).Build(config)
	assert.True(t, errors.Is(err, pki.ErrInvalidInput))
}

func TestBuildCRLRequiresIssuerKey(t *testing.T) {
	params := testParams()
	ca, _ := buildCA(t, params, "Keyless CRL CA")

	_, err := NewCrlBuilder(params).Build(&model.CrlConfig{
		Issuer: &model.ArtifactFile{Data: ca.Certificate.Data},
	})
	assert.True(t, errors.Is(err, pki.ErrIssuerKeyNotFound))

	_, err = NewCrlBuilder(params).Build(&model.CrlConfig{})
	assert.True(t, errors.Is(err, pki.ErrInvalidInput))
}

func TestBuildCRLInvalidEntries(t *testing.T) {
	params := testParams()
	ca, _ := buildCA(t, params, "Strict CA")

	tests := []struct {
		entry    model.CrlEntry
		expected error
	}{
		{model.CrlEntry{}, pki.ErrInvalidInput},
		{model.CrlEntry{SerialNumber: "not-a-number"}, pki.ErrInvalidInput},
		{model.CrlEntry{SerialNumber: "1", Reason: "bored"}, pki.ErrUnsupported},
	}
	for _, tt := range tests {
		_, err := NewCrlBuilder(params).Build(crlConfig(ca, tt.entry))
		assert.True(t, errors.Is(err, tt.expected), err)
	}

	thisUpdate := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	nextUpdate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	config := crlConfig(ca)
	config.ThisUpdate, config.NextUpdate = &thisUpdate, &nextUpdate
	_, err := NewCrlBuilder(params).Build(config)
	assert.True(t, errors.Is(err, pki.ErrInvalidInput))
}

func TestBuildCRLHash(t *testing.T) {
	params := testParams()
	ca, _ := buildCA(t, params, "Hash CA")

	config := crlConfig(ca)
	config.Hash = "sha384"
	first, crl, err := NewCrlBuilder(params).BuildCRL(config)
	require.Nil(t, err)
	assert.Equal(t, "SHA-384", first.Hash)
	assert.Equal(t, x509.ECDSAWithSHA384, crl.RevocationList.SignatureAlgorithm)

	// The hash of an existing list is inherited
	next := crlConfig(ca)
	next.Existing = &model.ArtifactFile{Data: first.Crl.Data}
	c, _, err := NewCrlBuilder(params).BuildCRL(next)
	require.Nil(t, err)
	assert.Equal(t, "SHA-384", c.Hash)
}
