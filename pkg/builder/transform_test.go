package builder

import (
	"errors"
	"strings"
	"testing"

	"github.com/jeremyhahn/go-trusted-pki/pkg/model"
	"github.com/jeremyhahn/go-trusted-pki/pkg/pki"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
	"software.sslmate.com/src/go-pkcs12"
)

// A CA with its key and a leaf issued by it, the leaf key kept detached
type chain struct {
	ca      *model.CertConfig
	caCert  *pki.Certificate
	leaf    *model.CertConfig
	leafKey model.Bytes
}

func buildChain(t *testing.T, params *Params) *chain {
	ca, caCert := buildCA(t, params, "Transform CA")
	config := leafConfig("transform.example.com")
	config.Issuer, config.IssuerKeyPair = issuerOf(ca)
	leaf, err := NewCertBuilder(params).Build(config)
	require.Nil(t, err)
	return &chain{
		ca:      ca,
		caCert:  caCert,
		leaf:    leaf,
		leafKey: leaf.Csr.KeyPair.PrivateKey.Data,
	}
}

func TestTransformMergesDetachedKeys(t *testing.T) {
	params := testParams()
	ch := buildChain(t, params)

	c, err := NewTransformBuilder(params).Build(&model.TransformConfig{
		Mode:        model.TRANSFORM_STORE,
		StoreFormat: "pem",
		Inputs: []*model.ArtifactFile{
			{Data: ch.leaf.Certificate.Data},
			{Data: ch.leafKey},
			{Data: ch.ca.Certificate.Data},
			// Duplicates collapse into one entry
			{Data: ch.leaf.Certificate.Data},
		},
		Output: &model.ArtifactFile{FileName: "/out/bundle.pem", Password: TEST_PASSWORD},
	})
	require.Nil(t, err)

	require.Len(t, c.Entries, 2)
	keyed := 0
	for _, entry := range c.Entries {
		assert.Equal(t, pki.KindCertificate.String(), entry.Kind)
		if entry.HasPrivateKey {
			keyed++
			assert.Equal(t, ch.leaf.Thumbprint, entry.Thumbprint)
		}
	}
	assert.Equal(t, 1, keyed)

	written, err := afero.ReadFile(params.Fs, "/out/bundle.pem")
	require.Nil(t, err)
	assert.Equal(t, []byte(c.Output.Data), written)
	counts := countKinds(readAll(t, written, TEST_PASSWORD))
	assert.Equal(t, 2, counts[pki.KindCertificate])
	assert.Equal(t, 1, counts[pki.KindKeyPair])
}

func TestTransformKeepsUnmatchedKeys(t *testing.T) {
	params := testParams()
	ch := buildChain(t, params)
	orphanConfig, orphan, err := NewKeyPairBuilder(params).BuildKeyPair(ecKeyPair())
	require.Nil(t, err)

	config := &model.TransformConfig{
		Mode:        model.TRANSFORM_STORE,
		StoreFormat: "pem",
		Inputs: []*model.ArtifactFile{
			{Data: ch.leaf.Certificate.Data},
			{Data: orphanConfig.PrivateKey.Data},
		},
	}
	c, err := NewTransformBuilder(params).Build(config)
	require.Nil(t, err)
	require.Len(t, c.Entries, 2)
	assert.Equal(t, pki.KindCertificate.String(), c.Entries[0].Kind)
	assert.False(t, c.Entries[0].HasPrivateKey)
	assert.Equal(t, pki.KindKeyPair.String(), c.Entries[1].Kind)
	assert.Equal(t, orphan.Thumbprint().String(), c.Entries[1].Thumbprint)

	// PKCS #12 cannot carry a key without its certificate
	config.StoreFormat = "pkcs12"
	_, err = NewTransformBuilder(params).Build(config)
	assert.True(t, errors.Is(err, pki.ErrUnsupported))
}

func TestTransformPKCS12(t *testing.T) {
	params := testParams()
	ch := buildChain(t, params)

	c, err := NewTransformBuilder(params).Build(&model.TransformConfig{
		Mode: model.TRANSFORM_STORE,
		Inputs: []*model.ArtifactFile{
			{Data: ch.leaf.Certificate.Data},
			{Data: ch.leafKey},
			{Data: ch.ca.Certificate.Data},
		},
		Output: &model.ArtifactFile{FileName: "/out/leaf.p12", Password: TEST_PASSWORD},
	})
	require.Nil(t, err)
	assert.Equal(t, model.STORE_FORMAT_PKCS12, c.StoreFormat)

	written, err := afero.ReadFile(params.Fs, "/out/leaf.p12")
	require.Nil(t, err)
	key, cert, caCerts, err := pkcs12.DecodeChain(written, TEST_PASSWORD)
	require.Nil(t, err)
	assert.Equal(t, ch.leaf.Thumbprint, pki.NewThumbprint(cert.Raw).String())
	require.Len(t, caCerts, 1)
	assert.Equal(t, ch.caCert.Certificate.Raw, caCerts[0].Raw)
	kp, err := pki.NewKeyPair(key)
	require.Nil(t, err)
	assert.True(t, kp.Matches(cert))

	// Two keyed certificates do not fit one PKCS #12 file
	_, err = NewTransformBuilder(params).Build(&model.TransformConfig{
		Mode: model.TRANSFORM_STORE,
		Inputs: []*model.ArtifactFile{
			{Data: ch.leaf.Certificate.Data},
			{Data: ch.leafKey},
			{Data: ch.ca.Certificate.Data},
			{Data: ch.ca.Csr.KeyPair.PrivateKey.Data},
		},
	})
	assert.True(t, errors.Is(err, pki.ErrUnsupported))
}

func TestTransformPKCS12TrustStore(t *testing.T) {
	params := testParams()
	ch := buildChain(t, params)

	c, err := NewTransformBuilder(params).Build(&model.TransformConfig{
		Mode:        model.TRANSFORM_STORE,
		StoreFormat: "pfx",
		Inputs: []*model.ArtifactFile{
			{Data: ch.ca.Certificate.Data},
			{Data: ch.leaf.Certificate.Data},
		},
		Output: &model.ArtifactFile{Password: TEST_PASSWORD},
	})
	require.Nil(t, err)
	certs, err := pkcs12.DecodeTrustStore(c.Output.Data, TEST_PASSWORD)
	require.Nil(t, err)
	assert.Len(t, certs, 2)
}

func TestTransformEncode(t *testing.T) {
	params := testParams()
	ch := buildChain(t, params)
	bundle := append(append([]byte{}, ch.leaf.Certificate.Data...), ch.leafKey...)
	require.Nil(t, afero.WriteFile(params.Fs, "/in/bundle.pem", bundle, 0600))
	require.Nil(t, afero.WriteFile(params.Fs, "/in/ca.pem", ch.ca.Certificate.Data, 0600))

	c, err := NewTransformBuilder(params).Build(&model.TransformConfig{
		Mode:     model.TRANSFORM_ENCODE,
		Encoding: "DER",
		Inputs: []*model.ArtifactFile{
			{FileName: "/in/bundle.pem"},
			{FileName: "/in/ca.pem"},
		},
	})
	require.Nil(t, err)
	assert.Equal(t, "der", c.Encoding)
	require.Len(t, c.Outputs, 3)
	assert.Equal(t, "/in/bundle_0.der", c.Outputs[0].FileName)
	assert.Equal(t, "/in/bundle_1.der", c.Outputs[1].FileName)
	assert.Equal(t, "/in/ca.der", c.Outputs[2].FileName)

	ca, err := afero.ReadFile(params.Fs, "/in/ca.der")
	require.Nil(t, err)
	assert.Equal(t, ch.caCert.Certificate.Raw, ca)

	var thumbprints []string
	for _, out := range c.Outputs[:2] {
		written, err := afero.ReadFile(params.Fs, out.FileName)
		require.Nil(t, err)
		artifacts := readAll(t, written, "")
		require.Len(t, artifacts, 1)
		thumbprints = append(thumbprints, artifacts[0].Thumbprint().String())
	}
	assert.ElementsMatch(t, []string{ch.leaf.Thumbprint, ch.leaf.Csr.KeyPair.Thumbprint}, thumbprints)
}

func TestTransformEncodeExplicitOutputs(t *testing.T) {
	params := testParams()
	ch := buildChain(t, params)

	c, err := NewTransformBuilder(params).Build(&model.TransformConfig{
		Mode:   model.TRANSFORM_ENCODE,
		Inputs: []*model.ArtifactFile{{Data: ch.leafKey}},
		Outputs: []*model.ArtifactFile{{
			FileName: "/keys/leaf.key",
			Password: TEST_PASSWORD,
		}},
	})
	require.Nil(t, err)
	require.Len(t, c.Outputs, 1)

	written, err := afero.ReadFile(params.Fs, "/keys/leaf.key")
	require.Nil(t, err)
	assert.True(t, strings.Contains(string(written), "ENCRYPTED PRIVATE KEY"))
	artifacts := readAll(t, written, TEST_PASSWORD)
	require.Len(t, artifacts, 1)
	assert.Equal(t, ch.leaf.Csr.KeyPair.Thumbprint, artifacts[0].Thumbprint().String())
}

func TestTransformPrint(t *testing.T) {
	params := testParams()
	ch := buildChain(t, params)

	c, err := NewTransformBuilder(params).Build(&model.TransformConfig{
		Mode: model.TRANSFORM_PRINT,
		Inputs: []*model.ArtifactFile{
			{Data: ch.leaf.Certificate.Data},
			{Data: ch.leafKey},
		},
		Output: &model.ArtifactFile{FileName: "/out/print.txt"},
	})
	require.Nil(t, err)
	assert.Contains(t, c.Text, "Certificate "+ch.leaf.Thumbprint)
	assert.Contains(t, c.Text, "CN=transform.example.com")
	assert.Contains(t, c.Text, ch.leaf.Csr.KeyPair.Thumbprint)

	written, err := afero.ReadFile(params.Fs, "/out/print.txt")
	require.Nil(t, err)
	assert.Equal(t, c.Text, string(written))
}

func TestTransformCsrConfig(t *testing.T) {
	params := testParams()
	ch := buildChain(t, params)

	c, err := NewTransformBuilder(params).Build(&model.TransformConfig{
		Mode:   model.TRANSFORM_CSR_CONFIG,
		Inputs: []*model.ArtifactFile{{Data: ch.leafKey}, {Data: ch.leaf.Certificate.Data}},
		Output: &model.ArtifactFile{FileName: "/out/csr.yaml"},
	})
	require.Nil(t, err)
	require.NotNil(t, c.CsrConfig)
	assert.Equal(t, "ECDSA", c.CsrConfig.KeyPair.Algorithm)
	assert.Equal(t, "P-256", c.CsrConfig.KeyPair.Curve)
	assert.Equal(t, "transform.example.com", c.CsrConfig.Subject.CommonName)
	assert.Equal(t, "SHA-512", c.CsrConfig.Hash)

	// The written document builds an equivalent request
	written, err := afero.ReadFile(params.Fs, "/out/csr.yaml")
	require.Nil(t, err)
	var config model.CsrConfig
	require.Nil(t, yaml.Unmarshal(written, &config))
	_, csr, _, err := NewCsrBuilder(params).BuildCSR(&config)
	require.Nil(t, err)
	request := csr.CertificateRequest
	assert.Equal(t, "transform.example.com", request.Subject.CommonName)
	assert.Equal(t, []string{"transform.example.com"}, request.DNSNames)
	assert.Equal(t, "127.0.0.1", request.IPAddresses[0].String())

	_, err = NewTransformBuilder(params).Build(&model.TransformConfig{
		Mode:   model.TRANSFORM_CSR_CONFIG,
		Inputs: []*model.ArtifactFile{{Data: ch.leafKey}},
	})
	assert.True(t, errors.Is(err, pki.ErrInvalidInput))
}

func TestTransformInvalidConfig(t *testing.T) {
	params := testParams()
	tests := []struct {
		config   *model.TransformConfig
		expected error
	}{
		{&model.TransformConfig{Inputs: []*model.ArtifactFile{{Data: []byte("x")}}}, pki.ErrInvalidInput},
		{&model.TransformConfig{Mode: "shred"}, pki.ErrUnsupported},
		{&model.TransformConfig{Mode: model.TRANSFORM_PRINT}, pki.ErrInvalidInput},
		{&model.TransformConfig{
			Mode:        model.TRANSFORM_STORE,
			StoreFormat: "jks",
			Inputs:      []*model.ArtifactFile{{Data: []byte("x")}},
		}, pki.ErrUnsupported},
		{&model.TransformConfig{
			Mode:   model.TRANSFORM_PRINT,
			Inputs: []*model.ArtifactFile{{FileName: "/missing.pem"}},
		}, pki.ErrInvalidInput},
		{&model.TransformConfig{
			Mode:   model.TRANSFORM_PRINT,
			Inputs: []*model.ArtifactFile{{Data: []byte("not a certificate")}},
		}, pki.ErrNotRecognized},
	}
	for _, tt := range tests {
		_, err := NewTransformBuilder(params).Build(tt.config)
		assert.True(t, errors.Is(err, tt.expected), err)
	}
}
