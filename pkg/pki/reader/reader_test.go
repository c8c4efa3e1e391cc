package reader

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/jeremyhahn/go-trusted-pki/pkg/logging"
	"github.com/jeremyhahn/go-trusted-pki/pkg/pki"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"software.sslmate.com/src/go-pkcs12"
)

var (
	testPassword = []byte("reader-password")
	testKey      *ecdsa.PrivateKey
	testCert     *x509.Certificate
	testCRL      *x509.RevocationList
	testCSR      *x509.CertificateRequest
)

func TestMain(m *testing.M) {
	setup()
	code := m.Run()
	os.Exit(code)
}

func setup() {
	var err error
	testKey, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		panic(err)
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(42),
		Subject:               pkix.Name{CommonName: "reader.example.com"},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		SubjectKeyId:          []byte{1, 2, 3, 4},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &testKey.PublicKey, testKey)
	if err != nil {
		panic(err)
	}
	if testCert, err = x509.ParseCertificate(der); err != nil {
		panic(err)
	}

	crlDER, err := x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
		Number:     big.NewInt(1),
		ThisUpdate: time.Now(),
		NextUpdate: time.Now().Add(time.Hour),
	}, testCert, testKey)
	if err != nil {
		panic(err)
	}
	if testCRL, err = x509.ParseRevocationList(crlDER); err != nil {
		panic(err)
	}

	csrDER, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject: pkix.Name{CommonName: "csr.example.com"},
	}, testKey)
	if err != nil {
		panic(err)
	}
	if testCSR, err = x509.ParseCertificateRequest(csrDER); err != nil {
		panic(err)
	}
}

func testReader() *Reader {
	return NewReader(logging.NewLogger(logging.ParseLevel("info"), nil))
}

type collected struct {
	certs []*pki.Certificate
	keys  []*pki.KeyPair
	crls  []*pki.RevocationList
	csrs  []*pki.SigningRequest
}

func (c *collected) callbacks() Callbacks {
	return Callbacks{
		Certificate:    func(cert *pki.Certificate) { c.certs = append(c.certs, cert) },
		KeyPair:        func(kp *pki.KeyPair) { c.keys = append(c.keys, kp) },
		RevocationList: func(crl *pki.RevocationList) { c.crls = append(c.crls, crl) },
		SigningRequest: func(csr *pki.SigningRequest) { c.csrs = append(c.csrs, csr) },
	}
}

func TestReadCertificateAndEncryptedKey(t *testing.T) {
	keyPEM, err := pki.MarshalPrivateKey(testKey, pki.EncodingPEM, testPassword, nil)
	require.Nil(t, err)
	data := append(pki.EncodeCertificate(testCert, pki.EncodingPEM), keyPEM...)

	var c collected
	result := testReader().ReadBytes(data, pki.Password(testPassword), c.callbacks())

	assert.Equal(t, 1, result.Certificates)
	assert.Equal(t, 1, result.KeyPairs)
	assert.Equal(t, 0, result.RevocationLists)
	assert.Equal(t, 0, result.SigningRequests)
	require.Len(t, c.certs, 1)
	require.Len(t, c.keys, 1)
	assert.Len(t, c.crls, 0)
	assert.Len(t, c.csrs, 0)

	assert.Equal(t, pki.KeyAlgorithmECDSA, c.keys[0].Algorithm)
	assert.Equal(t, c.certs[0].KeyThumbprint(), c.keys[0].Thumbprint())
	assert.False(t, c.certs[0].HasPrivateKey())
}

func TestReadEncryptedKeyWithoutPassword(t *testing.T) {
	keyPEM, err := pki.MarshalPrivateKey(testKey, pki.EncodingPEM, testPassword, nil)
	require.Nil(t, err)

	result := testReader().ReadBytes(keyPEM, nil, Callbacks{})
	assert.Equal(t, 0, result.Total())

	err = result.Err("key.pem")
	assert.True(t, errors.Is(err, pki.ErrNotRecognized))
}

func TestReadDER(t *testing.T) {
	reader := testReader()

	result := reader.ReadBytes(testCert.Raw, nil, Callbacks{})
	assert.Equal(t, Counts{Certificates: 1}, result.Counts)

	result = reader.ReadBytes(testCRL.Raw, nil, Callbacks{})
	assert.Equal(t, Counts{RevocationLists: 1}, result.Counts)

	result = reader.ReadBytes(testCSR.Raw, nil, Callbacks{})
	assert.Equal(t, Counts{SigningRequests: 1}, result.Counts)

	keyDER, err := pki.MarshalPrivateKey(testKey, pki.EncodingDER, nil, nil)
	require.Nil(t, err)
	var c collected
	result = reader.ReadBytes(keyDER, nil, c.callbacks())
	assert.Equal(t, Counts{KeyPairs: 1}, result.Counts)
	assert.Equal(t, pki.KeyAlgorithmECDSA, c.keys[0].Algorithm)
}

func TestReadPEMCRLAndCSR(t *testing.T) {
	data := append(pki.EncodeCRL(testCRL, pki.EncodingPEM), pki.EncodeCSR(testCSR, pki.EncodingPEM)...)

	var c collected
	result := testReader().ReadBytes(data, nil, c.callbacks())
	assert.Equal(t, Counts{RevocationLists: 1, SigningRequests: 1}, result.Counts)
	assert.Equal(t, pki.NewThumbprint(testCRL.Raw), c.crls[0].Thumbprint())
	assert.Equal(t, pki.NewThumbprint(testCSR.Raw), c.csrs[0].Thumbprint())
}

func TestReadPKCS12(t *testing.T) {
	pfx, err := pkcs12.Modern.Encode(testKey, testCert, nil, string(testPassword))
	require.Nil(t, err)

	var c collected
	result := testReader().ReadBytes(pfx, pki.Password(testPassword), c.callbacks())
	assert.Equal(t, 1, result.Certificates)
	assert.Equal(t, 1, result.KeyPairs)
	assert.False(t, c.certs[0].HasPrivateKey())
	assert.True(t, c.keys[0].Matches(testCert))
}

func TestReadPKCS12TrustStore(t *testing.T) {
	pfx, err := pkcs12.Modern.EncodeTrustStore([]*x509.Certificate{testCert}, string(testPassword))
	require.Nil(t, err)

	result := testReader().ReadBytes(pfx, pki.Password(testPassword), Callbacks{})
	assert.Equal(t, Counts{Certificates: 1}, result.Counts)
}

func TestReadUnrecognized(t *testing.T) {
	reader := testReader()
	result := reader.ReadBytes([]byte("not a certificate"), pki.Password(testPassword), Callbacks{})
	assert.Equal(t, 0, result.Total())
	assert.NotNil(t, result.Failures)

	_, err := reader.ReadAll("garbage.bin", []byte("not a certificate"), nil)
	var parseErr *pki.ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, "garbage.bin", parseErr.Source)
	assert.Greater(t, len(parseErr.Errors()), 1)
}

func TestReadRewindsInput(t *testing.T) {
	data := pki.EncodeCertificate(testCert, pki.EncodingPEM)
	input := bytes.NewReader(data)
	_, err := input.Seek(int64(len(data)), 0)
	require.Nil(t, err)

	result := testReader().Read(input, nil, Callbacks{})
	assert.Equal(t, 1, result.Certificates)
}

func TestReadAllRoundTrip(t *testing.T) {
	keyPEM, err := pki.MarshalPrivateKey(testKey, pki.EncodingPEM, nil, nil)
	require.Nil(t, err)
	data := bytes.Join([][]byte{
		pki.EncodeCertificate(testCert, pki.EncodingPEM),
		keyPEM,
		pki.EncodeCRL(testCRL, pki.EncodingPEM),
	}, nil)

	artifacts, err := testReader().ReadAll("bundle.pem", data, nil)
	require.Nil(t, err)
	require.Len(t, artifacts, 3)
	assert.Equal(t, pki.KindCertificate, artifacts[0].Kind)
	assert.Equal(t, pki.NewThumbprint(testCert.Raw), artifacts[0].Thumbprint())
	assert.Equal(t, pki.KindKeyPair, artifacts[1].Kind)
	assert.Equal(t, pki.NewThumbprint(testCert.RawSubjectPublicKeyInfo), artifacts[1].Thumbprint())
	assert.Equal(t, pki.KindRevocationList, artifacts[2].Kind)
}

func TestReadCodePage(t *testing.T) {
	utf16, err := pki.EncodeText(pki.EncodeCertificate(testCert, pki.EncodingPEM), "utf-16le")
	require.Nil(t, err)

	result := testReader().ReadBytes(utf16, nil, Callbacks{})
	assert.Equal(t, 0, result.Certificates)

	result = testReader().WithCodePage("utf-16le").ReadBytes(utf16, nil, Callbacks{})
	assert.Equal(t, 1, result.Certificates)
}

func TestKeyAttemptOrder(t *testing.T) {
	attempts := keyAttempts(true, true)
	require.Len(t, attempts, len(pki.KeyAlgorithms)*2)
	assert.Equal(t, keyAttempt{pki.KeyAlgorithmRSA, pki.EncodingPEM, false}, attempts[0])
	assert.Equal(t, keyAttempt{pki.KeyAlgorithmRSA, pki.EncodingPEM, true}, attempts[1])
	assert.Equal(t, keyAttempt{pki.KeyAlgorithmECDSA, pki.EncodingPEM, false}, attempts[2])

	assert.Len(t, keyAttempts(false, false), len(pki.KeyAlgorithms))
}
