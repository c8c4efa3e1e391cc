package pki

import (
	"bytes"
	"crypto"
	"crypto/dsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/youmark/pkcs8"
	"go.uber.org/multierr"
)

var (
	testPassword = []byte("test-password")
	testKeys     = map[KeyAlgorithm]crypto.PrivateKey{}
)

func TestMain(m *testing.M) {
	setup()
	code := m.Run()
	os.Exit(code)
}

func setup() {
	options := []KeyGenOptions{
		{Algorithm: KeyAlgorithmRSA, KeySize: 2048},
		{Algorithm: KeyAlgorithmECDSA, Curve: elliptic.P256()},
		{Algorithm: KeyAlgorithmDSA, KeySize: 1024},
		{Algorithm: KeyAlgorithmECDH},
		{Algorithm: KeyAlgorithmEd25519},
	}
	for _, opts := range options {
		key, err := GenerateKey(rand.Reader, opts)
		if err != nil {
			panic(err)
		}
		testKeys[opts.Algorithm] = key
	}
}

func TestThumbprint(t *testing.T) {
	der := []byte("thumbprint input")
	sum := sha1.Sum(der)
	expected := strings.ToUpper(hex.EncodeToString(sum[:]))

	tp := NewThumbprint(der)
	assert.Equal(t, expected, tp.String())
	assert.Len(t, tp.String(), 40)

	parsed, err := ParseThumbprint(strings.ToLower(expected))
	require.Nil(t, err)
	assert.Equal(t, tp, parsed)

	var grouped []string
	for i := 0; i < len(expected); i += 2 {
		grouped = append(grouped, strings.ToLower(expected[i:i+2]))
	}
	parsed, err = ParseThumbprint(strings.Join(grouped, ":"))
	require.Nil(t, err)
	assert.Equal(t, tp, parsed)
}

func TestParseThumbprintRejectsPaths(t *testing.T) {
	for _, s := range []string{
		"",
		"..",
		"aa:bb:cc",
		"../private/" + NewThumbprint([]byte("key")).String(),
		strings.Repeat("G", 40),
		strings.Repeat("A", 39) + "/",
	} {
		_, err := ParseThumbprint(s)
		assert.ErrorIs(t, err, ErrInvalidInput, s)
		var inputErr *InputError
		require.ErrorAs(t, err, &inputErr, s)
		assert.Equal(t, "thumbprint", inputErr.Field)
	}
	assert.ErrorIs(t, Thumbprint("..").Validate(), ErrInvalidInput)
	assert.Nil(t, NewThumbprint([]byte("valid")).Validate())
}

func TestKeyAlgorithmOf(t *testing.T) {
	for algo, key := range testKeys {
		actual, err := KeyAlgorithmOf(key)
		assert.Nil(t, err)
		assert.Equal(t, algo, actual)

		pub, err := PublicKeyOf(key)
		assert.Nil(t, err)
		actual, err = KeyAlgorithmOf(pub)
		assert.Nil(t, err)
		assert.Equal(t, algo, actual)
	}

	_, err := KeyAlgorithmOf("not a key")
	assert.True(t, errors.Is(err, ErrUnsupported))
}

func TestParseKeyAlgorithm(t *testing.T) {
	algo, err := ParseKeyAlgorithm("ecdsa")
	assert.Nil(t, err)
	assert.Equal(t, KeyAlgorithmECDSA, algo)

	algo, err = ParseKeyAlgorithm("EC")
	assert.Nil(t, err)
	assert.Equal(t, KeyAlgorithmECDSA, algo)

	_, err = ParseKeyAlgorithm("ElGamal")
	var unsupported *UnsupportedError
	assert.True(t, errors.As(err, &unsupported))
	assert.Equal(t, "ElGamal", unsupported.Value)
}

func TestParseHashAndCurve(t *testing.T) {
	hash, err := ParseHash("")
	assert.Nil(t, err)
	assert.Equal(t, crypto.SHA512, hash)

	hash, err = ParseHash("sha-256")
	assert.Nil(t, err)
	assert.Equal(t, crypto.SHA256, hash)
	assert.Equal(t, "SHA-256", HashName(hash))

	_, err = ParseHash("MD5")
	assert.True(t, errors.Is(err, ErrUnsupported))

	curve, err := ParseCurve("")
	assert.Nil(t, err)
	assert.Equal(t, elliptic.P521(), curve)

	curve, err = ParseCurve("prime256v1")
	assert.Nil(t, err)
	assert.Equal(t, elliptic.P256(), curve)
}

func TestSignatureAlgorithm(t *testing.T) {
	algo, err := SignatureAlgorithm(KeyAlgorithmRSA, crypto.SHA512)
	assert.Nil(t, err)
	assert.Equal(t, x509.SHA512WithRSA, algo)

	algo, err = SignatureAlgorithm(KeyAlgorithmECDSA, crypto.SHA256)
	assert.Nil(t, err)
	assert.Equal(t, x509.ECDSAWithSHA256, algo)

	algo, err = SignatureAlgorithm(KeyAlgorithmEd25519, crypto.SHA512)
	assert.Nil(t, err)
	assert.Equal(t, x509.PureEd25519, algo)

	_, err = SignatureAlgorithm(KeyAlgorithmDSA, crypto.SHA256)
	assert.True(t, errors.Is(err, ErrUnsupported))

	hash, err := HashFromSignatureAlgorithm(x509.SHA384WithRSA)
	assert.Nil(t, err)
	assert.Equal(t, crypto.SHA384, hash)
}

func TestPrivateKeyRoundTrip(t *testing.T) {
	for algo, key := range testKeys {
		for _, encoding := range []Encoding{EncodingPEM, EncodingDER} {
			for _, encrypted := range []bool{false, true} {
				var password []byte
				if encrypted {
					password = testPassword
				}
				data, err := MarshalPrivateKey(key, encoding, password, nil)
				if algo == KeyAlgorithmDSA && encrypted && encoding == EncodingDER {
					assert.True(t, errors.Is(err, ErrUnsupported))
					continue
				}
				require.Nil(t, err, "%s %s encrypted=%v", algo, encoding, encrypted)

				decoded, err := DecodePrivateKey(algo, encoding, encrypted, data, password)
				require.Nil(t, err, "%s %s encrypted=%v", algo, encoding, encrypted)

				expected, _ := PublicKeyOf(key)
				actual, _ := PublicKeyOf(decoded)
				assert.True(t, PublicKeysEqual(expected, actual))
			}
		}
	}
}

func TestPBEHashes(t *testing.T) {
	key := testKeys[KeyAlgorithmECDSA]
	hashes := map[crypto.Hash]asn1.ObjectIdentifier{
		crypto.SHA1:   {1, 2, 840, 113549, 2, 7},
		crypto.SHA256: {1, 2, 840, 113549, 2, 9},
		crypto.SHA384: {1, 2, 840, 113549, 2, 10},
		crypto.SHA512: {1, 2, 840, 113549, 2, 11},
	}
	for hash, oid := range hashes {
		opts := DefaultPBEOptions()
		opts.Hash = hash
		opts.Iterations = 1000
		data, err := MarshalPrivateKey(key, EncodingDER, testPassword, opts)
		require.Nil(t, err, hash.String())

		encodedOID, err := asn1.Marshal(oid)
		require.Nil(t, err)
		assert.True(t, bytes.Contains(data, encodedOID), hash.String())

		decoded, err := DecodePrivateKey(KeyAlgorithmECDSA, EncodingDER, true, data, testPassword)
		require.Nil(t, err, hash.String())
		assert.True(t, PublicKeysEqual(key.(crypto.Signer).Public(), decoded.(crypto.Signer).Public()))
	}

	// The defaults encrypt with PBKDF2-HMAC-SHA512
	data, err := MarshalPrivateKey(key, EncodingPEM, testPassword, DefaultPBEOptions())
	require.Nil(t, err)
	block, _ := pem.Decode(data)
	require.NotNil(t, block)
	sha512OID, _ := asn1.Marshal(hashes[crypto.SHA512])
	assert.True(t, bytes.Contains(block.Bytes, sha512OID))

	opts := DefaultPBEOptions()
	opts.Hash = crypto.MD5
	_, err = MarshalPrivateKey(key, EncodingDER, testPassword, opts)
	assert.True(t, errors.Is(err, ErrUnsupported))
}

func TestPBEReadsPKCS8PackageKeys(t *testing.T) {
	key := testKeys[KeyAlgorithmRSA]
	der, err := pkcs8.MarshalPrivateKey(key, testPassword, &pkcs8.Opts{
		Cipher: pkcs8.AES128CBC,
		KDFOpts: pkcs8.PBKDF2Opts{
			SaltSize:       8,
			IterationCount: 1000,
			HMACHash:       crypto.SHA256,
		},
	})
	require.Nil(t, err)

	decoded, err := DecodePrivateKey(KeyAlgorithmRSA, EncodingDER, true, der, testPassword)
	require.Nil(t, err)
	assert.True(t, PublicKeysEqual(key.(crypto.Signer).Public(), decoded.(crypto.Signer).Public()))
}

func TestDecodePrivateKeyRejectsWrongAlgorithm(t *testing.T) {
	data, err := MarshalPrivateKey(testKeys[KeyAlgorithmECDSA], EncodingDER, nil, nil)
	require.Nil(t, err)

	_, err = DecodePrivateKey(KeyAlgorithmRSA, EncodingDER, false, data, nil)
	assert.NotNil(t, err)

	_, err = DecodePrivateKey(KeyAlgorithmDSA, EncodingDER, false, data, nil)
	assert.NotNil(t, err)

	key, err := DecodePrivateKey(KeyAlgorithmECDSA, EncodingDER, false, data, nil)
	assert.Nil(t, err)
	assert.NotNil(t, key)
}

func TestDecodePrivateKeyPasswords(t *testing.T) {
	data, err := MarshalPrivateKey(testKeys[KeyAlgorithmRSA], EncodingPEM, testPassword, nil)
	require.Nil(t, err)
	assert.Contains(t, string(data), PEMTypeEncryptedPrivateKey)

	_, err = DecodePrivateKey(KeyAlgorithmRSA, EncodingPEM, true, data, nil)
	assert.True(t, errors.Is(err, ErrPasswordRequired))
	assert.True(t, IsPasswordError(err))

	_, err = DecodePrivateKey(KeyAlgorithmRSA, EncodingPEM, true, data, []byte("wrong"))
	assert.NotNil(t, err)

	// An encrypted block is never accepted as unencrypted
	_, err = DecodePrivateKey(KeyAlgorithmRSA, EncodingPEM, false, data, nil)
	assert.True(t, errors.Is(err, ErrInvalidPEM))
}

func TestDecodeTraditionalForms(t *testing.T) {
	rsaKey := testKeys[KeyAlgorithmRSA].(*rsa.PrivateKey)
	pkcs1 := x509.MarshalPKCS1PrivateKey(rsaKey)
	key, err := DecodePrivateKey(KeyAlgorithmRSA, EncodingPEM, false,
		Encode(EncodingPEM, PEMTypeRSAPrivateKey, pkcs1), nil)
	assert.Nil(t, err)
	assert.NotNil(t, key)

	dsaKey := testKeys[KeyAlgorithmDSA].(*dsa.PrivateKey)
	der, err := marshalDSATraditional(dsaKey)
	require.Nil(t, err)
	key, err = DecodePrivateKey(KeyAlgorithmDSA, EncodingDER, false, der, nil)
	assert.Nil(t, err)
	assert.True(t, PublicKeysEqual(&dsaKey.PublicKey, &key.(*dsa.PrivateKey).PublicKey))
}

func TestDSAPublicKeyThumbprint(t *testing.T) {
	dsaKey := testKeys[KeyAlgorithmDSA].(*dsa.PrivateKey)
	kp, err := NewKeyPair(dsaKey)
	require.Nil(t, err)

	der, err := MarshalPublicKey(&dsaKey.PublicKey)
	require.Nil(t, err)
	assert.Equal(t, NewThumbprint(der), kp.Thumbprint())

	_, err = kp.Signer()
	assert.True(t, errors.Is(err, ErrNotSigningKey))
}

func TestKeyPairMatchesCertificate(t *testing.T) {
	key := testKeys[KeyAlgorithmECDSA]
	kp, err := NewKeyPair(key)
	require.Nil(t, err)
	signer, err := kp.Signer()
	require.Nil(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "match"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, kp.PublicKey, signer)
	require.Nil(t, err)
	cert, err := x509.ParseCertificate(der)
	require.Nil(t, err)

	assert.True(t, kp.Matches(cert))
	assert.Equal(t, NewCertificate(cert).KeyThumbprint(), kp.Thumbprint())

	other, err := NewKeyPair(testKeys[KeyAlgorithmRSA])
	require.Nil(t, err)
	assert.False(t, other.Matches(cert))
}

func TestPKCS8AlgorithmOID(t *testing.T) {
	for algo, key := range testKeys {
		der, err := MarshalPKCS8(key)
		require.Nil(t, err)
		oid, err := PKCS8AlgorithmOID(der)
		assert.Nil(t, err)
		assert.True(t, oid.Equal(algo.OID()), algo.String())
	}
	_, err := PKCS8AlgorithmOID([]byte{0x30, 0x00})
	assert.NotNil(t, err)
}

func TestCodePage(t *testing.T) {
	text := []byte("-----BEGIN CERTIFICATE-----")

	out, err := EncodeText(text, "")
	assert.Nil(t, err)
	assert.Equal(t, text, out)

	latin, err := EncodeText([]byte("café"), "iso-8859-1")
	assert.Nil(t, err)
	assert.Equal(t, []byte{'c', 'a', 'f', 0xe9}, latin)

	utf8, err := DecodeText(latin, "iso-8859-1")
	assert.Nil(t, err)
	assert.Equal(t, "café", string(utf8))

	_, err = DecodeText(text, "klingon")
	assert.True(t, errors.Is(err, ErrUnsupported))
	assert.False(t, ValidCodePage("klingon"))
}

func TestErrors(t *testing.T) {
	parseErr := NewParseError("input.pem", multierr.Combine(errors.New("a"), errors.New("b")))
	assert.True(t, errors.Is(parseErr, ErrNotRecognized))
	assert.Len(t, parseErr.Errors(), 2)

	inputErr := Missing("issuer")
	assert.True(t, errors.Is(inputErr, ErrInvalidInput))
	assert.Equal(t, "issuer", inputErr.Field)
	assert.False(t, errors.Is(inputErr, ErrNotRecognized))
}
