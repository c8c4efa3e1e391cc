package pki

import (
	"bytes"
	"crypto"
	"crypto/dsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"strings"

	"github.com/youmark/pkcs8"
)

type Encoding string

const (
	EncodingPEM Encoding = "pem"
	EncodingDER Encoding = "der"

	PEMTypeCertificate         = "CERTIFICATE"
	PEMTypeCRL                 = "X509 CRL"
	PEMTypeCSR                 = "CERTIFICATE REQUEST"
	PEMTypeNewCSR              = "NEW CERTIFICATE REQUEST"
	PEMTypePrivateKey          = "PRIVATE KEY"
	PEMTypeEncryptedPrivateKey = "ENCRYPTED PRIVATE KEY"
	PEMTypeRSAPrivateKey       = "RSA PRIVATE KEY"
	PEMTypeECPrivateKey        = "EC PRIVATE KEY"
	PEMTypeDSAPrivateKey       = "DSA PRIVATE KEY"
	PEMTypePublicKey           = "PUBLIC KEY"

	DefaultPBEIterations = 100000
	DefaultPBESaltSize   = 16
	DefaultPBECipher     = "AES-256-CBC"
)

func (e Encoding) String() string {
	return string(e)
}

// Parses an encoding name. An empty name returns PEM.
func ParseEncoding(encoding string) (Encoding, error) {
	switch strings.ToLower(encoding) {
	case "", "pem":
		return EncodingPEM, nil
	case "der", "binary", "cer":
		return EncodingDER, nil
	}
	return "", NewUnsupportedError("encoding", encoding)
}

// PBEOptions controls password based encryption of exported private keys
type PBEOptions struct {
	Cipher     string      `yaml:"cipher,omitempty" json:"cipher,omitempty" mapstructure:"cipher"`
	Hash       crypto.Hash `yaml:"-" json:"-" mapstructure:"-"`
	Iterations int         `yaml:"iterations,omitempty" json:"iterations,omitempty" mapstructure:"iterations"`
	SaltSize   int         `yaml:"salt-size,omitempty" json:"salt_size,omitempty" mapstructure:"salt-size"`
}

// Returns AES-256-CBC with PBKDF2-HMAC-SHA512 and 100,000 iterations
func DefaultPBEOptions() *PBEOptions {
	return &PBEOptions{
		Cipher:     DefaultPBECipher,
		Hash:       crypto.SHA512,
		Iterations: DefaultPBEIterations,
		SaltSize:   DefaultPBESaltSize,
	}
}

func (o *PBEOptions) pkcs8Opts() (*pkcs8.Opts, error) {
	if o == nil {
		o = DefaultPBEOptions()
	}
	var cipher pkcs8.Cipher
	switch strings.ToUpper(o.Cipher) {
	case "", "AES-256-CBC", "AES256CBC":
		cipher = pkcs8.AES256CBC
	case "AES-192-CBC", "AES192CBC":
		cipher = pkcs8.AES192CBC
	case "AES-128-CBC", "AES128CBC":
		cipher = pkcs8.AES128CBC
	case "AES-256-GCM", "AES256GCM":
		cipher = pkcs8.AES256GCM
	case "AES-192-GCM", "AES192GCM":
		cipher = pkcs8.AES192GCM
	case "AES-128-GCM", "AES128GCM":
		cipher = pkcs8.AES128GCM
	default:
		return nil, NewUnsupportedError("PBE cipher", o.Cipher)
	}
	hash := o.Hash
	if hash == 0 {
		hash = crypto.SHA512
	}
	iterations := o.Iterations
	if iterations <= 0 {
		iterations = DefaultPBEIterations
	}
	saltSize := o.SaltSize
	if saltSize <= 0 {
		saltSize = DefaultPBESaltSize
	}
	return &pkcs8.Opts{
		Cipher: cipher,
		KDFOpts: pbkdf2Opts{
			saltSize:   saltSize,
			iterations: iterations,
			hash:       hash,
		},
	}, nil
}

// Encodes DER bytes using the requested encoding and PEM block type
func Encode(encoding Encoding, blockType string, der []byte) []byte {
	if encoding == EncodingDER {
		return der
	}
	return pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
}

// Returns true if the data contains at least one PEM block
func ContainsPEM(data []byte) bool {
	block, _ := pem.Decode(data)
	return block != nil
}

func EncodeCertificate(cert *x509.Certificate, encoding Encoding) []byte {
	return Encode(encoding, PEMTypeCertificate, cert.Raw)
}

// Encodes a certificate chain. DER chains are concatenated.
func EncodeCertificates(certs []*x509.Certificate, encoding Encoding) []byte {
	var buf bytes.Buffer
	for _, cert := range certs {
		buf.Write(EncodeCertificate(cert, encoding))
	}
	return buf.Bytes()
}

func EncodeCRL(crl *x509.RevocationList, encoding Encoding) []byte {
	return Encode(encoding, PEMTypeCRL, crl.Raw)
}

func EncodeCSR(csr *x509.CertificateRequest, encoding Encoding) []byte {
	return Encode(encoding, PEMTypeCSR, csr.Raw)
}

// Returns the DER encoded SubjectPublicKeyInfo of a public key
func MarshalPublicKey(pub crypto.PublicKey) ([]byte, error) {
	if k, ok := pub.(*dsa.PublicKey); ok {
		return marshalDSAPublicKey(k)
	}
	return x509.MarshalPKIXPublicKey(pub)
}

func EncodePublicKey(pub crypto.PublicKey, encoding Encoding) ([]byte, error) {
	der, err := MarshalPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return Encode(encoding, PEMTypePublicKey, der), nil
}

// Parses a DER or PEM SubjectPublicKeyInfo. DSA public keys are not
// supported.
func ParsePublicKey(data []byte) (crypto.PublicKey, error) {
	if block, _ := pem.Decode(data); block != nil {
		if block.Type != PEMTypePublicKey {
			return nil, fmt.Errorf("%w: unexpected block %q", ErrInvalidPEM, block.Type)
		}
		data = block.Bytes
	}
	return x509.ParsePKIXPublicKey(data)
}

// Returns the unencrypted PKCS #8 DER form of a private key
func MarshalPKCS8(key crypto.PrivateKey) ([]byte, error) {
	if k, ok := key.(*dsa.PrivateKey); ok {
		return marshalDSAPKCS8(k)
	}
	return x509.MarshalPKCS8PrivateKey(key)
}

// Encodes a private key as PKCS #8. When a password is given the key is
// encrypted using PBES2 with the given options. DSA keys cannot be
// carried in encrypted PKCS #8 and are written as legacy encrypted PEM
// instead, which has no DER form.
func MarshalPrivateKey(
	key crypto.PrivateKey,
	encoding Encoding,
	password []byte,
	opts *PBEOptions) ([]byte, error) {

	if len(password) == 0 {
		der, err := MarshalPKCS8(key)
		if err != nil {
			return nil, err
		}
		return Encode(encoding, PEMTypePrivateKey, der), nil
	}

	if dsaKey, ok := key.(*dsa.PrivateKey); ok {
		if encoding == EncodingDER {
			return nil, NewUnsupportedError("encrypted DSA key encoding", encoding)
		}
		return encryptLegacyPEM(rand.Reader, PEMTypeDSAPrivateKey, dsaKey, password)
	}

	pkcs8Opts, err := opts.pkcs8Opts()
	if err != nil {
		return nil, err
	}
	der, err := pkcs8.MarshalPrivateKey(key, password, pkcs8Opts)
	if err != nil {
		return nil, err
	}
	return Encode(encoding, PEMTypeEncryptedPrivateKey, der), nil
}

func encryptLegacyPEM(
	random io.Reader,
	blockType string,
	key *dsa.PrivateKey,
	password []byte) ([]byte, error) {

	der, err := marshalDSATraditional(key)
	if err != nil {
		return nil, err
	}
	//nolint:staticcheck
	block, err := x509.EncryptPEMBlock(random, blockType, der, password, x509.PEMCipherAES256)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(block), nil
}

type equaler interface {
	Equal(x crypto.PublicKey) bool
}

// Compares two public keys of any supported algorithm
func PublicKeysEqual(a, b crypto.PublicKey) bool {
	if a == nil || b == nil {
		return false
	}
	switch ka := a.(type) {
	case *dsa.PublicKey:
		kb, ok := b.(*dsa.PublicKey)
		return ok &&
			ka.Y.Cmp(kb.Y) == 0 &&
			ka.P.Cmp(kb.P) == 0 &&
			ka.Q.Cmp(kb.Q) == 0 &&
			ka.G.Cmp(kb.G) == 0
	case ed25519.PublicKey:
		kb, ok := b.(ed25519.PublicKey)
		return ok && ka.Equal(kb)
	case equaler:
		return ka.Equal(b)
	}
	return false
}
