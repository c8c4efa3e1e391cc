package pki

import (
	"crypto"
	"crypto/dsa"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

type Kind int

const (
	KindCertificate Kind = iota + 1
	KindKeyPair
	KindRevocationList
	KindSigningRequest
)

func (k Kind) String() string {
	switch k {
	case KindCertificate:
		return "certificate"
	case KindKeyPair:
		return "keypair"
	case KindRevocationList:
		return "crl"
	case KindSigningRequest:
		return "csr"
	}
	return "unknown"
}

func ParseKind(kind string) (Kind, error) {
	switch strings.ToLower(kind) {
	case "certificate", "cert":
		return KindCertificate, nil
	case "keypair", "key":
		return KindKeyPair, nil
	case "crl":
		return KindRevocationList, nil
	case "csr":
		return KindSigningRequest, nil
	}
	return 0, NewUnsupportedError("content kind", kind)
}

// Thumbprint is the uppercase hex SHA-1 digest of an artifact's DER form.
// Key pairs use the DER SubjectPublicKeyInfo of their public key.
type Thumbprint string

func NewThumbprint(der []byte) Thumbprint {
	sum := sha1.Sum(der)
	return Thumbprint(strings.ToUpper(hex.EncodeToString(sum[:])))
}

// Normalizes a user supplied thumbprint, stripping separators. Anything
// other than 40 hex digits is rejected.
func ParseThumbprint(s string) (Thumbprint, error) {
	s = strings.NewReplacer(":", "", " ", "", "-", "").Replace(s)
	thumbprint := Thumbprint(strings.ToUpper(s))
	if err := thumbprint.Validate(); err != nil {
		return "", err
	}
	return thumbprint, nil
}

// Returns an InputError unless the thumbprint is 40 uppercase hex digits.
// Thumbprints name files in directory stores, so nothing else may reach
// the file system.
func (t Thumbprint) Validate() error {
	valid := len(t) == sha1.Size*2
	for i := 0; valid && i < len(t); i++ {
		c := t[i]
		valid = (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F')
	}
	if !valid {
		return NewInputError("thumbprint", fmt.Sprintf("%q is not a SHA-1 thumbprint", string(t)))
	}
	return nil
}

func (t Thumbprint) String() string {
	return string(t)
}

// Certificate is an X.509 certificate with an optional associated
// private key.
type Certificate struct {
	Certificate *x509.Certificate
	PrivateKey  crypto.PrivateKey
}

func NewCertificate(cert *x509.Certificate) *Certificate {
	return &Certificate{Certificate: cert}
}

func (c *Certificate) HasPrivateKey() bool {
	return c.PrivateKey != nil
}

// Returns a copy of the certificate associated with the given key
func (c *Certificate) WithPrivateKey(key crypto.PrivateKey) *Certificate {
	return &Certificate{Certificate: c.Certificate, PrivateKey: key}
}

// Returns a copy of the certificate with the private key removed
func (c *Certificate) WithoutPrivateKey() *Certificate {
	return &Certificate{Certificate: c.Certificate}
}

func (c *Certificate) Thumbprint() Thumbprint {
	return NewThumbprint(c.Certificate.Raw)
}

// Thumbprint of the certificate public key, used to pair the certificate
// with a stored key pair.
func (c *Certificate) KeyThumbprint() Thumbprint {
	return NewThumbprint(c.Certificate.RawSubjectPublicKeyInfo)
}

// Returns the private key as a KeyPair if one is associated
func (c *Certificate) KeyPair() (*KeyPair, error) {
	if c.PrivateKey == nil {
		return nil, nil
	}
	return NewKeyPair(c.PrivateKey)
}

// KeyPair is a private key with its derived public key
type KeyPair struct {
	PrivateKey crypto.PrivateKey
	PublicKey  crypto.PublicKey
	Algorithm  KeyAlgorithm
}

func NewKeyPair(priv crypto.PrivateKey) (*KeyPair, error) {
	algo, err := KeyAlgorithmOf(priv)
	if err != nil {
		return nil, err
	}
	pub, err := PublicKeyOf(priv)
	if err != nil {
		return nil, err
	}
	return &KeyPair{PrivateKey: priv, PublicKey: pub, Algorithm: algo}, nil
}

// Returns the key as a crypto.Signer. DSA and ECDH keys cannot sign.
func (kp *KeyPair) Signer() (crypto.Signer, error) {
	if !kp.Algorithm.CanSign() {
		return nil, fmt.Errorf("%w: %s", ErrNotSigningKey,
			NewUnsupportedError("signing key algorithm", kp.Algorithm))
	}
	signer, ok := kp.PrivateKey.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotSigningKey, typeName(kp.PrivateKey))
	}
	return signer, nil
}

// DER SubjectPublicKeyInfo of the public key
func (kp *KeyPair) PublicKeyDER() ([]byte, error) {
	return MarshalPublicKey(kp.PublicKey)
}

func (kp *KeyPair) Thumbprint() Thumbprint {
	der, err := kp.PublicKeyDER()
	if err != nil {
		return ""
	}
	return NewThumbprint(der)
}

// Returns true if this key pair holds the private key of the given
// certificate.
func (kp *KeyPair) Matches(cert *x509.Certificate) bool {
	return PublicKeysEqual(kp.PublicKey, cert.PublicKey)
}

// RevocationList is a signed X.509 certificate revocation list
type RevocationList struct {
	RevocationList *x509.RevocationList
}

func (r *RevocationList) Thumbprint() Thumbprint {
	return NewThumbprint(r.RevocationList.Raw)
}

// Verifies the list was signed by the given issuer certificate. Key
// usage and basic constraints of the issuer are not evaluated.
func (r *RevocationList) VerifySignature(issuer *x509.Certificate) error {
	crl := r.RevocationList
	if err := issuer.CheckSignature(
		crl.SignatureAlgorithm, crl.RawTBSRevocationList, crl.Signature); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	}
	return nil
}

// Returns true if the serial number appears in the list
func (r *RevocationList) Contains(cert *x509.Certificate) bool {
	for _, entry := range r.RevocationList.RevokedCertificateEntries {
		if entry.SerialNumber.Cmp(cert.SerialNumber) == 0 {
			return true
		}
	}
	return false
}

// SigningRequest is a PKCS #10 certificate signing request
type SigningRequest struct {
	CertificateRequest *x509.CertificateRequest
}

func (s *SigningRequest) Thumbprint() Thumbprint {
	return NewThumbprint(s.CertificateRequest.Raw)
}

// Artifact is a tagged union of the four artifact kinds. Exactly one of
// the pointer fields matching Kind is set.
type Artifact struct {
	Kind           Kind
	Certificate    *Certificate
	KeyPair        *KeyPair
	RevocationList *RevocationList
	SigningRequest *SigningRequest
}

func (a *Artifact) Thumbprint() Thumbprint {
	switch a.Kind {
	case KindCertificate:
		return a.Certificate.Thumbprint()
	case KindKeyPair:
		return a.KeyPair.Thumbprint()
	case KindRevocationList:
		return a.RevocationList.Thumbprint()
	case KindSigningRequest:
		return a.SigningRequest.Thumbprint()
	}
	return ""
}

// Returns the public key derived from a private key
func PublicKeyOf(priv crypto.PrivateKey) (crypto.PublicKey, error) {
	switch k := priv.(type) {
	case *rsa.PrivateKey:
		return &k.PublicKey, nil
	case *ecdsa.PrivateKey:
		return &k.PublicKey, nil
	case *dsa.PrivateKey:
		return &k.PublicKey, nil
	case *ecdh.PrivateKey:
		return k.PublicKey(), nil
	case ed25519.PrivateKey:
		return k.Public(), nil
	}
	return nil, NewUnsupportedError("private key type", typeName(priv))
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
