package builder

import (
	"crypto"
	"crypto/rsa"
	"errors"
	"io"

	"github.com/jeremyhahn/go-trusted-pki/pkg/pki"
)

var ErrInvalidSignerOpts = errors.New("builder: PKCS #1 v1.5 signer does not accept PSS options")

type PKCS1v15SigningKey struct {
	key *rsa.PrivateKey
}

// Signs digests using PKCS #1 v1.5 padding. This padding scheme is only
// provided for compatibility with relying parties that cannot verify PSS.
func NewPKCS1v15SigningKey(key *rsa.PrivateKey) PKCS1v15SigningKey {
	return PKCS1v15SigningKey{key: key}
}

// Returns the signing public key
func (signer PKCS1v15SigningKey) Public() crypto.PublicKey {
	return &signer.key.PublicKey
}

// Signs the requested digest using PKCS1 v1.5 padding
func (signer PKCS1v15SigningKey) Sign(
	rand io.Reader,
	digest []byte,
	opts crypto.SignerOpts) ([]byte, error) {

	if _, ok := opts.(*rsa.PSSOptions); ok {
		return nil, ErrInvalidSignerOpts
	}
	return rsa.SignPKCS1v15(rand, signer.key, opts.HashFunc(), digest)
}

// Returns the signature generator for a private key: PKCS #1 v1.5 for
// RSA, the key's native scheme for ECDSA and Ed25519. DSA and ECDH keys
// cannot sign.
func newSigner(key crypto.PrivateKey) (crypto.Signer, *pki.KeyPair, error) {
	kp, err := pki.NewKeyPair(key)
	if err != nil {
		return nil, nil, err
	}
	if rsaKey, ok := key.(*rsa.PrivateKey); ok {
		return NewPKCS1v15SigningKey(rsaKey), kp, nil
	}
	if !kp.Algorithm.CanSign() {
		return nil, nil, pki.NewUnsupportedError("signing key algorithm", kp.Algorithm)
	}
	signer, err := kp.Signer()
	if err != nil {
		return nil, nil, err
	}
	return signer, kp, nil
}
