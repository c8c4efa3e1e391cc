package pki

import (
	"crypto"
	"crypto/dsa"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"io"
)

// KeyGenOptions selects the parameters of a generated key. Zero values
// select the defaults: 4096 bit RSA and NIST P-521.
type KeyGenOptions struct {
	Algorithm KeyAlgorithm
	KeySize   int
	Curve     elliptic.Curve
}

// Generates a new private key
func GenerateKey(random io.Reader, opts KeyGenOptions) (crypto.PrivateKey, error) {
	switch opts.Algorithm {
	case KeyAlgorithmRSA, "":
		size := opts.KeySize
		if size == 0 {
			size = DefaultRSAKeySize
		}
		return rsa.GenerateKey(random, size)
	case KeyAlgorithmECDSA:
		curve := opts.Curve
		if curve == nil {
			curve = DefaultCurve
		}
		return ecdsa.GenerateKey(curve, random)
	case KeyAlgorithmDSA:
		sizes := dsa.L2048N256
		switch opts.KeySize {
		case 1024:
			sizes = dsa.L1024N160
		case 3072:
			sizes = dsa.L3072N256
		}
		key := &dsa.PrivateKey{}
		if err := dsa.GenerateParameters(&key.Parameters, random, sizes); err != nil {
			return nil, err
		}
		if err := dsa.GenerateKey(key, random); err != nil {
			return nil, err
		}
		return key, nil
	case KeyAlgorithmECDH:
		return ecdh.X25519().GenerateKey(random)
	case KeyAlgorithmEd25519:
		_, key, err := ed25519.GenerateKey(random)
		return key, err
	}
	return nil, NewUnsupportedError("key algorithm", opts.Algorithm)
}
