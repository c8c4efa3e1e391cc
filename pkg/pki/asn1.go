package pki

import (
	"crypto/dsa"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

var (
	errMalformedPKCS8 = errors.New("pki: malformed PKCS #8 private key info")
	errMalformedDSA   = errors.New("pki: malformed DSA private key")
	errInvalidDSA     = errors.New("pki: DSA key parameters are inconsistent")
)

// Reads the private key algorithm OID from an unencrypted PKCS #8
// PrivateKeyInfo without decoding the key material.
func PKCS8AlgorithmOID(der []byte) (asn1.ObjectIdentifier, error) {
	var oid asn1.ObjectIdentifier
	var version int64
	var info, algo cryptobyte.String
	input := cryptobyte.String(der)
	if !input.ReadASN1(&info, cbasn1.SEQUENCE) || !input.Empty() ||
		!info.ReadASN1Integer(&version) ||
		!info.ReadASN1(&algo, cbasn1.SEQUENCE) ||
		!algo.ReadASN1ObjectIdentifier(&oid) {
		return nil, errMalformedPKCS8
	}
	return oid, nil
}

// Parses an OpenSSL "DSA PRIVATE KEY" structure:
// SEQUENCE { version, p, q, g, y, x }
func parseDSATraditional(der []byte) (*dsa.PrivateKey, error) {
	var seq cryptobyte.String
	var version int64
	key := &dsa.PrivateKey{}
	key.P, key.Q, key.G, key.Y, key.X =
		new(big.Int), new(big.Int), new(big.Int), new(big.Int), new(big.Int)
	input := cryptobyte.String(der)
	if !input.ReadASN1(&seq, cbasn1.SEQUENCE) || !input.Empty() ||
		!seq.ReadASN1Integer(&version) || version != 0 ||
		!seq.ReadASN1Integer(key.P) ||
		!seq.ReadASN1Integer(key.Q) ||
		!seq.ReadASN1Integer(key.G) ||
		!seq.ReadASN1Integer(key.Y) ||
		!seq.ReadASN1Integer(key.X) ||
		!seq.Empty() {
		return nil, errMalformedDSA
	}
	if err := validateDSA(key); err != nil {
		return nil, err
	}
	return key, nil
}

func marshalDSATraditional(key *dsa.PrivateKey) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1Int64(0)
		b.AddASN1BigInt(key.P)
		b.AddASN1BigInt(key.Q)
		b.AddASN1BigInt(key.G)
		b.AddASN1BigInt(key.Y)
		b.AddASN1BigInt(key.X)
	})
	return b.Bytes()
}

// Parses a PKCS #8 PrivateKeyInfo carrying a DSA key. The public value is
// recomputed from the private exponent.
func parseDSAPKCS8(der []byte) (*dsa.PrivateKey, error) {
	var info, algo, params, octets cryptobyte.String
	var version int64
	var oid asn1.ObjectIdentifier
	key := &dsa.PrivateKey{}
	key.P, key.Q, key.G, key.X = new(big.Int), new(big.Int), new(big.Int), new(big.Int)
	input := cryptobyte.String(der)
	if !input.ReadASN1(&info, cbasn1.SEQUENCE) || !input.Empty() ||
		!info.ReadASN1Integer(&version) ||
		!info.ReadASN1(&algo, cbasn1.SEQUENCE) ||
		!algo.ReadASN1ObjectIdentifier(&oid) {
		return nil, errMalformedPKCS8
	}
	if !oid.Equal(OIDPublicKeyDSA) {
		return nil, fmt.Errorf("%w: algorithm %s is not DSA", errMalformedPKCS8, oid)
	}
	if !algo.ReadASN1(&params, cbasn1.SEQUENCE) ||
		!params.ReadASN1Integer(key.P) ||
		!params.ReadASN1Integer(key.Q) ||
		!params.ReadASN1Integer(key.G) ||
		!info.ReadASN1(&octets, cbasn1.OCTET_STRING) ||
		!octets.ReadASN1Integer(key.X) {
		return nil, errMalformedDSA
	}
	key.Y = new(big.Int).Exp(key.G, key.X, key.P)
	if err := validateDSA(key); err != nil {
		return nil, err
	}
	return key, nil
}

func marshalDSAPKCS8(key *dsa.PrivateKey) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1Int64(0)
		addDSAAlgorithmIdentifier(b, &key.PublicKey)
		b.AddASN1(cbasn1.OCTET_STRING, func(b *cryptobyte.Builder) {
			b.AddASN1BigInt(key.X)
		})
	})
	return b.Bytes()
}

// Encodes a DSA public key as a SubjectPublicKeyInfo
func marshalDSAPublicKey(pub *dsa.PublicKey) ([]byte, error) {
	var y cryptobyte.Builder
	y.AddASN1BigInt(pub.Y)
	yBytes, err := y.Bytes()
	if err != nil {
		return nil, err
	}
	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		addDSAAlgorithmIdentifier(b, pub)
		b.AddASN1BitString(yBytes)
	})
	return b.Bytes()
}

func addDSAAlgorithmIdentifier(b *cryptobyte.Builder, pub *dsa.PublicKey) {
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(OIDPublicKeyDSA)
		b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1BigInt(pub.P)
			b.AddASN1BigInt(pub.Q)
			b.AddASN1BigInt(pub.G)
		})
	})
}

func validateDSA(key *dsa.PrivateKey) error {
	one := big.NewInt(1)
	if key.P.Sign() <= 0 || key.Q.Sign() <= 0 || key.G.Cmp(one) <= 0 ||
		key.X.Sign() <= 0 || key.X.Cmp(key.Q) >= 0 {
		return errInvalidDSA
	}
	if new(big.Int).Exp(key.G, key.X, key.P).Cmp(key.Y) != 0 {
		return errInvalidDSA
	}
	return nil
}
