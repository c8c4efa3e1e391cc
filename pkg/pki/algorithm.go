package pki

import (
	"crypto"
	"crypto/dsa"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"strings"
)

type KeyAlgorithm string

const (
	KeyAlgorithmRSA     KeyAlgorithm = "RSA"
	KeyAlgorithmECDSA   KeyAlgorithm = "ECDSA"
	KeyAlgorithmDSA     KeyAlgorithm = "DSA"
	KeyAlgorithmECDH    KeyAlgorithm = "ECDH"
	KeyAlgorithmEd25519 KeyAlgorithm = "Ed25519"

	DefaultRSAKeySize = 4096
	DefaultHash       = crypto.SHA512
)

var (
	OIDPublicKeyRSA     = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}
	OIDPublicKeyECDSA   = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	OIDPublicKeyDSA     = asn1.ObjectIdentifier{1, 2, 840, 10040, 4, 1}
	OIDPublicKeyX25519  = asn1.ObjectIdentifier{1, 3, 101, 110}
	OIDPublicKeyEd25519 = asn1.ObjectIdentifier{1, 3, 101, 112}

	// Order in which the key pair cascade tries algorithms
	KeyAlgorithms = []KeyAlgorithm{
		KeyAlgorithmRSA,
		KeyAlgorithmECDSA,
		KeyAlgorithmDSA,
		KeyAlgorithmECDH,
		KeyAlgorithmEd25519,
	}

	DefaultCurve = elliptic.P521()
)

func (algo KeyAlgorithm) String() string {
	return string(algo)
}

// Returns the PKCS #8 / SubjectPublicKeyInfo algorithm OID
func (algo KeyAlgorithm) OID() asn1.ObjectIdentifier {
	switch algo {
	case KeyAlgorithmRSA:
		return OIDPublicKeyRSA
	case KeyAlgorithmECDSA:
		return OIDPublicKeyECDSA
	case KeyAlgorithmDSA:
		return OIDPublicKeyDSA
	case KeyAlgorithmECDH:
		return OIDPublicKeyX25519
	case KeyAlgorithmEd25519:
		return OIDPublicKeyEd25519
	}
	return nil
}

// Returns true if keys of this algorithm can produce signatures accepted
// by x509 certificate, request and revocation list generation.
func (algo KeyAlgorithm) CanSign() bool {
	switch algo {
	case KeyAlgorithmRSA, KeyAlgorithmECDSA, KeyAlgorithmEd25519:
		return true
	}
	return false
}

func ParseKeyAlgorithm(algorithm string) (KeyAlgorithm, error) {
	for _, algo := range KeyAlgorithms {
		if strings.EqualFold(algorithm, algo.String()) {
			return algo, nil
		}
	}
	if strings.EqualFold(algorithm, "EC") {
		return KeyAlgorithmECDSA, nil
	}
	return "", NewUnsupportedError("key algorithm", algorithm)
}

// Returns the key algorithm of a private or public key
func KeyAlgorithmOf(key any) (KeyAlgorithm, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey, *rsa.PublicKey:
		return KeyAlgorithmRSA, nil
	case *ecdsa.PrivateKey, *ecdsa.PublicKey:
		return KeyAlgorithmECDSA, nil
	case *dsa.PrivateKey, *dsa.PublicKey:
		return KeyAlgorithmDSA, nil
	case *ecdh.PrivateKey:
		return ecdhAlgorithm(k.Curve())
	case *ecdh.PublicKey:
		return ecdhAlgorithm(k.Curve())
	case ed25519.PrivateKey, ed25519.PublicKey:
		return KeyAlgorithmEd25519, nil
	}
	return "", NewUnsupportedError("key type", typeName(key))
}

func ecdhAlgorithm(curve ecdh.Curve) (KeyAlgorithm, error) {
	if curve == ecdh.X25519() {
		return KeyAlgorithmECDH, nil
	}
	return "", NewUnsupportedError("ECDH curve", curve)
}

func ParseCurve(curve string) (elliptic.Curve, error) {
	switch strings.ToUpper(strings.ReplaceAll(curve, "-", "")) {
	case "":
		return DefaultCurve, nil
	case "P224", "SECP224R1":
		return elliptic.P224(), nil
	case "P256", "SECP256R1", "PRIME256V1":
		return elliptic.P256(), nil
	case "P384", "SECP384R1":
		return elliptic.P384(), nil
	case "P521", "SECP521R1":
		return elliptic.P521(), nil
	}
	return nil, NewUnsupportedError("curve", curve)
}

// Parses a hash name such as "SHA-512", "sha512" or "SHA512". An empty
// name returns the default hash.
func ParseHash(hash string) (crypto.Hash, error) {
	switch strings.ToUpper(strings.ReplaceAll(strings.ReplaceAll(hash, "-", ""), "_", "")) {
	case "":
		return DefaultHash, nil
	case "SHA1":
		return crypto.SHA1, nil
	case "SHA256":
		return crypto.SHA256, nil
	case "SHA384":
		return crypto.SHA384, nil
	case "SHA512":
		return crypto.SHA512, nil
	}
	return 0, NewUnsupportedError("hash algorithm", hash)
}

// Returns the canonical configuration name for a hash
func HashName(hash crypto.Hash) string {
	switch hash {
	case crypto.SHA1:
		return "SHA-1"
	case crypto.SHA256:
		return "SHA-256"
	case crypto.SHA384:
		return "SHA-384"
	case crypto.SHA512:
		return "SHA-512"
	}
	return hash.String()
}

// Returns the signature algorithm used with the given key algorithm and
// hash. RSA keys always use PKCS #1 v1.5 padding.
func SignatureAlgorithm(algo KeyAlgorithm, hash crypto.Hash) (x509.SignatureAlgorithm, error) {
	switch algo {
	case KeyAlgorithmRSA:
		switch hash {
		case crypto.SHA1:
			return x509.SHA1WithRSA, nil
		case crypto.SHA256:
			return x509.SHA256WithRSA, nil
		case crypto.SHA384:
			return x509.SHA384WithRSA, nil
		case crypto.SHA512:
			return x509.SHA512WithRSA, nil
		}
	case KeyAlgorithmECDSA:
		switch hash {
		case crypto.SHA1:
			return x509.ECDSAWithSHA1, nil
		case crypto.SHA256:
			return x509.ECDSAWithSHA256, nil
		case crypto.SHA384:
			return x509.ECDSAWithSHA384, nil
		case crypto.SHA512:
			return x509.ECDSAWithSHA512, nil
		}
	case KeyAlgorithmEd25519:
		return x509.PureEd25519, nil
	default:
		return x509.UnknownSignatureAlgorithm,
			NewUnsupportedError("signing key algorithm", algo)
	}
	return x509.UnknownSignatureAlgorithm,
		NewUnsupportedError("hash algorithm", HashName(hash))
}

// Returns the hash used by a signature algorithm. Ed25519 signatures
// report the default hash.
func HashFromSignatureAlgorithm(algo x509.SignatureAlgorithm) (crypto.Hash, error) {
	switch algo {
	case x509.SHA1WithRSA, x509.ECDSAWithSHA1:
		return crypto.SHA1, nil
	case x509.SHA256WithRSA, x509.SHA256WithRSAPSS, x509.ECDSAWithSHA256:
		return crypto.SHA256, nil
	case x509.SHA384WithRSA, x509.SHA384WithRSAPSS, x509.ECDSAWithSHA384:
		return crypto.SHA384, nil
	case x509.SHA512WithRSA, x509.SHA512WithRSAPSS, x509.ECDSAWithSHA512:
		return crypto.SHA512, nil
	case x509.PureEd25519:
		return DefaultHash, nil
	}
	return 0, NewUnsupportedError("signature algorithm", algo)
}

// Returns a short description of the key size or curve
func KeyParameters(pub crypto.PublicKey) string {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return strings.Join([]string{itoa(k.N.BitLen()), "bit"}, "-")
	case *ecdsa.PublicKey:
		return k.Curve.Params().Name
	case *dsa.PublicKey:
		return strings.Join([]string{itoa(k.P.BitLen()), "bit"}, "-")
	case *ecdh.PublicKey:
		return "X25519"
	case ed25519.PublicKey:
		return "Ed25519"
	}
	return ""
}
