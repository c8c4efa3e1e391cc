package pki

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/youmark/pkcs8"
)

// Decodes a private key of exactly the given algorithm, encoding and
// encryption state. The decoded key algorithm is checked against the
// requested one, so a structurally valid key of another algorithm is
// rejected rather than accepted.
func DecodePrivateKey(
	algo KeyAlgorithm,
	encoding Encoding,
	encrypted bool,
	data []byte,
	password []byte) (crypto.PrivateKey, error) {

	if encrypted && len(password) == 0 {
		return nil, ErrPasswordRequired
	}

	var key crypto.PrivateKey
	var err error
	switch encoding {
	case EncodingPEM:
		key, err = decodePEMPrivateKey(algo, encrypted, data, password)
	case EncodingDER:
		if encrypted {
			key, err = decodeEncryptedPKCS8(algo, data, password)
		} else {
			key, err = decodePlainDER(algo, data)
		}
	default:
		return nil, NewUnsupportedError("encoding", encoding)
	}
	if err != nil {
		return nil, err
	}
	return checkAlgorithm(algo, key)
}

func decodePEMPrivateKey(
	algo KeyAlgorithm,
	encrypted bool,
	data []byte,
	password []byte) (crypto.PrivateKey, error) {

	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		//nolint:staticcheck
		legacy := x509.IsEncryptedPEMBlock(block)
		switch block.Type {
		case PEMTypeEncryptedPrivateKey:
			if !encrypted {
				continue
			}
			return decodeEncryptedPKCS8(algo, block.Bytes, password)
		case PEMTypePrivateKey, PEMTypeRSAPrivateKey, PEMTypeECPrivateKey, PEMTypeDSAPrivateKey:
			if legacy != encrypted {
				continue
			}
			der := block.Bytes
			if legacy {
				var err error
				//nolint:staticcheck
				der, err = x509.DecryptPEMBlock(block, password)
				if err != nil {
					return nil, err
				}
			}
			return decodePlainDER(algo, der)
		}
	}
	return nil, fmt.Errorf("%w: no %s private key block", ErrInvalidPEM, encryptionName(encrypted))
}

// Decodes unencrypted PKCS #8, falling back to the traditional form of
// the algorithm (PKCS #1, SEC 1 or OpenSSL DSA).
func decodePlainDER(algo KeyAlgorithm, der []byte) (crypto.PrivateKey, error) {
	if oid, err := PKCS8AlgorithmOID(der); err == nil {
		if !oid.Equal(algo.OID()) {
			return nil, fmt.Errorf("pki: PKCS #8 algorithm %s is not %s", oid, algo)
		}
		if algo == KeyAlgorithmDSA {
			return parseDSAPKCS8(der)
		}
		return x509.ParsePKCS8PrivateKey(der)
	}
	switch algo {
	case KeyAlgorithmRSA:
		return x509.ParsePKCS1PrivateKey(der)
	case KeyAlgorithmECDSA:
		return x509.ParseECPrivateKey(der)
	case KeyAlgorithmDSA:
		return parseDSATraditional(der)
	}
	return nil, fmt.Errorf("pki: %s keys have no traditional encoding", algo)
}

func decodeEncryptedPKCS8(algo KeyAlgorithm, der []byte, password []byte) (crypto.PrivateKey, error) {
	if algo == KeyAlgorithmDSA {
		return nil, NewUnsupportedError("encrypted PKCS #8 key algorithm", algo)
	}
	key, err := pkcs8.ParsePKCS8PrivateKey(der, password)
	if err != nil {
		return nil, err
	}
	return key, nil
}

func checkAlgorithm(algo KeyAlgorithm, key crypto.PrivateKey) (crypto.PrivateKey, error) {
	actual, err := KeyAlgorithmOf(key)
	if err != nil {
		return nil, err
	}
	if actual != algo {
		return nil, fmt.Errorf("pki: decoded %s key, expected %s", actual, algo)
	}
	return key, nil
}

func encryptionName(encrypted bool) string {
	if encrypted {
		return "encrypted"
	}
	return "unencrypted"
}

// Returns true if the error indicates a wrong or missing password rather
// than malformed data.
func IsPasswordError(err error) bool {
	if err == nil {
		return false
	}
	//nolint:staticcheck
	return errors.Is(err, ErrPasswordRequired) || errors.Is(err, x509.IncorrectPasswordError) ||
		strings.Contains(err.Error(), "incorrect password")
}
