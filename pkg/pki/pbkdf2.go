package pki

import (
	"crypto"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509/pkix"
	"encoding/asn1"
	"hash"

	"github.com/youmark/pkcs8"
	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2 with the full RFC 8018 PRF table. The pkcs8 package only knows
// HMAC-SHA1 and HMAC-SHA256, so this KDF replaces its registration for
// the PBKDF2 OID and serves both encryption and decryption.

var (
	oidPBKDF2 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 5, 12}

	pbkdf2PRFs = []struct {
		oid  asn1.ObjectIdentifier
		hash crypto.Hash
		new  func() hash.Hash
	}{
		{asn1.ObjectIdentifier{1, 2, 840, 113549, 2, 7}, crypto.SHA1, sha1.New},
		{asn1.ObjectIdentifier{1, 2, 840, 113549, 2, 8}, crypto.SHA224, sha256.New224},
		{asn1.ObjectIdentifier{1, 2, 840, 113549, 2, 9}, crypto.SHA256, sha256.New},
		{asn1.ObjectIdentifier{1, 2, 840, 113549, 2, 10}, crypto.SHA384, sha512.New384},
		{asn1.ObjectIdentifier{1, 2, 840, 113549, 2, 11}, crypto.SHA512, sha512.New},
		{asn1.ObjectIdentifier{1, 2, 840, 113549, 2, 12}, crypto.SHA512_224, sha512.New512_224},
		{asn1.ObjectIdentifier{1, 2, 840, 113549, 2, 13}, crypto.SHA512_256, sha512.New512_256},
	}
)

func init() {
	pkcs8.RegisterKDF(oidPBKDF2, func() pkcs8.KDFParameters {
		return new(pbkdf2Params)
	})
}

// PBKDF2-params from RFC 8018. A missing PRF means HMAC-SHA1. Encoded by
// value since encoding/asn1 does not marshal pointers.
type pbkdf2Params struct {
	Salt           []byte
	IterationCount int
	KeyLength      int                      `asn1:"optional"`
	PRF            pkix.AlgorithmIdentifier `asn1:"optional"`
}

func (p pbkdf2Params) DeriveKey(password []byte, size int) ([]byte, error) {
	if len(p.PRF.Algorithm) == 0 {
		return pbkdf2.Key(password, p.Salt, p.IterationCount, size, sha1.New), nil
	}
	for _, prf := range pbkdf2PRFs {
		if prf.oid.Equal(p.PRF.Algorithm) {
			return pbkdf2.Key(password, p.Salt, p.IterationCount, size, prf.new), nil
		}
	}
	return nil, NewUnsupportedError("PBKDF2 PRF", p.PRF.Algorithm.String())
}

// pbkdf2Opts implements pkcs8.KDFOpts for any hash in the PRF table
type pbkdf2Opts struct {
	saltSize   int
	iterations int
	hash       crypto.Hash
}

func (o pbkdf2Opts) DeriveKey(password, salt []byte, size int) ([]byte, pkcs8.KDFParameters, error) {
	for _, prf := range pbkdf2PRFs {
		if prf.hash != o.hash {
			continue
		}
		params := pbkdf2Params{
			Salt:           salt,
			IterationCount: o.iterations,
			PRF: pkix.AlgorithmIdentifier{
				Algorithm:  prf.oid,
				Parameters: asn1.RawValue{Tag: asn1.TagNull},
			},
		}
		return pbkdf2.Key(password, salt, o.iterations, size, prf.new), params, nil
	}
	return nil, nil, NewUnsupportedError("PBE hash", o.hash.String())
}

func (o pbkdf2Opts) GetSaltSize() int {
	return o.saltSize
}

func (o pbkdf2Opts) OID() asn1.ObjectIdentifier {
	return oidPBKDF2
}
