package pki

import (
	"crypto"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

var (
	OIDExtensionSubjectKeyID     = asn1.ObjectIdentifier{2, 5, 29, 14}
	OIDExtensionKeyUsage         = asn1.ObjectIdentifier{2, 5, 29, 15}
	OIDExtensionSubjectAltName   = asn1.ObjectIdentifier{2, 5, 29, 17}
	OIDExtensionBasicConstraints = asn1.ObjectIdentifier{2, 5, 29, 19}
	OIDExtensionCRLNumber        = asn1.ObjectIdentifier{2, 5, 29, 20}
	OIDExtensionAuthorityKeyID   = asn1.ObjectIdentifier{2, 5, 29, 35}
	OIDExtensionExtKeyUsage      = asn1.ObjectIdentifier{2, 5, 29, 37}

	errMalformedSPKI = errors.New("pki: malformed subject public key info")

	extensionNames = map[string]string{
		OIDExtensionSubjectKeyID.String():     "subject_key_identifier",
		OIDExtensionKeyUsage.String():         "key_usage",
		OIDExtensionSubjectAltName.String():   "subject_alternative_name",
		OIDExtensionBasicConstraints.String(): "basic_constraints",
		OIDExtensionCRLNumber.String():        "crl_number",
		OIDExtensionAuthorityKeyID.String():   "authority_key_identifier",
		OIDExtensionExtKeyUsage.String():      "extended_key_usage",
	}
)

// Parses a dotted decimal object identifier such as "1.2.840.113549"
func ParseObjectIdentifier(s string) (asn1.ObjectIdentifier, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) < 2 {
		return nil, NewInputError("oid", fmt.Sprintf("invalid object identifier %q", s))
	}
	oid := make(asn1.ObjectIdentifier, len(parts))
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, NewInputError("oid", fmt.Sprintf("invalid object identifier %q", s))
		}
		oid[i] = n
	}
	return oid, nil
}

// Returns the short name of a well known extension, or its dotted OID
func ExtensionName(oid asn1.ObjectIdentifier) string {
	if name, ok := extensionNames[oid.String()]; ok {
		return name
	}
	return oid.String()
}

// Computes the RFC 5280 method 1 key identifier: the SHA-1 digest of the
// subjectPublicKey BIT STRING.
func SubjectKeyID(pub crypto.PublicKey) ([]byte, error) {
	der, err := MarshalPublicKey(pub)
	if err != nil {
		return nil, err
	}
	var spki, algo cryptobyte.String
	var bits asn1.BitString
	input := cryptobyte.String(der)
	if !input.ReadASN1(&spki, cbasn1.SEQUENCE) ||
		!spki.ReadASN1(&algo, cbasn1.SEQUENCE) ||
		!spki.ReadASN1BitString(&bits) {
		return nil, errMalformedSPKI
	}
	sum := sha1.Sum(bits.Bytes)
	return sum[:], nil
}

func extension(oid asn1.ObjectIdentifier, critical bool, b *cryptobyte.Builder) (pkix.Extension, error) {
	value, err := b.Bytes()
	if err != nil {
		return pkix.Extension{}, err
	}
	return pkix.Extension{Id: oid, Critical: critical, Value: value}, nil
}

// Encodes basicConstraints. A negative path length omits the constraint.
func MarshalBasicConstraints(isCA bool, pathLength int, critical bool) (pkix.Extension, error) {
	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		if isCA {
			b.AddASN1Boolean(true)
		}
		if isCA && pathLength >= 0 {
			b.AddASN1Int64(int64(pathLength))
		}
	})
	return extension(OIDExtensionBasicConstraints, critical, &b)
}

// Encodes keyUsage as a DER BIT STRING with trailing zero bits trimmed
func MarshalKeyUsage(usage x509.KeyUsage, critical bool) (pkix.Extension, error) {
	var a [2]byte
	a[0] = reverseBits(byte(usage))
	a[1] = reverseBits(byte(usage >> 8))
	bits := a[:1]
	if a[1] != 0 {
		bits = a[:2]
	}
	unused := 0
	last := bits[len(bits)-1]
	for unused < 8 && last&(1<<unused) == 0 {
		unused++
	}
	if unused == 8 {
		unused = 7
	}
	var b cryptobyte.Builder
	b.AddASN1(cbasn1.BIT_STRING, func(b *cryptobyte.Builder) {
		b.AddUint8(uint8(unused))
		b.AddBytes(bits)
	})
	return extension(OIDExtensionKeyUsage, critical, &b)
}

func reverseBits(in byte) byte {
	var out byte
	for i := 0; i < 8; i++ {
		out <<= 1
		out |= in & 1
		in >>= 1
	}
	return out
}

var extKeyUsageOIDs = map[x509.ExtKeyUsage]asn1.ObjectIdentifier{
	x509.ExtKeyUsageAny:             {2, 5, 29, 37, 0},
	x509.ExtKeyUsageServerAuth:      {1, 3, 6, 1, 5, 5, 7, 3, 1},
	x509.ExtKeyUsageClientAuth:      {1, 3, 6, 1, 5, 5, 7, 3, 2},
	x509.ExtKeyUsageCodeSigning:     {1, 3, 6, 1, 5, 5, 7, 3, 3},
	x509.ExtKeyUsageEmailProtection: {1, 3, 6, 1, 5, 5, 7, 3, 4},
	x509.ExtKeyUsageTimeStamping:    {1, 3, 6, 1, 5, 5, 7, 3, 8},
	x509.ExtKeyUsageOCSPSigning:     {1, 3, 6, 1, 5, 5, 7, 3, 9},
}

// Encodes extKeyUsage from known usages followed by any custom OIDs
func MarshalExtKeyUsage(
	usages []x509.ExtKeyUsage,
	custom []asn1.ObjectIdentifier,
	critical bool) (pkix.Extension, error) {

	oids := make([]asn1.ObjectIdentifier, 0, len(usages)+len(custom))
	for _, usage := range usages {
		oid, ok := extKeyUsageOIDs[usage]
		if !ok {
			return pkix.Extension{}, NewUnsupportedError("extended key usage", usage)
		}
		oids = append(oids, oid)
	}
	oids = append(oids, custom...)
	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		for _, oid := range oids {
			b.AddASN1ObjectIdentifier(oid)
		}
	})
	return extension(OIDExtensionExtKeyUsage, critical, &b)
}

// Encodes subjectAltName general names: rfc822Name [1], dNSName [2],
// uniformResourceIdentifier [6] and iPAddress [7].
func MarshalSubjectAltName(
	dnsNames, emails []string,
	ips []net.IP,
	uris []*url.URL,
	critical bool) (pkix.Extension, error) {

	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		for _, email := range emails {
			b.AddASN1(cbasn1.Tag(1).ContextSpecific(), func(b *cryptobyte.Builder) {
				b.AddBytes([]byte(email))
			})
		}
		for _, name := range dnsNames {
			b.AddASN1(cbasn1.Tag(2).ContextSpecific(), func(b *cryptobyte.Builder) {
				b.AddBytes([]byte(name))
			})
		}
		for _, uri := range uris {
			b.AddASN1(cbasn1.Tag(6).ContextSpecific(), func(b *cryptobyte.Builder) {
				b.AddBytes([]byte(uri.String()))
			})
		}
		for _, ip := range ips {
			if v4 := ip.To4(); v4 != nil {
				ip = v4
			}
			b.AddASN1(cbasn1.Tag(7).ContextSpecific(), func(b *cryptobyte.Builder) {
				b.AddBytes(ip)
			})
		}
	})
	return extension(OIDExtensionSubjectAltName, critical, &b)
}

func MarshalSubjectKeyID(keyID []byte) (pkix.Extension, error) {
	var b cryptobyte.Builder
	b.AddASN1OctetString(keyID)
	return extension(OIDExtensionSubjectKeyID, false, &b)
}

// Encodes authorityKeyIdentifier carrying only the keyIdentifier [0]
func MarshalAuthorityKeyID(keyID []byte) (pkix.Extension, error) {
	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1(cbasn1.Tag(0).ContextSpecific(), func(b *cryptobyte.Builder) {
			b.AddBytes(keyID)
		})
	})
	return extension(OIDExtensionAuthorityKeyID, false, &b)
}

// Returns the index of the extension with the given OID, or -1
func FindExtension(extensions []pkix.Extension, oid asn1.ObjectIdentifier) int {
	for i, ext := range extensions {
		if ext.Id.Equal(oid) {
			return i
		}
	}
	return -1
}

// Returns the extensions without any carrying one of the given OIDs
func RemoveExtensions(extensions []pkix.Extension, oids ...asn1.ObjectIdentifier) []pkix.Extension {
	kept := make([]pkix.Extension, 0, len(extensions))
	for _, ext := range extensions {
		drop := false
		for _, oid := range oids {
			if ext.Id.Equal(oid) {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, ext)
		}
	}
	return kept
}
