package model

import (
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"sort"
	"strings"

	"github.com/jeremyhahn/go-trusted-pki/pkg/pki"
)

type MergePolicy string

const (
	MERGE_REPLACE       MergePolicy = "replace"
	MERGE_ADD_IF_ABSENT MergePolicy = "add_if_absent"
)

var (
	keyUsageNames = map[string]x509.KeyUsage{
		"digital_signature":  x509.KeyUsageDigitalSignature,
		"content_commitment": x509.KeyUsageContentCommitment,
		"key_encipherment":   x509.KeyUsageKeyEncipherment,
		"data_encipherment":  x509.KeyUsageDataEncipherment,
		"key_agreement":      x509.KeyUsageKeyAgreement,
		"cert_sign":          x509.KeyUsageCertSign,
		"crl_sign":           x509.KeyUsageCRLSign,
		"encipher_only":      x509.KeyUsageEncipherOnly,
		"decipher_only":      x509.KeyUsageDecipherOnly,
	}
	keyUsageAliases = map[string]string{
		"non_repudiation": "content_commitment",
		"key_cert_sign":   "cert_sign",
	}
	extKeyUsageNames = map[string]x509.ExtKeyUsage{
		"any":              x509.ExtKeyUsageAny,
		"server_auth":      x509.ExtKeyUsageServerAuth,
		"client_auth":      x509.ExtKeyUsageClientAuth,
		"code_signing":     x509.ExtKeyUsageCodeSigning,
		"email_protection": x509.ExtKeyUsageEmailProtection,
		"time_stamping":    x509.ExtKeyUsageTimeStamping,
		"ocsp_signing":     x509.ExtKeyUsageOCSPSigning,
	}
)

type BasicConstraints struct {
	CA         bool `yaml:"ca" json:"ca" mapstructure:"ca"`
	PathLength *int `yaml:"path_length,omitempty" json:"path_length,omitempty" mapstructure:"path_length"`
	Critical   bool `yaml:"critical" json:"critical" mapstructure:"critical"`
}

type CustomExtension struct {
	OID      string `yaml:"oid" json:"oid" mapstructure:"oid"`
	Value    Bytes  `yaml:"value" json:"value" mapstructure:"value"`
	Critical bool   `yaml:"critical,omitempty" json:"critical,omitempty" mapstructure:"critical"`
}

// ExtensionsConfig describes the X.509 v3 extensions of a signing request
// or certificate. Extended key usages may be given by name or dotted OID.
type ExtensionsConfig struct {
	BasicConstraints         *BasicConstraints        `yaml:"basic_constraints,omitempty" json:"basic_constraints,omitempty" mapstructure:"basic_constraints"`
	KeyUsage                 []string                 `yaml:"key_usage,omitempty" json:"key_usage,omitempty" mapstructure:"key_usage"`
	KeyUsageCritical         bool                     `yaml:"key_usage_critical,omitempty" json:"key_usage_critical,omitempty" mapstructure:"key_usage_critical"`
	ExtendedKeyUsage         []string                 `yaml:"extended_key_usage,omitempty" json:"extended_key_usage,omitempty" mapstructure:"extended_key_usage"`
	ExtendedKeyUsageCritical bool                     `yaml:"extended_key_usage_critical,omitempty" json:"extended_key_usage_critical,omitempty" mapstructure:"extended_key_usage_critical"`
	SubjectAlternativeNames  *SubjectAlternativeNames `yaml:"subject_alternative_names,omitempty" json:"subject_alternative_names,omitempty" mapstructure:"subject_alternative_names"`
	SubjectKeyIdentifier     bool                     `yaml:"subject_key_identifier,omitempty" json:"subject_key_identifier,omitempty" mapstructure:"subject_key_identifier"`
	AuthorityKeyIdentifier   bool                     `yaml:"authority_key_identifier,omitempty" json:"authority_key_identifier,omitempty" mapstructure:"authority_key_identifier"`
	Custom                   []CustomExtension        `yaml:"custom,omitempty" json:"custom,omitempty" mapstructure:"custom"`
	MergePolicy              MergePolicy              `yaml:"merge_policy,omitempty" json:"merge_policy,omitempty" mapstructure:"merge_policy"`
}

// Returns the key usage bits for the configured names
func (e *ExtensionsConfig) KeyUsageBits() (x509.KeyUsage, error) {
	var usage x509.KeyUsage
	for _, name := range e.KeyUsage {
		key := normalizeName(name)
		if alias, ok := keyUsageAliases[key]; ok {
			key = alias
		}
		bit, ok := keyUsageNames[key]
		if !ok {
			return 0, pki.NewUnsupportedError("key usage", name)
		}
		usage |= bit
	}
	return usage, nil
}

// Splits the extended key usages into known usages and custom OIDs
func (e *ExtensionsConfig) ExtKeyUsages() ([]x509.ExtKeyUsage, []asn1.ObjectIdentifier, error) {
	var usages []x509.ExtKeyUsage
	var custom []asn1.ObjectIdentifier
	for _, name := range e.ExtendedKeyUsage {
		if usage, ok := extKeyUsageNames[normalizeName(name)]; ok {
			usages = append(usages, usage)
			continue
		}
		oid, err := pki.ParseObjectIdentifier(name)
		if err != nil {
			return nil, nil, pki.NewUnsupportedError("extended key usage", name)
		}
		custom = append(custom, oid)
	}
	return usages, custom, nil
}

func (e *ExtensionsConfig) Policy() (MergePolicy, error) {
	if e == nil {
		return MERGE_REPLACE, nil
	}
	switch MergePolicy(normalizeName(string(e.MergePolicy))) {
	case "", MERGE_REPLACE:
		return MERGE_REPLACE, nil
	case MERGE_ADD_IF_ABSENT:
		return MERGE_ADD_IF_ABSENT, nil
	}
	return "", pki.NewUnsupportedError("merge policy", e.MergePolicy)
}

// Encodes the configured extensions. The subject key identifier, when
// requested, is derived from the given public key. The authority key
// identifier depends on the issuer and is left to the caller.
func (e *ExtensionsConfig) Extensions(subjectKey crypto.PublicKey) ([]pkix.Extension, error) {
	if e == nil {
		return nil, nil
	}
	var extensions []pkix.Extension
	add := func(ext pkix.Extension, err error) error {
		if err != nil {
			return err
		}
		extensions = append(extensions, ext)
		return nil
	}

	if bc := e.BasicConstraints; bc != nil {
		pathLength := -1
		if bc.PathLength != nil {
			pathLength = *bc.PathLength
		}
		if err := add(pki.MarshalBasicConstraints(bc.CA, pathLength, bc.Critical)); err != nil {
			return nil, err
		}
	}
	if len(e.KeyUsage) > 0 {
		usage, err := e.KeyUsageBits()
		if err != nil {
			return nil, err
		}
		if err := add(pki.MarshalKeyUsage(usage, e.KeyUsageCritical)); err != nil {
			return nil, err
		}
	}
	if len(e.ExtendedKeyUsage) > 0 {
		usages, custom, err := e.ExtKeyUsages()
		if err != nil {
			return nil, err
		}
		if err := add(pki.MarshalExtKeyUsage(usages, custom, e.ExtendedKeyUsageCritical)); err != nil {
			return nil, err
		}
	}
	if sans := e.SubjectAlternativeNames; !sans.IsEmpty() {
		ips, uris, err := sans.Parse()
		if err != nil {
			return nil, err
		}
		if err := add(pki.MarshalSubjectAltName(sans.DNS, sans.Email, ips, uris, false)); err != nil {
			return nil, err
		}
	}
	if e.SubjectKeyIdentifier && subjectKey != nil {
		keyID, err := pki.SubjectKeyID(subjectKey)
		if err != nil {
			return nil, err
		}
		if err := add(pki.MarshalSubjectKeyID(keyID)); err != nil {
			return nil, err
		}
	}
	for _, custom := range e.Custom {
		oid, err := pki.ParseObjectIdentifier(custom.OID)
		if err != nil {
			return nil, err
		}
		extensions = append(extensions, pkix.Extension{
			Id:       oid,
			Critical: custom.Critical,
			Value:    append([]byte(nil), custom.Value...),
		})
	}
	return extensions, nil
}

func (e *ExtensionsConfig) Clone() *ExtensionsConfig {
	if e == nil {
		return nil
	}
	clone := *e
	if e.BasicConstraints != nil {
		bc := *e.BasicConstraints
		if bc.PathLength != nil {
			pathLength := *bc.PathLength
			bc.PathLength = &pathLength
		}
		clone.BasicConstraints = &bc
	}
	clone.KeyUsage = append([]string(nil), e.KeyUsage...)
	clone.ExtendedKeyUsage = append([]string(nil), e.ExtendedKeyUsage...)
	clone.SubjectAlternativeNames = e.SubjectAlternativeNames.Clone()
	if e.Custom != nil {
		clone.Custom = make([]CustomExtension, len(e.Custom))
		for i, custom := range e.Custom {
			clone.Custom[i] = custom
			clone.Custom[i].Value = append(Bytes(nil), custom.Value...)
		}
	}
	return &clone
}

// Describes the extensions of a parsed certificate
func ExtensionsFromCertificate(cert *x509.Certificate) *ExtensionsConfig {
	e := &ExtensionsConfig{}
	if cert.BasicConstraintsValid {
		bc := &BasicConstraints{CA: cert.IsCA}
		if cert.IsCA && (cert.MaxPathLen > 0 || cert.MaxPathLenZero) {
			pathLength := cert.MaxPathLen
			bc.PathLength = &pathLength
		}
		e.BasicConstraints = bc
	}
	for name, bit := range keyUsageNames {
		if cert.KeyUsage&bit != 0 {
			e.KeyUsage = append(e.KeyUsage, name)
		}
	}
	sort.Strings(e.KeyUsage)
	for _, usage := range cert.ExtKeyUsage {
		for name, known := range extKeyUsageNames {
			if known == usage {
				e.ExtendedKeyUsage = append(e.ExtendedKeyUsage, name)
			}
		}
	}
	for _, oid := range cert.UnknownExtKeyUsage {
		e.ExtendedKeyUsage = append(e.ExtendedKeyUsage, oid.String())
	}
	sans := &SubjectAlternativeNames{
		DNS:   append([]string(nil), cert.DNSNames...),
		Email: append([]string(nil), cert.EmailAddresses...),
	}
	for _, ip := range cert.IPAddresses {
		sans.IPs = append(sans.IPs, ip.String())
	}
	for _, uri := range cert.URIs {
		sans.URIs = append(sans.URIs, uri.String())
	}
	if !sans.IsEmpty() {
		e.SubjectAlternativeNames = sans
	}
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(pki.OIDExtensionKeyUsage) {
			e.KeyUsageCritical = ext.Critical
		}
		if ext.Id.Equal(pki.OIDExtensionExtKeyUsage) {
			e.ExtendedKeyUsageCritical = ext.Critical
		}
		if ext.Id.Equal(pki.OIDExtensionBasicConstraints) && e.BasicConstraints != nil {
			e.BasicConstraints.Critical = ext.Critical
		}
	}
	e.SubjectKeyIdentifier = len(cert.SubjectKeyId) > 0
	e.AuthorityKeyIdentifier = len(cert.AuthorityKeyId) > 0
	return e
}

func normalizeName(name string) string {
	return strings.ToLower(strings.NewReplacer("-", "_", " ", "_").Replace(name))
}
