package model

import (
	"crypto/x509"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jeremyhahn/go-trusted-pki/pkg/pki"
)

var revocationReasons = []string{
	0:  "unspecified",
	1:  "key_compromise",
	2:  "ca_compromise",
	3:  "affiliation_changed",
	4:  "superseded",
	5:  "cessation_of_operation",
	6:  "certificate_hold",
	8:  "remove_from_crl",
	9:  "privilege_withdrawn",
	10: "aa_compromise",
}

// Parses a revocation reason name or RFC 5280 reason code
func ParseRevocationReason(reason string) (int, error) {
	if reason == "" {
		return 0, nil
	}
	if code, err := strconv.Atoi(reason); err == nil {
		if code >= 0 && code < len(revocationReasons) && revocationReasons[code] != "" {
			return code, nil
		}
		return 0, pki.NewUnsupportedError("revocation reason", reason)
	}
	key := normalizeName(reason)
	for code, name := range revocationReasons {
		if name != "" && name == key {
			return code, nil
		}
	}
	return 0, pki.NewUnsupportedError("revocation reason", reason)
}

func RevocationReasonName(code int) string {
	if code >= 0 && code < len(revocationReasons) && revocationReasons[code] != "" {
		return revocationReasons[code]
	}
	return strconv.Itoa(code)
}

// Field is a labelled value of a printable projection
type Field struct {
	Name  string
	Value string
}

// Printable is implemented by every Info projection
type Printable interface {
	Title() string
	Fields() []Field
}

type CertInfo struct {
	Thumbprint         string    `yaml:"thumbprint" json:"thumbprint"`
	KeyThumbprint      string    `yaml:"key_thumbprint" json:"key_thumbprint"`
	Subject            string    `yaml:"subject" json:"subject"`
	Issuer             string    `yaml:"issuer" json:"issuer"`
	SerialNumber       string    `yaml:"serial_number" json:"serial_number"`
	NotBefore          time.Time `yaml:"not_before" json:"not_before"`
	NotAfter           time.Time `yaml:"not_after" json:"not_after"`
	KeyAlgorithm       string    `yaml:"key_algorithm" json:"key_algorithm"`
	KeyParameters      string    `yaml:"key_parameters" json:"key_parameters"`
	SignatureAlgorithm string    `yaml:"signature_algorithm" json:"signature_algorithm"`
	IsCA               bool      `yaml:"is_ca" json:"is_ca"`
	SelfSigned         bool      `yaml:"self_signed" json:"self_signed"`
	HasPrivateKey      bool      `yaml:"has_private_key" json:"has_private_key"`
	DNSNames           []string  `yaml:"dns_names,omitempty" json:"dns_names,omitempty"`
	Extensions         []string  `yaml:"extensions,omitempty" json:"extensions,omitempty"`
}

func NewCertInfo(cert *pki.Certificate) *CertInfo {
	c := cert.Certificate
	algo, _ := pki.KeyAlgorithmOf(c.PublicKey)
	info := &CertInfo{
		Thumbprint:         cert.Thumbprint().String(),
		KeyThumbprint:      cert.KeyThumbprint().String(),
		Subject:            c.Subject.String(),
		Issuer:             c.Issuer.String(),
		SerialNumber:       c.SerialNumber.String(),
		NotBefore:          c.NotBefore,
		NotAfter:           c.NotAfter,
		KeyAlgorithm:       algo.String(),
		KeyParameters:      pki.KeyParameters(c.PublicKey),
		SignatureAlgorithm: c.SignatureAlgorithm.String(),
		IsCA:               c.IsCA,
		SelfSigned:         string(c.RawIssuer) == string(c.RawSubject),
		HasPrivateKey:      cert.HasPrivateKey(),
		DNSNames:           c.DNSNames,
	}
	for _, ext := range c.Extensions {
		info.Extensions = append(info.Extensions, pki.ExtensionName(ext.Id))
	}
	return info
}

func (i *CertInfo) Title() string {
	return "Certificate " + i.Thumbprint
}

func (i *CertInfo) Fields() []Field {
	return []Field{
		{"Subject", i.Subject},
		{"Issuer", i.Issuer},
		{"Serial Number", i.SerialNumber},
		{"Not Before", i.NotBefore.UTC().Format(time.RFC3339)},
		{"Not After", i.NotAfter.UTC().Format(time.RFC3339)},
		{"Key", strings.TrimSpace(i.KeyAlgorithm + " " + i.KeyParameters)},
		{"Key Thumbprint", i.KeyThumbprint},
		{"Signature Algorithm", i.SignatureAlgorithm},
		{"CA", strconv.FormatBool(i.IsCA)},
		{"Self Signed", strconv.FormatBool(i.SelfSigned)},
		{"Private Key", strconv.FormatBool(i.HasPrivateKey)},
		{"DNS Names", strings.Join(i.DNSNames, ", ")},
		{"Extensions", strings.Join(i.Extensions, ", ")},
	}
}

type KeyPairInfo struct {
	Thumbprint string `yaml:"thumbprint" json:"thumbprint"`
	Algorithm  string `yaml:"algorithm" json:"algorithm"`
	Parameters string `yaml:"parameters" json:"parameters"`
	CanSign    bool   `yaml:"can_sign" json:"can_sign"`
}

func NewKeyPairInfo(kp *pki.KeyPair) *KeyPairInfo {
	return &KeyPairInfo{
		Thumbprint: kp.Thumbprint().String(),
		Algorithm:  kp.Algorithm.String(),
		Parameters: pki.KeyParameters(kp.PublicKey),
		CanSign:    kp.Algorithm.CanSign(),
	}
}

func (i *KeyPairInfo) Title() string {
	return "Key Pair " + i.Thumbprint
}

func (i *KeyPairInfo) Fields() []Field {
	return []Field{
		{"Algorithm", i.Algorithm},
		{"Parameters", i.Parameters},
		{"Can Sign", strconv.FormatBool(i.CanSign)},
	}
}

type CrlEntryInfo struct {
	SerialNumber   string    `yaml:"serial_number" json:"serial_number"`
	RevocationTime time.Time `yaml:"revocation_time" json:"revocation_time"`
	Reason         string    `yaml:"reason" json:"reason"`
}

type CrlInfo struct {
	Thumbprint         string         `yaml:"thumbprint" json:"thumbprint"`
	Issuer             string         `yaml:"issuer" json:"issuer"`
	Number             string         `yaml:"number" json:"number"`
	ThisUpdate         time.Time      `yaml:"this_update" json:"this_update"`
	NextUpdate         time.Time      `yaml:"next_update" json:"next_update"`
	SignatureAlgorithm string         `yaml:"signature_algorithm" json:"signature_algorithm"`
	Entries            []CrlEntryInfo `yaml:"entries,omitempty" json:"entries,omitempty"`
}

func NewCrlInfo(crl *pki.RevocationList) *CrlInfo {
	r := crl.RevocationList
	info := &CrlInfo{
		Thumbprint:         crl.Thumbprint().String(),
		Issuer:             r.Issuer.String(),
		ThisUpdate:         r.ThisUpdate,
		NextUpdate:         r.NextUpdate,
		SignatureAlgorithm: r.SignatureAlgorithm.String(),
	}
	if r.Number != nil {
		info.Number = r.Number.String()
	}
	for _, entry := range r.RevokedCertificateEntries {
		info.Entries = append(info.Entries, CrlEntryInfo{
			SerialNumber:   entry.SerialNumber.String(),
			RevocationTime: entry.RevocationTime,
			Reason:         RevocationReasonName(entry.ReasonCode),
		})
	}
	return info
}

func (i *CrlInfo) Title() string {
	return "Revocation List " + i.Thumbprint
}

func (i *CrlInfo) Fields() []Field {
	fields := []Field{
		{"Issuer", i.Issuer},
		{"Number", i.Number},
		{"This Update", i.ThisUpdate.UTC().Format(time.RFC3339)},
		{"Next Update", i.NextUpdate.UTC().Format(time.RFC3339)},
		{"Signature Algorithm", i.SignatureAlgorithm},
		{"Entries", strconv.Itoa(len(i.Entries))},
	}
	for _, entry := range i.Entries {
		fields = append(fields, Field{
			Name: "  " + entry.SerialNumber,
			Value: fmt.Sprintf("%s (%s)",
				entry.RevocationTime.UTC().Format(time.RFC3339), entry.Reason),
		})
	}
	return fields
}

type CsrInfo struct {
	Thumbprint         string   `yaml:"thumbprint" json:"thumbprint"`
	Subject            string   `yaml:"subject" json:"subject"`
	KeyAlgorithm       string   `yaml:"key_algorithm" json:"key_algorithm"`
	KeyParameters      string   `yaml:"key_parameters" json:"key_parameters"`
	SignatureAlgorithm string   `yaml:"signature_algorithm" json:"signature_algorithm"`
	Extensions         []string `yaml:"extensions,omitempty" json:"extensions,omitempty"`
}

func NewCsrInfo(csr *pki.SigningRequest) *CsrInfo {
	r := csr.CertificateRequest
	algo, _ := pki.KeyAlgorithmOf(r.PublicKey)
	info := &CsrInfo{
		Thumbprint:         csr.Thumbprint().String(),
		Subject:            r.Subject.String(),
		KeyAlgorithm:       algo.String(),
		KeyParameters:      pki.KeyParameters(r.PublicKey),
		SignatureAlgorithm: r.SignatureAlgorithm.String(),
	}
	for _, ext := range r.Extensions {
		info.Extensions = append(info.Extensions, pki.ExtensionName(ext.Id))
	}
	return info
}

func (i *CsrInfo) Title() string {
	return "Signing Request " + i.Thumbprint
}

func (i *CsrInfo) Fields() []Field {
	return []Field{
		{"Subject", i.Subject},
		{"Key", strings.TrimSpace(i.KeyAlgorithm + " " + i.KeyParameters)},
		{"Signature Algorithm", i.SignatureAlgorithm},
		{"Extensions", strings.Join(i.Extensions, ", ")},
	}
}

// Returns the projection matching the artifact kind
func NewInfo(artifact *pki.Artifact) Printable {
	switch artifact.Kind {
	case pki.KindCertificate:
		return NewCertInfo(artifact.Certificate)
	case pki.KindKeyPair:
		return NewKeyPairInfo(artifact.KeyPair)
	case pki.KindRevocationList:
		return NewCrlInfo(artifact.RevocationList)
	case pki.KindSigningRequest:
		return NewCsrInfo(artifact.SigningRequest)
	}
	return nil
}

// Printer renders projections as aligned, optionally colored, text
type Printer struct {
	title *color.Color
	label *color.Color
}

func NewPrinter(colorize bool) *Printer {
	p := &Printer{
		title: color.New(color.FgGreen, color.Bold),
		label: color.New(color.FgCyan),
	}
	if colorize {
		p.title.EnableColor()
		p.label.EnableColor()
	} else {
		p.title.DisableColor()
		p.label.DisableColor()
	}
	return p
}

func (p *Printer) Print(w io.Writer, items ...Printable) error {
	for i, item := range items {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		if _, err := p.title.Fprintln(w, item.Title()); err != nil {
			return err
		}
		for _, field := range item.Fields() {
			if field.Value == "" {
				continue
			}
			if _, err := p.label.Fprintf(w, "  %-20s", field.Name+":"); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, " %s\n", field.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

// Returns the signature hash of a certificate as a configuration name
func SignatureHashName(algo x509.SignatureAlgorithm) string {
	hash, err := pki.HashFromSignatureAlgorithm(algo)
	if err != nil {
		return ""
	}
	return pki.HashName(hash)
}
