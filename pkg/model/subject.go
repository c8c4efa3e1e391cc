package model

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"net"
	"net/url"

	"github.com/jeremyhahn/go-trusted-pki/pkg/pki"
)

var (
	oidCountry             = asn1.ObjectIdentifier{2, 5, 4, 6}
	oidOrganization        = asn1.ObjectIdentifier{2, 5, 4, 10}
	oidOrganizationalUnit  = asn1.ObjectIdentifier{2, 5, 4, 11}
	oidCommonName          = asn1.ObjectIdentifier{2, 5, 4, 3}
	oidLocality            = asn1.ObjectIdentifier{2, 5, 4, 7}
	oidProvince            = asn1.ObjectIdentifier{2, 5, 4, 8}
	oidSurname             = asn1.ObjectIdentifier{2, 5, 4, 4}
	oidTitle               = asn1.ObjectIdentifier{2, 5, 4, 12}
	oidGivenName           = asn1.ObjectIdentifier{2, 5, 4, 42}
	oidInitials            = asn1.ObjectIdentifier{2, 5, 4, 43}
	oidGenerationQualifier = asn1.ObjectIdentifier{2, 5, 4, 44}
	oidPseudonym           = asn1.ObjectIdentifier{2, 5, 4, 65}
	oidDomainComponent     = asn1.ObjectIdentifier{0, 9, 2342, 19200300, 100, 1, 25}
	oidEmailAddress        = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}
)

// Subject describes a distinguished name. Country, organization,
// organizational unit, state, common name and domain components are
// the primary fields; the rest are optional refinements.
type Subject struct {
	Country             string     `yaml:"country,omitempty" json:"country,omitempty" mapstructure:"country"`
	Organization        string     `yaml:"organization,omitempty" json:"organization,omitempty" mapstructure:"organization"`
	OrganizationalUnit  string     `yaml:"organizational_unit,omitempty" json:"organizational_unit,omitempty" mapstructure:"organizational_unit"`
	State               string     `yaml:"state,omitempty" json:"state,omitempty" mapstructure:"state"`
	CommonName          string     `yaml:"cn,omitempty" json:"cn,omitempty" mapstructure:"cn"`
	DomainComponents    []string   `yaml:"domain_components,omitempty" json:"domain_components,omitempty" mapstructure:"domain_components"`
	Locality            string     `yaml:"locality,omitempty" json:"locality,omitempty" mapstructure:"locality"`
	Title               string     `yaml:"title,omitempty" json:"title,omitempty" mapstructure:"title"`
	Surname             string     `yaml:"surname,omitempty" json:"surname,omitempty" mapstructure:"surname"`
	GivenName           string     `yaml:"given_name,omitempty" json:"given_name,omitempty" mapstructure:"given_name"`
	Initials            string     `yaml:"initials,omitempty" json:"initials,omitempty" mapstructure:"initials"`
	Pseudonym           string     `yaml:"pseudonym,omitempty" json:"pseudonym,omitempty" mapstructure:"pseudonym"`
	GenerationQualifier string     `yaml:"generation_qualifier,omitempty" json:"generation_qualifier,omitempty" mapstructure:"generation_qualifier"`
	Email               string     `yaml:"email,omitempty" json:"email,omitempty" mapstructure:"email"`
	Attributes          []OIDValue `yaml:"attributes,omitempty" json:"attributes,omitempty" mapstructure:"attributes"`
}

// OIDValue is a free form attribute or extension identified by a dotted OID
type OIDValue struct {
	OID   string `yaml:"oid" json:"oid" mapstructure:"oid"`
	Value string `yaml:"value" json:"value" mapstructure:"value"`
}

type SubjectAlternativeNames struct {
	DNS   []string `yaml:"dns,omitempty" json:"dns,omitempty" mapstructure:"dns"`
	IPs   []string `yaml:"ips,omitempty" json:"ips,omitempty" mapstructure:"ips"`
	Email []string `yaml:"email,omitempty" json:"email,omitempty" mapstructure:"email"`
	URIs  []string `yaml:"uris,omitempty" json:"uris,omitempty" mapstructure:"uris"`
}

func (s *Subject) IsEmpty() bool {
	if s == nil {
		return true
	}
	return s.Country == "" && s.Organization == "" && s.OrganizationalUnit == "" &&
		s.State == "" && s.CommonName == "" && len(s.DomainComponents) == 0 &&
		s.Locality == "" && s.Title == "" && s.Surname == "" && s.GivenName == "" &&
		s.Initials == "" && s.Pseudonym == "" && s.GenerationQualifier == "" &&
		s.Email == "" && len(s.Attributes) == 0
}

// Builds the distinguished name. Only populated fields are included.
func (s *Subject) Name() (pkix.Name, error) {
	var name pkix.Name
	if s == nil {
		return name, nil
	}
	name.CommonName = s.CommonName
	name.Country = nonEmpty(s.Country)
	name.Organization = nonEmpty(s.Organization)
	name.OrganizationalUnit = nonEmpty(s.OrganizationalUnit)
	name.Province = nonEmpty(s.State)
	name.Locality = nonEmpty(s.Locality)

	// Domain components lead the extra attributes
	for _, dc := range s.DomainComponents {
		name.ExtraNames = append(name.ExtraNames, pkix.AttributeTypeAndValue{
			Type:  oidDomainComponent,
			Value: ia5String(dc),
		})
	}
	extra := []struct {
		oid   asn1.ObjectIdentifier
		value string
	}{
		{oidTitle, s.Title},
		{oidSurname, s.Surname},
		{oidGivenName, s.GivenName},
		{oidInitials, s.Initials},
		{oidPseudonym, s.Pseudonym},
		{oidGenerationQualifier, s.GenerationQualifier},
	}
	for _, attr := range extra {
		if attr.value != "" {
			name.ExtraNames = append(name.ExtraNames,
				pkix.AttributeTypeAndValue{Type: attr.oid, Value: attr.value})
		}
	}
	if s.Email != "" {
		name.ExtraNames = append(name.ExtraNames, pkix.AttributeTypeAndValue{
			Type:  oidEmailAddress,
			Value: ia5String(s.Email),
		})
	}
	for _, attr := range s.Attributes {
		oid, err := pki.ParseObjectIdentifier(attr.OID)
		if err != nil {
			return name, err
		}
		name.ExtraNames = append(name.ExtraNames,
			pkix.AttributeTypeAndValue{Type: oid, Value: attr.Value})
	}
	return name, nil
}

func (s *Subject) Clone() *Subject {
	if s == nil {
		return nil
	}
	clone := *s
	clone.DomainComponents = append([]string(nil), s.DomainComponents...)
	clone.Attributes = append([]OIDValue(nil), s.Attributes...)
	return &clone
}

// Returns the subject fields of a parsed distinguished name
func SubjectFromName(name pkix.Name) *Subject {
	s := &Subject{}
	for _, attr := range name.Names {
		value := fmt.Sprint(attr.Value)
		switch {
		case attr.Type.Equal(oidCountry):
			s.Country = value
		case attr.Type.Equal(oidOrganization):
			s.Organization = value
		case attr.Type.Equal(oidOrganizationalUnit):
			s.OrganizationalUnit = value
		case attr.Type.Equal(oidProvince):
			s.State = value
		case attr.Type.Equal(oidCommonName):
			s.CommonName = value
		case attr.Type.Equal(oidDomainComponent):
			s.DomainComponents = append(s.DomainComponents, value)
		case attr.Type.Equal(oidLocality):
			s.Locality = value
		case attr.Type.Equal(oidTitle):
			s.Title = value
		case attr.Type.Equal(oidSurname):
			s.Surname = value
		case attr.Type.Equal(oidGivenName):
			s.GivenName = value
		case attr.Type.Equal(oidInitials):
			s.Initials = value
		case attr.Type.Equal(oidPseudonym):
			s.Pseudonym = value
		case attr.Type.Equal(oidGenerationQualifier):
			s.GenerationQualifier = value
		case attr.Type.Equal(oidEmailAddress):
			s.Email = value
		default:
			s.Attributes = append(s.Attributes, OIDValue{OID: attr.Type.String(), Value: value})
		}
	}
	return s
}

// Parses the IP addresses and URIs of the alternative names
func (sans *SubjectAlternativeNames) Parse() ([]net.IP, []*url.URL, error) {
	if sans == nil {
		return nil, nil, nil
	}
	ips := make([]net.IP, 0, len(sans.IPs))
	for _, s := range sans.IPs {
		ip := net.ParseIP(s)
		if ip == nil {
			return nil, nil, pki.NewInputError("sans.ips", fmt.Sprintf("invalid IP address %q", s))
		}
		ips = append(ips, ip)
	}
	uris := make([]*url.URL, 0, len(sans.URIs))
	for _, s := range sans.URIs {
		uri, err := url.Parse(s)
		if err != nil {
			return nil, nil, pki.NewInputError("sans.uris", fmt.Sprintf("invalid URI %q", s))
		}
		uris = append(uris, uri)
	}
	return ips, uris, nil
}

func (sans *SubjectAlternativeNames) IsEmpty() bool {
	return sans == nil ||
		len(sans.DNS)+len(sans.IPs)+len(sans.Email)+len(sans.URIs) == 0
}

func (sans *SubjectAlternativeNames) Clone() *SubjectAlternativeNames {
	if sans == nil {
		return nil
	}
	return &SubjectAlternativeNames{
		DNS:   append([]string(nil), sans.DNS...),
		IPs:   append([]string(nil), sans.IPs...),
		Email: append([]string(nil), sans.Email...),
		URIs:  append([]string(nil), sans.URIs...),
	}
}

func nonEmpty(value string) []string {
	if value == "" {
		return nil
	}
	return []string{value}
}

// Domain components and email addresses are IA5String attributes
func ia5String(value string) asn1.RawValue {
	return asn1.RawValue{Tag: asn1.TagIA5String, Bytes: []byte(value)}
}
