package model

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/jeremyhahn/go-trusted-pki/pkg/pki"
)

const SCHEMA_VERSION = "1.0"

type TransformMode string

const (
	TRANSFORM_STORE      TransformMode = "store"
	TRANSFORM_ENCODE     TransformMode = "encode"
	TRANSFORM_PRINT      TransformMode = "print"
	TRANSFORM_CSR_CONFIG TransformMode = "csr_config"

	STORE_FORMAT_PKCS12 = "pkcs12"
	STORE_FORMAT_PEM    = "pem"
)

// PBEConfig selects the password based encryption of exported keys
type PBEConfig struct {
	Cipher     string `yaml:"cipher,omitempty" json:"cipher,omitempty" mapstructure:"cipher"`
	Hash       string `yaml:"hash,omitempty" json:"hash,omitempty" mapstructure:"hash"`
	Iterations int    `yaml:"iterations,omitempty" json:"iterations,omitempty" mapstructure:"iterations"`
	SaltSize   int    `yaml:"salt_size,omitempty" json:"salt_size,omitempty" mapstructure:"salt_size"`
}

// Returns the encryption options, defaults filled in
func (c *PBEConfig) Options() (*pki.PBEOptions, error) {
	opts := pki.DefaultPBEOptions()
	if c == nil {
		return opts, nil
	}
	if c.Cipher != "" {
		opts.Cipher = c.Cipher
	}
	hash, err := pki.ParseHash(c.Hash)
	if err != nil {
		return nil, err
	}
	opts.Hash = hash
	if c.Iterations > 0 {
		opts.Iterations = c.Iterations
	}
	if c.SaltSize > 0 {
		opts.SaltSize = c.SaltSize
	}
	return opts, nil
}

func (c *PBEConfig) Clone() *PBEConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// KeyPairConfig loads the private key from PrivateKey when it exists and
// generates one otherwise. The private and public keys are written back
// to their slots.
type KeyPairConfig struct {
	SchemaVersion string        `yaml:"schema_version,omitempty" json:"schema_version,omitempty" mapstructure:"schema_version"`
	Algorithm     string        `yaml:"algorithm,omitempty" json:"algorithm,omitempty" mapstructure:"algorithm"`
	KeySize       int           `yaml:"key_size,omitempty" json:"key_size,omitempty" mapstructure:"key_size"`
	Curve         string        `yaml:"curve,omitempty" json:"curve,omitempty" mapstructure:"curve"`
	PBE           *PBEConfig    `yaml:"pbe,omitempty" json:"pbe,omitempty" mapstructure:"pbe"`
	PrivateKey    *ArtifactFile `yaml:"private_key,omitempty" json:"private_key,omitempty" mapstructure:"private_key"`
	PublicKey     *ArtifactFile `yaml:"public_key,omitempty" json:"public_key,omitempty" mapstructure:"public_key"`
	Thumbprint    string        `yaml:"thumbprint,omitempty" json:"thumbprint,omitempty" mapstructure:"thumbprint"`
}

func (c *KeyPairConfig) Clone() *KeyPairConfig {
	if c == nil {
		return nil
	}
	clone := *c
	clone.PBE = c.PBE.Clone()
	clone.PrivateKey = c.PrivateKey.Clone()
	clone.PublicKey = c.PublicKey.Clone()
	return &clone
}

// Returns the key generation options for the configured algorithm
func (c *KeyPairConfig) KeyGenOptions() (pki.KeyGenOptions, error) {
	var opts pki.KeyGenOptions
	if c.Algorithm == "" {
		opts.Algorithm = pki.KeyAlgorithmRSA
	} else {
		algo, err := pki.ParseKeyAlgorithm(c.Algorithm)
		if err != nil {
			return opts, err
		}
		opts.Algorithm = algo
	}
	opts.KeySize = c.KeySize
	if opts.Algorithm == pki.KeyAlgorithmECDSA {
		curve, err := pki.ParseCurve(c.Curve)
		if err != nil {
			return opts, err
		}
		opts.Curve = curve
	}
	return opts, nil
}

// CsrConfig builds a fresh signing request, or re-signs Existing with a
// possibly different key and subject while keeping its extensions.
type CsrConfig struct {
	SchemaVersion string            `yaml:"schema_version,omitempty" json:"schema_version,omitempty" mapstructure:"schema_version"`
	KeyPair       *KeyPairConfig    `yaml:"key_pair,omitempty" json:"key_pair,omitempty" mapstructure:"key_pair"`
	Subject       *Subject          `yaml:"subject,omitempty" json:"subject,omitempty" mapstructure:"subject"`
	Extensions    *ExtensionsConfig `yaml:"extensions,omitempty" json:"extensions,omitempty" mapstructure:"extensions"`
	Hash          string            `yaml:"hash,omitempty" json:"hash,omitempty" mapstructure:"hash"`
	Existing      *ArtifactFile     `yaml:"existing,omitempty" json:"existing,omitempty" mapstructure:"existing"`
	Csr           *ArtifactFile     `yaml:"csr,omitempty" json:"csr,omitempty" mapstructure:"csr"`
	Thumbprint    string            `yaml:"thumbprint,omitempty" json:"thumbprint,omitempty" mapstructure:"thumbprint"`
}

func (c *CsrConfig) Clone() *CsrConfig {
	if c == nil {
		return nil
	}
	clone := *c
	clone.KeyPair = c.KeyPair.Clone()
	clone.Subject = c.Subject.Clone()
	clone.Extensions = c.Extensions.Clone()
	clone.Existing = c.Existing.Clone()
	clone.Csr = c.Csr.Clone()
	return &clone
}

// CertConfig issues a certificate from the signing request in Csr, which
// is built when its output slot holds no existing request. Without an
// Issuer the certificate is self-signed with the request key.
type CertConfig struct {
	SchemaVersion string            `yaml:"schema_version,omitempty" json:"schema_version,omitempty" mapstructure:"schema_version"`
	Csr           *CsrConfig        `yaml:"csr,omitempty" json:"csr,omitempty" mapstructure:"csr"`
	Issuer        *ArtifactFile     `yaml:"issuer,omitempty" json:"issuer,omitempty" mapstructure:"issuer"`
	IssuerKeyPair *KeyPairConfig    `yaml:"issuer_key_pair,omitempty" json:"issuer_key_pair,omitempty" mapstructure:"issuer_key_pair"`
	Extensions    *ExtensionsConfig `yaml:"extensions,omitempty" json:"extensions,omitempty" mapstructure:"extensions"`
	Hash          string            `yaml:"hash,omitempty" json:"hash,omitempty" mapstructure:"hash"`
	SerialNumber  string            `yaml:"serial_number,omitempty" json:"serial_number,omitempty" mapstructure:"serial_number"`
	NotBefore     *time.Time        `yaml:"not_before,omitempty" json:"not_before,omitempty" mapstructure:"not_before"`
	NotAfter      *time.Time        `yaml:"not_after,omitempty" json:"not_after,omitempty" mapstructure:"not_after"`
	Certificate   *ArtifactFile     `yaml:"certificate,omitempty" json:"certificate,omitempty" mapstructure:"certificate"`
	Thumbprint    string            `yaml:"thumbprint,omitempty" json:"thumbprint,omitempty" mapstructure:"thumbprint"`
}

func (c *CertConfig) Clone() *CertConfig {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Csr = c.Csr.Clone()
	clone.Issuer = c.Issuer.Clone()
	clone.IssuerKeyPair = c.IssuerKeyPair.Clone()
	clone.Extensions = c.Extensions.Clone()
	clone.NotBefore = cloneTime(c.NotBefore)
	clone.NotAfter = cloneTime(c.NotAfter)
	clone.Certificate = c.Certificate.Clone()
	return &clone
}

// CrlEntry revokes a certificate, given either in full or by serial number
type CrlEntry struct {
	Certificate    *ArtifactFile `yaml:"certificate,omitempty" json:"certificate,omitempty" mapstructure:"certificate"`
	SerialNumber   string        `yaml:"serial_number,omitempty" json:"serial_number,omitempty" mapstructure:"serial_number"`
	RevocationTime *time.Time    `yaml:"revocation_time,omitempty" json:"revocation_time,omitempty" mapstructure:"revocation_time"`
	Reason         string        `yaml:"reason,omitempty" json:"reason,omitempty" mapstructure:"reason"`
}

func (e CrlEntry) Clone() CrlEntry {
	clone := e
	clone.Certificate = e.Certificate.Clone()
	clone.RevocationTime = cloneTime(e.RevocationTime)
	return clone
}

// CrlConfig issues a revocation list, continuing the numbering and the
// entries of Existing when given.
type CrlConfig struct {
	SchemaVersion string         `yaml:"schema_version,omitempty" json:"schema_version,omitempty" mapstructure:"schema_version"`
	Existing      *ArtifactFile  `yaml:"existing,omitempty" json:"existing,omitempty" mapstructure:"existing"`
	Issuer        *ArtifactFile  `yaml:"issuer,omitempty" json:"issuer,omitempty" mapstructure:"issuer"`
	IssuerKeyPair *KeyPairConfig `yaml:"issuer_key_pair,omitempty" json:"issuer_key_pair,omitempty" mapstructure:"issuer_key_pair"`
	Entries       []CrlEntry     `yaml:"entries,omitempty" json:"entries,omitempty" mapstructure:"entries"`
	Hash          string         `yaml:"hash,omitempty" json:"hash,omitempty" mapstructure:"hash"`
	ThisUpdate    *time.Time     `yaml:"this_update,omitempty" json:"this_update,omitempty" mapstructure:"this_update"`
	NextUpdate    *time.Time     `yaml:"next_update,omitempty" json:"next_update,omitempty" mapstructure:"next_update"`
	Crl           *ArtifactFile  `yaml:"crl,omitempty" json:"crl,omitempty" mapstructure:"crl"`
	Number        string         `yaml:"number,omitempty" json:"number,omitempty" mapstructure:"number"`
	Thumbprint    string         `yaml:"thumbprint,omitempty" json:"thumbprint,omitempty" mapstructure:"thumbprint"`
}

func (c *CrlConfig) Clone() *CrlConfig {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Existing = c.Existing.Clone()
	clone.Issuer = c.Issuer.Clone()
	clone.IssuerKeyPair = c.IssuerKeyPair.Clone()
	if c.Entries != nil {
		clone.Entries = make([]CrlEntry, len(c.Entries))
		for i, entry := range c.Entries {
			clone.Entries[i] = entry.Clone()
		}
	}
	clone.ThisUpdate = cloneTime(c.ThisUpdate)
	clone.NextUpdate = cloneTime(c.NextUpdate)
	clone.Crl = c.Crl.Clone()
	return &clone
}

// TransformEntry describes one entry of a consolidated store file
type TransformEntry struct {
	Kind          string `yaml:"kind" json:"kind" mapstructure:"kind"`
	Thumbprint    string `yaml:"thumbprint" json:"thumbprint" mapstructure:"thumbprint"`
	Subject       string `yaml:"subject,omitempty" json:"subject,omitempty" mapstructure:"subject"`
	HasPrivateKey bool   `yaml:"has_private_key,omitempty" json:"has_private_key,omitempty" mapstructure:"has_private_key"`
}

// TransformConfig converts a set of input files. Store mode consolidates
// them into Output; encode mode writes one file per artifact to Outputs;
// print mode fills Text; csr_config mode fills CsrConfig from the first
// certificate.
type TransformConfig struct {
	SchemaVersion string           `yaml:"schema_version,omitempty" json:"schema_version,omitempty" mapstructure:"schema_version"`
	Mode          TransformMode    `yaml:"mode" json:"mode" mapstructure:"mode"`
	Inputs        []*ArtifactFile  `yaml:"inputs,omitempty" json:"inputs,omitempty" mapstructure:"inputs"`
	StoreFormat   string           `yaml:"store_format,omitempty" json:"store_format,omitempty" mapstructure:"store_format"`
	Encoding      string           `yaml:"encoding,omitempty" json:"encoding,omitempty" mapstructure:"encoding"`
	PBE           *PBEConfig       `yaml:"pbe,omitempty" json:"pbe,omitempty" mapstructure:"pbe"`
	Output        *ArtifactFile    `yaml:"output,omitempty" json:"output,omitempty" mapstructure:"output"`
	Outputs       []*ArtifactFile  `yaml:"outputs,omitempty" json:"outputs,omitempty" mapstructure:"outputs"`
	Entries       []TransformEntry `yaml:"entries,omitempty" json:"entries,omitempty" mapstructure:"entries"`
	Text          string           `yaml:"text,omitempty" json:"text,omitempty" mapstructure:"text"`
	CsrConfig     *CsrConfig       `yaml:"csr_config,omitempty" json:"csr_config,omitempty" mapstructure:"csr_config"`
}

func (c *TransformConfig) Clone() *TransformConfig {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Inputs = cloneFiles(c.Inputs)
	clone.PBE = c.PBE.Clone()
	clone.Output = c.Output.Clone()
	clone.Outputs = cloneFiles(c.Outputs)
	clone.Entries = append([]TransformEntry(nil), c.Entries...)
	clone.CsrConfig = c.CsrConfig.Clone()
	return &clone
}

func (c *TransformConfig) ParseMode() (TransformMode, error) {
	mode := TransformMode(strings.ToLower(string(c.Mode)))
	switch mode {
	case TRANSFORM_STORE, TRANSFORM_ENCODE, TRANSFORM_PRINT, TRANSFORM_CSR_CONFIG:
		return mode, nil
	case "":
		return "", pki.Missing("mode")
	}
	return "", pki.NewUnsupportedError("transform mode", c.Mode)
}

func (c *TransformConfig) ParseStoreFormat() (string, error) {
	switch strings.ToLower(c.StoreFormat) {
	case "", STORE_FORMAT_PKCS12, "p12", "pfx":
		return STORE_FORMAT_PKCS12, nil
	case STORE_FORMAT_PEM:
		return STORE_FORMAT_PEM, nil
	}
	return "", pki.NewUnsupportedError("store format", c.StoreFormat)
}

// Parses a decimal or 0x prefixed hexadecimal serial number
func ParseSerialNumber(field, serial string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(serial), 0)
	if !ok || n.Sign() <= 0 {
		return nil, pki.NewInputError(field, fmt.Sprintf("invalid serial number %q", serial))
	}
	return n, nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	clone := *t
	return &clone
}
