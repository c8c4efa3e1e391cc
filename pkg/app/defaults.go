package app

import (
	"strings"

	"github.com/jeremyhahn/go-trusted-pki/pkg/model"
	"github.com/jeremyhahn/go-trusted-pki/pkg/pki"
)

// Defaults fill the fields a request document leaves empty. Values set in
// the document always win.
type Defaults struct {
	KeyAlgorithm  string `yaml:"key-algorithm" json:"key_algorithm" mapstructure:"key-algorithm"`
	RSAKeySize    int    `yaml:"rsa-key-size" json:"rsa_key_size" mapstructure:"rsa-key-size"`
	Curve         string `yaml:"curve" json:"curve" mapstructure:"curve"`
	Hash          string `yaml:"hash" json:"hash" mapstructure:"hash"`
	PBEIterations int    `yaml:"pbe-iterations" json:"pbe_iterations" mapstructure:"pbe-iterations"`
}

func (d *Defaults) KeyPair(c *model.KeyPairConfig) {
	if c == nil {
		return
	}
	if c.Algorithm == "" && c.KeySize == 0 && c.Curve == "" {
		c.Algorithm = d.KeyAlgorithm
	}
	algorithm, err := pki.ParseKeyAlgorithm(c.Algorithm)
	if c.Algorithm == "" || (err == nil && algorithm == pki.KeyAlgorithmRSA) {
		if c.KeySize == 0 {
			c.KeySize = d.RSAKeySize
		}
	}
	if err == nil && algorithm == pki.KeyAlgorithmECDSA && c.Curve == "" {
		c.Curve = d.Curve
	}
	if d.PBEIterations > 0 {
		if c.PBE == nil {
			c.PBE = &model.PBEConfig{}
		}
		if c.PBE.Iterations == 0 {
			c.PBE.Iterations = d.PBEIterations
		}
	}
}

func (d *Defaults) Csr(c *model.CsrConfig) {
	if c == nil {
		return
	}
	if c.KeyPair == nil {
		c.KeyPair = &model.KeyPairConfig{}
	}
	d.KeyPair(c.KeyPair)
	c.Hash = d.hash(c.Hash)
}

func (d *Defaults) Cert(c *model.CertConfig) {
	if c == nil {
		return
	}
	// An existing request may be signed without its key
	if c.Csr != nil && c.Csr.KeyPair == nil && c.Csr.Csr.IsSet() {
		c.Csr.Hash = d.hash(c.Csr.Hash)
	} else {
		d.Csr(c.Csr)
	}
	d.KeyPair(c.IssuerKeyPair)
	c.Hash = d.hash(c.Hash)
}

// CRLs inherit the hash of an existing list, so the default only applies
// to a fresh one.
func (d *Defaults) Crl(c *model.CrlConfig) {
	if c == nil {
		return
	}
	if !c.Existing.IsSet() {
		c.Hash = d.hash(c.Hash)
	}
}

func (d *Defaults) Transform(c *model.TransformConfig) {
	if c == nil || d.PBEIterations == 0 {
		return
	}
	if c.PBE == nil {
		c.PBE = &model.PBEConfig{}
	}
	if c.PBE.Iterations == 0 {
		c.PBE.Iterations = d.PBEIterations
	}
}

func (d *Defaults) hash(hash string) string {
	if strings.TrimSpace(hash) != "" {
		return hash
	}
	return d.Hash
}
