package builder

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"time"

	"github.com/jeremyhahn/go-trusted-pki/pkg/model"
	"github.com/jeremyhahn/go-trusted-pki/pkg/pki"
)

// KeyPairBuilder loads or generates a private key and exports it along
// with its public key.
type KeyPairBuilder struct {
	*builder
}

func NewKeyPairBuilder(params *Params) *KeyPairBuilder {
	return &KeyPairBuilder{builder: newBuilder(params)}
}

func (kb *KeyPairBuilder) Build(config *model.KeyPairConfig) (*model.KeyPairConfig, error) {
	c, _, err := kb.BuildKeyPair(config)
	return c, err
}

// Loads the private key when its slot exists, generates one otherwise,
// and returns the enriched config along with the decoded key pair. A
// loaded key is not rewritten; its slot only receives the loaded bytes.
func (kb *KeyPairBuilder) BuildKeyPair(config *model.KeyPairConfig) (c *model.KeyPairConfig, kp *pki.KeyPair, err error) {
	defer kb.observe(BUILDER_KEYPAIR, time.Now(), &err)

	c = config.Clone()
	if c == nil {
		c = &model.KeyPairConfig{}
	}
	if c.SchemaVersion == "" {
		c.SchemaVersion = model.SCHEMA_VERSION
	}

	loaded := c.PrivateKey.Exists(kb.params.Fs)
	if loaded {
		kp, err = kb.loadKeyPair("private key", c.PrivateKey)
		if err != nil {
			return nil, nil, err
		}
		if len(c.PrivateKey.Data) == 0 {
			data, err := c.PrivateKey.Load(kb.params.Fs)
			if err != nil {
				return nil, nil, err
			}
			c.PrivateKey.Data = data
		}
	} else {
		kp, err = kb.generate(c)
		if err != nil {
			return nil, nil, err
		}
	}
	describe(c, kp)

	if !loaded {
		c.PrivateKey = outputSlot(c.PrivateKey)
		encoding, err := c.PrivateKey.Encoding()
		if err != nil {
			return nil, nil, err
		}
		pbe, err := c.PBE.Options()
		if err != nil {
			return nil, nil, err
		}
		password := pki.PasswordFrom(c.PrivateKey.PasswordSource())
		data, err := pki.MarshalPrivateKey(kp.PrivateKey, encoding, password, pbe)
		if err != nil {
			return nil, nil, err
		}
		if err := kb.write(c.PrivateKey, data, encoding == pki.EncodingPEM); err != nil {
			return nil, nil, err
		}
	}

	c.PublicKey = outputSlot(c.PublicKey)
	encoding, err := c.PublicKey.Encoding()
	if err != nil {
		return nil, nil, err
	}
	data, err := pki.EncodePublicKey(kp.PublicKey, encoding)
	if err != nil {
		return nil, nil, err
	}
	if err := kb.write(c.PublicKey, data, encoding == pki.EncodingPEM); err != nil {
		return nil, nil, err
	}

	c.Thumbprint = kp.Thumbprint().String()
	if err := kb.persist(&pki.Artifact{Kind: pki.KindKeyPair, KeyPair: kp}); err != nil {
		return nil, nil, err
	}
	if !loaded {
		kb.issued(BUILDER_KEYPAIR, pki.KindKeyPair, kp.Thumbprint(), "", "", "")
	}
	kb.params.Logger.Info("builder/keypair: key pair ready",
		"algorithm", kp.Algorithm,
		"thumbprint", c.Thumbprint,
		"loaded", loaded)
	return c, kp, nil
}

func (kb *KeyPairBuilder) generate(c *model.KeyPairConfig) (*pki.KeyPair, error) {
	opts, err := c.KeyGenOptions()
	if err != nil {
		return nil, err
	}
	kb.params.Logger.Debug("builder/keypair: generating key",
		"algorithm", opts.Algorithm, "size", opts.KeySize)
	key, err := pki.GenerateKey(kb.params.Random, opts)
	if err != nil {
		return nil, err
	}
	return pki.NewKeyPair(key)
}

// Propagates the algorithm and parameters of the key into the config
func describe(c *model.KeyPairConfig, kp *pki.KeyPair) {
	c.Algorithm = kp.Algorithm.String()
	switch pub := kp.PublicKey.(type) {
	case *rsa.PublicKey:
		c.KeySize = pub.N.BitLen()
		c.Curve = ""
	case *ecdsa.PublicKey:
		c.KeySize = 0
		c.Curve = pub.Curve.Params().Name
	default:
		c.KeySize = 0
		c.Curve = ""
	}
}
