package builder

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"sort"
	"time"

	"github.com/jeremyhahn/go-trusted-pki/pkg/model"
	"github.com/jeremyhahn/go-trusted-pki/pkg/pki"
	"github.com/jeremyhahn/go-trusted-pki/pkg/store/certstore"
	"gopkg.in/yaml.v2"
	"software.sslmate.com/src/go-pkcs12"
)

// TransformBuilder converts sets of input files: consolidating them into
// one store file, re-encoding each artifact, printing them, or deriving a
// signing request config from a certificate.
type TransformBuilder struct {
	*builder
}

func NewTransformBuilder(params *Params) *TransformBuilder {
	return &TransformBuilder{builder: newBuilder(params)}
}

func (tb *TransformBuilder) Build(config *model.TransformConfig) (c *model.TransformConfig, err error) {
	defer tb.observe(BUILDER_TRANSFORM, time.Now(), &err)

	c = config.Clone()
	if c == nil {
		c = &model.TransformConfig{}
	}
	if c.SchemaVersion == "" {
		c.SchemaVersion = model.SCHEMA_VERSION
	}
	mode, err := c.ParseMode()
	if err != nil {
		return nil, err
	}
	c.Mode = mode
	if len(c.Inputs) == 0 {
		return nil, pki.Missing("inputs")
	}

	switch mode {
	case model.TRANSFORM_STORE:
		err = tb.consolidate(c)
	case model.TRANSFORM_ENCODE:
		err = tb.encode(c)
	case model.TRANSFORM_PRINT:
		err = tb.printText(c)
	case model.TRANSFORM_CSR_CONFIG:
		err = tb.csrConfig(c)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Reads each input, keeping only the artifacts its alias selects
func (tb *TransformBuilder) readInputs(c *model.TransformConfig) ([][]*pki.Artifact, error) {
	inputs := make([][]*pki.Artifact, len(c.Inputs))
	for i, input := range c.Inputs {
		field := fmt.Sprintf("inputs[%d]", i)
		if !input.IsSet() {
			return nil, pki.Missing(field)
		}
		artifacts, err := tb.read(field, input)
		if err != nil {
			return nil, err
		}
		if inputs[i], err = selectArtifacts(input, artifacts); err != nil {
			return nil, err
		}
	}
	return inputs, nil
}

// consolidated is the reconciled content of a store file
type consolidated struct {
	certs []*pki.Certificate
	keys  []*pki.KeyPair
	crls  []*pki.RevocationList
	csrs  []*pki.SigningRequest
}

// Loads the inputs into a memory store, which removes duplicates, then
// pairs certificates lacking a private key with a standalone key holding
// the same public key. A standalone key is dropped only once it has been
// merged into a certificate.
func (tb *TransformBuilder) reconcile(inputs [][]*pki.Artifact) (*consolidated, error) {
	store := certstore.NewMemoryStore(tb.params.Logger, tb.params.Metrics)
	for _, artifacts := range inputs {
		for _, artifact := range artifacts {
			var err error
			switch artifact.Kind {
			case pki.KindCertificate:
				err = store.ImportCertificate(artifact.Certificate)
			case pki.KindKeyPair:
				err = store.ImportKeyPair(artifact.KeyPair)
			case pki.KindRevocationList:
				err = store.ImportCRL(artifact.RevocationList)
			case pki.KindSigningRequest:
				err = store.ImportCSR(artifact.SigningRequest)
			}
			if err != nil {
				return nil, err
			}
		}
	}

	certs, err := store.Certificates()
	if err != nil {
		return nil, err
	}
	keys, err := store.KeyPairs()
	if err != nil {
		return nil, err
	}
	merged := make(map[pki.Thumbprint]bool, len(keys))
	for i, cert := range certs {
		for _, kp := range keys {
			if !kp.Matches(cert.Certificate) {
				continue
			}
			if !cert.HasPrivateKey() {
				certs[i] = cert.WithPrivateKey(kp.PrivateKey)
			}
			merged[kp.Thumbprint()] = true
			tb.params.Logger.Debug("builder/transform: merged key into certificate",
				"certificate", cert.Thumbprint(), "key", kp.Thumbprint())
			break
		}
	}
	for _, tp := range sortedThumbprints(merged) {
		if _, err := store.DeleteKeyPair(tp); err != nil {
			return nil, err
		}
	}

	result := &consolidated{certs: certs}
	if result.keys, err = store.KeyPairs(); err != nil {
		return nil, err
	}
	if result.crls, err = store.CRLs(); err != nil {
		return nil, err
	}
	if result.csrs, err = store.CSRs(); err != nil {
		return nil, err
	}
	return result, nil
}

func (tb *TransformBuilder) consolidate(c *model.TransformConfig) error {
	format, err := c.ParseStoreFormat()
	if err != nil {
		return err
	}
	c.StoreFormat = format
	inputs, err := tb.readInputs(c)
	if err != nil {
		return err
	}
	content, err := tb.reconcile(inputs)
	if err != nil {
		return err
	}
	c.Output = outputSlot(c.Output)

	var data []byte
	switch format {
	case model.STORE_FORMAT_PKCS12:
		data, err = tb.encodePKCS12(c.Output.Password, content)
		if err != nil {
			return err
		}
		if err := tb.write(c.Output, data, false); err != nil {
			return err
		}
	case model.STORE_FORMAT_PEM:
		data, err = tb.encodePEM(c, content)
		if err != nil {
			return err
		}
		if err := tb.write(c.Output, data, true); err != nil {
			return err
		}
	}

	c.Entries = make([]model.TransformEntry, 0)
	for _, cert := range content.certs {
		c.Entries = append(c.Entries, model.TransformEntry{
			Kind:          pki.KindCertificate.String(),
			Thumbprint:    cert.Thumbprint().String(),
			Subject:       cert.Certificate.Subject.String(),
			HasPrivateKey: cert.HasPrivateKey(),
		})
	}
	for _, kp := range content.keys {
		c.Entries = append(c.Entries, model.TransformEntry{
			Kind:          pki.KindKeyPair.String(),
			Thumbprint:    kp.Thumbprint().String(),
			HasPrivateKey: true,
		})
	}
	if format == model.STORE_FORMAT_PEM {
		for _, crl := range content.crls {
			c.Entries = append(c.Entries, model.TransformEntry{
				Kind:       pki.KindRevocationList.String(),
				Thumbprint: crl.Thumbprint().String(),
				Subject:    crl.RevocationList.Issuer.String(),
			})
		}
		for _, csr := range content.csrs {
			c.Entries = append(c.Entries, model.TransformEntry{
				Kind:       pki.KindSigningRequest.String(),
				Thumbprint: csr.Thumbprint().String(),
				Subject:    csr.CertificateRequest.Subject.String(),
			})
		}
	}
	tb.params.Logger.Info("builder/transform: store consolidated",
		"format", format, "entries", len(c.Entries))
	return nil
}

// PKCS #12 carries at most one private key, which must belong to one of
// the certificates. Without keys a trust store is written.
func (tb *TransformBuilder) encodePKCS12(password string, content *consolidated) ([]byte, error) {
	if len(content.crls) > 0 || len(content.csrs) > 0 {
		tb.params.Logger.Warn("builder/transform: revocation lists and signing requests are not carried by PKCS #12",
			"crls", len(content.crls), "csrs", len(content.csrs))
	}
	if len(content.keys) > 0 {
		return nil, pki.NewUnsupportedError("pkcs12 content",
			fmt.Sprintf("%d private key(s) without a certificate", len(content.keys)))
	}
	var leaf *pki.Certificate
	others := make([]*x509.Certificate, 0, len(content.certs))
	for _, cert := range content.certs {
		if !cert.HasPrivateKey() {
			others = append(others, cert.Certificate)
			continue
		}
		if leaf != nil {
			return nil, pki.NewUnsupportedError("pkcs12 content", "more than one private key")
		}
		leaf = cert
	}
	if leaf == nil {
		if len(others) == 0 {
			return nil, pki.NewInputError("inputs", "no certificates to store")
		}
		return pkcs12.Modern.EncodeTrustStore(others, password)
	}
	return pkcs12.Modern.Encode(leaf.PrivateKey, leaf.Certificate, others, password)
}

// Writes each certificate followed by its private key, then standalone
// keys, revocation lists and signing requests.
func (tb *TransformBuilder) encodePEM(c *model.TransformConfig, content *consolidated) ([]byte, error) {
	pbe, err := c.PBE.Options()
	if err != nil {
		return nil, err
	}
	password := pki.PasswordFrom(c.Output.PasswordSource())
	var buf bytes.Buffer
	for _, cert := range content.certs {
		buf.Write(pki.EncodeCertificate(cert.Certificate, pki.EncodingPEM))
		if !cert.HasPrivateKey() {
			continue
		}
		key, err := pki.MarshalPrivateKey(cert.PrivateKey, pki.EncodingPEM, password, pbe)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
	}
	for _, kp := range content.keys {
		key, err := pki.MarshalPrivateKey(kp.PrivateKey, pki.EncodingPEM, password, pbe)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
	}
	for _, crl := range content.crls {
		buf.Write(pki.EncodeCRL(crl.RevocationList, pki.EncodingPEM))
	}
	for _, csr := range content.csrs {
		buf.Write(pki.EncodeCSR(csr.CertificateRequest, pki.EncodingPEM))
	}
	return buf.Bytes(), nil
}

// Writes one output per artifact. Outputs given in the config are used
// in order; the rest are named after their input.
func (tb *TransformBuilder) encode(c *model.TransformConfig) error {
	encoding, err := pki.ParseEncoding(c.Encoding)
	if err != nil {
		return err
	}
	c.Encoding = encoding.String()
	pbe, err := c.PBE.Options()
	if err != nil {
		return err
	}
	inputs, err := tb.readInputs(c)
	if err != nil {
		return err
	}

	outputs := make([]*model.ArtifactFile, 0)
	for i, artifacts := range inputs {
		for j, artifact := range artifacts {
			var out *model.ArtifactFile
			if n := len(outputs); n < len(c.Outputs) && c.Outputs[n] != nil {
				out = c.Outputs[n]
				if out.FileFormat == nil {
					out.FileFormat = &model.FileFormat{Encoding: encoding.String()}
				}
			} else {
				suffix := ""
				if len(artifacts) > 1 {
					suffix = fmt.Sprintf("_%d", j)
				}
				out = c.Inputs[i].Derive(encoding, suffix)
			}
			outEncoding, err := out.Encoding()
			if err != nil {
				return err
			}
			data, err := encodeArtifact(artifact, outEncoding, pki.PasswordFrom(out.PasswordSource()), pbe)
			if err != nil {
				return err
			}
			if err := tb.write(out, data, outEncoding == pki.EncodingPEM); err != nil {
				return err
			}
			outputs = append(outputs, out)
		}
	}
	c.Outputs = outputs
	tb.params.Logger.Info("builder/transform: artifacts encoded",
		"encoding", encoding, "outputs", len(outputs))
	return nil
}

func encodeArtifact(artifact *pki.Artifact, encoding pki.Encoding, password []byte, pbe *pki.PBEOptions) ([]byte, error) {
	switch artifact.Kind {
	case pki.KindCertificate:
		return pki.EncodeCertificate(artifact.Certificate.Certificate, encoding), nil
	case pki.KindKeyPair:
		return pki.MarshalPrivateKey(artifact.KeyPair.PrivateKey, encoding, password, pbe)
	case pki.KindRevocationList:
		return pki.EncodeCRL(artifact.RevocationList.RevocationList, encoding), nil
	case pki.KindSigningRequest:
		return pki.EncodeCSR(artifact.SigningRequest.CertificateRequest, encoding), nil
	}
	return nil, pki.NewUnsupportedError("artifact kind", artifact.Kind)
}

// Renders every artifact as plain text into Text, and into Output when
// one is given.
func (tb *TransformBuilder) printText(c *model.TransformConfig) error {
	inputs, err := tb.readInputs(c)
	if err != nil {
		return err
	}
	items := make([]model.Printable, 0)
	for _, artifacts := range inputs {
		for _, artifact := range artifacts {
			items = append(items, model.NewInfo(artifact))
		}
	}
	var buf bytes.Buffer
	if err := model.NewPrinter(false).Print(&buf, items...); err != nil {
		return err
	}
	c.Text = buf.String()
	if c.Output != nil {
		return tb.write(c.Output, buf.Bytes(), true)
	}
	return nil
}

// Describes the first certificate as a signing request config that
// reproduces its subject, extensions, hash and key parameters.
func (tb *TransformBuilder) csrConfig(c *model.TransformConfig) error {
	inputs, err := tb.readInputs(c)
	if err != nil {
		return err
	}
	var cert *x509.Certificate
	for _, artifacts := range inputs {
		for _, artifact := range artifacts {
			if artifact.Kind == pki.KindCertificate {
				cert = artifact.Certificate.Certificate
				break
			}
		}
		if cert != nil {
			break
		}
	}
	if cert == nil {
		return pki.NewInputError("inputs", "no certificate found")
	}

	algo, err := pki.KeyAlgorithmOf(cert.PublicKey)
	if err != nil {
		return err
	}
	keyPair := &model.KeyPairConfig{
		SchemaVersion: model.SCHEMA_VERSION,
		Algorithm:     algo.String(),
	}
	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		keyPair.KeySize = pub.N.BitLen()
	case *ecdsa.PublicKey:
		keyPair.Curve = pub.Curve.Params().Name
	}
	c.CsrConfig = &model.CsrConfig{
		SchemaVersion: model.SCHEMA_VERSION,
		KeyPair:       keyPair,
		Subject:       model.SubjectFromName(cert.Subject),
		Extensions:    model.ExtensionsFromCertificate(cert),
		Hash:          model.SignatureHashName(cert.SignatureAlgorithm),
	}
	if c.Output == nil {
		return nil
	}
	data, err := yaml.Marshal(c.CsrConfig)
	if err != nil {
		return err
	}
	return tb.write(c.Output, data, true)
}

func sortedThumbprints(set map[pki.Thumbprint]bool) []pki.Thumbprint {
	thumbprints := make([]pki.Thumbprint, 0, len(set))
	for tp := range set {
		thumbprints = append(thumbprints, tp)
	}
	sort.Slice(thumbprints, func(i, j int) bool {
		return thumbprints[i] < thumbprints[j]
	})
	return thumbprints
}
