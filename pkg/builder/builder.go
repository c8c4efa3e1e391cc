package builder

import (
	"crypto/rand"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jeremyhahn/go-trusted-pki/pkg/logging"
	"github.com/jeremyhahn/go-trusted-pki/pkg/metrics"
	"github.com/jeremyhahn/go-trusted-pki/pkg/model"
	"github.com/jeremyhahn/go-trusted-pki/pkg/pki"
	"github.com/jeremyhahn/go-trusted-pki/pkg/pki/reader"
	"github.com/jeremyhahn/go-trusted-pki/pkg/store/certstore"
	"github.com/jeremyhahn/go-trusted-pki/pkg/util"
	"github.com/spf13/afero"
)

const (
	BUILDER_KEYPAIR   = "keypair"
	BUILDER_CSR       = "csr"
	BUILDER_CERT      = "cert"
	BUILDER_CRL       = "crl"
	BUILDER_TRANSFORM = "transform"

	// Output files may hold private keys
	OUTPUT_FILE_PERM = 0600

	DefaultCRLValidity = 7 * 24 * time.Hour
)

// Largest time representable as an X.509 GeneralizedTime
var MaxNotAfter = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

// Params holds the collaborators shared by every builder. Only Logger is
// required; the remaining fields fall back to the OS file system, the
// system random source and the wall clock. When Store is set, every
// artifact produced is also imported into it, and issuer certificates
// and keys may be resolved from it by thumbprint.
type Params struct {
	Logger  *logging.Logger
	Fs      afero.Fs
	Random  io.Reader
	Clock   func() time.Time
	Metrics *metrics.Metrics
	Store   certstore.Store
}

type builder struct {
	params *Params
	reader *reader.Reader
}

func newBuilder(params *Params) *builder {
	p := Params{}
	if params != nil {
		p = *params
	}
	if p.Logger == nil {
		p.Logger = logging.DefaultLogger()
	}
	if p.Fs == nil {
		p.Fs = afero.NewOsFs()
	}
	if p.Random == nil {
		p.Random = rand.Reader
	}
	if p.Clock == nil {
		p.Clock = time.Now
	}
	return &builder{
		params: &p,
		reader: reader.NewReader(p.Logger),
	}
}

func (b *builder) now() time.Time {
	return b.params.Clock().UTC()
}

// Records the build outcome. Intended to be deferred with a named error.
func (b *builder) observe(name string, start time.Time, err *error) {
	b.params.Metrics.ObserveBuild(name, start, *err)
	if *err != nil {
		b.params.Logger.Errorf("builder/%s: %s", name, *err)
	}
}

func (b *builder) issued(name string, kind pki.Kind, thumbprint pki.Thumbprint, subject, issuer, serial string) {
	b.params.Logger.Issuance(logging.IssuanceLogEntry{
		Timestamp:  b.now(),
		Builder:    name,
		Kind:       kind.String(),
		Thumbprint: thumbprint.String(),
		Subject:    subject,
		Issuer:     issuer,
		Serial:     serial,
	})
}

// Sets the produced bytes on the output slot and writes them to the
// slot's file when one is named. Text output is transcoded to the
// slot's code page first.
func (b *builder) write(slot *model.ArtifactFile, data []byte, text bool) error {
	if text {
		encoded, err := pki.EncodeText(data, slot.CodePage())
		if err != nil {
			return err
		}
		data = encoded
	}
	slot.Data = data
	if slot.FileName == "" {
		return nil
	}
	if err := util.WriteFile(b.params.Fs, slot.FileName, data, OUTPUT_FILE_PERM); err != nil {
		return err
	}
	b.params.Logger.Debug("builder: wrote output", "file", slot.FileName, "bytes", len(data))
	return nil
}

// Returns the slot, allocating it when nil
func outputSlot(slot *model.ArtifactFile) *model.ArtifactFile {
	if slot == nil {
		return &model.ArtifactFile{}
	}
	return slot
}

// Reads every artifact held by the slot, restricted to its content kind
// hint when one is given.
func (b *builder) read(field string, slot *model.ArtifactFile) ([]*pki.Artifact, error) {
	data, err := slot.Load(b.params.Fs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &pki.InputError{Field: field, Message: "not found", Err: err}
		}
		return nil, err
	}
	artifacts, err := b.reader.WithCodePage(slot.CodePage()).
		ReadAll(field, data, slot.PasswordSource())
	if err != nil {
		return nil, err
	}
	kind, err := slot.ContentKind()
	if err != nil {
		return nil, err
	}
	if kind == 0 {
		return artifacts, nil
	}
	filtered := make([]*pki.Artifact, 0, len(artifacts))
	for _, artifact := range artifacts {
		if artifact.Kind == kind {
			filtered = append(filtered, artifact)
		}
	}
	return filtered, nil
}

func aliasView(index int, artifact *pki.Artifact) model.AliasView {
	view := model.AliasView{Index: index, Thumbprint: artifact.Thumbprint()}
	switch artifact.Kind {
	case pki.KindCertificate:
		view.Subject = artifact.Certificate.Certificate.Subject.String()
		view.Issuer = artifact.Certificate.Certificate.Issuer.String()
	case pki.KindRevocationList:
		view.Issuer = artifact.RevocationList.RevocationList.Issuer.String()
	case pki.KindSigningRequest:
		view.Subject = artifact.SigningRequest.CertificateRequest.Subject.String()
	}
	return view
}

// Returns the artifacts the slot alias selects. Indexes count artifacts
// of the same kind in the order they were read.
func selectArtifacts(slot *model.ArtifactFile, artifacts []*pki.Artifact) ([]*pki.Artifact, error) {
	if !slot.HasAlias() {
		return artifacts, nil
	}
	selected := make([]*pki.Artifact, 0, 1)
	indexes := make(map[pki.Kind]int)
	for _, artifact := range artifacts {
		index := indexes[artifact.Kind]
		indexes[artifact.Kind]++
		ok, err := slot.MatchesAlias(aliasView(index, artifact))
		if err != nil {
			return nil, err
		}
		if ok {
			selected = append(selected, artifact)
		}
	}
	return selected, nil
}

// Returns the first artifact of the given kind selected by the slot
func (b *builder) load(field string, slot *model.ArtifactFile, kind pki.Kind) (*pki.Artifact, []*pki.Artifact, error) {
	if !slot.IsSet() {
		return nil, nil, pki.Missing(field)
	}
	artifacts, err := b.read(field, slot)
	if err != nil {
		return nil, nil, err
	}
	selected, err := selectArtifacts(slot, artifacts)
	if err != nil {
		return nil, nil, err
	}
	for _, artifact := range selected {
		if artifact.Kind == kind {
			return artifact, artifacts, nil
		}
	}
	message := fmt.Sprintf("no %s found", kind)
	if slot.HasAlias() {
		message = fmt.Sprintf("no %s matches alias %q", kind, slot.Alias)
	}
	return nil, nil, pki.NewInputError(field, message)
}

// Returns true if the slot holds no bytes but names a thumbprint that
// can be resolved from the store.
func (b *builder) fromStore(slot *model.ArtifactFile) bool {
	return b.params.Store != nil &&
		slot != nil &&
		len(slot.Data) == 0 &&
		slot.FileName == "" &&
		slot.HasAlias() &&
		slot.ResolvedAliasType() == model.ALIAS_THUMBPRINT
}

// Loads a certificate, joined with a matching private key from the same
// input when one is present.
func (b *builder) loadCertificate(field string, slot *model.ArtifactFile) (*pki.Certificate, error) {
	if b.fromStore(slot) {
		thumbprint, err := pki.ParseThumbprint(slot.Alias)
		if err != nil {
			return nil, err
		}
		cert, err := b.params.Store.Certificate(thumbprint)
		if err != nil {
			return nil, err
		}
		if cert == nil {
			return nil, pki.NewInputError(field,
				fmt.Sprintf("certificate %s not found in store", slot.Alias))
		}
		return cert, nil
	}
	artifact, all, err := b.load(field, slot, pki.KindCertificate)
	if err != nil {
		return nil, err
	}
	cert := artifact.Certificate
	for _, other := range all {
		if other.Kind == pki.KindKeyPair && other.KeyPair.Matches(cert.Certificate) {
			return cert.WithPrivateKey(other.KeyPair.PrivateKey), nil
		}
	}
	return cert, nil
}

func (b *builder) loadKeyPair(field string, slot *model.ArtifactFile) (*pki.KeyPair, error) {
	artifact, _, err := b.load(field, slot, pki.KindKeyPair)
	if err != nil {
		return nil, err
	}
	return artifact.KeyPair, nil
}

func (b *builder) loadCSR(field string, slot *model.ArtifactFile) (*pki.SigningRequest, error) {
	artifact, _, err := b.load(field, slot, pki.KindSigningRequest)
	if err != nil {
		return nil, err
	}
	return artifact.SigningRequest, nil
}

func (b *builder) loadCRL(field string, slot *model.ArtifactFile) (*pki.RevocationList, error) {
	artifact, _, err := b.load(field, slot, pki.KindRevocationList)
	if err != nil {
		return nil, err
	}
	return artifact.RevocationList, nil
}

// Resolves the issuer certificate and its signing key. The key is taken,
// in order, from the issuer input itself, the detached issuer key pair,
// then the store.
func (b *builder) loadIssuer(issuer *model.ArtifactFile, keyPair *model.KeyPairConfig) (*pki.Certificate, error) {
	cert, err := b.loadCertificate("issuer", issuer)
	if err != nil {
		return nil, err
	}
	if cert.HasPrivateKey() {
		return cert, nil
	}
	if keyPair != nil && keyPair.PrivateKey.Exists(b.params.Fs) {
		kp, err := b.loadKeyPair("issuer private key", keyPair.PrivateKey)
		if err != nil {
			return nil, err
		}
		if !kp.Matches(cert.Certificate) {
			return nil, &pki.InputError{
				Field:   "issuer private key",
				Message: "does not match the issuer certificate",
				Err:     pki.ErrKeyMismatch,
			}
		}
		return cert.WithPrivateKey(kp.PrivateKey), nil
	}
	if b.params.Store != nil {
		kp, err := b.params.Store.KeyPair(cert.KeyThumbprint())
		if err != nil {
			return nil, err
		}
		if kp != nil {
			b.params.Logger.Debug("builder: issuer key resolved from store",
				"thumbprint", cert.KeyThumbprint())
			return cert.WithPrivateKey(kp.PrivateKey), nil
		}
	}
	return nil, &pki.InputError{
		Field:   "issuer private key",
		Message: "not found",
		Err:     pki.ErrIssuerKeyNotFound,
	}
}

// Parses the configured hash, falling back to the given default
func parseHash(name string, fallback func() (string, bool)) (string, error) {
	if name == "" && fallback != nil {
		if inherited, ok := fallback(); ok {
			name = inherited
		}
	}
	hash, err := pki.ParseHash(name)
	if err != nil {
		return "", err
	}
	return pki.HashName(hash), nil
}

// Merges extensions into a base set. With MERGE_REPLACE an extension
// replaces a base extension sharing its OID; with MERGE_ADD_IF_ABSENT it
// is only added when the OID is not already present.
func mergeExtensions(base, extensions []pkix.Extension, policy model.MergePolicy) []pkix.Extension {
	merged := make([]pkix.Extension, len(base), len(base)+len(extensions))
	copy(merged, base)
	for _, ext := range extensions {
		i := pki.FindExtension(merged, ext.Id)
		switch {
		case i < 0:
			merged = append(merged, ext)
		case policy == model.MERGE_REPLACE:
			merged[i] = ext
		}
	}
	return merged
}

// Imports a produced artifact into the configured store
func (b *builder) persist(artifact *pki.Artifact) error {
	store := b.params.Store
	if store == nil {
		return nil
	}
	switch artifact.Kind {
	case pki.KindCertificate:
		return store.ImportCertificate(artifact.Certificate)
	case pki.KindKeyPair:
		return store.ImportKeyPair(artifact.KeyPair)
	case pki.KindRevocationList:
		return store.ImportCRL(artifact.RevocationList)
	case pki.KindSigningRequest:
		return store.ImportCSR(artifact.SigningRequest)
	}
	return nil
}
