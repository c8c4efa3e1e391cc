package model

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jeremyhahn/go-trusted-pki/pkg/pki"
	"github.com/jeremyhahn/go-trusted-pki/pkg/util"
	"github.com/spf13/afero"
)

type AliasType string

const (
	ALIAS_INDEX      AliasType = "index"
	ALIAS_THUMBPRINT AliasType = "thumbprint"
	ALIAS_SUBJECT    AliasType = "subject"
	ALIAS_ISSUER     AliasType = "issuer"
)

// Bytes serializes as base64 in both JSON and YAML documents
type Bytes []byte

func (b Bytes) MarshalYAML() (interface{}, error) {
	if len(b) == 0 {
		return "", nil
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func (b *Bytes) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return pki.NewInputError("data", fmt.Sprintf("invalid base64: %s", err))
	}
	*b = decoded
	return nil
}

// FileFormat is a format hint for an artifact file
type FileFormat struct {
	ContentKind string `yaml:"content_kind,omitempty" json:"content_kind,omitempty" mapstructure:"content_kind"`
	Encoding    string `yaml:"encoding,omitempty" json:"encoding,omitempty" mapstructure:"encoding"`
	CodePage    string `yaml:"code_page,omitempty" json:"code_page,omitempty" mapstructure:"code_page"`
}

// ArtifactFile references artifact bytes, either inline or by path.
// Inline data takes priority over the file name. Builders use the same
// slot type for outputs: produced bytes are always set on Data and also
// written to FileName when one is given.
type ArtifactFile struct {
	Data       Bytes       `yaml:"data,omitempty" json:"data,omitempty" mapstructure:"data"`
	FileName   string      `yaml:"file_name,omitempty" json:"file_name,omitempty" mapstructure:"file_name"`
	FileFormat *FileFormat `yaml:"file_format,omitempty" json:"file_format,omitempty" mapstructure:"file_format"`
	Password   string      `yaml:"password,omitempty" json:"password,omitempty" mapstructure:"password"`
	Alias      string      `yaml:"alias,omitempty" json:"alias,omitempty" mapstructure:"alias"`
	AliasType  AliasType   `yaml:"alias_type,omitempty" json:"alias_type,omitempty" mapstructure:"alias_type"`
}

// AliasView exposes the attributes an alias can match against
type AliasView struct {
	Index      int
	Thumbprint pki.Thumbprint
	Subject    string
	Issuer     string
}

// Returns true if the slot names any input at all
func (f *ArtifactFile) IsSet() bool {
	return f != nil && (len(f.Data) > 0 || f.FileName != "" || f.Alias != "")
}

// Returns true if inline bytes are present or the file exists
func (f *ArtifactFile) Exists(fs afero.Fs) bool {
	if f == nil {
		return false
	}
	return len(f.Data) > 0 || util.FileExists(fs, f.FileName)
}

// Returns the inline bytes, or the contents of the referenced file
func (f *ArtifactFile) Load(fs afero.Fs) ([]byte, error) {
	if f == nil {
		return nil, os.ErrNotExist
	}
	if len(f.Data) > 0 {
		return f.Data, nil
	}
	if f.FileName == "" {
		return nil, os.ErrNotExist
	}
	return afero.ReadFile(fs, f.FileName)
}

func (f *ArtifactFile) PasswordSource() pki.PasswordSource {
	if f == nil {
		return pki.NoPassword
	}
	return pki.Password(f.Password)
}

// Returns the requested encoding, PEM when unset
func (f *ArtifactFile) Encoding() (pki.Encoding, error) {
	if f == nil || f.FileFormat == nil {
		return pki.EncodingPEM, nil
	}
	return pki.ParseEncoding(f.FileFormat.Encoding)
}

func (f *ArtifactFile) CodePage() string {
	if f == nil || f.FileFormat == nil || f.FileFormat.CodePage == "" {
		return pki.DefaultCodePage
	}
	return f.FileFormat.CodePage
}

// Returns the content kind hint, or zero if none was given
func (f *ArtifactFile) ContentKind() (pki.Kind, error) {
	if f == nil || f.FileFormat == nil || f.FileFormat.ContentKind == "" {
		return 0, nil
	}
	return pki.ParseKind(f.FileFormat.ContentKind)
}

func (f *ArtifactFile) HasAlias() bool {
	return f != nil && f.Alias != ""
}

// Returns the alias type, inferring index for numeric aliases and
// thumbprint otherwise when no type is given.
func (f *ArtifactFile) ResolvedAliasType() AliasType {
	if f.AliasType != "" {
		return f.AliasType
	}
	if _, err := strconv.Atoi(f.Alias); err == nil {
		return ALIAS_INDEX
	}
	return ALIAS_THUMBPRINT
}

// Reports whether an artifact matches the alias. A slot without an alias
// matches everything.
func (f *ArtifactFile) MatchesAlias(view AliasView) (bool, error) {
	if !f.HasAlias() {
		return true, nil
	}
	switch f.ResolvedAliasType() {
	case ALIAS_INDEX:
		index, err := strconv.Atoi(f.Alias)
		if err != nil {
			return false, pki.NewInputError("alias", fmt.Sprintf("invalid index %q", f.Alias))
		}
		return index == view.Index, nil
	case ALIAS_THUMBPRINT:
		thumbprint, err := pki.ParseThumbprint(f.Alias)
		if err != nil {
			return false, err
		}
		return thumbprint == view.Thumbprint, nil
	case ALIAS_SUBJECT:
		return view.Subject != "" &&
			strings.Contains(strings.ToLower(view.Subject), strings.ToLower(f.Alias)), nil
	case ALIAS_ISSUER:
		return view.Issuer != "" &&
			strings.Contains(strings.ToLower(view.Issuer), strings.ToLower(f.Alias)), nil
	}
	return false, pki.NewUnsupportedError("alias type", f.AliasType)
}

func (f *ArtifactFile) Clone() *ArtifactFile {
	if f == nil {
		return nil
	}
	clone := *f
	if f.Data != nil {
		clone.Data = append(Bytes(nil), f.Data...)
	}
	if f.FileFormat != nil {
		format := *f.FileFormat
		clone.FileFormat = &format
	}
	return &clone
}

// Returns an output slot named after an input, swapping the extension for
// the given encoding. Inputs without a file name produce a data-only slot.
func (f *ArtifactFile) Derive(encoding pki.Encoding, suffix string) *ArtifactFile {
	out := &ArtifactFile{FileFormat: &FileFormat{Encoding: encoding.String()}}
	if f == nil {
		return out
	}
	if f.FileFormat != nil {
		out.FileFormat.CodePage = f.FileFormat.CodePage
	}
	if f.FileName != "" {
		base, _ := util.FileName(f.FileName)
		out.FileName = filepath.Join(
			filepath.Dir(f.FileName), fmt.Sprintf("%s%s.%s", base, suffix, encoding))
	}
	return out
}

func cloneFiles(files []*ArtifactFile) []*ArtifactFile {
	if files == nil {
		return nil
	}
	clone := make([]*ArtifactFile, len(files))
	for i, f := range files {
		clone[i] = f.Clone()
	}
	return clone
}
