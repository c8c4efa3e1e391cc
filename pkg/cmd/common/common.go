package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/jeremyhahn/go-trusted-pki/pkg/pki"
	"github.com/jeremyhahn/go-trusted-pki/pkg/util"
	"github.com/spf13/afero"
	"golang.org/x/term"
	"gopkg.in/yaml.v2"
)

const (
	FORMAT_YAML = "yaml"
	FORMAT_JSON = "json"

	// Reads the request document from standard input
	STDIN = "-"
)

func PrintBanner(w io.Writer, version string) {
	color.New(color.FgGreen).Fprintf(w, "Trusted PKI v%s\n\n", version)
}

// Reads a password from the terminal without echo. Returns false when
// standard input is not a terminal.
func ReadPassword(prompt string) ([]byte, bool) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, false
	}
	fmt.Fprintf(os.Stderr, "%s> ", prompt)
	data, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, false
	}
	return data, len(data) > 0
}

// Password source backed by the terminal prompt
func PasswordPrompt(prompt string) pki.PasswordSource {
	return pki.PasswordFunc(func() ([]byte, bool) {
		return ReadPassword(prompt)
	})
}

// Returns the document format implied by a file name: JSON for .json,
// YAML otherwise.
func FormatOf(fileName string) string {
	if strings.EqualFold(filepath.Ext(fileName), ".json") {
		return FORMAT_JSON
	}
	return FORMAT_YAML
}

// Decodes a YAML or JSON request document from a file or, given "-",
// from the reader.
func ReadDocument(fs afero.Fs, stdin io.Reader, fileName string, v any) error {
	if fileName == "" {
		return pki.Missing("config")
	}
	var (
		data []byte
		err  error
	)
	if fileName == STDIN {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = afero.ReadFile(fs, fileName)
	}
	if err != nil {
		return err
	}
	return Unmarshal(FormatOf(fileName), data, v)
}

func Unmarshal(format string, data []byte, v any) error {
	var err error
	switch format {
	case FORMAT_JSON:
		err = json.Unmarshal(data, v)
	case FORMAT_YAML:
		err = yaml.Unmarshal(data, v)
	default:
		return pki.NewUnsupportedError("document format", format)
	}
	if err != nil {
		var inputErr *pki.InputError
		if errors.As(err, &inputErr) {
			return err
		}
		return pki.NewInputError("config", err.Error())
	}
	return nil
}

func Marshal(format string, v any) ([]byte, error) {
	switch strings.ToLower(format) {
	case FORMAT_JSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case "", FORMAT_YAML, "yml":
		return yaml.Marshal(v)
	}
	return nil, pki.NewUnsupportedError("document format", format)
}

// Writes the document to the named file, or to w when no file is named
func WriteDocument(fs afero.Fs, w io.Writer, fileName, format string, v any) error {
	if fileName != "" && format == "" {
		format = FormatOf(fileName)
	}
	data, err := Marshal(format, v)
	if err != nil {
		return err
	}
	if fileName == "" {
		_, err = w.Write(data)
		return err
	}
	return util.WriteFile(fs, fileName, data, 0600)
}
