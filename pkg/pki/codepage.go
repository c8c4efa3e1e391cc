package pki

import (
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

const DefaultCodePage = "utf-8"

func lookupCodePage(codePage string) (encoding.Encoding, bool, error) {
	switch strings.ToLower(codePage) {
	case "", "utf-8", "utf8", "65001":
		return nil, true, nil
	}
	enc, err := htmlindex.Get(codePage)
	if err != nil {
		return nil, false, NewUnsupportedError("code page", codePage)
	}
	return enc, false, nil
}

// Transcodes text from the named code page to UTF-8
func DecodeText(data []byte, codePage string) ([]byte, error) {
	enc, utf8, err := lookupCodePage(codePage)
	if err != nil || utf8 {
		return data, err
	}
	return enc.NewDecoder().Bytes(data)
}

// Transcodes UTF-8 text to the named code page
func EncodeText(data []byte, codePage string) ([]byte, error) {
	enc, utf8, err := lookupCodePage(codePage)
	if err != nil || utf8 {
		return data, err
	}
	return enc.NewEncoder().Bytes(data)
}

// Returns true if the code page name is known
func ValidCodePage(codePage string) bool {
	_, _, err := lookupCodePage(codePage)
	return err == nil
}
