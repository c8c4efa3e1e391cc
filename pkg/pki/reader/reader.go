package reader

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"

	"github.com/jeremyhahn/go-trusted-pki/pkg/logging"
	"github.com/jeremyhahn/go-trusted-pki/pkg/pki"
	"go.uber.org/multierr"
	"software.sslmate.com/src/go-pkcs12"
)

var (
	ErrNoCertificates = errors.New("pki/reader: no certificates found")
	ErrNoCRL          = errors.New("pki/reader: no revocation list found")
	ErrNoCSR          = errors.New("pki/reader: no signing request found")
)

// Callbacks receive each artifact found by the Reader. Nil callbacks are
// skipped, but the artifact is still counted.
type Callbacks struct {
	Certificate    func(*pki.Certificate)
	KeyPair        func(*pki.KeyPair)
	RevocationList func(*pki.RevocationList)
	SigningRequest func(*pki.SigningRequest)
}

type Counts struct {
	Certificates    int
	KeyPairs        int
	RevocationLists int
	SigningRequests int
}

func (c Counts) Total() int {
	return c.Certificates + c.KeyPairs + c.RevocationLists + c.SigningRequests
}

// Result holds the per-kind counts of a read along with every failed
// decode attempt. Failures are informational: a read that found nothing
// is not an error until the caller decides it is.
type Result struct {
	Counts
	Failures error
}

// Returns a ParseError if nothing was recognized
func (r Result) Err(source string) error {
	if r.Total() > 0 {
		return nil
	}
	return pki.NewParseError(source, r.Failures)
}

// Reader classifies a byte stream and decodes the certificates, key
// pair, revocation lists and signing requests it contains.
type Reader struct {
	logger   *logging.Logger
	codePage string
}

func NewReader(logger *logging.Logger) *Reader {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Reader{logger: logger}
}

// Returns a copy of the reader that decodes PEM text from the given
// code page.
func (r *Reader) WithCodePage(codePage string) *Reader {
	return &Reader{logger: r.logger, codePage: codePage}
}

// Reads the input and invokes a callback for every artifact found. The
// input is rewound before each cascade step so no step can consume data
// needed by another. Unrecognized input yields an empty result.
func (r *Reader) Read(
	input io.ReadSeeker,
	password pki.PasswordSource,
	callbacks Callbacks) Result {

	var result Result
	pw := pki.PasswordFrom(password)

	steps := []func([]byte, []byte, *Result, Callbacks) error{
		r.readCertificates,
		r.readKeyPair,
		r.readRevocationLists,
		r.readSigningRequests,
	}
	for _, step := range steps {
		data, err := r.rewind(input)
		if err != nil {
			result.Failures = multierr.Append(result.Failures, err)
			return result
		}
		if err := step(data, pw, &result, callbacks); err != nil {
			result.Failures = multierr.Append(result.Failures, err)
		}
	}
	r.logger.Debug("pki/reader: read complete",
		"certificates", result.Certificates,
		"keypairs", result.KeyPairs,
		"crls", result.RevocationLists,
		"csrs", result.SigningRequests)
	return result
}

func (r *Reader) ReadBytes(data []byte, password pki.PasswordSource, callbacks Callbacks) Result {
	return r.Read(bytes.NewReader(data), password, callbacks)
}

// Reads every artifact in the data. A ParseError aggregating each failed
// attempt is returned when nothing is recognized.
func (r *Reader) ReadAll(source string, data []byte, password pki.PasswordSource) ([]*pki.Artifact, error) {
	artifacts := make([]*pki.Artifact, 0)
	result := r.ReadBytes(data, password, Callbacks{
		Certificate: func(cert *pki.Certificate) {
			artifacts = append(artifacts, &pki.Artifact{Kind: pki.KindCertificate, Certificate: cert})
		},
		KeyPair: func(kp *pki.KeyPair) {
			artifacts = append(artifacts, &pki.Artifact{Kind: pki.KindKeyPair, KeyPair: kp})
		},
		RevocationList: func(crl *pki.RevocationList) {
			artifacts = append(artifacts, &pki.Artifact{Kind: pki.KindRevocationList, RevocationList: crl})
		},
		SigningRequest: func(csr *pki.SigningRequest) {
			artifacts = append(artifacts, &pki.Artifact{Kind: pki.KindSigningRequest, SigningRequest: csr})
		},
	})
	if err := result.Err(source); err != nil {
		return nil, err
	}
	return artifacts, nil
}

func (r *Reader) rewind(input io.ReadSeeker) ([]byte, error) {
	if _, err := input.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(input)
	if err != nil {
		return nil, err
	}
	if r.codePage == "" || !looksLikeText(data) {
		return data, nil
	}
	text, err := pki.DecodeText(data, r.codePage)
	if err != nil {
		return nil, err
	}
	return text, nil
}

// Step 1: PEM or DER certificates, falling back to PKCS #12. Keys found in
// a PKCS #12 bundle are reported by the key pair step.
func (r *Reader) readCertificates(data, password []byte, result *Result, callbacks Callbacks) error {
	certs, err := parseCertificates(data)
	if err != nil || len(certs) == 0 {
		var p12err error
		certs, p12err = decodePKCS12Certificates(data, password)
		if p12err != nil {
			return multierr.Combine(
				fmt.Errorf("certificate: %w", errOrDefault(err, ErrNoCertificates)),
				fmt.Errorf("certificate (PKCS #12): %w", p12err))
		}
	}
	for _, cert := range certs {
		result.Certificates++
		if callbacks.Certificate != nil {
			callbacks.Certificate(pki.NewCertificate(cert))
		}
	}
	return nil
}

func parseCertificates(data []byte) ([]*x509.Certificate, error) {
	if !pki.ContainsPEM(data) {
		return x509.ParseCertificates(data)
	}
	var certs []*x509.Certificate
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != pki.PEMTypeCertificate {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

func decodePKCS12Certificates(data, password []byte) ([]*x509.Certificate, error) {
	_, cert, caCerts, err := pkcs12.DecodeChain(data, string(password))
	if err == nil {
		return append([]*x509.Certificate{cert}, caCerts...), nil
	}
	certs, trustErr := pkcs12.DecodeTrustStore(data, string(password))
	if trustErr != nil {
		return nil, multierr.Append(err, trustErr)
	}
	if len(certs) == 0 {
		return nil, ErrNoCertificates
	}
	return certs, nil
}

// Step 2: the first algorithm, encoding and encryption combination that
// decodes wins. PKCS #12 is tried last when a password is available.
func (r *Reader) readKeyPair(data, password []byte, result *Result, callbacks Callbacks) error {
	var failures error
	isPEM := pki.ContainsPEM(data)
	for _, attempt := range keyAttempts(isPEM, len(password) > 0) {
		key, err := pki.DecodePrivateKey(attempt.algo, attempt.encoding, attempt.encrypted, data, password)
		if err != nil {
			failures = multierr.Append(failures, fmt.Errorf("%s: %w", attempt, err))
			continue
		}
		r.logger.Debug("pki/reader: decoded private key", "attempt", attempt.String())
		return r.emitKeyPair(key, result, callbacks)
	}
	if len(password) > 0 && !isPEM {
		key, _, _, err := pkcs12.DecodeChain(data, string(password))
		if err == nil {
			return r.emitKeyPair(key, result, callbacks)
		}
		failures = multierr.Append(failures, fmt.Errorf("keypair (PKCS #12): %w", err))
	}
	return failures
}

func (r *Reader) emitKeyPair(key any, result *Result, callbacks Callbacks) error {
	kp, err := pki.NewKeyPair(key)
	if err != nil {
		return err
	}
	result.KeyPairs++
	if callbacks.KeyPair != nil {
		callbacks.KeyPair(kp)
	}
	return nil
}

type keyAttempt struct {
	algo      pki.KeyAlgorithm
	encoding  pki.Encoding
	encrypted bool
}

func (a keyAttempt) String() string {
	encryption := "plain"
	if a.encrypted {
		encryption = "encrypted"
	}
	return fmt.Sprintf("keypair (%s, %s, %s)", a.algo, a.encoding, encryption)
}

// Returns the key decode attempts in cascade order. Encodings that cannot
// match the data and encrypted forms without a password are omitted.
func keyAttempts(isPEM, hasPassword bool) []keyAttempt {
	attempts := make([]keyAttempt, 0, len(pki.KeyAlgorithms)*2)
	for _, algo := range pki.KeyAlgorithms {
		for _, encoding := range []pki.Encoding{pki.EncodingPEM, pki.EncodingDER} {
			if (encoding == pki.EncodingPEM) != isPEM {
				continue
			}
			for _, encrypted := range []bool{false, true} {
				if encrypted && !hasPassword {
					continue
				}
				attempts = append(attempts, keyAttempt{algo, encoding, encrypted})
			}
		}
	}
	return attempts
}

// Step 3
func (r *Reader) readRevocationLists(data, password []byte, result *Result, callbacks Callbacks) error {
	var crls []*x509.RevocationList
	if pki.ContainsPEM(data) {
		for _, der := range pemBlocks(data, pki.PEMTypeCRL) {
			crl, err := x509.ParseRevocationList(der)
			if err != nil {
				return fmt.Errorf("crl: %w", err)
			}
			crls = append(crls, crl)
		}
		if len(crls) == 0 {
			return fmt.Errorf("crl: %w", ErrNoCRL)
		}
	} else {
		crl, err := x509.ParseRevocationList(data)
		if err != nil {
			return fmt.Errorf("crl: %w", err)
		}
		crls = append(crls, crl)
	}
	for _, crl := range crls {
		result.RevocationLists++
		if callbacks.RevocationList != nil {
			callbacks.RevocationList(&pki.RevocationList{RevocationList: crl})
		}
	}
	return nil
}

// Step 4: DER first, then PEM. Request signatures are not checked.
func (r *Reader) readSigningRequests(data, password []byte, result *Result, callbacks Callbacks) error {
	var csrs []*x509.CertificateRequest
	csr, derErr := x509.ParseCertificateRequest(data)
	if derErr == nil {
		csrs = append(csrs, csr)
	} else {
		blocks := append(
			pemBlocks(data, pki.PEMTypeCSR),
			pemBlocks(data, pki.PEMTypeNewCSR)...)
		for _, der := range blocks {
			csr, err := x509.ParseCertificateRequest(der)
			if err != nil {
				return fmt.Errorf("csr: %w", err)
			}
			csrs = append(csrs, csr)
		}
		if len(csrs) == 0 {
			return multierr.Combine(
				fmt.Errorf("csr (der): %w", derErr),
				fmt.Errorf("csr (pem): %w", ErrNoCSR))
		}
	}
	for _, csr := range csrs {
		result.SigningRequests++
		if callbacks.SigningRequest != nil {
			callbacks.SigningRequest(&pki.SigningRequest{CertificateRequest: csr})
		}
	}
	return nil
}

func pemBlocks(data []byte, blockType string) [][]byte {
	var blocks [][]byte
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return blocks
		}
		if block.Type == blockType {
			blocks = append(blocks, block.Bytes)
		}
	}
}

func errOrDefault(err, fallback error) error {
	if err != nil {
		return err
	}
	return fallback
}

// Binary ASN.1 always starts with a SEQUENCE tag
func looksLikeText(data []byte) bool {
	return len(data) > 0 && data[0] != 0x30
}

// Decodes a single key pair, running only the key pair step of the
// cascade. The error aggregates every failed attempt.
func (r *Reader) DecodeKeyPair(data []byte, password pki.PasswordSource) (*pki.KeyPair, error) {
	var keyPair *pki.KeyPair
	var result Result
	failures := r.readKeyPair(data, pki.PasswordFrom(password), &result, Callbacks{
		KeyPair: func(kp *pki.KeyPair) { keyPair = kp },
	})
	if keyPair == nil {
		return nil, pki.NewParseError("keypair", failures)
	}
	return keyPair, nil
}
