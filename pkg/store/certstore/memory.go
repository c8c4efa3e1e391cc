package certstore

import (
	"sort"

	"github.com/jeremyhahn/go-trusted-pki/pkg/logging"
	"github.com/jeremyhahn/go-trusted-pki/pkg/metrics"
	"github.com/jeremyhahn/go-trusted-pki/pkg/pki"
	"github.com/jeremyhahn/go-trusted-pki/pkg/pki/reader"
)

// MemoryStore holds decoded artifacts in maps keyed by thumbprint. It is
// used for transient work that must not touch the file system.
type MemoryStore struct {
	logger  *logging.Logger
	metrics *metrics.Metrics
	reader  *reader.Reader
	certs   map[pki.Thumbprint]*pki.Certificate
	keys    map[pki.Thumbprint]*pki.KeyPair
	crls    map[pki.Thumbprint]*pki.RevocationList
	csrs    map[pki.Thumbprint]*pki.SigningRequest
}

func NewMemoryStore(logger *logging.Logger, m *metrics.Metrics) *MemoryStore {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &MemoryStore{
		logger:  logger,
		metrics: m,
		reader:  reader.NewReader(logger),
		certs:   make(map[pki.Thumbprint]*pki.Certificate),
		keys:    make(map[pki.Thumbprint]*pki.KeyPair),
		crls:    make(map[pki.Thumbprint]*pki.RevocationList),
		csrs:    make(map[pki.Thumbprint]*pki.SigningRequest),
	}
}

func (ms *MemoryStore) op(op string) {
	ms.metrics.StoreOperation(STORE_MEMORY, op)
}

func (ms *MemoryStore) Add(data []byte, password pki.PasswordSource) ([]*pki.Artifact, error) {
	ms.op("add")
	return addArtifacts(ms, ms.reader, data, password)
}

func (ms *MemoryStore) AddCertificates(data []byte, password pki.PasswordSource) ([]*pki.Certificate, error) {
	ms.op("add")
	return addCertificates(ms, ms.reader, data, password)
}

func (ms *MemoryStore) AddKeyPairs(data []byte, password pki.PasswordSource) ([]*pki.KeyPair, error) {
	ms.op("add")
	return addKeyPairs(ms, ms.reader, data, password)
}

func (ms *MemoryStore) AddCRLs(data []byte, password pki.PasswordSource) ([]*pki.RevocationList, error) {
	ms.op("add")
	return addCRLs(ms, ms.reader, data, password)
}

func (ms *MemoryStore) AddCSRs(data []byte, password pki.PasswordSource) ([]*pki.SigningRequest, error) {
	ms.op("add")
	return addCSRs(ms, ms.reader, data, password)
}

// Stores the certificate without its key; the key is kept in the key
// map and joined again on read.
func (ms *MemoryStore) ImportCertificate(cert *pki.Certificate) error {
	ms.certs[cert.Thumbprint()] = cert.WithoutPrivateKey()
	if !cert.HasPrivateKey() {
		return nil
	}
	kp, err := cert.KeyPair()
	if err != nil {
		return err
	}
	return ms.ImportKeyPair(kp)
}

func (ms *MemoryStore) ImportKeyPair(keyPair *pki.KeyPair) error {
	tp := keyPair.Thumbprint()
	if tp == "" {
		return pki.NewUnsupportedError("key algorithm", keyPair.Algorithm)
	}
	ms.keys[tp] = keyPair
	return nil
}

func (ms *MemoryStore) ImportCRL(crl *pki.RevocationList) error {
	ms.crls[crl.Thumbprint()] = crl
	return nil
}

func (ms *MemoryStore) ImportCSR(csr *pki.SigningRequest) error {
	ms.csrs[csr.Thumbprint()] = csr
	return nil
}

func (ms *MemoryStore) Certificates() ([]*pki.Certificate, error) {
	ms.op("list")
	certs := make([]*pki.Certificate, 0, len(ms.certs))
	for _, tp := range sortedKeys(ms.certs) {
		certs = append(certs, ms.join(ms.certs[tp]))
	}
	return certs, nil
}

func (ms *MemoryStore) Certificate(thumbprint pki.Thumbprint) (*pki.Certificate, error) {
	ms.op("get")
	if err := thumbprint.Validate(); err != nil {
		return nil, err
	}
	cert, ok := ms.certs[thumbprint]
	if !ok {
		return nil, nil
	}
	return ms.join(cert), nil
}

func (ms *MemoryStore) join(cert *pki.Certificate) *pki.Certificate {
	if kp, ok := ms.keys[cert.KeyThumbprint()]; ok {
		return cert.WithPrivateKey(kp.PrivateKey)
	}
	return cert
}

func (ms *MemoryStore) KeyPairs() ([]*pki.KeyPair, error) {
	ms.op("list")
	keys := make([]*pki.KeyPair, 0, len(ms.keys))
	for _, tp := range sortedKeys(ms.keys) {
		keys = append(keys, ms.keys[tp])
	}
	return keys, nil
}

func (ms *MemoryStore) KeyPair(thumbprint pki.Thumbprint) (*pki.KeyPair, error) {
	ms.op("get")
	if err := thumbprint.Validate(); err != nil {
		return nil, err
	}
	return ms.keys[thumbprint], nil
}

// Keys are held decoded, so none can fail
func (ms *MemoryStore) KeyPairsWithError() ([]pki.Thumbprint, error) {
	ms.op("list")
	return []pki.Thumbprint{}, nil
}

func (ms *MemoryStore) CRLs() ([]*pki.RevocationList, error) {
	ms.op("list")
	crls := make([]*pki.RevocationList, 0, len(ms.crls))
	for _, tp := range sortedKeys(ms.crls) {
		crls = append(crls, ms.crls[tp])
	}
	return crls, nil
}

func (ms *MemoryStore) CRL(thumbprint pki.Thumbprint) (*pki.RevocationList, error) {
	ms.op("get")
	if err := thumbprint.Validate(); err != nil {
		return nil, err
	}
	return ms.crls[thumbprint], nil
}

func (ms *MemoryStore) CSRs() ([]*pki.SigningRequest, error) {
	ms.op("list")
	csrs := make([]*pki.SigningRequest, 0, len(ms.csrs))
	for _, tp := range sortedKeys(ms.csrs) {
		csrs = append(csrs, ms.csrs[tp])
	}
	return csrs, nil
}

func (ms *MemoryStore) CSR(thumbprint pki.Thumbprint) (*pki.SigningRequest, error) {
	ms.op("get")
	if err := thumbprint.Validate(); err != nil {
		return nil, err
	}
	return ms.csrs[thumbprint], nil
}

func (ms *MemoryStore) DeleteCertificate(thumbprint pki.Thumbprint) (bool, error) {
	ms.op("delete")
	if err := thumbprint.Validate(); err != nil {
		return false, err
	}
	return deleteKey(ms.certs, thumbprint), nil
}

func (ms *MemoryStore) DeleteKeyPair(thumbprint pki.Thumbprint) (bool, error) {
	ms.op("delete")
	if err := thumbprint.Validate(); err != nil {
		return false, err
	}
	return deleteKey(ms.keys, thumbprint), nil
}

func (ms *MemoryStore) DeleteCRL(thumbprint pki.Thumbprint) (bool, error) {
	ms.op("delete")
	if err := thumbprint.Validate(); err != nil {
		return false, err
	}
	return deleteKey(ms.crls, thumbprint), nil
}

func (ms *MemoryStore) DeleteCSR(thumbprint pki.Thumbprint) (bool, error) {
	ms.op("delete")
	if err := thumbprint.Validate(); err != nil {
		return false, err
	}
	return deleteKey(ms.csrs, thumbprint), nil
}

// Imports the certificate, with its key, into the destination and then
// removes both here.
func (ms *MemoryStore) MoveCertificateTo(thumbprint pki.Thumbprint, dest Store) (bool, error) {
	ms.op("move")
	if err := thumbprint.Validate(); err != nil {
		return false, err
	}
	cert, ok := ms.certs[thumbprint]
	if !ok {
		return false, nil
	}
	if unwrap(dest) == Store(ms) {
		return true, nil
	}
	joined := ms.join(cert)
	if err := dest.ImportCertificate(joined); err != nil {
		return false, err
	}
	delete(ms.certs, thumbprint)
	if joined.HasPrivateKey() {
		delete(ms.keys, cert.KeyThumbprint())
	}
	return true, nil
}

func (ms *MemoryStore) CRLsOfIssuer(thumbprint pki.Thumbprint, verify bool) ([]*pki.RevocationList, error) {
	ms.op("crls_of_issuer")
	if err := thumbprint.Validate(); err != nil {
		return nil, err
	}
	issuer, ok := ms.certs[thumbprint]
	if !ok {
		return []*pki.RevocationList{}, nil
	}
	crls, _ := ms.CRLs()
	return filterCRLsOfIssuer(crls, issuer.Certificate, verify), nil
}

func (ms *MemoryStore) ExportCertificate(thumbprint pki.Thumbprint, password pki.PasswordSource) ([]byte, error) {
	ms.op("export")
	if err := thumbprint.Validate(); err != nil {
		return nil, err
	}
	cert, ok := ms.certs[thumbprint]
	if !ok {
		return nil, nil
	}
	return exportCertificate(ms.join(cert), password)
}

func sortedKeys[V any](m map[pki.Thumbprint]V) []pki.Thumbprint {
	keys := make([]pki.Thumbprint, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func deleteKey[V any](m map[pki.Thumbprint]V, key pki.Thumbprint) bool {
	if _, ok := m[key]; !ok {
		return false
	}
	delete(m, key)
	return true
}
