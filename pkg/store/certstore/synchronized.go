package certstore

import (
	"sync"

	"github.com/jeremyhahn/go-trusted-pki/pkg/pki"
)

// SynchronizedStore serializes every call to the wrapped store with a
// single mutex.
type SynchronizedStore struct {
	mu    sync.Mutex
	store Store
}

func NewSynchronized(store Store) *SynchronizedStore {
	if s, ok := store.(*SynchronizedStore); ok {
		return s
	}
	return &SynchronizedStore{store: store}
}

func (s *SynchronizedStore) Add(data []byte, password pki.PasswordSource) ([]*pki.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Add(data, password)
}

func (s *SynchronizedStore) AddCertificates(data []byte, password pki.PasswordSource) ([]*pki.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.AddCertificates(data, password)
}

func (s *SynchronizedStore) AddKeyPairs(data []byte, password pki.PasswordSource) ([]*pki.KeyPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.AddKeyPairs(data, password)
}

func (s *SynchronizedStore) AddCRLs(data []byte, password pki.PasswordSource) ([]*pki.RevocationList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.AddCRLs(data, password)
}

func (s *SynchronizedStore) AddCSRs(data []byte, password pki.PasswordSource) ([]*pki.SigningRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.AddCSRs(data, password)
}

func (s *SynchronizedStore) ImportCertificate(cert *pki.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.ImportCertificate(cert)
}

func (s *SynchronizedStore) ImportKeyPair(keyPair *pki.KeyPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.ImportKeyPair(keyPair)
}

func (s *SynchronizedStore) ImportCRL(crl *pki.RevocationList) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.ImportCRL(crl)
}

func (s *SynchronizedStore) ImportCSR(csr *pki.SigningRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.ImportCSR(csr)
}

func (s *SynchronizedStore) Certificates() ([]*pki.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Certificates()
}

func (s *SynchronizedStore) Certificate(thumbprint pki.Thumbprint) (*pki.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Certificate(thumbprint)
}

func (s *SynchronizedStore) KeyPairs() ([]*pki.KeyPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.KeyPairs()
}

func (s *SynchronizedStore) KeyPair(thumbprint pki.Thumbprint) (*pki.KeyPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.KeyPair(thumbprint)
}

func (s *SynchronizedStore) KeyPairsWithError() ([]pki.Thumbprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.KeyPairsWithError()
}

func (s *SynchronizedStore) CRLs() ([]*pki.RevocationList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.CRLs()
}

func (s *SynchronizedStore) CRL(thumbprint pki.Thumbprint) (*pki.RevocationList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.CRL(thumbprint)
}

func (s *SynchronizedStore) CSRs() ([]*pki.SigningRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.CSRs()
}

func (s *SynchronizedStore) CSR(thumbprint pki.Thumbprint) (*pki.SigningRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.CSR(thumbprint)
}

func (s *SynchronizedStore) DeleteCertificate(thumbprint pki.Thumbprint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.DeleteCertificate(thumbprint)
}

func (s *SynchronizedStore) DeleteKeyPair(thumbprint pki.Thumbprint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.DeleteKeyPair(thumbprint)
}

func (s *SynchronizedStore) DeleteCRL(thumbprint pki.Thumbprint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.DeleteCRL(thumbprint)
}

func (s *SynchronizedStore) DeleteCSR(thumbprint pki.Thumbprint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.DeleteCSR(thumbprint)
}

// The destination is not locked here. A synchronized destination takes
// its own lock for each call the move makes on it.
func (s *SynchronizedStore) MoveCertificateTo(thumbprint pki.Thumbprint, dest Store) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dest == Store(s) {
		dest = s.store
	}
	return s.store.MoveCertificateTo(thumbprint, dest)
}

func (s *SynchronizedStore) CRLsOfIssuer(thumbprint pki.Thumbprint, verify bool) ([]*pki.RevocationList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.CRLsOfIssuer(thumbprint, verify)
}

func (s *SynchronizedStore) ExportCertificate(thumbprint pki.Thumbprint, password pki.PasswordSource) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.ExportCertificate(thumbprint, password)
}
