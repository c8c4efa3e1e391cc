package certstore

import (
	"errors"

	"github.com/jeremyhahn/go-trusted-pki/pkg/pki"
)

type Partition string

const (
	PARTITION_CERTS   Partition = "certs"
	PARTITION_PRIVATE Partition = "private"
	PARTITION_CRL     Partition = "crl"
	PARTITION_CSR     Partition = "csr"

	// Directory holding an application's own store within a group
	GROUP_OWN = "own"

	STORE_DIRECTORY = "directory"
	STORE_MEMORY    = "memory"
)

var (
	Partitions = []Partition{
		PARTITION_CERTS,
		PARTITION_PRIVATE,
		PARTITION_CRL,
		PARTITION_CSR,
	}

	ErrInvalidPartition = errors.New("store/certstore: invalid partition")
	ErrCertNotFound     = errors.New("store/certstore: certificate not found")
	ErrCertRevoked      = errors.New("store/certstore: certificate revoked")
	ErrCorruptEntry     = errors.New("store/certstore: stored entry could not be decoded")
)

// Store persists PKI artifacts addressed by thumbprint. Lookups of a
// missing thumbprint return nil or false, never an error. Inserting an
// existing thumbprint replaces the stored entry.
//
// Stores are not internally synchronized. Wrap a store shared between
// goroutines with NewSynchronized.
type Store interface {
	// Reads the data and persists every recognized artifact
	Add(data []byte, password pki.PasswordSource) ([]*pki.Artifact, error)
	AddCertificates(data []byte, password pki.PasswordSource) ([]*pki.Certificate, error)
	AddKeyPairs(data []byte, password pki.PasswordSource) ([]*pki.KeyPair, error)
	AddCRLs(data []byte, password pki.PasswordSource) ([]*pki.RevocationList, error)
	AddCSRs(data []byte, password pki.PasswordSource) ([]*pki.SigningRequest, error)

	// Persists a decoded artifact. A certificate carrying a private key
	// also persists the key.
	ImportCertificate(cert *pki.Certificate) error
	ImportKeyPair(keyPair *pki.KeyPair) error
	ImportCRL(crl *pki.RevocationList) error
	ImportCSR(csr *pki.SigningRequest) error

	// Certificates are returned joined with their private key when the
	// store holds one.
	Certificates() ([]*pki.Certificate, error)
	Certificate(thumbprint pki.Thumbprint) (*pki.Certificate, error)
	KeyPairs() ([]*pki.KeyPair, error)
	KeyPair(thumbprint pki.Thumbprint) (*pki.KeyPair, error)
	// Thumbprints of stored keys that could not be decrypted or decoded
	KeyPairsWithError() ([]pki.Thumbprint, error)
	CRLs() ([]*pki.RevocationList, error)
	CRL(thumbprint pki.Thumbprint) (*pki.RevocationList, error)
	CSRs() ([]*pki.SigningRequest, error)
	CSR(thumbprint pki.Thumbprint) (*pki.SigningRequest, error)

	DeleteCertificate(thumbprint pki.Thumbprint) (bool, error)
	DeleteKeyPair(thumbprint pki.Thumbprint) (bool, error)
	DeleteCRL(thumbprint pki.Thumbprint) (bool, error)
	DeleteCSR(thumbprint pki.Thumbprint) (bool, error)

	// Moves a certificate and its private key into another store
	MoveCertificateTo(thumbprint pki.Thumbprint, dest Store) (bool, error)

	// Returns the CRLs whose issuer name equals the subject name of the
	// certificate. With verify set, CRLs whose signature does not verify
	// under the certificate public key are dropped.
	CRLsOfIssuer(thumbprint pki.Thumbprint, verify bool) ([]*pki.RevocationList, error)

	// Returns the PEM certificate followed by its private key, encrypted
	// with the given password. Nil is returned if the certificate is not
	// stored.
	ExportCertificate(thumbprint pki.Thumbprint, password pki.PasswordSource) ([]byte, error)
}

var (
	_ Store = (*DirectoryStore)(nil)
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SynchronizedStore)(nil)
)
