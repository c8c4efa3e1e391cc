package certstore

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"

	"github.com/jeremyhahn/go-trusted-pki/pkg/logging"
	"github.com/jeremyhahn/go-trusted-pki/pkg/metrics"
	"github.com/jeremyhahn/go-trusted-pki/pkg/pki"
	"github.com/jeremyhahn/go-trusted-pki/pkg/pki/reader"
	"github.com/jeremyhahn/go-trusted-pki/pkg/store/blob"
	"github.com/spf13/afero"
)

type Params struct {
	Logger   *logging.Logger
	Fs       afero.Fs
	RootDir  string
	Password pki.PasswordSource
	PBE      *pki.PBEOptions
	Metrics  *metrics.Metrics
}

// DirectoryStore keeps each artifact as a PEM file named by its
// thumbprint in one of four partition folders below the root directory.
// Every call reads or writes the files directly.
type DirectoryStore struct {
	params   *Params
	reader   *reader.Reader
	backends map[Partition]*BlobStoreBackend
}

// Opens the store at params.RootDir, creating the partition folders if
// they do not exist.
func NewDirectoryStore(params *Params) (*DirectoryStore, error) {
	if params.Logger == nil {
		params.Logger = logging.DefaultLogger()
	}
	if params.Fs == nil {
		params.Fs = afero.NewOsFs()
	}
	if params.PBE == nil {
		params.PBE = pki.DefaultPBEOptions()
	}
	store := &DirectoryStore{
		params:   params,
		reader:   reader.NewReader(params.Logger),
		backends: make(map[Partition]*BlobStoreBackend, len(Partitions)),
	}
	for _, partition := range Partitions {
		name := string(partition)
		blobStore, err := blob.NewFSBlobStore(params.Logger, params.Fs, params.RootDir, &name)
		if err != nil {
			return nil, err
		}
		store.backends[partition] = NewBlobStoreBackend(partition, blobStore)
	}
	return store, nil
}

func (ds *DirectoryStore) RootDir() string {
	return ds.params.RootDir
}

func (ds *DirectoryStore) backend(partition Partition) *BlobStoreBackend {
	return ds.backends[partition]
}

func (ds *DirectoryStore) op(op string) {
	ds.params.Metrics.StoreOperation(STORE_DIRECTORY, op)
}

func (ds *DirectoryStore) Add(data []byte, password pki.PasswordSource) ([]*pki.Artifact, error) {
	ds.op("add")
	return addArtifacts(ds, ds.reader, data, password)
}

func (ds *DirectoryStore) AddCertificates(data []byte, password pki.PasswordSource) ([]*pki.Certificate, error) {
	ds.op("add")
	return addCertificates(ds, ds.reader, data, password)
}

func (ds *DirectoryStore) AddKeyPairs(data []byte, password pki.PasswordSource) ([]*pki.KeyPair, error) {
	ds.op("add")
	return addKeyPairs(ds, ds.reader, data, password)
}

func (ds *DirectoryStore) AddCRLs(data []byte, password pki.PasswordSource) ([]*pki.RevocationList, error) {
	ds.op("add")
	return addCRLs(ds, ds.reader, data, password)
}

func (ds *DirectoryStore) AddCSRs(data []byte, password pki.PasswordSource) ([]*pki.SigningRequest, error) {
	ds.op("add")
	return addCSRs(ds, ds.reader, data, password)
}

func (ds *DirectoryStore) ImportCertificate(cert *pki.Certificate) error {
	tp := cert.Thumbprint()
	data := pki.EncodeCertificate(cert.Certificate, pki.EncodingPEM)
	if err := ds.backend(PARTITION_CERTS).Save(tp, data); err != nil {
		return err
	}
	ds.params.Logger.Debug("store/certstore: saved certificate",
		slog.String("thumbprint", tp.String()))
	if !cert.HasPrivateKey() {
		return nil
	}
	kp, err := cert.KeyPair()
	if err != nil {
		return err
	}
	return ds.ImportKeyPair(kp)
}

// Saves the private key encrypted with the store password
func (ds *DirectoryStore) ImportKeyPair(keyPair *pki.KeyPair) error {
	tp := keyPair.Thumbprint()
	if tp == "" {
		return fmt.Errorf("%w: %s", pki.ErrUnsupported, keyPair.Algorithm)
	}
	data, err := pki.MarshalPrivateKey(
		keyPair.PrivateKey,
		pki.EncodingPEM,
		pki.PasswordFrom(ds.params.Password),
		ds.params.PBE)
	if err != nil {
		return err
	}
	if err := ds.backend(PARTITION_PRIVATE).Save(tp, data); err != nil {
		return err
	}
	ds.params.Logger.Debug("store/certstore: saved private key",
		slog.String("thumbprint", tp.String()))
	return nil
}

func (ds *DirectoryStore) ImportCRL(crl *pki.RevocationList) error {
	return ds.backend(PARTITION_CRL).Save(
		crl.Thumbprint(), pki.EncodeCRL(crl.RevocationList, pki.EncodingPEM))
}

func (ds *DirectoryStore) ImportCSR(csr *pki.SigningRequest) error {
	return ds.backend(PARTITION_CSR).Save(
		csr.Thumbprint(), pki.EncodeCSR(csr.CertificateRequest, pki.EncodingPEM))
}

func (ds *DirectoryStore) Certificates() ([]*pki.Certificate, error) {
	ds.op("list")
	thumbprints, err := ds.backend(PARTITION_CERTS).List()
	if err != nil {
		return nil, err
	}
	certs := make([]*pki.Certificate, 0, len(thumbprints))
	for _, tp := range thumbprints {
		cert, err := ds.certificate(tp)
		if err != nil {
			ds.params.Logger.MaybeError(err, slog.String("thumbprint", tp.String()))
			continue
		}
		if cert != nil {
			certs = append(certs, cert)
		}
	}
	return certs, nil
}

func (ds *DirectoryStore) Certificate(thumbprint pki.Thumbprint) (*pki.Certificate, error) {
	ds.op("get")
	return ds.certificate(thumbprint)
}

// Loads a certificate and joins it with the private key stored under
// the thumbprint of its public key.
func (ds *DirectoryStore) certificate(thumbprint pki.Thumbprint) (*pki.Certificate, error) {
	data, err := ds.backend(PARTITION_CERTS).Get(thumbprint)
	if err != nil || data == nil {
		return nil, err
	}
	der, err := pemBytes(data, pki.PEMTypeCertificate)
	if err != nil {
		return nil, err
	}
	x509Cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	cert := pki.NewCertificate(x509Cert)
	kp, err := ds.keyPair(cert.KeyThumbprint())
	if err != nil {
		ds.params.Logger.Warn("store/certstore: private key could not be decoded",
			slog.String("thumbprint", cert.KeyThumbprint().String()))
		return cert, nil
	}
	if kp != nil {
		cert = cert.WithPrivateKey(kp.PrivateKey)
	}
	return cert, nil
}

// Returns the decodable key pairs. Keys that fail to decrypt are skipped
// and reported by KeyPairsWithError.
func (ds *DirectoryStore) KeyPairs() ([]*pki.KeyPair, error) {
	ds.op("list")
	keys, _, err := ds.scanKeyPairs()
	return keys, err
}

func (ds *DirectoryStore) KeyPairsWithError() ([]pki.Thumbprint, error) {
	ds.op("list")
	_, failed, err := ds.scanKeyPairs()
	return failed, err
}

func (ds *DirectoryStore) scanKeyPairs() ([]*pki.KeyPair, []pki.Thumbprint, error) {
	thumbprints, err := ds.backend(PARTITION_PRIVATE).List()
	if err != nil {
		return nil, nil, err
	}
	keys := make([]*pki.KeyPair, 0, len(thumbprints))
	failed := make([]pki.Thumbprint, 0)
	for _, tp := range thumbprints {
		kp, err := ds.keyPair(tp)
		if err != nil {
			ds.params.Logger.Warn("store/certstore: private key could not be decoded",
				slog.String("thumbprint", tp.String()))
			failed = append(failed, tp)
			continue
		}
		if kp != nil {
			keys = append(keys, kp)
		}
	}
	return keys, failed, nil
}

func (ds *DirectoryStore) KeyPair(thumbprint pki.Thumbprint) (*pki.KeyPair, error) {
	ds.op("get")
	return ds.keyPair(thumbprint)
}

func (ds *DirectoryStore) keyPair(thumbprint pki.Thumbprint) (*pki.KeyPair, error) {
	data, err := ds.backend(PARTITION_PRIVATE).Get(thumbprint)
	if err != nil || data == nil {
		return nil, err
	}
	kp, err := ds.reader.DecodeKeyPair(data, ds.params.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrCorruptEntry, thumbprint, err)
	}
	return kp, nil
}

func (ds *DirectoryStore) CRLs() ([]*pki.RevocationList, error) {
	ds.op("list")
	thumbprints, err := ds.backend(PARTITION_CRL).List()
	if err != nil {
		return nil, err
	}
	crls := make([]*pki.RevocationList, 0, len(thumbprints))
	for _, tp := range thumbprints {
		crl, err := ds.crl(tp)
		if err != nil {
			ds.params.Logger.MaybeError(err, slog.String("thumbprint", tp.String()))
			continue
		}
		if crl != nil {
			crls = append(crls, crl)
		}
	}
	return crls, nil
}

func (ds *DirectoryStore) CRL(thumbprint pki.Thumbprint) (*pki.RevocationList, error) {
	ds.op("get")
	return ds.crl(thumbprint)
}

func (ds *DirectoryStore) crl(thumbprint pki.Thumbprint) (*pki.RevocationList, error) {
	data, err := ds.backend(PARTITION_CRL).Get(thumbprint)
	if err != nil || data == nil {
		return nil, err
	}
	der, err := pemBytes(data, pki.PEMTypeCRL)
	if err != nil {
		return nil, err
	}
	crl, err := x509.ParseRevocationList(der)
	if err != nil {
		return nil, err
	}
	return &pki.RevocationList{RevocationList: crl}, nil
}

func (ds *DirectoryStore) CSRs() ([]*pki.SigningRequest, error) {
	ds.op("list")
	thumbprints, err := ds.backend(PARTITION_CSR).List()
	if err != nil {
		return nil, err
	}
	csrs := make([]*pki.SigningRequest, 0, len(thumbprints))
	for _, tp := range thumbprints {
		csr, err := ds.csr(tp)
		if err != nil {
			ds.params.Logger.MaybeError(err, slog.String("thumbprint", tp.String()))
			continue
		}
		if csr != nil {
			csrs = append(csrs, csr)
		}
	}
	return csrs, nil
}

func (ds *DirectoryStore) CSR(thumbprint pki.Thumbprint) (*pki.SigningRequest, error) {
	ds.op("get")
	return ds.csr(thumbprint)
}

func (ds *DirectoryStore) csr(thumbprint pki.Thumbprint) (*pki.SigningRequest, error) {
	data, err := ds.backend(PARTITION_CSR).Get(thumbprint)
	if err != nil || data == nil {
		return nil, err
	}
	der, err := pemBytes(data, pki.PEMTypeCSR)
	if err != nil {
		return nil, err
	}
	csr, err := x509.ParseCertificateRequest(der)
	if err != nil {
		return nil, err
	}
	return &pki.SigningRequest{CertificateRequest: csr}, nil
}

func (ds *DirectoryStore) DeleteCertificate(thumbprint pki.Thumbprint) (bool, error) {
	ds.op("delete")
	return ds.backend(PARTITION_CERTS).Delete(thumbprint)
}

func (ds *DirectoryStore) DeleteKeyPair(thumbprint pki.Thumbprint) (bool, error) {
	ds.op("delete")
	return ds.backend(PARTITION_PRIVATE).Delete(thumbprint)
}

func (ds *DirectoryStore) DeleteCRL(thumbprint pki.Thumbprint) (bool, error) {
	ds.op("delete")
	return ds.backend(PARTITION_CRL).Delete(thumbprint)
}

func (ds *DirectoryStore) DeleteCSR(thumbprint pki.Thumbprint) (bool, error) {
	ds.op("delete")
	return ds.backend(PARTITION_CSR).Delete(thumbprint)
}

// Moves the certificate and its private key. Between directory stores on
// the same file system the files are renamed, key first, so a failure
// never leaves a certificate separated from its key. Otherwise the
// certificate is exported, added to the destination and then deleted here.
func (ds *DirectoryStore) MoveCertificateTo(thumbprint pki.Thumbprint, dest Store) (bool, error) {
	ds.op("move")
	if err := thumbprint.Validate(); err != nil {
		return false, err
	}
	target := unwrap(dest)
	if target == Store(ds) {
		return ds.backend(PARTITION_CERTS).Exists(thumbprint), nil
	}
	cert, err := ds.certificate(thumbprint)
	if err != nil || cert == nil {
		return false, err
	}
	keyThumbprint := cert.KeyThumbprint()

	if other, ok := target.(*DirectoryStore); ok && other.params.Fs == ds.params.Fs &&
		samePassword(ds.params.Password, other.params.Password) {
		// The key file moves even when it does not decrypt here
		keys := ds.backend(PARTITION_PRIVATE)
		keyMoved, err := keys.MoveTo(keyThumbprint, other.backend(PARTITION_PRIVATE))
		if err != nil {
			return false, err
		}
		moved, err := ds.backend(PARTITION_CERTS).MoveTo(thumbprint, other.backend(PARTITION_CERTS))
		if err != nil || !moved {
			if keyMoved {
				if _, rerr := other.backend(PARTITION_PRIVATE).MoveTo(keyThumbprint, keys); rerr != nil {
					ds.params.Logger.Error(rerr, slog.String("thumbprint", keyThumbprint.String()))
				}
			}
			return false, err
		}
		return true, nil
	}

	data, err := exportCertificate(cert, ds.params.Password)
	if err != nil {
		return false, err
	}
	if _, err := dest.Add(data, ds.params.Password); err != nil {
		return false, err
	}
	if _, err := ds.backend(PARTITION_CERTS).Delete(thumbprint); err != nil {
		return false, err
	}
	if cert.HasPrivateKey() {
		if _, err := ds.backend(PARTITION_PRIVATE).Delete(keyThumbprint); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (ds *DirectoryStore) CRLsOfIssuer(thumbprint pki.Thumbprint, verify bool) ([]*pki.RevocationList, error) {
	ds.op("crls_of_issuer")
	issuer, err := ds.certificate(thumbprint)
	if err != nil || issuer == nil {
		return []*pki.RevocationList{}, err
	}
	crls, err := ds.CRLs()
	if err != nil {
		return nil, err
	}
	return filterCRLsOfIssuer(crls, issuer.Certificate, verify), nil
}

func (ds *DirectoryStore) ExportCertificate(thumbprint pki.Thumbprint, password pki.PasswordSource) ([]byte, error) {
	ds.op("export")
	cert, err := ds.certificate(thumbprint)
	if err != nil || cert == nil {
		return nil, err
	}
	return exportCertificate(cert, password)
}

// Returns the DER bytes of the first PEM block of the given type. Data
// without PEM armor is returned as is.
func pemBytes(data []byte, blockType string) ([]byte, error) {
	if !pki.ContainsPEM(data) {
		return data, nil
	}
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, fmt.Errorf("%w: missing %s block", pki.ErrInvalidPEM, blockType)
		}
		if block.Type == blockType ||
			(blockType == pki.PEMTypeCSR && block.Type == pki.PEMTypeNewCSR) {
			return block.Bytes, nil
		}
	}
}

func samePassword(a, b pki.PasswordSource) bool {
	return string(pki.PasswordFrom(a)) == string(pki.PasswordFrom(b))
}
