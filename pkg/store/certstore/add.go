package certstore

import (
	"bytes"
	"crypto/x509"

	"github.com/jeremyhahn/go-trusted-pki/pkg/pki"
	"github.com/jeremyhahn/go-trusted-pki/pkg/pki/reader"
)

type importer interface {
	ImportCertificate(cert *pki.Certificate) error
	ImportKeyPair(keyPair *pki.KeyPair) error
	ImportCRL(crl *pki.RevocationList) error
	ImportCSR(csr *pki.SigningRequest) error
}

// Reads data and imports every artifact of the requested kinds. No
// kinds imports everything.
func addArtifacts(
	store importer,
	rdr *reader.Reader,
	data []byte,
	password pki.PasswordSource,
	kinds ...pki.Kind) ([]*pki.Artifact, error) {

	wanted := func(kind pki.Kind) bool {
		if len(kinds) == 0 {
			return true
		}
		for _, k := range kinds {
			if k == kind {
				return true
			}
		}
		return false
	}

	artifacts := make([]*pki.Artifact, 0)
	var importErr error
	save := func(artifact *pki.Artifact, fn func() error) {
		if importErr != nil || !wanted(artifact.Kind) {
			return
		}
		if importErr = fn(); importErr == nil {
			artifacts = append(artifacts, artifact)
		}
	}
	rdr.ReadBytes(data, password, reader.Callbacks{
		Certificate: func(cert *pki.Certificate) {
			save(&pki.Artifact{Kind: pki.KindCertificate, Certificate: cert}, func() error {
				return store.ImportCertificate(cert)
			})
		},
		KeyPair: func(kp *pki.KeyPair) {
			save(&pki.Artifact{Kind: pki.KindKeyPair, KeyPair: kp}, func() error {
				return store.ImportKeyPair(kp)
			})
		},
		RevocationList: func(crl *pki.RevocationList) {
			save(&pki.Artifact{Kind: pki.KindRevocationList, RevocationList: crl}, func() error {
				return store.ImportCRL(crl)
			})
		},
		SigningRequest: func(csr *pki.SigningRequest) {
			save(&pki.Artifact{Kind: pki.KindSigningRequest, SigningRequest: csr}, func() error {
				return store.ImportCSR(csr)
			})
		},
	})
	if importErr != nil {
		return nil, importErr
	}
	return artifacts, nil
}

func addCertificates(store importer, rdr *reader.Reader, data []byte, password pki.PasswordSource) ([]*pki.Certificate, error) {
	artifacts, err := addArtifacts(store, rdr, data, password, pki.KindCertificate)
	if err != nil {
		return nil, err
	}
	certs := make([]*pki.Certificate, 0, len(artifacts))
	for _, a := range artifacts {
		certs = append(certs, a.Certificate)
	}
	return certs, nil
}

func addKeyPairs(store importer, rdr *reader.Reader, data []byte, password pki.PasswordSource) ([]*pki.KeyPair, error) {
	artifacts, err := addArtifacts(store, rdr, data, password, pki.KindKeyPair)
	if err != nil {
		return nil, err
	}
	keys := make([]*pki.KeyPair, 0, len(artifacts))
	for _, a := range artifacts {
		keys = append(keys, a.KeyPair)
	}
	return keys, nil
}

func addCRLs(store importer, rdr *reader.Reader, data []byte, password pki.PasswordSource) ([]*pki.RevocationList, error) {
	artifacts, err := addArtifacts(store, rdr, data, password, pki.KindRevocationList)
	if err != nil {
		return nil, err
	}
	crls := make([]*pki.RevocationList, 0, len(artifacts))
	for _, a := range artifacts {
		crls = append(crls, a.RevocationList)
	}
	return crls, nil
}

func addCSRs(store importer, rdr *reader.Reader, data []byte, password pki.PasswordSource) ([]*pki.SigningRequest, error) {
	artifacts, err := addArtifacts(store, rdr, data, password, pki.KindSigningRequest)
	if err != nil {
		return nil, err
	}
	csrs := make([]*pki.SigningRequest, 0, len(artifacts))
	for _, a := range artifacts {
		csrs = append(csrs, a.SigningRequest)
	}
	return csrs, nil
}

// Keeps the CRLs issued under the certificate subject name. With verify
// set, the CRL signature must also verify under the certificate key.
func filterCRLsOfIssuer(
	crls []*pki.RevocationList,
	issuer *x509.Certificate,
	verify bool) []*pki.RevocationList {

	matches := make([]*pki.RevocationList, 0)
	for _, crl := range crls {
		if !bytes.Equal(crl.RevocationList.RawIssuer, issuer.RawSubject) {
			continue
		}
		if verify && crl.VerifySignature(issuer) != nil {
			continue
		}
		matches = append(matches, crl)
	}
	return matches
}

// Returns the PEM certificate followed by its private key, if any
func exportCertificate(cert *pki.Certificate, password pki.PasswordSource) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(pki.EncodeCertificate(cert.Certificate, pki.EncodingPEM))
	if cert.HasPrivateKey() {
		key, err := pki.MarshalPrivateKey(
			cert.PrivateKey, pki.EncodingPEM, pki.PasswordFrom(password), pki.DefaultPBEOptions())
		if err != nil {
			return nil, err
		}
		buf.Write(key)
	}
	return buf.Bytes(), nil
}

// Returns the underlying store of a synchronized wrapper
func unwrap(store Store) Store {
	if s, ok := store.(*SynchronizedStore); ok {
		return s.store
	}
	return store
}
