package certstore

import (
	"crypto/x509"
	"time"

	"github.com/jeremyhahn/go-trusted-pki/pkg/pki"
)

// Returns ErrCertRevoked if any verified CRL of the issuer stored in the
// store lists the certificate serial number. Expired CRLs are still
// consulted.
func IsRevoked(store Store, certificate *x509.Certificate, issuer pki.Thumbprint) error {
	crls, err := store.CRLsOfIssuer(issuer, true)
	if err != nil {
		return err
	}
	for _, crl := range crls {
		if crl.Contains(certificate) {
			return ErrCertRevoked
		}
	}
	return nil
}

// Returns the verified CRL of the issuer with the highest CRL number, or
// nil if the store holds none.
func LatestCRL(store Store, issuer pki.Thumbprint) (*pki.RevocationList, error) {
	crls, err := store.CRLsOfIssuer(issuer, true)
	if err != nil {
		return nil, err
	}
	var latest *pki.RevocationList
	for _, crl := range crls {
		if latest == nil || newer(crl.RevocationList, latest.RevocationList) {
			latest = crl
		}
	}
	return latest, nil
}

func newer(a, b *x509.RevocationList) bool {
	if a.Number != nil && b.Number != nil {
		if c := a.Number.Cmp(b.Number); c != 0 {
			return c > 0
		}
	}
	return a.ThisUpdate.After(b.ThisUpdate)
}

// Returns true if the CRL next update time has passed
func Expired(crl *pki.RevocationList, now time.Time) bool {
	next := crl.RevocationList.NextUpdate
	return !next.IsZero() && next.Before(now)
}
