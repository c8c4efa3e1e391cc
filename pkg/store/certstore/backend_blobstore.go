package certstore

import (
	"github.com/jeremyhahn/go-trusted-pki/pkg/pki"
	"github.com/jeremyhahn/go-trusted-pki/pkg/store/blob"
)

// BlobStoreBackend stores one file per artifact in a blob store
// partition, named by the artifact thumbprint with no extension.
type BlobStoreBackend struct {
	partition Partition
	blobStore blob.BlobStorer
}

func NewBlobStoreBackend(partition Partition, blobStore blob.BlobStorer) *BlobStoreBackend {
	return &BlobStoreBackend{
		partition: partition,
		blobStore: blobStore,
	}
}

// Thumbprints are validated before use so a key can never name a path
// outside its partition.
func (bse *BlobStoreBackend) Save(thumbprint pki.Thumbprint, data []byte) error {
	if err := thumbprint.Validate(); err != nil {
		return err
	}
	return bse.blobStore.Save([]byte(thumbprint), data)
}

// Returns nil data if the thumbprint is not stored
func (bse *BlobStoreBackend) Get(thumbprint pki.Thumbprint) ([]byte, error) {
	if err := thumbprint.Validate(); err != nil {
		return nil, err
	}
	data, err := bse.blobStore.Get([]byte(thumbprint))
	if err != nil {
		if err == blob.ErrBlobNotFound {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (bse *BlobStoreBackend) Exists(thumbprint pki.Thumbprint) bool {
	return thumbprint.Validate() == nil && bse.blobStore.Exists([]byte(thumbprint))
}

// Returns true if an entry was removed
func (bse *BlobStoreBackend) Delete(thumbprint pki.Thumbprint) (bool, error) {
	if err := thumbprint.Validate(); err != nil {
		return false, err
	}
	if err := bse.blobStore.Delete([]byte(thumbprint)); err != nil {
		if err == blob.ErrBlobNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (bse *BlobStoreBackend) List() ([]pki.Thumbprint, error) {
	keys, err := bse.blobStore.List()
	if err != nil {
		return nil, err
	}
	thumbprints := make([]pki.Thumbprint, 0, len(keys))
	for _, key := range keys {
		// Files not named by a thumbprint are not artifacts
		if thumbprint := pki.Thumbprint(key); thumbprint.Validate() == nil {
			thumbprints = append(thumbprints, thumbprint)
		}
	}
	return thumbprints, nil
}

// Moves an entry into the same partition of another backend
func (bse *BlobStoreBackend) MoveTo(thumbprint pki.Thumbprint, dest *BlobStoreBackend) (bool, error) {
	if err := thumbprint.Validate(); err != nil {
		return false, err
	}
	if err := bse.blobStore.Move([]byte(thumbprint), dest.blobStore); err != nil {
		if err == blob.ErrBlobNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
