package blob

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jeremyhahn/go-trusted-pki/pkg/logging"
	"github.com/jeremyhahn/go-trusted-pki/pkg/util"
	"github.com/spf13/afero"
)

const (
	PARTITION_BLOBS = "blobs"
)

var (
	ErrBlobNotFound = errors.New("store/blob: blob not found")
)

type BlobStorer interface {
	Delete(key []byte) error
	Exists(key []byte) bool
	Get(key []byte) ([]byte, error)
	List() ([]string, error)
	Move(key []byte, dest BlobStorer) error
	Save(key, data []byte) error
	Dir() string
	Fs() afero.Fs
}

type BlobStore struct {
	logger    *logging.Logger
	fs        afero.Fs
	blobDir   string
	partition string
	BlobStorer
}

// Creates a new blob key using the provided root and file name
func NewKey(root, path string) []byte {
	return []byte(fmt.Sprintf("%s/%s", root, path))
}

// Creates a new file system backed blob store rooted at
// rootDir/partition. The partition directory is created if it does not
// exist.
func NewFSBlobStore(
	logger *logging.Logger,
	fs afero.Fs,
	rootDir string,
	partition *string) (BlobStorer, error) {

	var partitionName string
	if partition == nil {
		partitionName = PARTITION_BLOBS
	} else {
		partitionName = *partition
	}
	dir := fmt.Sprintf("%s/%s", rootDir, partitionName)
	if err := fs.MkdirAll(dir, os.ModePerm); err != nil {
		logger.Error(err)
		return nil, err
	}
	return &BlobStore{
		logger:    logger,
		blobDir:   dir,
		fs:        fs,
		partition: partitionName,
	}, nil
}

func (store *BlobStore) Dir() string {
	return store.blobDir
}

func (store *BlobStore) Fs() afero.Fs {
	return store.fs
}

func (store *BlobStore) path(key []byte) string {
	trimmed := strings.TrimLeft(string(key), "/")
	return fmt.Sprintf("%s/%s", store.blobDir, trimmed)
}

// Saves a blob to the blob store. If the blob key contains forward slashes,
// a directory hierarchy will be created to match the key. For example, the
// blob key /my/secret/blob.dat would get saved to
// root-dir/blobs/my/secret/blob.dat. Existing blobs are replaced
// atomically.
func (store *BlobStore) Save(key, data []byte) error {
	blobFile := store.path(key)
	if err := util.WriteFileAtomic(store.fs, blobFile, data, 0600); err != nil {
		store.logger.Errorf("%s: %s", err, key)
		return err
	}
	return nil
}

// Retrieves a blob. ErrBlobNotFound is returned if the blob does not exist.
func (store *BlobStore) Get(key []byte) ([]byte, error) {
	blobFile := store.path(key)
	bytes, err := afero.ReadFile(store.fs, blobFile)
	if err != nil {
		if os.IsNotExist(err) {
			store.logger.Debugf("%s: %s", ErrBlobNotFound, key)
			return nil, ErrBlobNotFound
		}
		return nil, err
	}
	return bytes, nil
}

func (store *BlobStore) Exists(key []byte) bool {
	info, err := store.fs.Stat(store.path(key))
	return err == nil && !info.IsDir()
}

// Returns the keys of every blob in the store, sorted. Hidden files, such
// as in-flight atomic writes, are skipped.
func (store *BlobStore) List() ([]string, error) {
	keys := make([]string, 0)
	err := afero.Walk(store.fs, store.blobDir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(store.blobDir, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return keys, nil
		}
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// Moves a blob into another store. When both stores share a file system
// the blob is renamed, otherwise it is copied and then deleted.
func (store *BlobStore) Move(key []byte, dest BlobStorer) error {
	if !store.Exists(key) {
		return ErrBlobNotFound
	}
	if dest.Fs() == store.fs {
		destFile := fmt.Sprintf("%s/%s", dest.Dir(), strings.TrimLeft(string(key), "/"))
		if destFile == store.path(key) {
			return nil
		}
		if err := store.fs.MkdirAll(filepath.Dir(destFile), os.ModePerm); err != nil {
			return err
		}
		return store.fs.Rename(store.path(key), destFile)
	}
	data, err := store.Get(key)
	if err != nil {
		return err
	}
	if err := dest.Save(key, data); err != nil {
		return err
	}
	return store.Delete(key)
}

// Deletes a blob from the store. ErrBlobNotFound is returned if the
// provided blob key could not be found.
func (store *BlobStore) Delete(key []byte) error {
	blobFile := store.path(key)
	info, err := store.fs.Stat(blobFile)
	if err != nil || info.IsDir() {
		store.logger.Debugf("%s: %s", ErrBlobNotFound, key)
		return ErrBlobNotFound
	}
	return store.fs.Remove(blobFile)
}
