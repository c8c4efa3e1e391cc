package util

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"
)

var ErrCorruptWrite = errors.New("util: file verification failed after write")

// Returns true if the path exists on the provided file system
func FileExists(fs afero.Fs, path string) bool {
	if path == "" {
		return false
	}
	_, err := fs.Stat(path)
	return err == nil
}

// Writes data to path, creating parent directories as needed
func WriteFile(fs afero.Fs, path string, data []byte, perm os.FileMode) error {
	if err := fs.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return err
	}
	return afero.WriteFile(fs, path, data, perm)
}

// Atomically replaces the file at path. The data is written to a temp
// file in the same directory, reloaded and compared, then renamed over
// the destination.
func WriteFileAtomic(fs afero.Fs, path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, os.ModePerm); err != nil {
		return err
	}
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%016x.tmp",
		filepath.Base(path), xxhash.Sum64(data)))
	if err := afero.WriteFile(fs, tmp, data, perm); err != nil {
		return err
	}
	written, err := afero.ReadFile(fs, tmp)
	if err != nil {
		fs.Remove(tmp)
		return err
	}
	if !bytes.Equal(written, data) {
		fs.Remove(tmp)
		return fmt.Errorf("%w: %s", ErrCorruptWrite, path)
	}
	return fs.Rename(tmp, path)
}

// Splits a file name into its base name and extension
func FileName(path string) (string, string) {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)], ext
}
