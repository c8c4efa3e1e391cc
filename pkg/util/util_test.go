package util

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
)

func TestTicks(t *testing.T) {
	assert.Equal(t, int64(unixEpochTicks), Ticks(time.Unix(0, 0)))

	ts := time.Date(2024, 1, 2, 3, 4, 5, 600, time.UTC)
	assert.Equal(t, int64(638397614450000006), Ticks(ts))
	assert.Equal(t, 1, TicksSerialNumber(ts).Sign())
}

func TestWriteFileAtomic(t *testing.T) {
	fs := afero.NewMemMapFs()

	err := WriteFileAtomic(fs, "/a/b/config.yaml", []byte("one"), 0644)
	assert.Nil(t, err)

	err = WriteFileAtomic(fs, "/a/b/config.yaml", []byte("two"), 0644)
	assert.Nil(t, err)

	data, err := afero.ReadFile(fs, "/a/b/config.yaml")
	assert.Nil(t, err)
	assert.Equal(t, []byte("two"), data)

	entries, err := afero.ReadDir(fs, "/a/b")
	assert.Nil(t, err)
	assert.Len(t, entries, 1)
}

func TestFileExists(t *testing.T) {
	fs := afero.NewMemMapFs()
	assert.False(t, FileExists(fs, ""))
	assert.False(t, FileExists(fs, "/missing"))
	assert.Nil(t, WriteFile(fs, "/dir/file", []byte("x"), 0644))
	assert.True(t, FileExists(fs, "/dir/file"))
}

func TestFileName(t *testing.T) {
	name, ext := FileName("/tmp/out/leaf.crt")
	assert.Equal(t, "leaf", name)
	assert.Equal(t, ".crt", ext)
}
