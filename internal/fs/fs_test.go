package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS(t *testing.T) {
	tmp := t.TempDir()
	lfs := LocalFS{}

	dir := filepath.Join(tmp, "subdir")
	require.NoError(t, lfs.MkdirAll(dir, 0o755))

	fpath := filepath.Join(dir, "disk.img")
	f, err := lfs.OpenFile(fpath, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)

	_, err = f.WriteAt([]byte("hello"), 10)
	require.NoError(t, err)
	require.NoError(t, f.Sync())

	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(15), info.Size())

	buf := make([]byte, 5)
	_, err = f.ReadAt(buf, 10)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))

	require.NoError(t, f.Close())
	require.NoError(t, lfs.Remove(fpath))
	_, err = os.Stat(fpath)
	assert.True(t, os.IsNotExist(err))
}

func TestFaultyFS_Reads(t *testing.T) {
	ffs := NewFaultyFS(nil)
	f, err := ffs.OpenFile(filepath.Join(t.TempDir(), "disk.img"), os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.WriteAt([]byte("abc"), 0)
	require.NoError(t, err)

	ffs.AddRule("disk", Fault{FailReads: true, FailAfterBytes: -1})
	_, err = f.ReadAt(make([]byte, 3), 0)
	assert.ErrorIs(t, err, ErrInjected)
	assert.Zero(t, ffs.Reads())

	ffs.ClearRules()
	_, err = f.ReadAt(make([]byte, 3), 0)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), ffs.Reads())
}

func TestFaultyFS_WriteLimit(t *testing.T) {
	errFull := errors.New("disk full")
	ffs := NewFaultyFS(nil)
	ffs.AddRule("disk.img", Fault{FailAfterBytes: 8, Err: errFull})

	f, err := ffs.OpenFile(filepath.Join(t.TempDir(), "disk.img"), os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.WriteAt(make([]byte, 8), 0)
	require.NoError(t, err)
	_, err = f.WriteAt(make([]byte, 1), 8)
	assert.ErrorIs(t, err, errFull)
	assert.Equal(t, int64(1), ffs.Writes())
}

func TestFaultyFS_SyncAndClose(t *testing.T) {
	ffs := NewFaultyFS(nil)
	ffs.AddRule("x", Fault{FailOnSync: true, FailOnClose: true, FailAfterBytes: -1})

	f, err := ffs.OpenFile(filepath.Join(t.TempDir(), "x.img"), os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)

	assert.ErrorIs(t, f.Sync(), ErrInjected)
	assert.ErrorIs(t, f.Close(), ErrInjected)
}
