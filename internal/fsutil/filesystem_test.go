package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSFileSystem_CreateExclusive(t *testing.T) {
	dir := t.TempDir()
	fsys := OSFileSystem{}
	name := filepath.Join(dir, "mesh.stl")

	w, err := fsys.CreateExclusive(name)
	require.NoError(t, err)
	_, err = w.Write([]byte("solid"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = fsys.CreateExclusive(name)
	assert.True(t, errors.Is(err, fs.ErrExist), "second create should fail with ErrExist, got %v", err)

	data, err := fsys.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "solid", string(data))

	require.NoError(t, fsys.Remove(name))
	assert.False(t, fsys.Exists(name))
}

func TestMemoryFileSystem_CreateExclusive(t *testing.T) {
	mfs := NewMemoryFileSystem()

	w, err := mfs.CreateExclusive("/tmp/a.stl")
	require.NoError(t, err)
	_, err = w.Write([]byte("created content"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := mfs.ReadFile("/tmp/a.stl")
	require.NoError(t, err)
	assert.Equal(t, "created content", string(data))

	_, err = mfs.CreateExclusive("/tmp/a.stl")
	assert.ErrorIs(t, err, fs.ErrExist)
	assert.Equal(t, 1, mfs.Created())
}

func TestMemoryFileSystem_FailCreate(t *testing.T) {
	mfs := NewMemoryFileSystem()
	mfs.FailCreate = os.ErrPermission

	_, err := mfs.CreateExclusive("/tmp/a.stl")
	assert.ErrorIs(t, err, os.ErrPermission)
	assert.Empty(t, mfs.Files())
}

func TestMemoryFileSystem_StatAndRemove(t *testing.T) {
	mfs := NewMemoryFileSystem()
	mfs.WriteFile("/stattest.txt", []byte("stat content"))

	info, err := mfs.Stat("/stattest.txt")
	require.NoError(t, err)
	assert.Equal(t, "stattest.txt", info.Name())
	assert.Equal(t, int64(len("stat content")), info.Size())
	assert.False(t, info.IsDir())

	require.NoError(t, mfs.Remove("/stattest.txt"))
	assert.False(t, mfs.Exists("/stattest.txt"))
	assert.Equal(t, 1, mfs.Removed())

	err = mfs.Remove("/stattest.txt")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestMemoryFileSystem_MkdirAll(t *testing.T) {
	mfs := NewMemoryFileSystem()
	require.NoError(t, mfs.MkdirAll("/a/b/c", 0o755))

	for _, dir := range []string{"/a/b/c", "/a/b", "/a"} {
		assert.True(t, mfs.Exists(dir), "expected %s to exist", dir)
	}
	info, err := mfs.Stat("/a/b")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestTempNamer_Unique(t *testing.T) {
	a := NewTempNamer("/tmp/meshes", "ork-", "stl")
	b := NewTempNamer("/tmp/meshes", "ork-", ".stl")

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		for _, n := range []*TempNamer{a, b} {
			name := n.Next()
			assert.False(t, seen[name], "duplicate name %s", name)
			seen[name] = true
			assert.True(t, strings.HasSuffix(name, ".stl"))
			assert.Equal(t, "/tmp/meshes", filepath.Dir(name))
		}
	}
}

func TestCreateUnique_SkipsExistingNames(t *testing.T) {
	mfs := NewMemoryFileSystem()
	namer := NewTempNamer("/tmp/meshes", "", ".stl")

	// Occupy the first two names the namer will produce.
	first := filepath.Join("/tmp/meshes", namer.token+"-1.stl")
	second := filepath.Join("/tmp/meshes", namer.token+"-2.stl")
	mfs.WriteFile(first, []byte("x"))
	mfs.WriteFile(second, []byte("y"))

	name, w, err := CreateUnique(mfs, namer)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Equal(t, filepath.Join("/tmp/meshes", namer.token+"-3.stl"), name)
	assert.True(t, mfs.Exists("/tmp/meshes"))
}

func TestCreateUnique_PropagatesOtherErrors(t *testing.T) {
	mfs := NewMemoryFileSystem()
	mfs.FailCreate = os.ErrPermission

	_, _, err := CreateUnique(mfs, NewTempNamer("/tmp", "", ".stl"))
	assert.ErrorIs(t, err, os.ErrPermission)
}
