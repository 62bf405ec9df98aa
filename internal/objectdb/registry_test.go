package objectdb

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDB struct {
	closed bool
}

func (s *stubDB) ObjectInfo(_ context.Context, key string) (*ObjectInfo, error) {
	return NewObjectInfo(key, nil, nil, nil), nil
}

func (s *stubDB) Close() error {
	s.closed = true
	return nil
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	noop := func(context.Context, Parameters) (ObjectDB, error) { return &stubDB{}, nil }

	require.NoError(t, r.Register("Stub", noop))
	assert.Error(t, r.Register("Stub", noop), "duplicate registration")
	assert.Error(t, r.Register(TypeCouchDB, noop), "built-in names cannot be shadowed")
	assert.Error(t, r.Register("", noop))
	assert.Error(t, r.Register("Nil", nil))

	assert.Equal(t, []string{TypeCouchDB, TypeSQLite, "Stub", TypeEmpty, TypeFilesystem}, r.Types())
}

func TestRegistry_OpenPlugin(t *testing.T) {
	r := NewRegistry()
	var gotParams Parameters
	require.NoError(t, r.Register("Stub", func(_ context.Context, p Parameters) (ObjectDB, error) {
		gotParams = p
		return &stubDB{}, nil
	}))

	db, err := r.Open(context.Background(), `{"type":"Stub","bucket":"meshes"}`)
	require.NoError(t, err)
	assert.IsType(t, &stubDB{}, db)
	assert.Equal(t, "meshes", gotParams.String("bucket", ""))
}

func TestRegistry_OpenFailures(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	require.NoError(t, r.Register("Failing", func(context.Context, Parameters) (ObjectDB, error) {
		return nil, errors.New("bucket unreachable")
	}))
	require.NoError(t, r.Register("Panicking", func(context.Context, Parameters) (ObjectDB, error) {
		panic("bad plugin")
	}))
	require.NoError(t, r.Register("Nothing", func(context.Context, Parameters) (ObjectDB, error) {
		return nil, nil
	}))

	t.Run("unknown type", func(t *testing.T) {
		_, err := r.Open(ctx, "NoSuchBackend")
		assert.ErrorIs(t, err, ErrPluginLoad)
	})

	t.Run("factory error", func(t *testing.T) {
		_, err := r.Open(ctx, "Failing")
		assert.ErrorIs(t, err, ErrPluginLoad)
		assert.Contains(t, err.Error(), "bucket unreachable")
	})

	t.Run("factory panic", func(t *testing.T) {
		_, err := r.Open(ctx, "Panicking")
		assert.ErrorIs(t, err, ErrPluginLoad)
		assert.Contains(t, err.Error(), "bad plugin")
	})

	t.Run("nil backend", func(t *testing.T) {
		_, err := r.Open(ctx, "Nothing")
		assert.ErrorIs(t, err, ErrPluginLoad)
	})

	t.Run("built-in init failure is not a plugin failure", func(t *testing.T) {
		_, err := r.Open(ctx, `{"type":"filesystem"}`)
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrPluginLoad))
	})

	t.Run("malformed identifier", func(t *testing.T) {
		_, err := r.Open(ctx, `{"type":`)
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrPluginLoad))
	})
}

func TestRegistry_OpenBuiltins(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()

	empty, err := r.Open(ctx, TypeEmpty)
	require.NoError(t, err)
	_, err = empty.ObjectInfo(ctx, "anything")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, empty.Close())

	couch, err := r.Open(ctx, "")
	require.NoError(t, err)
	assert.IsType(t, &CouchDB{}, couch)
	assert.NoError(t, couch.Close())

	_, err = r.Open(ctx, `{"type":"CouchDB","root":"not a url"}`)
	assert.Error(t, err)

	fs, err := r.Open(ctx, `{"type":"filesystem","path":"`+t.TempDir()+`"}`)
	require.NoError(t, err)
	assert.IsType(t, &FilesystemDB{}, fs)
}
