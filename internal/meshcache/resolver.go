// Package meshcache resolves recognized object types to loadable mesh URIs.
//
// A Resolver looks each type up once: the mesh URI comes either from the
// object's "mesh_uri" field or from its "mesh" attachment, which is written
// to a temporary file. Successful resolutions are cached for the life of
// the Resolver; failures are not, so the next detection retries.
//
// A Resolver is not safe for concurrent use. It is driven from the single
// goroutine that processes detection batches.
package meshcache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"

	"github.com/banshee-data/objectdisplay/internal/fsutil"
	"github.com/banshee-data/objectdisplay/internal/meshload"
	"github.com/banshee-data/objectdisplay/internal/objectdb"
)

// Metadata names consulted on each object.
const (
	FieldMeshURI   = "mesh_uri"
	AttachmentMesh = "mesh"
)

const (
	defaultExtension = ".stl"
	tempPrefix       = "objectdisplay-mesh-"
)

// ErrClosed is wrapped by errors from Resolve after Close.
var ErrClosed = errors.New("resolver closed")

// Opener constructs object database backends from database identifiers.
// *objectdb.Registry implements it.
type Opener interface {
	Open(ctx context.Context, id string) (objectdb.ObjectDB, error)
}

// MeshReference is the outcome of a successful resolution. A reference with
// an empty URI marks an object that has no mesh.
type MeshReference struct {
	URI  string
	Mesh *meshload.Mesh
}

// Renderable reports whether the reference carries a mesh.
func (r MeshReference) Renderable() bool {
	return r.URI != ""
}

// Options configures a Resolver.
type Options struct {
	// TempDir receives meshes extracted from attachments. Defaults to os.TempDir().
	TempDir string
	// Extension of extracted mesh files. Defaults to ".stl".
	Extension string
	// FS defaults to the OS filesystem.
	FS fsutil.FileSystem
}

// Stats counts resolver activity.
type Stats struct {
	Hits         int
	Misses       int
	BackendOpens int
	Failures     map[Kind]int
	CachedKeys   int
	TempFiles    int
}

// Resolver maps object types to mesh references.
type Resolver struct {
	opener Opener
	loader meshload.Loader
	fs     fsutil.FileSystem
	namer  *fsutil.TempNamer

	cache     map[objectdb.TypeKey]MeshReference
	tempFiles map[objectdb.TypeKey]string
	backends  map[string]objectdb.ObjectDB

	hits, misses, opens int
	failures            map[Kind]int
	closed              bool
}

// NewResolver returns a Resolver with an empty cache.
func NewResolver(opener Opener, loader meshload.Loader, opts Options) *Resolver {
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.Extension == "" {
		opts.Extension = defaultExtension
	}
	if opts.FS == nil {
		opts.FS = fsutil.OSFileSystem{}
	}
	return &Resolver{
		opener:    opener,
		loader:    loader,
		fs:        opts.FS,
		namer:     fsutil.NewTempNamer(opts.TempDir, tempPrefix, opts.Extension),
		cache:     make(map[objectdb.TypeKey]MeshReference),
		tempFiles: make(map[objectdb.TypeKey]string),
		backends:  make(map[string]objectdb.ObjectDB),
		failures:  make(map[Kind]int),
	}
}

// Resolve returns the mesh reference for key. Errors are *ResolveError.
func (r *Resolver) Resolve(ctx context.Context, key objectdb.TypeKey) (MeshReference, error) {
	if r.closed {
		return MeshReference{}, &ResolveError{Kind: KindMetadataUnavailable, Key: key, Err: ErrClosed}
	}
	if ref, ok := r.cache[key]; ok {
		r.hits++
		tracef("cache hit %s -> %q", key, ref.URI)
		return ref, nil
	}
	r.misses++
	diagf("cache miss %s", key)

	ref, err := r.resolve(ctx, key)
	if err != nil {
		var re *ResolveError
		if errors.As(err, &re) {
			r.failures[re.Kind]++
		}
		opsf("resolve %s: %v", key, err)
		return MeshReference{}, err
	}

	r.cache[key] = ref
	return ref, nil
}

func (r *Resolver) resolve(ctx context.Context, key objectdb.TypeKey) (MeshReference, error) {
	db, err := r.backend(ctx, key.DB)
	if err != nil {
		kind := KindMetadataUnavailable
		if errors.Is(err, objectdb.ErrPluginLoad) {
			kind = KindPluginLoad
		}
		return MeshReference{}, &ResolveError{Kind: kind, Key: key, Err: err}
	}

	info, err := db.ObjectInfo(ctx, key.Key)
	if err != nil {
		return MeshReference{}, &ResolveError{Kind: KindMetadataUnavailable, Key: key, Err: err}
	}

	var uri, tempFile string
	switch {
	case info.HasField(FieldMeshURI):
		u, ok := info.StringField(FieldMeshURI)
		if !ok {
			v, _ := info.Field(FieldMeshURI)
			return MeshReference{}, &ResolveError{Kind: KindMetadataUnavailable, Key: key,
				Err: fmt.Errorf("field %s is %T, not a string", FieldMeshURI, v)}
		}
		uri = u
	case info.HasAttachment(AttachmentMesh):
		tempFile, err = r.extract(ctx, key, info)
		if err != nil {
			return MeshReference{}, &ResolveError{Kind: KindMetadataUnavailable, Key: key, Err: err}
		}
		uri = FileURI(tempFile)
	}
	if uri == "" {
		diagf("%s has no mesh", key)
		return MeshReference{}, nil
	}

	mesh, err := r.loader.LoadMeshFromResource(ctx, uri)
	if err != nil {
		if tempFile != "" {
			r.discardTemp(key, tempFile)
		}
		return MeshReference{}, &ResolveError{Kind: KindMeshLoad, Key: key, URI: uri, Err: err}
	}
	return MeshReference{URI: uri, Mesh: mesh}, nil
}

// FileURI returns the file:// URI of a local path, escaping characters such
// as '#', '%' and '?' that would otherwise end or corrupt the path.
func FileURI(path string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

// backend returns the open backend for a database identifier. Only
// successful opens are kept.
func (r *Resolver) backend(ctx context.Context, id string) (objectdb.ObjectDB, error) {
	if db, ok := r.backends[id]; ok {
		return db, nil
	}
	db, err := r.opener.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	r.opens++
	r.backends[id] = db
	diagf("opened object database %q", id)
	return db, nil
}

// extract writes the mesh attachment to a new temporary file and records it.
func (r *Resolver) extract(ctx context.Context, key objectdb.TypeKey, info *objectdb.ObjectInfo) (string, error) {
	name, w, err := fsutil.CreateUnique(r.fs, r.namer)
	if err != nil {
		return "", err
	}
	r.tempFiles[key] = name

	werr := info.WriteAttachment(ctx, AttachmentMesh, w)
	cerr := w.Close()
	if werr == nil && cerr != nil {
		werr = fmt.Errorf("close %s: %w", name, cerr)
	}
	if werr != nil {
		r.discardTemp(key, name)
		return "", werr
	}
	diagf("extracted mesh of %s to %s", key, name)
	return name, nil
}

func (r *Resolver) discardTemp(key objectdb.TypeKey, name string) {
	delete(r.tempFiles, key)
	if err := r.fs.Remove(name); err != nil {
		opsf("remove %s: %v", name, err)
	}
}

// TempFiles returns the recorded temporary mesh files keyed by object type.
func (r *Resolver) TempFiles() map[objectdb.TypeKey]string {
	out := make(map[objectdb.TypeKey]string, len(r.tempFiles))
	for k, v := range r.tempFiles {
		out[k] = v
	}
	return out
}

// Cached returns the cached reference for key, if any.
func (r *Resolver) Cached(key objectdb.TypeKey) (MeshReference, bool) {
	ref, ok := r.cache[key]
	return ref, ok
}

// Stats returns a snapshot of the resolver counters.
func (r *Resolver) Stats() Stats {
	failures := make(map[Kind]int, len(r.failures))
	for k, v := range r.failures {
		failures[k] = v
	}
	return Stats{
		Hits:         r.hits,
		Misses:       r.misses,
		BackendOpens: r.opens,
		Failures:     failures,
		CachedKeys:   len(r.cache),
		TempFiles:    len(r.tempFiles),
	}
}

// Close deletes every temporary mesh file and closes the backends. It is
// safe to call more than once; only the first call does anything.
func (r *Resolver) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	names := make([]string, 0, len(r.tempFiles))
	for _, name := range r.tempFiles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := r.fs.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove temp mesh %s: %w", name, err))
		}
	}
	r.tempFiles = make(map[objectdb.TypeKey]string)
	r.cache = make(map[objectdb.TypeKey]MeshReference)

	ids := make([]string, 0, len(r.backends))
	for id := range r.backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := r.backends[id].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close object database %q: %w", id, err))
		}
	}
	r.backends = make(map[string]objectdb.ObjectDB)

	diagf("closed: removed %d temp files, closed %d backends", len(names), len(ids))
	return errors.Join(errs...)
}
