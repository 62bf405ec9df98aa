// Package meshload loads mesh resources by URI and checks that they parse
// as a supported mesh format. It stands in for the renderer's resource
// loader: a mesh that loads here is one the renderer can display.
package meshload

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/hschendel/stl"

	"github.com/banshee-data/objectdisplay/internal/fsutil"
)

// Supported formats.
const (
	FormatSTL     = "stl"
	FormatOBJ     = "obj"
	FormatCOLLADA = "dae"
)

// DefaultMaxSize bounds the bytes read for one mesh.
const DefaultMaxSize = 64 << 20

var (
	// ErrUnsupportedScheme is returned for URIs other than file, http and https.
	ErrUnsupportedScheme = errors.New("unsupported mesh URI scheme")

	// ErrInvalidMesh is returned when the resource does not parse as a mesh.
	ErrInvalidMesh = errors.New("invalid mesh")
)

// Mesh is a loaded, validated mesh resource.
type Mesh struct {
	URI       string
	Format    string
	Triangles int
	Size      int64
}

// Loader loads mesh resources.
type Loader interface {
	LoadMeshFromResource(ctx context.Context, uri string) (*Mesh, error)
}

// ResourceLoader loads file:// URIs through a FileSystem and http(s)://
// URIs through an HTTP client.
type ResourceLoader struct {
	fs      fsutil.FileSystem
	client  *http.Client
	maxSize int64
}

// NewResourceLoader returns a loader. fsys and client may be nil for the
// OS filesystem and a client with a 30 second timeout.
func NewResourceLoader(fsys fsutil.FileSystem, client *http.Client) *ResourceLoader {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ResourceLoader{fs: fsys, client: client, maxSize: DefaultMaxSize}
}

// SetMaxSize overrides DefaultMaxSize.
func (l *ResourceLoader) SetMaxSize(n int64) {
	l.maxSize = n
}

// LoadMeshFromResource fetches uri and validates its contents.
func (l *ResourceLoader) LoadMeshFromResource(ctx context.Context, uri string) (*Mesh, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse mesh URI %q: %w", uri, err)
	}

	var data []byte
	switch u.Scheme {
	case "file":
		data, err = l.readFile(u)
	case "http", "https":
		data, err = l.fetch(ctx, uri)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, uri)
	}
	if err != nil {
		return nil, err
	}

	mesh, err := Parse(data, path.Ext(u.Path))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", uri, err)
	}
	mesh.URI = uri
	return mesh, nil
}

func (l *ResourceLoader) readFile(u *url.URL) ([]byte, error) {
	name := u.Path
	if name == "" {
		return nil, fmt.Errorf("file URI %q has no path", u.String())
	}
	info, err := l.fs.Stat(name)
	if err != nil {
		return nil, fmt.Errorf("stat mesh %s: %w", name, err)
	}
	if info.Size() > l.maxSize {
		return nil, fmt.Errorf("mesh %s too large: %d bytes (max %d)", name, info.Size(), l.maxSize)
	}
	data, err := l.fs.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read mesh %s: %w", name, err)
	}
	return data, nil
}

func (l *ResourceLoader) fetch(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch mesh %s: %w", uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch mesh %s: unexpected status %s", uri, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, l.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read mesh %s: %w", uri, err)
	}
	if int64(len(data)) > l.maxSize {
		return nil, fmt.Errorf("mesh %s too large (max %d bytes)", uri, l.maxSize)
	}
	return data, nil
}

// Parse validates data as a mesh. ext (".stl", ".obj", ".dae") selects the
// format; anything else is read as ASCII or binary STL.
func Parse(data []byte, ext string) (*Mesh, error) {
	switch strings.ToLower(ext) {
	case ".obj":
		return parseOBJ(data)
	case ".dae":
		if !bytes.Contains(data, []byte("<COLLADA")) {
			return nil, fmt.Errorf("%w: no COLLADA root element", ErrInvalidMesh)
		}
		return &Mesh{Format: FormatCOLLADA, Size: int64(len(data))}, nil
	}
	return parseSTL(data)
}

func parseSTL(data []byte) (*Mesh, error) {
	if isBinarySTL(data) && bytes.HasPrefix(data, []byte("solid")) {
		// The 80-byte header is free text, but a leading "solid" makes the
		// reader take the file for ASCII.
		data = append([]byte(nil), data...)
		copy(data, "     ")
	}
	solid, err := stl.ReadAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMesh, err)
	}
	return &Mesh{Format: FormatSTL, Triangles: len(solid.Triangles), Size: int64(len(data))}, nil
}

// isBinarySTL reports whether data is exactly the size a binary STL with
// its declared facet count must be: 80-byte header, uint32 count, 50 bytes
// per facet.
func isBinarySTL(data []byte) bool {
	if len(data) < 84 {
		return false
	}
	n := binary.LittleEndian.Uint32(data[80:84])
	return uint64(len(data)) == 84+50*uint64(n)
}

func parseOBJ(data []byte) (*Mesh, error) {
	var vertices, faces int
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "v":
			vertices++
		case "f":
			if len(fields) < 4 {
				return nil, fmt.Errorf("%w: face with %d vertices", ErrInvalidMesh, len(fields)-1)
			}
			// Polygons are fanned into triangles.
			faces += len(fields) - 3
		}
	}
	if vertices == 0 {
		return nil, fmt.Errorf("%w: OBJ has no vertices", ErrInvalidMesh)
	}
	return &Mesh{Format: FormatOBJ, Triangles: faces, Size: int64(len(data))}, nil
}
