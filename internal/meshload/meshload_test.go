package meshload

import (
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/objectdisplay/internal/fsutil"
)

const asciiCube = `solid cube
  facet normal 0 0 1
    outer loop
      vertex 0 0 1
      vertex 1 0 1
      vertex 1 1 1
    endloop
  endfacet
  facet normal 0 0 1
    outer loop
      vertex 0 0 1
      vertex 1 1 1
      vertex 0 1 1
    endloop
  endfacet
endsolid cube
`

func binarySTL(triangles uint32) []byte {
	data := make([]byte, 84+50*int(triangles))
	copy(data, "solid but actually binary")
	binary.LittleEndian.PutUint32(data[80:84], triangles)
	return data
}

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		data      []byte
		ext       string
		format    string
		triangles int
		wantErr   bool
	}{
		{name: "ascii stl", data: []byte(asciiCube), ext: ".stl", format: FormatSTL, triangles: 2},
		{name: "binary stl with solid header", data: binarySTL(12), ext: ".stl", format: FormatSTL, triangles: 12},
		{name: "binary stl without extension", data: binarySTL(1), format: FormatSTL, triangles: 1},
		{name: "empty solid", data: []byte("solid x\nendsolid x\n"), ext: ".stl", format: FormatSTL},
		{name: "obj", data: []byte("v 0 0 0\nv 1 0 0\nv 1 1 0\nv 0 1 0\nf 1 2 3 4\n"), ext: ".obj", format: FormatOBJ, triangles: 2},
		{name: "collada", data: []byte(`<?xml version="1.0"?><COLLADA version="1.4.1"></COLLADA>`), ext: ".DAE", format: FormatCOLLADA},
		{name: "garbage", data: []byte("not a mesh"), ext: ".stl", wantErr: true},
		{name: "truncated binary", data: binarySTL(3)[:100], ext: ".stl", wantErr: true},
		{name: "unbalanced facets", data: []byte("solid x\nfacet normal 0 0 1\nendsolid x\n"), ext: ".stl", wantErr: true},
		{name: "facet keywords without vertices", data: []byte("solid x\nfacet normal 0 0 1\nendfacet\nendsolid x\n"), ext: ".stl", wantErr: true},
		{name: "ascii stl with bad vertex", data: []byte("solid x\nfacet normal 0 0 1\nouter loop\nvertex 0 0 zero\nvertex 1 0 0\nvertex 0 1 0\nendloop\nendfacet\nendsolid x\n"), ext: ".stl", wantErr: true},
		{name: "obj without vertices", data: []byte("# nothing\n"), ext: ".obj", wantErr: true},
		{name: "obj degenerate face", data: []byte("v 0 0 0\nf 1 1\n"), ext: ".obj", wantErr: true},
		{name: "collada without root", data: []byte("<xml/>"), ext: ".dae", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mesh, err := Parse(tt.data, tt.ext)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMesh)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.format, mesh.Format)
			assert.Equal(t, tt.triangles, mesh.Triangles)
			assert.Equal(t, int64(len(tt.data)), mesh.Size)
		})
	}
}

func TestResourceLoader_File(t *testing.T) {
	ctx := context.Background()
	mfs := fsutil.NewMemoryFileSystem()
	mfs.WriteFile("/tmp/meshes/cube.stl", []byte(asciiCube))
	mfs.WriteFile("/tmp/meshes/broken.stl", []byte("nope"))

	l := NewResourceLoader(mfs, nil)

	mesh, err := l.LoadMeshFromResource(ctx, "file:///tmp/meshes/cube.stl")
	require.NoError(t, err)
	assert.Equal(t, "file:///tmp/meshes/cube.stl", mesh.URI)
	assert.Equal(t, 2, mesh.Triangles)

	_, err = l.LoadMeshFromResource(ctx, "file:///tmp/meshes/broken.stl")
	assert.ErrorIs(t, err, ErrInvalidMesh)

	_, err = l.LoadMeshFromResource(ctx, "file:///tmp/meshes/missing.stl")
	assert.Error(t, err)

	l.SetMaxSize(10)
	_, err = l.LoadMeshFromResource(ctx, "file:///tmp/meshes/cube.stl")
	assert.ErrorContains(t, err, "too large")
}

func TestResourceLoader_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/cube.stl" {
			_, _ = w.Write(binarySTL(4))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	ctx := context.Background()
	l := NewResourceLoader(nil, srv.Client())

	mesh, err := l.LoadMeshFromResource(ctx, srv.URL+"/cube.stl")
	require.NoError(t, err)
	assert.Equal(t, 4, mesh.Triangles)

	_, err = l.LoadMeshFromResource(ctx, srv.URL+"/missing.stl")
	assert.ErrorContains(t, err, "unexpected status")

	l.SetMaxSize(100)
	_, err = l.LoadMeshFromResource(ctx, srv.URL+"/cube.stl")
	assert.ErrorContains(t, err, "too large")
}

func TestResourceLoader_UnsupportedScheme(t *testing.T) {
	l := NewResourceLoader(fsutil.NewMemoryFileSystem(), nil)

	for _, uri := range []string{"package://models/cube.stl", "cube.stl", "ftp://host/cube.stl"} {
		_, err := l.LoadMeshFromResource(context.Background(), uri)
		assert.ErrorIs(t, err, ErrUnsupportedScheme, uri)
	}
}
