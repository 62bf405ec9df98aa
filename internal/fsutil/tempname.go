package fsutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// maxCreateAttempts bounds CreateUnique when names keep colliding with
// files left behind by something else.
const maxCreateAttempts = 16

// TempNamer generates file names that are unique for the life of the
// process and across processes sharing a directory: a random per-namer
// token plus a monotonic counter.
type TempNamer struct {
	dir    string
	prefix string
	ext    string
	token  string
	seq    atomic.Uint64
}

// NewTempNamer returns a namer producing paths of the form
// <dir>/<prefix><token>-<n><ext>. ext may be given with or without the dot.
func NewTempNamer(dir, prefix, ext string) *TempNamer {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return &TempNamer{
		dir:    dir,
		prefix: prefix,
		ext:    ext,
		token:  uuid.NewString(),
	}
}

// Dir returns the directory names are generated in.
func (n *TempNamer) Dir() string { return n.dir }

// Next returns the next unused candidate path.
func (n *TempNamer) Next() string {
	seq := n.seq.Add(1)
	return filepath.Join(n.dir, fmt.Sprintf("%s%s-%d%s", n.prefix, n.token, seq, n.ext))
}

// CreateUnique creates a new file with a name from namer. Creation is
// exclusive, so a name is never handed out twice even if another process
// happens to pick the same one.
func CreateUnique(fsys FileSystem, namer *TempNamer) (string, io.WriteCloser, error) {
	if err := fsys.MkdirAll(namer.Dir(), 0o700); err != nil {
		return "", nil, fmt.Errorf("create temp dir: %w", err)
	}
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		name := namer.Next()
		w, err := fsys.CreateExclusive(name)
		if err == nil {
			return name, w, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", nil, fmt.Errorf("create temp file: %w", err)
		}
	}
	return "", nil, fmt.Errorf("create temp file: no free name after %d attempts", maxCreateAttempts)
}
