package objectdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Layout of the filesystem backend under <path>/<collection>/<key>/.
const (
	fsFieldsFile     = "object.json"
	fsAttachmentsDir = "attachments"
)

// FilesystemDB reads objects laid out as directories:
//
//	<root>/<collection>/<key>/object.json         fields
//	<root>/<collection>/<key>/attachments/<name>  one file per attachment
type FilesystemDB struct {
	dir string
}

// NewFilesystemDB returns a backend rooted at root/collection.
func NewFilesystemDB(root, collection string) *FilesystemDB {
	return &FilesystemDB{dir: filepath.Join(root, collection)}
}

func openFilesystem(_ context.Context, params Parameters) (ObjectDB, error) {
	root := params.String("path", "")
	if root == "" {
		return nil, fmt.Errorf("filesystem database requires a \"path\" parameter")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("filesystem database root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("filesystem database root %s is not a directory", root)
	}
	return NewFilesystemDB(root, params.String("collection", DefaultCollection)), nil
}

// validName rejects names that would escape the collection directory.
func validName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`) && !strings.ContainsRune(name, 0)
}

// ObjectInfo reads the object directory for key.
func (f *FilesystemDB) ObjectInfo(_ context.Context, key string) (*ObjectInfo, error) {
	if !validName(key) {
		return nil, fmt.Errorf("invalid object key %q", key)
	}
	objDir := filepath.Join(f.dir, key)
	tracef("read %s", objDir)

	data, err := os.ReadFile(filepath.Join(objDir, fsFieldsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("filesystem %s: %s: %w", f.dir, key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}

	fields := make(map[string]any)
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode object %s: %w", key, err)
	}

	var attachments []string
	entries, err := os.ReadDir(filepath.Join(objDir, fsAttachmentsDir))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("list attachments of %s: %w", key, err)
	}
	for _, e := range entries {
		if e.Type().IsRegular() {
			attachments = append(attachments, e.Name())
		}
	}

	return NewObjectInfo(key, fields, attachments, func(_ context.Context, name string, w io.Writer) error {
		if !validName(name) {
			return fmt.Errorf("%s/%s: %w", key, name, ErrAttachmentNotFound)
		}
		file, err := os.Open(filepath.Join(objDir, fsAttachmentsDir, name))
		if err != nil {
			return fmt.Errorf("open attachment %s/%s: %w", key, name, err)
		}
		defer file.Close()
		if _, err := io.Copy(w, file); err != nil {
			return fmt.Errorf("copy attachment %s/%s: %w", key, name, err)
		}
		return nil
	}), nil
}

// Close is a no-op.
func (f *FilesystemDB) Close() error { return nil }
