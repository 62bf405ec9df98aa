package objectdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
)

var (
	// ErrNotFound is returned when the database has no object for a key.
	ErrNotFound = errors.New("object not found")

	// ErrAttachmentNotFound is returned when an object lacks a named attachment.
	ErrAttachmentNotFound = errors.New("attachment not found")

	// ErrPluginLoad marks failures to construct a registered (non built-in)
	// backend, including a type nobody registered.
	ErrPluginLoad = errors.New("object database plugin failed to load")
)

// TypeKey identifies a class of recognized object: the database it is
// described in and its key within that database. It is comparable and is
// used directly as a map key, so distinct (DB, Key) pairs never collide.
type TypeKey struct {
	DB  string `json:"db"`
	Key string `json:"key"`
}

// String returns a printable form for logs.
func (k TypeKey) String() string {
	return fmt.Sprintf("%s@%s", k.Key, k.DB)
}

// ObjectDB is a source of object metadata.
type ObjectDB interface {
	// ObjectInfo loads the fields and attachment list of the object stored
	// under key. It returns an error wrapping ErrNotFound if there is none.
	ObjectInfo(ctx context.Context, key string) (*ObjectInfo, error)

	// Close releases connections held by the backend.
	Close() error
}

// AttachmentFetcher streams the named attachment of one object into w.
type AttachmentFetcher func(ctx context.Context, name string, w io.Writer) error

// ObjectInfo is the metadata of one object: scalar fields plus named binary
// attachments whose contents are fetched on demand.
type ObjectInfo struct {
	Key    string
	Fields map[string]any

	attachments map[string]bool
	fetch       AttachmentFetcher
}

// NewObjectInfo builds an ObjectInfo. fetch may be nil when attachments is empty.
func NewObjectInfo(key string, fields map[string]any, attachments []string, fetch AttachmentFetcher) *ObjectInfo {
	if fields == nil {
		fields = make(map[string]any)
	}
	names := make(map[string]bool, len(attachments))
	for _, name := range attachments {
		names[name] = true
	}
	return &ObjectInfo{
		Key:         key,
		Fields:      fields,
		attachments: names,
		fetch:       fetch,
	}
}

// HasField reports whether the object carries the named field.
func (o *ObjectInfo) HasField(name string) bool {
	_, ok := o.Fields[name]
	return ok
}

// Field returns the raw value of the named field.
func (o *ObjectInfo) Field(name string) (any, bool) {
	v, ok := o.Fields[name]
	return v, ok
}

// StringField returns the named field if it is a non-empty string.
func (o *ObjectInfo) StringField(name string) (string, bool) {
	v, ok := o.Fields[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// HasAttachment reports whether the object carries the named attachment.
func (o *ObjectInfo) HasAttachment(name string) bool {
	return o.attachments[name]
}

// AttachmentNames returns the sorted attachment names.
func (o *ObjectInfo) AttachmentNames() []string {
	names := make([]string, 0, len(o.attachments))
	for name := range o.attachments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WriteAttachment streams the named attachment into w.
func (o *ObjectInfo) WriteAttachment(ctx context.Context, name string, w io.Writer) error {
	if !o.attachments[name] || o.fetch == nil {
		return fmt.Errorf("%s/%s: %w", o.Key, name, ErrAttachmentNotFound)
	}
	return o.fetch(ctx, name, w)
}
