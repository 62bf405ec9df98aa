package meshcache

import (
	"errors"
	"fmt"

	"github.com/banshee-data/objectdisplay/internal/objectdb"
)

// Kind classifies why a mesh could not be resolved.
type Kind int

const (
	// KindPluginLoad means the backend for the database identifier could
	// not be constructed from the plugin registry.
	KindPluginLoad Kind = iota + 1
	// KindMetadataUnavailable means the backend could not be initialised or
	// the object's metadata could not be read.
	KindMetadataUnavailable
	// KindMeshLoad means a mesh URI was found but the loader rejected it.
	KindMeshLoad
)

func (k Kind) String() string {
	switch k {
	case KindPluginLoad:
		return "plugin load failure"
	case KindMetadataUnavailable:
		return "metadata unavailable"
	case KindMeshLoad:
		return "mesh load failure"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Sentinels matched with errors.Is against a *ResolveError.
var (
	ErrPluginLoad          = errors.New(KindPluginLoad.String())
	ErrMetadataUnavailable = errors.New(KindMetadataUnavailable.String())
	ErrMeshLoad            = errors.New(KindMeshLoad.String())
)

func (k Kind) sentinel() error {
	switch k {
	case KindPluginLoad:
		return ErrPluginLoad
	case KindMetadataUnavailable:
		return ErrMetadataUnavailable
	case KindMeshLoad:
		return ErrMeshLoad
	}
	return nil
}

// ResolveError reports a failed resolution of one object type.
type ResolveError struct {
	Kind Kind
	Key  objectdb.TypeKey
	URI  string // set for KindMeshLoad
	Err  error
}

func (e *ResolveError) Error() string {
	if e.URI != "" {
		return fmt.Sprintf("%s for %s (%s): %v", e.Kind, e.Key, e.URI, e.Err)
	}
	return fmt.Sprintf("%s for %s: %v", e.Kind, e.Key, e.Err)
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *ResolveError) Unwrap() []error {
	if s := e.Kind.sentinel(); s != nil {
		return []error{s, e.Err}
	}
	return []error{e.Err}
}

// KindOf returns the kind of a resolution error, or 0 if err is not one.
func KindOf(err error) Kind {
	var re *ResolveError
	if errors.As(err, &re) {
		return re.Kind
	}
	return 0
}
