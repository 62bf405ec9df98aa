package objectdb

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Built-in backend types.
const (
	TypeCouchDB    = "CouchDB"
	TypeFilesystem = "filesystem"
	TypeSQLite     = "SQLite"
	TypeEmpty      = "empty"
)

// Default connection values, matching a stock object recognition install.
const (
	DefaultCouchRoot  = "http://localhost:5984"
	DefaultCollection = "object_recognition"
)

// Parameters is a parsed database identifier.
type Parameters struct {
	Type string
	Raw  map[string]any
}

// ParseParameters parses a database identifier. An empty identifier selects
// the default CouchDB database; a bare word that is not JSON is taken as the
// backend type with no further parameters.
func ParseParameters(id string) (Parameters, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Parameters{
			Type: TypeCouchDB,
			Raw: map[string]any{
				"type":       TypeCouchDB,
				"root":       DefaultCouchRoot,
				"collection": DefaultCollection,
			},
		}, nil
	}

	if !strings.HasPrefix(id, "{") {
		return Parameters{Type: id, Raw: map[string]any{"type": id}}, nil
	}

	raw := make(map[string]any)
	if err := json.Unmarshal([]byte(id), &raw); err != nil {
		return Parameters{}, fmt.Errorf("parse database parameters: %w", err)
	}
	typ, _ := raw["type"].(string)
	if typ == "" {
		return Parameters{}, fmt.Errorf("database parameters missing \"type\": %s", id)
	}
	return Parameters{Type: typ, Raw: raw}, nil
}

// IsBuiltin reports whether the type is one of the backends compiled in.
func (p Parameters) IsBuiltin() bool {
	switch p.Type {
	case TypeCouchDB, TypeFilesystem, TypeSQLite, TypeEmpty:
		return true
	}
	return false
}

// String returns the named string parameter or def when absent or empty.
func (p Parameters) String(name, def string) string {
	if s, ok := p.Raw[name].(string); ok && s != "" {
		return s
	}
	return def
}

// Bool returns the named boolean parameter or def when absent.
func (p Parameters) Bool(name string, def bool) bool {
	if b, ok := p.Raw[name].(bool); ok {
		return b
	}
	return def
}
