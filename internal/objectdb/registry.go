package objectdb

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Factory constructs a backend from parsed parameters.
type Factory func(ctx context.Context, params Parameters) (ObjectDB, error)

// Registry maps backend type names to factories. Built-in backends are
// present from construction; other backends are added with Register,
// normally once at process start.
type Registry struct {
	mu       sync.RWMutex
	builtins map[string]Factory
	plugins  map[string]Factory
}

// NewRegistry returns a registry holding only the built-in backends.
func NewRegistry() *Registry {
	return &Registry{
		builtins: map[string]Factory{
			TypeCouchDB:    openCouchDB,
			TypeFilesystem: openFilesystem,
			TypeSQLite:     openSQLite,
			TypeEmpty:      openEmpty,
		},
		plugins: make(map[string]Factory),
	}
}

// Register adds a backend factory under typeName. Built-in type names
// cannot be replaced and a type may only be registered once.
func (r *Registry) Register(typeName string, f Factory) error {
	if typeName == "" {
		return fmt.Errorf("register object database: empty type name")
	}
	if f == nil {
		return fmt.Errorf("register object database %q: nil factory", typeName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.builtins[typeName]; ok {
		return fmt.Errorf("register object database %q: shadows a built-in backend", typeName)
	}
	if _, ok := r.plugins[typeName]; ok {
		return fmt.Errorf("register object database %q: already registered", typeName)
	}
	r.plugins[typeName] = f
	diagf("registered object database plugin %q", typeName)
	return nil
}

// Types returns every type name the registry can open, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.builtins)+len(r.plugins))
	for name := range r.builtins {
		types = append(types, name)
	}
	for name := range r.plugins {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

// Open constructs the backend named by a database identifier. Failures of
// registered plugins (including an unknown type) wrap ErrPluginLoad; other
// failures come from a built-in backend that could not be initialised.
func (r *Registry) Open(ctx context.Context, id string) (ObjectDB, error) {
	params, err := ParseParameters(id)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	builtin, isBuiltin := r.builtins[params.Type]
	plugin, isPlugin := r.plugins[params.Type]
	r.mu.RUnlock()

	if isBuiltin {
		db, err := builtin(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("open %s database: %w", params.Type, err)
		}
		return db, nil
	}

	if !isPlugin {
		return nil, fmt.Errorf("%w: no backend registered for type %q", ErrPluginLoad, params.Type)
	}
	return openPlugin(ctx, params, plugin)
}

// openPlugin runs a plugin factory, converting panics into load failures.
func openPlugin(ctx context.Context, params Parameters, f Factory) (db ObjectDB, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			db = nil
			err = fmt.Errorf("%w: %s: panic: %v", ErrPluginLoad, params.Type, rec)
		}
	}()

	db, err = f(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrPluginLoad, params.Type, err)
	}
	if db == nil {
		return nil, fmt.Errorf("%w: %s: factory returned no backend", ErrPluginLoad, params.Type)
	}
	return db, nil
}
