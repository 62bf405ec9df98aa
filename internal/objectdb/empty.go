package objectdb

import (
	"context"
	"fmt"
)

// emptyDB holds no objects.
type emptyDB struct{}

func openEmpty(context.Context, Parameters) (ObjectDB, error) {
	return emptyDB{}, nil
}

func (emptyDB) ObjectInfo(_ context.Context, key string) (*ObjectInfo, error) {
	return nil, fmt.Errorf("empty database: %s: %w", key, ErrNotFound)
}

func (emptyDB) Close() error { return nil }
