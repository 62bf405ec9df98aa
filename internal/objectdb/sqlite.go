package objectdb

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/banshee-data/objectdisplay/internal/db"
)

// Attachment encodings stored in object_attachments.encoding.
const (
	EncodingIdentity = ""
	EncodingZstd     = "zstd"
)

// SQLiteStore keeps objects and their attachments in the SQLite object
// database. It is both a read backend and the write path used by the
// import tool.
type SQLiteStore struct {
	db         *db.DB
	collection string
	owned      bool

	decOnce sync.Once
	dec     *zstd.Decoder
	decErr  error
}

// NewSQLiteStore wraps an open database. The caller keeps ownership of database.
func NewSQLiteStore(database *db.DB, collection string) *SQLiteStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &SQLiteStore{db: database, collection: collection}
}

// OpenSQLiteStore opens (and migrates) the database at path. Close closes it.
func OpenSQLiteStore(path, collection string) (*SQLiteStore, error) {
	database, err := db.NewDB(path)
	if err != nil {
		return nil, err
	}
	s := NewSQLiteStore(database, collection)
	s.owned = true
	return s, nil
}

func openSQLite(_ context.Context, params Parameters) (ObjectDB, error) {
	path := params.String("path", "")
	if path == "" {
		return nil, fmt.Errorf("SQLite database requires a \"path\" parameter")
	}
	return OpenSQLiteStore(path, params.String("collection", DefaultCollection))
}

// Collection returns the collection this store reads and writes.
func (s *SQLiteStore) Collection() string {
	return s.collection
}

// PutObject creates or replaces the fields of the object stored under key
// and returns its object id.
func (s *SQLiteStore) PutObject(ctx context.Context, key string, fields map[string]any) (string, error) {
	if key == "" {
		return "", fmt.Errorf("put object: empty key")
	}
	if fields == nil {
		fields = map[string]any{}
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode fields of %s: %w", key, err)
	}

	now := time.Now().UnixNano()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO objects (object_id, collection, object_key, fields_json, created_at_ns)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (collection, object_key) DO UPDATE SET
			fields_json = excluded.fields_json,
			updated_at_ns = excluded.created_at_ns
	`, uuid.New().String(), s.collection, key, string(fieldsJSON), now)
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}

	return s.objectID(ctx, key)
}

func (s *SQLiteStore) objectID(ctx context.Context, key string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT object_id FROM objects WHERE collection = ? AND object_key = ?`,
		s.collection, key).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("sqlite %s: %s: %w", s.collection, key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get object %s: %w", key, err)
	}
	return id, nil
}

// PutAttachment stores data as the named attachment of the object under
// key, optionally zstd-compressed.
func (s *SQLiteStore) PutAttachment(ctx context.Context, key, name, contentType string, data []byte, compress bool) error {
	if !validName(name) {
		return fmt.Errorf("invalid attachment name %q", name)
	}
	id, err := s.objectID(ctx, key)
	if err != nil {
		return err
	}

	encoding := EncodingIdentity
	stored := data
	if compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return fmt.Errorf("create zstd encoder: %w", err)
		}
		stored = enc.EncodeAll(data, nil)
		enc.Close()
		encoding = EncodingZstd
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO object_attachments (object_id, name, content_type, encoding, size_bytes, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (object_id, name) DO UPDATE SET
			content_type = excluded.content_type,
			encoding = excluded.encoding,
			size_bytes = excluded.size_bytes,
			data = excluded.data
	`, id, name, nullString(contentType), encoding, len(data), stored)
	if err != nil {
		return fmt.Errorf("put attachment %s/%s: %w", key, name, err)
	}
	return nil
}

// DeleteObject removes the object and its attachments.
func (s *SQLiteStore) DeleteObject(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM objects WHERE collection = ? AND object_key = ?`, s.collection, key)
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("sqlite %s: %s: %w", s.collection, key, ErrNotFound)
	}
	return nil
}

// ListKeys returns the object keys in the collection, sorted.
func (s *SQLiteStore) ListKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT object_key FROM objects WHERE collection = ? ORDER BY object_key`, s.collection)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan object key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// ObjectInfo loads the fields and attachment names of the object under key.
func (s *SQLiteStore) ObjectInfo(ctx context.Context, key string) (*ObjectInfo, error) {
	tracef("sqlite lookup %s/%s", s.collection, key)

	var id, fieldsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT object_id, fields_json FROM objects WHERE collection = ? AND object_key = ?`,
		s.collection, key).Scan(&id, &fieldsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite %s: %s: %w", s.collection, key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}

	fields := make(map[string]any)
	if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
		return nil, fmt.Errorf("decode object %s: %w", key, err)
	}

	names, err := s.attachmentNames(ctx, id)
	if err != nil {
		return nil, err
	}

	return NewObjectInfo(key, fields, names, func(ctx context.Context, name string, w io.Writer) error {
		return s.writeAttachment(ctx, id, key, name, w)
	}), nil
}

func (s *SQLiteStore) attachmentNames(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM object_attachments WHERE object_id = ? ORDER BY name`, id)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan attachment name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStore) writeAttachment(ctx context.Context, id, key, name string, w io.Writer) error {
	var encoding string
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT encoding, data FROM object_attachments WHERE object_id = ? AND name = ?`,
		id, name).Scan(&encoding, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s/%s: %w", key, name, ErrAttachmentNotFound)
	}
	if err != nil {
		return fmt.Errorf("get attachment %s/%s: %w", key, name, err)
	}

	switch encoding {
	case EncodingIdentity:
	case EncodingZstd:
		dec, err := s.decoder()
		if err != nil {
			return err
		}
		data, err = dec.DecodeAll(data, nil)
		if err != nil {
			return fmt.Errorf("decompress attachment %s/%s: %w", key, name, err)
		}
	default:
		return fmt.Errorf("attachment %s/%s: unsupported encoding %q", key, name, encoding)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("copy attachment %s/%s: %w", key, name, err)
	}
	return nil
}

func (s *SQLiteStore) decoder() (*zstd.Decoder, error) {
	s.decOnce.Do(func() {
		s.dec, s.decErr = zstd.NewReader(nil)
		if s.decErr != nil {
			opsf("create zstd decoder: %v", s.decErr)
		}
	})
	if s.decErr != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", s.decErr)
	}
	return s.dec, nil
}

// Close releases the decoder and, if the store opened it, the database.
func (s *SQLiteStore) Close() error {
	if s.dec != nil {
		s.dec.Close()
	}
	if s.owned {
		return s.db.Close()
	}
	return nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
