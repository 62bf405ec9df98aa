// Package miniodb is an object database backend that reads objects from a
// MinIO or S3-compatible bucket. It is not built in: a process that wants it
// calls Register once at start.
//
// Bucket layout, below an optional prefix:
//
//	<prefix>/<key>/object.json         fields
//	<prefix>/<key>/attachments/<name>  one object per attachment
package miniodb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/banshee-data/objectdisplay/internal/objectdb"
)

// TypeName is the database type this package registers.
const TypeName = "MinIO"

// Environment variables consulted when credentials are not in the parameters.
const (
	EnvAccessKey = "MINIO_ACCESS_KEY"
	EnvSecretKey = "MINIO_SECRET_KEY"
)

const (
	fieldsObject   = "object.json"
	attachmentsDir = "attachments"
)

// Register adds the MinIO backend to r.
func Register(r *objectdb.Registry) error {
	return r.Register(TypeName, Open)
}

// Store reads objects from one bucket.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewStore wraps an existing client.
func NewStore(client *minio.Client, bucket, prefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// Open is the registry factory. Parameters: endpoint and bucket are
// required; prefix, access_key, secret_key, region and secure are optional.
func Open(_ context.Context, params objectdb.Parameters) (objectdb.ObjectDB, error) {
	endpoint := params.String("endpoint", "")
	bucket := params.String("bucket", "")
	if endpoint == "" || bucket == "" {
		return nil, fmt.Errorf("MinIO database requires \"endpoint\" and \"bucket\" parameters")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds: credentials.NewStaticV4(
			params.String("access_key", os.Getenv(EnvAccessKey)),
			params.String("secret_key", os.Getenv(EnvSecretKey)),
			"",
		),
		Secure: params.Bool("secure", false),
		Region: params.String("region", ""),
	})
	if err != nil {
		return nil, fmt.Errorf("create MinIO client for %s: %w", endpoint, err)
	}
	return NewStore(client, bucket, params.String("prefix", "")), nil
}

func (s *Store) objectDir(key string) string {
	return path.Join(s.prefix, key)
}

func (s *Store) fieldsKey(key string) string {
	return path.Join(s.objectDir(key), fieldsObject)
}

func (s *Store) attachmentPrefix(key string) string {
	return path.Join(s.objectDir(key), attachmentsDir) + "/"
}

func (s *Store) attachmentKey(key, name string) string {
	return s.attachmentPrefix(key) + name
}

func validKey(key string) bool {
	return key != "" && key != "." && key != ".." && !strings.Contains(key, "/")
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

// ObjectInfo reads <key>/object.json and lists <key>/attachments/.
func (s *Store) ObjectInfo(ctx context.Context, key string) (*objectdb.ObjectInfo, error) {
	if !validKey(key) {
		return nil, fmt.Errorf("invalid object key %q", key)
	}

	obj, err := s.client.GetObject(ctx, s.bucket, s.fieldsKey(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	data, err := io.ReadAll(obj)
	obj.Close()
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("minio %s: %s: %w", s.bucket, key, objectdb.ErrNotFound)
		}
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}

	fields := make(map[string]any)
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode object %s: %w", key, err)
	}

	prefix := s.attachmentPrefix(key)
	var attachments []string
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list attachments of %s: %w", key, info.Err)
		}
		if name := strings.TrimPrefix(info.Key, prefix); validKey(name) {
			attachments = append(attachments, name)
		}
	}

	return objectdb.NewObjectInfo(key, fields, attachments, func(ctx context.Context, name string, w io.Writer) error {
		return s.copyAttachment(ctx, key, name, w)
	}), nil
}

func (s *Store) copyAttachment(ctx context.Context, key, name string, w io.Writer) error {
	obj, err := s.client.GetObject(ctx, s.bucket, s.attachmentKey(key, name), minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("get attachment %s/%s: %w", key, name, err)
	}
	defer obj.Close()

	if _, err := io.Copy(w, obj); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%s/%s: %w", key, name, objectdb.ErrAttachmentNotFound)
		}
		return fmt.Errorf("copy attachment %s/%s: %w", key, name, err)
	}
	return nil
}

// Close is a no-op; the MinIO client holds no per-store resources.
func (s *Store) Close() error { return nil }
