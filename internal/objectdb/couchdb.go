package objectdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	kivik "github.com/go-kivik/kivik/v4"
	"github.com/go-kivik/kivik/v4/couchdb"
)

const couchRequestTimeout = 30 * time.Second

// CouchDB reads objects stored as CouchDB documents. Fields are the
// document members not starting with "_"; attachments come from the
// "_attachments" stubs and are downloaded on demand.
type CouchDB struct {
	client     *kivik.Client
	db         *kivik.DB
	collection string
}

// NewCouchDB returns a CouchDB backend for the database collection on the
// server at root. client may be nil.
func NewCouchDB(root, collection string, client *http.Client) (*CouchDB, error) {
	if client == nil {
		client = &http.Client{Timeout: couchRequestTimeout}
	}
	c, err := kivik.New("couch", strings.TrimRight(root, "/"), couchdb.OptionHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("connect CouchDB %s: %w", root, err)
	}
	return &CouchDB{
		client:     c,
		db:         c.DB(collection),
		collection: collection,
	}, nil
}

func openCouchDB(_ context.Context, params Parameters) (ObjectDB, error) {
	root := params.String("root", DefaultCouchRoot)
	if _, err := url.ParseRequestURI(root); err != nil {
		return nil, fmt.Errorf("invalid CouchDB root %q: %w", root, err)
	}
	db, err := NewCouchDB(root, params.String("collection", DefaultCollection), nil)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// ObjectInfo fetches the document stored under key.
func (c *CouchDB) ObjectInfo(ctx context.Context, key string) (*ObjectInfo, error) {
	tracef("GET %s/%s", c.collection, key)

	var doc map[string]json.RawMessage
	if err := c.db.Get(ctx, key).ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, fmt.Errorf("couchdb %s: %s: %w", c.collection, key, ErrNotFound)
		}
		return nil, fmt.Errorf("fetch object %s: %w", key, err)
	}

	fields := make(map[string]any, len(doc))
	for name, raw := range doc {
		if strings.HasPrefix(name, "_") {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode field %s of object %s: %w", name, key, err)
		}
		fields[name] = v
	}

	var attachments []string
	if raw, ok := doc["_attachments"]; ok {
		var stubs map[string]json.RawMessage
		if err := json.Unmarshal(raw, &stubs); err != nil {
			return nil, fmt.Errorf("decode attachments of object %s: %w", key, err)
		}
		for name := range stubs {
			attachments = append(attachments, name)
		}
	}

	return NewObjectInfo(key, fields, attachments, func(ctx context.Context, name string, w io.Writer) error {
		return c.fetchAttachment(ctx, key, name, w)
	}), nil
}

func (c *CouchDB) fetchAttachment(ctx context.Context, key, name string, w io.Writer) error {
	att, err := c.db.GetAttachment(ctx, key, name)
	if err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return fmt.Errorf("%s/%s: %w", key, name, ErrAttachmentNotFound)
		}
		return fmt.Errorf("fetch attachment %s/%s: %w", key, name, err)
	}
	defer att.Content.Close()

	if _, err := io.Copy(w, att.Content); err != nil {
		return fmt.Errorf("copy attachment %s/%s: %w", key, name, err)
	}
	return nil
}

// Close waits for outstanding requests and releases the client.
func (c *CouchDB) Close() error {
	return c.client.Close()
}
