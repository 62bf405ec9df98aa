// Command objectdb-import copies objects from a filesystem object database
// into a SQLite object database.
//
// The source is laid out as <src>/<collection>/<key>/object.json with
// attachments under <key>/attachments/. Existing objects are replaced.
//
// Usage:
//
//	objectdb-import -src ./objects -db objects.db [-collection object_recognition] [-zstd]
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/banshee-data/objectdisplay/internal/objectdb"
	"github.com/banshee-data/objectdisplay/internal/version"
)

var (
	srcDir     = flag.String("src", "", "Filesystem object database root")
	dbPath     = flag.String("db", "objects.db", "SQLite object database to write")
	collection = flag.String("collection", objectdb.DefaultCollection, "Collection to copy")
	compress   = flag.Bool("zstd", true, "Store attachments zstd-compressed")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()
	if *showVer {
		fmt.Println("objectdb-import", version.String())
		return
	}
	if *srcDir == "" {
		log.Fatal("-src is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := objectdb.OpenSQLiteStore(*dbPath, *collection)
	if err != nil {
		log.Fatalf("Failed to open %s: %v", *dbPath, err)
	}
	defer store.Close()

	n, err := importCollection(ctx, *srcDir, store, *compress)
	if err != nil {
		log.Fatalf("Import failed after %d objects: %v", n, err)
	}
	log.Printf("Imported %d objects from %s into %s (collection %s)", n, *srcDir, *dbPath, store.Collection())
}

// importCollection copies every object of dst's collection found under
// src, in key order, and returns how many were copied.
func importCollection(ctx context.Context, src string, dst *objectdb.SQLiteStore, compress bool) (int, error) {
	entries, err := os.ReadDir(filepath.Join(src, dst.Collection()))
	if err != nil {
		return 0, fmt.Errorf("list objects: %w", err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			keys = append(keys, e.Name())
		}
	}
	sort.Strings(keys)

	source := objectdb.NewFilesystemDB(src, dst.Collection())
	copied := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		if err := copyObject(ctx, source, dst, key, compress); err != nil {
			return copied, err
		}
		copied++
	}
	return copied, nil
}

func copyObject(ctx context.Context, src objectdb.ObjectDB, dst *objectdb.SQLiteStore, key string, compress bool) error {
	info, err := src.ObjectInfo(ctx, key)
	if err != nil {
		return err
	}

	if _, err := dst.PutObject(ctx, key, info.Fields); err != nil {
		return err
	}

	for _, name := range info.AttachmentNames() {
		var buf bytes.Buffer
		if err := info.WriteAttachment(ctx, name, &buf); err != nil {
			return err
		}
		if err := dst.PutAttachment(ctx, key, name, contentType(name), buf.Bytes(), compress); err != nil {
			return err
		}
	}
	log.Printf("[Import] %s: %d fields, %d attachments", key, len(info.Fields), len(info.AttachmentNames()))
	return nil
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".stl", "":
		return "model/stl"
	case ".obj":
		return "model/obj"
	case ".dae":
		return "model/vnd.collada+xml"
	case ".json":
		return "application/json"
	}
	return "application/octet-stream"
}
