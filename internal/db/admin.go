package db

import (
	"fmt"
	"net/http"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"
)

// AttachAdminRoutes mounts the tailsql live query console and a schema
// status page for the object database under /debug/ on mux.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "Object DB",
	})
	debug.Handle("tailsql/", "SQL live debugging of the object database", tsql.NewMux())

	debug.Handle("objectdb", "Object database schema and row counts", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		version, dirty, err := db.MigrateVersion()
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to read schema version: %v", err), http.StatusInternalServerError)
			return
		}
		var objects, attachments int
		if err := db.QueryRowContext(r.Context(), "SELECT COUNT(*) FROM objects").Scan(&objects); err != nil {
			http.Error(w, fmt.Sprintf("Failed to count objects: %v", err), http.StatusInternalServerError)
			return
		}
		if err := db.QueryRowContext(r.Context(), "SELECT COUNT(*) FROM object_attachments").Scan(&attachments); err != nil {
			http.Error(w, fmt.Sprintf("Failed to count attachments: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "path: %s\nschema_version: %d\ndirty: %v\nobjects: %d\nattachments: %d\n",
			db.path, version, dirty, objects, attachments)
	}))

	return nil
}
