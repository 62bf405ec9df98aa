package main

import (
	"fmt"
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/objectdisplay/internal/db"
	"github.com/banshee-data/objectdisplay/internal/objectdb"
	"github.com/banshee-data/objectdisplay/internal/scene"
	"github.com/banshee-data/objectdisplay/internal/visualiser"
)

// attachAdminRoutes mounts the debug pages. When the default database is
// SQLite its tailsql console is mounted too; the returned func closes it.
func attachAdminRoutes(mux *http.ServeMux, defaultDB string, graph *scene.MemoryGraph, pub *visualiser.Publisher) (func(), error) {
	debug := tsweb.Debugger(mux)
	debug.Handle("scene", "Scene graph nodes of the current visuals", sceneHandler(graph))
	if pub != nil {
		debug.Handle("visualiser", "Visualiser stream statistics", publisherHandler(pub))
	}

	params, err := objectdb.ParseParameters(defaultDB)
	if err != nil {
		return nil, err
	}
	if params.Type != objectdb.TypeSQLite {
		return func() {}, nil
	}
	path := params.String("path", "")
	if path == "" {
		return nil, fmt.Errorf("SQLite default_db needs a \"path\"")
	}
	database, err := db.NewDB(path)
	if err != nil {
		return nil, fmt.Errorf("open object database: %w", err)
	}
	if err := database.AttachAdminRoutes(mux); err != nil {
		database.Close()
		return nil, err
	}
	return func() { database.Close() }, nil
}

func sceneHandler(graph *scene.MemoryGraph) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		nodes := graph.Snapshot()
		fmt.Fprintf(w, "nodes: %d\n", len(nodes))
		for _, n := range nodes {
			p := n.WorldPose.Translation
			fmt.Fprintf(w, "%d parent=%d %s pos=(%.3f, %.3f, %.3f)", n.ID, n.Parent, n.Name, p.X, p.Y, p.Z)
			if n.MeshURI != "" {
				fmt.Fprintf(w, " mesh=%s", n.MeshURI)
			}
			if n.Label != "" {
				fmt.Fprintf(w, " label=%q visible=%v", n.Label, n.LabelVisible)
			}
			fmt.Fprintln(w)
		}
	}
}

func publisherHandler(pub *visualiser.Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := pub.Stats()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "running: %v\naddr: %s\nclients: %d\nframes: %d\ndropped: %d\n",
			s.Running, pub.Addr(), s.ClientCount, s.FrameCount, s.DroppedFrames)
	}
}
