// Command objectdisplay replays recognized-object detections through the
// display pipeline and streams the resulting scene to gRPC viewers.
//
// Usage:
//
//	objectdisplay [flags] -replay detections.jsonl
//
// Flags:
//
//	-config  Display config JSON (default: built-in defaults)
//	-env     Optional .env file with MINIO_* credentials (default: .env)
//	-replay  JSON-lines replay file, "-" for stdin
//	-rate    Replay speed; 0 is as fast as possible, 1 is real time
//	-hold    Keep serving the last scene after the replay ends
//	-diag    Enable per-message diagnostic logging
//	-trace   Enable per-detection trace logging
//	-version Print version and exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/banshee-data/objectdisplay/internal/config"
	"github.com/banshee-data/objectdisplay/internal/fsutil"
	"github.com/banshee-data/objectdisplay/internal/meshcache"
	"github.com/banshee-data/objectdisplay/internal/meshload"
	"github.com/banshee-data/objectdisplay/internal/objectdb"
	"github.com/banshee-data/objectdisplay/internal/objectdb/miniodb"
	"github.com/banshee-data/objectdisplay/internal/pipeline"
	"github.com/banshee-data/objectdisplay/internal/replay"
	"github.com/banshee-data/objectdisplay/internal/scene"
	"github.com/banshee-data/objectdisplay/internal/tf"
	"github.com/banshee-data/objectdisplay/internal/version"
	"github.com/banshee-data/objectdisplay/internal/visualiser"
)

var (
	configPath = flag.String("config", "", "Display config JSON file")
	envFile    = flag.String("env", ".env", "Optional .env file loaded before start")
	replayPath = flag.String("replay", "", "JSON-lines replay file, \"-\" for stdin")
	rate       = flag.Float64("rate", 0, "Replay speed; 0 is as fast as possible, 1 is real time")
	hold       = flag.Bool("hold", false, "Keep serving the last scene after the replay ends")
	diag       = flag.Bool("diag", false, "Enable per-message diagnostic logging")
	trace      = flag.Bool("trace", false, "Enable per-detection trace logging")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Println("objectdisplay", version.String())
		return
	}
	log.Printf("objectdisplay %s", version.String())

	if *replayPath == "" {
		log.Fatal("-replay is required")
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("Failed to load %s: %v", *envFile, err)
	}

	cfg := config.DefaultDisplayConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadDisplayConfig(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	setLogWriters(*diag, *trace)

	registry := objectdb.NewRegistry()
	if err := miniodb.Register(registry); err != nil {
		log.Fatalf("Failed to register MinIO backend: %v", err)
	}

	resolverOpts := cfg.ResolverOptions()
	resolverOpts.FS = fsutil.OSFileSystem{}
	resolver := meshcache.NewResolver(registry,
		meshload.NewResourceLoader(fsutil.OSFileSystem{}, &http.Client{Timeout: 30 * time.Second}),
		resolverOpts)

	buffer := tf.NewBuffer(cfg.GetTransformCache())
	graph := scene.NewMemoryGraph()
	display, err := pipeline.New(resolver, buffer, graph, cfg.PipelineOptions())
	if err != nil {
		log.Fatalf("Failed to create pipeline: %v", err)
	}

	var publisher *visualiser.Publisher
	if addr := cfg.GetVisualiserListenAddr(); addr != "" {
		pubCfg := visualiser.DefaultConfig()
		pubCfg.ListenAddr = addr
		publisher = visualiser.NewPublisher(pubCfg)
		if err := publisher.Start(); err != nil {
			log.Fatalf("Failed to start visualiser: %v", err)
		}
		display.OnUpdate(func(res pipeline.Result, visuals []*scene.Visual) {
			publisher.Publish(visualiser.NewSceneFrame(display.Options().FixedFrame, res, visuals, graph))
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	if addr := cfg.GetAdminListenAddr(); addr != "" {
		mux := http.NewServeMux()
		closeAdmin, err := attachAdminRoutes(mux, cfg.GetDefaultDB(), graph, publisher)
		if err != nil {
			log.Fatalf("Failed to set up admin routes: %v", err)
		}
		defer closeAdmin()

		wg.Add(1)
		go func() {
			defer wg.Done()
			serveAdmin(ctx, addr, mux)
		}()
	}

	in, closeIn, err := openReplay(*replayPath)
	if err != nil {
		log.Fatalf("Failed to open replay: %v", err)
	}
	player := replay.NewPlayer(buffer, display, replay.Options{DefaultDB: cfg.GetDefaultDB(), Rate: *rate})
	stats, err := player.Play(ctx, in)
	closeIn()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("Replay stopped: %v", err)
	}
	log.Printf("Replay done: lines=%d transforms=%d batches=%d resets=%d skipped=%d",
		stats.Lines, stats.Transforms, stats.Batches, stats.Resets, stats.Skipped)

	rs := resolver.Stats()
	log.Printf("Resolver: hits=%d misses=%d backends=%d temp_files=%d plugin_failures=%d metadata_failures=%d mesh_failures=%d",
		rs.Hits, rs.Misses, rs.BackendOpens, rs.TempFiles,
		rs.Failures[meshcache.KindPluginLoad], rs.Failures[meshcache.KindMetadataUnavailable], rs.Failures[meshcache.KindMeshLoad])

	if *hold && ctx.Err() == nil {
		log.Printf("Holding the last scene, Ctrl-C to exit")
		<-ctx.Done()
	}
	stop()

	if err := display.Close(); err != nil {
		log.Printf("Display teardown: %v", err)
	}
	if publisher != nil {
		publisher.Stop()
	}
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

func setLogWriters(diag, trace bool) {
	var diagW, traceW io.Writer
	if diag {
		diagW = os.Stderr
	}
	if trace {
		traceW = os.Stderr
	}
	objectdb.SetLogWriters(os.Stderr, diagW, traceW)
	meshcache.SetLogWriters(os.Stderr, diagW, traceW)
	pipeline.SetLogWriters(os.Stderr, diagW, traceW)
}

func openReplay(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

func serveAdmin(ctx context.Context, addr string, mux *http.ServeMux) {
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Admin server failed: %v", err)
		}
	}()
	log.Printf("Admin server listening on %s", addr)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Admin server shutdown error: %v", err)
	}
}
