package main

import (
	"fmt"
	"os"

	"github.com/bnema/montage/config"
	"github.com/bnema/montage/internal/adapter/ffmpeg"
	sqlitestore "github.com/bnema/montage/internal/adapter/storage/sqlite"
	"github.com/bnema/montage/internal/infrastructure/logger"
	"github.com/bnema/montage/internal/infrastructure/scratch"
	"github.com/bnema/montage/internal/service"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const usage = `usage:
  montage [serve]                                   run the web editor
  montage render -project p.yaml -mode preview|export -out out.mp4
  montage version`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "version":
		fmt.Println(version)
		return 0
	case "help", "-h", "--help":
		fmt.Println(usage)
		return 0
	case "serve", "render":
	default:
		fmt.Fprintf(os.Stderr, "montage: unknown command %q\n%s\n", cmd, usage)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "montage: failed to load config: %v\n", err)
		return 1
	}
	if err := logger.Init(cfg.LogLevel, cfg.LogJSON); err != nil {
		fmt.Fprintf(os.Stderr, "montage: %v\n", err)
		return 1
	}

	if cmd == "render" {
		return render(cfg, args)
	}
	return serve(cfg)
}

// engine is what both commands share: the artifact index, the scratch area
// and the render pipeline built on them.
type engine struct {
	store    *sqlitestore.Store
	scratch  *scratch.Area
	cache    *service.Cache
	prober   *ffmpeg.Prober
	pipeline *service.Pipeline
}

func openEngine(cfg *config.Config) (*engine, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	store, err := sqlitestore.NewStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	area, err := scratch.New(cfg.ScratchDir)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	// Files listed by a previous run's index are gone with the scratch area.
	cache := service.NewCache(store)
	if err := cache.Purge(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("purge artifact index: %w", err)
	}

	return &engine{
		store:    store,
		scratch:  area,
		cache:    cache,
		prober:   ffmpeg.NewProber(cfg.FFprobePath),
		pipeline: service.NewPipeline(ffmpeg.NewEncoder(cfg.FFmpegPath), cache, area, cfg.Pipeline()),
	}, nil
}

func (e *engine) close() {
	if err := e.cache.Purge(); err != nil {
		logger.Warn.Printf("purge artifact index: %v", err)
	}
	if err := e.scratch.Close(); err != nil {
		logger.Warn.Printf("clear scratch area: %v", err)
	}
	if err := e.store.Close(); err != nil {
		logger.Warn.Printf("close store: %v", err)
	}
}
