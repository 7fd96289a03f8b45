package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/bnema/montage/config"
	HTTPAdapter "github.com/bnema/montage/internal/adapter/http"
	"github.com/bnema/montage/internal/adapter/storage/jsonfile"
	sqlitestore "github.com/bnema/montage/internal/adapter/storage/sqlite"
	"github.com/bnema/montage/internal/adapter/tagreader"
	"github.com/bnema/montage/internal/adapter/watcher"
	"github.com/bnema/montage/internal/infrastructure/logger"
	"github.com/bnema/montage/internal/service"
)

const shutdownTimeout = 30 * time.Second

func serve(cfg *config.Config) int {
	if err := cfg.RequireSecret(); err != nil {
		logger.Error.Printf("%v", err)
		return 1
	}

	logger.Info.Printf("starting montage %s on port %d", version, cfg.Port)

	eng, err := openEngine(cfg)
	if err != nil {
		logger.Error.Printf("failed to start: %v", err)
		return 1
	}
	defer eng.close()

	jobs := sqlitestore.NewJobStore(eng.store)
	if err := jobs.ResetStalled(); err != nil {
		logger.Warn.Printf("reset stalled jobs: %v", err)
	}

	projects, err := jsonfile.NewStore(cfg.DataDir)
	if err != nil {
		logger.Error.Printf("failed to open project: %v", err)
		return 1
	}

	sources, err := watcher.New(watcher.DefaultDebounce)
	if err != nil {
		logger.Error.Printf("failed to create source watcher: %v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eventBus := service.NewEventBus()
	// Jobs inherit ctx, so a signal aborts the one in flight.
	runner := service.NewTaskRunner(ctx, eng.pipeline, jobs, eventBus)

	timeline, err := service.NewTimeline(projects, eng.prober, eng.cache, runner,
		service.WithTagReader(tagreader.New()),
		service.WithSourceWatcher(sources),
		service.WithProfiles(cfg.PreviewProfile, cfg.ExportProfile),
	)
	if err != nil {
		logger.Error.Printf("failed to load timeline: %v", err)
		return 1
	}
	eng.pipeline.SetListener(timeline)

	server := HTTPAdapter.NewServer(HTTPAdapter.Options{
		Auth:        service.NewAuthService(eng.store, cfg.AuthSecret),
		Editor:      timeline,
		Runner:      runner,
		Jobs:        jobs,
		Events:      eventBus,
		Secret:      cfg.AuthSecret,
		Version:     version,
		BehindProxy: cfg.BehindProxy,
	})

	go func() {
		if err := sources.Run(ctx, timeline.SourceChanged); err != nil {
			logger.Error.Printf("source watcher stopped: %v", err)
		}
	}()
	go server.RunMaintenance(ctx)

	// No write timeout: progress streams stay open for a whole job.
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info.Printf("server listening on %s", cfg.Addr())
		serveErr <- httpServer.ListenAndServe()
	}()

	code := 0
	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error.Printf("server failed: %v", err)
			code = 1
		}
		stop()
	case <-ctx.Done():
		logger.Info.Printf("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error.Printf("http shutdown error: %v", err)
	}
	if err := runner.Shutdown(shutdownCtx); err != nil {
		logger.Error.Printf("job shutdown error: %v", err)
	}

	logger.Info.Printf("shutdown complete")
	return code
}
