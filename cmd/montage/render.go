package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/bnema/montage/config"
	"github.com/bnema/montage/internal/adapter/manifest"
	"github.com/bnema/montage/internal/adapter/tagreader"
	"github.com/bnema/montage/internal/domain"
	"github.com/bnema/montage/internal/infrastructure/logger"
	"github.com/bnema/montage/internal/infrastructure/scratch"
	"github.com/bnema/montage/internal/service"
)

// Exit code of a render cancelled with Ctrl-C.
const exitAborted = 130

type renderFlags struct {
	project string
	mode    string
	out     string
}

func parseRenderFlags(args []string) (renderFlags, error) {
	var f renderFlags
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&f.project, "project", "", "YAML project manifest")
	fs.StringVar(&f.mode, "mode", "preview", "preview or export")
	fs.StringVar(&f.out, "out", "", "output .mp4 path")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if fs.NArg() > 0 {
		return f, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	if f.project == "" {
		return f, errors.New("-project is required")
	}
	if f.mode != string(domain.JobKindPreview) && f.mode != string(domain.JobKindExport) {
		return f, fmt.Errorf("-mode must be preview or export, got %q", f.mode)
	}
	out, err := service.ValidateExportPath(absOrEmpty(f.out))
	if err != nil {
		return f, fmt.Errorf("-out: %w", err)
	}
	f.out = out
	return f, nil
}

func absOrEmpty(p string) string {
	if p == "" {
		return ""
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}

// render builds the manifest's compilation without the web editor and
// prints progress until the job ends.
func render(cfg *config.Config, args []string) int {
	flags, err := parseRenderFlags(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "montage render: %v\n%s\n", err, usage)
		return 2
	}

	m, err := manifest.Load(flags.project)
	if err != nil {
		logger.Error.Printf("%v", err)
		return 1
	}

	eng, err := openEngine(cfg)
	if err != nil {
		logger.Error.Printf("failed to start: %v", err)
		return 1
	}
	defer eng.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := service.NewTaskRunner(ctx, eng.pipeline, nil, nil)
	timeline, err := service.NewTimeline(manifest.NewStore(), eng.prober, eng.cache, runner,
		service.WithTagReader(tagreader.New()),
		service.WithProfiles(cfg.PreviewProfile, cfg.ExportProfile),
	)
	if err != nil {
		logger.Error.Printf("%v", err)
		return 1
	}

	if err := m.Apply(ctx, timeline); err != nil {
		logger.Error.Printf("%v", err)
		return 1
	}
	logger.Info.Printf("rendering %d items, %d tracks (%.1fs)", len(m.Items), len(m.Tracks), timeline.TotalDuration())

	var handle *service.Handle
	if flags.mode == string(domain.JobKindExport) {
		handle, err = timeline.Export(flags.out)
	} else {
		handle, err = timeline.Preview()
	}
	if err != nil {
		logger.Error.Printf("%v", err)
		return 1
	}

	for p := range handle.Progress() {
		fmt.Printf("%5.1f%%  %s\n", p.Percent, p.Message)
	}

	outcome := handle.Outcome()
	switch outcome.Kind {
	case domain.OutcomeAborted:
		fmt.Println("aborted")
		return exitAborted
	case domain.OutcomeFailed:
		logger.Error.Printf("render failed: %s", outcome.Message)
		return 1
	}

	// A preview lives in the scratch area, which is cleared on exit.
	if outcome.Path != flags.out {
		if err := scratch.CopyFile(outcome.Path, flags.out); err != nil {
			logger.Error.Printf("save preview: %v", err)
			return 1
		}
	}
	fmt.Printf("done: %s (%.1fs)\n", flags.out, outcome.Duration)
	return 0
}
