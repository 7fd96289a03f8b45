package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bnema/montage/internal/domain"
	"github.com/bnema/montage/internal/infrastructure/logger"
	"github.com/bnema/montage/internal/port"
)

// DefaultPollInterval bounds cancellation latency of every supervised
// subprocess.
const DefaultPollInterval = 100 * time.Millisecond

// supervise waits for proc while polling for cancellation and the stage
// budget. It returns domain.ErrAborted when ctx is cancelled and a
// *domain.TimeoutError when the budget runs out; the process is killed in
// both cases. onProgress receives encoded seconds.
func supervise(ctx context.Context, proc port.Process, stage string, poll, budget time.Duration, onProgress func(float64)) error {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	started := time.Now()
	progress := proc.Progress()

	stop := func(reason error) error {
		_ = proc.Kill()
		<-proc.Done()
		return reason
	}

	for {
		select {
		case <-ctx.Done():
			return stop(domain.ErrAborted)
		case sec, ok := <-progress:
			if !ok {
				progress = nil
				continue
			}
			if ctx.Err() != nil {
				return stop(domain.ErrAborted)
			}
			if onProgress != nil {
				onProgress(sec)
			}
		case <-proc.Done():
			if ctx.Err() != nil {
				return domain.ErrAborted
			}
			drainProgress(progress, onProgress)
			if err := proc.Err(); err != nil {
				return processError(err, proc.Diagnostics())
			}
			return nil
		case <-ticker.C:
			if ctx.Err() != nil {
				return stop(domain.ErrAborted)
			}
			if budget > 0 && time.Since(started) > budget {
				return stop(&domain.TimeoutError{Stage: stage, Budget: budget})
			}
		}
	}
}

// drainProgress delivers reports still buffered when the process exited.
func drainProgress(progress <-chan float64, onProgress func(float64)) {
	for progress != nil {
		select {
		case sec, ok := <-progress:
			if !ok {
				return
			}
			if onProgress != nil {
				onProgress(sec)
			}
		default:
			return
		}
	}
}

// processError attaches the sanitized tail of the encoder's diagnostics,
// which ends up in job records and log lines.
func processError(err error, diagnostics string) error {
	if strings.TrimSpace(diagnostics) == "" {
		return err
	}
	return fmt.Errorf("%w: %s", err, logger.TailForLog(diagnostics))
}

// percentOf maps encoded seconds onto [0, ceiling] of an expected length.
func percentOf(seconds, expected, ceiling float64) float64 {
	if expected <= 0 || seconds <= 0 {
		return 0
	}
	pct := seconds / expected * 100
	if pct > ceiling {
		return ceiling
	}
	return pct
}

// removeQuietly deletes a partial output; a missing file is not an error.
func removeQuietly(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}
