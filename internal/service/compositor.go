package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/montage/internal/domain"
	"github.com/bnema/montage/internal/infrastructure/logger"
	"github.com/bnema/montage/internal/infrastructure/scratch"
	"github.com/bnema/montage/internal/port"
)

const (
	DefaultConcatTimeout       = 60 * time.Second
	DefaultConcatFilterTimeout = 60 * time.Second
	// Filter concatenation gets this much more time per item beyond
	// filterBudgetItems.
	filterBudgetPerItem = 5 * time.Second
	filterBudgetItems   = 12
)

// Compositor joins intermediates in order, escalating from stream copy to a
// re-encoding filter graph to passing a single intermediate through.
type Compositor struct {
	encoder      port.Encoder
	poll         time.Duration
	copyBudget   time.Duration
	filterBudget time.Duration
}

func NewCompositor(encoder port.Encoder, poll, copyBudget, filterBudget time.Duration) *Compositor {
	if copyBudget <= 0 {
		copyBudget = DefaultConcatTimeout
	}
	if filterBudget <= 0 {
		filterBudget = DefaultConcatFilterTimeout
	}
	return &Compositor{
		encoder:      encoder,
		poll:         poll,
		copyBudget:   copyBudget,
		filterBudget: filterBudget,
	}
}

// FilterBudget is the Tier 2 wall-clock budget for n inputs.
func (c *Compositor) FilterBudget(n int) time.Duration {
	if n <= filterBudgetItems {
		return c.filterBudget
	}
	return c.filterBudget + time.Duration(n-filterBudgetItems)*filterBudgetPerItem
}

// Compose writes the concatenation of inputs to output and returns its
// duration. It returns domain.ErrAborted on cancellation and a
// *domain.CompositionError once every tier failed. progress receives percent
// in [0, 100].
func (c *Compositor) Compose(ctx context.Context, inputs []domain.Artifact, output, workDir string, profile domain.Profile, progress func(float64)) (float64, error) {
	if progress == nil {
		progress = func(float64) {}
	}
	if len(inputs) == 0 {
		return 0, &domain.CompositionError{Attempts: []error{domain.ErrNoItems}}
	}
	if len(inputs) == 1 {
		d, err := c.passthrough(inputs, output)
		if err != nil {
			return 0, &domain.CompositionError{Attempts: []error{err}}
		}
		progress(100)
		return d, nil
	}

	req := port.ConcatRequest{
		Inputs:   make([]string, len(inputs)),
		HasAudio: make([]bool, len(inputs)),
		Output:   output,
		Profile:  profile,
		WorkDir:  workDir,
	}
	var expected float64
	for i, a := range inputs {
		req.Inputs[i] = a.Path
		req.HasAudio[i] = a.HasAudio
		expected += a.Duration
	}

	tiers := []struct {
		name   string
		budget time.Duration
		start  func(context.Context, port.ConcatRequest) (port.Process, error)
	}{
		{name: "stream-copy concat", budget: c.copyBudget, start: c.encoder.ConcatCopy},
		{name: "filter concat", budget: c.FilterBudget(len(inputs)), start: c.encoder.ConcatFilter},
	}

	var attempts []error
	for _, tier := range tiers {
		err := c.runTier(ctx, tier.name, tier.budget, tier.start, req, expected, progress)
		if err == nil {
			progress(100)
			return expected, nil
		}
		if errors.Is(err, domain.ErrAborted) {
			return 0, err
		}
		logger.Warn.Printf("%s failed, escalating: %v", tier.name, err)
		attempts = append(attempts, fmt.Errorf("%s: %w", tier.name, err))
	}

	if ctx.Err() != nil {
		return 0, domain.ErrAborted
	}
	d, err := c.passthrough(inputs, output)
	if err != nil {
		attempts = append(attempts, fmt.Errorf("passthrough: %w", err))
		return 0, &domain.CompositionError{Attempts: attempts}
	}
	logger.Warn.Printf("composition fell back to a single intermediate")
	progress(100)
	return d, nil
}

func (c *Compositor) runTier(
	ctx context.Context,
	name string,
	budget time.Duration,
	start func(context.Context, port.ConcatRequest) (port.Process, error),
	req port.ConcatRequest,
	expected float64,
	progress func(float64),
) error {
	progress(0)
	proc, err := start(ctx, req)
	if err != nil {
		removeQuietly(req.Output)
		if ctx.Err() != nil {
			return domain.ErrAborted
		}
		return err
	}

	err = supervise(ctx, proc, name, c.poll, budget, func(sec float64) {
		progress(percentOf(sec, expected, 99))
	})
	if err != nil {
		removeQuietly(req.Output)
		return err
	}
	if size, ok := domain.ValidFile(req.Output); !ok {
		removeQuietly(req.Output)
		return fmt.Errorf("output missing or undersized (%d bytes)", size)
	}
	return nil
}

// passthrough copies the first valid intermediate to output.
func (c *Compositor) passthrough(inputs []domain.Artifact, output string) (float64, error) {
	for _, a := range inputs {
		if _, ok := domain.ValidFile(a.Path); !ok {
			continue
		}
		if err := scratch.CopyFile(a.Path, output); err != nil {
			return 0, err
		}
		return a.Duration, nil
	}
	return 0, errors.New("no valid intermediate")
}
