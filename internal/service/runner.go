package service

import (
	"context"
	"sync"

	"github.com/bnema/montage/internal/domain"
	"github.com/bnema/montage/internal/infrastructure/logger"
	"github.com/bnema/montage/internal/port"
)

// JobExecutor runs one job to completion. *Pipeline implements it.
type JobExecutor interface {
	Run(ctx context.Context, job *domain.Job, progress ProgressFunc) domain.Outcome
}

// Progress is one progress report of a running job.
type Progress struct {
	Percent float64
	Message string
}

// Handle tracks one submitted job.
type Handle struct {
	job      *domain.Job
	progress chan Progress
	done     chan struct{}
	cancel   context.CancelFunc

	mu      sync.Mutex
	last    float64
	outcome domain.Outcome
}

func (h *Handle) ID() string { return h.job.ID }

func (h *Handle) Job() *domain.Job { return h.job }

// Progress yields reports with non-decreasing percent. It is closed when the
// job ends. Reports are dropped, never queued, when the reader lags.
func (h *Handle) Progress() <-chan Progress { return h.progress }

// Done is closed once the outcome is available.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Outcome blocks until the job ends.
func (h *Handle) Outcome() domain.Outcome {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outcome
}

// Cancel requests cooperative cancellation.
func (h *Handle) Cancel() {
	h.cancel()
}

// LastPercent is the highest percent reported so far.
func (h *Handle) LastPercent() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// report clamps percent to [last, 100] and returns the clamped value.
func (h *Handle) report(percent float64, message string) Progress {
	h.mu.Lock()
	if percent > 100 {
		percent = 100
	}
	if percent < h.last {
		percent = h.last
	}
	h.last = percent
	h.mu.Unlock()

	p := Progress{Percent: percent, Message: message}
	select {
	case h.progress <- p:
	default:
	}
	return p
}

// TaskRunner runs at most one job at a time on its own goroutine.
type TaskRunner struct {
	base     context.Context
	executor JobExecutor
	jobs     port.JobStore
	events   EventPublisher

	mu     sync.Mutex
	active *Handle
	wg     sync.WaitGroup
}

// NewTaskRunner binds job lifetimes to ctx. jobs and events may be nil.
func NewTaskRunner(ctx context.Context, executor JobExecutor, jobs port.JobStore, events EventPublisher) *TaskRunner {
	return &TaskRunner{
		base:     ctx,
		executor: executor,
		jobs:     jobs,
		events:   events,
	}
}

// Submit starts job unless another one is in flight, in which case it
// returns domain.ErrBusy.
func (r *TaskRunner) Submit(job *domain.Job) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return nil, domain.ErrBusy
	}

	if r.jobs != nil {
		if err := r.jobs.Create(domain.NewJobRecord(job)); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(r.base)
	h := &Handle{
		job:      job,
		progress: make(chan Progress, 64),
		done:     make(chan struct{}),
		cancel:   cancel,
	}
	r.active = h
	r.wg.Add(1)

	go r.execute(ctx, h)

	logger.Info.Printf("job %s submitted (%s, %d items, %d tracks)", job.ID, job.Kind, len(job.Items), len(job.Tracks))
	return h, nil
}

func (r *TaskRunner) execute(ctx context.Context, h *Handle) {
	defer r.wg.Done()
	defer h.cancel()

	job := h.job
	if r.jobs != nil {
		if err := r.jobs.MarkRunning(job.ID); err != nil {
			logger.Error.Printf("job %s: mark running: %v", job.ID, err)
		}
	}

	outcome := r.executor.Run(ctx, job, func(percent float64, message string) {
		p := h.report(percent, message)
		r.publish(job.ID, Event{Type: EventProgress, Percent: p.Percent, Message: p.Message})
	})

	switch outcome.Kind {
	case domain.OutcomeDone:
		logger.Info.Printf("job %s done: %s (%.1fs)", job.ID, logger.SanitizeForLog(outcome.Path), outcome.Duration)
	case domain.OutcomeAborted:
		logger.Info.Printf("job %s aborted", job.ID)
	default:
		logger.Error.Printf("job %s failed: %s", job.ID, outcome.Message)
	}

	if r.jobs != nil {
		if err := r.jobs.Finish(job.ID, outcome.JobStatus(), outcome.Path, outcome.Duration, outcome.Message); err != nil {
			logger.Error.Printf("job %s: record outcome: %v", job.ID, err)
		}
	}

	r.mu.Lock()
	r.active = nil
	r.mu.Unlock()

	h.mu.Lock()
	h.outcome = outcome
	h.mu.Unlock()
	close(h.progress)
	close(h.done)

	r.publish(job.ID, terminalEvent(outcome, h.LastPercent()))
}

func (r *TaskRunner) publish(jobID string, e Event) {
	if r.events != nil {
		r.events.Publish(jobID, e)
	}
}

func terminalEvent(o domain.Outcome, percent float64) Event {
	switch o.Kind {
	case domain.OutcomeDone:
		return Event{Type: EventDone, Percent: 100, Path: o.Path, Duration: o.Duration}
	case domain.OutcomeAborted:
		return Event{Type: EventAborted, Percent: percent, Message: o.Message}
	default:
		return Event{Type: EventFailed, Percent: percent, Message: o.Message}
	}
}

// Active returns the in-flight job, or nil.
func (r *TaskRunner) Active() *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Cancel cancels the in-flight job with the given id.
func (r *TaskRunner) Cancel(jobID string) error {
	r.mu.Lock()
	h := r.active
	r.mu.Unlock()

	if h == nil || h.ID() != jobID {
		return domain.ErrNotFound
	}
	h.Cancel()
	return nil
}

// Shutdown cancels the in-flight job and waits for it to end or for ctx to
// expire.
func (r *TaskRunner) Shutdown(ctx context.Context) error {
	if h := r.Active(); h != nil {
		h.Cancel()
	}
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
