package service

import (
	"context"
	"errors"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bnema/montage/internal/domain"
	"github.com/bnema/montage/internal/infrastructure/scratch"
	"github.com/bnema/montage/internal/port"
)

// memIndex is an in-memory ArtifactIndex.
type memIndex struct {
	mu      sync.Mutex
	entries map[string]domain.Artifact
}

func newMemIndex() *memIndex {
	return &memIndex{entries: make(map[string]domain.Artifact)}
}

func (m *memIndex) Lookup(key string) (*domain.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.entries[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

func (m *memIndex) Put(a *domain.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[a.Key] = *a
	return nil
}

func (m *memIndex) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; !ok {
		return domain.ErrNotFound
	}
	delete(m.entries, key)
	return nil
}

func (m *memIndex) ListScope(scope domain.ArtifactScope) ([]domain.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Artifact
	for _, a := range m.entries {
		if a.Scope == scope {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memIndex) Purge() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]domain.Artifact)
	return nil
}

func (m *memIndex) count(scope domain.ArtifactScope) int {
	list, _ := m.ListScope(scope)
	return len(list)
}

// memProjectStore keeps the project in memory.
type memProjectStore struct {
	mu      sync.Mutex
	project *domain.Project
	saves   int
}

func (s *memProjectStore) Load() (*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.project == nil {
		return &domain.Project{}, nil
	}
	return s.project, nil
}

func (s *memProjectStore) Save(p *domain.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.project = p
	s.saves++
	return nil
}

// behavior scripts one fake encoder invocation.
type behavior struct {
	size     int       // bytes written to the output, 0 for none
	progress []float64 // encoded seconds reported before exit
	exitErr  error
	hang     bool // keep running until killed
	startErr error
}

var okBehavior = behavior{size: 4096}

type fakeProcess struct {
	progress chan float64
	done     chan struct{}
	err      error
	once     sync.Once
	killed   bool
	mu       sync.Mutex
}

func newFakeProcess(b behavior) *fakeProcess {
	p := &fakeProcess{
		progress: make(chan float64, len(b.progress)+1),
		done:     make(chan struct{}),
	}
	for _, v := range b.progress {
		p.progress <- v
	}
	if !b.hang {
		p.err = b.exitErr
		close(p.progress)
		close(p.done)
	}
	return p
}

func (p *fakeProcess) Progress() <-chan float64 { return p.progress }
func (p *fakeProcess) Done() <-chan struct{}    { return p.done }
func (p *fakeProcess) Diagnostics() string      { return "fake diagnostics" }

func (p *fakeProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *fakeProcess) Kill() error {
	p.once.Do(func() {
		p.mu.Lock()
		p.killed = true
		p.err = errors.New("signal: killed")
		p.mu.Unlock()
		select {
		case <-p.done:
		default:
			close(p.progress)
			close(p.done)
		}
	})
	return nil
}

func (p *fakeProcess) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// fakeEncoder records every invocation and writes outputs per behavior.
type fakeEncoder struct {
	mu sync.Mutex

	transcodes    []string // item ids in call order
	concatCopies  [][]string
	concatFilters [][]string
	mixes         []port.MixRequest
	procs         []*fakeProcess

	onTranscode    func(req port.TranscodeRequest) behavior
	onConcatCopy   func(req port.ConcatRequest) behavior
	onConcatFilter func(req port.ConcatRequest) behavior
	onMix          func(req port.MixRequest) behavior
	started        chan struct{}
}

func newFakeEncoder() *fakeEncoder {
	return &fakeEncoder{started: make(chan struct{}, 64)}
}

func (e *fakeEncoder) start(b behavior, output string) (port.Process, error) {
	if b.startErr != nil {
		return nil, b.startErr
	}
	if b.size > 0 {
		if err := os.WriteFile(output, make([]byte, b.size), 0644); err != nil {
			return nil, err
		}
	}
	p := newFakeProcess(b)
	e.mu.Lock()
	e.procs = append(e.procs, p)
	e.mu.Unlock()
	select {
	case e.started <- struct{}{}:
	default:
	}
	return p, nil
}

func (e *fakeEncoder) Transcode(_ context.Context, req port.TranscodeRequest) (port.Process, error) {
	e.mu.Lock()
	e.transcodes = append(e.transcodes, req.Item.ID)
	e.mu.Unlock()
	b := okBehavior
	if e.onTranscode != nil {
		b = e.onTranscode(req)
	}
	return e.start(b, req.Output)
}

func (e *fakeEncoder) ConcatCopy(_ context.Context, req port.ConcatRequest) (port.Process, error) {
	e.mu.Lock()
	e.concatCopies = append(e.concatCopies, append([]string(nil), req.Inputs...))
	e.mu.Unlock()
	b := okBehavior
	if e.onConcatCopy != nil {
		b = e.onConcatCopy(req)
	}
	return e.start(b, req.Output)
}

func (e *fakeEncoder) ConcatFilter(_ context.Context, req port.ConcatRequest) (port.Process, error) {
	e.mu.Lock()
	e.concatFilters = append(e.concatFilters, append([]string(nil), req.Inputs...))
	e.mu.Unlock()
	b := okBehavior
	if e.onConcatFilter != nil {
		b = e.onConcatFilter(req)
	}
	return e.start(b, req.Output)
}

func (e *fakeEncoder) Mix(_ context.Context, req port.MixRequest) (port.Process, error) {
	e.mu.Lock()
	e.mixes = append(e.mixes, req)
	e.mu.Unlock()
	b := okBehavior
	if e.onMix != nil {
		b = e.onMix(req)
	}
	return e.start(b, req.Output)
}

func (e *fakeEncoder) transcodeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.transcodes)
}

func (e *fakeEncoder) transcodeOrder() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.transcodes...)
}

func (e *fakeEncoder) lastProcess() *fakeProcess {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.procs) == 0 {
		return nil
	}
	return e.procs[len(e.procs)-1]
}

func newScratch(t *testing.T) *scratch.Area {
	t.Helper()
	area, err := scratch.New(t.TempDir())
	require.NoError(t, err)
	return area
}

// writeFile creates a file of size bytes in dir.
func writeFile(t *testing.T, path string, size int) string {
	t.Helper()
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0644))
	return path
}

func trimmedVideo(t *testing.T, path string, start, end float64) domain.MediaItem {
	t.Helper()
	item := domain.NewVideoItem(path, domain.Metadata{Duration: 60, Width: 1280, Height: 720, HasAudio: true})
	require.NoError(t, item.SetTrim(start, end))
	item.Pending = false
	return *item
}

func itemsPtr(items []domain.MediaItem) []*domain.MediaItem {
	out := make([]*domain.MediaItem, len(items))
	for i := range items {
		out[i] = &items[i]
	}
	return out
}

func testConfig() PipelineConfig {
	return PipelineConfig{
		PollInterval:        5 * time.Millisecond,
		ConcatTimeout:       DefaultConcatTimeout,
		ConcatFilterTimeout: DefaultConcatFilterTimeout,
		MixTimeout:          DefaultMixTimeout,
	}
}
