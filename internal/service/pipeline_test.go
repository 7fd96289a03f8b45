package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/montage/internal/domain"
	"github.com/bnema/montage/internal/infrastructure/scratch"
	"github.com/bnema/montage/internal/port"
)

type recordingListener struct {
	mu       sync.Mutex
	rendered []string
	failed   []string
	finished []domain.Outcome
}

func (l *recordingListener) ItemRendered(item domain.MediaItem, _ string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rendered = append(l.rendered, item.ID)
}

func (l *recordingListener) ItemFailed(item domain.MediaItem, _ string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failed = append(l.failed, item.ID)
}

func (l *recordingListener) JobFinished(_ *domain.Job, o domain.Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finished = append(l.finished, o)
}

type pipelineFixture struct {
	enc      *fakeEncoder
	area     *scratch.Area
	index    *memIndex
	pipeline *Pipeline
	listener *recordingListener
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		enc:      newFakeEncoder(),
		area:     newScratch(t),
		index:    newMemIndex(),
		listener: &recordingListener{},
	}
	f.pipeline = NewPipeline(f.enc, NewCache(f.index), f.area, testConfig())
	f.pipeline.SetListener(f.listener)
	return f
}

func threeItems(t *testing.T) []domain.MediaItem {
	return []domain.MediaItem{
		trimmedVideo(t, "/media/a.mp4", 0, 5),
		trimmedVideo(t, "/media/b.mp4", 10, 13),
		trimmedVideo(t, "/media/c.mp4", 20, 24),
	}
}

func ids(items []domain.MediaItem) []string {
	out := make([]string, len(items))
	for i := range items {
		out[i] = items[i].ID
	}
	return out
}

func TestPipeline_PreviewInOrder(t *testing.T) {
	f := newPipelineFixture(t)
	items := threeItems(t)
	job := domain.NewJob(domain.JobKindPreview, itemsPtr(items), nil, domain.PreviewProfile(), "")

	var percents []float64
	outcome := f.pipeline.Run(context.Background(), job, func(p float64, _ string) { percents = append(percents, p) })

	require.Equal(t, domain.OutcomeDone, outcome.Kind, outcome.Message)
	assert.InDelta(t, 12.0, outcome.Duration, 0.001)
	assert.True(t, f.area.Contains(outcome.Path))
	assert.Equal(t, ids(items), f.enc.transcodeOrder())
	require.Len(t, f.enc.concatCopies, 1)
	assert.Len(t, f.enc.concatCopies[0], 3)

	require.NotEmpty(t, percents)
	assert.Equal(t, 100.0, percents[len(percents)-1])
	for _, p := range percents {
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 100.0)
	}

	assert.Equal(t, ids(items), f.listener.rendered)
	require.Len(t, f.listener.finished, 1)
	assert.Equal(t, domain.OutcomeDone, f.listener.finished[0].Kind)
	assert.Equal(t, 3, f.index.count(domain.ScopeItem))
	assert.Equal(t, 1, f.index.count(domain.ScopeAggregate))
}

func TestPipeline_PreviewServedFromAggregate(t *testing.T) {
	f := newPipelineFixture(t)
	items := threeItems(t)
	first := f.pipeline.Run(context.Background(), domain.NewJob(domain.JobKindPreview, itemsPtr(items), nil, domain.PreviewProfile(), ""), nil)
	require.Equal(t, domain.OutcomeDone, first.Kind)

	second := f.pipeline.Run(context.Background(), domain.NewJob(domain.JobKindPreview, itemsPtr(items), nil, domain.PreviewProfile(), ""), nil)

	require.Equal(t, domain.OutcomeDone, second.Kind)
	assert.Equal(t, first.Path, second.Path)
	assert.Equal(t, 3, f.enc.transcodeCount())
	assert.Len(t, f.enc.concatCopies, 1)
}

func TestPipeline_EditedItemReusesOthers(t *testing.T) {
	f := newPipelineFixture(t)
	items := threeItems(t)
	require.Equal(t, domain.OutcomeDone, f.pipeline.Run(context.Background(), domain.NewJob(domain.JobKindPreview, itemsPtr(items), nil, domain.PreviewProfile(), ""), nil).Kind)

	require.NoError(t, items[1].SetRotation(90))
	outcome := f.pipeline.Run(context.Background(), domain.NewJob(domain.JobKindPreview, itemsPtr(items), nil, domain.PreviewProfile(), ""), nil)

	require.Equal(t, domain.OutcomeDone, outcome.Kind)
	assert.Equal(t, append(ids(items), items[1].ID), f.enc.transcodeOrder())
	assert.Len(t, f.enc.concatCopies, 2)
}

func TestPipeline_SkipsFailedItem(t *testing.T) {
	f := newPipelineFixture(t)
	items := threeItems(t)
	f.enc.onTranscode = func(req port.TranscodeRequest) behavior {
		if req.Item.ID == items[1].ID {
			return behavior{exitErr: errors.New("exit status 1")}
		}
		return okBehavior
	}

	outcome := f.pipeline.Run(context.Background(), domain.NewJob(domain.JobKindPreview, itemsPtr(items), nil, domain.PreviewProfile(), ""), nil)

	require.Equal(t, domain.OutcomeDone, outcome.Kind)
	assert.InDelta(t, 9.0, outcome.Duration, 0.001)
	assert.Equal(t, []string{items[0].ID, items[2].ID}, f.listener.rendered)
	assert.Equal(t, []string{items[1].ID}, f.listener.failed)
}

func TestPipeline_AllItemsFail(t *testing.T) {
	fail := func(port.TranscodeRequest) behavior { return behavior{exitErr: errors.New("exit status 1")} }

	t.Run("single item keeps its message", func(t *testing.T) {
		f := newPipelineFixture(t)
		f.enc.onTranscode = fail
		item := trimmedVideo(t, "/media/a.mp4", 0, 5)

		outcome := f.pipeline.Run(context.Background(), domain.NewJob(domain.JobKindPreview, itemsPtr([]domain.MediaItem{item}), nil, domain.PreviewProfile(), ""), nil)

		assert.Equal(t, domain.OutcomeFailed, outcome.Kind)
		assert.Equal(t, "encode item "+item.ID+": exit status 1: fake diagnostics", outcome.Message)
	})

	t.Run("several items are summarized", func(t *testing.T) {
		f := newPipelineFixture(t)
		f.enc.onTranscode = fail

		outcome := f.pipeline.Run(context.Background(), domain.NewJob(domain.JobKindPreview, itemsPtr(threeItems(t)), nil, domain.PreviewProfile(), ""), nil)

		assert.Equal(t, domain.OutcomeFailed, outcome.Kind)
		assert.Contains(t, outcome.Message, "all 3 items failed to render")
		assert.Empty(t, f.enc.concatCopies)
	})
}

func TestPipeline_NoItems(t *testing.T) {
	f := newPipelineFixture(t)

	outcome := f.pipeline.Run(context.Background(), domain.NewJob(domain.JobKindPreview, nil, nil, domain.PreviewProfile(), ""), nil)

	assert.Equal(t, domain.OutcomeFailed, outcome.Kind)
	assert.Equal(t, domain.ErrNoItems.Error(), outcome.Message)
	require.Len(t, f.listener.finished, 1)
}

func TestPipeline_MixesMusic(t *testing.T) {
	f := newPipelineFixture(t)
	dir := t.TempDir()
	track := musicTrack(t, dir)
	job := domain.NewJob(domain.JobKindPreview, itemsPtr(threeItems(t)), []*domain.MusicTrack{&track}, domain.PreviewProfile(), "")

	outcome := f.pipeline.Run(context.Background(), job, nil)

	require.Equal(t, domain.OutcomeDone, outcome.Kind)
	require.Len(t, f.enc.mixes, 1)
	assert.Equal(t, outcome.Path, f.enc.mixes[0].Output)
	assert.InDelta(t, 12.0, f.enc.mixes[0].CompositeDuration, 0.001)
	assert.True(t, f.enc.mixes[0].CompositeHasAudio)
	assert.Equal(t, "composite.mp4", filepath.Base(f.enc.mixes[0].Composite))
}

func TestPipeline_MixFailureKeepsVideo(t *testing.T) {
	f := newPipelineFixture(t)
	f.enc.onMix = func(port.MixRequest) behavior { return behavior{exitErr: errors.New("exit status 1")} }
	track := musicTrack(t, t.TempDir())
	job := domain.NewJob(domain.JobKindPreview, itemsPtr(threeItems(t)), []*domain.MusicTrack{&track}, domain.PreviewProfile(), "")

	outcome := f.pipeline.Run(context.Background(), job, nil)

	require.Equal(t, domain.OutcomeDone, outcome.Kind)
	_, ok := domain.ValidFile(outcome.Path)
	assert.True(t, ok)
	assert.InDelta(t, 12.0, outcome.Duration, 0.001)
}

func TestPipeline_Export(t *testing.T) {
	f := newPipelineFixture(t)
	output := filepath.Join(t.TempDir(), "final.mp4")
	job := domain.NewJob(domain.JobKindExport, itemsPtr(threeItems(t)), nil, domain.ExportProfile(), output)

	outcome := f.pipeline.Run(context.Background(), job, nil)

	require.Equal(t, domain.OutcomeDone, outcome.Kind)
	assert.Equal(t, output, outcome.Path)
	assert.FileExists(t, output)
	assert.Equal(t, 3, f.index.count(domain.ScopeItem))
	assert.Zero(t, f.index.count(domain.ScopeAggregate))
}

func TestPipeline_CancelRollsBack(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *pipelineFixture, items []domain.MediaItem, cancel context.CancelFunc)
	}{
		{
			name: "during an item",
			setup: func(f *pipelineFixture, items []domain.MediaItem, cancel context.CancelFunc) {
				f.enc.onTranscode = func(req port.TranscodeRequest) behavior {
					if req.Item.ID == items[1].ID {
						cancel()
						return behavior{size: 500, hang: true}
					}
					return okBehavior
				}
			},
		},
		{
			name: "during composition",
			setup: func(f *pipelineFixture, _ []domain.MediaItem, cancel context.CancelFunc) {
				f.enc.onConcatCopy = func(port.ConcatRequest) behavior {
					cancel()
					return behavior{size: 500, hang: true}
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPipelineFixture(t)
			items := threeItems(t)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			tt.setup(f, items, cancel)

			outcome := f.pipeline.Run(ctx, domain.NewJob(domain.JobKindPreview, itemsPtr(items), nil, domain.PreviewProfile(), ""), nil)

			assert.Equal(t, domain.OutcomeAborted, outcome.Kind)
			assert.Zero(t, f.index.count(domain.ScopeItem))
			assert.Zero(t, f.index.count(domain.ScopeAggregate))
			files, err := f.area.Files()
			require.NoError(t, err)
			assert.Empty(t, files)
			assert.Empty(t, f.listener.rendered)
			require.Len(t, f.listener.finished, 1)
			assert.Equal(t, domain.OutcomeAborted, f.listener.finished[0].Kind)
		})
	}
}

func TestPipeline_CancelKeepsEarlierCache(t *testing.T) {
	f := newPipelineFixture(t)
	items := threeItems(t)
	require.Equal(t, domain.OutcomeDone, f.pipeline.Run(context.Background(), domain.NewJob(domain.JobKindExport, itemsPtr(items[:1]), nil, domain.PreviewProfile(), filepath.Join(t.TempDir(), "a.mp4")), nil).Kind)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.enc.onTranscode = func(port.TranscodeRequest) behavior {
		cancel()
		return behavior{hang: true}
	}
	outcome := f.pipeline.Run(ctx, domain.NewJob(domain.JobKindPreview, itemsPtr(items), nil, domain.PreviewProfile(), ""), nil)

	assert.Equal(t, domain.OutcomeAborted, outcome.Kind)
	assert.Equal(t, 1, f.index.count(domain.ScopeItem))
}

// missingFiles counts paths that do not exist.
func missingFiles(paths []string) int {
	n := 0
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			n++
		}
	}
	return n
}

func TestPipeline_LiveEditKeepsJobInputs(t *testing.T) {
	tf := newTimelineFixture(t)
	a := tf.addVideo(t, "/media/a.mp4", "30")
	b := tf.addVideo(t, "/media/b.mp4", "30")
	_, err := tf.tl.SetTrim(a.ID, 0, 5)
	require.NoError(t, err)
	_, err = tf.tl.SetTrim(b.ID, 0, 3)
	require.NoError(t, err)

	_, err = tf.tl.Preview()
	require.NoError(t, err)
	require.Len(t, tf.runner.jobs, 1)
	job := tf.runner.jobs[0]

	enc := newFakeEncoder()
	var edited bool
	enc.onTranscode = func(req port.TranscodeRequest) behavior {
		if req.Item.ID == b.ID && !edited {
			edited = true
			_, err := tf.tl.SetRotation(a.ID, 90)
			assert.NoError(t, err)
		}
		return okBehavior
	}
	var missing int
	enc.onConcatCopy = func(req port.ConcatRequest) behavior {
		missing += missingFiles(req.Inputs)
		return okBehavior
	}
	pipeline := NewPipeline(enc, tf.cache, newScratch(t), testConfig())
	pipeline.SetListener(tf.tl)

	outcome := pipeline.Run(context.Background(), job, nil)

	require.Equal(t, domain.OutcomeDone, outcome.Kind, outcome.Message)
	require.True(t, edited)
	assert.InDelta(t, 8.0, outcome.Duration, 0.001)
	require.Len(t, enc.concatCopies, 1)
	require.Len(t, enc.concatCopies[0], 2)
	assert.Zero(t, missing)
	assert.Empty(t, enc.concatFilters)

	// the stale intermediate goes once the job is over
	assert.NoFileExists(t, enc.concatCopies[0][0])
	assert.FileExists(t, enc.concatCopies[0][1])
	assert.False(t, tf.cache.Held(enc.concatCopies[0][0]))

	gotA, err := tf.tl.Item(a.ID)
	require.NoError(t, err)
	assert.True(t, gotA.Pending)
	gotB, err := tf.tl.Item(b.ID)
	require.NoError(t, err)
	assert.Equal(t, enc.concatCopies[0][1], gotB.ArtifactPath)
}

func TestPipeline_LiveEditKeepsCachedInput(t *testing.T) {
	f := newPipelineFixture(t)
	items := threeItems(t)
	require.Equal(t, domain.OutcomeDone, f.pipeline.Run(context.Background(), domain.NewJob(domain.JobKindPreview, itemsPtr(items), nil, domain.PreviewProfile(), ""), nil).Kind)

	require.NoError(t, items[2].SetRotation(180))
	cache := f.pipeline.cache
	f.enc.onTranscode = func(port.TranscodeRequest) behavior {
		// the first item was served from the cache, now an edit drops it
		cache.DropItem(items[0].Signature())
		return okBehavior
	}
	var missing int
	f.enc.onConcatCopy = func(req port.ConcatRequest) behavior {
		missing += missingFiles(req.Inputs)
		return okBehavior
	}

	outcome := f.pipeline.Run(context.Background(), domain.NewJob(domain.JobKindPreview, itemsPtr(items), nil, domain.PreviewProfile(), ""), nil)

	require.Equal(t, domain.OutcomeDone, outcome.Kind, outcome.Message)
	assert.InDelta(t, 12.0, outcome.Duration, 0.001)
	require.Len(t, f.enc.concatCopies, 2)
	assert.Zero(t, missing)
	assert.NoFileExists(t, f.enc.concatCopies[1][0])
}

func TestPipeline_IdenticalPendingItemsRenderOnce(t *testing.T) {
	f := newPipelineFixture(t)
	first := trimmedVideo(t, "/media/a.mp4", 0, 4)
	second := trimmedVideo(t, "/media/a.mp4", 0, 4)
	first.Pending, second.Pending = true, true
	items := []domain.MediaItem{first, second}

	var missing int
	f.enc.onConcatCopy = func(req port.ConcatRequest) behavior {
		missing += missingFiles(req.Inputs)
		return okBehavior
	}

	outcome := f.pipeline.Run(context.Background(), domain.NewJob(domain.JobKindPreview, itemsPtr(items), nil, domain.PreviewProfile(), ""), nil)

	require.Equal(t, domain.OutcomeDone, outcome.Kind, outcome.Message)
	assert.InDelta(t, 8.0, outcome.Duration, 0.001)
	assert.Equal(t, 1, f.enc.transcodeCount())
	require.Len(t, f.enc.concatCopies, 1)
	require.Len(t, f.enc.concatCopies[0], 2)
	assert.Equal(t, f.enc.concatCopies[0][0], f.enc.concatCopies[0][1])
	assert.Zero(t, missing)
	assert.FileExists(t, f.enc.concatCopies[0][0])
	assert.Equal(t, 1, f.index.count(domain.ScopeItem))
	assert.Equal(t, ids(items), f.listener.rendered)
}
