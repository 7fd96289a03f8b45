package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bnema/montage/internal/adapter/http/middleware"
	"github.com/bnema/montage/internal/adapter/http/ratelimit"
	"github.com/bnema/montage/internal/adapter/storage/jsonfile"
	"github.com/bnema/montage/internal/adapter/storage/sqlite"
	"github.com/bnema/montage/internal/domain"
	"github.com/bnema/montage/internal/port/mocks"
	"github.com/bnema/montage/internal/service"
)

const (
	testUser     = "operator"
	testPassword = "correct-horse-42"
)

// gatedExecutor reports one progress step and then holds the job until
// released or cancelled.
type gatedExecutor struct {
	release chan struct{}
	started chan *domain.Job
	output  string
}

func (e *gatedExecutor) Run(ctx context.Context, job *domain.Job, progress service.ProgressFunc) domain.Outcome {
	progress(25, "rendering item 1/1")
	e.started <- job
	select {
	case <-e.release:
		if job.Kind == domain.JobKindExport {
			return domain.DoneOutcome(job.OutputPath, 12.5)
		}
		return domain.DoneOutcome(e.output, 12.5)
	case <-ctx.Done():
		return domain.AbortedOutcome()
	}
}

type fixture struct {
	srv      *Server
	store    *sqlite.Store
	jobs     *sqlite.JobStore
	auth     *service.AuthService
	prober   *mocks.ProberMock
	exec     *gatedExecutor
	runner   *service.TaskRunner
	timeline *service.Timeline
	media    string
	token    string
	csrf     string
}

// newBareFixture builds the full stack without an operator account.
func newBareFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	store, err := sqlite.NewStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	projects, err := jsonfile.NewStore(dir)
	require.NoError(t, err)

	media := filepath.Join(dir, "media")
	require.NoError(t, os.MkdirAll(media, 0755))
	output := filepath.Join(dir, "preview.mp4")
	require.NoError(t, os.WriteFile(output, bytes.Repeat([]byte{0x42}, 2048), 0644))

	f := &fixture{
		store:  store,
		jobs:   sqlite.NewJobStore(store),
		auth:   service.NewAuthService(store, "test-secret"),
		prober: mocks.NewProberMock(t),
		exec:   &gatedExecutor{release: make(chan struct{}), started: make(chan *domain.Job, 1), output: output},
		media:  media,
	}

	ctx, cancel := context.WithCancel(context.Background())
	bus := service.NewEventBus()
	f.runner = service.NewTaskRunner(ctx, f.exec, f.jobs, bus)
	t.Cleanup(func() {
		cancel()
		_ = f.runner.Shutdown(context.Background())
	})

	f.timeline, err = service.NewTimeline(projects, f.prober, service.NewCache(store), f.runner)
	require.NoError(t, err)

	f.srv = NewServer(Options{
		Auth:    f.auth,
		Editor:  f.timeline,
		Runner:  f.runner,
		Jobs:    f.jobs,
		Events:  bus,
		Secret:  "test-secret",
		Version: "test",
		Guard:   ratelimit.NewGuard(3, time.Minute, time.Minute, nil),
	})
	f.csrf = f.srv.csrf.Token()
	return f
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := newBareFixture(t)
	require.NoError(t, f.auth.Setup(testUser, testPassword))
	token, err := f.auth.Login(testUser, testPassword)
	require.NoError(t, err)
	f.token = token
	return f
}

func (f *fixture) request(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	if f.token != "" {
		req.AddCookie(&http.Cookie{Name: CookieName, Value: f.token})
	}
	req.AddCookie(&http.Cookie{Name: middleware.CSRFCookieName, Value: f.csrf})
	req.Header.Set(middleware.CSRFHeaderName, f.csrf)
	return req
}

// do sends body as JSON with session and CSRF credentials.
func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := f.request(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

// postForm submits an HTML form the way the login and setup pages do.
func (f *fixture) postForm(path string, values url.Values) *httptest.ResponseRecorder {
	values.Set(middleware.CSRFFormField, f.csrf)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: middleware.CSRFCookieName, Value: f.csrf})
	req.RemoteAddr = "192.0.2.10:5555"
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

var mp4Head = []byte("\x00\x00\x00\x18ftypisom")

// writeMedia creates a file that sniffs as the given container head.
func (f *fixture) writeMedia(t *testing.T, name string, head []byte) string {
	t.Helper()
	path := filepath.Join(f.media, name)
	buf := make([]byte, 1024)
	copy(buf, head)
	require.NoError(t, os.WriteFile(path, buf, 0644))
	return path
}

func videoProbe(duration string) *domain.ProbeResult {
	return &domain.ProbeResult{
		Format: domain.ProbeFormat{Duration: duration},
		Streams: []domain.ProbeStream{
			{CodecType: "video", CodecName: "h264", Width: 1280, Height: 720},
			{CodecType: "audio", CodecName: "aac"},
		},
	}
}

// addVideo adds a clip through the API and returns it.
func (f *fixture) addVideo(t *testing.T, name, duration string) domain.MediaItem {
	t.Helper()
	path := f.writeMedia(t, name, mp4Head)
	f.prober.On("Probe", mock.Anything, path).Return(videoProbe(duration), nil).Once()
	rec := f.do(t, http.MethodPost, "/api/items", pathRequest{Path: path})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var item domain.MediaItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	return item
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (f *fixture) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return f.runner.Active() == nil }, 2*time.Second, 5*time.Millisecond)
}

func (f *fixture) startPreview(t *testing.T) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/preview", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	<-f.exec.started
	return decode[jobAccepted](t, rec).JobID
}
