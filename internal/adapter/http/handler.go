package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/a-h/templ"

	"github.com/bnema/montage/internal/adapter/http/middleware"
	"github.com/bnema/montage/internal/adapter/http/templates"
	"github.com/bnema/montage/internal/adapter/http/validation"
	"github.com/bnema/montage/internal/domain"
	"github.com/bnema/montage/internal/infrastructure/logger"
	"github.com/bnema/montage/internal/port"
	"github.com/bnema/montage/internal/service"
)

// Editor is the live compilation. *service.Timeline implements it.
type Editor interface {
	Items() []domain.MediaItem
	Tracks() []domain.MusicTrack
	TotalDuration() float64
	AddItem(ctx context.Context, path string) (domain.MediaItem, error)
	RemoveItem(id string) error
	MoveItem(id string, index int) error
	Shuffle() error
	EditItem(id string, edit service.ItemEdit) (domain.MediaItem, error)
	AddEffect(id string, e domain.Effect) (domain.MediaItem, error)
	RemoveEffect(id string, index int) (domain.MediaItem, error)
	AddTrack(ctx context.Context, path string) (domain.MusicTrack, error)
	UpdateTrack(id string, edit domain.TrackEdit) (domain.MusicTrack, error)
	RemoveTrack(id string) error
	Preview() (*service.Handle, error)
	Export(outputPath string) (*service.Handle, error)
}

// JobControl exposes the in-flight job. *service.TaskRunner implements it.
type JobControl interface {
	Active() *service.Handle
	Cancel(jobID string) error
}

const (
	maxBodyBytes   = 1 << 20
	historyLimit   = 50
	dashboardLimit = 10
)

type Handlers struct {
	editor  Editor
	runner  JobControl
	jobs    port.JobStore
	version string
}

func NewHandlers(editor Editor, runner JobControl, jobs port.JobStore, version string) *Handlers {
	return &Handlers{
		editor:  editor,
		runner:  runner,
		jobs:    jobs,
		version: version,
	}
}

func (h *Handlers) Dashboard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := h.jobs.ListRecent(dashboardLimit)
		if err != nil {
			logger.Error.Printf("dashboard job history: %v", err)
			jobs = nil
		}
		data := templates.DashboardData{
			Items:         h.editor.Items(),
			Tracks:        h.editor.Tracks(),
			Jobs:          jobs,
			TotalDuration: h.editor.TotalDuration(),
			CSRF:          middleware.TokenFromContext(r.Context()),
			Version:       h.version,
		}
		if u := UserFromContext(r.Context()); u != nil {
			data.Username = u.Username
		}
		if active := h.runner.Active(); active != nil {
			data.ActiveJobID = active.ID()
		}
		renderPage(w, r, http.StatusOK, templates.Dashboard(data))
	}
}

func (h *Handlers) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": h.version})
	}
}

type itemList struct {
	Items         []domain.MediaItem `json:"items"`
	TotalDuration float64            `json:"total_duration"`
}

type pathRequest struct {
	Path string `json:"path"`
}

type moveRequest struct {
	Index int `json:"index"`
}

type jobAccepted struct {
	JobID string `json:"job_id"`
}

func (h *Handlers) ListItems() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		items := h.editor.Items()
		if items == nil {
			items = []domain.MediaItem{}
		}
		writeJSON(w, http.StatusOK, itemList{Items: items, TotalDuration: h.editor.TotalDuration()})
	}
}

func (h *Handlers) AddItem() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path, ok := h.sourcePath(w, r, validation.ClassVideo, validation.ClassImage)
		if !ok {
			return
		}
		item, err := h.editor.AddItem(r.Context(), path)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, item)
	}
}

func (h *Handlers) RemoveItem() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.editor.RemoveItem(r.PathValue("id")); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handlers) EditItem() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var edit service.ItemEdit
		if err := decodeJSON(w, r, &edit); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		item, err := h.editor.EditItem(r.PathValue("id"), edit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

func (h *Handlers) AddEffect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var effect domain.Effect
		if err := decodeJSON(w, r, &effect); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		item, err := h.editor.AddEffect(r.PathValue("id"), effect)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

func (h *Handlers) RemoveEffect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, err := strconv.Atoi(r.PathValue("index"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "effect index must be an integer")
			return
		}
		item, err := h.editor.RemoveEffect(r.PathValue("id"), index)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

func (h *Handlers) MoveItem() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req moveRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := h.editor.MoveItem(r.PathValue("id"), req.Index); err != nil {
			writeServiceError(w, err)
			return
		}
		h.ListItems()(w, r)
	}
}

func (h *Handlers) Shuffle() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.editor.Shuffle(); err != nil {
			writeServiceError(w, err)
			return
		}
		h.ListItems()(w, r)
	}
}

func (h *Handlers) ListTracks() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		tracks := h.editor.Tracks()
		if tracks == nil {
			tracks = []domain.MusicTrack{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"tracks": tracks})
	}
}

func (h *Handlers) AddTrack() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path, ok := h.sourcePath(w, r, validation.ClassAudio, validation.ClassVideo)
		if !ok {
			return
		}
		track, err := h.editor.AddTrack(r.Context(), path)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, track)
	}
}

func (h *Handlers) UpdateTrack() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var edit domain.TrackEdit
		if err := decodeJSON(w, r, &edit); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		track, err := h.editor.UpdateTrack(r.PathValue("id"), edit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, track)
	}
}

func (h *Handlers) RemoveTrack() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.editor.RemoveTrack(r.PathValue("id")); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handlers) Preview() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		handle, err := h.editor.Preview()
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, jobAccepted{JobID: handle.ID()})
	}
}

func (h *Handlers) Export() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req pathRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		handle, err := h.editor.Export(req.Path)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, jobAccepted{JobID: handle.ID()})
	}
}

type jobView struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Status      string     `json:"status"`
	Percent     *float64   `json:"percent,omitempty"`
	ItemCount   int        `json:"item_count"`
	TrackCount  int        `json:"track_count"`
	OutputPath  string     `json:"output_path,omitempty"`
	Duration    float64    `json:"duration,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (h *Handlers) viewOf(rec *domain.JobRecord) jobView {
	v := jobView{
		ID:         rec.ID,
		Kind:       string(rec.Kind),
		Status:     string(rec.Status),
		ItemCount:  rec.ItemCount,
		TrackCount: rec.TrackCount,
		OutputPath: rec.OutputPath,
		Duration:   rec.Duration,
		Error:      rec.ErrorMessage,
		CreatedAt:  rec.CreatedAt,
	}
	if rec.StartedAt.Valid {
		v.StartedAt = &rec.StartedAt.Time
	}
	if rec.CompletedAt.Valid {
		v.CompletedAt = &rec.CompletedAt.Time
	}
	if active := h.runner.Active(); active != nil && active.ID() == rec.ID {
		pct := active.LastPercent()
		v.Percent = &pct
	}
	return v
}

func (h *Handlers) ListJobs() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		records, err := h.jobs.ListRecent(historyLimit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		views := make([]jobView, 0, len(records))
		for _, rec := range records {
			views = append(views, h.viewOf(rec))
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": views})
	}
}

func (h *Handlers) GetJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := h.jobs.Get(r.PathValue("id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, h.viewOf(rec))
	}
}

func (h *Handlers) CancelJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := h.runner.Cancel(id); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				writeError(w, http.StatusNotFound, "no running job with this id")
				return
			}
			writeServiceError(w, err)
			return
		}
		logger.Info.Printf("job %s: cancel requested", id)
		writeJSON(w, http.StatusAccepted, jobAccepted{JobID: id})
	}
}

// ServePreview streams the artifact of a finished preview job.
func (h *Handlers) ServePreview() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("jobID")
		rec, err := h.jobs.Get(id)
		if err != nil || rec.Kind != domain.JobKindPreview {
			http.Error(w, "Preview not found", http.StatusNotFound)
			return
		}
		if rec.Status != domain.JobStatusDone || rec.OutputPath == "" {
			http.Error(w, "Preview not ready", http.StatusConflict)
			return
		}
		if _, err := os.Stat(rec.OutputPath); err != nil {
			// Dropped by a later edit or a restart.
			http.Error(w, "Preview no longer available", http.StatusGone)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", validation.DownloadName("preview-"+id+".mp4")))
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, rec.OutputPath)
	}
}

// sourcePath decodes {"path": ...} and checks the file exists and sniffs as
// one of the allowed classes. It writes the error response itself.
func (h *Handlers) sourcePath(w http.ResponseWriter, r *http.Request, allowed ...validation.Class) (string, bool) {
	var req pathRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	path, err := validation.SourcePath(req.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	if err := validation.CheckMedia(path, allowed...); err != nil {
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
		return "", false
	}
	return path, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps the domain error taxonomy onto status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	var probeErr *domain.ProbeError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &probeErr):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrNoItems),
		errors.Is(err, domain.ErrWrongKind),
		errors.Is(err, domain.ErrInvalidTrim),
		errors.Is(err, domain.ErrInvalidRotation),
		errors.Is(err, domain.ErrInvalidSpeed),
		errors.Is(err, domain.ErrInvalidEffect),
		errors.Is(err, domain.ErrInvalidVolume),
		errors.Is(err, domain.ErrInvalidOutput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error.Printf("request failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func renderPage(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := c.Render(r.Context(), w); err != nil {
		logger.Debug.Printf("render %s: %v", logger.SanitizeForLog(r.URL.Path), err)
	}
}
