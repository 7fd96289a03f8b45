package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bnema/montage/internal/domain"
	"github.com/bnema/montage/internal/port"
	"github.com/bnema/montage/internal/service"
)

const keepAliveInterval = 15 * time.Second

// Subscriber is the event source of the progress stream. *service.EventBus
// implements it.
type Subscriber interface {
	Subscribe(jobID string) chan service.Event
	Unsubscribe(jobID string, ch chan service.Event)
}

type SSEHandler struct {
	events    Subscriber
	runner    JobControl
	jobs      port.JobStore
	keepAlive time.Duration
}

func NewSSEHandler(events Subscriber, runner JobControl, jobs port.JobStore) *SSEHandler {
	return &SSEHandler{
		events:    events,
		runner:    runner,
		jobs:      jobs,
		keepAlive: keepAliveInterval,
	}
}

// sseWrite writes one event, splitting multi-line data.
func sseWrite(w http.ResponseWriter, eventName string, data string) {
	_, _ = fmt.Fprintf(w, "event: %s\n", eventName)
	for _, line := range strings.Split(data, "\n") {
		_, _ = fmt.Fprintf(w, "data: %s\n", line)
	}
	_, _ = fmt.Fprint(w, "\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func sendEvent(w http.ResponseWriter, e service.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	sseWrite(w, e.Type, string(data))
}

func sendKeepAlive(w http.ResponseWriter) {
	_, _ = fmt.Fprint(w, ": keep-alive\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// terminalFromRecord rebuilds the final event of a job that already ended.
func terminalFromRecord(rec *domain.JobRecord) (service.Event, bool) {
	switch rec.Status {
	case domain.JobStatusDone:
		return service.Event{Type: service.EventDone, Percent: 100, Path: rec.OutputPath, Duration: rec.Duration}, true
	case domain.JobStatusAborted:
		return service.Event{Type: service.EventAborted, Message: rec.ErrorMessage}, true
	case domain.JobStatusFailed:
		return service.Event{Type: service.EventFailed, Message: rec.ErrorMessage}, true
	}
	return service.Event{}, false
}

// Events streams progress of one job: the current percent first, then every
// progress event, then exactly one terminal event after which the stream
// ends. A job that already ended yields only its terminal event.
func (h *SSEHandler) Events() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("jobID")
		if id == "" {
			writeError(w, http.StatusBadRequest, "missing job id")
			return
		}

		// Subscribe before reading the record so a job ending in between
		// is seen either in the store or on the channel.
		ch := h.events.Subscribe(id)
		defer h.events.Unsubscribe(id, ch)

		rec, err := h.jobs.Get(id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				writeError(w, http.StatusNotFound, "job not found")
				return
			}
			writeServiceError(w, err)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		if final, ok := terminalFromRecord(rec); ok {
			sendEvent(w, final)
			return
		}

		current := service.Event{Type: service.EventProgress}
		if active := h.runner.Active(); active != nil && active.ID() == id {
			current.Percent = active.LastPercent()
		}
		sendEvent(w, current)

		ctx := r.Context()
		keepAlive := time.NewTicker(h.keepAlive)
		defer keepAlive.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-keepAlive.C:
				sendKeepAlive(w)
			case event, ok := <-ch:
				if !ok {
					return
				}
				sendEvent(w, event)
				if event.Terminal() {
					return
				}
			}
		}
	}
}
