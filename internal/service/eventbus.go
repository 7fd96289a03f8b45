package service

import (
	"sync"
)

// Event types published per job.
const (
	EventProgress = "progress"
	EventDone     = "done"
	EventAborted  = "aborted"
	EventFailed   = "failed"
)

type Event struct {
	Type     string  `json:"type"`
	Percent  float64 `json:"percent"`
	Message  string  `json:"message,omitempty"`
	Path     string  `json:"path,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// Terminal reports whether no event follows this one.
func (e Event) Terminal() bool {
	return e.Type != EventProgress
}

type EventPublisher interface {
	Publish(jobID string, event Event)
}

const subscriberBuffer = 16

// EventBus fans job events out to the progress streams watching each job.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string]map[chan Event]struct{})}
}

func (eb *EventBus) Subscribe(jobID string) chan Event {
	ch := make(chan Event, subscriberBuffer)

	eb.mu.Lock()
	defer eb.mu.Unlock()
	set, ok := eb.subscribers[jobID]
	if !ok {
		set = make(map[chan Event]struct{})
		eb.subscribers[jobID] = set
	}
	set[ch] = struct{}{}
	return ch
}

// Unsubscribe closes ch. Unknown channels are ignored.
func (eb *EventBus) Unsubscribe(jobID string, ch chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	set := eb.subscribers[jobID]
	if _, ok := set[ch]; !ok {
		return
	}
	delete(set, ch)
	close(ch)
	if len(set) == 0 {
		delete(eb.subscribers, jobID)
	}
}

// Publish never blocks. Slow subscribers lose progress events; a terminal
// event evicts the oldest buffered one so it always gets through.
func (eb *EventBus) Publish(jobID string, event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for ch := range eb.subscribers[jobID] {
		if trySend(ch, event) || !event.Terminal() {
			continue
		}
		select {
		case <-ch:
		default:
		}
		trySend(ch, event)
	}
}

func trySend(ch chan Event, event Event) bool {
	select {
	case ch <- event:
		return true
	default:
		return false
	}
}
