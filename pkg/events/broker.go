// Package events provides the per-run log broker: buffered history for late
// subscribers plus live fan-out to SSE clients, ending with a complete
// sentinel.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LogEvent is one pipeline log or progress record. The complete sentinel is
// a LogEvent with Complete set; it is always the last event of a run.
type LogEvent struct {
	RunID           int64  `json:"run_id"`
	Level           string `json:"level,omitempty"`
	Message         string `json:"message,omitempty"`
	Step            string `json:"step,omitempty"`
	ProgressCurrent *int   `json:"progress_current,omitempty"`
	ProgressTotal   *int   `json:"progress_total,omitempty"`
	CurrentTerm     string `json:"current_term,omitempty"`
	Complete        bool   `json:"complete,omitempty"`
}

// Log levels used by the pipeline.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
	LevelDebug   = "debug"
)

const (
	// subscriberBuffer bounds each subscriber channel. A slow SSE client
	// drops events rather than blocking the worker.
	subscriberBuffer = 256

	// retainAfterComplete keeps a finished run's buffer around so clients
	// that connect just after completion still get the full history.
	retainAfterComplete = 60 * time.Second
)

type stream struct {
	buffer      []LogEvent
	subscribers map[string]chan LogEvent
	completed   bool
}

// Broker fans log events out to subscribers, one stream per run. It belongs
// to a single project; events carrying a different run id than the stream
// they are published to are dropped on ingress so a stale producer cannot
// leak into a new subscriber's stream.
type Broker struct {
	mu      sync.Mutex
	streams map[int64]*stream
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{streams: make(map[int64]*stream)}
}

// Publish appends an event to the run's buffer and fans it out. Subscribers
// receive copies; a full subscriber channel drops the event with a warning.
func (b *Broker) Publish(runID int64, ev LogEvent) {
	if ev.RunID != runID {
		slog.Warn("Dropping log event for mismatched run",
			"stream_run_id", runID, "event_run_id", ev.RunID)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.streams[runID]
	if s == nil {
		s = &stream{subscribers: make(map[string]chan LogEvent)}
		b.streams[runID] = s
	}
	if s.completed {
		return
	}
	s.buffer = append(s.buffer, ev)

	for id, ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			slog.Warn("Subscriber channel full, dropping event",
				"run_id", runID, "subscriber_id", id)
		}
	}
}

// Subscribe returns a snapshot of everything published so far plus a live
// channel. The channel closes after the complete sentinel is delivered (or
// immediately when the run already completed, in which case the sentinel is
// part of the snapshot). Call Unsubscribe with the returned id when done.
func (b *Broker) Subscribe(runID int64) (id string, snapshot []LogEvent, ch <-chan LogEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.streams[runID]
	if s == nil {
		s = &stream{subscribers: make(map[string]chan LogEvent)}
		b.streams[runID] = s
	}

	snapshot = make([]LogEvent, len(s.buffer))
	copy(snapshot, s.buffer)

	live := make(chan LogEvent, subscriberBuffer)
	if s.completed {
		close(live)
		return "", snapshot, live
	}

	id = uuid.New().String()
	s.subscribers[id] = live
	return id, snapshot, live
}

// Unsubscribe detaches a subscriber. Safe to call with an id already removed
// by Complete.
func (b *Broker) Unsubscribe(runID int64, id string) {
	if id == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if s := b.streams[runID]; s != nil {
		if ch, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(ch)
		}
	}
}

// Complete broadcasts the terminal sentinel, closes every subscriber
// channel, and releases the buffer after a grace period.
func (b *Broker) Complete(runID int64) {
	sentinel := LogEvent{RunID: runID, Complete: true}

	b.mu.Lock()
	s := b.streams[runID]
	if s == nil {
		s = &stream{subscribers: make(map[string]chan LogEvent)}
		b.streams[runID] = s
	}
	if s.completed {
		b.mu.Unlock()
		return
	}
	s.completed = true
	s.buffer = append(s.buffer, sentinel)
	for id, ch := range s.subscribers {
		select {
		case ch <- sentinel:
		default:
			slog.Warn("Subscriber channel full, dropping complete sentinel",
				"run_id", runID, "subscriber_id", id)
		}
		close(ch)
		delete(s.subscribers, id)
	}
	b.mu.Unlock()

	time.AfterFunc(retainAfterComplete, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.streams, runID)
	})
}
