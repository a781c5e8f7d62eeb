package notify

import (
	"context"
	"sync"
	"time"

	"github.com/source-vetting/internal/models"
	"github.com/source-vetting/pkg/logger"
)

// EventType identifies a lifecycle notification
type EventType string

const (
	EventStatusChanged     EventType = "status_changed"
	EventReviewQueued      EventType = "review_queued"
	EventReviewResolved    EventType = "review_resolved"
	EventPilotExtended     EventType = "pilot_extended"
	EventSourceEvaluated   EventType = "source_evaluated"
	EventDuplicateRejected EventType = "duplicate_rejected"
)

// Event is a single lifecycle notification
type Event struct {
	Type         EventType     `json:"type"`
	SubmissionID string        `json:"submission_id"`
	Name         string        `json:"name,omitempty"`
	URL          string        `json:"url,omitempty"`
	From         models.Status `json:"from,omitempty"`
	To           models.Status `json:"to,omitempty"`
	Score        float64       `json:"score,omitempty"`
	Reasons      []string      `json:"reasons,omitempty"`
	At           time.Time     `json:"at"`
}

// Sink delivers events somewhere. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// Dispatcher fans events out to sinks without blocking the caller.
// Sink errors are logged and never reach the lifecycle.
type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
	log     *logger.Logger
	wg      sync.WaitGroup
}

// NewDispatcher creates a fire-and-forget dispatcher
func NewDispatcher(timeout time.Duration, log *logger.Logger, sinks ...Sink) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		sinks:   sinks,
		timeout: timeout,
		log:     log.WithComponent("notify"),
	}
}

// Emit sends e to every sink in the background
func (d *Dispatcher) Emit(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	for _, s := range d.sinks {
		d.wg.Add(1)
		go func(s Sink) {
			defer d.wg.Done()

			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
			defer cancel()

			if err := s.Emit(ctx, e); err != nil {
				d.log.Warn().
					Err(err).
					Str("event", string(e.Type)).
					Str("submission_id", e.SubmissionID).
					Msg("Notification delivery failed")
			}
		}(s)
	}
}

// Close waits for in-flight deliveries
func (d *Dispatcher) Close() {
	d.wg.Wait()
}

// LogSink writes events to the structured log
type LogSink struct {
	log *logger.Logger
}

// NewLogSink creates a sink that logs every event
func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log.WithComponent("lifecycle")}
}

func (s *LogSink) Emit(_ context.Context, e Event) error {
	ev := s.log.Info().
		Str("event", string(e.Type)).
		Str("submission_id", e.SubmissionID)
	if e.From != "" || e.To != "" {
		ev = ev.Str("from", string(e.From)).Str("to", string(e.To))
	}
	if e.Score != 0 {
		ev = ev.Float64("score", e.Score)
	}
	if len(e.Reasons) > 0 {
		ev = ev.Strs("reasons", e.Reasons)
	}
	ev.Msg("Lifecycle event")
	return nil
}
