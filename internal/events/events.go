// Package events carries the notifications the engine emits after matching
// and training runs. Delivery is the sink's business.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"payment-reconciliation-engine/pkg/logger"
)

// Kind identifies the event payload.
type Kind string

const (
	KindPerformance Kind = "performance"
	KindTraining    Kind = "training"
)

// PerformanceEvent is emitted after every matching run.
type PerformanceEvent struct {
	Operation             string  `json:"operation"`
	PaymentsProcessed     int     `json:"payments_processed"`
	TransactionsProcessed int     `json:"transactions_processed"`
	MatchesFound          int     `json:"matches_found"`
	ProcessingTimeMs      int64   `json:"processing_time_ms"`
	Throughput            float64 `json:"throughput"`
}

// TrainingEvent is emitted after every completed training run.
type TrainingEvent struct {
	Samples       int     `json:"samples"`
	FinalAccuracy float64 `json:"final_accuracy"`
	Epochs        int     `json:"epochs"`
	ModelVersion  int64   `json:"model_version"`
}

// Event is the envelope handed to sinks.
type Event struct {
	ID          string            `json:"id"`
	Kind        Kind              `json:"kind"`
	OccurredAt  time.Time         `json:"occurred_at"`
	Performance *PerformanceEvent `json:"performance,omitempty"`
	Training    *TrainingEvent    `json:"training,omitempty"`
}

// Sink receives events.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// NewPerformanceEvent builds a performance event. Throughput is payments
// processed per second.
func NewPerformanceEvent(operation string, payments, transactions, matches int, elapsed time.Duration) Event {
	throughput := 0.0
	if elapsed > 0 {
		throughput = float64(payments) / elapsed.Seconds()
	}
	return Event{
		ID:         uuid.NewString(),
		Kind:       KindPerformance,
		OccurredAt: time.Now().UTC(),
		Performance: &PerformanceEvent{
			Operation:             operation,
			PaymentsProcessed:     payments,
			TransactionsProcessed: transactions,
			MatchesFound:          matches,
			ProcessingTimeMs:      elapsed.Milliseconds(),
			Throughput:            throughput,
		},
	}
}

// NewTrainingEvent builds a training event.
func NewTrainingEvent(samples int, accuracy float64, epochs int, version int64) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       KindTraining,
		OccurredAt: time.Now().UTC(),
		Training: &TrainingEvent{
			Samples:       samples,
			FinalAccuracy: accuracy,
			Epochs:        epochs,
			ModelVersion:  version,
		},
	}
}

// LogSink writes events to the structured log.
type LogSink struct {
	logger logger.Logger
}

// NewLogSink creates a sink logging through log, or the global logger when nil.
func NewLogSink(log logger.Logger) *LogSink {
	if log == nil {
		log = logger.WithComponent("events")
	}
	return &LogSink{logger: log}
}

func (s *LogSink) Publish(ctx context.Context, event Event) error {
	fields := logger.Fields{"event_id": event.ID, "kind": event.Kind}
	switch {
	case event.Performance != nil:
		p := event.Performance
		fields["operation"] = p.Operation
		fields["payments_processed"] = p.PaymentsProcessed
		fields["transactions_processed"] = p.TransactionsProcessed
		fields["matches_found"] = p.MatchesFound
		fields["processing_time_ms"] = p.ProcessingTimeMs
		fields["throughput"] = p.Throughput
	case event.Training != nil:
		fields["samples"] = event.Training.Samples
		fields["final_accuracy"] = event.Training.FinalAccuracy
		fields["epochs"] = event.Training.Epochs
		fields["model_version"] = event.Training.ModelVersion
	}
	s.logger.WithFields(fields).Info("Event published")
	return nil
}

// MultiSink fans an event out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemorySink keeps published events in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func (m *MemorySink) Publish(ctx context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Events returns a copy of everything published so far.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// OfKind filters Events by kind.
func (m *MemorySink) OfKind(kind Kind) []Event {
	var out []Event
	for _, e := range m.Events() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
