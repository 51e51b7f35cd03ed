package eventing

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"finance-backoffice/internal/observability/metrics"
)

const (
	defaultDispatchLimit = 50
	defaultMaxAttempts   = 5
)

// OutboxStore provides access to outbox records.
type OutboxStore interface {
	// ListPending returns records awaiting delivery, including failed ones
	// still below maxAttempts, oldest first.
	ListPending(ctx context.Context, limit, maxAttempts int) ([]OutboxRecord, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, cause error) error
	// MarkDead parks a record that exhausted its attempts.
	MarkDead(ctx context.Context, id string) error
}

// DLQStore records failures.
type DLQStore interface {
	RecordFailure(ctx context.Context, env Envelope, err error) error
}

// OutboxRecord represents a pending outbox entry.
type OutboxRecord struct {
	ID       string
	Envelope Envelope
	Attempts int
}

// DispatchResult captures the outcome of a dispatch run.
type DispatchResult struct {
	Requested int
	Claimed   int
	Sent      int
	Failed    int
	DLQ       int
}

// Dispatcher sends outbox events to the in-process bus.
type Dispatcher struct {
	bus         EventBus
	outbox      OutboxStore
	registry    *Registry
	dlq         DLQStore
	maxAttempts int
	logger      zerolog.Logger
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMaxAttempts bounds deliveries before a record moves to the DLQ.
func WithMaxAttempts(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger zerolog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(bus EventBus, outbox OutboxStore, registry *Registry, dlq DLQStore, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		bus:         bus,
		outbox:      outbox,
		registry:    registry,
		dlq:         dlq,
		maxAttempts: defaultMaxAttempts,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Dispatch pulls pending outbox messages and delivers them.
func (d *Dispatcher) Dispatch(ctx context.Context, limit int) (DispatchResult, error) {
	start := time.Now()
	result := DispatchResult{Requested: limit}
	if d == nil || d.outbox == nil || d.bus == nil || d.registry == nil {
		metrics.ObserveOutboxDispatch(metrics.ResultError, time.Since(start), 0, 0, 0)
		return result, errors.New("dispatcher: not configured")
	}
	if limit <= 0 {
		limit = defaultDispatchLimit
		result.Requested = limit
	}
	records, err := d.outbox.ListPending(ctx, limit, d.maxAttempts)
	if err != nil {
		metrics.ObserveOutboxDispatch(metrics.ResultError, time.Since(start), 0, 0, 0)
		return result, err
	}
	result.Claimed = len(records)
	var firstErr error

	for _, record := range records {
		if err := d.deliver(ctx, record); err != nil {
			result.Failed++
			dead, markErr := d.fail(ctx, record, err)
			if markErr != nil && firstErr == nil {
				firstErr = markErr
			}
			if dead {
				result.DLQ++
			}
			continue
		}
		if err := d.outbox.MarkSent(ctx, record.ID); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			result.Failed++
			continue
		}
		result.Sent++
	}

	dispatchResult := metrics.ResultSuccess
	if firstErr != nil || result.Failed > 0 {
		dispatchResult = metrics.ResultError
	}
	metrics.ObserveOutboxDispatch(dispatchResult, time.Since(start), result.Sent, result.Failed, result.DLQ)
	return result, firstErr
}

func (d *Dispatcher) deliver(ctx context.Context, record OutboxRecord) error {
	payload, err := d.registry.DecodePayload(record.Envelope)
	if err != nil {
		return err
	}
	return d.bus.Publish(WithEnvelope(ctx, record.Envelope), payload)
}

// fail records a failed delivery. Undecodable payloads and records out of
// attempts go to the DLQ.
func (d *Dispatcher) fail(ctx context.Context, record OutboxRecord, cause error) (bool, error) {
	env := record.Envelope
	attempts := record.Attempts + 1
	permanent := errors.Is(cause, ErrUnknownEventType)
	d.logger.Warn().
		Err(cause).
		Str("event_id", env.EventID).
		Str("event_type", env.EventType).
		Int("attempts", attempts).
		Msg("outbox delivery failed")

	if err := d.outbox.MarkFailed(ctx, record.ID, cause); err != nil {
		return false, err
	}
	if !permanent && attempts < d.maxAttempts {
		return false, nil
	}
	if d.dlq != nil {
		if err := d.dlq.RecordFailure(ctx, env, cause); err != nil {
			return false, err
		}
	}
	if err := d.outbox.MarkDead(ctx, record.ID); err != nil {
		return false, err
	}
	d.logger.Error().Str("event_id", env.EventID).Str("event_type", env.EventType).Msg("outbox record moved to dead letters")
	return true, nil
}

// DeadLetter summarizes an abandoned event.
type DeadLetter struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	AggregateID string    `json:"aggregate_id"`
	Error       string    `json:"error"`
	Attempts    int       `json:"attempts"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}
