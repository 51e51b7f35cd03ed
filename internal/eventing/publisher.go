package eventing

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"finance-backoffice/internal/observability/metrics"
)

const slowPublish = 50 * time.Millisecond

// OutboxWriter inserts outbox records.
type OutboxWriter interface {
	Insert(ctx context.Context, env Envelope) (string, error)
}

// Publisher writes events to the outbox. Delivery happens later through
// the Dispatcher.
type Publisher struct {
	outbox OutboxWriter
	logger zerolog.Logger
}

// NewPublisher constructs a publisher.
func NewPublisher(outbox OutboxWriter, logger zerolog.Logger) *Publisher {
	return &Publisher{outbox: outbox, logger: logger}
}

// Publish writes the event to the outbox.
func (p *Publisher) Publish(ctx context.Context, event any) error {
	start := time.Now()
	if p == nil || p.outbox == nil {
		metrics.ObserveOutboxPublish(metrics.ResultSuccess, time.Since(start))
		return nil
	}
	env, err := BuildEnvelope(event, MetaFromContext(ctx))
	if err != nil {
		metrics.ObserveOutboxPublish(metrics.ResultError, time.Since(start))
		return err
	}
	if _, err := p.outbox.Insert(ctx, env); err != nil {
		metrics.ObserveOutboxPublish(metrics.ResultError, time.Since(start))
		return err
	}
	duration := time.Since(start)
	metrics.ObserveOutboxPublish(metrics.ResultSuccess, duration)
	if duration > slowPublish {
		p.logger.Warn().
			Int64("duration_ms", duration.Milliseconds()).
			Str("event_type", env.EventType).
			Msg("slow outbox publish")
	}
	return nil
}
