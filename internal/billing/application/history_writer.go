package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	billing "finance-backoffice/internal/billing/domain"
	"finance-backoffice/internal/observability/metrics"
)

const (
	defaultMaxAttempts  = 5
	defaultRetryBackoff = 25 * time.Millisecond
)

// ErrNoChange aborts an append from inside a merge without writing and
// without counting as a failure.
var ErrNoChange = errors.New("billing: no change")

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// HistoryWriter performs the read-modify-append of a charge and its
// history as one repository update, retrying lost races.
type HistoryWriter struct {
	repo        billing.ChargeRepository
	clock       Clock
	loc         *time.Location
	maxAttempts int
	backoff     time.Duration
	logger      zerolog.Logger
}

// HistoryWriterOption configures the writer.
type HistoryWriterOption func(*HistoryWriter)

// WithMaxAttempts bounds update attempts per append.
func WithMaxAttempts(n int) HistoryWriterOption {
	return func(w *HistoryWriter) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithRetryBackoff sets the base delay between attempts. The delay grows
// linearly with the attempt number.
func WithRetryBackoff(d time.Duration) HistoryWriterOption {
	return func(w *HistoryWriter) {
		if d >= 0 {
			w.backoff = d
		}
	}
}

// WithLocation sets the zone used for human-readable timestamps.
func WithLocation(loc *time.Location) HistoryWriterOption {
	return func(w *HistoryWriter) {
		if loc != nil {
			w.loc = loc
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock Clock) HistoryWriterOption {
	return func(w *HistoryWriter) {
		if clock != nil {
			w.clock = clock
		}
	}
}

// NewHistoryWriter constructs a writer.
func NewHistoryWriter(repo billing.ChargeRepository, logger zerolog.Logger, opts ...HistoryWriterOption) (*HistoryWriter, error) {
	if repo == nil {
		return nil, errors.New("history writer: nil repo")
	}
	w := &HistoryWriter{
		repo:        repo,
		clock:       SystemClock{},
		loc:         time.UTC,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultRetryBackoff,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Location returns the zone used for timestamps.
func (w *HistoryWriter) Location() *time.Location {
	return w.loc
}

// Append applies merge to the freshly read charge and appends one history
// entry, persisting both together. Stored records are carried over
// verbatim. A nil merge records the entry alone.
func (w *HistoryWriter) Append(
	ctx context.Context,
	chargeID, action, actor string,
	metadata map[string]any,
	merge billing.MergeFunc,
) ([]billing.HistoryRecord, *billing.Charge, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveHistoryAppend(result, time.Since(start))
	}()

	if chargeID == "" {
		result = metrics.ResultError
		return nil, nil, billing.ErrEmptyChargeID
	}

	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		updated, err := w.repo.Update(ctx, chargeID, func(c *billing.Charge) error {
			if merge != nil {
				if err := merge(c); err != nil {
					return err
				}
			}
			now := w.clock.Now()
			history, err := billing.AppendHistory(c.History, billing.NewEntry(action, actor, metadata, now, w.loc))
			if err != nil {
				return err
			}
			c.History = history
			c.UpdatedAt = now.UTC()
			return nil
		})
		if err == nil {
			return updated.History, updated, nil
		}
		if errors.Is(err, ErrNoChange) {
			result = metrics.ResultNoop
			return nil, nil, err
		}
		if !errors.Is(err, billing.ErrTransactionConflict) {
			result = metrics.ResultError
			return nil, nil, err
		}

		lastErr = err
		metrics.IncHistoryRetry()
		w.logger.Debug().
			Str("charge_id", chargeID).
			Str("action", action).
			Int("attempt", attempt).
			Msg("history append conflict")
		if attempt == w.maxAttempts {
			break
		}
		if err := sleepContext(ctx, w.backoff*time.Duration(attempt)); err != nil {
			result = metrics.ResultError
			return nil, nil, err
		}
	}

	result = metrics.ResultError
	w.logger.Warn().
		Str("charge_id", chargeID).
		Str("action", action).
		Int("attempts", w.maxAttempts).
		Msg("history append gave up")
	return nil, nil, fmt.Errorf("%w after %d attempts: %w", billing.ErrTransactionFailed, w.maxAttempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
