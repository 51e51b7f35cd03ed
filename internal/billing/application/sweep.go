package application

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	billing "finance-backoffice/internal/billing/domain"
	"finance-backoffice/internal/observability/metrics"
)

// SystemActor signs history entries written by the engine itself.
const SystemActor = "system"

// SweepResult summarizes one overdue sweep.
type SweepResult struct {
	Scanned      int
	Reclassified int
	Failed       int
}

// Sweeper moves charges with a waiting installment past its due date to
// the overdue status. The reclassification is charge-level.
type Sweeper struct {
	repo   billing.ChargeRepository
	writer *HistoryWriter
	opts   billing.ExpandOptions
	logger zerolog.Logger
}

// NewSweeper constructs a sweeper.
func NewSweeper(repo billing.ChargeRepository, writer *HistoryWriter, opts billing.ExpandOptions, logger zerolog.Logger) (*Sweeper, error) {
	if repo == nil {
		return nil, errors.New("overdue sweeper: nil repo")
	}
	if writer == nil {
		return nil, errors.New("overdue sweeper: nil history writer")
	}
	return &Sweeper{repo: repo, writer: writer, opts: opts, logger: logger}, nil
}

// NeedsOverdue reports whether c has a waiting installment due before
// today in the engine location.
func (s *Sweeper) NeedsOverdue(c *billing.Charge, now time.Time) bool {
	return billing.HasOverdue(billing.Expand(c, s.opts), now.In(s.writer.Location()))
}

// Reclassify persists the overdue status when c needs it. The check is
// repeated on the locked copy so concurrent sweeps append once.
func (s *Sweeper) Reclassify(ctx context.Context, c *billing.Charge) (*billing.Charge, bool, error) {
	now := s.writer.clock.Now()
	if c == nil || !s.NeedsOverdue(c, now) {
		return c, false, nil
	}
	from := c.Status
	_, updated, err := s.writer.Append(ctx, c.ID, billing.ActionStatusReclassified, SystemActor,
		map[string]any{"from": from, "to": string(billing.StatusOverdue)},
		func(fresh *billing.Charge) error {
			if !s.NeedsOverdue(fresh, s.writer.clock.Now()) {
				return ErrNoChange
			}
			fresh.Status = string(billing.StatusOverdue)
			return nil
		})
	if errors.Is(err, ErrNoChange) {
		return c, false, nil
	}
	if err != nil {
		return c, false, err
	}
	metrics.IncOverdueReclassified()
	s.logger.Info().Str("charge_id", c.ID).Str("from", from).Msg("charge reclassified as overdue")
	return updated, true, nil
}

// Run sweeps every stored charge. A failing charge does not stop the run.
func (s *Sweeper) Run(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	charges, err := s.repo.List(ctx, billing.ChargeFilter{})
	if err != nil {
		return result, err
	}
	for _, c := range charges {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Scanned++
		_, changed, err := s.Reclassify(ctx, c)
		if err != nil {
			result.Failed++
			s.logger.Warn().Err(err).Str("charge_id", c.ID).Msg("overdue reclassification failed")
			continue
		}
		if changed {
			result.Reclassified++
		}
	}
	s.logger.Info().
		Int("scanned", result.Scanned).
		Int("reclassified", result.Reclassified).
		Int("failed", result.Failed).
		Msg("overdue sweep finished")
	return result, nil
}

// Scheduler runs the sweep at a fixed interval, or once a day at DailyAt
// ("HH:MM" in the engine location) when set. A daily run missed by the
// ticker fires on the first tick past DailyAt that same day.
type Scheduler struct {
	sweeper  *Sweeper
	interval time.Duration
	dailyAt  string
	logger   zerolog.Logger
	// lastRun is the engine-local date of the last daily run.
	lastRun string
}

// NewScheduler constructs a scheduler.
func NewScheduler(sweeper *Sweeper, interval time.Duration, dailyAt string, logger zerolog.Logger) *Scheduler {
	return &Scheduler{sweeper: sweeper, interval: interval, dailyAt: dailyAt, logger: logger}
}

// Start blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.sweeper == nil {
		return
	}
	tick := s.interval
	if s.dailyAt != "" || tick <= 0 {
		tick = time.Minute
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !s.shouldRun(now) {
				continue
			}
			if _, err := s.sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("scheduled overdue sweep failed")
			}
		}
	}
}

// shouldRun is only called from the Start goroutine.
func (s *Scheduler) shouldRun(now time.Time) bool {
	if s.dailyAt == "" {
		return true
	}
	hour, minute, err := parseDailyAt(s.dailyAt)
	if err != nil {
		return false
	}
	local := now.In(s.sweeper.writer.Location())
	today := local.Format(billing.DateLayout)
	if today == s.lastRun {
		return false
	}
	if local.Hour()*60+local.Minute() < hour*60+minute {
		return false
	}
	s.lastRun = today
	return true
}

func parseDailyAt(value string) (int, int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}
