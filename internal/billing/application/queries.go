package application

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	billing "finance-backoffice/internal/billing/domain"
	"finance-backoffice/internal/failure"
)

// HistoryItem is one decoded history record. Records that no longer decode
// keep their raw bytes and a decode error.
type HistoryItem struct {
	Entry       billing.AuditLogEntry
	DisplayTime string
	Raw         string
	DecodeError string
}

// ChargeView is a charge as presented to readers, recomputed on every load.
type ChargeView struct {
	Charge           *billing.Charge
	Installments     []billing.Installment
	History          []HistoryItem
	HistoryIntact    bool
	HistoryBrokenAt  int
	StatusRecognized bool
	Overdue          bool
	Warnings         []*failure.PartialFailure
}

// QueryService builds charge views. Each load runs the overdue sweep for
// that charge once before expanding it.
type QueryService struct {
	repo    billing.ChargeRepository
	sweeper *Sweeper
	opts    billing.ExpandOptions
	loc     *time.Location
	clock   Clock
	logger  zerolog.Logger
}

// QueryOption configures the query service.
type QueryOption func(*QueryService)

// WithQueryClock overrides the time source used for the overdue flag.
func WithQueryClock(clock Clock) QueryOption {
	return func(s *QueryService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewQueryService constructs the service. A nil sweeper skips the
// overdue reclassification. The clock defaults to the sweeper's, so the
// overdue flag and the reclassification agree on "today".
func NewQueryService(repo billing.ChargeRepository, sweeper *Sweeper, opts billing.ExpandOptions, loc *time.Location, logger zerolog.Logger, options ...QueryOption) (*QueryService, error) {
	if repo == nil {
		return nil, errors.New("charge query service: nil repo")
	}
	if loc == nil {
		loc = time.UTC
	}
	s := &QueryService{repo: repo, sweeper: sweeper, opts: opts, loc: loc, clock: SystemClock{}, logger: logger}
	if sweeper != nil {
		s.clock = sweeper.writer.clock
	}
	for _, opt := range options {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Get loads one charge view.
func (s *QueryService) Get(ctx context.Context, id string) (*ChargeView, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, c), nil
}

// List loads views for every charge matching filter.
func (s *QueryService) List(ctx context.Context, filter billing.ChargeFilter) ([]*ChargeView, error) {
	charges, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*ChargeView, 0, len(charges))
	for _, c := range charges {
		out = append(out, s.view(ctx, c))
	}
	return out, nil
}

func (s *QueryService) view(ctx context.Context, c *billing.Charge) *ChargeView {
	v := &ChargeView{}
	if s.sweeper != nil {
		updated, _, err := s.sweeper.Reclassify(ctx, c)
		if err != nil {
			s.logger.Warn().Err(err).Str("charge_id", c.ID).Msg("overdue reclassification on read failed")
			v.Warnings = append(v.Warnings, failure.Partial("overdue reclassification", err))
		} else {
			c = updated
		}
	}

	v.Charge = c
	v.Installments = billing.Expand(c, s.opts)
	v.StatusRecognized = c.Status == "" || s.opts.Vocabulary.Known(c.Status)
	v.Overdue = overdue(v.Installments, s.clock.Now().In(s.loc))
	v.HistoryBrokenAt = billing.VerifyHistory(c.History)
	v.HistoryIntact = v.HistoryBrokenAt < 0
	v.History = make([]HistoryItem, 0, len(c.History))
	for _, rec := range c.History {
		item := HistoryItem{}
		entry, err := rec.Decode()
		if err != nil {
			item.Raw = string(rec.Raw())
			item.DecodeError = err.Error()
		} else {
			item.Entry = entry
			item.DisplayTime = billing.FormatTimestamp(entry.When(), s.loc)
		}
		v.History = append(v.History, item)
	}
	return v
}

func overdue(installments []billing.Installment, now time.Time) bool {
	for _, inst := range installments {
		if inst.Status == billing.StatusOverdue || inst.OverdueAt(now) {
			return true
		}
	}
	return false
}
