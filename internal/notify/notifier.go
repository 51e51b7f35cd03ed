// Package notify alerts operators about downstream failures that no
// automatic retry will repair.
package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"finance-backoffice/internal/failure"
)

// Clock provides time for deduplication.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Notifier renders manual-intervention warnings and sends them through a
// channel. Identical alerts inside the dedupe window are dropped.
type Notifier struct {
	channel        Channel
	template       *Template
	clock          Clock
	dedupeWindow   time.Duration
	requestTimeout time.Duration
	logger         zerolog.Logger

	mu   sync.Mutex
	sent map[string]time.Time
}

// Option configures the notifier.
type Option func(*Notifier)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithDedupeWindow suppresses identical alerts within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// WithRequestTimeout bounds a single send.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(n *Notifier) {
		if timeout > 0 {
			n.requestTimeout = timeout
		}
	}
}

// WithLogger sets the logger used for delivery failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(n *Notifier) {
		n.logger = logger
	}
}

// NewNotifier constructs a notifier. A nil template uses DefaultTemplate.
func NewNotifier(channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("notifier: nil channel")
	}
	if template == nil {
		def, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = def
	}
	n := &Notifier{
		channel:        channel,
		template:       template,
		clock:          systemClock{},
		dedupeWindow:   10 * time.Minute,
		requestTimeout: 5 * time.Second,
		logger:         zerolog.Nop(),
		sent:           make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// NotifyWarnings sends one alert per warning flagged for manual
// intervention. Other warnings are ignored; send errors are logged.
func (n *Notifier) NotifyWarnings(ctx context.Context, source, subject string, warnings []*failure.PartialFailure) {
	if n == nil {
		return
	}
	for _, w := range warnings {
		if w == nil || !w.ManualIntervention {
			continue
		}
		reason := ""
		if w.Err != nil {
			reason = w.Err.Error()
		}
		n.send(ctx, TemplateData{
			Source:  source,
			Subject: subject,
			Step:    w.Step,
			Reason:  reason,
			Time:    n.clock.Now().UTC().Format(time.RFC3339),
		})
	}
}

func (n *Notifier) send(ctx context.Context, data TemplateData) {
	content, err := n.template.Render(data)
	if err != nil {
		n.logger.Error().Err(err).Msg("alert render failed")
		return
	}
	key := hashContent(data.Source + "|" + data.Subject + "|" + data.Step + "|" + data.Reason)
	if !n.shouldSend(key) {
		return
	}
	if n.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.requestTimeout)
		defer cancel()
	}
	if err := n.channel.Send(ctx, content); err != nil {
		n.logger.Error().Err(err).Str("source", data.Source).Str("subject", data.Subject).Msg("alert delivery failed")
		return
	}
	n.markSent(key)
}

func (n *Notifier) shouldSend(key string) bool {
	if n.dedupeWindow <= 0 {
		return true
	}
	n.mu.Lock()
	at, ok := n.sent[key]
	n.mu.Unlock()
	return !ok || n.clock.Now().UTC().Sub(at) >= n.dedupeWindow
}

func (n *Notifier) markSent(key string) {
	n.mu.Lock()
	n.sent[key] = n.clock.Now().UTC()
	n.mu.Unlock()
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}
