package notify

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// MultiChannel fans content out to several channels. Send returns the
// joined errors of the channels that failed.
type MultiChannel struct {
	channels []Channel
}

// NewMultiChannel constructs a MultiChannel.
func NewMultiChannel(channels ...Channel) *MultiChannel {
	return &MultiChannel{channels: channels}
}

// Send forwards content to every channel.
func (m *MultiChannel) Send(ctx context.Context, content string) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, ch := range m.channels {
		if ch == nil {
			continue
		}
		if err := ch.Send(ctx, content); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogChannel writes alerts to the process log.
type LogChannel struct {
	logger zerolog.Logger
}

// NewLogChannel constructs a LogChannel.
func NewLogChannel(logger zerolog.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

// Send logs content at error level.
func (l *LogChannel) Send(_ context.Context, content string) error {
	l.logger.Error().Str("alert", content).Msg("manual intervention required")
	return nil
}
