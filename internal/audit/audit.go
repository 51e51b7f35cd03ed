// Package audit records who did what through the HTTP API. Charge history
// is separate; this trail covers every operator request.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Entry represents an access audit entry.
type Entry struct {
	ID            string
	Actor         string
	Role          string
	Action        string
	ResourceType  string
	ResourceID    string
	Metadata      json.RawMessage
	PayloadDigest string
	IP            string
	UserAgent     string
	CreatedAt     time.Time
}

// Logger writes audit entries.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// NewID generates an audit id.
func NewID() string {
	return "audit-" + uuid.NewString()
}

// DigestJSON computes a SHA256 hex digest for metadata payloads.
func DigestJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}


func normalize(entry Entry) Entry {
	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.PayloadDigest == "" {
		entry.PayloadDigest = DigestJSON(entry.Metadata)
	}
	return entry
}

// LogWriter writes audit entries to a structured log. Used when no SQL
// store is configured.
type LogWriter struct {
	logger zerolog.Logger
}

// NewLogWriter constructs a log-backed audit writer.
func NewLogWriter(logger zerolog.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

// Log emits one audit event.
func (w *LogWriter) Log(_ context.Context, entry Entry) error {
	entry = normalize(entry)
	ev := w.logger.Info().
		Str("audit_id", entry.ID).
		Str("actor", entry.Actor).
		Str("role", entry.Role).
		Str("action", entry.Action).
		Str("resource_type", entry.ResourceType).
		Str("resource_id", entry.ResourceID).
		Str("payload_digest", entry.PayloadDigest).
		Str("ip", entry.IP).
		Str("user_agent", entry.UserAgent)
	if len(entry.Metadata) > 0 {
		ev = ev.RawJSON("metadata", entry.Metadata)
	}
	ev.Msg("audit")
	return nil
}
