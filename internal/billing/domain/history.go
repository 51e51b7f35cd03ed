package billing

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// HumanTimestampLayout is the display format of history timestamps.
const HumanTimestampLayout = "02/01/2006 15:04:05"

// UnknownActor is recorded when no acting user is available.
const UnknownActor = "Unknown"

// Audit actions recorded on charge history.
const (
	ActionChargeCreated        = "charge_created"
	ActionPaymentConfirmed     = "payment_confirmed"
	ActionPaymentReverted      = "payment_reverted"
	ActionInstallmentCancelled = "installment_cancelled"
	ActionCancellationReverted = "cancellation_reverted"
	ActionStatusReported       = "status_reported"
	ActionStatusReclassified   = "status_reclassified"
)

// TimestampKind tells how a history timestamp was recorded.
type TimestampKind int

const (
	// TimestampLegacy entries only carry a display string.
	TimestampLegacy TimestampKind = iota
	// TimestampModern entries carry an epoch instant.
	TimestampModern
)

// Timestamp is either a legacy display string or a modern instant.
type Timestamp struct {
	Kind   TimestampKind
	Legacy string
	At     time.Time
}

// ModernTimestamp wraps an instant.
func ModernTimestamp(at time.Time) Timestamp {
	return Timestamp{Kind: TimestampModern, At: at}
}

// LegacyTimestamp wraps a stored display string.
func LegacyTimestamp(s string) Timestamp {
	return Timestamp{Kind: TimestampLegacy, Legacy: s}
}

// FormatTimestamp renders ts for display in loc. Legacy strings are
// returned unchanged.
func FormatTimestamp(ts Timestamp, loc *time.Location) string {
	if ts.Kind == TimestampModern {
		if loc == nil {
			loc = time.UTC
		}
		return ts.At.In(loc).Format(HumanTimestampLayout)
	}
	return strings.TrimSpace(ts.Legacy)
}

// Instant returns the machine instant of ts. Legacy strings are parsed
// with the display layout in loc; ok is false when that fails.
func (ts Timestamp) Instant(loc *time.Location) (time.Time, bool) {
	if ts.Kind == TimestampModern {
		return ts.At, true
	}
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(HumanTimestampLayout, strings.TrimSpace(ts.Legacy), loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// AuditLogEntry is one element of a charge's history.
type AuditLogEntry struct {
	ID          string         `json:"id"`
	Action      string         `json:"action"`
	User        string         `json:"user"`
	Timestamp   string         `json:"timestamp"`
	TimestampMs int64          `json:"timestampMs,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	PrevHash    string         `json:"prevHash,omitempty"`
}

// When returns the entry timestamp as a tagged union.
func (e AuditLogEntry) When() Timestamp {
	if e.TimestampMs > 0 {
		return ModernTimestamp(time.UnixMilli(e.TimestampMs).UTC())
	}
	return LegacyTimestamp(e.Timestamp)
}

// NewEntry builds a fresh history entry stamped at now.
func NewEntry(action, actor string, details map[string]any, now time.Time, loc *time.Location) AuditLogEntry {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = UnknownActor
	}
	return AuditLogEntry{
		ID:          uuid.NewString(),
		Action:      action,
		User:        actor,
		Timestamp:   FormatTimestamp(ModernTimestamp(now), loc),
		TimestampMs: now.UnixMilli(),
		Details:     details,
	}
}

// HistoryRecord is a stored history entry kept as the exact bytes written.
type HistoryRecord struct {
	raw []byte
}

// NewHistoryRecord wraps stored bytes. The input is copied.
func NewHistoryRecord(raw []byte) HistoryRecord {
	buf := make([]byte, len(raw))
	copy(buf, raw)
	return HistoryRecord{raw: buf}
}

// Raw returns a copy of the stored bytes.
func (r HistoryRecord) Raw() []byte {
	buf := make([]byte, len(r.raw))
	copy(buf, r.raw)
	return buf
}

// Equal reports byte equality.
func (r HistoryRecord) Equal(other HistoryRecord) bool {
	return bytes.Equal(r.raw, other.raw)
}

type storedEntry struct {
	ID          string          `json:"id"`
	Action      string          `json:"action"`
	User        string          `json:"user"`
	Timestamp   json.RawMessage `json:"timestamp"`
	TimestampMs int64           `json:"timestampMs"`
	Details     map[string]any  `json:"details"`
	PrevHash    string          `json:"prevHash"`
}

// Decode parses the record. Legacy records may use a numeric timestamp.
func (r HistoryRecord) Decode() (AuditLogEntry, error) {
	var stored storedEntry
	if err := json.Unmarshal(r.raw, &stored); err != nil {
		return AuditLogEntry{}, err
	}
	entry := AuditLogEntry{
		ID:          stored.ID,
		Action:      stored.Action,
		User:        stored.User,
		TimestampMs: stored.TimestampMs,
		Details:     stored.Details,
		PrevHash:    stored.PrevHash,
	}
	ts := bytes.TrimSpace(stored.Timestamp)
	switch {
	case len(ts) == 0 || bytes.Equal(ts, []byte("null")):
	case ts[0] == '"':
		if err := json.Unmarshal(ts, &entry.Timestamp); err != nil {
			return AuditLogEntry{}, err
		}
	default:
		var ms int64
		if err := json.Unmarshal(ts, &ms); err != nil {
			return AuditLogEntry{}, err
		}
		if entry.TimestampMs == 0 {
			entry.TimestampMs = ms
		}
	}
	return entry, nil
}

func (r HistoryRecord) clone() HistoryRecord {
	return NewHistoryRecord(r.raw)
}

// EncodeEntry serializes an entry into a history record.
func EncodeEntry(entry AuditLogEntry) (HistoryRecord, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(entry); err != nil {
		return HistoryRecord{}, err
	}
	return HistoryRecord{raw: bytes.TrimRight(buf.Bytes(), "\n")}, nil
}

// HashRecord returns the hex sha256 of the record bytes.
func HashRecord(r HistoryRecord) string {
	sum := sha256.Sum256(r.raw)
	return hex.EncodeToString(sum[:])
}

// AppendHistory returns a new history holding every existing record
// verbatim followed by entry, chained to the last record.
func AppendHistory(history []HistoryRecord, entry AuditLogEntry) ([]HistoryRecord, error) {
	if strings.TrimSpace(entry.ID) == "" {
		return nil, errors.New("billing: history entry without id")
	}
	if len(history) > 0 {
		entry.PrevHash = HashRecord(history[len(history)-1])
	}
	rec, err := EncodeEntry(entry)
	if err != nil {
		return nil, err
	}
	out := make([]HistoryRecord, 0, len(history)+1)
	for _, r := range history {
		out = append(out, r.clone())
	}
	return append(out, rec), nil
}

// HistoryExtends reports whether next keeps every record of stored
// unchanged and in order.
func HistoryExtends(stored, next []HistoryRecord) bool {
	if len(next) < len(stored) {
		return false
	}
	for i := range stored {
		if !stored[i].Equal(next[i]) {
			return false
		}
	}
	return true
}

// VerifyHistory returns the index of the first record whose hash link does
// not match its predecessor, or -1 when the chain is intact. Records
// without a hash are skipped.
func VerifyHistory(history []HistoryRecord) int {
	for i, rec := range history {
		entry, err := rec.Decode()
		if err != nil {
			return i
		}
		if entry.PrevHash == "" {
			continue
		}
		if i == 0 || entry.PrevHash != HashRecord(history[i-1]) {
			return i
		}
	}
	return -1
}
