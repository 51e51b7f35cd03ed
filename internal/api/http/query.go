package apihttp

import (
	"net/http"
	"strconv"
	"time"

	"finance-backoffice/internal/failure"
)

// DateLayout is the calendar date format accepted in query strings.
const DateLayout = "2006-01-02"

// ParseDateQuery reads an optional YYYY-MM-DD parameter in loc.
func ParseDateQuery(r *http.Request, key string, loc *time.Location) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	parsed, err := time.ParseInLocation(DateLayout, value, loc)
	if err != nil {
		return time.Time{}, failure.Validation(key, "must be YYYY-MM-DD")
	}
	return parsed, nil
}

// ParsePeriod reads from/to dates. The returned end is exclusive: the
// day after to.
func ParsePeriod(r *http.Request, loc *time.Location) (time.Time, time.Time, error) {
	from, err := ParseDateQuery(r, "from", loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := ParseDateQuery(r, "to", loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !to.IsZero() {
		to = to.AddDate(0, 0, 1)
	}
	if !from.IsZero() && !to.IsZero() && !to.After(from) {
		return time.Time{}, time.Time{}, failure.Validation("to", "must not be before from")
	}
	return from, to, nil
}

// ParseBoolQuery reads an optional boolean parameter.
func ParseBoolQuery(r *http.Request, key string) (bool, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return false, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, failure.Validation(key, "must be a boolean")
	}
	return parsed, nil
}

// FormatTime renders t as RFC3339 in UTC, or empty when zero.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
