package common

import (
	"strings"
	"time"
)

// TimestampLayout is the naive UTC layout used whenever a timestamp leaves the
// process as text. Receivers treat it as UTC; an offset suffix is never added.
const TimestampLayout = "2006-01-02T15:04:05"

// DateLayout is the calendar date layout used for holiday keys.
const DateLayout = "2006-01-02"

// FormatUTC renders t in UTC using TimestampLayout.
func FormatUTC(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseUTC parses the timestamp shapes produced by the upstream APIs and by our
// own CSV files. Values without an offset are read as UTC.
func ParseUTC(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.000Z07:00",
		TimestampLayout,
		"2006-01-02T15:04",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05",
	}
	var lastErr error
	for _, layout := range layouts {
		ts, err := time.Parse(layout, s)
		if err == nil {
			return ts.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// TruncateHour returns t in UTC truncated to the start of its hour.
func TruncateHour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// Chunks splits items into consecutive slices of at most size elements.
func Chunks[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) <= size {
		if len(items) == 0 {
			return nil
		}
		return [][]T{items}
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}

// Upsert statuses.
const (
	StatusOK    = "ok"
	StatusEmpty = "empty"
)

// UpsertResult reports the outcome of one bulk write.
type UpsertResult struct {
	Status string `json:"status"`
	Table  string `json:"table"`
	Count  int    `json:"count"`
}

// NewUpsertResult returns the result for count rows written to table; zero rows
// is reported as StatusEmpty.
func NewUpsertResult(table string, count int) UpsertResult {
	status := StatusOK
	if count == 0 {
		status = StatusEmpty
	}
	return UpsertResult{Status: status, Table: table, Count: count}
}
