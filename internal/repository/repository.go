package repository

import (
	"clash-tracker/internal/domain"
	"context"
	"fmt"
	"strings"
	"time"
)

// StateRepository loads and saves the whole tracker document.
//
// Save fails with domain.ErrConflict when the stored version no longer matches
// state.Version; on success state.Version is advanced to the new revision.
type StateRepository interface {
	Load(ctx context.Context) (*domain.State, error)
	Save(ctx context.Context, state *domain.State) error
}

// legacyTimestampLayouts covers timestamps written without a zone offset.
var legacyTimestampLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTimestamp accepts RFC 3339 and naive ISO-8601 timestamps. Naive values are
// read in local time.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	for _, layout := range legacyTimestampLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

func FormatTimestamp(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

// observedAt is the text persisted for o's timestamp. An unreadable value that
// was loaded is written back as it was found.
func observedAt(o domain.Observation) string {
	if o.Timestamp.IsZero() && o.RawTimestamp != "" {
		return o.RawTimestamp
	}
	return FormatTimestamp(o.Timestamp)
}
