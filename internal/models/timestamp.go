// Package models provides data model definitions for the Hearthkeep sync core.
package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Timestamp wraps time.Time with a canonical wire representation.
//
// On the wire and in durable storage a Timestamp is an RFC 3339 UTC string.
// Older records and foreign servers produce a handful of variants (unix
// seconds, missing fractional part, non-UTC offsets); UnmarshalJSON accepts
// them all and normalizes to UTC so that comparisons are a total order over
// the instant, not the representation.
type Timestamp struct {
	t time.Time
}

// accepted layouts, most specific first
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// Now returns the current instant as a Timestamp.
func Now() Timestamp {
	return Timestamp{t: time.Now().UTC()}
}

// TimestampAt converts a time.Time to a Timestamp.
func TimestampAt(t time.Time) Timestamp {
	return Timestamp{t: t.UTC()}
}

// ParseTimestamp parses a timestamp string in any accepted representation.
func ParseTimestamp(s string) (Timestamp, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{t: t.UTC()}, nil
		}
	}
	// Legacy records stored unix seconds.
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Timestamp{t: time.Unix(secs, 0).UTC()}, nil
	}
	return Timestamp{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// Time returns the underlying time.Time in UTC.
func (ts Timestamp) Time() time.Time {
	return ts.t
}

// IsZero reports whether the timestamp is unset.
func (ts Timestamp) IsZero() bool {
	return ts.t.IsZero()
}

// Compare returns -1, 0 or +1 ordering ts against other.
func (ts Timestamp) Compare(other Timestamp) int {
	return ts.t.Compare(other.t)
}

// Before reports whether ts is strictly earlier than other.
func (ts Timestamp) Before(other Timestamp) bool {
	return ts.t.Before(other.t)
}

// After reports whether ts is strictly later than other.
func (ts Timestamp) After(other Timestamp) bool {
	return ts.t.After(other.t)
}

// Add returns the timestamp shifted by d.
func (ts Timestamp) Add(d time.Duration) Timestamp {
	return Timestamp{t: ts.t.Add(d)}
}

// Sub returns the duration ts - other.
func (ts Timestamp) Sub(other Timestamp) time.Duration {
	return ts.t.Sub(other.t)
}

// String returns the canonical RFC 3339 UTC representation.
func (ts Timestamp) String() string {
	return ts.t.UTC().Format(time.RFC3339Nano)
}

// MarshalJSON implements json.Marshaler.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	// Legacy records stored unix seconds as a JSON number.
	var secs int64
	if err := json.Unmarshal(data, &secs); err == nil {
		ts.t = time.Unix(secs, 0).UTC()
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string or unix seconds: %w", err)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*ts = parsed
	return nil
}
