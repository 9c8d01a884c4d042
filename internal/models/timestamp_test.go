package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseTimestampNormalizesToUTC(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"2026-03-01T10:00:00Z", "2026-03-01T10:00:00Z"},
		{"2026-03-01T10:00:00.5Z", "2026-03-01T10:00:00.5Z"},
		{"2026-03-01T12:00:00+02:00", "2026-03-01T10:00:00Z"},
		{"2026-03-01T10:00:00", "2026-03-01T10:00:00Z"},
		// Legacy unix seconds.
		{"1700000000", "2023-11-14T22:13:20Z"},
	}
	for _, tc := range cases {
		ts, err := ParseTimestamp(tc.in)
		if err != nil {
			t.Errorf("parse %q: %v", tc.in, err)
			continue
		}
		if ts.String() != tc.want {
			t.Errorf("parse %q = %s, want %s", tc.in, ts, tc.want)
		}
	}
}

func TestParseTimestampRejectsGarbage(t *testing.T) {
	if _, err := ParseTimestamp("next tuesday"); err == nil {
		t.Fatal("expected error")
	}
}

func TestTimestampOffsetVariantsCompareEqual(t *testing.T) {
	a, _ := ParseTimestamp("2026-03-01T12:00:00+02:00")
	b, _ := ParseTimestamp("2026-03-01T10:00:00Z")
	if a.Compare(b) != 0 {
		t.Errorf("equal instants compare %d", a.Compare(b))
	}
}

func TestTimestampJSONRoundTrip(t *testing.T) {
	ts := TimestampAt(time.Date(2026, 3, 1, 10, 0, 0, 250_000_000, time.UTC))
	data, err := json.Marshal(ts)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"2026-03-01T10:00:00.25Z"` {
		t.Errorf("wire form = %s", data)
	}

	var back Timestamp
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Compare(ts) != 0 {
		t.Errorf("round trip drifted: %s vs %s", back, ts)
	}
}

func TestTimestampUnmarshalUnixNumber(t *testing.T) {
	var ts Timestamp
	if err := json.Unmarshal([]byte(`1700000000`), &ts); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ts.String() != "2023-11-14T22:13:20Z" {
		t.Errorf("ts = %s", ts)
	}
}
