package sync

import (
	"testing"
	"time"
)

func TestBackoffSchedule(t *testing.T) {
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 0},
		{-1, 0},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{8, 256 * time.Second},
		{9, backoffMax},
		{40, backoffMax},
		{1000, backoffMax},
	}
	for _, tc := range cases {
		if got := Backoff(tc.attempts); got != tc.want {
			t.Errorf("Backoff(%d) = %v, want %v", tc.attempts, got, tc.want)
		}
	}
}

func TestBackoffMonotonic(t *testing.T) {
	prev := time.Duration(0)
	for i := 0; i < 20; i++ {
		d := Backoff(i)
		if d < prev {
			t.Errorf("Backoff(%d) = %v decreased from %v", i, d, prev)
		}
		prev = d
	}
}
