package models

import (
	"testing"
	"time"
)

func TestCheckpointContains(t *testing.T) {
	cp := &SyncCheckpoint{InFlightOperationIDs: []UUID{"op-1", "op-2"}}
	if !cp.Contains("op-1") || !cp.Contains("op-2") {
		t.Error("in-flight ops not found")
	}
	if cp.Contains("op-3") {
		t.Error("unexpected membership")
	}
}

func TestCheckpointExpired(t *testing.T) {
	created := Now()
	cp := &SyncCheckpoint{CreatedAt: created, TTLMillis: (10 * time.Minute).Milliseconds()}

	if cp.Expired(created.Add(9 * time.Minute)) {
		t.Error("expired inside TTL")
	}
	if cp.Expired(created.Add(10 * time.Minute)) {
		t.Error("TTL boundary should not count as expired")
	}
	if !cp.Expired(created.Add(10*time.Minute + time.Millisecond)) {
		t.Error("not expired past TTL")
	}
}
