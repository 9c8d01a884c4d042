package sync

import (
	"testing"
	"time"
)

func TestTrackerState(t *testing.T) {
	tr := NewTracker(false)
	if tr.Online() {
		t.Error("tracker should start offline")
	}
	tr.SetOnline(true)
	if !tr.Online() {
		t.Error("tracker should be online")
	}
}

func TestWakeFiresOnlyOnOfflineToOnlineEdge(t *testing.T) {
	tr := NewTracker(true)
	wake := tr.Wake()

	// online -> online: no signal
	tr.SetOnline(true)
	select {
	case <-wake:
		t.Fatal("signal on repeated online report")
	case <-time.After(20 * time.Millisecond):
	}

	// online -> offline: no signal
	tr.SetOnline(false)
	select {
	case <-wake:
		t.Fatal("signal on going offline")
	case <-time.After(20 * time.Millisecond):
	}

	// offline -> online: signal
	tr.SetOnline(true)
	select {
	case <-wake:
	case <-time.After(time.Second):
		t.Fatal("no signal on offline-to-online edge")
	}
}

func TestWakeSignalsCoalesce(t *testing.T) {
	tr := NewTracker(false)
	wake := tr.Wake()

	for i := 0; i < 3; i++ {
		tr.SetOnline(true)
		tr.SetOnline(false)
	}
	tr.SetOnline(true)

	<-wake
	select {
	case <-wake:
		t.Error("more than one pending wake signal")
	default:
	}
}
