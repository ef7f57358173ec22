package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreNoops(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.ChunkSent(10)
	m.ChunkScheduled(time.Second)
	m.DecodeError()
	m.Interrupted()
	m.SetActiveUnits(3)
	m.SessionStarted()
	m.SessionFailed("transport")
	m.StateChanged("connected")
	m.LogAppended("ai")
	if m.Registry() != nil {
		t.Fatalf("expected nil registry")
	}
}

func TestMetricsRecordOnPrivateRegistry(t *testing.T) {
	t.Parallel()

	m := New(nil)
	m.ChunkSent(8192)
	m.ChunkSent(8192)
	m.DecodeError()
	m.SetActiveUnits(2)
	m.SessionFailed("capture_unavailable")
	m.StateChanged("connecting")

	if got := testutil.ToFloat64(m.ChunksSent); got != 2 {
		t.Fatalf("unexpected chunks sent: %v", got)
	}
	if got := testutil.ToFloat64(m.BytesSent); got != 16384 {
		t.Fatalf("unexpected bytes sent: %v", got)
	}
	if got := testutil.ToFloat64(m.DecodeErrors); got != 1 {
		t.Fatalf("unexpected decode errors: %v", got)
	}
	if got := testutil.ToFloat64(m.ActiveUnits); got != 2 {
		t.Fatalf("unexpected active units: %v", got)
	}
	if got := testutil.ToFloat64(m.SessionFailures.WithLabelValues("capture_unavailable")); got != 1 {
		t.Fatalf("unexpected failures: %v", got)
	}

	// A second instance must not collide with the first.
	other := New(nil)
	if testutil.ToFloat64(other.ChunksSent) != 0 {
		t.Fatalf("expected independent registries")
	}
}
