package metrics

import (
	"testing"
	"time"
)

func TestNew_StartTimeSet(t *testing.T) {
	before := time.Now()
	m := New()
	after := time.Now()

	if m.startTime.Before(before) || m.startTime.After(after) {
		t.Errorf("startTime %v not in expected range [%v, %v]", m.startTime, before, after)
	}
}

func TestZeroValue_SnapshotSafe(t *testing.T) {
	var m Metrics
	s := m.Snapshot()
	if s.Requests.Total != 0 {
		t.Errorf("expected 0 total requests, got %d", s.Requests.Total)
	}
}

func TestRequestCounters(t *testing.T) {
	m := New()
	m.RequestsTotal.Add(10)
	m.RequestsProxied.Add(6)
	m.RequestsMocked.Add(2)
	m.RequestsFailover.Add(1)
	m.RequestsChaos.Add(1)
	m.ColdMocks.Add(1)

	s := m.Snapshot()
	if s.Requests.Total != 10 {
		t.Errorf("Total: got %d, want 10", s.Requests.Total)
	}
	if s.Requests.Proxied != 6 {
		t.Errorf("Proxied: got %d, want 6", s.Requests.Proxied)
	}
	if s.Requests.Mocked != 2 {
		t.Errorf("Mocked: got %d, want 2", s.Requests.Mocked)
	}
	if s.Requests.Failover != 1 {
		t.Errorf("Failover: got %d, want 1", s.Requests.Failover)
	}
	if s.Requests.Cold != 1 {
		t.Errorf("Cold: got %d, want 1", s.Requests.Cold)
	}
}

func TestErrorCounters(t *testing.T) {
	m := New()
	m.ErrorsUpstream.Add(3)
	m.ErrorsBodyParse.Add(2)
	m.ErrorsStorageWrite.Add(1)

	s := m.Snapshot()
	if s.Errors.Upstream != 3 {
		t.Errorf("Upstream errors: got %d, want 3", s.Errors.Upstream)
	}
	if s.Errors.BodyParse != 2 {
		t.Errorf("BodyParse errors: got %d, want 2", s.Errors.BodyParse)
	}
	if s.Errors.StorageWrite != 1 {
		t.Errorf("StorageWrite errors: got %d, want 1", s.Errors.StorageWrite)
	}
}

func TestBufferCounters(t *testing.T) {
	m := New()
	m.BufferDropped.Add(5)
	m.BufferConsolidated.Add(95)

	s := m.Snapshot()
	if s.Buffer.Dropped != 5 {
		t.Errorf("Dropped: got %d, want 5", s.Buffer.Dropped)
	}
	if s.Buffer.Consolidated != 95 {
		t.Errorf("Consolidated: got %d, want 95", s.Buffer.Consolidated)
	}
}

func TestHealthAndDriftCounters(t *testing.T) {
	m := New()
	m.HealthAnomaliesLatency.Add(2)
	m.HealthAnomaliesError.Add(1)
	m.HealthAnomaliesSize.Add(1)
	m.DriftAlertsRaised.Add(3)

	s := m.Snapshot()
	if s.Health.AnomaliesLatency != 2 {
		t.Errorf("AnomaliesLatency: got %d, want 2", s.Health.AnomaliesLatency)
	}
	if s.Health.DriftAlerts != 3 {
		t.Errorf("DriftAlerts: got %d, want 3", s.Health.DriftAlerts)
	}
}

func TestRecordForwardLatency_SingleSample(t *testing.T) {
	m := New()
	m.RecordForwardLatency(100 * time.Millisecond)

	s := m.Snapshot()
	if s.Latency.ForwardMs.Count != 1 {
		t.Errorf("Count: got %d, want 1", s.Latency.ForwardMs.Count)
	}
	if s.Latency.ForwardMs.MinMs < 90 || s.Latency.ForwardMs.MinMs > 110 {
		t.Errorf("MinMs: got %f, want ~100", s.Latency.ForwardMs.MinMs)
	}
}

func TestRecordConsolidateLatency_MinMaxMean(t *testing.T) {
	m := New()
	m.RecordConsolidateLatency(50 * time.Millisecond)
	m.RecordConsolidateLatency(150 * time.Millisecond)
	m.RecordConsolidateLatency(100 * time.Millisecond)

	s := m.Snapshot()
	ls := s.Latency.ConsolidateMs
	if ls.Count != 3 {
		t.Errorf("Count: got %d, want 3", ls.Count)
	}
	if ls.MinMs > 60 {
		t.Errorf("MinMs too high: %f", ls.MinMs)
	}
	if ls.MaxMs < 140 {
		t.Errorf("MaxMs too low: %f", ls.MaxMs)
	}
	if ls.MeanMs < 90 || ls.MeanMs > 110 {
		t.Errorf("MeanMs: got %f, want ~100", ls.MeanMs)
	}
}

func TestSnapshotLatency_EmptyIsZeroValue(t *testing.T) {
	m := New()
	s := m.Snapshot()
	if s.Latency.ForwardMs.Count != 0 {
		t.Errorf("empty forward latency count should be 0")
	}
	if s.Latency.ConsolidateMs.Count != 0 {
		t.Errorf("empty consolidate latency count should be 0")
	}
}

func TestSnapshot_UptimePositive(t *testing.T) {
	m := New()
	time.Sleep(5 * time.Millisecond)
	s := m.Snapshot()
	if s.UptimeSecs <= 0 {
		t.Errorf("UptimeSecs should be positive, got %f", s.UptimeSecs)
	}
}

func TestRound2(t *testing.T) {
	cases := []struct {
		input float64
		want  float64
	}{
		{1.236, 1.24},
		{1.234, 1.23},
		{100.0, 100.0},
		{0.0, 0.0},
	}
	for _, c := range cases {
		got := round2(c.input)
		if got != c.want {
			t.Errorf("round2(%f) = %f, want %f", c.input, got, c.want)
		}
	}
}

func TestLatencyStats_Record(t *testing.T) {
	var s latencyStats
	s.record(10)
	s.record(20)
	s.record(15)

	snap := s.snapshot()
	if snap.Count != 3 {
		t.Errorf("Count: got %d, want 3", snap.Count)
	}
	if snap.MinMs != 10 {
		t.Errorf("MinMs: got %f, want 10", snap.MinMs)
	}
	if snap.MaxMs != 20 {
		t.Errorf("MaxMs: got %f, want 20", snap.MaxMs)
	}
	if snap.MeanMs != 15 {
		t.Errorf("MeanMs: got %f, want 15", snap.MeanMs)
	}
}

func TestLatencyStats_Empty(t *testing.T) {
	var s latencyStats
	snap := s.snapshot()
	if snap.Count != 0 || snap.MinMs != 0 || snap.MaxMs != 0 || snap.MeanMs != 0 {
		t.Errorf("empty stats snapshot should be zero, got %+v", snap)
	}
}
