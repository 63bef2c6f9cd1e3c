package deocean

import (
	"context"
	"sync"
	"testing"
	"time"
)

type recordedPoint struct {
	measurement string
	tags        map[string]string
	fields      map[string]interface{}
}

// mockPointWriter records points instead of writing them.
type mockPointWriter struct {
	mu     sync.Mutex
	points []recordedPoint
}

func (m *mockPointWriter) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = append(m.points, recordedPoint{measurement: measurement, tags: tags, fields: fields})
}

func (m *mockPointWriter) Points() []recordedPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]recordedPoint, len(m.points))
	copy(out, m.points)
	return out
}

func TestStatsRecorderRecord(t *testing.T) {
	writer := &mockPointWriter{}
	link := &fakeLink{}
	link.stats.Gateway.FramesRx = 7
	link.stats.Gateway.FramesTx = 3
	link.stats.Gateway.Connected = true
	link.stats.ScenesRun = 2

	r := NewStatsRecorder(writer, link, "deocean-test", "192.168.1.50:9999", 0)
	if r.interval != defaultStatsInterval {
		t.Errorf("interval = %v, want default", r.interval)
	}
	r.Record()

	points := writer.Points()
	if len(points) != 1 {
		t.Fatalf("points = %d, want 1", len(points))
	}
	p := points[0]
	if p.measurement != linkMeasurement {
		t.Errorf("measurement = %q", p.measurement)
	}

	wantTags := map[string]string{"bridge": "deocean-test", "gateway": "192.168.1.50:9999", "session": "session-1"}
	for k, v := range wantTags {
		if p.tags[k] != v {
			t.Errorf("tag %s = %q, want %q", k, p.tags[k], v)
		}
	}

	wantFields := map[string]interface{}{
		"frames_rx":  int64(7),
		"frames_tx":  int64(3),
		"scenes_run": int64(2),
		"connected":  true,
	}
	for k, v := range wantFields {
		if p.fields[k] != v {
			t.Errorf("field %s = %v, want %v", k, p.fields[k], v)
		}
	}
}

func TestStatsRecorderLoop(t *testing.T) {
	writer := &mockPointWriter{}
	r := NewStatsRecorder(writer, &fakeLink{}, "deocean-test", "gw:9999", 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	waitFor(t, time.Second, "periodic points", func() bool { return len(writer.Points()) >= 2 })

	r.Stop()
	n := len(writer.Points())
	r.Stop()
	if len(writer.Points()) != n {
		t.Error("second Stop() wrote another point")
	}
}
