package deocean

import (
	"context"
	"sync"
	"time"
)

// linkMeasurement is the measurement name for gateway link counters.
const linkMeasurement = "deocean_link"

// defaultStatsInterval is how often link counters are recorded.
const defaultStatsInterval = time.Minute

// PointWriter writes one time-series point.
// Satisfied by *influxdb.Client.
type PointWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]interface{})
}

// StatsRecorder periodically writes gateway link counters to a time-series
// store. Only counters are recorded; device state is not.
type StatsRecorder struct {
	writer   PointWriter
	link     LinkStatus
	tags     map[string]string
	interval time.Duration

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewStatsRecorder creates a recorder.
//
// Parameters:
//   - writer: Destination for points
//   - link: Source of session statistics
//   - bridgeID: Tag value identifying this bridge
//   - gateway: Tag value identifying the gateway ("host:port")
//   - interval: Recording interval; defaults to one minute
func NewStatsRecorder(writer PointWriter, link LinkStatus, bridgeID, gateway string, interval time.Duration) *StatsRecorder {
	if interval <= 0 {
		interval = defaultStatsInterval
	}
	return &StatsRecorder{
		writer: writer,
		link:   link,
		tags: map[string]string{
			"bridge":  bridgeID,
			"gateway": gateway,
		},
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins periodic recording until ctx is cancelled or Stop is called.
func (r *StatsRecorder) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.done:
				return
			case <-ticker.C:
				r.Record()
			}
		}
	}()
}

// Stop stops recording and writes a final point. Safe to call multiple times.
func (r *StatsRecorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
		r.Record()
	})
}

// Record writes the current counters.
func (r *StatsRecorder) Record() {
	stats := r.link.Stats()
	gw := stats.Gateway

	tags := make(map[string]string, len(r.tags)+1)
	for k, v := range r.tags {
		tags[k] = v
	}
	tags["session"] = r.link.ID()

	r.writer.WritePoint(linkMeasurement, tags, map[string]interface{}{
		"frames_rx":       int64(gw.FramesRx),
		"frames_tx":       int64(gw.FramesTx),
		"send_retries":    int64(gw.SendRetries),
		"sends_dropped":   int64(gw.SendsDropped),
		"decode_errors":   int64(gw.DecodeErrors),
		"bytes_discarded": int64(gw.BytesDiscarded),
		"reconnects":      int64(gw.ReconnectsTotal),
		"errors":          int64(gw.ErrorsTotal),
		"scenes_run":      int64(stats.ScenesRun),
		"scenes_dropped":  int64(stats.ScenesDropped),
		"connected":       gw.Connected,
	})
}
