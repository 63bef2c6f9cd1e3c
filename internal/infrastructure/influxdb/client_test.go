package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/deocean-bridge/internal/infrastructure/config"
	"github.com/nerrad567/deocean-bridge/internal/infrastructure/influxdb"
)

// fakeInflux emulates the InfluxDB v2 ping and write endpoints.
type fakeInflux struct {
	*httptest.Server

	mu          sync.Mutex
	bodies      []string
	pingStatus  int
	writeStatus int
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{pingStatus: http.StatusNoContent, writeStatus: http.StatusNoContent}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeInflux) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/ping":
		w.WriteHeader(f.pingStatus)
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body)
		f.bodies = append(f.bodies, string(body))
		if f.writeStatus != http.StatusNoContent {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.writeStatus)
			_, _ = io.WriteString(w, `{"code":"invalid","message":"rejected"}`)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeInflux) setStatus(ping, write int) {
	f.mu.Lock()
	f.pingStatus, f.writeStatus = ping, write
	f.mu.Unlock()
}

func (f *fakeInflux) written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.bodies, "\n")
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "deocean-test-token",
		Org:           "home",
		Bucket:        "telemetry",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnect(t *testing.T) {
	server := newFakeInflux(t)

	client, err := influxdb.Connect(context.Background(), testConfig(server.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
}

func TestConnect_Failures(t *testing.T) {
	server := newFakeInflux(t)
	server.setStatus(http.StatusServiceUnavailable, http.StatusNoContent)

	tests := []struct {
		name    string
		cfg     config.InfluxDBConfig
		wantErr error
	}{
		{
			name:    "disabled",
			cfg:     config.InfluxDBConfig{Enabled: false},
			wantErr: influxdb.ErrDisabled,
		},
		{
			name:    "unreachable",
			cfg:     testConfig("http://127.0.0.1:1"),
			wantErr: influxdb.ErrConnectionFailed,
		},
		{
			name:    "unhealthy",
			cfg:     testConfig(server.URL),
			wantErr: influxdb.ErrConnectionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := influxdb.Connect(context.Background(), tt.cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Connect() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	server := newFakeInflux(t)
	cfg := testConfig(server.URL)
	cfg.BatchSize = -5
	cfg.FlushInterval = 0

	client, err := influxdb.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false with default batch settings")
	}
}

func TestWritePoint(t *testing.T) {
	server := newFakeInflux(t)
	client, err := influxdb.Connect(context.Background(), testConfig(server.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	client.WritePoint("deocean_link",
		map[string]string{"bridge": "deocean-test"},
		map[string]interface{}{"frames_rx": int64(7), "connected": true},
	)

	waitFor(t, "line protocol", func() bool {
		return strings.Contains(server.written(), "deocean_link,bridge=deocean-test")
	})

	body := server.written()
	for _, want := range []string{"frames_rx=7i", "connected=true"} {
		if !strings.Contains(body, want) {
			t.Errorf("body %q missing %q", body, want)
		}
	}
}

func TestWriteErrorCallback(t *testing.T) {
	server := newFakeInflux(t)
	client, err := influxdb.Connect(context.Background(), testConfig(server.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	server.setStatus(http.StatusNoContent, http.StatusBadRequest)

	errCh := make(chan error, 4)
	client.SetOnError(func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})

	client.WritePoint("deocean_link", nil, map[string]interface{}{"frames_rx": int64(1)})

	// The batch goes out on the one-second flush interval.
	select {
	case err := <-errCh:
		if err == nil {
			t.Error("callback received nil error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for write error callback")
	}
}

func TestWriteAfterClose(t *testing.T) {
	server := newFakeInflux(t)
	client, err := influxdb.Connect(context.Background(), testConfig(server.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}

	// Discarded silently; must not panic on the closed write API.
	client.WritePoint("deocean_link", nil, map[string]interface{}{"frames_rx": int64(1)})

	if body := server.written(); body != "" {
		t.Errorf("write after Close reached the server: %q", body)
	}
}

func TestClose_Nil(t *testing.T) {
	var client influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on zero client = %v", err)
	}
}
