package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"wotnode-gateway/internal/config"
	"wotnode-gateway/internal/fakenode"
	"wotnode-gateway/internal/telemetry"
)

var nodeReading = telemetry.Snapshot{
	Temperature:        19.5,
	AverageTemperature: 19.0,
	Humidity:           55.5,
	AverageHumidity:    54.0,
	Voltage:            3.6,
	FreeMemoryBytes:    99000,
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startFakeNode(t *testing.T) *fakenode.Node {
	t.Helper()
	node, err := fakenode.Listen(context.Background(), fakenode.Options{
		Addr:   "127.0.0.1:0",
		Source: fakenode.Fixed(nodeReading),
		Logger: quiet(),
	})
	if err != nil {
		t.Fatalf("fakenode.Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = node.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return node
}

func testConfig(t *testing.T, dbPath string, remotePort int) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.UDPBindAddr = "127.0.0.1"
	cfg.UDPLocalPort = 0
	cfg.UDPRemotePort = remotePort
	cfg.BroadcastAddr = "127.0.0.1"
	cfg.PollInterval = 50 * time.Millisecond
	cfg.ReceiveTimeout = 20 * time.Millisecond
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.SQLitePath = dbPath
	cfg.NodeID = "attic"
	return cfg
}

type running struct {
	base   string
	cancel context.CancelFunc
	done   chan error
}

func startApp(t *testing.T, cfg config.Config) *running {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	addrCh := make(chan net.Addr, 1)
	r := &running{cancel: cancel, done: make(chan error, 1)}
	go func() {
		r.done <- run(ctx, cfg, quiet(), func(a net.Addr) { addrCh <- a })
	}()
	select {
	case a := <-addrCh:
		r.base = "http://" + a.String()
	case err := <-r.done:
		cancel()
		t.Fatalf("run exited early: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("gateway did not become ready")
	}
	t.Cleanup(func() { r.stop(t) })
	return r
}

func (r *running) stop(t *testing.T) {
	t.Helper()
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.cancel = nil
	select {
	case err := <-r.done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("run did not return after cancel")
	}
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func post(t *testing.T, url string) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	_ = resp.Body.Close()
	return resp.StatusCode
}

type snapshotBody struct {
	NodeID          string  `json:"node_id"`
	Temperature     float64 `json:"temperature_c"`
	FreeMemoryBytes int64   `json:"free_ram_bytes"`
}

func waitSnapshot(t *testing.T, base string) snapshotBody {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var body snapshotBody
		if getJSON(t, base+"/api/snapshot", &body) == http.StatusOK {
			return body
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("no snapshot served")
	return snapshotBody{}
}

func TestRun_EndToEndWithFakeNode(t *testing.T) {
	node := startFakeNode(t)
	dbPath := filepath.Join(t.TempDir(), "wotnode.db")
	cfg := testConfig(t, dbPath, int(node.Addr().Port()))

	app := startApp(t, cfg)

	if code := getJSON(t, app.base+"/healthz", nil); code != http.StatusOK {
		t.Fatalf("/healthz = %d, want 200", code)
	}
	body := waitSnapshot(t, app.base)
	if body.NodeID != "attic" || body.Temperature != 19.5 || body.FreeMemoryBytes != 99000 {
		t.Errorf("snapshot = %+v", body)
	}

	if code := post(t, app.base+"/api/session/suspend"); code != http.StatusOK {
		t.Errorf("suspend = %d, want 200", code)
	}
	if code := post(t, app.base+"/api/refresh"); code != http.StatusConflict {
		t.Errorf("refresh while suspended = %d, want 409", code)
	}
	if code := post(t, app.base+"/api/session/resume"); code != http.StatusOK {
		t.Errorf("resume = %d, want 200", code)
	}
	if code := post(t, app.base+"/api/refresh"); code != http.StatusAccepted {
		t.Errorf("refresh = %d, want 202", code)
	}

	var events []struct {
		Event string `json:"event"`
	}
	getJSON(t, app.base+"/api/session/events", &events)
	var names []string
	for _, e := range events {
		names = append(names, e.Event)
	}
	if len(names) < 3 || names[0] != "resumed" || names[1] != "suspended" || names[2] != "started" {
		t.Errorf("events = %v, want [resumed suspended started]", names)
	}

	app.stop(t)

	// Without a node the restarted gateway still serves the stored snapshot.
	cfg = testConfig(t, dbPath, int(node.Addr().Port()))
	cfg.BroadcastAddr = "127.0.0.2"
	restarted := startApp(t, cfg)
	var again snapshotBody
	if code := getJSON(t, restarted.base+"/api/snapshot", &again); code != http.StatusOK {
		t.Fatalf("/api/snapshot after restart = %d, want 200", code)
	}
	if again.Temperature != 19.5 {
		t.Errorf("restored temperature = %v, want 19.5", again.Temperature)
	}
}

func TestRun_BindFailureIsFatal(t *testing.T) {
	busy, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = busy.Close() }()

	cfg := testConfig(t, filepath.Join(t.TempDir(), "w.db"), 1025)
	cfg.UDPLocalPort = busy.LocalAddr().(*net.UDPAddr).Port

	err = Run(context.Background(), cfg, quiet())
	if err == nil {
		t.Fatal("Run() error = nil, want bind failure")
	}
}

func TestStaleCheckInterval(t *testing.T) {
	tests := []struct {
		staleAfter time.Duration
		want       time.Duration
	}{
		{time.Nanosecond, minStaleCheck},
		{2 * time.Millisecond, minStaleCheck},
		{30 * time.Second, 15 * time.Second},
	}
	for _, tt := range tests {
		if got := staleCheckInterval(tt.staleAfter); got != tt.want {
			t.Errorf("staleCheckInterval(%v) = %v, want %v", tt.staleAfter, got, tt.want)
		}
	}
}

func TestWatchStaleness_TinyStaleAfter(t *testing.T) {
	t.Setenv("STALE_AFTER", "1ns")
	cfg, err := config.LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		watchStaleness(ctx, cfg, telemetry.NewLatest(), nil, quiet())
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watchStaleness did not return after ctx was done")
	}
}

type shutdownLog struct {
	calls []string
}

type loggedSession struct{ log *shutdownLog }

func (s loggedSession) Stop() error {
	s.log.calls = append(s.log.calls, "session.Stop")
	return errors.New("socket already closed")
}

type loggedPublisher struct{ log *shutdownLog }

func (p loggedPublisher) Disconnect() {
	p.log.calls = append(p.log.calls, "mqtt.Disconnect")
}

func TestStopSession_StopsSessionBeforeDisconnect(t *testing.T) {
	var log shutdownLog
	stopSession(loggedSession{&log}, loggedPublisher{&log}, quiet())

	want := []string{"session.Stop", "mqtt.Disconnect"}
	if len(log.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", log.calls, want)
	}
	for i := range want {
		if log.calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, log.calls[i], want[i])
		}
	}

	log.calls = nil
	stopSession(loggedSession{&log}, nil, quiet())
	if len(log.calls) != 1 || log.calls[0] != "session.Stop" {
		t.Errorf("calls without publisher = %v, want [session.Stop]", log.calls)
	}
}
