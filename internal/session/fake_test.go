package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"wotnode-gateway/internal/udp"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sentPacket struct {
	payload []byte
	port    int
}

// fakeTransport records sends and replays scripted receive results.
type fakeTransport struct {
	mu       sync.Mutex
	sends    []sentPacket
	sendErr  error
	receives int

	inbox  chan receiveResult
	closed chan struct{}
	once   sync.Once
}

type receiveResult struct {
	dg  udp.Datagram
	err error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbox:  make(chan receiveResult, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) Send(_ context.Context, payload []byte, port int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sends = append(f.sends, sentPacket{payload: bytes.Clone(payload), port: port})
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context, _ int, timeout time.Duration) (udp.Datagram, error) {
	f.mu.Lock()
	f.receives++
	f.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return udp.Datagram{}, ctx.Err()
	case <-f.closed:
		return udp.Datagram{}, fmt.Errorf("fake receive: %w", net.ErrClosed)
	case r := <-f.inbox:
		return r.dg, r.err
	case <-t.C:
		return udp.Datagram{}, &udp.NetworkError{Op: "receive", Kind: udp.ErrReceiveTimeout}
	}
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) deliver(payload string) {
	f.inbox <- receiveResult{dg: udp.Datagram{
		Payload: []byte(payload),
		From:    netip.MustParseAddrPort("192.168.4.1:1025"),
	}}
}

func (f *fakeTransport) fail(err error) {
	f.inbox <- receiveResult{err: err}
}

func (f *fakeTransport) sent() []sentPacket {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentPacket(nil), f.sends...)
}

func (f *fakeTransport) receiveCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.receives
}

func (f *fakeTransport) setSendErr(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
