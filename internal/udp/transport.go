// Package udp owns the broadcast-enabled UDP socket used to poll the sensor
// node and receive its replies.
package udp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"strconv"
	"sync"
	"time"
)

type Options struct {
	// BindAddr is the local address to bind; empty means all interfaces.
	BindAddr string
	// Port is the local port; replies from the node arrive here.
	Port     int
	Resolver Resolver
	Logger   *slog.Logger
}

// Datagram is one received packet, truncated to the receive buffer size.
type Datagram struct {
	Payload []byte
	From    netip.AddrPort
}

// Transport is safe for one concurrent sender and one concurrent receiver.
type Transport struct {
	conn     *net.UDPConn
	port     int
	resolver Resolver
	logger   *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Open binds the socket with broadcast enabled. Failing here is the one
// fatal condition of a session.
func Open(ctx context.Context, opts Options) (*Transport, error) {
	if opts.Resolver == nil {
		return nil, errors.New("udp: resolver is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	lc := net.ListenConfig{Control: broadcastControl}
	addr := net.JoinHostPort(opts.BindAddr, strconv.Itoa(opts.Port))
	pc, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("udp listen %s: %w", addr, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return nil, fmt.Errorf("udp listen %s: unexpected conn type %T", addr, pc)
	}

	port := opts.Port
	if la, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		port = la.Port
	}
	opts.Logger.Info("udp: socket bound", "addr", conn.LocalAddr().String(), "broadcast", true)

	return &Transport{
		conn:     conn,
		port:     port,
		resolver: opts.Resolver,
		logger:   opts.Logger,
	}, nil
}

// LocalPort is the bound port, useful when Options.Port was 0.
func (t *Transport) LocalPort() int {
	return t.port
}

// Send resolves the broadcast address and sends payload to it on port.
func (t *Transport) Send(ctx context.Context, payload []byte, port int) error {
	if t == nil || t.conn == nil {
		return &NetworkError{Op: "send", Port: port, Kind: ErrNotInitialized}
	}
	addr, err := t.resolver.BroadcastAddr(ctx)
	if err != nil {
		// Kind carries the sentinel; keep err only for the detail it adds.
		if errors.Is(err, ErrNoNetworkInfo) && errors.Unwrap(err) == nil {
			err = nil
		}
		return &NetworkError{Op: "resolve", Port: port, Kind: ErrNoNetworkInfo, Err: err}
	}

	dst := net.UDPAddrFromAddrPort(netip.AddrPortFrom(addr, uint16(port)))
	if _, err := t.conn.WriteToUDP(payload, dst); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return &NetworkError{Op: "send", Port: port, Kind: ErrNotInitialized, Err: err}
		}
		return &NetworkError{Op: "send", Port: port, Kind: ErrSendFailed, Err: err}
	}
	t.logger.Debug("udp: sent", "to", dst.String(), "bytes", len(payload))
	return nil
}

// Receive waits up to timeout for one datagram (timeout <= 0 waits until
// the socket is closed). Bytes beyond bufferSize are discarded.
func (t *Transport) Receive(ctx context.Context, bufferSize int, timeout time.Duration) (Datagram, error) {
	if t == nil || t.conn == nil {
		return Datagram{}, &NetworkError{Op: "receive", Port: 0, Kind: ErrReceiveFailed, Err: ErrNotInitialized}
	}

	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return Datagram{}, &NetworkError{Op: "receive", Port: t.port, Kind: ErrReceiveFailed, Err: err}
	}

	buf := make([]byte, bufferSize)
	n, from, err := t.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			if ctx.Err() != nil {
				return Datagram{}, &NetworkError{Op: "receive", Port: t.port, Kind: ErrReceiveTimeout, Err: ctx.Err()}
			}
			return Datagram{}, &NetworkError{Op: "receive", Port: t.port, Kind: ErrReceiveTimeout}
		}
		return Datagram{}, &NetworkError{Op: "receive", Port: t.port, Kind: ErrReceiveFailed, Err: err}
	}
	return Datagram{
		Payload: buf[:n],
		From:    netip.AddrPortFrom(from.Addr().Unmap(), from.Port()),
	}, nil
}

// Close releases the socket and unblocks a pending Receive. Safe to call
// more than once.
func (t *Transport) Close() error {
	if t == nil || t.conn == nil {
		return nil
	}
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
		t.logger.Info("udp: socket closed", "port", t.port)
	})
	return t.closeErr
}
