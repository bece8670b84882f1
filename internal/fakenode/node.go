// Package fakenode is a UDP stand-in for the sensor node: it answers every
// GetAllSensorsData request with a JSON reading.
package fakenode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"wotnode-gateway/internal/codec"
	"wotnode-gateway/internal/telemetry"
)

// Source produces the reading for one reply.
type Source interface {
	Next() telemetry.Snapshot
}

type Options struct {
	// Addr is the listen address, e.g. ":1025" or "127.0.0.1:0".
	Addr   string
	Source Source
	// Padding appends NUL bytes to each reply, like a fixed-size firmware
	// send buffer.
	Padding int
	Logger  *slog.Logger
}

type Node struct {
	conn    *net.UDPConn
	source  Source
	padding int
	logger  *slog.Logger

	requests atomic.Uint64
	ignored  atomic.Uint64

	closeOnce sync.Once
}

func Listen(ctx context.Context, opts Options) (*Node, error) {
	if opts.Source == nil {
		return nil, errors.New("fakenode: source is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp4", opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("fakenode listen %s: %w", opts.Addr, err)
	}
	return &Node{
		conn:    pc.(*net.UDPConn),
		source:  opts.Source,
		padding: opts.Padding,
		logger:  opts.Logger,
	}, nil
}

func (n *Node) Addr() netip.AddrPort {
	return n.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// Requests is the number of commands answered so far.
func (n *Node) Requests() uint64 {
	return n.requests.Load()
}

// Serve answers requests until ctx is done or Close is called.
func (n *Node) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = n.Close() })
	defer stop()

	buf := make([]byte, 64)
	for {
		size, from, err := n.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return nil
			}
			return fmt.Errorf("fakenode read: %w", err)
		}
		if size != 1 || codec.Command(buf[0]) != codec.GetAllSensorsData {
			n.ignored.Add(1)
			n.logger.Debug("fakenode: ignoring datagram", "from", from.String(), "bytes", size)
			continue
		}
		if err := n.reply(from); err != nil {
			n.logger.Warn("fakenode: reply failed", "to", from.String(), "error", err)
		}
	}
}

func (n *Node) reply(to netip.AddrPort) error {
	snap := n.source.Next()
	body, err := codec.EncodeReply(snap)
	if err != nil {
		return err
	}
	if n.padding > 0 {
		body = append(body, make([]byte, n.padding)...)
	}
	if _, err := n.conn.WriteToUDPAddrPort(body, to); err != nil {
		return err
	}
	n.requests.Add(1)
	n.logger.Info("fakenode: replied",
		"to", to.String(),
		"T", snap.Temperature,
		"H", snap.Humidity,
		"V", snap.Voltage,
	)
	return nil
}

func (n *Node) Close() error {
	var err error
	n.closeOnce.Do(func() { err = n.conn.Close() })
	return err
}
