package session

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"wotnode-gateway/internal/codec"
	"wotnode-gateway/internal/udp"
	"wotnode-gateway/internal/utils"
)

type receiver interface {
	Receive(ctx context.Context, bufferSize int, timeout time.Duration) (udp.Datagram, error)
}

// Listener receives replies, decodes them and hands snapshots to the
// dispatcher. Any datagram on the port that decodes is accepted; there is
// no correlation with a particular request.
type Listener struct {
	transport  receiver
	state      *State
	port       int
	bufferSize int
	timeout    time.Duration
	retryDelay time.Duration
	logger     *slog.Logger
	stats      *counters
	publish    func(snap snapshotEnvelope)
	now        func() time.Time

	lastSource netip.AddrPort
}

// Run receives until ctx is done. Receive errors never end the loop; the
// listener pauses retryDelay and tries again.
func (l *Listener) Run(ctx context.Context) {
	for {
		if err := l.state.WaitActive(ctx); err != nil {
			return
		}

		dg, err := l.transport.Receive(ctx, l.bufferSize, l.timeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, udp.ErrReceiveTimeout) {
				continue
			}
			l.stats.recvFailures.Add(1)
			if errors.Is(err, net.ErrClosed) || errors.Is(err, udp.ErrNotInitialized) {
				l.logger.Error("listener: socket unavailable", "op", "receive", "port", l.port, "error", err)
			} else {
				l.logger.Warn("listener: receive failed", "op", "receive", "port", l.port, "error", err)
			}
			if !sleepCtx(ctx, l.retryDelay) {
				return
			}
			continue
		}

		l.handle(dg)
	}
}

func (l *Listener) handle(dg udp.Datagram) {
	if codec.IsCommand(dg.Payload) {
		l.stats.echoes.Add(1)
		l.logger.Debug("listener: ignoring echoed command", "from", dg.From.String(), "data", utils.BytesToHex(dg.Payload))
		return
	}
	l.stats.received.Add(1)

	snap, err := codec.Decode(dg.Payload)
	if err != nil {
		l.stats.decodeFailures.Add(1)
		l.logger.Warn("listener: discarding undecodable reply",
			"op", "decode",
			"port", l.port,
			"from", dg.From.String(),
			"bytes", len(dg.Payload),
			"data", utils.HexPreview(dg.Payload, 32),
			"error", err,
		)
		return
	}
	snap.ReceivedAt = l.now()

	if l.lastSource.IsValid() && l.lastSource != dg.From {
		l.logger.Warn("listener: reply source changed", "previous", l.lastSource.String(), "from", dg.From.String())
	}
	l.lastSource = dg.From

	l.logger.Info("listener: snapshot received",
		"from", dg.From.String(),
		"T", snap.Temperature,
		"avgT", snap.AverageTemperature,
		"H", snap.Humidity,
		"avgH", snap.AverageHumidity,
		"V", snap.Voltage,
		"free_ram", snap.FreeMemoryBytes,
	)
	l.publish(snapshotEnvelope{snap: snap, from: dg.From})
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
