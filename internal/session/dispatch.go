package session

import (
	"context"
	"log/slog"
	"net/netip"
	"sync"

	"wotnode-gateway/internal/telemetry"
)

// Consumer receives every decoded snapshot. Consumers run on the session's
// dispatch goroutine, never on the receive loop.
type Consumer func(telemetry.Snapshot)

type snapshotEnvelope struct {
	snap telemetry.Snapshot
	from netip.AddrPort
}

const dispatchBuffer = 4

// dispatcher decouples the listener from slow consumers. When the buffer is
// full the oldest pending snapshot is dropped.
type dispatcher struct {
	ch     chan snapshotEnvelope
	logger *slog.Logger
	stats  *counters

	mu        sync.RWMutex
	consumers []Consumer
}

func newDispatcher(logger *slog.Logger, stats *counters) *dispatcher {
	return &dispatcher{
		ch:     make(chan snapshotEnvelope, dispatchBuffer),
		logger: logger,
		stats:  stats,
	}
}

func (d *dispatcher) add(fn Consumer) {
	if fn == nil {
		return
	}
	d.mu.Lock()
	d.consumers = append(d.consumers, fn)
	d.mu.Unlock()
}

// publish must only be called from the listener goroutine.
func (d *dispatcher) publish(env snapshotEnvelope) {
	select {
	case d.ch <- env:
		return
	default:
	}
	select {
	case old := <-d.ch:
		d.stats.dropped.Add(1)
		d.logger.Warn("dispatch: consumers behind, dropping oldest snapshot", "received_at", old.snap.ReceivedAt)
	default:
	}
	select {
	case d.ch <- env:
	default:
		d.stats.dropped.Add(1)
	}
}

func (d *dispatcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return
		case env := <-d.ch:
			d.deliver(env)
		}
	}
}

func (d *dispatcher) drain() {
	for {
		select {
		case env := <-d.ch:
			d.deliver(env)
		default:
			return
		}
	}
}

func (d *dispatcher) deliver(env snapshotEnvelope) {
	d.mu.RLock()
	consumers := append([]Consumer(nil), d.consumers...)
	d.mu.RUnlock()

	for _, fn := range consumers {
		d.call(fn, env)
	}
	d.stats.published.Add(1)
}

func (d *dispatcher) call(fn Consumer, env snapshotEnvelope) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch: consumer panicked", "panic", r, "from", env.from.String())
		}
	}()
	fn(env.snap)
}
