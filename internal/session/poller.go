package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"wotnode-gateway/internal/codec"
)

// ErrSuspended is returned by a poll attempted while the session is suspended.
var ErrSuspended = errors.New("session suspended")

type sender interface {
	Send(ctx context.Context, payload []byte, port int) error
}

// Poller broadcasts GetAllSensorsData at a fixed interval while active.
type Poller struct {
	transport sender
	state     *State
	port      int
	interval  time.Duration
	logger    *slog.Logger
	stats     *counters
}

// Run polls until ctx is done. Send errors are logged and never end the loop.
// After a suspension the next poll goes out as soon as the state resumes.
func (p *Poller) Run(ctx context.Context) {
	for {
		if err := p.state.WaitActive(ctx); err != nil {
			return
		}
		_ = p.PollOnce(ctx)

		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// PollOnce sends a single request. It is also the manual refresh path.
func (p *Poller) PollOnce(ctx context.Context) error {
	if p.state.Suspended() {
		p.logger.Debug("poller: skipped, suspended")
		return ErrSuspended
	}
	payload := codec.Encode(codec.GetAllSensorsData, nil)
	if err := p.transport.Send(ctx, payload, p.port); err != nil {
		p.stats.sendFailures.Add(1)
		p.logger.Warn("poller: send failed",
			"op", "send",
			"command", codec.GetAllSensorsData.String(),
			"port", p.port,
			"error", err,
		)
		return err
	}
	p.stats.sent.Add(1)
	p.logger.Debug("poller: request sent", "command", codec.GetAllSensorsData.String(), "port", p.port)
	return nil
}
