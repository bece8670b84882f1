// Package session drives the request/response exchange with the sensor
// node: a periodic poller, a receive loop, and the consumer hand-off.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"wotnode-gateway/internal/config"
	"wotnode-gateway/internal/udp"
)

// Transport is what the session needs from the socket. *udp.Transport
// implements it.
type Transport interface {
	sender
	receiver
	Close() error
}

// LifecycleEvent comes from whatever decides whether the gateway is in use.
type LifecycleEvent int

const (
	AppEnteredForeground LifecycleEvent = iota
	AppEnteredBackground
)

func (e LifecycleEvent) String() string {
	switch e {
	case AppEnteredForeground:
		return "foreground"
	case AppEnteredBackground:
		return "background"
	default:
		return fmt.Sprintf("LifecycleEvent(%d)", int(e))
	}
}

const (
	DefaultPollInterval   = 10 * time.Second
	DefaultReceiveTimeout = time.Second
	DefaultBufferSize     = 1024
	defaultRetryDelay     = 100 * time.Millisecond
)

type Options struct {
	Transport      Transport
	RemotePort     int
	LocalPort      int
	PollInterval   time.Duration
	ReceiveTimeout time.Duration
	BufferSize     int
	StartSuspended bool
	Logger         *slog.Logger
	// Now stamps ReceivedAt; defaults to time.Now.
	Now func() time.Time
	// RetryDelay is the pause after a receive error other than a timeout.
	RetryDelay time.Duration
	// OnStateChange, if set, is called after each suspend or resume that
	// changed the state.
	OnStateChange func(suspended bool)
}

// Session owns the transport and runs the poller, listener and dispatcher.
type Session struct {
	transport Transport
	state     *State
	stats     *counters
	logger    *slog.Logger
	onChange  func(suspended bool)

	poller     *Poller
	listener   *Listener
	dispatcher *dispatcher

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
	loops   sync.WaitGroup
	oneShot sync.WaitGroup
}

func New(opts Options) (*Session, error) {
	if opts.Transport == nil {
		return nil, errors.New("session: transport is required")
	}
	if opts.RemotePort < 1 || opts.RemotePort > 65535 {
		return nil, fmt.Errorf("session: invalid remote port %d", opts.RemotePort)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ReceiveTimeout <= 0 {
		opts.ReceiveTimeout = DefaultReceiveTimeout
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Session{
		transport: opts.Transport,
		state:     NewState(opts.StartSuspended),
		stats:     &counters{},
		logger:    opts.Logger,
		onChange:  opts.OnStateChange,
	}
	s.dispatcher = newDispatcher(opts.Logger, s.stats)
	s.poller = &Poller{
		transport: opts.Transport,
		state:     s.state,
		port:      opts.RemotePort,
		interval:  opts.PollInterval,
		logger:    opts.Logger,
		stats:     s.stats,
	}
	s.listener = &Listener{
		transport:  opts.Transport,
		state:      s.state,
		port:       opts.LocalPort,
		bufferSize: opts.BufferSize,
		timeout:    opts.ReceiveTimeout,
		retryDelay: opts.RetryDelay,
		logger:     opts.Logger,
		stats:      s.stats,
		publish:    s.dispatcher.publish,
		now:        opts.Now,
	}
	return s, nil
}

// Open binds the UDP socket described by cfg and builds a session around
// it. A bind failure is returned, not retried.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Session, error) {
	var resolver udp.Resolver
	if cfg.BroadcastAddr != "" {
		r, err := udp.NewStaticResolver(cfg.BroadcastAddr)
		if err != nil {
			return nil, err
		}
		resolver = r
	} else {
		resolver = udp.NewInterfaceResolver(cfg.NetInterface)
	}

	tr, err := udp.Open(ctx, udp.Options{
		BindAddr: cfg.UDPBindAddr,
		Port:     cfg.UDPLocalPort,
		Resolver: resolver,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("session: open transport: %w", err)
	}

	s, err := New(Options{
		Transport:      tr,
		RemotePort:     cfg.UDPRemotePort,
		LocalPort:      tr.LocalPort(),
		PollInterval:   cfg.PollInterval,
		ReceiveTimeout: cfg.ReceiveTimeout,
		BufferSize:     cfg.ReceiveBuffer,
		StartSuspended: cfg.StartSuspended,
		Logger:         logger,
	})
	if err != nil {
		_ = tr.Close()
		return nil, err
	}
	return s, nil
}

// OnSnapshot registers a consumer. Consumers added after Start receive
// snapshots decoded from then on.
func (s *Session) OnSnapshot(fn Consumer) {
	s.dispatcher.add(fn)
}

// Start launches the loops. It can be called once.
func (s *Session) Start(ctx context.Context) error {
	if !s.state.markStarted() {
		return errors.New("session: already started")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.New("session: stopped")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.loops.Add(3)
	go func() {
		defer s.loops.Done()
		s.dispatcher.run(runCtx)
	}()
	go func() {
		defer s.loops.Done()
		s.listener.Run(runCtx)
	}()
	go func() {
		defer s.loops.Done()
		s.poller.Run(runCtx)
	}()

	s.logger.Info("session: started",
		"remote_port", s.poller.port,
		"poll_interval", s.poller.interval.String(),
		"suspended", s.state.Suspended(),
	)
	return nil
}

// Stop ends the loops, closes the socket and waits for everything to exit.
// Safe to call more than once.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := s.transport.Close()
	s.oneShot.Wait()
	s.loops.Wait()
	s.logger.Info("session: stopped")
	return err
}

// Running reports whether Start was called and Stop was not.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Started() && !s.stopped
}

func (s *Session) Suspended() bool {
	return s.state.Suspended()
}

func (s *Session) Suspend() {
	if s.state.Suspend() {
		s.logger.Info("session: suspended")
		s.notify(true)
	}
}

func (s *Session) Resume() {
	if s.state.Resume() {
		s.logger.Info("session: resumed")
		s.notify(false)
	}
}

// OnStateChange replaces the suspend/resume callback set in Options.
func (s *Session) OnStateChange(fn func(suspended bool)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *Session) notify(suspended bool) {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn(suspended)
	}
}

// HandleLifecycle maps lifecycle events onto suspend/resume.
func (s *Session) HandleLifecycle(ev LifecycleEvent) {
	switch ev {
	case AppEnteredForeground:
		s.Resume()
	case AppEnteredBackground:
		s.Suspend()
	default:
		s.logger.Warn("session: unknown lifecycle event", "event", ev.String())
	}
}

// Refresh sends one request now and returns the outcome.
func (s *Session) Refresh(ctx context.Context) error {
	if !s.Running() {
		return errors.New("session: not running")
	}
	return s.poller.PollOnce(ctx)
}

// TriggerManualRefresh sends one request on a short-lived goroutine,
// independent of the periodic schedule. It returns false when the request
// was not attempted.
func (s *Session) TriggerManualRefresh(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Started() || s.stopped || s.state.Suspended() {
		return false
	}
	s.oneShot.Add(1)
	go func() {
		defer s.oneShot.Done()
		if err := s.poller.PollOnce(context.WithoutCancel(ctx)); err != nil {
			s.logger.Debug("session: manual refresh failed", "error", err)
		}
	}()
	return true
}

func (s *Session) Stats() Stats {
	return s.stats.snapshot()
}
