package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"tamtap/internal/clock"
	"tamtap/internal/metrics"
	"tamtap/internal/remote"
)

// State is the supervisor's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

// ErrDisconnected is returned by ForceSync when no connection could be
// established.
var ErrDisconnected = errors.New("remote disconnected")

// Dialer opens a fresh handle to the remote store.
type Dialer func(ctx context.Context) (remote.Client, error)

// Supervisor owns the remote-store handle. It makes one immediate
// connection attempt on Start, then wakes on a fixed interval: while
// connected it probes liveness, while disconnected it redials, and on
// every successful (re)connection it runs the full push-then-pull
// cycle. Connection errors are logged, never thrown.
type Supervisor struct {
	dial     Dialer
	engine   *Engine
	clk      clock.Clock
	log      *zap.Logger
	interval time.Duration
	timeout  time.Duration

	mu       sync.Mutex
	client   remote.Client
	state    State
	lastSync time.Time

	stop chan struct{}
	done chan struct{}
}

// NewSupervisor builds a supervisor in the DISCONNECTED state.
func NewSupervisor(dial Dialer, engine *Engine, clk clock.Clock, interval, timeout time.Duration, log *zap.Logger) *Supervisor {
	return &Supervisor{
		dial:     dial,
		engine:   engine,
		clk:      clk,
		log:      log,
		interval: interval,
		timeout:  timeout,
		state:    StateDisconnected,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start makes one immediate connection attempt (a failure leaves the
// supervisor DISCONNECTED without blocking startup beyond the dial
// timeout) and launches the background loop.
func (s *Supervisor) Start() {
	if err := s.connectAndSync(context.Background()); err != nil {
		s.log.Warn("remote unavailable at startup, running from cache", zap.Error(err))
	}
	// Register the ticker before the goroutine starts so a tick
	// arriving right after Start returns is never dropped.
	ticker := s.clk.NewTicker(s.interval)
	go s.loop(ticker)
}

func (s *Supervisor) loop(ticker clock.Ticker) {
	defer close(s.done)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C():
			s.wake()
		}
	}
}

func (s *Supervisor) wake() {
	if s.Connected() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err := s.Client().Ping(ctx)
		cancel()
		if err != nil {
			s.log.Warn("liveness probe failed, switching to cache", zap.Error(err))
			s.markDisconnected()
		}
		return
	}
	if err := s.connectAndSync(context.Background()); err != nil {
		s.log.Debug("reconnect attempt failed", zap.Error(err))
	}
}

func (s *Supervisor) connectAndSync(ctx context.Context) error {
	s.setState(StateConnecting)
	dctx, cancel := context.WithTimeout(ctx, s.timeout)
	client, err := s.dial(dctx)
	cancel()
	if err != nil {
		s.setState(StateDisconnected)
		return err
	}

	s.mu.Lock()
	s.client = client
	s.state = StateConnected
	s.mu.Unlock()
	metrics.Connected.Set(1)
	s.log.Info("remote connected, syncing")

	if err := s.engine.Sync(ctx, client); err != nil {
		s.log.Warn("sync after connect incomplete", zap.Error(err))
	} else {
		s.noteSync()
	}
	return nil
}

func (s *Supervisor) markDisconnected() {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.state = StateDisconnected
	s.mu.Unlock()
	metrics.Connected.Set(0)
	if client != nil {
		if err := client.Close(); err != nil {
			s.log.Debug("closing stale remote handle", zap.Error(err))
		}
	}
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	if st != StateConnected {
		metrics.Connected.Set(0)
	}
}

func (s *Supervisor) noteSync() {
	s.mu.Lock()
	s.lastSync = s.clk.Now()
	s.mu.Unlock()
}

// Connected reports whether the remote is currently believed reachable.
func (s *Supervisor) Connected() bool {
	return s.State() == StateConnected
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Client returns the current remote handle, or nil while disconnected.
func (s *Supervisor) Client() remote.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// LastSync returns when the last successful full cycle finished, zero
// if none has.
func (s *Supervisor) LastSync() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync
}

// ForceSync runs a synchronous push-then-pull cycle, connecting first
// if necessary. Used by the operator maintenance action.
func (s *Supervisor) ForceSync(ctx context.Context) error {
	if !s.Connected() {
		if err := s.connectAndSync(ctx); err != nil {
			return ErrDisconnected
		}
		return nil
	}
	if err := s.engine.Sync(ctx, s.Client()); err != nil {
		return err
	}
	s.noteSync()
	return nil
}

// Stop signals the loop and waits for it with a short bound so
// shutdown is never indefinite.
func (s *Supervisor) Stop() {
	close(s.stop)
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		s.log.Warn("reconnect loop did not stop in time")
	}
	s.markDisconnected()
}
