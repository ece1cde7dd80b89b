package clock

import (
	"sync"
	"time"
)

// Fake is a deterministic Clock. Time advances only via Advance or
// SetNow, and tickers fire only via Tick.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

// NewFake returns a Fake pinned at the given instant.
func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// SetNow repins the current instant.
func (f *Fake) SetNow(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// Advance moves the current instant forward without firing tickers.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{f: f, ch: make(chan time.Time, 1)}
	f.tickers = append(f.tickers, t)
	return t
}

// Tick fires one tick on every live ticker and blocks until each tick
// is consumed or the ticker's buffer takes it.
func (f *Fake) Tick() {
	f.mu.Lock()
	now := f.now
	tickers := make([]*fakeTicker, 0, len(f.tickers))
	for _, t := range f.tickers {
		if !t.stopped {
			tickers = append(tickers, t)
		}
	}
	f.mu.Unlock()
	for _, t := range tickers {
		t.ch <- now
	}
}

type fakeTicker struct {
	f       *Fake
	ch      chan time.Time
	stopped bool // guarded by f.mu
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	t.stopped = true
}
