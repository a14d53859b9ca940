package testfixtures

import (
	"sync"
	"time"
)

var referenceTime = time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// Clock provides a controllable time source for tests.
type Clock struct {
	mu      sync.Mutex
	current time.Time
}

// NewClock returns a clock initialised to the supplied time. When start is the
// zero value, the shared ReferenceTime is used.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{current: start}
}

// Now returns the current instant tracked by the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// NowFunc exposes Now as a function suitable for dependency injection.
func (c *Clock) NowFunc() func() time.Time {
	if c == nil {
		return time.Now
	}
	return c.Now
}

// Set updates the clock to the provided time.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// Advance moves the clock forward by the provided duration and returns the
// updated time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	c.current = c.current.Add(d)
	updated := c.current
	c.mu.Unlock()
	return updated
}

// ManualTicker is a ticker that only fires when the test says so.
type ManualTicker struct {
	Interval time.Duration

	ch       chan time.Time
	stopOnce sync.Once
	stopped  chan struct{}
}

// C returns the tick channel.
func (t *ManualTicker) C() <-chan time.Time { return t.ch }

// Stop releases any pending Tick call.
func (t *ManualTicker) Stop() {
	t.stopOnce.Do(func() { close(t.stopped) })
}

// Stopped reports whether Stop was called.
func (t *ManualTicker) Stopped() bool {
	select {
	case <-t.stopped:
		return true
	default:
		return false
	}
}

// Tick blocks until the consumer receives a tick or the ticker is stopped,
// reporting whether the tick was delivered.
func (t *ManualTicker) Tick() bool {
	select {
	case <-t.stopped:
		return false
	default:
	}
	select {
	case t.ch <- referenceTime:
		return true
	case <-t.stopped:
		return false
	}
}

// Tickers hands out ManualTickers and remembers them in creation order.
type Tickers struct {
	mu      sync.Mutex
	created []*ManualTicker
	notify  chan *ManualTicker
}

// NewTickers returns an empty ticker factory.
func NewTickers() *Tickers {
	return &Tickers{notify: make(chan *ManualTicker, 16)}
}

// New creates a ticker for interval.
func (f *Tickers) New(interval time.Duration) *ManualTicker {
	ticker := &ManualTicker{
		Interval: interval,
		ch:       make(chan time.Time),
		stopped:  make(chan struct{}),
	}
	f.mu.Lock()
	f.created = append(f.created, ticker)
	f.mu.Unlock()
	select {
	case f.notify <- ticker:
	default:
	}
	return ticker
}

// Created returns the number of tickers handed out so far.
func (f *Tickers) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

// Next waits up to timeout for the next ticker to be created.
func (f *Tickers) Next(timeout time.Duration) (*ManualTicker, bool) {
	select {
	case ticker := <-f.notify:
		return ticker, true
	case <-time.After(timeout):
		return nil, false
	}
}
