// Package countdown implements the restartable resend cooldown used by the
// OTP screen.
package countdown

import (
	"sync"
	"time"
)

// Timer counts whole seconds down to zero. Every Start begins a new run
// identified by a generation number; ticks scheduled for an older run are
// ignored, so a restarted or stopped timer is never decremented by a stale
// ticker. Timer is safe for concurrent use.
type Timer struct {
	mu         sync.Mutex
	interval   time.Duration
	remaining  int
	generation uint64
	running    bool
	fired      bool
	cancel     chan struct{}
	onExpire   func()
	newTicker  TickerFunc
}

// TickerFunc starts a ticker firing every d and returns its channel and a
// stop function.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func systemTicker(d time.Duration) (<-chan time.Time, func()) {
	tk := time.NewTicker(d)
	return tk.C, tk.Stop
}

// Option configures a Timer.
type Option func(*Timer)

// WithOnExpire registers a hook invoked once per run when the countdown
// reaches zero. It is called without the timer's lock held.
func WithOnExpire(fn func()) Option {
	return func(t *Timer) { t.onExpire = fn }
}

// WithTicker replaces the wall-clock ticker that drives scheduled runs.
func WithTicker(fn TickerFunc) Option {
	return func(t *Timer) { t.newTicker = fn }
}

// New creates a stopped timer. Interval is the wall-clock length of one tick;
// zero disables scheduling and leaves ticking to the caller.
func New(interval time.Duration, opts ...Option) *Timer {
	t := &Timer{interval: interval, newTicker: systemTicker}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start sets the remaining seconds and begins a new run, invalidating any
// tick scheduled for the previous one.
func (t *Timer) Start(seconds int) {
	if seconds < 0 {
		seconds = 0
	}

	t.mu.Lock()
	t.invalidateLocked()
	t.remaining = seconds
	t.fired = false
	gen := t.generation

	if seconds == 0 {
		t.running = false
		t.fired = true
		t.mu.Unlock()
		t.notify()
		return
	}

	t.running = true
	if t.interval > 0 {
		done := make(chan struct{})
		t.cancel = done
		ticks, stop := t.newTicker(t.interval)
		go t.run(gen, done, ticks, stop)
	}
	t.mu.Unlock()
}

// Tick decrements the current run by one second, clamped at zero.
func (t *Timer) Tick() {
	t.mu.Lock()
	gen := t.generation
	t.mu.Unlock()
	t.tick(gen)
}

// Stop cancels the current run. The remaining value is kept but no tick,
// scheduled or manual, is honored until the next Start.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.invalidateLocked()
}

// Reset cancels the current run and clears the remaining value without
// firing the expiry hook.
func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.invalidateLocked()
	t.remaining = 0
	t.fired = true
}

// Remaining returns the seconds left in the current run.
func (t *Timer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// IsExpired reports whether the countdown has reached zero.
func (t *Timer) IsExpired() bool {
	return t.Remaining() == 0
}

// Generation returns the identifier of the current run.
func (t *Timer) Generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generation
}

// tick applies one decrement if gen is still the current run. It reports
// whether the run should keep ticking.
func (t *Timer) tick(gen uint64) bool {
	t.mu.Lock()
	if gen != t.generation || !t.running {
		t.mu.Unlock()
		return false
	}
	if t.remaining > 0 {
		t.remaining--
	}
	expiredNow := t.remaining == 0 && !t.fired
	if expiredNow {
		t.fired = true
		t.running = false
	}
	keepGoing := t.running
	t.mu.Unlock()

	if expiredNow {
		t.notify()
	}
	return keepGoing
}

func (t *Timer) run(gen uint64, done <-chan struct{}, ticks <-chan time.Time, stop func()) {
	defer stop()

	for {
		select {
		case <-done:
			return
		case <-ticks:
			if !t.tick(gen) {
				return
			}
		}
	}
}

// invalidateLocked must be called with the lock held.
func (t *Timer) invalidateLocked() {
	t.generation++
	t.running = false
	if t.cancel != nil {
		close(t.cancel)
		t.cancel = nil
	}
}

func (t *Timer) notify() {
	if t.onExpire != nil {
		t.onExpire()
	}
}
