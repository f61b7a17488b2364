package clock

import "time"

// Clock abstracts time so ticks and debounce timers can be driven
// deterministically in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
	NewTicker(d time.Duration) Ticker
}

// Timer is a cancellable scheduled call.
type Timer interface {
	// Stop prevents the call if it has not run yet and reports whether
	// it did so.
	Stop() bool
}

// Ticker delivers ticks on C until stopped. Like time.Ticker it drops
// ticks for a slow receiver.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type RealClock struct{}

// Now returns the current time using the system clock.
func (RealClock) Now() time.Time {
	return time.Now()
}

// AfterFunc runs f on its own goroutine after d.
func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// NewTicker wraps time.NewTicker. d must be positive.
func (RealClock) NewTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }

func (r realTicker) Stop() { r.t.Stop() }
