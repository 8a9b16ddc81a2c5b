// Package ratelimit provides the per-destination sliding window limiter.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter allows at most MaxCalls recorded calls per Window, plus an explicit
// cooldown set when a platform reports that it is throttling us.
//
// A single mutex guards the timestamps and the cooldown together.
type Limiter struct {
	maxCalls int
	window   time.Duration
	now      func() time.Time

	mu            sync.Mutex
	calls         []time.Time
	cooldownUntil time.Time
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New returns a limiter. maxCalls <= 0 disables the window check; the cooldown
// still applies.
func New(maxCalls int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{maxCalls: maxCalls, window: window, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Limiter) MaxCalls() int         { return l.maxCalls }
func (l *Limiter) Window() time.Duration { return l.window }

// RecordCall registers a successful external call at the current time.
func (l *Limiter) RecordCall() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, l.now())
}

// IsLimited reports whether a call made now would exceed the limit.
func (l *Limiter) IsLimited() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.pruneLocked(now)
	if now.Before(l.cooldownUntil) {
		return true
	}
	return l.maxCalls > 0 && len(l.calls) >= l.maxCalls
}

// SetCooldown blocks calls for d from now. A shorter cooldown never shortens
// one already in effect.
func (l *Limiter) SetCooldown(d time.Duration) {
	if d <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	until := l.now().Add(d)
	if until.After(l.cooldownUntil) {
		l.cooldownUntil = until
	}
}

// RemainingCalls returns how many calls the window still allows. It ignores
// the cooldown. With the window check disabled it returns -1.
func (l *Limiter) RemainingCalls() int {
	if l.maxCalls <= 0 {
		return -1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(l.now())
	if n := l.maxCalls - len(l.calls); n > 0 {
		return n
	}
	return 0
}

// ResetIn returns how long until a call would be allowed again (0 if allowed now).
func (l *Limiter) ResetIn() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.pruneLocked(now)

	var wait time.Duration
	if now.Before(l.cooldownUntil) {
		wait = l.cooldownUntil.Sub(now)
	}
	if l.maxCalls > 0 && len(l.calls) >= l.maxCalls {
		// The oldest call that must expire before one slot frees up.
		oldest := l.calls[len(l.calls)-l.maxCalls]
		if w := oldest.Add(l.window).Sub(now); w > wait {
			wait = w
		}
	}
	return wait
}

// Snapshot is a point-in-time view for diagnostics.
type Snapshot struct {
	MaxCalls      int
	Window        time.Duration
	CallsInWindow int
	Remaining     int
	CooldownUntil time.Time
	Limited       bool
	ResetIn       time.Duration
}

func (l *Limiter) Snapshot() Snapshot {
	l.mu.Lock()
	now := l.now()
	l.pruneLocked(now)
	s := Snapshot{
		MaxCalls:      l.maxCalls,
		Window:        l.window,
		CallsInWindow: len(l.calls),
		CooldownUntil: l.cooldownUntil,
	}
	l.mu.Unlock()

	s.Remaining = l.RemainingCalls()
	s.Limited = l.IsLimited()
	s.ResetIn = l.ResetIn()
	return s
}

func (l *Limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.calls) && l.calls[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	n := copy(l.calls, l.calls[i:])
	clear(l.calls[n:])
	l.calls = l.calls[:n]
}
