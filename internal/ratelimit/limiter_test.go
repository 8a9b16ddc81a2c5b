package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestLimiterWindow(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	l := New(2, 60*time.Second, WithClock(clk.Now))

	if l.IsLimited() {
		t.Fatal("fresh limiter should not be limited")
	}
	l.RecordCall()
	clk.Advance(10 * time.Second)
	l.RecordCall()

	if !l.IsLimited() {
		t.Fatal("limiter with 2/2 calls should be limited")
	}
	if got := l.RemainingCalls(); got != 0 {
		t.Fatalf("RemainingCalls = %d, want 0", got)
	}
	if got := l.ResetIn(); got != 50*time.Second {
		t.Fatalf("ResetIn = %v, want 50s", got)
	}

	// First call is exactly at the cutoff: still counted.
	clk.Advance(50 * time.Second)
	if !l.IsLimited() {
		t.Fatal("call at now-window should still count")
	}

	clk.Advance(time.Second)
	if l.IsLimited() {
		t.Fatal("limiter should recover once the first call leaves the window")
	}
	if got := l.RemainingCalls(); got != 1 {
		t.Fatalf("RemainingCalls = %d, want 1", got)
	}

	clk.Advance(61 * time.Second)
	if got := l.RemainingCalls(); got != 2 {
		t.Fatalf("RemainingCalls = %d, want 2", got)
	}
}

func TestLimiterCooldown(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	l := New(10, time.Minute, WithClock(clk.Now))

	l.SetCooldown(5 * time.Second)
	if !l.IsLimited() {
		t.Fatal("cooldown should limit")
	}
	if got := l.RemainingCalls(); got != 10 {
		t.Fatalf("RemainingCalls = %d, want 10 (cooldown ignored)", got)
	}
	if got := l.ResetIn(); got != 5*time.Second {
		t.Fatalf("ResetIn = %v, want 5s", got)
	}

	// A shorter cooldown does not shorten the current one.
	l.SetCooldown(time.Second)
	clk.Advance(2 * time.Second)
	if !l.IsLimited() {
		t.Fatal("shorter cooldown must not override a longer one")
	}

	clk.Advance(3 * time.Second)
	if l.IsLimited() {
		t.Fatal("cooldown should have expired")
	}
}

func TestLimiterDisabledWindow(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	l := New(0, time.Minute, WithClock(clk.Now))
	for i := 0; i < 100; i++ {
		l.RecordCall()
	}
	if l.IsLimited() {
		t.Fatal("maxCalls=0 should disable the window check")
	}
	if got := l.RemainingCalls(); got != -1 {
		t.Fatalf("RemainingCalls = %d, want -1", got)
	}
	l.SetCooldown(time.Second)
	if !l.IsLimited() {
		t.Fatal("cooldown should still apply")
	}
}

func TestLimiterSnapshot(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	l := New(3, time.Hour, WithClock(clk.Now))
	l.RecordCall()
	l.RecordCall()

	s := l.Snapshot()
	if s.CallsInWindow != 2 || s.Remaining != 1 || s.Limited || s.ResetIn != 0 {
		t.Fatalf("Snapshot = %+v", s)
	}
	if s.MaxCalls != 3 || s.Window != time.Hour {
		t.Fatalf("Snapshot limits = %d/%v", s.MaxCalls, s.Window)
	}
}

func TestLimiterConcurrentUse(t *testing.T) {
	t.Parallel()

	l := New(1000, time.Hour)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if !l.IsLimited() {
					l.RecordCall()
				}
				_ = l.RemainingCalls()
			}
		}()
	}
	wg.Wait()
	if got := l.RemainingCalls(); got != 500 {
		t.Fatalf("RemainingCalls = %d, want 500", got)
	}
}
