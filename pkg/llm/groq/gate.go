package groq

import (
	"context"
	"sync"
	"time"
)

// sleepFunc blocks for d or until ctx is done.
type sleepFunc func(ctx context.Context, d time.Duration) error

// Gate enforces a minimum spacing between the starts of consecutive requests.
//
// Each call to Wait reserves the earliest free start slot while holding the
// lock and then sleeps outside it, so concurrent callers end up with distinct
// slots at least interval apart.
type Gate struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time

	now   func() time.Time
	sleep sleepFunc
}

// NewGate creates a gate with the given minimum interval.
func NewGate(interval time.Duration) *Gate {
	return &Gate{
		interval: interval,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Interval returns the configured minimum spacing.
func (g *Gate) Interval() time.Duration { return g.interval }

// Wait blocks until the caller may start its request. The slot is recorded
// as the start time of the request, not its completion. A caller that gives
// up while waiting hands its slot back unless a later caller already queued
// behind it.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	prev := g.last
	now := g.now()
	start := now
	if !g.last.IsZero() {
		if next := g.last.Add(g.interval); next.After(now) {
			start = next
		}
	}
	g.last = start
	g.mu.Unlock()

	var err error
	if d := start.Sub(now); d > 0 {
		err = g.sleep(ctx, d)
	} else {
		err = ctx.Err()
	}
	if err != nil {
		g.mu.Lock()
		if g.last.Equal(start) {
			g.last = prev
		}
		g.mu.Unlock()
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
