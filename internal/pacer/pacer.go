// Package pacer serializes idle waits across every subsystem of a
// process.
//
// Poll loops (connection receive/send, the accept loop) and slow
// shared resources (the configuration store) all go through the same
// Pacer: an idle waiter holds the token only for one tick, and a slow
// operation holds it for its whole duration, so idle loops cannot crowd
// a slow resource out and vice versa.
//
// A Pacer is created once by the application and passed explicitly to
// the components that need it.  A nil *Pacer is valid: waits still
// happen but are not serialized.
package pacer

import (
	"context"
	"time"
)

// DefaultTick is the longest a single idle wait holds the token.
const DefaultTick = time.Millisecond

// Pacer is a single-token fairness primitive.
type Pacer struct {
	token chan struct{}
	tick  time.Duration
}

// New returns a Pacer whose idle waits last at most tick.
func New(tick time.Duration) *Pacer {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Pacer{
		token: make(chan struct{}, 1),
		tick:  tick,
	}
}

// Tick returns the per-yield wait bound.
func (p *Pacer) Tick() time.Duration {
	if p == nil {
		return DefaultTick
	}
	return p.tick
}

// Acquire takes the token, giving up after timeout.  A negative
// timeout waits forever.
func (p *Pacer) Acquire(timeout time.Duration) bool {
	if p == nil {
		return true
	}
	if timeout < 0 {
		p.token <- struct{}{}
		return true
	}
	select {
	case p.token <- struct{}{}:
		return true
	default:
	}
	if timeout == 0 {
		return false
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case p.token <- struct{}{}:
		return true
	case <-t.C:
		return false
	}
}

// Release returns the token.  It does not know who holds it: only the
// goroutine that acquired the token may release it.  With the token
// free, Release is a no-op.
func (p *Pacer) Release() {
	if p == nil {
		return
	}
	select {
	case <-p.token:
	default:
	}
}

// Yield performs one idle wait.  wait is called with the tick while
// the token is held and should return early once the caller has work
// (e.g. a socket became ready).  When the token cannot be taken within
// one tick, Yield returns without calling wait: the tick has already
// elapsed waiting for it.
func (p *Pacer) Yield(wait func(time.Duration)) {
	if wait == nil {
		wait = time.Sleep
	}
	if p == nil {
		wait(DefaultTick)
		return
	}
	if !p.Acquire(p.tick) {
		return
	}
	defer p.Release()
	wait(p.tick)
}

// Sleep idles for d in tick-sized yields.
func (p *Pacer) Sleep(d time.Duration) {
	deadline := time.Now().Add(d)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return
		}
		p.Yield(func(tick time.Duration) {
			if left < tick {
				tick = left
			}
			time.Sleep(tick)
		})
	}
}

// SleepContext is Sleep that returns ctx.Err() as soon as ctx is done.
func (p *Pacer) SleepContext(ctx context.Context, d time.Duration) error {
	deadline := time.Now().Add(d)
	t := time.NewTimer(0)
	defer t.Stop()
	<-t.C
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		left := time.Until(deadline)
		if left <= 0 {
			return nil
		}
		p.Yield(func(tick time.Duration) {
			if left < tick {
				tick = left
			}
			t.Reset(tick)
			select {
			case <-ctx.Done():
				t.Stop()
			case <-t.C:
			}
		})
	}
}

// Do runs fn while holding the token exclusively.  Slow shared
// resources use it so that idle loops back off while they work.
func (p *Pacer) Do(fn func() error) error {
	p.Acquire(-1)
	defer p.Release()
	return fn()
}
