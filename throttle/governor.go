// Package throttle is the single admission point for transfers: a slot
// semaphore per transfer class in series with a shared byte-rate bucket.
package throttle

import (
	"context"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/INLOpen/nexusvault/core"
)

// Class selects which slot semaphore a transfer competes for.
type Class int

const (
	ClassBackup Class = iota
	ClassRestore
)

// Options sizes the governor.
type Options struct {
	MaxConcurrentFiles    int64
	MaxConcurrentRestores int64
	// BytesPerSec of 0 disables rate limiting.
	BytesPerSec int64
	Burst       int
}

// Governor gates every transfer twice: a slot must be acquired before any
// bytes move, and reads consume from the token bucket.
type Governor struct {
	backupSlots  *semaphore.Weighted
	restoreSlots *semaphore.Weighted
	limiter      *rate.Limiter
}

func NewGovernor(opts Options) *Governor {
	if opts.MaxConcurrentFiles < 1 {
		opts.MaxConcurrentFiles = 1
	}
	if opts.MaxConcurrentRestores < 1 {
		opts.MaxConcurrentRestores = 1
	}
	var limiter *rate.Limiter
	if opts.BytesPerSec > 0 {
		burst := opts.Burst
		if burst <= 0 {
			// Default burst is one second of budget.
			burst = int(opts.BytesPerSec)
		}
		limiter = rate.NewLimiter(rate.Limit(opts.BytesPerSec), burst)
	}
	return &Governor{
		backupSlots:  semaphore.NewWeighted(opts.MaxConcurrentFiles),
		restoreSlots: semaphore.NewWeighted(opts.MaxConcurrentRestores),
		limiter:      limiter,
	}
}

// Ticket holds one admission slot. Release is idempotent and must be
// called when the transfer leaves the governor, on every exit path.
type Ticket struct {
	release func()
}

func (t *Ticket) Release() {
	if t.release != nil {
		t.release()
		t.release = nil
	}
}

func (g *Governor) slots(class Class) *semaphore.Weighted {
	if class == ClassRestore {
		return g.restoreSlots
	}
	return g.backupSlots
}

// Acquire blocks until a slot in the class frees up or ctx ends.
// Semaphore waiters are served in FIFO order.
func (g *Governor) Acquire(ctx context.Context, class Class) (*Ticket, error) {
	sem := g.slots(class)
	if err := sem.Acquire(ctx, 1); err != nil {
		kind := core.KindCancelled
		if ctx.Err() == context.DeadlineExceeded {
			kind = core.KindTimeout
		}
		return nil, core.NewError(kind, "throttle.acquire", err)
	}
	return &Ticket{release: func() { sem.Release(1) }}, nil
}

// TryAcquire grabs a slot without blocking.
func (g *Governor) TryAcquire(class Class) (*Ticket, bool) {
	sem := g.slots(class)
	if !sem.TryAcquire(1) {
		return nil, false
	}
	return &Ticket{release: func() { sem.Release(1) }}, true
}

// WaitBytes parks until n bytes fit in the rate budget. A nil limiter
// (unlimited) returns immediately. Requests larger than the burst are fed
// in burst-sized slices so they remain admissible.
func (g *Governor) WaitBytes(ctx context.Context, n int) error {
	if g.limiter == nil || n <= 0 {
		return nil
	}
	for n > 0 {
		chunk := n
		if burst := g.limiter.Burst(); chunk > burst {
			chunk = burst
		}
		if err := g.limiter.WaitN(ctx, chunk); err != nil {
			kind := core.KindCancelled
			if ctx.Err() == context.DeadlineExceeded {
				kind = core.KindTimeout
			}
			return core.NewError(kind, "throttle.wait", err)
		}
		n -= chunk
	}
	return nil
}

// Limited reports whether a byte rate is configured.
func (g *Governor) Limited() bool { return g.limiter != nil }
