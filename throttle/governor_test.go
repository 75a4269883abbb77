package throttle

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/nexusvault/core"
)

func TestSlotCapIsNeverExceeded(t *testing.T) {
	const maxSlots = 3
	g := NewGovernor(Options{MaxConcurrentFiles: maxSlots, MaxConcurrentRestores: 1})

	var inFlight, maxSeen atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticket, err := g.Acquire(context.Background(), ClassBackup)
			require.NoError(t, err)
			cur := inFlight.Add(1)
			for {
				prev := maxSeen.Load()
				if cur <= prev || maxSeen.CompareAndSwap(prev, cur) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inFlight.Add(-1)
			ticket.Release()
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, maxSeen.Load(), int64(maxSlots))
}

func TestClassesAreIndependent(t *testing.T) {
	g := NewGovernor(Options{MaxConcurrentFiles: 1, MaxConcurrentRestores: 1})

	backup, err := g.Acquire(context.Background(), ClassBackup)
	require.NoError(t, err)
	defer backup.Release()

	// The backup slot being held must not block restores.
	restore, err := g.Acquire(context.Background(), ClassRestore)
	require.NoError(t, err)
	restore.Release()
}

func TestAcquireObservesCancellation(t *testing.T) {
	g := NewGovernor(Options{MaxConcurrentFiles: 1, MaxConcurrentRestores: 1})
	held, err := g.Acquire(context.Background(), ClassBackup)
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	_, err = g.Acquire(ctx, ClassBackup)
	require.Error(t, err)
	assert.Equal(t, core.KindCancelled, core.KindOf(err))
}

func TestTicketReleaseIdempotent(t *testing.T) {
	g := NewGovernor(Options{MaxConcurrentFiles: 1, MaxConcurrentRestores: 1})
	ticket, err := g.Acquire(context.Background(), ClassBackup)
	require.NoError(t, err)
	ticket.Release()
	ticket.Release() // must not over-release the semaphore

	// The single slot is available exactly once.
	_, ok := g.TryAcquire(ClassBackup)
	require.True(t, ok)
	_, ok = g.TryAcquire(ClassBackup)
	assert.False(t, ok)
}

func TestRateLimitBoundsThroughput(t *testing.T) {
	// 64 KiB/s with a 16 KiB burst; moving 128 KiB must take at least
	// (128-16)/64 ≈ 1.7s. Scaled down to keep the test fast: 64 KiB/s,
	// payload 96 KiB -> >= 1.1s.
	g := NewGovernor(Options{MaxConcurrentFiles: 1, MaxConcurrentRestores: 1, BytesPerSec: 64 << 10, Burst: 16 << 10})
	payload := make([]byte, 96<<10)

	start := time.Now()
	r := g.NewReader(context.Background(), bytes.NewReader(payload))
	n, err := io.Copy(io.Discard, r)
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), n)
	assert.GreaterOrEqual(t, time.Since(start), 1100*time.Millisecond)
}

func TestUnlimitedRateDoesNotDelay(t *testing.T) {
	g := NewGovernor(Options{MaxConcurrentFiles: 1, MaxConcurrentRestores: 1, BytesPerSec: 0})
	payload := make([]byte, 8<<20)

	start := time.Now()
	r := g.NewReader(context.Background(), bytes.NewReader(payload))
	_, err := io.Copy(io.Discard, r)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestThrottledReaderObservesCancellation(t *testing.T) {
	g := NewGovernor(Options{MaxConcurrentFiles: 1, MaxConcurrentRestores: 1, BytesPerSec: 1024, Burst: 1024})
	ctx, cancel := context.WithCancel(context.Background())
	payload := make([]byte, 1<<20)
	r := g.NewReader(ctx, bytes.NewReader(payload))

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := io.Copy(io.Discard, r)
	require.Error(t, err)
	assert.Equal(t, core.KindCancelled, core.KindOf(err))
}
