package status

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/nexusvault/core"
)

func newTestRegistry(clock core.Clock) *Registry {
	return NewRegistry(Options{
		EventBufferSize: 8,
		Retention:       time.Hour,
		Clock:           clock,
		Metrics:         NewMetrics(prometheus.NewRegistry()),
	})
}

func TestLifecycleTransitions(t *testing.T) {
	clock := core.NewMockClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	r := newTestRegistry(clock)

	id := r.Enqueue("b/p/key1", "round-1")
	require.Equal(t, "b/p/key1", id)

	rec, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatePending, rec.State)
	assert.Equal(t, "round-1", rec.RoundID)

	r.MarkRunning(id)
	r.AddBytes(id, 512)
	clock.Advance(time.Second)
	r.MarkDone(id, 1024)

	rec, ok = r.Get(id)
	require.True(t, ok)
	assert.Equal(t, StateDone, rec.State)
	assert.Equal(t, 1, rec.Attempts)
	assert.Equal(t, int64(1024), rec.BytesTransferred)
	assert.True(t, rec.EndedAt.After(rec.StartedAt))
}

func TestFailureKeepsCause(t *testing.T) {
	r := newTestRegistry(nil)
	id := r.Enqueue("b/p/key2", "round-1")
	r.MarkRunning(id)
	r.MarkFailed(id, errors.New("403 forbidden"))

	rec, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, StateFailed, rec.State)
	assert.Contains(t, rec.Err, "403")
}

func TestEventRingBounded(t *testing.T) {
	r := newTestRegistry(nil)
	for i := 0; i < 20; i++ {
		r.Enqueue(fmt.Sprintf("b/p/key%d", i), "round")
	}
	events := r.Events()
	require.Len(t, events, 8)
	// Oldest retained event is #12 of 20.
	assert.Equal(t, "b/p/key12", events[0].RemoteKey)
	assert.Equal(t, "b/p/key19", events[len(events)-1].RemoteKey)
}

func TestSnapshotIsACopy(t *testing.T) {
	r := newTestRegistry(nil)
	id := r.Enqueue("b/p/key", "round")
	snap := r.Snapshot()
	require.Len(t, snap, 1)
	snap[0].State = StateFailed

	rec, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatePending, rec.State)
}

func TestExpireDropsOldTerminalRecords(t *testing.T) {
	clock := core.NewMockClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	r := newTestRegistry(clock)

	done := r.Enqueue("b/p/done", "round")
	r.MarkDone(done, 1)
	running := r.Enqueue("b/p/running", "round")
	r.MarkRunning(running)

	clock.Advance(2 * time.Hour)
	dropped := r.Expire()
	assert.Equal(t, 1, dropped)

	_, ok := r.Get(done)
	assert.False(t, ok)
	_, ok = r.Get(running)
	assert.True(t, ok)
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	r := newTestRegistry(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		key := fmt.Sprintf("b/p/key%d", i)
		go func() {
			defer wg.Done()
			id := r.Enqueue(key, "round")
			r.MarkRunning(id)
			r.AddBytes(id, 10)
			r.MarkDone(id, 10)
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.Snapshot()
				r.Events()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, r.Snapshot(), 8)
}
