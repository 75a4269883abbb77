// Package status keeps the in-memory record of in-flight and completed
// transfers for the admin surface. Readers get copies; they hold the
// registry read lock and each record's lock while copying, so a writer
// waiting on one of those locks waits for the copy to finish.
package status

import (
	"sort"
	"sync"
	"time"

	"github.com/INLOpen/nexusvault/core"
)

// TransferState is the lifecycle of one transfer.
type TransferState string

const (
	StatePending TransferState = "PENDING"
	StateRunning TransferState = "RUNNING"
	StateDone    TransferState = "DONE"
	StateFailed  TransferState = "FAILED"
)

// TransferRecord tracks one remote key through the pipeline. The remote
// key is the record ID.
type TransferRecord struct {
	RemoteKey        string
	RoundID          string
	State            TransferState
	Attempts         int
	BytesTransferred int64
	StartedAt        time.Time
	EndedAt          time.Time
	Err              string
}

type lockedRecord struct {
	mu  sync.Mutex
	rec TransferRecord
}

// Event is one state transition, kept in a bounded ring for debugging.
type Event struct {
	At        time.Time
	RemoteKey string
	State     TransferState
	Err       string
}

// Registry is the process-wide transfer table plus a ring buffer of
// transition events.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*lockedRecord

	events    []Event
	eventHead int
	eventLen  int

	clock   core.Clock
	metrics *Metrics

	retention time.Duration
}

// Options tunes the registry.
type Options struct {
	EventBufferSize int
	Retention       time.Duration
	Clock           core.Clock
	Metrics         *Metrics
}

func NewRegistry(opts Options) *Registry {
	if opts.EventBufferSize <= 0 {
		opts.EventBufferSize = 1024
	}
	if opts.Clock == nil {
		opts.Clock = core.SystemClock()
	}
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}
	return &Registry{
		records:   make(map[string]*lockedRecord),
		events:    make([]Event, opts.EventBufferSize),
		clock:     opts.Clock,
		metrics:   opts.Metrics,
		retention: opts.Retention,
	}
}

// Enqueue registers a pending transfer and returns its ID.
func (r *Registry) Enqueue(remoteKey, roundID string) string {
	now := r.clock.Now()
	lr := &lockedRecord{rec: TransferRecord{
		RemoteKey: remoteKey,
		RoundID:   roundID,
		State:     StatePending,
		StartedAt: now,
	}}

	r.mu.Lock()
	r.records[remoteKey] = lr
	r.mu.Unlock()

	r.pushEvent(Event{At: now, RemoteKey: remoteKey, State: StatePending})
	if r.metrics != nil {
		r.metrics.transferStarted()
	}
	return remoteKey
}

func (r *Registry) get(remoteKey string) *lockedRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.records[remoteKey]
}

// MarkRunning transitions a record to RUNNING and counts an attempt.
func (r *Registry) MarkRunning(remoteKey string) {
	lr := r.get(remoteKey)
	if lr == nil {
		return
	}
	lr.mu.Lock()
	lr.rec.State = StateRunning
	lr.rec.Attempts++
	lr.mu.Unlock()
	r.pushEvent(Event{At: r.clock.Now(), RemoteKey: remoteKey, State: StateRunning})
}

// AddBytes accumulates transferred bytes on a running record.
func (r *Registry) AddBytes(remoteKey string, n int64) {
	lr := r.get(remoteKey)
	if lr == nil {
		return
	}
	lr.mu.Lock()
	lr.rec.BytesTransferred += n
	lr.mu.Unlock()
	if r.metrics != nil {
		r.metrics.addBytes(n)
	}
}

// MarkDone transitions a record to its DONE terminal state.
func (r *Registry) MarkDone(remoteKey string, bytes int64) {
	r.finish(remoteKey, StateDone, bytes, nil)
}

// MarkFailed transitions a record to its FAILED terminal state.
func (r *Registry) MarkFailed(remoteKey string, err error) {
	r.finish(remoteKey, StateFailed, 0, err)
}

func (r *Registry) finish(remoteKey string, state TransferState, bytes int64, cause error) {
	lr := r.get(remoteKey)
	if lr == nil {
		return
	}
	now := r.clock.Now()
	lr.mu.Lock()
	lr.rec.State = state
	lr.rec.EndedAt = now
	if bytes > 0 {
		lr.rec.BytesTransferred = bytes
	}
	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
		lr.rec.Err = errMsg
	}
	lr.mu.Unlock()

	r.pushEvent(Event{At: now, RemoteKey: remoteKey, State: state, Err: errMsg})
	if r.metrics != nil {
		r.metrics.transferFinished(state)
	}
}

// Get returns a copy of the record, if present.
func (r *Registry) Get(remoteKey string) (TransferRecord, bool) {
	lr := r.get(remoteKey)
	if lr == nil {
		return TransferRecord{}, false
	}
	lr.mu.Lock()
	defer lr.mu.Unlock()
	return lr.rec, true
}

// Snapshot copies every record, newest first by StartedAt.
func (r *Registry) Snapshot() []TransferRecord {
	r.mu.RLock()
	locked := make([]*lockedRecord, 0, len(r.records))
	for _, lr := range r.records {
		locked = append(locked, lr)
	}
	r.mu.RUnlock()

	out := make([]TransferRecord, 0, len(locked))
	for _, lr := range locked {
		lr.mu.Lock()
		out = append(out, lr.rec)
		lr.mu.Unlock()
	}
	sortRecords(out)
	return out
}

// Events returns the buffered transition events, oldest first.
func (r *Registry) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Event, 0, r.eventLen)
	start := r.eventHead - r.eventLen
	if start < 0 {
		start += len(r.events)
	}
	for i := 0; i < r.eventLen; i++ {
		out = append(out, r.events[(start+i)%len(r.events)])
	}
	return out
}

// Expire drops terminal records older than the retention bound.
func (r *Registry) Expire() int {
	cutoff := r.clock.Now().Add(-r.retention)
	r.mu.Lock()
	defer r.mu.Unlock()
	dropped := 0
	for key, lr := range r.records {
		lr.mu.Lock()
		terminal := lr.rec.State == StateDone || lr.rec.State == StateFailed
		old := !lr.rec.EndedAt.IsZero() && lr.rec.EndedAt.Before(cutoff)
		lr.mu.Unlock()
		if terminal && old {
			delete(r.records, key)
			dropped++
		}
	}
	return dropped
}

func (r *Registry) pushEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[r.eventHead] = e
	r.eventHead = (r.eventHead + 1) % len(r.events)
	if r.eventLen < len(r.events) {
		r.eventLen++
	}
}

func sortRecords(recs []TransferRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].StartedAt.Equal(recs[j].StartedAt) {
			return recs[i].StartedAt.After(recs[j].StartedAt)
		}
		return recs[i].RemoteKey < recs[j].RemoteKey
	})
}
