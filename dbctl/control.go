// Package dbctl is the minimal adapter the pipeline consumes to talk to
// the local database node: snapshot, refresh, clear-snapshot. The pipeline
// never depends on the node's wire protocol, only on this contract.
package dbctl

import (
	"context"
	"sync"
)

// Control is the DB control channel.
type Control interface {
	// Snapshot asks the node to hardlink its current SSTables under the tag.
	Snapshot(ctx context.Context, tag string) error
	// Refresh makes the node load newly placed files for a column family.
	Refresh(ctx context.Context, keyspace, columnFamily string) error
	// ClearSnapshot removes the tagged hardlink set.
	ClearSnapshot(ctx context.Context, tag string) error
}

// Serialized wraps a Control so only one call is outstanding at a time,
// the concurrency contract of the node's admin channel.
type Serialized struct {
	mu    sync.Mutex
	inner Control
}

func NewSerialized(inner Control) *Serialized {
	return &Serialized{inner: inner}
}

var _ Control = (*Serialized)(nil)

func (s *Serialized) Snapshot(ctx context.Context, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Snapshot(ctx, tag)
}

func (s *Serialized) Refresh(ctx context.Context, keyspace, columnFamily string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Refresh(ctx, keyspace, columnFamily)
}

func (s *Serialized) ClearSnapshot(ctx context.Context, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.ClearSnapshot(ctx, tag)
}
