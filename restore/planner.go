// Package restore resolves a point-in-time object set from the manifests
// and places the files so the database can open them.
package restore

import (
	"context"
	"time"

	"github.com/INLOpen/nexusvault/core"
	"github.com/INLOpen/nexusvault/meta"
	"github.com/INLOpen/nexusvault/objectstore"
)

// Filter optionally narrows a restore to one keyspace or column family.
// Empty fields match everything.
type Filter struct {
	Keyspace     string
	ColumnFamily string
}

func (f Filter) matches(ks, cf string) bool {
	if f.Keyspace != "" && f.Keyspace != ks {
		return false
	}
	if f.ColumnFamily != "" && f.ColumnFamily != cf {
		return false
	}
	return true
}

// PlanEntry is one file to place.
type PlanEntry struct {
	Path core.BackupPath
	// Size is the uncompressed size, -1 when restoring from a legacy v1
	// manifest, which recorded keys only. Unknown sizes disable the
	// same-size skip: the file is always overwritten.
	Size   int64
	SHA256 string
}

// Plan is the resolved object set for a restore.
type Plan struct {
	Manifest     *meta.Manifest
	ManifestPath core.BackupPath
	Entries      []PlanEntry
	// TotalSize is the sum of known uncompressed sizes, the disk the
	// restore needs on the data partition.
	TotalSize int64
}

// BuildPlan finds the manifest at or before target and resolves the file
// set. When the manifest describes a snapshot round, incremental SSTables
// with instants in (manifest.time, target] are composed on top, giving
// the point-in-time view.
func BuildPlan(ctx context.Context, store objectstore.Store, loc core.Location, target time.Time, filter Filter) (*Plan, error) {
	m, manifestPath, err := meta.Find(ctx, store, loc, target)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Manifest: m, ManifestPath: manifestPath}
	inPlan := make(map[string]struct{})
	hasSnapshot := false

	for _, e := range m.Entries {
		p, err := core.Decode(e.RemoteKey)
		if err != nil {
			return nil, core.NewError(core.KindManifestBroken, "restore.plan", err)
		}
		if p.Type == core.FileTypeSnapshot {
			hasSnapshot = true
		}
		if !filter.matches(p.Keyspace, p.ColumnFamily) {
			continue
		}
		size := e.Size
		if m.IsV1() {
			size = -1
		}
		plan.Entries = append(plan.Entries, PlanEntry{Path: p, Size: size, SHA256: e.SHA256})
		inPlan[e.RemoteKey] = struct{}{}
		if size > 0 {
			plan.TotalSize += size
		}
	}

	if hasSnapshot {
		if err := composeIncrementals(ctx, store, loc, manifestPath.Time, target, filter, plan, inPlan); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// composeIncrementals lists SSTables uploaded after the snapshot instant
// and up to the target, and adds them to the plan. The shared-prefix scan
// over the sortable instants scopes the listing.
func composeIncrementals(ctx context.Context, store objectstore.Store, loc core.Location, snapTime, target time.Time, filter Filter, plan *Plan, inPlan map[string]struct{}) error {
	prefix := core.EncodePartial(loc, snapTime, target)
	return store.List(ctx, prefix, func(info objectstore.ObjectInfo) error {
		p, err := core.Decode(info.Key)
		if err != nil {
			return nil // foreign object under the prefix
		}
		if p.Type != core.FileTypeSSTable {
			return nil
		}
		if !p.Time.After(snapTime) || p.Time.After(target) {
			return nil
		}
		if !filter.matches(p.Keyspace, p.ColumnFamily) {
			return nil
		}
		if _, ok := inPlan[info.Key]; ok {
			return nil
		}
		inPlan[info.Key] = struct{}{}
		// The listing reports the stored size; the uncompressed size is
		// unknown here, so these entries are always overwritten.
		plan.Entries = append(plan.Entries, PlanEntry{Path: p, Size: -1})
		return nil
	})
}
