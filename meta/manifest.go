// Package meta emits and reads the per-round manifests that make a backup
// a self-describing set. The manifest is written last and is the round's
// commit marker.
package meta

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/INLOpen/nexusvault/core"
	"github.com/INLOpen/nexusvault/objectstore"
)

// ManifestFileName is the leaf name of a v2 manifest object.
const ManifestFileName = "manifest.json"

// ErrNoManifest means no manifest exists at or before the requested time.
var ErrNoManifest = errors.New("no manifest at or before target time")

// Entry describes one file of a backup round. Field order is the stable
// serialization order.
type Entry struct {
	Keyspace       string `json:"keyspace"`
	ColumnFamily   string `json:"column_family"`
	FileName       string `json:"file_name"`
	RemoteKey      string `json:"remote_key"`
	Size           int64  `json:"size"`
	CompressedSize int64  `json:"compressed_size"`
	SHA256         string `json:"sha256"`
}

// Manifest is the v2 manifest document. v1 documents are normalized into
// this shape on read; their entries carry Size == -1 because the legacy
// format recorded keys only.
type Manifest struct {
	Version    int     `json:"version"`
	Cluster    string  `json:"cluster"`
	Token      string  `json:"token"`
	Instant    string  `json:"instant"`
	SchemaHash string  `json:"schema_hash"`
	Entries    []Entry `json:"entries"`
}

// Time parses the manifest instant.
func (m *Manifest) Time() (time.Time, error) {
	return core.ParseTime(m.Instant)
}

// IsV1 reports whether this manifest was normalized from the legacy flat
// format, in which case per-file sizes are unknown.
func (m *Manifest) IsV1() bool { return m.Version == 1 }

// Path returns the BackupPath the manifest is stored under.
func (m *Manifest) Path(loc core.Location) (core.BackupPath, error) {
	t, err := m.Time()
	if err != nil {
		return core.BackupPath{}, err
	}
	p := core.BackupPath{
		Type:        core.FileTypeMetaV2,
		ClusterName: loc.ClusterName,
		Token:       loc.Token,
		Region:      loc.Region,
		Time:        t,
		FileName:    ManifestFileName,
		BaseDir:     loc.BaseDir,
		Prefix:      loc.Prefix,
	}
	if m.IsV1() {
		p.Type = core.FileTypeMeta
		p.FileName = m.Instant + "-meta.json"
	}
	return p, nil
}

// Builder accumulates entries as uploads complete. Add is safe for
// concurrent use by the upload workers.
type Builder struct {
	mu       sync.Mutex
	manifest Manifest
}

func NewBuilder(loc core.Location, instant time.Time, schemaHash string) *Builder {
	return &Builder{manifest: Manifest{
		Version:    2,
		Cluster:    loc.ClusterName,
		Token:      loc.Token,
		Instant:    core.FormatTime(instant),
		SchemaHash: schemaHash,
	}}
}

func (b *Builder) Add(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.manifest.Entries = append(b.manifest.Entries, e)
}

func (b *Builder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.manifest.Entries)
}

// Finalize sorts the entries by remote key, serializes with stable field
// order and writes the manifest object. It must run strictly after every
// data file of the round has been put.
func (b *Builder) Finalize(ctx context.Context, store objectstore.Store, loc core.Location) (core.BackupPath, error) {
	b.mu.Lock()
	m := b.manifest
	entries := make([]Entry, len(m.Entries))
	copy(entries, m.Entries)
	b.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].RemoteKey < entries[j].RemoteKey })
	m.Entries = entries

	path, err := m.Path(loc)
	if err != nil {
		return core.BackupPath{}, err
	}
	data, err := json.MarshalIndent(&m, "", "  ")
	if err != nil {
		return core.BackupPath{}, core.NewError(core.KindManifestBroken, "meta.finalize", err)
	}
	data = append(data, '\n')
	if _, err := store.Put(ctx, path.RemoteKey(), bytes.NewReader(data), int64(len(data)), nil); err != nil {
		return core.BackupPath{}, err
	}
	path.Size = int64(len(data))
	return path, nil
}

// Parse reads a manifest document, accepting both dialects: v2 objects
// and legacy v1 flat arrays of remote keys.
func Parse(r io.Reader) (*Manifest, error) {
	const op = "meta.parse"
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, core.NewError(core.KindManifestBroken, op, err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, core.Errorf(core.KindManifestBroken, op, "empty manifest")
	}
	if trimmed[0] == '[' {
		return parseV1(op, trimmed)
	}
	var m Manifest
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return nil, core.NewError(core.KindManifestBroken, op, err)
	}
	if m.Version == 0 {
		m.Version = 2
	}
	return &m, nil
}

// parseV1 normalizes a legacy flat key list. Keys that do not decode are
// a broken manifest, not a skippable entry.
func parseV1(op string, data []byte) (*Manifest, error) {
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, core.NewError(core.KindManifestBroken, op, err)
	}
	m := &Manifest{Version: 1}
	for _, key := range keys {
		p, err := core.Decode(key)
		if err != nil {
			return nil, core.NewError(core.KindManifestBroken, op, err)
		}
		if m.Token == "" {
			m.Token = p.Token
			m.Cluster = p.ClusterName
		}
		m.Entries = append(m.Entries, Entry{
			Keyspace:     p.Keyspace,
			ColumnFamily: p.ColumnFamily,
			FileName:     p.FileName,
			RemoteKey:    key,
			Size:         -1,
		})
	}
	sort.Slice(m.Entries, func(i, j int) bool { return m.Entries[i].RemoteKey < m.Entries[j].RemoteKey })
	return m, nil
}

// Find locates the newest manifest for the location with instant at or
// before target, preferring v2 over v1 at the same instant, and parses
// it. Returns ErrNoManifest when none qualifies.
func Find(ctx context.Context, store objectstore.Store, loc core.Location, target time.Time) (*Manifest, core.BackupPath, error) {
	const op = "meta.find"
	prefix := loc.MetaPrefix() + "/"

	var best core.BackupPath
	found := false
	err := store.List(ctx, prefix, func(info objectstore.ObjectInfo) error {
		p, err := core.Decode(info.Key)
		if err != nil {
			// Foreign objects under META/ are ignored, not fatal.
			return nil
		}
		if p.Time.After(target) {
			return nil
		}
		if !found || betterManifest(p, best) {
			best = p
			found = true
		}
		return nil
	})
	if err != nil {
		return nil, core.BackupPath{}, err
	}
	if !found {
		return nil, core.BackupPath{}, core.NewError(core.KindManifestBroken, op, ErrNoManifest)
	}

	r, err := store.Get(ctx, best.RemoteKey())
	if err != nil {
		return nil, core.BackupPath{}, err
	}
	defer r.Close()
	m, err := Parse(r)
	if err != nil {
		return nil, core.BackupPath{}, err
	}
	if m.Instant == "" {
		m.Instant = core.FormatTime(best.Time)
	}
	if m.IsV1() && best.Type == core.FileTypeMetaV2 {
		// A v2 key holding a v1 body still restores, but sizes are unknown.
		m.Version = 1
	}
	return m, best, nil
}

func betterManifest(a, b core.BackupPath) bool {
	if !a.Time.Equal(b.Time) {
		return a.Time.After(b.Time)
	}
	return a.Type == core.FileTypeMetaV2 && b.Type == core.FileTypeMeta
}
