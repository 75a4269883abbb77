package meta

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/nexusvault/core"
	"github.com/INLOpen/nexusvault/objectstore"
)

func testLoc() core.Location {
	return core.Location{BaseDir: "b", Prefix: "p", ClusterName: "Test", Token: "100"}
}

func entryAt(t *testing.T, instant, file string) Entry {
	t.Helper()
	ts, err := core.ParseTime(instant)
	require.NoError(t, err)
	p := core.BackupPath{
		Type: core.FileTypeSSTable, ClusterName: "Test", Keyspace: "ks1", ColumnFamily: "cf1",
		Token: "100", Time: ts, FileName: file, BaseDir: "b", Prefix: "p",
	}
	return Entry{
		Keyspace: "ks1", ColumnFamily: "cf1", FileName: file,
		RemoteKey: p.RemoteKey(), Size: 1024, CompressedSize: 512, SHA256: "ab",
	}
}

func TestBuilderFinalizeWritesSortedManifest(t *testing.T) {
	store := objectstore.NewMemStore(nil)
	ctx := context.Background()
	instant := mustTime(t, "201806051234")

	b := NewBuilder(testLoc(), instant, "schema-1")
	b.Add(entryAt(t, "201806051234", "mc-2-big-Data.db"))
	b.Add(entryAt(t, "201806051234", "mc-1-big-Data.db"))

	path, err := b.Finalize(ctx, store, testLoc())
	require.NoError(t, err)
	assert.Equal(t, "b/p/tseT/100/META/201806051234/manifest.json", path.RemoteKey())

	raw, ok := store.Bytes(path.RemoteKey())
	require.True(t, ok)
	m, err := Parse(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 2, m.Version)
	assert.Equal(t, "Test", m.Cluster)
	assert.Equal(t, "schema-1", m.SchemaHash)
	require.Len(t, m.Entries, 2)
	assert.True(t, m.Entries[0].RemoteKey < m.Entries[1].RemoteKey)
}

func TestFinalizeIsDeterministic(t *testing.T) {
	ctx := context.Background()
	instant := mustTime(t, "201806051234")

	var payloads [][]byte
	for i := 0; i < 2; i++ {
		store := objectstore.NewMemStore(nil)
		b := NewBuilder(testLoc(), instant, "schema-1")
		// Insertion order differs between runs; output must not.
		if i == 0 {
			b.Add(entryAt(t, "201806051234", "mc-1-big-Data.db"))
			b.Add(entryAt(t, "201806051234", "mc-2-big-Data.db"))
		} else {
			b.Add(entryAt(t, "201806051234", "mc-2-big-Data.db"))
			b.Add(entryAt(t, "201806051234", "mc-1-big-Data.db"))
		}
		path, err := b.Finalize(ctx, store, testLoc())
		require.NoError(t, err)
		raw, ok := store.Bytes(path.RemoteKey())
		require.True(t, ok)
		payloads = append(payloads, raw)
	}
	assert.Equal(t, payloads[0], payloads[1])
}

func TestParseV1Normalizes(t *testing.T) {
	doc := `[
  "b/p/tseT/100/201806051234/ks1/cf1/SST/mc-1-big-Data.db",
  "b/p/tseT/100/201806051234/ks1/cf1/SST/mc-2-big-Data.db"
]`
	m, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	assert.True(t, m.IsV1())
	assert.Equal(t, "100", m.Token)
	assert.Equal(t, "Test", m.Cluster)
	require.Len(t, m.Entries, 2)
	for _, e := range m.Entries {
		assert.Equal(t, "ks1", e.Keyspace)
		assert.Equal(t, int64(-1), e.Size)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for name, doc := range map[string]string{
		"empty":       "",
		"not_json":    "hello",
		"bad_v1_key":  `["nonsense"]`,
		"broken_json": `{"version": 2,`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(doc))
			require.Error(t, err)
			assert.Equal(t, core.KindManifestBroken, core.KindOf(err))
		})
	}
}

func TestFindSelectsNewestAtOrBefore(t *testing.T) {
	store := objectstore.NewMemStore(nil)
	ctx := context.Background()
	loc := testLoc()

	for _, instant := range []string{"201806051200", "201806051230", "201806051300"} {
		b := NewBuilder(loc, mustTime(t, instant), "")
		b.Add(entryAt(t, instant, "mc-1-big-Data.db"))
		_, err := b.Finalize(ctx, store, loc)
		require.NoError(t, err)
	}

	m, path, err := Find(ctx, store, loc, mustTime(t, "201806051235"))
	require.NoError(t, err)
	assert.Equal(t, "201806051230", m.Instant)
	assert.Equal(t, core.FileTypeMetaV2, path.Type)

	// Exactly at a manifest instant selects it.
	m, _, err = Find(ctx, store, loc, mustTime(t, "201806051200"))
	require.NoError(t, err)
	assert.Equal(t, "201806051200", m.Instant)

	// Before every manifest: not found.
	_, _, err = Find(ctx, store, loc, mustTime(t, "201806051100"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoManifest)
}

func TestFindReadsLegacyV1(t *testing.T) {
	store := objectstore.NewMemStore(nil)
	ctx := context.Background()
	loc := testLoc()

	v1Key := "b/p/tseT/100/META/201806051234-meta.json"
	v1Body := []byte(`["b/p/tseT/100/201806051234/ks1/cf1/SST/mc-1-big-Data.db"]`)
	_, err := store.Put(ctx, v1Key, bytes.NewReader(v1Body), int64(len(v1Body)), nil)
	require.NoError(t, err)

	m, path, err := Find(ctx, store, loc, mustTime(t, "201806051300"))
	require.NoError(t, err)
	assert.True(t, m.IsV1())
	assert.Equal(t, core.FileTypeMeta, path.Type)
	assert.Equal(t, "201806051234", m.Instant)
	require.Len(t, m.Entries, 1)
}

func TestFindPrefersV2AtSameInstant(t *testing.T) {
	store := objectstore.NewMemStore(nil)
	ctx := context.Background()
	loc := testLoc()

	v1Key := "b/p/tseT/100/META/201806051234-meta.json"
	v1Body := []byte(`["b/p/tseT/100/201806051234/ks1/cf1/SST/mc-1-big-Data.db"]`)
	_, err := store.Put(ctx, v1Key, bytes.NewReader(v1Body), int64(len(v1Body)), nil)
	require.NoError(t, err)

	b := NewBuilder(loc, mustTime(t, "201806051234"), "")
	b.Add(entryAt(t, "201806051234", "mc-1-big-Data.db"))
	_, err = b.Finalize(ctx, store, loc)
	require.NoError(t, err)

	m, path, err := Find(ctx, store, loc, mustTime(t, "201806051300"))
	require.NoError(t, err)
	assert.False(t, m.IsV1())
	assert.Equal(t, core.FileTypeMetaV2, path.Type)
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := core.ParseTime(s)
	require.NoError(t, err)
	return ts
}
