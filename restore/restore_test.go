package restore

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/nexusvault/backup"
	"github.com/INLOpen/nexusvault/compressors"
	"github.com/INLOpen/nexusvault/core"
	"github.com/INLOpen/nexusvault/dbctl"
	"github.com/INLOpen/nexusvault/objectstore"
	"github.com/INLOpen/nexusvault/status"
	"github.com/INLOpen/nexusvault/throttle"
)

type restoreHarness struct {
	srcDataDir   string
	dstDataDir   string
	commitLogDir string
	loc          core.Location
	store        *objectstore.MemStore
	clock        *core.MockClock
	control      *dbctl.MockControl
	backupMgr    *backup.Manager
	executor     *Executor
	manager      *Manager
}

func newRestoreHarness(t *testing.T) *restoreHarness {
	t.Helper()
	srcDataDir := filepath.Join(t.TempDir(), "src")
	dstDataDir := filepath.Join(t.TempDir(), "dst")
	commitLogDir := filepath.Join(t.TempDir(), "commitlog")
	require.NoError(t, os.MkdirAll(srcDataDir, 0o755))
	require.NoError(t, os.MkdirAll(dstDataDir, 0o755))

	loc := core.Location{BaseDir: "b", Prefix: "p", ClusterName: "Test", Token: "100", Region: "us-east-1"}
	clock := core.NewMockClock(time.Date(2018, 6, 5, 12, 34, 0, 0, time.UTC))
	store := objectstore.NewMemStore(clock)
	registry := status.NewRegistry(status.Options{Clock: clock})
	governor := throttle.NewGovernor(throttle.Options{MaxConcurrentFiles: 4, MaxConcurrentRestores: 4})
	control := &dbctl.MockControl{}
	codec := compressors.NewSnappyCodec()

	uploader := backup.NewUploader(backup.UploaderOptions{
		Store:    store,
		Codec:    codec,
		Governor: governor,
		Registry: registry,
		Cache:    backup.NewFingerprintCache(),
		Retry:    objectstore.RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond},
		Clock:    clock,
	})
	backupMgr := backup.NewManager(backup.ManagerOptions{
		Location:  loc,
		Store:     store,
		Uploader:  uploader,
		Discovery: backup.NewDiscovery(srcDataDir, "", loc, nil),
		Control:   control,
		Clock:     clock,
	})

	executor := NewExecutor(ExecutorOptions{
		Store:        store,
		Codec:        codec,
		Governor:     governor,
		Registry:     registry,
		Control:      control,
		DataDir:      dstDataDir,
		CommitLogDir: commitLogDir,
		Retry:        objectstore.RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond},
		Clock:        clock,
	})
	manager := NewManager(store, loc, executor, nil, nil, nil)

	return &restoreHarness{
		srcDataDir:   srcDataDir,
		dstDataDir:   dstDataDir,
		commitLogDir: commitLogDir,
		loc:          loc,
		store:        store,
		clock:        clock,
		control:      control,
		backupMgr:    backupMgr,
		executor:     executor,
		manager:      manager,
	}
}

func (h *restoreHarness) writeIncremental(t *testing.T, ks, cf, name string, payload []byte, mtime time.Time) {
	t.Helper()
	dir := filepath.Join(h.srcDataDir, ks, cf, "backups")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, payload, 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func (h *restoreHarness) runIncremental(t *testing.T) {
	t.Helper()
	result, err := h.backupMgr.RunIncrementalRound(context.Background())
	require.NoError(t, err)
	require.Equal(t, backup.RoundSuccess, result.Outcome)
}

func sstPayload(seed byte, size int) []byte {
	out := make([]byte, size)
	for i := range out {
		out[i] = seed + byte(i%13)
	}
	return out
}

func TestRoundTripRestore(t *testing.T) {
	h := newRestoreHarness(t)
	payload := sstPayload(1, 1024)
	mtime := time.Date(2018, 6, 5, 12, 34, 0, 0, time.UTC)
	h.writeIncremental(t, "ks1", "cf1", "mc-1-big-Data.db", payload, mtime)
	h.runIncremental(t)

	h.control.On("Refresh", mock.Anything, "ks1", "cf1").Return(nil)

	target := time.Date(2018, 6, 5, 12, 35, 0, 0, time.UTC)
	result, err := h.manager.Restore(context.Background(), target, Filter{})
	require.NoError(t, err)
	assert.Equal(t, RestoreSuccess, result.Outcome)
	assert.Equal(t, 1, result.Fetched)

	restored, err := os.ReadFile(filepath.Join(h.dstDataDir, "ks1", "cf1", "mc-1-big-Data.db"))
	require.NoError(t, err)
	assert.Equal(t, payload, restored, "restored bytes must equal the original")
	h.control.AssertExpectations(t)
}

func TestRestoreSkipsExistingSameSizeFiles(t *testing.T) {
	h := newRestoreHarness(t)
	mtime := time.Date(2018, 6, 5, 12, 34, 0, 0, time.UTC)
	h.writeIncremental(t, "ks1", "cf1", "mc-1-big-Data.db", sstPayload(1, 1024), mtime)
	h.runIncremental(t)

	h.control.On("Refresh", mock.Anything, "ks1", "cf1").Return(nil)
	target := time.Date(2018, 6, 5, 12, 35, 0, 0, time.UTC)

	result, err := h.manager.Restore(context.Background(), target, Filter{})
	require.NoError(t, err)
	require.Equal(t, 1, result.Fetched)

	// Re-running the restore finds the files in place.
	result, err = h.manager.Restore(context.Background(), target, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Fetched)
	assert.Equal(t, 1, result.Skipped)
}

func TestPointInTimeComposesSnapshotAndIncrementals(t *testing.T) {
	h := newRestoreHarness(t)
	t1 := time.Date(2018, 6, 5, 12, 0, 0, 0, time.UTC)
	tag := core.FormatTime(t1)
	h.clock.Set(t1)

	snapPayload := sstPayload(7, 512)
	h.control.On("Snapshot", mock.Anything, tag).Run(func(args mock.Arguments) {
		dir := filepath.Join(h.srcDataDir, "ks1", "cf1", "snapshots", tag)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "mc-1-big-Data.db"), snapPayload, 0o644))
	}).Return(nil)
	h.control.On("ClearSnapshot", mock.Anything, tag).Return(nil)

	result, err := h.backupMgr.RunSnapshotRound(context.Background())
	require.NoError(t, err)
	require.Equal(t, backup.RoundSuccess, result.Outcome)

	// Two incrementals after the snapshot, one and two minutes later.
	h.writeIncremental(t, "ks1", "cf1", "mc-2-big-Data.db", sstPayload(2, 256), t1.Add(time.Minute))
	h.writeIncremental(t, "ks1", "cf1", "mc-3-big-Data.db", sstPayload(3, 256), t1.Add(2*time.Minute))
	h.runIncremental(t)

	// Restore at t1+90s: the snapshot plus the first incremental only.
	h.control.On("Refresh", mock.Anything, "ks1", "cf1").Return(nil)
	target := t1.Add(90 * time.Second)
	restoreResult, err := h.manager.Restore(context.Background(), target, Filter{})
	require.NoError(t, err)
	assert.Equal(t, RestoreSuccess, restoreResult.Outcome)

	cfDir := filepath.Join(h.dstDataDir, "ks1", "cf1")
	assert.FileExists(t, filepath.Join(cfDir, "mc-1-big-Data.db"))
	assert.FileExists(t, filepath.Join(cfDir, "mc-2-big-Data.db"))
	assert.NoFileExists(t, filepath.Join(cfDir, "mc-3-big-Data.db"),
		"incremental newer than the target must not be restored")
}

func TestRestoreFilterNarrowsPlan(t *testing.T) {
	h := newRestoreHarness(t)
	mtime := time.Date(2018, 6, 5, 12, 34, 0, 0, time.UTC)
	h.writeIncremental(t, "ks1", "cf1", "mc-1-big-Data.db", sstPayload(1, 128), mtime)
	h.writeIncremental(t, "ks2", "cf9", "mc-2-big-Data.db", sstPayload(2, 128), mtime)
	h.runIncremental(t)

	h.control.On("Refresh", mock.Anything, "ks1", "cf1").Return(nil)
	target := mtime.Add(time.Minute)
	result, err := h.manager.Restore(context.Background(), target, Filter{Keyspace: "ks1"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Fetched)
	assert.NoFileExists(t, filepath.Join(h.dstDataDir, "ks2", "cf9", "mc-2-big-Data.db"))
}

func TestMissingObjectIsBrokenManifest(t *testing.T) {
	h := newRestoreHarness(t)
	mtime := time.Date(2018, 6, 5, 12, 34, 0, 0, time.UTC)
	h.writeIncremental(t, "ks1", "cf1", "mc-1-big-Data.db", sstPayload(1, 128), mtime)
	h.runIncremental(t)

	key := "b/p/tseT/100/201806051234/ks1/cf1/SST/mc-1-big-Data.db"
	require.NoError(t, h.store.Delete(context.Background(), key))

	target := mtime.Add(time.Minute)
	result, err := h.manager.Restore(context.Background(), target, Filter{})
	require.Error(t, err)
	assert.Equal(t, RestoreFailed, result.Outcome)
	assert.Equal(t, core.KindManifestBroken, core.KindOf(err))
}

func TestCorruptObjectFailsRestore(t *testing.T) {
	h := newRestoreHarness(t)
	mtime := time.Date(2018, 6, 5, 12, 34, 0, 0, time.UTC)
	h.writeIncremental(t, "ks1", "cf1", "mc-1-big-Data.db", sstPayload(1, 1024), mtime)
	h.runIncremental(t)

	// Replace the object with validly compressed but different bytes; the
	// manifest digest catches it.
	var buf bytes.Buffer
	w := compressors.NewSnappyCodec().NewWriter(&buf)
	_, err := w.Write(sstPayload(9, 1024))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	key := "b/p/tseT/100/201806051234/ks1/cf1/SST/mc-1-big-Data.db"
	_, err = h.store.Put(context.Background(), key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), nil)
	require.NoError(t, err)

	target := mtime.Add(time.Minute)
	result, err := h.manager.Restore(context.Background(), target, Filter{})
	require.Error(t, err)
	assert.Equal(t, RestoreFailed, result.Outcome)
	assert.Equal(t, core.KindCorruptCompressed, core.KindOf(err))
}

func TestRestoreWithoutManifestFails(t *testing.T) {
	h := newRestoreHarness(t)
	_, err := h.manager.Restore(context.Background(), time.Now(), Filter{})
	require.Error(t, err)
	assert.Equal(t, core.KindManifestBroken, core.KindOf(err))
}

func TestRestoreRejectedWhileGateHeld(t *testing.T) {
	h := newRestoreHarness(t)
	gate := &core.Gate{}
	h.manager.gate = gate
	release, _, ok := gate.TryAcquire("backup round")
	require.True(t, ok)
	defer release()

	_, err := h.manager.Restore(context.Background(), time.Now(), Filter{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRestoreConflict)
}

func TestRefreshFailureDoesNotFailRestore(t *testing.T) {
	h := newRestoreHarness(t)
	mtime := time.Date(2018, 6, 5, 12, 34, 0, 0, time.UTC)
	h.writeIncremental(t, "ks1", "cf1", "mc-1-big-Data.db", sstPayload(1, 128), mtime)
	h.runIncremental(t)

	h.control.On("Refresh", mock.Anything, "ks1", "cf1").
		Return(core.Errorf(core.KindDBControl, "dbctl.refresh", "agent down"))

	target := mtime.Add(time.Minute)
	result, err := h.manager.Restore(context.Background(), target, Filter{})
	require.NoError(t, err, "refresh failures are logged, not fatal")
	assert.Equal(t, RestoreSuccess, result.Outcome)
}

func TestPlanFromV1ManifestAlwaysOverwrites(t *testing.T) {
	h := newRestoreHarness(t)
	ctx := context.Background()

	// Hand-write a v1 manifest plus its data object.
	payload := sstPayload(4, 64)
	var buf bytes.Buffer
	w := compressors.NewSnappyCodec().NewWriter(&buf)
	_, err := w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	dataKey := "b/p/tseT/100/201806051234/ks1/cf1/SST/mc-1-big-Data.db"
	_, err = h.store.Put(ctx, dataKey, bytes.NewReader(buf.Bytes()), int64(buf.Len()), nil)
	require.NoError(t, err)
	v1Body := []byte(`["` + dataKey + `"]`)
	_, err = h.store.Put(ctx, "b/p/tseT/100/META/201806051234-meta.json", bytes.NewReader(v1Body), int64(len(v1Body)), nil)
	require.NoError(t, err)

	plan, err := BuildPlan(ctx, h.store, h.loc, time.Date(2018, 6, 5, 13, 0, 0, 0, time.UTC), Filter{})
	require.NoError(t, err)
	require.Len(t, plan.Entries, 1)
	assert.Equal(t, int64(-1), plan.Entries[0].Size, "v1 entries have unknown size and always overwrite")

	// Pre-place a same-size file: it must still be overwritten.
	targetPath := filepath.Join(h.dstDataDir, "ks1", "cf1", "mc-1-big-Data.db")
	require.NoError(t, os.MkdirAll(filepath.Dir(targetPath), 0o755))
	require.NoError(t, os.WriteFile(targetPath, sstPayload(9, 64), 0o644))

	h.control.On("Refresh", mock.Anything, "ks1", "cf1").Return(nil)
	result, err := h.executor.Execute(ctx, "restore-test", plan)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Fetched)

	restored, err := os.ReadFile(targetPath)
	require.NoError(t, err)
	assert.Equal(t, payload, restored)
}
