package restore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/sync/errgroup"

	"github.com/INLOpen/nexusvault/core"
	"github.com/INLOpen/nexusvault/dbctl"
	"github.com/INLOpen/nexusvault/objectstore"
	"github.com/INLOpen/nexusvault/status"
	"github.com/INLOpen/nexusvault/throttle"
)

// Outcome is the user-visible result class of a restore.
type Outcome string

const (
	RestoreSuccess Outcome = "Success"
	RestoreFailed  Outcome = "Failed"
)

// Result summarizes one restore.
type Result struct {
	RestoreID string
	Outcome   Outcome
	Fetched   int
	Skipped   int
	RecordIDs []string
	Err       error
}

// Executor fetches, decompresses and places the planned files, then asks
// the node to load them.
type Executor struct {
	store        objectstore.Store
	codec        core.Codec
	governor     *throttle.Governor
	registry     *status.Registry
	control      dbctl.Control
	dataDir      string
	commitLogDir string
	retry        objectstore.RetryPolicy
	clock        core.Clock
	logger       *slog.Logger

	// diskUsage is swappable for tests.
	diskUsage func(path string) (*disk.UsageStat, error)
}

// ExecutorOptions wires an Executor.
type ExecutorOptions struct {
	Store        objectstore.Store
	Codec        core.Codec
	Governor     *throttle.Governor
	Registry     *status.Registry
	Control      dbctl.Control
	DataDir      string
	CommitLogDir string
	Retry        objectstore.RetryPolicy
	Clock        core.Clock
	Logger       *slog.Logger
}

func NewExecutor(opts ExecutorOptions) *Executor {
	if opts.Clock == nil {
		opts.Clock = core.SystemClock()
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = objectstore.DefaultRetry()
	}
	return &Executor{
		store:        opts.Store,
		codec:        opts.Codec,
		governor:     opts.Governor,
		registry:     opts.Registry,
		control:      opts.Control,
		dataDir:      opts.DataDir,
		commitLogDir: opts.CommitLogDir,
		retry:        opts.Retry,
		clock:        opts.Clock,
		logger:       opts.Logger.With("component", "RestoreExecutor"),
		diskUsage:    disk.Usage,
	}
}

// Execute runs the plan: free-space precheck, concurrent fetches with
// temp-file placement and atomic rename, then a refresh per column
// family. Any fetch reaching a terminal failure aborts the restore;
// already placed files remain, which is safe because the node only sees
// them after refresh.
func (e *Executor) Execute(ctx context.Context, restoreID string, plan *Plan) (*Result, error) {
	result := &Result{RestoreID: restoreID}

	if err := e.checkDiskSpace(plan); err != nil {
		result.Outcome = RestoreFailed
		result.Err = err
		return result, err
	}

	fetched := make([]bool, len(plan.Entries))
	skipped := make([]bool, len(plan.Entries))

	g, gctx := errgroup.WithContext(ctx)
	for i, entry := range plan.Entries {
		i, entry := i, entry
		result.RecordIDs = append(result.RecordIDs, entry.Path.RemoteKey())
		g.Go(func() error {
			didFetch, err := e.fetchOne(gctx, restoreID, entry)
			if err != nil {
				return err
			}
			fetched[i] = didFetch
			skipped[i] = !didFetch
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		result.Outcome = RestoreFailed
		result.Err = err
		e.logger.Error("Restore aborted.", "restore_id", restoreID, "error", err)
		return result, err
	}

	for i := range plan.Entries {
		if fetched[i] {
			result.Fetched++
		} else if skipped[i] {
			result.Skipped++
		}
	}

	e.refreshColumnFamilies(ctx, plan)

	result.Outcome = RestoreSuccess
	e.logger.Info("Restore complete.", "restore_id", restoreID, "fetched", result.Fetched, "skipped", result.Skipped)
	return result, nil
}

// checkDiskSpace rejects a plan that cannot fit on the data partition.
func (e *Executor) checkDiskSpace(plan *Plan) error {
	if plan.TotalSize <= 0 {
		return nil
	}
	usage, err := e.diskUsage(e.dataDir)
	if err != nil {
		// The partition may not exist yet; placement will create it.
		e.logger.Warn("Could not stat data partition, skipping space check.", "dir", e.dataDir, "error", err)
		return nil
	}
	if usage.Free < uint64(plan.TotalSize) {
		return core.Errorf(core.KindLocalIO, "restore.precheck",
			"plan needs %d bytes but partition has %d free", plan.TotalSize, usage.Free)
	}
	return nil
}

// fetchOne places one entry: skip when an identical-size file is already
// there, otherwise fetch through the governor, decompress, write to a
// sibling temp file and rename into place.
func (e *Executor) fetchOne(ctx context.Context, restoreID string, entry PlanEntry) (bool, error) {
	key := entry.Path.RemoteKey()
	target, err := entry.Path.RestoreTarget(e.dataDir, e.commitLogDir)
	if err != nil {
		return false, core.NewError(core.KindManifestBroken, "restore.fetch", err)
	}

	if entry.Size >= 0 {
		if info, statErr := os.Stat(target); statErr == nil && info.Size() == entry.Size {
			e.logger.Debug("Destination exists with identical size, skipping.", "path", target)
			return false, nil
		}
	}

	e.registry.Enqueue(key, restoreID)

	ticket, err := e.governor.Acquire(ctx, throttle.ClassRestore)
	if err != nil {
		e.registry.MarkFailed(key, err)
		return false, err
	}
	defer ticket.Release()

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		wrapped := core.NewError(core.KindLocalIO, "restore.fetch", err)
		e.registry.MarkFailed(key, wrapped)
		return false, wrapped
	}

	var written int64
	err = objectstore.Do(ctx, e.retry, func() error {
		e.registry.MarkRunning(key)
		n, attemptErr := e.attempt(ctx, key, target, entry)
		if attemptErr != nil {
			return attemptErr
		}
		written = n
		return nil
	})
	if err != nil {
		if objectstore.IsNotFound(err) {
			err = core.Errorf(core.KindManifestBroken, "restore.fetch", "manifest references missing object %s", key)
		}
		e.registry.MarkFailed(key, err)
		return false, err
	}

	e.registry.MarkDone(key, written)
	return true, nil
}

// attempt is a single fetch-decompress-place pass.
func (e *Executor) attempt(ctx context.Context, key, target string, entry PlanEntry) (int64, error) {
	body, err := e.store.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	metered := e.governor.NewReader(ctx, body)
	dec, err := e.codec.NewReader(metered)
	if err != nil {
		return 0, err
	}
	defer dec.Close()

	tmp, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".restore-*")
	if err != nil {
		return 0, core.NewError(core.KindLocalIO, "restore.place", err)
	}
	defer os.Remove(tmp.Name())

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, hasher), dec)
	if err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, core.NewError(core.KindLocalIO, "restore.place", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, core.NewError(core.KindLocalIO, "restore.place", err)
	}

	if entry.Size >= 0 && written != entry.Size {
		return 0, core.Errorf(core.KindCorruptCompressed, "restore.place",
			"decompressed %d bytes, manifest says %d", written, entry.Size)
	}
	if entry.SHA256 != "" {
		if got := hex.EncodeToString(hasher.Sum(nil)); got != entry.SHA256 {
			return 0, core.Errorf(core.KindCorruptCompressed, "restore.place",
				"digest mismatch for %s", key)
		}
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		return 0, core.NewError(core.KindLocalIO, "restore.place", err)
	}
	return written, nil
}

// refreshColumnFamilies asks the node to load the placed files, one call
// per distinct column family. Control-channel failures here are logged
// but do not fail the restore: the files are on disk.
func (e *Executor) refreshColumnFamilies(ctx context.Context, plan *Plan) {
	seen := make(map[[2]string]struct{})
	var pairs [][2]string
	for _, entry := range plan.Entries {
		if entry.Path.Type == core.FileTypeCommitLog {
			continue
		}
		pair := [2]string{entry.Path.Keyspace, entry.Path.ColumnFamily}
		if _, ok := seen[pair]; !ok {
			seen[pair] = struct{}{}
			pairs = append(pairs, pair)
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})
	for _, pair := range pairs {
		if err := e.control.Refresh(ctx, pair[0], pair[1]); err != nil {
			e.logger.Warn("Refresh failed after restore; files are placed.",
				"keyspace", pair[0], "column_family", pair[1], "error", err)
		}
	}
}
