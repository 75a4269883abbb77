package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/INLOpen/nexusvault/core"
	"github.com/INLOpen/nexusvault/dbctl"
	"github.com/INLOpen/nexusvault/meta"
	"github.com/INLOpen/nexusvault/objectstore"
)

// RoundOutcome is the user-visible result class of a backup round.
type RoundOutcome string

const (
	RoundSuccess        RoundOutcome = "Success"
	RoundPartialFailure RoundOutcome = "PartialFailure"
	RoundFailed         RoundOutcome = "Failed"
)

// ErrRoundConflict is returned when a round or restore already holds the
// operation gate.
var ErrRoundConflict = fmt.Errorf("another operation is running")

// RoundResult summarizes one round for the caller and the admin surface.
type RoundResult struct {
	RoundID     string
	Instant     time.Time
	Outcome     RoundOutcome
	Uploaded    int
	Skipped     int
	FailedKeys  []string
	RecordIDs   []string
	ManifestKey string
	Err         error
}

// Manager orchestrates backup rounds: trigger, discover, upload, publish.
type Manager struct {
	loc       core.Location
	store     objectstore.Store
	uploader  *Uploader
	discovery *Discovery
	control   dbctl.Control
	gate      *core.Gate
	clock     core.Clock
	tracer    trace.Tracer
	logger    *slog.Logger

	roundTimeout time.Duration
}

// ManagerOptions wires a Manager.
type ManagerOptions struct {
	Location     core.Location
	Store        objectstore.Store
	Uploader     *Uploader
	Discovery    *Discovery
	Control      dbctl.Control
	Gate         *core.Gate
	Clock        core.Clock
	Tracer       trace.Tracer
	Logger       *slog.Logger
	RoundTimeout time.Duration
}

func NewManager(opts ManagerOptions) *Manager {
	if opts.Clock == nil {
		opts.Clock = core.SystemClock()
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.Gate == nil {
		opts.Gate = &core.Gate{}
	}
	return &Manager{
		loc:          opts.Location,
		store:        opts.Store,
		uploader:     opts.Uploader,
		discovery:    opts.Discovery,
		control:      opts.Control,
		gate:         opts.Gate,
		clock:        opts.Clock,
		tracer:       opts.Tracer,
		logger:       opts.Logger.With("component", "BackupManager"),
		roundTimeout: opts.RoundTimeout,
	}
}

// RunSnapshotRound triggers a snapshot on the node, uploads the tagged
// hardlink set plus commit logs, and publishes the manifest as the
// round's commit marker. A snapshot command failure fails the round;
// individual file failures degrade it to PartialFailure and suppress the
// manifest.
func (m *Manager) RunSnapshotRound(ctx context.Context) (*RoundResult, error) {
	release, holder, ok := m.gate.TryAcquire("backup round")
	if !ok {
		m.logger.Warn("RoundSkipped: operation gate is held.", "holder", holder)
		return nil, fmt.Errorf("%w: held by %s", ErrRoundConflict, holder)
	}
	defer release()

	ctx, span := m.tracer.Start(ctx, "BackupManager.RunSnapshotRound")
	defer span.End()

	if m.roundTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.roundTimeout)
		defer cancel()
	}

	instant := m.clock.Now().UTC().Truncate(time.Minute)
	tag := core.FormatTime(instant)
	result := &RoundResult{RoundID: uuid.NewString(), Instant: instant}
	span.SetAttributes(attribute.String("round.id", result.RoundID), attribute.String("round.tag", tag))

	m.logger.Info("Starting snapshot backup round.", "round_id", result.RoundID, "tag", tag)

	if err := m.control.Snapshot(ctx, tag); err != nil {
		result.Outcome = RoundFailed
		result.Err = err
		m.logger.Error("Snapshot command failed, round aborted.", "tag", tag, "error", err)
		return result, err
	}
	defer func() {
		// The hardlink set is only needed for the duration of the round.
		if err := m.control.ClearSnapshot(context.WithoutCancel(ctx), tag); err != nil {
			m.logger.Warn("Clearing snapshot failed.", "tag", tag, "error", err)
		}
	}()

	paths, err := m.discovery.SnapshotFiles(tag)
	if err != nil {
		result.Outcome = RoundFailed
		result.Err = err
		return result, err
	}
	commitLogs, err := m.discovery.CommitLogFiles()
	if err != nil {
		result.Outcome = RoundFailed
		result.Err = err
		return result, err
	}
	paths = append(paths, commitLogs...)

	return m.runRound(ctx, result, instant, paths, true)
}

// RunIncrementalRound uploads SSTables that appeared in the backups
// directories since the last look, plus new commit logs. The manifest
// instant is the newest file instant so an unchanged tree republishes an
// identical manifest.
func (m *Manager) RunIncrementalRound(ctx context.Context) (*RoundResult, error) {
	release, holder, ok := m.gate.TryAcquire("incremental round")
	if !ok {
		m.logger.Warn("RoundSkipped: operation gate is held.", "holder", holder)
		return nil, fmt.Errorf("%w: held by %s", ErrRoundConflict, holder)
	}
	defer release()

	ctx, span := m.tracer.Start(ctx, "BackupManager.RunIncrementalRound")
	defer span.End()

	if m.roundTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.roundTimeout)
		defer cancel()
	}

	result := &RoundResult{RoundID: uuid.NewString()}

	paths, err := m.discovery.IncrementalFiles()
	if err != nil {
		result.Outcome = RoundFailed
		result.Err = err
		return result, err
	}
	commitLogs, err := m.discovery.CommitLogFiles()
	if err != nil {
		result.Outcome = RoundFailed
		result.Err = err
		return result, err
	}
	paths = append(paths, commitLogs...)

	if len(paths) == 0 {
		result.Outcome = RoundSuccess
		m.logger.Debug("Incremental round found nothing to upload.")
		return result, nil
	}

	// Derive the round instant from the data so an unchanged tree yields
	// the same manifest key and contents.
	instant := paths[0].Time
	for _, p := range paths {
		if p.Time.After(instant) {
			instant = p.Time
		}
	}
	result.Instant = instant
	span.SetAttributes(attribute.String("round.id", result.RoundID))

	return m.runRound(ctx, result, instant, paths, false)
}

// runRound uploads the file set concurrently and, if every file made it,
// finalizes the manifest. Manifest writing happens strictly after all
// data writes.
func (m *Manager) runRound(ctx context.Context, result *RoundResult, instant time.Time, paths []core.BackupPath, snapshot bool) (*RoundResult, error) {
	builder := meta.NewBuilder(m.loc, instant, m.schemaHash(paths))

	type outcome struct {
		key     string
		skipped bool
		err     error
	}
	outcomes := make([]outcome, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range paths {
		i, p := i, p
		result.RecordIDs = append(result.RecordIDs, p.RemoteKey())
		g.Go(func() error {
			res, err := m.uploader.Upload(gctx, p, result.RoundID)
			outcomes[i] = outcome{key: p.RemoteKey(), skipped: res.Skipped, err: err}
			if err != nil {
				// A failed file degrades the round but does not abort it,
				// unless the whole round was cancelled.
				if core.KindOf(err) == core.KindCancelled {
					return err
				}
				return nil
			}
			builder.Add(res.Entry)
			return nil
		})
	}
	groupErr := g.Wait()

	for _, o := range outcomes {
		switch {
		case o.err != nil:
			result.FailedKeys = append(result.FailedKeys, o.key)
		case o.skipped:
			result.Skipped++
		default:
			result.Uploaded++
		}
	}
	sort.Strings(result.FailedKeys)

	// A cancelled or timed-out round never publishes a manifest, whatever
	// the per-file outcomes were.
	if ctxErr := ctx.Err(); ctxErr != nil || (groupErr != nil && core.KindOf(groupErr) == core.KindCancelled) {
		if groupErr == nil {
			kind := core.KindCancelled
			if ctxErr == context.DeadlineExceeded {
				kind = core.KindTimeout
			}
			groupErr = core.NewError(kind, "backup.round", ctxErr)
		}
		result.Outcome = RoundFailed
		result.Err = groupErr
		m.logger.Warn("Round cancelled; no manifest published.", "round_id", result.RoundID, "error", groupErr)
		return result, groupErr
	}

	if len(result.FailedKeys) > 0 {
		result.Outcome = RoundPartialFailure
		result.Err = core.Errorf(core.KindRemotePermanent, "backup.round", "%d of %d files failed", len(result.FailedKeys), len(paths))
		m.logger.Warn("Round partially failed; no manifest published.",
			"round_id", result.RoundID, "failed", len(result.FailedKeys), "total", len(paths))
		return result, nil
	}

	manifestPath, err := builder.Finalize(ctx, m.store, m.loc)
	if err != nil {
		result.Outcome = RoundFailed
		result.Err = err
		m.logger.Error("Manifest write failed.", "round_id", result.RoundID, "error", err)
		return result, err
	}
	result.ManifestKey = manifestPath.RemoteKey()
	result.Outcome = RoundSuccess
	m.logger.Info("Round complete.", "round_id", result.RoundID,
		"uploaded", result.Uploaded, "skipped", result.Skipped, "manifest", result.ManifestKey, "snapshot", snapshot)
	return result, nil
}

// schemaHash fingerprints the keyspace/column-family layout included in
// the round.
func (m *Manager) schemaHash(paths []core.BackupPath) string {
	seen := make(map[string]struct{})
	var names []string
	for _, p := range paths {
		name := p.Keyspace + "/" + p.ColumnFamily
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	h := sha256.New()
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
