package restore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/INLOpen/nexusvault/core"
	"github.com/INLOpen/nexusvault/objectstore"
)

// ErrRestoreConflict is returned when a backup round or another restore
// holds the operation gate.
var ErrRestoreConflict = fmt.Errorf("another operation is running")

// Manager plans and executes restores under the shared operation gate.
type Manager struct {
	store    objectstore.Store
	loc      core.Location
	executor *Executor
	gate     *core.Gate
	tracer   trace.Tracer
	logger   *slog.Logger
}

func NewManager(store objectstore.Store, loc core.Location, executor *Executor, gate *core.Gate, tracer trace.Tracer, logger *slog.Logger) *Manager {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	if logger == nil {
		logger = discardLogger()
	}
	if gate == nil {
		gate = &core.Gate{}
	}
	return &Manager{
		store:    store,
		loc:      loc,
		executor: executor,
		gate:     gate,
		tracer:   tracer,
		logger:   logger.With("component", "RestoreManager"),
	}
}

// Restore resolves the point-in-time plan for the target and executes
// it. A restore is rejected while a backup round runs; the caller may
// retry once the round finishes. A failed restore may be resumed by
// calling Restore again: placed files are skipped by size.
func (m *Manager) Restore(ctx context.Context, target time.Time, filter Filter) (*Result, error) {
	release, holder, ok := m.gate.TryAcquire("restore")
	if !ok {
		return nil, fmt.Errorf("%w: held by %s", ErrRestoreConflict, holder)
	}
	defer release()

	ctx, span := m.tracer.Start(ctx, "RestoreManager.Restore")
	defer span.End()

	restoreID := uuid.NewString()
	span.SetAttributes(
		attribute.String("restore.id", restoreID),
		attribute.String("restore.target", core.FormatTime(target)),
	)
	m.logger.Info("Starting restore.", "restore_id", restoreID,
		"target", core.FormatTime(target), "keyspace", filter.Keyspace, "column_family", filter.ColumnFamily)

	plan, err := BuildPlan(ctx, m.store, m.loc, target, filter)
	if err != nil {
		m.logger.Error("Restore planning failed.", "restore_id", restoreID, "error", err)
		return &Result{RestoreID: restoreID, Outcome: RestoreFailed, Err: err}, err
	}
	m.logger.Info("Restore plan resolved.", "restore_id", restoreID,
		"manifest", plan.ManifestPath.RemoteKey(), "files", len(plan.Entries), "total_size", plan.TotalSize)

	return m.executor.Execute(ctx, restoreID, plan)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
