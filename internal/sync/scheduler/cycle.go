package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/sheetsync-server/internal/fanout"
	"github.com/stacklok/sheetsync-server/internal/otel"
	"github.com/stacklok/sheetsync-server/internal/sheets"
	"github.com/stacklok/sheetsync-server/internal/status"
	"github.com/stacklok/sheetsync-server/internal/store"
	"github.com/stacklok/sheetsync-server/internal/table"
	"github.com/stacklok/sheetsync-server/internal/telemetry"
)

// runCycle performs one fetch and broadcast pass for tableID. An empty locator
// means the one stored on the table. It returns false when the table must not
// be polled again.
func (s *Scheduler) runCycle(ctx context.Context, tableID, locator string) (bool, error) {
	unlock := s.cycles.Lock(tableID)
	defer unlock()

	ctx, span := otel.StartSpan(ctx, s.tracer, "scheduler.cycle",
		trace.WithAttributes(otel.AttrTableID.String(tableID)))
	defer span.End()

	start := s.clock.Now()

	// Columns may have changed since the task started
	tbl, err := s.store.GetTable(ctx, tableID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Info("Table no longer exists, stopping sync", "table_id", tableID)
		s.finish(ctx, span, start, telemetry.OutcomeRetired, 0)
		return false, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, ctxErr
	}
	if err != nil {
		slog.Error("Failed to load table for sync", "table_id", tableID, "error", err)
		otel.RecordError(span, err)
		s.finish(ctx, span, start, telemetry.OutcomeTransient, 0)
		return true, err
	}
	if locator == "" {
		locator = tbl.SourceLocator
	}

	columns := table.MergedColumns(tbl)
	span.SetAttributes(otel.AttrColumnCount.Int(len(columns)))

	rows, err := s.fetcher.Fetch(ctx, locator, columns)
	if ctxErr := ctx.Err(); ctxErr != nil {
		// Stopped while fetching: nothing may be published for this table any more
		return false, ctxErr
	}
	if err != nil {
		otel.RecordError(span, err)
		return s.recordFailure(ctx, span, start, tbl, err)
	}

	now := s.clock.Now().UTC()
	if err := s.store.UpdateLastSynced(ctx, tableID, now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.Info("Table deleted during sync, dropping snapshot", "table_id", tableID)
			s.finish(ctx, span, start, telemetry.OutcomeRetired, 0)
			return false, err
		}
		slog.Error("Failed to record last sync time", "table_id", tableID, "error", err)
	}

	seq := s.seq.Add(1)
	span.SetAttributes(otel.AttrSyncSeq.Int64(int64(seq)))
	s.publisher.Broadcast(tableID, fanout.Snapshot{
		TableID:  tableID,
		Seq:      seq,
		Rows:     rows,
		SyncedAt: now,
	})

	hash := hashRows(rows)
	hashPreview := hash
	if len(hashPreview) > 8 {
		hashPreview = hashPreview[:8]
	}
	if prev := tbl.SyncStatus; prev != nil && prev.Phase == status.SyncPhaseComplete && prev.LastSyncHash == hash {
		slog.Debug("Sync completed, rows unchanged", "table_id", tableID, "rows", len(rows))
	} else {
		slog.Info("Sync completed successfully",
			"table_id", tableID,
			"rows", len(rows),
			"hash", hashPreview,
			"seq", seq)
	}

	s.writeStatus(ctx, tableID, &status.SyncStatus{
		Phase:        status.SyncPhaseComplete,
		Message:      "Sync completed successfully",
		LastAttempt:  &now,
		LastSyncTime: &now,
		LastSyncHash: hash,
		RowCount:     len(rows),
	})
	s.finish(ctx, span, start, telemetry.OutcomeSuccess, len(rows))
	return true, nil
}

// recordFailure stores a failed status for err. Source outages keep the task
// alive; a bad locator or schema halts it until the owner fixes the table.
func (s *Scheduler) recordFailure(
	ctx context.Context,
	span trace.Span,
	start time.Time,
	tbl *table.Table,
	err error,
) (bool, error) {
	now := s.clock.Now().UTC()
	st := &status.SyncStatus{
		Phase:        status.SyncPhaseFailed,
		Message:      err.Error(),
		LastAttempt:  &now,
		AttemptCount: 1,
	}
	if prev := tbl.SyncStatus; prev != nil {
		st.AttemptCount = prev.AttemptCount + 1
		st.LastSyncTime = prev.LastSyncTime
		st.LastSyncHash = prev.LastSyncHash
		st.RowCount = prev.RowCount
	}

	keep := true
	switch {
	case errors.Is(err, sheets.ErrInvalidLocator):
		st.Reason = status.ReasonInvalidLocator
		st.Permanent = true
		keep = false
	case errors.Is(err, sheets.ErrSchemaMismatch):
		st.Reason = status.ReasonSchemaMismatch
		st.Permanent = true
		keep = false
	case errors.Is(err, sheets.ErrSourceUnavailable):
		st.Reason = status.ReasonSourceUnavailable
	default:
		st.Reason = status.ReasonInternal
	}

	if keep {
		slog.Warn("Sync failed, will retry on next tick",
			"table_id", tbl.ID,
			"attempt", st.AttemptCount,
			"reason", st.Reason,
			"error", err)
		s.finish(ctx, span, start, telemetry.OutcomeTransient, 0)
	} else {
		slog.Error("Sync failed permanently, polling halted",
			"table_id", tbl.ID,
			"reason", st.Reason,
			"error", err)
		s.finish(ctx, span, start, telemetry.OutcomeHalted, 0)
	}

	if !s.writeStatus(ctx, tbl.ID, st) {
		keep = false
	}
	return keep, err
}

// writeStatus persists st and reports whether the table still exists
func (s *Scheduler) writeStatus(ctx context.Context, tableID string, st *status.SyncStatus) bool {
	err := s.store.UpdateSyncStatus(ctx, tableID, st)
	if errors.Is(err, store.ErrNotFound) {
		return false
	}
	if err != nil {
		slog.Error("Error updating sync status", "table_id", tableID, "error", err)
	}
	return true
}

func (s *Scheduler) finish(ctx context.Context, span trace.Span, start time.Time, outcome string, rows int) {
	span.SetAttributes(
		otel.AttrSyncOutcome.String(outcome),
		otel.AttrRowCount.Int(rows),
	)
	s.metrics.RecordTick(ctx, s.clock.Since(start), outcome, rows)
}

// hashRows fingerprints a snapshot so unchanged sheets can be told apart in logs and status
func hashRows(rows []table.Row) string {
	data, err := json.Marshal(rows)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
