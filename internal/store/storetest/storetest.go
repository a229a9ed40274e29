// Package storetest holds the behavioral suite every store.Store implementation must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/sheetsync-server/internal/status"
	"github.com/stacklok/sheetsync-server/internal/store"
	"github.com/stacklok/sheetsync-server/internal/table"
)

// Factory returns a fresh, empty store for one subtest
type Factory func(t *testing.T) store.Store

// NewTable returns a table owned by owner with two source columns
func NewTable(owner string) *table.Table {
	return &table.Table{
		Owner:         owner,
		Name:          "Members",
		SourceLocator: "https://docs.google.com/spreadsheets/d/1AbCdEfGhIjKlMnOpQrStUvWxYz/edit",
		SourceColumns: []table.Column{
			{Name: "Name", Kind: table.KindText, Origin: table.OriginSource},
			{Name: "JoinDate", Kind: table.KindDate, Origin: table.OriginSource},
		},
	}
}

// Run exercises the full Store contract against stores produced by newStore
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("create and get", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		tbl := NewTable("alice")
		require.NoError(t, s.CreateTable(ctx, tbl))
		require.NotEmpty(t, tbl.ID)
		require.False(t, tbl.CreatedAt.IsZero())

		got, err := s.GetTable(ctx, tbl.ID)
		require.NoError(t, err)
		assert.Equal(t, tbl.ID, got.ID)
		assert.Equal(t, "alice", got.Owner)
		assert.Equal(t, "Members", got.Name)
		assert.Equal(t, tbl.SourceLocator, got.SourceLocator)
		assert.Equal(t, tbl.SourceColumns, got.SourceColumns)
		assert.Empty(t, got.DashboardColumns)
		assert.Nil(t, got.LastSyncedAt)
		assert.Nil(t, got.SyncStatus)
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := newStore(t).GetTable(context.Background(), "does-not-exist")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("list by owner", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		var aliceIDs []string
		for i, owner := range []string{"alice", "bob", "alice"} {
			tbl := NewTable(owner)
			tbl.Name = fmt.Sprintf("t%d", i)
			tbl.CreatedAt = time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC)
			require.NoError(t, s.CreateTable(ctx, tbl))
			if owner == "alice" {
				aliceIDs = append(aliceIDs, tbl.ID)
			}
		}

		mine, err := s.ListTables(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, mine, 2)
		assert.Equal(t, aliceIDs, []string{mine[0].ID, mine[1].ID})

		all, err := s.ListTables(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 3)

		none, err := s.ListTables(ctx, "carol")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("delete", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		tbl := NewTable("alice")
		require.NoError(t, s.CreateTable(ctx, tbl))

		require.NoError(t, s.DeleteTable(ctx, tbl.ID))
		_, err := s.GetTable(ctx, tbl.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.ErrorIs(t, s.DeleteTable(ctx, tbl.ID), store.ErrNotFound)
	})

	t.Run("add column", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		tbl := NewTable("alice")
		require.NoError(t, s.CreateTable(ctx, tbl))

		updated, err := s.AddColumn(ctx, tbl.ID, "Notes", table.KindText)
		require.NoError(t, err)
		assert.Equal(t, []table.Column{{Name: "Notes", Kind: table.KindText, Origin: table.OriginDashboard}},
			updated.DashboardColumns)

		_, err = s.AddColumn(ctx, tbl.ID, "Name", table.KindText)
		assert.ErrorIs(t, err, table.ErrDuplicateColumnName)
		_, err = s.AddColumn(ctx, tbl.ID, "Notes", table.KindDate)
		assert.ErrorIs(t, err, table.ErrDuplicateColumnName)
		_, err = s.AddColumn(ctx, "missing", "X", table.KindText)
		assert.ErrorIs(t, err, store.ErrNotFound)

		got, err := s.GetTable(ctx, tbl.ID)
		require.NoError(t, err)
		assert.Len(t, got.DashboardColumns, 1)
		assert.Equal(t, []string{"Name", "JoinDate", "Notes"}, names(table.MergedColumns(got)))
	})

	t.Run("concurrent add column keeps names unique", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		tbl := NewTable("alice")
		require.NoError(t, s.CreateTable(ctx, tbl))

		const workers = 8
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.AddColumn(ctx, tbl.ID, "Status", table.KindText)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		var ok int
		for err := range errs {
			if err == nil {
				ok++
				continue
			}
			assert.ErrorIs(t, err, table.ErrDuplicateColumnName)
		}
		assert.Equal(t, 1, ok)

		got, err := s.GetTable(ctx, tbl.ID)
		require.NoError(t, err)
		assert.Len(t, got.DashboardColumns, 1)
	})

	t.Run("sync bookkeeping", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		tbl := NewTable("alice")
		require.NoError(t, s.CreateTable(ctx, tbl))

		at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, s.UpdateLastSynced(ctx, tbl.ID, at))

		st := &status.SyncStatus{
			Phase:        status.SyncPhaseFailed,
			Message:      "spreadsheet not found",
			Reason:       status.ReasonInvalidLocator,
			Permanent:    true,
			AttemptCount: 2,
			LastAttempt:  &at,
			RowCount:     0,
		}
		require.NoError(t, s.UpdateSyncStatus(ctx, tbl.ID, st))

		got, err := s.GetTable(ctx, tbl.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastSyncedAt)
		assert.True(t, at.Equal(*got.LastSyncedAt))
		require.NotNil(t, got.SyncStatus)
		assert.Equal(t, status.SyncPhaseFailed, got.SyncStatus.Phase)
		assert.Equal(t, status.ReasonInvalidLocator, got.SyncStatus.Reason)
		assert.True(t, got.SyncStatus.Halted())
		assert.Equal(t, 2, got.SyncStatus.AttemptCount)

		assert.ErrorIs(t, s.UpdateLastSynced(ctx, "missing", at), store.ErrNotFound)
		assert.ErrorIs(t, s.UpdateSyncStatus(ctx, "missing", st), store.ErrNotFound)
	})

	t.Run("returned tables are copies", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		tbl := NewTable("alice")
		require.NoError(t, s.CreateTable(ctx, tbl))

		got, err := s.GetTable(ctx, tbl.ID)
		require.NoError(t, err)
		got.SourceColumns[0].Name = "mutated"

		again, err := s.GetTable(ctx, tbl.ID)
		require.NoError(t, err)
		assert.Equal(t, "Name", again.SourceColumns[0].Name)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, newStore(t).Ping(context.Background()))
	})
}

func names(cols []table.Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}
