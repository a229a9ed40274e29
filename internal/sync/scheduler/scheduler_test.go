package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/stacklok/sheetsync-server/internal/fanout"
	"github.com/stacklok/sheetsync-server/internal/sheets"
	"github.com/stacklok/sheetsync-server/internal/status"
	"github.com/stacklok/sheetsync-server/internal/store"
	"github.com/stacklok/sheetsync-server/internal/store/memory"
	"github.com/stacklok/sheetsync-server/internal/table"
)

const (
	testLocator  = "https://docs.google.com/spreadsheets/d/1AbCdEfGhIjKlMnOpQrStUvWxYz/edit"
	testInterval = 10 * time.Second

	eventually = 2 * time.Second
	poll       = 5 * time.Millisecond
	quiet      = 100 * time.Millisecond
)

// fakeFetcher counts calls and can hold every fetch until gate is closed
type fakeFetcher struct {
	mu          sync.Mutex
	calls       int
	inflight    int
	maxInflight int
	columns     [][]table.Column
	rows        []table.Row
	err         error
	gate        chan struct{}
	started     chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		rows:    []table.Row{{"Name": "Alice", "JoinDate": "2024-01-05"}},
		started: make(chan struct{}, 16),
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, _ string, columns []table.Column) ([]table.Row, error) {
	f.mu.Lock()
	f.calls++
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	f.columns = append(f.columns, columns)
	gate, rows, err := f.gate, f.rows, f.err
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	f.started <- struct{}{}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return rows, err
}

func (f *fakeFetcher) set(rows []table.Row, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows, f.err = rows, err
}

func (f *fakeFetcher) hold() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	return f.gate
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingPublisher struct {
	mu    sync.Mutex
	snaps []fanout.Snapshot
}

func (p *recordingPublisher) Broadcast(_ string, snap fanout.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snaps = append(p.snaps, snap)
}

func (p *recordingPublisher) snapshots() []fanout.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]fanout.Snapshot(nil), p.snaps...)
}

type harness struct {
	clock     *clocktesting.FakeClock
	store     *memory.Store
	fetcher   *fakeFetcher
	publisher *recordingPublisher
	sched     *Scheduler
	tableID   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:     clocktesting.NewFakeClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)),
		store:     memory.New(),
		fetcher:   newFakeFetcher(),
		publisher: &recordingPublisher{},
	}
	h.sched = New(h.store, h.fetcher, h.publisher, WithClock(h.clock))
	t.Cleanup(h.sched.Shutdown)

	tbl := &table.Table{
		Owner:         "alice",
		Name:          "Members",
		SourceLocator: testLocator,
		SourceColumns: []table.Column{
			{Name: "Name", Kind: table.KindText, Origin: table.OriginSource},
			{Name: "JoinDate", Kind: table.KindDate, Origin: table.OriginSource},
		},
	}
	require.NoError(t, h.store.CreateTable(context.Background(), tbl))
	h.tableID = tbl.ID
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.sched.Start(h.tableID, testLocator, testInterval))
}

func (h *harness) tick() {
	h.clock.Step(testInterval)
}

func (h *harness) syncStatus(t *testing.T) *status.SyncStatus {
	t.Helper()
	tbl, err := h.store.GetTable(context.Background(), h.tableID)
	require.NoError(t, err)
	return tbl.SyncStatus
}

func (h *harness) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-h.fetcher.started:
	case <-time.After(eventually):
		t.Fatal("fetch did not start")
	}
}

func TestScheduler_TickBroadcastsAndRecords(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.start(t)

	h.tick()
	require.Eventually(t, func() bool { return len(h.publisher.snapshots()) == 1 }, eventually, poll)

	snap := h.publisher.snapshots()[0]
	assert.Equal(t, h.tableID, snap.TableID)
	assert.Equal(t, uint64(1), snap.Seq)
	assert.Equal(t, []table.Row{{"Name": "Alice", "JoinDate": "2024-01-05"}}, snap.Rows)
	assert.True(t, h.clock.Now().Equal(snap.SyncedAt))

	require.Eventually(t, func() bool {
		st := h.syncStatus(t)
		return st != nil && st.Phase == status.SyncPhaseComplete
	}, eventually, poll)

	tbl, err := h.store.GetTable(context.Background(), h.tableID)
	require.NoError(t, err)
	require.NotNil(t, tbl.LastSyncedAt)
	assert.True(t, h.clock.Now().Equal(*tbl.LastSyncedAt))
	assert.Equal(t, 1, tbl.SyncStatus.RowCount)
	assert.Len(t, tbl.SyncStatus.LastSyncHash, 64)

	h.tick()
	require.Eventually(t, func() bool { return len(h.publisher.snapshots()) == 2 }, eventually, poll)
	assert.Greater(t, h.publisher.snapshots()[1].Seq, snap.Seq)
}

func TestScheduler_NoTickBeforeInterval(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.start(t)

	h.clock.Step(testInterval - time.Second)
	assert.Never(t, func() bool { return h.fetcher.callCount() > 0 }, quiet, poll)
}

func TestScheduler_StartIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.start(t)
	h.start(t)

	assert.Equal(t, 1, h.sched.Len())
	assert.True(t, h.sched.Running(h.tableID))

	h.tick()
	require.Eventually(t, func() bool { return h.fetcher.callCount() == 1 }, eventually, poll)
	assert.Never(t, func() bool { return h.fetcher.callCount() > 1 }, quiet, poll)
}

func TestScheduler_StartRejectsBadInput(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	err := h.sched.Start(h.tableID, "not a sheet", testInterval)
	assert.ErrorIs(t, err, sheets.ErrInvalidLocator)

	err = h.sched.Start(h.tableID, testLocator, 0)
	assert.ErrorContains(t, err, "must be positive")
	assert.Zero(t, h.sched.Len())
}

func TestScheduler_TicksNeverOverlap(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	gate := h.fetcher.hold()
	h.start(t)

	h.tick()
	h.waitStarted(t)

	// Further ticks and a refresh pile up behind the outstanding fetch
	h.tick()
	h.tick()
	refreshed := make(chan error, 1)
	go func() { refreshed <- h.sched.Refresh(context.Background(), h.tableID) }()

	assert.Never(t, func() bool { return h.fetcher.callCount() > 1 }, quiet, poll)

	close(gate)
	require.NoError(t, <-refreshed)
	// The first tick, one coalesced pending tick and the refresh
	require.Eventually(t, func() bool { return h.fetcher.callCount() == 3 }, eventually, poll)
	require.Eventually(t, func() bool { return len(h.publisher.snapshots()) == 3 }, eventually, poll)

	h.fetcher.mu.Lock()
	assert.Equal(t, 1, h.fetcher.maxInflight)
	h.fetcher.mu.Unlock()

	snaps := h.publisher.snapshots()
	for i := 1; i < len(snaps); i++ {
		assert.Greater(t, snaps[i].Seq, snaps[i-1].Seq, "snapshots are published in production order")
	}
}

func TestScheduler_StopBeforePendingTick(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.start(t)

	h.sched.Stop(h.tableID)
	assert.False(t, h.sched.Running(h.tableID))

	h.tick()
	assert.Never(t, func() bool { return h.fetcher.callCount() > 0 }, quiet, poll)
	assert.Empty(t, h.publisher.snapshots())

	// Stopping again is a no-op
	h.sched.Stop(h.tableID)
	h.sched.Stop("unknown")
}

func TestScheduler_StopDuringFetch(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	gate := h.fetcher.hold()
	h.start(t)

	h.tick()
	h.waitStarted(t)

	h.sched.Stop(h.tableID)
	close(gate)

	assert.False(t, h.sched.Running(h.tableID))
	assert.Empty(t, h.publisher.snapshots())
	assert.Nil(t, h.syncStatus(t))
}

func TestScheduler_DeleteDuringFetch(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	gate := h.fetcher.hold()
	h.start(t)

	h.tick()
	h.waitStarted(t)

	require.NoError(t, h.store.DeleteTable(context.Background(), h.tableID))
	close(gate)

	require.Eventually(t, func() bool { return !h.sched.Running(h.tableID) }, eventually, poll)
	assert.Empty(t, h.publisher.snapshots())
	assert.Equal(t, 1, h.fetcher.callCount())
}

func TestScheduler_DeletedBetweenTicks(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.start(t)

	require.NoError(t, h.store.DeleteTable(context.Background(), h.tableID))
	h.tick()

	require.Eventually(t, func() bool { return !h.sched.Running(h.tableID) }, eventually, poll)
	assert.Zero(t, h.fetcher.callCount())
}

func TestScheduler_TransientFailureKeepsPolling(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	outage := &sheets.SourceError{Op: "read values", Kind: sheets.ErrSourceUnavailable}
	h.fetcher.set(nil, outage)
	h.start(t)

	for attempt := 1; attempt <= 2; attempt++ {
		h.tick()
		require.Eventually(t, func() bool {
			st := h.syncStatus(t)
			return st != nil && st.AttemptCount == attempt
		}, eventually, poll)

		st := h.syncStatus(t)
		assert.Equal(t, status.SyncPhaseFailed, st.Phase)
		assert.Equal(t, status.ReasonSourceUnavailable, st.Reason)
		assert.False(t, st.Halted())
		assert.True(t, h.sched.Running(h.tableID))
	}
	assert.Empty(t, h.publisher.snapshots())

	h.fetcher.set([]table.Row{}, nil)
	h.tick()
	require.Eventually(t, func() bool {
		st := h.syncStatus(t)
		return st != nil && st.Phase == status.SyncPhaseComplete
	}, eventually, poll)
	assert.Zero(t, h.syncStatus(t).AttemptCount)
	require.Len(t, h.publisher.snapshots(), 1)
	assert.Empty(t, h.publisher.snapshots()[0].Rows)
}

func TestScheduler_PermanentFailureHaltsTask(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		reason status.FailureReason
	}{
		{
			name:   "schema mismatch",
			err:    &sheets.SourceError{Op: "validate schema", Kind: sheets.ErrSchemaMismatch},
			reason: status.ReasonSchemaMismatch,
		},
		{
			name:   "spreadsheet gone",
			err:    &sheets.SourceError{Op: "read values", Kind: sheets.ErrInvalidLocator},
			reason: status.ReasonInvalidLocator,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			h.fetcher.set(nil, tt.err)
			h.start(t)

			h.tick()
			require.Eventually(t, func() bool { return !h.sched.Running(h.tableID) }, eventually, poll)

			st := h.syncStatus(t)
			require.NotNil(t, st)
			assert.True(t, st.Halted())
			assert.Equal(t, tt.reason, st.Reason)

			h.tick()
			assert.Never(t, func() bool { return h.fetcher.callCount() > 1 }, quiet, poll)
		})
	}
}

func TestScheduler_ReadsCurrentColumnsEachTick(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.start(t)

	h.tick()
	require.Eventually(t, func() bool { return h.fetcher.callCount() == 1 }, eventually, poll)

	_, err := h.store.AddColumn(context.Background(), h.tableID, "Notes", table.KindText)
	require.NoError(t, err)

	h.tick()
	require.Eventually(t, func() bool { return h.fetcher.callCount() == 2 }, eventually, poll)

	h.fetcher.mu.Lock()
	defer h.fetcher.mu.Unlock()
	assert.Len(t, h.fetcher.columns[0], 2)
	require.Len(t, h.fetcher.columns[1], 3)
	assert.Equal(t, "Notes", h.fetcher.columns[1][2].Name)
}

func TestScheduler_Refresh(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	require.NoError(t, h.sched.Refresh(context.Background(), h.tableID))
	require.Len(t, h.publisher.snapshots(), 1)
	assert.False(t, h.sched.Running(h.tableID), "refresh does not install a task")

	err := h.sched.Refresh(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	h.fetcher.set(nil, &sheets.SourceError{Op: "read values", Kind: sheets.ErrSourceUnavailable})
	err = h.sched.Refresh(context.Background(), h.tableID)
	assert.ErrorIs(t, err, sheets.ErrSourceUnavailable)
}

func TestScheduler_RefreshPermanentFailureStopsTask(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.start(t)

	h.fetcher.set(nil, &sheets.SourceError{Op: "read values", Kind: sheets.ErrInvalidLocator})
	err := h.sched.Refresh(context.Background(), h.tableID)
	require.ErrorIs(t, err, sheets.ErrInvalidLocator)

	assert.False(t, h.sched.Running(h.tableID))
	st := h.syncStatus(t)
	require.NotNil(t, st)
	assert.True(t, st.Halted())

	h.tick()
	assert.Never(t, func() bool { return h.fetcher.callCount() > 1 }, quiet, poll)
}

func TestScheduler_RefreshResumesHaltedTable(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.fetcher.set(nil, &sheets.SourceError{Op: "validate schema", Kind: sheets.ErrSchemaMismatch})
	h.start(t)

	h.tick()
	require.Eventually(t, func() bool { return !h.sched.Running(h.tableID) }, eventually, poll)
	require.True(t, h.syncStatus(t).Halted())

	h.fetcher.set([]table.Row{{"Name": "Alice", "JoinDate": "2024-01-05"}}, nil)
	require.NoError(t, h.sched.Refresh(context.Background(), h.tableID))

	assert.True(t, h.sched.Running(h.tableID))
	st := h.syncStatus(t)
	require.NotNil(t, st)
	assert.Equal(t, status.SyncPhaseComplete, st.Phase)
	assert.False(t, st.Halted())

	h.tick()
	require.Eventually(t, func() bool { return h.fetcher.callCount() == 3 }, eventually, poll)
}

func TestScheduler_Remove(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.start(t)

	var removed bool
	err := h.sched.Remove(h.tableID, func() error {
		assert.False(t, h.sched.Running(h.tableID))
		removed = true
		return h.store.DeleteTable(context.Background(), h.tableID)
	})
	require.NoError(t, err)
	assert.True(t, removed)

	err = h.sched.Refresh(context.Background(), h.tableID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, h.publisher.snapshots())
	assert.Zero(t, h.fetcher.callCount())

	assert.ErrorIs(t, h.sched.Remove("other", func() error { return store.ErrNotFound }), store.ErrNotFound)
}

func TestScheduler_Shutdown(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, h.sched.Start(id, testLocator, testInterval))
	}
	require.Equal(t, 3, h.sched.Len())

	h.sched.Shutdown()
	assert.Zero(t, h.sched.Len())
	assert.ErrorIs(t, h.sched.Start("d", testLocator, testInterval), ErrShutdown)
}

func TestScheduler_ConcurrentLifecycle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	ids := []string{"t1", "t2", "t3", "t4"}
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := ids[i%len(ids)]
			if i%3 == 0 {
				h.sched.Stop(id)
				return
			}
			assert.NoError(t, h.sched.Start(id, testLocator, testInterval))
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, h.sched.Len(), len(ids))
	for _, id := range ids {
		h.sched.Stop(id)
	}
	assert.Zero(t, h.sched.Len())
	assert.Zero(t, h.sched.lifecycle.size(), "idle key locks are released")
}

func TestKeyMutex(t *testing.T) {
	t.Parallel()

	k := newKeyMutex()
	unlockA := k.Lock("a")

	// A different key is never blocked by "a"
	unlockB := k.Lock("b")
	unlockB()

	acquired := make(chan struct{})
	go func() {
		unlock := k.Lock("a")
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder entered while the key was locked")
	case <-time.After(quiet):
	}

	unlockA()
	select {
	case <-acquired:
	case <-time.After(eventually):
		t.Fatal("waiter never acquired the key")
	}
	require.Eventually(t, func() bool { return k.size() == 0 }, eventually, poll)
}
