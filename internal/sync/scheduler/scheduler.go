// Package scheduler runs one polling task per table. Each tick re-reads the
// table, fetches its rows from the sheet and broadcasts the snapshot to the
// table's subscribers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"

	"github.com/stacklok/sheetsync-server/internal/fanout"
	"github.com/stacklok/sheetsync-server/internal/sheets"
	"github.com/stacklok/sheetsync-server/internal/store"
	"github.com/stacklok/sheetsync-server/internal/table"
	"github.com/stacklok/sheetsync-server/internal/telemetry"
)

// TracerName is the name used for the scheduler tracer
const TracerName = "github.com/stacklok/sheetsync-server/scheduler"

// DefaultInterval is the cadence of tasks that Refresh resumes, unless WithInterval is given
const DefaultInterval = 10 * time.Second

// ErrShutdown is returned by Start once Shutdown has been called
var ErrShutdown = errors.New("scheduler is shut down")

// Fetcher retrieves the current rows of a sheet shaped by columns
type Fetcher interface {
	Fetch(ctx context.Context, locator string, columns []table.Column) ([]table.Row, error)
}

type task struct {
	cancel   context.CancelFunc
	done     chan struct{}
	locator  string
	interval time.Duration
}

// Scheduler owns the polling tasks of every table.
// Lifecycle calls for one table id are serialized; different ids never wait on each other.
type Scheduler struct {
	clock     clock.WithTicker
	store     store.Store
	fetcher   Fetcher
	publisher fanout.Publisher
	metrics   *telemetry.SyncMetrics
	tracer    trace.Tracer
	interval  time.Duration

	// lifecycle guards Start and Stop per table id
	lifecycle *keyMutex
	// cycles keeps ticks and refreshes of one table from overlapping
	cycles *keyMutex

	mu     sync.Mutex
	tasks  map[string]*task
	closed bool

	seq atomic.Uint64
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock replaces the wall clock, mostly for tests
func WithClock(c clock.WithTicker) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithInterval sets the cadence of tasks that Refresh resumes
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithMetrics records tick metrics on m
func WithMetrics(m *telemetry.SyncMetrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithTracer traces every sync cycle with t
func WithTracer(t trace.Tracer) Option {
	return func(s *Scheduler) {
		s.tracer = t
	}
}

// New creates a scheduler with no running tasks
func New(st store.Store, fetcher Fetcher, publisher fanout.Publisher, opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:     clock.RealClock{},
		store:     st,
		fetcher:   fetcher,
		publisher: publisher,
		interval:  DefaultInterval,
		lifecycle: newKeyMutex(),
		cycles:    newKeyMutex(),
		tasks:     make(map[string]*task),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start installs a polling task for tableID that ticks every interval.
// An existing task for the same id is stopped first, so calling Start again
// with the same or new parameters always leaves exactly one task.
func (s *Scheduler) Start(tableID, locator string, interval time.Duration) error {
	if _, err := sheets.ParseLocator(locator); err != nil {
		return err
	}
	if interval <= 0 {
		return fmt.Errorf("sync interval must be positive, got %s", interval)
	}

	unlock := s.lifecycle.Lock(tableID)
	defer unlock()

	return s.startLocked(tableID, locator, interval)
}

// startLocked must be called with the lifecycle lock of tableID held
func (s *Scheduler) startLocked(tableID, locator string, interval time.Duration) error {
	s.stopLocked(tableID)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrShutdown
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		cancel:   cancel,
		done:     make(chan struct{}),
		locator:  locator,
		interval: interval,
	}
	s.tasks[tableID] = t
	s.mu.Unlock()

	// The ticker is armed before Start returns so the first tick is due
	// exactly one interval from now.
	ticker := s.clock.NewTicker(interval)
	go s.run(ctx, tableID, t, ticker)
	return nil
}

// Stop cancels the task of tableID and waits for it to exit.
// No fetch or broadcast for the table happens after Stop returns. Stopping an
// unknown id is a no-op.
func (s *Scheduler) Stop(tableID string) {
	unlock := s.lifecycle.Lock(tableID)
	defer unlock()

	s.stopLocked(tableID)
}

// Remove stops the task of tableID and runs remove before any other
// lifecycle call or refresh for the table can proceed. Deleting the stored
// table inside remove guarantees nothing is published for it afterwards.
func (s *Scheduler) Remove(tableID string, remove func() error) error {
	unlock := s.lifecycle.Lock(tableID)
	defer unlock()

	s.stopLocked(tableID)
	return remove()
}

// stopLocked must be called with the lifecycle lock of tableID held
func (s *Scheduler) stopLocked(tableID string) {
	s.mu.Lock()
	t, ok := s.tasks[tableID]
	if ok {
		delete(s.tasks, tableID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	t.cancel()
	<-t.done

	// Wait out a refresh that is still running for this table
	s.cycles.Lock(tableID)()
	slog.Info("Stopped table sync", "table_id", tableID)
}

// retire drops t from the task map if it is still the installed task for tableID
func (s *Scheduler) retire(tableID string, t *task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tasks[tableID] == t {
		delete(s.tasks, tableID)
	}
}

// Running reports whether a task is installed for tableID
func (s *Scheduler) Running(tableID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.tasks[tableID]
	return ok
}

// Len returns the number of installed tasks
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.tasks)
}

// Refresh runs one sync cycle for tableID right away, serialized with its ticks
// and lifecycle calls, and returns the cycle's error. It works whether or not a
// task is installed. The task follows the outcome: a permanent failure stops
// it, and a success on a halted table without a task installs one again.
func (s *Scheduler) Refresh(ctx context.Context, tableID string) error {
	unlock := s.lifecycle.Lock(tableID)
	defer unlock()

	s.mu.Lock()
	t, running := s.tasks[tableID]
	s.mu.Unlock()

	var (
		locator string
		halted  bool
	)
	if running {
		locator = t.locator
	} else if tbl, err := s.store.GetTable(ctx, tableID); err == nil {
		halted = tbl.SyncStatus.Halted()
	}

	keep, err := s.runCycle(ctx, tableID, locator)
	switch {
	case ctx.Err() != nil:
		// The caller gave up; that says nothing about the table
	case running && !keep:
		s.stopLocked(tableID)
	case !running && halted && err == nil:
		tbl, getErr := s.store.GetTable(ctx, tableID)
		if getErr != nil {
			return err
		}
		if startErr := s.startLocked(tableID, tbl.SourceLocator, s.interval); startErr != nil {
			slog.Warn("Failed to resume sync after refresh", "table_id", tableID, "error", startErr)
		} else {
			slog.Info("Resumed halted table after successful refresh", "table_id", tableID)
		}
	}
	return err
}

// Shutdown stops every task and rejects later calls to Start
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.closed = true
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Stop(id)
	}
	slog.Info("Table sync scheduler stopped", "tasks", len(ids))
}

func (s *Scheduler) run(ctx context.Context, tableID string, t *task, ticker clock.Ticker) {
	defer close(t.done)
	defer ticker.Stop()

	s.metrics.TaskStarted(context.Background())
	defer s.metrics.TaskEnded(context.Background())

	slog.Info("Started table sync", "table_id", tableID, "interval", t.interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			// Both cases can be ready at once; cancellation wins
			if ctx.Err() != nil {
				return
			}
			if keep, _ := s.runCycle(ctx, tableID, t.locator); !keep {
				s.retire(tableID, t)
				return
			}
		}
	}
}
