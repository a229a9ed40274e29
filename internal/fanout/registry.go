// Package fanout keeps track of which subscribers are watching which table
// and delivers table snapshots to them.
package fanout

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stacklok/sheetsync-server/internal/table"
	"github.com/stacklok/sheetsync-server/internal/telemetry"
)

// Snapshot is the full row set produced by one successful fetch of a table
type Snapshot struct {
	TableID  string      `json:"tableId"`
	Seq      uint64      `json:"seq"`
	Rows     []table.Row `json:"rows"`
	SyncedAt time.Time   `json:"syncedAt"`
}

// Subscriber is a client channel that can be joined to table groups.
// Send must not block; returning false reports that the subscriber cannot keep
// up, and the registry removes it from every group.
type Subscriber interface {
	ID() string
	Send(snap Snapshot) bool
}

// Publisher is the side of the registry used by producers of snapshots
type Publisher interface {
	Broadcast(tableID string, snap Snapshot)
}

type group struct {
	// mu serializes deliveries so snapshots reach each member in production order
	mu      sync.Mutex
	members map[string]Subscriber
}

// Registry maps table ids to their subscriber groups.
// Lock order is Registry.mu before group.mu.
type Registry struct {
	mu          sync.Mutex
	groups      map[string]*group
	memberships map[string]map[string]struct{}

	metrics *telemetry.FanoutMetrics
}

// Option configures a Registry
type Option func(*Registry)

// WithMetrics records delivery counters on m
func WithMetrics(m *telemetry.FanoutMetrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// NewRegistry creates an empty registry
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		groups:      make(map[string]*group),
		memberships: make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Join adds sub to the group of tableID. Joining twice has no further effect.
func (r *Registry) Join(tableID string, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[tableID]
	if !ok {
		g = &group{members: make(map[string]Subscriber)}
		r.groups[tableID] = g
	}

	g.mu.Lock()
	g.members[sub.ID()] = sub
	g.mu.Unlock()

	tables, ok := r.memberships[sub.ID()]
	if !ok {
		tables = make(map[string]struct{})
		r.memberships[sub.ID()] = tables
	}
	tables[tableID] = struct{}{}
}

// LeaveTable removes sub from a single table group
func (r *Registry) LeaveTable(tableID string, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(tableID, sub.ID())
	if tables, ok := r.memberships[sub.ID()]; ok {
		delete(tables, tableID)
		if len(tables) == 0 {
			delete(r.memberships, sub.ID())
		}
	}
}

// Leave removes sub from every group it has joined
func (r *Registry) Leave(sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for tableID := range r.memberships[sub.ID()] {
		r.removeLocked(tableID, sub.ID())
	}
	delete(r.memberships, sub.ID())
}

// Close drops the whole group of tableID, used when the table is deleted
func (r *Registry) Close(tableID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[tableID]
	if !ok {
		return
	}
	g.mu.Lock()
	for subID := range g.members {
		if tables, ok := r.memberships[subID]; ok {
			delete(tables, tableID)
			if len(tables) == 0 {
				delete(r.memberships, subID)
			}
		}
	}
	g.members = make(map[string]Subscriber)
	g.mu.Unlock()
	delete(r.groups, tableID)
}

// removeLocked must be called with r.mu held
func (r *Registry) removeLocked(tableID, subID string) {
	g, ok := r.groups[tableID]
	if !ok {
		return
	}
	g.mu.Lock()
	delete(g.members, subID)
	empty := len(g.members) == 0
	g.mu.Unlock()
	if empty {
		delete(r.groups, tableID)
	}
}

// Broadcast delivers snap to every subscriber of tableID exactly once.
// A table without subscribers is a no-op. Subscribers that refuse the
// snapshot are evicted from all their groups.
func (r *Registry) Broadcast(tableID string, snap Snapshot) {
	r.mu.Lock()
	g, ok := r.groups[tableID]
	if !ok {
		r.mu.Unlock()
		return
	}
	// Take the group lock before releasing the registry lock so two
	// broadcasts for the same table cannot swap order.
	g.mu.Lock()
	r.mu.Unlock()

	var (
		delivered, dropped int64
		evicted            []Subscriber
	)
	for _, sub := range g.members {
		if sub.Send(snap) {
			delivered++
			continue
		}
		dropped++
		evicted = append(evicted, sub)
	}
	g.mu.Unlock()
	r.metrics.RecordBroadcast(context.Background(), delivered, dropped)

	for _, sub := range evicted {
		r.Leave(sub)
		slog.Warn("Evicted slow subscriber",
			"table_id", tableID,
			"subscriber", sub.ID(),
			"seq", snap.Seq)
	}
}

// Members returns the number of subscribers joined to tableID
func (r *Registry) Members(tableID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[tableID]
	if !ok {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.members)
}

// Tables returns the ids of the tables sub has joined
func (r *Registry) Tables(sub Subscriber) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.memberships[sub.ID()]))
	for id := range r.memberships[sub.ID()] {
		ids = append(ids, id)
	}
	return ids
}
