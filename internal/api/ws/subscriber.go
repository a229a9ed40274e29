package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stacklok/sheetsync-server/internal/fanout"
	"github.com/stacklok/sheetsync-server/internal/table"
)

// Event and reply types carried in the "type" field
const (
	TypeJoinTable        = "joinTable"
	TypeLeaveTable       = "leaveTable"
	TypeJoined           = "joined"
	TypeError            = "error"
	TypeTableDataUpdated = "tableDataUpdated"
)

// ClientMessage is sent by the browser to manage its table subscriptions
type ClientMessage struct {
	Type    string `json:"type"`
	TableID string `json:"tableId"`
}

// Reply answers a ClientMessage
type Reply struct {
	Type    string `json:"type"`
	TableID string `json:"tableId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TableDataUpdated is pushed to every subscriber of a table after each successful sync
type TableDataUpdated struct {
	Type     string      `json:"type"`
	TableID  string      `json:"tableId"`
	Seq      uint64      `json:"seq"`
	Rows     []table.Row `json:"rows"`
	SyncedAt time.Time   `json:"syncedAt"`
}

// subscriber is one WebSocket connection as seen by the fan-out registry.
// Everything written to the socket goes through out so a single goroutine owns writes.
// Once a snapshot does not fit in out the subscriber is marked slow for good and
// overflow is closed so the write loop can drop the connection.
type subscriber struct {
	id       string
	out      chan any
	slow     atomic.Bool
	overflow chan struct{}
	once     sync.Once
}

var _ fanout.Subscriber = (*subscriber)(nil)

func newSubscriber(id string, buffer int) *subscriber {
	return &subscriber{
		id:       id,
		out:      make(chan any, buffer),
		overflow: make(chan struct{}),
	}
}

func (s *subscriber) ID() string {
	return s.id
}

// Send queues the snapshot without blocking. A full buffer marks the
// subscriber slow and every later Send fails.
func (s *subscriber) Send(snap fanout.Snapshot) bool {
	if s.slow.Load() {
		return false
	}
	rows := snap.Rows
	if rows == nil {
		rows = []table.Row{}
	}
	select {
	case s.out <- TableDataUpdated{
		Type:     TypeTableDataUpdated,
		TableID:  snap.TableID,
		Seq:      snap.Seq,
		Rows:     rows,
		SyncedAt: snap.SyncedAt,
	}:
		return true
	default:
		s.markSlow()
		return false
	}
}

func (s *subscriber) markSlow() {
	s.once.Do(func() {
		s.slow.Store(true)
		close(s.overflow)
	})
}

// reply queues a control reply, waiting for room unless ctx ends first
func (s *subscriber) reply(ctx context.Context, r Reply) {
	select {
	case s.out <- r:
	case <-ctx.Done():
	}
}
