// Package ws serves the WebSocket endpoint that pushes table snapshots to browsers.
package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/stacklok/sheetsync-server/internal/api/common"
	"github.com/stacklok/sheetsync-server/internal/auth"
	"github.com/stacklok/sheetsync-server/internal/fanout"
)

const (
	// DefaultBufferSize is the number of pending messages kept per connection
	DefaultBufferSize = 16

	writeTimeout = 10 * time.Second
	readLimit    = 64 << 10
)

// Groups is the part of the fan-out registry the handler manages memberships with
type Groups interface {
	Join(tableID string, sub fanout.Subscriber)
	LeaveTable(tableID string, sub fanout.Subscriber)
	Leave(sub fanout.Subscriber)
}

// Access decides whether a principal may subscribe to a table
type Access interface {
	CanView(ctx context.Context, principal, tableID string) error
}

// Handler upgrades requests to WebSocket connections and relays table updates
type Handler struct {
	groups         Groups
	access         Access
	originPatterns []string
	bufferSize     int
}

// Option configures a Handler
type Option func(*Handler)

// WithOriginPatterns allows cross-origin connections from hosts matching the patterns
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) {
		h.originPatterns = append(h.originPatterns, patterns...)
	}
}

// WithBufferSize sets how many messages may queue for a connection before it is closed as too slow
func WithBufferSize(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

// NewHandler creates the WebSocket handler
func NewHandler(groups Groups, access Access, opts ...Option) *Handler {
	h := &Handler{
		groups:     groups,
		access:     access,
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok || principal == "" {
		common.WriteErrorResponse(w, "authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()
	conn.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := newSubscriber(uuid.NewString(), h.bufferSize)
	defer h.groups.Leave(sub)

	slog.Debug("Subscriber connected", "subscriber", sub.ID(), "principal", principal)

	go h.writeLoop(ctx, cancel, conn, sub)

	err = h.readLoop(ctx, conn, sub, principal)
	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure, status == websocket.StatusGoingAway:
		slog.Debug("Subscriber disconnected", "subscriber", sub.ID())
	case errors.Is(err, context.Canceled):
		slog.Debug("Subscriber connection ended", "subscriber", sub.ID())
	default:
		slog.Info("Subscriber connection failed", "subscriber", sub.ID(), "error", err)
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, sub *subscriber, principal string) error {
	for {
		var msg ClientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return err
		}

		switch msg.Type {
		case TypeJoinTable:
			if msg.TableID == "" {
				sub.reply(ctx, Reply{Type: TypeError, Error: "tableId is required"})
				continue
			}
			if err := h.access.CanView(ctx, principal, msg.TableID); err != nil {
				sub.reply(ctx, Reply{Type: TypeError, TableID: msg.TableID, Error: joinError(err)})
				continue
			}
			h.groups.Join(msg.TableID, sub)
			// A delete that closed the group between the check and the join
			// would otherwise leave sub in a group nothing will ever close
			if err := h.access.CanView(ctx, principal, msg.TableID); err != nil {
				h.groups.LeaveTable(msg.TableID, sub)
				sub.reply(ctx, Reply{Type: TypeError, TableID: msg.TableID, Error: joinError(err)})
				continue
			}
			sub.reply(ctx, Reply{Type: TypeJoined, TableID: msg.TableID})
		case TypeLeaveTable:
			h.groups.LeaveTable(msg.TableID, sub)
		default:
			sub.reply(ctx, Reply{Type: TypeError, Error: "unknown message type " + msg.Type})
		}
	}
}

func (*Handler) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sub *subscriber) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.overflow:
			slog.Warn("Closing slow subscriber", "subscriber", sub.ID())
			_ = conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
			return
		case msg := <-sub.out:
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, msg)
			wcancel()
			if err != nil {
				slog.Debug("Failed to write to subscriber", "subscriber", sub.ID(), "error", err)
				return
			}
		}
	}
}

// joinError turns a CanView failure into a message safe to show the client
func joinError(err error) string {
	switch common.StatusFromError(err) {
	case http.StatusNotFound:
		return "table not found"
	case http.StatusForbidden:
		return "forbidden"
	default:
		slog.Error("Join check failed", "error", err)
		return "internal error"
	}
}
