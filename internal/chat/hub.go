package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Hub is the process-wide owner of the Connection Registry and Room Manager.
// All registry and room mutations go through the Hub behind a single lock,
// which serializes them against in-flight broadcasts so a connection is never
// fanned out to mid-teardown. Constructed once at process start; Shutdown
// closes every live connection.
type Hub struct {
	mu       sync.RWMutex
	registry *Registry
	rooms    *RoomManager
	closed   bool

	presence *PresenceTracker
	log      zerolog.Logger
}

func NewHub(presence *PresenceTracker, logger zerolog.Logger) *Hub {
	return &Hub{
		registry: NewRegistry(),
		rooms:    NewRoomManager(),
		presence: presence,
		log:      logger,
	}
}

// Register binds an authenticated connection into the registry and emits the
// offline -> online presence transition when it is the user's first. The
// transition is judged against the registry state before any duplicate-id
// replacement, so replacing a user's only connection is not a fresh online.
func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.markClosed()
		conn.transport.Close()
		return
	}
	first := !h.registry.IsOnline(conn.UserID)
	if prior := h.registry.Get(conn.ID); prior != nil && prior != conn {
		h.teardownLocked(prior)
	}
	h.registry.Register(conn)
	var failed []*Connection
	if first {
		failed = h.presenceLocked(h.roomsOfUserLocked(conn.UserID), conn.UserID, true)
	}
	h.mu.Unlock()

	h.log.Debug().Str("conn_id", conn.ID).Str("user_id", conn.UserID).Msg("connection registered")

	if first {
		h.presence.wentOnline(conn.UserID)
	}
	h.teardownFailed(failed)
}

// Unregister removes a connection from the registry and from every room it
// joined, in one logical step. The online -> offline transition is emitted
// only when the user's last connection goes away, and is broadcast to the
// rooms that connection was a member of. The broadcast happens inside the
// same critical section as the removal, so presence events always reach
// partners in the order the connection events occurred; the last-seen store
// write follows afterwards and never delays or reorders the fan-out.
func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	last, ok, left := h.removeLocked(conn)
	var failed []*Connection
	if ok && last {
		failed = h.presenceLocked(left, conn.UserID, false)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	conn.transport.Close()
	h.log.Debug().Str("conn_id", conn.ID).Str("user_id", conn.UserID).Msg("connection unregistered")

	if last {
		h.presence.wentOffline(conn.UserID)
	}
	h.teardownFailed(failed)
}

// removeLocked takes the connection out of the registry and all rooms and
// closes its send channel. Callers hold the write lock.
func (h *Hub) removeLocked(conn *Connection) (last, ok bool, left []string) {
	last, ok = h.registry.Unregister(conn)
	if !ok {
		return false, false, nil
	}
	left = h.rooms.LeaveAll(conn)
	conn.markClosing()
	close(conn.send)
	conn.markClosed()
	return last, true, left
}

// teardownLocked fully removes a connection while the write lock is held,
// without presence side effects. Used when a duplicate connection id
// replaces a prior entry.
func (h *Hub) teardownLocked(conn *Connection) {
	if _, ok, _ := h.removeLocked(conn); ok {
		conn.transport.Close()
	}
}

// Join subscribes a registered connection to a conversation's room.
func (h *Hub) Join(conversationID string, conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.registry.Get(conn.ID) != conn {
		return
	}
	h.rooms.Join(conversationID, conn)
}

// Leave removes a connection from a conversation's room.
func (h *Hub) Leave(conversationID string, conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rooms.Leave(conversationID, conn)
}

// Broadcast fans an event out to the conversation's room, excluding at most
// one connection. Connections whose send fails are unregistered as if they
// had disconnected; delivery to the rest completes regardless.
func (h *Hub) Broadcast(conversationID string, event Event, exclude *Connection) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to marshal event")
		return
	}

	h.mu.RLock()
	failed := h.rooms.Broadcast(conversationID, data, exclude)
	h.mu.RUnlock()

	h.teardownFailed(failed)
}

// SendTo delivers an event to a single connection.
func (h *Hub) SendTo(conn *Connection, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to marshal event")
		return
	}

	h.mu.RLock()
	ok := conn.trySend(data)
	h.mu.RUnlock()

	if !ok {
		h.Unregister(conn)
	}
}

// SendToUser delivers an event to every live connection of a user. Used when
// an event targets a user directly, such as a new-conversation notification
// before the recipient has joined the room.
func (h *Hub) SendToUser(userID string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to marshal event")
		return
	}

	var failed []*Connection
	h.mu.RLock()
	for _, conn := range h.registry.ConnectionsFor(userID) {
		if !conn.trySend(data) {
			failed = append(failed, conn)
		}
	}
	h.mu.RUnlock()

	h.teardownFailed(failed)
}

// presenceLocked fans a presence event out to the given rooms while the
// caller holds the write lock, returning connections whose send failed so
// the caller can tear them down after releasing it. Keeping the fan-out
// inside the critical section keeps presence events in the same order as
// the connection events that caused them.
func (h *Hub) presenceLocked(conversationIDs []string, userID string, online bool) []*Connection {
	if len(conversationIDs) == 0 {
		return nil
	}
	data, err := json.Marshal(PresenceEvent(userID, online))
	if err != nil {
		h.log.Error().Err(err).Msg("failed to marshal event")
		return nil
	}
	var failed []*Connection
	for _, id := range conversationIDs {
		failed = append(failed, h.rooms.Broadcast(id, data, nil)...)
	}
	return failed
}

// roomsOfUserLocked collects the distinct rooms the user's live connections
// are members of. Callers hold the lock.
func (h *Hub) roomsOfUserLocked(userID string) []string {
	roomSet := make(map[string]struct{})
	for _, conn := range h.registry.ConnectionsFor(userID) {
		for _, id := range h.rooms.RoomsOf(conn) {
			roomSet[id] = struct{}{}
		}
	}
	rooms := make([]string, 0, len(roomSet))
	for id := range roomSet {
		rooms = append(rooms, id)
	}
	return rooms
}

func (h *Hub) teardownFailed(failed []*Connection) {
	for _, conn := range failed {
		h.log.Debug().Str("conn_id", conn.ID).Msg("send failed, dropping connection")
		h.Unregister(conn)
	}
}

// IsOnline reports whether the user has at least one live connection.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.registry.IsOnline(userID)
}

// LastSeen exposes the presence tracker's last-seen lookup to the REST layer.
func (h *Hub) LastSeen(ctx context.Context, userID string) (at time.Time, ok bool) {
	return h.presence.LastSeen(ctx, userID)
}

// ConnectionsFor returns a snapshot of the user's live connections.
func (h *Hub) ConnectionsFor(userID string) []*Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.registry.ConnectionsFor(userID)
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.registry.Size()
}

// RoomCount returns the number of live rooms.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms.RoomCount()
}

// Shutdown closes every live connection and rejects further registrations.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*Connection, 0, h.registry.Size())
	for _, conn := range h.registry.byID {
		conns = append(conns, conn)
	}
	for _, conn := range conns {
		h.removeLocked(conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		conn.transport.Close()
	}
	h.log.Info().Int("connections", len(conns)).Msg("hub shut down")
}
