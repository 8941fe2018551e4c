package chat

// RoomManager groups connections by conversation id for fan-out. Rooms are
// created lazily on first join and dropped when their last member leaves.
// Membership is weak: rooms never keep a connection alive. Like Registry,
// it relies on the Hub's lock for concurrency safety.
type RoomManager struct {
	rooms      map[string]map[*Connection]struct{}
	membership map[*Connection]map[string]struct{}
}

func NewRoomManager() *RoomManager {
	return &RoomManager{
		rooms:      make(map[string]map[*Connection]struct{}),
		membership: make(map[*Connection]map[string]struct{}),
	}
}

// Join adds the connection to the conversation's room. Idempotent.
func (m *RoomManager) Join(conversationID string, conn *Connection) {
	room := m.rooms[conversationID]
	if room == nil {
		room = make(map[*Connection]struct{})
		m.rooms[conversationID] = room
	}
	room[conn] = struct{}{}

	rooms := m.membership[conn]
	if rooms == nil {
		rooms = make(map[string]struct{})
		m.membership[conn] = rooms
	}
	rooms[conversationID] = struct{}{}
}

// Leave removes the connection from the conversation's room.
func (m *RoomManager) Leave(conversationID string, conn *Connection) {
	if room, ok := m.rooms[conversationID]; ok {
		delete(room, conn)
		if len(room) == 0 {
			delete(m.rooms, conversationID)
		}
	}
	if rooms, ok := m.membership[conn]; ok {
		delete(rooms, conversationID)
		if len(rooms) == 0 {
			delete(m.membership, conn)
		}
	}
}

// LeaveAll removes the connection from every room it is a member of and
// returns the conversation ids it left. Invoked on unregister so no room
// ever holds a dangling connection.
func (m *RoomManager) LeaveAll(conn *Connection) []string {
	rooms := m.membership[conn]
	if len(rooms) == 0 {
		delete(m.membership, conn)
		return nil
	}

	left := make([]string, 0, len(rooms))
	for conversationID := range rooms {
		left = append(left, conversationID)
		if room, ok := m.rooms[conversationID]; ok {
			delete(room, conn)
			if len(room) == 0 {
				delete(m.rooms, conversationID)
			}
		}
	}
	delete(m.membership, conn)
	return left
}

// RoomsOf returns the conversation ids the connection is currently joined to.
func (m *RoomManager) RoomsOf(conn *Connection) []string {
	rooms := m.membership[conn]
	if len(rooms) == 0 {
		return nil
	}
	ids := make([]string, 0, len(rooms))
	for id := range rooms {
		ids = append(ids, id)
	}
	return ids
}

// Broadcast delivers one encoded frame to every member of the conversation's
// room except the excluded connection. A per-connection send failure never
// aborts delivery to the rest; failed connections are returned for teardown.
func (m *RoomManager) Broadcast(conversationID string, data []byte, exclude *Connection) (failed []*Connection) {
	room, ok := m.rooms[conversationID]
	if !ok {
		return nil
	}
	for conn := range room {
		if conn == exclude {
			continue
		}
		if !conn.trySend(data) {
			failed = append(failed, conn)
		}
	}
	return failed
}

// MemberCount returns the number of connections in the conversation's room.
func (m *RoomManager) MemberCount(conversationID string) int {
	return len(m.rooms[conversationID])
}

// RoomCount returns the number of live rooms.
func (m *RoomManager) RoomCount() int {
	return len(m.rooms)
}
