package chat

// Registry maintains the authoritative mapping of user identity to live
// connections, with O(1) lookups in both directions. It is not safe for
// concurrent use on its own: the Hub serializes all mutations and reads
// behind its lock.
type Registry struct {
	byUser map[string]map[*Connection]struct{}
	byID   map[string]*Connection
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]map[*Connection]struct{}),
		byID:   make(map[string]*Connection),
	}
}

// Register adds a connection under its owner's set and reports whether this
// is the user's first live connection (the offline -> online transition).
// Re-registering an identifier replaces the prior entry; first is judged
// before the replacement, so swapping out a user's only connection does not
// read as a fresh transition.
func (r *Registry) Register(conn *Connection) (first bool) {
	first = len(r.byUser[conn.UserID]) == 0
	if prior, ok := r.byID[conn.ID]; ok && prior != conn {
		r.Unregister(prior)
	}

	set := r.byUser[conn.UserID]
	if set == nil {
		set = make(map[*Connection]struct{})
		r.byUser[conn.UserID] = set
	}
	set[conn] = struct{}{}
	r.byID[conn.ID] = conn
	return first
}

// Unregister removes a connection from its owner's set. It reports whether
// the connection was present and whether its removal left the owner with no
// live connections (the online -> offline transition).
func (r *Registry) Unregister(conn *Connection) (last bool, ok bool) {
	if _, ok = r.byID[conn.ID]; !ok {
		return false, false
	}
	delete(r.byID, conn.ID)

	set := r.byUser[conn.UserID]
	delete(set, conn)
	if len(set) == 0 {
		delete(r.byUser, conn.UserID)
		return true, true
	}
	return false, true
}

// Get returns the registered connection with the given identifier, if any.
func (r *Registry) Get(id string) *Connection {
	return r.byID[id]
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	return len(r.byUser[userID]) > 0
}

// ConnectionsFor returns a snapshot of the user's live connections.
func (r *Registry) ConnectionsFor(userID string) []*Connection {
	set := r.byUser[userID]
	if len(set) == 0 {
		return nil
	}
	conns := make([]*Connection, 0, len(set))
	for conn := range set {
		conns = append(conns, conn)
	}
	return conns
}

// Size returns the total number of live connections.
func (r *Registry) Size() int {
	return len(r.byID)
}
