package hub

import "sync"

// Registry is the set of currently open connections, keyed by connection ID.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]Connection
}

func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]Connection),
	}
}

// Register adds conn and reports whether it was newly added.
func (r *Registry) Register(conn Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.connections[conn.ID()]; ok && existing == conn {
		return false
	}
	r.connections[conn.ID()] = conn
	return true
}

// Unregister removes conn if it is the registered member for its ID. Removing
// an absent connection is a no-op.
func (r *Registry) Unregister(conn Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.connections[conn.ID()]
	if !ok || existing != conn {
		return false
	}
	delete(r.connections, conn.ID())
	return true
}

// Snapshot returns a copy of the members; callers may iterate it while the
// registry keeps changing.
func (r *Registry) Snapshot() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connections := make([]Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		connections = append(connections, conn)
	}
	return connections
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// RemoveClosed drops members that report IsClosed and returns them.
func (r *Registry) RemoveClosed() []Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []Connection
	for id, conn := range r.connections {
		if conn.IsClosed() {
			delete(r.connections, id)
			removed = append(removed, conn)
		}
	}
	return removed
}
