package registry

import "sync"

// Sender delivers a raw payload to one live client connection.
type Sender interface {
	Send(payload []byte) error
}

// Registry maps room identifiers to the live connections registered under
// them. Room identifiers are client-supplied and not guaranteed unique, so a
// room may hold several connections; responses fan out to all of them.
//
// The registry is shared between every connection's lifecycle callbacks and
// the single outbound consumer, so all access goes through the lock.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Sender
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		rooms: make(map[string]map[string]Sender),
	}
}

// Register binds a connection to a room identifier. connID must be unique per
// connection; the same connID re-registered replaces the previous sender.
func (r *Registry) Register(room, connID string, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.rooms[room]
	if !ok {
		conns = make(map[string]Sender)
		r.rooms[room] = conns
	}
	conns[connID] = s
}

// Unregister removes a connection from a room. Unknown room or connID is a
// no-op.
func (r *Registry) Unregister(room, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.rooms, room)
	}
}

// Senders returns a snapshot of the live connections registered under a room.
// An empty result is not an error: it means every connection claiming that
// identifier has disconnected.
func (r *Registry) Senders(room string) []Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns, ok := r.rooms[room]
	if !ok {
		return nil
	}
	out := make([]Sender, 0, len(conns))
	for _, s := range conns {
		out = append(out, s)
	}
	return out
}

// Count reports the total number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, conns := range r.rooms {
		n += len(conns)
	}
	return n
}
