package transaction

import "sync"

// Registry correlates inbound messages to their owning transaction by
// Key. One Registry is shared between a UA's dialog layer and its
// transport read loop.
type Registry struct {
	mu      sync.Mutex
	clients map[Key]*ClientTransaction
	servers map[Key]*ServerTransaction
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[Key]*ClientTransaction),
		servers: make(map[Key]*ServerTransaction),
	}
}

// AddClient registers a pending client transaction.
func (r *Registry) AddClient(tx *ClientTransaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[tx.Key] = tx
}

// Client looks up a pending client transaction by key.
func (r *Registry) Client(key Key) (*ClientTransaction, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.clients[key]
	return tx, ok
}

// RemoveClient drops a client transaction, e.g. once terminated.
func (r *Registry) RemoveClient(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, key)
}

// AddServer registers an open server transaction.
func (r *Registry) AddServer(tx *ServerTransaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers[tx.Key] = tx
}

// Server looks up an open server transaction by key.
func (r *Registry) Server(key Key) (*ServerTransaction, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.servers[key]
	return tx, ok
}

// RemoveServer drops a server transaction, e.g. once terminated.
func (r *Registry) RemoveServer(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.servers, key)
}
