package session

import (
	"sync"

	"github.com/rs/zerolog"

	"arcduel/internal/network"
)

// Sender is the outbound half of a connection. *network.Client satisfies
// it; tests substitute their own.
type Sender interface {
	TrySend(msg network.Message) bool
}

type binding struct {
	connID string
	client Sender
}

// Registry maps a durable player identity to its current live connection.
// It outlives any single connection, which is what lets a reconnecting
// player pick up the room they already hold. It also serves as the
// delivery plane for every component that addresses players by id.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]binding
	log   zerolog.Logger
}

func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		conns: make(map[string]binding),
		log:   log.With().Str("component", "registry").Logger(),
	}
}

// Bind associates playerID with the given connection, replacing any
// previous handle. The replaced client, if any, is returned so the caller
// can tell it goodbye.
func (r *Registry) Bind(playerID, connID string, client Sender) Sender {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.conns[playerID].client
	r.conns[playerID] = binding{connID: connID, client: client}
	return prev
}

// Unbind drops the registration only if connID still matches, so a stale
// disconnect arriving after a reconnect cannot evict the newer connection.
func (r *Registry) Unbind(playerID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.conns[playerID]; ok && b.connID == connID {
		delete(r.conns, playerID)
		return true
	}
	return false
}

// Lookup returns the live connection for playerID.
func (r *Registry) Lookup(playerID string) (Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.conns[playerID]
	return b.client, ok
}

// Deliver sends msg to playerID's current connection, if one exists.
// Offline players and bot identities drop silently; match progress never
// depends on delivery.
func (r *Registry) Deliver(playerID string, msg network.Message) {
	client, ok := r.Lookup(playerID)
	if !ok || client == nil {
		return
	}
	client.TrySend(msg)
}
