package session

import (
	"github.com/rs/zerolog"

	"arcduel/internal/match"
)

// MatchLocator is the slice of the match manager the router needs.
type MatchLocator interface {
	LiveRoomFor(playerID string) *match.Room
}

// Resolution is the outcome of an identity resolution.
type Resolution int

const (
	// Fresh: no live room holds this identity; normal matchmaking applies.
	Fresh Resolution = iota
	// Reattached: the identity belongs to a live room and has been rebound
	// to its new connection.
	Reattached
)

// Router decides, on every authentication, whether an identity belongs back
// inside an existing match. A disconnect never forfeits; the room keeps
// running and the router is how the player finds their way back to it.
type Router struct {
	registry *Registry
	rooms    MatchLocator
	log      zerolog.Logger
}

func NewRouter(registry *Registry, rooms MatchLocator, log zerolog.Logger) *Router {
	return &Router{
		registry: registry,
		rooms:    rooms,
		log:      log.With().Str("component", "reconnect-router").Logger(),
	}
}

// ResolveIdentity rebinds the registry entry and, if a non-terminal room
// holds the identity, returns Reattached along with that room. The caller
// re-delivers the room snapshot; the player is never re-queued.
func (r *Router) ResolveIdentity(playerID, newConnID string, client Sender) (Resolution, *match.Room) {
	r.registry.Bind(playerID, newConnID, client)

	room := r.rooms.LiveRoomFor(playerID)
	if room == nil {
		return Fresh, nil
	}
	r.log.Info().Str("player", playerID).Str("room", room.ID()).Msg("identity reattached to live room")
	return Reattached, room
}
