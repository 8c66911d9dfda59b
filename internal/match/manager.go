package match

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrPlayerBusy is returned when a room is requested for a player who
// already occupies a live room. The queue checks first, but the manager is
// the authority on the one-room-per-player invariant.
var ErrPlayerBusy = errors.New("player already in a live room")

// defaultAbandonAfter applies when Options.AbandonAfter is unset: how long
// a live room may go without any human-originated command before the sweep
// tears it down.
const defaultAbandonAfter = 5 * time.Minute

// Manager indexes rooms by room id and by player id. Rooms themselves are
// independent actors; the manager only guards the two indexes, so work
// inside one room never serializes against another.
type Manager struct {
	mu       sync.RWMutex
	rooms    map[string]*Room
	byPlayer map[string]*Room

	notifier Notifier
	rewards  Rewarder
	opts     Options
	grace    time.Duration
	abandon  time.Duration
	log      zerolog.Logger
}

func NewManager(notifier Notifier, rewards Rewarder, opts Options, grace time.Duration, log zerolog.Logger) *Manager {
	abandon := opts.AbandonAfter
	if abandon <= 0 {
		abandon = defaultAbandonAfter
	}
	return &Manager{
		rooms:    make(map[string]*Room),
		byPlayer: make(map[string]*Room),
		notifier: notifier,
		rewards:  rewards,
		opts:     opts,
		grace:    grace,
		abandon:  abandon,
		log:      log.With().Str("component", "match-manager").Logger(),
	}
}

// CreateRoom registers and returns a new room for the two participants.
// The room is not started; the caller starts it after announcing it.
func (m *Manager) CreateRoom(id string, a, b Participant) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, pid := range []string{a.ID, b.ID} {
		if existing, ok := m.byPlayer[pid]; ok && !existing.Terminal() {
			return nil, errors.Wrap(ErrPlayerBusy, pid)
		}
	}

	room := NewRoom(id, a, b, m.notifier, m.rewards, m.opts, m.log)
	m.rooms[id] = room
	m.byPlayer[a.ID] = room
	m.byPlayer[b.ID] = room
	m.log.Info().Str("room", id).Str("p1", a.ID).Str("p2", b.ID).Msg("room created")
	return room, nil
}

// Get returns the room with the given id, or nil.
func (m *Manager) Get(roomID string) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[roomID]
}

// LiveRoomFor returns the non-terminal room holding playerID, or nil. This
// is the O(1) reconnection lookup.
func (m *Manager) LiveRoomFor(playerID string) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.byPlayer[playerID]
	if !ok || room.Terminal() {
		return nil
	}
	return room
}

// InLiveRoom reports whether playerID currently occupies a non-terminal
// room; the matchmaking queue consults this before accepting a ticket.
func (m *Manager) InLiveRoom(playerID string) bool {
	return m.LiveRoomFor(playerID) != nil
}

// Run periodically sweeps rooms that are done for: terminal rooms past
// their grace period, and live rooms abandoned by every human participant.
// The grace keeps a finished room resolvable long enough for a late
// reconnect to observe the final state.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.grace / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, room := range m.rooms {
		finished := room.FinishedAt()
		if finished.IsZero() {
			// Live room: expire it only when no human has sent a command
			// for the whole abandonment window. Deadline cycling alone
			// keeps no room alive.
			if now.Sub(room.LastActive()) < m.abandon {
				continue
			}
			m.log.Info().Str("room", id).Time("lastActive", room.LastActive()).Msg("room abandoned")
		} else if now.Sub(finished) < m.grace {
			continue
		}
		room.Stop()
		delete(m.rooms, id)
		for _, pid := range room.PlayerIDs() {
			if m.byPlayer[pid] == room {
				delete(m.byPlayer, pid)
			}
		}
		m.log.Debug().Str("room", id).Msg("swept finished room")
	}
}
