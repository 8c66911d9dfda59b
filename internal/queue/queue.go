// Package queue holds waiting matchmaking tickets, partitioned by
// compatibility bucket, and pairs them FIFO. Each bucket runs as its own
// actor so pairing inside one bucket never blocks enqueues into another.
package queue

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"arcduel/internal/event"
	"arcduel/internal/network"
)

// ErrDuplicateTicket rejects an enqueue for a player who is already queued
// or already inside a live room. The existing ticket is untouched.
var ErrDuplicateTicket = errors.New("duplicate ticket")

// Ticket is one queued matchmaking request.
type Ticket struct {
	PlayerID   string
	ConnID     string
	Bucket     string
	Setup      json.RawMessage
	Nonce      string
	Signature  string
	EnqueuedAt time.Time
}

// MatchStarter turns a pairing into a running room. Implemented by the
// session coordinator. A returned error means no room was created and the
// tickets are still the queue's responsibility.
type MatchStarter interface {
	StartMatch(a, b Ticket) error
	StartBotMatch(t Ticket) error
}

// RoomLocator answers whether a player already occupies a live room.
type RoomLocator interface {
	InLiveRoom(playerID string) bool
}

// Notifier delivers queue status events to waiting players.
type Notifier interface {
	Deliver(playerID string, msg network.Message)
}

// Service is the queue front. It owns a global player index (the
// one-live-ticket-per-player invariant spans buckets) and a lazily created
// actor per bucket.
type Service struct {
	mu      sync.Mutex
	index   map[string]string // playerID -> bucket key
	buckets map[string]*bucket

	starter      MatchStarter
	rooms        RoomLocator
	notifier     Notifier
	pairInterval time.Duration
	quit         chan struct{}
	closeOnce    sync.Once
	log          zerolog.Logger
}

func NewService(starter MatchStarter, rooms RoomLocator, notifier Notifier, pairInterval time.Duration, log zerolog.Logger) *Service {
	return &Service{
		index:        make(map[string]string),
		buckets:      make(map[string]*bucket),
		starter:      starter,
		rooms:        rooms,
		notifier:     notifier,
		pairInterval: pairInterval,
		quit:         make(chan struct{}),
		log:          log.With().Str("component", "queue").Logger(),
	}
}

// Close stops every bucket actor.
func (s *Service) Close() {
	s.closeOnce.Do(func() { close(s.quit) })
}

// Enqueue accepts a ticket or rejects it with ErrDuplicateTicket. Pairing
// runs immediately inside the target bucket.
func (s *Service) Enqueue(t Ticket) error {
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}
	b, err := s.reserve(t)
	if err != nil {
		return err
	}
	b.enqueue(t)
	return nil
}

// EnqueueWithBot skips pairing entirely: the same duplicate checks apply,
// then a room with a fresh bot participant starts immediately.
func (s *Service) EnqueueWithBot(t Ticket) error {
	s.mu.Lock()
	if _, queued := s.index[t.PlayerID]; queued {
		s.mu.Unlock()
		return errors.Wrap(ErrDuplicateTicket, t.PlayerID)
	}
	s.mu.Unlock()
	if s.rooms.InLiveRoom(t.PlayerID) {
		return errors.Wrap(ErrDuplicateTicket, t.PlayerID)
	}
	return s.starter.StartBotMatch(t)
}

// Cancel removes the player's ticket if still queued; a no-op otherwise.
func (s *Service) Cancel(playerID string) {
	s.mu.Lock()
	key, ok := s.index[playerID]
	b := s.buckets[key]
	s.mu.Unlock()
	if !ok || b == nil {
		return
	}
	b.cancel(playerID)
}

// Contains reports whether the player currently holds a queued ticket.
func (s *Service) Contains(playerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[playerID]
	return ok
}

// reserve claims the player's queue slot and returns the target bucket.
// The room check happens outside the service lock. Pairing holds the index
// through room creation and releases it only afterwards, so there is no
// window in which a player is in a room but free to re-enqueue.
func (s *Service) reserve(t Ticket) (*bucket, error) {
	s.mu.Lock()
	if _, queued := s.index[t.PlayerID]; queued {
		s.mu.Unlock()
		return nil, errors.Wrap(ErrDuplicateTicket, t.PlayerID)
	}
	s.mu.Unlock()

	if s.rooms.InLiveRoom(t.PlayerID) {
		return nil, errors.Wrap(ErrDuplicateTicket, t.PlayerID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, queued := s.index[t.PlayerID]; queued {
		return nil, errors.Wrap(ErrDuplicateTicket, t.PlayerID)
	}
	s.index[t.PlayerID] = t.Bucket
	b, ok := s.buckets[t.Bucket]
	if !ok {
		b = newBucket(t.Bucket, s)
		s.buckets[t.Bucket] = b
		go b.run()
	}
	return b, nil
}

// release frees the queue slots of players who were paired or cancelled.
// Called from bucket goroutines, never while s.mu is held by them.
func (s *Service) release(playerIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pid := range playerIDs {
		delete(s.index, pid)
	}
}

// --- bucket actor ---

type enqueueCmd struct{ ticket Ticket }
type cancelCmd struct{ playerID string }

type bucket struct {
	key     string
	svc     *Service
	cmds    chan any
	tickets []Ticket
	log     zerolog.Logger
}

func newBucket(key string, svc *Service) *bucket {
	return &bucket{
		key:  key,
		svc:  svc,
		cmds: make(chan any, 16),
		log:  svc.log.With().Str("bucket", key).Logger(),
	}
}

func (b *bucket) enqueue(t Ticket) {
	select {
	case b.cmds <- enqueueCmd{ticket: t}:
	case <-b.svc.quit:
	}
}

func (b *bucket) cancel(playerID string) {
	select {
	case b.cmds <- cancelCmd{playerID: playerID}:
	case <-b.svc.quit:
	}
}

func (b *bucket) run() {
	ticker := time.NewTicker(b.svc.pairInterval)
	defer ticker.Stop()

	for {
		select {
		case c := <-b.cmds:
			switch cmd := c.(type) {
			case enqueueCmd:
				b.tickets = append(b.tickets, cmd.ticket)
				b.log.Debug().Str("player", cmd.ticket.PlayerID).Int("waiting", len(b.tickets)).Msg("ticket enqueued")
				b.notifyPosition(len(b.tickets) - 1)
				b.tryPair()
			case cancelCmd:
				b.remove(cmd.playerID)
			}
		case <-ticker.C:
			b.tryPair()
			b.notifyAllPositions()
		case <-b.svc.quit:
			return
		}
	}
}

func (b *bucket) remove(playerID string) {
	for i, t := range b.tickets {
		if t.PlayerID == playerID {
			b.tickets = append(b.tickets[:i], b.tickets[i+1:]...)
			b.svc.release(playerID)
			b.log.Debug().Str("player", playerID).Int("waiting", len(b.tickets)).Msg("ticket cancelled")
			return
		}
	}
}

// tryPair matches the two oldest tickets until fewer than two remain.
// Order is enqueue time, with playerID as the tie-break, so pairing is
// deterministic even for tickets stamped in the same instant.
func (b *bucket) tryPair() {
	sort.SliceStable(b.tickets, func(i, j int) bool {
		ti, tj := b.tickets[i], b.tickets[j]
		if !ti.EnqueuedAt.Equal(tj.EnqueuedAt) {
			return ti.EnqueuedAt.Before(tj.EnqueuedAt)
		}
		return ti.PlayerID < tj.PlayerID
	})

	for len(b.tickets) >= 2 {
		a, c := b.tickets[0], b.tickets[1]
		b.tickets = b.tickets[2:]
		if err := b.svc.starter.StartMatch(a, c); err != nil {
			b.log.Warn().Err(err).Str("p1", a.PlayerID).Str("p2", c.PlayerID).Msg("match start failed")
			b.requeue(a)
			b.requeue(c)
			break
		}
		b.svc.release(a.PlayerID, c.PlayerID)
		b.log.Info().Str("p1", a.PlayerID).Str("p2", c.PlayerID).Msg("pair found")
	}
}

// requeue returns a ticket to the wait list after a failed match start.
// If the player is the reason the start failed (already occupying a live
// room) the slot is released instead; everyone else keeps their place,
// with the original enqueue time.
func (b *bucket) requeue(t Ticket) {
	if b.svc.rooms.InLiveRoom(t.PlayerID) {
		b.svc.release(t.PlayerID)
		return
	}
	b.tickets = append([]Ticket{t}, b.tickets...)
	b.notifyPosition(0)
}

func (b *bucket) notifyPosition(i int) {
	if i < 0 || i >= len(b.tickets) {
		return
	}
	t := b.tickets[i]
	b.svc.notifier.Deliver(t.PlayerID, network.NewMessage(event.TypeQueued, event.Queued{Position: i + 1}))
}

func (b *bucket) notifyAllPositions() {
	for i := range b.tickets {
		b.notifyPosition(i)
	}
}
