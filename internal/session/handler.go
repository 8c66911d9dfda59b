package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"arcduel/internal/event"
	"arcduel/internal/match"
	"arcduel/internal/network"
	"arcduel/internal/queue"
)

// LevelReader provides the player level used to form the matchmaking
// compatibility key. Backed by the reward collaborator.
type LevelReader interface {
	ReadPlayerLevel(ctx context.Context, playerID string) int
}

const levelLookupTimeout = 2 * time.Second

// levelsPerBucket groups adjacent levels into one compatibility bucket.
const levelsPerBucket = 5

type sessionState string

const (
	stateAnonymous sessionState = "anonymous"
	stateLobby     sessionState = "lobby"
	stateInQueue   sessionState = "in_queue"
	stateInMatch   sessionState = "in_match"
)

type playerSession struct {
	client    Sender
	playerID  string
	connID    string
	nonce     string
	signature string
}

type commandHandlerFunc func(h *GameHandler, s *playerSession, payload json.RawMessage)

// GameHandler implements network.EventHandler: it owns the session map and
// routes every inbound message to the component that handles it. All of its
// state is confined to the hub goroutine.
type GameHandler struct {
	sessions map[*network.Client]*playerSession

	registry *Registry
	router   *Router
	queue    *queue.Service
	matches  *match.Manager
	levels   LevelReader
	log      zerolog.Logger

	lobbyRouter map[string]commandHandlerFunc
	queueRouter map[string]commandHandlerFunc
	matchRouter map[string]commandHandlerFunc
}

func NewGameHandler(registry *Registry, router *Router, q *queue.Service, matches *match.Manager, levels LevelReader, log zerolog.Logger) *GameHandler {
	h := &GameHandler{
		sessions: make(map[*network.Client]*playerSession),
		registry: registry,
		router:   router,
		queue:    q,
		matches:  matches,
		levels:   levels,
		log:      log.With().Str("component", "session").Logger(),
	}
	h.lobbyRouter = map[string]commandHandlerFunc{
		event.TypeEnqueue:     (*GameHandler).handleEnqueue,
		event.TypeEnqueueBot:  (*GameHandler).handleEnqueueBot,
		event.TypeCancelQueue: (*GameHandler).handleCancelQueue, // idempotent no-op here
	}
	h.queueRouter = map[string]commandHandlerFunc{
		event.TypeCancelQueue: (*GameHandler).handleCancelQueue,
	}
	h.matchRouter = map[string]commandHandlerFunc{
		event.TypeSubmitAction:       (*GameHandler).handleSubmitAction,
		event.TypeSubmitTrustedState: (*GameHandler).handleSubmitTrustedState,
		event.TypeReportDeath:        (*GameHandler).handleReportDeath,
	}
	return h
}

// --- network.EventHandler ---

func (h *GameHandler) OnConnect(c *network.Client) {
	// Identity arrives with the hello message; until then the session is
	// anonymous and everything but hello is rejected.
	h.sessions[c] = &playerSession{client: c}
}

func (h *GameHandler) OnDisconnect(c *network.Client) {
	s, ok := h.sessions[c]
	if !ok {
		return
	}
	delete(h.sessions, c)
	h.closeSession(s)
}

// closeSession cleans up after a closed connection. The Unbind gate
// matters: if the identity has already reconnected, this teardown belongs
// to the stale connection and must not cancel the ticket the player holds
// through the newer one. Leaving the queue on disconnect is cleanup;
// leaving a match is not — the room keeps running and the reconnection
// router brings the player back to it.
func (h *GameHandler) closeSession(s *playerSession) {
	if s.playerID == "" {
		return
	}
	if !h.registry.Unbind(s.playerID, s.connID) {
		return
	}
	h.queue.Cancel(s.playerID)
	h.log.Debug().Str("player", s.playerID).Msg("session closed")
}

func (h *GameHandler) OnMessage(c *network.Client, msg network.Message) {
	s, ok := h.sessions[c]
	if !ok {
		return
	}

	if s.playerID == "" {
		if msg.Type == event.TypeHello {
			h.handleHello(s, msg.Payload)
		} else {
			c.TrySend(event.Error("hello required before any other message"))
		}
		return
	}

	var router map[string]commandHandlerFunc
	switch h.stateOf(s) {
	case stateLobby:
		router = h.lobbyRouter
	case stateInQueue:
		router = h.queueRouter
	case stateInMatch:
		router = h.matchRouter
	}

	handler, found := router[msg.Type]
	if !found {
		c.TrySend(event.Error(fmt.Sprintf("command %q not valid in current state", msg.Type)))
		return
	}
	handler(h, s, msg.Payload)
}

// stateOf derives the session state from the authoritative components
// instead of caching it, so a finished match or a consumed ticket can never
// leave the router stale.
func (h *GameHandler) stateOf(s *playerSession) sessionState {
	if s.playerID == "" {
		return stateAnonymous
	}
	if h.matches.LiveRoomFor(s.playerID) != nil {
		return stateInMatch
	}
	if h.queue.Contains(s.playerID) {
		return stateInQueue
	}
	return stateLobby
}

// --- command handlers ---

func (h *GameHandler) handleHello(s *playerSession, payload json.RawMessage) {
	var hello event.Hello
	if err := json.Unmarshal(payload, &hello); err != nil || hello.PlayerID == "" {
		s.client.TrySend(event.Error("hello requires a playerId"))
		return
	}

	s.playerID = hello.PlayerID
	s.connID = uuid.NewString()
	s.nonce = hello.Nonce
	s.signature = hello.Signature

	resolution, room := h.router.ResolveIdentity(s.playerID, s.connID, s.client)
	if resolution == Reattached {
		if snap, ok := room.Snapshot(s.playerID); ok {
			s.client.TrySend(network.NewMessage(event.TypeReattached, snap))
			return
		}
	}
	s.client.TrySend(network.NewMessage(event.TypeWelcome, nil))
}

func (h *GameHandler) handleEnqueue(s *playerSession, payload json.RawMessage) {
	h.enqueueAsync(s, payload, h.queue.Enqueue)
}

func (h *GameHandler) handleEnqueueBot(s *playerSession, payload json.RawMessage) {
	h.enqueueAsync(s, payload, h.queue.EnqueueWithBot)
}

// enqueueAsync resolves the level bucket off the hub goroutine. The lookup
// can take up to levelLookupTimeout; run inline it would stall dispatch for
// every connection, including submissions into unrelated rooms. The ticket
// is stamped here so queue order follows request arrival, not lookup
// latency.
func (h *GameHandler) enqueueAsync(s *playerSession, payload json.RawMessage, enqueue func(queue.Ticket) error) {
	var req event.Enqueue
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			s.client.TrySend(event.Error("malformed enqueue payload"))
			return
		}
	}

	ticket := queue.Ticket{
		PlayerID:   s.playerID,
		ConnID:     s.connID,
		Setup:      req.Setup,
		Nonce:      s.nonce,
		Signature:  s.signature,
		EnqueuedAt: time.Now(),
	}
	client := s.client

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), levelLookupTimeout)
		defer cancel()
		level := h.levels.ReadPlayerLevel(ctx, ticket.PlayerID)
		ticket.Bucket = fmt.Sprintf("level-%d", level/levelsPerBucket)

		if err := enqueue(ticket); err != nil {
			client.TrySend(event.Error("already queued or in a match"))
		}
	}()
}

func (h *GameHandler) handleCancelQueue(s *playerSession, _ json.RawMessage) {
	h.queue.Cancel(s.playerID)
}

// roomFor resolves the room a payload references and enforces membership.
// Anything off — unknown room, foreign room — is a ProtocolViolation with
// no side effects.
func (h *GameHandler) roomFor(s *playerSession, roomID string) *match.Room {
	room := h.matches.Get(roomID)
	if room == nil || !room.HasPlayer(s.playerID) {
		s.client.TrySend(event.Error("unknown room"))
		return nil
	}
	return room
}

func (h *GameHandler) handleSubmitAction(s *playerSession, payload json.RawMessage) {
	var req event.SubmitAction
	if err := json.Unmarshal(payload, &req); err != nil {
		s.client.TrySend(event.Error("malformed action payload"))
		return
	}
	if room := h.roomFor(s, req.RoomID); room != nil {
		room.SubmitAction(s.playerID, req.Action)
	}
}

func (h *GameHandler) handleSubmitTrustedState(s *playerSession, payload json.RawMessage) {
	var req event.SubmitTrustedState
	if err := json.Unmarshal(payload, &req); err != nil {
		s.client.TrySend(event.Error("malformed trusted state payload"))
		return
	}
	if room := h.roomFor(s, req.RoomID); room != nil {
		room.SubmitTrustedState(s.playerID, req.StateCommit, req.PublicState)
	}
}

// handleReportDeath forwards the report with the session identity as the
// reporter. Malformed reports die silently inside the room; even a bogus
// room id produces no event, so a hostile client learns nothing.
func (h *GameHandler) handleReportDeath(s *playerSession, payload json.RawMessage) {
	var req event.ReportDeath
	if err := json.Unmarshal(payload, &req); err != nil {
		return
	}
	room := h.matches.Get(req.RoomID)
	if room == nil || !room.HasPlayer(s.playerID) {
		return
	}
	room.ReportDeath(match.TerminationReport{
		ReportingPlayerID: s.playerID,
		SubjectPlayerID:   req.Subject,
	})
}
