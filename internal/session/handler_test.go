package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arcduel/internal/bot"
	"arcduel/internal/event"
	"arcduel/internal/match"
	"arcduel/internal/queue"
	"arcduel/internal/reward"
)

func newTestStack(t *testing.T) (*GameHandler, *match.Manager, *Registry) {
	t.Helper()
	// Level 7 puts every test player into the level-1 bucket.
	return newTestStackLevels(t, reward.Noop{Level: 7})
}

func newTestStackLevels(t *testing.T, levels LevelReader) (*GameHandler, *match.Manager, *Registry) {
	t.Helper()
	reg := NewRegistry(zerolog.Nop())
	matches := match.NewManager(reg, reward.Noop{}, match.Options{
		PhaseDeadline:    2 * time.Second,
		ResolutionWindow: 30 * time.Millisecond,
	}, time.Minute, zerolog.Nop())
	bots := bot.NewSupervisor(zerolog.Nop())
	coord := NewCoordinator(matches, bots, reg, zerolog.Nop())
	q := queue.NewService(coord, matches, reg, 20*time.Millisecond, zerolog.Nop())
	t.Cleanup(q.Close)
	router := NewRouter(reg, matches, zerolog.Nop())

	h := NewGameHandler(reg, router, q, matches, levels, zerolog.Nop())
	return h, matches, reg
}

func waitState(t *testing.T, h *GameHandler, s *playerSession, want sessionState) {
	t.Helper()
	require.Eventually(t, func() bool { return h.stateOf(s) == want },
		2*time.Second, 5*time.Millisecond, "session never reached %s", want)
}

func helloPayload(playerID string) json.RawMessage {
	raw, _ := json.Marshal(event.Hello{PlayerID: playerID})
	return raw
}

func TestHelloRequiresPlayerID(t *testing.T) {
	h, _, _ := newTestStack(t)
	sender := &fakeSender{}
	s := &playerSession{client: sender}

	h.handleHello(s, json.RawMessage(`{}`))

	assert.Empty(t, s.playerID)
	require.Len(t, sender.ofType(event.TypeProtocolError), 1)
}

func TestHelloWelcomesNewIdentity(t *testing.T) {
	h, _, reg := newTestStack(t)
	sender := &fakeSender{}
	s := &playerSession{client: sender}

	h.handleHello(s, helloPayload("p1"))

	assert.Equal(t, "p1", s.playerID)
	assert.NotEmpty(t, s.connID)
	require.Len(t, sender.ofType(event.TypeWelcome), 1)
	assert.Equal(t, stateLobby, h.stateOf(s))

	bound, ok := reg.Lookup("p1")
	require.True(t, ok)
	assert.Same(t, sender, bound)
}

func TestHelloReattachesMidMatch(t *testing.T) {
	h, matches, _ := newTestStack(t)

	room, err := matches.CreateRoom("r1", match.Participant{ID: "p1"}, match.Participant{ID: "p2"})
	require.NoError(t, err)
	t.Cleanup(room.Stop)
	room.Start()

	sender := &fakeSender{}
	s := &playerSession{client: sender}
	h.handleHello(s, helloPayload("p1"))

	require.Len(t, sender.ofType(event.TypeReattached), 1)
	assert.Empty(t, sender.ofType(event.TypeWelcome))

	var snap event.Snapshot
	decodePayload(t, sender.ofType(event.TypeReattached)[0], &snap)
	assert.Equal(t, "r1", snap.RoomID)
	assert.Equal(t, "p2", snap.Opponent)
	assert.Equal(t, stateInMatch, h.stateOf(s))
}

func TestEnqueuePairsTwoPlayers(t *testing.T) {
	h, _, _ := newTestStack(t)

	s1 := &playerSession{client: &fakeSender{}}
	s2 := &playerSession{client: &fakeSender{}}
	h.handleHello(s1, helloPayload("p1"))
	h.handleHello(s2, helloPayload("p2"))

	h.handleEnqueue(s1, nil)
	waitState(t, h, s1, stateInQueue)
	h.handleEnqueue(s2, nil)

	require.Eventually(t, func() bool {
		return h.stateOf(s1) == stateInMatch && h.stateOf(s2) == stateInMatch
	}, 3*time.Second, 10*time.Millisecond)

	for _, s := range []*playerSession{s1, s2} {
		sender := s.client.(*fakeSender)
		require.Len(t, sender.ofType(event.TypeMatchFound), 1)
	}
}

func TestEnqueueWhileQueuedRejected(t *testing.T) {
	h, _, _ := newTestStack(t)

	sender := &fakeSender{}
	s := &playerSession{client: sender}
	h.handleHello(s, helloPayload("p1"))

	h.handleEnqueue(s, nil)
	waitState(t, h, s, stateInQueue)
	h.handleEnqueue(s, nil)

	require.Eventually(t, func() bool {
		return len(sender.ofType(event.TypeProtocolError)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, stateInQueue, h.stateOf(s))
}

func TestCancelQueueReturnsToLobby(t *testing.T) {
	h, _, _ := newTestStack(t)

	s := &playerSession{client: &fakeSender{}}
	h.handleHello(s, helloPayload("p1"))
	h.handleEnqueue(s, nil)
	waitState(t, h, s, stateInQueue)

	h.handleCancelQueue(s, nil)
	waitState(t, h, s, stateLobby)
}

func TestStaleDisconnectKeepsNewConnectionTicket(t *testing.T) {
	h, _, _ := newTestStack(t)

	old := &playerSession{client: &fakeSender{}}
	h.handleHello(old, helloPayload("p1"))
	h.handleEnqueue(old, nil)
	waitState(t, h, old, stateInQueue)

	// The player reconnects; the identity now lives on the new connection
	// but the ticket is the same.
	fresh := &playerSession{client: &fakeSender{}}
	h.handleHello(fresh, helloPayload("p1"))
	require.Equal(t, stateInQueue, h.stateOf(fresh))

	// The old connection's teardown arrives late. It must not cancel the
	// ticket the player holds through the new connection.
	h.closeSession(old)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, stateInQueue, h.stateOf(fresh))

	// The live connection's teardown does cancel.
	h.closeSession(fresh)
	waitState(t, h, fresh, stateLobby)
}

// slowLevels simulates a sluggish profile collaborator.
type slowLevels struct {
	delay time.Duration
	level int
}

func (s slowLevels) ReadPlayerLevel(ctx context.Context, _ string) int {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
	}
	return s.level
}

func TestEnqueueDoesNotBlockDispatchOnLevelLookup(t *testing.T) {
	h, _, _ := newTestStackLevels(t, slowLevels{delay: 300 * time.Millisecond, level: 7})

	s := &playerSession{client: &fakeSender{}}
	h.handleHello(s, helloPayload("p1"))

	// The handler runs on the hub's single dispatch goroutine; a slow
	// lookup must not hold it.
	startAt := time.Now()
	h.handleEnqueue(s, nil)
	assert.Less(t, time.Since(startAt), 100*time.Millisecond)

	waitState(t, h, s, stateInQueue)
}

func TestRoomCommandsEnforceMembership(t *testing.T) {
	h, matches, _ := newTestStack(t)

	room, err := matches.CreateRoom("r1", match.Participant{ID: "p1"}, match.Participant{ID: "p2"})
	require.NoError(t, err)
	t.Cleanup(room.Stop)

	sender := &fakeSender{}
	s := &playerSession{client: sender, playerID: "p3"}

	assert.Nil(t, h.roomFor(s, "r1"), "non-member must not resolve the room")
	assert.Nil(t, h.roomFor(s, "no-such-room"))
	assert.Len(t, sender.ofType(event.TypeProtocolError), 2)
}

func TestReportDeathFailsSilently(t *testing.T) {
	h, matches, _ := newTestStack(t)

	room, err := matches.CreateRoom("r1", match.Participant{ID: "p1"}, match.Participant{ID: "p2"})
	require.NoError(t, err)
	t.Cleanup(room.Stop)

	sender := &fakeSender{}
	s := &playerSession{client: sender, playerID: "p3"}

	raw, _ := json.Marshal(event.ReportDeath{RoomID: "r1", Subject: "p1"})
	h.handleReportDeath(s, raw)
	h.handleReportDeath(s, json.RawMessage(`not json`))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sender.msgs, "death report failures must produce no signal")
	assert.False(t, room.Terminal())
}
