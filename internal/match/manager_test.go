package match

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arcduel/internal/network"
)

type nopNotifier struct{}

func (nopNotifier) Deliver(string, network.Message) {}

type nopRewarder struct{}

func (nopRewarder) CreditReward(string, any) {}

func newTestManager(grace time.Duration) *Manager {
	return NewManager(nopNotifier{}, nopRewarder{}, Options{
		PhaseDeadline:    time.Second,
		ResolutionWindow: 50 * time.Millisecond,
	}, grace, zerolog.Nop())
}

func TestCreateRoomRejectsBusyPlayer(t *testing.T) {
	m := newTestManager(time.Minute)

	room, err := m.CreateRoom("r1", Participant{ID: "p1"}, Participant{ID: "p2"})
	require.NoError(t, err)
	t.Cleanup(room.Stop)

	_, err = m.CreateRoom("r2", Participant{ID: "p2"}, Participant{ID: "p3"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPlayerBusy))

	// The failed attempt must not have indexed p3.
	assert.False(t, m.InLiveRoom("p3"))
}

func TestLiveRoomLookupSkipsTerminalRooms(t *testing.T) {
	m := newTestManager(time.Minute)

	room, err := m.CreateRoom("r1", Participant{ID: "p1"}, Participant{ID: "p2"})
	require.NoError(t, err)
	t.Cleanup(room.Stop)

	require.Same(t, room, m.LiveRoomFor("p1"))
	require.True(t, m.InLiveRoom("p2"))

	room.finish("p1")

	assert.Nil(t, m.LiveRoomFor("p1"))
	assert.False(t, m.InLiveRoom("p2"))
	// The room itself stays resolvable until the grace sweep.
	assert.Same(t, room, m.Get("r1"))

	// The slot is free again.
	next, err := m.CreateRoom("r2", Participant{ID: "p1"}, Participant{ID: "p4"})
	require.NoError(t, err)
	t.Cleanup(next.Stop)
}

func TestSweepRemovesRoomsAfterGrace(t *testing.T) {
	m := newTestManager(50 * time.Millisecond)

	room, err := m.CreateRoom("r1", Participant{ID: "p1"}, Participant{ID: "p2"})
	require.NoError(t, err)
	room.finish("draw")

	// Inside the grace period the room survives the sweep.
	m.sweep(room.FinishedAt().Add(10 * time.Millisecond))
	require.Same(t, room, m.Get("r1"))

	m.sweep(room.FinishedAt().Add(60 * time.Millisecond))
	assert.Nil(t, m.Get("r1"))
	assert.Nil(t, m.LiveRoomFor("p1"))
}

func TestSweepExpiresAbandonedRooms(t *testing.T) {
	m := NewManager(nopNotifier{}, nopRewarder{}, Options{
		PhaseDeadline:    time.Second,
		ResolutionWindow: 50 * time.Millisecond,
		AbandonAfter:     100 * time.Millisecond,
	}, time.Minute, zerolog.Nop())

	idle, err := m.CreateRoom("idle", Participant{ID: "p1"}, Participant{ID: "p2"})
	require.NoError(t, err)
	busy, err := m.CreateRoom("busy", Participant{ID: "p3"}, Participant{ID: "p4"})
	require.NoError(t, err)
	t.Cleanup(busy.Stop)

	// Neither player has sent a command for longer than the window; the
	// room is live but abandoned and must go, terminal or not.
	idle.lastActive.Store(time.Now().Add(-200 * time.Millisecond).UnixNano())
	m.sweep(time.Now())

	assert.Nil(t, m.Get("idle"))
	assert.Nil(t, m.LiveRoomFor("p1"))
	require.Same(t, busy, m.Get("busy"), "recently active room must survive")
	require.Same(t, busy, m.LiveRoomFor("p3"))
}

type idleDriver struct{ id string }

func (d idleDriver) ID() string                                  { return d.id }
func (d idleDriver) DecideAction(PublicSnapshot) json.RawMessage { return nil }
func (d idleDriver) DecideTrustedState(PublicSnapshot) (string, json.RawMessage, bool) {
	return "", nil, false
}

func TestOnlyHumanCommandsCountAsActivity(t *testing.T) {
	room := NewRoom("r1",
		Participant{ID: "p1"},
		Participant{ID: "bot-1", Bot: idleDriver{id: "bot-1"}},
		nopNotifier{}, nopRewarder{}, Options{
			PhaseDeadline:    time.Second,
			ResolutionWindow: 50 * time.Millisecond,
		}, zerolog.Nop())
	t.Cleanup(room.Stop)

	before := room.LastActive()
	time.Sleep(5 * time.Millisecond)

	// A bot submission keeps no room alive.
	room.handle(submitActionCmd{playerID: "bot-1", action: noopAction})
	assert.Equal(t, before, room.LastActive())

	room.handle(submitActionCmd{playerID: "p1", action: noopAction})
	assert.True(t, room.LastActive().After(before))
}

func TestSweepKeepsNewerRoomForSamePlayer(t *testing.T) {
	m := newTestManager(50 * time.Millisecond)

	old, err := m.CreateRoom("r1", Participant{ID: "p1"}, Participant{ID: "p2"})
	require.NoError(t, err)
	old.finish("p1")

	// p1 starts a new match before the old room is swept.
	next, err := m.CreateRoom("r2", Participant{ID: "p1"}, Participant{ID: "p3"})
	require.NoError(t, err)
	t.Cleanup(next.Stop)

	m.sweep(old.FinishedAt().Add(60 * time.Millisecond))
	assert.Nil(t, m.Get("r1"))
	assert.Same(t, next, m.LiveRoomFor("p1"), "sweeping the old room must not evict the new one")
}
