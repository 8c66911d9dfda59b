package session

import (
	"encoding/json"
	"errors"
	"strings"
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

func newTestCoordinator(t *testing.T, opts match.Options) (*Coordinator, *match.Manager, *Registry) {
	t.Helper()
	reg := NewRegistry(zerolog.Nop())
	matches := match.NewManager(reg, reward.Noop{}, opts, time.Minute, zerolog.Nop())
	bots := bot.NewSupervisor(zerolog.Nop())
	return NewCoordinator(matches, bots, reg, zerolog.Nop()), matches, reg
}

func TestStartMatchAnnouncesBothSides(t *testing.T) {
	coord, matches, reg := newTestCoordinator(t, match.Options{
		PhaseDeadline:    2 * time.Second,
		ResolutionWindow: 30 * time.Millisecond,
	})

	s1, s2 := &fakeSender{}, &fakeSender{}
	reg.Bind("p1", "c1", s1)
	reg.Bind("p2", "c2", s2)

	require.NoError(t, coord.StartMatch(
		queue.Ticket{PlayerID: "p1", Setup: []byte(`{"deck":"fire"}`)},
		queue.Ticket{PlayerID: "p2", Setup: []byte(`{"deck":"ice"}`)},
	))

	require.Len(t, s1.ofType(event.TypeMatchFound), 1)
	require.Len(t, s2.ofType(event.TypeMatchFound), 1)

	var forP1, forP2 event.MatchFound
	decodePayload(t, s1.ofType(event.TypeMatchFound)[0], &forP1)
	decodePayload(t, s2.ofType(event.TypeMatchFound)[0], &forP2)

	assert.Equal(t, forP1.RoomID, forP2.RoomID)
	assert.Equal(t, "p2", forP1.Opponent)
	assert.Equal(t, "p1", forP2.Opponent)
	assert.JSONEq(t, `{"deck":"ice"}`, string(forP1.OpponentSetup))
	assert.JSONEq(t, `{"deck":"fire"}`, string(forP2.OpponentSetup))

	room := matches.LiveRoomFor("p1")
	require.NotNil(t, room)
	t.Cleanup(room.Stop)
	assert.Same(t, room, matches.LiveRoomFor("p2"))

	// The room was started: the first phase reaches both players.
	require.Eventually(t, func() bool {
		return len(s1.ofType(event.TypePhaseBegan)) > 0 &&
			len(s2.ofType(event.TypePhaseBegan)) > 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStartMatchRefusesBusyPlayer(t *testing.T) {
	coord, matches, _ := newTestCoordinator(t, match.Options{
		PhaseDeadline:    2 * time.Second,
		ResolutionWindow: 30 * time.Millisecond,
	})

	require.NoError(t, coord.StartMatch(queue.Ticket{PlayerID: "p1"}, queue.Ticket{PlayerID: "p2"}))
	first := matches.LiveRoomFor("p1")
	require.NotNil(t, first)
	t.Cleanup(first.Stop)

	// The error surfaces so the queue can put the innocent ticket back.
	err := coord.StartMatch(queue.Ticket{PlayerID: "p1"}, queue.Ticket{PlayerID: "p3"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, match.ErrPlayerBusy))
	assert.Same(t, first, matches.LiveRoomFor("p1"))
	assert.Nil(t, matches.LiveRoomFor("p3"))
}

// TestBotMatchRunsToCompletion drives a full bot match: the bot submits on
// its own, deadlines cover the silent human, and the human's death report
// ends the game.
func TestBotMatchRunsToCompletion(t *testing.T) {
	coord, matches, reg := newTestCoordinator(t, match.Options{
		PhaseDeadline:    50 * time.Millisecond,
		ResolutionWindow: 30 * time.Millisecond,
	})

	sender := &fakeSender{}
	reg.Bind("p1", "c1", sender)

	require.NoError(t, coord.StartBotMatch(queue.Ticket{PlayerID: "p1", Bucket: "level-0"}))

	require.Len(t, sender.ofType(event.TypeMatchFound), 1)
	var found event.MatchFound
	decodePayload(t, sender.ofType(event.TypeMatchFound)[0], &found)
	assert.True(t, strings.HasPrefix(found.Opponent, "bot:"), "opponent %q is not a bot", found.Opponent)

	room := matches.LiveRoomFor("p1")
	require.NotNil(t, room)
	t.Cleanup(room.Stop)

	// Rounds advance with only the bot submitting.
	require.Eventually(t, func() bool {
		for _, m := range sender.ofType(event.TypePhaseBegan) {
			var pb event.PhaseBegan
			if json.Unmarshal(m.Payload, &pb) == nil && pb.Round >= 2 {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	room.ReportDeath(match.TerminationReport{ReportingPlayerID: "p1", SubjectPlayerID: "p1"})
	require.Eventually(t, room.Terminal, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, found.Opponent, room.Winner())
	require.Eventually(t, func() bool {
		return len(sender.ofType(event.TypeGameEnd)) == 1
	}, 2*time.Second, 5*time.Millisecond)
}
