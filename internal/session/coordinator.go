package session

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"arcduel/internal/bot"
	"arcduel/internal/event"
	"arcduel/internal/match"
	"arcduel/internal/network"
	"arcduel/internal/queue"
)

// Coordinator turns queue pairings into running rooms. It is the only place
// that knows about the match manager, the bot supervisor and the registry
// at the same time.
type Coordinator struct {
	matches  *match.Manager
	bots     *bot.Supervisor
	registry *Registry
	log      zerolog.Logger
}

var _ queue.MatchStarter = (*Coordinator)(nil)

func NewCoordinator(matches *match.Manager, bots *bot.Supervisor, registry *Registry, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		matches:  matches,
		bots:     bots,
		registry: registry,
		log:      log.With().Str("component", "coordinator").Logger(),
	}
}

// StartMatch creates the room for two paired tickets and announces it to
// both identities before the first phase begins. The notification carries
// the opponent's public identity and setup payload, nothing else.
func (c *Coordinator) StartMatch(a, b queue.Ticket) error {
	roomID := uuid.NewString()
	room, err := c.matches.CreateRoom(roomID,
		match.Participant{ID: a.PlayerID, Setup: a.Setup},
		match.Participant{ID: b.PlayerID, Setup: b.Setup},
	)
	if err != nil {
		c.log.Error().Err(err).Str("p1", a.PlayerID).Str("p2", b.PlayerID).Msg("room creation failed")
		return err
	}

	c.announce(a.PlayerID, roomID, b)
	c.announce(b.PlayerID, roomID, a)
	room.Start()
	return nil
}

// StartBotMatch fills the second slot with a freshly spawned bot whose
// state belongs to this room alone.
func (c *Coordinator) StartBotMatch(t queue.Ticket) error {
	roomID := uuid.NewString()
	participant := c.bots.Spawn(roomID, difficultyFor(t.Bucket))

	room, err := c.matches.CreateRoom(roomID,
		match.Participant{ID: t.PlayerID, Setup: t.Setup},
		match.Participant{ID: participant.ID(), Bot: participant},
	)
	if err != nil {
		c.log.Error().Err(err).Str("player", t.PlayerID).Msg("bot room creation failed")
		return err
	}

	c.registry.Deliver(t.PlayerID, network.NewMessage(event.TypeMatchFound, event.MatchFound{
		RoomID:   roomID,
		Opponent: participant.ID(),
	}))
	room.Start()
	return nil
}

func (c *Coordinator) announce(playerID, roomID string, opponent queue.Ticket) {
	c.registry.Deliver(playerID, network.NewMessage(event.TypeMatchFound, event.MatchFound{
		RoomID:        roomID,
		Opponent:      opponent.PlayerID,
		OpponentSetup: opponent.Setup,
	}))
}

// difficultyFor derives bot difficulty from the level bucket: stronger
// buckets get a sharper bot.
func difficultyFor(bucket string) int {
	switch bucket {
	case "level-0":
		return 1
	case "level-1":
		return 2
	default:
		return 3
	}
}
