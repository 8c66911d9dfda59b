package match

import (
	"encoding/json"
	"time"

	"arcduel/internal/network"
)

// Round phases, in fixed cyclic order.
const (
	PhaseSpellCasting     = "SPELL_CASTING"
	PhaseSpellPropagation = "SPELL_PROPAGATION"
	PhaseSpellEffects     = "SPELL_EFFECTS"
	PhaseEndOfRound       = "END_OF_ROUND"
	PhaseStateUpdate      = "STATE_UPDATE"
)

// WinnerDraw is the winner id recorded when both participants are
// eliminated inside the same resolution window.
const WinnerDraw = "draw"

// Notifier delivers an outbound message to a player if a connection for
// that identity exists. Delivery is best-effort: offline players and bot
// identities simply drop.
type Notifier interface {
	Deliver(playerID string, msg network.Message)
}

// Rewarder is the narrow outbound interface to the inventory collaborator.
// CreditReward is fire-and-forget; implementations log failures and never
// block the caller on downstream health.
type Rewarder interface {
	CreditReward(playerID string, payload any)
}

// BotDriver produces submissions for a bot slot. Implementations receive
// only their own private state and the public snapshot passed in; they must
// hold no reference to any other room.
type BotDriver interface {
	ID() string
	DecideAction(snap PublicSnapshot) json.RawMessage
	// DecideTrustedState also reports whether the bot considers itself
	// eliminated; the room converts that into a termination report, the
	// same way a human client reports its own death.
	DecideTrustedState(snap PublicSnapshot) (commit string, public json.RawMessage, dead bool)
}

// Participant is one of the two slots in a room. Bot is nil for humans.
type Participant struct {
	ID    string
	Setup json.RawMessage
	Bot   BotDriver
}

// TrustedState is the client-computed round outcome: a commitment plus the
// public portion. The engine validates identity and shape only; the commit
// is advisory and never recomputed server-side.
type TrustedState struct {
	StateCommit string
	Public      json.RawMessage
}

// TerminationReport claims that Subject has been eliminated. Reports are
// consumed immediately and never persisted.
type TerminationReport struct {
	ReportingPlayerID string
	SubjectPlayerID   string
}

// PublicSnapshot is the publicly visible slice of a room handed to bot
// decision functions. It contains nothing the opponent could not also see.
type PublicSnapshot struct {
	RoomID          string
	SelfID          string
	OpponentID      string
	Phase           string
	Round           int
	Deadline        time.Time
	RevealedActions map[string]json.RawMessage
	LastPublic      map[string]json.RawMessage
}
