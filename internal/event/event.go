// Package event defines the wire vocabulary between the engine and its
// clients: inbound command types, outbound event types, and their payloads.
package event

import (
	"encoding/json"
	"time"

	"arcduel/internal/network"
)

// Inbound message types.
const (
	TypeHello              = "hello"
	TypeEnqueue            = "enqueue"
	TypeEnqueueBot         = "enqueue_bot"
	TypeCancelQueue        = "cancel_queue"
	TypeSubmitAction       = "submit_action"
	TypeSubmitTrustedState = "submit_trusted_state"
	TypeReportDeath        = "report_death"
)

// Outbound event types.
const (
	TypeQueued         = "queued"
	TypeMatchFound     = "match_found"
	TypePhaseBegan     = "phase_began"
	TypeActionsReveal  = "actions_revealed"
	TypeStateBroadcast = "state_broadcast"
	TypeGameEnd        = "game_end"
	TypeProtocolError  = "protocol_error"
	TypeReattached     = "reattached"
	TypeWelcome        = "welcome"
)

// Hello is the first message on every connection. PlayerID is the stable
// client-supplied identity; Nonce and Signature are carried through for the
// fronting auth layer and validated only structurally here.
type Hello struct {
	PlayerID  string `json:"playerId"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

// Enqueue asks for matchmaking. Setup is the opaque loadout payload handed
// to the opponent's client on match start; the engine never inspects it.
type Enqueue struct {
	Setup json.RawMessage `json:"setup,omitempty"`
}

// SubmitAction carries one SPELL_CASTING submission: movement plus an
// optional spell cast, opaque to the engine.
type SubmitAction struct {
	RoomID string          `json:"roomId"`
	Action json.RawMessage `json:"action"`
}

// SubmitTrustedState carries the client-computed round outcome.
type SubmitTrustedState struct {
	RoomID      string          `json:"roomId"`
	StateCommit string          `json:"stateCommit"`
	PublicState json.RawMessage `json:"publicState"`
}

// ReportDeath claims that Subject has been eliminated.
type ReportDeath struct {
	RoomID  string `json:"roomId"`
	Subject string `json:"subjectPlayerId"`
}

// --- Outbound payloads ---

type Queued struct {
	Position int `json:"position"`
}

type MatchFound struct {
	RoomID        string          `json:"roomId"`
	Opponent      string          `json:"opponentId"`
	OpponentSetup json.RawMessage `json:"opponentSetup,omitempty"`
}

type PhaseBegan struct {
	RoomID   string    `json:"roomId"`
	Phase    string    `json:"phase"`
	Round    int       `json:"round"`
	Deadline time.Time `json:"deadline"`
}

type ActionsRevealed struct {
	RoomID  string                     `json:"roomId"`
	Round   int                        `json:"round"`
	Actions map[string]json.RawMessage `json:"actions"`
}

type TrustedStateView struct {
	StateCommit string          `json:"stateCommit"`
	PublicState json.RawMessage `json:"publicState"`
}

type StateBroadcast struct {
	RoomID string                      `json:"roomId"`
	Round  int                         `json:"round"`
	States map[string]TrustedStateView `json:"states"`
}

type GameEnd struct {
	RoomID   string `json:"roomId"`
	WinnerID string `json:"winnerId"` // participant id or "draw"
	Round    int    `json:"round"`
}

type ProtocolError struct {
	Reason string `json:"reason"`
}

// Snapshot is re-delivered on reattachment: everything a client needs to
// resume rendering the match it was already in.
type Snapshot struct {
	RoomID    string    `json:"roomId"`
	Opponent  string    `json:"opponentId"`
	Phase     string    `json:"phase"`
	Round     int       `json:"round"`
	Deadline  time.Time `json:"deadline"`
	Terminal  bool      `json:"terminal"`
	WinnerID  string    `json:"winnerId,omitempty"`
	Submitted bool      `json:"submitted"` // whether the player already acted this phase
}

func Error(reason string) network.Message {
	return network.NewMessage(TypeProtocolError, ProtocolError{Reason: reason})
}
