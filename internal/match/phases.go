package match

import (
	"encoding/json"
	"time"

	"arcduel/internal/event"
	"arcduel/internal/network"
)

// noopAction is recorded for a player who let the SPELL_CASTING deadline
// pass without submitting. It keeps the round advancing with two entries in
// the action map.
var noopAction = json.RawMessage(`{"type":"noop"}`)

func (r *Room) enterSpellCasting() {
	if r.terminal.Load() {
		return
	}
	r.phase = PhaseSpellCasting
	r.actions = make(map[string]json.RawMessage)
	r.trusted = make(map[string]TrustedState)
	r.armPhaseTimer()
	r.broadcastPhase()
	r.scheduleBotActions()
}

func (r *Room) handleSubmitAction(cmd submitActionCmd) {
	if r.terminal.Load() {
		return
	}
	if !r.HasPlayer(cmd.playerID) {
		return
	}
	if r.phase != PhaseSpellCasting {
		r.notifyError(cmd.playerID, "action submitted outside SPELL_CASTING")
		return
	}
	if len(cmd.action) == 0 {
		r.notifyError(cmd.playerID, "empty action")
		return
	}

	// Idempotent on playerID: a re-submission replaces, never adds.
	r.actions[cmd.playerID] = cmd.action

	if len(r.actions) == len(r.players) {
		r.stopPhaseTimer()
		r.enterSpellPropagation()
	}
}

func (r *Room) enterSpellPropagation() {
	r.phase = PhaseSpellPropagation
	r.broadcastPhase()

	// Both actions are finalized before either participant sees anything;
	// one message is built and handed to both sides.
	reveal := make(map[string]json.RawMessage, len(r.actions))
	for id, a := range r.actions {
		reveal[id] = a
	}
	r.broadcast(network.NewMessage(event.TypeActionsReveal, event.ActionsRevealed{
		RoomID:  r.id,
		Round:   r.round,
		Actions: reveal,
	}))

	r.enterSpellEffects()
}

func (r *Room) enterSpellEffects() {
	r.phase = PhaseSpellEffects
	r.armPhaseTimer()
	r.broadcastPhase()
	r.scheduleBotTrustedStates()
}

func (r *Room) handleSubmitTrusted(cmd submitTrustedCmd) {
	if r.terminal.Load() {
		return
	}
	if !r.HasPlayer(cmd.playerID) {
		return
	}
	if r.phase != PhaseSpellEffects {
		r.notifyError(cmd.playerID, "trusted state submitted outside SPELL_EFFECTS")
		return
	}
	if cmd.commit == "" {
		r.notifyError(cmd.playerID, "missing state commit")
		return
	}

	// The trusted state is advisory, but it must at least claim the right
	// identity: a submission whose publicState names another player is
	// rejected outright.
	var claim struct {
		PlayerID string `json:"playerId"`
	}
	if err := json.Unmarshal(cmd.public, &claim); err != nil || claim.PlayerID != cmd.playerID {
		r.notifyError(cmd.playerID, "publicState.playerId does not match submitting identity")
		return
	}

	r.trusted[cmd.playerID] = TrustedState{StateCommit: cmd.commit, Public: cmd.public}

	if len(r.trusted) == len(r.players) {
		r.stopPhaseTimer()
		r.enterEndOfRound()
	}
}

// onPhaseDeadline is the DeadlineExpiry path: never an error, always a
// forced transition with the best data available.
func (r *Room) onPhaseDeadline() {
	if r.terminal.Load() {
		return
	}
	r.phaseTimer = nil
	r.deadline = time.Time{}

	switch r.phase {
	case PhaseSpellCasting:
		for _, p := range r.players {
			if _, ok := r.actions[p.ID]; !ok {
				r.actions[p.ID] = noopAction
			}
		}
		r.enterSpellPropagation()

	case PhaseSpellEffects:
		// A missing side's last-known state is carried forward unchanged.
		for _, p := range r.players {
			if _, ok := r.trusted[p.ID]; !ok {
				r.trusted[p.ID] = r.carriedForward(p.ID)
			}
		}
		r.enterEndOfRound()

	default:
		// Server-driven phases do not arm the timer; a stray expiry from a
		// racing Stop is ignored.
	}
}

func (r *Room) carriedForward(playerID string) TrustedState {
	if prev, ok := r.lastTrusted[playerID]; ok {
		return prev
	}
	public, _ := json.Marshal(map[string]any{"playerId": playerID, "carriedForward": true})
	return TrustedState{StateCommit: "", Public: public}
}

func (r *Room) enterEndOfRound() {
	r.phase = PhaseEndOfRound
	r.broadcastPhase()

	// Round-local terminal evaluation: reports accepted during this round
	// finalize here at the latest, before the room advances.
	if len(r.pending) > 0 {
		r.finalizeResolution()
	}
	if r.terminal.Load() {
		return
	}
	r.enterStateUpdate()
}

func (r *Room) enterStateUpdate() {
	r.phase = PhaseStateUpdate
	r.broadcastPhase()

	states := make(map[string]event.TrustedStateView, len(r.trusted))
	for id, ts := range r.trusted {
		states[id] = event.TrustedStateView{StateCommit: ts.StateCommit, PublicState: ts.Public}
	}
	r.broadcast(network.NewMessage(event.TypeStateBroadcast, event.StateBroadcast{
		RoomID: r.id,
		Round:  r.round,
		States: states,
	}))

	for id, ts := range r.trusted {
		r.lastTrusted[id] = ts
	}
	r.round++
	r.enterSpellCasting()
}

func (r *Room) broadcastPhase() {
	r.broadcast(network.NewMessage(event.TypePhaseBegan, event.PhaseBegan{
		RoomID:   r.id,
		Phase:    r.phase,
		Round:    r.round,
		Deadline: r.deadline,
	}))
}

// scheduleBotActions computes bot submissions off the actor goroutine so a
// slow decision cannot stall this room's select loop, let alone another
// room's. A decision that misses the deadline is simply superseded by the
// forced no-op.
func (r *Room) scheduleBotActions() {
	snapDeadline := r.deadline
	for _, p := range r.players {
		if p.Bot == nil {
			continue
		}
		driver := p.Bot
		snap := r.publicSnapshot(p.ID, snapDeadline, nil)
		go func() {
			action := driver.DecideAction(snap)
			if len(action) == 0 {
				return
			}
			r.SubmitAction(driver.ID(), action)
		}()
	}
}

func (r *Room) scheduleBotTrustedStates() {
	snapDeadline := r.deadline
	revealed := make(map[string]json.RawMessage, len(r.actions))
	for id, a := range r.actions {
		revealed[id] = a
	}
	for _, p := range r.players {
		if p.Bot == nil {
			continue
		}
		driver := p.Bot
		snap := r.publicSnapshot(p.ID, snapDeadline, revealed)
		go func() {
			commit, public, dead := driver.DecideTrustedState(snap)
			if commit != "" && len(public) > 0 {
				r.SubmitTrustedState(driver.ID(), commit, public)
			}
			if dead {
				r.ReportDeath(TerminationReport{
					ReportingPlayerID: driver.ID(),
					SubjectPlayerID:   driver.ID(),
				})
			}
		}()
	}
}

// publicSnapshot builds the bot-visible view. Only already-public data goes
// in: revealed actions and previously broadcast states, never the
// opponent's in-flight submission.
func (r *Room) publicSnapshot(selfID string, deadline time.Time, revealed map[string]json.RawMessage) PublicSnapshot {
	lastPublic := make(map[string]json.RawMessage, len(r.lastTrusted))
	for id, ts := range r.lastTrusted {
		lastPublic[id] = ts.Public
	}
	return PublicSnapshot{
		RoomID:          r.id,
		SelfID:          selfID,
		OpponentID:      r.opponentOf(selfID),
		Phase:           r.phase,
		Round:           r.round,
		Deadline:        deadline,
		RevealedActions: revealed,
		LastPublic:      lastPublic,
	}
}
