package match

import (
	"time"

	"arcduel/internal/event"
	"arcduel/internal/network"
)

// handleReportDeath is the resolution engine's intake. Every rejection here
// is silent: no state change, no event, nothing a malformed or hostile
// report could use to map out or corrupt a match.
func (r *Room) handleReportDeath(report TerminationReport) {
	if r.terminal.Load() {
		return
	}
	if report.SubjectPlayerID == "" || !r.HasPlayer(report.SubjectPlayerID) {
		r.log.Debug().
			Str("reporter", report.ReportingPlayerID).
			Str("subject", report.SubjectPlayerID).
			Msg("dropping malformed termination report")
		return
	}
	if !r.HasPlayer(report.ReportingPlayerID) {
		return
	}

	first := len(r.pending) == 0
	r.pending[report.SubjectPlayerID] = true

	// The first accepted report opens the resolution window instead of
	// finalizing synchronously. A report against the other participant that
	// lands inside the window turns the outcome into a draw.
	if first {
		r.finalizeTimer = time.NewTimer(r.resolutionWindow)
		return
	}
	if len(r.pending) == len(r.players) {
		r.finalizeResolution()
	}
}

// finalizeResolution converts the accepted reports into the single
// authoritative outcome. It runs at most once per room; END_OF_ROUND and
// the window timer both funnel here.
func (r *Room) finalizeResolution() {
	if r.terminal.Load() || len(r.pending) == 0 {
		return
	}
	if r.finalizeTimer != nil {
		r.finalizeTimer.Stop()
		r.finalizeTimer = nil
	}

	winner := WinnerDraw
	if len(r.pending) == 1 {
		for subject := range r.pending {
			winner = r.opponentOf(subject)
		}
	}
	r.finish(winner)
}

// finish latches the terminal state, emits exactly one gameEnd, and fires
// the reward calls. Safe to call from the recover path as well; the
// compare-and-swap makes every later invocation a no-op.
func (r *Room) finish(winner string) {
	if !r.terminal.CompareAndSwap(false, true) {
		return
	}
	r.winner.Store(winner)
	r.finishedAt.Store(time.Now().UnixNano())
	r.stopTimers()

	r.log.Info().Str("winner", winner).Int("round", r.round).Msg("match finished")

	r.broadcast(network.NewMessage(event.TypeGameEnd, event.GameEnd{
		RoomID:   r.id,
		WinnerID: winner,
		Round:    r.round,
	}))

	// One reward call per participant, winner and loser alike; amounts are
	// the collaborator's business. Failures are logged downstream and never
	// touch the terminal state.
	for _, p := range r.players {
		payload := map[string]any{
			"roomId":  r.id,
			"outcome": outcomeFor(p.ID, winner),
			"rounds":  r.round,
		}
		go r.rewards.CreditReward(p.ID, payload)
	}
}

func outcomeFor(playerID, winner string) string {
	switch winner {
	case WinnerDraw:
		return "draw"
	case playerID:
		return "win"
	default:
		return "loss"
	}
}
