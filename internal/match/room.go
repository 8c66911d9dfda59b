package match

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"arcduel/internal/event"
	"arcduel/internal/network"
)

// Room is the per-match state container. All mutable state below the
// command channel is owned by the run goroutine; external callers interact
// exclusively through the exported methods, which post commands. Two rooms
// never share anything, so a fault or a slow client in one room cannot
// affect another.
type Room struct {
	id      string
	players [2]Participant

	notifier Notifier
	rewards  Rewarder
	log      zerolog.Logger

	phaseDeadline    time.Duration
	resolutionWindow time.Duration

	cmds  chan command
	start chan struct{}
	quit  chan struct{}

	stopOnce  sync.Once
	startOnce sync.Once

	terminal   atomic.Bool
	winner     atomic.Value // string
	finishedAt atomic.Int64 // unix nano, 0 while live
	lastActive atomic.Int64 // unix nano of the last human-originated command

	// Actor-owned state. Never touched outside run().
	phase       string
	round       int
	deadline    time.Time
	actions     map[string]json.RawMessage
	trusted     map[string]TrustedState
	lastTrusted map[string]TrustedState
	pending     map[string]bool // termination subjects accepted this window

	phaseTimer    *time.Timer
	finalizeTimer *time.Timer
}

// Options carries the room tunables. AbandonAfter is read by the manager:
// a live room with no human-originated command for that long is considered
// abandoned and torn down by the sweep.
type Options struct {
	PhaseDeadline    time.Duration
	ResolutionWindow time.Duration
	AbandonAfter     time.Duration
}

type command interface{ isCommand() }

type submitActionCmd struct {
	playerID string
	action   json.RawMessage
}

type submitTrustedCmd struct {
	playerID string
	commit   string
	public   json.RawMessage
}

type reportDeathCmd struct{ report TerminationReport }

type snapshotCmd struct {
	playerID string
	reply    chan event.Snapshot
}

func (submitActionCmd) isCommand()  {}
func (submitTrustedCmd) isCommand() {}
func (reportDeathCmd) isCommand()   {}
func (snapshotCmd) isCommand()      {}

// NewRoom builds a room but does not start it; call Start once the
// match-found notifications are out so clients never observe a phase before
// they know the room exists.
func NewRoom(id string, a, b Participant, notifier Notifier, rewards Rewarder, opts Options, log zerolog.Logger) *Room {
	r := &Room{
		id:               id,
		players:          [2]Participant{a, b},
		notifier:         notifier,
		rewards:          rewards,
		log:              log.With().Str("room", id).Logger(),
		phaseDeadline:    opts.PhaseDeadline,
		resolutionWindow: opts.ResolutionWindow,
		cmds:             make(chan command, 16),
		start:            make(chan struct{}),
		quit:             make(chan struct{}),
		round:            1,
		actions:          make(map[string]json.RawMessage),
		trusted:          make(map[string]TrustedState),
		lastTrusted:      make(map[string]TrustedState),
		pending:          make(map[string]bool),
	}
	r.lastActive.Store(time.Now().UnixNano())
	go r.run()
	return r
}

func (r *Room) ID() string { return r.id }

// PlayerIDs returns both participant ids in slot order.
func (r *Room) PlayerIDs() [2]string {
	return [2]string{r.players[0].ID, r.players[1].ID}
}

func (r *Room) HasPlayer(playerID string) bool {
	return r.players[0].ID == playerID || r.players[1].ID == playerID
}

func (r *Room) Terminal() bool { return r.terminal.Load() }

// Winner returns the recorded outcome, empty while the match is live.
func (r *Room) Winner() string {
	if v := r.winner.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// FinishedAt returns when the room went terminal, zero while live. The
// manager uses it for the grace-period sweep.
func (r *Room) FinishedAt() time.Time {
	n := r.finishedAt.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Start releases the run loop into round one.
func (r *Room) Start() {
	r.startOnce.Do(func() { close(r.start) })
}

// Stop tears the room down. Pending commands are discarded; callers racing
// a stop simply become no-ops.
func (r *Room) Stop() {
	r.stopOnce.Do(func() { close(r.quit) })
}

// SubmitAction records a SPELL_CASTING submission for playerID.
// Re-submission before the phase closes replaces the prior action.
func (r *Room) SubmitAction(playerID string, action json.RawMessage) {
	r.post(submitActionCmd{playerID: playerID, action: action})
}

// SubmitTrustedState records a SPELL_EFFECTS trusted-state submission.
func (r *Room) SubmitTrustedState(playerID, commit string, public json.RawMessage) {
	r.post(submitTrustedCmd{playerID: playerID, commit: commit, public: public})
}

// ReportDeath feeds a termination report to the resolution engine. Invalid
// reports are dropped inside the actor without any observable effect.
func (r *Room) ReportDeath(report TerminationReport) {
	r.post(reportDeathCmd{report: report})
}

// Snapshot returns the last-known phase/state view for playerID, used on
// reattachment. ok is false if the room is already torn down.
func (r *Room) Snapshot(playerID string) (event.Snapshot, bool) {
	reply := make(chan event.Snapshot, 1)
	select {
	case r.cmds <- snapshotCmd{playerID: playerID, reply: reply}:
	case <-r.quit:
		return event.Snapshot{}, false
	}
	select {
	case snap := <-reply:
		return snap, true
	case <-r.quit:
		return event.Snapshot{}, false
	}
}

func (r *Room) post(c command) {
	select {
	case r.cmds <- c:
	case <-r.quit:
	}
}

// run is the room's single-writer loop. The phase timer, the resolution
// finalize timer and inbound commands all race here, making the select the
// one arbiter the concurrency model calls for.
func (r *Room) run() {
	defer func() {
		if rec := recover(); rec != nil {
			// A fault stays confined to this room. The match cannot be
			// trusted to continue, so it closes as a draw.
			r.log.Error().Interface("panic", rec).Msg("room goroutine panicked")
			r.finish(WinnerDraw)
		}
		r.stopTimers()
	}()

	select {
	case <-r.start:
	case <-r.quit:
		return
	}

	r.enterSpellCasting()

	for {
		select {
		case c := <-r.cmds:
			r.handle(c)
		case <-r.phaseTimerC():
			r.onPhaseDeadline()
		case <-r.finalizeTimerC():
			r.finalizeResolution()
		case <-r.quit:
			return
		}
	}
}

func (r *Room) handle(c command) {
	switch cmd := c.(type) {
	case submitActionCmd:
		r.touchHuman(cmd.playerID)
		r.handleSubmitAction(cmd)
	case submitTrustedCmd:
		r.touchHuman(cmd.playerID)
		r.handleSubmitTrusted(cmd)
	case reportDeathCmd:
		r.touchHuman(cmd.report.ReportingPlayerID)
		r.handleReportDeath(cmd.report)
	case snapshotCmd:
		r.touchHuman(cmd.playerID)
		cmd.reply <- r.buildSnapshot(cmd.playerID)
	}
}

// touchHuman records liveness for the abandonment sweep. Bot submissions
// do not count: a bot keeps playing indefinitely, and a bot match whose
// human has vanished is exactly the abandoned case.
func (r *Room) touchHuman(playerID string) {
	for _, p := range r.players {
		if p.ID == playerID && p.Bot == nil {
			r.lastActive.Store(time.Now().UnixNano())
			return
		}
	}
}

// LastActive returns the time of the last human-originated command, the
// room's creation time if there has been none.
func (r *Room) LastActive() time.Time {
	return time.Unix(0, r.lastActive.Load())
}

func (r *Room) buildSnapshot(playerID string) event.Snapshot {
	submitted := false
	switch r.phase {
	case PhaseSpellCasting:
		_, submitted = r.actions[playerID]
	case PhaseSpellEffects:
		_, submitted = r.trusted[playerID]
	}
	return event.Snapshot{
		RoomID:    r.id,
		Opponent:  r.opponentOf(playerID),
		Phase:     r.phase,
		Round:     r.round,
		Deadline:  r.deadline,
		Terminal:  r.terminal.Load(),
		WinnerID:  r.Winner(),
		Submitted: submitted,
	}
}

func (r *Room) opponentOf(playerID string) string {
	if r.players[0].ID == playerID {
		return r.players[1].ID
	}
	return r.players[0].ID
}

// broadcast delivers the same message to both participants. The message is
// built once before any delivery, so neither side can observe a payload the
// other has not been handed yet.
func (r *Room) broadcast(msg network.Message) {
	for _, p := range r.players {
		r.notifier.Deliver(p.ID, msg)
	}
}

func (r *Room) notifyError(playerID, reason string) {
	r.notifier.Deliver(playerID, event.Error(reason))
}

func (r *Room) phaseTimerC() <-chan time.Time {
	if r.phaseTimer == nil {
		return nil
	}
	return r.phaseTimer.C
}

func (r *Room) finalizeTimerC() <-chan time.Time {
	if r.finalizeTimer == nil {
		return nil
	}
	return r.finalizeTimer.C
}

func (r *Room) armPhaseTimer() {
	r.stopPhaseTimer()
	r.deadline = time.Now().Add(r.phaseDeadline)
	r.phaseTimer = time.NewTimer(r.phaseDeadline)
}

// stopPhaseTimer also clears the advertised deadline: phases that arm no
// timer must not expose the previous phase's, already-past, deadline in
// snapshots or phase events.
func (r *Room) stopPhaseTimer() {
	if r.phaseTimer != nil {
		r.phaseTimer.Stop()
		r.phaseTimer = nil
	}
	r.deadline = time.Time{}
}

func (r *Room) stopTimers() {
	r.stopPhaseTimer()
	if r.finalizeTimer != nil {
		r.finalizeTimer.Stop()
		r.finalizeTimer = nil
	}
}
