package bot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math/rand/v2"
	"sync"

	"github.com/rs/zerolog"

	"arcduel/internal/match"
)

// Participant fills the second slot of a bot match. Its decision functions
// receive only the participant's own private state and the public snapshot
// of its room; there is no path from here to any other room or bot.
type Participant struct {
	id         string
	roomID     string
	difficulty int
	log        zerolog.Logger

	// Private decision state. The mutex covers the rare case of overlapping
	// decision goroutines around a forced phase transition.
	mu         sync.Mutex
	rng        *rand.Rand
	aggression float64
	lastDX     int
	lastDY     int
	hp         int
}

var _ match.BotDriver = (*Participant)(nil)

func (p *Participant) ID() string { return p.id }

// DecideAction produces a syntactically valid SPELL_CASTING submission:
// a movement step plus, depending on aggression, a spell cast.
func (p *Participant) DecideAction(snap match.PublicSnapshot) json.RawMessage {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Drift rather than teleport: bias toward the previous direction so the
	// bot's movement reads as intentional.
	dx, dy := p.lastDX, p.lastDY
	if p.rng.Float64() < 0.4 || (dx == 0 && dy == 0) {
		dx = p.rng.IntN(3) - 1
		dy = p.rng.IntN(3) - 1
	}
	p.lastDX, p.lastDY = dx, dy

	action := map[string]any{
		"type": "move",
		"dx":   dx,
		"dy":   dy,
	}
	if p.rng.Float64() < p.aggression {
		action["spell"] = map[string]any{
			"id":     p.rng.IntN(4) + 1,
			"target": snap.OpponentID,
		}
	}

	raw, err := json.Marshal(action)
	if err != nil {
		p.log.Error().Err(err).Msg("bot action marshal failed")
		return nil
	}
	return raw
}

// DecideTrustedState reports the bot's view of the round outcome. The bot
// trusts the revealed actions at face value: any spell aimed at it costs
// hit points scaled by difficulty. When its hit points hit zero it declares
// itself eliminated, like a client reporting its own death.
func (p *Participant) DecideTrustedState(snap match.PublicSnapshot) (string, json.RawMessage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, raw := range snap.RevealedActions {
		if id == p.id {
			continue
		}
		var act struct {
			Spell *struct {
				Target string `json:"target"`
			} `json:"spell"`
		}
		if err := json.Unmarshal(raw, &act); err != nil || act.Spell == nil {
			continue
		}
		if act.Spell.Target == p.id {
			p.hp -= 20 - 2*p.difficulty
			if p.hp < 0 {
				p.hp = 0
			}
		}
	}

	public, err := json.Marshal(map[string]any{
		"playerId": p.id,
		"round":    snap.Round,
		"hp":       p.hp,
	})
	if err != nil {
		p.log.Error().Err(err).Msg("bot trusted state marshal failed")
		return "", nil, false
	}

	// Advisory commitment over the public state plus a private nonce, the
	// same shape clients produce.
	nonce := make([]byte, 8)
	for i := range nonce {
		nonce[i] = byte(p.rng.IntN(256))
	}
	sum := sha256.Sum256(append(public, nonce...))
	return hex.EncodeToString(sum[:]), public, p.hp <= 0
}
