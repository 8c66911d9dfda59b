// Package bot produces isolated opponents for bot matchmaking. Each
// participant owns its entire decision state; nothing in this package is a
// process-wide mutable singleton, so no bot can observe or influence
// another room.
package bot

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Supervisor spawns bot participants. It is stateless apart from its
// logger; all per-bot state lives on the Participant it hands out.
type Supervisor struct {
	log zerolog.Logger
}

func NewSupervisor(log zerolog.Logger) *Supervisor {
	return &Supervisor{log: log.With().Str("component", "bot-supervisor").Logger()}
}

// Spawn builds a participant for one room. The RNG is seeded independently
// per spawn from crypto entropy, never from a shared counter, so two bots
// in two rooms have uncorrelated behavior.
func (s *Supervisor) Spawn(roomID string, difficulty int) *Participant {
	if difficulty < 1 {
		difficulty = 1
	}
	p := &Participant{
		id:         "bot:" + uuid.NewString(),
		roomID:     roomID,
		difficulty: difficulty,
		rng:        newRNG(),
		aggression: 0.3 + 0.1*float64(difficulty),
		hp:         100,
		log:        s.log.With().Str("room", roomID).Logger(),
	}
	p.log.Debug().Str("bot", p.id).Int("difficulty", difficulty).Msg("bot spawned")
	return p
}

func newRNG() *rand.Rand {
	var buf [16]byte
	if _, err := crand.Read(buf[:]); err != nil {
		// Entropy exhaustion is effectively impossible; the clock fallback
		// still keeps seeds distinct across spawns.
		binary.LittleEndian.PutUint64(buf[:8], uint64(time.Now().UnixNano()))
		binary.LittleEndian.PutUint64(buf[8:], uint64(time.Now().UnixNano())>>1)
	}
	return rand.New(rand.NewPCG(binary.LittleEndian.Uint64(buf[:8]), binary.LittleEndian.Uint64(buf[8:])))
}
