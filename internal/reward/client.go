// Package reward is the engine's only outbound surface: crediting rewards
// after a match and reading a player's level for matchmaking. Both calls go
// over NATS; neither is allowed to block or fail a match.
package reward

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const (
	subjectCredit = "arcduel.reward.credit"
	subjectLevel  = "arcduel.profile.level"

	// defaultLevel is assumed whenever the profile service cannot answer;
	// matchmaking proceeds rather than waiting on a collaborator.
	defaultLevel = 1
)

// Service is what the engine depends on; Client and Noop both satisfy it.
type Service interface {
	CreditReward(playerID string, payload any)
	ReadPlayerLevel(ctx context.Context, playerID string) int
}

// Client talks to the inventory collaborator over NATS.
type Client struct {
	nc  *nats.Conn
	log zerolog.Logger
}

func NewClient(nc *nats.Conn, log zerolog.Logger) *Client {
	return &Client{
		nc:  nc,
		log: log.With().Str("component", "reward").Logger(),
	}
}

type creditMessage struct {
	PlayerID string    `json:"playerId"`
	Payload  any       `json:"payload"`
	SentAt   time.Time `json:"sentAt"`
}

// CreditReward publishes the credit fire-and-forget. A failure is logged
// and dropped: the match outcome is already final and is never rolled back
// or retried on account of the reward pipeline.
func (c *Client) CreditReward(playerID string, payload any) {
	data, err := json.Marshal(creditMessage{PlayerID: playerID, Payload: payload, SentAt: time.Now()})
	if err != nil {
		c.log.Error().Err(err).Str("player", playerID).Msg("credit marshal failed")
		return
	}
	if err := c.nc.Publish(subjectCredit, data); err != nil {
		c.log.Warn().Err(err).Str("player", playerID).Msg("reward credit publish failed")
	}
}

type levelRequest struct {
	PlayerID string `json:"playerId"`
}

type levelResponse struct {
	Level int `json:"level"`
}

// ReadPlayerLevel asks the profile service for the player's level, bounded
// by ctx. Any failure degrades to the default level.
func (c *Client) ReadPlayerLevel(ctx context.Context, playerID string) int {
	data, err := json.Marshal(levelRequest{PlayerID: playerID})
	if err != nil {
		return defaultLevel
	}
	msg, err := c.nc.RequestWithContext(ctx, subjectLevel, data)
	if err != nil {
		c.log.Debug().Err(err).Str("player", playerID).Msg("level lookup failed, using default")
		return defaultLevel
	}
	var resp levelResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil || resp.Level < 1 {
		return defaultLevel
	}
	return resp.Level
}
