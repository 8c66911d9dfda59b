package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

// Config holds the engine server configuration, loaded from environment
// variables.
type Config struct {
	ListenAddr string `env:"ARCDUEL_LISTEN_ADDR" envDefault:":8080"`

	// PhaseDeadline bounds every input-gathering phase of a round. Expiry
	// forces a transition with best-available data, it never stalls a match.
	PhaseDeadline time.Duration `env:"ARCDUEL_PHASE_DEADLINE" envDefault:"10s"`

	// ResolutionWindow is how long a first valid termination report waits
	// before finalizing, so a simultaneous report against the other
	// participant can still convert the outcome into a draw.
	ResolutionWindow time.Duration `env:"ARCDUEL_RESOLUTION_WINDOW" envDefault:"250ms"`

	// PairInterval is the matchmaking tick; pairing also runs on every
	// enqueue.
	PairInterval time.Duration `env:"ARCDUEL_PAIR_INTERVAL" envDefault:"1s"`

	// RoomGrace is how long a terminal room stays resolvable after the game
	// ends, covering late reconnects that still want the final snapshot.
	RoomGrace time.Duration `env:"ARCDUEL_ROOM_GRACE" envDefault:"30s"`

	// RoomAbandon is how long a live room survives without any
	// human-originated command before it is torn down as abandoned.
	RoomAbandon time.Duration `env:"ARCDUEL_ROOM_ABANDON" envDefault:"5m"`

	NATSURL string `env:"ARCDUEL_NATS_URL"`

	ConsulAddr  string `env:"CONSUL_HTTP_ADDR"`
	ServiceName string `env:"ARCDUEL_SERVICE_NAME" envDefault:"arcduel-engine"`
	ServicePort int    `env:"ARCDUEL_SERVICE_PORT" envDefault:"8080"`
	HealthPort  int    `env:"ARCDUEL_HEALTH_PORT" envDefault:"8080"`

	LogLevel string `env:"ARCDUEL_LOG_LEVEL" envDefault:"info"`
}

// Load parses the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "parse env")
	}
	return cfg, nil
}
