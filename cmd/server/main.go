package main

import (
	"context"
	"net/http"
	"os"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"arcduel/internal/bot"
	"arcduel/internal/cluster"
	"arcduel/internal/config"
	"arcduel/internal/match"
	"arcduel/internal/network"
	"arcduel/internal/queue"
	"arcduel/internal/reward"
	"arcduel/internal/session"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "arcduel-engine").Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		log = log.Level(level)
	}

	var rewards reward.Service = reward.Noop{}
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL,
			nats.Name(cfg.ServiceName),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATSURL).Msg("connect nats")
		}
		defer nc.Drain()
		rewards = reward.NewClient(nc, log)
		log.Info().Str("url", cfg.NATSURL).Msg("connected to nats")
	} else {
		log.Warn().Msg("no nats url configured, rewards are no-ops")
	}

	registry := session.NewRegistry(log)
	matches := match.NewManager(registry, rewards, match.Options{
		PhaseDeadline:    cfg.PhaseDeadline,
		ResolutionWindow: cfg.ResolutionWindow,
		AbandonAfter:     cfg.RoomAbandon,
	}, cfg.RoomGrace, log)
	go matches.Run(context.Background())

	bots := bot.NewSupervisor(log)
	coordinator := session.NewCoordinator(matches, bots, registry, log)
	q := queue.NewService(coordinator, matches, registry, cfg.PairInterval, log)
	defer q.Close()

	router := session.NewRouter(registry, matches, log)
	handler := session.NewGameHandler(registry, router, q, matches, rewards, log)

	server := network.NewServer(handler, log)
	server.Start()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", server.Handler())
	mux.HandleFunc("/healthz", cluster.HealthHandler())

	if cfg.ConsulAddr != "" {
		opts := cluster.Options{
			ConsulAddr:  cfg.ConsulAddr,
			ServiceName: cfg.ServiceName,
			ServicePort: cfg.ServicePort,
			HealthPort:  cfg.HealthPort,
		}
		if err := cluster.Register(opts, log); err != nil {
			log.Fatal().Err(err).Msg("consul registration failed")
		}
	}

	log.Info().Str("addr", cfg.ListenAddr).Msg("engine listening")
	if err := http.ListenAndServe(cfg.ListenAddr, mux); err != nil {
		log.Fatal().Err(err).Msg("http server stopped")
	}
}
