// Package cluster registers the engine with consul so the fleet's load
// balancer can discover it. Registration is optional: with no consul
// address configured the engine runs standalone.
package cluster

import (
	"fmt"
	"net/http"
	"os"

	consul "github.com/hashicorp/consul/api"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Options describes one service registration.
type Options struct {
	ConsulAddr  string
	ServiceName string
	ServicePort int
	HealthPort  int
}

// Register announces the service to consul with an HTTP health check. The
// check deregisters the instance automatically if it stays critical, so a
// crashed engine disappears from discovery without manual cleanup.
func Register(opts Options, log zerolog.Logger) error {
	cfg := consul.DefaultConfig()
	cfg.Address = opts.ConsulAddr

	client, err := consul.NewClient(cfg)
	if err != nil {
		return errors.Wrap(err, "create consul client")
	}

	hostname := os.Getenv("HOSTNAME")
	if hostname == "" {
		hostname, _ = os.Hostname()
	}
	serviceID := fmt.Sprintf("%s-%s", opts.ServiceName, hostname)

	registration := &consul.AgentServiceRegistration{
		ID:   serviceID,
		Name: opts.ServiceName,
		Port: opts.ServicePort,
		Check: &consul.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d/healthz", hostname, opts.HealthPort),
			Timeout:                        "5s",
			Interval:                       "10s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}

	if err := client.Agent().ServiceRegister(registration); err != nil {
		return errors.Wrap(err, "register service")
	}

	log.Info().Str("service", opts.ServiceName).Str("id", serviceID).Msg("registered with consul")
	return nil
}

// HealthHandler answers the consul health check.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	}
}
