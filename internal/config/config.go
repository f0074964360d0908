// Package config loads the node's runtime configuration from the
// environment, grounded on the teacher's requireEnv/getEnvOrDefault
// pattern in cmd/engine/main.go but expressed with envconfig's
// struct-tag binding (spec.md §5).
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds every environment-sourced setting the node needs to
// start. Field names mirror the original denaro node's DENARO_*
// variables plus the teacher's PORT/API_AUTH_TOKEN/ALLOWED_ORIGINS.
type Config struct {
	DatabaseUser     string `envconfig:"DENARO_DATABASE_USER" default:"denaro"`
	DatabasePassword string `envconfig:"DENARO_DATABASE_PASSWORD" default:""`
	DatabaseName     string `envconfig:"DENARO_DATABASE_NAME" default:"denaro"`
	DatabaseHost     string `envconfig:"DENARO_DATABASE_HOST" default:"127.0.0.1"`
	DatabasePort     string `envconfig:"DENARO_DATABASE_PORT" default:"5432"`

	Port           string `envconfig:"PORT" default:"3006"`
	APIAuthToken   string `envconfig:"API_AUTH_TOKEN" default:""`
	AllowedOrigins string `envconfig:"ALLOWED_ORIGINS" default:"*"`

	SelfURL        string  `envconfig:"SELF_URL" default:""`
	BootstrapNodes string  `envconfig:"BOOTSTRAP_NODES" default:""`
	GossipRate     float64 `envconfig:"GOSSIP_RATE_PER_SECOND" default:"5"`
	GossipBurst    int     `envconfig:"GOSSIP_BURST" default:"10"`
}

// Load binds Config from the process environment, applying the
// defaults above for anything unset.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// DSN builds the Postgres connection string NewPostgresStore expects.
func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		c.DatabaseUser, c.DatabasePassword, c.DatabaseHost, c.DatabasePort, c.DatabaseName)
}
