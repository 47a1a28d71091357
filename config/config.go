// Package config loads server configuration from environment variables.
package config

import (
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

// Config aggregates all configuration sections. Fields are populated from
// environment variables; nested structs carry an envPrefix so their fields
// parse with the given prefix. Use Load to construct one.
type Config struct {
	// Env names the deployment environment (e.g. prod, dev).
	Env string `env:"ENV" envDefault:"dev"`

	HTTP     HTTP     `envPrefix:"HTTP_"`
	Log      Log      `envPrefix:"LOG_"`
	DB       DB       `envPrefix:"DB_"`
	Notifier Notifier `envPrefix:"NOTIFY_"`
}

// HTTP configures the ingestion API server.
type HTTP struct {
	Port uint16 `env:"PORT" envDefault:"8080"`
}

// Log configures zerolog. Level accepts zerolog's textual levels
// (debug, info, warn, error); unknown values fall back to info.
// Format is "json" (default) or "console".
type Log struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

// ZerologLevel converts the textual level into a zerolog.Level.
func (l Log) ZerologLevel() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(l.Level))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// DB configures the SQLite store. Use ":memory:" for an in-memory
// database.
type DB struct {
	Path string `env:"PATH" envDefault:"leadengine.db"`
}

// Notifier configures the background delivery dispatcher.
type Notifier struct {
	Workers   int `env:"WORKERS" envDefault:"4"`
	QueueSize int `env:"QUEUE" envDefault:"256"`
}

// Load reads configuration from environment variables with defaults
// applied for anything unset.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
