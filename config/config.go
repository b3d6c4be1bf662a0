// Package config reads server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Addr       string `env:"ADDR" envDefault:":8080"`
	BaseURL    string `env:"BASE_URL" envDefault:"http://localhost:8080"`
	LobbyParam string `env:"LOBBY_PARAM" envDefault:"lobby"`

	MaxLobbies int `env:"MAX_LOBBIES" envDefault:"100"`
	MaxPlayers int `env:"MAX_PLAYERS" envDefault:"2"`

	WaitingTimeout time.Duration `env:"WAITING_TIMEOUT" envDefault:"5m"`
	GracePeriod    time.Duration `env:"GRACE_PERIOD" envDefault:"30s"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL" envDefault:"5s"`

	StaticDir   string `env:"STATIC_DIR" envDefault:""`
	TLSCertFile string `env:"TLS_CERT_FILE" envDefault:""`
	TLSKeyFile  string `env:"TLS_KEY_FILE" envDefault:""`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.MaxLobbies < 1 {
		return fmt.Errorf("MAX_LOBBIES must be at least 1, got %d", c.MaxLobbies)
	}
	if c.MaxPlayers != 2 {
		return fmt.Errorf("MAX_PLAYERS must be 2, got %d", c.MaxPlayers)
	}
	if c.WaitingTimeout <= 0 {
		return errors.New("WAITING_TIMEOUT must be positive")
	}
	if c.GracePeriod <= 0 {
		return errors.New("GRACE_PERIOD must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.New("SWEEP_INTERVAL must be positive")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return errors.New("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}
	return nil
}

// TLSEnabled reports whether the server should terminate TLS itself.
func (c Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}
