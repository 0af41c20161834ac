// Package config loads server settings from .env, the environment and
// command line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/d-j7code/GOOGLY/internal/engine"
	"github.com/d-j7code/GOOGLY/internal/lobby"
)

type Config struct {
	Addr      string `env:"ADDR"       envDefault:":8080"`
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	CountdownFrom    int           `env:"COUNTDOWN_FROM"    envDefault:"3"`
	Tick             time.Duration `env:"TICK"              envDefault:"1s"`
	SelectionTimeout time.Duration `env:"SELECTION_TIMEOUT" envDefault:"4s"`
	RevealDelay      time.Duration `env:"REVEAL_DELAY"      envDefault:"3s"`
	MinNumber        int           `env:"MIN_NUMBER"        envDefault:"1"`
	MaxNumber        int           `env:"MAX_NUMBER"        envDefault:"6"`

	AllowedOrigins []string      `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"localhost:*,127.0.0.1:*"`
	PingInterval   time.Duration `env:"PING_INTERVAL"   envDefault:"30s"`

	// Match archive sinks; each is enabled by a non-empty value.
	DatabaseURL string `env:"DATABASE_URL"`
	NATSURL     string `env:"NATS_URL"`
	NATSSubject string `env:"NATS_SUBJECT" envDefault:"handcricket.matches.finished"`
}

// Load reads .env if present, then the environment, then args.
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.parseFlags(args); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) parseFlags(args []string) error {
	flags := flag.NewFlagSet("googly", flag.ContinueOnError)

	flags.StringVarP(&c.Addr, "addr", "a", c.Addr, "HTTP listen address")
	flags.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	flags.StringVar(&c.LogFormat, "log-format", c.LogFormat, "json or console")

	flags.IntVar(&c.CountdownFrom, "countdown-from", c.CountdownFrom, "First countdown value of a round")
	flags.DurationVar(&c.Tick, "tick", c.Tick, "Interval between countdown ticks")
	flags.DurationVar(&c.SelectionTimeout, "selection-timeout", c.SelectionTimeout, "Time players have to pick a number")
	flags.DurationVar(&c.RevealDelay, "reveal-delay", c.RevealDelay, "Pause after a round result")

	flags.StringSliceVar(&c.AllowedOrigins, "allowed-origins", c.AllowedOrigins, "Origin patterns accepted for websockets and CORS")
	flags.DurationVar(&c.PingInterval, "ping-interval", c.PingInterval, "Websocket keepalive interval (0 disables)")

	flags.StringVar(&c.DatabaseURL, "database-url", c.DatabaseURL, "Postgres DSN for the match archive")
	flags.StringVar(&c.NATSURL, "nats-url", c.NATSURL, "NATS server for match events")
	flags.StringVar(&c.NATSSubject, "nats-subject", c.NATSSubject, "Subject finished matches are published on")

	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error

	if c.Addr == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		errs = append(errs, fmt.Errorf("log format %q: want json or console", c.LogFormat))
	}
	if c.CountdownFrom < 0 {
		errs = append(errs, errors.New("countdown must not be negative"))
	}
	if c.Tick <= 0 || c.SelectionTimeout <= 0 {
		errs = append(errs, errors.New("tick and selection timeout must be positive"))
	}
	if c.RevealDelay < 0 || c.PingInterval < 0 {
		errs = append(errs, errors.New("reveal delay and ping interval must not be negative"))
	}
	// 0 is reserved for a player who let the selection time out.
	if c.MinNumber < 1 || c.MaxNumber < c.MinNumber {
		errs = append(errs, fmt.Errorf("number range %d..%d is invalid", c.MinNumber, c.MaxNumber))
	}
	if c.NATSURL != "" && c.NATSSubject == "" {
		errs = append(errs, errors.New("nats subject required when nats url is set"))
	}

	return errors.Join(errs...)
}

func (c Config) Rules() engine.Rules {
	return engine.Rules{
		CountdownFrom: c.CountdownFrom,
		MinNumber:     c.MinNumber,
		MaxNumber:     c.MaxNumber,
	}
}

// LobbyConfig returns the per-room configuration builder used by the hub.
// archiver may be nil.
func (c Config) LobbyConfig(logger *zap.Logger, archiver lobby.Archiver) func(code string) lobby.Config {
	return func(code string) lobby.Config {
		cfg := lobby.DefaultConfig(code)
		cfg.Rules = c.Rules()
		cfg.Tick = c.Tick
		cfg.SelectionTimeout = c.SelectionTimeout
		cfg.RevealDelay = c.RevealDelay
		cfg.Logger = logger
		cfg.Archiver = archiver
		return cfg
	}
}

func NewLogger(c Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if c.LogFormat == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
