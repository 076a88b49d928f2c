// Package config reads server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/xjhc/alignment/internal/catalog"
	"github.com/xjhc/alignment/internal/engine"
	"github.com/xjhc/alignment/internal/hub"
	"github.com/xjhc/alignment/internal/lobby"
	"github.com/xjhc/alignment/internal/ws"
)

type Config struct {
	Addr     string `env:"ADDR" envDefault:":8080"`
	Dev      bool   `env:"DEV"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	// AllowedOrigins are websocket origin patterns, e.g. "localhost:5173".
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	CredentialCost int           `env:"CREDENTIAL_COST" envDefault:"10"`
	CredentialTTL  time.Duration `env:"CREDENTIAL_TTL" envDefault:"0"`

	LobbyIdleTTL   time.Duration `env:"LOBBY_IDLE_TTL" envDefault:"30m"`
	LobbyClosedTTL time.Duration `env:"LOBBY_CLOSED_TTL" envDefault:"10m"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`

	WSOutboxSize   int           `env:"WS_OUTBOX_SIZE" envDefault:"32"`
	WSWriteTimeout time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"5s"`
	WSPingInterval time.Duration `env:"WS_PING_INTERVAL" envDefault:"30s"`

	ArchiveDriver string `env:"ARCHIVE_DRIVER" envDefault:"postgres"`
	ArchiveDSN    string `env:"ARCHIVE_DSN"`

	Game Game `envPrefix:"GAME_"`
}

type Game struct {
	MinPlayers         int               `env:"MIN_PLAYERS" envDefault:"4"`
	MaxPlayers         int               `env:"MAX_PLAYERS" envDefault:"8"`
	NightDuration      time.Duration     `env:"NIGHT_DURATION" envDefault:"30s"`
	DiscussionDuration time.Duration     `env:"DISCUSSION_DURATION" envDefault:"60s"`
	NominationDuration time.Duration     `env:"NOMINATION_DURATION" envDefault:"30s"`
	VerdictDuration    time.Duration     `env:"VERDICT_DURATION" envDefault:"20s"`
	PlayersPerMinority int               `env:"PLAYERS_PER_MINORITY" envDefault:"4"`
	MinorityTable      MinorityTable     `env:"MINORITY_TABLE"`
	ParityRule         engine.ParityRule `env:"PARITY_RULE" envDefault:"at_least_equal"`
	MaxRounds          int               `env:"MAX_ROUNDS" envDefault:"7"`
}

// MinorityTable maps exact roster sizes to minority seat counts. Its text
// form is "size:count" pairs separated by commas, e.g. "5:1,9:2".
type MinorityTable map[int]int

func (t *MinorityTable) UnmarshalText(b []byte) error {
	out := MinorityTable{}
	for pair := range strings.SplitSeq(string(b), ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		size, count, ok := strings.Cut(pair, ":")
		if !ok {
			return fmt.Errorf("minority table entry %q: want size:count", pair)
		}
		n, err := strconv.Atoi(strings.TrimSpace(size))
		if err != nil {
			return fmt.Errorf("minority table entry %q: %w", pair, err)
		}
		c, err := strconv.Atoi(strings.TrimSpace(count))
		if err != nil {
			return fmt.Errorf("minority table entry %q: %w", pair, err)
		}
		out[n] = c
	}
	*t = out
	return nil
}

// Load reads an optional .env file and then the process environment. Values
// already set in the environment win over the file.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return Parse()
}

// Parse reads the process environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	g := c.Game
	if g.MinPlayers < 2 {
		errs = append(errs, fmt.Errorf("GAME_MIN_PLAYERS must be at least 2, got %d", g.MinPlayers))
	}
	if g.MaxPlayers < g.MinPlayers {
		errs = append(errs, fmt.Errorf("GAME_MAX_PLAYERS (%d) is below GAME_MIN_PLAYERS (%d)", g.MaxPlayers, g.MinPlayers))
	}
	for name, d := range map[string]time.Duration{
		"GAME_NIGHT_DURATION":      g.NightDuration,
		"GAME_DISCUSSION_DURATION": g.DiscussionDuration,
		"GAME_NOMINATION_DURATION": g.NominationDuration,
		"GAME_VERDICT_DURATION":    g.VerdictDuration,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if g.PlayersPerMinority < 1 {
		errs = append(errs, fmt.Errorf("GAME_PLAYERS_PER_MINORITY must be at least 1"))
	}
	for size, count := range g.MinorityTable {
		if size < 2 || count < 1 || count >= size {
			errs = append(errs, fmt.Errorf("GAME_MINORITY_TABLE entry %d:%d leaves no majority", size, count))
		}
	}
	if !slices.Contains([]engine.ParityRule{engine.ParityAtLeastEqual, engine.ParityGreater}, g.ParityRule) {
		errs = append(errs, fmt.Errorf("GAME_PARITY_RULE %q is not at_least_equal or greater", g.ParityRule))
	}
	if g.MaxRounds < 0 {
		errs = append(errs, fmt.Errorf("GAME_MAX_ROUNDS must not be negative"))
	}
	if c.ArchiveDSN != "" && c.ArchiveDriver != "postgres" && c.ArchiveDriver != "sqlite" {
		errs = append(errs, fmt.Errorf("ARCHIVE_DRIVER %q is not postgres or sqlite", c.ArchiveDriver))
	}
	if c.CredentialTTL < 0 {
		errs = append(errs, fmt.Errorf("CREDENTIAL_TTL must not be negative"))
	}
	return errors.Join(errs...)
}

func (c Config) Rules() engine.Rules {
	g := c.Game
	return engine.Rules{
		NightDuration:      g.NightDuration,
		DiscussionDuration: g.DiscussionDuration,
		NominationDuration: g.NominationDuration,
		VerdictDuration:    g.VerdictDuration,
		Distribution: catalog.Distribution{
			PlayersPerMinority: g.PlayersPerMinority,
			Table:              g.MinorityTable,
		},
		Parity:    g.ParityRule,
		MaxRounds: g.MaxRounds,
	}
}

func (c Config) Hub() hub.Config {
	return hub.Config{
		Lobby: lobby.Config{
			MinPlayers: c.Game.MinPlayers,
			MaxPlayers: c.Game.MaxPlayers,
			Rules:      c.Rules(),
		},
		IdleTTL:       c.LobbyIdleTTL,
		ClosedTTL:     c.LobbyClosedTTL,
		SweepInterval: c.SweepInterval,
	}
}

func (c Config) WS() ws.Options {
	return ws.Options{
		OriginPatterns: c.AllowedOrigins,
		OutboxSize:     c.WSOutboxSize,
		WriteTimeout:   c.WSWriteTimeout,
		PingInterval:   c.WSPingInterval,
	}
}
