// Package config loads server and CLI settings from PLINKO_* environment
// variables, an optional .env file and an optional board YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/MJE43/plinko-engine/internal/board"
)

// Prefix is prepended to every environment variable name.
const Prefix = "PLINKO"

// DropTimeoutSlack is added to the tick budget when DropTimeout is unset.
const DropTimeoutSlack = 5 * time.Second

// Config holds every runtime setting.
type Config struct {
	// --- HTTP ---
	HTTPAddr        string        `envconfig:"HTTP_ADDR" default:":8080"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"45s"`
	CORSOrigins     []string      `envconfig:"CORS_ORIGINS" default:"*"`

	// --- Storage ---
	DBPath          string `envconfig:"DB_PATH" default:"plinko.db"`
	StartingBalance int64  `envconfig:"STARTING_BALANCE" default:"5000"`

	// --- Logging ---
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	// --- Simulation ---
	TickInterval   time.Duration `envconfig:"TICK_INTERVAL" default:"16ms"`
	// DropTimeout defaults to the board's tick budget plus DropTimeoutSlack.
	DropTimeout    time.Duration `envconfig:"DROP_TIMEOUT"`
	MaxBet         int64         `envconfig:"MAX_BET" default:"1000000"`
	BoardCacheSize int           `envconfig:"BOARD_CACHE_SIZE" default:"16"`

	// Rows and Risk override the board file when set.
	Rows      int    `envconfig:"ROWS"`
	Risk      string `envconfig:"RISK"`
	BoardFile string `envconfig:"BOARD_FILE"`

	// ServerSeed switches the drop service to a reproducible seeded stream.
	ServerSeed string `envconfig:"SERVER_SEED"`
	ClientSeed string `envconfig:"CLIENT_SEED" default:"plinko"`

	// --- Retention ---
	// RetentionSchedule is a cron expression; empty disables pruning of stored scans.
	RetentionSchedule string        `envconfig:"RETENTION_SCHEDULE"`
	RetentionMaxAge   time.Duration `envconfig:"RETENTION_MAX_AGE" default:"720h"`

	Board board.Config `envconfig:"-"`
}

// Load reads .env files (missing files are skipped), the environment and the
// board file, then validates the result.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	boardCfg, err := LoadBoard(cfg.BoardFile)
	if err != nil {
		return nil, err
	}
	if cfg.Rows != 0 || cfg.Risk != "" {
		rows, risk := boardCfg.Rows, boardCfg.Risk
		if cfg.Rows != 0 {
			rows = cfg.Rows
		}
		if cfg.Risk != "" {
			risk = strings.ToLower(strings.TrimSpace(cfg.Risk))
		}
		boardCfg = boardCfg.WithRowsRisk(rows, risk)
	}
	cfg.Board = boardCfg
	if cfg.DropTimeout == 0 && cfg.Board.MaxTicks > 0 {
		cfg.DropTimeout = cfg.TickBudget() + DropTimeoutSlack
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadBoard decodes a YAML board file over the default board. An empty path
// returns the default.
func LoadBoard(path string) (board.Config, error) {
	cfg := board.DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return board.Config{}, fmt.Errorf("read board file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return board.Config{}, fmt.Errorf("parse board file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the settings that envconfig cannot.
func (c *Config) Validate() error {
	if c.TickInterval <= 0 {
		return fmt.Errorf("%s_TICK_INTERVAL must be > 0", Prefix)
	}
	if c.DropTimeout <= 0 {
		return fmt.Errorf("%s_DROP_TIMEOUT must be > 0", Prefix)
	}
	if c.MaxBet <= 0 {
		return fmt.Errorf("%s_MAX_BET must be > 0", Prefix)
	}
	if c.StartingBalance < 0 {
		return fmt.Errorf("%s_STARTING_BALANCE must be >= 0", Prefix)
	}
	if c.BoardCacheSize <= 0 {
		return fmt.Errorf("%s_BOARD_CACHE_SIZE must be > 0", Prefix)
	}
	if c.RetentionSchedule != "" && c.RetentionMaxAge <= 0 {
		return fmt.Errorf("%s_RETENTION_MAX_AGE must be > 0", Prefix)
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("%s_DB_PATH is required", Prefix)
	}
	if err := c.Board.Validate(); err != nil {
		return err
	}

	// deadlines must outlast a ball that uses its whole tick budget
	if budget := c.TickBudget(); c.DropTimeout < budget {
		return fmt.Errorf("%s_DROP_TIMEOUT %s is shorter than the tick budget %s (%d ticks of %s)",
			Prefix, c.DropTimeout, budget, c.Board.MaxTicks, c.TickInterval)
	}
	if c.RequestTimeout > 0 && c.RequestTimeout <= c.DropTimeout {
		return fmt.Errorf("%s_REQUEST_TIMEOUT %s must exceed %s_DROP_TIMEOUT %s",
			Prefix, c.RequestTimeout, Prefix, c.DropTimeout)
	}
	return nil
}

// TickBudget is the longest a ball can stay in flight.
func (c *Config) TickBudget() time.Duration {
	return time.Duration(c.Board.MaxTicks) * c.TickInterval
}
