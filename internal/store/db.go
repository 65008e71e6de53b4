package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrDropNotFound        = errors.New("drop not found")
	ErrScanRunNotFound     = errors.New("scan run not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrUserExists          = errors.New("user already exists")
)

// Drop statuses
const (
	DropLanded = "landed"
	DropFailed = "failed"
)

// DB represents the database interface
type DB interface {
	Close() error
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, name string, balance int64) (*User, error)
	GetUser(ctx context.Context, id string) (*User, error)
	Debit(ctx context.Context, userID string, amount int64) (int64, error)
	Credit(ctx context.Context, userID string, amount int64) (int64, error)

	RecordDrop(ctx context.Context, drop *Drop) error
	GetDrop(ctx context.Context, id string) (*Drop, error)
	ListDrops(ctx context.Context, query DropsQuery) (*DropsList, error)
	GetStats(ctx context.Context, userID string) (*GameStats, error)

	SaveScanRun(ctx context.Context, run *ScanRun) error
	GetScanRun(ctx context.Context, id string) (*ScanRun, error)
	ListScanRuns(ctx context.Context, query RunsQuery) (*RunsList, error)
	PruneScanRuns(ctx context.Context, before time.Time) (int64, error)
}

// User is a player account.
type User struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Balance   int64     `json:"balance" db:"balance"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Drop is the persisted record of one ball.
type Drop struct {
	ID         string    `json:"id" db:"id"`
	UserID     string    `json:"user_id" db:"user_id"`
	Rows       int       `json:"rows" db:"rows_count"`
	Risk       string    `json:"risk" db:"risk"`
	Bet        int64     `json:"bet" db:"bet"`
	Status     string    `json:"status" db:"status"`
	Sink       int       `json:"sink" db:"sink"`
	WalkBucket int       `json:"walk_bucket" db:"walk_bucket"`
	Multiplier float64   `json:"multiplier" db:"multiplier"`
	Payout     int64     `json:"payout" db:"payout"`
	Pattern    string    `json:"pattern" db:"pattern"` // JSON array of directions
	StartX     float64   `json:"start_x" db:"start_x"`
	Ticks      int       `json:"ticks" db:"ticks"`
	Resting    bool      `json:"resting" db:"resting"`
	Failure    string    `json:"failure,omitempty" db:"failure"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// GameStats aggregates a user's drops.
type GameStats struct {
	UserID         string  `json:"user_id" db:"user_id"`
	Game           string  `json:"game" db:"game"`
	Played         int64   `json:"played" db:"played"`
	Wins           int64   `json:"wins" db:"wins"`
	TotalWagered   int64   `json:"total_wagered" db:"total_wagered"`
	TotalWon       int64   `json:"total_won" db:"total_won"`
	BestMultiplier float64 `json:"best_multiplier" db:"best_multiplier"`
}

// DropsQuery represents query parameters for listing a user's drops
type DropsQuery struct {
	UserID  string `json:"user_id"`
	Page    int    `json:"page"`
	PerPage int    `json:"perPage"`
}

// DropsList represents a paginated drops response
type DropsList struct {
	Drops      []Drop `json:"drops"`
	TotalCount int    `json:"totalCount"`
	Page       int    `json:"page"`
	PerPage    int    `json:"perPage"`
	TotalPages int    `json:"totalPages"`
}

// RunsQuery represents query parameters for listing scan runs
type RunsQuery struct {
	Mode    string `json:"mode,omitempty"`
	Page    int    `json:"page"`
	PerPage int    `json:"perPage"`
}

// RunsList represents paginated runs response
type RunsList struct {
	Runs       []ScanRun `json:"runs"`
	TotalCount int       `json:"totalCount"`
	Page       int       `json:"page"`
	PerPage    int       `json:"perPage"`
	TotalPages int       `json:"totalPages"`
}

// ScanRun is a stored distribution scan. Only the hash of the server seed is kept.
type ScanRun struct {
	ID             string    `json:"id" db:"id"`
	Mode           string    `json:"mode" db:"mode"`
	Rows           int       `json:"rows" db:"rows_count"`
	Risk           string    `json:"risk" db:"risk"`
	ServerSeedHash string    `json:"server_seed_hash" db:"server_seed_hash"`
	ClientSeed     string    `json:"client_seed" db:"client_seed"`
	NonceStart     uint64    `json:"nonce_start" db:"nonce_start"`
	NonceEnd       uint64    `json:"nonce_end" db:"nonce_end"`
	Histogram      []uint64  `json:"histogram" db:"histogram"`
	TotalEvaluated uint64    `json:"total_evaluated" db:"total_evaluated"`
	RTP            float64   `json:"rtp" db:"rtp"`
	ChiSquared     float64   `json:"chi_squared" db:"chi_squared"`
	TimedOut       bool      `json:"timed_out" db:"timed_out"`
	EngineVersion  string    `json:"engine_version" db:"engine_version"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

func normalizePage(page, perPage, def int) (int, int) {
	if perPage <= 0 {
		perPage = def
	}
	if perPage > 500 {
		perPage = 500
	}
	if page <= 0 {
		page = 1
	}
	return page, perPage
}
