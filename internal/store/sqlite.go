package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const gamePlinko = "plinko"

// SQLiteDB implements the DB interface using SQLite
type SQLiteDB struct {
	db *sql.DB
}

var _ DB = (*SQLiteDB)(nil)

// NewSQLiteDB opens the database at path. Call Migrate before use.
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite is not concurrent for writes

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

// Open opens the database at path and applies all migrations.
func Open(ctx context.Context, path string) (*SQLiteDB, error) {
	s, err := NewSQLiteDB(path)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func computeServerHash(serverSeed string) string {
	if serverSeed == "" {
		return ""
	}

	hash := sha256.Sum256([]byte(serverSeed))
	return hex.EncodeToString(hash[:])
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// Ping checks the connection for readiness checks.
func (s *SQLiteDB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteDB) migrationProvider() (*goose.Provider, error) {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, err
	}
	return goose.NewProvider(database.DialectSQLite3, s.db, fsys)
}

// Migrate applies pending migrations. It is safe to call repeatedly.
func (s *SQLiteDB) Migrate(ctx context.Context) error {
	provider, err := s.migrationProvider()
	if err != nil {
		return fmt.Errorf("migration setup failed: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// SchemaVersion reports the latest applied migration.
func (s *SQLiteDB) SchemaVersion(ctx context.Context) (int64, error) {
	provider, err := s.migrationProvider()
	if err != nil {
		return 0, err
	}
	return provider.GetDBVersion(ctx)
}

// --------- Users ---------

// CreateUser inserts a user with the given starting balance.
func (s *SQLiteDB) CreateUser(ctx context.Context, name string, balance int64) (*User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("user name is required")
	}
	if balance < 0 {
		return nil, ErrInvalidAmount
	}

	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx, `INSERT INTO users (id, name, balance) VALUES (?, ?, ?)`, id, name, balance)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return s.GetUser(ctx, id)
}

// GetUser retrieves a user by ID
func (s *SQLiteDB) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, `SELECT id, name, balance, created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Name, &u.Balance, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// Debit takes amount from the user's balance and returns the new balance.
func (s *SQLiteDB) Debit(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET balance = balance - ? WHERE id = ? AND balance >= ?`,
		amount, userID, amount)
	if err != nil {
		return 0, fmt.Errorf("failed to debit: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return 0, err
	} else if n == 0 {
		if _, err := s.GetUser(ctx, userID); err != nil {
			return 0, err
		}
		return 0, ErrInsufficientBalance
	}

	return s.balance(ctx, userID)
}

// Credit adds amount to the user's balance and returns the new balance.
func (s *SQLiteDB) Credit(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount < 0 {
		return 0, ErrInvalidAmount
	}

	res, err := s.db.ExecContext(ctx, `UPDATE users SET balance = balance + ? WHERE id = ?`, amount, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to credit: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return 0, err
	} else if n == 0 {
		return 0, ErrUserNotFound
	}

	return s.balance(ctx, userID)
}

func (s *SQLiteDB) balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	if err := s.db.QueryRowContext(ctx, `SELECT balance FROM users WHERE id = ?`, userID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}

// --------- Drops ---------

// RecordDrop stores a drop and, when it landed, folds it into the user's stats.
func (s *SQLiteDB) RecordDrop(ctx context.Context, drop *Drop) error {
	if drop.ID == "" {
		drop.ID = uuid.New().String()
	}
	if drop.Pattern == "" {
		drop.Pattern = "[]"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO drops (
		id, user_id, rows_count, risk, bet, status, sink, walk_bucket, multiplier, payout,
		pattern, start_x, ticks, resting, failure
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		drop.ID, drop.UserID, drop.Rows, drop.Risk, drop.Bet, drop.Status, drop.Sink, drop.WalkBucket,
		drop.Multiplier, drop.Payout, drop.Pattern, drop.StartX, drop.Ticks, boolToInt(drop.Resting),
		nullString(drop.Failure),
	)
	if err != nil {
		return fmt.Errorf("failed to insert drop: %w", err)
	}

	if drop.Status == DropLanded {
		win := 0
		if drop.Payout > drop.Bet {
			win = 1
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO game_stats (
			user_id, game, played, wins, total_wagered, total_won, best_multiplier
		) VALUES (?, ?, 1, ?, ?, ?, ?)
		ON CONFLICT(user_id, game) DO UPDATE SET
			played = played + 1,
			wins = wins + excluded.wins,
			total_wagered = total_wagered + excluded.total_wagered,
			total_won = total_won + excluded.total_won,
			best_multiplier = MAX(best_multiplier, excluded.best_multiplier)`,
			drop.UserID, gamePlinko, win, drop.Bet, drop.Payout, drop.Multiplier,
		)
		if err != nil {
			return fmt.Errorf("failed to update stats: %w", err)
		}
	}

	return tx.Commit()
}

const dropColumns = `id, user_id, rows_count, risk, bet, status, sink, walk_bucket, multiplier, payout,
	pattern, start_x, ticks, resting, failure, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDrop(row rowScanner) (*Drop, error) {
	var d Drop
	var resting int
	var failure sql.NullString
	err := row.Scan(
		&d.ID, &d.UserID, &d.Rows, &d.Risk, &d.Bet, &d.Status, &d.Sink, &d.WalkBucket,
		&d.Multiplier, &d.Payout, &d.Pattern, &d.StartX, &d.Ticks, &resting, &failure, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Resting = resting == 1
	if failure.Valid {
		d.Failure = failure.String
	}
	return &d, nil
}

// GetDrop retrieves a drop by ID
func (s *SQLiteDB) GetDrop(ctx context.Context, id string) (*Drop, error) {
	d, err := scanDrop(s.db.QueryRowContext(ctx, `SELECT `+dropColumns+` FROM drops WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDropNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get drop: %w", err)
	}
	return d, nil
}

// ListDrops returns a user's drops, newest first.
func (s *SQLiteDB) ListDrops(ctx context.Context, query DropsQuery) (*DropsList, error) {
	var totalCount int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM drops WHERE user_id = ?`, query.UserID).Scan(&totalCount)
	if err != nil {
		return nil, fmt.Errorf("failed to get total count: %w", err)
	}

	query.Page, query.PerPage = normalizePage(query.Page, query.PerPage, 50)
	totalPages := (totalCount + query.PerPage - 1) / query.PerPage
	offset := (query.Page - 1) * query.PerPage

	rows, err := s.db.QueryContext(ctx, `SELECT `+dropColumns+` FROM drops WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`, query.UserID, query.PerPage, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query drops: %w", err)
	}
	defer rows.Close()

	drops := []Drop{}
	for rows.Next() {
		d, err := scanDrop(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan drop: %w", err)
		}
		drops = append(drops, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating drops: %w", err)
	}

	return &DropsList{
		Drops:      drops,
		TotalCount: totalCount,
		Page:       query.Page,
		PerPage:    query.PerPage,
		TotalPages: totalPages,
	}, nil
}

// GetStats returns the user's aggregated plinko stats. Users without drops get zeroes.
func (s *SQLiteDB) GetStats(ctx context.Context, userID string) (*GameStats, error) {
	if _, err := s.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	stats := GameStats{UserID: userID, Game: gamePlinko}
	err := s.db.QueryRowContext(ctx, `SELECT played, wins, total_wagered, total_won, best_multiplier
		FROM game_stats WHERE user_id = ? AND game = ?`, userID, gamePlinko).
		Scan(&stats.Played, &stats.Wins, &stats.TotalWagered, &stats.TotalWon, &stats.BestMultiplier)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &stats, nil
}

// --------- Scan runs ---------

// HashServerSeed is the digest stored in place of a scan's server seed.
func HashServerSeed(serverSeed string) string {
	return computeServerHash(serverSeed)
}

// SaveScanRun saves a scan run to the database
func (s *SQLiteDB) SaveScanRun(ctx context.Context, run *ScanRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}

	histogram, err := json.Marshal(run.Histogram)
	if err != nil {
		return fmt.Errorf("failed to encode histogram: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO scan_runs (
		id, mode, rows_count, risk, server_seed_hash, client_seed, nonce_start, nonce_end,
		histogram, total_evaluated, rtp, chi_squared, timed_out, engine_version
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Mode, run.Rows, run.Risk, run.ServerSeedHash, run.ClientSeed,
		run.NonceStart, run.NonceEnd, string(histogram), run.TotalEvaluated, run.RTP, run.ChiSquared,
		boolToInt(run.TimedOut), run.EngineVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to save scan run: %w", err)
	}
	return nil
}

const scanRunColumns = `id, mode, rows_count, risk, server_seed_hash, client_seed, nonce_start, nonce_end,
	histogram, total_evaluated, rtp, chi_squared, timed_out, engine_version, created_at`

func scanScanRun(row rowScanner) (*ScanRun, error) {
	var run ScanRun
	var histogram string
	var timedOut int
	err := row.Scan(
		&run.ID, &run.Mode, &run.Rows, &run.Risk, &run.ServerSeedHash, &run.ClientSeed,
		&run.NonceStart, &run.NonceEnd, &histogram, &run.TotalEvaluated, &run.RTP, &run.ChiSquared,
		&timedOut, &run.EngineVersion, &run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(histogram), &run.Histogram); err != nil {
		return nil, fmt.Errorf("failed to decode histogram: %w", err)
	}
	run.TimedOut = timedOut == 1
	return &run, nil
}

// PruneScanRuns deletes scan runs created before the cutoff and reports how
// many were removed.
func (s *SQLiteDB) PruneScanRuns(ctx context.Context, before time.Time) (int64, error) {
	// created_at is written by CURRENT_TIMESTAMP, so compare in the same UTC text form.
	cutoff := before.UTC().Format("2006-01-02 15:04:05")
	res, err := s.db.ExecContext(ctx, `DELETE FROM scan_runs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune scan runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned scan runs: %w", err)
	}
	return n, nil
}

// GetScanRun retrieves a scan run by ID
func (s *SQLiteDB) GetScanRun(ctx context.Context, id string) (*ScanRun, error) {
	run, err := scanScanRun(s.db.QueryRowContext(ctx, `SELECT `+scanRunColumns+` FROM scan_runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScanRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scan run: %w", err)
	}
	return run, nil
}

// ListScanRuns retrieves runs with pagination and filtering
func (s *SQLiteDB) ListScanRuns(ctx context.Context, query RunsQuery) (*RunsList, error) {
	whereClause := ""
	args := []any{}
	if query.Mode != "" {
		whereClause = "WHERE mode = ?"
		args = append(args, query.Mode)
	}

	var totalCount int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM scan_runs "+whereClause, args...).Scan(&totalCount); err != nil {
		return nil, fmt.Errorf("failed to get total count: %w", err)
	}

	query.Page, query.PerPage = normalizePage(query.Page, query.PerPage, 50)
	totalPages := (totalCount + query.PerPage - 1) / query.PerPage
	offset := (query.Page - 1) * query.PerPage

	args = append(args, query.PerPage, offset)
	rows, err := s.db.QueryContext(ctx, `SELECT `+scanRunColumns+` FROM scan_runs `+whereClause+`
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []ScanRun{}
	for rows.Next() {
		run, err := scanScanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return &RunsList{
		Runs:       runs,
		TotalCount: totalCount,
		Page:       query.Page,
		PerPage:    query.PerPage,
		TotalPages: totalPages,
	}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
