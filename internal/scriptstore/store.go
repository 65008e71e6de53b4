// Package scriptstore persists betting script sessions and their drops in SQLite.
package scriptstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Final states of a session.
const (
	StateRunning = "running"
	StateStopped = "stopped"
	StateError   = "error"
)

var ErrSessionNotFound = errors.New("scriptstore: session not found")

// Session is one run of a betting script.
type Session struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Rows          int        `json:"rows"`
	Risk          string     `json:"risk"`
	ScriptSource  string     `json:"scriptSource"`
	StartBalance  int64      `json:"startBalance"`
	FinalBalance  *int64     `json:"finalBalance,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
	FinalState    string     `json:"finalState"`
	Error         string     `json:"error,omitempty"`
	TotalBets     int        `json:"totalBets"`
	TotalWins     int        `json:"totalWins"`
	TotalLosses   int        `json:"totalLosses"`
	TotalProfit   int64      `json:"totalProfit"`
	TotalWagered  int64      `json:"totalWagered"`
	HighestStreak int        `json:"highestStreak"`
	LowestStreak  int        `json:"lowestStreak"`
}

// Bet is a single drop placed by a script.
type Bet struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"sessionId"`
	Seq        int       `json:"seq"`
	Amount     int64     `json:"amount"`
	Payout     int64     `json:"payout"`
	Multiplier float64   `json:"multiplier"`
	Sink       int       `json:"sink"`
	WalkBucket int       `json:"walkBucket"`
	Win        bool      `json:"win"`
	CreatedAt  time.Time `json:"createdAt"`
}

// BetsPage is a paginated bets response.
type BetsPage struct {
	Bets       []Bet `json:"bets"`
	TotalCount int   `json:"totalCount"`
	Page       int   `json:"page"`
	PerPage    int   `json:"perPage"`
	TotalPages int   `json:"totalPages"`
}

// SessionStats holds the totals written when a session ends.
type SessionStats struct {
	FinalBalance  int64
	TotalBets     int
	TotalWins     int
	TotalLosses   int
	TotalProfit   int64
	TotalWagered  int64
	HighestStreak int
	LowestStreak  int
}

// Store persists script sessions.
type Store struct {
	db *sql.DB
}

// Open opens the database at path and creates the session tables.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("scriptstore: open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("scriptstore: enable WAL: %w", err)
	}
	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the session tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS script_sessions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			rows_count INTEGER NOT NULL,
			risk TEXT NOT NULL,
			script_source TEXT NOT NULL DEFAULT '',
			start_balance INTEGER NOT NULL DEFAULT 0,
			final_balance INTEGER,
			created_at DATETIME NOT NULL,
			ended_at DATETIME,
			final_state TEXT NOT NULL DEFAULT 'running',
			error TEXT NOT NULL DEFAULT '',
			total_bets INTEGER NOT NULL DEFAULT 0,
			total_wins INTEGER NOT NULL DEFAULT 0,
			total_losses INTEGER NOT NULL DEFAULT 0,
			total_profit INTEGER NOT NULL DEFAULT 0,
			total_wagered INTEGER NOT NULL DEFAULT 0,
			highest_streak INTEGER NOT NULL DEFAULT 0,
			lowest_streak INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS script_bets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			amount INTEGER NOT NULL,
			payout INTEGER NOT NULL,
			multiplier REAL NOT NULL,
			sink INTEGER NOT NULL,
			walk_bucket INTEGER NOT NULL,
			win BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (session_id) REFERENCES script_sessions(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_script_bets_session_seq ON script_bets(session_id, seq)`,
		`CREATE TABLE IF NOT EXISTS script_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			bet_number INTEGER NOT NULL,
			stats_json TEXT NOT NULL,
			chart_json TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (session_id) REFERENCES script_sessions(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_script_snapshots_session ON script_snapshots(session_id)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("scriptstore: migrate: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession inserts a running session and returns its ID.
func (s *Store) CreateSession(ctx context.Context, sess *Session) (string, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	sess.CreatedAt = time.Now().UTC()
	sess.FinalState = StateRunning
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO script_sessions (id, name, rows_count, risk, script_source, start_balance, created_at, final_state)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Name, sess.Rows, sess.Risk, sess.ScriptSource, sess.StartBalance, sess.CreatedAt, StateRunning,
	)
	if err != nil {
		return "", fmt.Errorf("scriptstore: create session: %w", err)
	}
	return sess.ID, nil
}

// EndSession marks a session as ended with its final totals.
func (s *Store) EndSession(ctx context.Context, id, finalState, errMsg string, stats SessionStats) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE script_sessions SET
			ended_at = ?, final_state = ?, error = ?, final_balance = ?,
			total_bets = ?, total_wins = ?, total_losses = ?,
			total_profit = ?, total_wagered = ?,
			highest_streak = ?, lowest_streak = ?
		 WHERE id = ?`,
		time.Now().UTC(), finalState, errMsg, stats.FinalBalance,
		stats.TotalBets, stats.TotalWins, stats.TotalLosses,
		stats.TotalProfit, stats.TotalWagered,
		stats.HighestStreak, stats.LowestStreak,
		id,
	)
	if err != nil {
		return fmt.Errorf("scriptstore: end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

const insertBet = `INSERT INTO script_bets
	(session_id, seq, amount, payout, multiplier, sink, walk_bucket, win, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

// InsertBets records bets in a single transaction.
func (s *Store) InsertBets(ctx context.Context, sessionID string, bets []Bet) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("scriptstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertBet)
	if err != nil {
		return fmt.Errorf("scriptstore: prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, b := range bets {
		created := b.CreatedAt
		if created.IsZero() {
			created = now
		}
		if _, err := stmt.ExecContext(ctx, sessionID, b.Seq, b.Amount, b.Payout, b.Multiplier,
			b.Sink, b.WalkBucket, b.Win, created); err != nil {
			return fmt.Errorf("scriptstore: insert bet #%d: %w", b.Seq, err)
		}
	}
	return tx.Commit()
}

// InsertSnapshot saves the engine statistics and profit chart at a bet.
func (s *Store) InsertSnapshot(ctx context.Context, sessionID string, betNumber int, stats, chart any) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("scriptstore: marshal stats: %w", err)
	}
	chartJSON, err := json.Marshal(chart)
	if err != nil {
		return fmt.Errorf("scriptstore: marshal chart: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO script_snapshots (session_id, bet_number, stats_json, chart_json, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sessionID, betNumber, string(statsJSON), string(chartJSON), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("scriptstore: insert snapshot: %w", err)
	}
	return nil
}

const sessionColumns = `id, name, rows_count, risk, script_source, start_balance, final_balance,
	created_at, ended_at, final_state, error, total_bets, total_wins, total_losses,
	total_profit, total_wagered, highest_streak, lowest_streak`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	sess := &Session{}
	err := row.Scan(
		&sess.ID, &sess.Name, &sess.Rows, &sess.Risk, &sess.ScriptSource,
		&sess.StartBalance, &sess.FinalBalance, &sess.CreatedAt, &sess.EndedAt,
		&sess.FinalState, &sess.Error, &sess.TotalBets, &sess.TotalWins, &sess.TotalLosses,
		&sess.TotalProfit, &sess.TotalWagered, &sess.HighestStreak, &sess.LowestStreak,
	)
	return sess, err
}

// GetSession fetches a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM script_sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("scriptstore: get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns sessions newest first, with the total count.
func (s *Store) ListSessions(ctx context.Context, limit, offset int) ([]Session, int, error) {
	if limit <= 0 {
		limit = 20
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM script_sessions").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("scriptstore: count sessions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM script_sessions
		 ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("scriptstore: list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scriptstore: scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, total, rows.Err()
}

// GetSessionBets returns a page of a session's bets, latest first.
func (s *Store) GetSessionBets(ctx context.Context, sessionID string, page, perPage int) (*BetsPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 50
	}
	offset := (page - 1) * perPage

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM script_bets WHERE session_id = ?", sessionID,
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("scriptstore: count bets: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, seq, amount, payout, multiplier, sink, walk_bucket, win, created_at
		 FROM script_bets WHERE session_id = ? ORDER BY seq DESC LIMIT ? OFFSET ?`,
		sessionID, perPage, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("scriptstore: get session bets: %w", err)
	}
	defer rows.Close()

	bets := []Bet{}
	for rows.Next() {
		var b Bet
		if err := rows.Scan(&b.ID, &b.SessionID, &b.Seq, &b.Amount, &b.Payout, &b.Multiplier,
			&b.Sink, &b.WalkBucket, &b.Win, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scriptstore: scan bet: %w", err)
		}
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scriptstore: iterate bets: %w", err)
	}

	return &BetsPage{
		Bets:       bets,
		TotalCount: total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: (total + perPage - 1) / perPage,
	}, nil
}

// DeleteSession removes a session with its bets and snapshots.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM script_sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("scriptstore: delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}
