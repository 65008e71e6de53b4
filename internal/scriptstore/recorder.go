package scriptstore

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/MJE43/plinko-engine/internal/scripting"
)

const defaultFlushSize = 50

// SessionRecorder buffers a session's bets and writes them in batches.
type SessionRecorder struct {
	store     *Store
	sessionID string
	log       *logrus.Entry

	mu        sync.Mutex
	buffer    []Bet
	seq       int
	flushSize int
	err       error
}

// NewSessionRecorder creates a recorder for the given session. flushSize
// bets are buffered before a batch insert.
func NewSessionRecorder(store *Store, sessionID string, flushSize int, log *logrus.Entry) *SessionRecorder {
	if flushSize <= 0 {
		flushSize = defaultFlushSize
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &SessionRecorder{
		store:     store,
		sessionID: sessionID,
		log:       log.WithField("session", sessionID),
		buffer:    make([]Bet, 0, flushSize),
		flushSize: flushSize,
	}
}

// SessionID returns the session being recorded.
func (r *SessionRecorder) SessionID() string { return r.sessionID }

// RecordBet buffers one result and flushes when the buffer is full.
func (r *SessionRecorder) RecordBet(ctx context.Context, res *scripting.BetResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	r.buffer = append(r.buffer, Bet{
		SessionID:  r.sessionID,
		Seq:        r.seq,
		Amount:     res.Amount,
		Payout:     res.Payout,
		Multiplier: res.Multiplier,
		Sink:       res.Sink,
		WalkBucket: res.WalkBucket,
		Win:        res.Win,
	})
	if len(r.buffer) >= r.flushSize {
		r.flushLocked(ctx)
	}
}

// Flush writes buffered bets and returns the first write error seen so far.
func (r *SessionRecorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked(ctx)
	return r.err
}

func (r *SessionRecorder) flushLocked(ctx context.Context) {
	if len(r.buffer) == 0 {
		return
	}
	if err := r.store.InsertBets(ctx, r.sessionID, r.buffer); err != nil {
		r.log.WithError(err).WithField("bets", len(r.buffer)).Warn("flush bets")
		if r.err == nil {
			r.err = err
		}
	}
	r.buffer = r.buffer[:0]
}

// Finish flushes pending bets and closes the session with the engine's
// final statistics.
func (r *SessionRecorder) Finish(ctx context.Context, snap scripting.EngineSnapshot) error {
	flushErr := r.Flush(ctx)

	state := StateStopped
	if snap.State == scripting.StateError {
		state = StateError
	}
	var stats SessionStats
	if st := snap.Stats; st != nil {
		stats = SessionStats{
			FinalBalance:  st.Balance,
			TotalBets:     st.Bets,
			TotalWins:     st.Wins,
			TotalLosses:   st.Losses,
			TotalProfit:   st.Profit,
			TotalWagered:  st.Wagered,
			HighestStreak: st.HighestStreak,
			LowestStreak:  st.LowestStreak,
		}
		if err := r.store.InsertSnapshot(ctx, r.sessionID, st.Bets, st, snap.Chart); err != nil {
			r.log.WithError(err).Warn("final snapshot")
		}
	}
	if err := r.store.EndSession(ctx, r.sessionID, state, snap.Error, stats); err != nil {
		return err
	}
	return flushErr
}

// RecordingPlacer records every successful bet of the wrapped placer.
type RecordingPlacer struct {
	next scripting.BetPlacer
	rec  *SessionRecorder
}

var _ scripting.BetPlacer = (*RecordingPlacer)(nil)

// NewRecordingPlacer wraps next so its results land in rec.
func NewRecordingPlacer(next scripting.BetPlacer, rec *SessionRecorder) *RecordingPlacer {
	return &RecordingPlacer{next: next, rec: rec}
}

func (p *RecordingPlacer) PlaceBet(ctx context.Context, bet scripting.Bet) (*scripting.BetResult, error) {
	res, err := p.next.PlaceBet(ctx, bet)
	if err != nil {
		return nil, err
	}
	p.rec.RecordBet(ctx, res)
	return res, nil
}
