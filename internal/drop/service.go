// Package drop turns bet requests into balls on a simulated board and reports
// each drop's settled outcome exactly once.
package drop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/MJE43/plinko-engine/internal/games"
	"github.com/MJE43/plinko-engine/internal/metrics"
	"github.com/MJE43/plinko-engine/internal/physics"
)

var (
	ErrStopped    = errors.New("drop service stopped")
	ErrInvalidBet = errors.New("invalid bet")
	// ErrDropFailed wraps the cause of a drop that ended without landing.
	ErrDropFailed = errors.New("drop failed")
)

// DefaultTickInterval is roughly one frame at 60 Hz.
const DefaultTickInterval = 16 * time.Millisecond

type DropID string

// DropRequest asks for one ball. The bet has already been taken from the user.
type DropRequest struct {
	UserID string
	Bet    int64
}

// Result is the settled outcome of a drop. Err is set when the ball never
// landed; Sink is then -1 and Payout 0.
type Result struct {
	DropID     DropID            `json:"drop_id"`
	UserID     string            `json:"user_id"`
	Bet        int64             `json:"bet"`
	Rows       int               `json:"rows"`
	Risk       string            `json:"risk"`
	Sink       int               `json:"sink"`
	Multiplier float64           `json:"multiplier"`
	Payout     int64             `json:"payout"`
	WalkBucket int               `json:"walk_bucket"`
	Pattern    []games.Direction `json:"pattern"`
	StartX     float64           `json:"start_x"`
	Ticks      int               `json:"ticks"`
	Resting    bool              `json:"resting"`
	Duration   time.Duration     `json:"duration"`
	Err        error             `json:"-"`
}

// Failed reports whether the ball never reached a sink.
func (r Result) Failed() bool { return r.Err != nil }

// OutcomeListener receives every settled drop exactly once.
type OutcomeListener interface {
	OnOutcome(ctx context.Context, r Result)
}

// ListenerFunc adapts a function to OutcomeListener.
type ListenerFunc func(ctx context.Context, r Result)

func (f ListenerFunc) OnOutcome(ctx context.Context, r Result) { f(ctx, r) }

type pendingDrop struct {
	req     DropRequest
	outcome games.Outcome
	started time.Time
	waiter  chan Result
}

type settled struct {
	result Result
	waiter chan Result
}

// Service owns one simulator and serialises access to it.
type Service struct {
	selector *games.OutcomeSelector
	log      *logrus.Entry
	maxBet   int64

	mu        sync.Mutex
	sim       *physics.Simulator
	pending   map[DropID]*pendingDrop
	completed []settled
	listeners []OutcomeListener
	stopped   bool
	done      chan struct{}
}

type Option func(*Service)

func WithLogger(log *logrus.Entry) Option {
	return func(s *Service) { s.log = log }
}

// WithMaxBet rejects bets above max.
func WithMaxBet(max int64) Option {
	return func(s *Service) { s.maxBet = max }
}

// WithListener registers a listener at construction.
func WithListener(l OutcomeListener) Option {
	return func(s *Service) { s.listeners = append(s.listeners, l) }
}

// NewService binds a selector and a simulator built over the same board.
func NewService(selector *games.OutcomeSelector, sim *physics.Simulator, opts ...Option) (*Service, error) {
	if selector == nil || sim == nil {
		return nil, errors.New("drop service requires a selector and a simulator")
	}
	if selector.Board() != sim.Board() {
		return nil, errors.New("selector and simulator must share a board")
	}

	s := &Service{
		selector: selector,
		sim:      sim,
		log:      logrus.NewEntry(logrus.StandardLogger()),
		pending:  make(map[DropID]*pendingDrop),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "drop")
	return s, nil
}

// AddListener registers l for every drop settled from now on.
func (s *Service) AddListener(l OutcomeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// RequestDrop starts a drop and returns its ID. The outcome arrives later
// through the listeners.
func (s *Service) RequestDrop(ctx context.Context, req DropRequest) (DropID, error) {
	return s.request(ctx, req, nil)
}

// Play starts a drop and waits until it settles or ctx ends. A drop whose
// wait is abandoned still settles through the listeners.
func (s *Service) Play(ctx context.Context, req DropRequest) (Result, error) {
	waiter := make(chan Result, 1)
	if _, err := s.request(ctx, req, waiter); err != nil {
		return Result{}, err
	}
	return wait(ctx, waiter)
}

func wait(ctx context.Context, waiter <-chan Result) (Result, error) {
	select {
	case r := <-waiter:
		if r.Err != nil {
			return r, fmt.Errorf("%w: %w", ErrDropFailed, r.Err)
		}
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (s *Service) request(ctx context.Context, req DropRequest, waiter chan Result) (DropID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := s.validate(req); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return "", ErrStopped
	}

	outcome, err := s.selector.SelectOutcome()
	if err != nil {
		return "", fmt.Errorf("select outcome: %w", err)
	}

	id := DropID(uuid.New().String())
	if _, err := s.sim.AddGuidedBall(outcome.StartX, outcome.Bucket, s.onLand(id)); err != nil {
		if errors.Is(err, physics.ErrStopped) {
			return "", ErrStopped
		}
		return "", fmt.Errorf("add ball: %w", err)
	}

	s.pending[id] = &pendingDrop{req: req, outcome: outcome, started: time.Now(), waiter: waiter}
	metrics.Wagered.Add(float64(req.Bet))
	metrics.ActiveBalls.Set(float64(s.sim.ActiveBallCount()))

	s.log.WithFields(logrus.Fields{
		"drop":        id,
		"user":        req.UserID,
		"bet":         req.Bet,
		"walk_bucket": outcome.Bucket,
		"start_x":     outcome.StartX,
	}).Debug("drop started")

	return id, nil
}

func (s *Service) validate(req DropRequest) error {
	if req.Bet <= 0 {
		return fmt.Errorf("%w: bet must be positive, got %d", ErrInvalidBet, req.Bet)
	}
	if s.maxBet > 0 && req.Bet > s.maxBet {
		return fmt.Errorf("%w: bet %d exceeds the limit of %d", ErrInvalidBet, req.Bet, s.maxBet)
	}
	return nil
}

// onLand runs inside Step with s.mu held; results are dispatched after unlock.
func (s *Service) onLand(id DropID) physics.LandFunc {
	return func(landing physics.Landing, err error) {
		p, ok := s.pending[id]
		if !ok {
			return
		}
		delete(s.pending, id)

		r := s.newResult(id, p)
		r.Ticks = landing.Ticks
		if err != nil {
			r.Err = err
		} else {
			r.Sink = landing.Sink
			r.Multiplier = landing.Multiplier
			r.Payout = Payout(p.req.Bet, landing.Multiplier)
			r.Resting = landing.Resting
		}
		s.completed = append(s.completed, settled{result: r, waiter: p.waiter})
	}
}

func (s *Service) newResult(id DropID, p *pendingDrop) Result {
	cfg := s.selector.Board().Config()
	return Result{
		DropID:     id,
		UserID:     p.req.UserID,
		Bet:        p.req.Bet,
		Rows:       cfg.Rows,
		Risk:       cfg.Risk,
		Sink:       -1,
		WalkBucket: p.outcome.Bucket,
		Pattern:    p.outcome.Pattern,
		StartX:     p.outcome.StartX,
		Duration:   time.Since(p.started),
	}
}

// Payout is bet*multiplier rounded half away from zero.
func Payout(bet int64, multiplier float64) int64 {
	return decimal.NewFromInt(bet).Mul(decimal.NewFromFloat(multiplier)).Round(0).IntPart()
}

// Step advances the simulation one tick and dispatches drops that settled.
func (s *Service) Step() int {
	s.mu.Lock()
	s.sim.Step()
	results := s.completed
	s.completed = nil
	listeners := s.listeners
	metrics.ActiveBalls.Set(float64(s.sim.ActiveBallCount()))
	s.mu.Unlock()

	s.dispatch(listeners, results)
	return len(results)
}

// dispatch runs listeners before releasing the waiter so a caller of Play
// observes their side effects.
func (s *Service) dispatch(listeners []OutcomeListener, results []settled) {
	for _, st := range results {
		s.observe(st.result)
		for _, l := range listeners {
			s.notify(l, st.result)
		}
		if st.waiter != nil {
			st.waiter <- st.result
		}
	}
}

func (s *Service) observe(r Result) {
	fields := logrus.Fields{"drop": r.DropID, "user": r.UserID, "ticks": r.Ticks}
	if r.Err != nil {
		metrics.DropsFailed.WithLabelValues(failureReason(r.Err)).Inc()
		s.log.WithFields(fields).WithError(r.Err).Warn("drop failed")
		return
	}
	metrics.PaidOut.Add(float64(r.Payout))
	fields["sink"] = r.Sink
	fields["payout"] = r.Payout
	s.log.WithFields(fields).Debug("drop landed")
}

func failureReason(err error) string {
	var fault *physics.BallFault
	switch {
	case errors.As(err, &fault):
		return "fault"
	case errors.Is(err, ErrStopped):
		return "stopped"
	default:
		return "other"
	}
}

func (s *Service) notify(l OutcomeListener, r Result) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.WithField("drop", r.DropID).Errorf("outcome listener panicked: %v", rec)
		}
	}()
	l.OnOutcome(context.Background(), r)
}

// Run ticks the service every interval until ctx ends or Stop is called.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.WithField("interval", interval).Info("tick loop started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-ticker.C:
			s.Step()
		}
	}
}

// Pending reports drops that have not settled.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Snapshot returns the simulator state for renderers.
func (s *Service) Snapshot() physics.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sim.Snapshot()
}

// Stopped reports whether Stop was called.
func (s *Service) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Stop halts the simulation. Drops in flight settle as failed with ErrStopped
// so their bets can be refunded.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.done)
	s.sim.Stop()

	results := s.completed
	s.completed = nil
	for id, p := range s.pending {
		r := s.newResult(id, p)
		r.Err = ErrStopped
		results = append(results, settled{result: r, waiter: p.waiter})
	}
	s.pending = map[DropID]*pendingDrop{}
	listeners := s.listeners
	metrics.ActiveBalls.Set(0)
	s.mu.Unlock()

	s.log.WithField("abandoned", len(results)).Info("drop service stopped")
	s.dispatch(listeners, results)
}
