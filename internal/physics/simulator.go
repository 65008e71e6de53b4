package physics

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/MJE43/plinko-engine/internal/board"
	"github.com/MJE43/plinko-engine/internal/engine"
)

var (
	// ErrStopped is returned by AddBall after Stop.
	ErrStopped = errors.New("simulator stopped")
	// ErrInvalidTarget is returned for a guided ball aimed outside the sink row.
	ErrInvalidTarget = errors.New("target sink out of range")
)

const defaultBallColor = "red"

// Observer is notified of terminal events, e.g. for metrics.
type Observer interface {
	BallLanded(Landing)
	BallFaulted(*BallFault)
}

// Snapshot is a read-only view of the simulation for renderers.
type Snapshot struct {
	Tick      uint64           `json:"tick"`
	Obstacles []board.Obstacle `json:"obstacles"`
	Sinks     []board.Sink     `json:"sinks"`
	Balls     []BallState      `json:"balls"`
}

// Simulator steps balls through a board. It is single-threaded and externally
// ticked: callers serialise AddBall, Step, Snapshot and Stop.
type Simulator struct {
	field    *board.Board
	rnd      engine.RandomSource
	log      *logrus.Entry
	observer Observer

	balls   []*Ball
	nextID  BallID
	tick    uint64
	faults  uint64
	stopped bool
}

type Option func(*Simulator)

func WithLogger(log *logrus.Entry) Option {
	return func(s *Simulator) { s.log = log }
}

func WithObserver(o Observer) Option {
	return func(s *Simulator) { s.observer = o }
}

// NewSimulator creates a simulator over field. rnd drives collision jitter.
func NewSimulator(field *board.Board, rnd engine.RandomSource, opts ...Option) (*Simulator, error) {
	if field == nil {
		return nil, errors.New("simulator requires a board")
	}
	if rnd == nil {
		return nil, errors.New("simulator requires a random source")
	}
	s := &Simulator{
		field: field,
		rnd:   rnd,
		log:   logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "physics")
	return s, nil
}

// Board returns the simulated field.
func (s *Simulator) Board() *board.Board {
	return s.field
}

// AddBall drops a free ball at startX on the drop line. It lands in whichever
// sink the collisions carry it to. An x outside the playable band is clamped
// to the nearest edge.
func (s *Simulator) AddBall(startX float64, onLand LandFunc) (BallID, error) {
	return s.addBall(startX, -1, onLand)
}

// AddGuidedBall drops a ball that is steered into sink target and always
// lands there, whatever the collisions did on the way down.
func (s *Simulator) AddGuidedBall(startX float64, target int, onLand LandFunc) (BallID, error) {
	if n := len(s.field.Sinks()); target < 0 || target >= n {
		return 0, fmt.Errorf("%w: %d not in [0, %d]", ErrInvalidTarget, target, n-1)
	}
	return s.addBall(startX, target, onLand)
}

func (s *Simulator) addBall(startX float64, target int, onLand LandFunc) (BallID, error) {
	if s.stopped {
		return 0, ErrStopped
	}

	left, right := s.field.Bounds()
	x := startX
	switch {
	case math.IsNaN(x):
		x = (left + right) / 2
	case x < left:
		x = left
	case x > right:
		x = right
	}
	if x != startX {
		s.log.WithFields(logrus.Fields{"start_x": startX, "clamped_x": x}).Warn("drop position outside playable band")
	}

	s.nextID++
	cfg := s.field.Config()
	ball := &Ball{
		ID:     s.nextID,
		X:      x,
		Y:      cfg.DropHeight,
		Radius: cfg.BallRadius,
		Color:  defaultBallColor,
		Target: target,
		onLand: onLand,
	}
	s.balls = append(s.balls, ball)
	return ball.ID, nil
}

type terminal struct {
	ball    *Ball
	landing Landing
	fault   *BallFault
}

// Step advances every active ball one tick in insertion order and returns how
// many balls reached a terminal event.
func (s *Simulator) Step() int {
	if s.stopped {
		return 0
	}
	s.tick++

	var done []terminal
	active := s.balls[:0]
	for _, ball := range s.balls {
		landing, err := s.updateBall(ball)
		switch {
		case err != nil:
			var fault *BallFault
			if !errors.As(err, &fault) {
				fault = &BallFault{Ball: ball.ID, Ticks: ball.Ticks, Reason: err.Error()}
			}
			s.faults++
			s.log.WithFields(logrus.Fields{"ball": ball.ID, "ticks": ball.Ticks}).WithError(fault).Warn("ball removed after fault")
			done = append(done, terminal{ball: ball, fault: fault})
		case landing != nil:
			done = append(done, terminal{ball: ball, landing: *landing})
		default:
			active = append(active, ball)
		}
	}
	for i := len(active); i < len(s.balls); i++ {
		s.balls[i] = nil
	}
	s.balls = active

	for _, t := range done {
		if s.stopped {
			break
		}
		s.notify(t)
	}
	return len(done)
}

func (s *Simulator) updateBall(ball *Ball) (landing *Landing, err error) {
	defer func() {
		if r := recover(); r != nil {
			landing = nil
			err = &BallFault{Ball: ball.ID, Ticks: ball.Ticks, Reason: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return ball.update(s.field, s.rnd)
}

func (s *Simulator) notify(t terminal) {
	if s.observer != nil {
		if t.fault != nil {
			s.observer.BallFaulted(t.fault)
		} else {
			s.observer.BallLanded(t.landing)
		}
	}
	if t.ball.onLand == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("ball", t.ball.ID).Errorf("landing callback panicked: %v", r)
		}
	}()
	if t.fault != nil {
		t.ball.onLand(Landing{Ball: t.ball.ID, Ticks: t.ball.Ticks}, t.fault)
		return
	}
	t.ball.onLand(t.landing, nil)
}

// ActiveBallCount reports balls that have not reached a terminal event.
func (s *Simulator) ActiveBallCount() int {
	return len(s.balls)
}

// Faults reports how many balls were removed after a fault.
func (s *Simulator) Faults() uint64 {
	return s.faults
}

// Ticks reports how many steps have run.
func (s *Simulator) Ticks() uint64 {
	return s.tick
}

// Stop discards active balls without firing their callbacks. Later calls to
// AddBall fail and Step is a no-op.
func (s *Simulator) Stop() {
	if s.stopped {
		return
	}
	s.stopped = true
	if n := len(s.balls); n > 0 {
		s.log.WithField("discarded", n).Info("simulator stopped with balls in flight")
	} else {
		s.log.Info("simulator stopped")
	}
	s.balls = nil
}

// Stopped reports whether Stop was called.
func (s *Simulator) Stopped() bool {
	return s.stopped
}

// Snapshot copies the current state.
func (s *Simulator) Snapshot() Snapshot {
	layout := s.field.Layout()
	balls := make([]BallState, len(s.balls))
	for i, b := range s.balls {
		balls[i] = b.state()
	}
	return Snapshot{
		Tick:      s.tick,
		Obstacles: layout.Obstacles,
		Sinks:     layout.Sinks,
		Balls:     balls,
	}
}

// Resolve drops one free ball on a private simulator and steps it to its
// terminal event. The tick budget bounds the loop.
func Resolve(field *board.Board, rnd engine.RandomSource, startX float64, opts ...Option) (Landing, error) {
	return resolve(field, rnd, startX, -1, opts)
}

// ResolveGuided is Resolve for a ball guided into sink target.
func ResolveGuided(field *board.Board, rnd engine.RandomSource, startX float64, target int, opts ...Option) (Landing, error) {
	return resolve(field, rnd, startX, target, opts)
}

func resolve(field *board.Board, rnd engine.RandomSource, startX float64, target int, opts []Option) (Landing, error) {
	sim, err := NewSimulator(field, rnd, opts...)
	if err != nil {
		return Landing{}, err
	}

	var landing Landing
	var landErr error
	onLand := func(l Landing, err error) {
		landing, landErr = l, err
	}
	if target < 0 {
		_, err = sim.AddBall(startX, onLand)
	} else {
		_, err = sim.AddGuidedBall(startX, target, onLand)
	}
	if err != nil {
		return Landing{}, err
	}
	for sim.ActiveBallCount() > 0 {
		sim.Step()
	}
	return landing, landErr
}
