package physics

import (
	"fmt"
	"math"

	"github.com/MJE43/plinko-engine/internal/board"
	"github.com/MJE43/plinko-engine/internal/engine"
)

// BallID identifies a ball within one simulator.
type BallID uint64

// Landing is the single terminal event of a ball.
type Landing struct {
	Ball       BallID  `json:"ball"`
	Sink       int     `json:"sink"`
	Multiplier float64 `json:"multiplier"`
	X          float64 `json:"x"`
	Ticks      int     `json:"ticks"`
	// Resting is set when the ball was settled by the floor or the tick budget
	// instead of crossing a sink's landing line.
	Resting bool `json:"resting"`
	// Corrected is set when a guided ball reached the landing line outside its
	// target and was moved into it.
	Corrected bool `json:"corrected"`
}

// LandFunc receives a ball's terminal event exactly once. err is a *BallFault
// when the ball was dropped without landing.
type LandFunc func(Landing, error)

// BallFault reports a ball removed because its update failed.
type BallFault struct {
	Ball   BallID
	Ticks  int
	Reason string
}

func (f *BallFault) Error() string {
	return fmt.Sprintf("ball %d faulted after %d ticks: %s", f.Ball, f.Ticks, f.Reason)
}

// Ball is a moving disc. Only the simulator mutates it.
type Ball struct {
	ID     BallID
	X, Y   float64
	VX, VY float64
	Radius float64
	Color  string
	Ticks  int
	// Target is the sink a guided ball lands in, or -1 for a free ball.
	Target int

	onLand LandFunc
}

// BallState is a read-only copy of a ball for renderers.
type BallState struct {
	ID     BallID  `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	VX     float64 `json:"vx"`
	VY     float64 `json:"vy"`
	Radius float64 `json:"radius"`
	Color  string  `json:"color"`
	Ticks  int     `json:"ticks"`
	Target int     `json:"target"`
}

func (b *Ball) state() BallState {
	return BallState{ID: b.ID, X: b.X, Y: b.Y, VX: b.VX, VY: b.VY, Radius: b.Radius, Color: b.Color, Ticks: b.Ticks, Target: b.Target}
}

func (b *Ball) guided() bool {
	return b.Target >= 0
}

func (b *Ball) finite() bool {
	for _, v := range [...]float64{b.X, b.Y, b.VX, b.VY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// update advances the ball one tick and returns its landing once it has one.
func (b *Ball) update(field *board.Board, rnd engine.RandomSource) (*Landing, error) {
	cfg := field.Config()
	b.Ticks++

	b.VY += cfg.Gravity
	b.X += b.VX
	b.Y += b.VY

	for _, o := range field.Obstacles() {
		dx := b.X - o.X
		dy := b.Y - o.Y
		dist := math.Hypot(dx, dy)
		minDist := b.Radius + o.Radius
		if dist >= minDist {
			continue
		}

		angle := math.Atan2(dy, dx)
		speed := math.Hypot(b.VX, b.VY)
		cos, sin := math.Cos(angle), math.Sin(angle)

		b.VX = cos * speed * cfg.HorizontalFriction
		b.VY = sin * speed * cfg.VerticalFriction

		overlap := minDist - dist
		b.X += cos*overlap + (rnd.Float64()*2-1)*cfg.Jitter
		b.Y += sin * overlap

		// never leave a ball creeping upward slower than one tick of gravity
		if b.VY < 0 && math.Abs(b.VY) < cfg.Gravity {
			b.VY = cfg.Gravity * 0.5
		}
	}

	if b.guided() {
		b.steer(field)
	}

	if !b.finite() {
		return nil, &BallFault{Ball: b.ID, Ticks: b.Ticks, Reason: fmt.Sprintf("non-finite state x=%v y=%v vx=%v vy=%v", b.X, b.Y, b.VX, b.VY)}
	}

	sinks := field.Sinks()
	last := len(sinks) - 1
	if b.guided() {
		if b.Y+b.Radius > sinks[b.Target].LandingLine() {
			return b.finish(field, false), nil
		}
	} else {
		for i, s := range sinks {
			if s.Contains(b.X, i == last) && b.Y+b.Radius > s.LandingLine() {
				return b.settle(s, false, false), nil
			}
		}
	}

	left, right := field.Bounds()
	if b.X < left {
		b.X = left
		b.VX = math.Abs(b.VX) * cfg.HorizontalFriction
	} else if b.X > right {
		b.X = right
		b.VX = -math.Abs(b.VX) * cfg.HorizontalFriction
	}

	floor := cfg.Height - b.Radius
	if b.Y >= floor {
		b.Y = floor
		return b.finish(field, true), nil
	}

	if b.Ticks >= cfg.MaxTicks {
		return b.finish(field, true), nil
	}

	return nil, nil
}

// steer pulls a guided ball toward the centre of its target sink. The pull is
// zero on the drop line and grows linearly down to the landing line.
func (b *Ball) steer(field *board.Board) {
	cfg := field.Config()
	target := field.Sinks()[b.Target]

	depth := 1.0
	if span := target.LandingLine() - cfg.DropHeight; span > 0 {
		depth = math.Min(math.Max((b.Y-cfg.DropHeight)/span, 0), 1)
	}
	pull := cfg.Steering * depth
	b.VX += (target.Centre()-b.X)*pull - b.VX*pull
}

// finish ends a ball's flight. A guided ball always ends in its target sink,
// a free ball in the sink under it.
func (b *Ball) finish(field *board.Board, resting bool) *Landing {
	sinks := field.Sinks()
	if !b.guided() {
		return b.settle(sinks[field.SinkAt(b.X)], resting, false)
	}

	target := sinks[b.Target]
	corrected := !target.Contains(b.X, b.Target == len(sinks)-1)
	if corrected {
		b.X = target.Centre()
	}
	return b.settle(target, resting, corrected)
}

func (b *Ball) settle(s board.Sink, resting, corrected bool) *Landing {
	b.VX, b.VY = 0, 0
	return &Landing{
		Ball:       b.ID,
		Sink:       s.Index,
		Multiplier: s.Multiplier,
		X:          b.X,
		Ticks:      b.Ticks,
		Resting:    resting,
		Corrected:  corrected,
	}
}
