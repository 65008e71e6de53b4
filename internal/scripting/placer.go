package scripting

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/MJE43/plinko-engine/internal/board"
	"github.com/MJE43/plinko-engine/internal/drop"
	"github.com/MJE43/plinko-engine/internal/engine"
	"github.com/MJE43/plinko-engine/internal/games"
	"github.com/MJE43/plinko-engine/internal/physics"
)

// LocalPlacer settles script bets offline: every drop is selected and
// simulated on a private simulator with no wallet behind it.
type LocalPlacer struct {
	boards *board.Registry
	source engine.RandomSource
	log    *logrus.Entry
}

// NewLocalPlacer returns a placer that draws walks and collision jitter from source.
func NewLocalPlacer(boards *board.Registry, source engine.RandomSource, log *logrus.Entry) *LocalPlacer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LocalPlacer{boards: boards, source: source, log: log}
}

// PlaceBet drops one ball for bet on the board the script selected.
func (p *LocalPlacer) PlaceBet(ctx context.Context, bet Bet) (*BetResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	field, err := p.boards.Get(bet.Rows, bet.Risk)
	if err != nil {
		return nil, err
	}
	selector, err := games.NewOutcomeSelector(field, p.source)
	if err != nil {
		return nil, err
	}
	outcome, err := selector.SelectOutcome()
	if err != nil {
		return nil, fmt.Errorf("select outcome: %w", err)
	}
	landing, err := physics.ResolveGuided(field, p.source, outcome.StartX, outcome.Bucket, physics.WithLogger(p.log))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", drop.ErrDropFailed, err)
	}

	payout := drop.Payout(bet.Amount, landing.Multiplier)
	cfg := field.Config()
	return &BetResult{
		Amount:     bet.Amount,
		Payout:     payout,
		Multiplier: landing.Multiplier,
		Sink:       landing.Sink,
		WalkBucket: outcome.Bucket,
		Rows:       cfg.Rows,
		Risk:       cfg.Risk,
		Win:        payout > bet.Amount,
	}, nil
}
