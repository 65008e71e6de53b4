package games

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/MJE43/plinko-engine/internal/board"
	"github.com/MJE43/plinko-engine/internal/engine"
)

// OutcomeSelector turns a random stream into a Plinko walk and its payout bucket.
// It holds no state besides the source and is safe for concurrent use when the source is.
type OutcomeSelector struct {
	board  *board.Board
	source engine.RandomSource
}

// NewOutcomeSelector binds a board and a random source.
func NewOutcomeSelector(b *board.Board, source engine.RandomSource) (*OutcomeSelector, error) {
	if b == nil {
		return nil, errors.New("plinko selector requires a board")
	}
	if source == nil {
		return nil, errors.New("plinko selector requires a random source")
	}
	// zero-value boards carry no table
	if err := board.ValidateMultipliers(b.Rows(), b.Multipliers()); err != nil {
		return nil, err
	}
	return &OutcomeSelector{board: b, source: source}, nil
}

// Spec returns metadata about the Plinko game.
func (s *OutcomeSelector) Spec() GameSpec {
	return GameSpec{
		ID:          "plinko",
		Name:        "Plinko",
		MetricLabel: "multiplier",
	}
}

// Board returns the field the selector was built for.
func (s *OutcomeSelector) Board() *board.Board {
	return s.board
}

// FloatCount returns how many floats one outcome consumes: one per row plus one for the drop jitter.
func (s *OutcomeSelector) FloatCount() int {
	return s.board.Rows() + 1
}

// SelectOutcome draws a fresh walk from the source.
func (s *OutcomeSelector) SelectOutcome() (Outcome, error) {
	floats := make([]float64, s.FloatCount())
	for i := range floats {
		floats[i] = s.source.Float64()
	}
	return s.Evaluate(floats)
}

// Evaluate uses pre-computed floats (e.g. during scanning or replay). The float
// after the walk, when present, jitters the start position.
func (s *OutcomeSelector) Evaluate(floats []float64) (Outcome, error) {
	rows := s.board.Rows()
	if len(floats) < rows {
		return Outcome{}, fmt.Errorf("plinko requires %d floats, got %d", rows, len(floats))
	}

	pattern := make([]Direction, rows)
	prizeIndex := 0

	for i, f := range floats[:rows] {
		if f < 0 || f >= 1 || math.IsNaN(f) {
			return Outcome{}, fmt.Errorf("plinko float at index %d out of range [0,1): %f", i, f)
		}

		direction := Left
		if f >= 0.5 {
			direction = Right
			prizeIndex++
		}
		pattern[i] = direction
	}

	multiplier, err := s.board.Multiplier(prizeIndex)
	if err != nil {
		return Outcome{}, fmt.Errorf("plinko prize index: %w", err)
	}

	jitter := 0.5
	if len(floats) > rows {
		jitter = floats[rows]
	}

	return Outcome{
		Bucket:     prizeIndex,
		Multiplier: multiplier,
		Pattern:    pattern,
		StartX:     s.startX(prizeIndex, jitter),
	}, nil
}

// EvaluateSeeded replays the outcome for a seed pair and nonce.
func (s *OutcomeSelector) EvaluateSeeded(seeds engine.Seeds, nonce uint64) (Outcome, error) {
	return s.Evaluate(engine.Floats(seeds.Server, seeds.Client, nonce, 0, s.FloatCount()))
}

// startX maps the bucket onto the drop band and nudges it by up to DropJitter.
func (s *OutcomeSelector) startX(bucket int, jitter float64) float64 {
	cfg := s.board.Config()
	span := cfg.DropBandMax - cfg.DropBandMin
	x := cfg.DropBandMin + float64(bucket)/float64(cfg.Rows)*span
	x += (jitter*2 - 1) * cfg.DropJitter
	return math.Min(math.Max(x, cfg.DropBandMin), cfg.DropBandMax)
}

// ParamsFromMap reads rows and risk from loosely typed request or script params,
// falling back to the given defaults.
func ParamsFromMap(params map[string]any, defaultRows int, defaultRisk string) (int, string, error) {
	rows, err := plinkoRowsFromParams(params, defaultRows)
	if err != nil {
		return 0, "", err
	}

	risk, err := plinkoRiskFromParams(params, defaultRisk)
	if err != nil {
		return 0, "", err
	}

	return rows, risk, nil
}

func plinkoRowsFromParams(params map[string]any, def int) (int, error) {
	raw, ok := params["rows"]
	if !ok || raw == nil {
		return validatePlinkoRows(def)
	}

	switch v := raw.(type) {
	case int:
		return validatePlinkoRows(v)
	case int64:
		return validatePlinkoRows(int(v))
	case float64:
		if math.Mod(v, 1) != 0 {
			return 0, fmt.Errorf("plinko rows must be an integer, got %f", v)
		}
		return validatePlinkoRows(int(v))
	case string:
		if strings.TrimSpace(v) == "" {
			return validatePlinkoRows(def)
		}
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid plinko rows value %q", v)
		}
		return validatePlinkoRows(parsed)
	default:
		return 0, fmt.Errorf("unsupported type for plinko rows: %T", raw)
	}
}

func validatePlinkoRows(rows int) (int, error) {
	if rows < board.MinRows || rows > board.MaxRows {
		return 0, fmt.Errorf("plinko rows must be between %d and %d, got %d", board.MinRows, board.MaxRows, rows)
	}
	return rows, nil
}

func plinkoRiskFromParams(params map[string]any, def string) (string, error) {
	raw, ok := params["risk"]
	if !ok || raw == nil {
		return def, nil
	}

	risk, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("unsupported type for plinko risk: %T", raw)
	}

	risk = strings.ToLower(strings.TrimSpace(risk))
	if risk == "" {
		return def, nil
	}
	for _, known := range board.Risks() {
		if risk == known {
			return risk, nil
		}
	}
	return "", fmt.Errorf("invalid plinko risk: %s", risk)
}
