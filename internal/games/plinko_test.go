package games

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MJE43/plinko-engine/internal/board"
	"github.com/MJE43/plinko-engine/internal/engine"
)

// tentTable builds a symmetric table paying more at the edges.
func tentTable(rows int) []float64 {
	table := make([]float64, rows+1)
	for i := range table {
		table[i] = math.Abs(float64(i)-float64(rows)/2) + 0.5
	}
	return table
}

func testBoard(t *testing.T, cfg board.Config) *board.Board {
	t.Helper()
	b, err := board.New(cfg)
	require.NoError(t, err)
	return b
}

func boardForRows(t *testing.T, rows int) *board.Board {
	t.Helper()
	cfg := board.DefaultConfig()
	cfg.Rows = rows
	cfg.Multipliers = tentTable(rows)
	b, err := board.New(cfg)
	require.NoError(t, err)
	return b
}

func TestPlinkoSpec(t *testing.T) {
	sel, err := NewOutcomeSelector(testBoard(t, board.DefaultConfig()), engine.NewCryptoSource())
	require.NoError(t, err)

	spec := sel.Spec()
	assert.Equal(t, "plinko", spec.ID)
	assert.Equal(t, "Plinko", spec.Name)
	assert.Equal(t, "multiplier", spec.MetricLabel)
	assert.Equal(t, 17, sel.FloatCount())
}

func TestNewOutcomeSelectorRejectsMissingParts(t *testing.T) {
	_, err := NewOutcomeSelector(nil, engine.NewCryptoSource())
	assert.Error(t, err)

	_, err = NewOutcomeSelector(testBoard(t, board.DefaultConfig()), nil)
	assert.Error(t, err)

	_, err = NewOutcomeSelector(&board.Board{}, engine.NewCryptoSource())
	var cfgErr *board.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestPlinkoEvaluate(t *testing.T) {
	sel, err := NewOutcomeSelector(testBoard(t, board.DefaultConfig()), engine.NewCryptoSource())
	require.NoError(t, err)

	tests := []struct {
		name       string
		floats     []float64
		bucket     int
		multiplier float64
	}{
		{name: "all left", floats: repeat(0.1, 16), bucket: 0, multiplier: 16},
		{name: "all right", floats: repeat(0.9, 16), bucket: 16, multiplier: 16},
		{name: "half is right", floats: repeat(0.5, 16), bucket: 16, multiplier: 16},
		{name: "alternating", floats: alternate(16), bucket: 8, multiplier: 0.1},
		{name: "three rights", floats: append([]float64{0.7, 0.7, 0.7}, repeat(0.2, 13)...), bucket: 3, multiplier: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := sel.Evaluate(tt.floats)
			require.NoError(t, err)
			assert.Equal(t, tt.bucket, out.Bucket)
			assert.Equal(t, tt.multiplier, out.Multiplier)
			require.Len(t, out.Pattern, 16)

			rights := 0
			for _, d := range out.Pattern {
				if d == Right {
					rights++
				}
			}
			assert.Equal(t, out.Bucket, rights)
		})
	}
}

func TestPlinkoEvaluateRejectsBadFloats(t *testing.T) {
	sel, err := NewOutcomeSelector(testBoard(t, board.DefaultConfig()), engine.NewCryptoSource())
	require.NoError(t, err)

	_, err = sel.Evaluate(repeat(0.3, 15))
	assert.Error(t, err)

	bad := repeat(0.3, 16)
	bad[4] = 1
	_, err = sel.Evaluate(bad)
	assert.Error(t, err)

	bad[4] = math.NaN()
	_, err = sel.Evaluate(bad)
	assert.Error(t, err)
}

func TestPlinkoStartX(t *testing.T) {
	cfg := board.DefaultConfig()
	sel, err := NewOutcomeSelector(testBoard(t, cfg), engine.NewCryptoSource())
	require.NoError(t, err)

	centre, err := sel.Evaluate(append(alternate(16), 0.5))
	require.NoError(t, err)
	assert.InDelta(t, 400, centre.StartX, 1e-9)

	left, err := sel.Evaluate(append(repeat(0.1, 16), 0.0))
	require.NoError(t, err)
	assert.Equal(t, cfg.DropBandMin, left.StartX, "jitter is clamped into the band")

	right, err := sel.Evaluate(append(repeat(0.9, 16), 0.999))
	require.NoError(t, err)
	assert.Equal(t, cfg.DropBandMax, right.StartX)

	nudged, err := sel.Evaluate(append(alternate(16), 1.0))
	require.NoError(t, err)
	assert.InDelta(t, 400+cfg.DropJitter, nudged.StartX, 1e-9)
}

func TestPlinkoSelectOutcomeStaysInRange(t *testing.T) {
	for rows := board.MinRows; rows <= board.MaxRows; rows++ {
		b := boardForRows(t, rows)
		sel, err := NewOutcomeSelector(b, engine.NewCryptoSource())
		require.NoError(t, err)
		cfg := b.Config()

		for i := 0; i < 200; i++ {
			out, err := sel.SelectOutcome()
			require.NoError(t, err)
			require.GreaterOrEqual(t, out.Bucket, 0)
			require.LessOrEqual(t, out.Bucket, rows)
			require.Len(t, out.Pattern, rows)
			require.Equal(t, b.Multipliers()[out.Bucket], out.Multiplier)
			require.GreaterOrEqual(t, out.StartX, cfg.DropBandMin)
			require.LessOrEqual(t, out.StartX, cfg.DropBandMax)
		}
	}
}

// The walk must follow Binomial(rows, 0.5). Buckets with a small expected count
// are folded into their neighbours before the chi-squared sum.
func TestPlinkoBinomialDistribution(t *testing.T) {
	const draws = 20000

	for rows := board.MinRows; rows <= board.MaxRows; rows++ {
		sel, err := NewOutcomeSelector(boardForRows(t, rows), engine.NewSeededSource(engine.Seeds{Server: "binomial", Client: "walk"}, uint64(rows)))
		require.NoError(t, err)

		observed := make([]float64, rows+1)
		for i := 0; i < draws; i++ {
			out, err := sel.SelectOutcome()
			require.NoError(t, err)
			observed[out.Bucket]++
		}

		expected := make([]float64, rows+1)
		for k := range expected {
			expected[k] = draws * binomialPMF(rows, k)
		}

		chi, df := chiSquared(observed, expected, 5)
		assert.Less(t, chi, float64(df)*3+30, "rows %d chi %.2f df %d", rows, chi, df)
	}
}

func TestPlinkoEvaluateSeededReplays(t *testing.T) {
	sel, err := NewOutcomeSelector(testBoard(t, board.DefaultConfig()), engine.NewCryptoSource())
	require.NoError(t, err)

	seeds := engine.Seeds{Server: "server", Client: "client"}
	a, err := sel.EvaluateSeeded(seeds, 9)
	require.NoError(t, err)
	b, err := sel.EvaluateSeeded(seeds, 9)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	seeded, err := NewOutcomeSelector(testBoard(t, board.DefaultConfig()), engine.NewSeededSource(seeds, 9))
	require.NoError(t, err)
	c, err := seeded.SelectOutcome()
	require.NoError(t, err)
	assert.Equal(t, a, c)
}

func TestParamsFromMap(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]any
		rows    int
		risk    string
		wantErr bool
	}{
		{name: "nil params", params: nil, rows: 16, risk: "classic"},
		{name: "float rows", params: map[string]any{"rows": 8.0, "risk": "LOW"}, rows: 8, risk: "low"},
		{name: "string rows", params: map[string]any{"rows": "12", "risk": "high"}, rows: 12, risk: "high"},
		{name: "int64 rows", params: map[string]any{"rows": int64(16)}, rows: 16, risk: "classic"},
		{name: "empty strings", params: map[string]any{"rows": "", "risk": " "}, rows: 16, risk: "classic"},
		{name: "fractional rows", params: map[string]any{"rows": 8.5}, wantErr: true},
		{name: "rows too small", params: map[string]any{"rows": 4}, wantErr: true},
		{name: "bad rows type", params: map[string]any{"rows": true}, wantErr: true},
		{name: "unknown risk", params: map[string]any{"risk": "insane"}, wantErr: true},
		{name: "bad risk type", params: map[string]any{"risk": 3}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, risk, err := ParamsFromMap(tt.params, 16, "classic")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.rows, rows)
			assert.Equal(t, tt.risk, risk)
		})
	}
}

func TestDirectionText(t *testing.T) {
	text, err := Right.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "right", string(text))

	var d Direction
	require.NoError(t, d.UnmarshalText([]byte("LEFT")))
	assert.Equal(t, Left, d)
	assert.Error(t, d.UnmarshalText([]byte("up")))
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func alternate(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = 0.25
		} else {
			out[i] = 0.75
		}
	}
	return out
}

func binomialPMF(n, k int) float64 {
	c := 1.0
	for i := 0; i < k; i++ {
		c = c * float64(n-i) / float64(i+1)
	}
	return c / math.Pow(2, float64(n))
}

// chiSquared folds adjacent cells until each expected count reaches minExpected.
// A short tail is folded into the last full cell.
func chiSquared(observed, expected []float64, minExpected float64) (float64, int) {
	var obsCells, expCells []float64
	var obsAcc, expAcc float64
	for i := range observed {
		obsAcc += observed[i]
		expAcc += expected[i]
		if expAcc >= minExpected {
			obsCells = append(obsCells, obsAcc)
			expCells = append(expCells, expAcc)
			obsAcc, expAcc = 0, 0
		}
	}
	if expAcc > 0 && len(expCells) > 0 {
		obsCells[len(obsCells)-1] += obsAcc
		expCells[len(expCells)-1] += expAcc
	}

	var chi float64
	for i := range obsCells {
		d := obsCells[i] - expCells[i]
		chi += d * d / expCells[i]
	}
	return chi, len(obsCells) - 1
}
