package board

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBundledTablesAreTotalAndSymmetric(t *testing.T) {
	for _, risk := range Risks() {
		for _, rows := range RowsFor(risk) {
			table, err := Table(risk, rows)
			require.NoError(t, err)
			require.Len(t, table, rows+1, "risk %s rows %d", risk, rows)
			for i := range table {
				assert.Equal(t, table[i], table[rows-i], "risk %s rows %d bucket %d", risk, rows, i)
				assert.GreaterOrEqual(t, table[i], 0.0)
			}
			// edges pay at least as much as the centre
			assert.GreaterOrEqual(t, table[0], table[rows/2], "risk %s rows %d", risk, rows)
		}
	}
}

func TestTableLookup(t *testing.T) {
	table, err := Table("classic", 16)
	require.NoError(t, err)
	assert.Equal(t, []float64{16, 8, 4, 2, 1.5, 1, 0.5, 0.2, 0.1, 0.2, 0.5, 1, 1.5, 2, 4, 8, 16}, table)

	table[0] = 99
	again, err := Table("classic", 16)
	require.NoError(t, err)
	assert.Equal(t, 16.0, again[0], "Table must return a copy")

	upper, err := Table(" HIGH ", 8)
	require.NoError(t, err)
	assert.Equal(t, 29.0, upper[0])

	var cfgErr *ConfigurationError
	_, err = Table("classic", 12)
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "rows", cfgErr.Field)
	assert.Contains(t, cfgErr.Reason, "have [16]")

	_, err = Table(" Low ", 10)
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Reason, "have [8 12 16]")

	_, err = Table("extreme", 16)
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "risk", cfgErr.Field)
}

func TestLoadTablesRejectsBadData(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "short table", data: `{"low": {"8": [1, 2, 3]}}`},
		{name: "asymmetric", data: `{"low": {"8": [5, 2, 1, 1, 0.5, 1, 1, 2, 6]}}`},
		{name: "negative", data: `{"low": {"8": [-1, 2, 1, 1, 0.5, 1, 1, 2, -1]}}`},
		{name: "bad row key", data: `{"low": {"eight": [1]}}`},
		{name: "not json", data: `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadTables([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestValidateMultipliers(t *testing.T) {
	var cfgErr *ConfigurationError

	assert.NoError(t, ValidateMultipliers(2, []float64{3, 0, 3}))
	assert.ErrorAs(t, ValidateMultipliers(2, []float64{3, 0}), &cfgErr)
	assert.ErrorAs(t, ValidateMultipliers(2, []float64{3, math.NaN(), 3}), &cfgErr)
	assert.ErrorAs(t, ValidateMultipliers(2, []float64{math.Inf(1), 0, math.Inf(1)}), &cfgErr)
	assert.ErrorAs(t, ValidateMultipliers(2, []float64{3, 1, 2}), &cfgErr)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{name: "zero rows", mutate: func(c *Config) { c.Rows = 0 }, field: "rows"},
		{name: "too many rows", mutate: func(c *Config) { c.Rows = 17 }, field: "rows"},
		{name: "rows without table", mutate: func(c *Config) { c.Rows = 10 }, field: "rows"},
		{name: "unknown risk", mutate: func(c *Config) { c.Risk = "wild" }, field: "risk"},
		{name: "negative gravity", mutate: func(c *Config) { c.Gravity = -1 }, field: "gravity"},
		{name: "nan radius", mutate: func(c *Config) { c.BallRadius = math.NaN() }, field: "ball_radius"},
		{name: "steering above one", mutate: func(c *Config) { c.Steering = 2 }, field: "steering"},
		{name: "friction above one", mutate: func(c *Config) { c.HorizontalFriction = 1.5 }, field: "horizontal_friction"},
		{name: "sinks wider than board", mutate: func(c *Config) { c.SinkWidth = 60 }, field: "sink_width"},
		{name: "drop band outside sinks", mutate: func(c *Config) { c.DropBandMin = 10 }, field: "drop_band"},
		{name: "inverted drop band", mutate: func(c *Config) { c.DropBandMin, c.DropBandMax = 430, 370 }, field: "drop_band"},
		{name: "no tick budget", mutate: func(c *Config) { c.MaxTicks = 0 }, field: "max_ticks"},
		{name: "short override", mutate: func(c *Config) { c.Multipliers = []float64{1, 2} }, field: "multipliers"},
	}

	require.NoError(t, DefaultConfig().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestConfigValidateAcceptsOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rows = 10
	cfg.Multipliers = []float64{9, 4, 2, 1, 0.5, 0.3, 0.5, 1, 2, 4, 9}
	require.NoError(t, cfg.Validate())

	b, err := New(cfg)
	require.NoError(t, err)
	assert.Len(t, b.Sinks(), 11)
	assert.Equal(t, 0.3, b.Sinks()[5].Multiplier)
}

func TestCreateObstacles(t *testing.T) {
	cfg := DefaultConfig()
	obstacles := CreateObstacles(cfg)

	// 3 + 4 + ... + 18
	require.Len(t, obstacles, 16*(3+18)/2)

	first := obstacles[:3]
	spacing := cfg.GridWidth() / float64(cfg.Rows+2)
	for i, o := range first {
		assert.Equal(t, cfg.TopMargin, o.Y)
		assert.Equal(t, cfg.ObstacleRadius, o.Radius)
		assert.InDelta(t, cfg.Width/2+float64(i-1)*spacing, o.X, 1e-9)
	}

	last := obstacles[len(obstacles)-1]
	assert.InDelta(t, 80+15*600/16.0, last.Y, 1e-9)

	// each row is centred on the board
	for start, row := 0, 0; row < cfg.Rows; row++ {
		pegs := row + 3
		left, right := obstacles[start], obstacles[start+pegs-1]
		assert.InDelta(t, cfg.Width/2, (left.X+right.X)/2, 1e-9, "row %d", row)
		start += pegs
	}
}

func TestCreateSinks(t *testing.T) {
	cfg := DefaultConfig()
	table, err := cfg.MultiplierTable()
	require.NoError(t, err)

	sinks := CreateSinks(cfg, table)
	require.Len(t, sinks, 17)
	assert.Equal(t, 128.0, sinks[0].X)
	assert.Equal(t, 640.0, sinks[16].X)
	for i, s := range sinks {
		assert.Equal(t, i, s.Index)
		assert.Equal(t, 760.0, s.Y)
		assert.Equal(t, 744.0, s.LandingLine())
		assert.Equal(t, table[i], s.Multiplier)
		if i > 0 {
			assert.Equal(t, sinks[i-1].X+sinks[i-1].Width, s.X, "sinks must be contiguous")
		}
	}
}

func TestSinkContains(t *testing.T) {
	s := Sink{X: 100, Width: 32}
	assert.True(t, s.Contains(100, false))
	assert.True(t, s.Contains(131.9, false))
	assert.False(t, s.Contains(132, false))
	assert.True(t, s.Contains(132, true))
	assert.False(t, s.Contains(99.9, true))
}

func testBoard(t *testing.T, cfg Config) *Board {
	t.Helper()
	b, err := New(cfg)
	require.NoError(t, err)
	return b
}

func TestBoardLayoutIsDeterministic(t *testing.T) {
	a := testBoard(t, DefaultConfig())
	b := testBoard(t, DefaultConfig())
	assert.Equal(t, a.Layout(), b.Layout())

	left, right := a.Bounds()
	assert.Equal(t, 128.0, left)
	assert.Equal(t, 672.0, right)
}

func TestBoardSinkAt(t *testing.T) {
	b := testBoard(t, DefaultConfig())
	assert.Equal(t, 0, b.SinkAt(128))
	assert.Equal(t, 0, b.SinkAt(-50))
	assert.Equal(t, 8, b.SinkAt(400))
	assert.Equal(t, 16, b.SinkAt(672))
	assert.Equal(t, 16, b.SinkAt(5000))

	m, err := b.Multiplier(8)
	require.NoError(t, err)
	assert.Equal(t, 0.1, m)
	_, err = b.Multiplier(17)
	assert.Error(t, err)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rows = 0
	_, err := New(cfg)
	var cfgErr *ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry(DefaultConfig(), 2)
	require.NoError(t, err)

	def, err := reg.Default()
	require.NoError(t, err)
	again, err := reg.Get(16, "classic")
	require.NoError(t, err)
	assert.Same(t, def, again)

	low8, err := reg.Get(8, "low")
	require.NoError(t, err)
	assert.Len(t, low8.Sinks(), 9)
	assert.Equal(t, 2, reg.cache.Len())

	_, err = reg.Get(16, "high")
	require.NoError(t, err)
	assert.Equal(t, 2, reg.cache.Len(), "cache is bounded")

	_, err = reg.Get(9, "low")
	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)

	fallback, err := reg.Get(0, "")
	require.NoError(t, err)
	assert.Equal(t, 16, fallback.Rows())
}
