package board

import (
	"fmt"
	"math"
	"strings"
)

const (
	MinRows = 8
	MaxRows = 16

	// DefaultRisk selects the 16-row table the board ships with.
	DefaultRisk = "classic"
)

// ConfigurationError reports a board or multiplier table that cannot be used.
// It is fatal at startup.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("board configuration: %s: %s", e.Field, e.Reason)
}

// Config describes the static playing field. Lengths are logical units, the
// velocity terms are per tick.
type Config struct {
	Width  float64 `yaml:"width" json:"width"`
	Height float64 `yaml:"height" json:"height"`
	Rows   int     `yaml:"rows" json:"rows"`
	Risk   string  `yaml:"risk" json:"risk"`

	BallRadius     float64 `yaml:"ball_radius" json:"ball_radius"`
	ObstacleRadius float64 `yaml:"obstacle_radius" json:"obstacle_radius"`

	Gravity            float64 `yaml:"gravity" json:"gravity"`
	HorizontalFriction float64 `yaml:"horizontal_friction" json:"horizontal_friction"`
	VerticalFriction   float64 `yaml:"vertical_friction" json:"vertical_friction"`
	Jitter             float64 `yaml:"jitter" json:"jitter"`
	// Steering is the per-tick pull of a guided ball toward its target sink,
	// scaled by how far down the board the ball is.
	Steering float64 `yaml:"steering" json:"steering"`

	SinkWidth    float64 `yaml:"sink_width" json:"sink_width"`
	SinkOffset   float64 `yaml:"sink_offset" json:"sink_offset"`       // floor to sink centre line
	TopMargin    float64 `yaml:"top_margin" json:"top_margin"`         // y of the first peg row
	PegAreaInset float64 `yaml:"peg_area_inset" json:"peg_area_inset"` // Height minus the vertical span of the peg rows

	DropHeight  float64 `yaml:"drop_height" json:"drop_height"`
	DropBandMin float64 `yaml:"drop_band_min" json:"drop_band_min"`
	DropBandMax float64 `yaml:"drop_band_max" json:"drop_band_max"`
	DropJitter  float64 `yaml:"drop_jitter" json:"drop_jitter"`

	MaxTicks int `yaml:"max_ticks" json:"max_ticks"`

	// Multipliers overrides the bundled table for Risk/Rows when non-empty.
	Multipliers []float64 `yaml:"multipliers,omitempty" json:"multipliers,omitempty"`
}

// DefaultConfig is the 800x800 board with 16 rows and the classic table.
func DefaultConfig() Config {
	return Config{
		Width:              800,
		Height:             800,
		Rows:               16,
		Risk:               DefaultRisk,
		BallRadius:         7,
		ObstacleRadius:     4,
		Gravity:            0.6,
		HorizontalFriction: 0.4,
		VerticalFriction:   0.8,
		Jitter:             1,
		Steering:           0.02,
		SinkWidth:          32,
		SinkOffset:         40,
		TopMargin:          80,
		PegAreaInset:       200,
		DropHeight:         50,
		DropBandMin:        370,
		DropBandMax:        430,
		DropJitter:         2,
		MaxTicks:           1500,
	}
}

// WithRowsRisk returns a copy of c for another rows/risk pair. Any table
// override is dropped.
func (c Config) WithRowsRisk(rows int, risk string) Config {
	c.Rows = rows
	c.Risk = risk
	c.Multipliers = nil
	return c
}

// SinkCount is the number of sinks, one per reachable bucket.
func (c Config) SinkCount() int {
	return c.Rows + 1
}

// GridWidth is the horizontal extent of the sink row.
func (c Config) GridWidth() float64 {
	return float64(c.SinkCount()) * c.SinkWidth
}

// MultiplierTable resolves the table for this configuration.
func (c Config) MultiplierTable() ([]float64, error) {
	if len(c.Multipliers) > 0 {
		if err := ValidateMultipliers(c.Rows, c.Multipliers); err != nil {
			return nil, err
		}
		copied := make([]float64, len(c.Multipliers))
		copy(copied, c.Multipliers)
		return copied, nil
	}
	return Table(c.Risk, c.Rows)
}

// Validate checks geometry and the multiplier table.
func (c Config) Validate() error {
	if c.Rows < MinRows || c.Rows > MaxRows {
		return &ConfigurationError{Field: "rows", Reason: fmt.Sprintf("must be between %d and %d, got %d", MinRows, MaxRows, c.Rows)}
	}
	if strings.TrimSpace(c.Risk) == "" && len(c.Multipliers) == 0 {
		return &ConfigurationError{Field: "risk", Reason: "required when no multipliers are given"}
	}

	positive := []struct {
		field string
		value float64
	}{
		{"width", c.Width},
		{"height", c.Height},
		{"ball_radius", c.BallRadius},
		{"obstacle_radius", c.ObstacleRadius},
		{"gravity", c.Gravity},
		{"sink_width", c.SinkWidth},
	}
	for _, p := range positive {
		if math.IsNaN(p.value) || math.IsInf(p.value, 0) || p.value <= 0 {
			return &ConfigurationError{Field: p.field, Reason: fmt.Sprintf("must be a positive finite number, got %v", p.value)}
		}
	}

	fractions := []struct {
		field string
		value float64
	}{
		{"horizontal_friction", c.HorizontalFriction},
		{"vertical_friction", c.VerticalFriction},
	}
	for _, f := range fractions {
		if math.IsNaN(f.value) || f.value <= 0 || f.value > 1 {
			return &ConfigurationError{Field: f.field, Reason: fmt.Sprintf("must be in (0, 1], got %v", f.value)}
		}
	}

	if math.IsNaN(c.Steering) || c.Steering < 0 || c.Steering > 1 {
		return &ConfigurationError{Field: "steering", Reason: fmt.Sprintf("must be in [0, 1], got %v", c.Steering)}
	}

	nonNegative := []struct {
		field string
		value float64
	}{
		{"jitter", c.Jitter},
		{"drop_jitter", c.DropJitter},
		{"sink_offset", c.SinkOffset},
		{"top_margin", c.TopMargin},
		{"peg_area_inset", c.PegAreaInset},
		{"drop_height", c.DropHeight},
	}
	for _, n := range nonNegative {
		if math.IsNaN(n.value) || math.IsInf(n.value, 0) || n.value < 0 {
			return &ConfigurationError{Field: n.field, Reason: fmt.Sprintf("must be a non-negative finite number, got %v", n.value)}
		}
	}

	if c.GridWidth() > c.Width {
		return &ConfigurationError{Field: "sink_width", Reason: fmt.Sprintf("%d sinks of width %v do not fit a board %v wide", c.SinkCount(), c.SinkWidth, c.Width)}
	}
	if c.PegAreaInset >= c.Height {
		return &ConfigurationError{Field: "peg_area_inset", Reason: "leaves no vertical room for peg rows"}
	}
	if c.TopMargin+c.Height-c.PegAreaInset >= c.Height-c.SinkOffset {
		return &ConfigurationError{Field: "top_margin", Reason: "peg rows overlap the sinks"}
	}
	if c.DropHeight >= c.TopMargin {
		return &ConfigurationError{Field: "drop_height", Reason: "balls must start above the first peg row"}
	}

	left := (c.Width - c.GridWidth()) / 2
	right := left + c.GridWidth()
	if c.DropBandMin > c.DropBandMax || c.DropBandMin < left || c.DropBandMax > right {
		return &ConfigurationError{Field: "drop_band", Reason: fmt.Sprintf("band [%v, %v] must lie inside the playable band [%v, %v]", c.DropBandMin, c.DropBandMax, left, right)}
	}
	if c.MaxTicks <= 0 {
		return &ConfigurationError{Field: "max_ticks", Reason: "must be positive"}
	}

	_, err := c.MultiplierTable()
	return err
}
