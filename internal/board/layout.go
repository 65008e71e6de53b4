package board

// Obstacle is a fixed circular peg.
type Obstacle struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius float64 `json:"radius"`
}

// Sink is a landing slot. X is its left edge, Y its centre line.
type Sink struct {
	Index      int     `json:"index"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Multiplier float64 `json:"multiplier"`
}

// LandingLine is the y a ball's bottom edge has to cross to land.
func (s Sink) LandingLine() float64 {
	return s.Y - s.Height/2
}

// Centre is the x midway across the sink.
func (s Sink) Centre() float64 {
	return s.X + s.Width/2
}

// Contains reports whether x falls in [X, X+Width). closedRight also accepts the right edge.
func (s Sink) Contains(x float64, closedRight bool) bool {
	if x < s.X {
		return false
	}
	if closedRight {
		return x <= s.X+s.Width
	}
	return x < s.X+s.Width
}

// CreateObstacles lays out the triangular peg field. Row r holds r+3 pegs,
// rows are spread evenly from TopMargin and every row is centred.
func CreateObstacles(cfg Config) []Obstacle {
	spacing := cfg.GridWidth() / float64(cfg.Rows+2)
	rowSpan := cfg.Height - cfg.PegAreaInset

	obstacles := make([]Obstacle, 0, cfg.Rows*(cfg.Rows+5)/2)
	for row := 0; row < cfg.Rows; row++ {
		pegs := row + 3
		y := cfg.TopMargin + float64(row)*rowSpan/float64(cfg.Rows)
		start := (cfg.Width - spacing*float64(pegs-1)) / 2
		for col := 0; col < pegs; col++ {
			obstacles = append(obstacles, Obstacle{
				X:      start + float64(col)*spacing,
				Y:      y,
				Radius: cfg.ObstacleRadius,
			})
		}
	}
	return obstacles
}

// CreateSinks lays out one sink per multiplier, contiguous and centred.
func CreateSinks(cfg Config, multipliers []float64) []Sink {
	start := (cfg.Width - float64(len(multipliers))*cfg.SinkWidth) / 2
	y := cfg.Height - cfg.SinkOffset

	sinks := make([]Sink, len(multipliers))
	for i, m := range multipliers {
		sinks[i] = Sink{
			Index:      i,
			X:          start + float64(i)*cfg.SinkWidth,
			Y:          y,
			Width:      cfg.SinkWidth,
			Height:     cfg.SinkWidth,
			Multiplier: m,
		}
	}
	return sinks
}
