package board

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Board is an immutable field built from a validated Config.
// It is shared read-only between simulators.
type Board struct {
	cfg         Config
	multipliers []float64
	obstacles   []Obstacle
	sinks       []Sink
}

// New validates cfg and lays out the field.
func New(cfg Config) (*Board, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	multipliers, err := cfg.MultiplierTable()
	if err != nil {
		return nil, err
	}
	return &Board{
		cfg:         cfg,
		multipliers: multipliers,
		obstacles:   CreateObstacles(cfg),
		sinks:       CreateSinks(cfg, multipliers),
	}, nil
}

func (b *Board) Config() Config { return b.cfg }

func (b *Board) Rows() int { return b.cfg.Rows }

// Obstacles returns the pegs. Callers must not modify the slice.
func (b *Board) Obstacles() []Obstacle { return b.obstacles }

// Sinks returns the sinks in index order. Callers must not modify the slice.
func (b *Board) Sinks() []Sink { return b.sinks }

// Multipliers returns a copy of the resolved table.
func (b *Board) Multipliers() []float64 {
	out := make([]float64, len(b.multipliers))
	copy(out, b.multipliers)
	return out
}

// Multiplier returns the table value for a bucket.
func (b *Board) Multiplier(bucket int) (float64, error) {
	if bucket < 0 || bucket >= len(b.multipliers) {
		return 0, fmt.Errorf("bucket %d out of range [0, %d]", bucket, len(b.multipliers)-1)
	}
	return b.multipliers[bucket], nil
}

// Bounds is the horizontal playable band, from the left edge of the first sink
// to the right edge of the last.
func (b *Board) Bounds() (left, right float64) {
	first := b.sinks[0]
	last := b.sinks[len(b.sinks)-1]
	return first.X, last.X + last.Width
}

// SinkAt returns the index of the sink under x, clamping x into the band.
func (b *Board) SinkAt(x float64) int {
	last := len(b.sinks) - 1
	for i, s := range b.sinks {
		if s.Contains(x, i == last) {
			return i
		}
	}
	if x < b.sinks[0].X {
		return 0
	}
	return last
}

// Layout is the JSON view of a board handed to renderers.
type Layout struct {
	Config    Config     `json:"config"`
	Obstacles []Obstacle `json:"obstacles"`
	Sinks     []Sink     `json:"sinks"`
}

func (b *Board) Layout() Layout {
	obstacles := make([]Obstacle, len(b.obstacles))
	copy(obstacles, b.obstacles)
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	return Layout{Config: b.cfg, Obstacles: obstacles, Sinks: sinks}
}

type registryKey struct {
	rows int
	risk string
}

// Registry caches boards for rows/risk variants of a base configuration.
type Registry struct {
	base Config

	mu    sync.Mutex
	cache *lru.Cache[registryKey, *Board]
}

// NewRegistry creates a registry holding at most size boards.
func NewRegistry(base Config, size int) (*Registry, error) {
	if size <= 0 {
		size = 16
	}
	cache, err := lru.New[registryKey, *Board](size)
	if err != nil {
		return nil, fmt.Errorf("create board cache: %w", err)
	}
	return &Registry{base: base, cache: cache}, nil
}

// Default returns the board for the base configuration.
func (r *Registry) Default() (*Board, error) {
	return r.Get(r.base.Rows, r.base.Risk)
}

// Get returns the board for rows and risk, building it on first use.
// The base multiplier override only applies to the base rows/risk pair.
func (r *Registry) Get(rows int, risk string) (*Board, error) {
	if risk == "" {
		risk = r.base.Risk
	}
	if rows == 0 {
		rows = r.base.Rows
	}
	key := registryKey{rows: rows, risk: risk}

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.cache.Get(key); ok {
		return b, nil
	}

	cfg := r.base
	if rows != r.base.Rows || risk != r.base.Risk {
		cfg = r.base.WithRowsRisk(rows, risk)
	}
	b, err := New(cfg)
	if err != nil {
		return nil, err
	}
	r.cache.Add(key, b)
	return b, nil
}
