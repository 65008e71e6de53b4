// Package scan replays seeded drops over nonce ranges to measure the
// distribution of outcomes.
package scan

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MJE43/plinko-engine/internal/board"
	"github.com/MJE43/plinko-engine/internal/engine"
	"github.com/MJE43/plinko-engine/internal/games"
	"github.com/MJE43/plinko-engine/internal/metrics"
	"github.com/MJE43/plinko-engine/internal/physics"
	"github.com/MJE43/plinko-engine/internal/store"
)

// Mode selects what decides the bucket of a nonce.
type Mode string

const (
	// ModeWalk counts the right steps of the seeded walk.
	ModeWalk Mode = "walk"
	// ModePhysics drops a ball from the walk's start position and records the sink.
	ModePhysics Mode = "physics"
)

// Range limits per request. A physics drop costs a few hundred ticks.
const (
	MaxWalkNonces    = 10_000_000
	MaxPhysicsNonces = 200_000
)

const (
	walkBatchSize    = 8192
	physicsBatchSize = 16
)

// Request describes one scan.
type Request struct {
	Mode       Mode         `json:"mode"`
	Rows       int          `json:"rows,omitempty"`
	Risk       string       `json:"risk,omitempty"`
	Seeds      engine.Seeds `json:"seeds"`
	NonceStart uint64       `json:"nonce_start"`
	NonceEnd   uint64       `json:"nonce_end"`
	Target     *Target      `json:"target,omitempty"`
	TimeoutMs  int          `json:"timeout_ms,omitempty"`
}

// Hit is a nonce whose drop matched the target.
type Hit struct {
	Nonce      uint64  `json:"nonce"`
	Bucket     int     `json:"bucket"`
	Multiplier float64 `json:"multiplier"`
}

// Summary contains aggregate statistics
type Summary struct {
	TotalEvaluated   uint64    `json:"total_evaluated"`
	Histogram        []uint64  `json:"histogram"`
	Expected         []float64 `json:"expected"`
	RTP              float64   `json:"rtp"`
	ExpectedRTP      float64   `json:"expected_rtp"`
	ChiSquared       float64   `json:"chi_squared"`
	DegreesOfFreedom int       `json:"degrees_of_freedom"`
	HitsFound        int       `json:"hits_found"`
	// Physics mode only.
	Corrections uint64  `json:"corrections,omitempty"`
	Resting     uint64  `json:"resting,omitempty"`
	Faults      uint64  `json:"faults,omitempty"`
	MeanTicks   float64 `json:"mean_ticks,omitempty"`
	TimedOut    bool    `json:"timed_out,omitempty"`
}

// Result contains the complete scan results
type Result struct {
	Hits          []Hit         `json:"hits"`
	Summary       Summary       `json:"summary"`
	Duration      time.Duration `json:"duration"`
	EngineVersion string        `json:"engine_version"`
	Echo          Request       `json:"echo"`
}

// Record converts the result into its stored form. The server seed is kept
// only as a hash.
func (r *Result) Record() *store.ScanRun {
	return &store.ScanRun{
		Mode:           string(r.Echo.Mode),
		Rows:           r.Echo.Rows,
		Risk:           r.Echo.Risk,
		ServerSeedHash: store.HashServerSeed(r.Echo.Seeds.Server),
		ClientSeed:     r.Echo.Seeds.Client,
		NonceStart:     r.Echo.NonceStart,
		NonceEnd:       r.Echo.NonceEnd,
		Histogram:      r.Summary.Histogram,
		TotalEvaluated: r.Summary.TotalEvaluated,
		RTP:            r.Summary.RTP,
		ChiSquared:     r.Summary.ChiSquared,
		TimedOut:       r.Summary.TimedOut,
		EngineVersion:  r.EngineVersion,
	}
}

type job struct {
	start, end uint64
}

// tally is one worker's private aggregate, merged after the workers exit.
type tally struct {
	evaluated   uint64
	histogram   []uint64
	corrections uint64
	resting     uint64
	faults      uint64
	ticks       uint64
}

func (t *tally) merge(o *tally) {
	t.evaluated += o.evaluated
	for i, c := range o.histogram {
		t.histogram[i] += c
	}
	t.corrections += o.corrections
	t.resting += o.resting
	t.faults += o.faults
	t.ticks += o.ticks
}

// Scanner fans nonce batches out to a pool of workers.
type Scanner struct {
	boards      *board.Registry
	workerCount int
	version     string
	log         *logrus.Entry
}

type Option func(*Scanner)

// WithWorkers overrides the worker count, GOMAXPROCS by default.
func WithWorkers(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.workerCount = n
		}
	}
}

func WithLogger(log *logrus.Entry) Option {
	return func(s *Scanner) { s.log = log }
}

// WithVersion stamps results with the engine version.
func WithVersion(v string) Option {
	return func(s *Scanner) { s.version = v }
}

// NewScanner creates a scanner over the boards of a registry.
func NewScanner(boards *board.Registry, opts ...Option) *Scanner {
	s := &Scanner{
		boards:      boards,
		workerCount: runtime.GOMAXPROCS(0),
		version:     "dev",
		log:         logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "scan")
	return s
}

// Validate checks the request shape without touching the boards.
func (req *Request) Validate() error {
	if req.Mode == "" {
		req.Mode = ModeWalk
	}
	var limit uint64
	switch req.Mode {
	case ModeWalk:
		limit = MaxWalkNonces
	case ModePhysics:
		limit = MaxPhysicsNonces
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, req.Mode)
	}
	if req.NonceEnd < req.NonceStart {
		return fmt.Errorf("%w: end %d before start %d", ErrInvalidRange, req.NonceEnd, req.NonceStart)
	}
	if req.NonceEnd-req.NonceStart >= limit {
		return fmt.Errorf("%w: %s scans cover at most %d nonces", ErrRangeTooWide, req.Mode, limit)
	}
	if _, err := newEvaluator(req.Target); err != nil {
		return err
	}
	return nil
}

// Scan evaluates every nonce in [NonceStart, NonceEnd]. A scan cut short by
// its own timeout returns the partial result with TimedOut set; cancellation
// of ctx returns ctx's error.
func (s *Scanner) Scan(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	b, err := s.boards.Get(req.Rows, req.Risk)
	if err != nil {
		return nil, err
	}
	cfg := b.Config()
	req.Rows, req.Risk = cfg.Rows, cfg.Risk

	selector, err := games.NewOutcomeSelector(b, engine.NewCryptoSource())
	if err != nil {
		return nil, err
	}
	evaluator, _ := newEvaluator(req.Target)

	parent := ctx
	if req.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	started := time.Now()
	jobs := make(chan job, s.workerCount*2)
	hits := make(chan Hit, 1000)
	tallies := make([]*tally, s.workerCount)

	var wg sync.WaitGroup
	for i := range tallies {
		w := &worker{
			mode:     req.Mode,
			selector: selector,
			seeds:    req.Seeds,
			eval:     evaluator,
			hits:     hits,
			log:      s.log,
			tally:    &tally{histogram: make([]uint64, cfg.SinkCount())},
		}
		tallies[i] = w.tally
		wg.Add(1)
		go w.run(ctx, &wg, jobs)
	}

	batch := uint64(walkBatchSize)
	if req.Mode == ModePhysics {
		batch = physicsBatchSize
	}
	go generateJobs(ctx, jobs, req.NonceStart, req.NonceEnd, batch)
	go func() {
		wg.Wait()
		close(hits)
	}()

	limit := 0
	if req.Target != nil {
		limit = req.Target.Limit
	}
	collected := make([]Hit, 0, 64)
	for hit := range hits {
		if limit <= 0 || len(collected) < limit {
			collected = append(collected, hit)
		}
	}

	if err := parent.Err(); err != nil {
		return nil, err
	}

	total := &tally{histogram: make([]uint64, cfg.SinkCount())}
	for _, t := range tallies {
		total.merge(t)
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].Nonce < collected[j].Nonce })

	result := &Result{
		Hits:          collected,
		Summary:       summarize(total, b.Multipliers(), cfg.Rows, req.Mode),
		Duration:      time.Since(started),
		EngineVersion: s.version,
		Echo:          req,
	}
	result.Summary.HitsFound = len(collected)
	result.Summary.TimedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)

	metrics.ScanEvaluations.WithLabelValues(string(req.Mode)).Add(float64(total.evaluated))
	s.log.WithFields(logrus.Fields{
		"mode":      req.Mode,
		"rows":      req.Rows,
		"risk":      req.Risk,
		"evaluated": total.evaluated,
		"rtp":       result.Summary.RTP,
		"chi2":      result.Summary.ChiSquared,
		"timed_out": result.Summary.TimedOut,
		"duration":  result.Duration,
	}).Info("scan finished")

	return result, nil
}

func summarize(t *tally, multipliers []float64, rows int, mode Mode) Summary {
	probs := BinomialPMF(rows)
	chi, df := ChiSquared(t.histogram, probs)
	sum := Summary{
		TotalEvaluated:   t.evaluated,
		Histogram:        t.histogram,
		Expected:         probs,
		RTP:              RTP(t.histogram, multipliers),
		ExpectedRTP:      ExpectedRTP(multipliers),
		ChiSquared:       chi,
		DegreesOfFreedom: df,
	}
	if mode == ModePhysics {
		sum.Corrections = t.corrections
		sum.Resting = t.resting
		sum.Faults = t.faults
		if t.evaluated > 0 {
			sum.MeanTicks = float64(t.ticks) / float64(t.evaluated)
		}
	}
	return sum
}

// generateJobs creates job batches for optimal throughput
func generateJobs(ctx context.Context, jobs chan<- job, start, end, size uint64) {
	defer close(jobs)

	for current := start; current <= end; {
		batchEnd := current + size - 1
		if batchEnd > end || batchEnd < current {
			batchEnd = end
		}

		select {
		case jobs <- job{start: current, end: batchEnd}:
		case <-ctx.Done():
			return
		}
		if batchEnd == end {
			return
		}
		current = batchEnd + 1
	}
}

type worker struct {
	mode     Mode
	selector *games.OutcomeSelector
	seeds    engine.Seeds
	eval     *TargetEvaluator
	hits     chan<- Hit
	log      *logrus.Entry
	tally    *tally
}

func (w *worker) run(ctx context.Context, wg *sync.WaitGroup, jobs <-chan job) {
	defer wg.Done()

	floats := make([]float64, w.selector.FloatCount())
	for {
		select {
		case j, ok := <-jobs:
			if !ok {
				return
			}
			if !w.process(ctx, j, floats) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// process evaluates one batch and reports false once ctx is done.
func (w *worker) process(ctx context.Context, j job, floats []float64) bool {
	for nonce := j.start; ; nonce++ {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		bucket, multiplier, ok := w.evaluate(nonce, floats)
		if ok {
			w.tally.evaluated++
			w.tally.histogram[bucket]++
			if w.eval != nil && w.eval.Matches(multiplier) {
				select {
				case w.hits <- Hit{Nonce: nonce, Bucket: bucket, Multiplier: multiplier}:
				case <-ctx.Done():
					return false
				}
			}
		}

		if nonce == j.end {
			return true
		}
	}
}

func (w *worker) evaluate(nonce uint64, floats []float64) (int, float64, bool) {
	if w.mode == ModeWalk {
		engine.FloatsInto(floats, w.seeds.Server, w.seeds.Client, nonce, 0, len(floats))
		out, err := w.selector.Evaluate(floats)
		if err != nil {
			return 0, 0, false
		}
		return out.Bucket, out.Multiplier, true
	}
	return w.drop(nonce, floats)
}

// drop replays one seeded ball guided into the walk's bucket. The walk
// consumes the head of the nonce's stream and collision jitter continues
// from there.
func (w *worker) drop(nonce uint64, floats []float64) (int, float64, bool) {
	src := engine.NewSeededSource(w.seeds, nonce)
	for i := range floats {
		floats[i] = src.Float64()
	}
	out, err := w.selector.Evaluate(floats)
	if err != nil {
		return 0, 0, false
	}

	landing, landErr := physics.ResolveGuided(w.selector.Board(), src, out.StartX, out.Bucket, physics.WithLogger(w.log))
	if landErr != nil {
		w.tally.faults++
		return 0, 0, false
	}
	w.tally.ticks += uint64(landing.Ticks)
	if landing.Resting {
		w.tally.resting++
	}
	if landing.Corrected {
		w.tally.corrections++
	}
	return landing.Sink, landing.Multiplier, true
}
