// Package scripting runs user autodrop scripts: a dobet() callback decides
// the next bet after every settled drop.
package scripting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MJE43/plinko-engine/internal/metrics"
)

// State represents the scripting engine's lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateStopped State = "stopped"
	StateError   State = "error"
)

var (
	ErrAlreadyRunning = errors.New("engine is already running")
	ErrNotRunning     = errors.New("engine is not running")
)

// Bet is one drop requested by a script.
type Bet struct {
	Amount int64  `json:"amount"`
	Rows   int    `json:"rows"`
	Risk   string `json:"risk"`
}

// BetResult holds the outcome of a single drop.
type BetResult struct {
	Amount     int64   `json:"amount"`
	Payout     int64   `json:"payout"`
	Multiplier float64 `json:"payoutMultiplier"`
	Sink       int     `json:"sink"`
	WalkBucket int     `json:"walkBucket"`
	Rows       int     `json:"rows"`
	Risk       string  `json:"risk"`
	Win        bool    `json:"win"`
}

// BetPlacer settles the drops a script asks for.
type BetPlacer interface {
	PlaceBet(ctx context.Context, bet Bet) (*BetResult, error)
}

// EngineSnapshot is a serializable snapshot of the engine state.
type EngineSnapshot struct {
	State         State        `json:"state"`
	Error         string       `json:"error,omitempty"`
	Stats         *Statistics  `json:"stats"`
	Chart         []ChartPoint `json:"chart"`
	Rows          int          `json:"rows"`
	Risk          string       `json:"risk"`
	BetsPerSecond float64      `json:"betsPerSecond"`
}

// Engine is the main scripting engine that orchestrates the bet lifecycle.
type Engine struct {
	placer  BetPlacer
	log     *logrus.Entry
	maxBets int
	rows    int
	risk    string

	mu     sync.RWMutex
	state  State
	err    error
	cancel context.CancelFunc
	done   chan struct{}

	vm    *VM
	vars  *Variables
	stats *Statistics
	chart *ChartBuffer

	startTime time.Time
}

type Option func(*Engine)

func WithLogger(log *logrus.Entry) Option {
	return func(e *Engine) { e.log = log }
}

// WithMaxBets stops a session after n drops. Zero means no limit.
func WithMaxBets(n int) Option {
	return func(e *Engine) { e.maxBets = n }
}

// WithBoard sets the rows and risk a session starts with.
func WithBoard(rows int, risk string) Option {
	return func(e *Engine) { e.rows, e.risk = rows, risk }
}

// NewEngine creates a new scripting engine.
func NewEngine(placer BetPlacer, opts ...Option) *Engine {
	e := &Engine{
		placer: placer,
		log:    logrus.NewEntry(logrus.StandardLogger()),
		state:  StateIdle,
		done:   closedChan(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.WithField("component", "script")
	return e
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Start executes the script body once to register dobet(), then runs the bet
// loop in the background until the script stops, fails or Stop is called.
func (e *Engine) Start(script string, startBalance int64) error {
	e.mu.Lock()
	if e.state == StateRunning {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}

	e.stats = NewStatistics(startBalance)
	e.chart = NewChartBuffer(500)
	e.vars = NewVariables(e.stats, e.rows, e.risk)
	e.vm = NewVM(func(msg string) { e.log.WithField("source", "script").Debug(msg) })
	e.state = StateRunning
	e.err = nil
	e.startTime = time.Now()
	e.done = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	vm, vars, done := e.vm, e.vars, e.done
	e.mu.Unlock()

	vm.SetVariables(vars)
	if err := vm.Execute(script); err != nil {
		e.fail(err)
		cancel()
		close(done)
		return err
	}
	if !vm.HasDobet() {
		err := errors.New("script must define a dobet() function")
		e.fail(err)
		cancel()
		close(done)
		return err
	}

	e.mu.Lock()
	vm.SyncVariables(vars)
	vars.Running = true
	e.mu.Unlock()
	vm.SetVariables(vars)

	e.log.WithFields(logrus.Fields{"balance": startBalance, "rows": vars.Rows, "risk": vars.Risk}).Info("script started")
	go e.betLoop(ctx, done)
	return nil
}

// Stop cancels the bet loop and waits for it to exit.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return ErrNotRunning
	}
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Done is closed when the current session ends.
func (e *Engine) Done() <-chan struct{} {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.done
}

// Err returns the error that ended the last session, if any.
func (e *Engine) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.err
}

// GetState returns the current engine snapshot.
func (e *Engine) GetState() EngineSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot()
}

// GetLogs returns the script log buffer.
func (e *Engine) GetLogs() []LogEntry {
	e.mu.RLock()
	vm := e.vm
	e.mu.RUnlock()
	if vm == nil {
		return nil
	}
	return vm.GetLogs()
}

func (e *Engine) betLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			e.fail(fmt.Errorf("script panic: %v", r))
		}
	}()

	for {
		if ctx.Err() != nil || e.vm.IsStopRequested() {
			e.finish()
			return
		}

		e.mu.RLock()
		bet := Bet{Amount: e.vars.NextBet, Rows: e.vars.Rows, Risk: e.vars.Risk}
		balance := e.stats.Balance
		e.mu.RUnlock()

		if bet.Amount <= 0 {
			e.fail(fmt.Errorf("nextbet must be a positive whole amount, got %d", bet.Amount))
			return
		}
		if bet.Amount > balance {
			e.fail(fmt.Errorf("nextbet %d exceeds balance %d", bet.Amount, balance))
			return
		}

		result, err := e.placer.PlaceBet(ctx, bet)
		if err != nil {
			if ctx.Err() != nil {
				e.finish()
				return
			}
			e.fail(fmt.Errorf("bet placement failed: %w", err))
			return
		}
		metrics.ScriptBets.Inc()

		e.mu.Lock()
		e.stats.RecordBet(*result)
		e.vars.Win = result.Win
		e.vars.PreviousBet = result.Amount
		e.vars.Balance = e.stats.Balance
		e.vars.LastBet = lastBetObject(*result)
		e.chart.Push(ChartPoint{BetNumber: e.stats.Bets, Profit: e.stats.Profit, Win: result.Win})
		bets := e.stats.Bets
		e.mu.Unlock()

		e.vm.SetVariables(e.vars)
		if err := e.vm.CallDobet(); err != nil {
			e.fail(err)
			return
		}

		e.mu.Lock()
		e.vm.SyncVariables(e.vars)
		if e.vm.TakeResetStats() {
			e.stats.Reset()
			e.chart.Reset()
		}
		stopOnWin := e.vars.StopOnWin
		e.mu.Unlock()

		if (stopOnWin && result.Win) || (e.maxBets > 0 && bets >= e.maxBets) {
			e.finish()
			return
		}

		if d := e.vm.TakeSleep(); d > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(d):
			}
		}
	}
}

func (e *Engine) finish() {
	e.mu.Lock()
	if e.state == StateRunning {
		e.state = StateStopped
	}
	e.vars.Running = false
	snap := e.snapshot()
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"bets":    snap.Stats.Bets,
		"profit":  snap.Stats.Profit,
		"balance": snap.Stats.Balance,
	}).Info("script stopped")
}

func (e *Engine) fail(err error) {
	e.mu.Lock()
	e.state = StateError
	e.err = err
	if e.vars != nil {
		e.vars.Running = false
	}
	e.mu.Unlock()
	e.log.WithError(err).Warn("script failed")
}

func (e *Engine) snapshot() EngineSnapshot {
	snap := EngineSnapshot{State: e.state}
	if e.err != nil {
		snap.Error = e.err.Error()
	}
	if e.stats != nil {
		statsCopy := *e.stats
		statsCopy.SinkCounts = append([]int(nil), e.stats.SinkCounts...)
		snap.Stats = &statsCopy
	}
	if e.chart != nil {
		snap.Chart = append([]ChartPoint(nil), e.chart.Points...)
	}
	if e.vars != nil {
		snap.Rows = e.vars.Rows
		snap.Risk = e.vars.Risk
	}
	if e.state == StateRunning && e.stats != nil && e.stats.Bets > 0 {
		if elapsed := time.Since(e.startTime).Seconds(); elapsed > 0 {
			snap.BetsPerSecond = float64(e.stats.Bets) / elapsed
		}
	}
	return snap
}
