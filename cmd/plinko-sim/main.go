// Command plinko-sim runs distribution scans and betting scripts without the
// HTTP server.
//
//	plinko-sim scan -server <seed> -client <seed> -start 0 -end 99999
//	plinko-sim script -file martingale.js -balance 10000 -max-bets 500 -save sessions.db
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MJE43/plinko-engine/internal/api"
	"github.com/MJE43/plinko-engine/internal/board"
	"github.com/MJE43/plinko-engine/internal/config"
	"github.com/MJE43/plinko-engine/internal/engine"
	"github.com/MJE43/plinko-engine/internal/logging"
	"github.com/MJE43/plinko-engine/internal/scan"
	"github.com/MJE43/plinko-engine/internal/scripting"
	"github.com/MJE43/plinko-engine/internal/scriptstore"
	"github.com/MJE43/plinko-engine/internal/store"
)

const usage = `usage: plinko-sim <command> [flags]

commands:
  scan     replay a nonce range and print the sink histogram
  script   run a betting script against a local board
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "scan":
		err = runScan(ctx, os.Args[2:], os.Stdout)
	case "script":
		err = runScript(ctx, os.Args[2:], os.Stdout)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "plinko-sim %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

// commonFlags are shared by every command.
type commonFlags struct {
	boardFile string
	rows      int
	risk      string
	logLevel  string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.boardFile, "board", "", "board YAML file (default board when empty)")
	fs.IntVar(&c.rows, "rows", 0, "pin rows, 8-16 (board default when 0)")
	fs.StringVar(&c.risk, "risk", "", "risk level: low, medium or high (board default when empty)")
	fs.StringVar(&c.logLevel, "log-level", "warn", "log level")
}

func (c *commonFlags) setup() (*board.Registry, *logrus.Logger, error) {
	logger, err := logging.New(c.logLevel, "text", os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	base, err := config.LoadBoard(c.boardFile)
	if err != nil {
		return nil, nil, err
	}
	if err := base.Validate(); err != nil {
		return nil, nil, err
	}
	boards, err := board.NewRegistry(base, 4)
	if err != nil {
		return nil, nil, err
	}
	return boards, logger, nil
}

func runScan(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	mode := fs.String("mode", string(scan.ModeWalk), "walk or physics")
	serverSeed := fs.String("server", "", "server seed (required)")
	clientSeed := fs.String("client", "", "client seed")
	start := fs.Uint64("start", 0, "first nonce")
	end := fs.Uint64("end", 9999, "last nonce, inclusive")
	workers := fs.Int("workers", 0, "worker goroutines (GOMAXPROCS when 0)")
	timeout := fs.Duration("timeout", 0, "stop early and report partial results after this long")
	targetOp := fs.String("target-op", "", "report drops whose multiplier matches: eq, gt, ge, lt, le, between, outside")
	targetVal := fs.Float64("target", 0, "target multiplier")
	targetVal2 := fs.Float64("target2", 0, "upper bound for between and outside")
	limit := fs.Int("limit", 20, "maximum hits to print")
	savePath := fs.String("save", "", "sqlite database to record the run in")
	asJSON := fs.Bool("json", false, "print the full result as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *serverSeed == "" {
		return errors.New("-server is required")
	}

	boards, logger, err := common.setup()
	if err != nil {
		return err
	}

	req := scan.Request{
		Mode:       scan.Mode(*mode),
		Rows:       common.rows,
		Risk:       common.risk,
		Seeds:      engine.Seeds{Server: *serverSeed, Client: *clientSeed},
		NonceStart: *start,
		NonceEnd:   *end,
		TimeoutMs:  int(timeout.Milliseconds()),
	}
	if *targetOp != "" {
		req.Target = &scan.Target{
			Op:     scan.TargetOp(*targetOp),
			Value:  *targetVal,
			Value2: *targetVal2,
			Limit:  *limit,
		}
	}

	scanner := scan.NewScanner(boards,
		scan.WithWorkers(*workers),
		scan.WithLogger(logging.Component(logger, "scan")),
		scan.WithVersion(api.EngineVersion),
	)
	result, err := scanner.Scan(ctx, req)
	if err != nil {
		return err
	}

	if *savePath != "" {
		db, err := store.Open(ctx, *savePath)
		if err != nil {
			return err
		}
		defer db.Close()
		run := result.Record()
		if err := db.SaveScanRun(ctx, run); err != nil {
			return err
		}
		logger.WithField("run", run.ID).Info("scan saved")
		if !*asJSON {
			fmt.Fprintf(out, "saved run %s\n", run.ID)
		}
	}

	if *asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	return printScan(out, boards, result)
}

func printScan(out io.Writer, boards *board.Registry, result *scan.Result) error {
	b, err := boards.Get(result.Echo.Rows, result.Echo.Risk)
	if err != nil {
		return err
	}
	s := result.Summary

	fmt.Fprintf(out, "%s scan, %d rows, %s risk, nonces %d-%d\n",
		result.Echo.Mode, result.Echo.Rows, result.Echo.Risk, result.Echo.NonceStart, result.Echo.NonceEnd)
	fmt.Fprintf(out, "evaluated %d in %s", s.TotalEvaluated, result.Duration.Round(time.Millisecond))
	if s.TimedOut {
		fmt.Fprint(out, " (timed out, partial)")
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "sink\tmultiplier\tcount\texpected\t")
	mults := b.Multipliers()
	for i, n := range s.Histogram {
		var expected float64
		if i < len(s.Expected) {
			expected = s.Expected[i]
		}
		fmt.Fprintf(tw, "%d\t%gx\t%d\t%.1f\t\n", i, mults[i], n, expected)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "rtp %.4f (expected %.4f)\n", s.RTP, s.ExpectedRTP)
	fmt.Fprintf(out, "chi-squared %.3f, %d degrees of freedom\n", s.ChiSquared, s.DegreesOfFreedom)
	if result.Echo.Mode == scan.ModePhysics {
		fmt.Fprintf(out, "corrections %d, resting %d, faults %d, mean ticks %.1f\n",
			s.Corrections, s.Resting, s.Faults, s.MeanTicks)
	}
	if len(result.Hits) > 0 {
		fmt.Fprintf(out, "\n%d hits\n", s.HitsFound)
		for _, h := range result.Hits {
			fmt.Fprintf(out, "  nonce %d  sink %d  %gx\n", h.Nonce, h.Bucket, h.Multiplier)
		}
	}
	return nil
}

func runScript(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("script", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	file := fs.String("file", "", "JavaScript file defining dobet (required)")
	balance := fs.Int64("balance", 10_000, "starting balance")
	maxBets := fs.Int("max-bets", 1000, "stop after this many bets (0 for no limit)")
	serverSeed := fs.String("server", "", "server seed for a reproducible run (random when empty)")
	clientSeed := fs.String("client", "", "client seed")
	nonce := fs.Uint64("nonce", 0, "nonce of the seeded stream")
	showLogs := fs.Bool("logs", false, "print the script's log() output")
	savePath := fs.String("save", "", "sqlite database to record the session in")
	name := fs.String("name", "", "session name (file name when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("-file is required")
	}

	src, err := os.ReadFile(*file)
	if err != nil {
		return err
	}
	boards, logger, err := common.setup()
	if err != nil {
		return err
	}

	var source engine.RandomSource = engine.NewCryptoSource()
	if *serverSeed != "" {
		source = engine.NewSeededSource(engine.Seeds{Server: *serverSeed, Client: *clientSeed}, *nonce)
	}

	var placer scripting.BetPlacer = scripting.NewLocalPlacer(boards, source, logging.Component(logger, "placer"))

	var rec *scriptstore.SessionRecorder
	if *savePath != "" {
		b, err := boards.Get(common.rows, common.risk)
		if err != nil {
			return err
		}
		sessions, err := scriptstore.Open(ctx, *savePath)
		if err != nil {
			return err
		}
		defer sessions.Close()

		sessName := *name
		if sessName == "" {
			sessName = filepath.Base(*file)
		}
		id, err := sessions.CreateSession(ctx, &scriptstore.Session{
			Name:         sessName,
			Rows:         b.Rows(),
			Risk:         b.Config().Risk,
			ScriptSource: string(src),
			StartBalance: *balance,
		})
		if err != nil {
			return err
		}
		rec = scriptstore.NewSessionRecorder(sessions, id, 0, logging.Component(logger, "scriptstore"))
		placer = scriptstore.NewRecordingPlacer(placer, rec)
	}

	eng := scripting.NewEngine(placer,
		scripting.WithLogger(logging.Component(logger, "script")),
		scripting.WithMaxBets(*maxBets),
		scripting.WithBoard(common.rows, common.risk),
	)
	if err := eng.Start(string(src), *balance); err != nil {
		return err
	}

	select {
	case <-eng.Done():
	case <-ctx.Done():
		if err := eng.Stop(); err != nil && !errors.Is(err, scripting.ErrNotRunning) {
			return err
		}
	}

	if rec != nil {
		// ctx may already be cancelled by the signal that stopped the run.
		if err := rec.Finish(context.Background(), eng.GetState()); err != nil {
			return err
		}
		fmt.Fprintf(out, "saved session %s\n", rec.SessionID())
	}

	if *showLogs {
		for _, l := range eng.GetLogs() {
			fmt.Fprintf(out, "%s  %s\n", l.Time.Format("15:04:05.000"), l.Message)
		}
		fmt.Fprintln(out)
	}
	printScript(out, eng.GetState())
	return eng.Err()
}

func printScript(out io.Writer, snap scripting.EngineSnapshot) {
	st := snap.Stats
	fmt.Fprintf(out, "state %s", snap.State)
	if snap.Error != "" {
		fmt.Fprintf(out, " (%s)", snap.Error)
	}
	fmt.Fprintln(out)
	if st == nil {
		return
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "bets\t%d\t(%d won, %d lost)\n", st.Bets, st.Wins, st.Losses)
	fmt.Fprintf(tw, "wagered\t%d\n", st.Wagered)
	fmt.Fprintf(tw, "profit\t%d\t(high %d, low %d)\n", st.Profit, st.HighestProfit, st.LowestProfit)
	fmt.Fprintf(tw, "balance\t%d\t(start %d)\n", st.Balance, st.StartBal)
	fmt.Fprintf(tw, "highest bet\t%d\n", st.HighestBet)
	fmt.Fprintf(tw, "best multiplier\t%gx\n", st.BestMultiplier)
	fmt.Fprintf(tw, "streaks\t+%d / -%d\n", st.HighestStreak, -st.LowestStreak)
	fmt.Fprintf(tw, "rate\t%.1f bets/s\n", snap.BetsPerSecond)
	tw.Flush()

	if len(st.SinkCounts) > 0 {
		fmt.Fprint(out, "sinks")
		for i, n := range st.SinkCounts {
			fmt.Fprintf(out, " %d:%d", i, n)
		}
		fmt.Fprintln(out)
	}
}
