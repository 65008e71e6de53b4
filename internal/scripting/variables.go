package scripting

import (
	"math"

	"github.com/dop251/goja"
)

// Variables holds the globals a script reads and writes between drops.
type Variables struct {
	Balance     int64 `json:"balance"`
	NextBet     int64 `json:"nextbet"`
	BaseBet     int64 `json:"basebet"`
	PreviousBet int64 `json:"previousbet"`
	Win         bool  `json:"win"`
	Running     bool  `json:"running"`

	// Stats is shared with the engine.
	Stats *Statistics `json:"-"`

	Rows int    `json:"rows"`
	Risk string `json:"risk"`

	LastBet map[string]any `json:"lastBet"`

	StopOnWin bool `json:"stoponwin"`
}

// NewVariables creates variables for a fresh session. rows and risk seed the
// board selection and may be changed by the script.
func NewVariables(stats *Statistics, rows int, risk string) *Variables {
	return &Variables{
		Stats:   stats,
		Balance: stats.Balance,
		NextBet: 1,
		BaseBet: 1,
		Rows:    rows,
		Risk:    risk,
		LastBet: lastBetObject(BetResult{Sink: -1, WalkBucket: -1}),
	}
}

func lastBetObject(r BetResult) map[string]any {
	return map[string]any{
		"amount":           r.Amount,
		"payout":           r.Payout,
		"payoutMultiplier": r.Multiplier,
		"sink":             r.Sink,
		"walkBucket":       r.WalkBucket,
		"win":              r.Win,
		"rows":             r.Rows,
		"risk":             r.Risk,
	}
}

func injectVariables(vm *goja.Runtime, vars *Variables) {
	vm.Set("balance", vars.Balance)
	vm.Set("nextbet", vars.NextBet)
	vm.Set("basebet", vars.BaseBet)
	vm.Set("previousbet", vars.PreviousBet)
	vm.Set("win", vars.Win)
	vm.Set("running", vars.Running)

	s := vars.Stats
	vm.Set("bets", s.Bets)
	vm.Set("wins", s.Wins)
	vm.Set("losses", s.Losses)
	vm.Set("winstreak", s.WinStreak)
	vm.Set("losestreak", s.LoseStreak)
	vm.Set("currentstreak", s.CurrentStreak)
	vm.Set("profit", s.Profit)
	vm.Set("currentprofit", s.CurrentProfit)
	vm.Set("wagered", s.Wagered)
	vm.Set("highest_bet", s.HighestBet)
	vm.Set("highest_profit", s.HighestProfit)
	vm.Set("lowest_profit", s.LowestProfit)
	vm.Set("best_multiplier", s.BestMultiplier)
	vm.Set("started_bal", s.StartBal)

	vm.Set("rows", vars.Rows)
	vm.Set("risk", vars.Risk)
	vm.Set("lastBet", vars.LastBet)
	vm.Set("stoponwin", vars.StopOnWin)
}

// syncFromVM reads the script-writable globals back into vars.
func syncFromVM(vm *goja.Runtime, vars *Variables) {
	vars.NextBet = toAmount(vm.Get("nextbet"))
	vars.BaseBet = toAmount(vm.Get("basebet"))
	vars.Rows = toInt(vm.Get("rows"))
	vars.Risk = toString(vm.Get("risk"))
	vars.StopOnWin = toBool(vm.Get("stoponwin"))
}

func isUndefinedOrNull(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

// toAmount rounds a script number to whole credits; NaN and infinities become 0.
func toAmount(v goja.Value) int64 {
	if isUndefinedOrNull(v) {
		return 0
	}
	f := v.ToFloat()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int64(math.Round(f))
}

func toInt(v goja.Value) int {
	if isUndefinedOrNull(v) {
		return 0
	}
	return int(v.ToInteger())
}

func toBool(v goja.Value) bool {
	if isUndefinedOrNull(v) {
		return false
	}
	return v.ToBoolean()
}

func toString(v goja.Value) string {
	if isUndefinedOrNull(v) {
		return ""
	}
	return v.String()
}
