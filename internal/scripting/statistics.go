package scripting

// Statistics tracks a script session.
type Statistics struct {
	Bets     int   `json:"bets"`
	Wins     int   `json:"wins"`
	Losses   int   `json:"losses"`
	Wagered  int64 `json:"wagered"`
	Profit   int64 `json:"profit"`
	Balance  int64 `json:"balance"`
	StartBal int64 `json:"startBal"`

	WinStreak  int `json:"winStreak"`
	LoseStreak int `json:"loseStreak"`
	// Positive = win streak, negative = lose streak.
	CurrentStreak int `json:"currentStreak"`

	HighestStreak  int     `json:"highestStreak"`
	LowestStreak   int     `json:"lowestStreak"`
	HighestBet     int64   `json:"highestBet"`
	HighestProfit  int64   `json:"highestProfit"`
	LowestProfit   int64   `json:"lowestProfit"`
	BestMultiplier float64 `json:"bestMultiplier"`

	CurrentProfit int64 `json:"currentProfit"`
	// SinkCounts[i] is how many drops landed in sink i.
	SinkCounts []int `json:"sinkCounts"`
}

// ChartPoint is a single data point for the profit chart.
type ChartPoint struct {
	BetNumber int   `json:"x"`
	Profit    int64 `json:"y"`
	Win       bool  `json:"win"`
}

// ChartBuffer holds a rolling window of chart data points.
type ChartBuffer struct {
	Points []ChartPoint `json:"points"`
	Max    int          `json:"-"`
}

// NewChartBuffer creates a chart buffer with the given max capacity.
func NewChartBuffer(max int) *ChartBuffer {
	if max <= 0 {
		max = 50
	}
	return &ChartBuffer{
		Points: make([]ChartPoint, 0, max),
		Max:    max,
	}
}

// Push adds a data point. Once the buffer holds twice Max points it keeps
// every other one, always including the first and last.
func (cb *ChartBuffer) Push(p ChartPoint) {
	cb.Points = append(cb.Points, p)

	if len(cb.Points) >= cb.Max*2 {
		decimated := make([]ChartPoint, 0, cb.Max+1)
		decimated = append(decimated, cb.Points[0])
		for i := 2; i < len(cb.Points)-1; i += 2 {
			decimated = append(decimated, cb.Points[i])
		}
		decimated = append(decimated, cb.Points[len(cb.Points)-1])
		cb.Points = decimated
	}
}

// Reset clears all chart data.
func (cb *ChartBuffer) Reset() {
	cb.Points = cb.Points[:0]
}

// NewStatistics creates a Statistics with starting balance.
func NewStatistics(startBalance int64) *Statistics {
	return &Statistics{
		Balance:  startBalance,
		StartBal: startBalance,
	}
}

// Reset clears all stats and sets the starting balance to current.
func (s *Statistics) Reset() {
	bal := s.Balance
	*s = Statistics{
		Balance:  bal,
		StartBal: bal,
	}
}

// RecordBet folds one settled drop into the statistics.
func (s *Statistics) RecordBet(result BetResult) {
	s.Bets++

	profit := result.Payout - result.Amount
	s.CurrentProfit = profit
	s.Profit += profit
	s.Wagered += result.Amount
	s.Balance += profit

	if result.Win {
		s.Wins++
		s.WinStreak++
		s.LoseStreak = 0
		s.CurrentStreak = s.WinStreak
	} else {
		s.Losses++
		s.LoseStreak++
		s.WinStreak = 0
		s.CurrentStreak = -s.LoseStreak
	}

	if result.Amount > s.HighestBet {
		s.HighestBet = result.Amount
	}
	if s.Profit > s.HighestProfit {
		s.HighestProfit = s.Profit
	}
	if s.Profit < s.LowestProfit {
		s.LowestProfit = s.Profit
	}
	if s.CurrentStreak > s.HighestStreak {
		s.HighestStreak = s.CurrentStreak
	}
	if s.CurrentStreak < s.LowestStreak {
		s.LowestStreak = s.CurrentStreak
	}
	if result.Multiplier > s.BestMultiplier {
		s.BestMultiplier = result.Multiplier
	}

	if result.Sink >= 0 {
		for len(s.SinkCounts) <= result.Sink {
			s.SinkCounts = append(s.SinkCounts, 0)
		}
		s.SinkCounts[result.Sink]++
	}
}

// ProfitPercent returns profit as a percentage of starting balance.
func (s *Statistics) ProfitPercent() float64 {
	if s.StartBal == 0 {
		return 0
	}
	return float64(s.Profit) / float64(s.StartBal) * 100
}
