package metrics

// Metric names
const (
	MetricNameHTTPRequestsTotal    = "plinko_http_requests_total"
	MetricNameHTTPRequestDuration  = "plinko_http_request_duration_seconds"
	MetricNameHTTPRequestsInFlight = "plinko_http_requests_in_flight"

	MetricNameDropsTotal      = "plinko_drops_total"
	MetricNameDropsFailed     = "plinko_drops_failed_total"
	MetricNameBallFaults      = "plinko_ball_faults_total"
	MetricNameBallTicks       = "plinko_ball_ticks"
	MetricNameActiveBalls     = "plinko_active_balls"
	MetricNameWagered         = "plinko_wagered_total"
	MetricNamePaidOut         = "plinko_paid_out_total"
	MetricNameCorrections     = "plinko_ball_corrections_total"
	MetricNameScriptBets      = "plinko_script_bets_total"
	MetricNameScanEvaluations = "plinko_scan_evaluations_total"
	MetricNameScanRunsPruned  = "plinko_scan_runs_pruned_total"
)

// Help text
const (
	HelpTextHTTPRequestsTotal    = "Total number of HTTP requests"
	HelpTextHTTPRequestDuration  = "HTTP request latency in seconds"
	HelpTextHTTPRequestsInFlight = "Current number of HTTP requests being served"

	HelpTextDropsTotal      = "Total number of drops that landed, by sink"
	HelpTextDropsFailed     = "Total number of drops that failed before landing"
	HelpTextBallFaults      = "Total number of balls removed after a simulation fault"
	HelpTextBallTicks       = "Ticks a ball spent on the board before its terminal event"
	HelpTextActiveBalls     = "Balls currently in flight"
	HelpTextWagered         = "Total amount wagered on drops"
	HelpTextPaidOut         = "Total amount paid out on drops"
	HelpTextCorrections     = "Guided balls moved into their target sink at the landing line"
	HelpTextScriptBets      = "Total number of bets placed by autodrop scripts"
	HelpTextScanEvaluations = "Total number of outcomes evaluated by the distribution scanner"
	HelpTextScanRunsPruned  = "Stored scan runs removed by the retention job"
)

// Labels
const (
	LabelMethod  = "method"
	LabelPath    = "path"
	LabelStatus  = "status"
	LabelSink    = "sink"
	LabelResting = "resting"
	LabelReason  = "reason"
	LabelMode    = "mode"
)

// HTTPLatencyBuckets covers fast reads up to drops that wait for a landing.
var HTTPLatencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// BallTickBuckets spans free falls (~50 ticks) up to the default tick budget.
var BallTickBuckets = []float64{50, 100, 200, 300, 400, 600, 800, 1200, 2000, 3000}
