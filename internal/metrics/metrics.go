package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/MJE43/plinko-engine/internal/physics"
)

// HTTP Metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameHTTPRequestsTotal,
			Help: HelpTextHTTPRequestsTotal,
		},
		[]string{LabelMethod, LabelPath, LabelStatus},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    MetricNameHTTPRequestDuration,
			Help:    HelpTextHTTPRequestDuration,
			Buckets: HTTPLatencyBuckets,
		},
		[]string{LabelMethod, LabelPath},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: MetricNameHTTPRequestsInFlight,
			Help: HelpTextHTTPRequestsInFlight,
		},
	)
)

// Simulation Metrics
var (
	DropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameDropsTotal,
			Help: HelpTextDropsTotal,
		},
		[]string{LabelSink, LabelResting},
	)

	DropsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameDropsFailed,
			Help: HelpTextDropsFailed,
		},
		[]string{LabelReason},
	)

	BallFaults = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricNameBallFaults,
			Help: HelpTextBallFaults,
		},
	)

	BallTicks = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    MetricNameBallTicks,
			Help:    HelpTextBallTicks,
			Buckets: BallTickBuckets,
		},
	)

	ActiveBalls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: MetricNameActiveBalls,
			Help: HelpTextActiveBalls,
		},
	)

	Corrections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricNameCorrections,
			Help: HelpTextCorrections,
		},
	)
)

// Business Metrics
var (
	Wagered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricNameWagered,
			Help: HelpTextWagered,
		},
	)

	PaidOut = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricNamePaidOut,
			Help: HelpTextPaidOut,
		},
	)

	ScriptBets = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricNameScriptBets,
			Help: HelpTextScriptBets,
		},
	)

	ScanEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameScanEvaluations,
			Help: HelpTextScanEvaluations,
		},
		[]string{LabelMode},
	)

	ScanRunsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricNameScanRunsPruned,
			Help: HelpTextScanRunsPruned,
		},
	)
)

// SimulationObserver feeds simulator terminal events into the metrics above.
type SimulationObserver struct{}

var _ physics.Observer = SimulationObserver{}

func (SimulationObserver) BallLanded(l physics.Landing) {
	DropsTotal.WithLabelValues(strconv.Itoa(l.Sink), strconv.FormatBool(l.Resting)).Inc()
	BallTicks.Observe(float64(l.Ticks))
	if l.Corrected {
		Corrections.Inc()
	}
}

func (SimulationObserver) BallFaulted(f *physics.BallFault) {
	BallFaults.Inc()
	BallTicks.Observe(float64(f.Ticks))
}
