package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AaronLay10/AlchemyMachine/internal/events"
	"github.com/AaronLay10/AlchemyMachine/internal/puzzle"
	"github.com/AaronLay10/AlchemyMachine/internal/version"
)

var metricsState = &MetricsState{startTime: time.Now()}

// MetricsState holds process-level values exported on /metrics.
type MetricsState struct {
	mu        sync.RWMutex
	startTime time.Time
	propName  string
}

// InitMetrics resets the uptime clock. Call once at startup.
func InitMetrics() {
	metricsState.mu.Lock()
	defer metricsState.mu.Unlock()
	metricsState.startTime = time.Now()
}

// SetPropName sets the name used in alerts and the build info metric.
func SetPropName(name string) {
	metricsState.mu.Lock()
	metricsState.propName = name
	metricsState.mu.Unlock()
	buildInfo.Reset()
	buildInfo.WithLabelValues(name, version.Version).Set(1)
}

// GetPropName returns the prop name set at startup.
func GetPropName() string {
	metricsState.mu.RLock()
	defer metricsState.mu.RUnlock()
	return metricsState.propName
}

func boolGauge(f func(Connectivity) bool) func() float64 {
	return func() float64 {
		if f(connectivity()) {
			return 1
		}
		return 0
	}
}

var (
	buildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "alchemy",
		Name:      "build_info",
		Help:      "Always 1; labels carry the prop name and build version",
	}, []string{"prop", "version"})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "alchemy",
		Subsystem: "puzzle",
		Name:      "transitions_total",
		Help:      "Puzzle state transitions",
	}, []string{"from", "to"})

	puzzleState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "alchemy",
		Subsystem: "puzzle",
		Name:      "state",
		Help:      "1 for the current puzzle state, 0 otherwise",
	}, []string{"state"})

	solvesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "alchemy",
		Subsystem: "puzzle",
		Name:      "solves_total",
		Help:      "Completed solves by trigger",
	}, []string{"reason"})

	cycleSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "alchemy",
		Subsystem: "loop",
		Name:      "cycle_seconds",
		Help:      "Control loop cycle duration",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
	})

	_ = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "alchemy",
		Name:      "uptime_seconds",
		Help:      "Seconds since the process started",
	}, func() float64 {
		metricsState.mu.RLock()
		defer metricsState.mu.RUnlock()
		return time.Since(metricsState.startTime).Seconds()
	})

	_ = promauto.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "alchemy",
		Name:      "events_total",
		Help:      "Events emitted since startup",
	}, func() float64 { return float64(events.TotalCount()) })

	_ = promauto.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "alchemy",
		Name:      "events_dropped_total",
		Help:      "Event deliveries skipped for slow subscribers",
	}, func() float64 { return float64(events.DroppedCount()) })

	_ = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "alchemy",
		Name:      "websocket_clients",
		Help:      "Connected event stream clients",
	}, func() float64 { return float64(events.SubscriberCount()) })

	_ = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "alchemy",
		Name:      "mqtt_connected",
		Help:      "Whether the MQTT broker is connected",
	}, boolGauge(func(c Connectivity) bool { return c.MQTT }))

	_ = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "alchemy",
		Name:      "io_controller_connected",
		Help:      "Whether the IO controller is heartbeating",
	}, boolGauge(func(c Connectivity) bool { return c.IOController }))

	_ = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "alchemy",
		Name:      "postgres_connected",
		Help:      "Whether the event store is connected",
	}, boolGauge(func(c Connectivity) bool { return c.Postgres }))
)

var allStates = []puzzle.State{
	puzzle.StateInitializing,
	puzzle.StateUnpowered,
	puzzle.StatePowered,
	puzzle.StateSolved,
	puzzle.StateGameOver,
}

// Metrics records controller activity. It implements puzzle.Observer.
type Metrics struct{}

// NewMetrics returns an observer feeding the /metrics collectors.
func NewMetrics() *Metrics {
	setStateGauge(puzzle.StateInitializing)
	return &Metrics{}
}

func setStateGauge(current puzzle.State) {
	for _, s := range allStates {
		v := 0.0
		if s == current {
			v = 1
		}
		puzzleState.WithLabelValues(string(s)).Set(v)
	}
}

// Transition implements puzzle.Observer.
func (m *Metrics) Transition(from, to puzzle.State, reason string) {
	transitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	setStateGauge(to)
	if to == puzzle.StateSolved {
		solvesTotal.WithLabelValues(reason).Inc()
	}
}

// CycleCompleted implements puzzle.Observer.
func (m *Metrics) CycleCompleted(took time.Duration) {
	cycleSeconds.Observe(took.Seconds())
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}
