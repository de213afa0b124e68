package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "washgw"

// States lists every bay state reported by the bay_state gauge.
var States = []string{"IDLE", "STARTING", "WASHING", "DONE", "CANCELED", "ERROR", "OFFLINE"}

// Package-level collectors, registered via Register.
var (
	regOK atomic.Bool

	pollCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "cycles_total",
			Help:      "Poll cycles by outcome (ok, failed).",
		}, []string{"result"},
	)
	pollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "cycle_duration_seconds",
			Help:      "Time to read every bay block in one cycle.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)
	modbusConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "modbus",
			Name:      "connected",
			Help:      "1 while the PLC link is up.",
		},
	)
	connectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "modbus",
			Name:      "connect_attempts_total",
			Help:      "Connect attempts by outcome (ok, failed).",
		}, []string{"result"},
	)
	commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commands",
			Name:      "total",
			Help:      "Bus commands by action and result.",
		}, []string{"action", "result"},
	)
	publishes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "status",
			Name:      "publishes_total",
			Help:      "Status publishes by reason (change, heartbeat, offline, command).",
		}, []string{"reason"},
	)
	publishFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "status",
			Name:      "publish_failures_total",
			Help:      "Status publishes the bus rejected.",
		},
	)
	storeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "failures_total",
			Help:      "Persistence failures by operation.",
		}, []string{"op"},
	)
	bayState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bay",
			Name:      "state",
			Help:      "Current bay state (1 = current, 0 = not).",
		}, []string{"bay", "state"},
	)
	bayProgress = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bay",
			Name:      "progress_percent",
			Help:      "Last observed wash progress per bay.",
		}, []string{"bay"},
	)
)

// Register registers all collectors with r.
// Calling it again after a successful registration is a no-op.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		pollCycles, pollDuration, modbusConnected, connectAttempts,
		commands, publishes, publishFailures, storeFailures,
		bayState, bayProgress,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the default gatherer in the Prometheus exposition format.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register succeeds.

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

// ObservePollCycle records one poll cycle.
func ObservePollCycle(ok bool, took time.Duration) {
	if !regOK.Load() {
		return
	}
	pollCycles.WithLabelValues(result(ok)).Inc()
	if ok {
		pollDuration.Observe(took.Seconds())
	}
}

// SetModbusConnected records the PLC link state.
func SetModbusConnected(connected bool) {
	if !regOK.Load() {
		return
	}
	if connected {
		modbusConnected.Set(1)
	} else {
		modbusConnected.Set(0)
	}
}

func IncConnectAttempt(ok bool) {
	if regOK.Load() {
		connectAttempts.WithLabelValues(result(ok)).Inc()
	}
}

// IncCommand counts a command. result is "accepted" or an error kind
// such as "already_active" or "connection_down".
func IncCommand(action, result string) {
	if regOK.Load() {
		commands.WithLabelValues(action, result).Inc()
	}
}

func IncPublish(reason string) {
	if regOK.Load() {
		publishes.WithLabelValues(reason).Inc()
	}
}

func IncPublishFailure() {
	if regOK.Load() {
		publishFailures.Inc()
	}
}

func IncStoreFailure(op string) {
	if regOK.Load() {
		storeFailures.WithLabelValues(op).Inc()
	}
}

// SetBayState marks state as current for bay and clears the others.
func SetBayState(bay, state string, progress int) {
	if !regOK.Load() {
		return
	}
	for _, s := range States {
		v := 0.0
		if s == state {
			v = 1
		}
		bayState.WithLabelValues(bay, s).Set(v)
	}
	bayProgress.WithLabelValues(bay).Set(float64(progress))
}
