package metrics

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry = prometheus.NewRegistry()

	trackedProcesses = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "corral",
		Name:      "tracked_processes",
		Help:      "Number of processes held in each tracking collection.",
	}, []string{"collection"})

	launches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "corral",
		Name:      "launches_total",
		Help:      "Launch requests by outcome.",
	}, []string{"outcome"})

	stops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "corral",
		Name:      "stops_total",
		Help:      "Stop requests by mode (graceful or forced) and outcome.",
	}, []string{"mode", "outcome"})

	escalations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "corral",
		Name:      "escalations_total",
		Help:      "Graceful stops that exceeded the grace period and were force killed.",
	})

	reaped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "corral",
		Name:      "reaped_total",
		Help:      "Tracked processes removed after exiting on their own.",
	}, []string{"collection"})

	reaperCycle = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "corral",
		Name:      "reaper_cycle_seconds",
		Help:      "Duration of reaper reconciliation cycles in seconds.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "corral",
		Name:      "build_info",
		Help:      "Build metadata for the running corral binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(trackedProcesses, launches, stops, escalations, reaped, reaperCycle, buildInfo)
}

// Registry returns the Prometheus registry containing all corral metrics.
func Registry() *prometheus.Registry {
	return registry
}

// SetTracked records the current size of a tracking collection.
func SetTracked(collection string, n int) {
	if collection == "" {
		return
	}
	trackedProcesses.WithLabelValues(collection).Set(float64(n))
}

// IncrementLaunch counts a launch request with the given outcome.
func IncrementLaunch(outcome string) {
	launches.WithLabelValues(outcome).Inc()
}

// IncrementStop counts a stop request.
func IncrementStop(graceful bool, outcome string) {
	mode := "forced"
	if graceful {
		mode = "graceful"
	}
	stops.WithLabelValues(mode, outcome).Inc()
}

// IncrementEscalation counts a graceful stop escalated to a forced kill.
func IncrementEscalation() {
	escalations.Inc()
}

// AddReaped counts tracked processes observed to have exited on their own.
func AddReaped(collection string, n int) {
	if collection == "" || n <= 0 {
		return
	}
	reaped.WithLabelValues(collection).Add(float64(n))
}

// ObserveReaperCycle records the duration of one reaper cycle.
func ObserveReaperCycle(d time.Duration) {
	reaperCycle.Observe(d.Seconds())
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}
