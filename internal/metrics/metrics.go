package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultRegistry holds every agent collector; the status listener serves it.
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		UploadAttempts, UploadDuration, UploadResults,
		CapturesDropped, FramesCaptured, CaptureErrors,
		SimilarityScore, Heartbeats, AgentState,
	)
}

// UploadAttempts counts transport round trips by payload kind and outcome class.
var UploadAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "telemetry_upload_attempts_total",
		Help: "Upload round trips by payload kind and outcome class.",
	},
	[]string{"kind", "class"},
)

var UploadDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "telemetry_upload_duration_seconds",
		Help:    "Wall time of one Send including retries.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"kind"},
)

// UploadResults counts final Send outcomes.
var UploadResults = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "telemetry_upload_results_total",
		Help: "Final upload outcomes by payload kind and class.",
	},
	[]string{"kind", "class"},
)

var CapturesDropped = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "telemetry_captures_dropped_total",
		Help: "Capture uploads dropped by the client-side rate cap.",
	},
)

var FramesCaptured = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "telemetry_frames_captured_total",
		Help: "Frames grabbed, split by whether the change was significant.",
	},
	[]string{"significant"}, // true | false
)

var CaptureErrors = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "telemetry_capture_errors_total",
		Help: "Screen grabs that failed.",
	},
)

var SimilarityScore = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "telemetry_similarity_score",
		Help:    "SSIM score of each frame against the reference.",
		Buckets: []float64{0.1, 0.25, 0.5, 0.75, 0.85, 0.9, 0.95, 0.98, 0.99, 1},
	},
)

var Heartbeats = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "telemetry_heartbeats_total",
		Help: "Heartbeats sent by result.",
	},
	[]string{"result"}, // ok | error
)

// AgentState is 1 for the current state label and 0 for the others.
var AgentState = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "telemetry_agent_state",
		Help: "Current activity state of the agent.",
	},
	[]string{"state"},
)

// SetState flips the AgentState gauge to the named state.
func SetState(current string, all ...string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		AgentState.WithLabelValues(s).Set(v)
	}
}

func Handler() http.Handler {
	return promhttp.HandlerFor(DefaultRegistry, promhttp.HandlerOpts{})
}
