package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus instruments. All methods are safe
// on a nil receiver so components can run without telemetry.
type Metrics struct {
	registry *prometheus.Registry

	// Outbound audio
	ChunksSent prometheus.Counter
	BytesSent  prometheus.Counter

	// Inbound audio
	ChunksScheduled prometheus.Counter
	DecodeErrors    prometheus.Counter
	Interruptions   prometheus.Counter
	ActiveUnits     prometheus.Gauge
	ScheduleLead    prometheus.Histogram

	// Session lifecycle
	SessionsStarted  prometheus.Counter
	SessionFailures  *prometheus.CounterVec
	StateTransitions *prometheus.CounterVec
	LogEntries       *prometheus.CounterVec
}

// New registers all instruments on reg. A nil registry gets a private one.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ChunksSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "neurallink_capture_chunks_sent_total",
			Help: "Total number of microphone chunks sent to the remote session",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "neurallink_capture_bytes_sent_total",
			Help: "Total number of encoded PCM bytes sent to the remote session",
		}),

		ChunksScheduled: factory.NewCounter(prometheus.CounterOpts{
			Name: "neurallink_playback_chunks_scheduled_total",
			Help: "Total number of inbound chunks scheduled for playback",
		}),
		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "neurallink_playback_decode_errors_total",
			Help: "Total number of inbound chunks dropped because they failed to decode",
		}),
		Interruptions: factory.NewCounter(prometheus.CounterOpts{
			Name: "neurallink_playback_interruptions_total",
			Help: "Total number of barge-in interruptions",
		}),
		ActiveUnits: factory.NewGauge(prometheus.GaugeOpts{
			Name: "neurallink_playback_active_units",
			Help: "Current number of scheduled or playing playback units",
		}),
		ScheduleLead: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "neurallink_playback_schedule_lead_seconds",
			Help:    "How far ahead of the device clock inbound chunks are scheduled",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		}),

		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "neurallink_sessions_started_total",
			Help: "Total number of sessions that reached the connected state",
		}),
		SessionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "neurallink_session_failures_total",
			Help: "Total number of sessions ending in the error state, by failure kind",
		}, []string{"kind"}),
		StateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "neurallink_state_transitions_total",
			Help: "Total number of connection state transitions, by target state",
		}, []string{"state"}),
		LogEntries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "neurallink_log_entries_total",
			Help: "Total number of conversation log entries, by sender",
		}, []string{"sender"}),
	}
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ChunkSent(size int) {
	if m == nil {
		return
	}
	m.ChunksSent.Inc()
	m.BytesSent.Add(float64(size))
}

func (m *Metrics) ChunkScheduled(lead time.Duration) {
	if m == nil {
		return
	}
	m.ChunksScheduled.Inc()
	m.ScheduleLead.Observe(lead.Seconds())
}

func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.DecodeErrors.Inc()
}

func (m *Metrics) Interrupted() {
	if m == nil {
		return
	}
	m.Interruptions.Inc()
}

func (m *Metrics) SetActiveUnits(n int) {
	if m == nil {
		return
	}
	m.ActiveUnits.Set(float64(n))
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

func (m *Metrics) SessionFailed(kind string) {
	if m == nil {
		return
	}
	m.SessionFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) StateChanged(state string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(state).Inc()
}

func (m *Metrics) LogAppended(sender string) {
	if m == nil {
		return
	}
	m.LogEntries.WithLabelValues(sender).Inc()
}
