package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the launcher's Prometheus collectors. Built per registry so
// tests can use an isolated one.
type Metrics struct {
	LaunchesTotal    *prometheus.CounterVec
	BatchesTotal     prometheus.Counter
	PollTotal        *prometheus.CounterVec
	RegisterErrors   prometheus.Counter
	CommandsTotal    *prometheus.CounterVec
	DownloadBytes    *prometheus.CounterVec
	DownloadDuration *prometheus.HistogramVec
	Connected        prometheus.Gauge
}

// New creates and registers all launcher metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LaunchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botlauncher_launches_total",
			Help: "Client launch attempts, by game and result (ok, error).",
		}, []string{"game", "result"}),

		BatchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botlauncher_batches_total",
			Help: "Launch batches started.",
		}),

		PollTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botlauncher_poll_total",
			Help: "Mailbox polls, by result (ok, empty, error).",
		}, []string{"result"}),

		RegisterErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botlauncher_register_errors_total",
			Help: "Failed presence registrations.",
		}),

		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botlauncher_commands_total",
			Help: "Remote commands dispatched, by type.",
		}, []string{"type"}),

		DownloadBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botlauncher_download_bytes_total",
			Help: "Bytes downloaded, by artifact kind.",
		}, []string{"kind"}),

		DownloadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "botlauncher_download_duration_seconds",
			Help:    "Artifact download duration.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"kind"}),

		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "botlauncher_remote_connected",
			Help: "Whether the remote channel is healthy (1=yes, 0=no).",
		}),
	}

	reg.MustRegister(
		m.LaunchesTotal,
		m.BatchesTotal,
		m.PollTotal,
		m.RegisterErrors,
		m.CommandsTotal,
		m.DownloadBytes,
		m.DownloadDuration,
		m.Connected,
	)

	return m
}

// NewNop returns metrics registered on a throwaway registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
