package rewind

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes Controller activity to Prometheus. A nil *Metrics is
// valid and records nothing
type Metrics struct {
	FramesRecorded  prometheus.Counter
	FramesRemoved   *prometheus.CounterVec
	EntitiesPurged  prometheus.Counter
	Commits         prometheus.Counter
	ArchiveDropped  prometheus.Counter
	HistorySpan     prometheus.Gauge
	TrackedEntities prometheus.Gauge
}

// NewMetrics creates the rewind collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		FramesRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rewind_frames_recorded_total",
			Help: "Total number of frames appended to history",
		}),
		FramesRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rewind_frames_removed_total",
			Help: "Total number of frames removed from history",
		}, []string{"reason"}),
		EntitiesPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rewind_entities_purged_total",
			Help: "Total number of entities disposed by the purge step",
		}),
		Commits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rewind_commits_total",
			Help: "Total number of committed rewinds",
		}),
		ArchiveDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rewind_archive_dropped_total",
			Help: "Frames dropped because the archive queue was full",
		}),
		HistorySpan: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rewind_history_span_seconds",
			Help: "Game time covered by retained history",
		}),
		TrackedEntities: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rewind_tracked_entities",
			Help: "Entities in the pool, alive or not",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.FramesRecorded, m.FramesRemoved, m.EntitiesPurged, m.Commits,
		m.ArchiveDropped, m.HistorySpan, m.TrackedEntities,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) frameRecorded() {
	if m != nil {
		m.FramesRecorded.Inc()
	}
}

func (m *Metrics) framesRemoved(reason ArchiveReason, n int) {
	if m != nil && n > 0 {
		m.FramesRemoved.WithLabelValues(string(reason)).Add(float64(n))
	}
}

func (m *Metrics) entityPurged() {
	if m != nil {
		m.EntitiesPurged.Inc()
	}
}

func (m *Metrics) committed() {
	if m != nil {
		m.Commits.Inc()
	}
}

func (m *Metrics) archiveDropped(n int) {
	if m != nil {
		m.ArchiveDropped.Add(float64(n))
	}
}

func (m *Metrics) observe(span float64, tracked int) {
	if m != nil {
		m.HistorySpan.Set(span)
		m.TrackedEntities.Set(float64(tracked))
	}
}
