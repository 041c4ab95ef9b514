package search

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports search counters to prometheus. One Metrics value may be
// shared by many solvers, including solvers running concurrently.
type Metrics struct {
	Nodes      prometheus.Counter
	Backtracks prometheus.Counter
	Replays    prometheus.Counter
	Solutions  prometheus.Counter
	NogoodUses prometheus.Counter
	OpenNodes  prometheus.Gauge
	Solves     *prometheus.CounterVec
	Duration   prometheus.Histogram
}

// NewMetrics creates the search collectors under namespace. They are not
// registered.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Nodes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "nodes_total",
			Help:      "Choice points explored.",
		}),
		Backtracks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "backtracks_total",
			Help:      "Backtracks performed.",
		}),
		Replays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hbfs",
			Name:      "recomputed_nodes_total",
			Help:      "Choice points replayed to reach open nodes.",
		}),
		Solutions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "solutions_total",
			Help:      "Improving solutions found.",
		}),
		NogoodUses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "btd",
			Name:      "nogood_uses_total",
			Help:      "Separator nogoods used in advance during propagation.",
		}),
		OpenNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hbfs",
			Name:      "open_nodes",
			Help:      "Size of the open list of the last hybrid search step.",
		}),
		Solves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "solves_total",
			Help:      "Finished solves by final status.",
		}, []string{"status"}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Wall time of a solve.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}
}

// Register registers every collector with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.Nodes, m.Backtracks, m.Replays, m.Solutions, m.NogoodUses,
		m.OpenNodes, m.Solves, m.Duration,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// observe adds the totals of a finished run.
func (m *Metrics) observe(res *Result) {
	if m == nil {
		return
	}
	st := res.Stats
	m.Nodes.Add(float64(st.Nodes))
	m.Backtracks.Add(float64(st.Backtracks))
	m.Replays.Add(float64(st.RecomputationNodes))
	m.Solutions.Add(float64(st.Solutions))
	m.NogoodUses.Add(float64(st.NogoodUses))
	m.Solves.WithLabelValues(res.Status.String()).Inc()
	m.Duration.Observe(st.SearchTime.Seconds())
}

func (m *Metrics) setOpenNodes(n int) {
	if m != nil {
		m.OpenNodes.Set(float64(n))
	}
}
