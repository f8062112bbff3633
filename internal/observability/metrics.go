package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// EngagementCollector bundles Prometheus metrics for the engagement decision
// core. Every method is nil-safe so components can run without metrics.
type EngagementCollector struct {
	gatherer prometheus.Gatherer

	AssignmentPairs     *prometheus.CounterVec
	AssignmentDurations *prometheus.HistogramVec
	SolverFailures      *prometheus.CounterVec
	CostClamps          prometheus.Counter
	AssignmentQueued    prometheus.Gauge

	ClusterRefreshDurations *prometheus.HistogramVec
	ClustersActive          prometheus.Gauge
	HierarchyBuilds         prometheus.Counter

	LaunchPlans       *prometheus.CounterVec
	PlannerIterations prometheus.Histogram
	Releases          *prometheus.CounterVec
	Escapes           *prometheus.CounterVec
	Evasions          prometheus.Counter
	Intercepts        *prometheus.CounterVec
}

// NewEngagementCollector registers engagement metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewEngagementCollector(reg prometheus.Registerer) (*EngagementCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &EngagementCollector{gatherer: gatherer}
	var err error

	if c.AssignmentPairs, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "assignment_pairs_total",
		Help: "Total number of pursuer/target pairs produced, labeled by assignment strategy.",
	}, []string{"strategy"}), "assignment_pairs_total"); err != nil {
		return nil, err
	}
	if c.AssignmentDurations, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "assignment_duration_seconds",
		Help:    "Latency of a single assignment pass in seconds.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"strategy"}), "assignment_duration_seconds"); err != nil {
		return nil, err
	}
	if c.SolverFailures, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "assignment_solver_failures_total",
		Help: "Assignment passes that yielded no pairs because the solver reported failure.",
	}, []string{"strategy"}), "assignment_solver_failures_total"); err != nil {
		return nil, err
	}
	if c.CostClamps, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assignment_cost_clamps_total",
		Help: "Cost matrix entries clamped into the solver's numeric range.",
	}), "assignment_cost_clamps_total"); err != nil {
		return nil, err
	}
	if c.AssignmentQueued, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "assignment_queue_depth",
		Help: "Assignment requests waiting for a later cycle.",
	}), "assignment_queue_depth"); err != nil {
		return nil, err
	}
	if c.ClusterRefreshDurations, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cluster_refresh_duration_seconds",
		Help:    "Latency of hierarchy re-clustering, labeled by clustering algorithm.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"algorithm"}), "cluster_refresh_duration_seconds"); err != nil {
		return nil, err
	}
	if c.ClustersActive, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "clusters_active",
		Help: "Number of clusters produced by the most recent clustering pass.",
	}), "clusters_active"); err != nil {
		return nil, err
	}
	if c.HierarchyBuilds, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hierarchy_builds_total",
		Help: "Top-level swarm hierarchy rebuilds performed by the coordinator.",
	}), "hierarchy_builds_total"); err != nil {
		return nil, err
	}
	if err := c.registerReleaseMetrics(reg); err != nil {
		return nil, err
	}
	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *EngagementCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *EngagementCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveAssignment records one assignment pass.
func (c *EngagementCollector) ObserveAssignment(strategy string, pairs int, elapsed time.Duration) {
	if c == nil {
		return
	}
	if c.AssignmentPairs != nil {
		c.AssignmentPairs.WithLabelValues(strategy).Add(float64(pairs))
	}
	if c.AssignmentDurations != nil {
		c.AssignmentDurations.WithLabelValues(strategy).Observe(elapsed.Seconds())
	}
}

// IncSolverFailures counts a failed solver call.
func (c *EngagementCollector) IncSolverFailures(strategy string) {
	if c == nil || c.SolverFailures == nil {
		return
	}
	c.SolverFailures.WithLabelValues(strategy).Inc()
}

// AddCostClamps counts clamped cost entries.
func (c *EngagementCollector) AddCostClamps(n int) {
	if c == nil || c.CostClamps == nil || n <= 0 {
		return
	}
	c.CostClamps.Add(float64(n))
}

// SetQueueDepth updates the assignment queue gauge.
func (c *EngagementCollector) SetQueueDepth(n int) {
	if c == nil || c.AssignmentQueued == nil {
		return
	}
	c.AssignmentQueued.Set(float64(n))
}

// ObserveClusterRefresh records one clustering pass.
func (c *EngagementCollector) ObserveClusterRefresh(algorithm string, clusters int, elapsed time.Duration) {
	if c == nil {
		return
	}
	if c.ClusterRefreshDurations != nil {
		c.ClusterRefreshDurations.WithLabelValues(algorithm).Observe(elapsed.Seconds())
	}
	if c.ClustersActive != nil {
		c.ClustersActive.Set(float64(clusters))
	}
}

// IncHierarchyBuilds counts a top-level hierarchy rebuild.
func (c *EngagementCollector) IncHierarchyBuilds() {
	if c == nil || c.HierarchyBuilds == nil {
		return
	}
	c.HierarchyBuilds.Inc()
}

// register adds collector to reg, reusing an already registered collector of
// the same type.
func register[T prometheus.Collector](reg prometheus.Registerer, collector T, name string) (T, error) {
	if err := reg.Register(collector); err != nil {
		var zero T
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return zero, err
	}
	return collector, nil
}
