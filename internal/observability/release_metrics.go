package observability

import "github.com/prometheus/client_golang/prometheus"

func (c *EngagementCollector) registerReleaseMetrics(reg prometheus.Registerer) error {
	var err error
	if c.LaunchPlans, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "launch_plans_total",
		Help: "Launch plans computed, labeled by outcome (launch or no_launch).",
	}, []string{"outcome"}), "launch_plans_total"); err != nil {
		return err
	}
	if c.PlannerIterations, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "launch_planner_iterations",
		Help:    "Fixed-point iterations used by the iterative launch planner.",
		Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
	}), "launch_planner_iterations"); err != nil {
		return err
	}
	if c.Releases, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "releases_total",
		Help: "Sub-agents released by carriers, labeled by release strategy.",
	}, []string{"strategy"}), "releases_total"); err != nil {
		return err
	}
	if c.Escapes, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escapes_detected_total",
		Help: "Targets declared escaping, labeled by escape detector.",
	}, []string{"detector"}), "escapes_detected_total"); err != nil {
		return err
	}
	if c.Evasions, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "evasions_total",
		Help: "Ticks in which an agent overrode guidance with an evasive manoeuvre.",
	}), "evasions_total"); err != nil {
		return err
	}
	if c.Intercepts, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "intercepts_total",
		Help: "Engagement outcomes, labeled by result (hit or miss).",
	}, []string{"result"}), "intercepts_total"); err != nil {
		return err
	}
	return nil
}

// ObserveLaunchPlan records the outcome of an iterative launch plan.
func (c *EngagementCollector) ObserveLaunchPlan(shouldLaunch bool, iterations int) {
	if c == nil {
		return
	}
	if c.LaunchPlans != nil {
		outcome := "no_launch"
		if shouldLaunch {
			outcome = "launch"
		}
		c.LaunchPlans.WithLabelValues(outcome).Inc()
	}
	if c.PlannerIterations != nil {
		c.PlannerIterations.Observe(float64(iterations))
	}
}

// AddReleases counts released sub-agents.
func (c *EngagementCollector) AddReleases(strategy string, n int) {
	if c == nil || c.Releases == nil || n <= 0 {
		return
	}
	c.Releases.WithLabelValues(strategy).Add(float64(n))
}

// IncEscapes counts a detected escape.
func (c *EngagementCollector) IncEscapes(detector string) {
	if c == nil || c.Escapes == nil {
		return
	}
	c.Escapes.WithLabelValues(detector).Inc()
}

// IncEvasions counts an evasive tick.
func (c *EngagementCollector) IncEvasions() {
	if c == nil || c.Evasions == nil {
		return
	}
	c.Evasions.Inc()
}

// IncIntercepts counts a hit or miss.
func (c *EngagementCollector) IncIntercepts(hit bool) {
	if c == nil || c.Intercepts == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.Intercepts.WithLabelValues(result).Inc()
}
