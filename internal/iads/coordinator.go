// Package iads coordinates the air defence: it groups incoming threats into
// swarms, hands each swarm to a launcher and keeps every launcher's
// sub-hierarchy current.
//
// A Coordinator is driven from the simulation tick and is not safe for
// concurrent use, except for Request which may be called from any goroutine.
package iads

import (
	"context"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/engagement-simulator/core"
	"github.com/signalsfoundry/engagement-simulator/internal/assignment"
	"github.com/signalsfoundry/engagement-simulator/internal/cluster"
	"github.com/signalsfoundry/engagement-simulator/internal/config"
	"github.com/signalsfoundry/engagement-simulator/internal/hierarchy"
	"github.com/signalsfoundry/engagement-simulator/internal/logging"
	"github.com/signalsfoundry/engagement-simulator/internal/observability"
)

// Capacity reports how many targets a launcher can still take on.
type Capacity interface {
	// CapacityPerSubAgent is the number of targets one released sub-agent
	// can cover.
	CapacityPerSubAgent() int
	// CapacityRemaining is the number of targets the unreleased sub-agents
	// can cover.
	CapacityRemaining() int
}

// Recorder receives coordinator measurements.
// *observability.EngagementCollector satisfies it.
type Recorder interface {
	assignment.Recorder
	IncHierarchyBuilds()
	ObserveClusterRefresh(algorithm string, clusters int, elapsed time.Duration)
}

type launcher struct {
	node     hierarchy.NodeID
	capacity Capacity
}

type pendingBuild struct {
	result    <-chan assignment.Result
	swarms    []hierarchy.NodeID
	launchers []hierarchy.NodeID
}

// Coordinator owns the top level of the hierarchy.
type Coordinator struct {
	tree *hierarchy.Tree
	cfg  config.Simulation

	launchers  []launcher
	newThreats []hierarchy.NodeID
	swarms     []hierarchy.NodeID

	assigner assignment.Assigner
	queue    *assignment.Queue
	rand     *rand.Rand
	log      logging.Logger
	metrics  Recorder

	async   bool
	pending *pendingBuild

	started                bool
	nextHierarchyUpdate    time.Duration
	nextSubHierarchyUpdate time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger attaches a logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Coordinator) { c.log = logging.OrNoop(l) }
}

// WithMetrics wires coordinator metrics.
func WithMetrics(m Recorder) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithAssigner replaces the swarm-to-launcher assigner.
func WithAssigner(a assignment.Assigner) Option {
	return func(c *Coordinator) { c.assigner = a }
}

// WithRand makes swarm clustering deterministic.
func WithRand(r *rand.Rand) Option {
	return func(c *Coordinator) { c.rand = r }
}

// WithAsyncAssignment solves swarm-to-launcher assignment off the tick. The
// result is applied on the first Tick after it is ready.
func WithAsyncAssignment() Option {
	return func(c *Coordinator) { c.async = true }
}

// NewCoordinator builds a coordinator over tree. cfg is used as given;
// callers apply defaults first.
func NewCoordinator(tree *hierarchy.Tree, cfg config.Simulation, opts ...Option) *Coordinator {
	c := &Coordinator{
		tree: tree,
		cfg:  cfg,
		log:  logging.Noop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	var rec assignment.Recorder
	if c.metrics != nil {
		rec = c.metrics
	}
	if c.assigner == nil {
		c.assigner = assignment.NewMinDistance(tree, c.log, rec)
	}
	c.queue = assignment.NewQueue(cfg.AssignmentBatch, rec)
	return c
}

// RegisterLauncher adds a top-level launcher.
func (c *Coordinator) RegisterLauncher(node hierarchy.NodeID, capacity Capacity) {
	c.launchers = append(c.launchers, launcher{node: node, capacity: capacity})
}

// RegisterThreat queues a threat for the next hierarchy build.
func (c *Coordinator) RegisterThreat(node hierarchy.NodeID) {
	c.newThreats = append(c.newThreats, node)
}

// Launchers returns the registered launcher nodes.
func (c *Coordinator) Launchers() []hierarchy.NodeID {
	out := make([]hierarchy.NodeID, len(c.launchers))
	for i, l := range c.launchers {
		out[i] = l.node
	}
	return out
}

// Swarms returns the swarm nodes of the latest build.
func (c *Coordinator) Swarms() []hierarchy.NodeID { return slices.Clone(c.swarms) }

// Request asks for a new target for a released pursuer. Requests are served
// by Tick at a bounded rate.
func (c *Coordinator) Request(node hierarchy.NodeID) { c.queue.Push(node) }

// Pending returns the number of unserved target requests.
func (c *Coordinator) Pending() int { return c.queue.Len() }

// Tick runs whatever is due at simulation time now: a pending asynchronous
// assignment, the hierarchy build, the sub-hierarchy refresh and a batch of
// target requests.
func (c *Coordinator) Tick(ctx context.Context, now time.Duration) {
	if !c.started {
		c.started = true
		c.nextHierarchyUpdate = now
		c.nextSubHierarchyUpdate = now
	}
	c.applyPending(ctx, false)
	if now >= c.nextHierarchyUpdate {
		c.BuildHierarchy(ctx)
		c.nextHierarchyUpdate = now + c.cfg.HierarchyPeriod
	}
	if now >= c.nextSubHierarchyUpdate {
		c.RefreshSubHierarchies(ctx)
		c.nextSubHierarchyUpdate = now + c.cfg.SubHierarchyPeriod
	}
	c.queue.Drain(func(id hierarchy.NodeID) bool {
		if c.tree.IsTerminated(id) {
			return true
		}
		if _, ok := c.tree.ResolveTarget(id); ok {
			return true
		}
		return c.AssignSubInterceptor(ctx, id, 1)
	})
}

// Flush blocks until an outstanding asynchronous assignment is applied or
// ctx ends.
func (c *Coordinator) Flush(ctx context.Context) {
	c.applyPending(ctx, true)
}

// BuildHierarchy clusters the active threats into swarms, assigns swarms to
// launchers with the configured assigner and points the threats of every
// swarm at their launcher.
func (c *Coordinator) BuildHierarchy(ctx context.Context) {
	launchers := c.activeLaunchers()
	if len(launchers) == 0 {
		c.newThreats = nil
		return
	}
	threats := c.collectActiveThreats()
	c.newThreats = nil
	if len(threats) == 0 {
		return
	}

	ctx, span := observability.StartSpan(ctx, "iads.BuildHierarchy",
		attribute.Int("launchers", len(launchers)),
		attribute.Int("threats", len(threats)),
	)
	defer span.End()
	start := time.Now()

	k := int(math.Round(float64(len(launchers)) / c.cfg.CoverageFactor))
	k = min(max(k, 1), len(threats))

	points := make([]core.Vec3, len(threats))
	for i, t := range threats {
		points[i] = c.tree.Position(t)
	}
	clusters, algorithm := c.clusterSwarms(points, k)
	if len(clusters) == 0 {
		return
	}

	swarms := make([]hierarchy.NodeID, 0, len(clusters))
	for _, cl := range clusters {
		swarm := c.tree.NewNode("swarm")
		for _, m := range cl.Members {
			_ = c.tree.AddChild(swarm, threats[m])
		}
		swarms = append(swarms, swarm)
	}
	span.SetAttributes(attribute.String("algorithm", algorithm), attribute.Int("swarms", len(swarms)))
	if c.metrics != nil {
		c.metrics.IncHierarchyBuilds()
		c.metrics.ObserveClusterRefresh(algorithm, len(swarms), time.Since(start))
	}
	c.log.Debug(ctx, "built swarms",
		logging.String("algorithm", algorithm),
		logging.Int("launchers", len(launchers)),
		logging.Int("threats", len(threats)),
		logging.Int("swarms", len(swarms)),
	)

	if c.pending != nil {
		c.discard(c.pending.swarms)
		c.pending = nil
	}
	if c.async {
		c.pending = &pendingBuild{
			result:    assignment.AssignAsync(ctx, c.assigner, launchers, swarms),
			swarms:    swarms,
			launchers: launchers,
		}
		return
	}
	c.applyBuild(ctx, swarms, c.assigner.Assign(ctx, launchers, swarms))
}

// clusterSwarms partitions the threat positions into at most k swarms,
// seeded with the current swarms when their number is unchanged. Fuzzy
// c-means lets a threat on a boundary join two swarms.
func (c *Coordinator) clusterSwarms(points []core.Vec3, k int) ([]*cluster.Cluster, string) {
	seeds := c.swarmCentroids(k)
	if c.cfg.Swarms.Partition == config.PartitionKMeans {
		km := &cluster.KMeans{
			K:                k,
			MaxIterations:    c.cfg.Swarms.MaxIterations,
			Epsilon:          c.cfg.Swarms.Epsilon,
			InitialCentroids: seeds,
			Rand:             c.rand,
		}
		return km.Cluster(points), config.PartitionKMeans
	}
	fcm := &cluster.FuzzyCMeans{
		C:             k,
		Fuzziness:     c.cfg.Swarms.Fuzziness,
		MaxIterations: c.cfg.Swarms.MaxIterations,
		Epsilon:       c.cfg.Swarms.Epsilon,
		Rand:          c.rand,
	}
	res := fcm.ClusterFuzzy(points, seeds, c.cfg.Swarms.MembershipThreshold, c.cfg.Swarms.MaxMemberships)
	return res.Clusters, config.PartitionFuzzyCMeans
}

func (c *Coordinator) applyPending(ctx context.Context, block bool) {
	if c.pending == nil {
		return
	}
	var res assignment.Result
	if block {
		select {
		case res = <-c.pending.result:
		case <-ctx.Done():
			return
		}
	} else {
		select {
		case res = <-c.pending.result:
		default:
			return
		}
	}
	p := c.pending
	c.pending = nil
	if res.Err != nil {
		c.log.Warn(ctx, "swarm assignment abandoned", logging.Err(res.Err))
		c.discard(p.swarms)
		return
	}
	c.applyBuild(ctx, p.swarms, res.Items)
}

func (c *Coordinator) applyBuild(ctx context.Context, swarms []hierarchy.NodeID, items []assignment.Item) {
	if len(items) == 0 {
		c.log.Warn(ctx, "no swarm assigned to any launcher", logging.Int("swarms", len(swarms)))
		c.discard(swarms)
		return
	}
	previous := c.swarms
	c.swarms = swarms
	for _, it := range items {
		if err := c.tree.SetTarget(it.First, it.Second); err != nil {
			continue
		}
		c.pointAt(it.Second, it.First)
	}
	for _, l := range c.launchers {
		c.clusterSubHierarchy(ctx, l)
	}
	var stale []hierarchy.NodeID
	for _, s := range previous {
		if !slices.Contains(swarms, s) {
			stale = append(stale, s)
		}
	}
	c.discard(stale)
	unused := slices.DeleteFunc(slices.Clone(swarms), func(s hierarchy.NodeID) bool {
		return len(c.tree.Pursuers(s)) > 0
	})
	c.discard(unused)
}

// pointAt makes id and every active node below it target launcher.
func (c *Coordinator) pointAt(id, launcher hierarchy.NodeID) {
	_ = c.tree.SetTarget(id, launcher)
	for _, child := range c.tree.ActiveChildren(id) {
		c.pointAt(child, launcher)
	}
}

// discard removes swarm nodes nobody pursues any more. Swarms still chased
// by released pursuers stay until those pursuers are retargeted.
func (c *Coordinator) discard(swarms []hierarchy.NodeID) {
	for _, s := range swarms {
		chased := slices.ContainsFunc(c.tree.ActivePursuers(s), func(p hierarchy.NodeID) bool {
			return !c.isLauncher(p)
		})
		if chased {
			for _, l := range c.launchers {
				if c.tree.Target(l.node) == s {
					c.tree.ClearTarget(l.node)
				}
			}
			continue
		}
		c.tree.Detach(s)
		c.swarms = slices.DeleteFunc(c.swarms, func(x hierarchy.NodeID) bool { return x == s })
	}
}

func (c *Coordinator) collectActiveThreats() []hierarchy.NodeID {
	var out []hierarchy.NodeID
	add := func(id hierarchy.NodeID) {
		if !c.tree.IsTerminated(id) && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	for _, l := range c.launchers {
		target, ok := c.tree.ResolveTarget(l.node)
		if !ok {
			continue
		}
		for _, t := range c.tree.ActiveChildren(target) {
			add(t)
		}
	}
	for _, s := range c.swarms {
		for _, t := range c.tree.ActiveChildren(s) {
			add(t)
		}
	}
	for _, t := range c.newThreats {
		add(t)
	}
	return out
}

// swarmCentroids seeds the next build with the current swarms when their
// number is unchanged.
func (c *Coordinator) swarmCentroids(k int) []core.Vec3 {
	var out []core.Vec3
	for _, l := range c.launchers {
		if target, ok := c.tree.ResolveTarget(l.node); ok && slices.Contains(c.swarms, target) {
			out = append(out, c.tree.Position(target))
		}
	}
	if len(out) != k {
		return nil
	}
	return out
}

// RefreshSubHierarchies re-clusters the swarm of every launcher whose
// sub-agents cover more than one target.
func (c *Coordinator) RefreshSubHierarchies(ctx context.Context) {
	for _, l := range c.launchers {
		c.clusterSubHierarchy(ctx, l)
	}
}

// clusterSubHierarchy splits l's swarm among its sub-agents. A launcher that
// has neither slots nor released pursuers gets its first sub-tree built;
// otherwise the existing slots are replaced.
func (c *Coordinator) clusterSubHierarchy(ctx context.Context, l launcher) {
	if c.tree.IsTerminated(l.node) {
		return
	}
	if _, ok := c.tree.ResolveTarget(l.node); !ok {
		return
	}
	perSub := l.capacity.CapacityPerSubAgent()
	if perSub <= 0 {
		return
	}
	var err error
	if len(c.tree.Children(l.node)) == 0 && len(c.tree.Launched(l.node)) == 0 {
		err = c.tree.RecursiveCluster(ctx, l.node, perSub)
	} else {
		err = c.tree.RefreshClusters(ctx, l.node, perSub)
	}
	if err != nil {
		c.log.Warn(ctx, "sub-hierarchy clustering failed", logging.Err(err))
	}
}

// AssignSubInterceptor offers sub to the launchers in order of increasing
// distance between sub and each launcher's target. The first launcher with
// an uncovered slot takes it.
func (c *Coordinator) AssignSubInterceptor(ctx context.Context, sub hierarchy.NodeID, capacity int) bool {
	if capacity <= 0 || c.tree.IsTerminated(sub) {
		return false
	}
	from := c.tree.Position(sub)
	type candidate struct {
		node     hierarchy.NodeID
		distance float64
	}
	var candidates []candidate
	for _, l := range c.launchers {
		target, ok := c.tree.ResolveTarget(l.node)
		if !ok {
			continue
		}
		candidates = append(candidates, candidate{l.node, from.DistanceTo(c.tree.Position(target))})
	}
	slices.SortStableFunc(candidates, func(a, b candidate) int {
		switch {
		case a.distance < b.distance:
			return -1
		case a.distance > b.distance:
			return 1
		}
		return 0
	})
	for _, cand := range candidates {
		if c.tree.AssignNewTarget(cand.node, sub, capacity) {
			c.log.Debug(ctx, "assigned sub-interceptor",
				logging.String("pursuer", c.tree.Label(sub)),
				logging.String("launcher", c.tree.Label(cand.node)),
			)
			return true
		}
	}
	return false
}

// ReassignTarget hands target to the closest launcher with capacity left.
// The launcher first tries to retarget a redundant released pursuer and
// otherwise adds a slot so that its next release covers the target.
func (c *Coordinator) ReassignTarget(ctx context.Context, target hierarchy.NodeID) bool {
	if c.tree.IsTerminated(target) {
		return false
	}
	to := c.tree.Position(target)
	best, bestDist := hierarchy.Nil, math.Inf(1)
	for _, l := range c.launchers {
		if c.tree.IsTerminated(l.node) || l.capacity.CapacityRemaining() <= 0 {
			continue
		}
		if d := c.tree.Position(l.node).DistanceTo(to); d < bestDist {
			best, bestDist = l.node, d
		}
	}
	if best.IsNil() {
		c.log.Warn(ctx, "no launcher left to reassign target", logging.String("target", c.tree.Label(target)))
		return false
	}
	if c.tree.ReassignTarget(best, target) {
		return true
	}
	c.ensureSlotted(best)
	if _, err := c.tree.AddSlot(best, target); err != nil {
		c.log.Warn(ctx, "reassign slot failed", logging.Err(err))
		return false
	}
	c.log.Info(ctx, "target reassigned to launcher",
		logging.String("target", c.tree.Label(target)),
		logging.String("launcher", c.tree.Label(best)),
	)
	return true
}

// ensureSlotted turns a childless launcher's own assignment into an explicit
// slot so that adding another slot does not hide it.
func (c *Coordinator) ensureSlotted(id hierarchy.NodeID) {
	if len(c.tree.Children(id)) > 0 {
		return
	}
	target, ok := c.tree.ResolveTarget(id)
	if !ok {
		return
	}
	slot, err := c.tree.AddSlot(id, target)
	if err != nil {
		return
	}
	for _, p := range c.tree.Launched(id) {
		c.tree.AddLaunched(slot, p)
	}
}

func (c *Coordinator) activeLaunchers() []hierarchy.NodeID {
	var out []hierarchy.NodeID
	for _, l := range c.launchers {
		if !c.tree.IsTerminated(l.node) {
			out = append(out, l.node)
		}
	}
	return out
}

func (c *Coordinator) isLauncher(id hierarchy.NodeID) bool {
	return slices.ContainsFunc(c.launchers, func(l launcher) bool { return l.node == id })
}
