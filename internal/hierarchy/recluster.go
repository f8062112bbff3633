package hierarchy

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/engagement-simulator/core"
	"github.com/signalsfoundry/engagement-simulator/internal/cluster"
	"github.com/signalsfoundry/engagement-simulator/internal/logging"
	"github.com/signalsfoundry/engagement-simulator/internal/observability"
)

// PartitionAlgorithm selects the clusterer used for large target sets.
type PartitionAlgorithm int

const (
	PartitionFuzzyCMeans PartitionAlgorithm = iota
	PartitionKMeans
)

// CompactAlgorithm selects the clusterer used for small target sets.
type CompactAlgorithm int

const (
	CompactAgglomerative CompactAlgorithm = iota
	CompactConstrainedKMeans
)

const (
	algorithmFuzzy             = "fuzzy_c_means"
	algorithmKMeans            = "k_means"
	algorithmAgglomerative     = "agglomerative"
	algorithmConstrainedKMeans = "constrained_k_means"
)

// ClusterConfig controls how a node's targets are split among sub-pursuers.
type ClusterConfig struct {
	// MaxSubNodes bounds the number of clusters a partitioning clusterer
	// produces and, with the cluster size, selects the algorithm.
	MaxSubNodes int
	// MaxRadius bounds compact clusters in metres.
	MaxRadius float64

	Partition           PartitionAlgorithm
	Compact             CompactAlgorithm
	Fuzziness           float64
	FuzzyIterations     int
	FuzzyEpsilon        float64
	MembershipThreshold float64
	MaxMemberships      int
}

// DefaultClusterConfig returns the sub-hierarchy defaults.
func DefaultClusterConfig() ClusterConfig {
	return ClusterConfig{
		MaxSubNodes:     10,
		MaxRadius:       1000,
		Partition:       PartitionFuzzyCMeans,
		Fuzziness:       cluster.DefaultFuzziness,
		FuzzyIterations: 25,
		FuzzyEpsilon:    1e-2,
		MaxMemberships:  1,
	}
}

func (c *ClusterConfig) applyDefaults() {
	def := DefaultClusterConfig()
	if c.MaxSubNodes <= 0 {
		c.MaxSubNodes = def.MaxSubNodes
	}
	if c.MaxRadius <= 0 {
		c.MaxRadius = def.MaxRadius
	}
	if c.Fuzziness == 0 {
		c.Fuzziness = def.Fuzziness
	}
	if c.FuzzyIterations <= 0 {
		c.FuzzyIterations = def.FuzzyIterations
	}
	if c.FuzzyEpsilon <= 0 {
		c.FuzzyEpsilon = def.FuzzyEpsilon
	}
	if c.MaxMemberships <= 0 {
		c.MaxMemberships = def.MaxMemberships
	}
}

// RecursiveCluster splits the targets of every childless node under id into
// clusters of at most maxClusterSize, creating one pursuer slot per cluster.
// Nodes that already have children are recursed into, not replaced.
func (t *Tree) RecursiveCluster(ctx context.Context, id NodeID, maxClusterSize int) error {
	n, ok := t.nodes[id]
	if !ok {
		return ErrNodeNotFound
	}
	if len(n.children) == 0 {
		t.clusterTargets(ctx, id, maxClusterSize, false)
		return nil
	}
	for _, c := range t.Children(id) {
		if err := t.RecursiveCluster(ctx, c, maxClusterSize); err != nil {
			return err
		}
	}
	return nil
}

// RefreshClusters re-derives id's pursuer slots from the current active
// sub-targets of its target, replacing any previous slots. When the target
// no longer needs splitting the slots are removed.
func (t *Tree) RefreshClusters(ctx context.Context, id NodeID, maxClusterSize int) error {
	if _, ok := t.nodes[id]; !ok {
		return ErrNodeNotFound
	}
	t.clusterTargets(ctx, id, maxClusterSize, true)
	return nil
}

func (t *Tree) clusterTargets(ctx context.Context, id NodeID, maxClusterSize int, replace bool) {
	target, ok := t.ResolveTarget(id)
	if !ok {
		if replace {
			t.retireSlots(id)
		}
		return
	}
	subTargets := t.ActiveChildren(target)
	if maxClusterSize <= 0 || len(subTargets) <= maxClusterSize {
		if replace {
			carried := t.launchedBelow(id)
			t.retireSlots(id)
			t.inheritLaunched([]NodeID{id}, carried)
		}
		return
	}

	ctx, span := observability.StartSpan(ctx, "hierarchy.RefreshClusters",
		attribute.String("node", id.String()),
		attribute.Int("targets", len(subTargets)),
		attribute.Int("max_cluster_size", maxClusterSize),
	)
	defer span.End()
	start := time.Now()

	points := make([]core.Vec3, len(subTargets))
	for i, st := range subTargets {
		points[i] = t.Position(st)
	}
	var seeds []core.Vec3
	var carried []NodeID
	if replace {
		seeds = t.slotCentroids(id)
		carried = t.launchedBelow(id)
	}
	clusters, algorithm := t.partition(points, maxClusterSize, seeds)

	if replace {
		t.retireSlots(id)
	}
	slots := make([]NodeID, 0, len(clusters))
	for _, cl := range clusters {
		group := t.newSynthetic("cluster")
		for _, m := range cl.Members {
			_ = t.AddChild(group, subTargets[m])
		}
		slot := t.newSynthetic("slot")
		_ = t.SetTarget(slot, group)
		_ = t.AddChild(id, slot)
		slots = append(slots, slot)
	}
	t.inheritLaunched(slots, carried)

	span.SetAttributes(attribute.String("algorithm", algorithm), attribute.Int("clusters", len(clusters)))
	if t.metrics != nil {
		t.metrics.ObserveClusterRefresh(algorithm, len(clusters), time.Since(start))
	}
	t.log.Debug(ctx, "clustered targets",
		logging.String("node", t.Label(id)),
		logging.String("algorithm", algorithm),
		logging.Int("targets", len(subTargets)),
		logging.Int("clusters", len(clusters)),
	)
}

// partition picks a partitioning clusterer for dense target sets and a
// size and radius bounded one otherwise.
func (t *Tree) partition(points []core.Vec3, maxClusterSize int, seeds []core.Vec3) ([]*cluster.Cluster, string) {
	n := len(points)
	if n > t.cfg.MaxSubNodes*max(maxClusterSize/2, 1) {
		k := min(t.cfg.MaxSubNodes, n)
		if len(seeds) != k {
			seeds = nil
		}
		if t.cfg.Partition == PartitionKMeans {
			km := &cluster.KMeans{K: k, InitialCentroids: seeds, Rand: t.rand}
			return km.Cluster(points), algorithmKMeans
		}
		fcm := &cluster.FuzzyCMeans{
			C:             k,
			Fuzziness:     t.cfg.Fuzziness,
			MaxIterations: t.cfg.FuzzyIterations,
			Epsilon:       t.cfg.FuzzyEpsilon,
			Rand:          t.rand,
		}
		res := fcm.ClusterFuzzy(points, seeds, t.cfg.MembershipThreshold, t.cfg.MaxMemberships)
		return res.Clusters, algorithmFuzzy
	}
	if t.cfg.Compact == CompactConstrainedKMeans {
		ckm := &cluster.ConstrainedKMeans{MaxSize: maxClusterSize, MaxRadius: t.cfg.MaxRadius, Rand: t.rand}
		return ckm.Cluster(points), algorithmConstrainedKMeans
	}
	agg := &cluster.Agglomerative{MaxSize: maxClusterSize, MaxRadius: t.cfg.MaxRadius}
	return agg.Cluster(points), algorithmAgglomerative
}

// slotCentroids returns the positions of the clusters id's slots currently
// pursue.
func (t *Tree) slotCentroids(id NodeID) []core.Vec3 {
	var out []core.Vec3
	for _, c := range t.Children(id) {
		if target, ok := t.ResolveTarget(c); ok {
			out = append(out, t.Position(target))
		}
	}
	return out
}

// launchedBelow returns the live pursuers released for id or any leaf
// below it.
func (t *Tree) launchedBelow(id NodeID) []NodeID {
	var out []NodeID
	seen := make(map[NodeID]bool)
	for _, leaf := range append(t.Leaves(id), id) {
		for _, p := range t.Launched(leaf) {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// inheritLaunched records each carried pursuer against the slot whose target
// shares the most active agents with the pursuer's own target, so that a
// refresh does not uncover targets already being chased.
func (t *Tree) inheritLaunched(slots, carried []NodeID) {
	for _, p := range carried {
		target, ok := t.ResolveTarget(p)
		if !ok {
			continue
		}
		chased := make(map[NodeID]bool)
		for _, leaf := range t.activeLeaves(target) {
			chased[leaf] = true
		}
		best, bestOverlap := Nil, 0
		for _, slot := range slots {
			overlap := 0
			for _, leaf := range t.activeLeaves(t.Target(slot)) {
				if chased[leaf] {
					overlap++
				}
			}
			if overlap > bestOverlap {
				best, bestOverlap = slot, overlap
			}
		}
		if !best.IsNil() {
			t.AddLaunched(best, p)
		}
	}
}

func (t *Tree) activeLeaves(id NodeID) []NodeID {
	var out []NodeID
	for _, leaf := range t.Leaves(id) {
		if !t.IsTerminated(leaf) {
			out = append(out, leaf)
		}
	}
	return out
}

// retireSlots removes id's synthetic children. A cluster node survives as
// long as a launched pursuer still targets it.
func (t *Tree) retireSlots(id NodeID) {
	for _, c := range t.Children(id) {
		cn, ok := t.nodes[c]
		if !ok || !cn.synthetic {
			continue
		}
		group := cn.target
		t.RemoveChild(id, c)
		t.Detach(c)
		if gn, ok := t.nodes[group]; ok && gn.synthetic && len(gn.pursuers) == 0 {
			t.Detach(group)
		}
	}
}
