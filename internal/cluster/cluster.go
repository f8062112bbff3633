// Package cluster groups target positions under size and radius constraints.
//
// Every clusterer returns clusters whose Members index into the input slice,
// so callers can map clusters back onto the entities the points came from.
package cluster

import (
	"math"
	"math/rand/v2"

	"github.com/signalsfoundry/engagement-simulator/core"
)

// Clusterer partitions points into clusters.
type Clusterer interface {
	Cluster(points []core.Vec3) []*Cluster
}

// Cluster is a group of points with an explicitly maintained centroid. Adding
// points does not move the centroid; call Recenter.
type Cluster struct {
	Members []int
	Points  []core.Vec3
	// Weights holds fuzzy membership degrees parallel to Members. It is nil
	// for hard clusterers.
	Weights []float64

	centroid core.Vec3
}

// NewCluster returns a singleton cluster centred on p.
func NewCluster(index int, p core.Vec3) *Cluster {
	return &Cluster{Members: []int{index}, Points: []core.Vec3{p}, centroid: p}
}

// Size returns the number of points.
func (c *Cluster) Size() int { return len(c.Points) }

// IsEmpty reports whether the cluster has no points.
func (c *Cluster) IsEmpty() bool { return len(c.Points) == 0 }

// Centroid returns the centroid as of the last Recenter.
func (c *Cluster) Centroid() core.Vec3 { return c.centroid }

// Mean returns the mean of the current points.
func (c *Cluster) Mean() core.Vec3 { return core.Mean(c.Points) }

// Recenter moves the centroid to the mean of the current points.
func (c *Cluster) Recenter() { c.centroid = c.Mean() }

// Radius is the largest distance from the centroid to any point.
func (c *Cluster) Radius() float64 {
	r := 0.0
	for _, p := range c.Points {
		r = math.Max(r, p.DistanceTo(c.centroid))
	}
	return r
}

// Add appends a point without moving the centroid.
func (c *Cluster) Add(index int, p core.Vec3) {
	c.Members = append(c.Members, index)
	c.Points = append(c.Points, p)
}

// Merge appends other's points without moving the centroid.
func (c *Cluster) Merge(other *Cluster) {
	c.Members = append(c.Members, other.Members...)
	c.Points = append(c.Points, other.Points...)
	if c.Weights != nil || other.Weights != nil {
		c.Weights = append(c.Weights, other.Weights...)
	}
}

func (c *Cluster) reset() {
	c.Members = c.Members[:0]
	c.Points = c.Points[:0]
}

// Centroids returns the centroids of clusters in order.
func Centroids(clusters []*Cluster) []core.Vec3 {
	out := make([]core.Vec3, len(clusters))
	for i, c := range clusters {
		out[i] = c.Centroid()
	}
	return out
}

// NewRand returns a seeded generator for deterministic clustering.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func orRandom(r *rand.Rand) *rand.Rand {
	if r != nil {
		return r
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// shuffledIndices returns a Fisher–Yates permutation of [0, n).
func shuffledIndices(r *rand.Rand, n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := r.IntN(i + 1)
		idx[i], idx[j] = idx[j], idx[i]
	}
	return idx
}

func nearest(p core.Vec3, centroids []core.Vec3) int {
	best, bestDist := 0, math.Inf(1)
	for k, c := range centroids {
		if d := p.DistanceTo(c); d < bestDist {
			best, bestDist = k, d
		}
	}
	return best
}

func nonEmpty(clusters []*Cluster) []*Cluster {
	out := clusters[:0]
	for _, c := range clusters {
		if !c.IsEmpty() {
			out = append(out, c)
		}
	}
	return out
}

func singletons(points []core.Vec3) []*Cluster {
	out := make([]*Cluster, len(points))
	for i, p := range points {
		out[i] = NewCluster(i, p)
	}
	return out
}
