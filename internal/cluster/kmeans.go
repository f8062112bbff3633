package cluster

import (
	"math"
	"math/rand/v2"

	"github.com/signalsfoundry/engagement-simulator/core"
)

const (
	DefaultKMeansMaxIterations = 20
	DefaultKMeansEpsilon       = 1e-3
)

// KMeans is Lloyd's algorithm seeded from a random permutation of the input.
// It does not enforce size or radius limits.
type KMeans struct {
	K             int
	MaxIterations int
	Epsilon       float64
	// InitialCentroids seeds the run when it holds exactly min(K, n) entries.
	InitialCentroids []core.Vec3
	Rand             *rand.Rand
}

// Cluster implements Clusterer. Empty clusters are dropped from the result.
func (km *KMeans) Cluster(points []core.Vec3) []*Cluster {
	n := len(points)
	if n == 0 || km.K <= 0 {
		return nil
	}
	k := min(km.K, n)
	maxIter := km.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultKMeansMaxIterations
	}
	eps := km.Epsilon
	if eps <= 0 {
		eps = DefaultKMeansEpsilon
	}
	r := orRandom(km.Rand)

	centroids := make([]core.Vec3, k)
	if len(km.InitialCentroids) == k {
		copy(centroids, km.InitialCentroids)
	} else {
		for i, idx := range shuffledIndices(r, n)[:k] {
			centroids[i] = points[idx]
		}
	}

	clusters := make([]*Cluster, k)
	for i := range clusters {
		clusters[i] = &Cluster{}
	}

	for iter := 0; iter < maxIter; iter++ {
		for _, c := range clusters {
			c.reset()
		}
		for i, p := range points {
			clusters[nearest(p, centroids)].Add(i, p)
		}

		shift := 0.0
		for i, c := range clusters {
			var next core.Vec3
			if c.IsEmpty() {
				next = points[r.IntN(n)]
			} else {
				next = c.Mean()
			}
			shift = math.Max(shift, next.DistanceTo(centroids[i]))
			centroids[i] = next
		}
		if shift < eps {
			break
		}
	}

	for _, c := range clusters {
		c.Recenter()
	}
	return nonEmpty(clusters)
}

// DefaultConstrainedMaxRetries bounds how often ConstrainedKMeans grows k
// before falling back to singletons.
const DefaultConstrainedMaxRetries = 64

// ConstrainedKMeans reruns KMeans with a growing k until every cluster holds
// at most MaxSize points and has a radius of at most MaxRadius.
type ConstrainedKMeans struct {
	MaxSize       int
	MaxRadius     float64
	MaxIterations int
	Epsilon       float64
	MaxRetries    int
	Rand          *rand.Rand
}

// Cluster implements Clusterer. When the retry budget is exhausted, or k
// reaches the number of points, every point becomes its own cluster, which
// satisfies any non-negative constraint.
func (c *ConstrainedKMeans) Cluster(points []core.Vec3) []*Cluster {
	n := len(points)
	if n == 0 {
		return nil
	}
	maxSize := c.MaxSize
	if maxSize <= 0 {
		maxSize = n
	}
	maxRadius := c.MaxRadius
	if maxRadius <= 0 {
		maxRadius = math.Inf(1)
	}
	retries := c.MaxRetries
	if retries <= 0 {
		retries = DefaultConstrainedMaxRetries
	}
	r := orRandom(c.Rand)

	k := ceilDiv(n, maxSize)
	for attempt := 0; attempt < retries && k < n; attempt++ {
		km := &KMeans{K: k, MaxIterations: c.MaxIterations, Epsilon: c.Epsilon, Rand: r}
		clusters := km.Cluster(points)

		overSized, overRadius := 0, 0
		for _, cl := range clusters {
			if cl.Size() > maxSize {
				overSized++
			}
			if cl.Radius() > maxRadius {
				overRadius++
			}
		}
		if overSized == 0 && overRadius == 0 {
			return clusters
		}
		k += ceilDiv(max(overSized, overRadius), 2)
	}
	return singletons(points)
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
