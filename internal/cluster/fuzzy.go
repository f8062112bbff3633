package cluster

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/signalsfoundry/engagement-simulator/core"
)

const (
	DefaultFuzziness       = 2.0
	MinFuzziness           = 1.01
	DefaultFuzzyIterations = 100
	DefaultFuzzyEpsilon    = 1e-3

	zeroDistance               = 1e-12
	defaultMembershipsPerPoint = 1
)

// FuzzyCMeans computes soft memberships of every point in every cluster.
type FuzzyCMeans struct {
	C             int
	Fuzziness     float64
	MaxIterations int
	Epsilon       float64
	Rand          *rand.Rand
}

// FuzzyResult is the outcome of a fuzzy clustering run.
type FuzzyResult struct {
	Centroids []core.Vec3
	// Memberships[i][k] is the membership of point i in cluster k. Each row
	// sums to one.
	Memberships [][]float64
	// Clusters holds the non-empty output clusters after thresholding.
	Clusters []*Cluster
}

// Cluster implements Clusterer by assigning each point to its highest
// membership cluster.
func (f *FuzzyCMeans) Cluster(points []core.Vec3) []*Cluster {
	return f.ClusterFuzzy(points, nil, 0, 1).Clusters
}

// ClusterFuzzy runs fuzzy c-means. initial seeds the centroids when it holds
// exactly min(C, n) entries. A point joins every cluster whose membership
// exceeds threshold, highest memberships first, up to maxMemberships
// clusters; it always joins its best cluster.
func (f *FuzzyCMeans) ClusterFuzzy(points, initial []core.Vec3, threshold float64, maxMemberships int) FuzzyResult {
	n := len(points)
	if n == 0 || f.C <= 0 {
		return FuzzyResult{}
	}
	c := min(f.C, n)
	m := f.Fuzziness
	if m == 0 {
		m = DefaultFuzziness
	}
	m = math.Max(m, MinFuzziness)
	maxIter := f.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultFuzzyIterations
	}
	eps := f.Epsilon
	if eps <= 0 {
		eps = DefaultFuzzyEpsilon
	}
	if maxMemberships <= 0 {
		maxMemberships = defaultMembershipsPerPoint
	}

	centroids := make([]core.Vec3, c)
	if len(initial) == c {
		copy(centroids, initial)
	} else {
		r := orRandom(f.Rand)
		for i, idx := range shuffledIndices(r, n)[:c] {
			centroids[i] = points[idx]
		}
	}

	u := make([][]float64, n)
	for i := range u {
		u[i] = make([]float64, c)
	}

	for iter := 0; iter < maxIter; iter++ {
		updateMemberships(points, centroids, m, u)

		shift := 0.0
		for k := range centroids {
			var num core.Vec3
			den := 0.0
			for i, p := range points {
				w := math.Pow(u[i][k], m)
				num = num.Add(p.Scale(w))
				den += w
			}
			if den <= zeroDistance {
				continue
			}
			next := num.Scale(1 / den)
			shift = math.Max(shift, next.DistanceTo(centroids[k]))
			centroids[k] = next
		}
		if shift < eps {
			break
		}
	}
	updateMemberships(points, centroids, m, u)

	clusters := make([]*Cluster, c)
	for k := range clusters {
		clusters[k] = &Cluster{Weights: []float64{}}
	}
	order := make([]int, c)
	for i, p := range points {
		for k := range order {
			order[k] = k
		}
		row := u[i]
		sort.SliceStable(order, func(a, b int) bool { return row[order[a]] > row[order[b]] })
		for rank, k := range order {
			if rank >= maxMemberships || (rank > 0 && row[k] <= threshold) {
				break
			}
			clusters[k].Add(i, p)
			clusters[k].Weights = append(clusters[k].Weights, row[k])
		}
	}
	for _, cl := range clusters {
		cl.Recenter()
	}

	return FuzzyResult{
		Centroids:   centroids,
		Memberships: u,
		Clusters:    nonEmpty(clusters),
	}
}

// updateMemberships fills u with the standard FCM membership
// u_ik = 1 / Σ_j (d_ik / d_ij)^(2/(m-1)). Points coinciding with one or more
// centroids split their membership evenly among those centroids.
func updateMemberships(points, centroids []core.Vec3, m float64, u [][]float64) {
	exp := 2 / (m - 1)
	d := make([]float64, len(centroids))
	for i, p := range points {
		zeros := 0
		for k, c := range centroids {
			d[k] = p.DistanceTo(c)
			if d[k] < zeroDistance {
				zeros++
			}
		}
		if zeros > 0 {
			for k := range centroids {
				u[i][k] = 0
				if d[k] < zeroDistance {
					u[i][k] = 1 / float64(zeros)
				}
			}
			continue
		}
		for k := range centroids {
			sum := 0.0
			for j := range centroids {
				sum += math.Pow(d[k]/d[j], exp)
			}
			u[i][k] = 1 / sum
		}
	}
}
