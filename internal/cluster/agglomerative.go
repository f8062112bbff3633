package cluster

import (
	"math"

	"github.com/signalsfoundry/engagement-simulator/core"
)

// Agglomerative merges singleton clusters bottom-up by centroid distance.
// Merging stops once the closest remaining pair is farther apart than
// MaxRadius. A pair whose merge would exceed MaxSize points or a radius of
// MaxRadius is skipped for the rest of the run.
type Agglomerative struct {
	MaxSize   int
	MaxRadius float64
}

// Cluster implements Clusterer. Ties are broken by the first pair found in a
// row-major scan of the lower-triangular distance matrix, and a merge always
// keeps the lower index.
func (a *Agglomerative) Cluster(points []core.Vec3) []*Cluster {
	n := len(points)
	if n == 0 {
		return nil
	}
	maxSize := a.MaxSize
	if maxSize <= 0 {
		maxSize = n
	}

	clusters := singletons(points)
	active := make([]bool, n)
	for i := range active {
		active[i] = true
	}

	// dist[i][j] is defined for j < i.
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, i)
		for j := 0; j < i; j++ {
			dist[i][j] = points[i].DistanceTo(points[j])
		}
	}

	for {
		minDist := math.Inf(1)
		mi, mj := -1, -1
		for i := 1; i < n; i++ {
			if !active[i] {
				continue
			}
			for j := 0; j < i; j++ {
				if active[j] && dist[i][j] < minDist {
					minDist, mi, mj = dist[i][j], i, j
				}
			}
		}
		if mi < 0 || minDist > a.MaxRadius {
			break
		}

		into, from := clusters[mj], clusters[mi]
		if into.Size()+from.Size() > maxSize || mergedRadius(into, from) > a.MaxRadius {
			dist[mi][mj] = math.Inf(1)
			continue
		}

		into.Merge(from)
		into.Recenter()
		active[mi] = false

		for k := 0; k < n; k++ {
			if !active[k] || k == mj {
				continue
			}
			d := into.Centroid().DistanceTo(clusters[k].Centroid())
			if k < mj {
				dist[mj][k] = d
			} else {
				dist[k][mj] = d
			}
		}
	}

	out := make([]*Cluster, 0, n)
	for i, c := range clusters {
		if active[i] {
			out = append(out, c)
		}
	}
	return out
}

func mergedRadius(a, b *Cluster) float64 {
	total := float64(a.Size() + b.Size())
	centroid := a.Mean().Scale(float64(a.Size()) / total).Add(b.Mean().Scale(float64(b.Size()) / total))
	r := 0.0
	for _, p := range a.Points {
		r = math.Max(r, p.DistanceTo(centroid))
	}
	for _, p := range b.Points {
		r = math.Max(r, p.DistanceTo(centroid))
	}
	return r
}
