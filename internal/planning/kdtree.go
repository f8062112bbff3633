package planning

import (
	"math"
	"slices"
)

// Point2 is a coordinate pair.
type Point2 [2]float64

func (p Point2) distance(q Point2) float64 {
	return math.Hypot(p[0]-q[0], p[1]-q[1])
}

type kdNode[T any] struct {
	item        T
	at          Point2
	left, right *kdNode[T]
}

// KDTree is a static 2-d tree for nearest-neighbour queries.
type KDTree[T any] struct {
	root *kdNode[T]
	size int
}

// NewKDTree builds a balanced tree over items, locating each with coords.
func NewKDTree[T any](items []T, coords func(T) Point2) *KDTree[T] {
	nodes := make([]*kdNode[T], len(items))
	for i, it := range items {
		nodes[i] = &kdNode[T]{item: it, at: coords(it)}
	}
	return &KDTree[T]{root: build(nodes, 0), size: len(items)}
}

func build[T any](nodes []*kdNode[T], depth int) *kdNode[T] {
	if len(nodes) == 0 {
		return nil
	}
	axis := depth % 2
	slices.SortStableFunc(nodes, func(a, b *kdNode[T]) int {
		switch {
		case a.at[axis] < b.at[axis]:
			return -1
		case a.at[axis] > b.at[axis]:
			return 1
		}
		return 0
	})
	mid := len(nodes) / 2
	n := nodes[mid]
	n.left = build(nodes[:mid], depth+1)
	n.right = build(nodes[mid+1:], depth+1)
	return n
}

// Len returns the number of items in the tree.
func (t *KDTree[T]) Len() int { return t.size }

// Nearest returns the item closest to target. It reports false for an empty
// tree.
func (t *KDTree[T]) Nearest(target Point2) (T, bool) {
	var zero T
	if t == nil || t.root == nil {
		return zero, false
	}
	best := t.root
	bestDist := best.at.distance(target)
	var search func(n *kdNode[T], depth int)
	search = func(n *kdNode[T], depth int) {
		if n == nil {
			return
		}
		if d := n.at.distance(target); d < bestDist {
			best, bestDist = n, d
		}
		axis := depth % 2
		near, far := n.left, n.right
		if target[axis] >= n.at[axis] {
			near, far = far, near
		}
		search(near, depth+1)
		if math.Abs(target[axis]-n.at[axis]) < bestDist {
			search(far, depth+1)
		}
	}
	search(t.root, 0)
	return best.item, true
}

// Sample is one interpolation table entry.
type Sample struct {
	At     Point2
	Values []float64
}

// NearestNeighborInterpolator2D answers with the values of the closest
// sample.
type NearestNeighborInterpolator2D struct {
	tree *KDTree[Sample]
}

// NewNearestNeighborInterpolator2D indexes samples.
func NewNearestNeighborInterpolator2D(samples []Sample) *NearestNeighborInterpolator2D {
	return &NearestNeighborInterpolator2D{
		tree: NewKDTree(samples, func(s Sample) Point2 { return s.At }),
	}
}

// Interpolate returns the sample nearest to (x, y).
func (n *NearestNeighborInterpolator2D) Interpolate(x, y float64) (Sample, bool) {
	return n.tree.Nearest(Point2{x, y})
}

// Len returns the number of samples.
func (n *NearestNeighborInterpolator2D) Len() int { return n.tree.Len() }
