package assignment

import (
	"github.com/signalsfoundry/engagement-simulator/core"
	"github.com/signalsfoundry/engagement-simulator/internal/hierarchy"
	"github.com/signalsfoundry/engagement-simulator/model"
)

// CostFunc prices pairing first with second. Lower is better.
type CostFunc func(tree *hierarchy.Tree, first, second hierarchy.NodeID) float64

// MinDistanceCost is the straight-line distance between the two nodes.
func MinDistanceCost(tree *hierarchy.Tree, first, second hierarchy.NodeID) float64 {
	return tree.Position(first).DistanceTo(tree.Position(second))
}

// MaxSpeedCost favours pairs where first keeps most of its speed on the way
// to second.
func MaxSpeedCost(tree *hierarchy.Tree, first, second hierarchy.NodeID) float64 {
	perf, ok := tree.Performance(first)
	if !ok {
		perf = model.DefaultPerformance()
	}
	return 1 - core.FractionalSpeed(perf, tree.State(first), tree.Position(second))
}
