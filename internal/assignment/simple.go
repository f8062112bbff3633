package assignment

import (
	"context"
	"slices"

	"github.com/signalsfoundry/engagement-simulator/core"
	"github.com/signalsfoundry/engagement-simulator/internal/hierarchy"
)

// RoundRobin cycles second in list order, one entry per element of first.
type RoundRobin struct{}

// Prepare implements Preparer.
func (r RoundRobin) Prepare(ctx context.Context, first, second []hierarchy.NodeID) func(context.Context) []Item {
	items := r.Assign(ctx, first, second)
	return func(context.Context) []Item { return items }
}

// Assign implements Assigner.
func (RoundRobin) Assign(_ context.Context, first, second []hierarchy.NodeID) []Item {
	if len(first) == 0 || len(second) == 0 {
		return nil
	}
	items := make([]Item, len(first))
	for i, f := range first {
		items[i] = Item{First: f, Second: second[i%len(second)]}
	}
	return items
}

// ThreatPriority ranks targets so that uncovered ones come first and, among
// equally covered targets, fast targets close to DefendedPoint come first.
// Pursuers are then dealt across the ranking round-robin.
type ThreatPriority struct {
	Tree          *hierarchy.Tree
	DefendedPoint core.Vec3
}

// Prepare implements Preparer.
func (a ThreatPriority) Prepare(ctx context.Context, first, second []hierarchy.NodeID) func(context.Context) []Item {
	items := a.Assign(ctx, first, second)
	return func(context.Context) []Item { return items }
}

// Assign implements Assigner. Terminated targets are ignored.
func (a ThreatPriority) Assign(_ context.Context, first, second []hierarchy.NodeID) []Item {
	type ranked struct {
		id       hierarchy.NodeID
		pursuers int
		level    float64
	}
	var targets []ranked
	for _, s := range second {
		if a.Tree.IsTerminated(s) {
			continue
		}
		targets = append(targets, ranked{
			id:       s,
			pursuers: len(a.Tree.ActivePursuers(s)),
			level:    ThreatLevel(a.Tree.State(s), a.DefendedPoint),
		})
	}
	if len(first) == 0 || len(targets) == 0 {
		return nil
	}
	slices.SortStableFunc(targets, func(x, y ranked) int {
		if x.pursuers != y.pursuers {
			return x.pursuers - y.pursuers
		}
		switch {
		case x.level > y.level:
			return -1
		case x.level < y.level:
			return 1
		}
		return 0
	})

	items := make([]Item, len(first))
	for i, f := range first {
		items[i] = Item{First: f, Second: targets[i%len(targets)].id}
	}
	return items
}

// ThreatLevel is speed divided by distance to the defended point. A target
// sitting on the point outranks every other target.
func ThreatLevel(s core.KinematicState, defended core.Vec3) float64 {
	d := s.Position.DistanceTo(defended)
	if d <= core.Epsilon {
		if s.Speed() <= core.Epsilon {
			return 0
		}
		return s.Speed() / core.Epsilon
	}
	return s.Speed() / d
}
