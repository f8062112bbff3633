// Package release decides when a carrier lets go of its sub-agents and what
// each released sub-agent pursues.
package release

import (
	"context"

	"github.com/signalsfoundry/engagement-simulator/core"
	"github.com/signalsfoundry/engagement-simulator/internal/hierarchy"
	"github.com/signalsfoundry/engagement-simulator/internal/planning"
)

// Carrier is a pursuer that may still hold sub-agents.
type Carrier struct {
	Node      hierarchy.NodeID
	State     core.KinematicState
	Remaining int
}

// Launch is one released sub-agent.
type Launch struct {
	Node   hierarchy.NodeID
	Target hierarchy.NodeID
	Plan   planning.LaunchPlan
}

// Spawner instantiates a sub-agent of carrier with the given initial state and
// returns its hierarchy node.
type Spawner interface {
	Spawn(ctx context.Context, carrier Carrier, initial core.KinematicState) (hierarchy.NodeID, error)
}

// SpawnerFunc adapts a function to Spawner.
type SpawnerFunc func(ctx context.Context, carrier Carrier, initial core.KinematicState) (hierarchy.NodeID, error)

// Spawn implements Spawner.
func (f SpawnerFunc) Spawn(ctx context.Context, carrier Carrier, initial core.KinematicState) (hierarchy.NodeID, error) {
	return f(ctx, carrier, initial)
}

// Strategy is consulted once per release period for every carrier.
type Strategy interface {
	Name() string
	Release(ctx context.Context, carrier Carrier) []Launch
}

// Recorder counts releases. *observability.EngagementCollector satisfies it.
type Recorder interface {
	AddReleases(strategy string, n int)
}

func targetedSlots(tree *hierarchy.Tree, carrier Carrier) []hierarchy.NodeID {
	if tree == nil || carrier.Remaining <= 0 {
		return nil
	}
	return tree.Slots(carrier.Node)
}
