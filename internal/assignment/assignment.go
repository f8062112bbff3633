// Package assignment pairs pursuers with targets.
//
// Assigners are pure with respect to the hierarchy: they read node state and
// return pairs, and the caller applies them with Tree.SetTarget so the
// target/pursuer back-references stay symmetric.
package assignment

import (
	"context"
	"time"

	"github.com/signalsfoundry/engagement-simulator/internal/hierarchy"
)

// Item is one proposed pursuer/target pair.
type Item struct {
	First  hierarchy.NodeID
	Second hierarchy.NodeID
}

// Assigner pairs nodes of first with nodes of second. Empty inputs yield no
// pairs.
type Assigner interface {
	Assign(ctx context.Context, first, second []hierarchy.NodeID) []Item
}

// Recorder receives assignment measurements. *observability.EngagementCollector
// satisfies it.
type Recorder interface {
	ObserveAssignment(strategy string, pairs int, elapsed time.Duration)
	IncSolverFailures(strategy string)
	AddCostClamps(n int)
	SetQueueDepth(n int)
}

type noopRecorder struct{}

func (noopRecorder) ObserveAssignment(string, int, time.Duration) {}
func (noopRecorder) IncSolverFailures(string)                     {}
func (noopRecorder) AddCostClamps(int)                            {}
func (noopRecorder) SetQueueDepth(int)                            {}

func orNoop(r Recorder) Recorder {
	if r == nil {
		return noopRecorder{}
	}
	return r
}

// Apply points every First at its Second. Pairs naming nodes that no longer
// exist are skipped; the number applied is returned.
func Apply(tree *hierarchy.Tree, items []Item) int {
	applied := 0
	for _, it := range items {
		if err := tree.SetTarget(it.First, it.Second); err == nil {
			applied++
		}
	}
	return applied
}
