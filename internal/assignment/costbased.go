package assignment

import (
	"context"
	"math"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/signalsfoundry/engagement-simulator/internal/hierarchy"
	"github.com/signalsfoundry/engagement-simulator/internal/logging"
	"github.com/signalsfoundry/engagement-simulator/internal/observability"
)

// MaxCost bounds every cost matrix entry handed to a Solver.
const MaxCost = 1e12

// CostBased builds a dense cost matrix and delegates to an optimal Solver.
type CostBased struct {
	// Name labels metrics and spans, e.g. "min_distance".
	Name   string
	Tree   *hierarchy.Tree
	Cost   CostFunc
	Solver Solver

	Log     logging.Logger
	Metrics Recorder
}

// NewMinDistance returns a Hungarian assigner minimising total distance.
func NewMinDistance(tree *hierarchy.Tree, log logging.Logger, metrics Recorder) *CostBased {
	return &CostBased{Name: "min_distance", Tree: tree, Cost: MinDistanceCost, Solver: HungarianSolver{}, Log: log, Metrics: metrics}
}

// NewMaxSpeed returns a Hungarian assigner maximising retained speed.
func NewMaxSpeed(tree *hierarchy.Tree, log logging.Logger, metrics Recorder) *CostBased {
	return &CostBased{Name: "max_speed", Tree: tree, Cost: MaxSpeedCost, Solver: HungarianSolver{}, Log: log, Metrics: metrics}
}

// Assign implements Assigner. A solver failure is logged and yields no
// pairs; the caller retries on a later cycle.
func (a *CostBased) Assign(ctx context.Context, first, second []hierarchy.NodeID) []Item {
	return a.Prepare(ctx, first, second)(ctx)
}

// Prepare builds the clamped cost matrix from the tree and returns the solve
// step, which only touches the matrix.
func (a *CostBased) Prepare(ctx context.Context, first, second []hierarchy.NodeID) func(context.Context) []Item {
	if len(first) == 0 || len(second) == 0 {
		return func(context.Context) []Item { return nil }
	}
	log := logging.OrNoop(a.Log)
	metrics := orNoop(a.Metrics)
	start := time.Now()

	costs := make([][]float64, len(first))
	clamped := 0
	for i, f := range first {
		costs[i] = make([]float64, len(second))
		for j, s := range second {
			c := a.Cost(a.Tree, f, s)
			if cc := clampCost(c); cc != c {
				log.Warn(ctx, "assignment cost clamped",
					logging.String("strategy", a.Name),
					logging.Float64("cost", c),
					logging.Float64("clamped", cc),
				)
				c = cc
				clamped++
			}
			costs[i][j] = c
		}
	}
	if clamped > 0 {
		metrics.AddCostClamps(clamped)
	}
	first, second = slices.Clone(first), slices.Clone(second)

	return func(ctx context.Context) []Item {
		ctx, span := observability.StartSpan(ctx, "assignment.CostBased",
			attribute.String("strategy", a.Name),
			attribute.Int("first", len(first)),
			attribute.Int("second", len(second)),
		)
		defer span.End()

		solver := a.Solver
		if solver == nil {
			solver = HungarianSolver{}
		}
		status, pairs := solver.Solve(ctx, costs)
		if status != StatusOK {
			lo, hi := costRange(costs)
			log.Error(ctx, "assignment solver failed",
				logging.Err(ErrSolverFailed),
				logging.String("strategy", a.Name),
				logging.String("status", status.String()),
				logging.Int("first", len(first)),
				logging.Int("second", len(second)),
				logging.Float64("min_cost", lo),
				logging.Float64("max_cost", hi),
			)
			span.SetStatus(codes.Error, ErrSolverFailed.Error())
			metrics.IncSolverFailures(a.Name)
			return nil
		}

		items := make([]Item, 0, len(pairs))
		seenFirst := make(map[int]bool, len(pairs))
		seenSecond := make(map[int]bool, len(pairs))
		slices.SortFunc(pairs, func(x, y Pair) int { return x.Row - y.Row })
		for _, p := range pairs {
			if p.Row < 0 || p.Row >= len(first) || p.Col < 0 || p.Col >= len(second) {
				continue
			}
			if seenFirst[p.Row] || seenSecond[p.Col] {
				continue
			}
			seenFirst[p.Row], seenSecond[p.Col] = true, true
			items = append(items, Item{First: first[p.Row], Second: second[p.Col]})
		}

		span.SetAttributes(attribute.Int("pairs", len(items)))
		metrics.ObserveAssignment(a.Name, len(items), time.Since(start))
		return items
	}
}

func clampCost(c float64) float64 {
	if math.IsNaN(c) {
		return MaxCost
	}
	return math.Max(-MaxCost, math.Min(MaxCost, c))
}

func costRange(costs [][]float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, row := range costs {
		for _, c := range row {
			lo, hi = math.Min(lo, c), math.Max(hi, c)
		}
	}
	return lo, hi
}
