package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/google/uuid"

	"github.com/signalsfoundry/engagement-simulator/core"
	"github.com/signalsfoundry/engagement-simulator/internal/escape"
	"github.com/signalsfoundry/engagement-simulator/internal/events"
	"github.com/signalsfoundry/engagement-simulator/internal/guidance"
	"github.com/signalsfoundry/engagement-simulator/internal/hierarchy"
	"github.com/signalsfoundry/engagement-simulator/internal/logging"
	"github.com/signalsfoundry/engagement-simulator/internal/planning"
	"github.com/signalsfoundry/engagement-simulator/internal/release"
	"github.com/signalsfoundry/engagement-simulator/kb"
	"github.com/signalsfoundry/engagement-simulator/model"
)

// objectiveRadius is how close a threat must pass its objective to reach it.
const objectiveRadius = 10.0

// Termination reasons recorded in the knowledge base.
const (
	ReasonHit       = "hit"
	ReasonIntercept = "intercept"
	ReasonGround    = "ground"
	ReasonObjective = "reached_objective"
)

var errNoSubAgents = errors.New("carrier has no sub-agents left")

// releaseAll consults the release strategy of every carrier that still
// holds sub-agents. Launchers plan each release; airborne carriers release
// everything at once when their targets are close.
func (e *Engine) releaseAll(ctx context.Context) {
	for _, a := range slices.Clone(e.agents) {
		if a.IsTerminated() || a.kind == model.AgentKindThreat || a.remaining <= 0 {
			continue
		}
		strategy := e.proximity
		if a.kind == model.AgentKindLauncher {
			strategy = e.planner
		}
		launches := strategy.Release(ctx, release.Carrier{Node: a.node, State: a.State(), Remaining: a.remaining})
		for _, l := range launches {
			sub, ok := e.byNode[l.Node]
			if !ok {
				continue
			}
			e.summary.Released++
			e.publish(events.KindReleased, sub, a.id, strategy.Name())
			if perSub := sub.CapacityPerSubAgent(); perSub > 0 {
				if err := e.tree.RecursiveCluster(ctx, sub.node, perSub); err != nil {
					e.log.Warn(ctx, "sub-agent clustering failed", logging.String("agent", sub.id), logging.Err(err))
				}
			}
		}
		if a.kind != model.AgentKindLauncher && a.remaining == 0 {
			// Spent carriers fly on ballistically.
			a.ballistic = true
			e.tree.ClearTarget(a.node)
		}
	}
}

// spawn implements release.Spawner.
func (e *Engine) spawn(ctx context.Context, carrier release.Carrier, initial core.KinematicState) (hierarchy.NodeID, error) {
	parent, ok := e.byNode[carrier.Node]
	if !ok {
		return hierarchy.Nil, fmt.Errorf("spawn from %s: %w", carrier.Node, hierarchy.ErrNodeNotFound)
	}
	if parent.remaining <= 0 || parent.config.SubAgents == nil || parent.config.SubAgents.Config == nil {
		return hierarchy.Nil, fmt.Errorf("spawn from %s: %w", parent.id, errNoSubAgents)
	}
	sub := newAgent(parent.id+"/"+uuid.NewString(), model.AgentKindInterceptor, parent.config.SubAgents.Config, initial)
	sub.carrier = parent.node
	sub.releasedAt = e.now
	if err := e.kb.AddAgent(sub); err != nil {
		return hierarchy.Nil, fmt.Errorf("spawn from %s: %w", parent.id, err)
	}
	sub.node = e.tree.NewAgentNode(sub)
	e.agents = append(e.agents, sub)
	e.byNode[sub.node] = sub
	parent.remaining--
	return sub.node, nil
}

// interceptorCommand returns the guidance command of an airborne
// interceptor, acquiring a target first when it has none.
func (e *Engine) interceptorCommand(ctx context.Context, a *Agent) core.Vec3 {
	if a.ballistic {
		return core.Zero
	}
	target, ok := e.tree.ResolveTarget(a.node)
	if !ok {
		e.requestTarget(ctx, a)
		if target, ok = e.tree.ResolveTarget(a.node); !ok {
			return core.Zero
		}
	}
	if a.awaiting {
		a.awaiting = false
		e.publish(events.KindAssigned, a, e.label(target), "")
	}
	if !a.boosting(e.now) && escape.IsEscaping(e.detector, e.tree, a.node) {
		e.handleEscape(ctx, a, target)
		return core.Zero
	}
	return guidance.ToTarget(e.law, a.State(), e.sense(a, target))
}

// sense returns a's view of target. The track is refreshed every
// SensorPeriod and extrapolated linearly in between.
func (e *Engine) sense(a *Agent, target hierarchy.NodeID) core.KinematicState {
	age := e.now - a.trackedAt
	if a.trackTarget != target || e.cfg.SensorPeriod <= 0 || age >= e.cfg.SensorPeriod {
		a.track = e.tree.State(target)
		a.trackedAt = e.now
		a.trackTarget = target
		return a.track
	}
	return planning.LinearExtrapolator{Source: planning.StaticSource(a.track)}.Predict(age.Seconds())
}

// requestTarget asks a's carrier for an uncovered target and, failing that,
// queues a request with the coordinator.
func (e *Engine) requestTarget(ctx context.Context, a *Agent) {
	if a.awaiting {
		return
	}
	if e.tree.Exists(a.carrier) && e.tree.AssignNewTarget(a.carrier, a.node, a.CapacityRemaining()) {
		target := e.tree.Target(a.node)
		e.publish(events.KindAssigned, a, e.label(target), "")
		e.log.Debug(ctx, "target assigned by carrier", logging.String("agent", a.id), logging.String("target", e.label(target)))
		return
	}
	a.awaiting = true
	e.coord.Request(a.node)
}

// reassign hands target to another pursuer, walking up a's carriers before
// giving it to the coordinator.
func (e *Engine) reassign(ctx context.Context, a *Agent, target hierarchy.NodeID) {
	for c := a.carrier; !c.IsNil(); {
		if e.tree.Exists(c) && e.tree.ReassignTarget(c, target) {
			return
		}
		parent, ok := e.byNode[c]
		if !ok {
			break
		}
		c = parent.carrier
	}
	e.coord.ReassignTarget(ctx, target)
}

func (e *Engine) handleEscape(ctx context.Context, a *Agent, target hierarchy.NodeID) {
	e.summary.Escapes++
	if e.metrics != nil {
		e.metrics.IncEscapes(e.detector.Name())
	}
	e.publish(events.KindEscaped, a, e.label(target), e.detector.Name())
	e.log.Debug(ctx, "target escaping", logging.String("agent", a.id), logging.String("target", e.label(target)))

	e.tree.ClearTarget(a.node)
	if !e.tree.IsCovered(target, a.node) {
		e.reassign(ctx, a, target)
	}
	e.requestTarget(ctx, a)
}

// threatCommand steers a threat along its flight plan toward its target, or
// its waypoint when it has none. A threat that is not outrunning its
// engagers evades the closest one instead.
func (e *Engine) threatCommand(a *Agent, dt float64) core.Vec3 {
	self := a.State()
	perf := a.Performance()
	if pursuer, ok := e.closestPursuer(a); ok && !e.tree.IsEscapingPursuers(a.node) {
		ev := escape.Evader{State: self, Performance: perf, Threat: true}
		if e.evasion.ShouldEvade(ev, pursuer) {
			if !a.evading {
				a.evading = true
				e.summary.Evasions++
				e.publish(events.KindEvaded, a, "", "")
			}
			if e.metrics != nil {
				e.metrics.IncEvasions()
			}
			return e.evasion.Evade(ev, pursuer, dt)
		}
	}
	a.evading = false

	point, speed := flightLeg(a.config.FlightPlan, perf, self, e.objective(a))
	var speedChange float64
	if dt > 0 {
		speedChange = (speed - self.Speed()) / dt
	}
	if a.config.Airframe == model.AirframeRotaryWing {
		law := guidance.Waypoint{MaxForward: speedChange, MaxNormal: core.MaxNormalAcceleration(perf, self.Speed())}
		return guidance.ToWaypoint(law, self, point)
	}
	cmd := guidance.ToWaypoint(e.threatLaw, self, point)
	return cmd.Add(core.FrameFromHeading(self.Velocity).Forward.Scale(speedChange))
}

func (e *Engine) objective(a *Agent) core.Vec3 {
	if target, ok := e.tree.ResolveTarget(a.node); ok {
		return e.tree.Position(target)
	}
	return a.waypoint
}

func (e *Engine) closestPursuer(a *Agent) (core.KinematicState, bool) {
	self := a.State().Position
	best, bestDist, found := core.KinematicState{}, math.Inf(1), false
	for _, p := range e.tree.Engagers(a.node) {
		pa, ok := e.byNode[p]
		if !ok || pa.kind != model.AgentKindInterceptor {
			continue
		}
		s := pa.State()
		if d := s.Position.DistanceTo(self); d < bestDist {
			best, bestDist, found = s, d, true
		}
	}
	return best, found
}

// resolveCollisions checks every agent that moved this tick against the
// ground, interceptors against every threat, and threats against their
// objective.
func (e *Engine) resolveCollisions(ctx context.Context, moving []*Agent, previous map[*Agent]core.Vec3) {
	var threats []*Agent
	for _, a := range moving {
		if a.kind == model.AgentKindThreat {
			threats = append(threats, a)
		}
	}
	for _, a := range moving {
		if a.kind == model.AgentKindThreat || a.IsTerminated() {
			continue
		}
		if a.State().Position.Y < 0 {
			e.miss(ctx, a, "", ReasonGround)
			continue
		}
		pos := a.State().Position
		for _, t := range threats {
			if t.IsTerminated() {
				continue
			}
			reach := a.Performance().HitRadius + t.Performance().HitRadius
			if core.ClosestApproach(previous[a], pos, previous[t], t.State().Position) <= reach {
				e.engage(ctx, a, t)
				break
			}
		}
	}
	for _, t := range threats {
		if t.IsTerminated() {
			continue
		}
		pos := t.State().Position
		objective := e.objective(t)
		switch {
		case core.ClosestApproach(previous[t], pos, objective, objective) <= objectiveRadius:
			e.summary.ThreatsReached++
			e.terminate(ctx, t, ReasonObjective)
		case pos.Y < 0:
			e.terminate(ctx, t, ReasonGround)
		}
	}
}

// engage resolves a collision between interceptor i and threat t with t's
// kill probability. The interceptor is spent either way.
func (e *Engine) engage(ctx context.Context, i, t *Agent) {
	if e.rand.Float64() > t.Performance().KillProbability {
		e.miss(ctx, i, t.id, ReasonIntercept)
		return
	}
	e.summary.Hits++
	if e.metrics != nil {
		e.metrics.IncIntercepts(true)
	}
	e.publish(events.KindHit, i, t.id, "")
	e.log.Info(ctx, "threat intercepted",
		logging.String("interceptor", i.id),
		logging.String("threat", t.id),
	)
	e.terminate(ctx, t, ReasonHit)
	e.terminate(ctx, i, ReasonIntercept)
}

// miss spends i without a kill. Its target is handed on unless another
// pursuer already covers it.
func (e *Engine) miss(ctx context.Context, i *Agent, other, reason string) {
	e.summary.Misses++
	if e.metrics != nil {
		e.metrics.IncIntercepts(false)
	}
	e.publish(events.KindMiss, i, other, reason)
	if target, ok := e.tree.ResolveTarget(i.node); ok && !e.tree.IsCovered(target, i.node) {
		e.reassign(ctx, i, target)
	}
	e.terminate(ctx, i, reason)
}

func (e *Engine) terminate(ctx context.Context, a *Agent, reason string) {
	if err := e.kb.Terminate(a.id, reason); err != nil {
		e.log.Warn(ctx, "terminate failed", logging.String("agent", a.id), logging.Err(err))
	}
}

// onKBEvent detaches terminated agents from the hierarchy. Pursuers left
// without a target are served at the end of the tick.
func (e *Engine) onKBEvent(ev kb.Event) {
	if ev.Type != kb.EventAgentTerminated {
		return
	}
	var node hierarchy.NodeID
	if a, ok := e.kb.GetAgent(ev.AgentID).(*Agent); ok {
		node = a.node
		e.publish(events.KindTerminated, a, "", ev.Reason)
	}
	e.orphans = append(e.orphans, e.tree.HandleTerminated(ev.AgentID)...)
	if !node.IsNil() {
		delete(e.byNode, node)
	}
}

func (e *Engine) serveOrphans(ctx context.Context) {
	orphans := e.orphans
	e.orphans = nil
	for _, id := range orphans {
		a, ok := e.byNode[id]
		if !ok || a.IsTerminated() || a.ballistic || a.kind != model.AgentKindInterceptor {
			continue
		}
		if _, ok := e.tree.ResolveTarget(id); ok {
			continue
		}
		e.requestTarget(ctx, a)
	}
}
