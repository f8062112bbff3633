// Package sim runs an engagement scenario: it owns the agents, integrates
// their motion with an ideal kinematics model and drives the decision core
// (coordinator, release strategies, guidance, escape and evasion) once per
// tick.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/engagement-simulator/core"
	"github.com/signalsfoundry/engagement-simulator/internal/assignment"
	"github.com/signalsfoundry/engagement-simulator/internal/cluster"
	"github.com/signalsfoundry/engagement-simulator/internal/config"
	"github.com/signalsfoundry/engagement-simulator/internal/escape"
	"github.com/signalsfoundry/engagement-simulator/internal/events"
	"github.com/signalsfoundry/engagement-simulator/internal/guidance"
	"github.com/signalsfoundry/engagement-simulator/internal/hierarchy"
	"github.com/signalsfoundry/engagement-simulator/internal/iads"
	"github.com/signalsfoundry/engagement-simulator/internal/logging"
	"github.com/signalsfoundry/engagement-simulator/internal/observability"
	"github.com/signalsfoundry/engagement-simulator/internal/planning"
	"github.com/signalsfoundry/engagement-simulator/internal/release"
	"github.com/signalsfoundry/engagement-simulator/kb"
	"github.com/signalsfoundry/engagement-simulator/model"
	"github.com/signalsfoundry/engagement-simulator/timectrl"
)

// Generated launch table used when the scenario names no CSV.
const (
	defaultLaunchSpeed   = 1000.0
	defaultLaunchRange   = 40000.0
	defaultLaunchCeiling = 15000.0
	defaultLaunchStep    = 250.0
)

// Recorder receives every engagement measurement the engine produces.
// *observability.EngagementCollector satisfies it.
type Recorder interface {
	iads.Recorder
	release.Recorder
	planning.PlanRecorder
	IncEscapes(detector string)
	IncEvasions()
	IncIntercepts(hit bool)
}

// Summary is the outcome of a run so far.
type Summary struct {
	Elapsed time.Duration

	Threats          int
	ThreatsRemaining int
	ThreatsReached   int

	Released int
	Hits     int
	Misses   int
	Escapes  int
	Evasions int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger attaches a logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.log = logging.OrNoop(l) }
}

// WithMetrics wires engagement metrics.
func WithMetrics(m Recorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithBus publishes engagement events on bus.
func WithBus(bus *events.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithAnglePlanner replaces the launch angle planner built from the
// scenario's launch table.
func WithAnglePlanner(p planning.AnglePlanner) Option {
	return func(e *Engine) { e.angles = p }
}

// WithMode selects how Run paces ticks. The default is
// timectrl.Accelerated.
func WithMode(m timectrl.Mode) Option {
	return func(e *Engine) { e.mode = m }
}

// WithAsyncAssignment solves swarm assignment off the tick.
func WithAsyncAssignment() Option {
	return func(e *Engine) { e.async = true }
}

// Engine advances one scenario.
type Engine struct {
	cfg   config.Simulation
	asset core.Vec3

	log     logging.Logger
	metrics Recorder
	bus     *events.Bus
	angles  planning.AnglePlanner
	mode    timectrl.Mode
	async   bool

	kb        *kb.KnowledgeBase
	tree      *hierarchy.Tree
	coord     *iads.Coordinator
	law       guidance.Law
	threatLaw guidance.Law
	detector  escape.Detector
	evasion   escape.Evasion
	planner   release.Strategy
	proximity release.Strategy
	rand      *rand.Rand

	agents  []*Agent
	byNode  map[hierarchy.NodeID]*Agent
	orphans []hierarchy.NodeID

	now         time.Duration
	ticks       int64
	nextRelease time.Duration
	summary     Summary
	unsubscribe func()
}

// NewEngine builds an engine for sc. The scenario's simulation settings are
// used as loaded; call config.Simulation.ApplyDefaults first when building
// a scenario by hand.
func NewEngine(sc *config.Scenario, opts ...Option) (*Engine, error) {
	if sc == nil {
		return nil, fmt.Errorf("NewEngine: nil scenario: %w", config.ErrInvalid)
	}
	cfg := sc.Simulation
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("NewEngine: %w", err)
	}
	e := &Engine{
		cfg:    cfg,
		asset:  sc.Asset,
		log:    logging.Noop(),
		mode:   timectrl.Accelerated,
		byNode: make(map[hierarchy.NodeID]*Agent),
	}
	for _, opt := range opts {
		opt(e)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	e.rand = cluster.NewRand(seed)

	if e.angles == nil {
		src := planning.StraightLineTable(defaultLaunchSpeed, defaultLaunchRange, defaultLaunchCeiling, defaultLaunchStep)
		if cfg.LaunchTable != "" {
			src = planning.CSVFile(cfg.LaunchTable)
		}
		angles, err := planning.NewLaunchAnglePlanner(planning.NewLazyTable(src))
		if err != nil {
			return nil, fmt.Errorf("NewEngine: launch table: %w", err)
		}
		e.angles = angles
	}

	detector, err := escape.NewDetector(cfg.EscapeDetector)
	if err != nil {
		return nil, fmt.Errorf("NewEngine: %w", err)
	}
	e.detector = detector
	e.evasion = escape.NoEvasion{}
	if cfg.Evasion.Enabled {
		e.evasion = escape.OrthogonalEvasion{Enabled: true, RangeThreshold: cfg.Evasion.Range}
	}
	e.law = guidance.PN{Gain: cfg.Gain}
	if cfg.Controller == config.ControllerAPN {
		e.law = guidance.APN{Gain: cfg.Gain}
	}
	e.threatLaw = guidance.PN{Gain: cfg.ThreatGain}

	var assignRec assignment.Recorder
	treeOpts := []hierarchy.Option{
		hierarchy.WithClusterConfig(subHierarchyConfig(cfg.SubHierarchy)),
		hierarchy.WithRand(cluster.NewRand(seed + 1)),
		hierarchy.WithLogger(e.log),
	}
	coordOpts := []iads.Option{
		iads.WithLogger(e.log),
		iads.WithRand(cluster.NewRand(seed + 2)),
	}
	if e.metrics != nil {
		assignRec = e.metrics
		treeOpts = append(treeOpts, hierarchy.WithMetricsRecorder(e.metrics))
		coordOpts = append(coordOpts, iads.WithMetrics(e.metrics))
	}
	if e.async {
		coordOpts = append(coordOpts, iads.WithAsyncAssignment())
	}
	e.tree = hierarchy.NewTree(treeOpts...)
	coordOpts = append(coordOpts, iads.WithAssigner(swarmAssigner(cfg.Assigner, e.tree, sc.Asset, e.log, assignRec)))
	e.coord = iads.NewCoordinator(e.tree, cfg, coordOpts...)

	planner := &release.PlannerStrategy{
		Tree:    e.tree,
		Angles:  e.angles,
		Spawner: release.SpawnerFunc(e.spawn),
		Log:     e.log,
	}
	proximity := &release.ProximityStrategy{
		Tree:     e.tree,
		Assigner: assignment.NewMaxSpeed(e.tree, e.log, assignRec),
		Spawner:  release.SpawnerFunc(e.spawn),
		Log:      e.log,
	}
	if e.metrics != nil {
		planner.Metrics = e.metrics
		planner.PlanMetrics = e.metrics
		proximity.Metrics = e.metrics
	}
	e.planner, e.proximity = planner, proximity

	e.kb = kb.NewKnowledgeBase()
	e.unsubscribe = e.kb.Subscribe(e.onKBEvent)

	for _, spec := range sc.Launchers {
		if _, err := e.addAgent(spec, model.AgentKindLauncher); err != nil {
			return nil, fmt.Errorf("NewEngine: %w", err)
		}
	}
	for _, spec := range sc.Threats {
		a, err := e.addAgent(spec, model.AgentKindThreat)
		if err != nil {
			return nil, fmt.Errorf("NewEngine: %w", err)
		}
		a.waypoint = spec.Waypoint
		if s := a.State(); s.Velocity.IsZero() {
			heading := spec.Waypoint.Sub(s.Position).Normalize()
			s.Velocity = heading.Scale(cruiseSpeed(a.Performance(), s))
			a.setState(s)
		}
		e.summary.Threats++
	}
	return e, nil
}

// swarmAssigner returns the assigner that pairs launchers with swarms.
func swarmAssigner(name string, tree *hierarchy.Tree, asset core.Vec3, log logging.Logger, rec assignment.Recorder) assignment.Assigner {
	switch name {
	case config.AssignerMaxSpeed:
		return assignment.NewMaxSpeed(tree, log, rec)
	case config.AssignerRoundRobin:
		return assignment.RoundRobin{}
	case config.AssignerThreatPriority:
		return assignment.ThreatPriority{Tree: tree, DefendedPoint: asset}
	default:
		return assignment.NewMinDistance(tree, log, rec)
	}
}

func subHierarchyConfig(c config.Clustering) hierarchy.ClusterConfig {
	partition := hierarchy.PartitionFuzzyCMeans
	if c.Partition == config.PartitionKMeans {
		partition = hierarchy.PartitionKMeans
	}
	compact := hierarchy.CompactAgglomerative
	if c.Compact == config.CompactConstrainedKMeans {
		compact = hierarchy.CompactConstrainedKMeans
	}
	return hierarchy.ClusterConfig{
		MaxSubNodes:         c.MaxSubNodes,
		MaxRadius:           c.MaxRadius,
		Partition:           partition,
		Compact:             compact,
		Fuzziness:           c.Fuzziness,
		FuzzyIterations:     c.MaxIterations,
		FuzzyEpsilon:        c.Epsilon,
		MembershipThreshold: c.MembershipThreshold,
		MaxMemberships:      c.MaxMemberships,
	}
}

func (e *Engine) addAgent(spec config.AgentSpec, kind model.AgentKind) (*Agent, error) {
	if spec.Config == nil {
		return nil, fmt.Errorf("agent %q has no config: %w", spec.ID, config.ErrInvalid)
	}
	a := newAgent(spec.ID, kind, spec.Config, spec.State)
	if err := e.kb.AddAgent(a); err != nil {
		return nil, err
	}
	a.node = e.tree.NewAgentNode(a)
	e.agents = append(e.agents, a)
	e.byNode[a.node] = a
	switch kind {
	case model.AgentKindLauncher:
		e.coord.RegisterLauncher(a.node, a)
	case model.AgentKindThreat:
		e.coord.RegisterThreat(a.node)
	}
	return a, nil
}

// KB returns the agent registry.
func (e *Engine) KB() *kb.KnowledgeBase { return e.kb }

// Tree returns the engagement hierarchy.
func (e *Engine) Tree() *hierarchy.Tree { return e.tree }

// Coordinator returns the top-level coordinator.
func (e *Engine) Coordinator() *iads.Coordinator { return e.coord }

// Now returns the simulation time elapsed.
func (e *Engine) Now() time.Duration { return e.now }

// Agent returns the agent with id.
func (e *Engine) Agent(id string) (*Agent, bool) {
	a, ok := e.kb.GetAgent(id).(*Agent)
	return a, ok
}

// Summary returns the outcome so far.
func (e *Engine) Summary() Summary {
	s := e.summary
	s.Elapsed = e.now
	s.ThreatsRemaining = e.kb.ActiveCount(model.AgentKindThreat)
	return s
}

// Close detaches the engine from its knowledge base.
func (e *Engine) Close() {
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
}

// Run steps the engine until the configured duration has passed, every
// threat is gone or ctx is done. It returns ctx's error only when ctx ended
// the run.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	ctx, log := logging.WithRunLogger(ctx, e.log)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tc := timectrl.NewTimeController(time.Time{}, e.cfg.Tick, e.mode)
	tc.AddListener(func(ctx context.Context, _ time.Time) {
		e.Step(ctx)
		if e.kb.ActiveCount(model.AgentKindThreat) == 0 {
			cancel()
		}
	})
	log.Info(ctx, "engagement started",
		logging.Int("threats", e.summary.Threats),
		logging.Int("launchers", len(e.coord.Launchers())),
		logging.String("duration", e.cfg.Duration.String()),
		logging.String("assigner", e.cfg.Assigner),
		logging.Bool("async_assignment", e.async),
	)
	err := tc.Run(runCtx, e.cfg.Duration)
	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		err = nil
	}
	summary := e.Summary()
	log.Info(ctx, "engagement finished",
		logging.String("elapsed", summary.Elapsed.String()),
		logging.Int("hits", summary.Hits),
		logging.Int("misses", summary.Misses),
		logging.Int("threats_remaining", summary.ThreatsRemaining),
		logging.Int("threats_reached", summary.ThreatsReached),
	)
	return summary, err
}

// Step advances the simulation by one tick.
func (e *Engine) Step(ctx context.Context) {
	e.now += e.cfg.Tick
	e.ticks++
	dt := e.cfg.Tick.Seconds()
	ctx, span := observability.StartTick(ctx, e.ticks, e.now)
	defer span.End()

	phaseCtx, phase := observability.StartPhase(ctx, observability.PhaseCoordinate)
	e.coord.Tick(phaseCtx, e.now)
	phase.End()
	if e.now >= e.nextRelease {
		phaseCtx, phase = observability.StartPhase(ctx, observability.PhaseRelease)
		e.releaseAll(phaseCtx)
		phase.End()
		e.nextRelease = e.now + e.cfg.ReleasePeriod
	}

	phaseCtx, phase = observability.StartPhase(ctx, observability.PhaseGuide)
	moving := make([]*Agent, 0, len(e.agents))
	commands := make([]core.Vec3, 0, len(e.agents))
	for _, a := range e.agents {
		if a.IsTerminated() || a.kind == model.AgentKindLauncher {
			continue
		}
		var cmd core.Vec3
		if a.kind == model.AgentKindThreat {
			cmd = e.threatCommand(a, dt)
		} else {
			cmd = e.interceptorCommand(phaseCtx, a)
		}
		moving = append(moving, a)
		commands = append(commands, cmd)
	}

	previous := make(map[*Agent]core.Vec3, len(moving))
	for i, a := range moving {
		s := a.State()
		previous[a] = s.Position
		perf := a.Performance()
		var accel core.Vec3
		if a.kind == model.AgentKindThreat {
			accel = limitAcceleration(perf, s, commands[i])
		} else {
			accel = interceptorAcceleration(perf, s, commands[i], a.boosting(e.now), dt)
		}
		a.setState(integrate(s, accel, dt, perf.Power.Max))
	}
	phase.SetAttributes(attribute.Int("moving", len(moving)))
	phase.End()

	phaseCtx, phase = observability.StartPhase(ctx, observability.PhaseResolve)
	e.resolveCollisions(phaseCtx, moving, previous)
	e.serveOrphans(phaseCtx)
	phase.End()
}

func (e *Engine) publish(kind events.Kind, a *Agent, other string, detail string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.Event{
		Kind:     kind,
		Time:     e.now.Seconds(),
		Agent:    a.id,
		Other:    other,
		Position: a.State().Position,
		Detail:   detail,
	})
}

func (e *Engine) label(id hierarchy.NodeID) string {
	if a, ok := e.byNode[id]; ok {
		return a.id
	}
	return e.tree.Label(id)
}
