package sim

import (
	"sync"
	"time"

	"github.com/signalsfoundry/engagement-simulator/core"
	"github.com/signalsfoundry/engagement-simulator/internal/hierarchy"
	"github.com/signalsfoundry/engagement-simulator/model"
)

// Agent is one simulated body: a launcher, an interceptor or a threat.
//
// The engine owns every field. State and the terminated flag are guarded so
// that the knowledge base and metrics readers may inspect an agent while the
// tick loop runs.
type Agent struct {
	mu         sync.RWMutex
	state      core.KinematicState
	terminated bool

	id     string
	kind   model.AgentKind
	config *model.AgentConfig

	node hierarchy.NodeID
	// carrier is the node that released this agent, Nil for top-level
	// agents.
	carrier  hierarchy.NodeID
	waypoint core.Vec3

	releasedAt time.Duration
	remaining  int
	ballistic  bool
	evading    bool
	awaiting   bool

	track       core.KinematicState
	trackedAt   time.Duration
	trackTarget hierarchy.NodeID
}

func newAgent(id string, kind model.AgentKind, cfg *model.AgentConfig, state core.KinematicState) *Agent {
	return &Agent{
		id:        id,
		kind:      kind,
		config:    cfg,
		state:     state,
		remaining: cfg.NumSubAgents(),
	}
}

// ID implements hierarchy.Agent and kb.Agent.
func (a *Agent) ID() string { return a.id }

// Kind implements kb.Agent.
func (a *Agent) Kind() model.AgentKind { return a.kind }

// Node returns the agent's hierarchy node.
func (a *Agent) Node() hierarchy.NodeID { return a.node }

// Config returns the agent's static configuration.
func (a *Agent) Config() *model.AgentConfig { return a.config }

// State implements hierarchy.Agent.
func (a *Agent) State() core.KinematicState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

func (a *Agent) setState(s core.KinematicState) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// IsTerminated implements hierarchy.Agent and kb.Agent.
func (a *Agent) IsTerminated() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.terminated
}

// Terminate implements kb.Agent. Use kb.KnowledgeBase.Terminate so that
// subscribers hear about it.
func (a *Agent) Terminate() {
	a.mu.Lock()
	a.terminated = true
	a.mu.Unlock()
}

// Performance implements hierarchy.Performer.
func (a *Agent) Performance() model.Performance { return a.config.Performance }

// IsCarrier reports whether the agent was configured with sub-agents.
func (a *Agent) IsCarrier() bool { return a.config.NumSubAgents() > 0 }

// Remaining is the number of sub-agents not yet released.
func (a *Agent) Remaining() int { return a.remaining }

// CapacityPerSubAgent implements iads.Capacity.
func (a *Agent) CapacityPerSubAgent() int { return a.config.CapacityPerSubAgent() }

// CapacityRemaining implements iads.Capacity. An agent without sub-agents
// can take on exactly one target.
func (a *Agent) CapacityRemaining() int {
	if !a.IsCarrier() {
		return 1
	}
	return a.CapacityPerSubAgent() * a.remaining
}

func (a *Agent) boosting(now time.Duration) bool {
	return now-a.releasedAt < seconds(a.config.Performance.BoostTime)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
