// Package hierarchy models pursuers and targets as a tree of nodes.
//
// A node is either bound to a single agent or groups other nodes. Nodes live
// in an arena owned by a Tree and are addressed by NodeID handles. Children
// are strong edges; target, pursuer and launched references are weak handles
// that are validated lazily, so a terminated or removed node simply reads as
// "no target".
//
// A Tree is not safe for concurrent use; it is owned by the simulation tick.
package hierarchy

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/signalsfoundry/engagement-simulator/core"
	"github.com/signalsfoundry/engagement-simulator/internal/logging"
	"github.com/signalsfoundry/engagement-simulator/model"
)

var (
	// ErrNodeNotFound is returned when a handle does not name a live node.
	ErrNodeNotFound = errors.New("hierarchy node not found")
	// ErrCycle is returned when adding a child would make a node its own
	// descendant.
	ErrCycle = errors.New("hierarchy edge would create a cycle")
)

// NodeID is a stable handle to a node in a Tree.
type NodeID uuid.UUID

// Nil is the zero handle; it never names a node.
var Nil NodeID

// IsNil reports whether id is the zero handle.
func (id NodeID) IsNil() bool { return id == Nil }

func (id NodeID) String() string { return uuid.UUID(id).String() }

// Agent is the live entity behind an agent-bound node.
type Agent interface {
	ID() string
	State() core.KinematicState
	IsTerminated() bool
}

// Performer is implemented by agents that expose static performance.
type Performer interface {
	Performance() model.Performance
}

type node struct {
	id        NodeID
	label     string
	agent     Agent
	synthetic bool

	children []NodeID
	target   NodeID
	pursuers []NodeID
	launched []NodeID
}

// MetricsRecorder receives clustering measurements.
type MetricsRecorder interface {
	ObserveClusterRefresh(algorithm string, clusters int, elapsed time.Duration)
}

// Tree is an arena of hierarchy nodes.
type Tree struct {
	nodes   map[NodeID]*node
	byAgent map[string]NodeID

	cfg     ClusterConfig
	rand    *rand.Rand
	log     logging.Logger
	metrics MetricsRecorder
}

// Option configures a Tree.
type Option func(*Tree)

// WithClusterConfig overrides the clustering parameters.
func WithClusterConfig(cfg ClusterConfig) Option {
	return func(t *Tree) { t.cfg = cfg }
}

// WithRand makes clustering deterministic.
func WithRand(r *rand.Rand) Option {
	return func(t *Tree) { t.rand = r }
}

// WithLogger attaches a logger.
func WithLogger(l logging.Logger) Option {
	return func(t *Tree) { t.log = logging.OrNoop(l) }
}

// WithMetricsRecorder wires clustering metrics.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(t *Tree) { t.metrics = m }
}

// NewTree constructs an empty tree.
func NewTree(opts ...Option) *Tree {
	t := &Tree{
		nodes:   make(map[NodeID]*node),
		byAgent: make(map[string]NodeID),
		cfg:     DefaultClusterConfig(),
		log:     logging.Noop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.cfg.applyDefaults()
	return t
}

// Len returns the number of nodes in the arena.
func (t *Tree) Len() int { return len(t.nodes) }

// Exists reports whether id names a node in the arena.
func (t *Tree) Exists(id NodeID) bool {
	_, ok := t.nodes[id]
	return ok
}

// NewNode adds a grouping node.
func (t *Tree) NewNode(label string) NodeID {
	return t.add(&node{label: label})
}

func (t *Tree) newSynthetic(label string) NodeID {
	return t.add(&node{label: label, synthetic: true})
}

// NewAgentNode adds a node bound to a. Registering the same agent twice
// returns the existing node.
func (t *Tree) NewAgentNode(a Agent) NodeID {
	if id, ok := t.byAgent[a.ID()]; ok {
		return id
	}
	id := t.add(&node{label: a.ID(), agent: a})
	t.byAgent[a.ID()] = id
	return id
}

func (t *Tree) add(n *node) NodeID {
	n.id = NodeID(uuid.New())
	t.nodes[n.id] = n
	return n.id
}

// NodeForAgent returns the node bound to agentID.
func (t *Tree) NodeForAgent(agentID string) (NodeID, bool) {
	id, ok := t.byAgent[agentID]
	return id, ok
}

// Agent returns the agent bound to id, if any.
func (t *Tree) Agent(id NodeID) (Agent, bool) {
	n, ok := t.nodes[id]
	if !ok || n.agent == nil {
		return nil, false
	}
	return n.agent, true
}

// Label returns the node's label.
func (t *Tree) Label(id NodeID) string {
	if n, ok := t.nodes[id]; ok {
		return n.label
	}
	return ""
}

// AddChild makes child a child of parent. Adding an existing child is a
// no-op.
func (t *Tree) AddChild(parent, child NodeID) error {
	p, ok := t.nodes[parent]
	if !ok {
		return fmt.Errorf("add child to %s: %w", parent, ErrNodeNotFound)
	}
	if _, ok := t.nodes[child]; !ok {
		return fmt.Errorf("add child %s: %w", child, ErrNodeNotFound)
	}
	if parent == child || t.isDescendant(child, parent) {
		return fmt.Errorf("add child %s to %s: %w", child, parent, ErrCycle)
	}
	if !slices.Contains(p.children, child) {
		p.children = append(p.children, child)
	}
	return nil
}

// isDescendant reports whether needle is reachable from root via children.
func (t *Tree) isDescendant(root, needle NodeID) bool {
	n, ok := t.nodes[root]
	if !ok {
		return false
	}
	for _, c := range n.children {
		if c == needle || t.isDescendant(c, needle) {
			return true
		}
	}
	return false
}

// RemoveChild removes the edge parent→child.
func (t *Tree) RemoveChild(parent, child NodeID) {
	if p, ok := t.nodes[parent]; ok {
		p.children = remove(p.children, child)
	}
}

// ClearChildren removes all of parent's child edges.
func (t *Tree) ClearChildren(parent NodeID) {
	if p, ok := t.nodes[parent]; ok {
		p.children = nil
	}
}

// Children returns a copy of id's children.
func (t *Tree) Children(id NodeID) []NodeID {
	n, ok := t.nodes[id]
	if !ok {
		return nil
	}
	return slices.Clone(n.children)
}

// ActiveChildren returns the children that are not terminated.
func (t *Tree) ActiveChildren(id NodeID) []NodeID {
	n, ok := t.nodes[id]
	if !ok {
		return nil
	}
	out := make([]NodeID, 0, len(n.children))
	for _, c := range n.children {
		if !t.IsTerminated(c) {
			out = append(out, c)
		}
	}
	return out
}

// IsTerminated reports whether id is gone, bound to a terminated agent, or a
// grouping node without active children.
func (t *Tree) IsTerminated(id NodeID) bool {
	n, ok := t.nodes[id]
	if !ok {
		return true
	}
	if n.agent != nil {
		return n.agent.IsTerminated()
	}
	for _, c := range n.children {
		if !t.IsTerminated(c) {
			return false
		}
	}
	return true
}

// SetTarget points id at target and keeps the pursuer back-reference
// symmetric. A Nil target clears the assignment.
func (t *Tree) SetTarget(id, target NodeID) error {
	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("set target of %s: %w", id, ErrNodeNotFound)
	}
	var next *node
	if !target.IsNil() {
		if next, ok = t.nodes[target]; !ok {
			return fmt.Errorf("set target %s: %w", target, ErrNodeNotFound)
		}
	}
	if prev, ok := t.nodes[n.target]; ok {
		prev.pursuers = remove(prev.pursuers, id)
	}
	n.target = target
	if next != nil && !slices.Contains(next.pursuers, id) {
		next.pursuers = append(next.pursuers, id)
	}
	return nil
}

// ClearTarget removes id's assignment.
func (t *Tree) ClearTarget(id NodeID) {
	_ = t.SetTarget(id, Nil)
}

// Target returns id's raw target handle, which may be stale.
func (t *Tree) Target(id NodeID) NodeID {
	if n, ok := t.nodes[id]; ok {
		return n.target
	}
	return Nil
}

// ResolveTarget returns id's target if it is still live. A stale reference is
// cleared so the node reads as unassigned from then on.
func (t *Tree) ResolveTarget(id NodeID) (NodeID, bool) {
	n, ok := t.nodes[id]
	if !ok || n.target.IsNil() {
		return Nil, false
	}
	if t.IsTerminated(n.target) {
		t.ClearTarget(id)
		return Nil, false
	}
	return n.target, true
}

// Pursuers returns a copy of the nodes targeting id.
func (t *Tree) Pursuers(id NodeID) []NodeID {
	n, ok := t.nodes[id]
	if !ok {
		return nil
	}
	return slices.Clone(n.pursuers)
}

// ActivePursuers returns the pursuers of id that are not terminated.
func (t *Tree) ActivePursuers(id NodeID) []NodeID {
	var out []NodeID
	for _, p := range t.Pursuers(id) {
		if !t.IsTerminated(p) {
			out = append(out, p)
		}
	}
	return out
}

// AddLaunched records that child was released to cover id's target.
func (t *Tree) AddLaunched(id, child NodeID) {
	n, ok := t.nodes[id]
	if !ok {
		return
	}
	if _, ok := t.nodes[child]; ok && !slices.Contains(n.launched, child) {
		n.launched = append(n.launched, child)
	}
}

// Launched returns the live nodes released to cover id's target.
func (t *Tree) Launched(id NodeID) []NodeID {
	n, ok := t.nodes[id]
	if !ok {
		return nil
	}
	var out []NodeID
	for _, c := range n.launched {
		if !t.IsTerminated(c) {
			out = append(out, c)
		}
	}
	return out
}

// Leaves returns the childless nodes under id, or id itself when it has no
// children.
func (t *Tree) Leaves(id NodeID) []NodeID {
	n, ok := t.nodes[id]
	if !ok {
		return nil
	}
	if len(n.children) == 0 {
		return []NodeID{id}
	}
	var out []NodeID
	for _, c := range n.children {
		out = append(out, t.Leaves(c)...)
	}
	return out
}

// State returns id's kinematics: the agent's own state for agent-bound nodes,
// otherwise the mean over active children. Unknown or empty nodes have zero
// kinematics.
func (t *Tree) State(id NodeID) core.KinematicState {
	n, ok := t.nodes[id]
	if !ok {
		return core.KinematicState{}
	}
	if n.agent != nil {
		return n.agent.State()
	}
	var sum core.KinematicState
	count := 0
	for _, c := range n.children {
		if t.IsTerminated(c) {
			continue
		}
		s := t.State(c)
		sum.Position = sum.Position.Add(s.Position)
		sum.Velocity = sum.Velocity.Add(s.Velocity)
		sum.Acceleration = sum.Acceleration.Add(s.Acceleration)
		count++
	}
	if count == 0 {
		return core.KinematicState{}
	}
	inv := 1 / float64(count)
	return core.KinematicState{
		Position:     sum.Position.Scale(inv),
		Velocity:     sum.Velocity.Scale(inv),
		Acceleration: sum.Acceleration.Scale(inv),
	}
}

// Position returns id's derived position.
func (t *Tree) Position(id NodeID) core.Vec3 { return t.State(id).Position }

// Velocity returns id's derived velocity.
func (t *Tree) Velocity(id NodeID) core.Vec3 { return t.State(id).Velocity }

// Acceleration returns id's derived acceleration.
func (t *Tree) Acceleration(id NodeID) core.Vec3 { return t.State(id).Acceleration }

// Speed returns the magnitude of id's derived velocity.
func (t *Tree) Speed(id NodeID) float64 { return t.State(id).Speed() }

// Performance returns the static performance of id's agent, or of the first
// active agent below id.
func (t *Tree) Performance(id NodeID) (model.Performance, bool) {
	n, ok := t.nodes[id]
	if !ok {
		return model.Performance{}, false
	}
	if n.agent != nil {
		if p, ok := n.agent.(Performer); ok {
			return p.Performance(), true
		}
		return model.Performance{}, false
	}
	for _, c := range n.children {
		if t.IsTerminated(c) {
			continue
		}
		if p, ok := t.Performance(c); ok {
			return p, true
		}
	}
	return model.Performance{}, false
}

// Detach removes id from the arena. Its assignment is cleared, every pursuer
// loses its reference to it, and it is unlinked from all child and launched
// lists.
func (t *Tree) Detach(id NodeID) {
	n, ok := t.nodes[id]
	if !ok {
		return
	}
	t.ClearTarget(id)
	for _, p := range n.pursuers {
		if pn, ok := t.nodes[p]; ok && pn.target == id {
			pn.target = Nil
		}
	}
	for _, other := range t.nodes {
		other.children = remove(other.children, id)
		other.launched = remove(other.launched, id)
	}
	if n.agent != nil {
		delete(t.byAgent, n.agent.ID())
	}
	delete(t.nodes, id)
}

// HandleTerminated detaches the node bound to agentID, if any. It reports the
// pursuers that lost their target.
func (t *Tree) HandleTerminated(agentID string) []NodeID {
	id, ok := t.byAgent[agentID]
	if !ok {
		return nil
	}
	orphaned := t.Pursuers(id)
	t.Detach(id)
	return orphaned
}

// Ref returns a read-only view of id.
func (t *Tree) Ref(id NodeID) Ref { return Ref{tree: t, id: id} }

// Ref is a lazily validated view of one node.
type Ref struct {
	tree *Tree
	id   NodeID
}

// ID returns the referenced handle.
func (r Ref) ID() NodeID { return r.id }

// Kinematics returns the node's current state, or false once the node is
// gone or terminated.
func (r Ref) Kinematics() (core.KinematicState, bool) {
	if r.tree == nil || r.tree.IsTerminated(r.id) {
		return core.KinematicState{}, false
	}
	return r.tree.State(r.id), true
}

func remove(ids []NodeID, id NodeID) []NodeID {
	return slices.DeleteFunc(ids, func(x NodeID) bool { return x == id })
}
