// Package kb is the registry of live engagement agents.
package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/engagement-simulator/model"
)

var (
	// ErrAgentExists is returned when an agent ID is registered twice.
	ErrAgentExists = errors.New("agent already exists")
	// ErrAgentNotFound is returned for unknown agent IDs.
	ErrAgentNotFound = errors.New("agent not found")
)

// Agent is the view of an agent the registry needs.
type Agent interface {
	ID() string
	Kind() model.AgentKind
	IsTerminated() bool
	Terminate()
}

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventAgentAdded EventType = iota
	EventAgentTerminated
)

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type    EventType
	AgentID string
	Kind    model.AgentKind
	Reason  string
}

// KnowledgeBase is an in-memory, thread-safe store of agents.
type KnowledgeBase struct {
	mu sync.RWMutex

	agents map[string]Agent

	subs    []func(Event)
	subPtrs []*func(Event)
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		agents: make(map[string]Agent),
	}
}

// AddAgent registers a. It returns ErrAgentExists if the ID is taken.
func (kb *KnowledgeBase) AddAgent(a Agent) error {
	kb.mu.Lock()
	if _, exists := kb.agents[a.ID()]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("agent %q: %w", a.ID(), ErrAgentExists)
	}
	kb.agents[a.ID()] = a
	subs := append([]func(Event){}, kb.subs...)
	kb.mu.Unlock()

	notify(subs, Event{Type: EventAgentAdded, AgentID: a.ID(), Kind: a.Kind()})
	return nil
}

// GetAgent returns the agent with the given ID, or nil if not found.
func (kb *KnowledgeBase) GetAgent(id string) Agent {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.agents[id]
}

// ListAgents returns the agents of kind ordered by ID.
// model.AgentKindUnknown lists every agent.
func (kb *KnowledgeBase) ListAgents(kind model.AgentKind) []Agent {
	kb.mu.RLock()
	res := make([]Agent, 0, len(kb.agents))
	for _, a := range kb.agents {
		if kind == model.AgentKindUnknown || a.Kind() == kind {
			res = append(res, a)
		}
	}
	kb.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool { return res[i].ID() < res[j].ID() })
	return res
}

// ActiveCount returns the number of live agents of kind.
func (kb *KnowledgeBase) ActiveCount(kind model.AgentKind) int {
	n := 0
	for _, a := range kb.ListAgents(kind) {
		if !a.IsTerminated() {
			n++
		}
	}
	return n
}

// Terminate ends the agent's life and notifies subscribers once. Terminating
// an already terminated agent is a no-op.
func (kb *KnowledgeBase) Terminate(id, reason string) error {
	kb.mu.Lock()
	a, ok := kb.agents[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("terminate %q: %w", id, ErrAgentNotFound)
	}
	if a.IsTerminated() {
		kb.mu.Unlock()
		return nil
	}
	a.Terminate()
	event := Event{
		Type:    EventAgentTerminated,
		AgentID: id,
		Kind:    a.Kind(),
		Reason:  reason,
	}
	subs := append([]func(Event){}, kb.subs...)
	kb.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	notify(subs, event)
	return nil
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	sub := &fn
	kb.subs = append(kb.subs, fn)
	kb.subPtrs = append(kb.subPtrs, sub)

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		for i, p := range kb.subPtrs {
			if p == sub {
				kb.subs = append(kb.subs[:i], kb.subs[i+1:]...)
				kb.subPtrs = append(kb.subPtrs[:i], kb.subPtrs[i+1:]...)
				return
			}
		}
	}
}

func notify(subs []func(Event), e Event) {
	for _, sub := range subs {
		sub(e)
	}
}
