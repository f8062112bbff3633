package hierarchy

import (
	"bytes"
	"math"
	"slices"
)

// Slots returns the leaves under id that carry a live target. A childless
// node with a target is its own slot.
func (t *Tree) Slots(id NodeID) []NodeID {
	var out []NodeID
	for _, leaf := range t.Leaves(id) {
		if _, ok := t.ResolveTarget(leaf); ok {
			out = append(out, leaf)
		}
	}
	return out
}

// AddSlot adds a synthetic pursuer slot under parent aimed at target, so that
// a later release covers it.
func (t *Tree) AddSlot(parent, target NodeID) (NodeID, error) {
	if !t.Exists(parent) || !t.Exists(target) {
		return Nil, ErrNodeNotFound
	}
	slot := t.newSynthetic("slot")
	if err := t.SetTarget(slot, target); err != nil {
		t.Detach(slot)
		return Nil, err
	}
	if err := t.AddChild(parent, slot); err != nil {
		t.Detach(slot)
		return Nil, err
	}
	return slot, nil
}

// AssignNewTarget hands sub the nearest slot target under parent that no live
// released pursuer covers yet. It reports false when parent has nothing left
// to hand out, so the request can be passed further up.
func (t *Tree) AssignNewTarget(parent, sub NodeID, capacity int) bool {
	if capacity <= 0 || !t.Exists(sub) {
		return false
	}
	from := t.Position(sub)
	best, bestDist := Nil, math.Inf(1)
	for _, slot := range t.Slots(parent) {
		if slot == sub || len(t.Launched(slot)) > 0 {
			continue
		}
		target := t.Target(slot)
		if target == sub {
			continue
		}
		if d := from.DistanceTo(t.Position(target)); d < bestDist {
			best, bestDist = slot, d
		}
	}
	if best.IsNil() {
		return false
	}
	if err := t.SetTarget(sub, t.Target(best)); err != nil {
		return false
	}
	t.AddLaunched(best, sub)
	return true
}

// ReassignTarget retargets a released pursuer under parent onto target
// without uncovering anything: only pursuers whose own target is gone, or is
// also chased by someone else, are eligible. The nearest eligible pursuer
// wins.
func (t *Tree) ReassignTarget(parent, target NodeID) bool {
	if t.IsTerminated(target) {
		return false
	}
	to := t.Position(target)
	best, bestDist := Nil, math.Inf(1)
	for _, slot := range t.Leaves(parent) {
		for _, p := range t.Launched(slot) {
			current, ok := t.ResolveTarget(p)
			if ok && (current == target || len(t.ActivePursuers(current)) < 2) {
				continue
			}
			if d := t.Position(p).DistanceTo(to); d < bestDist {
				best, bestDist = p, d
			}
		}
	}
	if best.IsNil() {
		return false
	}
	if err := t.SetTarget(best, target); err != nil {
		return false
	}
	for _, slot := range t.Leaves(parent) {
		if t.Target(slot) == target {
			t.AddLaunched(slot, best)
		}
	}
	return true
}

// IsCovered reports whether any active pursuer other than except targets id.
func (t *Tree) IsCovered(id, except NodeID) bool {
	return slices.ContainsFunc(t.ActivePursuers(id), func(p NodeID) bool { return p != except })
}

// Parents returns the nodes that list id as a child, in handle order.
func (t *Tree) Parents(id NodeID) []NodeID {
	var out []NodeID
	for pid, n := range t.nodes {
		if slices.Contains(n.children, id) {
			out = append(out, pid)
		}
	}
	slices.SortFunc(out, func(a, b NodeID) int { return bytes.Compare(a[:], b[:]) })
	return out
}

// Engagers returns the active pursuers of id and of every group above it: a
// pursuer of a cluster engages each of the cluster's members.
func (t *Tree) Engagers(id NodeID) []NodeID {
	var out []NodeID
	added := make(map[NodeID]bool)
	visited := map[NodeID]bool{id: true}
	queue := []NodeID{id}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, p := range t.ActivePursuers(n) {
			if !added[p] {
				added[p] = true
				out = append(out, p)
			}
		}
		for _, parent := range t.Parents(n) {
			if !visited[parent] {
				visited[parent] = true
				queue = append(queue, parent)
			}
		}
	}
	return out
}

// IsEscapingPursuers reports whether id is escaping every one of its
// engagers: an engager is escaped when it is not closing, or when it is
// farther away than id's own target and id will reach that target first.
// Without a live target of its own, only the closing test applies.
func (t *Tree) IsEscapingPursuers(id NodeID) bool {
	self := t.State(id)
	objective, hasObjective := t.ResolveTarget(id)
	for _, p := range t.Engagers(id) {
		ps := t.State(p)
		relPos := ps.Position.Sub(self.Position)
		relVel := ps.Velocity.Sub(self.Velocity)
		closing := -relVel.Dot(relPos.Normalize())
		if closing <= 0 {
			continue
		}
		if !hasObjective {
			return false
		}
		pursuerDistance := relPos.Norm()
		targetDistance := t.Position(objective).Sub(self.Position).Norm()
		if pursuerDistance <= targetDistance ||
			travelTime(targetDistance, self.Speed()) >= travelTime(pursuerDistance, ps.Speed()) {
			return false
		}
	}
	return true
}

// travelTime is distance over speed; a body that is not moving never
// arrives.
func travelTime(distance, speed float64) float64 {
	if speed <= 0 {
		return math.Inf(1)
	}
	return distance / speed
}
