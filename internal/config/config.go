// Package config holds the simulation settings and the JSON scenario loader.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Controller names accepted by Simulation.Controller.
const (
	ControllerPN  = "pn"
	ControllerAPN = "apn"
)

// Escape detector names accepted by Simulation.EscapeDetector.
const (
	DetectorGeometric = "geometric"
	DetectorSpeed     = "speed"
	DetectorTime      = "time"
)

// Assigner names accepted by Simulation.Assigner.
const (
	AssignerMinDistance    = "min_distance"
	AssignerMaxSpeed       = "max_speed"
	AssignerRoundRobin     = "round_robin"
	AssignerThreatPriority = "threat_priority"
)

// Clusterer names accepted by Clustering.Partition and Clustering.Compact.
const (
	PartitionFuzzyCMeans = "fuzzy_c_means"
	PartitionKMeans      = "k_means"

	CompactAgglomerative     = "agglomerative"
	CompactConstrainedKMeans = "constrained_k_means"
)

// Clustering parameterises a fuzzy c-means run and the agglomerative
// fallback.
type Clustering struct {
	MaxSubNodes         int
	MaxRadius           float64
	Fuzziness           float64
	MaxIterations       int
	Epsilon             float64
	MembershipThreshold float64
	MaxMemberships      int
	// Partition clusters large target sets.
	Partition string
	// Compact clusters small target sets within MaxRadius. Swarm builds
	// always partition and ignore it.
	Compact string
}

// Evasion controls how threats react to close pursuers.
type Evasion struct {
	Enabled bool
	// Range is the distance in metres inside which a closing pursuer
	// triggers evasion.
	Range float64
}

// Simulation holds the tick loop and decision core settings.
type Simulation struct {
	Tick     time.Duration
	Duration time.Duration

	// ReleasePeriod is how often carriers consult their release strategy.
	ReleasePeriod time.Duration
	// HierarchyPeriod is how often threats are re-clustered into swarms.
	HierarchyPeriod time.Duration
	// SubHierarchyPeriod is how often launcher sub-hierarchies refresh.
	SubHierarchyPeriod time.Duration
	// SensorPeriod gates how often a pursuer re-reads its target's state.
	// Zero senses every tick.
	SensorPeriod time.Duration

	// CoverageFactor scales the number of swarms per launcher.
	CoverageFactor float64
	Swarms         Clustering
	SubHierarchy   Clustering

	// Assigner pairs swarms with launchers.
	Assigner string

	// AssignmentBatch bounds the pending target requests served per cycle.
	AssignmentBatch int

	// LaunchTable is a CSV path; empty means a generated straight-line
	// table.
	LaunchTable string

	Controller     string
	Gain           float64
	ThreatGain     float64
	EscapeDetector string
	Evasion        Evasion

	// Seed makes clustering and kill rolls reproducible. Zero picks a
	// random seed.
	Seed uint64
}

// DefaultSimulation returns the stock settings.
func DefaultSimulation() Simulation {
	return Simulation{
		Tick:               10 * time.Millisecond,
		Duration:           120 * time.Second,
		ReleasePeriod:      200 * time.Millisecond,
		HierarchyPeriod:    5 * time.Second,
		SubHierarchyPeriod: 1 * time.Second,
		CoverageFactor:     1,
		Swarms: Clustering{
			Fuzziness:           2,
			MaxIterations:       25,
			Epsilon:             1e-2,
			MembershipThreshold: 0.35,
			MaxMemberships:      2,
			Partition:           PartitionFuzzyCMeans,
			Compact:             CompactAgglomerative,
		},
		SubHierarchy: Clustering{
			MaxSubNodes:    10,
			MaxRadius:      1000,
			Fuzziness:      2,
			MaxIterations:  25,
			Epsilon:        1e-2,
			MaxMemberships: 1,
			Partition:      PartitionFuzzyCMeans,
			Compact:        CompactAgglomerative,
		},
		Assigner:        AssignerMinDistance,
		AssignmentBatch: 32,
		Controller:      ControllerPN,
		Gain:            5,
		ThreatGain:      50,
		EscapeDetector:  DetectorGeometric,
		Evasion:         Evasion{Enabled: true, Range: 1000},
	}
}

// ApplyDefaults returns a copy with every zero or negative field replaced
// by its default. Evasion.Enabled is taken as given.
func (s Simulation) ApplyDefaults() Simulation {
	def := DefaultSimulation()
	durations := []struct{ v, d *time.Duration }{
		{&s.Tick, &def.Tick},
		{&s.Duration, &def.Duration},
		{&s.ReleasePeriod, &def.ReleasePeriod},
		{&s.HierarchyPeriod, &def.HierarchyPeriod},
		{&s.SubHierarchyPeriod, &def.SubHierarchyPeriod},
	}
	for _, f := range durations {
		if *f.v <= 0 {
			*f.v = *f.d
		}
	}
	if s.CoverageFactor <= 0 {
		s.CoverageFactor = def.CoverageFactor
	}
	s.Swarms = s.Swarms.withDefaults(def.Swarms)
	s.SubHierarchy = s.SubHierarchy.withDefaults(def.SubHierarchy)
	if s.AssignmentBatch <= 0 {
		s.AssignmentBatch = def.AssignmentBatch
	}
	if s.Gain <= 0 {
		s.Gain = def.Gain
	}
	if s.ThreatGain <= 0 {
		s.ThreatGain = def.ThreatGain
	}
	s.Controller = orString(strings.ToLower(strings.TrimSpace(s.Controller)), def.Controller)
	s.EscapeDetector = orString(strings.ToLower(strings.TrimSpace(s.EscapeDetector)), def.EscapeDetector)
	s.Assigner = orString(strings.ToLower(strings.TrimSpace(s.Assigner)), def.Assigner)
	if s.Evasion.Range <= 0 {
		s.Evasion.Range = def.Evasion.Range
	}
	return s
}

// Validate reports settings that defaults cannot repair.
func (s Simulation) Validate() error {
	switch s.Controller {
	case ControllerPN, ControllerAPN:
	default:
		return fmt.Errorf("controller %q: %w", s.Controller, ErrInvalid)
	}
	switch s.EscapeDetector {
	case DetectorGeometric, DetectorSpeed, DetectorTime:
	default:
		return fmt.Errorf("escape detector %q: %w", s.EscapeDetector, ErrInvalid)
	}
	switch s.Assigner {
	case AssignerMinDistance, AssignerMaxSpeed, AssignerRoundRobin, AssignerThreatPriority:
	default:
		return fmt.Errorf("assigner %q: %w", s.Assigner, ErrInvalid)
	}
	if s.SensorPeriod < 0 {
		return fmt.Errorf("sensor period %v: %w", s.SensorPeriod, ErrInvalid)
	}
	if s.Tick > s.ReleasePeriod {
		return fmt.Errorf("tick %v longer than release period %v: %w", s.Tick, s.ReleasePeriod, ErrInvalid)
	}
	for name, c := range map[string]Clustering{"swarms": s.Swarms, "sub_hierarchy": s.SubHierarchy} {
		if c.MembershipThreshold < 0 || c.MembershipThreshold > 1 {
			return fmt.Errorf("%s membership threshold %v: %w", name, c.MembershipThreshold, ErrInvalid)
		}
		switch c.Partition {
		case PartitionFuzzyCMeans, PartitionKMeans:
		default:
			return fmt.Errorf("%s partition %q: %w", name, c.Partition, ErrInvalid)
		}
		switch c.Compact {
		case CompactAgglomerative, CompactConstrainedKMeans:
		default:
			return fmt.Errorf("%s compact clusterer %q: %w", name, c.Compact, ErrInvalid)
		}
	}
	return nil
}

func (c Clustering) withDefaults(def Clustering) Clustering {
	if c.MaxSubNodes <= 0 {
		c.MaxSubNodes = def.MaxSubNodes
	}
	if c.MaxRadius <= 0 {
		c.MaxRadius = def.MaxRadius
	}
	if c.Fuzziness <= 0 {
		c.Fuzziness = def.Fuzziness
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = def.MaxIterations
	}
	if c.Epsilon <= 0 {
		c.Epsilon = def.Epsilon
	}
	if c.MembershipThreshold <= 0 {
		c.MembershipThreshold = def.MembershipThreshold
	}
	if c.MaxMemberships <= 0 {
		c.MaxMemberships = def.MaxMemberships
	}
	c.Partition = orString(strings.ToLower(strings.TrimSpace(c.Partition)), def.Partition)
	c.Compact = orString(strings.ToLower(strings.TrimSpace(c.Compact)), def.Compact)
	return c
}

func orString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
