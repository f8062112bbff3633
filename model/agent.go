package model

import (
	"slices"
	"strings"
)

// AgentKind classifies an agent's role in the engagement.
type AgentKind int

const (
	AgentKindUnknown AgentKind = iota
	AgentKindLauncher
	AgentKindInterceptor
	AgentKindThreat
)

// String implements fmt.Stringer.
func (k AgentKind) String() string {
	switch k {
	case AgentKindLauncher:
		return "launcher"
	case AgentKindInterceptor:
		return "interceptor"
	case AgentKindThreat:
		return "threat"
	default:
		return "unknown"
	}
}

// ParseAgentKind maps a config string onto an AgentKind.
func ParseAgentKind(s string) AgentKind {
	switch s {
	case "launcher", "LAUNCHER":
		return AgentKindLauncher
	case "interceptor", "INTERCEPTOR":
		return AgentKindInterceptor
	case "threat", "THREAT":
		return AgentKindThreat
	default:
		return AgentKindUnknown
	}
}

// PowerSetting selects an entry in a PowerTable.
type PowerSetting int

const (
	PowerIdle PowerSetting = iota
	PowerLow
	PowerCruise
	PowerMil
	PowerMax
)

var powerSettingNames = [...]string{"idle", "low", "cruise", "mil", "max"}

// String implements fmt.Stringer.
func (s PowerSetting) String() string {
	if s < PowerIdle || s > PowerMax {
		return "unknown"
	}
	return powerSettingNames[s]
}

// ParsePowerSetting maps a config string onto a PowerSetting.
func ParsePowerSetting(s string) (PowerSetting, bool) {
	for i, name := range powerSettingNames {
		if strings.EqualFold(s, name) {
			return PowerSetting(i), true
		}
	}
	return PowerMax, false
}

// PowerTable maps power settings to speeds in m/s.
type PowerTable struct {
	Idle   float64 `json:"idle"`
	Low    float64 `json:"low"`
	Cruise float64 `json:"cruise"`
	Mil    float64 `json:"mil"`
	Max    float64 `json:"max"`
}

// Lookup returns the speed for a power setting.
func (p PowerTable) Lookup(s PowerSetting) float64 {
	switch s {
	case PowerIdle:
		return p.Idle
	case PowerLow:
		return p.Low
	case PowerCruise:
		return p.Cruise
	case PowerMil:
		return p.Mil
	default:
		return p.Max
	}
}

// Performance holds the static aerodynamic and propulsion parameters of an
// agent. Values are SI; normal acceleration is expressed in g at the
// reference speed.
type Performance struct {
	Mass               float64 `json:"mass"`
	CrossSectionalArea float64 `json:"cross_sectional_area"`
	DragCoefficient    float64 `json:"drag_coefficient"`
	LiftDragRatio      float64 `json:"lift_drag_ratio"`

	MaxForwardAcceleration         float64 `json:"max_forward_acceleration"`
	MaxReferenceNormalAcceleration float64 `json:"max_reference_normal_acceleration"`
	ReferenceSpeed                 float64 `json:"reference_speed"`

	BoostTime         float64 `json:"boost_time"`
	BoostAcceleration float64 `json:"boost_acceleration"`

	HitRadius       float64 `json:"hit_radius"`
	KillProbability float64 `json:"kill_probability"`

	Power PowerTable `json:"power_table"`
}

// DefaultPerformance mirrors the stock interceptor body used when a config
// omits a field.
func DefaultPerformance() Performance {
	return Performance{
		Mass:                           0.37,
		CrossSectionalArea:             3e-4,
		DragCoefficient:                0.7,
		LiftDragRatio:                  5,
		MaxReferenceNormalAcceleration: 300,
		ReferenceSpeed:                 1000,
		BoostTime:                      0.3,
		BoostAcceleration:              350,
		HitRadius:                      1,
		KillProbability:                0.9,
	}
}

// ApplyDefaults fills zero-valued fields from DefaultPerformance.
func (p *Performance) ApplyDefaults() {
	def := DefaultPerformance()
	if p.Mass == 0 {
		p.Mass = def.Mass
	}
	if p.CrossSectionalArea == 0 {
		p.CrossSectionalArea = def.CrossSectionalArea
	}
	if p.DragCoefficient == 0 {
		p.DragCoefficient = def.DragCoefficient
	}
	if p.LiftDragRatio == 0 {
		p.LiftDragRatio = def.LiftDragRatio
	}
	if p.MaxReferenceNormalAcceleration == 0 {
		p.MaxReferenceNormalAcceleration = def.MaxReferenceNormalAcceleration
	}
	if p.ReferenceSpeed == 0 {
		p.ReferenceSpeed = def.ReferenceSpeed
	}
	if p.HitRadius == 0 {
		p.HitRadius = def.HitRadius
	}
	if p.KillProbability == 0 {
		p.KillProbability = def.KillProbability
	}
}

// SubAgentConfig describes the sub-agents a carrier can release.
type SubAgentConfig struct {
	Count  int          `json:"count"`
	Config *AgentConfig `json:"config"`
}

// Airframe selects how a threat steers between waypoints.
type Airframe int

const (
	// AirframeFixedWing flies proportional navigation toward each waypoint.
	AirframeFixedWing Airframe = iota
	// AirframeRotaryWing flies straight at each waypoint.
	AirframeRotaryWing
)

// ParseAirframe maps a config string onto an Airframe. Empty means fixed
// wing.
func ParseAirframe(s string) (Airframe, bool) {
	switch strings.ToLower(s) {
	case "", "fixed_wing":
		return AirframeFixedWing, true
	case "rotary_wing":
		return AirframeRotaryWing, true
	default:
		return AirframeFixedWing, false
	}
}

// FlightPlanWaypoint is one leg of a threat's approach. The leg starts once
// the threat is within Distance of its objective.
type FlightPlanWaypoint struct {
	Distance float64
	Altitude float64
	Power    PowerSetting
}

// FlightPlan is an approach ordered from the farthest waypoint to the
// closest.
type FlightPlan struct {
	Waypoints []FlightPlanWaypoint
}

// NewFlightPlan sorts waypoints by descending distance.
func NewFlightPlan(waypoints []FlightPlanWaypoint) FlightPlan {
	sorted := slices.Clone(waypoints)
	slices.SortStableFunc(sorted, func(a, b FlightPlanWaypoint) int {
		switch {
		case a.Distance > b.Distance:
			return -1
		case a.Distance < b.Distance:
			return 1
		}
		return 0
	})
	return FlightPlan{Waypoints: sorted}
}

// Leg returns the index of the waypoint to fly toward from distance metres
// out: the first one still ahead. It returns len(Waypoints) once every
// waypoint is behind.
func (p FlightPlan) Leg(distance float64) int {
	for i, wp := range p.Waypoints {
		if distance > wp.Distance {
			return i
		}
	}
	return len(p.Waypoints)
}

// AgentConfig is the static description of one agent type.
type AgentConfig struct {
	Name        string          `json:"name"`
	Kind        AgentKind       `json:"-"`
	Performance Performance     `json:"performance"`
	SubAgents   *SubAgentConfig `json:"sub_agents,omitempty"`

	// Airframe and FlightPlan only apply to threats.
	Airframe   Airframe   `json:"-"`
	FlightPlan FlightPlan `json:"-"`
}

// Capacity is the number of leaf agents this config ultimately carries. An
// agent with no sub-agents counts itself.
func (c *AgentConfig) Capacity() int {
	if c == nil || c.SubAgents == nil || c.SubAgents.Config == nil {
		return 1
	}
	return c.SubAgents.Count * c.SubAgents.Config.Capacity()
}

// CapacityPerSubAgent is the capacity of each directly released sub-agent, or
// zero when the agent carries none.
func (c *AgentConfig) CapacityPerSubAgent() int {
	if c == nil || c.SubAgents == nil || c.SubAgents.Config == nil || c.SubAgents.Count == 0 {
		return 0
	}
	return c.SubAgents.Config.Capacity()
}

// NumSubAgents is the number of directly carried sub-agents.
func (c *AgentConfig) NumSubAgents() int {
	if c == nil || c.SubAgents == nil {
		return 0
	}
	return c.SubAgents.Count
}
