package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/signalsfoundry/engagement-simulator/core"
	"github.com/signalsfoundry/engagement-simulator/model"
)

// AgentSpec places one agent at the start of a run.
type AgentSpec struct {
	ID     string
	Config *model.AgentConfig
	State  core.KinematicState
	// Waypoint is where a threat is heading; Asset when not given.
	Waypoint core.Vec3
}

// Scenario is a loaded run description.
type Scenario struct {
	Simulation Simulation
	Configs    map[string]*model.AgentConfig
	Launchers  []AgentSpec
	Threats    []AgentSpec
	// Asset is the defended point.
	Asset core.Vec3
}

// internal JSON shapes, unexported so the file format can evolve freely.
type scenarioJSON struct {
	Simulation   simulationJSON    `json:"simulation"`
	AgentConfigs []agentConfigJSON `json:"agent_configs"`
	Launchers    []agentJSON       `json:"launchers"`
	Threats      []agentJSON       `json:"threats"`
	Asset        vecJSON           `json:"asset"`
}

type simulationJSON struct {
	TickSeconds               float64         `json:"tick_seconds"`
	DurationSeconds           float64         `json:"duration_seconds"`
	ReleasePeriodSeconds      float64         `json:"release_period_seconds"`
	HierarchyPeriodSeconds    float64         `json:"hierarchy_period_seconds"`
	SubHierarchyPeriodSeconds float64         `json:"sub_hierarchy_period_seconds"`
	SensorPeriodSeconds       float64         `json:"sensor_period_seconds"`
	CoverageFactor            float64         `json:"coverage_factor"`
	Swarms                    *clusteringJSON `json:"swarms"`
	SubHierarchy              *clusteringJSON `json:"sub_hierarchy"`
	Assigner                  string          `json:"assigner"`
	AssignmentBatch           int             `json:"assignment_batch"`
	LaunchTable               string          `json:"launch_table"`
	Controller                string          `json:"controller"` // "pn" | "apn"
	Gain                      float64         `json:"gain"`
	ThreatGain                float64         `json:"threat_gain"`
	EscapeDetector            string          `json:"escape_detector"`  // "geometric" | "speed" | "time"
	Evasion                   *evasionJSON    `json:"evasion"`
	Seed                      uint64          `json:"seed"`
}

type clusteringJSON struct {
	MaxSubNodes         int     `json:"max_sub_nodes"`
	MaxRadius           float64 `json:"max_radius"`
	Fuzziness           float64 `json:"fuzziness"`
	MaxIterations       int     `json:"max_iterations"`
	Epsilon             float64 `json:"epsilon"`
	MembershipThreshold float64 `json:"membership_threshold"`
	MaxMemberships      int     `json:"max_memberships"`
	Partition           string  `json:"partition"` // "fuzzy_c_means" | "k_means"
	Compact             string  `json:"compact"`   // "agglomerative" | "constrained_k_means"
}

type evasionJSON struct {
	Enabled *bool   `json:"enabled"` // optional; defaults to true
	Range   float64 `json:"range"`
}

type agentConfigJSON struct {
	Name        string            `json:"name"`
	Kind        string            `json:"kind"` // "launcher" | "interceptor" | "threat"
	Performance model.Performance `json:"performance"`
	SubAgents   *struct {
		Count  int    `json:"count"`
		Config string `json:"config"`
	} `json:"sub_agents"`
	Airframe   string         `json:"airframe"` // threats: "fixed_wing" | "rotary_wing"
	FlightPlan []waypointJSON `json:"flight_plan"`
}

type waypointJSON struct {
	Distance float64 `json:"distance"`
	Altitude float64 `json:"altitude"`
	Power    string  `json:"power"` // "idle" | "low" | "cruise" | "mil" | "max"
}

type agentJSON struct {
	ID       string   `json:"id"`
	Config   string   `json:"config"`
	Position vecJSON  `json:"position"`
	Velocity vecJSON  `json:"velocity"`
	Waypoint *vecJSON `json:"waypoint"`
}

type vecJSON struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v vecJSON) vec() core.Vec3 { return core.Vec3{X: v.X, Y: v.Y, Z: v.Z} }

// LoadScenarioFile opens path and decodes it with LoadScenario.
func LoadScenarioFile(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("LoadScenarioFile: %w", err)
	}
	defer f.Close()
	return LoadScenario(f)
}

// LoadScenario reads a JSON scenario from r, resolves agent config
// references and applies simulation defaults.
func LoadScenario(r io.Reader) (*Scenario, error) {
	var payload scenarioJSON
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("LoadScenario: decode failed: %w", err)
	}

	sim := payload.Simulation.simulation().ApplyDefaults()
	if err := sim.Validate(); err != nil {
		return nil, fmt.Errorf("LoadScenario: %w", err)
	}

	configs, err := resolveConfigs(payload.AgentConfigs)
	if err != nil {
		return nil, fmt.Errorf("LoadScenario: %w", err)
	}

	sc := &Scenario{
		Simulation: sim,
		Configs:    configs,
		Asset:      payload.Asset.vec(),
	}
	seen := make(map[string]bool)
	for _, a := range payload.Launchers {
		spec, err := agentSpec(a, configs, seen, sc.Asset)
		if err != nil {
			return nil, fmt.Errorf("LoadScenario: launcher: %w", err)
		}
		if spec.Config.Kind == model.AgentKindUnknown {
			spec.Config.Kind = model.AgentKindLauncher
		}
		sc.Launchers = append(sc.Launchers, spec)
	}
	for _, a := range payload.Threats {
		spec, err := agentSpec(a, configs, seen, sc.Asset)
		if err != nil {
			return nil, fmt.Errorf("LoadScenario: threat: %w", err)
		}
		if spec.Config.Kind == model.AgentKindUnknown {
			spec.Config.Kind = model.AgentKindThreat
		}
		sc.Threats = append(sc.Threats, spec)
	}
	return sc, nil
}

func (s simulationJSON) simulation() Simulation {
	sim := Simulation{
		Tick:               seconds(s.TickSeconds),
		Duration:           seconds(s.DurationSeconds),
		ReleasePeriod:      seconds(s.ReleasePeriodSeconds),
		HierarchyPeriod:    seconds(s.HierarchyPeriodSeconds),
		SubHierarchyPeriod: seconds(s.SubHierarchyPeriodSeconds),
		SensorPeriod:       seconds(s.SensorPeriodSeconds),
		CoverageFactor:     s.CoverageFactor,
		Assigner:           s.Assigner,
		AssignmentBatch:    s.AssignmentBatch,
		LaunchTable:        s.LaunchTable,
		Controller:         s.Controller,
		Gain:               s.Gain,
		ThreatGain:         s.ThreatGain,
		EscapeDetector:     s.EscapeDetector,
		Evasion:            Evasion{Enabled: true},
		Seed:               s.Seed,
	}
	if s.Swarms != nil {
		sim.Swarms = s.Swarms.clustering()
	}
	if s.SubHierarchy != nil {
		sim.SubHierarchy = s.SubHierarchy.clustering()
	}
	if s.Evasion != nil {
		if s.Evasion.Enabled != nil {
			sim.Evasion.Enabled = *s.Evasion.Enabled
		}
		sim.Evasion.Range = s.Evasion.Range
	}
	return sim
}

func (c clusteringJSON) clustering() Clustering {
	return Clustering(c)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func resolveConfigs(in []agentConfigJSON) (map[string]*model.AgentConfig, error) {
	configs := make(map[string]*model.AgentConfig, len(in))
	for _, c := range in {
		if c.Name == "" {
			return nil, fmt.Errorf("agent config with empty name: %w", ErrInvalid)
		}
		if _, dup := configs[c.Name]; dup {
			return nil, fmt.Errorf("agent config %q defined twice: %w", c.Name, ErrInvalid)
		}
		perf := c.Performance
		perf.ApplyDefaults()
		airframe, ok := model.ParseAirframe(c.Airframe)
		if !ok {
			return nil, fmt.Errorf("agent config %q: airframe %q: %w", c.Name, c.Airframe, ErrInvalid)
		}
		plan, err := flightPlan(c.FlightPlan)
		if err != nil {
			return nil, fmt.Errorf("agent config %q: %w", c.Name, err)
		}
		configs[c.Name] = &model.AgentConfig{
			Name:        c.Name,
			Kind:        model.ParseAgentKind(c.Kind),
			Performance: perf,
			Airframe:    airframe,
			FlightPlan:  plan,
		}
	}
	for _, c := range in {
		if c.SubAgents == nil || c.SubAgents.Count <= 0 {
			continue
		}
		sub, ok := configs[c.SubAgents.Config]
		if !ok {
			return nil, fmt.Errorf("agent config %q: sub-agent config %q not found: %w", c.Name, c.SubAgents.Config, ErrInvalid)
		}
		configs[c.Name].SubAgents = &model.SubAgentConfig{Count: c.SubAgents.Count, Config: sub}
	}
	for name, cfg := range configs {
		if carriesItself(cfg, cfg.SubAgents) {
			return nil, fmt.Errorf("agent config %q carries itself: %w", name, ErrInvalid)
		}
	}
	return configs, nil
}

func flightPlan(in []waypointJSON) (model.FlightPlan, error) {
	waypoints := make([]model.FlightPlanWaypoint, 0, len(in))
	for i, wp := range in {
		power, ok := model.ParsePowerSetting(wp.Power)
		if !ok {
			return model.FlightPlan{}, fmt.Errorf("flight plan waypoint %d: power %q: %w", i, wp.Power, ErrInvalid)
		}
		if wp.Distance < 0 {
			return model.FlightPlan{}, fmt.Errorf("flight plan waypoint %d: distance %v: %w", i, wp.Distance, ErrInvalid)
		}
		waypoints = append(waypoints, model.FlightPlanWaypoint{Distance: wp.Distance, Altitude: wp.Altitude, Power: power})
	}
	return model.NewFlightPlan(waypoints), nil
}

func carriesItself(root *model.AgentConfig, sub *model.SubAgentConfig) bool {
	for depth := 0; sub != nil && sub.Config != nil; depth++ {
		if sub.Config == root || depth > 64 {
			return true
		}
		sub = sub.Config.SubAgents
	}
	return false
}

func agentSpec(a agentJSON, configs map[string]*model.AgentConfig, seen map[string]bool, asset core.Vec3) (AgentSpec, error) {
	if a.ID == "" {
		return AgentSpec{}, fmt.Errorf("agent with empty id: %w", ErrInvalid)
	}
	if seen[a.ID] {
		return AgentSpec{}, fmt.Errorf("agent %q defined twice: %w", a.ID, ErrInvalid)
	}
	seen[a.ID] = true
	cfg, ok := configs[a.Config]
	if !ok {
		return AgentSpec{}, fmt.Errorf("agent %q: config %q not found: %w", a.ID, a.Config, ErrInvalid)
	}
	spec := AgentSpec{
		ID:       a.ID,
		Config:   cfg,
		State:    core.KinematicState{Position: a.Position.vec(), Velocity: a.Velocity.vec()},
		Waypoint: asset,
	}
	if a.Waypoint != nil {
		spec.Waypoint = a.Waypoint.vec()
	}
	return spec, nil
}
