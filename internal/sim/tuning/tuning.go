package tuning

import (
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"granamodel/internal/sim/agent"
	"granamodel/internal/sim/mathx"
	"granamodel/internal/sim/physics"
	"granamodel/internal/sim/simerr"
	"granamodel/internal/sim/structure"
	"granamodel/internal/sim/zones"
)

// DefaultType is the structures key whose values apply to every type that
// has no entry of its own.
const DefaultType = "default"

type Tuning struct {
	Origin     [2]float64               `yaml:"origin"`
	Zones      Zones                    `yaml:"zones"`
	Agent      Agent                    `yaml:"agent"`
	Engine     Engine                   `yaml:"engine"`
	Spawn      Spawn                    `yaml:"spawn"`
	Structures map[string]StructureSpec `yaml:"structures"`
	Force      Force                    `yaml:"force"`
}

type Zones struct {
	Kind       string    `yaml:"kind"`
	Boundaries []float64 `yaml:"boundaries"`
}

type Agent struct {
	TimeLimit      int     `yaml:"time_limit"`
	MaxSweeps      int     `yaml:"max_sweeps"`
	TargetOverlap  float64 `yaml:"target_overlap"`
	StepHint       float64 `yaml:"step_hint"`
	MaxRotationDeg float64 `yaml:"max_rotation_deg"`
	ActionPolicy   string  `yaml:"action_policy"`
	StepDT         float64 `yaml:"step_dt"`
	PrimeDT        float64 `yaml:"prime_dt"`
	// Metric is "contact" (penetration depth) or "area" (exact intersection).
	Metric string `yaml:"metric"`
}

type Engine struct {
	Substeps           int     `yaml:"substeps"`
	VelocityIterations int     `yaml:"velocity_iterations"`
	PositionIterations int     `yaml:"position_iterations"`
	MaxVelocity        float64 `yaml:"max_velocity"`
	LinearDamping      float64 `yaml:"linear_damping"`
	AngularDamping     float64 `yaml:"angular_damping"`
	Resolve            bool    `yaml:"resolve"`
}

type Spawn struct {
	Mode        string     `yaml:"mode"`       // psii_only | full
	ShapeType   string     `yaml:"shape_type"` // simple | compound
	LHCIIRatio  float64    `yaml:"lhcii_ratio"`
	Cytb6fCount int        `yaml:"cytb6f_count"`
	Radius      float64    `yaml:"spawn_radius"`
	Center      [2]float64 `yaml:"spawn_center"`
}

// StructureSpec holds per-type mechanics. Zero fields inherit from the
// "default" entry.
type StructureSpec struct {
	DistanceScalar     string  `yaml:"distance_scalar"`
	DiffusionScalar    float64 `yaml:"diffusion_scalar"`
	DistanceThreshold  float64 `yaml:"distance_threshold"`
	Mass               float64 `yaml:"mass"`
	RotationScalar     float64 `yaml:"rotation_scalar"`
	TetherRadius       float64 `yaml:"tether_radius"`
	AttractionConstant float64 `yaml:"attraction_constant"`
}

type Force struct {
	Steps      int     `yaml:"steps"`
	DT         float64 `yaml:"dt"`
	Attraction bool    `yaml:"attraction"`
}

const (
	MetricContact = "contact"
	MetricArea    = "area"

	SpawnPSIIOnly = "psii_only"
	SpawnFull     = "full"

	ShapeSimple   = "simple"
	ShapeCompound = "compound"
)

// Load reads a tuning file over the defaults. An empty path yields defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		t.Normalize()
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("%w: %v", simerr.ErrConfiguration, err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("%w: tuning.yaml: %v", simerr.ErrConfiguration, err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func Defaults() Tuning {
	return Tuning{
		Origin: [2]float64{200, 200},
		Zones: Zones{
			Kind:       string(zones.KindBands),
			Boundaries: append([]float64(nil), zones.DefaultBoundaries...),
		},
		Agent: Agent{
			TimeLimit:      50,
			MaxSweeps:      10,
			TargetOverlap:  1,
			StepHint:       0.26,
			MaxRotationDeg: 15,
			ActionPolicy:   string(agent.Uniform6),
			StepDT:         0.1,
			PrimeDT:        0.01,
			Metric:         MetricContact,
		},
		Engine: Engine{
			Substeps:           2,
			VelocityIterations: 8,
			PositionIterations: 3,
			MaxVelocity:        1,
		},
		Spawn: Spawn{
			Mode:        SpawnPSIIOnly,
			ShapeType:   ShapeSimple,
			LHCIIRatio:  2.0,
			Cytb6fCount: 70,
			Radius:      200,
			Center:      [2]float64{200, 200},
		},
		Structures: map[string]StructureSpec{
			DefaultType: {
				DistanceScalar:     "well",
				DiffusionScalar:    10,
				DistanceThreshold:  50,
				Mass:               1000,
				RotationScalar:     0.1,
				TetherRadius:       1,
				AttractionConstant: 1,
			},
		},
		Force: Force{Steps: 0, DT: 0.1, Attraction: true},
	}
}

// Normalize lower-cases enum strings and fills zero values that have an
// obvious default.
func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	t.Zones.Kind = strings.ToLower(strings.TrimSpace(t.Zones.Kind))
	if t.Zones.Kind == "" {
		t.Zones.Kind = string(zones.KindBands)
	}
	if len(t.Zones.Boundaries) == 0 {
		t.Zones.Boundaries = append([]float64(nil), zones.DefaultBoundaries...)
	}
	t.Agent.ActionPolicy = strings.ToLower(strings.TrimSpace(t.Agent.ActionPolicy))
	if t.Agent.ActionPolicy == "" {
		t.Agent.ActionPolicy = string(agent.Uniform6)
	}
	t.Agent.Metric = strings.ToLower(strings.TrimSpace(t.Agent.Metric))
	if t.Agent.Metric == "" {
		t.Agent.Metric = MetricContact
	}
	if t.Agent.StepDT <= 0 {
		t.Agent.StepDT = 0.1
	}
	if t.Agent.PrimeDT <= 0 {
		t.Agent.PrimeDT = 0.01
	}
	if t.Engine.Substeps <= 0 {
		t.Engine.Substeps = 2
	}
	t.Spawn.Mode = strings.ToLower(strings.TrimSpace(t.Spawn.Mode))
	if t.Spawn.Mode == "" {
		t.Spawn.Mode = SpawnPSIIOnly
	}
	t.Spawn.ShapeType = strings.ToLower(strings.TrimSpace(t.Spawn.ShapeType))
	if t.Spawn.ShapeType == "" {
		t.Spawn.ShapeType = ShapeSimple
	}
	if t.Force.DT <= 0 {
		t.Force.DT = 0.1
	}
	if t.Structures == nil {
		t.Structures = map[string]StructureSpec{}
	}
	if _, ok := t.Structures[DefaultType]; !ok {
		t.Structures[DefaultType] = Defaults().Structures[DefaultType]
	}
}

func (t Tuning) Validate() error {
	t.Normalize()
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{simerr.ErrConfiguration}, args...)...)
	}
	if !mathx.V(t.Origin[0], t.Origin[1]).IsFinite() {
		return bad("origin must be finite")
	}
	if _, err := zones.ParseKind(t.Zones.Kind); err != nil {
		return err
	}
	if _, err := zones.New(zones.Kind(t.Zones.Kind), nil, mathx.Vec2{}, t.Zones.Boundaries); err != nil {
		return err
	}
	if t.Agent.TimeLimit < 0 {
		return bad("agent.time_limit must be >= 0")
	}
	if t.Agent.MaxSweeps <= 0 {
		return bad("agent.max_sweeps must be > 0")
	}
	if t.Agent.StepHint < 0 {
		return bad("agent.step_hint must be >= 0")
	}
	if t.Agent.MaxRotationDeg < 0 || t.Agent.MaxRotationDeg > 180 {
		return bad("agent.max_rotation_deg must be in [0, 180]")
	}
	if _, err := agent.ParsePolicy(t.Agent.ActionPolicy); err != nil {
		return err
	}
	if t.Agent.Metric != MetricContact && t.Agent.Metric != MetricArea {
		return bad("agent.metric must be %q or %q", MetricContact, MetricArea)
	}
	if t.Engine.MaxVelocity < 0 || t.Engine.LinearDamping < 0 || t.Engine.AngularDamping < 0 {
		return bad("engine limits must be >= 0")
	}
	if t.Spawn.Mode != SpawnPSIIOnly && t.Spawn.Mode != SpawnFull {
		return bad("spawn.mode must be %q or %q", SpawnPSIIOnly, SpawnFull)
	}
	if t.Spawn.ShapeType != ShapeSimple && t.Spawn.ShapeType != ShapeCompound {
		return bad("spawn.shape_type must be %q or %q", ShapeSimple, ShapeCompound)
	}
	if t.Spawn.LHCIIRatio < 0 || t.Spawn.Cytb6fCount < 0 || t.Spawn.Radius < 0 {
		return bad("spawn counts and radius must be >= 0")
	}
	if t.Force.Steps < 0 {
		return bad("force.steps must be >= 0")
	}
	for name := range t.Structures {
		if _, err := t.Params(name); err != nil {
			return err
		}
	}
	return nil
}

// Params resolves the mechanics for one structure type.
func (t Tuning) Params(typ string) (structure.Params, error) {
	spec := t.Structures[DefaultType]
	if s, ok := t.Structures[typ]; ok && typ != DefaultType {
		spec = merge(spec, s)
	}
	scalar, err := structure.ParseScalar(spec.DistanceScalar)
	if err != nil {
		return structure.Params{}, fmt.Errorf("structures.%s: %w", typ, err)
	}
	p := structure.Params{
		Mass:               spec.Mass,
		Diffusion:          spec.DiffusionScalar,
		RotationScalar:     spec.RotationScalar,
		Threshold:          spec.DistanceThreshold,
		Scalar:             scalar,
		TetherRadius:       spec.TetherRadius,
		AttractionConstant: spec.AttractionConstant,
		MaxRotation:        mathx.Deg2Rad(t.Agent.MaxRotationDeg),
	}
	if !(p.Mass > 0) || !(p.TetherRadius > 0) || p.Diffusion < 0 || p.RotationScalar < 0 || p.Threshold < 0 || math.IsNaN(p.AttractionConstant) {
		return structure.Params{}, fmt.Errorf("%w: structures.%s: invalid mechanics %+v", simerr.ErrConfiguration, typ, spec)
	}
	return p, nil
}

func merge(base, over StructureSpec) StructureSpec {
	if over.DistanceScalar != "" {
		base.DistanceScalar = over.DistanceScalar
	}
	if over.DiffusionScalar != 0 {
		base.DiffusionScalar = over.DiffusionScalar
	}
	if over.DistanceThreshold != 0 {
		base.DistanceThreshold = over.DistanceThreshold
	}
	if over.Mass != 0 {
		base.Mass = over.Mass
	}
	if over.RotationScalar != 0 {
		base.RotationScalar = over.RotationScalar
	}
	if over.TetherRadius != 0 {
		base.TetherRadius = over.TetherRadius
	}
	if over.AttractionConstant != 0 {
		base.AttractionConstant = over.AttractionConstant
	}
	return base
}

func (t Tuning) OriginVec() mathx.Vec2 { return mathx.V(t.Origin[0], t.Origin[1]) }

func (t Tuning) AgentConfig(runID string) agent.Config {
	return agent.Config{
		RunID:     runID,
		TimeLimit: t.Agent.TimeLimit,
		StepDT:    t.Agent.StepDT,
		PrimeDT:   t.Agent.PrimeDT,
		StepHint:  t.Agent.StepHint,
		Policy:    agent.Policy(t.Agent.ActionPolicy),
	}
}

func (t Tuning) EngineConfig() physics.Config {
	return physics.Config{
		Substeps:           t.Engine.Substeps,
		VelocityIterations: t.Engine.VelocityIterations,
		PositionIterations: t.Engine.PositionIterations,
		MaxVelocity:        t.Engine.MaxVelocity,
		LinearDamping:      t.Engine.LinearDamping,
		AngularDamping:     t.Engine.AngularDamping,
		Resolve:            t.Engine.Resolve,
	}
}
