package tuning

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"granamodel/internal/sim/mathx"
	"granamodel/internal/sim/simerr"
	"granamodel/internal/sim/structure"
)

func TestLoad_RepoTuningYAML(t *testing.T) {
	tu, err := Load("../../../configs/tuning.yaml")
	if err != nil {
		t.Fatalf("load tuning.yaml: %v", err)
	}
	if tu.OriginVec() != mathx.V(200, 200) {
		t.Fatalf("origin=%v", tu.Origin)
	}
	if len(tu.Zones.Boundaries) != 5 || tu.Agent.TimeLimit != 50 {
		t.Fatalf("unexpected zones/agent: %+v %+v", tu.Zones, tu.Agent)
	}

	p, err := tu.Params("LHCII")
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if p.Mass != 250 || p.Diffusion != 20 || p.Threshold != 50 || p.Scalar != structure.Well {
		t.Fatalf("LHCII should override mass/diffusion and inherit the rest: %+v", p)
	}
	p, err = tu.Params("cytb6f")
	if err != nil || p.Scalar != structure.Linear {
		t.Fatalf("cytb6f params: %+v, %v", p, err)
	}
	p, err = tu.Params("C2S2M2")
	if err != nil || p.Mass != 1000 {
		t.Fatalf("unknown type should use defaults: %+v, %v", p, err)
	}
	if p.MaxRotation != mathx.Deg2Rad(15) {
		t.Fatalf("max rotation=%v", p.MaxRotation)
	}
}

func TestLoad_EmptyPathIsDefaults(t *testing.T) {
	tu, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := tu.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if tu.AgentConfig("r1").Policy != "uniform6" || tu.EngineConfig().Substeps != 2 {
		t.Fatalf("unexpected derived configs")
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"zero sweeps":    "agent: {max_sweeps: 0}\n",
		"bad boundaries": "zones: {boundaries: [50, 40]}\n",
		"bad policy":     "agent: {action_policy: annealing}\n",
		"bad scalar":     "structures: {C2: {distance_scalar: cubic}}\n",
		"negative mass":  "structures: {default: {mass: -1, tether_radius: 1}}\n",
		"bad spawn mode": "spawn: {mode: everything}\n",
		"malformed yaml": "agent: [\n",
	}
	dir := t.TempDir()
	for name, body := range cases {
		path := filepath.Join(dir, "tuning.yaml")
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := Load(path); !errors.Is(err, simerr.ErrConfiguration) {
			t.Fatalf("%s: expected configuration error, got %v", name, err)
		}
	}
}
