package orchestrator

import (
	"os"
	"path/filepath"
	"testing"
)

func writeAgents(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agents.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSpecs(t *testing.T) {
	path := writeAgents(t, `{"agents": [
		{"id": "manager", "role": "manager", "command": "bin/manager", "port": "8000"},
		{"id": "ref-1", "role": "referee", "command": "bin/referee", "port": "8001", "depends_on": ["manager"]},
		{"id": "player-1", "role": "player", "command": "bin/player", "port": "8101",
		 "env": {"STRATEGY": "adaptive"}, "depends_on": ["manager"]}
	]}`)

	specs, err := LoadSpecs(path)
	if err != nil {
		t.Fatalf("LoadSpecs: %v", err)
	}
	if len(specs) != 3 {
		t.Fatalf("got %d specs", len(specs))
	}
	if specs[2].Env["STRATEGY"] != "adaptive" {
		t.Errorf("env not loaded: %+v", specs[2])
	}
	if specs[1].Endpoint() != "http://localhost:8001" {
		t.Errorf("endpoint = %s", specs[1].Endpoint())
	}
}

func TestLoadSpecsValidation(t *testing.T) {
	cases := map[string]string{
		"empty list": `{"agents": []}`,
		"missing port": `{"agents": [
			{"id": "manager", "role": "manager", "command": "bin/manager"}]}`,
		"missing command": `{"agents": [
			{"id": "manager", "role": "manager", "port": "8000"}]}`,
		"duplicate id": `{"agents": [
			{"id": "manager", "role": "manager", "command": "bin/manager", "port": "8000"},
			{"id": "manager", "role": "manager", "command": "bin/manager", "port": "8001"}]}`,
		"unknown dependency": `{"agents": [
			{"id": "ref-1", "role": "referee", "command": "bin/referee", "port": "8101",
			 "depends_on": ["manager"]}]}`,
		"bad json": `{"agents": [`,
	}
	for name, body := range cases {
		if _, err := LoadSpecs(writeAgents(t, body)); err == nil {
			t.Errorf("%s: want error", name)
		}
	}

	if _, err := LoadSpecs(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("missing file: want error")
	}
}

func TestStartOrderRespectsDependencies(t *testing.T) {
	specs := []AgentSpec{
		{ID: "player-1", Command: "p", Port: "8101", DependsOn: []string{"manager"}},
		{ID: "ref-1", Command: "r", Port: "8001", DependsOn: []string{"manager"}},
		{ID: "dashboard", Command: "d", Port: "9000", DependsOn: []string{"ref-1", "player-1"}},
		{ID: "manager", Command: "m", Port: "8000"},
	}
	ordered, err := StartOrder(specs)
	if err != nil {
		t.Fatalf("StartOrder: %v", err)
	}

	pos := make(map[string]int, len(ordered))
	for i, a := range ordered {
		pos[a.ID] = i
	}
	for _, a := range specs {
		for _, dep := range a.DependsOn {
			if pos[dep] > pos[a.ID] {
				t.Errorf("%s starts before its dependency %s", a.ID, dep)
			}
		}
	}
}

func TestStartTiersGroupsIndependentAgents(t *testing.T) {
	specs := []AgentSpec{
		{ID: "manager", Command: "m", Port: "8000"},
		{ID: "ref-1", Command: "r", Port: "8001", DependsOn: []string{"manager"}},
		{ID: "ref-2", Command: "r", Port: "8002", DependsOn: []string{"manager"}},
		{ID: "player-1", Command: "p", Port: "8101", DependsOn: []string{"manager"}},
		{ID: "player-2", Command: "p", Port: "8102", DependsOn: []string{"manager"}},
	}
	tiers, err := StartTiers(specs)
	if err != nil {
		t.Fatalf("StartTiers: %v", err)
	}
	if len(tiers) != 2 {
		t.Fatalf("got %d tiers, want 2", len(tiers))
	}
	if len(tiers[0]) != 1 || tiers[0][0].ID != "manager" {
		t.Errorf("tier 0 = %+v, want just the manager", tiers[0])
	}
	if len(tiers[1]) != 4 {
		t.Errorf("tier 1 holds %d agents, want the 4 independent ones", len(tiers[1]))
	}
}

func TestStartOrderDetectsCycle(t *testing.T) {
	specs := []AgentSpec{
		{ID: "a", Command: "a", Port: "1", DependsOn: []string{"b"}},
		{ID: "b", Command: "b", Port: "2", DependsOn: []string{"a"}},
	}
	if _, err := StartOrder(specs); err == nil {
		t.Error("cycle should error")
	}
}
