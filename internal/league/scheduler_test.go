package league

import (
	"fmt"
	"testing"

	"github.com/parityleague/backend/internal/models"
)

func referees(n, maxConcurrent int) []models.AgentIdentity {
	out := make([]models.AgentIdentity, n)
	for i := range out {
		out[i] = models.AgentIdentity{
			Role:                 models.RoleReferee,
			ID:                   fmt.Sprintf("REF%02d", i+1),
			MaxConcurrentMatches: maxConcurrent,
		}
	}
	return out
}

func TestBuildScheduleFourPlayers(t *testing.T) {
	players := []string{"P01", "P02", "P03", "P04"}
	s, err := BuildSchedule("league-001", players, referees(2, 4))
	if err != nil {
		t.Fatalf("BuildSchedule: %v", err)
	}

	if len(s.Rounds) != 3 {
		t.Errorf("expected 3 rounds for 4 players, got %d", len(s.Rounds))
	}
	total := 0
	for _, r := range s.Rounds {
		total += len(r.Matches)
	}
	if total != 6 {
		t.Errorf("expected 6 matches for 4 players, got %d", total)
	}
}

func TestBuildScheduleEveryPairExactlyOnce(t *testing.T) {
	players := []string{"P03", "P01", "P05", "P02", "P04"} // unsorted on purpose
	s, err := BuildSchedule("league-001", players, referees(3, 4))
	if err != nil {
		t.Fatalf("BuildSchedule: %v", err)
	}

	pairs := make(map[string]int)
	for _, r := range s.Rounds {
		for _, m := range r.Matches {
			a, b := m.PlayerA, m.PlayerB
			if a > b {
				a, b = b, a
			}
			pairs[a+"/"+b]++
		}
	}

	want := len(players) * (len(players) - 1) / 2
	if len(pairs) != want {
		t.Errorf("expected %d distinct pairs, got %d", want, len(pairs))
	}
	for pair, n := range pairs {
		if n != 1 {
			t.Errorf("pair %s scheduled %d times", pair, n)
		}
	}
}

func TestBuildScheduleNoPlayerTwicePerRound(t *testing.T) {
	players := []string{"P01", "P02", "P03", "P04", "P05", "P06", "P07"}
	s, err := BuildSchedule("league-001", players, referees(2, 4))
	if err != nil {
		t.Fatalf("BuildSchedule: %v", err)
	}

	for _, r := range s.Rounds {
		seen := make(map[string]bool)
		for _, m := range r.Matches {
			if seen[m.PlayerA] {
				t.Errorf("round %s: %s appears twice", r.RoundID, m.PlayerA)
			}
			if seen[m.PlayerB] {
				t.Errorf("round %s: %s appears twice", r.RoundID, m.PlayerB)
			}
			seen[m.PlayerA] = true
			seen[m.PlayerB] = true
		}
	}
}

func TestBuildScheduleDeterministic(t *testing.T) {
	a, err := BuildSchedule("league-001", []string{"P02", "P04", "P01", "P03"}, referees(2, 4))
	if err != nil {
		t.Fatalf("BuildSchedule: %v", err)
	}
	b, err := BuildSchedule("league-001", []string{"P04", "P03", "P02", "P01"}, referees(2, 4))
	if err != nil {
		t.Fatalf("BuildSchedule: %v", err)
	}

	for r := range a.Rounds {
		for m := range a.Rounds[r].Matches {
			am, bm := a.Rounds[r].Matches[m], b.Rounds[r].Matches[m]
			if am.PlayerA != bm.PlayerA || am.PlayerB != bm.PlayerB {
				t.Errorf("round %d match %d differs across input orderings: %+v vs %+v", r, m, am, bm)
			}
		}
	}
}

func TestAssignRefereesRespectsCap(t *testing.T) {
	players := []string{"P01", "P02", "P03", "P04", "P05", "P06", "P07", "P08"}
	refs := referees(2, 1) // 2 referees, 1 match each per round; 8 players means 4 matches per round
	s, err := BuildSchedule("league-001", players, refs)
	if err != nil {
		t.Fatalf("BuildSchedule: %v", err)
	}

	for _, r := range s.Rounds {
		load := make(map[string]int)
		for _, m := range r.Matches {
			if m.RefereeID == "" {
				t.Fatalf("round %s match %s unassigned", r.RoundID, m.MatchID)
			}
			load[m.RefereeID]++
		}
		// With every referee at cap the remaining matches still get a
		// referee; the cap is waived, never left empty.
		total := 0
		for _, n := range load {
			total += n
		}
		if total != len(r.Matches) {
			t.Errorf("round %s: %d assignments for %d matches", r.RoundID, total, len(r.Matches))
		}
	}
}

func TestAssignRefereesBalanced(t *testing.T) {
	players := []string{"P01", "P02", "P03", "P04", "P05", "P06"}
	s, err := BuildSchedule("league-001", players, referees(3, 4))
	if err != nil {
		t.Fatalf("BuildSchedule: %v", err)
	}

	load := make(map[string]int)
	for _, r := range s.Rounds {
		for _, m := range r.Matches {
			load[m.RefereeID]++
		}
	}
	min, max := 1<<30, 0
	for _, n := range load {
		if n < min {
			min = n
		}
		if n > max {
			max = n
		}
	}
	if max-min > 1 {
		t.Errorf("cyclic assignment should balance load within 1, got spread %d (%v)", max-min, load)
	}
}

func TestBuildScheduleTooFewPlayers(t *testing.T) {
	if _, err := BuildSchedule("league-001", []string{"P01"}, referees(1, 4)); err == nil {
		t.Error("expected error for a single player")
	}
	if _, err := BuildSchedule("league-001", []string{"P01", "P02"}, nil); err == nil {
		t.Error("expected error with no referees")
	}
}

func TestFindMatch(t *testing.T) {
	s, err := BuildSchedule("league-001", []string{"P01", "P02", "P03", "P04"}, referees(2, 4))
	if err != nil {
		t.Fatalf("BuildSchedule: %v", err)
	}

	m, roundID, ok := FindMatch(s, "R1M1")
	if !ok {
		t.Fatal("R1M1 not found")
	}
	if roundID != "R1" {
		t.Errorf("R1M1 reported in round %s", roundID)
	}
	if m.PlayerA == "" || m.PlayerB == "" {
		t.Errorf("match players not populated: %+v", m)
	}

	if _, _, ok := FindMatch(s, "R9M9"); ok {
		t.Error("unknown match id should not be found")
	}
}
