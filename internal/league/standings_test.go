package league

import (
	"testing"

	"github.com/parityleague/backend/internal/config"
	"github.com/parityleague/backend/internal/models"
)

var testScoring = config.ScoringConfig{Win: 3, Draw: 1, Loss: 0}

func completed(matchID, a, b, winner string) models.MatchRecord {
	rec := models.MatchRecord{
		MatchID: matchID,
		Players: [2]string{a, b},
		Status:  models.MatchCompleted,
	}
	if winner != "" {
		rec.WinnerID = &winner
	}
	return rec
}

func TestTablePointsLaw(t *testing.T) {
	table := NewTable([]string{"P01", "P02", "P03"}, testScoring)
	table.Apply(completed("R1M1", "P01", "P02", "P01"))
	table.Apply(completed("R2M1", "P01", "P03", "P03"))
	table.Apply(completed("R3M1", "P02", "P03", "P02"))

	for _, row := range table.Snapshot() {
		want := 3*row.Wins + 1*row.Draws
		if row.Points != want {
			t.Errorf("%s: points=%d, want %d (wins=%d draws=%d)",
				row.PlayerID, row.Points, want, row.Wins, row.Draws)
		}
		if row.Played != 2 {
			t.Errorf("%s: played=%d, want 2", row.PlayerID, row.Played)
		}
	}
}

func TestTableAbortedNoWinnerAdvancesPlayedOnly(t *testing.T) {
	table := NewTable([]string{"P01", "P02"}, testScoring)
	rec := models.MatchRecord{
		MatchID: "R1M1",
		Players: [2]string{"P01", "P02"},
		Status:  models.MatchAborted,
		Reason:  "both players timed out",
	}
	table.Apply(rec)

	for _, row := range table.Snapshot() {
		if row.Played != 1 {
			t.Errorf("%s: played=%d, want 1", row.PlayerID, row.Played)
		}
		if row.Points != 0 || row.Wins != 0 || row.Losses != 0 {
			t.Errorf("%s: no-winner abort must not move points: %+v", row.PlayerID, row)
		}
	}
}

func TestTableTechnicalWinScoresNormally(t *testing.T) {
	table := NewTable([]string{"P01", "P02"}, testScoring)
	winner := "P02"
	table.Apply(models.MatchRecord{
		MatchID:  "R1M1",
		Players:  [2]string{"P01", "P02"},
		Status:   models.MatchAborted,
		WinnerID: &winner,
		Reason:   "technical loss for P01: no valid choice",
	})

	snap := table.Snapshot()
	if snap[0].PlayerID != "P02" || snap[0].Points != 3 {
		t.Errorf("technical winner should lead with 3 points, got %+v", snap[0])
	}
}

func TestTableHeadToHeadBreaksTwoWayTie(t *testing.T) {
	table := NewTable([]string{"P01", "P02", "P03", "P04"}, testScoring)
	// P01 and P02 finish level on points; P02 won their meeting.
	table.Apply(completed("R1M1", "P01", "P02", "P02"))
	table.Apply(completed("R2M1", "P01", "P03", "P01"))
	table.Apply(completed("R2M2", "P02", "P04", "P02"))
	table.Apply(completed("R3M1", "P01", "P04", "P01"))
	table.Apply(completed("R3M2", "P02", "P03", "P03"))

	snap := table.Snapshot()
	if snap[0].PlayerID != "P02" {
		t.Errorf("head-to-head should rank P02 first, got %s", snap[0].PlayerID)
	}
	if snap[1].PlayerID != "P01" {
		t.Errorf("head-to-head should rank P01 second, got %s", snap[1].PlayerID)
	}
	if snap[0].Points != snap[1].Points {
		t.Fatalf("test setup broken: expected a points tie, got %d vs %d",
			snap[0].Points, snap[1].Points)
	}
}

func TestTableThreeWayTieFallsBackToID(t *testing.T) {
	table := NewTable([]string{"P01", "P02", "P03"}, testScoring)
	// A cycle: everyone beats someone, all on 3 points.
	table.Apply(completed("R1M1", "P01", "P02", "P01"))
	table.Apply(completed("R2M1", "P02", "P03", "P02"))
	table.Apply(completed("R3M1", "P01", "P03", "P03"))

	snap := table.Snapshot()
	for i, want := range []string{"P01", "P02", "P03"} {
		if snap[i].PlayerID != want {
			t.Errorf("rank %d: got %s, want %s (three-way ties order by id)",
				i+1, snap[i].PlayerID, want)
		}
	}
}

func TestTableRanksAreSequential(t *testing.T) {
	table := NewTable([]string{"P01", "P02", "P03", "P04"}, testScoring)
	table.Apply(completed("R1M1", "P01", "P02", "P01"))

	for i, row := range table.Snapshot() {
		if row.Rank != i+1 {
			t.Errorf("row %d has rank %d", i, row.Rank)
		}
	}
}

func TestTableLeader(t *testing.T) {
	table := NewTable(nil, testScoring)
	if table.Leader() != "" {
		t.Error("empty table should have no leader")
	}
	table.AddPlayer("P01")
	table.AddPlayer("P02")
	table.Apply(completed("R1M1", "P01", "P02", "P02"))
	if table.Leader() != "P02" {
		t.Errorf("leader=%s, want P02", table.Leader())
	}
}
