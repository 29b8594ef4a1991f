package league

import (
	"sort"
	"sync"

	"github.com/parityleague/backend/internal/config"
	"github.com/parityleague/backend/internal/models"
)

// Table is the standings engine. Mutations happen only through Apply under
// the manager's tournament lock; Snapshot rebuilds and atomically replaces
// the ranked view so readers never see a partial update.
type Table struct {
	mu      sync.RWMutex
	scoring config.ScoringConfig
	rows    map[string]*models.Standing
	// view is the last fully-built ranked snapshot.
	view []models.Standing
	// results feeds the head-to-head tie-break.
	results []models.MatchRecord
}

// NewTable creates a table with zeroed rows for every player.
func NewTable(players []string, scoring config.ScoringConfig) *Table {
	t := &Table{scoring: scoring, rows: make(map[string]*models.Standing)}
	for _, p := range players {
		t.rows[p] = &models.Standing{PlayerID: p}
	}
	t.rebuild()
	return t
}

// AddPlayer initializes a zero row (used at registration time).
func (t *Table) AddPlayer(playerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rows[playerID]; !ok {
		t.rows[playerID] = &models.Standing{PlayerID: playerID}
		t.rebuild()
	}
}

// Apply folds one match record into the table. Both players' played counts
// always advance; points move only when there is a winner.
func (t *Table) Apply(rec models.MatchRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, pid := range rec.Players {
		if _, ok := t.rows[pid]; !ok {
			t.rows[pid] = &models.Standing{PlayerID: pid}
		}
		t.rows[pid].Played++
	}
	if rec.WinnerID != nil {
		winner := t.rows[*rec.WinnerID]
		winner.Wins++
		winner.Points += t.scoring.Win
		loser := t.rows[rec.Loser()]
		loser.Losses++
		loser.Points += t.scoring.Loss
	}
	// Draws cannot occur in even/odd; the branch stays for future game
	// types with the configured draw points.

	t.results = append(t.results, rec)
	t.rebuild()
}

// rebuild recomputes the ranked view. Callers hold the write lock.
func (t *Table) rebuild() {
	view := make([]models.Standing, 0, len(t.rows))
	for _, row := range t.rows {
		view = append(view, *row)
	}

	sort.Slice(view, func(i, j int) bool {
		if view[i].Points != view[j].Points {
			return view[i].Points > view[j].Points
		}
		return view[i].PlayerID < view[j].PlayerID
	})

	// Head-to-head applies only when exactly two players are tied.
	for i := 0; i+1 < len(view); i++ {
		if view[i].Points != view[i+1].Points {
			continue
		}
		tiedStart := i
		tiedEnd := i + 1
		for tiedEnd+1 < len(view) && view[tiedEnd+1].Points == view[i].Points {
			tiedEnd++
		}
		if tiedEnd-tiedStart == 1 {
			a, b := view[tiedStart], view[tiedEnd]
			ha, hb := t.headToHead(a.PlayerID, b.PlayerID)
			if hb > ha {
				view[tiedStart], view[tiedEnd] = b, a
			}
		}
		i = tiedEnd
	}

	for i := range view {
		view[i].Rank = i + 1
	}
	t.view = view
}

// headToHead returns the points each of a and b earned in matches between
// only the two of them.
func (t *Table) headToHead(a, b string) (pa, pb int) {
	for _, rec := range t.results {
		players := map[string]bool{rec.Players[0]: true, rec.Players[1]: true}
		if !players[a] || !players[b] {
			continue
		}
		if rec.WinnerID == nil {
			continue
		}
		if *rec.WinnerID == a {
			pa += t.scoring.Win
		} else if *rec.WinnerID == b {
			pb += t.scoring.Win
		}
	}
	return pa, pb
}

// Snapshot returns the current ranked view as a copy.
func (t *Table) Snapshot() []models.Standing {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.Standing, len(t.view))
	copy(out, t.view)
	return out
}

// Leader returns the top-ranked player id, or "" for an empty table.
func (t *Table) Leader() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.view) == 0 {
		return ""
	}
	return t.view[0].PlayerID
}
