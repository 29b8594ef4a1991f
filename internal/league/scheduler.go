package league

import (
	"fmt"
	"sort"

	"github.com/parityleague/backend/internal/models"
)

// BuildSchedule computes the round-robin plan for the given players and
// assigns referees to every match.
//
// Pairs are enumerated in canonical (lexicographic) order and each pair is
// placed greedily into the earliest round in which neither player already
// appears. Referees are then walked cyclically across all matches in
// schedule order, skipping any referee already at its per-round
// concurrency cap.
func BuildSchedule(leagueID string, players []string, referees []models.AgentIdentity) (*models.Schedule, error) {
	if len(players) < 2 {
		return nil, fmt.Errorf("need at least 2 players, have %d", len(players))
	}
	if len(referees) == 0 {
		return nil, fmt.Errorf("need at least 1 referee")
	}

	sorted := make([]string, len(players))
	copy(sorted, players)
	sort.Strings(sorted)

	// rounds[i] holds the pairs placed in round i; busy[i] the players
	// already appearing there.
	var rounds [][][2]string
	var busy []map[string]bool

	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			p, q := sorted[i], sorted[j]
			placed := false
			for r := range rounds {
				if !busy[r][p] && !busy[r][q] {
					rounds[r] = append(rounds[r], [2]string{p, q})
					busy[r][p] = true
					busy[r][q] = true
					placed = true
					break
				}
			}
			if !placed {
				rounds = append(rounds, [][2]string{{p, q}})
				busy = append(busy, map[string]bool{p: true, q: true})
			}
		}
	}

	schedule := &models.Schedule{LeagueID: leagueID, Players: sorted}
	for r, pairs := range rounds {
		round := models.Round{RoundID: fmt.Sprintf("R%d", r+1)}
		for m, pair := range pairs {
			round.Matches = append(round.Matches, models.Match{
				MatchID: fmt.Sprintf("R%dM%d", r+1, m+1),
				PlayerA: pair[0],
				PlayerB: pair[1],
			})
		}
		schedule.Rounds = append(schedule.Rounds, round)
	}

	assignReferees(schedule, referees)
	return schedule, nil
}

// assignReferees iterates referees cyclically across all matches in
// schedule order. A referee already at max_concurrent_matches within the
// current round is skipped; if every referee is at its cap the cap is
// waived for that match rather than leaving it unassigned.
func assignReferees(schedule *models.Schedule, referees []models.AgentIdentity) {
	next := 0
	for r := range schedule.Rounds {
		load := make(map[string]int)
		for m := range schedule.Rounds[r].Matches {
			assigned := false
			for probe := 0; probe < len(referees); probe++ {
				ref := referees[(next+probe)%len(referees)]
				if ref.MaxConcurrentMatches > 0 && load[ref.ID] >= ref.MaxConcurrentMatches {
					continue
				}
				schedule.Rounds[r].Matches[m].RefereeID = ref.ID
				load[ref.ID]++
				next = (next + probe + 1) % len(referees)
				assigned = true
				break
			}
			if !assigned {
				ref := referees[next%len(referees)]
				schedule.Rounds[r].Matches[m].RefereeID = ref.ID
				load[ref.ID]++
				next = (next + 1) % len(referees)
			}
		}
	}
}

// FindMatch locates a match by id.
func FindMatch(s *models.Schedule, matchID string) (models.Match, string, bool) {
	for _, round := range s.Rounds {
		for _, m := range round.Matches {
			if m.MatchID == matchID {
				return m, round.RoundID, true
			}
		}
	}
	return models.Match{}, "", false
}
