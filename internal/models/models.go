package models

import (
	"time"
)

// Role identifies what kind of agent a process is.
type Role string

const (
	RoleManager Role = "manager"
	RoleReferee Role = "referee"
	RolePlayer  Role = "player"
)

// Parity is a player's choice in the even/odd game.
type Parity string

const (
	ParityEven Parity = "even"
	ParityOdd  Parity = "odd"
)

// Valid reports whether p is one of the two legal choices.
func (p Parity) Valid() bool {
	return p == ParityEven || p == ParityOdd
}

// Opposite returns the other parity.
func (p Parity) Opposite() Parity {
	if p == ParityEven {
		return ParityOdd
	}
	return ParityEven
}

// AgentIdentity is assigned by the manager on registration and never changes.
type AgentIdentity struct {
	Role                 Role     `json:"role"`
	ID                   string   `json:"id"` // e.g. "REF01", "P03"
	DisplayName          string   `json:"display_name"`
	Endpoint             string   `json:"endpoint"`
	Version              string   `json:"version"`
	GameTypes            []string `json:"game_types"`
	MaxConcurrentMatches int      `json:"max_concurrent_matches,omitempty"`
}

// Match is a single pairing within a round.
type Match struct {
	MatchID   string `json:"match_id"` // R<r>M<m>
	PlayerA   string `json:"player_a"`
	PlayerB   string `json:"player_b"`
	RefereeID string `json:"referee_id"`
}

// Round is an unordered set of matches; no player appears twice.
type Round struct {
	RoundID string  `json:"round_id"` // R1, R2, ...
	Matches []Match `json:"matches"`
}

// Schedule is the full round-robin plan for a league.
type Schedule struct {
	LeagueID string   `json:"league_id"`
	Players  []string `json:"players"`
	Rounds   []Round  `json:"rounds"`
}

// Standing is one player's row in the league table.
type Standing struct {
	PlayerID string `json:"player_id"`
	Played   int    `json:"played"`
	Wins     int    `json:"wins"`
	Losses   int    `json:"losses"`
	Draws    int    `json:"draws"`
	Points   int    `json:"points"`
	Rank     int    `json:"rank,omitempty"`
}

// MatchStatus is the terminal status of a recorded match.
type MatchStatus string

const (
	MatchCompleted MatchStatus = "COMPLETED"
	MatchAborted   MatchStatus = "ABORTED"
)

// MatchRecord is the immutable result of a finished match. The referee
// builds it, the manager stores it, players keep summaries of it.
type MatchRecord struct {
	MatchID      string            `json:"match_id"`
	RoundID      string            `json:"round_id,omitempty"`
	Players      [2]string         `json:"players"`
	Choices      map[string]Parity `json:"choices"`
	DrawnNumber  *int              `json:"drawn_number"` // nil when no number was drawn
	NumberParity Parity            `json:"number_parity,omitempty"`
	WinnerID     *string           `json:"winner_player_id"` // nil on double abort
	Reason       string            `json:"reason"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
	Status       MatchStatus       `json:"status"`
}

// Loser returns the non-winning player, or "" when there is no winner.
func (r *MatchRecord) Loser() string {
	if r.WinnerID == nil {
		return ""
	}
	if *r.WinnerID == r.Players[0] {
		return r.Players[1]
	}
	return r.Players[0]
}

// OpponentProfile accumulates what a player has observed about one opponent.
type OpponentProfile struct {
	OpponentID string `json:"opponent_id"`
	EvenCount  int    `json:"even_count"`
	OddCount   int    `json:"odd_count"`
	// Choices in observation order, oldest first. Feeds the streak and
	// Markov analyses.
	History []Parity `json:"history"`
}

// Observations is the total number of recorded opponent choices.
func (p *OpponentProfile) Observations() int {
	return p.EvenCount + p.OddCount
}

// HealthStatus is the orchestrator's view of one agent.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "UNKNOWN"
	HealthStarting  HealthStatus = "STARTING"
	HealthHealthy   HealthStatus = "HEALTHY"
	HealthUnhealthy HealthStatus = "UNHEALTHY"
	HealthCrashed   HealthStatus = "CRASHED"
)

// AgentHealth is owned exclusively by the orchestrator.
type AgentHealth struct {
	AgentID             string       `json:"agent_id"`
	Status              HealthStatus `json:"status"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastProbeAt         time.Time    `json:"last_probe_at"`
}
