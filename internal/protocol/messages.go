package protocol

import (
	"github.com/parityleague/backend/internal/models"
)

// JSON-RPC method names.
const (
	MethodRegisterReferee      = "register_referee"
	MethodRegisterPlayer       = "register_player"
	MethodStartLeague          = "start_league"
	MethodReportMatchResult    = "report_match_result"
	MethodLeagueQuery          = "league_query"
	MethodAssignMatch          = "assign_match"
	MethodHandleGameInvitation = "handle_game_invitation"
	MethodChooseParity         = "choose_parity"
	MethodNotifyMatchResult    = "notify_match_result"
	MethodRoundAnnouncement    = "round_announcement"
	MethodStandingsUpdate      = "league_standings_update"
	MethodRoundCompleted       = "round_completed"
	MethodLeagueCompleted      = "league_completed"
	MethodRedispatchMatches    = "redispatch_matches"
)

// Registration statuses.
const (
	StatusRegistered = "REGISTERED"
	StatusRejected   = "REJECTED"
)

// RegisterRequest registers a referee or player with the manager. The only
// unauthenticated calls in the system.
type RegisterRequest struct {
	MessageEnvelope
	DisplayName          string   `json:"display_name"`
	Endpoint             string   `json:"endpoint"`
	Version              string   `json:"version"`
	GameTypes            []string `json:"game_types"`
	MaxConcurrentMatches int      `json:"max_concurrent_matches,omitempty"`
}

// RegisterResponse carries the minted identity and token.
type RegisterResponse struct {
	Status     string `json:"status"`
	AssignedID string `json:"assigned_id,omitempty"`
	AuthToken  string `json:"auth_token,omitempty"`
	LeagueID   string `json:"league_id"`
	Reason     string `json:"reason,omitempty"`
}

// StartLeagueRequest kicks off scheduling and round one.
type StartLeagueRequest struct {
	MessageEnvelope
}

// StartLeagueResponse reports the computed schedule size.
type StartLeagueResponse struct {
	Status       string `json:"status"`
	TotalRounds  int    `json:"total_rounds"`
	TotalMatches int    `json:"total_matches"`
}

// AssignMatchRequest hands one match to a referee. Endpoints carries the
// two players' RPC endpoints keyed by player id.
type AssignMatchRequest struct {
	MessageEnvelope
	Match     models.Match      `json:"match"`
	Endpoints map[string]string `json:"endpoints"`
}

// AssignMatchResponse is the referee's immediate acknowledgement; the match
// itself runs asynchronously.
type AssignMatchResponse struct {
	Status string `json:"status"`
}

// RoundAnnouncementMsg is broadcast to every player before a round starts.
type RoundAnnouncementMsg struct {
	MessageEnvelope
	RoundNumber int            `json:"round_number"`
	TotalRounds int            `json:"total_rounds"`
	Matches     []models.Match `json:"matches"`
}

// GameInvitationMsg is phase 1 of a match.
type GameInvitationMsg struct {
	MessageEnvelope
	OpponentID string `json:"opponent_id"`
	RefereeID  string `json:"referee_id"`
}

// GameJoinAck is the player's invitation response.
type GameJoinAck struct {
	Accept           bool   `json:"accept"`
	ArrivalTimestamp string `json:"arrival_timestamp"`
}

// ChooseParityCallMsg is phase 2 of a match. Deadline is the absolute wire
// timestamp by which the response must arrive.
type ChooseParityCallMsg struct {
	MessageEnvelope
	OpponentID string `json:"opponent_id"`
	Deadline   string `json:"deadline"`
}

// ChooseParityResult echoes match and conversation ids so the referee can
// discard responses that do not belong to the call it made.
type ChooseParityResult struct {
	Choice         models.Parity `json:"choice"`
	MatchID        string        `json:"match_id"`
	ConversationID string        `json:"conversation_id"`
}

// GameOverMsg is the phase-5 notification to both players.
type GameOverMsg struct {
	MessageEnvelope
	Record models.MatchRecord `json:"record"`
}

// NotifyAck acknowledges a best-effort notification.
type NotifyAck struct {
	Acknowledged bool `json:"acknowledged"`
}

// MatchResultReportMsg is the referee's authoritative completion signal.
type MatchResultReportMsg struct {
	MessageEnvelope
	Record models.MatchRecord `json:"record"`
}

// ReportAck tells the referee whether the report was applied or was a
// duplicate of an already-completed match.
type ReportAck struct {
	Status string `json:"status"` // ACCEPTED or DUPLICATE
}

// League query kinds.
const (
	QueryStandings = "standings"
	QuerySchedule  = "schedule"
	QueryRound     = "round"
	QueryAgents    = "agents"
	QueryMatch     = "match"
)

// LeagueQueryRequest reads a snapshot of manager state.
type LeagueQueryRequest struct {
	MessageEnvelope
	QueryType string `json:"query_type"`
	QueryID   string `json:"query_id,omitempty"` // match id for QueryMatch
}

// RoundStatus is the coordinator's view of the active round.
type RoundStatus struct {
	RoundNumber int      `json:"round_number"`
	TotalRounds int      `json:"total_rounds"`
	State       string   `json:"state"`
	Outstanding []string `json:"outstanding_matches"`
}

// LeagueQueryResponse carries whichever snapshot was asked for.
type LeagueQueryResponse struct {
	TournamentState string                 `json:"tournament_state"`
	Standings       []models.Standing      `json:"standings,omitempty"`
	Schedule        *models.Schedule       `json:"schedule,omitempty"`
	Round           *RoundStatus           `json:"round,omitempty"`
	Agents          []models.AgentIdentity `json:"agents,omitempty"`
	Match           *models.MatchRecord    `json:"match,omitempty"`
	ChampionID      string                 `json:"champion_id,omitempty"`
}

// StandingsUpdateMsg is broadcast to players after every round.
type StandingsUpdateMsg struct {
	MessageEnvelope
	Standings []models.Standing `json:"standings"`
}

// RoundCompletedMsg closes a round.
type RoundCompletedMsg struct {
	MessageEnvelope
	RoundNumber int `json:"round_number"`
}

// LeagueCompletedMsg closes the tournament.
type LeagueCompletedMsg struct {
	MessageEnvelope
	ChampionID     string            `json:"champion_id"`
	FinalStandings []models.Standing `json:"final_standings"`
}

// RedispatchRequest asks the manager to re-send assign_match for matches
// still outstanding, used after a referee restart.
type RedispatchRequest struct {
	MessageEnvelope
}

// RedispatchResponse reports how many matches were re-dispatched.
type RedispatchResponse struct {
	Redispatched int `json:"redispatched"`
}
