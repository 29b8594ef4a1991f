package protocol

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion tags every envelope on the wire.
const ProtocolVersion = "league.v2"

// TimestampLayout is compact ISO-8601 UTC, e.g. 20250131T140502Z.
const TimestampLayout = "20060102T150405Z"

// Domain message types carried in MessageEnvelope.MessageType.
const (
	MsgRefereeRegisterRequest  = "REFEREE_REGISTER_REQUEST"
	MsgRefereeRegisterResponse = "REFEREE_REGISTER_RESPONSE"
	MsgLeagueRegisterRequest   = "LEAGUE_REGISTER_REQUEST"
	MsgLeagueRegisterResponse  = "LEAGUE_REGISTER_RESPONSE"
	MsgRoundAnnouncement       = "ROUND_ANNOUNCEMENT"
	MsgMatchAssignment         = "MATCH_ASSIGNMENT"
	MsgGameInvitation          = "GAME_INVITATION"
	MsgGameJoinAck             = "GAME_JOIN_ACK"
	MsgChooseParityCall        = "CHOOSE_PARITY_CALL"
	MsgChooseParityResponse    = "CHOOSE_PARITY_RESPONSE"
	MsgGameOver                = "GAME_OVER"
	MsgMatchResultReport       = "MATCH_RESULT_REPORT"
	MsgLeagueStandingsUpdate   = "LEAGUE_STANDINGS_UPDATE"
	MsgRoundCompleted          = "ROUND_COMPLETED"
	MsgLeagueCompleted         = "LEAGUE_COMPLETED"
	MsgLeagueError             = "LEAGUE_ERROR"
	MsgGameError               = "GAME_ERROR"
	MsgStartLeagueCommand      = "START_LEAGUE_COMMAND"
	MsgLeagueQuery             = "LEAGUE_QUERY"
	MsgRedispatchMatches       = "REDISPATCH_MATCHES"
)

// MessageEnvelope is embedded in the params of every league RPC.
type MessageEnvelope struct {
	Protocol       string `json:"protocol"`
	MessageType    string `json:"message_type"`
	Sender         string `json:"sender"` // "<role>:<id>"
	Timestamp      string `json:"timestamp"`
	ConversationID string `json:"conversation_id"`
	AuthToken      string `json:"auth_token,omitempty"`
	LeagueID       string `json:"league_id,omitempty"`
	RoundID        string `json:"round_id,omitempty"`
	MatchID        string `json:"match_id,omitempty"`
}

// NewEnvelope builds an envelope stamped with the current time and a fresh
// conversation id.
func NewEnvelope(messageType, sender string) MessageEnvelope {
	return MessageEnvelope{
		Protocol:       ProtocolVersion,
		MessageType:    messageType,
		Sender:         sender,
		Timestamp:      FormatTimestamp(time.Now()),
		ConversationID: uuid.NewString(),
	}
}

// FormatTimestamp renders t in the wire timestamp layout (UTC).
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a wire timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}

// Validate checks the envelope fields every receiver depends on.
func (e *MessageEnvelope) Validate() error {
	if e.Protocol != ProtocolVersion {
		return fmt.Errorf("unsupported protocol %q (want %s)", e.Protocol, ProtocolVersion)
	}
	if e.MessageType == "" {
		return fmt.Errorf("message_type is required")
	}
	if e.Sender == "" {
		return fmt.Errorf("sender is required")
	}
	if e.Timestamp != "" {
		if _, err := ParseTimestamp(e.Timestamp); err != nil {
			return fmt.Errorf("bad timestamp %q: %w", e.Timestamp, err)
		}
	}
	return nil
}

// SplitSender splits a "<role>:<id>" sender into its parts.
func SplitSender(sender string) (role, id string, err error) {
	role, id, ok := strings.Cut(sender, ":")
	if !ok || role == "" || id == "" {
		return "", "", fmt.Errorf("malformed sender %q (want <role>:<id>)", sender)
	}
	return role, id, nil
}

// Sender joins a role and id into the wire sender form.
func Sender(role, id string) string {
	return role + ":" + id
}
