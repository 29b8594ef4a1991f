package protocol

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewEnvelope(t *testing.T) {
	env := NewEnvelope(MsgGameInvitation, "referee:REF01")
	if env.Protocol != ProtocolVersion {
		t.Errorf("protocol = %q", env.Protocol)
	}
	if env.MessageType != MsgGameInvitation || env.Sender != "referee:REF01" {
		t.Errorf("envelope = %+v", env)
	}
	if env.ConversationID == "" {
		t.Error("conversation_id must be set")
	}
	if env.ConversationID == NewEnvelope(MsgGameInvitation, "referee:REF01").ConversationID {
		t.Error("conversation ids must be unique")
	}
	if _, err := ParseTimestamp(env.Timestamp); err != nil {
		t.Errorf("timestamp %q does not parse: %v", env.Timestamp, err)
	}
	if err := env.Validate(); err != nil {
		t.Errorf("fresh envelope must validate: %v", err)
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	at := time.Date(2025, 1, 31, 14, 5, 2, 0, time.UTC)
	s := FormatTimestamp(at)
	if s != "20250131T140502Z" {
		t.Errorf("formatted = %q", s)
	}
	back, err := ParseTimestamp(s)
	if err != nil {
		t.Fatal(err)
	}
	if !back.Equal(at) {
		t.Errorf("round trip %v != %v", back, at)
	}

	// Local times are rendered in UTC.
	loc := time.FixedZone("UTC+3", 3*3600)
	if got := FormatTimestamp(at.In(loc)); got != s {
		t.Errorf("zoned input formatted as %q, want %q", got, s)
	}
}

func TestValidateRejections(t *testing.T) {
	base := NewEnvelope(MsgLeagueQuery, "orchestrator:ORCH01")

	wrong := base
	wrong.Protocol = "league.v1"
	if wrong.Validate() == nil {
		t.Error("old protocol version must be rejected")
	}

	wrong = base
	wrong.MessageType = ""
	if wrong.Validate() == nil {
		t.Error("empty message_type must be rejected")
	}

	wrong = base
	wrong.Sender = ""
	if wrong.Validate() == nil {
		t.Error("empty sender must be rejected")
	}

	wrong = base
	wrong.Timestamp = "2025-01-31 14:05"
	if wrong.Validate() == nil {
		t.Error("malformed timestamp must be rejected")
	}

	// Timestamp is optional; absence is not an error.
	wrong = base
	wrong.Timestamp = ""
	if err := wrong.Validate(); err != nil {
		t.Errorf("missing timestamp should be accepted: %v", err)
	}
}

func TestSplitSender(t *testing.T) {
	role, id, err := SplitSender("player:P07")
	if err != nil || role != "player" || id != "P07" {
		t.Errorf("got (%q, %q, %v)", role, id, err)
	}
	for _, bad := range []string{"", "player", ":P07", "player:", ":"} {
		if _, _, err := SplitSender(bad); err == nil {
			t.Errorf("SplitSender(%q) should fail", bad)
		}
	}
	if Sender("referee", "REF02") != "referee:REF02" {
		t.Error("Sender join mismatch")
	}
}

func TestDomainErrorThroughRPCError(t *testing.T) {
	de := NewDomainError(ErrInvalidChoice, "parity must be even or odd").
		WithContext("received", "seven")
	if de.Retryable {
		t.Error("E003 is not retryable")
	}

	rpcErr := NewDomainRPCError(de)
	if rpcErr.Code != CodeDomainError {
		t.Errorf("code = %d, want %d", rpcErr.Code, CodeDomainError)
	}

	// Over the wire and back.
	raw, err := json.Marshal(Response{JSONRPC: "2.0", Error: rpcErr})
	if err != nil {
		t.Fatal(err)
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatal(err)
	}
	got := resp.Error.DomainErr()
	if got == nil {
		t.Fatal("domain payload lost in transit")
	}
	if got.ErrorCode != ErrInvalidChoice || got.Context["received"] != "seven" {
		t.Errorf("decoded = %+v", got)
	}
}

func TestRetryableCodes(t *testing.T) {
	for _, code := range []string{ErrServiceUnavailable, ErrInternalRetryable, ErrTransient} {
		if !RetryableCode(code) {
			t.Errorf("%s should be retryable", code)
		}
	}
	for _, code := range []string{ErrRegistrationClosed, ErrInvalidChoice, ErrUnknownMatch, ErrDuplicateReport, ErrAuthTokenMissing, ErrAuthTokenInvalid} {
		if RetryableCode(code) {
			t.Errorf("%s should not be retryable", code)
		}
	}
}

func TestDomainErrNilOnPlainErrors(t *testing.T) {
	if NewRPCError(CodeMethodNotFound, "nope").DomainErr() != nil {
		t.Error("-32601 carries no domain payload")
	}
}
