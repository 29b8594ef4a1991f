package referee

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/parityleague/backend/internal/config"
	"github.com/parityleague/backend/internal/models"
	"github.com/parityleague/backend/internal/protocol"
	"github.com/parityleague/backend/internal/storage"
)

// fakePlayer simulates a player agent's RPC surface with scriptable
// invitation and choice behavior.
type fakePlayer struct {
	t *testing.T
	// accept controls the invitation answer.
	accept bool
	// choose produces the choice response from the incoming call; returning
	// nil simulates an unreachable player.
	choose func(msg protocol.ChooseParityCallMsg) *protocol.ChooseParityResult
}

func (p *fakePlayer) serve() *httptest.Server {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req protocol.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			p.t.Errorf("fake player: bad request: %v", err)
			return
		}
		reply := func(result any) {
			raw, _ := json.Marshal(result)
			json.NewEncoder(w).Encode(protocol.Response{JSONRPC: "2.0", Result: raw, ID: req.ID})
		}
		switch req.Method {
		case protocol.MethodHandleGameInvitation:
			reply(protocol.GameJoinAck{
				Accept:           p.accept,
				ArrivalTimestamp: protocol.FormatTimestamp(time.Now()),
			})
		case protocol.MethodChooseParity:
			var msg protocol.ChooseParityCallMsg
			if err := json.Unmarshal(req.Params, &msg); err != nil {
				p.t.Errorf("fake player: bad choose params: %v", err)
				return
			}
			if res := p.choose(msg); res != nil {
				reply(*res)
				return
			}
			w.WriteHeader(http.StatusServiceUnavailable)
		case protocol.MethodNotifyMatchResult:
			reply(protocol.NotifyAck{Acknowledged: true})
		default:
			p.t.Errorf("fake player: unexpected method %s", req.Method)
		}
	}))
	p.t.Cleanup(ts.Close)
	return ts
}

// echoChoice answers with the given parity bound to the incoming call.
func echoChoice(c models.Parity) func(protocol.ChooseParityCallMsg) *protocol.ChooseParityResult {
	return func(msg protocol.ChooseParityCallMsg) *protocol.ChooseParityResult {
		return &protocol.ChooseParityResult{
			Choice:         c,
			MatchID:        msg.MatchID,
			ConversationID: msg.ConversationID,
		}
	}
}

// fakeManager accepts report_match_result and hands the record to the test.
func fakeManager(t *testing.T) (*httptest.Server, chan models.MatchRecord) {
	t.Helper()
	reports := make(chan models.MatchRecord, 4)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req protocol.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("fake manager: bad request: %v", err)
			return
		}
		if req.Method != protocol.MethodReportMatchResult {
			t.Errorf("fake manager: unexpected method %s", req.Method)
			return
		}
		var msg protocol.MatchResultReportMsg
		if err := json.Unmarshal(req.Params, &msg); err != nil {
			t.Errorf("fake manager: bad report: %v", err)
			return
		}
		reports <- msg.Record
		raw, _ := json.Marshal(protocol.ReportAck{Status: "ACCEPTED"})
		json.NewEncoder(w).Encode(protocol.Response{JSONRPC: "2.0", Result: raw, ID: req.ID})
	}))
	t.Cleanup(ts.Close)
	return ts, reports
}

func runMatch(t *testing.T, a, b *fakePlayer) models.MatchRecord {
	t.Helper()
	manager, reports := fakeManager(t)

	cfg := &config.Config{
		LeagueID:           "league-test",
		ManagerURL:         manager.URL,
		InvitationTimeoutS: 2,
		ChoiceTimeoutS:     2,
		ReportRetry:        config.RetryConfig{MaxAttempts: 1, InitialDelayS: 0.01, Multiplier: 1},
		Circuit:            config.CircuitConfig{FailureThreshold: 100, ResetTimeoutS: 1, SuccessThreshold: 1},
		DataDir:            t.TempDir(),
	}
	svc := NewService(cfg, storage.New(cfg.DataDir), "http://127.0.0.1:8101", zap.NewNop())
	svc.id = "REF01"
	svc.token = "tok_REF01_test"
	svc.leagueID = cfg.LeagueID

	env := svc.envelope(protocol.MsgMatchAssignment, "R1", "R1M1")
	params, _ := json.Marshal(protocol.AssignMatchRequest{
		MessageEnvelope: env,
		Match:           models.Match{MatchID: "R1M1", PlayerA: "P01", PlayerB: "P02", RefereeID: "REF01"},
		Endpoints: map[string]string{
			"P01": a.serve().URL,
			"P02": b.serve().URL,
		},
	})

	res, rpcErr := svc.handleAssignMatch(nil, env, params)
	if rpcErr != nil {
		t.Fatalf("assign_match: %v", rpcErr)
	}
	if res.(protocol.AssignMatchResponse).Status != "ACCEPTED" {
		t.Fatalf("assignment not accepted: %+v", res)
	}

	select {
	case rec := <-reports:
		return rec
	case <-time.After(10 * time.Second):
		t.Fatal("no report reached the manager")
		return models.MatchRecord{}
	}
}

func TestMatchHappyPath(t *testing.T) {
	a := &fakePlayer{t: t, accept: true, choose: echoChoice(models.ParityEven)}
	b := &fakePlayer{t: t, accept: true, choose: echoChoice(models.ParityOdd)}
	rec := runMatch(t, a, b)

	if rec.Status != models.MatchCompleted {
		t.Fatalf("status = %s, want COMPLETED", rec.Status)
	}
	if rec.DrawnNumber == nil || *rec.DrawnNumber < 1 || *rec.DrawnNumber > 10 {
		t.Fatalf("drawn number = %v, want [1,10]", rec.DrawnNumber)
	}
	wantParity := models.ParityOdd
	if *rec.DrawnNumber%2 == 0 {
		wantParity = models.ParityEven
	}
	if rec.NumberParity != wantParity {
		t.Errorf("number parity = %s for %d", rec.NumberParity, *rec.DrawnNumber)
	}

	// With one player on each parity there is always exactly one winner, and
	// the winner's choice matches the draw.
	if rec.WinnerID == nil {
		t.Fatal("no winner despite opposite choices")
	}
	if rec.Choices[*rec.WinnerID] != rec.NumberParity {
		t.Errorf("winner %s chose %s but parity was %s",
			*rec.WinnerID, rec.Choices[*rec.WinnerID], rec.NumberParity)
	}
}

func TestMatchBothChoicesMisboundAborts(t *testing.T) {
	// Replies bound to a different match are non-responses; with both
	// players misbehaving there is no winner.
	wrong := func(msg protocol.ChooseParityCallMsg) *protocol.ChooseParityResult {
		return &protocol.ChooseParityResult{
			Choice:         models.ParityEven,
			MatchID:        "R9M9",
			ConversationID: msg.ConversationID,
		}
	}
	a := &fakePlayer{t: t, accept: true, choose: wrong}
	b := &fakePlayer{t: t, accept: true, choose: wrong}
	rec := runMatch(t, a, b)

	if rec.Status != models.MatchAborted {
		t.Errorf("status = %s, want ABORTED", rec.Status)
	}
	if rec.WinnerID != nil {
		t.Errorf("double failure must not produce a winner, got %s", *rec.WinnerID)
	}
	if rec.DrawnNumber != nil {
		t.Error("no number may be drawn for an aborted match")
	}
}

func TestMatchInvalidParityIsTechnicalLoss(t *testing.T) {
	bad := func(msg protocol.ChooseParityCallMsg) *protocol.ChooseParityResult {
		return &protocol.ChooseParityResult{
			Choice:         models.Parity("seven"),
			MatchID:        msg.MatchID,
			ConversationID: msg.ConversationID,
		}
	}
	a := &fakePlayer{t: t, accept: true, choose: bad}
	b := &fakePlayer{t: t, accept: true, choose: echoChoice(models.ParityOdd)}
	rec := runMatch(t, a, b)

	if rec.Status != models.MatchAborted {
		t.Errorf("status = %s, want ABORTED", rec.Status)
	}
	if rec.WinnerID == nil || *rec.WinnerID != "P02" {
		t.Errorf("P02 should win by technical decision, got %v", rec.WinnerID)
	}
}

func TestMatchDeclinedInvitationIsTechnicalLoss(t *testing.T) {
	a := &fakePlayer{t: t, accept: false, choose: echoChoice(models.ParityEven)}
	b := &fakePlayer{t: t, accept: true, choose: echoChoice(models.ParityOdd)}
	rec := runMatch(t, a, b)

	if rec.Status != models.MatchAborted {
		t.Errorf("status = %s, want ABORTED", rec.Status)
	}
	if rec.WinnerID == nil || *rec.WinnerID != "P02" {
		t.Errorf("P02 should win by technical decision, got %v", rec.WinnerID)
	}
	if len(rec.Choices) != 0 {
		t.Errorf("no choices should be collected, got %v", rec.Choices)
	}
}

func TestAssignMatchIsIdempotentWhileRunning(t *testing.T) {
	// A player that never answers keeps the match in flight long enough to
	// observe the duplicate-assignment path.
	slow := func(msg protocol.ChooseParityCallMsg) *protocol.ChooseParityResult {
		time.Sleep(500 * time.Millisecond)
		return &protocol.ChooseParityResult{
			Choice: models.ParityEven, MatchID: msg.MatchID, ConversationID: msg.ConversationID,
		}
	}
	manager, reports := fakeManager(t)
	cfg := &config.Config{
		LeagueID:           "league-test",
		ManagerURL:         manager.URL,
		InvitationTimeoutS: 2,
		ChoiceTimeoutS:     2,
		ReportRetry:        config.RetryConfig{MaxAttempts: 1, InitialDelayS: 0.01, Multiplier: 1},
		Circuit:            config.CircuitConfig{FailureThreshold: 100, ResetTimeoutS: 1, SuccessThreshold: 1},
		DataDir:            t.TempDir(),
	}
	svc := NewService(cfg, storage.New(cfg.DataDir), "http://127.0.0.1:8101", zap.NewNop())
	svc.id = "REF01"
	svc.leagueID = cfg.LeagueID

	a := &fakePlayer{t: t, accept: true, choose: slow}
	b := &fakePlayer{t: t, accept: true, choose: slow}
	env := svc.envelope(protocol.MsgMatchAssignment, "R1", "R1M1")
	params, _ := json.Marshal(protocol.AssignMatchRequest{
		MessageEnvelope: env,
		Match:           models.Match{MatchID: "R1M1", PlayerA: "P01", PlayerB: "P02", RefereeID: "REF01"},
		Endpoints:       map[string]string{"P01": a.serve().URL, "P02": b.serve().URL},
	})

	if _, rpcErr := svc.handleAssignMatch(nil, env, params); rpcErr != nil {
		t.Fatalf("assign_match: %v", rpcErr)
	}
	res, rpcErr := svc.handleAssignMatch(nil, env, params)
	if rpcErr != nil {
		t.Fatalf("duplicate assign_match: %v", rpcErr)
	}
	if res.(protocol.AssignMatchResponse).Status != "ALREADY_RUNNING" {
		t.Errorf("duplicate assignment status = %+v, want ALREADY_RUNNING", res)
	}

	select {
	case <-reports:
	case <-time.After(10 * time.Second):
		t.Fatal("match never completed")
	}
}

func TestDrawNumberRange(t *testing.T) {
	seen := map[int]bool{}
	for i := 0; i < 500; i++ {
		n, err := drawNumber()
		if err != nil {
			t.Fatal(err)
		}
		if n < 1 || n > 10 {
			t.Fatalf("drawn %d outside [1,10]", n)
		}
		seen[n] = true
	}
	if len(seen) < 8 {
		t.Errorf("500 draws hit only %d distinct values", len(seen))
	}
	if parityOf(4) != models.ParityEven || parityOf(7) != models.ParityOdd {
		t.Error("parityOf mismatch")
	}
}
