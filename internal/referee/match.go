package referee

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/parityleague/backend/internal/game"
	"github.com/parityleague/backend/internal/models"
	"github.com/parityleague/backend/internal/protocol"
)

// matchTask owns one match from assignment to report. Its resources are
// dropped when run returns; only the immutable MatchRecord leaves.
type matchTask struct {
	svc       *Service
	match     models.Match
	roundID   string
	endpoints map[string]string
	machine   *game.Machine[game.GameState]
	log       *zap.Logger
}

func newMatchTask(svc *Service, match models.Match, roundID string, endpoints map[string]string) *matchTask {
	return &matchTask{
		svc:       svc,
		match:     match,
		roundID:   roundID,
		endpoints: endpoints,
		machine:   game.NewGameMachine(match.MatchID, svc.log),
		log:       svc.log.With(zap.String("match_id", match.MatchID)),
	}
}

// playerOutcome is the per-player result of one collection phase.
type playerOutcome struct {
	playerID string
	choice   models.Parity
	err      error
}

// run drives the six phases. Every path ends in a report to the manager.
func (t *matchTask) run(ctx context.Context) {
	rec := models.MatchRecord{
		MatchID:   t.match.MatchID,
		RoundID:   t.roundID,
		Players:   [2]string{t.match.PlayerA, t.match.PlayerB},
		Choices:   make(map[string]models.Parity),
		StartedAt: time.Now().UTC(),
	}

	// Phase 1: invitations, both in flight before either is awaited.
	t.transition(game.StateWaitingForPlayers)
	invResults := t.invite(ctx)
	if !t.resolveInvitations(&rec, invResults) {
		t.finish(ctx, &rec)
		return
	}

	// Phase 2: simultaneous choice collection.
	t.transition(game.StateCollectingChoices)
	choiceResults := t.collectChoices(ctx)
	if !t.resolveChoices(&rec, choiceResults) {
		t.finish(ctx, &rec)
		return
	}

	// Phase 3: draw.
	t.transition(game.StateDrawingNumber)
	n, err := drawNumber()
	if err != nil {
		// CSPRNG failure: abort with no winner rather than decide unfairly.
		t.transition(game.StateAborted)
		rec.Status = models.MatchAborted
		rec.Reason = "random source unavailable"
		t.finish(ctx, &rec)
		return
	}
	rec.DrawnNumber = &n
	rec.NumberParity = parityOf(n)
	t.transition(game.StateEvaluating)

	// Phase 4: exactly one choice matches the drawn parity.
	for _, pid := range rec.Players {
		if rec.Choices[pid] == rec.NumberParity {
			winner := pid
			rec.WinnerID = &winner
		}
	}
	rec.Status = models.MatchCompleted
	rec.Reason = fmt.Sprintf("number %d is %s", n, rec.NumberParity)

	t.log.Info("match evaluated",
		zap.Int("drawn_number", n),
		zap.String("parity", string(rec.NumberParity)),
		zap.Stringp("winner", rec.WinnerID))

	t.finish(ctx, &rec)
}

// invite runs phase 1: parallel handle_game_invitation calls with the
// invitation deadline applied per player, retries included.
func (t *matchTask) invite(ctx context.Context) chan playerOutcome {
	results := make(chan playerOutcome, 2)
	for _, pid := range []string{t.match.PlayerA, t.match.PlayerB} {
		opponent := t.opponentOf(pid)
		go func(pid, opponent string) {
			callCtx, cancel := context.WithTimeout(ctx, t.svc.invitationTimeout())
			defer cancel()

			msg := protocol.GameInvitationMsg{
				MessageEnvelope: t.svc.envelope(protocol.MsgGameInvitation, t.roundID, t.match.MatchID),
				OpponentID:      opponent,
				RefereeID:       t.svc.ID(),
			}
			var ack protocol.GameJoinAck
			err := t.svc.client.Call(callCtx, t.endpoints[pid], protocol.MethodHandleGameInvitation, msg, &ack)
			if err == nil && !ack.Accept {
				err = fmt.Errorf("player declined invitation")
			}
			results <- playerOutcome{playerID: pid, err: err}
		}(pid, opponent)
	}
	return results
}

// resolveInvitations awaits both invitation outcomes. Returns false when
// the match aborted here.
func (t *matchTask) resolveInvitations(rec *models.MatchRecord, results chan playerOutcome) bool {
	failed := map[string]error{}
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			failed[r.playerID] = r.err
		}
	}
	if len(failed) == 0 {
		return true
	}

	t.transition(game.StateAborted)
	rec.Status = models.MatchAborted
	if len(failed) == 2 {
		rec.Reason = "both players failed to accept the invitation"
		t.log.Warn("double invitation failure")
		return false
	}
	for pid, err := range failed {
		winner := t.opponentOf(pid)
		rec.WinnerID = &winner
		rec.Reason = fmt.Sprintf("technical loss for %s: did not accept invitation", pid)
		t.log.Warn("invitation failed, technical decision",
			zap.String("player", pid), zap.Error(err))
	}
	return false
}

// collectChoices runs phase 2. Both choose_parity calls are launched
// before either result is awaited, so neither player can learn it was
// called first.
func (t *matchTask) collectChoices(ctx context.Context) chan playerOutcome {
	deadline := time.Now().Add(t.svc.choiceTimeout())
	results := make(chan playerOutcome, 2)
	for _, pid := range []string{t.match.PlayerA, t.match.PlayerB} {
		opponent := t.opponentOf(pid)
		go func(pid, opponent string) {
			callCtx, cancel := context.WithDeadline(ctx, deadline)
			defer cancel()

			env := t.svc.envelope(protocol.MsgChooseParityCall, t.roundID, t.match.MatchID)
			msg := protocol.ChooseParityCallMsg{
				MessageEnvelope: env,
				OpponentID:      opponent,
				Deadline:        protocol.FormatTimestamp(deadline),
			}
			var res protocol.ChooseParityResult
			err := t.svc.client.Call(callCtx, t.endpoints[pid], protocol.MethodChooseParity, msg, &res)
			switch {
			case err != nil:
				results <- playerOutcome{playerID: pid, err: err}
			case res.MatchID != t.match.MatchID || res.ConversationID != env.ConversationID:
				// A response for some other call is a non-response.
				results <- playerOutcome{playerID: pid, err: fmt.Errorf(
					"response for wrong match/conversation (%s/%s)", res.MatchID, res.ConversationID)}
			case !res.Choice.Valid():
				results <- playerOutcome{playerID: pid, err: fmt.Errorf("invalid parity %q", res.Choice)}
			default:
				results <- playerOutcome{playerID: pid, choice: res.Choice}
			}
		}(pid, opponent)
	}
	return results
}

// resolveChoices awaits both choices and applies the technical-decision
// rules. Returns false when the match ends here (abort or technical win).
func (t *matchTask) resolveChoices(rec *models.MatchRecord, results chan playerOutcome) bool {
	failed := map[string]error{}
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			failed[r.playerID] = r.err
			continue
		}
		rec.Choices[r.playerID] = r.choice
	}
	if len(failed) == 0 {
		return true
	}

	t.transition(game.StateAborted)
	rec.Status = models.MatchAborted
	if len(failed) == 2 {
		rec.Reason = "both players timed out"
		t.log.Warn("double choice failure, no winner")
		return false
	}
	for pid, err := range failed {
		winner := t.opponentOf(pid)
		rec.WinnerID = &winner
		rec.Reason = fmt.Sprintf("technical loss for %s: no valid choice", pid)
		t.log.Warn("choice collection failed, technical decision",
			zap.String("player", pid), zap.Error(err))
	}
	return false
}

// finish runs phases 5 and 6: notify both players (fire-and-forget) and
// report to the manager (authoritative, with retry).
func (t *matchTask) finish(ctx context.Context, rec *models.MatchRecord) {
	rec.FinishedAt = time.Now().UTC()
	if rec.Status == models.MatchCompleted {
		t.transition(game.StateFinished)
	}

	notice := protocol.GameOverMsg{
		MessageEnvelope: t.svc.envelope(protocol.MsgGameOver, t.roundID, t.match.MatchID),
		Record:          *rec,
	}
	for _, pid := range rec.Players {
		go func(pid string) {
			notifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := t.svc.client.Notify(notifyCtx, t.endpoints[pid], protocol.MethodNotifyMatchResult, notice); err != nil {
				t.log.Warn("result notification failed", zap.String("player", pid), zap.Error(err))
			}
		}(pid)
	}

	t.svc.persistRecord(*rec)

	reportCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	if err := t.svc.report(reportCtx, *rec); err != nil {
		t.log.Error("match report failed", zap.Error(err))
		return
	}
	t.log.Info("match closed", zap.String("status", string(rec.Status)))
}

func (t *matchTask) opponentOf(pid string) string {
	if pid == t.match.PlayerA {
		return t.match.PlayerB
	}
	return t.match.PlayerA
}

func (t *matchTask) transition(next game.GameState) {
	if err := t.machine.To(next); err != nil {
		t.log.Error("game state error", zap.Error(err))
	}
}

// drawNumber draws a uniform integer in [1,10] from the system CSPRNG.
func drawNumber() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()) + 1, nil
}

// parityOf maps a drawn number to its parity.
func parityOf(n int) models.Parity {
	if n%2 == 0 {
		return models.ParityEven
	}
	return models.ParityOdd
}
