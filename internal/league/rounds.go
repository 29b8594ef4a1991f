package league

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/parityleague/backend/internal/game"
	"github.com/parityleague/backend/internal/models"
	"github.com/parityleague/backend/internal/protocol"
)

// rpcBudget bounds one outbound fan-out call including its retries.
const rpcBudget = 30 * time.Second

// startRound announces round idx (0-based) to every player and dispatches
// its matches to the assigned referees.
func (s *Service) startRound(idx int) {
	s.mu.Lock()
	round := s.schedule.Rounds[idx]
	totalRounds := len(s.schedule.Rounds)
	run := &roundRun{
		machine:     game.NewRoundMachine(round.RoundID, s.log),
		number:      idx + 1,
		outstanding: make(map[string]bool, len(round.Matches)),
	}
	for _, m := range round.Matches {
		run.outstanding[m.MatchID] = true
	}
	s.round = run
	s.roundIdx = idx
	players := s.registry.Players()
	s.mu.Unlock()

	s.log.Info("starting round",
		zap.Int("round", run.number),
		zap.Int("matches", len(round.Matches)))

	// Announce to all players, fire-and-forget with retry.
	announcement := protocol.RoundAnnouncementMsg{
		MessageEnvelope: s.envelope(protocol.MsgRoundAnnouncement, round.RoundID, ""),
		RoundNumber:     run.number,
		TotalRounds:     totalRounds,
		Matches:         round.Matches,
	}
	for _, p := range players {
		go func(p models.AgentIdentity) {
			ctx, cancel := context.WithTimeout(context.Background(), rpcBudget)
			defer cancel()
			if err := s.client.Notify(ctx, p.Endpoint, protocol.MethodRoundAnnouncement, announcement); err != nil {
				s.log.Warn("round announcement failed",
					zap.String("player", p.ID), zap.Error(err))
			}
		}(p)
	}
	if err := run.machine.To(game.RoundAnnounced); err != nil {
		s.log.Error("round state error", zap.Error(err))
	}

	s.dispatchMatches(round.RoundID, round.Matches)

	if err := run.machine.To(game.RoundInProgress); err != nil {
		s.log.Error("round state error", zap.Error(err))
	}
}

// dispatchMatches sends assign_match for each match to its referee.
func (s *Service) dispatchMatches(roundID string, matches []models.Match) {
	for _, m := range matches {
		ref, ok := s.registry.Agent(m.RefereeID)
		if !ok {
			s.log.Error("assigned referee not registered", zap.String("referee", m.RefereeID))
			continue
		}
		endpoints := make(map[string]string, 2)
		for _, pid := range []string{m.PlayerA, m.PlayerB} {
			p, ok := s.registry.Agent(pid)
			if !ok {
				s.log.Error("scheduled player not registered", zap.String("player", pid))
				continue
			}
			endpoints[pid] = p.Endpoint
		}

		req := protocol.AssignMatchRequest{
			MessageEnvelope: s.envelope(protocol.MsgMatchAssignment, roundID, m.MatchID),
			Match:           m,
			Endpoints:       endpoints,
		}
		go func(m models.Match, endpoint string, req protocol.AssignMatchRequest) {
			ctx, cancel := context.WithTimeout(context.Background(), rpcBudget)
			defer cancel()
			var resp protocol.AssignMatchResponse
			if err := s.client.Call(ctx, endpoint, protocol.MethodAssignMatch, req, &resp); err != nil {
				// The match stays outstanding; the orchestrator's recovery
				// path triggers a redispatch once the referee is back.
				s.log.Error("assign_match failed",
					zap.String("match_id", m.MatchID),
					zap.String("referee", m.RefereeID),
					zap.Error(err))
			}
		}(m, ref.Endpoint, req)
	}
}

// completeMatchLocked removes a reported match from the outstanding set and
// closes out the round (and possibly the tournament) when it empties.
// Callers hold the tournament lock.
func (s *Service) completeMatchLocked(matchID string) {
	if s.round == nil || !s.round.outstanding[matchID] {
		return
	}
	delete(s.round.outstanding, matchID)
	if len(s.round.outstanding) > 0 {
		return
	}

	run := s.round
	if err := run.machine.To(game.RoundCompleted); err != nil {
		s.log.Error("round state error", zap.Error(err))
	}
	s.log.Info("round completed", zap.Int("round", run.number))

	standings := s.standings.Snapshot()
	lastRound := s.roundIdx == len(s.schedule.Rounds)-1

	if lastRound {
		if err := s.state.To(game.TournamentCompleted); err != nil {
			s.log.Error("tournament state error", zap.Error(err))
		}
		s.champion = s.standings.Leader()
		s.persistStandings()
		s.log.Info("league completed", zap.String("champion", s.champion))
		go s.broadcastRoundClose(run.number, standings, true, s.champion)
		return
	}

	next := s.roundIdx + 1
	go func() {
		s.broadcastRoundClose(run.number, standings, false, "")
		s.startRound(next)
	}()
}

// broadcastRoundClose sends LEAGUE_STANDINGS_UPDATE and ROUND_COMPLETED to
// all players, plus LEAGUE_COMPLETED after the final round.
func (s *Service) broadcastRoundClose(roundNumber int, standings []models.Standing, final bool, champion string) {
	players := s.registry.Players()
	roundID := ""
	if s.schedule != nil && roundNumber-1 < len(s.schedule.Rounds) {
		roundID = s.schedule.Rounds[roundNumber-1].RoundID
	}

	update := protocol.StandingsUpdateMsg{
		MessageEnvelope: s.envelope(protocol.MsgLeagueStandingsUpdate, roundID, ""),
		Standings:       standings,
	}
	completed := protocol.RoundCompletedMsg{
		MessageEnvelope: s.envelope(protocol.MsgRoundCompleted, roundID, ""),
		RoundNumber:     roundNumber,
	}

	for _, p := range players {
		go func(p models.AgentIdentity) {
			ctx, cancel := context.WithTimeout(context.Background(), rpcBudget)
			defer cancel()
			if err := s.client.Notify(ctx, p.Endpoint, protocol.MethodStandingsUpdate, update); err != nil {
				s.log.Warn("standings update failed", zap.String("player", p.ID), zap.Error(err))
			}
			if err := s.client.Notify(ctx, p.Endpoint, protocol.MethodRoundCompleted, completed); err != nil {
				s.log.Warn("round completed notify failed", zap.String("player", p.ID), zap.Error(err))
			}
			if final {
				done := protocol.LeagueCompletedMsg{
					MessageEnvelope: s.envelope(protocol.MsgLeagueCompleted, roundID, ""),
					ChampionID:      champion,
					FinalStandings:  standings,
				}
				if err := s.client.Notify(ctx, p.Endpoint, protocol.MethodLeagueCompleted, done); err != nil {
					s.log.Warn("league completed notify failed", zap.String("player", p.ID), zap.Error(err))
				}
			}
		}(p)
	}
}

// envelope stamps an outbound manager message.
func (s *Service) envelope(messageType, roundID, matchID string) protocol.MessageEnvelope {
	env := protocol.NewEnvelope(messageType, s.sender)
	env.AuthToken = s.token
	env.LeagueID = s.cfg.LeagueID
	env.RoundID = roundID
	env.MatchID = matchID
	return env
}
