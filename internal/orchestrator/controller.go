package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/parityleague/backend/internal/config"
	"github.com/parityleague/backend/internal/game"
	"github.com/parityleague/backend/internal/models"
	"github.com/parityleague/backend/internal/protocol"
	"github.com/parityleague/backend/internal/rpc"
)

// pollInterval paces the controller's league_query loops.
const pollInterval = 2 * time.Second

// ErrLeagueLost reports a manager restart mid-tournament. League state is
// in-memory, so the tournament cannot resume and the run must halt.
var ErrLeagueLost = errors.New("manager restarted, league state lost")

// Publisher receives controller events for the dashboard. Implementations
// must not block.
type Publisher interface {
	Publish(event string, data any)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, any) {}

// Controller drives the league through the manager's control API: it waits
// for the registration quorum, starts the league and watches it to
// completion.
type Controller struct {
	cfg    *config.Config
	client *rpc.Client
	log    *zap.Logger
	pub    Publisher
	poll   time.Duration
}

// NewController builds a controller. pub may be nil.
func NewController(cfg *config.Config, pub Publisher, log *zap.Logger) *Controller {
	if pub == nil {
		pub = nopPublisher{}
	}
	return &Controller{
		cfg:    cfg,
		client: rpc.NewClient(cfg.ReportRetry, cfg.Circuit, log),
		log:    log.Named("controller"),
		pub:    pub,
		poll:   pollInterval,
	}
}

func (c *Controller) envelope(messageType string) protocol.MessageEnvelope {
	env := protocol.NewEnvelope(messageType, protocol.Sender("orchestrator", OrchestratorID))
	env.AuthToken = c.cfg.OrchestratorToken
	env.LeagueID = c.cfg.LeagueID
	return env
}

func (c *Controller) query(ctx context.Context, queryType, queryID string) (protocol.LeagueQueryResponse, error) {
	req := protocol.LeagueQueryRequest{
		MessageEnvelope: c.envelope(protocol.MsgLeagueQuery),
		QueryType:       queryType,
		QueryID:         queryID,
	}
	var resp protocol.LeagueQueryResponse
	err := c.client.Call(ctx, c.cfg.ManagerURL, protocol.MethodLeagueQuery, req, &resp)
	return resp, err
}

// WaitForQuorum polls the manager's registry until the configured minimum
// referees and players have registered.
func (c *Controller) WaitForQuorum(ctx context.Context) error {
	for {
		resp, err := c.query(ctx, protocol.QueryAgents, "")
		if err != nil {
			c.log.Warn("agents query failed", zap.Error(err))
		} else {
			referees, players := 0, 0
			for _, a := range resp.Agents {
				switch a.Role {
				case models.RoleReferee:
					referees++
				case models.RolePlayer:
					players++
				}
			}
			c.log.Info("registration progress",
				zap.Int("referees", referees),
				zap.Int("players", players),
				zap.Int("min_referees", c.cfg.MinReferees),
				zap.Int("min_players", c.cfg.MinPlayers))
			c.pub.Publish("registration", resp.Agents)
			if referees >= c.cfg.MinReferees && players >= c.cfg.MinPlayers {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.poll):
		}
	}
}

// StartLeague asks the manager to schedule and begin round one.
func (c *Controller) StartLeague(ctx context.Context) error {
	req := protocol.StartLeagueRequest{
		MessageEnvelope: c.envelope(protocol.MsgStartLeagueCommand),
	}
	var resp protocol.StartLeagueResponse
	if err := c.client.Call(ctx, c.cfg.ManagerURL, protocol.MethodStartLeague, req, &resp); err != nil {
		return fmt.Errorf("start league: %w", err)
	}
	c.log.Info("league started",
		zap.Int("total_rounds", resp.TotalRounds),
		zap.Int("total_matches", resp.TotalMatches))
	c.pub.Publish("league_started", resp)
	return nil
}

// Redispatch asks the manager to re-send outstanding match assignments,
// used after a referee restart.
func (c *Controller) Redispatch(ctx context.Context) (int, error) {
	req := protocol.RedispatchRequest{
		MessageEnvelope: c.envelope(protocol.MsgRedispatchMatches),
	}
	var resp protocol.RedispatchResponse
	if err := c.client.Call(ctx, c.cfg.ManagerURL, protocol.MethodRedispatchMatches, req, &resp); err != nil {
		return 0, err
	}
	return resp.Redispatched, nil
}

// Watch polls standings and round progress until the tournament completes,
// publishing each snapshot plus a match event for every match that leaves
// the outstanding set. Returns the champion id, or ErrLeagueLost when the
// manager answers from a pre-start state again (a restart wiped the league).
func (c *Controller) Watch(ctx context.Context) (string, error) {
	lastRound := 0
	outstanding := make(map[string]bool)
	for {
		standings, err := c.query(ctx, protocol.QueryStandings, "")
		if err != nil {
			c.log.Warn("standings query failed", zap.Error(err))
		} else {
			switch game.TournamentState(standings.TournamentState) {
			case game.TournamentInitializing, game.TournamentRegistration:
				// Watch only runs after start_league succeeded, so the
				// manager cannot legitimately be back in registration.
				c.log.Error("manager answers from pre-start state, league lost")
				c.pub.Publish("error", map[string]string{
					"reason": ErrLeagueLost.Error(),
				})
				return "", ErrLeagueLost

			case game.TournamentCompleted:
				c.publishFinished(ctx, outstanding, nil)
				c.pub.Publish("standings", standings.Standings)
				c.log.Info("league completed", zap.String("champion", standings.ChampionID))
				c.pub.Publish("league_completed", standings)
				return standings.ChampionID, nil
			}
			c.pub.Publish("standings", standings.Standings)

			round, err := c.query(ctx, protocol.QueryRound, "")
			if err == nil && round.Round != nil {
				c.pub.Publish("round", round.Round)
				current := make(map[string]bool, len(round.Round.Outstanding))
				for _, id := range round.Round.Outstanding {
					current[id] = true
				}
				c.publishFinished(ctx, outstanding, current)
				outstanding = current
				if round.Round.RoundNumber != lastRound {
					lastRound = round.Round.RoundNumber
					c.log.Info("round in progress",
						zap.Int("round", round.Round.RoundNumber),
						zap.Int("total_rounds", round.Round.TotalRounds))
				}
			}
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.poll):
		}
	}
}

// publishFinished emits a match event for every id in prev that is gone from
// current (nil current means everything finished), carrying the manager's
// record of the match.
func (c *Controller) publishFinished(ctx context.Context, prev, current map[string]bool) {
	for id := range prev {
		if current[id] {
			continue
		}
		resp, err := c.query(ctx, protocol.QueryMatch, id)
		if err != nil || resp.Match == nil {
			c.log.Warn("match query failed", zap.String("match_id", id), zap.Error(err))
			continue
		}
		c.pub.Publish("match", resp.Match)
	}
}
