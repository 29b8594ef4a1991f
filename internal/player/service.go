package player

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parityleague/backend/internal/config"
	"github.com/parityleague/backend/internal/models"
	"github.com/parityleague/backend/internal/protocol"
	"github.com/parityleague/backend/internal/rpc"
	"github.com/parityleague/backend/internal/storage"
	"github.com/parityleague/backend/internal/strategy"
)

// Service is the player agent: it registers with the manager, accepts game
// invitations, chooses parities through its strategy and keeps a local
// history of results.
type Service struct {
	cfg      *config.Config
	log      *zap.Logger
	client   *rpc.Client
	store    *storage.Store
	strategy strategy.Strategy

	endpoint string // this player's advertised URL

	mu        sync.Mutex
	id        string
	token     string
	leagueID  string
	standings []models.Standing
	history   *History
}

// NewService builds a player that will advertise the given endpoint.
func NewService(cfg *config.Config, store *storage.Store, endpoint string, log *zap.Logger) (*Service, error) {
	strat, err := strategy.New(cfg.Strategy, cfg.Adaptive, log)
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg:      cfg,
		log:      log.Named("player"),
		client:   rpc.NewClient(cfg.ReportRetry, cfg.Circuit, log),
		store:    store,
		strategy: strat,
		endpoint: endpoint,
	}, nil
}

// Register obtains this player's identity and token from the manager. The
// process cannot participate without one, so callers exit on error.
func (s *Service) Register(ctx context.Context) error {
	req := protocol.RegisterRequest{
		MessageEnvelope: protocol.NewEnvelope(protocol.MsgLeagueRegisterRequest,
			protocol.Sender(string(models.RolePlayer), "unregistered")),
		DisplayName: s.cfg.DisplayName,
		Endpoint:    s.endpoint,
		Version:     "2.0.0",
		GameTypes:   []string{"even_odd"},
	}
	var resp protocol.RegisterResponse
	if err := s.client.Call(ctx, s.cfg.ManagerURL, protocol.MethodRegisterPlayer, req, &resp); err != nil {
		return fmt.Errorf("register player: %w", err)
	}
	if resp.Status != protocol.StatusRegistered {
		return fmt.Errorf("registration rejected: %s", resp.Reason)
	}

	s.mu.Lock()
	s.id = resp.AssignedID
	s.token = resp.AuthToken
	s.leagueID = resp.LeagueID
	s.history = NewHistory(resp.AssignedID, s.store, s.log)
	s.mu.Unlock()

	s.log.Info("registered with manager",
		zap.String("assigned_id", resp.AssignedID),
		zap.String("league_id", resp.LeagueID),
		zap.String("strategy", s.strategy.Name()))
	return nil
}

// ID returns the manager-assigned player id ("" before registration).
func (s *Service) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Mount registers the player's RPC surface.
func (s *Service) Mount(srv *rpc.Server) {
	srv.Register(protocol.MethodHandleGameInvitation, s.handleGameInvitation)
	srv.Register(protocol.MethodChooseParity, s.handleChooseParity)
	srv.Register(protocol.MethodNotifyMatchResult, s.handleNotifyMatchResult)
	srv.Register(protocol.MethodRoundAnnouncement, s.handleRoundAnnouncement)
	srv.Register(protocol.MethodStandingsUpdate, s.handleStandingsUpdate)
	srv.Register(protocol.MethodRoundCompleted, s.handleRoundCompleted)
	srv.Register(protocol.MethodLeagueCompleted, s.handleLeagueCompleted)
}

// handleGameInvitation always accepts. Declining would forfeit by technical
// decision, so the only useful answer is yes, stamped with arrival time.
func (s *Service) handleGameInvitation(_ context.Context, env protocol.MessageEnvelope, params json.RawMessage) (any, *protocol.RPCError) {
	var msg protocol.GameInvitationMsg
	if err := json.Unmarshal(params, &msg); err != nil {
		return nil, protocol.NewRPCError(protocol.CodeInvalidParams, "malformed invitation")
	}
	s.log.Info("invitation accepted",
		zap.String("match_id", env.MatchID),
		zap.String("opponent", msg.OpponentID),
		zap.String("referee", msg.RefereeID))
	return protocol.GameJoinAck{
		Accept:           true,
		ArrivalTimestamp: protocol.FormatTimestamp(time.Now()),
	}, nil
}

// handleChooseParity delegates to the strategy. The response echoes the
// match and conversation ids so the referee can bind it to its call.
func (s *Service) handleChooseParity(_ context.Context, env protocol.MessageEnvelope, params json.RawMessage) (any, *protocol.RPCError) {
	var msg protocol.ChooseParityCallMsg
	if err := json.Unmarshal(params, &msg); err != nil {
		return nil, protocol.NewRPCError(protocol.CodeInvalidParams, "malformed choice call")
	}

	s.mu.Lock()
	standings := s.standings
	history := s.history
	s.mu.Unlock()

	in := strategy.Input{
		MatchID:    env.MatchID,
		OpponentID: msg.OpponentID,
		Standings:  standings,
	}
	if history != nil {
		in.Opponent = history.Profile(msg.OpponentID)
	}

	choice := s.choose(in)
	s.log.Info("parity chosen",
		zap.String("match_id", env.MatchID),
		zap.String("opponent", msg.OpponentID),
		zap.String("choice", string(choice)))

	return protocol.ChooseParityResult{
		Choice:         choice,
		MatchID:        env.MatchID,
		ConversationID: env.ConversationID,
	}, nil
}

// choose runs the strategy with a recover guard. A panicking strategy must
// not cost the match, so it degrades to "even".
func (s *Service) choose(in strategy.Input) (choice models.Parity) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("strategy panicked, defaulting to even",
				zap.String("match_id", in.MatchID), zap.Any("panic", r))
			choice = models.ParityEven
		}
	}()
	choice = s.strategy.Choose(in)
	if !choice.Valid() {
		choice = models.ParityEven
	}
	return choice
}

// handleNotifyMatchResult folds the referee's result into local history and
// the opponent profile.
func (s *Service) handleNotifyMatchResult(_ context.Context, _ protocol.MessageEnvelope, params json.RawMessage) (any, *protocol.RPCError) {
	var msg protocol.GameOverMsg
	if err := json.Unmarshal(params, &msg); err != nil {
		return nil, protocol.NewRPCError(protocol.CodeInvalidParams, "malformed result notification")
	}

	s.mu.Lock()
	history := s.history
	id := s.id
	s.mu.Unlock()

	outcome := "draw"
	switch {
	case msg.Record.WinnerID == nil:
		outcome = "no result"
	case *msg.Record.WinnerID == id:
		outcome = "win"
	default:
		outcome = "loss"
	}
	s.log.Info("match result received",
		zap.String("match_id", msg.Record.MatchID),
		zap.String("outcome", outcome),
		zap.String("reason", msg.Record.Reason))

	if history != nil {
		history.Append(msg.Record)
	}
	return protocol.NotifyAck{Acknowledged: true}, nil
}

// handleRoundAnnouncement is informational; the referee drives the matches.
func (s *Service) handleRoundAnnouncement(_ context.Context, _ protocol.MessageEnvelope, params json.RawMessage) (any, *protocol.RPCError) {
	var msg protocol.RoundAnnouncementMsg
	if err := json.Unmarshal(params, &msg); err != nil {
		return nil, protocol.NewRPCError(protocol.CodeInvalidParams, "malformed announcement")
	}
	s.log.Info("round announced",
		zap.Int("round", msg.RoundNumber),
		zap.Int("total_rounds", msg.TotalRounds),
		zap.Int("matches", len(msg.Matches)))
	return protocol.NotifyAck{Acknowledged: true}, nil
}

// handleStandingsUpdate caches the latest table for the strategy.
func (s *Service) handleStandingsUpdate(_ context.Context, _ protocol.MessageEnvelope, params json.RawMessage) (any, *protocol.RPCError) {
	var msg protocol.StandingsUpdateMsg
	if err := json.Unmarshal(params, &msg); err != nil {
		return nil, protocol.NewRPCError(protocol.CodeInvalidParams, "malformed standings update")
	}

	s.mu.Lock()
	s.standings = msg.Standings
	id := s.id
	s.mu.Unlock()

	for _, row := range msg.Standings {
		if row.PlayerID == id {
			s.log.Info("standings updated",
				zap.Int("rank", row.Rank),
				zap.Int("points", row.Points),
				zap.Int("played", row.Played))
			break
		}
	}
	return protocol.NotifyAck{Acknowledged: true}, nil
}

func (s *Service) handleRoundCompleted(_ context.Context, _ protocol.MessageEnvelope, params json.RawMessage) (any, *protocol.RPCError) {
	var msg protocol.RoundCompletedMsg
	if err := json.Unmarshal(params, &msg); err != nil {
		return nil, protocol.NewRPCError(protocol.CodeInvalidParams, "malformed round completion")
	}
	s.log.Info("round completed", zap.Int("round", msg.RoundNumber))
	return protocol.NotifyAck{Acknowledged: true}, nil
}

func (s *Service) handleLeagueCompleted(_ context.Context, _ protocol.MessageEnvelope, params json.RawMessage) (any, *protocol.RPCError) {
	var msg protocol.LeagueCompletedMsg
	if err := json.Unmarshal(params, &msg); err != nil {
		return nil, protocol.NewRPCError(protocol.CodeInvalidParams, "malformed league completion")
	}

	s.mu.Lock()
	id := s.id
	history := s.history
	s.mu.Unlock()

	s.log.Info("league completed",
		zap.String("champion", msg.ChampionID),
		zap.Bool("is_champion", msg.ChampionID == id))

	if history != nil {
		s.log.Info("final record", zap.Int("matches_played", history.Len()))
	}
	return protocol.NotifyAck{Acknowledged: true}, nil
}
