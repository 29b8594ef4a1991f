package referee

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
)

// Service is the referee agent: it registers with the manager, accepts
// match assignments and drives each match through the six-phase protocol.
type Service struct {
	cfg    *config.Config
	log    *zap.Logger
	client *rpc.Client
	store  *storage.Store

	endpoint string // this referee's advertised URL

	mu       sync.Mutex
	id       string
	token    string
	leagueID string
	active   map[string]*matchTask
}

// NewService builds a referee that will advertise the given endpoint.
func NewService(cfg *config.Config, store *storage.Store, endpoint string, log *zap.Logger) *Service {
	return &Service{
		cfg:      cfg,
		log:      log.Named("referee"),
		client:   rpc.NewClient(cfg.ReportRetry, cfg.Circuit, log),
		store:    store,
		endpoint: endpoint,
		active:   make(map[string]*matchTask),
	}
}

// Register obtains this referee's identity and token from the manager.
// Registration is the one unauthenticated call.
func (s *Service) Register(ctx context.Context) error {
	req := protocol.RegisterRequest{
		MessageEnvelope: protocol.NewEnvelope(protocol.MsgRefereeRegisterRequest,
			protocol.Sender(string(models.RoleReferee), "unregistered")),
		DisplayName:          s.cfg.DisplayName,
		Endpoint:             s.endpoint,
		Version:              "2.0.0",
		GameTypes:            []string{"even_odd"},
		MaxConcurrentMatches: 4,
	}
	var resp protocol.RegisterResponse
	if err := s.client.Call(ctx, s.cfg.ManagerURL, protocol.MethodRegisterReferee, req, &resp); err != nil {
		return fmt.Errorf("register referee: %w", err)
	}
	if resp.Status != protocol.StatusRegistered {
		return fmt.Errorf("registration rejected: %s", resp.Reason)
	}

	s.mu.Lock()
	s.id = resp.AssignedID
	s.token = resp.AuthToken
	s.leagueID = resp.LeagueID
	s.mu.Unlock()

	s.log.Info("registered with manager",
		zap.String("assigned_id", resp.AssignedID),
		zap.String("league_id", resp.LeagueID))
	return nil
}

// ID returns the manager-assigned referee id ("" before registration).
func (s *Service) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Mount registers the referee's RPC surface.
func (s *Service) Mount(srv *rpc.Server) {
	srv.Register(protocol.MethodAssignMatch, s.handleAssignMatch)
}

// handleAssignMatch acknowledges immediately and runs the match
// asynchronously; completion is reported through report_match_result.
func (s *Service) handleAssignMatch(_ context.Context, env protocol.MessageEnvelope, params json.RawMessage) (any, *protocol.RPCError) {
	var req protocol.AssignMatchRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, protocol.NewRPCError(protocol.CodeInvalidParams, "malformed assignment")
	}
	if req.Match.MatchID == "" || len(req.Endpoints) < 2 {
		return nil, protocol.NewRPCError(protocol.CodeInvalidParams, "assignment missing match or endpoints")
	}

	s.mu.Lock()
	if _, running := s.active[req.Match.MatchID]; running {
		s.mu.Unlock()
		// A redispatch can race a match already in flight; acknowledging
		// keeps the assignment idempotent.
		return protocol.AssignMatchResponse{Status: "ALREADY_RUNNING"}, nil
	}
	task := newMatchTask(s, req.Match, env.RoundID, req.Endpoints)
	s.active[req.Match.MatchID] = task
	s.mu.Unlock()

	s.log.Info("match assigned",
		zap.String("match_id", req.Match.MatchID),
		zap.String("player_a", req.Match.PlayerA),
		zap.String("player_b", req.Match.PlayerB))

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.active, req.Match.MatchID)
			s.mu.Unlock()
		}()
		task.run(context.Background())
	}()

	return protocol.AssignMatchResponse{Status: "ACCEPTED"}, nil
}

// report synchronously delivers the authoritative result to the manager.
func (s *Service) report(ctx context.Context, rec models.MatchRecord) error {
	msg := protocol.MatchResultReportMsg{
		MessageEnvelope: s.envelope(protocol.MsgMatchResultReport, rec.RoundID, rec.MatchID),
		Record:          rec,
	}
	var ack protocol.ReportAck
	if err := s.client.Call(ctx, s.cfg.ManagerURL, protocol.MethodReportMatchResult, msg, &ack); err != nil {
		return err
	}
	if ack.Status == "DUPLICATE" {
		s.log.Warn("manager already had this result", zap.String("match_id", rec.MatchID))
	}
	return nil
}

// persistRecord keeps a local copy of the finished match.
func (s *Service) persistRecord(rec models.MatchRecord) {
	roundID := rec.RoundID
	if roundID == "" {
		roundID = "unscheduled"
	}
	if err := storage.Write(s.store, rec.MatchID, rec, "matches", s.leagueID, roundID, rec.MatchID+".json"); err != nil {
		s.log.Error("persist match record failed", zap.String("match_id", rec.MatchID), zap.Error(err))
	}
}

func (s *Service) envelope(messageType, roundID, matchID string) protocol.MessageEnvelope {
	s.mu.Lock()
	id, token, leagueID := s.id, s.token, s.leagueID
	s.mu.Unlock()
	env := protocol.NewEnvelope(messageType, protocol.Sender(string(models.RoleReferee), id))
	env.AuthToken = token
	env.LeagueID = leagueID
	env.RoundID = roundID
	env.MatchID = matchID
	return env
}

// invitationTimeout and choiceTimeout derive the phase deadlines.
func (s *Service) invitationTimeout() time.Duration {
	return time.Duration(s.cfg.InvitationTimeoutS * float64(time.Second))
}

func (s *Service) choiceTimeout() time.Duration {
	return time.Duration(s.cfg.ChoiceTimeoutS * float64(time.Second))
}
