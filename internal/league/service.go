package league

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/parityleague/backend/internal/archive"
	"github.com/parityleague/backend/internal/config"
	"github.com/parityleague/backend/internal/game"
	"github.com/parityleague/backend/internal/models"
	"github.com/parityleague/backend/internal/protocol"
	"github.com/parityleague/backend/internal/rpc"
	"github.com/parityleague/backend/internal/storage"
)

// ManagerID is the manager's fixed agent id.
const ManagerID = "LM01"

// Service is the league manager: registry, scheduler, standings and round
// coordination. All tournament state is owned here; every mutation runs
// under the tournament lock and queries return materialized snapshots.
type Service struct {
	cfg    *config.Config
	log    *zap.Logger
	client *rpc.Client
	store  *storage.Store
	arch   *archive.Archive // nil unless DATABASE_URL is configured

	sender string
	token  string // manager's own bearer token for outbound calls

	mu        sync.Mutex
	state     *game.Machine[game.TournamentState]
	registry  *Registry
	schedule  *models.Schedule
	standings *Table
	records   map[string]*models.MatchRecord
	round     *roundRun
	roundIdx  int
	champion  string
}

// roundRun is the coordinator state for the active round.
type roundRun struct {
	machine     *game.Machine[game.RoundState]
	number      int // 1-based
	outstanding map[string]bool
}

// NewService wires the manager. arch may be nil.
func NewService(cfg *config.Config, store *storage.Store, arch *archive.Archive, log *zap.Logger) (*Service, error) {
	token, err := mintToken(ManagerID)
	if err != nil {
		return nil, err
	}
	s := &Service{
		cfg:       cfg,
		log:       log.Named("league"),
		client:    rpc.NewClient(cfg.ReportRetry, cfg.Circuit, log),
		store:     store,
		arch:      arch,
		sender:    protocol.Sender(string(models.RoleManager), ManagerID),
		token:     token,
		state:     game.NewTournamentMachine(cfg.LeagueID, log),
		registry:  NewRegistry(cfg.MaxPlayers, cfg.MaxReferees),
		standings: NewTable(nil, cfg.Scoring),
		records:   make(map[string]*models.MatchRecord),
	}
	if err := s.state.To(game.TournamentRegistration); err != nil {
		return nil, err
	}
	if cfg.OrchestratorToken != "" {
		s.registry.SetToken("orchestrator", "ORCH01", cfg.OrchestratorToken)
	}
	return s, nil
}

// TokenLookup exposes the token table for the RPC server's auth layer.
func (s *Service) TokenLookup(role, id string) (string, bool) {
	return s.registry.Token(role, id)
}

// Mount registers the manager's RPC surface.
func (s *Service) Mount(srv *rpc.Server) {
	srv.RegisterPublic(protocol.MethodRegisterReferee, s.handleRegisterReferee)
	srv.RegisterPublic(protocol.MethodRegisterPlayer, s.handleRegisterPlayer)
	srv.Register(protocol.MethodStartLeague, s.handleStartLeague)
	srv.Register(protocol.MethodReportMatchResult, s.handleReportMatchResult)
	srv.Register(protocol.MethodLeagueQuery, s.handleLeagueQuery)
	srv.Register(protocol.MethodRedispatchMatches, s.handleRedispatch)
}

func (s *Service) handleRegisterPlayer(_ context.Context, _ protocol.MessageEnvelope, params json.RawMessage) (any, *protocol.RPCError) {
	return s.register(params, models.RolePlayer)
}

func (s *Service) handleRegisterReferee(_ context.Context, _ protocol.MessageEnvelope, params json.RawMessage) (any, *protocol.RPCError) {
	return s.register(params, models.RoleReferee)
}

func (s *Service) register(params json.RawMessage, role models.Role) (any, *protocol.RPCError) {
	var req protocol.RegisterRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, protocol.NewRPCError(protocol.CodeInvalidParams, "malformed registration")
	}
	if req.Endpoint == "" {
		return nil, protocol.NewRPCError(protocol.CodeInvalidParams, "endpoint is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.Is(game.TournamentRegistration) {
		return protocol.RegisterResponse{
			Status:   protocol.StatusRejected,
			LeagueID: s.cfg.LeagueID,
			Reason:   "registration is closed",
		}, nil
	}

	identity := models.AgentIdentity{
		DisplayName:          req.DisplayName,
		Endpoint:             req.Endpoint,
		Version:              req.Version,
		GameTypes:            req.GameTypes,
		MaxConcurrentMatches: req.MaxConcurrentMatches,
	}

	var (
		assigned models.AgentIdentity
		token    string
		err      error
	)
	if role == models.RolePlayer {
		assigned, token, err = s.registry.RegisterPlayer(identity)
	} else {
		assigned, token, err = s.registry.RegisterReferee(identity)
	}
	if err != nil {
		return protocol.RegisterResponse{
			Status:   protocol.StatusRejected,
			LeagueID: s.cfg.LeagueID,
			Reason:   err.Error(),
		}, nil
	}

	if role == models.RolePlayer {
		s.standings.AddPlayer(assigned.ID)
	}
	s.persistRegistry()

	s.log.Info("agent registered",
		zap.String("assigned_id", assigned.ID),
		zap.String("role", string(role)),
		zap.String("endpoint", assigned.Endpoint))

	return protocol.RegisterResponse{
		Status:     protocol.StatusRegistered,
		AssignedID: assigned.ID,
		AuthToken:  token,
		LeagueID:   s.cfg.LeagueID,
	}, nil
}

func (s *Service) handleStartLeague(_ context.Context, env protocol.MessageEnvelope, _ json.RawMessage) (any, *protocol.RPCError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.Is(game.TournamentRegistration) {
		return nil, protocol.NewDomainRPCError(
			protocol.NewDomainError(protocol.ErrServiceUnavailable,
				fmt.Sprintf("league cannot start from state %s", s.state.State())))
	}

	players := s.registry.Players()
	ids := make([]string, len(players))
	for i, p := range players {
		ids[i] = p.ID
	}
	schedule, err := BuildSchedule(s.cfg.LeagueID, ids, s.registry.Referees())
	if err != nil {
		return nil, protocol.NewDomainRPCError(
			protocol.NewDomainError(protocol.ErrServiceUnavailable, err.Error()))
	}

	if err := s.state.To(game.TournamentScheduling); err != nil {
		return nil, protocol.NewRPCError(protocol.CodeInternalError, err.Error())
	}
	s.schedule = schedule
	s.persistSchedule()

	if err := s.state.To(game.TournamentRoundActive); err != nil {
		return nil, protocol.NewRPCError(protocol.CodeInternalError, err.Error())
	}

	total := 0
	for _, r := range schedule.Rounds {
		total += len(r.Matches)
	}
	s.log.Info("league started",
		zap.String("league_id", s.cfg.LeagueID),
		zap.Int("players", len(ids)),
		zap.Int("rounds", len(schedule.Rounds)),
		zap.Int("matches", total))

	s.roundIdx = 0
	go s.startRound(0)

	return protocol.StartLeagueResponse{
		Status:       "STARTED",
		TotalRounds:  len(schedule.Rounds),
		TotalMatches: total,
	}, nil
}

func (s *Service) handleReportMatchResult(_ context.Context, env protocol.MessageEnvelope, params json.RawMessage) (any, *protocol.RPCError) {
	var req protocol.MatchResultReportMsg
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, protocol.NewRPCError(protocol.CodeInvalidParams, "malformed match result report")
	}
	rec := req.Record

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == nil {
		return nil, protocol.NewDomainRPCError(
			protocol.NewDomainError(protocol.ErrUnknownMatch, "no schedule yet"))
	}
	match, roundID, ok := FindMatch(s.schedule, rec.MatchID)
	if !ok {
		return nil, protocol.NewDomainRPCError(
			protocol.NewDomainError(protocol.ErrUnknownMatch, "match not in schedule").
				WithContext("match_id", rec.MatchID))
	}

	// At-most-once: the first accepted report for a match wins.
	if _, done := s.records[rec.MatchID]; done {
		s.log.Warn("duplicate match report ignored",
			zap.String("match_id", rec.MatchID),
			zap.String("sender", env.Sender))
		return protocol.ReportAck{Status: "DUPLICATE"}, nil
	}

	// The record's players must be the scheduled pair.
	scheduled := map[string]bool{match.PlayerA: true, match.PlayerB: true}
	if !scheduled[rec.Players[0]] || !scheduled[rec.Players[1]] || rec.Players[0] == rec.Players[1] {
		return nil, protocol.NewDomainRPCError(
			protocol.NewDomainError(protocol.ErrUnknownMatch, "players do not match schedule").
				WithContext("match_id", rec.MatchID))
	}

	rec.RoundID = roundID
	stored := rec
	s.records[rec.MatchID] = &stored
	s.standings.Apply(rec)

	s.persistRecord(roundID, rec)
	s.persistStandings()
	s.arch.RecordMatch(s.cfg.LeagueID, rec)
	s.arch.SnapshotStandings(s.cfg.LeagueID, s.standings.Snapshot())

	s.log.Info("match result recorded",
		zap.String("match_id", rec.MatchID),
		zap.String("status", string(rec.Status)),
		zap.Stringp("winner", rec.WinnerID))

	s.completeMatchLocked(rec.MatchID)

	return protocol.ReportAck{Status: "ACCEPTED"}, nil
}

func (s *Service) handleLeagueQuery(_ context.Context, _ protocol.MessageEnvelope, params json.RawMessage) (any, *protocol.RPCError) {
	var req protocol.LeagueQueryRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, protocol.NewRPCError(protocol.CodeInvalidParams, "malformed query")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	resp := protocol.LeagueQueryResponse{
		TournamentState: string(s.state.State()),
		ChampionID:      s.champion,
	}

	switch req.QueryType {
	case protocol.QueryStandings, "":
		resp.Standings = s.standings.Snapshot()
	case protocol.QuerySchedule:
		if s.schedule != nil {
			cp := *s.schedule
			cp.Rounds = append([]models.Round(nil), s.schedule.Rounds...)
			resp.Schedule = &cp
		}
	case protocol.QueryRound:
		if s.round != nil {
			out := make([]string, 0, len(s.round.outstanding))
			for id := range s.round.outstanding {
				out = append(out, id)
			}
			resp.Round = &protocol.RoundStatus{
				RoundNumber: s.round.number,
				TotalRounds: len(s.schedule.Rounds),
				State:       string(s.round.machine.State()),
				Outstanding: out,
			}
		}
	case protocol.QueryAgents:
		resp.Agents = append(s.registry.Referees(), s.registry.Players()...)
	case protocol.QueryMatch:
		if rec, ok := s.records[req.QueryID]; ok {
			cp := *rec
			resp.Match = &cp
		}
	default:
		return nil, protocol.NewRPCError(protocol.CodeInvalidParams,
			fmt.Sprintf("unknown query_type %q", req.QueryType))
	}
	return resp, nil
}

func (s *Service) handleRedispatch(_ context.Context, _ protocol.MessageEnvelope, _ json.RawMessage) (any, *protocol.RPCError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.round == nil || !s.state.Is(game.TournamentRoundActive) {
		return protocol.RedispatchResponse{Redispatched: 0}, nil
	}

	round := s.schedule.Rounds[s.roundIdx]
	var pending []models.Match
	for _, m := range round.Matches {
		if s.round.outstanding[m.MatchID] {
			pending = append(pending, m)
		}
	}
	go s.dispatchMatches(round.RoundID, pending)

	s.log.Info("redispatching outstanding matches",
		zap.Int("count", len(pending)),
		zap.Int("round", s.round.number))
	return protocol.RedispatchResponse{Redispatched: len(pending)}, nil
}

// Persistence helpers. Callers hold the tournament lock.

func (s *Service) persistRegistry() {
	leagueDir := []string{"leagues", s.cfg.LeagueID}
	if err := storage.Write(s.store, s.cfg.LeagueID, s.registry.Players(), append(leagueDir, "players.json")...); err != nil {
		s.log.Error("persist players failed", zap.Error(err))
	}
	if err := storage.Write(s.store, s.cfg.LeagueID, s.registry.Referees(), append(leagueDir, "referees.json")...); err != nil {
		s.log.Error("persist referees failed", zap.Error(err))
	}
}

func (s *Service) persistSchedule() {
	if err := storage.Write(s.store, s.cfg.LeagueID, s.schedule, "leagues", s.cfg.LeagueID, "schedule.json"); err != nil {
		s.log.Error("persist schedule failed", zap.Error(err))
	}
}

func (s *Service) persistStandings() {
	if err := storage.Write(s.store, s.cfg.LeagueID, s.standings.Snapshot(), "leagues", s.cfg.LeagueID, "standings.json"); err != nil {
		s.log.Error("persist standings failed", zap.Error(err))
	}
}

func (s *Service) persistRecord(roundID string, rec models.MatchRecord) {
	if err := storage.Write(s.store, rec.MatchID, rec, "matches", s.cfg.LeagueID, roundID, rec.MatchID+".json"); err != nil {
		s.log.Error("persist match record failed", zap.String("match_id", rec.MatchID), zap.Error(err))
	}
}
