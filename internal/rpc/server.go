package rpc

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/parityleague/backend/internal/models"
	"github.com/parityleague/backend/internal/protocol"
)

const serverVersion = "2.0.0"

// Handler processes one authenticated league RPC. Params is the raw request
// params (envelope fields plus the method body, one flat object).
type Handler func(ctx context.Context, env protocol.MessageEnvelope, params json.RawMessage) (any, *protocol.RPCError)

// TokenLookup resolves the minted auth token for a sender. ok is false when
// the sender is unknown.
type TokenLookup func(role, id string) (token string, ok bool)

// Server is the HTTP face every agent exposes: GET /health, POST /initialize
// and POST /mcp with JSON-RPC dispatch.
type Server struct {
	agentID string
	role    models.Role
	log     *zap.Logger

	handlers map[string]Handler
	exempt   map[string]bool // methods that skip auth (registration)
	tokens   TokenLookup

	engine *gin.Engine
	srv    *http.Server
}

// NewServer builds an agent server. tokens may be nil for agents that accept
// only calls from already-authenticated identities they stored at
// registration time (player, referee).
func NewServer(agentID string, role models.Role, environment string, tokens TokenLookup, log *zap.Logger) *Server {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		agentID:  agentID,
		role:     role,
		log:      log.Named("rpc"),
		handlers: make(map[string]Handler),
		exempt:   make(map[string]bool),
		tokens:   tokens,
		engine:   gin.New(),
	}
	s.engine.Use(gin.Recovery())

	s.engine.GET("/health", s.handleHealth)
	s.engine.POST("/initialize", s.handleInitialize)
	s.engine.POST("/mcp", s.handleMCP)
	return s
}

// Register adds an authenticated method to the dispatch table.
func (s *Server) Register(method string, h Handler) {
	s.handlers[method] = h
}

// RegisterPublic adds a method exempt from auth (registration only).
func (s *Server) RegisterPublic(method string, h Handler) {
	s.handlers[method] = h
	s.exempt[method] = true
}

// Engine exposes the router so callers can mount extra routes (dashboard).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) methods() []string {
	out := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"agent_id": s.agentID,
		"role":     s.role,
		"tools":    s.methods(),
	})
}

func (s *Server) handleInitialize(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"protocolVersion": protocol.ProtocolVersion,
		"serverInfo": gin.H{
			"name":    s.agentID,
			"version": serverVersion,
		},
		"capabilities": gin.H{
			"tools": s.methods(),
		},
	})
}

func (s *Server) handleMCP(c *gin.Context) {
	var req protocol.Request
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		s.respondErr(c, nil, protocol.NewRPCError(protocol.CodeParseError, "parse error"))
		return
	}
	if !req.Valid() {
		s.respondErr(c, req.ID, protocol.NewRPCError(protocol.CodeInvalidRequest, "invalid request"))
		return
	}

	handler, ok := s.handlers[req.Method]
	if !ok {
		s.respondErr(c, req.ID, protocol.NewRPCError(protocol.CodeMethodNotFound,
			fmt.Sprintf("method not found: %s", req.Method)))
		return
	}

	var env protocol.MessageEnvelope
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &env); err != nil {
			s.respondErr(c, req.ID, protocol.NewRPCError(protocol.CodeInvalidParams, "malformed params"))
			return
		}
	}
	if err := env.Validate(); err != nil {
		s.respondErr(c, req.ID, protocol.NewRPCError(protocol.CodeInvalidParams, err.Error()))
		return
	}

	// Auth runs before the handler so a rejected request mutates nothing.
	if !s.exempt[req.Method] {
		if rpcErr := s.authenticate(&env); rpcErr != nil {
			s.respondErr(c, req.ID, rpcErr)
			return
		}
	}

	result, rpcErr := handler(c.Request.Context(), env, req.Params)
	if rpcErr != nil {
		s.respondErr(c, req.ID, rpcErr)
		return
	}

	raw, err := json.Marshal(result)
	if err != nil {
		s.log.Error("marshal result failed", zap.String("method", req.Method), zap.Error(err))
		s.respondErr(c, req.ID, protocol.NewRPCError(protocol.CodeInternalError, "internal error"))
		return
	}
	c.JSON(http.StatusOK, protocol.Response{JSONRPC: "2.0", Result: raw, ID: req.ID})
}

func (s *Server) authenticate(env *protocol.MessageEnvelope) *protocol.RPCError {
	if env.AuthToken == "" {
		return protocol.NewDomainRPCError(
			protocol.NewDomainError(protocol.ErrAuthTokenMissing, "auth_token is required").
				WithContext("sender", env.Sender))
	}
	role, id, err := protocol.SplitSender(env.Sender)
	if err != nil {
		return protocol.NewDomainRPCError(
			protocol.NewDomainError(protocol.ErrAuthTokenInvalid, err.Error()))
	}
	// Only the manager holds the token table. Agents without one accept any
	// well-formed bearer token (trusted network); the manager rejects
	// everything it did not mint.
	if s.tokens == nil {
		return nil
	}
	want, _ := s.tokens(role, id)
	// Constant-time compare; an unknown sender compares against the empty
	// string and fails the same way as a bad token.
	if want == "" || subtle.ConstantTimeCompare([]byte(want), []byte(env.AuthToken)) != 1 {
		return protocol.NewDomainRPCError(
			protocol.NewDomainError(protocol.ErrAuthTokenInvalid, "auth token does not match").
				WithContext("sender", env.Sender))
	}
	return nil
}

func (s *Server) respondErr(c *gin.Context, id json.RawMessage, rpcErr *protocol.RPCError) {
	c.JSON(http.StatusOK, protocol.Response{JSONRPC: "2.0", Error: rpcErr, ID: id})
}

// Run serves on the given port until Shutdown.
func (s *Server) Run(port string) error {
	s.srv = &http.Server{Addr: ":" + port, Handler: s.engine}
	s.log.Info("listening", zap.String("port", port))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
