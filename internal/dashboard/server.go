package dashboard

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/parityleague/backend/internal/config"
	"github.com/parityleague/backend/internal/middleware"
	"github.com/parityleague/backend/internal/models"
	"github.com/parityleague/backend/internal/storage"
	"github.com/parityleague/backend/internal/ws"
)

// HealthSource supplies the live agent health table.
type HealthSource interface {
	Snapshot() []models.AgentHealth
}

// Server is the orchestrator's dashboard: a websocket event stream plus a
// small authenticated control API.
type Server struct {
	cfg    *config.Config
	log    *zap.Logger
	store  *storage.Store
	hub    *ws.Hub
	health HealthSource

	engine *gin.Engine
	srv    *http.Server
}

// NewServer wires the dashboard routes. health may be nil.
func NewServer(cfg *config.Config, store *storage.Store, hub *ws.Hub, health HealthSource, log *zap.Logger) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		cfg:    cfg,
		log:    log.Named("dashboard"),
		store:  store,
		hub:    hub,
		health: health,
		engine: gin.New(),
	}
	s.engine.Use(gin.Recovery())
	s.engine.Use(middleware.CORSMiddleware(cfg))

	s.engine.GET("/health", s.handleHealthz)
	s.engine.POST("/api/login", s.handleLogin)
	s.engine.GET("/ws", middleware.WebSocketCORSCheck(cfg), s.handleWS)

	authed := s.engine.Group("/api", s.authMiddleware())
	authed.GET("/agents", s.handleAgents)
	authed.GET("/stream/status", s.handleStreamStatus)
	authed.POST("/stream/pause", s.handlePause)
	authed.POST("/stream/resume", s.handleResume)
	return s
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "role": "dashboard"})
}

func (s *Server) handleWS(c *gin.Context) {
	s.hub.Serve(c.Writer, c.Request)
}

// handleAgents returns the orchestrator's health view of every agent.
func (s *Server) handleAgents(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{"agents": []models.AgentHealth{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": s.health.Snapshot()})
}

func (s *Server) handleStreamStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"paused": s.hub.Paused()})
}

func (s *Server) handlePause(c *gin.Context) {
	s.hub.SetPaused(true)
	s.log.Info("stream paused", zap.String("admin", c.GetString("admin")))
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (s *Server) handleResume(c *gin.Context) {
	s.hub.SetPaused(false)
	s.log.Info("stream resumed", zap.String("admin", c.GetString("admin")))
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

// Run serves the dashboard until Shutdown.
func (s *Server) Run(port string) error {
	s.srv = &http.Server{Addr: ":" + port, Handler: s.engine}
	s.log.Info("dashboard listening", zap.String("port", port))
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
