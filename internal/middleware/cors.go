package middleware

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/parityleague/backend/internal/config"
)

// CORSMiddleware returns the CORS policy for the dashboard API. Development
// allows the usual local frontend ports; production requires an explicit
// origin from configuration.
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	corsConfig := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Length", "Content-Type", "Authorization",
			"Accept", "Cache-Control", "X-Requested-With",
		},
		MaxAge: 12 * time.Hour,
	}

	if cfg.Environment == "development" {
		corsConfig.AllowOrigins = []string{
			"http://localhost:5173",
			"http://127.0.0.1:5173",
		}
		corsConfig.AllowCredentials = true
	} else {
		if cfg.DashboardOrigin != "" {
			corsConfig.AllowOrigins = []string{cfg.DashboardOrigin}
		} else {
			// No origin configured: same-origin requests only.
			corsConfig.AllowOriginFunc = func(string) bool { return false }
		}
		corsConfig.AllowCredentials = true
	}
	return cors.New(corsConfig)
}

// WebSocketCORSCheck validates the Origin header on websocket upgrades.
func WebSocketCORSCheck(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.ToLower(c.GetHeader("Connection")) != "upgrade" ||
			strings.ToLower(c.GetHeader("Upgrade")) != "websocket" {
			c.Next()
			return
		}

		origin := c.GetHeader("Origin")
		if origin == "" {
			// Non-browser clients (monitoring scripts) send no Origin.
			c.Next()
			return
		}

		var allowed bool
		if cfg.Environment == "development" {
			allowed = strings.HasPrefix(origin, "http://localhost:") ||
				strings.HasPrefix(origin, "http://127.0.0.1:")
		} else {
			allowed = cfg.DashboardOrigin != "" && origin == cfg.DashboardOrigin
		}
		if !allowed {
			c.JSON(403, gin.H{"error": "websocket origin not allowed"})
			c.Abort()
			return
		}
		c.Next()
	}
}
