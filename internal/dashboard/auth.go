package dashboard

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/parityleague/backend/internal/storage"
)

// AdminAccount is one dashboard login. Credentials are seeded with the
// seed-admin tool; only the bcrypt hash is stored.
type AdminAccount struct {
	Username     string `json:"username"`
	DisplayName  string `json:"display_name"`
	PasswordHash string `json:"password_hash"`
}

// LoadAdmins reads the seeded admin accounts, keyed by username.
func LoadAdmins(store *storage.Store) (map[string]AdminAccount, error) {
	doc, err := storage.Read[[]AdminAccount](store, "dashboard", "admins.json")
	if err != nil {
		return nil, fmt.Errorf("load admin accounts: %w", err)
	}
	byName := make(map[string]AdminAccount, len(doc.Data))
	for _, a := range doc.Data {
		byName[a.Username] = a
	}
	return byName, nil
}

// SaveAdmin upserts one admin account, hashing the plain password.
func SaveAdmin(store *storage.Store, username, displayName, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	accounts := make(map[string]AdminAccount)
	if existing, err := LoadAdmins(store); err == nil {
		accounts = existing
	}
	accounts[username] = AdminAccount{
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: string(hash),
	}

	list := make([]AdminAccount, 0, len(accounts))
	for _, a := range accounts {
		list = append(list, a)
	}
	return storage.Write(store, "admins", list, "dashboard", "admins.json")
}

// handleLogin verifies credentials and issues a 24 h JWT.
func (s *Server) handleLogin(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.BindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return
	}

	admins, err := LoadAdmins(s.store)
	if err != nil {
		s.log.Error("load admins failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	admin, ok := admins[req.Username]
	if !ok || bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(req.Password)) != nil {
		s.log.Warn("login rejected", zap.String("username", req.Username))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	exp := time.Now().Add(24 * time.Hour)
	claims := jwt.MapClaims{
		"sub": admin.Username,
		"exp": exp.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		s.log.Error("sign token failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	s.log.Info("admin logged in", zap.String("username", admin.Username))
	c.JSON(http.StatusOK, gin.H{
		"token": signed,
		"admin": gin.H{
			"username":     admin.Username,
			"display_name": admin.DisplayName,
		},
	})
}

// authMiddleware validates the bearer JWT on control endpoints.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		raw := strings.TrimPrefix(auth, "Bearer ")

		parsed, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing method")
			}
			return []byte(s.cfg.JWTSecret), nil
		})
		if err != nil || !parsed.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		claims, ok := parsed.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if sub, ok := claims["sub"].(string); ok {
			c.Set("admin", sub)
		}
		c.Next()
	}
}
