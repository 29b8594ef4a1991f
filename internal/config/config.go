package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// RetryConfig is the outbound RPC retry policy.
type RetryConfig struct {
	MaxAttempts   int     `json:"max_attempts"`
	InitialDelayS float64 `json:"initial_delay_s"`
	Multiplier    float64 `json:"multiplier"`
}

// CircuitConfig is the per-endpoint circuit breaker policy.
type CircuitConfig struct {
	FailureThreshold int     `json:"failure_threshold"`
	ResetTimeoutS    float64 `json:"reset_timeout_s"`
	SuccessThreshold int     `json:"success_threshold"`
}

// AdaptiveConfig tunes the adaptive strategy.
type AdaptiveConfig struct {
	MinSamples int     `json:"min_samples"`
	Alpha      float64 `json:"alpha"`
	UseMarkov  bool    `json:"use_markov"`
	UseStreak  bool    `json:"use_streak"`
}

// ScoringConfig is the standings point table.
type ScoringConfig struct {
	Win  int `json:"win"`
	Draw int `json:"draw"`
	Loss int `json:"loss"`
}

type Config struct {
	// Environment
	Environment string

	// League identity
	LeagueID string

	// Registration caps
	MaxPlayers  int
	MaxReferees int

	// Match phase deadlines
	InvitationTimeoutS float64
	ChoiceTimeoutS     float64

	// RPC policies
	ReportRetry RetryConfig
	Circuit     CircuitConfig

	// Orchestrator
	HealthCheckIntervalS float64
	AgentStartupTimeoutS float64
	MinReferees          int
	MinPlayers           int
	AgentsFile           string
	DashboardPort        string
	DashboardOrigin      string

	// Strategy
	Adaptive AdaptiveConfig

	// Scoring
	Scoring ScoringConfig

	// Process identity / wiring
	Port        string
	ManagerURL  string
	DisplayName string
	Strategy    string

	// Shared data directory for persisted state and logs
	DataDir string

	// Optional infrastructure
	DatabaseURL string
	RedisURL    string

	// Dashboard admin auth
	JWTSecret string

	// Shared secret the orchestrator presents on manager control methods
	// (start_league, redispatch_matches). Minted by the orchestrator and
	// handed to the manager process it spawns; either side generates one
	// when run standalone.
	OrchestratorToken string
}

// Load builds the configuration from defaults, .env and the environment.
// A --config overlay, if any, is applied separately with ApplyFile.
func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		Environment: getEnv("APP_ENV", "development"),

		LeagueID:    getEnv("LEAGUE_ID", "league-001"),
		MaxPlayers:  getEnvInt("MAX_PLAYERS", 16),
		MaxReferees: getEnvInt("MAX_REFEREES", 10),

		InvitationTimeoutS: getEnvFloat("INVITATION_TIMEOUT_S", 5),
		ChoiceTimeoutS:     getEnvFloat("CHOICE_TIMEOUT_S", 30),

		ReportRetry: RetryConfig{
			MaxAttempts:   getEnvInt("REPORT_RETRY_MAX_ATTEMPTS", 3),
			InitialDelayS: getEnvFloat("REPORT_RETRY_INITIAL_DELAY_S", 2),
			Multiplier:    getEnvFloat("REPORT_RETRY_MULTIPLIER", 2),
		},
		Circuit: CircuitConfig{
			FailureThreshold: getEnvInt("CIRCUIT_FAILURE_THRESHOLD", 5),
			ResetTimeoutS:    getEnvFloat("CIRCUIT_RESET_TIMEOUT_S", 60),
			SuccessThreshold: getEnvInt("CIRCUIT_SUCCESS_THRESHOLD", 2),
		},

		HealthCheckIntervalS: getEnvFloat("HEALTH_CHECK_INTERVAL_S", 5),
		AgentStartupTimeoutS: getEnvFloat("AGENT_STARTUP_TIMEOUT_S", 30),
		MinReferees:          getEnvInt("MIN_REFEREES", 2),
		MinPlayers:           getEnvInt("MIN_PLAYERS", 4),
		AgentsFile:           getEnv("AGENTS_FILE", "agents.json"),
		DashboardPort:        getEnv("DASHBOARD_PORT", "9000"),
		DashboardOrigin:      getEnv("DASHBOARD_ORIGIN", ""),

		Adaptive: AdaptiveConfig{
			MinSamples: getEnvInt("ADAPTIVE_MIN_SAMPLES", 5),
			Alpha:      getEnvFloat("ADAPTIVE_ALPHA", 0.05),
			UseMarkov:  getEnvBool("ADAPTIVE_USE_MARKOV", false),
			UseStreak:  getEnvBool("ADAPTIVE_USE_STREAK", false),
		},

		Scoring: ScoringConfig{
			Win:  getEnvInt("SCORING_WIN", 3),
			Draw: getEnvInt("SCORING_DRAW", 1),
			Loss: getEnvInt("SCORING_LOSS", 0),
		},

		Port:        getEnv("APP_PORT", ""),
		ManagerURL:  getEnv("MANAGER_URL", "http://localhost:8000"),
		DisplayName: getEnv("DISPLAY_NAME", ""),
		Strategy:    getEnv("STRATEGY", "random"),

		DataDir: getEnv("DATA_DIR", "data"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		JWTSecret: getEnv("JWT_SECRET", "change-me-in-production"),

		OrchestratorToken: getEnv("ORCHESTRATOR_TOKEN", ""),
	}
}

// fileOverlay mirrors the recognized option set of the --config JSON file.
type fileOverlay struct {
	LeagueID             *string         `json:"league_id"`
	MaxPlayers           *int            `json:"max_players"`
	MaxReferees          *int            `json:"max_referees"`
	InvitationTimeoutS   *float64        `json:"invitation_timeout_s"`
	ChoiceTimeoutS       *float64        `json:"choice_timeout_s"`
	ReportRetry          *RetryConfig    `json:"report_retry"`
	Circuit              *CircuitConfig  `json:"circuit"`
	HealthCheckIntervalS *float64        `json:"health_check_interval_s"`
	AgentStartupTimeoutS *float64        `json:"agent_startup_timeout_s"`
	MinReferees          *int            `json:"min_referees"`
	MinPlayers           *int            `json:"min_players"`
	AgentsFile           *string         `json:"agents_file"`
	DashboardPort        *string         `json:"dashboard_port"`
	DashboardOrigin      *string         `json:"dashboard_origin"`
	Adaptive             *AdaptiveConfig `json:"adaptive"`
	Scoring              *ScoringConfig  `json:"scoring"`
	Port                 *string         `json:"port"`
	ManagerURL           *string         `json:"manager_url"`
	DisplayName          *string         `json:"display_name"`
	Strategy             *string         `json:"strategy"`
	DataDir              *string         `json:"data_dir"`
	DatabaseURL          *string         `json:"database_url"`
	RedisURL             *string         `json:"redis_url"`
}

var recognizedKeys = map[string]bool{
	"league_id": true, "max_players": true, "max_referees": true,
	"invitation_timeout_s": true, "choice_timeout_s": true,
	"report_retry": true, "circuit": true,
	"health_check_interval_s": true, "agent_startup_timeout_s": true,
	"min_referees": true, "min_players": true,
	"agents_file": true, "dashboard_port": true, "dashboard_origin": true,
	"adaptive": true, "scoring": true,
	"port": true, "manager_url": true, "display_name": true,
	"strategy": true, "data_dir": true, "database_url": true, "redis_url": true,
}

// ApplyFile overlays a --config JSON file onto cfg. Unknown keys are a
// configuration error so typos fail fast (exit code 2 at the caller).
func (c *Config) ApplyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	for k := range keys {
		if !recognizedKeys[k] {
			return fmt.Errorf("config file %s: unrecognized option %q", path, k)
		}
	}

	var o fileOverlay
	if err := json.Unmarshal(raw, &o); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	apply(&c.LeagueID, o.LeagueID)
	apply(&c.MaxPlayers, o.MaxPlayers)
	apply(&c.MaxReferees, o.MaxReferees)
	apply(&c.InvitationTimeoutS, o.InvitationTimeoutS)
	apply(&c.ChoiceTimeoutS, o.ChoiceTimeoutS)
	apply(&c.ReportRetry, o.ReportRetry)
	apply(&c.Circuit, o.Circuit)
	apply(&c.HealthCheckIntervalS, o.HealthCheckIntervalS)
	apply(&c.AgentStartupTimeoutS, o.AgentStartupTimeoutS)
	apply(&c.MinReferees, o.MinReferees)
	apply(&c.MinPlayers, o.MinPlayers)
	apply(&c.AgentsFile, o.AgentsFile)
	apply(&c.DashboardPort, o.DashboardPort)
	apply(&c.DashboardOrigin, o.DashboardOrigin)
	apply(&c.Adaptive, o.Adaptive)
	apply(&c.Scoring, o.Scoring)
	apply(&c.Port, o.Port)
	apply(&c.ManagerURL, o.ManagerURL)
	apply(&c.DisplayName, o.DisplayName)
	apply(&c.Strategy, o.Strategy)
	apply(&c.DataDir, o.DataDir)
	apply(&c.DatabaseURL, o.DatabaseURL)
	apply(&c.RedisURL, o.RedisURL)
	return nil
}

func apply[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
