package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the agent logger: JSON Lines to
// <dataDir>/logs/<role>/<agentID>/<agentID>.jsonl, plus a console core on
// stderr outside production. The agent_id field is always present so the
// log aggregator can attribute lines without guessing.
func New(dataDir, role, agentID, environment string) (*zap.Logger, error) {
	logDir := filepath.Join(dataDir, "logs", role, agentID)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	logPath := filepath.Join(logDir, agentID+".jsonl")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.LevelKey = "level"
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), zap.InfoLevel),
	}
	if environment != "production" {
		consoleCfg := zap.NewDevelopmentEncoderConfig()
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleCfg), zapcore.AddSync(os.Stderr), zap.DebugLevel))
	}

	logger := zap.New(zapcore.NewTee(cores...)).With(
		zap.String("agent_id", agentID),
		zap.String("role", role),
	)
	return logger, nil
}
