package orchestrator

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LogLine is one structured line lifted from an agent's log file.
type LogLine struct {
	AgentID string `json:"agent_id"`
	Level   string `json:"level"`
	Message string `json:"msg"`
	Time    string `json:"ts"`
}

// Tailer follows every agent's JSON Lines log under the data directory and
// surfaces ERROR and FATAL lines to the dashboard.
type Tailer struct {
	root string // <dataDir>/logs
	log  *zap.Logger
	pub  Publisher

	mu      sync.Mutex
	tailing map[string]bool
}

// NewTailer builds a tailer over dataDir's logs tree. pub may be nil.
func NewTailer(dataDir string, pub Publisher, log *zap.Logger) *Tailer {
	if pub == nil {
		pub = nopPublisher{}
	}
	return &Tailer{
		root:    filepath.Join(dataDir, "logs"),
		log:     log.Named("logtail"),
		pub:     pub,
		tailing: make(map[string]bool),
	}
}

// Run discovers log files as agents create them and tails each until ctx is
// cancelled.
func (t *Tailer) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		t.discover(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (t *Tailer) discover(ctx context.Context) {
	matches, err := filepath.Glob(filepath.Join(t.root, "*", "*", "*.jsonl"))
	if err != nil {
		return
	}
	for _, path := range matches {
		t.mu.Lock()
		already := t.tailing[path]
		if !already {
			t.tailing[path] = true
		}
		t.mu.Unlock()
		if !already {
			go t.tail(ctx, path)
		}
	}
}

// tail follows one file from its current end. Agent logs are append-only.
func (t *Tailer) tail(ctx context.Context, path string) {
	f, err := os.Open(path)
	if err != nil {
		t.log.Warn("open log file failed", zap.String("path", path), zap.Error(err))
		return
	}
	defer f.Close()
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return
	}

	t.log.Info("tailing", zap.String("path", path))
	agentID := t.agentIDFromPath(path)
	reader := bufio.NewReader(f)
	var partial []byte
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 && err == nil {
			if partial != nil {
				line = append(partial, line...)
				partial = nil
			}
			t.forward(agentID, line)
			continue
		}
		// Keep an incomplete trailing line until its newline arrives.
		if len(line) > 0 {
			partial = append(partial, line...)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// agentIDFromPath recovers the owning agent from the log tree layout,
// <root>/<role>/<agent_id>/<file>.jsonl.
func (t *Tailer) agentIDFromPath(path string) string {
	rel, err := filepath.Rel(t.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) < 3 {
		return ""
	}
	return parts[1]
}

func (t *Tailer) forward(agentID string, raw []byte) {
	var line LogLine
	if err := json.Unmarshal(raw, &line); err != nil {
		return
	}
	if line.Level != "ERROR" && line.Level != "FATAL" {
		return
	}
	if line.AgentID == "" {
		line.AgentID = agentID
	}
	t.log.Warn("agent error",
		zap.String("agent", line.AgentID),
		zap.String("level", line.Level),
		zap.String("message", line.Message))
	t.pub.Publish("error", line)
}
