package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parityleague/backend/internal/config"
	"github.com/parityleague/backend/internal/models"
)

// unhealthyAfter is how many consecutive failed probes flip an agent to
// UNHEALTHY.
const unhealthyAfter = 3

// ChangeFunc receives every health state transition.
type ChangeFunc func(models.AgentHealth)

// Monitor owns the health view of every supervised agent. It is the only
// writer; agents never self-report.
type Monitor struct {
	sup      *Supervisor
	cfg      *config.Config
	log      *zap.Logger
	http     *http.Client
	onChange ChangeFunc

	mu     sync.Mutex
	health map[string]*models.AgentHealth
}

// NewMonitor builds a monitor. onChange may be nil.
func NewMonitor(sup *Supervisor, cfg *config.Config, onChange ChangeFunc, log *zap.Logger) *Monitor {
	return &Monitor{
		sup:      sup,
		cfg:      cfg,
		log:      log.Named("health"),
		http:     &http.Client{Timeout: 3 * time.Second},
		onChange: onChange,
		health:   make(map[string]*models.AgentHealth),
	}
}

// Snapshot returns a copy of the current health table.
func (m *Monitor) Snapshot() []models.AgentHealth {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AgentHealth, 0, len(m.health))
	for _, h := range m.health {
		out = append(out, *h)
	}
	return out
}

// Run probes every running agent on the configured interval and consumes
// process exit events. Blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	interval := time.Duration(m.cfg.HealthCheckIntervalS * float64(time.Second))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.sup.Exits():
			m.markCrashed(ev)
		case <-ticker.C:
			for _, id := range m.sup.RunningIDs() {
				m.probe(ctx, id)
			}
		}
	}
}

func (m *Monitor) probe(ctx context.Context, id string) {
	spec, ok := m.sup.Spec(id)
	if !ok {
		return
	}

	healthy := false
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.Endpoint()+"/health", nil)
	if err == nil {
		resp, err := m.http.Do(req)
		if err == nil {
			var body struct {
				Status string `json:"status"`
			}
			if resp.StatusCode == http.StatusOK &&
				json.NewDecoder(resp.Body).Decode(&body) == nil &&
				body.Status == "healthy" {
				healthy = true
			}
			resp.Body.Close()
		}
	}

	m.mu.Lock()
	h := m.entryLocked(id)
	h.LastProbeAt = time.Now().UTC()
	prev := h.Status
	if healthy {
		h.ConsecutiveFailures = 0
		h.Status = models.HealthHealthy
	} else {
		h.ConsecutiveFailures++
		if h.ConsecutiveFailures >= unhealthyAfter {
			h.Status = models.HealthUnhealthy
		}
	}
	changed := h.Status != prev
	snapshot := *h
	m.mu.Unlock()

	if changed {
		m.log.Warn("health changed",
			zap.String("agent", id),
			zap.String("from", string(prev)),
			zap.String("to", string(snapshot.Status)))
		if m.onChange != nil {
			m.onChange(snapshot)
		}
	}
}

func (m *Monitor) markCrashed(ev ExitEvent) {
	m.mu.Lock()
	h := m.entryLocked(ev.AgentID)
	prev := h.Status
	h.Status = models.HealthCrashed
	h.LastProbeAt = time.Now().UTC()
	snapshot := *h
	m.mu.Unlock()

	if prev == models.HealthCrashed {
		return
	}
	m.log.Error("agent crashed", zap.String("agent", ev.AgentID), zap.Error(ev.Err))
	if m.onChange != nil {
		m.onChange(snapshot)
	}
}

// entryLocked returns the health entry for id, creating it as UNKNOWN.
func (m *Monitor) entryLocked(id string) *models.AgentHealth {
	h, ok := m.health[id]
	if !ok {
		h = &models.AgentHealth{AgentID: id, Status: models.HealthUnknown}
		m.health[id] = h
	}
	return h
}
