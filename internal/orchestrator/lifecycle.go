package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/parityleague/backend/internal/config"
)

// OrchestratorID is the fixed identity the orchestrator presents on manager
// control methods.
const OrchestratorID = "ORCH01"

// startupPollInterval is how often a freshly spawned agent is probed until
// it answers /health.
const startupPollInterval = 500 * time.Millisecond

// AgentSpec describes one process the orchestrator owns. Loaded from the
// agents file.
type AgentSpec struct {
	ID        string            `json:"id"`
	Role      string            `json:"role"`
	Command   string            `json:"command"`
	Args      []string          `json:"args"`
	Port      string            `json:"port"`
	Env       map[string]string `json:"env,omitempty"`
	DependsOn []string          `json:"depends_on,omitempty"`
}

// Endpoint is the agent's local RPC base URL.
func (a AgentSpec) Endpoint() string {
	return "http://localhost:" + a.Port
}

type agentsFile struct {
	Agents []AgentSpec `json:"agents"`
}

// LoadSpecs reads and validates the agents file.
func LoadSpecs(path string) ([]AgentSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agents file: %w", err)
	}
	var f agentsFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse agents file %s: %w", path, err)
	}
	if len(f.Agents) == 0 {
		return nil, fmt.Errorf("agents file %s lists no agents", path)
	}

	seen := make(map[string]bool, len(f.Agents))
	for _, a := range f.Agents {
		if a.ID == "" || a.Command == "" || a.Port == "" {
			return nil, fmt.Errorf("agent %q: id, command and port are required", a.ID)
		}
		if seen[a.ID] {
			return nil, fmt.Errorf("duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true
	}
	for _, a := range f.Agents {
		for _, dep := range a.DependsOn {
			if !seen[dep] {
				return nil, fmt.Errorf("agent %q depends on unknown agent %q", a.ID, dep)
			}
		}
	}
	return f.Agents, nil
}

// StartTiers groups the specs into dependency tiers: every agent in a tier
// depends only on agents in earlier tiers, so agents within one tier can
// start in parallel. Errors on a dependency cycle.
func StartTiers(specs []AgentSpec) ([][]AgentSpec, error) {
	indegree := make(map[string]int, len(specs))
	dependents := make(map[string][]string)
	for _, a := range specs {
		indegree[a.ID] = len(a.DependsOn)
		for _, dep := range a.DependsOn {
			dependents[dep] = append(dependents[dep], a.ID)
		}
	}

	var tiers [][]AgentSpec
	placed := make(map[string]bool, len(specs))
	for len(placed) < len(specs) {
		var tier []AgentSpec
		for _, a := range specs {
			if !placed[a.ID] && indegree[a.ID] == 0 {
				tier = append(tier, a)
			}
		}
		if len(tier) == 0 {
			return nil, fmt.Errorf("dependency cycle in agents file")
		}
		for _, a := range tier {
			placed[a.ID] = true
			for _, next := range dependents[a.ID] {
				indegree[next]--
			}
		}
		tiers = append(tiers, tier)
	}
	return tiers, nil
}

// StartOrder flattens StartTiers into a single sequence, used for ordered
// shutdown.
func StartOrder(specs []AgentSpec) ([]AgentSpec, error) {
	tiers, err := StartTiers(specs)
	if err != nil {
		return nil, err
	}
	ordered := make([]AgentSpec, 0, len(specs))
	for _, tier := range tiers {
		ordered = append(ordered, tier...)
	}
	return ordered, nil
}

// ExitEvent is emitted when a supervised process terminates.
type ExitEvent struct {
	AgentID string
	Err     error
}

type process struct {
	spec      AgentSpec
	cmd       *exec.Cmd
	output    *os.File
	startedAt time.Time
}

// Supervisor spawns and tracks the agent processes.
type Supervisor struct {
	cfg  *config.Config
	log  *zap.Logger
	http *http.Client

	mu    sync.Mutex
	specs map[string]AgentSpec
	procs map[string]*process

	exits chan ExitEvent
}

// NewSupervisor builds a supervisor over the given specs.
func NewSupervisor(cfg *config.Config, specs []AgentSpec, log *zap.Logger) *Supervisor {
	byID := make(map[string]AgentSpec, len(specs))
	for _, a := range specs {
		byID[a.ID] = a
	}
	return &Supervisor{
		cfg:   cfg,
		log:   log.Named("supervisor"),
		http:  &http.Client{Timeout: 3 * time.Second},
		specs: byID,
		procs: make(map[string]*process),
		exits: make(chan ExitEvent, 16),
	}
}

// Exits delivers process termination events, one per exit.
func (s *Supervisor) Exits() <-chan ExitEvent {
	return s.exits
}

// Spec looks up an agent's spec by id.
func (s *Supervisor) Spec(id string) (AgentSpec, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	spec, ok := s.specs[id]
	return spec, ok
}

// Running reports whether the agent has a live process.
func (s *Supervisor) Running(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.procs[id]
	return ok
}

// RunningIDs lists the agents with live processes.
func (s *Supervisor) RunningIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.procs))
	for id := range s.procs {
		out = append(out, id)
	}
	return out
}

// StartAll starts the agents tier by tier: agents within one dependency
// tier launch in parallel, and the next tier waits until every one of them
// answers /health.
func (s *Supervisor) StartAll(ctx context.Context) error {
	s.mu.Lock()
	specs := make([]AgentSpec, 0, len(s.specs))
	for _, a := range s.specs {
		specs = append(specs, a)
	}
	s.mu.Unlock()

	tiers, err := StartTiers(specs)
	if err != nil {
		return err
	}
	for _, tier := range tiers {
		var wg sync.WaitGroup
		errs := make(chan error, len(tier))
		for _, spec := range tier {
			wg.Add(1)
			go func(spec AgentSpec) {
				defer wg.Done()
				if err := s.Start(ctx, spec.ID); err != nil {
					errs <- fmt.Errorf("start %s: %w", spec.ID, err)
				}
			}(spec)
		}
		wg.Wait()
		close(errs)
		if err := <-errs; err != nil {
			return err
		}
	}
	return nil
}

// Start spawns one agent and blocks until it is healthy or the startup
// timeout elapses.
func (s *Supervisor) Start(ctx context.Context, id string) error {
	s.mu.Lock()
	spec, ok := s.specs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown agent %q", id)
	}
	if _, running := s.procs[id]; running {
		s.mu.Unlock()
		return fmt.Errorf("agent %q is already running", id)
	}
	s.mu.Unlock()

	outDir := filepath.Join(s.cfg.DataDir, "logs", "orchestrator")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	out, err := os.OpenFile(filepath.Join(outDir, spec.ID+".out.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output log: %w", err)
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.Env = append(os.Environ(),
		"APP_PORT="+spec.Port,
		"ORCHESTRATOR_TOKEN="+s.cfg.OrchestratorToken,
		"MANAGER_URL="+s.cfg.ManagerURL,
		"DATA_DIR="+s.cfg.DataDir,
	)
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	if err := cmd.Start(); err != nil {
		out.Close()
		return fmt.Errorf("spawn: %w", err)
	}

	p := &process{spec: spec, cmd: cmd, output: out, startedAt: time.Now()}
	s.mu.Lock()
	s.procs[id] = p
	s.mu.Unlock()

	s.log.Info("agent spawned",
		zap.String("agent", id),
		zap.String("role", spec.Role),
		zap.Int("pid", cmd.Process.Pid),
		zap.String("port", spec.Port))

	go s.reap(p)

	if err := s.waitHealthy(ctx, spec); err != nil {
		return err
	}
	return nil
}

// reap waits for the process and publishes its exit.
func (s *Supervisor) reap(p *process) {
	err := p.cmd.Wait()
	p.output.Close()

	s.mu.Lock()
	// A restart may have replaced the entry; only clear our own.
	if cur, ok := s.procs[p.spec.ID]; ok && cur == p {
		delete(s.procs, p.spec.ID)
	}
	s.mu.Unlock()

	s.log.Warn("agent exited",
		zap.String("agent", p.spec.ID),
		zap.Duration("uptime", time.Since(p.startedAt)),
		zap.Error(err))
	s.exits <- ExitEvent{AgentID: p.spec.ID, Err: err}
}

// waitHealthy polls /health until the agent answers 200 or the startup
// budget runs out.
func (s *Supervisor) waitHealthy(ctx context.Context, spec AgentSpec) error {
	budget := time.Duration(s.cfg.AgentStartupTimeoutS * float64(time.Second))
	deadline := time.Now().Add(budget)
	url := spec.Endpoint() + "/health"

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := s.http.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				s.log.Info("agent healthy", zap.String("agent", spec.ID))
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("agent %s not healthy after %s", spec.ID, budget)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(startupPollInterval):
		}
	}
}

// Stop terminates one agent: SIGTERM, then SIGKILL after a grace period.
func (s *Supervisor) Stop(id string) {
	s.mu.Lock()
	p, ok := s.procs[id]
	s.mu.Unlock()
	if !ok {
		return
	}

	s.log.Info("stopping agent", zap.String("agent", id))
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		for s.Running(id) {
			time.Sleep(100 * time.Millisecond)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.log.Warn("agent ignored SIGTERM, killing", zap.String("agent", id))
		p.cmd.Process.Kill()
	}
}

// StopAll stops every running agent in reverse dependency order.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	specs := make([]AgentSpec, 0, len(s.specs))
	for _, a := range s.specs {
		specs = append(specs, a)
	}
	s.mu.Unlock()

	ordered, err := StartOrder(specs)
	if err != nil {
		ordered = specs
	}
	for i := len(ordered) - 1; i >= 0; i-- {
		s.Stop(ordered[i].ID)
	}
}

// Restart stops (if needed) and relaunches one agent.
func (s *Supervisor) Restart(ctx context.Context, id string) error {
	s.Stop(id)
	return s.Start(ctx, id)
}
