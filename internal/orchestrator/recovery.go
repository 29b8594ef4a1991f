package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/parityleague/backend/internal/models"
)

// Recovery restarts crashed agents and repairs the league state the crash
// interrupted.
type Recovery struct {
	sup  *Supervisor
	ctrl *Controller
	log  *zap.Logger
	pub  Publisher
}

// NewRecovery wires the crash handler. pub may be nil.
func NewRecovery(sup *Supervisor, ctrl *Controller, pub Publisher, log *zap.Logger) *Recovery {
	if pub == nil {
		pub = nopPublisher{}
	}
	return &Recovery{sup: sup, ctrl: ctrl, log: log.Named("recovery"), pub: pub}
}

// Handle is the monitor's ChangeFunc. Only terminal states trigger action;
// UNHEALTHY agents get a grace period through repeated probes first.
func (r *Recovery) Handle(h models.AgentHealth) {
	r.pub.Publish("health", h)
	if h.Status != models.HealthCrashed {
		return
	}

	spec, ok := r.sup.Spec(h.AgentID)
	if !ok {
		r.log.Error("crashed agent has no spec", zap.String("agent", h.AgentID))
		return
	}

	if spec.Role == string(models.RoleManager) {
		// A manager restart loses in-memory tournament state; the league
		// cannot resume mid-round. Bring the process back for forensics and
		// surface the failure loudly. The controller's watch loop halts the
		// run when it sees the fresh manager.
		r.log.Error("manager crashed, league state lost", zap.String("agent", spec.ID))
		r.pub.Publish("error", map[string]string{
			"agent":  spec.ID,
			"reason": "manager crashed, league state lost",
		})
	}

	go r.restart(spec)
}

func (r *Recovery) restart(spec AgentSpec) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	r.log.Info("restarting agent", zap.String("agent", spec.ID), zap.String("role", spec.Role))
	if err := r.sup.Restart(ctx, spec.ID); err != nil {
		r.log.Error("restart failed", zap.String("agent", spec.ID), zap.Error(err))
		return
	}
	r.pub.Publish("agent_restarted", spec.ID)

	// A restarted referee lost its in-flight matches; ask the manager to
	// re-send every assignment still outstanding.
	if spec.Role == string(models.RoleReferee) {
		n, err := r.ctrl.Redispatch(ctx)
		if err != nil {
			r.log.Error("redispatch failed", zap.String("agent", spec.ID), zap.Error(err))
			return
		}
		r.log.Info("outstanding matches redispatched",
			zap.String("agent", spec.ID), zap.Int("count", n))
	}
}
