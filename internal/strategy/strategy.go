package strategy

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/parityleague/backend/internal/config"
	"github.com/parityleague/backend/internal/models"
)

// Input is everything a strategy may consult for one choice.
type Input struct {
	MatchID    string
	OpponentID string
	// Opponent is the profiled history against this opponent; may be nil
	// or empty for a first meeting.
	Opponent *models.OpponentProfile
	// Standings is the latest standings snapshot the player has seen; may
	// be nil.
	Standings []models.Standing
}

// Strategy picks a parity for one match. Implementations must be fast
// (well under the 30 s choice budget) and must only return a valid parity.
type Strategy interface {
	Name() string
	Choose(in Input) models.Parity
}

// New builds a strategy from its configuration name.
func New(name string, cfg config.AdaptiveConfig, log *zap.Logger) (Strategy, error) {
	switch name {
	case "random", "":
		return NewRandom(), nil
	case "adaptive":
		return NewAdaptive(cfg, log), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}
