package strategy

import (
	"crypto/rand"

	"github.com/parityleague/backend/internal/models"
)

// Random is the Nash-equilibrium baseline: a fair coin from the system
// CSPRNG. It cannot be exploited and cannot exploit.
type Random struct{}

// NewRandom returns the uniform strategy.
func NewRandom() *Random {
	return &Random{}
}

func (r *Random) Name() string { return "random" }

func (r *Random) Choose(Input) models.Parity {
	var b [1]byte
	if _, err := rand.Read(b[:]); err != nil {
		// The CSPRNG failing is effectively unrecoverable; "even" keeps
		// the method total.
		return models.ParityEven
	}
	if b[0]&1 == 0 {
		return models.ParityEven
	}
	return models.ParityOdd
}
