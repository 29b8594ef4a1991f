package strategy

import (
	"math"

	"go.uber.org/zap"

	"github.com/parityleague/backend/internal/config"
	"github.com/parityleague/backend/internal/models"
)

// Adaptive exploits opponents whose choices deviate from a fair coin.
// Below min_samples observations, or when the observed counts pass a
// chi-squared goodness-of-fit test against uniform at level alpha, it defers
// to Random. Otherwise it plays the parity the opponent under-weights.
//
// Streak and first-order Markov analyses are optional refinements enabled by
// configuration; when one of them predicts the opponent's next choice it
// takes precedence over the plain frequency rule.
type Adaptive struct {
	cfg    config.AdaptiveConfig
	random *Random
	log    *zap.Logger
}

// streakLength is how many identical trailing choices count as a streak.
const streakLength = 3

// NewAdaptive builds the adaptive strategy.
func NewAdaptive(cfg config.AdaptiveConfig, log *zap.Logger) *Adaptive {
	if log == nil {
		log = zap.NewNop()
	}
	return &Adaptive{cfg: cfg, random: NewRandom(), log: log.Named("strategy.adaptive")}
}

func (a *Adaptive) Name() string { return "adaptive" }

func (a *Adaptive) Choose(in Input) models.Parity {
	prof := in.Opponent
	if prof == nil || prof.Observations() < a.cfg.MinSamples {
		return a.random.Choose(in)
	}

	if a.cfg.UseStreak {
		if predicted, ok := detectStreak(prof.History); ok {
			a.log.Debug("streak detected",
				zap.String("opponent", in.OpponentID),
				zap.String("predicted", string(predicted)))
			return predicted.Opposite()
		}
	}
	if a.cfg.UseMarkov {
		if predicted, ok := predictMarkov(prof.History, a.cfg.Alpha); ok {
			a.log.Debug("markov prediction",
				zap.String("opponent", in.OpponentID),
				zap.String("predicted", string(predicted)))
			return predicted.Opposite()
		}
	}

	p := chiSquaredUniformP(prof.EvenCount, prof.OddCount)
	if p >= a.cfg.Alpha {
		// No significant bias.
		return a.random.Choose(in)
	}

	a.log.Debug("bias detected",
		zap.String("opponent", in.OpponentID),
		zap.Int("even", prof.EvenCount),
		zap.Int("odd", prof.OddCount),
		zap.Float64("p_value", p))

	// Play the parity the opponent under-weights.
	if prof.EvenCount > prof.OddCount {
		return models.ParityOdd
	}
	return models.ParityEven
}

// chiSquaredUniformP returns the p-value of a chi-squared goodness-of-fit
// test of the observed counts against a uniform {n/2, n/2} expectation.
// With one degree of freedom the statistic reduces to (even-odd)^2/n and
// the survival function is erfc(sqrt(x/2)).
func chiSquaredUniformP(even, odd int) float64 {
	n := even + odd
	if n == 0 {
		return 1
	}
	diff := float64(even - odd)
	chi2 := diff * diff / float64(n)
	return math.Erfc(math.Sqrt(chi2 / 2))
}

// detectStreak reports the opponent's predicted next choice when the last
// streakLength observations are identical.
func detectStreak(history []models.Parity) (models.Parity, bool) {
	if len(history) < streakLength {
		return "", false
	}
	last := history[len(history)-1]
	for i := len(history) - streakLength; i < len(history); i++ {
		if history[i] != last {
			return "", false
		}
	}
	return last, true
}

// predictMarkov fits first-order transition counts and predicts the next
// choice from the opponent's last one, when the transition row out of that
// state is itself significantly biased at level alpha.
func predictMarkov(history []models.Parity, alpha float64) (models.Parity, bool) {
	if len(history) < 2 {
		return "", false
	}
	// counts[from][to], indexed even=0 odd=1.
	var counts [2][2]int
	for i := 1; i < len(history); i++ {
		counts[idx(history[i-1])][idx(history[i])]++
	}
	last := idx(history[len(history)-1])
	toEven, toOdd := counts[last][0], counts[last][1]
	if chiSquaredUniformP(toEven, toOdd) >= alpha {
		return "", false
	}
	if toEven > toOdd {
		return models.ParityEven, true
	}
	return models.ParityOdd, true
}

func idx(p models.Parity) int {
	if p == models.ParityEven {
		return 0
	}
	return 1
}
