package strategy

import (
	"testing"

	"go.uber.org/zap"

	"github.com/parityleague/backend/internal/config"
	"github.com/parityleague/backend/internal/models"
)

func adaptiveCfg() config.AdaptiveConfig {
	return config.AdaptiveConfig{MinSamples: 5, Alpha: 0.05}
}

func profile(history ...models.Parity) *models.OpponentProfile {
	p := &models.OpponentProfile{OpponentID: "P02", History: history}
	for _, c := range history {
		if c == models.ParityEven {
			p.EvenCount++
		} else {
			p.OddCount++
		}
	}
	return p
}

func repeat(p models.Parity, n int) []models.Parity {
	out := make([]models.Parity, n)
	for i := range out {
		out[i] = p
	}
	return out
}

func TestRandomProducesBothParities(t *testing.T) {
	r := NewRandom()
	seen := map[models.Parity]int{}
	for i := 0; i < 200; i++ {
		c := r.Choose(Input{})
		if c != models.ParityEven && c != models.ParityOdd {
			t.Fatalf("invalid parity %q", c)
		}
		seen[c]++
	}
	if seen[models.ParityEven] == 0 || seen[models.ParityOdd] == 0 {
		t.Errorf("200 draws never produced one side: %v", seen)
	}
}

func TestAdaptiveExploitsBiasedOpponent(t *testing.T) {
	a := NewAdaptive(adaptiveCfg(), zap.NewNop())

	// Five straight "even" observations are significant at alpha 0.05; the
	// counter-play is deterministic from here on.
	in := Input{OpponentID: "P02", Opponent: profile(repeat(models.ParityEven, 5)...)}
	for i := 0; i < 20; i++ {
		if got := a.Choose(in); got != models.ParityOdd {
			t.Fatalf("biased-even opponent: choice = %s, want odd", got)
		}
	}

	in.Opponent = profile(repeat(models.ParityOdd, 5)...)
	for i := 0; i < 20; i++ {
		if got := a.Choose(in); got != models.ParityEven {
			t.Fatalf("biased-odd opponent: choice = %s, want even", got)
		}
	}
}

func TestAdaptiveBelowMinSamplesIsValid(t *testing.T) {
	a := NewAdaptive(adaptiveCfg(), zap.NewNop())
	in := Input{OpponentID: "P02", Opponent: profile(repeat(models.ParityEven, 4)...)}
	for i := 0; i < 50; i++ {
		if c := a.Choose(in); c != models.ParityEven && c != models.ParityOdd {
			t.Fatalf("invalid parity %q", c)
		}
	}
	if c := a.Choose(Input{OpponentID: "P02"}); c != models.ParityEven && c != models.ParityOdd {
		t.Fatalf("nil profile: invalid parity %q", c)
	}
}

func TestAdaptiveStreakOverridesFrequency(t *testing.T) {
	cfg := config.AdaptiveConfig{MinSamples: 6, Alpha: 0.05, UseStreak: true}
	a := NewAdaptive(cfg, zap.NewNop())

	// Counts are balanced, so the frequency rule sees no bias, but the last
	// three choices form an "even" streak. Predicting even means playing odd.
	hist := []models.Parity{
		models.ParityOdd, models.ParityOdd, models.ParityOdd,
		models.ParityEven, models.ParityEven, models.ParityEven,
	}
	in := Input{OpponentID: "P02", Opponent: profile(hist...)}
	for i := 0; i < 20; i++ {
		if got := a.Choose(in); got != models.ParityOdd {
			t.Fatalf("streak of even should be answered with odd, got %s", got)
		}
	}
}

func TestAdaptiveMarkovPredictsAlternation(t *testing.T) {
	cfg := config.AdaptiveConfig{MinSamples: 6, Alpha: 0.05, UseMarkov: true}
	a := NewAdaptive(cfg, zap.NewNop())

	// A strict alternator has balanced counts but fully determined
	// transitions. Last choice is odd, so the model predicts even next;
	// the counter-play is odd.
	hist := []models.Parity{
		models.ParityEven, models.ParityOdd, models.ParityEven, models.ParityOdd,
		models.ParityEven, models.ParityOdd, models.ParityEven, models.ParityOdd,
		models.ParityEven, models.ParityOdd, models.ParityEven, models.ParityOdd,
	}
	in := Input{OpponentID: "P02", Opponent: profile(hist...)}
	for i := 0; i < 20; i++ {
		if got := a.Choose(in); got != models.ParityOdd {
			t.Fatalf("alternating opponent ending on odd: choice = %s, want odd", got)
		}
	}
}

func TestChiSquaredUniformP(t *testing.T) {
	if p := chiSquaredUniformP(0, 0); p != 1 {
		t.Errorf("no observations: p = %v, want 1", p)
	}
	if p := chiSquaredUniformP(10, 10); p != 1 {
		t.Errorf("perfectly balanced: p = %v, want 1", p)
	}
	if p := chiSquaredUniformP(5, 0); p >= 0.05 {
		t.Errorf("5-0 split: p = %v, want < 0.05", p)
	}
	if p := chiSquaredUniformP(3, 2); p < 0.05 {
		t.Errorf("3-2 split: p = %v, should not be significant", p)
	}
	if chiSquaredUniformP(20, 0) >= chiSquaredUniformP(15, 5) {
		t.Error("stronger bias should yield a smaller p-value")
	}
}

func TestNewRejectsUnknownStrategy(t *testing.T) {
	if _, err := New("minimax", adaptiveCfg(), zap.NewNop()); err == nil {
		t.Error("unknown strategy name should error")
	}
	for _, name := range []string{"", "random", "adaptive"} {
		s, err := New(name, adaptiveCfg(), zap.NewNop())
		if err != nil || s == nil {
			t.Errorf("New(%q): %v", name, err)
		}
	}
}
