package experiment

import (
	"fmt"
	"math"
	"testing"

	"github.com/promptdeck/promptdeck/internal/domain/scoring"
)

// samples builds n scores centered on mean, alternating ±delta.
func samples(mean, delta float64, n int) []scoring.Score {
	out := make([]scoring.Score, n)
	for i := range out {
		v := mean + delta
		if i%2 == 1 {
			v = mean - delta
		}
		out[i] = scoring.Score{ID: fmt.Sprintf("score-%d", i), Value: v, Passed: v >= 70}
	}
	return out
}

func defaultConfig() Config {
	return Config{
		MinSamplesPerVariant:  30,
		SignificanceThreshold: 0.05,
		MinImprovement:        5,
	}
}

func TestEvaluateInsufficientData(t *testing.T) {
	cfg := defaultConfig()

	tests := []struct {
		name   string
		nA, nB int
	}{
		{"both below floor", 10, 10},
		{"one arm below floor", 29, 200},
		{"skewed despite volume", 5, 500},
		{"no samples", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Evaluate(cfg, samples(72, 3, tt.nA), samples(80, 3, tt.nB))
			if ev.Outcome != OutcomeInsufficientData {
				t.Fatalf("expected insufficient_data, got %q", ev.Outcome)
			}
			if ev.Results != nil {
				t.Fatal("insufficient_data must not produce results")
			}
		})
	}
}

func TestEvaluateChallengerWins(t *testing.T) {
	// Variant A mean 72.0, variant B mean 81.5, 40 samples each, tight spread:
	// the 9.5-point gap is both statistically and practically significant.
	cfg := defaultConfig()
	ev := Evaluate(cfg, samples(72.0, 3, 40), samples(81.5, 3, 40))

	if ev.Outcome != OutcomeEvaluated {
		t.Fatalf("expected evaluated, got %q", ev.Outcome)
	}
	res := ev.Results
	if res == nil {
		t.Fatal("expected results")
	}
	if res.VariantASamples != 40 || res.VariantBSamples != 40 {
		t.Fatalf("sample counts wrong: %d / %d", res.VariantASamples, res.VariantBSamples)
	}
	if math.Abs(res.VariantAAvgScore-72.0) > 1e-9 || math.Abs(res.VariantBAvgScore-81.5) > 1e-9 {
		t.Fatalf("means wrong: %g / %g", res.VariantAAvgScore, res.VariantBAvgScore)
	}
	if res.PValue >= cfg.SignificanceThreshold {
		t.Fatalf("expected p < %g, got %g", cfg.SignificanceThreshold, res.PValue)
	}
	if !res.Significant {
		t.Fatal("expected significant")
	}
	if res.Winner != WinnerB {
		t.Fatalf("expected winner B, got %q", res.Winner)
	}
}

func TestEvaluateControlWins(t *testing.T) {
	cfg := defaultConfig()
	ev := Evaluate(cfg, samples(85, 3, 40), samples(70, 3, 40))

	if ev.Results.Winner != WinnerA {
		t.Fatalf("expected winner A, got %q", ev.Results.Winner)
	}
}

func TestEvaluateNoisyGapNotSignificant(t *testing.T) {
	// 75 vs 77 with sd ~10 and 100 samples per arm: p lands well above 0.05,
	// so no winner regardless of the raw gap direction.
	cfg := defaultConfig()
	cfg.MinImprovement = 0
	ev := Evaluate(cfg, samples(75, 10, 100), samples(77, 10, 100))

	res := ev.Results
	if res.PValue < 0.05 {
		t.Fatalf("expected p >= 0.05, got %g", res.PValue)
	}
	if res.Significant {
		t.Fatal("expected not significant")
	}
	if res.Winner != WinnerNone {
		t.Fatalf("expected winner none, got %q", res.Winner)
	}
}

func TestEvaluateIdenticalMeans(t *testing.T) {
	cfg := defaultConfig()
	ev := Evaluate(cfg, samples(80, 4, 50), samples(80, 4, 50))

	res := ev.Results
	if res.Winner != WinnerNone {
		t.Fatalf("expected winner none for identical means, got %q", res.Winner)
	}
	if res.Significant {
		t.Fatal("identical distributions must not be significant")
	}
}

func TestEvaluateBelowMinImprovement(t *testing.T) {
	// Statistically detectable (tiny variance, large n) but the 2-point gap is
	// below the 5-point practical-significance bar.
	cfg := defaultConfig()
	ev := Evaluate(cfg, samples(75, 0.5, 200), samples(77, 0.5, 200))

	res := ev.Results
	if !res.Significant {
		t.Fatalf("expected statistical significance, p=%g", res.PValue)
	}
	if res.Winner != WinnerNone {
		t.Fatalf("expected winner none below min_improvement, got %q", res.Winner)
	}
}

func TestEvaluatePerCriterion(t *testing.T) {
	crit := func(value float64, accuracy, tone bool) scoring.Score {
		return scoring.Score{
			Value:  value,
			Passed: accuracy && tone,
			Criteria: []scoring.Criterion{
				{Name: "accuracy", Score: value, Passed: accuracy},
				{Name: "tone", Score: value, Passed: tone},
			},
		}
	}

	a := []scoring.Score{crit(70, true, false), crit(72, true, false)}
	b := []scoring.Score{crit(80, true, true), crit(82, false, true)}

	cfg := Config{MinSamplesPerVariant: 2, SignificanceThreshold: 0.05, MinImprovement: 5}
	ev := Evaluate(cfg, a, b)

	pc := ev.Results.PerCriterion
	if pc == nil {
		t.Fatal("expected per-criterion outcomes")
	}
	acc := pc["accuracy"]
	if acc.VariantAPassRate != 1.0 || acc.VariantBPassRate != 0.5 {
		t.Fatalf("accuracy pass rates wrong: %+v", acc)
	}
	tone := pc["tone"]
	if tone.VariantAPassRate != 0.0 || tone.VariantBPassRate != 1.0 {
		t.Fatalf("tone pass rates wrong: %+v", tone)
	}
}

func TestEvaluateNoCriterionDetail(t *testing.T) {
	cfg := Config{MinSamplesPerVariant: 2, SignificanceThreshold: 0.05}
	ev := Evaluate(cfg, samples(70, 2, 10), samples(75, 2, 10))
	if ev.Results.PerCriterion != nil {
		t.Fatalf("expected no per-criterion map without detail, got %v", ev.Results.PerCriterion)
	}
}

func TestEvaluateSingleSamplePerArm(t *testing.T) {
	cfg := Config{MinSamplesPerVariant: 1, SignificanceThreshold: 0.05}
	ev := Evaluate(cfg, samples(70, 0, 1), samples(90, 0, 1))

	if ev.Outcome != OutcomeEvaluated {
		t.Fatalf("expected evaluated, got %q", ev.Outcome)
	}
	res := ev.Results
	if res.Significant || res.Winner != WinnerNone {
		t.Fatalf("one sample per arm must never decide: %+v", res)
	}
	if res.PValue != 1 {
		t.Fatalf("expected p=1 for undecidable sample size, got %g", res.PValue)
	}
}
