package experiment

import (
	"time"

	"github.com/promptdeck/promptdeck/internal/domain/scoring"
	"github.com/promptdeck/promptdeck/internal/domain/stats"
)

// Outcome classifies an evaluation attempt.
type Outcome string

const (
	// OutcomeEvaluated means results were computed and a winner decided
	// (possibly "none").
	OutcomeEvaluated Outcome = "evaluated"
	// OutcomeInsufficientData means one or both arms are below the configured
	// per-variant sample floor. A legitimate "not yet decidable" state, not an
	// error, and never a basis for a decision regardless of total volume.
	OutcomeInsufficientData Outcome = "insufficient_data"
)

// Evaluation is the typed result of evaluating a test's accumulated samples.
type Evaluation struct {
	Outcome Outcome  `json:"outcome"`
	Results *Results `json:"results,omitempty"`
}

// Evaluate computes the statistical comparison of the two arms.
//
// Winner rule: no significance → none; significant but the mean gap is below
// MinImprovement → none (real but not worth a rollout); otherwise the
// higher-mean variant wins.
func Evaluate(cfg Config, samplesA, samplesB []scoring.Score) Evaluation {
	nA, nB := len(samplesA), len(samplesB)
	if min(nA, nB) < cfg.MinSamplesPerVariant {
		return Evaluation{Outcome: OutcomeInsufficientData}
	}

	valuesA, valuesB := values(samplesA), values(samplesB)
	meanA, meanB := mean(valuesA), mean(valuesB)

	res := &Results{
		VariantASamples:  nA,
		VariantBSamples:  nB,
		VariantAAvgScore: meanA,
		VariantBAvgScore: meanB,
		Winner:           WinnerNone,
		PerCriterion:     perCriterion(samplesA, samplesB),
		EvaluatedAt:      time.Now().UTC(),
	}

	// A single observation per arm cannot establish significance.
	if nA < 2 || nB < 2 {
		res.PValue = 1
		return Evaluation{Outcome: OutcomeEvaluated, Results: res}
	}

	welch, err := stats.WelchTTest(valuesA, valuesB)
	if err != nil {
		res.PValue = 1
		return Evaluation{Outcome: OutcomeEvaluated, Results: res}
	}

	res.PValue = welch.PValue
	res.Significant = welch.PValue < cfg.SignificanceThreshold

	diff := meanB - meanA
	switch {
	case !res.Significant:
	case abs(diff) < cfg.MinImprovement:
	case diff > 0:
		res.Winner = WinnerB
	case diff < 0:
		res.Winner = WinnerA
	}

	return Evaluation{Outcome: OutcomeEvaluated, Results: res}
}

// perCriterion aggregates pass rates for every criterion name that appears in
// either arm's scores. Scores without criterion detail contribute nothing.
func perCriterion(samplesA, samplesB []scoring.Score) map[string]CriterionOutcome {
	rateA := passRates(samplesA)
	rateB := passRates(samplesB)
	if len(rateA) == 0 && len(rateB) == 0 {
		return nil
	}

	out := make(map[string]CriterionOutcome)
	for name, rate := range rateA {
		out[name] = CriterionOutcome{VariantAPassRate: rate}
	}
	for name, rate := range rateB {
		o := out[name]
		o.VariantBPassRate = rate
		out[name] = o
	}
	return out
}

func passRates(samples []scoring.Score) map[string]float64 {
	passed := make(map[string]int)
	seen := make(map[string]int)
	for _, s := range samples {
		for _, c := range s.Criteria {
			seen[c.Name]++
			if c.Passed {
				passed[c.Name]++
			}
		}
	}

	rates := make(map[string]float64, len(seen))
	for name, n := range seen {
		rates[name] = float64(passed[name]) / float64(n)
	}
	return rates
}

func values(samples []scoring.Score) []float64 {
	vs := make([]float64, len(samples))
	for i, s := range samples {
		vs[i] = s.Value
	}
	return vs
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
