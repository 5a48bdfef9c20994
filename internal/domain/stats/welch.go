// Package stats provides the two-sample significance test used to decide
// experiments. Scores are bounded numeric samples with no variance guarantee,
// so the comparison is Welch's t-test: unequal variances, unequal sizes,
// two-sided.
package stats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// TTestResult holds the outcome of a Welch two-sample t-test.
type TTestResult struct {
	T      float64 `json:"t"`
	DF     float64 `json:"df"`
	PValue float64 `json:"p_value"`
}

// WelchTTest runs a two-sided Welch's t-test on the two samples.
// Each sample needs at least two observations to estimate variance.
//
// Degenerate case: when both samples have zero variance the standard error is
// zero; equal means yield p=1 and unequal means p=0, which is the correct
// limit behavior for the decision rule built on top.
func WelchTTest(a, b []float64) (TTestResult, error) {
	na, nb := float64(len(a)), float64(len(b))
	if len(a) < 2 || len(b) < 2 {
		return TTestResult{}, fmt.Errorf("welch t-test requires >= 2 samples per variant (got %d, %d)", len(a), len(b))
	}

	meanA, meanB := stat.Mean(a, nil), stat.Mean(b, nil)
	varA, varB := stat.Variance(a, nil), stat.Variance(b, nil)

	seSq := varA/na + varB/nb
	if seSq == 0 {
		if meanA == meanB {
			return TTestResult{T: 0, DF: na + nb - 2, PValue: 1}, nil
		}
		return TTestResult{T: math.Inf(sign(meanA - meanB)), DF: na + nb - 2, PValue: 0}, nil
	}

	t := (meanA - meanB) / math.Sqrt(seSq)

	// Welch-Satterthwaite degrees of freedom.
	df := seSq * seSq / ((varA*varA)/(na*na*(na-1)) + (varB*varB)/(nb*nb*(nb-1)))

	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p := 2 * dist.CDF(-math.Abs(t))
	if p > 1 {
		p = 1
	}

	return TTestResult{T: t, DF: df, PValue: p}, nil
}

func sign(x float64) int {
	if x < 0 {
		return -1
	}
	return 1
}
