package training

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// zeroRoundEpsilon: fitted values below this magnitude are rounded to
// exactly zero.
const zeroRoundEpsilon = 1e-6

// rankCutoff is the relative singular-value cutoff for the least squares
// rank decision. Feature tiers contain columns that are constant within a
// route bucket, so the design matrix is routinely rank-deficient; the
// minimum-norm solution handles that where a plain normal-equations solve
// would fail.
const rankCutoff = 1e-10

// fitOLS fits ordinary least squares with a trailing intercept column,
// using an SVD-based minimum-norm solve. Failure to factorize is returned
// as an error; the caller treats that as numerical instability.
func fitOLS(examples []example, keys []string) (coeffs []float64, intercept float64, err error) {
	rows := len(examples)
	cols := len(keys) + 1 // trailing intercept column

	x := mat.NewDense(rows, cols, nil)
	y := mat.NewVecDense(rows, nil)
	for i, ex := range examples {
		for j, k := range keys {
			x.Set(i, j, ex.features[k])
		}
		x.Set(i, cols-1, 1)
		y.SetVec(i, ex.target)
	}

	var svd mat.SVD
	if ok := svd.Factorize(x, mat.SVDThin); !ok {
		return nil, 0, errors.New("svd factorization failed")
	}
	rank := svd.Rank(rankCutoff)
	if rank == 0 {
		return nil, 0, errors.New("design matrix has rank zero")
	}

	var beta mat.VecDense
	svd.SolveVecTo(&beta, y, rank)

	coeffs = make([]float64, len(keys))
	for j := range keys {
		coeffs[j] = roundNearZero(beta.AtVec(j))
	}
	intercept = roundNearZero(beta.AtVec(cols - 1))
	return coeffs, intercept, nil
}

func roundNearZero(v float64) float64 {
	if math.Abs(v) < zeroRoundEpsilon {
		return 0
	}
	return v
}

// unstable reports whether a fit must be discarded: any non-finite value, or
// a coefficient magnitude beyond the configured bound.
func unstable(coeffs []float64, intercept, maxCoefficient float64) bool {
	if math.IsNaN(intercept) || math.IsInf(intercept, 0) {
		return true
	}
	for _, c := range coeffs {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return true
		}
		if math.Abs(c) > maxCoefficient {
			return true
		}
	}
	return false
}

// evaluate computes held-out metrics: MAE, RMSE, R² against the test-mean
// baseline, and the standard deviation of residuals.
func evaluate(testSet []example, predict func(example) float64) TestMetrics {
	n := float64(len(testSet))

	residuals := make([]float64, len(testSet))
	var absSum, sqSum, targetSum float64
	for i, ex := range testSet {
		r := ex.target - predict(ex)
		residuals[i] = r
		absSum += math.Abs(r)
		sqSum += r * r
		targetSum += ex.target
	}

	testMean := targetSum / n
	var totalSS float64
	for _, ex := range testSet {
		d := ex.target - testMean
		totalSS += d * d
	}

	r2 := 0.0
	if totalSS > 0 {
		r2 = 1 - sqSum/totalSS
	}

	var resSum float64
	for _, r := range residuals {
		resSum += r
	}
	resMean := resSum / n
	var resVar float64
	for _, r := range residuals {
		d := r - resMean
		resVar += d * d
	}

	return TestMetrics{
		MAE:    absSum / n,
		RMSE:   math.Sqrt(sqSum / n),
		R2:     r2,
		StdDev: math.Sqrt(resVar / n),
	}
}
