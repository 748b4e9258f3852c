package governance

import (
	"math"
	"sort"

	"github.com/bluesky-social/agora/models"
)

// fixed-point resolution for normalized weights
const weightScale = 1000

// allowed deviation from 1.0 for ballot weight vectors
const ballotSumTolerance = 0.01

var DefaultWeights = models.Weights{
	Recency:         0.30,
	Engagement:      0.25,
	Bridging:        0.20,
	SourceDiversity: 0.15,
	Relevance:       0.10,
}

// NormalizeWeights maps any finite vector with at least one positive component
// (or all zeros) onto a distribution of multiples of 1/1000 that sums to
// exactly 1.0. Normalizing an already-normalized vector returns it unchanged.
func NormalizeWeights(w models.Weights) (models.Weights, error) {
	a := w.Array()

	allZero := true
	for _, v := range a {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return models.Weights{}, errorf(CodeInvalidWeights, "weights must be finite numbers")
		}
		if v != 0 {
			allZero = false
		}
	}
	if allZero {
		var eq [models.NumComponents]float64
		for i := range eq {
			eq[i] = 1.0 / models.NumComponents
		}
		return apportion(eq)
	}

	// scale to a largest magnitude of 1 so the sum cannot overflow
	var maxAbs float64
	for _, v := range a {
		maxAbs = math.Max(maxAbs, math.Abs(v))
	}
	var total float64
	for i := range a {
		a[i] /= maxAbs
		total += a[i]
	}
	if total > 0 {
		for i := range a {
			a[i] /= total
		}
	}

	// zeroing negatives and rescaling the positives spreads the negative mass
	// across the positives in proportion to their size
	var posSum float64
	for _, v := range a {
		if v > 0 {
			posSum += v
		}
	}
	if posSum <= 0 {
		return models.Weights{}, errorf(CodeInvalidWeights, "at least one weight must be positive")
	}
	for i := range a {
		if a[i] < 0 {
			a[i] = 0
		} else {
			a[i] /= posSum
		}
	}

	var clampSum float64
	for i := range a {
		a[i] = math.Min(1, math.Max(0, a[i]))
		clampSum += a[i]
	}
	if clampSum <= 0 {
		return models.Weights{}, errorf(CodeInvalidWeights, "at least one weight must be positive")
	}
	for i := range a {
		a[i] /= clampSum
	}

	return apportion(a)
}

// apportion converts a distribution to fixed point using largest-remainder
// rounding. Ties go to the earlier component.
func apportion(a [models.NumComponents]float64) (models.Weights, error) {
	var units [models.NumComponents]int
	var rem [models.NumComponents]float64
	assigned := 0
	for i, v := range a {
		scaled := v * weightScale
		// the epsilon keeps values like 299.99999999999994 from flooring a whole unit low
		f := math.Floor(scaled + 1e-9)
		units[i] = int(f)
		rem[i] = scaled - f
		assigned += units[i]
	}

	left := weightScale - assigned
	if left < 0 || left > models.NumComponents {
		return models.Weights{}, ErrNormalizationInvariant
	}

	order := []int{0, 1, 2, 3, 4}
	sort.SliceStable(order, func(i, j int) bool {
		return rem[order[i]] > rem[order[j]]
	})
	for k := 0; left > 0; k++ {
		units[order[k%models.NumComponents]]++
		left--
	}

	var out [models.NumComponents]float64
	var sum float64
	for i, u := range units {
		out[i] = float64(u) / weightScale
		if out[i] < 0 || out[i] > 1 {
			return models.Weights{}, ErrNormalizationInvariant
		}
		sum += out[i]
	}
	if math.Abs(sum-1.0) > 1e-6 {
		return models.Weights{}, ErrNormalizationInvariant
	}
	return models.WeightsFromArray(out), nil
}

// ValidateBallotWeights checks a voter-supplied vector: every component in
// [0,1] and a sum of 1.0 within a small tolerance. A nil vector is valid.
func ValidateBallotWeights(w *models.Weights) error {
	if w == nil {
		return nil
	}
	var sum float64
	for i, v := range w.Array() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errorf(CodeInvalidWeights, "%s weight must be a finite number", models.ComponentNames[i])
		}
		if v < 0 || v > 1 {
			return errorf(CodeInvalidWeights, "%s weight must be between 0 and 1", models.ComponentNames[i])
		}
		sum += v
	}
	if math.Abs(sum-1.0) > ballotSumTolerance {
		return errorf(CodeInvalidWeights, "weights must sum to 1.0 (got %.4f)", sum)
	}
	return nil
}
