package governance

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/bluesky-social/agora/models"

	"github.com/stretchr/testify/assert"
)

func checkDistribution(t *testing.T, w models.Weights) {
	t.Helper()
	var sum float64
	for _, v := range w.Array() {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
}

func TestNormalizeWeightsFixtures(t *testing.T) {
	assert := assert.New(t)

	fixtures := []struct {
		in  [5]float64
		out [5]float64
	}{
		{in: [5]float64{0.3, 0.25, 0.2, 0.15, 0.1}, out: [5]float64{0.3, 0.25, 0.2, 0.15, 0.1}},
		{in: [5]float64{0, 0, 0, 0, 0}, out: [5]float64{0.2, 0.2, 0.2, 0.2, 0.2}},
		{in: [5]float64{1, 1, 1, 1, 1}, out: [5]float64{0.2, 0.2, 0.2, 0.2, 0.2}},
		{in: [5]float64{3, 1, 0, 0, 0}, out: [5]float64{0.75, 0.25, 0, 0, 0}},
		{in: [5]float64{1, 1, 1, 0, 0}, out: [5]float64{0.334, 0.333, 0.333, 0, 0}},
		{in: [5]float64{2, 2, 2, 0, 0}, out: [5]float64{0.334, 0.333, 0.333, 0, 0}},
		{in: [5]float64{0.5, 0.5, -0.5, 0, 0}, out: [5]float64{0.5, 0.5, 0, 0, 0}},
		{in: [5]float64{1, -3, 0, 0, 0}, out: [5]float64{1, 0, 0, 0, 0}},
		{in: [5]float64{1, 2, 3, 4, 5}, out: [5]float64{0.067, 0.133, 0.2, 0.267, 0.333}},
		{in: [5]float64{math.MaxFloat64 / 2, math.MaxFloat64 / 2, math.MaxFloat64 / 2, 0, 0}, out: [5]float64{0.334, 0.333, 0.333, 0, 0}},
		{in: [5]float64{math.MaxFloat64, -math.MaxFloat64 / 2, 0, 0, math.MaxFloat64}, out: [5]float64{0.5, 0, 0, 0, 0.5}},
		{in: [5]float64{1e-300, 3e-300, 0, 0, 0}, out: [5]float64{0.25, 0.75, 0, 0, 0}},
	}

	for _, fix := range fixtures {
		out, err := NormalizeWeights(models.WeightsFromArray(fix.in))
		if !assert.NoError(err, "%v", fix.in) {
			continue
		}
		checkDistribution(t, out)
		for i, v := range out.Array() {
			assert.InDelta(fix.out[i], v, 1e-9, "%v component %d", fix.in, i)
		}
	}
}

func TestNormalizeWeightsErrors(t *testing.T) {
	assert := assert.New(t)

	bad := [][5]float64{
		{math.NaN(), 0, 0, 0, 0},
		{math.Inf(1), 0, 0, 0, 0},
		{0, math.Inf(-1), 0, 0, 0},
		{-1, -1, 0, 0, 0},
		{-0.2, 0, 0, 0, 0},
	}
	for _, in := range bad {
		_, err := NormalizeWeights(models.WeightsFromArray(in))
		assert.Error(err, "%v", in)
		assert.True(errors.Is(err, ErrInvalidWeights), "%v", in)
	}
}

func TestNormalizeWeightsProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		var in [5]float64
		positive := false
		for c := range in {
			switch rng.Intn(4) {
			case 0:
				in[c] = 0
			case 1:
				in[c] = -rng.Float64()
			default:
				in[c] = rng.Float64() * math.Pow(10, float64(rng.Intn(6)-2))
				positive = positive || in[c] > 0
			}
		}
		if !positive {
			in[rng.Intn(5)] = rng.Float64() + 0.01
		}
		if i%10 == 0 {
			// values near the top of the float range
			for c := range in {
				in[c] *= math.MaxFloat64 / 2048
			}
		}

		out, err := NormalizeWeights(models.WeightsFromArray(in))
		if !assert.NoError(t, err, "%v", in) {
			continue
		}
		checkDistribution(t, out)

		again, err := NormalizeWeights(out)
		assert.NoError(t, err)
		assert.Equal(t, out, again, "not idempotent for %v", in)

		// every component is a multiple of 1/1000
		for _, v := range out.Array() {
			units := v * weightScale
			assert.InDelta(t, math.Round(units), units, 1e-6)
		}
	}
}

func TestValidateBallotWeights(t *testing.T) {
	assert := assert.New(t)

	assert.NoError(ValidateBallotWeights(nil))
	assert.NoError(ValidateBallotWeights(&DefaultWeights))
	assert.NoError(ValidateBallotWeights(&models.Weights{Recency: 0.5, Engagement: 0.2, Bridging: 0.1, SourceDiversity: 0.1, Relevance: 0.105}))

	bad := []models.Weights{
		{Recency: 0.5, Engagement: 0.2, Bridging: 0.1, SourceDiversity: 0.1, Relevance: 0.2},
		{Recency: 1.2, Engagement: -0.2},
		{Recency: math.NaN(), Engagement: 1},
		{},
	}
	for _, w := range bad {
		err := ValidateBallotWeights(&w)
		assert.ErrorIs(err, ErrInvalidWeights, "%+v", w)
		assert.Equal(400, HTTPStatus(err))
	}
}

func TestBallotDecodeWeights(t *testing.T) {
	assert := assert.New(t)

	fixtures := []struct {
		body  string
		valid bool
	}{
		{body: `{"weights":{"recency":0.3,"engagement":0.25,"bridging":0.2,"source_diversity":0.15,"relevance":0.1}}`, valid: true},
		{body: `{"weights":{"recency":1,"engagement":0,"bridging":0,"source_diversity":0,"relevance":0}}`, valid: true},
		{body: `{"weights":null,"includeKeywords":["golang"]}`, valid: true},
		{body: `{"includeKeywords":["golang"]}`, valid: true},
		{body: `{"weights":{"recency":0.6,"engagement":0.4}}`, valid: false},
		{body: `{"weights":{},"includeKeywords":["golang"]}`, valid: false},
		{body: `{"weights":{"recency":0.3,"engagement":0.25,"bridging":0.2,"source_diversity":0.25}}`, valid: false},
	}

	for _, fix := range fixtures {
		var b Ballot
		if !assert.NoError(json.Unmarshal([]byte(fix.body), &b), fix.body) {
			continue
		}
		err := b.Validate()
		if fix.valid {
			assert.NoError(err, fix.body)
		} else {
			assert.ErrorIs(err, ErrInvalidWeights, fix.body)
		}
	}

	var b Ballot
	assert.NoError(json.Unmarshal([]byte(`{"weights":{"recency":0.6,"engagement":0.4}}`), &b))
	err := b.Validate()
	if assert.Error(err) {
		assert.Contains(err.Error(), "bridging, source_diversity, relevance")
	}
}
