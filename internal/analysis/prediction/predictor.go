package prediction

import (
	"context"
	"fmt"
	"math"

	"github.com/Alias1177/equiloom/internal/model"
)

// tick nudges the low/high seed one cent outside the observed range.
const tick = 0.01

// Rule returns the seed and acceptance predicate used to predict target from
// the other three values of c.
//
//	open  : mean(low, high, close),      min <= v <= max
//	low   : min(open, high, close) - 0.01, v below all three
//	high  : max(open, low, close) + 0.01,  v above all three
//	close : mean(open, low, high),       min <= v <= max
func Rule(target model.Field, c model.Candle) (float64, Predicate, error) {
	if _, err := model.ParseField(string(target)); err != nil {
		return 0, nil, err
	}

	others := make([]float64, 0, 3)
	for _, f := range model.Fields {
		if f != target {
			others = append(others, c.Get(f))
		}
	}

	lo := math.Min(others[0], math.Min(others[1], others[2]))
	hi := math.Max(others[0], math.Max(others[1], others[2]))

	switch target {
	case model.FieldOpen, model.FieldClose:
		seed := (others[0] + others[1] + others[2]) / 3
		return seed, func(v float64) bool { return v >= lo && v <= hi }, nil
	case model.FieldLow:
		return lo - tick, func(v float64) bool { return v < lo }, nil
	case model.FieldHigh:
		return hi + tick, func(v float64) bool { return v > hi }, nil
	}
	return 0, nil, fmt.Errorf("%w: %q", model.ErrUnknownField, target)
}

// Predictor computes the missing field of a candle
type Predictor struct {
	sampler *Sampler
}

// NewPredictor creates a Predictor; opts configure its Sampler.
func NewPredictor(opts ...Option) *Predictor {
	return &Predictor{sampler: NewSampler(opts...)}
}

// Predict returns the simulated value of target as a two-decimal string.
func (p *Predictor) Predict(ctx context.Context, target model.Field, c model.Candle) (string, error) {
	seed, accepts, err := Rule(target, c)
	if err != nil {
		return "", err
	}
	value, err := p.sampler.Sample(ctx, seed, accepts)
	if err != nil {
		return "", fmt.Errorf("predicting %s: %w", target, err)
	}
	return value, nil
}
