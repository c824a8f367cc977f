package prediction

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"

	"github.com/cenkalti/backoff/v4"
)

// maxVariation is the largest relative perturbation applied to a seed (±5%).
const maxVariation = 0.05

// Without WithMaxAttempts the budget grows with the seed: a draw covers about
// 2*maxVariation*|seed|/tick two-decimal candidates and a satisfiable predicate
// may accept only one of them.
const (
	attemptsPerCandidate = 50
	minAutoAttempts      = 10_000
	maxAutoAttempts      = 100_000_000

	// drawsPerRound candidates are tried per backoff operation.
	drawsPerRound = 512
)

var (
	ErrInvalidSeed = errors.New("seed is not a finite number")
	ErrNoCandidate = errors.New("no candidate satisfied the range constraint")

	errRejected = errors.New("candidate rejected")
)

// Predicate reports whether a two-decimal candidate is acceptable.
type Predicate func(v float64) bool

// Sampler draws perturbed candidates around a seed until one is accepted
// or the attempt budget runs out.
type Sampler struct {
	maxAttempts int
	float64     func() float64
}

// Option configures a Sampler
type Option func(*Sampler)

// WithMaxAttempts fixes the number of candidates drawn per call. Values below 1
// keep the budget sized from the seed.
func WithMaxAttempts(n int) Option {
	return func(s *Sampler) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithRand replaces the uniform [0,1) source. The function must be safe for
// concurrent use if the sampler is shared.
func WithRand(f func() float64) Option {
	return func(s *Sampler) {
		if f != nil {
			s.float64 = f
		}
	}
}

// NewSampler creates a sampler backed by math/rand/v2
func NewSampler(opts ...Option) *Sampler {
	s := &Sampler{
		float64: rand.Float64,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxAttempts returns the fixed attempt budget, or 0 when it is sized from the seed.
func (s *Sampler) MaxAttempts() int {
	return s.maxAttempts
}

// Budget returns how many candidates Sample draws around seed before giving up.
func (s *Sampler) Budget(seed float64) int {
	if s.maxAttempts > 0 {
		return s.maxAttempts
	}
	candidates := 2*maxVariation*math.Abs(seed)/tick + 1
	n := min(max(attemptsPerCandidate*candidates, minAutoAttempts), maxAutoAttempts)
	return int(n)
}

// Sample returns the first candidate round2(seed + seed*U(-0.05, 0.05)) that
// accepts holds for, formatted with two decimals.
func (s *Sampler) Sample(ctx context.Context, seed float64, accepts Predicate) (string, error) {
	if math.IsNaN(seed) || math.IsInf(seed, 0) {
		return "", fmt.Errorf("%w: %v", ErrInvalidSeed, seed)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	budget := s.Budget(seed)
	rounds := (budget + drawsPerRound - 1) / drawsPerRound

	var (
		result   string
		attempts int
	)
	operation := func() error {
		for i := 0; i < drawsPerRound && attempts < budget; i++ {
			attempts++
			variation := seed * (s.float64()*2*maxVariation - maxVariation)
			candidate := strconv.FormatFloat(seed+variation, 'f', 2, 64)

			// The predicate sees the value exactly as it will be displayed.
			v, err := strconv.ParseFloat(candidate, 64)
			if err != nil {
				return backoff.Permanent(fmt.Errorf("parsing candidate %q: %w", candidate, err))
			}
			if accepts(v) {
				result = candidate
				return nil
			}
		}
		return errRejected
	}

	strategy := backoff.WithContext(
		backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(rounds-1)),
		ctx,
	)
	if err := backoff.Retry(operation, strategy); err != nil {
		if errors.Is(err, errRejected) {
			return "", fmt.Errorf("%w: %d attempts around seed %.4f", ErrNoCandidate, attempts, seed)
		}
		return "", err
	}
	return result, nil
}
