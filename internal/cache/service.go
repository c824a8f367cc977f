package cache

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/Alias1177/equiloom/internal/model"
)

// Generator produces the two-decimal value of target for a candle.
type Generator interface {
	Predict(ctx context.Context, target model.Field, c model.Candle) (string, error)
}

// Result is what the service hands back to a caller
type Result struct {
	Entry
	Cached bool
}

// Service puts a Cache in front of a Generator. Concurrent misses on the
// same key share one generator call.
type Service struct {
	cache *Cache
	gen   Generator
	group singleflight.Group
}

// NewService creates a Service with a cache of the given size
func NewService(gen Generator, size int) (*Service, error) {
	c, err := New(size)
	if err != nil {
		return nil, err
	}
	return &Service{cache: c, gen: gen}, nil
}

// Cache exposes the underlying cache
func (s *Service) Cache() *Cache {
	return s.cache
}

// Predict validates in, then returns the cached prediction for it or computes
// and stores a new one. Failed computations are not cached.
func (s *Service) Predict(ctx context.Context, target model.Field, in model.FormInput) (Result, error) {
	if _, err := model.ParseField(string(target)); err != nil {
		return Result{}, err
	}
	candle, err := in.Candle(target)
	if err != nil {
		return Result{}, err
	}

	key := NewKey(target, candle)
	if e, ok := s.cache.Get(key); ok {
		return Result{Entry: e, Cached: true}, nil
	}

	// The shared call must not die with whichever caller started it.
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key.String(), func() (interface{}, error) {
		if e, ok := s.cache.Get(key); ok {
			return e, nil
		}
		value, err := s.gen.Predict(shared, target, candle)
		if err != nil {
			return nil, err
		}
		e := Entry{Value: value, Text: model.FormatPrediction(target, value)}
		s.cache.Add(key, e)
		return e, nil
	})

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Result{}, fmt.Errorf("prediction failed: %w", res.Err)
		}
		return Result{Entry: res.Val.(Entry)}, nil
	}
}
