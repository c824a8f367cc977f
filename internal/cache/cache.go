// Package cache memoizes formatted predictions per input tuple.
package cache

import (
	"fmt"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Alias1177/equiloom/internal/model"
)

// DefaultSize is the number of entries kept when no size is configured.
const DefaultSize = 256

// Key identifies a prediction by target and numeric inputs. The slot of the
// predicted field is always zero so stale hidden form values never split entries.
type Key struct {
	Target model.Field
	Open   float64
	Low    float64
	High   float64
	Close  float64
}

// NewKey builds the key for predicting target from c.
func NewKey(target model.Field, c model.Candle) Key {
	c.Set(target, 0)
	return Key{Target: target, Open: c.Open, Low: c.Low, High: c.High, Close: c.Close}
}

func (k Key) String() string {
	parts := []string{string(k.Target)}
	for _, v := range []float64{k.Open, k.Low, k.High, k.Close} {
		parts = append(parts, strconv.FormatFloat(v, 'g', -1, 64))
	}
	return strings.Join(parts, "|")
}

// Entry is a cached prediction
type Entry struct {
	Value string // two decimals
	Text  string // "Predicted <target>: <value>"
}

// Cache is a size-bounded LRU of predictions. It is safe for concurrent use.
type Cache struct {
	entries *lru.Cache[Key, Entry]
}

// New creates a cache holding at most size entries
func New(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	entries, err := lru.New[Key, Entry](size)
	if err != nil {
		return nil, fmt.Errorf("creating prediction cache: %w", err)
	}
	return &Cache{entries: entries}, nil
}

// Get looks up a previous prediction
func (c *Cache) Get(k Key) (Entry, bool) {
	return c.entries.Get(k)
}

// Add stores e under k, evicting the least recently used entry when full.
func (c *Cache) Add(k Key, e Entry) {
	c.entries.Add(k, e)
}

// Len returns the number of cached predictions
func (c *Cache) Len() int {
	return c.entries.Len()
}
