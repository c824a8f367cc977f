package model

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Field names one of the four OHLC price points of a candle.
type Field string

const (
	FieldOpen  Field = "open"
	FieldLow   Field = "low"
	FieldHigh  Field = "high"
	FieldClose Field = "close"
)

// Fields lists the OHLC fields in form order.
var Fields = []Field{FieldOpen, FieldLow, FieldHigh, FieldClose}

var (
	ErrUnknownField = errors.New("unknown OHLC field")
	ErrInvalidInput = errors.New("invalid price input")
)

// ParseField converts user input (case-insensitive) into a Field
func ParseField(s string) (Field, error) {
	f := Field(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FieldOpen, FieldLow, FieldHigh, FieldClose:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownField, s)
}

// Title returns the label shown next to the field in the form
func (f Field) Title() string {
	if f == "" {
		return ""
	}
	return strings.ToUpper(string(f[:1])) + string(f[1:])
}

// Candle holds the numeric OHLC values of a single price candle
type Candle struct {
	Open  float64 `json:"open"`
	Low   float64 `json:"low"`
	High  float64 `json:"high"`
	Close float64 `json:"close"`
}

// Get returns the value stored for f.
func (c Candle) Get(f Field) float64 {
	switch f {
	case FieldOpen:
		return c.Open
	case FieldLow:
		return c.Low
	case FieldHigh:
		return c.High
	case FieldClose:
		return c.Close
	}
	return 0
}

// Set stores v for f.
func (c *Candle) Set(f Field, v float64) {
	switch f {
	case FieldOpen:
		c.Open = v
	case FieldLow:
		c.Low = v
	case FieldHigh:
		c.High = v
	case FieldClose:
		c.Close = v
	}
}

// FormInput holds the raw strings typed into the prediction form
type FormInput struct {
	Open  string `json:"open"`
	Low   string `json:"low"`
	High  string `json:"high"`
	Close string `json:"close"`
}

// Get returns the raw string for f.
func (in FormInput) Get(f Field) string {
	switch f {
	case FieldOpen:
		return in.Open
	case FieldLow:
		return in.Low
	case FieldHigh:
		return in.High
	case FieldClose:
		return in.Close
	}
	return ""
}

// Set stores the raw string for f.
func (in *FormInput) Set(f Field, raw string) {
	switch f {
	case FieldOpen:
		in.Open = raw
	case FieldLow:
		in.Low = raw
	case FieldHigh:
		in.High = raw
	case FieldClose:
		in.Close = raw
	}
}

// Candle parses every field except the predicted one. The predicted field is
// left at zero because the form never collects it.
func (in FormInput) Candle(target Field) (Candle, error) {
	var c Candle
	for _, f := range Fields {
		if f == target {
			continue
		}
		v, err := ParsePrice(in.Get(f))
		if err != nil {
			return Candle{}, fmt.Errorf("%s: %w", f, err)
		}
		c.Set(f, v)
	}
	return c, nil
}

// ParsePrice parses one typed price. Empty, non-numeric and non-finite
// values fail with ErrInvalidInput.
func ParsePrice(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%w: value is required", ErrInvalidInput)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidInput, raw)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q is not finite", ErrInvalidInput, raw)
	}
	return v, nil
}
