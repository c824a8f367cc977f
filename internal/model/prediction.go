package model

import (
	"fmt"
	"time"
)

// PredictionResult stores the outcome of a single form submission
type PredictionResult struct {
	PredictionID string    `json:"prediction_id"`
	Target       Field     `json:"target"`
	Value        string    `json:"value"` // always two decimals
	Text         string    `json:"text"`
	Cached       bool      `json:"cached"`
	Timestamp    time.Time `json:"timestamp"`
}

// FormatPrediction renders the display string shown under the form.
func FormatPrediction(target Field, value string) string {
	return fmt.Sprintf("Predicted %s: %s", target, value)
}
