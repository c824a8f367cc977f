// Package session holds the state behind one prediction form: the raw field
// values, the selected target, the theme flag and the displayed result.
//
// Submitting runs the prediction after a fixed cosmetic delay. A newer
// submission supersedes any older one still waiting, so results are always
// applied in submission order.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Alias1177/equiloom/internal/cache"
	"github.com/Alias1177/equiloom/internal/model"
)

// DefaultDelay is the pause between a submission and its result.
const DefaultDelay = 2 * time.Second

// Predictor computes the display result for a form submission
type Predictor interface {
	Predict(ctx context.Context, target model.Field, in model.FormInput) (cache.Result, error)
}

// Snapshot is a read-only copy of a session's state
type Snapshot struct {
	ID         string                  `json:"id"`
	ShowForm   bool                    `json:"show_form"`
	Target     model.Field             `json:"target"`
	DarkMode   bool                    `json:"dark_mode"`
	Fields     model.FormInput         `json:"fields"`
	Visible    []model.Field           `json:"visible_fields"`
	Loading    bool                    `json:"loading"`
	Prediction *model.PredictionResult `json:"prediction,omitempty"`
	Error      string                  `json:"error,omitempty"`
	LastActive time.Time               `json:"last_active"`
}

// Outcome is delivered once per submission that was not superseded
type Outcome struct {
	Prediction *model.PredictionResult
	Err        error
}

// Session is safe for concurrent use.
type Session struct {
	id        string
	delay     time.Duration
	predictor Predictor
	logger    zerolog.Logger

	mu         sync.Mutex
	showForm   bool
	target     model.Field
	darkMode   bool
	form       model.FormInput
	result     *model.PredictionResult
	errMsg     string
	loading    bool
	generation uint64
	cancel     context.CancelFunc
	lastActive time.Time
	closed     bool
}

// New creates a session with the default target (open) and light theme.
func New(id string, predictor Predictor, delay time.Duration, logger zerolog.Logger) *Session {
	if delay < 0 {
		delay = 0
	}
	return &Session{
		id:         id,
		delay:      delay,
		predictor:  predictor,
		logger:     logger.With().Str("session_id", id).Logger(),
		target:     model.FieldOpen,
		lastActive: time.Now(),
	}
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// VisibleFields returns the inputs shown for target: every field except the predicted one.
func VisibleFields(target model.Field) []model.Field {
	visible := make([]model.Field, 0, len(model.Fields)-1)
	for _, f := range model.Fields {
		if f != target {
			visible = append(visible, f)
		}
	}
	return visible
}

// Explore reveals the prediction form.
func (s *Session) Explore() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.showForm = true
	s.touch()
}

// SetTarget selects which field is predicted. The displayed result is kept.
func (s *Session) SetTarget(target model.Field) error {
	target, err := model.ParseField(string(target))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = target
	s.touch()
	return nil
}

// SetField stores a raw input value and clears the displayed result. Cached
// predictions are not affected.
func (s *Session) SetField(field model.Field, raw string) error {
	field, err := model.ParseField(string(field))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.form.Set(field, raw)
	s.result = nil
	s.errMsg = ""
	s.touch()
	return nil
}

// ToggleTheme flips between light and dark presentation and returns the new value.
func (s *Session) ToggleTheme() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.darkMode = !s.darkMode
	s.touch()
	return s.darkMode
}

// Submit starts a prediction for the current target and inputs. Any earlier
// submission still in flight is cancelled and will never touch the session.
// The returned channel yields the outcome, or is closed empty when this
// submission is itself superseded or the session is closed.
func (s *Session) Submit() <-chan Outcome {
	s.mu.Lock()
	return s.submitLocked()
}

// SubmitForm stores target and every field of form, then submits them in one
// step, so the prediction never sees values older than the ones given here.
// A changed field clears the displayed result like SetField does.
func (s *Session) SubmitForm(target model.Field, form model.FormInput) (<-chan Outcome, error) {
	target, err := model.ParseField(string(target))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.target = target
	if form != s.form {
		s.form = form
		s.result = nil
	}
	return s.submitLocked(), nil
}

// submitLocked must be called with mu held; it releases it.
func (s *Session) submitLocked() <-chan Outcome {
	out := make(chan Outcome, 1)

	if s.closed {
		s.mu.Unlock()
		close(out)
		return out
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.generation++
	gen := s.generation
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.loading = true
	s.errMsg = ""
	target, form := s.target, s.form
	s.touch()
	s.mu.Unlock()

	s.logger.Debug().Uint64("generation", gen).Str("target", string(target)).Msg("Prediction submitted")

	go s.run(ctx, gen, target, form, out)
	return out
}

func (s *Session) run(ctx context.Context, gen uint64, target model.Field, form model.FormInput, out chan<- Outcome) {
	defer close(out)

	timer := time.NewTimer(s.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		s.logger.Debug().Uint64("generation", gen).Msg("Prediction superseded before it ran")
		return
	case <-timer.C:
	}

	res, err := s.predictor.Predict(ctx, target, form)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || ctx.Err() != nil {
		s.logger.Debug().Uint64("generation", gen).Msg("Dropping superseded prediction")
		return
	}
	s.loading = false
	s.cancel()
	s.cancel = nil

	if err != nil {
		s.result = nil
		s.errMsg = err.Error()
		s.logger.Warn().Err(err).Str("target", string(target)).Msg("Prediction failed")
		out <- Outcome{Err: err}
		return
	}

	s.result = &model.PredictionResult{
		PredictionID: uuid.NewString(),
		Target:       target,
		Value:        res.Value,
		Text:         res.Text,
		Cached:       res.Cached,
		Timestamp:    time.Now(),
	}
	s.logger.Info().
		Str("target", string(target)).
		Str("value", res.Value).
		Bool("cached", res.Cached).
		Msg("Prediction ready")

	p := *s.result
	out <- Outcome{Prediction: &p}
}

// Snapshot returns a copy of the current state
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:         s.id,
		ShowForm:   s.showForm,
		Target:     s.target,
		DarkMode:   s.darkMode,
		Fields:     s.form,
		Visible:    VisibleFields(s.target),
		Loading:    s.loading,
		Error:      s.errMsg,
		LastActive: s.lastActive,
	}
	if s.result != nil {
		p := *s.result
		snap.Prediction = &p
	}
	return snap
}

// LastActive reports when the session was last used.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Close cancels any in-flight submission. Further submissions are ignored.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.generation++
	s.loading = false
	s.closed = true
}

// touch must be called with mu held.
func (s *Session) touch() {
	s.lastActive = time.Now()
}
