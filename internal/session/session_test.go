package session

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alias1177/equiloom/internal/analysis/prediction"
	"github.com/Alias1177/equiloom/internal/cache"
	"github.com/Alias1177/equiloom/internal/model"
)

// countingGenerator counts how often the sampling loop actually runs.
type countingGenerator struct {
	calls atomic.Int32
	next  *prediction.Predictor
}

func (g *countingGenerator) Predict(ctx context.Context, target model.Field, c model.Candle) (string, error) {
	g.calls.Add(1)
	return g.next.Predict(ctx, target, c)
}

// blockingPredictor waits for release or cancellation.
type blockingPredictor struct {
	release chan struct{}
	started chan struct{}
}

func (p *blockingPredictor) Predict(ctx context.Context, target model.Field, _ model.FormInput) (cache.Result, error) {
	p.started <- struct{}{}
	select {
	case <-ctx.Done():
		return cache.Result{}, ctx.Err()
	case <-p.release:
		return cache.Result{Entry: cache.Entry{Value: "1.00", Text: model.FormatPrediction(target, "1.00")}}, nil
	}
}

func newTestSession(t *testing.T, delay time.Duration) (*Session, *countingGenerator) {
	t.Helper()
	gen := &countingGenerator{next: prediction.NewPredictor()}
	svc, err := cache.NewService(gen, 0)
	require.NoError(t, err)
	return New("test", svc, delay, zerolog.Nop()), gen
}

func fill(t *testing.T, s *Session, in model.FormInput) {
	t.Helper()
	for _, f := range model.Fields {
		require.NoError(t, s.SetField(f, in.Get(f)))
	}
}

func await(t *testing.T, ch <-chan Outcome) (Outcome, bool) {
	t.Helper()
	select {
	case o, ok := <-ch:
		return o, ok
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for submission")
		return Outcome{}, false
	}
}

func TestVisibleFields(t *testing.T) {
	tests := []struct {
		target model.Field
		want   []model.Field
	}{
		{model.FieldOpen, []model.Field{model.FieldLow, model.FieldHigh, model.FieldClose}},
		{model.FieldLow, []model.Field{model.FieldOpen, model.FieldHigh, model.FieldClose}},
		{model.FieldHigh, []model.Field{model.FieldOpen, model.FieldLow, model.FieldClose}},
		{model.FieldClose, []model.Field{model.FieldOpen, model.FieldLow, model.FieldHigh}},
	}
	for _, tt := range tests {
		t.Run(string(tt.target), func(t *testing.T) {
			assert.Equal(t, tt.want, VisibleFields(tt.target))
		})
	}
}

func TestSession_Defaults(t *testing.T) {
	s, _ := newTestSession(t, 0)
	snap := s.Snapshot()

	assert.Equal(t, "test", snap.ID)
	assert.False(t, snap.ShowForm)
	assert.Equal(t, model.FieldOpen, snap.Target)
	assert.False(t, snap.DarkMode)
	assert.False(t, snap.Loading)
	assert.Nil(t, snap.Prediction)

	s.Explore()
	assert.True(t, s.Snapshot().ShowForm)
}

func TestSession_ToggleTheme(t *testing.T) {
	s, _ := newTestSession(t, 0)
	assert.True(t, s.ToggleTheme())
	assert.True(t, s.Snapshot().DarkMode)
	assert.False(t, s.ToggleTheme())
}

func TestSession_SubmitProducesPrediction(t *testing.T) {
	s, _ := newTestSession(t, 10*time.Millisecond)
	fill(t, s, model.FormInput{Low: "10.00", High: "12.00", Close: "11.00"})

	ch := s.Submit()
	assert.True(t, s.Snapshot().Loading)

	o, ok := await(t, ch)
	require.True(t, ok)
	require.NoError(t, o.Err)
	require.NotNil(t, o.Prediction)
	assert.Regexp(t, `^Predicted open: \d+\.\d{2}$`, o.Prediction.Text)
	assert.NotEmpty(t, o.Prediction.PredictionID)

	snap := s.Snapshot()
	assert.False(t, snap.Loading)
	require.NotNil(t, snap.Prediction)
	assert.Equal(t, o.Prediction.Text, snap.Prediction.Text)
}

func TestSession_EditClearsResultButKeepsCache(t *testing.T) {
	s, gen := newTestSession(t, 0)
	in := model.FormInput{Open: "10", High: "12", Close: "11"}
	require.NoError(t, s.SetTarget(model.FieldLow))
	fill(t, s, in)

	first, ok := await(t, s.Submit())
	require.True(t, ok)
	require.NoError(t, first.Err)
	require.NotNil(t, s.Snapshot().Prediction)

	require.NoError(t, s.SetField(model.FieldHigh, "12"))
	assert.Nil(t, s.Snapshot().Prediction)

	second, ok := await(t, s.Submit())
	require.True(t, ok)
	require.NoError(t, second.Err)
	assert.True(t, second.Prediction.Cached)
	assert.Equal(t, first.Prediction.Text, second.Prediction.Text)
	assert.Equal(t, int32(1), gen.calls.Load())
}

func TestSession_TargetChangeKeepsResult(t *testing.T) {
	s, _ := newTestSession(t, 0)
	fill(t, s, model.FormInput{Low: "1", High: "2", Close: "1.5"})

	_, ok := await(t, s.Submit())
	require.True(t, ok)

	require.NoError(t, s.SetTarget(model.FieldClose))
	assert.NotNil(t, s.Snapshot().Prediction)
	assert.Equal(t, []model.Field{model.FieldOpen, model.FieldLow, model.FieldHigh}, s.Snapshot().Visible)
}

func TestSession_InvalidInputSurfacesError(t *testing.T) {
	s, gen := newTestSession(t, 0)
	fill(t, s, model.FormInput{Low: "", High: "12", Close: "11"})

	o, ok := await(t, s.Submit())
	require.True(t, ok)
	assert.ErrorIs(t, o.Err, model.ErrInvalidInput)

	snap := s.Snapshot()
	assert.False(t, snap.Loading)
	assert.Nil(t, snap.Prediction)
	assert.Contains(t, snap.Error, "low")
	assert.Zero(t, gen.calls.Load())

	require.NoError(t, s.SetField(model.FieldLow, "10"))
	assert.Empty(t, s.Snapshot().Error)
}

func TestSession_NewSubmissionSupersedesWaitingOne(t *testing.T) {
	s, gen := newTestSession(t, 50*time.Millisecond)
	fill(t, s, model.FormInput{Low: "10", High: "12", Close: "11"})

	first := s.Submit()
	require.NoError(t, s.SetTarget(model.FieldClose))
	require.NoError(t, s.SetField(model.FieldOpen, "10.5"))
	second := s.Submit()

	_, ok := await(t, first)
	assert.False(t, ok, "superseded submission must not deliver an outcome")

	o, ok := await(t, second)
	require.True(t, ok)
	require.NoError(t, o.Err)
	assert.Equal(t, model.FieldClose, o.Prediction.Target)
	assert.Equal(t, model.FieldClose, s.Snapshot().Prediction.Target)
	assert.Equal(t, int32(1), gen.calls.Load())
}

func TestSession_SupersededWhileComputing(t *testing.T) {
	p := &blockingPredictor{release: make(chan struct{}), started: make(chan struct{}, 2)}
	s := New("test", p, 0, zerolog.Nop())

	first := s.Submit()
	<-p.started

	second := s.Submit()
	<-p.started
	close(p.release)

	_, ok := await(t, first)
	assert.False(t, ok)

	o, ok := await(t, second)
	require.True(t, ok)
	require.NoError(t, o.Err)
	assert.Equal(t, "Predicted open: 1.00", s.Snapshot().Prediction.Text)
}

func TestSession_CloseCancelsInFlight(t *testing.T) {
	s, gen := newTestSession(t, time.Hour)
	fill(t, s, model.FormInput{Low: "10", High: "12", Close: "11"})

	ch := s.Submit()
	s.Close()

	_, ok := await(t, ch)
	assert.False(t, ok)
	assert.False(t, s.Snapshot().Loading)
	assert.Zero(t, gen.calls.Load())

	_, ok = await(t, s.Submit())
	assert.False(t, ok, "closed session ignores submissions")
}

func TestSession_UnknownField(t *testing.T) {
	s, _ := newTestSession(t, 0)
	assert.True(t, errors.Is(s.SetField("volume", "1"), model.ErrUnknownField))
	assert.True(t, errors.Is(s.SetTarget("volume"), model.ErrUnknownField))
}

func TestSession_SubmitFormUsesGivenInputs(t *testing.T) {
	s, _ := newTestSession(t, 0)
	fill(t, s, model.FormInput{Open: "1", High: "2", Close: "1.5"})

	ch, err := s.SubmitForm(model.FieldLow, model.FormInput{Open: "10", High: "12", Close: "11"})
	require.NoError(t, err)

	out, ok := await(t, ch)
	require.True(t, ok)
	require.NoError(t, out.Err)
	assert.Equal(t, model.FieldLow, out.Prediction.Target)

	snap := s.Snapshot()
	assert.Equal(t, "10", snap.Fields.Open)
	assert.Equal(t, model.FieldLow, snap.Target)
	require.NotNil(t, snap.Prediction)
	v, err := strconv.ParseFloat(snap.Prediction.Value, 64)
	require.NoError(t, err)
	assert.Less(t, v, 10.0)
	assert.Greater(t, v, 9.0)
}

func TestSession_SubmitFormRejectsUnknownTarget(t *testing.T) {
	s, _ := newTestSession(t, 0)

	_, err := s.SubmitForm(model.Field("volume"), model.FormInput{})
	assert.ErrorIs(t, err, model.ErrUnknownField)
	assert.False(t, s.Snapshot().Loading)
}
