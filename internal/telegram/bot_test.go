package telegram

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alias1177/equiloom/internal/analysis/prediction"
	"github.com/Alias1177/equiloom/internal/cache"
	"github.com/Alias1177/equiloom/internal/session"
)

type fakeSender struct {
	mu    sync.Mutex
	texts []string
	next  int
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch m := c.(type) {
	case tgbotapi.MessageConfig:
		f.texts = append(f.texts, m.Text)
	case tgbotapi.EditMessageTextConfig:
		f.texts = append(f.texts, "edit:"+m.Text)
	}
	f.next++
	return tgbotapi.Message{MessageID: f.next}, nil
}

func (f *fakeSender) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		return ""
	}
	return f.texts[len(f.texts)-1]
}

func (f *fakeSender) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func newTestBot(t *testing.T) (*Bot, *fakeSender, *session.Manager) {
	t.Helper()
	return newTestBotWithDelay(t, 0)
}

func newTestBotWithDelay(t *testing.T, delay time.Duration) (*Bot, *fakeSender, *session.Manager) {
	t.Helper()
	predictor := prediction.NewPredictor()
	manager := session.NewManager(func() (session.Predictor, error) {
		return cache.NewService(predictor, cache.DefaultSize)
	}, session.Options{Delay: delay}, zerolog.Nop())
	sender := &fakeSender{}
	return New(sender, manager, zerolog.Nop()), sender, manager
}

func message(chatID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}, Text: text}
}

func TestBot_FullConversation(t *testing.T) {
	b, sender, manager := newTestBot(t)
	ctx := context.Background()
	const chat = int64(42)

	b.HandleMessage(ctx, message(chat, "/start"))
	assert.Contains(t, sender.last(), "Which price would you like to predict?")

	b.HandleMessage(ctx, message(chat, "Predict Low"))
	assert.Equal(t, "Predicting Low. Enter the Open price:", sender.last())
	assert.Equal(t, StageAwaitingFields, b.Stage(chat))

	b.HandleMessage(ctx, message(chat, "10"))
	assert.Equal(t, "Enter the High price:", sender.last())

	b.HandleMessage(ctx, message(chat, "12"))
	assert.Equal(t, "Enter the Close price:", sender.last())

	b.HandleMessage(ctx, message(chat, "11"))
	b.wg.Wait()

	texts := sender.all()
	require.GreaterOrEqual(t, len(texts), 3)
	assert.Equal(t, "Predicting...", texts[len(texts)-3])

	result := texts[len(texts)-2]
	require.True(t, strings.HasPrefix(result, "edit:Predicted low: "), result)
	v, err := strconv.ParseFloat(strings.TrimPrefix(result, "edit:Predicted low: "), 64)
	require.NoError(t, err)
	assert.Less(t, v, 10.0)

	assert.Equal(t, "Predict another price?", texts[len(texts)-1])
	assert.Equal(t, StageInitial, b.Stage(chat))

	sess, err := manager.Get(SessionID(chat))
	require.NoError(t, err)
	snap := sess.Snapshot()
	require.NotNil(t, snap.Prediction)
	assert.Equal(t, "low", string(snap.Target))
}

func TestBot_RejectsNonNumericPrice(t *testing.T) {
	b, sender, _ := newTestBot(t)
	ctx := context.Background()
	const chat = int64(7)

	b.HandleMessage(ctx, message(chat, "/predict close"))
	assert.Equal(t, "Predicting Close. Enter the Open price:", sender.last())

	b.HandleMessage(ctx, message(chat, "abc"))
	assert.Equal(t, "Please send a number, for example 101.25", sender.last())
	assert.Equal(t, StageAwaitingFields, b.Stage(chat))

	// the same field is asked again
	b.HandleMessage(ctx, message(chat, "10"))
	assert.Equal(t, "Enter the Low price:", sender.last())
}

func TestBot_CancelResetsFlow(t *testing.T) {
	b, sender, _ := newTestBot(t)
	ctx := context.Background()
	const chat = int64(9)

	b.HandleMessage(ctx, message(chat, "Predict High"))
	require.Equal(t, StageAwaitingFields, b.Stage(chat))

	b.HandleMessage(ctx, message(chat, "/cancel"))
	assert.Equal(t, "Cancelled.", sender.last())
	assert.Equal(t, StageInitial, b.Stage(chat))

	b.HandleMessage(ctx, message(chat, "12"))
	assert.Equal(t, "Choose which price to predict:", sender.last())
}

func TestBot_ChatsHaveSeparateSessions(t *testing.T) {
	b, _, manager := newTestBot(t)
	ctx := context.Background()

	b.HandleMessage(ctx, message(1, "Predict Open"))
	b.HandleMessage(ctx, message(2, "Predict High"))

	s1, err := manager.Get(SessionID(1))
	require.NoError(t, err)
	s2, err := manager.Get(SessionID(2))
	require.NoError(t, err)

	assert.Equal(t, "open", string(s1.Snapshot().Target))
	assert.Equal(t, "high", string(s2.Snapshot().Target))
}

func TestBot_FinishedPredictionKeepsNewerFlow(t *testing.T) {
	b, sender, _ := newTestBotWithDelay(t, 50*time.Millisecond)
	ctx := context.Background()
	const chat = int64(11)

	for _, text := range []string{"Predict Low", "10", "12", "11"} {
		b.HandleMessage(ctx, message(chat, text))
	}
	require.Equal(t, StagePredicting, b.Stage(chat))

	// a new target while the first prediction is still waiting
	b.HandleMessage(ctx, message(chat, "Predict High"))
	require.Equal(t, StageAwaitingFields, b.Stage(chat))

	b.wg.Wait()

	texts := sender.all()
	assert.True(t, strings.HasPrefix(sender.last(), "edit:Predicted low: "), sender.last())
	assert.NotContains(t, texts, "Predict another price?")
	assert.Equal(t, StageAwaitingFields, b.Stage(chat))

	b.HandleMessage(ctx, message(chat, "10"))
	assert.Equal(t, "Enter the Low price:", sender.last())
}

func TestBot_PriceWithoutPendingFields(t *testing.T) {
	b, sender, _ := newTestBot(t)
	ctx := context.Background()
	const chat = int64(12)

	b.HandleMessage(ctx, message(chat, "Predict Open"))

	b.mu.Lock()
	b.chats[chat].Pending = nil
	b.mu.Unlock()

	assert.NotPanics(t, func() {
		b.HandleMessage(ctx, message(chat, "10"))
	})
	assert.Equal(t, "Choose which price to predict:", sender.last())
}

func TestBot_SweepForgetsIdleChats(t *testing.T) {
	b, _, _ := newTestBot(t)
	ctx := context.Background()

	b.HandleMessage(ctx, message(1, "/start"))
	b.HandleMessage(ctx, message(2, "/start"))

	b.mu.Lock()
	b.chats[1].LastActivity = time.Now().Add(-2 * time.Hour)
	b.mu.Unlock()

	assert.Equal(t, 1, b.Sweep(time.Now(), time.Hour))

	b.mu.Lock()
	_, kept := b.chats[2]
	_, dropped := b.chats[1]
	b.mu.Unlock()
	assert.True(t, kept)
	assert.False(t, dropped)
}

func TestParseTargetChoice(t *testing.T) {
	tests := []struct {
		text   string
		want   string
		wantOK bool
	}{
		{"Predict Open", "open", true},
		{"Predict close", "close", true},
		{"/predict low", "low", true},
		{"/predict HIGH", "high", true},
		{"/predict volume", "", false},
		{"Predict", "", false},
		{"10.5", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := parseTargetChoice(tt.text)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestBot_RunStopsOnContext(t *testing.T) {
	b, _, _ := newTestBot(t)
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan tgbotapi.Update)

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, updates) }()

	cancel()
	assert.NoError(t, <-done)
}
