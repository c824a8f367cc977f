// Package telegram exposes the prediction form as a Telegram chat. Each chat
// owns one session; the bot asks for the three visible prices in turn and
// then submits them like the web form does.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/Alias1177/equiloom/internal/model"
	platformhttp "github.com/Alias1177/equiloom/internal/platform/http"
	"github.com/Alias1177/equiloom/internal/session"
)

// Chat stages
const (
	StageInitial        = 0
	StageAwaitingFields = 1
	StagePredicting     = 2
)

const (
	pollTimeout  = 60 // seconds, long polling
	buttonPrefix = "Predict "
	mainMenu     = "Main Menu"
)

// Sender delivers messages to Telegram
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// chatState tracks where a chat is in the question flow
type chatState struct {
	Stage        int
	Pending      []model.Field // prices still to ask for
	Session      *session.Session
	Flow         uint64 // bumped whenever the question flow restarts
	LastActivity time.Time
}

// Bot routes chat messages to prediction sessions
type Bot struct {
	api      Sender
	sessions *session.Manager
	logger   zerolog.Logger

	mu    sync.Mutex
	chats map[int64]*chatState
	wg    sync.WaitGroup
}

// New creates a Bot that answers through api
func New(api Sender, sessions *session.Manager, logger zerolog.Logger) *Bot {
	return &Bot{
		api:      api,
		sessions: sessions,
		logger:   logger.With().Str("component", "telegram").Logger(),
		chats:    make(map[int64]*chatState),
	}
}

// Connect authorizes against the Bot API using the rate-limited retrying client.
func Connect(token string) (*tgbotapi.BotAPI, error) {
	client := platformhttp.NewClient(platformhttp.ClientOptions{
		Timeout:        (pollTimeout + 30) * time.Second,
		RequestsPerSec: 20,
	})
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("initializing Telegram bot: %w", err)
	}
	return api, nil
}

// Serve connects with token and handles updates until ctx is done.
func Serve(ctx context.Context, token string, sessions *session.Manager, logger zerolog.Logger) error {
	api, err := Connect(token)
	if err != nil {
		return err
	}

	b := New(api, sessions, logger)
	b.logger.Info().Str("username", api.Self.UserName).Msg("Authorized on Telegram")

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = pollTimeout
	updates := api.GetUpdatesChan(updateConfig)

	go func() {
		<-ctx.Done()
		api.StopReceivingUpdates()
	}()

	return b.Run(ctx, updates)
}

// Run handles updates until the channel closes or ctx is done, then waits for
// pending replies. Chats idle longer than the session TTL are forgotten.
func (b *Bot) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	defer b.wg.Wait()

	ttl := b.sessions.TTL()
	ticker := time.NewTicker(ttl / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			b.Sweep(now, ttl)
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message != nil {
				b.HandleMessage(ctx, update.Message)
			}
		}
	}
}

// SessionID is the session key used for a chat
func SessionID(chatID int64) string {
	return fmt.Sprintf("tg-%d", chatID)
}

// HandleMessage processes one incoming text message
func (b *Bot) HandleMessage(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	text := strings.TrimSpace(message.Text)

	sess, err := b.sessions.GetOrCreate(SessionID(chatID))
	if err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to open session")
		b.send(tgbotapi.NewMessage(chatID, "Something went wrong, please try again later."))
		return
	}

	b.mu.Lock()
	state, exists := b.chats[chatID]
	if !exists {
		state = &chatState{Stage: StageInitial}
		b.chats[chatID] = state
	}
	if state.Session != sess {
		// the previous session expired; start the questions over
		state.restart(StageInitial, nil)
		state.Session = sess
	}
	state.LastActivity = time.Now()
	b.mu.Unlock()

	switch {
	case text == "/start" || text == mainMenu:
		b.reset(chatID)
		msg := tgbotapi.NewMessage(chatID, "Welcome to Equiloom! Which price would you like to predict?")
		msg.ReplyMarkup = mainMenuKeyboard()
		b.send(msg)
		return

	case text == "/help":
		b.send(tgbotapi.NewMessage(chatID,
			"Pick the price to predict, then send the other three prices one by one.\n"+
				"Commands:\n/start - main menu\n/predict <open|low|high|close> - choose a target\n/cancel - start over"))
		return

	case text == "/cancel":
		b.reset(chatID)
		msg := tgbotapi.NewMessage(chatID, "Cancelled.")
		msg.ReplyMarkup = mainMenuKeyboard()
		b.send(msg)
		return
	}

	if target, ok := parseTargetChoice(text); ok {
		b.startTarget(chatID, sess, target)
		return
	}

	b.mu.Lock()
	stage := state.Stage
	b.mu.Unlock()

	switch stage {
	case StageAwaitingFields:
		b.acceptPrice(ctx, chatID, sess, text)
	case StagePredicting:
		b.send(tgbotapi.NewMessage(chatID, "Still working on your prediction..."))
	default:
		msg := tgbotapi.NewMessage(chatID, "Choose which price to predict:")
		msg.ReplyMarkup = mainMenuKeyboard()
		b.send(msg)
	}
}

// parseTargetChoice recognizes "Predict Low" buttons and "/predict low" commands.
func parseTargetChoice(text string) (model.Field, bool) {
	var arg string
	switch {
	case strings.HasPrefix(text, buttonPrefix):
		arg = strings.TrimPrefix(text, buttonPrefix)
	case strings.HasPrefix(text, "/predict"):
		arg = strings.TrimPrefix(text, "/predict")
	default:
		return "", false
	}
	target, err := model.ParseField(arg)
	if err != nil {
		return "", false
	}
	return target, true
}

func (b *Bot) startTarget(chatID int64, sess *session.Session, target model.Field) {
	if err := sess.SetTarget(target); err != nil {
		b.send(tgbotapi.NewMessage(chatID, err.Error()))
		return
	}
	sess.Explore()

	pending := session.VisibleFields(target)

	b.mu.Lock()
	if state, ok := b.chats[chatID]; ok {
		state.restart(StageAwaitingFields, pending)
	}
	b.mu.Unlock()

	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Predicting %s. Enter the %s price:", target.Title(), pending[0].Title()))
	msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(false)
	b.send(msg)
}

func (b *Bot) acceptPrice(ctx context.Context, chatID int64, sess *session.Session, text string) {
	if _, err := model.ParsePrice(text); err != nil {
		b.send(tgbotapi.NewMessage(chatID, "Please send a number, for example 101.25"))
		return
	}

	b.mu.Lock()
	state, ok := b.chats[chatID]
	if !ok || state.Stage != StageAwaitingFields || len(state.Pending) == 0 {
		b.mu.Unlock()
		msg := tgbotapi.NewMessage(chatID, "Choose which price to predict:")
		msg.ReplyMarkup = mainMenuKeyboard()
		b.send(msg)
		return
	}
	field := state.Pending[0]
	state.Pending = state.Pending[1:]
	remaining := len(state.Pending)
	flow := state.Flow
	var next model.Field
	if remaining > 0 {
		next = state.Pending[0]
	} else {
		state.Stage = StagePredicting
	}
	b.mu.Unlock()

	if err := sess.SetField(field, text); err != nil {
		b.send(tgbotapi.NewMessage(chatID, err.Error()))
		return
	}

	if remaining > 0 {
		b.send(tgbotapi.NewMessage(chatID, fmt.Sprintf("Enter the %s price:", next.Title())))
		return
	}

	b.submit(ctx, chatID, sess, flow)
}

// submit runs the session submission and reports the outcome without
// blocking the update loop. The chat only returns to the main menu if no
// newer question flow has started in the meantime.
func (b *Bot) submit(ctx context.Context, chatID int64, sess *session.Session, flow uint64) {
	sent, err := b.api.Send(tgbotapi.NewMessage(chatID, "Predicting..."))
	if err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send message")
	}
	outcome := sess.Submit()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		var text string
		select {
		case <-ctx.Done():
			return
		case res, ok := <-outcome:
			if !ok {
				// superseded by a newer submission
				return
			}
			switch {
			case res.Err != nil && errors.Is(res.Err, model.ErrInvalidInput):
				text = "Invalid input: " + res.Err.Error()
			case res.Err != nil:
				text = "Prediction failed: " + res.Err.Error()
				b.logger.Warn().Err(res.Err).Int64("chat_id", chatID).Msg("Prediction failed")
			default:
				text = res.Prediction.Text
			}
		}

		current := b.finish(chatID, flow)
		if err == nil {
			b.send(tgbotapi.NewEditMessageText(chatID, sent.MessageID, text))
		} else {
			b.send(tgbotapi.NewMessage(chatID, text))
		}
		if !current {
			return
		}
		menu := tgbotapi.NewMessage(chatID, "Predict another price?")
		menu.ReplyMarkup = mainMenuKeyboard()
		b.send(menu)
	}()
}

func (b *Bot) reset(chatID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if state, ok := b.chats[chatID]; ok {
		state.restart(StageInitial, nil)
	}
}

// finish ends the flow that submitted a prediction and reports whether it was
// still the chat's current flow.
func (b *Bot) finish(chatID int64, flow uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.chats[chatID]
	if !ok || state.Flow != flow {
		return false
	}
	state.restart(StageInitial, nil)
	return true
}

// restart must be called with the bot's mu held.
func (c *chatState) restart(stage int, pending []model.Field) {
	c.Flow++
	c.Stage = stage
	c.Pending = pending
}

// Sweep forgets chats idle since before now-ttl and returns how many were removed.
func (b *Bot) Sweep(now time.Time, ttl time.Duration) int {
	cutoff := now.Add(-ttl)

	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	for chatID, state := range b.chats {
		if state.LastActivity.Before(cutoff) {
			delete(b.chats, chatID)
			removed++
		}
	}
	if removed > 0 {
		b.logger.Debug().Int("removed", removed).Int("active", len(b.chats)).Msg("Idle chats swept")
	}
	return removed
}

// Stage reports where a chat is in the question flow
func (b *Bot) Stage(chatID int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if state, ok := b.chats[chatID]; ok {
		return state.Stage
	}
	return StageInitial
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		b.logger.Error().Err(err).Msg("Failed to send message")
	}
}

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(buttonPrefix+model.FieldOpen.Title()),
			tgbotapi.NewKeyboardButton(buttonPrefix+model.FieldClose.Title()),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(buttonPrefix+model.FieldLow.Title()),
			tgbotapi.NewKeyboardButton(buttonPrefix+model.FieldHigh.Title()),
		),
	)
}
