package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Alias1177/equiloom/internal/analysis/prediction"
	"github.com/Alias1177/equiloom/internal/cache"
	"github.com/Alias1177/equiloom/internal/config"
	"github.com/Alias1177/equiloom/internal/session"
	"github.com/Alias1177/equiloom/internal/telegram"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("Failed to load config")
	}

	// Setup logger
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl).With().Timestamp().Logger()

	if cfg.TelegramBotToken == "" {
		logger.Fatal().Msg("TELEGRAM_BOT_TOKEN not set in environment")
	}

	predictor := prediction.NewPredictor(prediction.WithMaxAttempts(cfg.MaxAttempts))
	sessions := session.NewManager(func() (session.Predictor, error) {
		return cache.NewService(predictor, cfg.CacheSize)
	}, session.Options{
		Delay: cfg.PredictionDelay,
		TTL:   cfg.SessionTTL,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sessions.Run(ctx, 0)
	})
	g.Go(func() error {
		return telegram.Serve(ctx, cfg.TelegramBotToken, sessions, logger)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("Telegram bot stopped")
	}
}
