package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Alias1177/equiloom/internal/analysis/prediction"
	"github.com/Alias1177/equiloom/internal/cache"
	"github.com/Alias1177/equiloom/internal/config"
	"github.com/Alias1177/equiloom/internal/model"
	"github.com/Alias1177/equiloom/internal/server"
	"github.com/Alias1177/equiloom/internal/session"
	"github.com/Alias1177/equiloom/internal/telegram"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "equiloom",
		Short: "Equiloom stock prediction page",
		Long: `Equiloom serves a landing page and form that "predicts" one of the four
OHLC prices of a security from the other three.`,
		Example: `  # Serve the page on $PORT (default 8080)
  equiloom

  # Predict the low price once and exit
  equiloom predict --target low --open 10 --high 12 --close 11`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}

	rootCmd.AddCommand(serveCmd(), predictCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the landing page and session API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func predictCmd() *cobra.Command {
	var (
		target string
		in     model.FormInput
	)

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Print one prediction and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			setupLogger(cfg.LogLevel)

			field, err := model.ParseField(target)
			if err != nil {
				return err
			}

			svc, err := cache.NewService(prediction.NewPredictor(prediction.WithMaxAttempts(cfg.MaxAttempts)), 1)
			if err != nil {
				return err
			}
			res, err := svc.Predict(cmd.Context(), field, in)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Text)
			return nil
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", string(model.FieldOpen), "Price to predict: open, low, high or close")
	cmd.Flags().StringVar(&in.Open, "open", "", "Open price")
	cmd.Flags().StringVar(&in.Low, "low", "", "Low price")
	cmd.Flags().StringVar(&in.High, "high", "", "High price")
	cmd.Flags().StringVar(&in.Close, "close", "", "Close price")

	return cmd
}

func setupLogger(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl).With().Timestamp().Logger()
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.Version = version
	setupLogger(cfg.LogLevel)

	predictor := prediction.NewPredictor(prediction.WithMaxAttempts(cfg.MaxAttempts))
	sessions := session.NewManager(func() (session.Predictor, error) {
		return cache.NewService(predictor, cfg.CacheSize)
	}, session.Options{
		Delay: cfg.PredictionDelay,
		TTL:   cfg.SessionTTL,
	}, log.Logger)

	srv, err := server.New(*cfg, sessions, log.Logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down")
		return srv.Stop(context.Background())
	})
	g.Go(func() error {
		return sessions.Run(ctx, 0)
	})
	if cfg.TelegramBotToken != "" {
		g.Go(func() error {
			return telegram.Serve(ctx, cfg.TelegramBotToken, sessions, log.Logger)
		})
	} else {
		log.Debug().Msg("TELEGRAM_BOT_TOKEN not set, Telegram bot disabled")
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		return err
	}
	return nil
}
