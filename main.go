// Command funpay-notifier monitors a funpay marketplace listing page for new
// offers, price changes, and removals, and notifies Discord and/or Telegram.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"funpay-notifier/format"
	"funpay-notifier/notify"
	"funpay-notifier/poll"
	"funpay-notifier/reconcile"
	"funpay-notifier/scraper"
	"funpay-notifier/server"
	"funpay-notifier/storage"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Config is the full configuration surface, populated once at startup from
// the environment and passed into components. No globals.
type Config struct {
	PageURL string

	// Persistence: a GCS bucket, or a local directory for development.
	Bucket          string
	LocalStorage    string
	CredentialsJSON string

	// Reconciliation policy.
	DropPercent     float64
	DropAmount      float64
	NotifyIncreases bool
	MinSP           float64

	// Delivery backends, in priority order: Discord first, Telegram fallback.
	DiscordWebhookURL string
	TelegramBotToken  string
	TelegramChatID    string

	RequestDelay   time.Duration
	RequestTimeout time.Duration
	ChunkDelay     time.Duration

	Port    string
	RunOnce bool
}

func configFromEnv() (*Config, error) {
	cfg := &Config{
		PageURL:           envOr("FUNPAY_URL", "https://funpay.com/en/lots/687/"),
		Bucket:            os.Getenv("STORAGE_BUCKET"),
		LocalStorage:      os.Getenv("LOCAL_STORAGE"),
		CredentialsJSON:   os.Getenv("GOOGLE_CREDENTIALS_JSON"),
		DiscordWebhookURL: os.Getenv("DISCORD_WEBHOOK_URL"),
		TelegramBotToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:    os.Getenv("TELEGRAM_CHAT_ID"),
		Port:              envOr("PORT", "8080"),
		RunOnce:           envBool("RUN_ONCE"),
		NotifyIncreases:   envBool("NOTIFY_PRICE_INCREASES"),
	}

	var err error
	if cfg.DropPercent, err = envFloat("PRICE_DROP_PERCENT", 0); err != nil {
		return nil, err
	}
	if cfg.DropAmount, err = envFloat("PRICE_DROP_AMOUNT", 0); err != nil {
		return nil, err
	}
	if cfg.DropPercent == 0 && cfg.DropAmount == 0 {
		cfg.DropPercent = 5.0
	}
	if cfg.MinSP, err = envFloat("MIN_SP_MILLION", 0); err != nil {
		return nil, err
	}
	if cfg.RequestDelay, err = envDuration("REQUEST_DELAY", time.Second); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = envDuration("REQUEST_TIMEOUT", 20*time.Second); err != nil {
		return nil, err
	}
	if cfg.ChunkDelay, err = envDuration("CHUNK_DELAY", time.Second); err != nil {
		return nil, err
	}

	telegramConfigured := cfg.TelegramBotToken != "" && cfg.TelegramChatID != ""
	if cfg.DiscordWebhookURL == "" && !telegramConfigured {
		return nil, errors.New("no notification credentials: set DISCORD_WEBHOOK_URL or TELEGRAM_BOT_TOKEN+TELEGRAM_CHAT_ID")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	v, _ := strconv.ParseBool(os.Getenv(key))
	return v
}

func envFloat(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func main() {
	ctx := context.Background()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := configFromEnv()
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	policy := reconcile.Policy{
		DropPercent:     cfg.DropPercent,
		DropAmount:      cfg.DropAmount,
		NotifyIncreases: cfg.NotifyIncreases,
		MinSP:           cfg.MinSP,
	}
	if err := policy.Validate(); err != nil {
		logger.Error("Invalid reconciliation policy", "error", err)
		os.Exit(1)
	}

	// Default to local development mode if no bucket specified.
	if cfg.Bucket == "" && cfg.LocalStorage == "" {
		cfg.LocalStorage = "./data"
		logger.Info("No STORAGE_BUCKET set, defaulting to local development mode", "storage_path", cfg.LocalStorage)
	}

	var store *storage.Store
	if cfg.LocalStorage != "" {
		if err := os.MkdirAll(cfg.LocalStorage, 0o755); err != nil {
			logger.Error("Failed to create local storage directory", "error", err)
			os.Exit(1)
		}
		store = storage.New(nil, "", cfg.LocalStorage, logger)
	} else {
		var opts []option.ClientOption
		if cfg.CredentialsJSON != "" {
			opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
		}
		client, err := gcs.NewClient(ctx, opts...)
		if err != nil {
			logger.Error("Failed to initialize Storage client", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}()
		store = storage.New(client, cfg.Bucket, "", logger)
	}

	var backends []notify.Backend
	if cfg.DiscordWebhookURL != "" {
		backends = append(backends, notify.NewDiscord(cfg.DiscordWebhookURL, cfg.ChunkDelay, logger))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		backends = append(backends, notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, logger))
	}

	httpClient := &http.Client{Timeout: cfg.RequestTimeout}

	monitor := poll.New(
		scraper.New(httpClient, cfg.PageURL, cfg.RequestDelay, logger),
		store,
		reconcile.New(policy, logger),
		notify.NewDispatcher(backends, logger),
		format.Render,
		logger,
	)

	if cfg.RunOnce {
		if err := monitor.Run(ctx); err != nil {
			logger.Error("Monitoring run failed", "error", err)
			os.Exit(1)
		}
		return
	}

	srv := server.New(monitor, cfg.PageURL, logger)
	if err := srv.ListenAndServe(cfg.Port); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
