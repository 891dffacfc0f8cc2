package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/awwantil/relaybot/internal/access"
	"github.com/awwantil/relaybot/internal/assistant"
	"github.com/awwantil/relaybot/internal/bot"
	"github.com/awwantil/relaybot/internal/choice"
	"github.com/awwantil/relaybot/internal/config"
	"github.com/awwantil/relaybot/internal/delivery"
	"github.com/awwantil/relaybot/internal/fetch"
	"github.com/awwantil/relaybot/internal/jobs"
	"github.com/awwantil/relaybot/internal/logutil"
	"github.com/awwantil/relaybot/internal/metrics"
	"github.com/awwantil/relaybot/internal/ratelimit"
	"github.com/awwantil/relaybot/internal/relay"
)

const (
	refStoreSize    = 4096
	chatConcurrency = 8
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) error {
	envFile, _ := cmd.Flags().GetString("env-file")

	cfg := &config.Config{}
	if err := config.Load(cfg, envFile); err != nil {
		return fmt.Errorf("can't load config: %w", err)
	}
	logger, err := logutil.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api, err := newBotAPI(cfg)
	if err != nil {
		return err
	}
	api.Debug = cfg.Debug
	logger.Info("authorized", "account", api.Self.UserName)

	ws, err := jobs.NewWorkspace(cfg.WorkDir, logger)
	if err != nil {
		return err
	}
	ws.Purge()

	out := bot.NewOutbox(api, logger)
	fetcher := fetch.New(fetch.ExecRunner{Binary: cfg.YtDlpPath}, fetch.Options{
		Retries:     cfg.DownloadRetries,
		CookiesFile: cfg.CookiesFile,
		FFmpegPath:  cfg.FFmpegPath,
	}, logger)
	// Uploads go straight to the API from the job worker so they never queue
	// in front of short replies.
	deliverer := delivery.New(api, cfg.MediaPreviewLimit, logger)

	allow := access.NewAllowList(cfg.AllowedUsers)
	if allow.Enabled() {
		logger.Info("allow_list_enabled", "entries", allow.Len())
	}

	redisClient := newRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	deps := bot.Deps{
		Outbox:    out,
		Selector:  choice.NewSelector(choice.NewRefStore(refStoreSize, choice.DefaultRefTTL)),
		Workspace: ws,
		Relay:     relay.New(fetcher, deliverer, ws, out, logger),
		Access:    allow,
		Limiter:   ratelimit.New(cfg.RateLimitPerMinute, redisClient, logger),
		Jobs:      bot.NewDispatcher("jobs", cfg.MaxConcurrentJobs, cfg.JobTimeout, logger),
		Logger:    logger,
	}
	if cfg.ChatEnabled() {
		history, err := assistant.NewHistory(cfg.ChatHistorySize, cfg.ChatMaxConversations)
		if err != nil {
			return fmt.Errorf("failed to create chat history: %w", err)
		}
		client := assistant.NewClient(cfg.ChatEndpoint, cfg.ChatAPIKey, cfg.ChatTimeout)
		deps.Assistant = assistant.New(client, history, cfg.BlockedKeywords, logger)
		deps.Chat = bot.NewDispatcher("chat", chatConcurrency, cfg.ChatTimeout, logger)
		logger.Info("assistant_enabled", "endpoint", cfg.ChatEndpoint)
	}
	b := bot.New(deps)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := api.GetUpdatesChan(u)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return b.Run(gctx, updates)
	})
	g.Go(func() error {
		<-gctx.Done()
		api.StopReceivingUpdates()
		return nil
	})
	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.MetricsAddr, logger)
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	logger.Info("bot_started", "work_dir", ws.Dir(), "max_jobs", cfg.MaxConcurrentJobs, "job_timeout", cfg.JobTimeout.String())
	return g.Wait()
}

func newBotAPI(cfg *config.Config) (*tgbotapi.BotAPI, error) {
	var (
		api *tgbotapi.BotAPI
		err error
	)
	if cfg.TelegramAPIEndpoint != "" {
		api, err = tgbotapi.NewBotAPIWithAPIEndpoint(cfg.TelegramBotToken, cfg.TelegramAPIEndpoint)
	} else {
		api, err = tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	}
	if err != nil {
		return nil, fmt.Errorf("NewBotAPI error: %w", err)
	}
	return api, nil
}

// newRedis returns nil when Redis is not configured or unreachable; the rate
// limiter then counts in memory.
func newRedis(ctx context.Context, cfg *config.Config, logger *slog.Logger) *redis.Client {
	if cfg.RedisAddr == "" || cfg.RateLimitPerMinute == 0 {
		return nil
	}
	client, err := ratelimit.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Warn("redis_unavailable", "addr", cfg.RedisAddr, "error", err)
		return nil
	}
	logger.Info("redis_connected", "addr", cfg.RedisAddr)
	return client
}
