package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/security-ir-jira/internal/api/http"
	"github.com/spec-kit/security-ir-jira/internal/api/http/handlers"
	"github.com/spec-kit/security-ir-jira/internal/auth"
	"github.com/spec-kit/security-ir-jira/internal/bootstrap"
	"github.com/spec-kit/security-ir-jira/internal/config"
	"github.com/spec-kit/security-ir-jira/internal/observability"
	"github.com/spec-kit/security-ir-jira/internal/worker"
)

func main() {
	flags := pflag.NewFlagSet("security-ir-jira", pflag.ExitOnError)
	envFiles := flags.StringSlice("env-file", nil, "dotenv files to load before the environment")
	runSync := flags.Bool("sync", true, "consume bus events and mirror them in this process")
	runPoller := flags.Bool("poll", true, "poll the case-management API for changes")
	var op operatorFlags
	flags.StringVar(&op.hashAdminKey, "hash-admin-key", "", "print the ADMIN_API_KEY_HASH for this key (- reads stdin) and exit")
	flags.StringVar(&op.tokenFor, "issue-webhook-token", "", "print a webhook bearer token for this client and exit")
	flags.IntVar(&op.tokenTTL, "token-ttl-minutes", 60*24*365, "lifetime of tokens printed by --issue-webhook-token")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(*envFiles...)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if op.requested() {
		if err := runOperator(op, cfg, os.Stdin, os.Stdout); err != nil {
			log.Fatal(err)
		}
		return
	}

	logger, err := observability.NewLogger(cfg.Logger, "api")
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics()
	container := bootstrap.New(cfg, logger, metrics)
	defer container.Close()

	bus, err := container.Bus()
	if err != nil {
		logger.Fatal("failed to init event bus", zap.Error(err))
	}
	store, err := container.Store(ctx)
	if err != nil {
		logger.Fatal("failed to init case store", zap.Error(err))
	}

	if *runSync {
		guard, err := container.Guard(ctx)
		if err != nil {
			logger.Fatal("failed to init guard", zap.Error(err))
		}
		outbound, err := container.Outbound(ctx)
		if err != nil {
			logger.Fatal("failed to init outbound sync", zap.Error(err))
		}
		reverse, err := container.ReverseSync(ctx)
		if err != nil {
			logger.Fatal("failed to init reverse sync", zap.Error(err))
		}
		worker.StartSyncWorkers(bus, guard, outbound, reverse)
		go func() {
			if err := container.Run(ctx); err != nil {
				logger.Error("bus consumers stopped", zap.Error(err))
				cancel()
			}
		}()
	}

	var admin *handlers.AdminHandler
	poller, err := container.Poller(ctx, bus)
	if err != nil {
		logger.Warn("case poller unavailable; admin resync disabled", zap.Error(err))
	} else {
		admin = handlers.NewAdminHandler(poller, store.Links)
		if *runPoller {
			go func() { _ = poller.Run(ctx) }()
		}
	}

	var tokens *auth.TokenManager
	if cfg.Webhook.JWTSecret != "" {
		tokens = auth.NewTokenManager(cfg.Webhook.JWTSecret, "", 0)
	}
	webhookAuth := auth.NewWebhookAuth(tokens, cfg.Webhook.HMACSecret)
	if !webhookAuth.Enabled() {
		logger.Warn("webhook verification disabled; set WEBHOOK_JWT_SECRET or WEBHOOK_HMAC_SECRET")
	}

	app := fiber.New(fiber.Config{AppName: cfg.App.Name, DisableStartupMessage: true})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:      handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, container.Pingers()),
		Webhooks:    handlers.NewWebhooksHandler(container.Inbound(bus)),
		Admin:       admin,
		WebhookAuth: webhookAuth,
		AdminKey:    cfg.Admin.APIKeyHash,
		Metrics:     metrics,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(ctx, logger)
	cancel()

	_ = app.Shutdown()
}

func waitForShutdown(ctx context.Context, logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("shutting down after consumer failure")
	}
}
