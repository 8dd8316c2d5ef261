package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/spec-kit/security-ir-jira/internal/bootstrap"
	"github.com/spec-kit/security-ir-jira/internal/config"
	"github.com/spec-kit/security-ir-jira/internal/lambdahandler"
	"github.com/spec-kit/security-ir-jira/internal/observability"
	"github.com/spec-kit/security-ir-jira/internal/worker"
)

// Applies jira events from EventBridge to Security IR cases.
func main() {
	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := observability.NewLogger(cfg.Logger, "security-ir-client")
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	container := bootstrap.New(cfg, logger, nil)
	defer container.Close()

	bus, err := container.EventBridge()
	if err != nil {
		logger.Fatal("failed to init event bus", zap.Error(err))
	}
	guard, err := container.Guard(ctx)
	if err != nil {
		logger.Fatal("failed to init guard", zap.Error(err))
	}
	reverse, err := container.ReverseSync(ctx)
	if err != nil {
		logger.Fatal("failed to init reverse sync", zap.Error(err))
	}
	worker.StartSyncWorkers(bus, guard, nil, reverse)

	lambda.Start(lambdahandler.NewEvents(bus, logger).Handle)
}
