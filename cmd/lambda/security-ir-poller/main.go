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
)

// Runs one case poll per scheduled invocation.
func main() {
	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := observability.NewLogger(cfg.Logger, "security-ir-poller")
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
	poller, err := container.Poller(ctx, bus)
	if err != nil {
		logger.Fatal("failed to init poller", zap.Error(err))
	}
	lambda.Start(lambdahandler.NewSchedule(poller, logger).Handle)
}
