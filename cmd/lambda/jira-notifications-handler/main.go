package main

import (
	"log"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/spec-kit/security-ir-jira/internal/bootstrap"
	"github.com/spec-kit/security-ir-jira/internal/config"
	"github.com/spec-kit/security-ir-jira/internal/lambdahandler"
	"github.com/spec-kit/security-ir-jira/internal/observability"
)

// Receives Jira webhooks from SNS and publishes them as jira events.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := observability.NewLogger(cfg.Logger, "jira-notifications-handler")
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
	lambda.Start(lambdahandler.NewNotifications(container.Inbound(bus), logger).Handle)
}
