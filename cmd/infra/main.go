package main

import (
	"os"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/jsii-runtime-go"
	"github.com/spf13/pflag"

	"github.com/spec-kit/security-ir-jira/infra"
)

func main() {
	defer jsii.Close()

	flags := pflag.NewFlagSet("infra", pflag.ExitOnError)
	stackName := flags.String("stack-name", "SecurityIRJiraIntegrationStack", "CloudFormation stack name")
	busName := flags.String("event-bus", infra.DefaultEventBusName, "EventBridge bus name")
	assetDir := flags.String("asset-dir", infra.DefaultAssetDir, "directory holding one bootstrap binary per function")
	pollMinutes := flags.Int("poll-minutes", 1, "case poller schedule in minutes, 0 disables it")
	logLevel := flags.String("log-level", "info", "LOG_LEVEL passed to every function")
	accountID := flags.String("jira-account-id", os.Getenv("JIRA_INTEGRATION_ACCOUNT_ID"), "Jira account ID of the integration user")
	_ = flags.Parse(os.Args[1:])

	app := awscdk.NewApp(nil)

	props := &infra.SyncStackProps{
		StackProps: awscdk.StackProps{
			Env: &awscdk.Environment{
				Account: jsii.String(os.Getenv("CDK_DEFAULT_ACCOUNT")),
				Region:  jsii.String(os.Getenv("CDK_DEFAULT_REGION")),
			},
			Description: jsii.String("Security Incident Response to Jira case synchronization"),
		},
		EventBusName: *busName,
		AssetDir:     *assetDir,
		LogLevel:     *logLevel,

		IntegrationAccountID: *accountID,
	}
	if *pollMinutes > 0 {
		props.PollRate = awscdk.Duration_Minutes(jsii.Number(float64(*pollMinutes)))
	}

	infra.NewSyncStack(app, *stackName, props)

	app.Synth(nil)
}
