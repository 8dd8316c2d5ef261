// Package infra provides the CDK stack that deploys the case-sync Lambdas.
package infra

import (
	"fmt"
	"path/filepath"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsdynamodb"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsevents"
	"github.com/aws/aws-cdk-go/awscdk/v2/awseventstargets"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsiam"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslambda"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslogs"
	"github.com/aws/aws-cdk-go/awscdk/v2/awssns"
	"github.com/aws/aws-cdk-go/awscdk/v2/awssnssubscriptions"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsssm"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"

	"github.com/spec-kit/security-ir-jira/internal/events"
)

const (
	DefaultResourceTagKey   = "Project"
	DefaultResourceTagValue = "security-ir-jira"

	JiraEmailParameterName = "/SecurityIncidentResponse/jiraEmail"
	JiraURLParameterName   = "/SecurityIncidentResponse/jiraUrl"

	DefaultEventBusName = "security-ir-integrations"
	DefaultAssetDir     = "dist"
)

// Function names double as the directory names under the asset dir and
// under cmd/lambda.
const (
	JiraNotificationsHandler = "jira-notifications-handler"
	JiraClient               = "jira-client"
	SecurityIRClient         = "security-ir-client"
	SecurityIRPoller         = "security-ir-poller"
)

// SyncStackProps defines the properties for the case-sync stack.
type SyncStackProps struct {
	awscdk.StackProps

	// EventBusName defaults to DefaultEventBusName.
	EventBusName string
	// AssetDir holds one compiled bootstrap binary per function.
	AssetDir string
	// PollRate is the poller schedule. Zero disables the scheduled poller.
	PollRate awscdk.Duration
	LogLevel string
	// IntegrationAccountID is the default of the jiraIntegrationAccountId
	// parameter: the Jira account whose own changes the notifications
	// handler drops.
	IntegrationAccountID string
}

// SyncStack is the deployed case-sync integration.
type SyncStack struct {
	awscdk.Stack
	EventBusName string
	TopicArn     *string
	TableName    *string
	Functions    map[string]awslambda.IFunction
}

// Resources holds the constructs shared between functions.
type Resources struct {
	Stack    awscdk.Stack
	AssetDir string
	LogLevel string
}

// ParameterResources holds the Jira credential parameters.
type ParameterResources struct {
	Email awsssm.IStringParameter
	URL   awsssm.IStringParameter
	Token awsssm.IStringParameter
	// IntegrationAccount resolves to the account ID at deploy time.
	IntegrationAccount *string
}

// IntegrationResources holds the bus, the store and the notification topic.
type IntegrationResources struct {
	EventBus awsevents.IEventBus
	Table    awsdynamodb.ITable
	Topic    awssns.ITopic
	LogGroup awslogs.ILogGroup
}

// NewSyncStack creates the CDK stack for the case-sync integration.
func NewSyncStack(scope constructs.Construct, id string, props *SyncStackProps) *SyncStack {
	if props == nil {
		props = &SyncStackProps{}
	}
	stack := awscdk.NewStack(scope, &id, &props.StackProps)

	busName := props.EventBusName
	if busName == "" {
		busName = DefaultEventBusName
	}
	assetDir := props.AssetDir
	if assetDir == "" {
		assetDir = DefaultAssetDir
	}
	logLevel := props.LogLevel
	if logLevel == "" {
		logLevel = "info"
	}

	resources := &Resources{Stack: stack, AssetDir: assetDir, LogLevel: logLevel}

	params := createParameters(resources, props.IntegrationAccountID)
	integration := createIntegrationResources(resources, busName)

	functions := map[string]awslambda.IFunction{
		JiraNotificationsHandler: createNotificationsHandler(resources, params, integration),
		JiraClient:               createJiraClient(resources, params, integration),
		SecurityIRClient:         createSecurityIRClient(resources, params, integration),
	}
	if props.PollRate != nil {
		functions[SecurityIRPoller] = createPoller(resources, integration, props.PollRate)
	}

	createOutputs(resources, integration, functions)
	awscdk.Tags_Of(stack).Add(jsii.String(DefaultResourceTagKey), jsii.String(DefaultResourceTagValue), nil)

	return &SyncStack{
		Stack:        stack,
		EventBusName: busName,
		TopicArn:     integration.Topic.TopicArn(),
		TableName:    integration.Table.TableName(),
		Functions:    functions,
	}
}

// createParameters stores the Jira credentials passed at deploy time in SSM.
func createParameters(resources *Resources, integrationAccount string) *ParameterResources {
	email := awscdk.NewCfnParameter(resources.Stack, jsii.String("jiraEmail"), &awscdk.CfnParameterProps{
		Type:        jsii.String("String"),
		Description: jsii.String("The email address that will be used with the Jira API."),
		NoEcho:      jsii.Bool(true),
	})
	url := awscdk.NewCfnParameter(resources.Stack, jsii.String("jiraUrl"), &awscdk.CfnParameterProps{
		Type:        jsii.String("String"),
		Description: jsii.String("The URL of the Jira API."),
	})
	token := awscdk.NewCfnParameter(resources.Stack, jsii.String("jiraToken"), &awscdk.CfnParameterProps{
		Type:        jsii.String("String"),
		Description: jsii.String("The API token that will be used with the Jira API."),
		NoEcho:      jsii.Bool(true),
	})
	account := awscdk.NewCfnParameter(resources.Stack, jsii.String("jiraIntegrationAccountId"), &awscdk.CfnParameterProps{
		Type:        jsii.String("String"),
		Description: jsii.String("The Jira account ID behind the API token. Changes made by it are not synced back."),
		Default:     jsii.String(integrationAccount),
	})

	return &ParameterResources{
		IntegrationAccount: account.ValueAsString(),
		Token: awsssm.NewStringParameter(resources.Stack, jsii.String("JiraTokenSecret"), &awsssm.StringParameterProps{
			StringValue: token.ValueAsString(),
		}),
		Email: awsssm.NewStringParameter(resources.Stack, jsii.String("jiraEmailSSM"), &awsssm.StringParameterProps{
			ParameterName: jsii.String(JiraEmailParameterName),
			StringValue:   email.ValueAsString(),
			Description:   jsii.String("Jira email"),
		}),
		URL: awsssm.NewStringParameter(resources.Stack, jsii.String("jiraUrlSSM"), &awsssm.StringParameterProps{
			ParameterName: jsii.String(JiraURLParameterName),
			StringValue:   url.ValueAsString(),
			Description:   jsii.String("Jira URL"),
		}),
	}
}

func createIntegrationResources(resources *Resources, busName string) *IntegrationResources {
	bus := awsevents.NewEventBus(resources.Stack, jsii.String("IntegrationsEventBus"), &awsevents.EventBusProps{
		EventBusName: jsii.String(busName),
	})

	table := awsdynamodb.NewTable(resources.Stack, jsii.String("IncidentsTable"), &awsdynamodb.TableProps{
		PartitionKey: &awsdynamodb.Attribute{
			Name: jsii.String("PK"),
			Type: awsdynamodb.AttributeType_STRING,
		},
		SortKey: &awsdynamodb.Attribute{
			Name: jsii.String("SK"),
			Type: awsdynamodb.AttributeType_STRING,
		},
		BillingMode:         awsdynamodb.BillingMode_PAY_PER_REQUEST,
		TimeToLiveAttribute: jsii.String("expiresAt"),
		PointInTimeRecovery: jsii.Bool(true),
		RemovalPolicy:       awscdk.RemovalPolicy_DESTROY,
	})

	topic := awssns.NewTopic(resources.Stack, jsii.String("JiraNotificationsTopic"), &awssns.TopicProps{
		DisplayName: jsii.String("Jira Notifications Topic"),
	})

	// Every jira-sourced event also lands in a log group for auditing.
	logGroup := awslogs.NewLogGroup(resources.Stack, jsii.String("JiraEventsLogGroup"), &awslogs.LogGroupProps{
		LogGroupName:  jsii.String(fmt.Sprintf("/aws/events/%s/%s", busName, events.SourceJira)),
		Retention:     awslogs.RetentionDays_ONE_MONTH,
		RemovalPolicy: awscdk.RemovalPolicy_DESTROY,
	})
	awsevents.NewRule(resources.Stack, jsii.String("JiraNotificationsRule"), &awsevents.RuleProps{
		EventBus:     bus,
		EventPattern: &awsevents.EventPattern{Source: jsii.Strings(string(events.SourceJira))},
		Targets: &[]awsevents.IRuleTarget{
			awseventstargets.NewCloudWatchLogGroup(logGroup, nil),
		},
	})

	return &IntegrationResources{EventBus: bus, Table: table, Topic: topic, LogGroup: logGroup}
}

// createNotificationsHandler subscribes the webhook normalizer to the SNS
// topic that receives Jira automation notifications.
func createNotificationsHandler(resources *Resources, params *ParameterResources, integration *IntegrationResources) awslambda.IFunction {
	role := createFunctionRole(resources, "JiraNotificationsHandlerRole", []awsiam.PolicyStatement{
		putEventsStatement(integration.EventBus),
	})

	fn := createFunction(resources, "JiraNotificationsHandler", JiraNotificationsHandler, role, map[string]*string{
		"EVENT_BUS_NAME":              integration.EventBus.EventBusName(),
		"JIRA_URL":                    params.URL.ParameterName(),
		"JIRA_EMAIL":                  params.Email.ParameterName(),
		"JIRA_TOKEN_PARAM":            params.Token.ParameterName(),
		"JIRA_INTEGRATION_ACCOUNT_ID": params.IntegrationAccount,
	})
	grantParameters(params, fn)

	integration.Topic.AddSubscription(awssnssubscriptions.NewLambdaSubscription(fn, nil))
	return fn
}

// createJiraClient mirrors security-ir events into Jira.
func createJiraClient(resources *Resources, params *ParameterResources, integration *IntegrationResources) awslambda.IFunction {
	role := createFunctionRole(resources, "JiraClientRole", []awsiam.PolicyStatement{
		securityIRStatement(
			"security-ir:GetCase",
			"security-ir:ListComments",
			"security-ir:GetCaseAttachmentDownloadUrl",
		),
	})

	fn := createFunction(resources, "JiraClient", JiraClient, role, map[string]*string{
		"JIRA_URL":             params.URL.ParameterName(),
		"JIRA_EMAIL":           params.Email.ParameterName(),
		"JIRA_TOKEN_PARAM":     params.Token.ParameterName(),
		"INCIDENTS_TABLE_NAME": integration.Table.TableName(),
	})
	grantParameters(params, fn)
	integration.Table.GrantReadWriteData(fn)

	routeSource(resources, integration, "JiraClientRule", events.SourceSecurityIR, fn)
	return fn
}

// createSecurityIRClient applies jira events back onto cases.
func createSecurityIRClient(resources *Resources, params *ParameterResources, integration *IntegrationResources) awslambda.IFunction {
	role := createFunctionRole(resources, "SecurityIRClientRole", []awsiam.PolicyStatement{
		securityIRStatement(
			"security-ir:GetCase",
			"security-ir:CreateCase",
			"security-ir:UpdateCase",
			"security-ir:UpdateCaseStatus",
			"security-ir:CloseCase",
			"security-ir:ListComments",
			"security-ir:CreateCaseComment",
		),
	})

	fn := createFunction(resources, "SecurityIRClient", SecurityIRClient, role, map[string]*string{
		"JIRA_URL":             params.URL.ParameterName(),
		"JIRA_EMAIL":           params.Email.ParameterName(),
		"JIRA_TOKEN_PARAM":     params.Token.ParameterName(),
		"INCIDENTS_TABLE_NAME": integration.Table.TableName(),
	})
	grantParameters(params, fn)
	integration.Table.GrantReadWriteData(fn)

	routeSource(resources, integration, "SecurityIRClientRule", events.SourceJira, fn)
	return fn
}

// createPoller runs the case poller on a schedule. It needs no Jira access.
func createPoller(resources *Resources, integration *IntegrationResources, rate awscdk.Duration) awslambda.IFunction {
	role := createFunctionRole(resources, "SecurityIRPollerRole", []awsiam.PolicyStatement{
		putEventsStatement(integration.EventBus),
		securityIRStatement(
			"security-ir:ListCases",
			"security-ir:GetCase",
			"security-ir:ListComments",
		),
	})

	fn := createFunction(resources, "SecurityIRPoller", SecurityIRPoller, role, map[string]*string{
		"EVENT_BUS_NAME":       integration.EventBus.EventBusName(),
		"INCIDENTS_TABLE_NAME": integration.Table.TableName(),
	})
	integration.Table.GrantReadWriteData(fn)

	awsevents.NewRule(resources.Stack, jsii.String("SecurityIRPollerSchedule"), &awsevents.RuleProps{
		Schedule: awsevents.Schedule_Rate(rate),
		Targets: &[]awsevents.IRuleTarget{
			awseventstargets.NewLambdaFunction(fn, nil),
		},
	})
	return fn
}

func createFunction(resources *Resources, id, name string, role awsiam.IRole, env map[string]*string) awslambda.IFunction {
	environment := map[string]*string{
		"EVENT_BUS_BACKEND": jsii.String("eventbridge"),
		"STORE_BACKEND":     jsii.String("dynamodb"),
		"SSM_ENABLED":       jsii.String("true"),
		"LOG_LEVEL":         jsii.String(resources.LogLevel),
	}
	for k, v := range env {
		environment[k] = v
	}

	logGroup := awslogs.NewLogGroup(resources.Stack, jsii.String(id+"LogGroup"), &awslogs.LogGroupProps{
		Retention:     awslogs.RetentionDays_ONE_WEEK,
		RemovalPolicy: awscdk.RemovalPolicy_DESTROY,
	})

	return awslambda.NewFunction(resources.Stack, jsii.String(id), &awslambda.FunctionProps{
		Runtime:      awslambda.Runtime_PROVIDED_AL2023(),
		Architecture: awslambda.Architecture_ARM_64(),
		Handler:      jsii.String("bootstrap"),
		Code:         awslambda.Code_FromAsset(jsii.String(filepath.Join(resources.AssetDir, name)), nil),
		Role:         role,
		Timeout:      awscdk.Duration_Minutes(jsii.Number(15)),
		MemorySize:   jsii.Number(256),
		Environment:  &environment,
		LogGroup:     logGroup,
	})
}

func createFunctionRole(resources *Resources, id string, statements []awsiam.PolicyStatement) awsiam.IRole {
	role := awsiam.NewRole(resources.Stack, jsii.String(id), &awsiam.RoleProps{
		AssumedBy: awsiam.NewServicePrincipal(jsii.String("lambda.amazonaws.com"), nil),
		ManagedPolicies: &[]awsiam.IManagedPolicy{
			awsiam.ManagedPolicy_FromAwsManagedPolicyName(jsii.String("service-role/AWSLambdaBasicExecutionRole")),
		},
		InlinePolicies: &map[string]awsiam.PolicyDocument{
			id + "Policy": awsiam.NewPolicyDocument(&awsiam.PolicyDocumentProps{
				Statements: &statements,
			}),
		},
	})
	role.ApplyRemovalPolicy(awscdk.RemovalPolicy_DESTROY)
	return role
}

func putEventsStatement(bus awsevents.IEventBus) awsiam.PolicyStatement {
	return awsiam.NewPolicyStatement(&awsiam.PolicyStatementProps{
		Effect:    awsiam.Effect_ALLOW,
		Actions:   jsii.Strings("events:PutEvents"),
		Resources: &[]*string{bus.EventBusArn()},
	})
}

// The Security IR API does not support resource-level permissions.
func securityIRStatement(actions ...string) awsiam.PolicyStatement {
	return awsiam.NewPolicyStatement(&awsiam.PolicyStatementProps{
		Effect:    awsiam.Effect_ALLOW,
		Actions:   jsii.Strings(actions...),
		Resources: jsii.Strings("*"),
	})
}

func grantParameters(params *ParameterResources, fn awslambda.IFunction) {
	params.URL.GrantRead(fn)
	params.Email.GrantRead(fn)
	params.Token.GrantRead(fn)
}

func routeSource(resources *Resources, integration *IntegrationResources, id string, source events.Source, fn awslambda.IFunction) {
	awsevents.NewRule(resources.Stack, jsii.String(id), &awsevents.RuleProps{
		EventBus:     integration.EventBus,
		EventPattern: &awsevents.EventPattern{Source: jsii.Strings(string(source))},
		Targets: &[]awsevents.IRuleTarget{
			awseventstargets.NewLambdaFunction(fn, nil),
		},
	})
}

func createOutputs(resources *Resources, integration *IntegrationResources, functions map[string]awslambda.IFunction) {
	awscdk.NewCfnOutput(resources.Stack, jsii.String("EventBusName"), &awscdk.CfnOutputProps{
		Value: integration.EventBus.EventBusName(),
	})
	awscdk.NewCfnOutput(resources.Stack, jsii.String("IncidentsTableName"), &awscdk.CfnOutputProps{
		Value: integration.Table.TableName(),
	})
	awscdk.NewCfnOutput(resources.Stack, jsii.String("JiraNotificationsTopicArn"), &awscdk.CfnOutputProps{
		Value:       integration.Topic.TopicArn(),
		Description: jsii.String("Point the Jira automation webhook at this topic"),
	})
	awscdk.NewCfnOutput(resources.Stack, jsii.String("JiraEventsLogGroupName"), &awscdk.CfnOutputProps{
		Value: integration.LogGroup.LogGroupName(),
	})

	outputIDs := map[string]string{
		JiraNotificationsHandler: "JiraNotificationsHandlerLambdaArn",
		JiraClient:               "JiraClientLambdaArn",
		SecurityIRClient:         "SecurityIRClientLambdaArn",
		SecurityIRPoller:         "SecurityIRPollerLambdaArn",
	}
	for name, fn := range functions {
		awscdk.NewCfnOutput(resources.Stack, jsii.String(outputIDs[name]), &awscdk.CfnOutputProps{
			Value: fn.FunctionArn(),
		})
	}
}
