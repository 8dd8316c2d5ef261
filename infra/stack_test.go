package infra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/assertions"
	"github.com/aws/jsii-runtime-go"
)

func assetDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{JiraNotificationsHandler, JiraClient, SecurityIRClient, SecurityIRPoller} {
		if err := os.MkdirAll(filepath.Join(dir, name), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, name, "bootstrap"), []byte("bin"), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestNotificationsHandlerReceivesIntegrationAccount(t *testing.T) {
	defer jsii.Close()

	app := awscdk.NewApp(nil)
	stack := NewSyncStack(app, "TestStack", &SyncStackProps{
		AssetDir:             assetDir(t),
		IntegrationAccountID: "5b10ac8d82e05b22cc7d4ef5",
	})
	template := assertions.Template_FromStack(stack.Stack, nil)

	template.HasParameter(jsii.String("jiraIntegrationAccountId"), map[string]any{
		"Type":    "String",
		"Default": "5b10ac8d82e05b22cc7d4ef5",
	})
	template.HasResourceProperties(jsii.String("AWS::Lambda::Function"), map[string]any{
		"Environment": map[string]any{
			"Variables": assertions.Match_ObjectLike(&map[string]any{
				"JIRA_INTEGRATION_ACCOUNT_ID": map[string]any{"Ref": "jiraIntegrationAccountId"},
			}),
		},
	})
}
