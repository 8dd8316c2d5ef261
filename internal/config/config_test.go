package config

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ssm"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("EVENT_BUS_BACKEND", "")
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg, err := Load("testdata/does-not-exist.env")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bus.Backend != BusBackendMemory {
		t.Errorf("Bus.Backend = %q, want %q", cfg.Bus.Backend, BusBackendMemory)
	}
	if cfg.Store.Backend != StoreBackendMemory {
		t.Errorf("Store.Backend = %q, want %q", cfg.Store.Backend, StoreBackendMemory)
	}
	if len(cfg.Bus.KafkaBrokers) != 1 || cfg.Bus.KafkaBrokers[0] != "localhost:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.Bus.KafkaBrokers)
	}
	if cfg.Poller.Interval() != time.Minute {
		t.Errorf("Poller.Interval() = %v", cfg.Poller.Interval())
	}
}

func TestLoadParsesLists(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("SECURITY_IR_IMPACTED_ACCOUNTS", "111111111111")

	cfg, err := Load("testdata/does-not-exist.env")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Bus.KafkaBrokers; len(got) != 2 || got[1] != "k2:9092" {
		t.Errorf("KafkaBrokers = %v", got)
	}
	if got := cfg.SecurityIR.ImpactedAccounts; len(got) != 1 || got[0] != "111111111111" {
		t.Errorf("ImpactedAccounts = %v", got)
	}
}

func TestLoadRejectsUnknownBackends(t *testing.T) {
	t.Setenv("EVENT_BUS_BACKEND", "sqs")
	if _, err := Load("testdata/does-not-exist.env"); err == nil {
		t.Error("expected error for unknown bus backend")
	}

	t.Setenv("EVENT_BUS_BACKEND", "memory")
	t.Setenv("STORE_BACKEND", "dynamodb")
	t.Setenv("INCIDENTS_TABLE_NAME", "")
	if _, err := Load("testdata/does-not-exist.env"); err == nil {
		t.Error("expected error for dynamodb without table name")
	}
}

type fakeParams struct {
	values map[string]string
	calls  []string
}

func (f *fakeParams) GetParameterWithContext(_ aws.Context, in *ssm.GetParameterInput, _ ...request.Option) (*ssm.GetParameterOutput, error) {
	name := aws.StringValue(in.Name)
	f.calls = append(f.calls, name)
	val, ok := f.values[name]
	if !ok {
		return nil, errors.New("ParameterNotFound")
	}
	return &ssm.GetParameterOutput{Parameter: &ssm.Parameter{Name: in.Name, Value: aws.String(val)}}, nil
}

func TestResolveJiraCredentials(t *testing.T) {
	params := &fakeParams{values: map[string]string{
		"/SecurityIncidentResponse/jiraUrl":   "https://example.atlassian.net",
		"/SecurityIncidentResponse/jiraEmail": "bot@example.com",
		"JiraTokenSecret-AbC123":              "s3cr3t",
	}}
	cfg := &Config{
		AWS: AWSConfig{SSMEnabled: true},
		Jira: JiraConfig{
			URL:        "/SecurityIncidentResponse/jiraUrl",
			Email:      "/SecurityIncidentResponse/jiraEmail",
			TokenParam: "JiraTokenSecret-AbC123",
		},
	}

	if err := cfg.ResolveJiraCredentials(context.Background(), params); err != nil {
		t.Fatalf("ResolveJiraCredentials: %v", err)
	}
	if cfg.Jira.URL != "https://example.atlassian.net" || cfg.Jira.Email != "bot@example.com" || cfg.Jira.Token != "s3cr3t" {
		t.Errorf("resolved jira = %+v", cfg.Jira)
	}
}

func TestResolveJiraCredentialsKeepsLiterals(t *testing.T) {
	params := &fakeParams{values: map[string]string{}}
	cfg := &Config{
		AWS:  AWSConfig{SSMEnabled: true},
		Jira: JiraConfig{URL: "https://jira.local", Email: "me@example.com", Token: "literal"},
	}
	if err := cfg.ResolveJiraCredentials(context.Background(), params); err != nil {
		t.Fatalf("ResolveJiraCredentials: %v", err)
	}
	if len(params.calls) != 0 {
		t.Errorf("unexpected lookups %v", params.calls)
	}
	if cfg.Jira.Token != "literal" {
		t.Errorf("Token = %q", cfg.Jira.Token)
	}
}

func TestResolveJiraCredentialsMissingParameter(t *testing.T) {
	cfg := &Config{
		AWS:  AWSConfig{SSMEnabled: true},
		Jira: JiraConfig{URL: "/missing"},
	}
	if err := cfg.ResolveJiraCredentials(context.Background(), &fakeParams{}); err == nil {
		t.Error("expected error for missing parameter")
	}
}
