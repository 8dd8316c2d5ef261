package config

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ssm"
)

// ParameterGetter is the subset of the SSM API used to resolve secrets.
type ParameterGetter interface {
	GetParameterWithContext(ctx aws.Context, input *ssm.GetParameterInput, opts ...request.Option) (*ssm.GetParameterOutput, error)
}

// ResolveJiraCredentials replaces parameter names in the Jira settings with
// their values from the parameter store. It is a no-op unless SSM is
// enabled. URL and email are only looked up when they are parameter paths;
// the token parameter may be a generated, unprefixed name.
func (c *Config) ResolveJiraCredentials(ctx context.Context, params ParameterGetter) error {
	if !c.AWS.SSMEnabled {
		return nil
	}
	if params == nil {
		return errors.New("ssm enabled but no parameter client provided")
	}

	var err error
	if strings.HasPrefix(c.Jira.URL, "/") {
		if c.Jira.URL, err = getParameter(ctx, params, c.Jira.URL); err != nil {
			return err
		}
	}
	if strings.HasPrefix(c.Jira.Email, "/") {
		if c.Jira.Email, err = getParameter(ctx, params, c.Jira.Email); err != nil {
			return err
		}
	}
	if c.Jira.TokenParam != "" {
		if c.Jira.Token, err = getParameter(ctx, params, c.Jira.TokenParam); err != nil {
			return err
		}
	}
	return nil
}

func getParameter(ctx context.Context, params ParameterGetter, name string) (string, error) {
	out, err := params.GetParameterWithContext(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("get parameter %s: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %s has no value", name)
	}
	return aws.StringValue(out.Parameter.Value), nil
}
