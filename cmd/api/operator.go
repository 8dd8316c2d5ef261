package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spec-kit/security-ir-jira/internal/auth"
	"github.com/spec-kit/security-ir-jira/internal/config"
)

// operatorFlags are one-shot commands that print a value and exit instead
// of starting the server.
type operatorFlags struct {
	hashAdminKey string
	tokenFor     string
	tokenTTL     int
}

func (o operatorFlags) requested() bool {
	return o.hashAdminKey != "" || o.tokenFor != ""
}

// runOperator prints the ADMIN_API_KEY_HASH value for a key, or a signed
// webhook token for the Jira automation rule identified by tokenFor. A key
// of "-" is read from in so it stays out of the shell history.
func runOperator(o operatorFlags, cfg *config.Config, in io.Reader, out io.Writer) error {
	if o.hashAdminKey != "" {
		key := o.hashAdminKey
		if key == "-" {
			raw, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("read admin key: %w", err)
			}
			key = string(raw)
		}
		hash, err := auth.HashAdminKey(key, 0)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "ADMIN_API_KEY_HASH=%s\n", hash)
	}

	if o.tokenFor != "" {
		if cfg.Webhook.JWTSecret == "" {
			return errors.New("WEBHOOK_JWT_SECRET is not set")
		}
		token, expires, err := auth.NewTokenManager(cfg.Webhook.JWTSecret, "", o.tokenTTL).GenerateToken(o.tokenFor)
		if err != nil {
			return fmt.Errorf("sign webhook token: %w", err)
		}
		fmt.Fprintf(out, "# expires %s\n%s\n", expires.UTC().Format(time.RFC3339), token)
	}
	return nil
}
