package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/security-ir-jira/pkg/util/errorutil"
)

const (
	callerKey = "auth_caller"

	// APIKeyHeader carries the admin API key.
	APIKeyHeader = "X-API-Key"
)

// WebhookAuth verifies that inbound webhooks come from the configured
// Jira site. A JWT is checked when tokens is set, an HMAC signature when
// hmacSecret is set; with neither, requests pass unverified.
type WebhookAuth struct {
	tokens     *TokenManager
	hmacSecret []byte
}

// NewWebhookAuth constructs the verifier.
func NewWebhookAuth(tokens *TokenManager, hmacSecret string) *WebhookAuth {
	return &WebhookAuth{tokens: tokens, hmacSecret: []byte(hmacSecret)}
}

// Enabled reports whether any verification is configured.
func (w *WebhookAuth) Enabled() bool {
	return w.tokens != nil || len(w.hmacSecret) > 0
}

// Handle enforces webhook authentication.
func (w *WebhookAuth) Handle(c *fiber.Ctx) error {
	if len(w.hmacSecret) > 0 {
		if err := VerifySignature(w.hmacSecret, c.Body(), c.Get(SignatureHeader)); err != nil {
			return apperrors.NewUnauthorized("invalid webhook signature")
		}
		c.Locals(callerKey, "hmac")
	}

	if w.tokens != nil {
		token := bearerToken(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			token = c.Query("jwt")
		}
		if token == "" {
			return apperrors.NewUnauthorized("missing webhook token")
		}
		claims, err := w.tokens.ParseToken(token)
		if err != nil {
			return apperrors.NewUnauthorized("invalid webhook token")
		}
		c.Locals(callerKey, claims.Subject)
	}
	return c.Next()
}

// bearerToken accepts "Bearer <t>" and the Atlassian "JWT <t>" scheme.
func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok {
		return ""
	}
	if !strings.EqualFold(scheme, "Bearer") && !strings.EqualFold(scheme, "JWT") {
		return ""
	}
	return strings.TrimSpace(token)
}

// RequireAPIKey guards admin routes with a bcrypt-hashed key. An empty
// hash disables the routes entirely.
func RequireAPIKey(hash string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if hash == "" {
			return apperrors.NewForbidden("admin API disabled")
		}
		key := c.Get(APIKeyHeader)
		if key == "" {
			return apperrors.NewUnauthorized("missing API key")
		}
		if !VerifyAdminKey(hash, key) {
			return apperrors.NewUnauthorized("invalid API key")
		}
		c.Locals(callerKey, "admin")
		return c.Next()
	}
}

// CallerFromContext returns who authenticated the request, if anyone.
func CallerFromContext(c *fiber.Ctx) (string, bool) {
	val, ok := c.Locals(callerKey).(string)
	return val, ok && val != ""
}
