package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// SignatureHeader carries the HMAC of a webhook body.
const SignatureHeader = "X-Hub-Signature"

// VerifySignature checks a "sha256=<hex>" HMAC over body.
func VerifySignature(secret, body []byte, signature string) error {
	if len(secret) == 0 {
		return errors.New("webhook signature: secret is empty")
	}
	if signature == "" {
		return errors.New("webhook signature: missing")
	}
	method, digest, ok := strings.Cut(signature, "=")
	if !ok || !strings.EqualFold(method, "sha256") {
		return fmt.Errorf("webhook signature: unsupported format %q", method)
	}
	got, err := hex.DecodeString(digest)
	if err != nil {
		return fmt.Errorf("webhook signature: invalid hex: %w", err)
	}
	if !hmac.Equal(got, Sign(secret, body)) {
		return errors.New("webhook signature: mismatch")
	}
	return nil
}

// Sign returns the raw HMAC-SHA256 of body.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// SignatureValue formats the header value for body.
func SignatureValue(secret, body []byte) string {
	return "sha256=" + hex.EncodeToString(Sign(secret, body))
}
