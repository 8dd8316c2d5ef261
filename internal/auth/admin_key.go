package auth

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Admin keys are stored only as bcrypt hashes, in ADMIN_API_KEY_HASH.
const (
	DefaultAdminKeyCost = bcrypt.DefaultCost

	minAdminKeyLen = 16
	// bcrypt ignores input past 72 bytes.
	maxAdminKeyLen = 72
)

// ErrAdminKeyLength is returned for keys bcrypt cannot protect well.
var ErrAdminKeyLength = errors.New("admin key must be between 16 and 72 bytes")

// HashAdminKey returns the ADMIN_API_KEY_HASH value for key. A zero cost
// uses DefaultAdminKeyCost. Surrounding whitespace, such as the newline of
// a piped key, is not part of the key.
func HashAdminKey(key string, cost int) (string, error) {
	key = strings.TrimSpace(key)
	if len(key) < minAdminKeyLen || len(key) > maxAdminKeyLen {
		return "", ErrAdminKeyLength
	}
	if cost == 0 {
		cost = DefaultAdminKeyCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// VerifyAdminKey reports whether key matches the stored hash.
func VerifyAdminKey(hash, key string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}
