package postgres

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/sitecraft/samlauth"
)

const (
	hashScheme     = "pbkdf2-sha256"
	hashIterations = 120000
	hashSaltBytes  = 16
	hashKeyBytes   = 32
)

// HashPassword derives a PBKDF2-SHA256 hash in the form
// scheme$iterations$salt$hash. Generated SSO passwords are never used for
// interactive login, but they are stored hashed like any other credential.
func HashPassword(password string) (string, error) {
	const op = "postgres.HashPassword"

	if password == "" {
		return "", fmt.Errorf("%s: missing password: %w", op, samlauth.ErrInvalidParameter)
	}
	salt := make([]byte, hashSaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	key := pbkdf2.Key([]byte(password), salt, hashIterations, hashKeyBytes, sha256.New)
	return fmt.Sprintf("%s$%d$%s$%s",
		hashScheme,
		hashIterations,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifyPassword reports whether the password matches the encoded hash.
func VerifyPassword(password, encoded string) (bool, error) {
	const op = "postgres.VerifyPassword"

	parts := strings.Split(encoded, "$")
	if len(parts) != 4 || parts[0] != hashScheme {
		return false, fmt.Errorf("%s: malformed password hash: %w", op, samlauth.ErrInvalidParameter)
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return false, fmt.Errorf("%s: malformed iteration count: %w", op, samlauth.ErrInvalidParameter)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil || len(salt) == 0 {
		return false, fmt.Errorf("%s: malformed salt: %w", op, samlauth.ErrInvalidParameter)
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil || len(expected) == 0 {
		return false, fmt.Errorf("%s: malformed hash: %w", op, samlauth.ErrInvalidParameter)
	}

	key := pbkdf2.Key([]byte(password), salt, iterations, len(expected), sha256.New)
	return subtle.ConstantTimeCompare(key, expected) == 1, nil
}
