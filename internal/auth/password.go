package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"

	"logbook.org/internal/apperr"
)

const (
	MinSecretLength = 8
	// bcrypt ignores input past 72 bytes.
	MaxSecretLength = 72

	TemporarySecretLength = 12
)

// Ambiguous glyphs (0/O, 1/l/I) are left out; temporary secrets are typed by hand.
const secretAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnpqrstuvwxyz23456789"

// HashPassword hashes plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares plaintext password with stored hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// CheckSecretPolicy validates a caller-chosen secret.
func CheckSecretPolicy(secret string) error {
	switch {
	case len(secret) < MinSecretLength:
		return fmt.Errorf("%w: password must be at least %d characters", apperr.ErrValidation, MinSecretLength)
	case len(secret) > MaxSecretLength:
		return fmt.Errorf("%w: password must be at most %d bytes", apperr.ErrValidation, MaxSecretLength)
	}
	return nil
}

// GenerateTemporarySecret returns a random secret for a freshly onboarded account.
func GenerateTemporarySecret() (string, error) {
	out := make([]byte, TemporarySecretLength)
	max := big.NewInt(int64(len(secretAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate secret: %w", err)
		}
		out[i] = secretAlphabet[n.Int64()]
	}
	return string(out), nil
}
