package service

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	saltLength = 16
	// DefaultBcryptCost matches the work factor the account data was seeded with.
	DefaultBcryptCost = 12
)

var ErrMissingPepper = errors.New("password pepper is not configured")

// CredentialHasher hashes passwords with a per-user salt and a process-wide
// pepper. The pepper never leaves memory.
type CredentialHasher struct {
	pepper []byte
	cost   int
}

// NewCredentialHasher validates the pepper and cost. An empty pepper is a
// startup error; callers must refuse to serve without one.
func NewCredentialHasher(pepper string, cost int) (*CredentialHasher, error) {
	if pepper == "" {
		return nil, ErrMissingPepper
	}
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &CredentialHasher{pepper: []byte(pepper), cost: cost}, nil
}

// NewSalt returns 16 random bytes, base64 encoded.
func (h *CredentialHasher) NewSalt() (string, error) {
	b := make([]byte, saltLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// Hash returns the bcrypt hash of the peppered, salted password.
func (h *CredentialHasher) Hash(password, salt string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(h.combine(password, salt), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether password and salt reproduce hash.
func (h *CredentialHasher) Verify(password, salt, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), h.combine(password, salt)) == nil
}

// combine folds password, salt and pepper into a fixed 44-byte input so
// bcrypt's 72-byte limit never truncates the secret.
func (h *CredentialHasher) combine(password, salt string) []byte {
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(salt))
	mac.Write([]byte{0})
	mac.Write([]byte(password))
	sum := mac.Sum(nil)

	out := make([]byte, base64.StdEncoding.EncodedLen(len(sum)))
	base64.StdEncoding.Encode(out, sum)
	return out
}
