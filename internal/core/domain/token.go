package domain

import (
	"strings"
	"time"
)

// TokenType is the closed set of verification token purposes.
type TokenType string

const (
	TokenActivation  TokenType = "ACTIVATION"
	TokenEmailChange TokenType = "EMAIL_CHANGE"
)

// Valid reports whether t is a known token type.
func (t TokenType) Valid() bool {
	switch t {
	case TokenActivation, TokenEmailChange:
		return true
	}
	return false
}

// Token is a single-use verification artifact owned by a user.
type Token struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Type        TokenType  `json:"type"`
	Value       string     `json:"-"`
	CreatedAt   time.Time  `json:"created_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	UsedAt      *time.Time `json:"used_at,omitempty"`
}

// Open reports whether the token has not been used yet.
func (t *Token) Open() bool { return t.UsedAt == nil }

// Confirmed reports whether the owner has proven control of the address.
func (t *Token) Confirmed() bool { return t.ConfirmedAt != nil }

// OlderThan reports whether the token was created more than maxAge before now.
// A non-positive maxAge never expires.
func (t *Token) OlderThan(maxAge time.Duration, now time.Time) bool {
	return maxAge > 0 && now.Sub(t.CreatedAt) > maxAge
}

// ConfirmedBefore reports whether the token was confirmed more than maxAge before now.
func (t *Token) ConfirmedBefore(maxAge time.Duration, now time.Time) bool {
	return maxAge > 0 && t.ConfirmedAt != nil && now.Sub(*t.ConfirmedAt) > maxAge
}

// Clone returns a deep copy of the token.
func (t *Token) Clone() *Token {
	if t == nil {
		return nil
	}
	c := *t
	if t.ConfirmedAt != nil {
		at := *t.ConfirmedAt
		c.ConfirmedAt = &at
	}
	if t.UsedAt != nil {
		at := *t.UsedAt
		c.UsedAt = &at
	}
	return &c
}

// NormalizeTokenValue trims transport whitespace and folds case so lookups
// tolerate mail clients that rewrite links.
func NormalizeTokenValue(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
