package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/elysion/user-service/internal/core/domain"
)

const DefaultSessionTTL = 2 * time.Hour

var (
	ErrMissingSigningKey = errors.New("session signing key is not configured")
	ErrMissingIssuer     = errors.New("session issuer is not configured")
	ErrMissingAudience   = errors.New("session audience is not configured")
)

// SessionClaims is the contract shared with downstream services.
type SessionClaims struct {
	jwt.RegisteredClaims
	UPN    string   `json:"upn"`
	Groups []string `json:"groups"`
}

// HasGroup reports whether the session carries group g.
func (c *SessionClaims) HasGroup(g string) bool {
	for _, have := range c.Groups {
		if have == g {
			return true
		}
	}
	return false
}

// SessionConfig holds the issuer policy.
type SessionConfig struct {
	Secret   string
	Issuer   string
	Audience string
	TTL      time.Duration
}

// SessionIssuer builds and signs session credentials.
type SessionIssuer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

func NewSessionIssuer(cfg SessionConfig) (*SessionIssuer, error) {
	switch {
	case cfg.Secret == "":
		return nil, ErrMissingSigningKey
	case cfg.Issuer == "":
		return nil, ErrMissingIssuer
	case cfg.Audience == "":
		return nil, ErrMissingAudience
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSessionTTL
	}
	return &SessionIssuer{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.TTL,
		now:      time.Now,
	}, nil
}

// Issue signs a session for a snapshot of user.
func (s *SessionIssuer) Issue(user *domain.User) (string, error) {
	now := s.now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID,
			Audience:  jwt.ClaimStrings{s.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
		UPN:    user.Email,
		Groups: user.Groups(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a session previously produced by Issue.
func (s *SessionIssuer) Verify(token string) (*SessionClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("verify session: %w", err)
	}
	if !parsed.Valid {
		return nil, domain.ErrInvalidToken
	}
	return claims, nil
}
