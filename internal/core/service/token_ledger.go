package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/elysion/user-service/internal/core/domain"
	"github.com/elysion/user-service/internal/core/ports"
)

// TokenLedger owns every state transition of single-use verification tokens.
// All transitions are monotonic: created → confirmed → used, or created → used.
type TokenLedger struct {
	store    ports.Store
	clock    ports.Clock
	newValue func() string
}

// NewTokenLedger returns a ledger writing through store.
func NewTokenLedger(store ports.Store, clock ports.Clock) *TokenLedger {
	if clock == nil {
		clock = ports.SystemClock
	}
	return &TokenLedger{store: store, clock: clock, newValue: uuid.NewString}
}

// Issue closes every open token of typ for the user and creates a fresh one,
// atomically.
func (l *TokenLedger) Issue(ctx context.Context, userID string, typ domain.TokenType) (*domain.Token, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("issue token: unknown type %q", typ)
	}

	var issued *domain.Token
	err := l.store.WithinTx(ctx, func(ctx context.Context) error {
		now := l.clock.Now(ctx)
		if _, err := l.store.Tokens().CloseOpen(ctx, userID, typ, now); err != nil {
			return fmt.Errorf("close open tokens: %w", err)
		}

		t := &domain.Token{
			ID:        uuid.NewString(),
			UserID:    userID,
			Type:      typ,
			Value:     l.newValue(),
			CreatedAt: now,
		}
		if err := l.store.Tokens().Create(ctx, t); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				return err
			}
			return fmt.Errorf("create token: %w", err)
		}
		issued = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return issued, nil
}

// Confirm marks the open token identified by raw as confirmed. A positive
// maxAge rejects tokens created longer ago than that.
func (l *TokenLedger) Confirm(ctx context.Context, raw string, typ domain.TokenType, maxAge time.Duration) (*domain.Token, error) {
	var confirmed *domain.Token
	err := l.store.WithinTx(ctx, func(ctx context.Context) error {
		t, err := l.findOpen(ctx, raw, typ)
		if err != nil {
			return err
		}

		now := l.clock.Now(ctx)
		if t.OlderThan(maxAge, now) {
			return domain.ErrTokenExpired
		}
		if t.Confirmed() {
			return domain.ErrAlreadyUsed
		}
		if err := l.store.Tokens().MarkConfirmed(ctx, t.ID, now); err != nil {
			return err
		}
		t.ConfirmedAt = &now
		confirmed = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return confirmed, nil
}

// Consume exchanges a confirmed open token exactly once. A positive
// maxConfirmedAge rejects tokens confirmed longer ago than that.
func (l *TokenLedger) Consume(ctx context.Context, raw string, typ domain.TokenType, maxConfirmedAge time.Duration) (*domain.Token, error) {
	var used *domain.Token
	err := l.store.WithinTx(ctx, func(ctx context.Context) error {
		t, err := l.findOpen(ctx, raw, typ)
		if err != nil {
			return err
		}
		if !t.Confirmed() {
			return domain.ErrTokenNotConfirmed
		}

		now := l.clock.Now(ctx)
		if t.ConfirmedBefore(maxConfirmedAge, now) {
			return domain.ErrTokenExpired
		}
		if err := l.store.Tokens().MarkUsed(ctx, t.ID, now); err != nil {
			return err
		}
		t.UsedAt = &now
		used = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return used, nil
}

// ConsumeDirect confirms and consumes in one step, for links whose click
// finalizes the change.
func (l *TokenLedger) ConsumeDirect(ctx context.Context, raw string, typ domain.TokenType, maxAge time.Duration) (*domain.Token, error) {
	var used *domain.Token
	err := l.store.WithinTx(ctx, func(ctx context.Context) error {
		t, err := l.findOpen(ctx, raw, typ)
		if err != nil {
			return err
		}

		now := l.clock.Now(ctx)
		if t.OlderThan(maxAge, now) {
			return domain.ErrTokenExpired
		}
		if err := l.store.Tokens().MarkUsed(ctx, t.ID, now); err != nil {
			return err
		}
		if t.ConfirmedAt == nil {
			t.ConfirmedAt = &now
		}
		t.UsedAt = &now
		used = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return used, nil
}

// Latest returns the most recently issued token of typ for the user, or
// domain.ErrInvalidToken when none was ever issued.
func (l *TokenLedger) Latest(ctx context.Context, userID string, typ domain.TokenType) (*domain.Token, error) {
	return l.store.Tokens().FindLatest(ctx, userID, typ)
}

func (l *TokenLedger) findOpen(ctx context.Context, raw string, typ domain.TokenType) (*domain.Token, error) {
	value := domain.NormalizeTokenValue(raw)
	if value == "" || !typ.Valid() {
		return nil, domain.ErrInvalidToken
	}
	t, err := l.store.Tokens().FindOpen(ctx, value, typ)
	if err != nil {
		return nil, err
	}
	return t, nil
}
