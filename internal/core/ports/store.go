package ports

import (
	"context"
	"time"

	"github.com/elysion/user-service/internal/core/domain"
)

// TxManager runs fn as one atomic unit against the store. The transaction
// travels inside ctx; a nested WithinTx joins the outer transaction.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// UserRepository persists accounts. Implementations must enforce uniqueness of
// Email and PendingEmail themselves and report a violation as
// domain.ErrEmailInUse.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	FindByID(ctx context.Context, id string) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByPendingEmail(ctx context.Context, email string) (*domain.User, error)
	Update(ctx context.Context, user *domain.User) error
}

// TokenRepository persists verification tokens. Implementations must enforce
// a unique token value and at most one open token per (user, type), reporting
// a violation as domain.ErrConflict.
type TokenRepository interface {
	Create(ctx context.Context, token *domain.Token) error
	// FindOpen looks a token up by case-insensitive value among unused tokens.
	FindOpen(ctx context.Context, value string, typ domain.TokenType) (*domain.Token, error)
	// FindLatest returns the most recently created token of typ for the user.
	FindLatest(ctx context.Context, userID string, typ domain.TokenType) (*domain.Token, error)
	// CloseOpen marks every open token of typ for the user as used at at.
	CloseOpen(ctx context.Context, userID string, typ domain.TokenType, at time.Time) (int64, error)
	// MarkConfirmed sets ConfirmedAt only when the token is still open and
	// unconfirmed; otherwise it returns domain.ErrAlreadyUsed.
	MarkConfirmed(ctx context.Context, id string, at time.Time) error
	// MarkUsed sets UsedAt only when the token is still open; otherwise it
	// returns domain.ErrAlreadyUsed.
	MarkUsed(ctx context.Context, id string, at time.Time) error
}

// AuditRepository appends to the privileged-operation audit trail.
type AuditRepository interface {
	Insert(ctx context.Context, record *domain.AuditRecord) error
}

// FilterRepository reads the sustainability filter catalogue.
type FilterRepository interface {
	// List returns every filter ordered by key.
	List(ctx context.Context) ([]domain.SustainabilityFilter, error)
	// FindByKey returns domain.ErrUnknownFilter when no filter has key.
	FindByKey(ctx context.Context, key string) (*domain.SustainabilityFilter, error)
}

// PreferenceRepository persists per-user filter preferences, at most one per
// (user, filter key).
type PreferenceRepository interface {
	// ListByUser returns the user's preferences ordered by filter key.
	ListByUser(ctx context.Context, userID string) ([]domain.Preference, error)
	// Find returns domain.ErrPreferenceNotFound when the user has none for key.
	Find(ctx context.Context, userID, filterKey string) (*domain.Preference, error)
	// Upsert creates the preference or replaces its importance.
	Upsert(ctx context.Context, pref *domain.Preference) error
	// Delete reports whether a preference was removed.
	Delete(ctx context.Context, userID, filterKey string) (bool, error)
}

// Store is the single shared mutable resource of the service.
type Store interface {
	TxManager
	Users() UserRepository
	Tokens() TokenRepository
	Audit() AuditRepository
	Filters() FilterRepository
	Preferences() PreferenceRepository
}
