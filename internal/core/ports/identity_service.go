package ports

import (
	"context"

	"github.com/elysion/user-service/internal/core/domain"
)

// RegisterInput carries the data needed to create an account.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Session is a signed credential together with the user it was issued for.
type Session struct {
	Token string
	User  *domain.User
}

// IdentityService is the account lifecycle use-case surface.
type IdentityService interface {
	Register(ctx context.Context, in RegisterInput) (*domain.User, error)
	ConfirmEmail(ctx context.Context, rawToken string) (*domain.User, error)
	ResendActivation(ctx context.Context, email string) error
	Authenticate(ctx context.Context, email, password string) (*domain.User, error)
	Login(ctx context.Context, email, password string) (*Session, error)
	LoginWithIdentToken(ctx context.Context, rawToken string) (*Session, error)
	ChangeEmail(ctx context.Context, userID, newEmail string) error
	ConfirmEmailChange(ctx context.Context, rawToken string) (*domain.User, error)
	ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error
	UpdateProfile(ctx context.Context, userID string, profile domain.Profile) (*domain.User, error)
	Me(ctx context.Context, userID string) (*domain.User, error)
	PromoteRole(ctx context.Context, targetID string, role domain.Role) (*domain.User, error)
	PromoteToAdmin(ctx context.Context, actorID, targetID, actorPassword string) (*domain.User, error)
}

// PreferenceService manages the filter catalogue and each user's
// sustainability preferences.
type PreferenceService interface {
	Filters(ctx context.Context) ([]domain.SustainabilityFilter, error)
	Preferences(ctx context.Context, userID string) ([]domain.Preference, error)
	PreferenceMap(ctx context.Context, userID string) (map[string]domain.Importance, error)
	Preference(ctx context.Context, userID, filterKey string) (*domain.Preference, error)
	SetPreference(ctx context.Context, userID, filterKey string, importance domain.Importance) (*domain.Preference, error)
	RemovePreference(ctx context.Context, userID, filterKey string) error
}
