package handler

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/elysion/user-service/internal/core/domain"
	"github.com/elysion/user-service/internal/core/ports"
)

// stubIdentityService implements ports.IdentityService with overridable funcs.
// Unset funcs panic so an unexpected call fails the test loudly.
type stubIdentityService struct {
	registerFn           func(ctx context.Context, in ports.RegisterInput) (*domain.User, error)
	confirmEmailFn       func(ctx context.Context, token string) (*domain.User, error)
	resendFn             func(ctx context.Context, email string) error
	authenticateFn       func(ctx context.Context, email, password string) (*domain.User, error)
	loginFn              func(ctx context.Context, email, password string) (*ports.Session, error)
	loginIdentFn         func(ctx context.Context, token string) (*ports.Session, error)
	changeEmailFn        func(ctx context.Context, userID, newEmail string) error
	confirmEmailChangeFn func(ctx context.Context, token string) (*domain.User, error)
	changePasswordFn     func(ctx context.Context, userID, current, next string) error
	updateProfileFn      func(ctx context.Context, userID string, p domain.Profile) (*domain.User, error)
	meFn                 func(ctx context.Context, userID string) (*domain.User, error)
	promoteRoleFn        func(ctx context.Context, targetID string, role domain.Role) (*domain.User, error)
	promoteAdminFn       func(ctx context.Context, actorID, targetID, password string) (*domain.User, error)
}

var _ ports.IdentityService = (*stubIdentityService)(nil)

func (s *stubIdentityService) Register(ctx context.Context, in ports.RegisterInput) (*domain.User, error) {
	return s.registerFn(ctx, in)
}
func (s *stubIdentityService) ConfirmEmail(ctx context.Context, token string) (*domain.User, error) {
	return s.confirmEmailFn(ctx, token)
}
func (s *stubIdentityService) ResendActivation(ctx context.Context, email string) error {
	return s.resendFn(ctx, email)
}
func (s *stubIdentityService) Authenticate(ctx context.Context, email, password string) (*domain.User, error) {
	return s.authenticateFn(ctx, email, password)
}
func (s *stubIdentityService) Login(ctx context.Context, email, password string) (*ports.Session, error) {
	return s.loginFn(ctx, email, password)
}
func (s *stubIdentityService) LoginWithIdentToken(ctx context.Context, token string) (*ports.Session, error) {
	return s.loginIdentFn(ctx, token)
}
func (s *stubIdentityService) ChangeEmail(ctx context.Context, userID, newEmail string) error {
	return s.changeEmailFn(ctx, userID, newEmail)
}
func (s *stubIdentityService) ConfirmEmailChange(ctx context.Context, token string) (*domain.User, error) {
	return s.confirmEmailChangeFn(ctx, token)
}
func (s *stubIdentityService) ChangePassword(ctx context.Context, userID, current, next string) error {
	return s.changePasswordFn(ctx, userID, current, next)
}
func (s *stubIdentityService) UpdateProfile(ctx context.Context, userID string, p domain.Profile) (*domain.User, error) {
	return s.updateProfileFn(ctx, userID, p)
}
func (s *stubIdentityService) Me(ctx context.Context, userID string) (*domain.User, error) {
	return s.meFn(ctx, userID)
}
func (s *stubIdentityService) PromoteRole(ctx context.Context, targetID string, role domain.Role) (*domain.User, error) {
	return s.promoteRoleFn(ctx, targetID, role)
}
func (s *stubIdentityService) PromoteToAdmin(ctx context.Context, actorID, targetID, password string) (*domain.User, error) {
	return s.promoteAdminFn(ctx, actorID, targetID, password)
}

func newEcho() *echo.Echo {
	e := echo.New()
	e.Validator = NewValidator()
	return e
}

func newContext(e *echo.Echo, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

// stubPreferenceService implements ports.PreferenceService the same way.
type stubPreferenceService struct {
	filtersFn func(ctx context.Context) ([]domain.SustainabilityFilter, error)
	listFn    func(ctx context.Context, userID string) ([]domain.Preference, error)
	mapFn     func(ctx context.Context, userID string) (map[string]domain.Importance, error)
	getFn     func(ctx context.Context, userID, filterKey string) (*domain.Preference, error)
	setFn     func(ctx context.Context, userID, filterKey string, importance domain.Importance) (*domain.Preference, error)
	removeFn  func(ctx context.Context, userID, filterKey string) error
}

var _ ports.PreferenceService = (*stubPreferenceService)(nil)

func (s *stubPreferenceService) Filters(ctx context.Context) ([]domain.SustainabilityFilter, error) {
	return s.filtersFn(ctx)
}
func (s *stubPreferenceService) Preferences(ctx context.Context, userID string) ([]domain.Preference, error) {
	return s.listFn(ctx, userID)
}
func (s *stubPreferenceService) PreferenceMap(ctx context.Context, userID string) (map[string]domain.Importance, error) {
	return s.mapFn(ctx, userID)
}
func (s *stubPreferenceService) Preference(ctx context.Context, userID, filterKey string) (*domain.Preference, error) {
	return s.getFn(ctx, userID, filterKey)
}
func (s *stubPreferenceService) SetPreference(ctx context.Context, userID, filterKey string, importance domain.Importance) (*domain.Preference, error) {
	return s.setFn(ctx, userID, filterKey, importance)
}
func (s *stubPreferenceService) RemovePreference(ctx context.Context, userID, filterKey string) error {
	return s.removeFn(ctx, userID, filterKey)
}
