package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/elysion/user-service/internal/api/middleware"
	"github.com/elysion/user-service/internal/core/domain"
	"github.com/elysion/user-service/internal/core/ports"
)

func httpCode(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	return he.Code
}

func TestUserHandler_Register_Success(t *testing.T) {
	svc := &stubIdentityService{
		registerFn: func(_ context.Context, in ports.RegisterInput) (*domain.User, error) {
			if in.Email != "alice@example.com" || in.FirstName != "Alice" {
				t.Fatalf("unexpected input: %+v", in)
			}
			return &domain.User{ID: "u1", Email: in.Email}, nil
		},
	}
	e := newEcho()
	c, rec := newContext(e, http.MethodPost, "/users/register",
		`{"email":"alice@example.com","password":"correct-horse","firstName":"Alice","lastName":"Liddell"}`)

	if err := NewUserHandler(svc).Register(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var resp idResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "u1" {
		t.Fatalf("expected id u1, got %q", resp.ID)
	}
}

func TestUserHandler_Register_InvalidPayload(t *testing.T) {
	e := newEcho()
	c, _ := newContext(e, http.MethodPost, "/users/register", `{not json`)

	err := NewUserHandler(&stubIdentityService{}).Register(c)
	if code := httpCode(t, err); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}

func TestUserHandler_Register_ValidationFailure(t *testing.T) {
	e := newEcho()
	c, _ := newContext(e, http.MethodPost, "/users/register",
		`{"email":"not-an-email","password":"short","firstName":"A","lastName":"B"}`)

	err := NewUserHandler(&stubIdentityService{}).Register(c)
	if code := httpCode(t, err); code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", code)
	}
	msg := err.(*echo.HTTPError).Message.(string)
	if !strings.Contains(msg, "email must be a valid email") || !strings.Contains(msg, "password must be at least 8 characters") {
		t.Fatalf("unexpected validation message: %s", msg)
	}
}

func TestUserHandler_Register_PropagatesDomainError(t *testing.T) {
	svc := &stubIdentityService{
		registerFn: func(context.Context, ports.RegisterInput) (*domain.User, error) {
			return nil, domain.ErrEmailInUse
		},
	}
	e := newEcho()
	c, _ := newContext(e, http.MethodPost, "/users/register",
		`{"email":"alice@example.com","password":"correct-horse","firstName":"Alice","lastName":"Liddell"}`)

	if err := NewUserHandler(svc).Register(c); !errors.Is(err, domain.ErrEmailInUse) {
		t.Fatalf("expected ErrEmailInUse, got %v", err)
	}
}

func TestUserHandler_Login_SetsAuthorizationHeader(t *testing.T) {
	svc := &stubIdentityService{
		loginFn: func(_ context.Context, email, password string) (*ports.Session, error) {
			return &ports.Session{Token: "jwt-token", User: &domain.User{ID: "u1"}}, nil
		},
	}
	e := newEcho()
	c, rec := newContext(e, http.MethodPost, "/users/login", `{"email":"alice@example.com","password":"pw"}`)

	if err := NewUserHandler(svc).Login(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get(echo.HeaderAuthorization); got != "Bearer jwt-token" {
		t.Fatalf("unexpected Authorization header: %q", got)
	}
	if !strings.Contains(rec.Body.String(), `"token":"jwt-token"`) {
		t.Fatalf("expected token in body: %s", rec.Body.String())
	}
}

func TestUserHandler_ConfirmEmail_RequiresToken(t *testing.T) {
	e := newEcho()
	c, _ := newContext(e, http.MethodGet, "/users/confirm-email", "")

	err := NewUserHandler(&stubIdentityService{}).ConfirmEmail(c)
	if code := httpCode(t, err); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}

func TestUserHandler_ConfirmEmail_Success(t *testing.T) {
	var got string
	svc := &stubIdentityService{
		confirmEmailFn: func(_ context.Context, token string) (*domain.User, error) {
			got = token
			return &domain.User{ID: "u1", Active: true}, nil
		},
	}
	e := newEcho()
	c, rec := newContext(e, http.MethodGet, "/users/confirm-email?token=abc", "")

	if err := NewUserHandler(svc).ConfirmEmail(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "abc" || rec.Code != http.StatusOK {
		t.Fatalf("unexpected result: token=%q code=%d", got, rec.Code)
	}
}

func TestUserHandler_ResendActivation(t *testing.T) {
	svc := &stubIdentityService{
		resendFn: func(_ context.Context, email string) error {
			if email != "alice@example.com" {
				t.Fatalf("unexpected email %q", email)
			}
			return domain.ErrThrottled
		},
	}
	e := newEcho()
	c, _ := newContext(e, http.MethodPost, "/users/resend-activation?email=alice@example.com", "")

	if err := NewUserHandler(svc).ResendActivation(c); !errors.Is(err, domain.ErrThrottled) {
		t.Fatalf("expected ErrThrottled, got %v", err)
	}
}

func TestUserHandler_LoginIdent(t *testing.T) {
	svc := &stubIdentityService{
		loginIdentFn: func(_ context.Context, token string) (*ports.Session, error) {
			return &ports.Session{Token: "session-" + token}, nil
		},
	}
	e := newEcho()
	c, rec := newContext(e, http.MethodPost, "/users/login-ident?token=abc", "")

	if err := NewUserHandler(svc).LoginIdent(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get(echo.HeaderAuthorization) != "Bearer session-abc" {
		t.Fatalf("unexpected header: %q", rec.Header().Get(echo.HeaderAuthorization))
	}
}

func TestUserHandler_Me_RequiresClaims(t *testing.T) {
	e := newEcho()
	c, _ := newContext(e, http.MethodGet, "/users/me", "")

	err := NewUserHandler(&stubIdentityService{}).Me(c)
	if code := httpCode(t, err); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestUserHandler_Me_Success(t *testing.T) {
	pending := "new@example.com"
	svc := &stubIdentityService{
		meFn: func(_ context.Context, userID string) (*domain.User, error) {
			return &domain.User{ID: userID, Email: "alice@example.com", PendingEmail: &pending, Role: domain.RoleUser, Active: true}, nil
		},
	}
	e := newEcho()
	c, rec := newContext(e, http.MethodGet, "/users/me", "")
	c.Set(middleware.CtxUserID, "u1")

	if err := NewUserHandler(svc).Me(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp userResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID != "u1" || resp.PendingEmail != pending || resp.Role != "User" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Fatalf("password material must never be serialized: %s", rec.Body.String())
	}
}

func TestUserHandler_ChangeEmail(t *testing.T) {
	svc := &stubIdentityService{
		changeEmailFn: func(_ context.Context, userID, newEmail string) error {
			if userID != "u1" || newEmail != "new@example.com" {
				t.Fatalf("unexpected args %s %s", userID, newEmail)
			}
			return nil
		},
	}
	e := newEcho()
	c, rec := newContext(e, http.MethodPut, "/users/email", `{"newEmail":"new@example.com"}`)
	c.Set(middleware.CtxUserID, "u1")

	if err := NewUserHandler(svc).ChangeEmail(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestUserHandler_ChangePassword_Validation(t *testing.T) {
	e := newEcho()
	c, _ := newContext(e, http.MethodPut, "/users/password", `{"currentPassword":"old","newPassword":"short"}`)
	c.Set(middleware.CtxUserID, "u1")

	err := NewUserHandler(&stubIdentityService{}).ChangePassword(c)
	if code := httpCode(t, err); code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", code)
	}
}

func TestUserHandler_ChangePassword_WrongCurrent(t *testing.T) {
	svc := &stubIdentityService{
		changePasswordFn: func(context.Context, string, string, string) error {
			return domain.ErrInvalidCredentials
		},
	}
	e := newEcho()
	c, _ := newContext(e, http.MethodPut, "/users/password", `{"currentPassword":"old-password","newPassword":"new-password"}`)
	c.Set(middleware.CtxUserID, "u1")

	if err := NewUserHandler(svc).ChangePassword(c); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestUserHandler_UpdateProfile(t *testing.T) {
	svc := &stubIdentityService{
		updateProfileFn: func(_ context.Context, userID string, p domain.Profile) (*domain.User, error) {
			return &domain.User{ID: userID, FirstName: p.FirstName, LastName: p.LastName}, nil
		},
	}
	e := newEcho()
	c, rec := newContext(e, http.MethodPut, "/users/profile", `{"firstName":"Al","lastName":"Ice"}`)
	c.Set(middleware.CtxUserID, "u1")

	if err := NewUserHandler(svc).UpdateProfile(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"firstName":"Al"`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}
