package domain

import (
	"errors"
	"fmt"
)

var (
	ErrEmailInUse         = errors.New("email already in use")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotActivated       = errors.New("account not activated")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrAlreadyUsed        = errors.New("token already used")
	ErrThrottled          = errors.New("too many requests, try again later")
	ErrAlreadyActive      = errors.New("account already activated")
	ErrUserNotFound       = errors.New("user not found")
	ErrReauthFailed       = errors.New("reauthentication failed")
	ErrConflict           = errors.New("conflicting update")
	ErrForbidden          = errors.New("access forbidden")
	ErrInvalidRole        = errors.New("invalid role")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnknownFilter      = errors.New("unknown filter key")
	ErrPreferenceNotFound = errors.New("no preference for filter")
)

// ErrTokenNotConfirmed is returned when an unconfirmed token is presented for
// exchange. It matches ErrNotActivated.
var ErrTokenNotConfirmed = fmt.Errorf("%w: token not confirmed", ErrNotActivated)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrTokenNotConfirmed, "token_not_confirmed"},
	{ErrEmailInUse, "email_in_use"},
	{ErrInvalidCredentials, "invalid_credentials"},
	{ErrNotActivated, "not_activated"},
	{ErrInvalidToken, "invalid_token"},
	{ErrTokenExpired, "token_expired"},
	{ErrAlreadyUsed, "already_used"},
	{ErrThrottled, "throttled"},
	{ErrAlreadyActive, "already_active"},
	{ErrUserNotFound, "user_not_found"},
	{ErrReauthFailed, "reauth_failed"},
	{ErrConflict, "conflict"},
	{ErrForbidden, "forbidden"},
	{ErrInvalidRole, "invalid_role"},
	{ErrInvalidInput, "invalid_input"},
	{ErrUnknownFilter, "unknown_filter"},
	{ErrPreferenceNotFound, "preference_not_found"},
}

// Kind returns a stable label for err: "ok" for nil, the error kind for
// domain errors and "internal" for anything else.
func Kind(err error) string {
	if err == nil {
		return "ok"
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}
