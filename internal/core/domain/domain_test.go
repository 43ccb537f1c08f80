package domain

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"
)

func TestRole_Ordering(t *testing.T) {
	if !RoleAdmin.Outranks(RoleSeller) || !RoleSeller.Outranks(RoleUser) {
		t.Fatalf("expected User < Seller < Admin")
	}
	if RoleUser.Outranks(RoleUser) {
		t.Fatalf("a role must not outrank itself")
	}
	if _, err := ParseRole("Root"); err != ErrInvalidRole {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
	if r, err := ParseRole("Seller"); err != nil || r != RoleSeller {
		t.Fatalf("ParseRole(Seller) = %v, %v", r, err)
	}
}

func TestUser_Groups(t *testing.T) {
	cases := map[Role][]string{
		RoleUser:   {"User"},
		RoleSeller: {"User", "Seller"},
		RoleAdmin:  {"User", "Admin"},
	}
	for role, want := range cases {
		u := &User{Role: role}
		if got := u.Groups(); !reflect.DeepEqual(got, want) {
			t.Errorf("Groups(%s) = %v, want %v", role, got, want)
		}
	}
}

func TestUser_CloneIsDeep(t *testing.T) {
	pending := "new@example.com"
	u := &User{ID: "u1", PendingEmail: &pending}
	c := u.Clone()
	*c.PendingEmail = "other@example.com"
	if *u.PendingEmail != "new@example.com" {
		t.Fatalf("clone shares pending email")
	}
}

func TestToken_Windows(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tok := &Token{CreatedAt: now.Add(-2 * time.Hour)}

	if !tok.OlderThan(time.Hour, now) {
		t.Fatalf("expected token older than an hour")
	}
	if tok.OlderThan(0, now) {
		t.Fatalf("zero max age must never expire")
	}
	if tok.ConfirmedBefore(time.Minute, now) {
		t.Fatalf("unconfirmed token has no confirmation age")
	}

	confirmed := now.Add(-20 * time.Minute)
	tok.ConfirmedAt = &confirmed
	if !tok.ConfirmedBefore(15*time.Minute, now) {
		t.Fatalf("expected confirmation window elapsed")
	}
}

func TestNormalizeTokenValue(t *testing.T) {
	if got := NormalizeTokenValue("  ABC-def\n"); got != "abc-def" {
		t.Fatalf("unexpected normalization: %q", got)
	}
}

func TestKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{ErrEmailInUse, "email_in_use"},
		{fmt.Errorf("register: %w", ErrEmailInUse), "email_in_use"},
		{ErrTokenNotConfirmed, "token_not_confirmed"},
		{ErrNotActivated, "not_activated"},
		{errors.New("boom"), "internal"},
	}
	for _, tc := range cases {
		if got := Kind(tc.err); got != tc.want {
			t.Errorf("Kind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
	if !errors.Is(ErrTokenNotConfirmed, ErrNotActivated) {
		t.Fatalf("ErrTokenNotConfirmed must match ErrNotActivated")
	}
}
