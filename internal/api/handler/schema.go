package handler

import (
	"time"

	"github.com/elysion/user-service/internal/core/domain"
)

// errorResponse documents the error envelope written by the API error handler.
type errorResponse struct {
	Error string `json:"error"`
}

// --- Request types ---

type registerRequest struct {
	Email     string `json:"email"     validate:"required,email,max=254"`
	Password  string `json:"password"  validate:"required,min=8,max=128"`
	FirstName string `json:"firstName" validate:"required,max=100"`
	LastName  string `json:"lastName"  validate:"required,max=100"`
}

type loginRequest struct {
	Email    string `json:"email"    validate:"required"`
	Password string `json:"password" validate:"required"`
}

type changeEmailRequest struct {
	NewEmail string `json:"newEmail" validate:"required,email,max=254"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword"     validate:"required,min=8,max=128"`
}

type updateProfileRequest struct {
	FirstName string `json:"firstName" validate:"required,max=100"`
	LastName  string `json:"lastName"  validate:"required,max=100"`
}

type setPreferenceRequest struct {
	Importance string `json:"importance" validate:"required,oneof=NOT_IMPORTANT SOMEWHAT_IMPORTANT IMPORTANT VERY_IMPORTANT"`
}

type reauthRequest struct {
	AdminPassword string `json:"adminPassword" validate:"required"`
}

// --- Response types ---

type idResponse struct {
	ID string `json:"id"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type roleResponse struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

type userResponse struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PendingEmail string    `json:"pendingEmail,omitempty"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	Role         string    `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"createdAt"`
}

func toUserResponse(u *domain.User) userResponse {
	resp := userResponse{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      string(u.Role),
		Active:    u.Active,
		CreatedAt: u.CreatedAt,
	}
	if u.PendingEmail != nil {
		resp.PendingEmail = *u.PendingEmail
	}
	return resp
}

type preferenceResponse struct {
	FilterKey  string    `json:"filterKey"`
	Importance string    `json:"importance"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func toPreferenceResponse(p domain.Preference) preferenceResponse {
	return preferenceResponse{
		FilterKey:  p.FilterKey,
		Importance: string(p.Importance),
		UpdatedAt:  p.UpdatedAt,
	}
}
