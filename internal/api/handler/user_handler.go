package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/elysion/user-service/internal/core/domain"
	"github.com/elysion/user-service/internal/core/ports"
)

// UserHandler serves the self-service account endpoints.
type UserHandler struct {
	service ports.IdentityService
}

func NewUserHandler(service ports.IdentityService) *UserHandler {
	return &UserHandler{service: service}
}

// Register creates an inactive account and sends the activation mail.
//
// @Summary      Register a new account
// @Tags         users
// @Accept       json
// @Produce      json
// @Param        body  body      registerRequest  true  "Account details"
// @Success      201   {object}  idResponse
// @Failure      400   {object}  errorResponse
// @Failure      409   {object}  errorResponse
// @Failure      422   {object}  errorResponse
// @Router       /users/register [post]
func (h *UserHandler) Register(c echo.Context) error {
	var req registerRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	user, err := h.service.Register(c.Request().Context(), ports.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, idResponse{ID: user.ID})
}

// Login authenticates with email and password and returns a session.
//
// @Summary      Login
// @Tags         users
// @Accept       json
// @Produce      json
// @Param        body  body      loginRequest  true  "Credentials"
// @Success      200   {object}  tokenResponse
// @Failure      401   {object}  errorResponse
// @Failure      403   {object}  errorResponse
// @Failure      429   {object}  errorResponse
// @Router       /users/login [post]
func (h *UserHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	session, err := h.service.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}

	return writeSession(c, session)
}

// ConfirmEmail confirms an activation token and activates the account.
//
// @Summary      Confirm account email
// @Tags         users
// @Produce      json
// @Param        token  query     string  true  "Activation token"
// @Success      200    {object}  messageResponse
// @Failure      400    {object}  errorResponse
// @Failure      409    {object}  errorResponse
// @Failure      410    {object}  errorResponse
// @Router       /users/confirm-email [get]
func (h *UserHandler) ConfirmEmail(c echo.Context) error {
	token, err := requiredQuery(c, "token")
	if err != nil {
		return err
	}

	if _, err := h.service.ConfirmEmail(c.Request().Context(), token); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, messageResponse{Message: "Email confirmed"})
}

// ResendActivation issues a fresh activation token for an inactive account.
//
// @Summary      Resend activation mail
// @Tags         users
// @Produce      json
// @Param        email  query     string  true  "Account email"
// @Success      200    {object}  messageResponse
// @Failure      404    {object}  errorResponse
// @Failure      409    {object}  errorResponse
// @Failure      429    {object}  errorResponse
// @Router       /users/resend-activation [post]
func (h *UserHandler) ResendActivation(c echo.Context) error {
	email, err := requiredQuery(c, "email")
	if err != nil {
		return err
	}

	if err := h.service.ResendActivation(c.Request().Context(), email); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, messageResponse{Message: "Activation email sent"})
}

// LoginIdent exchanges a confirmed activation token for a session.
//
// @Summary      Login with a confirmed activation token
// @Tags         users
// @Produce      json
// @Param        token  query     string  true  "Confirmed activation token"
// @Success      200    {object}  tokenResponse
// @Failure      400    {object}  errorResponse
// @Failure      403    {object}  errorResponse
// @Failure      410    {object}  errorResponse
// @Router       /users/login-ident [post]
func (h *UserHandler) LoginIdent(c echo.Context) error {
	token, err := requiredQuery(c, "token")
	if err != nil {
		return err
	}

	session, err := h.service.LoginWithIdentToken(c.Request().Context(), token)
	if err != nil {
		return err
	}

	return writeSession(c, session)
}

// ConfirmEmailChange applies a pending email change.
//
// @Summary      Confirm an email change
// @Tags         users
// @Produce      json
// @Param        token  query     string  true  "Email change token"
// @Success      200    {object}  messageResponse
// @Failure      400    {object}  errorResponse
// @Failure      409    {object}  errorResponse
// @Failure      410    {object}  errorResponse
// @Router       /users/confirm-email-change [get]
func (h *UserHandler) ConfirmEmailChange(c echo.Context) error {
	token, err := requiredQuery(c, "token")
	if err != nil {
		return err
	}

	if _, err := h.service.ConfirmEmailChange(c.Request().Context(), token); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, messageResponse{Message: "Email changed"})
}

// Me returns the caller's account.
//
// @Summary      Current account
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  userResponse
// @Failure      401  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Router       /users/me [get]
func (h *UserHandler) Me(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}

	user, err := h.service.Me(c.Request().Context(), userID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, toUserResponse(user))
}

// ChangeEmail starts an email change for the caller.
//
// @Summary      Request an email change
// @Tags         users
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      changeEmailRequest  true  "New email"
// @Success      200   {object}  messageResponse
// @Failure      401   {object}  errorResponse
// @Failure      409   {object}  errorResponse
// @Failure      422   {object}  errorResponse
// @Router       /users/email [put]
func (h *UserHandler) ChangeEmail(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}
	var req changeEmailRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	if err := h.service.ChangeEmail(c.Request().Context(), userID, req.NewEmail); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, messageResponse{Message: "Confirmation sent to the new email"})
}

// ChangePassword rotates the caller's password.
//
// @Summary      Change password
// @Tags         users
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      changePasswordRequest  true  "Current and new password"
// @Success      200   {object}  messageResponse
// @Failure      401   {object}  errorResponse
// @Failure      409   {object}  errorResponse
// @Failure      422   {object}  errorResponse
// @Router       /users/password [put]
func (h *UserHandler) ChangePassword(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}
	var req changePasswordRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	if err := h.service.ChangePassword(c.Request().Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, messageResponse{Message: "Password changed"})
}

// UpdateProfile replaces the caller's first and last name.
//
// @Summary      Update profile
// @Tags         users
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      updateProfileRequest  true  "Profile"
// @Success      200   {object}  userResponse
// @Failure      401   {object}  errorResponse
// @Failure      422   {object}  errorResponse
// @Router       /users/profile [put]
func (h *UserHandler) UpdateProfile(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}
	var req updateProfileRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	user, err := h.service.UpdateProfile(c.Request().Context(), userID, domain.Profile{
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, toUserResponse(user))
}

func writeSession(c echo.Context, session *ports.Session) error {
	c.Response().Header().Set(echo.HeaderAuthorization, "Bearer "+session.Token)
	return c.JSON(http.StatusOK, tokenResponse{Token: session.Token})
}

func requiredQuery(c echo.Context, name string) (string, error) {
	v := c.QueryParam(name)
	if v == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, name+" is required")
	}
	return v, nil
}
