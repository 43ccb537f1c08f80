package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/elysion/user-service/internal/core/domain"
	"github.com/elysion/user-service/internal/core/ports"
)

// AdminHandler serves role management for administrators.
type AdminHandler struct {
	service ports.IdentityService
}

func NewAdminHandler(service ports.IdentityService) *AdminHandler {
	return &AdminHandler{service: service}
}

// PromoteSeller grants the Seller role.
//
// @Summary      Promote a user to Seller
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "User ID"
// @Success      200  {object}  roleResponse
// @Failure      403  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Router       /users/{id}/role/seller [put]
func (h *AdminHandler) PromoteSeller(c echo.Context) error {
	user, err := h.service.PromoteRole(c.Request().Context(), c.Param("id"), domain.RoleSeller)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, roleResponse{Message: "Role updated to Seller", UserID: user.ID})
}

// PromoteAdmin grants the Admin role after re-checking the caller's password.
//
// @Summary      Promote a user to Admin
// @Tags         admin
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id    path      string         true  "User ID"
// @Param        body  body      reauthRequest  true  "Caller password"
// @Success      200   {object}  roleResponse
// @Failure      401   {object}  errorResponse
// @Failure      403   {object}  errorResponse
// @Failure      404   {object}  errorResponse
// @Router       /users/{id}/role/admin [put]
func (h *AdminHandler) PromoteAdmin(c echo.Context) error {
	actorID, err := currentUserID(c)
	if err != nil {
		return err
	}
	var req reauthRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	user, err := h.service.PromoteToAdmin(c.Request().Context(), actorID, c.Param("id"), req.AdminPassword)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, roleResponse{Message: "User promoted to Admin", UserID: user.ID})
}
