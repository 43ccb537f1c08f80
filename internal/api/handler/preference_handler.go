package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/elysion/user-service/internal/core/domain"
	"github.com/elysion/user-service/internal/core/ports"
)

// PreferenceHandler serves the sustainability filter catalogue and the
// caller's preferences for it.
type PreferenceHandler struct {
	service ports.PreferenceService
}

func NewPreferenceHandler(service ports.PreferenceService) *PreferenceHandler {
	return &PreferenceHandler{service: service}
}

// Filters lists the sustainability filter catalogue.
//
// @Summary      Sustainability filters
// @Tags         preferences
// @Produce      json
// @Success      200  {array}   domain.SustainabilityFilter
// @Router       /filters [get]
func (h *PreferenceHandler) Filters(c echo.Context) error {
	filters, err := h.service.Filters(c.Request().Context())
	if err != nil {
		return err
	}
	if filters == nil {
		filters = []domain.SustainabilityFilter{}
	}
	return c.JSON(http.StatusOK, filters)
}

// List returns every preference the caller has set, ordered by filter key.
//
// @Summary      List preferences
// @Tags         preferences
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}   preferenceResponse
// @Failure      401  {object}  errorResponse
// @Router       /users/preferences [get]
func (h *PreferenceHandler) List(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}

	prefs, err := h.service.Preferences(c.Request().Context(), userID)
	if err != nil {
		return err
	}

	out := make([]preferenceResponse, 0, len(prefs))
	for _, p := range prefs {
		out = append(out, toPreferenceResponse(p))
	}
	return c.JSON(http.StatusOK, out)
}

// Map returns the caller's preferences keyed by filter key.
//
// @Summary      Preferences by filter key
// @Tags         preferences
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  map[string]string
// @Failure      401  {object}  errorResponse
// @Router       /users/preferences/map [get]
func (h *PreferenceHandler) Map(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}

	m, err := h.service.PreferenceMap(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, m)
}

// Get returns the caller's preference for one filter.
//
// @Summary      Get a preference
// @Tags         preferences
// @Produce      json
// @Security     BearerAuth
// @Param        filterKey  path      string  true  "Filter key"
// @Success      200        {object}  preferenceResponse
// @Failure      401        {object}  errorResponse
// @Failure      404        {object}  errorResponse
// @Router       /users/preferences/{filterKey} [get]
func (h *PreferenceHandler) Get(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}

	p, err := h.service.Preference(c.Request().Context(), userID, c.Param("filterKey"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toPreferenceResponse(*p))
}

// Set creates or replaces the caller's preference for one filter.
//
// @Summary      Set a preference
// @Tags         preferences
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        filterKey  path      string                true  "Filter key"
// @Param        body       body      setPreferenceRequest  true  "Importance"
// @Success      200        {object}  preferenceResponse
// @Failure      400        {object}  errorResponse
// @Failure      401        {object}  errorResponse
// @Failure      422        {object}  errorResponse
// @Router       /users/preferences/{filterKey} [put]
func (h *PreferenceHandler) Set(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}
	var req setPreferenceRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	p, err := h.service.SetPreference(c.Request().Context(), userID, c.Param("filterKey"), domain.Importance(req.Importance))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toPreferenceResponse(*p))
}

// Delete removes the caller's preference for one filter.
//
// @Summary      Remove a preference
// @Tags         preferences
// @Security     BearerAuth
// @Param        filterKey  path  string  true  "Filter key"
// @Success      204
// @Failure      401  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Router       /users/preferences/{filterKey} [delete]
func (h *PreferenceHandler) Delete(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}

	if err := h.service.RemovePreference(c.Request().Context(), userID, c.Param("filterKey")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
