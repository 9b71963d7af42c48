package account

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/uioyp/companion/internal/platform/apiclient"
	"github.com/uioyp/companion/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/login", h.Login)
	api.POST("/logout", h.Logout)
	api.GET("/me", h.Me)
}

type loginRequest struct {
	Username string `json:"nombre_us"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.Login(c.Request().Context(), req.Username)
	if err != nil {
		var apiErr *apiclient.APIError
		switch {
		case errors.Is(err, ErrUsernameRequired):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusNotFound):
			return echo.NewHTTPError(http.StatusUnauthorized, apiErr.Message)
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Logout(c echo.Context) error {
	if err := h.svc.Logout(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Me(c echo.Context) error {
	sess := auth.SessionFromContext(c.Request().Context())
	if sess == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "not logged in")
	}
	dest, _ := sess.Role.Destination()
	return c.JSON(http.StatusOK, Result{
		UserID:      sess.UserID,
		Username:    sess.Username,
		Role:        sess.Role,
		Destination: dest,
	})
}
