package logbook

import (
	"errors"
	"net/http"
	"strconv"

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
	patient := auth.RequireRole(auth.RolePatient)
	specialist := auth.RequireRole(auth.RoleSpecialist)
	either := auth.RequireRole(auth.RolePatient, auth.RoleSpecialist)

	api.GET("/me/logbook", h.ListMine, patient)
	api.POST("/me/logbook", h.Create, patient)
	api.GET("/patients/:id/logbook", h.ListPatient, specialist)
	api.GET("/logbook/:id", h.Get, either)
	api.DELETE("/logbook/:id", h.Delete, either)
}

func (h *Handler) ListMine(c echo.Context) error {
	sess := auth.SessionFromContext(c.Request().Context())
	if sess == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "not logged in")
	}
	items, err := h.svc.MyEntries(c.Request().Context(), sess.UserID)
	if err != nil {
		return serviceError(err)
	}
	return listResponse(c, items)
}

func (h *Handler) ListPatient(c echo.Context) error {
	id, err := idParam(c, "invalid patient id")
	if err != nil {
		return err
	}
	items, err := h.svc.PatientEntries(c.Request().Context(), id)
	if err != nil {
		return serviceError(err)
	}
	return listResponse(c, items)
}

func (h *Handler) Create(c echo.Context) error {
	sess := auth.SessionFromContext(c.Request().Context())
	if sess == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "not logged in")
	}
	var in Input
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e, err := h.svc.Create(c.Request().Context(), sess.UserID, in)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusCreated, e)
}

// Get returns an entry. Patients only see their own entries.
func (h *Handler) Get(c echo.Context) error {
	sess := auth.SessionFromContext(c.Request().Context())
	if sess == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "not logged in")
	}
	id, err := idParam(c, "invalid log entry id")
	if err != nil {
		return err
	}
	var e *Entry
	if sess.Role == auth.RolePatient {
		e, err = h.svc.GetOwn(c.Request().Context(), sess.UserID, id)
	} else {
		e, err = h.svc.Get(c.Request().Context(), id)
	}
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, e)
}

// Delete removes an entry. Patients only delete their own entries.
func (h *Handler) Delete(c echo.Context) error {
	sess := auth.SessionFromContext(c.Request().Context())
	if sess == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "not logged in")
	}
	id, err := idParam(c, "invalid log entry id")
	if err != nil {
		return err
	}
	if sess.Role == auth.RolePatient {
		err = h.svc.DeleteOwn(c.Request().Context(), sess.UserID, id)
	} else {
		err = h.svc.Delete(c.Request().Context(), id)
	}
	if err != nil {
		return serviceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func listResponse(c echo.Context, items []Entry) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":  items,
		"total": len(items),
	})
}

func idParam(c echo.Context, msg string) (int, error) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, msg)
	}
	return id, nil
}

func serviceError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidEntry):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotOwner):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case apiclient.IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	default:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
}
