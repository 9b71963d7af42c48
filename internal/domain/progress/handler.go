package progress

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
	self := auth.RequireRole(auth.RolePatient, auth.RoleSpecialist)
	specialist := auth.RequireRole(auth.RoleSpecialist)

	api.GET("/stages", h.ListStages)
	api.GET("/me/stage", h.GetMyStage, self)

	api.GET("/patients", h.ListPatients, specialist)
	api.GET("/patients/:id", h.GetPatient, specialist)
	api.GET("/patients/:id/stage", h.GetPatientStage, specialist)
	api.GET("/patients/:id/progress", h.ListProgress, specialist)
	api.POST("/patients/:id/progress", h.CreateProgress, specialist)
	api.DELETE("/progress/:id", h.DeleteProgress, specialist)
}

type stageResponse struct {
	Stage   int     `json:"stage"`
	Label   string  `json:"label"`
	Percent float64 `json:"percent"`
}

func newStageResponse(stage int) stageResponse {
	label, _ := StageLabel(stage)
	return stageResponse{Stage: stage, Label: label, Percent: ProgressPercent(stage)}
}

func (h *Handler) ListStages(c echo.Context) error {
	out := make([]stageResponse, 0, len(Stages))
	for i := range Stages {
		out = append(out, newStageResponse(i+1))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) GetMyStage(c echo.Context) error {
	sess := auth.SessionFromContext(c.Request().Context())
	if sess == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "not logged in")
	}
	return c.JSON(http.StatusOK, newStageResponse(h.svc.CurrentStage(c.Request().Context(), sess.UserID)))
}

// ListPatients lists the calling specialist's patients with their stages.
// Admins have no specialist profile and get a 404.
func (h *Handler) ListPatients(c echo.Context) error {
	sess := auth.SessionFromContext(c.Request().Context())
	if sess == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "not logged in")
	}
	patients, err := h.svc.SpecialistPatients(c.Request().Context(), sess.UserID)
	if err != nil {
		return remoteError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":  patients,
		"total": len(patients),
	})
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := patientIDParam(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Patient(c.Request().Context(), id)
	if err != nil {
		return remoteError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) GetPatientStage(c echo.Context) error {
	id, err := patientIDParam(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newStageResponse(h.svc.PatientStage(c.Request().Context(), id)))
}

func (h *Handler) ListProgress(c echo.Context) error {
	id, err := patientIDParam(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListProgress(c.Request().Context(), id)
	if err != nil {
		return remoteError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":  items,
		"total": len(items),
		"stage": newStageResponse(ResolveStage(items)),
	})
}

type createProgressRequest struct {
	Stage string `json:"etapa"`
}

func (h *Handler) CreateProgress(c echo.Context) error {
	id, err := patientIDParam(c)
	if err != nil {
		return err
	}
	var req createProgressRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.svc.CreateProgress(c.Request().Context(), id, req.Stage)
	if err != nil {
		if errors.Is(err, ErrUnknownStage) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return remoteError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) DeleteProgress(c echo.Context) error {
	if err := h.svc.DeleteProgress(c.Request().Context(), c.Param("id")); err != nil {
		return remoteError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func patientIDParam(c echo.Context) (int, error) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	return id, nil
}

func remoteError(err error) error {
	if apiclient.IsNotFound(err) {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	return echo.NewHTTPError(http.StatusBadGateway, err.Error())
}
