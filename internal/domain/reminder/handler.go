package reminder

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/uioyp/companion/internal/platform/apiclient"
	"github.com/uioyp/companion/internal/platform/auth"
)

type Handler struct {
	syncer   *Syncer
	admin    *AdminService
	fallback Schedule
}

// NewHandler creates a Handler. fallback is the time used by sync requests
// when neither the server nor the persisted state has one.
func NewHandler(syncer *Syncer, admin *AdminService, fallback Schedule) *Handler {
	return &Handler{syncer: syncer, admin: admin, fallback: fallback}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	user := auth.RequireRole(auth.RolePatient, auth.RoleSpecialist)
	admin := auth.RequireRole(auth.RoleAdmin)
	specialist := auth.RequireRole(auth.RoleSpecialist)

	api.GET("/reminder", h.GetReminder, user)
	api.POST("/reminder/sync", h.SyncReminder, user)
	api.PUT("/reminder", h.RescheduleReminder, user)
	api.DELETE("/reminder", h.CancelReminder, user)

	api.PUT("/admin/reminder-time", h.SetGlobalTime, admin)

	api.GET("/patients/:id/reminders", h.ListPatientReminders, specialist)
	api.POST("/patients/:id/reminders", h.CreatePatientReminders, specialist)
	api.PATCH("/patient-reminders/:id", h.UpdatePatientReminder, specialist)
	api.DELETE("/patient-reminders/:id", h.DeletePatientReminder, specialist)
}

type reminderResponse struct {
	Installed bool   `json:"installed"`
	Handle    string `json:"handle,omitempty"`
	At        string `json:"at,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func stateResponse(st State) reminderResponse {
	resp := reminderResponse{Installed: st.Handle != "", Handle: st.Handle}
	if st.Schedule != nil {
		resp.At = st.Schedule.String()
	}
	return resp
}

// syncResult maps a sync outcome onto a response. Soft failures are not HTTP
// errors: the reminder is optional.
func syncResult(c echo.Context, handle string, at Schedule, err error) error {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return c.JSON(http.StatusOK, reminderResponse{Reason: "permission_denied"})
	case errors.Is(err, ErrInstallFailed):
		return c.JSON(http.StatusOK, reminderResponse{Reason: "install_failed"})
	case errors.Is(err, ErrInvalidSchedule):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, reminderResponse{Installed: true, Handle: handle, At: at.String()})
}

func (h *Handler) GetReminder(c echo.Context) error {
	return c.JSON(http.StatusOK, stateResponse(h.syncer.Status(c.Request().Context())))
}

func (h *Handler) SyncReminder(c echo.Context) error {
	ctx := c.Request().Context()
	handle, err := h.syncer.EnsureDailyReminder(ctx, h.fallback)
	if err != nil {
		return syncResult(c, "", Schedule{}, err)
	}
	return c.JSON(http.StatusOK, stateResponse(h.syncer.Status(ctx)).withHandle(handle))
}

func (r reminderResponse) withHandle(handle string) reminderResponse {
	r.Installed = handle != ""
	r.Handle = handle
	return r
}

type scheduleRequest struct {
	At string `json:"at"`
}

func (req scheduleRequest) schedule() (Schedule, error) {
	s, err := ParseSchedule(req.At)
	if err != nil {
		return Schedule{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return s, nil
}

func (h *Handler) RescheduleReminder(c echo.Context) error {
	var req scheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sched, err := req.schedule()
	if err != nil {
		return err
	}
	handle, err := h.syncer.RescheduleDailyReminder(c.Request().Context(), sched)
	return syncResult(c, handle, sched, err)
}

func (h *Handler) CancelReminder(c echo.Context) error {
	h.syncer.CancelDailyReminder(c.Request().Context())
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) SetGlobalTime(c echo.Context) error {
	var req scheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sched, err := req.schedule()
	if err != nil {
		return err
	}
	handle, err := h.admin.SetGlobalTime(c.Request().Context(), sched)
	return syncResult(c, handle, sched, err)
}

type patientRemindersRequest struct {
	Times []string `json:"times"`
}

func (h *Handler) CreatePatientReminders(c echo.Context) error {
	patientID, err := intParam(c, "id")
	if err != nil {
		return err
	}
	sess := auth.SessionFromContext(c.Request().Context())
	if sess == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "not logged in")
	}
	var req patientRemindersRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	times := make([]Schedule, 0, len(req.Times))
	for _, text := range req.Times {
		s, err := scheduleRequest{At: text}.schedule()
		if err != nil {
			return err
		}
		times = append(times, s)
	}
	if err := h.admin.SchedulePatientReminders(c.Request().Context(), patientID, sess.UserID, times...); err != nil {
		return remoteError(err)
	}
	return c.NoContent(http.StatusCreated)
}

func (h *Handler) ListPatientReminders(c echo.Context) error {
	patientID, err := intParam(c, "id")
	if err != nil {
		return err
	}
	items, err := h.admin.ListPatientReminders(c.Request().Context(), patientID)
	if err != nil {
		return remoteError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":  items,
		"total": len(items),
	})
}

type activeRequest struct {
	Active *bool `json:"active"`
}

func (h *Handler) UpdatePatientReminder(c echo.Context) error {
	id, err := intParam(c, "id")
	if err != nil {
		return err
	}
	var req activeRequest
	if err := c.Bind(&req); err != nil || req.Active == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "active is required")
	}
	if err := h.admin.SetPatientReminderActive(c.Request().Context(), id, *req.Active); err != nil {
		return remoteError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) DeletePatientReminder(c echo.Context) error {
	id, err := intParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.admin.DeletePatientReminder(c.Request().Context(), id); err != nil {
		return remoteError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func intParam(c echo.Context, name string) (int, error) {
	n, err := strconv.Atoi(c.Param(name))
	if err != nil || n <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return n, nil
}

func remoteError(err error) error {
	if errors.Is(err, ErrInvalidSchedule) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if apiclient.IsNotFound(err) {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	return echo.NewHTTPError(http.StatusBadGateway, err.Error())
}
