package reminder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/uioyp/companion/internal/platform/auth"
	"github.com/uioyp/companion/internal/platform/kvstore"
)

func newTestHandler() (*Handler, *fakeScheduler, *mockAdminRemote, *echo.Echo) {
	sched := newFakeScheduler()
	remote := newMockAdminRemote()
	syncer := newTestSyncer(&fakeConfig{}, sched, kvstore.NewMemoryStore())
	admin := NewAdminService(remote, syncer, syncer.logger)
	return NewHandler(syncer, admin, Schedule{Hour: 21}), sched, remote, echo.New()
}

func jsonRequest(method, body string, sess *auth.Session) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if sess != nil {
		req = req.WithContext(auth.WithSession(context.Background(), sess))
	}
	return req
}

func TestHandler_SyncReminder(t *testing.T) {
	h, sched, _, e := newTestHandler()
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "", nil), rec)

	if err := h.SyncReminder(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out reminderResponse
	json.Unmarshal(rec.Body.Bytes(), &out)
	if !out.Installed || out.At != "21:00" || out.Handle == "" {
		t.Errorf("response = %+v", out)
	}
	if sched.installs != 1 {
		t.Errorf("installs = %d", sched.installs)
	}
}

func TestHandler_SyncReminder_PermissionDenied(t *testing.T) {
	h, sched, _, e := newTestHandler()
	sched.denied = true
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "", nil), rec)

	if err := h.SyncReminder(c); err != nil {
		t.Fatalf("denial should not be an HTTP error: %v", err)
	}
	var out reminderResponse
	json.Unmarshal(rec.Body.Bytes(), &out)
	if out.Installed || out.Reason != "permission_denied" {
		t.Errorf("response = %+v", out)
	}
}

func TestHandler_RescheduleAndCancel(t *testing.T) {
	h, sched, _, e := newTestHandler()

	rec := httptest.NewRecorder()
	if err := h.RescheduleReminder(e.NewContext(jsonRequest(http.MethodPut, `{"at":"06:30"}`, nil), rec)); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if tr := sched.only(t); tr.Hour != 6 || tr.Minute != 30 {
		t.Errorf("installed at %02d:%02d", tr.Hour, tr.Minute)
	}

	rec = httptest.NewRecorder()
	if err := h.GetReminder(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)); err != nil {
		t.Fatal(err)
	}
	var out reminderResponse
	json.Unmarshal(rec.Body.Bytes(), &out)
	if !out.Installed || out.At != "06:30" {
		t.Errorf("status = %+v", out)
	}

	rec = httptest.NewRecorder()
	if err := h.CancelReminder(e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), rec)); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusNoContent || len(sched.installed) != 0 {
		t.Errorf("cancel status = %d, installed = %d", rec.Code, len(sched.installed))
	}
}

func TestHandler_RescheduleReminder_BadTime(t *testing.T) {
	h, _, _, e := newTestHandler()
	err := h.RescheduleReminder(e.NewContext(jsonRequest(http.MethodPut, `{"at":"25:00"}`, nil), httptest.NewRecorder()))
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("err = %v, want 400", err)
	}
}

func TestHandler_SetGlobalTime(t *testing.T) {
	h, sched, remote, e := newTestHandler()
	rec := httptest.NewRecorder()
	if err := h.SetGlobalTime(e.NewContext(jsonRequest(http.MethodPut, `{"at":"19:45"}`, nil), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if remote.global == nil || remote.global.Hour != 19 || remote.global.Minute != 45 {
		t.Errorf("remote global = %+v", remote.global)
	}
	if tr := sched.only(t); tr.Hour != 19 || tr.Minute != 45 {
		t.Errorf("installed at %02d:%02d", tr.Hour, tr.Minute)
	}
}

func TestHandler_CreatePatientReminders(t *testing.T) {
	h, _, remote, e := newTestHandler()
	sess := &auth.Session{UserID: 50, Role: auth.RoleSpecialist}
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, `{}`, sess), rec)
	c.SetParamNames("id")
	c.SetParamValues("12")

	if err := h.CreatePatientReminders(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated || len(remote.reminders) != 2 {
		t.Errorf("status = %d, reminders = %+v", rec.Code, remote.reminders)
	}
}

func TestHandler_UpdatePatientReminder_RequiresActive(t *testing.T) {
	h, _, _, e := newTestHandler()
	c := e.NewContext(jsonRequest(http.MethodPatch, `{}`, nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("3")

	err := h.UpdatePatientReminder(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("err = %v, want 400", err)
	}
}

func TestHandler_AdminRouteRequiresAdmin(t *testing.T) {
	h, _, _, e := newTestHandler()
	h.RegisterRoutes(e.Group("/api/v1"))

	req := httptest.NewRequest(http.MethodPut, "/api/v1/admin/reminder-time", strings.NewReader(`{"at":"20:00"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithSession(context.Background(), &auth.Session{UserID: 50, Role: auth.RoleSpecialist}))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestHandler_UnknownPathIsNotFound(t *testing.T) {
	h, _, _, e := newTestHandler()
	h.RegisterRoutes(e.Group("/api/v1"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reminders-typo", nil)
	req = req.WithContext(auth.WithSession(context.Background(), &auth.Session{UserID: 7, Role: auth.RolePatient}))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
