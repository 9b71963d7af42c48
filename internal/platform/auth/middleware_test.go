package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type stubLoader struct {
	sess *Session
	err  error
}

func (s stubLoader) Load(context.Context) (*Session, error) { return s.sess, s.err }

func serve(t *testing.T, mw echo.MiddlewareFunc, path string) (*Session, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath(path)

	var seen *Session
	handler := func(c echo.Context) error {
		seen = SessionFromContext(c.Request().Context())
		return c.String(http.StatusOK, "ok")
	}
	err := mw(handler)(c)
	return seen, err
}

func TestSessionMiddleware_LoadsSession(t *testing.T) {
	want := &Session{Token: "t", UserID: 4, Role: RolePatient}
	got, err := serve(t, SessionMiddleware(stubLoader{sess: want}, zerolog.Nop()), "/api/v1/stage")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Errorf("session in context = %+v, want %+v", got, want)
	}
}

func TestSessionMiddleware_Anonymous(t *testing.T) {
	got, err := serve(t, SessionMiddleware(stubLoader{}, zerolog.Nop()), "/api/v1/stage")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected no session, got %+v", got)
	}
}

func TestSessionMiddleware_Expired(t *testing.T) {
	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	mw := sessionMiddleware(stubLoader{sess: &Session{Token: "t", ExpiresAt: &past}}, zerolog.Nop(),
		func() time.Time { return past.Add(time.Hour) })

	_, err := serve(t, mw, "/api/v1/stage")
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestSessionMiddleware_LoadError(t *testing.T) {
	_, err := serve(t, SessionMiddleware(stubLoader{err: errors.New("disk gone")}, zerolog.Nop()), "/api/v1/stage")
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %v", err)
	}
}

func TestSessionMiddleware_PublicPathSkipsLoad(t *testing.T) {
	// A failing loader must not be consulted for public routes.
	_, err := serve(t, SessionMiddleware(stubLoader{err: errors.New("disk gone")}, zerolog.Nop()), "/health")
	if err != nil {
		t.Fatalf("public path should bypass session loading, got %v", err)
	}
}

func TestIsPublicPath(t *testing.T) {
	for _, p := range []string{"/health", "/metrics", "/api/v1/login"} {
		if !IsPublicPath(p) {
			t.Errorf("%s should be public", p)
		}
	}
	if IsPublicPath("/api/v1/reminder") {
		t.Error("/api/v1/reminder should not be public")
	}
}
