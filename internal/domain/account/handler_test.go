package account

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/uioyp/companion/internal/platform/apiclient"
	"github.com/uioyp/companion/internal/platform/auth"
)

func TestHandler_Login(t *testing.T) {
	remote := &fakeRemote{result: &apiclient.LoginResult{
		Token:    signedToken(t, jwt.MapClaims{"id_us": 5}),
		Role:     intPtr(2),
		Username: "dra.lopez",
	}}
	svc, _ := newTestService(remote, &fakeEnsurer{}, Config{})
	h := NewHandler(svc)
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/login", strings.NewReader(`{"nombre_us":"dra.lopez"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Login(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	svc.Wait()
	var res Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Destination != auth.DestinationSpecialist || res.UserID != 5 || res.Username != "dra.lopez" {
		t.Errorf("result = %+v", res)
	}
}

func TestHandler_Login_Errors(t *testing.T) {
	tests := []struct {
		name   string
		remote *fakeRemote
		body   string
		want   int
	}{
		{"blank username", &fakeRemote{}, `{"nombre_us":""}`, http.StatusBadRequest},
		{"rejected", &fakeRemote{err: &apiclient.APIError{Status: 401, Message: "Usuario no encontrado"}}, `{"nombre_us":"x"}`, http.StatusUnauthorized},
		{"bad response", &fakeRemote{result: &apiclient.LoginResult{}}, `{"nombre_us":"x"}`, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(tt.remote, &fakeEnsurer{}, Config{})
			h := NewHandler(svc)
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			c := echo.New().NewContext(req, httptest.NewRecorder())

			err := h.Login(c)
			if he, ok := err.(*echo.HTTPError); !ok || he.Code != tt.want {
				t.Errorf("err = %v, want %d", err, tt.want)
			}
		})
	}
}

func TestHandler_Me(t *testing.T) {
	svc, _ := newTestService(&fakeRemote{}, nil, Config{})
	h := NewHandler(svc)
	e := echo.New()

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	if he, ok := h.Me(c).(*echo.HTTPError); !ok || he.Code != http.StatusUnauthorized {
		t.Error("expected 401 without session")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(auth.WithSession(context.Background(), &auth.Session{UserID: 4, Role: auth.RolePatient}))
	rec := httptest.NewRecorder()
	if err := h.Me(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"destination":"`+auth.DestinationPatient+`"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}
