package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func ctxWithRole(req *http.Request, role string) *http.Request {
	ctx := context.WithValue(req.Context(), UserRoleKey, role)
	return req.WithContext(ctx)
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name     string
		role     string
		required []string
		allowed  bool
	}{
		{"exact match", "doctor", []string{"doctor"}, true},
		{"one of several", "patient", []string{"doctor", "patient"}, true},
		{"facility_admin bypasses", "facility_admin", []string{"doctor"}, true},
		{"mismatch", "patient", []string{"doctor"}, false},
		{"no role", "", []string{"doctor"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = ctxWithRole(req, tt.role)
			c := e.NewContext(req, httptest.NewRecorder())

			called := false
			err := RequireRole(tt.required...)(func(c echo.Context) error {
				called = true
				return nil
			})(c)

			if tt.allowed {
				if err != nil || !called {
					t.Errorf("expected access, got err=%v called=%v", err, called)
				}
				return
			}
			httpErr, ok := err.(*echo.HTTPError)
			if !ok || httpErr.Code != http.StatusForbidden {
				t.Errorf("expected 403, got %v", err)
			}
			if called {
				t.Error("handler should not be called")
			}
		})
	}
}
