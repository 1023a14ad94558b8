package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextWithRoles(method string, roles ...string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(method, "/", nil)
	req = req.WithContext(WithUser(context.Background(), "u", roles))
	return e.NewContext(req, httptest.NewRecorder())
}

func ok(c echo.Context) error { return c.NoContent(http.StatusOK) }

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name  string
		roles []string
		allow bool
	}{
		{"matching role", []string{RoleEditor}, true},
		{"admin passes", []string{RoleAdmin}, true},
		{"other role", []string{RoleViewer}, false},
		{"no roles", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := RequireRole(RoleEditor)(ok)(contextWithRoles(http.MethodGet, tt.roles...))
			if tt.allow && err != nil {
				t.Errorf("expected pass, got %v", err)
			}
			if !tt.allow {
				expectStatus(t, err, http.StatusForbidden)
			}
		})
	}
}

func TestRequireMethodRole(t *testing.T) {
	mw := RequireMethodRole([]string{RoleViewer, RoleEditor}, []string{RoleEditor})
	tests := []struct {
		method string
		role   string
		allow  bool
	}{
		{http.MethodGet, RoleViewer, true},
		{http.MethodHead, RoleViewer, true},
		{http.MethodPost, RoleViewer, false},
		{http.MethodDelete, RoleViewer, false},
		{http.MethodPost, RoleEditor, true},
		{http.MethodDelete, RoleAdmin, true},
	}
	for _, tt := range tests {
		err := mw(ok)(contextWithRoles(tt.method, tt.role))
		if tt.allow && err != nil {
			t.Errorf("%s as %s: expected pass, got %v", tt.method, tt.role, err)
		}
		if !tt.allow && err == nil {
			t.Errorf("%s as %s: expected 403", tt.method, tt.role)
		}
	}
}
