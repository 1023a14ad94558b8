package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func validClaims() Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "qeditor",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: []string{RoleEditor},
	}
}

func runJWT(t *testing.T, cfg JWTConfig, header string) (echo.Context, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/questionnaires", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	c := e.NewContext(req, httptest.NewRecorder())
	var seen echo.Context
	err := JWTMiddleware(cfg)(func(c echo.Context) error {
		seen = c
		return c.NoContent(http.StatusOK)
	})(c)
	return seen, err
}

func expectStatus(t *testing.T, err error, status int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != status {
		t.Errorf("expected %d, got %d", status, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, err := runJWT(t, JWTConfig{SigningKey: testSigningKey}, "")
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runJWT(t, JWTConfig{SigningKey: testSigningKey}, tt.header)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	token := createTestToken(t, validClaims(), testSigningKey)
	c, err := runJWT(t, JWTConfig{SigningKey: testSigningKey, Issuer: "qeditor"}, "Bearer "+token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := c.Request().Context()
	if UserIDFromContext(ctx) != "user-1" {
		t.Errorf("expected user-1, got %q", UserIDFromContext(ctx))
	}
	if roles := RolesFromContext(ctx); len(roles) != 1 || roles[0] != RoleEditor {
		t.Errorf("unexpected roles %v", roles)
	}
}

func TestJWTMiddleware_RejectsBadTokens(t *testing.T) {
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	wrongIssuer := validClaims()
	wrongIssuer.Issuer = "someone-else"

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, validClaims()).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"wrong key", createTestToken(t, validClaims(), []byte("other-key"))},
		{"expired", createTestToken(t, expired, testSigningKey)},
		{"wrong issuer", createTestToken(t, wrongIssuer, testSigningKey)},
		{"unsigned", none},
		{"garbage", "not.a.token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runJWT(t, JWTConfig{SigningKey: testSigningKey, Issuer: "qeditor"}, "Bearer "+tt.token)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_Skipper(t *testing.T) {
	cfg := JWTConfig{SigningKey: testSigningKey, Skipper: func(echo.Context) bool { return true }}
	if _, err := runJWT(t, cfg, ""); err != nil {
		t.Errorf("skipped request should pass, got %v", err)
	}
}

func TestDevAuthMiddleware(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	err := DevAuthMiddleware()(func(c echo.Context) error {
		if roles := RolesFromContext(c.Request().Context()); len(roles) != 1 || roles[0] != RoleAdmin {
			t.Errorf("expected admin role, got %v", roles)
		}
		return nil
	})(c)
	if err != nil {
		t.Fatal(err)
	}
}
