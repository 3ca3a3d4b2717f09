package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

func TestUserFromContext(t *testing.T) {
	ctx := context.Background()
	if _, err := UserFromContext(ctx); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("empty context error = %v, want ErrUnauthenticated", err)
	}

	ctx = WithUser(ctx, User{ID: "u1", Name: "Asha"})
	user, err := UserFromContext(ctx)
	if err != nil {
		t.Fatalf("UserFromContext: %v", err)
	}
	if user.ID != "u1" || user.Name != "Asha" {
		t.Fatalf("got user %+v", user)
	}
}

func signToken(t *testing.T, key []byte, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func callWithMiddleware(mw echo.MiddlewareFunc, authHeader string) (int, User) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen User
	handler := mw(func(c echo.Context) error {
		seen, _ = UserFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec.Code, seen
}

func TestJWTMiddleware(t *testing.T) {
	key := []byte("test-secret")
	mw := JWTMiddleware(JWTConfig{SigningKey: key})

	token := signToken(t, key, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "clin-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Name:  "Asha Rao",
		Roles: []string{"clinician"},
	})

	code, user := callWithMiddleware(mw, "Bearer "+token)
	if code != http.StatusOK {
		t.Fatalf("valid token status = %d", code)
	}
	if user.ID != "clin-1" || user.Name != "Asha Rao" {
		t.Fatalf("context user = %+v", user)
	}

	if code, _ := callWithMiddleware(mw, ""); code != http.StatusUnauthorized {
		t.Fatalf("missing header status = %d, want 401", code)
	}
	if code, _ := callWithMiddleware(mw, "Bearer not-a-token"); code != http.StatusUnauthorized {
		t.Fatalf("garbage token status = %d, want 401", code)
	}

	wrong := signToken(t, []byte("other-secret"), Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "clin-1"},
	})
	if code, _ := callWithMiddleware(mw, "Bearer "+wrong); code != http.StatusUnauthorized {
		t.Fatalf("wrong key status = %d, want 401", code)
	}
}

func TestDevAuthMiddlewareSetsDefaultUser(t *testing.T) {
	code, user := callWithMiddleware(DevAuthMiddleware(), "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if user.ID != "dev-user" {
		t.Fatalf("dev user = %+v", user)
	}
}

func TestRequireRole(t *testing.T) {
	run := func(user *User, roles ...string) int {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if user != nil {
			req = req.WithContext(WithUser(req.Context(), *user))
		}
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		handler := RequireRole(roles...)(func(c echo.Context) error {
			return c.NoContent(http.StatusOK)
		})
		if err := handler(c); err != nil {
			e.HTTPErrorHandler(err, c)
		}
		return rec.Code
	}

	if code := run(&User{ID: "u1", Roles: []string{"clinician"}}, "clinician"); code != http.StatusOK {
		t.Fatalf("matching role status = %d", code)
	}
	if code := run(&User{ID: "u1", Roles: []string{"admin"}}, "clinician"); code != http.StatusOK {
		t.Fatalf("admin bypass status = %d", code)
	}
	if code := run(&User{ID: "u1", Roles: []string{"viewer"}}, "clinician"); code != http.StatusForbidden {
		t.Fatalf("wrong role status = %d, want 403", code)
	}
	if code := run(nil, "clinician"); code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", code)
	}
}
