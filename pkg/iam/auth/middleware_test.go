package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Abraxas-365/warden/pkg/iam/auth"
	"github.com/Abraxas-365/warden/pkg/iam/user"
	"github.com/Abraxas-365/warden/pkg/ptrx"
	"github.com/gofiber/fiber/v2"
)

func newProtectedApp(f *fixture) *fiber.App {
	mw := auth.NewAuthMiddleware(f.svc, "warden_session")
	app := fiber.New()
	app.Get("/me", mw.Authenticate(), func(c *fiber.Ctx) error {
		return c.SendString(auth.PrincipalFrom(c).Username)
	})
	app.Get("/admin", mw.Authenticate(), mw.RequireAdmin(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app
}

func TestMiddlewareAuthenticates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "alice", "correct horse")
	app := newProtectedApp(f)

	token, _ := f.svc.Login(ctx, auth.SchemeLocalToken, auth.Proof{Login: "alice", Password: "correct horse"}, auth.RequestMeta{})
	cookie, _ := f.svc.Login(ctx, auth.SchemeLocalCookie, auth.Proof{Login: "alice", Password: "correct horse"}, auth.RequestMeta{})

	cases := []struct {
		name   string
		setup  func(r *http.Request)
		status int
	}{
		{"no credential", func(*http.Request) {}, fiber.StatusUnauthorized},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token.Credential) }, fiber.StatusOK},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "warden_session", Value: cookie.Credential}) }, fiber.StatusOK},
		{"garbage bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, fiber.StatusUnauthorized},
		{"cookie value as bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+cookie.Credential) }, fiber.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			tc.setup(req)
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			if resp.StatusCode != tc.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.status)
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.register(t, "alice", "correct horse")
	app := newProtectedApp(f)

	login := func() string {
		res, err := f.svc.Login(ctx, auth.SchemeLocalToken, auth.Proof{Login: "alice", Password: "correct horse"}, auth.RequestMeta{})
		if err != nil {
			t.Fatalf("login: %v", err)
		}
		return res.Credential
	}
	call := func(token string) int {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		return resp.StatusCode
	}

	if status := call(login()); status != fiber.StatusForbidden {
		t.Fatalf("user status = %d, want 403", status)
	}

	f.userRepo.Update(ctx, alice.ID, user.Patch{Role: ptrx.To(user.RoleAdmin)})
	if status := call(login()); status != fiber.StatusNoContent {
		t.Fatalf("admin status = %d, want 204", status)
	}
}
