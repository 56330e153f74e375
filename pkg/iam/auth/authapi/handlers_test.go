package authapi_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Abraxas-365/warden/pkg/errx"
	"github.com/Abraxas-365/warden/pkg/iam/auth"
	"github.com/Abraxas-365/warden/pkg/iam/auth/authapi"
	"github.com/Abraxas-365/warden/pkg/iam/session/sessioninfra"
	"github.com/Abraxas-365/warden/pkg/iam/session/sessionsrv"
	"github.com/Abraxas-365/warden/pkg/iam/user"
	"github.com/Abraxas-365/warden/pkg/iam/user/userinfra"
	"github.com/Abraxas-365/warden/pkg/iam/user/usersrv"
	"github.com/gofiber/fiber/v2"
)

const cookieName = "warden_session"

type plainCrypto struct{}

func (plainCrypto) Hash(p string) (string, error)      { return "plain:" + p, nil }
func (plainCrypto) Verify(enc, p string) (bool, error) { return enc == "plain:"+p, nil }
func (plainCrypto) DummyVerify(string)                 {}

func newApp(t *testing.T) *fiber.App {
	t.Helper()
	users := usersrv.NewUserService(userinfra.NewMemoryRepository(), plainCrypto{},
		user.UsernamePolicy{Min: 3, Max: 32})
	if _, err := users.Register(context.Background(), usersrv.RegisterInput{
		Username: "alice",
		Password: "correct horse",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	resolver := auth.NewResolver(
		auth.NewLocalCookieScheme(time.Hour, users, plainCrypto{}),
		auth.NewLocalTokenScheme(30*time.Minute, users, plainCrypto{}),
	)
	manager := sessionsrv.NewManager(sessioninfra.NewMemoryRepository())
	svc := auth.NewService(resolver, manager, users, auth.NewJWTService("0123456789abcdef0123456789abcdef", "warden"))

	app := fiber.New(fiber.Config{ErrorHandler: errx.FiberHandler})
	authapi.NewAuthHandlers(svc, authapi.CookieConfig{Name: cookieName}).
		RegisterRoutes(app, auth.NewAuthMiddleware(svc, cookieName))
	return app
}

func do(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	body, _ := io.ReadAll(resp.Body)
	return resp, body
}

func post(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func login(t *testing.T, app *fiber.App) string {
	t.Helper()
	resp, body := do(t, app, post("/auth/local-token/complete", `{"login":"alice","password":"correct horse"}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %s", resp.StatusCode, body)
	}
	var out authapi.LoginResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.TokenType != "Bearer" || out.AccessToken == "" {
		t.Fatalf("unexpected login response %s", body)
	}
	return out.AccessToken
}

func TestListSchemes(t *testing.T) {
	app := newApp(t)
	resp, body := do(t, app, httptest.NewRequest(http.MethodGet, "/auth/schemes", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}

	var out struct {
		Schemes []authapi.SchemeResponse `json:"schemes"`
	}
	json.Unmarshal(body, &out)
	if len(out.Schemes) != 2 || out.Schemes[0].ID != "local-cookie" || out.Schemes[1].ID != "local-token" {
		t.Fatalf("unexpected schemes %s", body)
	}
	if out.Schemes[1].Credential != "bearer" || out.Schemes[1].TTLSeconds != 1800 {
		t.Fatalf("unexpected token scheme %+v", out.Schemes[1])
	}
}

func TestBeginLocal(t *testing.T) {
	app := newApp(t)
	resp, body := do(t, app, post("/auth/local-cookie/begin", ""))
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"fields":["login","password"]`) {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}

	resp, body = do(t, app, post("/auth/oauth2:google/begin", `{}`))
	if resp.StatusCode != http.StatusNotFound || !strings.Contains(string(body), "AUTH_SCHEME_NOT_FOUND") {
		t.Fatalf("expected 404 scheme not found, got %d: %s", resp.StatusCode, body)
	}
}

func TestCookieLoginSetsCookie(t *testing.T) {
	app := newApp(t)
	resp, body := do(t, app, post("/auth/local-cookie/complete", `{"login":"alice","password":"correct horse"}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	if strings.Contains(string(body), "access_token") {
		t.Fatalf("cookie login must not return a token: %s", body)
	}

	var session *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == cookieName {
			session = c
		}
	}
	if session == nil || session.Value == "" || !session.HttpOnly {
		t.Fatalf("missing session cookie, got %v", resp.Cookies())
	}

	me := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	me.AddCookie(&http.Cookie{Name: cookieName, Value: session.Value})
	resp, body = do(t, app, me)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"username":"alice"`) {
		t.Fatalf("me: %d %s", resp.StatusCode, body)
	}

	out := post("/auth/logout", "")
	out.AddCookie(&http.Cookie{Name: cookieName, Value: session.Value})
	if resp, _ := do(t, app, out); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status %d", resp.StatusCode)
	}

	me = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	me.AddCookie(&http.Cookie{Name: cookieName, Value: session.Value})
	if resp, _ := do(t, app, me); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", resp.StatusCode)
	}
}

func TestWrongPassword(t *testing.T) {
	app := newApp(t)
	resp, body := do(t, app, post("/auth/local-token/complete", `{"login":"alice","password":"nope"}`))
	if resp.StatusCode != http.StatusUnauthorized || !strings.Contains(string(body), "AUTH_INVALID_CREDENTIAL") {
		t.Fatalf("expected 401 invalid credential, got %d: %s", resp.StatusCode, body)
	}
	if strings.Contains(string(body), "nope") {
		t.Fatal("response echoes the password")
	}
}

func TestValidateIsABoolean(t *testing.T) {
	app := newApp(t)
	token := login(t, app)

	check := func(body string) bool {
		t.Helper()
		resp, raw := do(t, app, post("/auth/validate", body))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("validate status %d", resp.StatusCode)
		}
		var out map[string]any
		if err := json.Unmarshal(raw, &out); err != nil || len(out) != 1 {
			t.Fatalf("validate must return exactly one field, got %s", raw)
		}
		return out["is_valid"].(bool)
	}

	if !check(`{"token":"` + token + `"}`) {
		t.Fatal("expected valid")
	}
	if check(`{"token":"garbage"}`) || check(`{}`) || check(`not json`) {
		t.Fatal("expected invalid")
	}

	logout := post("/auth/logout", "")
	logout.Header.Set("Authorization", "Bearer "+token)
	if resp, _ := do(t, app, logout); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status %d", resp.StatusCode)
	}
	if check(`{"token":"` + token + `"}`) {
		t.Fatal("expected invalid after logout")
	}
}

func TestLogoutWithoutCredential(t *testing.T) {
	app := newApp(t)
	resp, body := do(t, app, post("/auth/logout", ""))
	if resp.StatusCode != http.StatusUnauthorized || !strings.Contains(string(body), "AUTH_TOKEN_INVALID") {
		t.Fatalf("expected 401, got %d: %s", resp.StatusCode, body)
	}
}

func TestRenewIssuesFreshCredential(t *testing.T) {
	app := newApp(t)
	token := login(t, app)

	req := post("/auth/renew", "")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, body := do(t, app, req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("renew status %d: %s", resp.StatusCode, body)
	}
	var out authapi.LoginResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.TokenType != "Bearer" || out.AccessToken == "" || out.Scheme != "local-token" {
		t.Fatalf("unexpected renew response %s", body)
	}

	check := post("/auth/validate", `{"token":"`+out.AccessToken+`"}`)
	if _, raw := do(t, app, check); !strings.Contains(string(raw), `"is_valid":true`) {
		t.Fatalf("renewed token is not valid: %s", raw)
	}

	resp, body = do(t, app, post("/auth/renew", ""))
	if resp.StatusCode != http.StatusUnauthorized || !strings.Contains(string(body), "AUTH_TOKEN_INVALID") {
		t.Fatalf("expected 401 without a credential, got %d: %s", resp.StatusCode, body)
	}
}

func TestSessionsListsCallerSessions(t *testing.T) {
	app := newApp(t)
	first := login(t, app)
	login(t, app)

	req := httptest.NewRequest(http.MethodGet, "/auth/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+first)
	resp, body := do(t, app, req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sessions status %d: %s", resp.StatusCode, body)
	}
	var out struct {
		Sessions []authapi.SessionResponse `json:"sessions"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %s", body)
	}
	current := 0
	for _, s := range out.Sessions {
		if s.Current {
			current++
		}
		if s.Scheme != "local-token" || !strings.HasSuffix(s.Fingerprint, "...") {
			t.Fatalf("unexpected session %+v", s)
		}
	}
	if current != 1 {
		t.Fatalf("expected one current session, got %d", current)
	}

	resp, _ = do(t, app, httptest.NewRequest(http.MethodGet, "/auth/sessions", nil))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a credential, got %d", resp.StatusCode)
	}
}
