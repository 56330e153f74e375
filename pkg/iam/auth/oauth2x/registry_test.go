package oauth2x_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"testing"
	"time"

	"github.com/Abraxas-365/warden/pkg/config"
	"github.com/Abraxas-365/warden/pkg/errx"
	"github.com/Abraxas-365/warden/pkg/iam/auth"
	"github.com/Abraxas-365/warden/pkg/iam/auth/oauth2x"
	"golang.org/x/oauth2"
)

func provider(id string, enabled bool) config.OAuth2ProviderConfig {
	return config.OAuth2ProviderConfig{
		ID:              id,
		Enabled:         enabled,
		ClientID:        id + "-client",
		ClientSecret:    "s3cret",
		RedirectBaseURL: "https://warden.example.com/",
		TokenTTL:        time.Hour,
	}
}

func TestDisabledProviderIsNeverListed(t *testing.T) {
	r, err := oauth2x.NewRegistry(config.OAuth2Config{
		Google: config.OAuth2ProviderConfig{Enabled: false, ClientID: "ignored"},
		GitHub: provider("", true),
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	if got := r.ListEnabled(); !slices.Equal(got, []string{"github"}) {
		t.Fatalf("enabled = %v", got)
	}
	if _, err := r.Resolve("google"); !auth.IsSchemeNotFound(err) {
		t.Fatalf("expected scheme not found for disabled google, got %v", err)
	}
	c, err := r.Resolve("github")
	if err != nil || c.TokenTTL() != time.Hour {
		t.Fatalf("resolve github: %v %v", c, err)
	}
}

func TestEnabledProviderNeedsCredentials(t *testing.T) {
	p := provider("google", true)
	p.ClientSecret = ""

	_, err := oauth2x.NewRegistryFrom([]config.OAuth2ProviderConfig{p})
	if !config.IsConfigError(err) {
		t.Fatalf("expected config error, got %v", err)
	}
	e, _ := errx.As(err)
	if e.Detail("provider") != "google" || e.Detail("field") != "AUTH_OAUTH2_GOOGLE_CLIENT_SECRET" {
		t.Fatalf("unexpected details %v", e.Details)
	}
}

func TestUnknownProvider(t *testing.T) {
	_, err := oauth2x.NewRegistryFrom([]config.OAuth2ProviderConfig{provider("myspace", true)})
	if !errx.IsCode(err, oauth2x.CodeUnknownProvider) {
		t.Fatalf("expected unknown provider, got %v", err)
	}
	if oauth2x.Known("myspace") || !oauth2x.Known("reddit") {
		t.Fatal("catalog lookup is off")
	}
}

func TestAuthCodeURL(t *testing.T) {
	r, _ := oauth2x.NewRegistryFrom([]config.OAuth2ProviderConfig{provider("discord", true)})
	c, _ := r.Resolve("discord")

	u, err := url.Parse(c.AuthCodeURL("xyz"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()
	if u.Host != "discord.com" || q.Get("state") != "xyz" || q.Get("client_id") != "discord-client" {
		t.Fatalf("unexpected url %s", u)
	}
	if q.Get("redirect_uri") != "https://warden.example.com/auth/oauth2-redirect/discord" {
		t.Fatalf("redirect_uri = %q", q.Get("redirect_uri"))
	}
	if q.Get("scope") != "identify email" {
		t.Fatalf("scope = %q", q.Get("scope"))
	}
}

// upstream fakes a provider's token and profile endpoints.
func upstream(t *testing.T, profileStatus int, profile string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.Form.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"upstream-token","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer upstream-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(profileStatus)
		w.Write([]byte(profile))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func clientFor(t *testing.T, srv *httptest.Server) auth.OAuth2Client {
	t.Helper()
	p := provider("github", true)
	p.TokenURL = srv.URL + "/token"
	p.ProfileURL = srv.URL + "/me"

	r, err := oauth2x.NewRegistryFrom([]config.OAuth2ProviderConfig{p}, oauth2x.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	c, _ := r.Resolve("github")
	return c
}

func TestExchangeAndProfile(t *testing.T) {
	ctx := context.Background()
	srv := upstream(t, http.StatusOK, `{"id": 583231, "login": "octocat", "email": "Octo@Example.com "}`)
	c := clientFor(t, srv)

	tok, err := c.Exchange(ctx, "good-code")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	profile, err := c.FetchProfile(ctx, tok)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.Subject != "583231" || profile.Email != "Octo@Example.com" {
		t.Fatalf("unexpected profile %+v", profile)
	}
}

func TestExchangeFailure(t *testing.T) {
	c := clientFor(t, upstream(t, http.StatusOK, `{}`))
	if _, err := c.Exchange(context.Background(), "bad-code"); !errx.IsCode(err, oauth2x.CodeExchangeFailed) {
		t.Fatalf("expected exchange failure, got %v", err)
	}
}

func TestProfileFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		code   *errx.ErrorCode
	}{
		{"upstream error", http.StatusInternalServerError, `{"message":"boom"}`, oauth2x.CodeProfileFailed},
		{"not json", http.StatusOK, `<html>`, oauth2x.CodeProfileInvalid},
		{"no subject", http.StatusOK, `{"login":"octocat"}`, oauth2x.CodeProfileInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			c := clientFor(t, upstream(t, tc.status, tc.body))
			tok, err := c.Exchange(ctx, "good-code")
			if err != nil {
				t.Fatalf("exchange: %v", err)
			}
			if _, err := c.FetchProfile(ctx, tok); !errx.IsCode(err, tc.code) {
				t.Fatalf("expected %s, got %v", tc.code.Code, err)
			}
		})
	}
}

// stalled fakes an upstream whose endpoints never answer until the test ends.
func stalled(t *testing.T) *httptest.Server {
	t.Helper()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	return srv
}

func TestSlowProviderHitsHTTPTimeout(t *testing.T) {
	srv := stalled(t)
	p := provider("", true)
	p.TokenURL = srv.URL + "/token"
	p.ProfileURL = srv.URL + "/me"

	r, err := oauth2x.NewRegistry(config.OAuth2Config{GitHub: p, HTTPTimeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	c, _ := r.Resolve("github")
	ctx := context.Background()

	start := time.Now()
	if _, err := c.Exchange(ctx, "good-code"); !errx.IsCode(err, oauth2x.CodeExchangeFailed) {
		t.Fatalf("expected exchange failure, got %v", err)
	}
	if took := time.Since(start); took > 2*time.Second {
		t.Fatalf("exchange waited %v on a stalled provider", took)
	}

	start = time.Now()
	_, err = c.FetchProfile(ctx, &oauth2.Token{AccessToken: "upstream-token", TokenType: "Bearer"})
	if !errx.IsCode(err, oauth2x.CodeProfileFailed) {
		t.Fatalf("expected profile failure, got %v", err)
	}
	if took := time.Since(start); took > 2*time.Second {
		t.Fatalf("profile fetch waited %v on a stalled provider", took)
	}
}
