package auth_test

import (
	"slices"
	"testing"
	"time"

	"github.com/Abraxas-365/warden/pkg/config"
	"github.com/Abraxas-365/warden/pkg/iam/auth"
)

func ids(schemes []auth.Scheme) []string {
	out := make([]string, len(schemes))
	for i, s := range schemes {
		out[i] = s.ID()
	}
	return out
}

func TestResolverOrder(t *testing.T) {
	crypto := &plainCrypto{}
	states := auth.NewMemoryStateStore()
	r := auth.NewResolver(
		auth.NewOAuth2Scheme(&fakeClient{id: "reddit"}, states, time.Minute, nil),
		auth.NewLocalTokenScheme(time.Minute, nil, crypto),
		auth.NewOAuth2Scheme(&fakeClient{id: "discord"}, states, time.Minute, nil),
		auth.NewLocalCookieScheme(time.Minute, nil, crypto),
	)

	want := []string{"local-cookie", "local-token", "oauth2:discord", "oauth2:reddit"}
	if got := ids(r.ListAvailable()); !slices.Equal(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}

	s, err := r.Resolve("oauth2:discord")
	if err != nil || s.Credential() != auth.CredentialBearer {
		t.Fatalf("resolve: %v %v", s, err)
	}
	if _, err := r.Resolve("oauth2:google"); !auth.IsSchemeNotFound(err) {
		t.Fatalf("expected scheme not found, got %v", err)
	}
}

func TestBuildResolverHonorsFlags(t *testing.T) {
	providers := fakeRegistry{"google": &fakeClient{id: "google"}}

	cases := []struct {
		name  string
		local config.LocalAuthConfig
		want  []string
	}{
		{
			name:  "all local",
			local: config.LocalAuthConfig{Enabled: true, CookieEnabled: true, TokenEnabled: true, CookieTTL: time.Hour, TokenTTL: time.Hour},
			want:  []string{"local-cookie", "local-token", "oauth2:google"},
		},
		{
			name:  "token only",
			local: config.LocalAuthConfig{Enabled: true, TokenEnabled: true, TokenTTL: time.Hour},
			want:  []string{"local-token", "oauth2:google"},
		},
		{
			name:  "master switch off",
			local: config.LocalAuthConfig{Enabled: false, CookieEnabled: true, TokenEnabled: true},
			want:  []string{"oauth2:google"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.AuthConfig{Local: tc.local, OAuth2: config.OAuth2Config{StateTTL: time.Minute}}
			r, err := auth.BuildResolver(cfg, auth.ResolverDeps{
				Verifier:  &plainCrypto{},
				Providers: providers,
				States:    auth.NewMemoryStateStore(),
			})
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			if got := ids(r.ListAvailable()); !slices.Equal(got, tc.want) {
				t.Fatalf("schemes = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSchemeTTLs(t *testing.T) {
	f := newFixture(t, &fakeClient{id: "github"})
	r := f.svc.Resolver()

	for id, want := range map[string]time.Duration{
		"local-cookie":  24 * time.Hour,
		"local-token":   30 * time.Minute,
		"oauth2:github": time.Hour,
	} {
		s, err := r.Resolve(id)
		if err != nil {
			t.Fatalf("resolve %s: %v", id, err)
		}
		if s.TTL() != want {
			t.Errorf("%s ttl = %v, want %v", id, s.TTL(), want)
		}
	}
}

func TestProviderOf(t *testing.T) {
	if p, ok := auth.ProviderOf("oauth2:github"); !ok || p != "github" {
		t.Fatalf("ProviderOf = %q %v", p, ok)
	}
	for _, id := range []string{"local-token", "oauth2:", "github"} {
		if _, ok := auth.ProviderOf(id); ok {
			t.Errorf("%q should not name a provider", id)
		}
	}
}
