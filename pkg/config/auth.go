package config

import (
	"net/url"
	"strings"
	"time"
)

const namespaceAuth = "AUTH"

// AuthConfig covers the local schemes, token signing and OAuth2 providers.
type AuthConfig struct {
	JWTSecret Secret `env:"JWT_SECRET"`

	Local  LocalAuthConfig `envPrefix:"LOCAL_"`
	OAuth2 OAuth2Config    `envPrefix:"OAUTH2_"`
}

type LocalAuthConfig struct {
	Enabled bool `env:"ENABLED" envDefault:"true"`

	CookieEnabled bool          `env:"COOKIE_ENABLED" envDefault:"true"`
	CookieName    string        `env:"COOKIE_NAME" envDefault:"warden_session"`
	CookieTTL     time.Duration `env:"COOKIE_TTL" envDefault:"24h"`
	CookieSecure  bool          `env:"COOKIE_SECURE" envDefault:"true"`

	TokenEnabled bool          `env:"TOKEN_ENABLED" envDefault:"true"`
	TokenTTL     time.Duration `env:"TOKEN_TTL" envDefault:"30m"`
}

// CookieSchemeEnabled and TokenSchemeEnabled fold in the master switch.
func (l LocalAuthConfig) CookieSchemeEnabled() bool { return l.Enabled && l.CookieEnabled }
func (l LocalAuthConfig) TokenSchemeEnabled() bool  { return l.Enabled && l.TokenEnabled }

// OAuth2Config lists the known providers. A provider whose ENABLED flag is
// false never gets a client.
type OAuth2Config struct {
	StateStore string        `env:"STATE_STORE" envDefault:"memory"`
	StateTTL   time.Duration `env:"STATE_TTL" envDefault:"10m"`
	StateRedis RedisConfig   `envPrefix:"STATE_REDIS_"`

	// HTTPTimeout bounds each token and profile request to a provider.
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"10s"`

	Google    OAuth2ProviderConfig `envPrefix:"GOOGLE_"`
	GitHub    OAuth2ProviderConfig `envPrefix:"GITHUB_"`
	Facebook  OAuth2ProviderConfig `envPrefix:"FACEBOOK_"`
	Discord   OAuth2ProviderConfig `envPrefix:"DISCORD_"`
	Microsoft OAuth2ProviderConfig `envPrefix:"MICROSOFT_"`
	LinkedIn  OAuth2ProviderConfig `envPrefix:"LINKEDIN_"`
	Reddit    OAuth2ProviderConfig `envPrefix:"REDDIT_"`
}

type OAuth2ProviderConfig struct {
	// ID is filled in by Providers, not read from the environment.
	ID string

	Enabled         bool          `env:"ENABLED" envDefault:"false"`
	ClientID        string        `env:"CLIENT_ID"`
	ClientSecret    Secret        `env:"CLIENT_SECRET"`
	RedirectBaseURL string        `env:"REDIRECT_BASE_URL"`
	Scopes          []string      `env:"SCOPES" envSeparator:","`
	TokenTTL        time.Duration `env:"TOKEN_TTL" envDefault:"1h"`

	// Endpoint overrides, mostly for self-hosted or test upstreams.
	AuthURL    string `env:"AUTH_URL"`
	TokenURL   string `env:"TOKEN_URL"`
	ProfileURL string `env:"PROFILE_URL"`
}

// Providers returns every provider entry with its id set, in a fixed order.
// Disabled entries are included; filtering is the registry's job.
func (o OAuth2Config) Providers() []OAuth2ProviderConfig {
	entries := []struct {
		id  string
		cfg OAuth2ProviderConfig
	}{
		{"discord", o.Discord},
		{"facebook", o.Facebook},
		{"github", o.GitHub},
		{"google", o.Google},
		{"linkedin", o.LinkedIn},
		{"microsoft", o.Microsoft},
		{"reddit", o.Reddit},
	}
	out := make([]OAuth2ProviderConfig, 0, len(entries))
	for _, e := range entries {
		e.cfg.ID = e.id
		out = append(out, e.cfg)
	}
	return out
}

// AnyProviderEnabled reports whether at least one OAuth2 entry is enabled.
func (o OAuth2Config) AnyProviderEnabled() bool {
	for _, p := range o.Providers() {
		if p.Enabled {
			return true
		}
	}
	return false
}

func (a AuthConfig) Validate() error {
	ns := namespaceAuth

	if a.Local.Enabled {
		if a.Local.CookieEnabled {
			if a.Local.CookieName == "" {
				return missing(ns, "AUTH_LOCAL_COOKIE_NAME")
			}
			if a.Local.CookieTTL <= 0 {
				return missing(ns, "AUTH_LOCAL_COOKIE_TTL")
			}
		}
		if a.Local.TokenEnabled && a.Local.TokenTTL <= 0 {
			return missing(ns, "AUTH_LOCAL_TOKEN_TTL")
		}
	}

	bearer := a.Local.TokenSchemeEnabled() || a.OAuth2.AnyProviderEnabled()
	if bearer && a.JWTSecret.IsEmpty() {
		return missing(ns, "AUTH_JWT_SECRET")
	}
	if bearer && len(a.JWTSecret) < 32 {
		return invalid(ns, "AUTH_JWT_SECRET", "must be at least 32 bytes")
	}

	if !a.OAuth2.AnyProviderEnabled() {
		return nil
	}
	if a.OAuth2.StateTTL <= 0 {
		return invalid(ns, "AUTH_OAUTH2_STATE_TTL", "must be positive")
	}
	if a.OAuth2.HTTPTimeout <= 0 {
		return invalid(ns, "AUTH_OAUTH2_HTTP_TIMEOUT", "must be positive")
	}
	switch a.OAuth2.StateStore {
	case BackendMemory:
	case BackendRedis:
		if err := a.OAuth2.StateRedis.validate(ns, "AUTH_OAUTH2_STATE_REDIS_"); err != nil {
			return err
		}
	default:
		return invalid(ns, "AUTH_OAUTH2_STATE_STORE", "must be one of memory, redis")
	}
	return nil
}

// ValidateProvider checks the fields an enabled provider cannot run without.
// The returned error names the provider and the missing field.
func ValidateProvider(p OAuth2ProviderConfig) error {
	ns := namespaceAuth
	prefix := "AUTH_OAUTH2_" + strings.ToUpper(p.ID) + "_"
	switch {
	case p.ClientID == "":
		return missing(ns, prefix+"CLIENT_ID").WithDetail("provider", p.ID)
	case p.ClientSecret.IsEmpty():
		return missing(ns, prefix+"CLIENT_SECRET").WithDetail("provider", p.ID)
	case p.RedirectBaseURL == "":
		return missing(ns, prefix+"REDIRECT_BASE_URL").WithDetail("provider", p.ID)
	case p.TokenTTL <= 0:
		return invalid(ns, prefix+"TOKEN_TTL", "must be positive").WithDetail("provider", p.ID)
	}
	if u, err := url.Parse(p.RedirectBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return invalid(ns, prefix+"REDIRECT_BASE_URL", "must be an absolute URL").WithDetail("provider", p.ID)
	}
	return nil
}
