// Package oauth2x builds OAuth2 clients for the enabled providers of the
// built-in catalog.
package oauth2x

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/Abraxas-365/warden/pkg/config"
	"github.com/Abraxas-365/warden/pkg/errx"
	"github.com/Abraxas-365/warden/pkg/iam/auth"
	"github.com/Abraxas-365/warden/pkg/logx"
	"golang.org/x/oauth2"
)

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("OAUTH2")

var (
	CodeUnknownProvider = ErrRegistry.Register("UNKNOWN_PROVIDER", errx.TypeValidation, http.StatusInternalServerError, "OAuth2 provider is not in the catalog")
	CodeExchangeFailed  = ErrRegistry.Register("EXCHANGE_FAILED", errx.TypeExternal, http.StatusBadGateway, "Authorization code exchange failed")
	CodeProfileFailed   = ErrRegistry.Register("PROFILE_FAILED", errx.TypeExternal, http.StatusBadGateway, "Profile request failed")
	CodeProfileInvalid  = ErrRegistry.Register("PROFILE_INVALID", errx.TypeExternal, http.StatusBadGateway, "Profile response is unusable")
)

// ============================================================================
// Registry
// ============================================================================

// Registry holds one client per enabled provider. Disabled providers never
// get a client.
type Registry struct {
	clients map[string]*Client
	enabled []string
}

type Option func(*options)

type options struct {
	httpClient *http.Client
}

// WithHTTPClient sets the client used for token and profile requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// DefaultHTTPTimeout applies when no HTTP client is given.
const DefaultHTTPTimeout = 10 * time.Second

// NewRegistry builds clients for the enabled entries of cfg. Provider calls
// are bounded by cfg.HTTPTimeout unless opts supply their own client.
func NewRegistry(cfg config.OAuth2Config, opts ...Option) (*Registry, error) {
	if cfg.HTTPTimeout > 0 {
		opts = append([]Option{WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout})}, opts...)
	}
	return NewRegistryFrom(cfg.Providers(), opts...)
}

// NewRegistryFrom builds clients from explicit provider entries. The first
// invalid enabled entry aborts construction with a config error naming the
// provider and the field.
func NewRegistryFrom(providers []config.OAuth2ProviderConfig, opts ...Option) (*Registry, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}

	r := &Registry{clients: map[string]*Client{}}
	for _, p := range providers {
		if !p.Enabled {
			continue
		}
		entry, ok := catalog[p.ID]
		if !ok {
			return nil, ErrRegistry.New(CodeUnknownProvider).WithDetail("provider", p.ID)
		}
		if err := config.ValidateProvider(p); err != nil {
			return nil, err
		}
		r.clients[p.ID] = newClient(p, entry, o.httpClient)
		r.enabled = append(r.enabled, p.ID)
	}
	slices.Sort(r.enabled)

	logx.WithFields(logx.Fields{
		"providers": strings.Join(r.enabled, ","),
	}).Debug("OAuth2 providers ready")
	return r, nil
}

func newClient(p config.OAuth2ProviderConfig, entry provider, hc *http.Client) *Client {
	endpoint := entry.endpoint
	if p.AuthURL != "" {
		endpoint.AuthURL = p.AuthURL
	}
	if p.TokenURL != "" {
		endpoint.TokenURL = p.TokenURL
	}
	profileURL := entry.profileURL
	if p.ProfileURL != "" {
		profileURL = p.ProfileURL
	}
	scopes := entry.scopes
	if len(p.Scopes) > 0 {
		scopes = p.Scopes
	}

	return &Client{
		id: p.ID,
		cfg: &oauth2.Config{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret.Reveal(),
			Endpoint:     endpoint,
			RedirectURL:  fmt.Sprintf("%s%s%s", strings.TrimSuffix(p.RedirectBaseURL, "/"), RedirectPath, p.ID),
			Scopes:       slices.Clone(scopes),
		},
		profileURL:  profileURL,
		subjectPath: entry.subjectPath,
		emailPath:   entry.emailPath,
		tokenTTL:    p.TokenTTL,
		httpClient:  hc,
	}
}

// Resolve returns the client of an enabled provider.
func (r *Registry) Resolve(id string) (auth.OAuth2Client, error) {
	c, ok := r.clients[id]
	if !ok {
		return nil, auth.ErrSchemeNotFound(auth.OAuth2SchemeID(id))
	}
	return c, nil
}

// ListEnabled returns the enabled provider ids, sorted.
func (r *Registry) ListEnabled() []string {
	return slices.Clone(r.enabled)
}

var _ auth.OAuth2Registry = (*Registry)(nil)
