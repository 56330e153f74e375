package oauth2x

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Abraxas-365/warden/pkg/iam/auth"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

// RedirectPath is appended to a provider's redirect base URL, followed by the
// provider id.
const RedirectPath = "/auth/oauth2-redirect/"

// maxProfileBytes caps how much of a profile response is read.
const maxProfileBytes = 1 << 20

// Client is one enabled provider. It implements auth.OAuth2Client.
type Client struct {
	id          string
	cfg         *oauth2.Config
	profileURL  string
	subjectPath string
	emailPath   string
	tokenTTL    time.Duration
	httpClient  *http.Client
}

func (c *Client) ID() string              { return c.id }
func (c *Client) TokenTTL() time.Duration { return c.tokenTTL }

// RedirectURL is where the provider sends the browser back to.
func (c *Client) RedirectURL() string { return c.cfg.RedirectURL }

func (c *Client) AuthCodeURL(state string) string {
	return c.cfg.AuthCodeURL(state)
}

func (c *Client) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := c.cfg.Exchange(c.withHTTPClient(ctx), code)
	if err != nil {
		return nil, ErrRegistry.NewWithCause(CodeExchangeFailed, err).WithDetail("provider", c.id)
	}
	return tok, nil
}

// FetchProfile reads the profile document and picks the subject and email
// out of it. Providers that answer without a subject are treated as failed.
func (c *Client) FetchProfile(ctx context.Context, tok *oauth2.Token) (*auth.Profile, error) {
	ctx = c.withHTTPClient(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.profileURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	hc := c.cfg.Client(ctx, tok)
	if c.httpClient != nil {
		// oauth2 keeps only the base transport, so carry the timeout over.
		hc.Timeout = c.httpClient.Timeout
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, ErrRegistry.NewWithCause(CodeProfileFailed, err).WithDetail("provider", c.id)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ErrRegistry.New(CodeProfileFailed).
			WithDetail("provider", c.id).
			WithDetail("status", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBytes))
	if err != nil {
		return nil, ErrRegistry.NewWithCause(CodeProfileFailed, err).WithDetail("provider", c.id)
	}
	if !gjson.ValidBytes(body) {
		return nil, ErrRegistry.New(CodeProfileInvalid).
			WithDetail("provider", c.id).
			WithDetail("reason", "not json")
	}

	subject := gjson.GetBytes(body, c.subjectPath)
	if !subject.Exists() || subject.String() == "" {
		return nil, ErrRegistry.New(CodeProfileInvalid).
			WithDetail("provider", c.id).
			WithDetail("reason", fmt.Sprintf("no %q in profile", c.subjectPath))
	}

	p := &auth.Profile{Subject: subject.String()}
	if c.emailPath != "" {
		p.Email = strings.TrimSpace(gjson.GetBytes(body, c.emailPath).String())
	}
	return p, nil
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	if c.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

var _ auth.OAuth2Client = (*Client)(nil)
