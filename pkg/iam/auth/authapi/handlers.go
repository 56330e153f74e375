// Package authapi is the HTTP surface of the auth module: scheme discovery,
// the begin/complete exchange, logout and the mesh token check.
package authapi

import (
	"net/url"
	"time"

	"github.com/Abraxas-365/warden/pkg/iam/auth"
	"github.com/gofiber/fiber/v2"
)

// CookieConfig shapes the local-cookie session cookie.
type CookieConfig struct {
	Name   string
	Secure bool
}

type AuthHandlers struct {
	service *auth.Service
	cookie  CookieConfig
}

func NewAuthHandlers(service *auth.Service, cookie CookieConfig) *AuthHandlers {
	return &AuthHandlers{service: service, cookie: cookie}
}

// RegisterRoutes mounts /auth/*. mw protects /auth/me and /auth/sessions.
func (h *AuthHandlers) RegisterRoutes(router fiber.Router, mw *auth.TokenMiddleware) {
	g := router.Group("/auth")

	g.Get("/schemes", h.ListSchemes)
	g.Post("/validate", h.Validate)
	g.Post("/logout", h.Logout)
	g.Post("/renew", h.Renew)
	g.Get("/me", mw.Authenticate(), h.Me)
	g.Get("/sessions", mw.Authenticate(), h.Sessions)
	g.Get("/oauth2-redirect/:provider", h.OAuth2Redirect)

	g.Post("/:scheme/begin", h.Begin)
	g.Post("/:scheme/complete", h.Complete)
}

// ============================================================================
// DTOs
// ============================================================================

type SchemeResponse struct {
	ID         string `json:"id"`
	Credential string `json:"credential"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

type LoginResponse struct {
	Scheme      string    `json:"scheme"`
	UserID      string    `json:"user_id"`
	AccessToken string    `json:"access_token,omitempty"`
	TokenType   string    `json:"token_type,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
	Provisioned bool      `json:"provisioned,omitempty"`
}

// SessionResponse never carries the session id itself, only its
// fingerprint.
type SessionResponse struct {
	Fingerprint string    `json:"fingerprint"`
	Scheme      string    `json:"scheme"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Current     bool      `json:"current"`
}

type ValidateRequest struct {
	Token string `json:"token"`
}

type ValidateResponse struct {
	IsValid bool `json:"is_valid"`
}

// ============================================================================
// Handlers
// ============================================================================

// ListSchemes handles GET /auth/schemes.
func (h *AuthHandlers) ListSchemes(c *fiber.Ctx) error {
	schemes := h.service.Resolver().ListAvailable()
	out := make([]SchemeResponse, 0, len(schemes))
	for _, s := range schemes {
		out = append(out, SchemeResponse{
			ID:         s.ID(),
			Credential: string(s.Credential()),
			TTLSeconds: int64(s.TTL() / time.Second),
		})
	}
	return c.JSON(fiber.Map{"schemes": out})
}

// Begin handles POST /auth/:scheme/begin. The body is optional.
func (h *AuthHandlers) Begin(c *fiber.Ctx) error {
	scheme, err := schemeParam(c)
	if err != nil {
		return err
	}

	var req auth.BeginRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}

	challenge, err := h.service.Begin(c.UserContext(), scheme, req)
	if err != nil {
		return err
	}
	return c.JSON(challenge)
}

// Complete handles POST /auth/:scheme/complete.
func (h *AuthHandlers) Complete(c *fiber.Ctx) error {
	scheme, err := schemeParam(c)
	if err != nil {
		return err
	}

	var proof auth.Proof
	if err := c.BodyParser(&proof); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	return h.login(c, scheme, proof)
}

// OAuth2Redirect handles the provider's browser redirect back to us.
func (h *AuthHandlers) OAuth2Redirect(c *fiber.Ctx) error {
	proof := auth.Proof{Code: c.Query("code"), State: c.Query("state")}
	if msg := c.Query("error"); msg != "" {
		return auth.ErrProvider(c.Params("provider"), nil).WithDetail("error", msg)
	}
	return h.login(c, auth.OAuth2SchemeID(c.Params("provider")), proof)
}

func (h *AuthHandlers) login(c *fiber.Ctx, scheme string, proof auth.Proof) error {
	res, err := h.service.Login(c.UserContext(), scheme, proof, requestMeta(c))
	if err != nil {
		return err
	}
	return h.respond(c, res)
}

// Renew handles POST /auth/renew. The response has the same shape as a login:
// a refreshed cookie, or a new bearer token.
func (h *AuthHandlers) Renew(c *fiber.Ctx) error {
	cred, ok := auth.CredentialFrom(c, h.cookie.Name)
	if !ok {
		return auth.ErrTokenInvalid()
	}
	res, err := h.service.Renew(c.UserContext(), cred)
	if err != nil {
		return err
	}
	return h.respond(c, res)
}

func (h *AuthHandlers) respond(c *fiber.Ctx, res *auth.LoginResult) error {
	out := LoginResponse{
		Scheme:      res.Scheme,
		UserID:      res.UserID.String(),
		ExpiresAt:   res.ExpiresAt,
		Provisioned: res.Provisioned,
	}
	if res.Kind == auth.CredentialCookie {
		c.Cookie(&fiber.Cookie{
			Name:     h.cookie.Name,
			Value:    res.Credential,
			Path:     "/",
			Expires:  res.ExpiresAt,
			Secure:   h.cookie.Secure,
			HTTPOnly: true,
			SameSite: fiber.CookieSameSiteLaxMode,
		})
	} else {
		out.AccessToken = res.Credential
		out.TokenType = "Bearer"
	}
	return c.JSON(out)
}

// Logout handles POST /auth/logout with whichever credential the request
// carries.
func (h *AuthHandlers) Logout(c *fiber.Ctx) error {
	cred, ok := auth.CredentialFrom(c, h.cookie.Name)
	if !ok {
		return auth.ErrTokenInvalid()
	}
	if err := h.service.Logout(c.UserContext(), cred); err != nil {
		return err
	}
	if cred.Kind == auth.CredentialCookie {
		c.ClearCookie(h.cookie.Name)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Validate handles POST /auth/validate. It always answers 200 with a single
// boolean; a malformed body is simply not a valid token.
func (h *AuthHandlers) Validate(c *fiber.Ctx) error {
	var req ValidateRequest
	if err := c.BodyParser(&req); err != nil || req.Token == "" {
		return c.JSON(ValidateResponse{IsValid: false})
	}
	return c.JSON(ValidateResponse{IsValid: h.service.IsValid(c.UserContext(), req.Token)})
}

// Me handles GET /auth/me.
func (h *AuthHandlers) Me(c *fiber.Ctx) error {
	return c.JSON(auth.PrincipalFrom(c))
}

// Sessions handles GET /auth/sessions.
func (h *AuthHandlers) Sessions(c *fiber.Ctx) error {
	p := auth.PrincipalFrom(c)
	active, err := h.service.Sessions(c.UserContext(), p)
	if err != nil {
		return err
	}
	out := make([]SessionResponse, 0, len(active))
	for _, s := range active {
		out = append(out, SessionResponse{
			Fingerprint: s.ID.Fingerprint(),
			Scheme:      s.Scheme,
			CreatedAt:   s.CreatedAt,
			ExpiresAt:   s.ExpiresAt,
			Current:     s.ID == p.SessionID,
		})
	}
	return c.JSON(fiber.Map{"sessions": out})
}

// ============================================================================
// Helpers
// ============================================================================

func schemeParam(c *fiber.Ctx) (string, error) {
	scheme, err := url.PathUnescape(c.Params("scheme"))
	if err != nil || scheme == "" {
		return "", fiber.NewError(fiber.StatusBadRequest, "invalid scheme")
	}
	return scheme, nil
}

func requestMeta(c *fiber.Ctx) auth.RequestMeta {
	return auth.RequestMeta{
		IP:        c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
	}
}
