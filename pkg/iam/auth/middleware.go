package auth

import (
	"strings"

	"github.com/Abraxas-365/warden/pkg/errx"
	"github.com/Abraxas-365/warden/pkg/iam"
	"github.com/Abraxas-365/warden/pkg/kernel"
	"github.com/gofiber/fiber/v2"
)

// principalLocal is the fiber.Ctx local holding the *Principal.
var principalLocal = string(kernel.PrincipalContextKey)

// TokenMiddleware authenticates requests with the session credential.
type TokenMiddleware struct {
	service    *Service
	cookieName string
}

// NewAuthMiddleware builds the middleware. cookieName is where local-cookie
// sessions are read from.
func NewAuthMiddleware(service *Service, cookieName string) *TokenMiddleware {
	return &TokenMiddleware{
		service:    service,
		cookieName: cookieName,
	}
}

// CredentialFrom reads the bearer token from the Authorization header,
// falling back to the session cookie.
func CredentialFrom(c *fiber.Ctx, cookieName string) (Credential, bool) {
	if header := c.Get(fiber.HeaderAuthorization); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") && parts[1] != "" {
			return Bearer(parts[1]), true
		}
	}
	if cookieName != "" {
		if v := c.Cookies(cookieName); v != "" {
			return Cookie(v), true
		}
	}
	return Credential{}, false
}

// Authenticate rejects requests without a valid credential and stores the
// principal in the request locals.
func (am *TokenMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		cred, ok := CredentialFrom(c, am.cookieName)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": iam.ErrUnauthorized().Error(),
			})
		}

		principal, err := am.service.Authenticate(c.UserContext(), cred)
		if err != nil {
			if errx.IsType(err, errx.TypeAuthorization) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": iam.ErrInvalidToken().Error(),
				})
			}
			return err
		}

		c.Locals(principalLocal, principal)
		return c.Next()
	}
}

// RequireAdmin only lets admins and the super admin through.
func (am *TokenMiddleware) RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal := PrincipalFrom(c)
		if principal == nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": iam.ErrUnauthorized().Error(),
			})
		}

		if !principal.IsAdmin() {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": iam.ErrAccessDenied().Error(),
			})
		}

		return c.Next()
	}
}

// PrincipalFrom returns the principal Authenticate stored, or nil.
func PrincipalFrom(c *fiber.Ctx) *Principal {
	p, _ := c.Locals(principalLocal).(*Principal)
	return p
}
