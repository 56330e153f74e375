package auth

import (
	"fmt"
	"time"

	"github.com/Abraxas-365/warden/pkg/kernel"
	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims is the decoded, verified content of an access token.
type TokenClaims struct {
	UserID    kernel.UserID
	SessionID kernel.SessionID
	Scheme    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// JWTService implements TokenService with HS256 tokens. The token carries
// no state of its own: sub is the user, jti the session it is bound to, and
// iss the scheme that opened that session.
type JWTService struct {
	secretKey []byte
	audience  string
	now       kernel.Clock
}

// NewJWTService builds the signer. audience is the application name.
func NewJWTService(secretKey, audience string) *JWTService {
	return &JWTService{
		secretKey: []byte(secretKey),
		audience:  audience,
		now:       kernel.SystemClock,
	}
}

// WithClock returns a copy that reads time from c.
func (j *JWTService) WithClock(c kernel.Clock) *JWTService {
	cp := *j
	cp.now = c
	return &cp
}

// Issue signs a token that expires with its session.
func (j *JWTService) Issue(userID kernel.UserID, sessionID kernel.SessionID, scheme string, expiresAt time.Time) (string, error) {
	now := j.now()

	claims := jwt.RegisteredClaims{
		Issuer:    scheme,
		Subject:   userID.String(),
		Audience:  jwt.ClaimStrings{j.audience},
		ID:        sessionID.String(),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(now),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secretKey)
	if err != nil {
		return "", ErrRegistry.NewWithCause(CodeTokenGenerationFailed, err)
	}
	return signed, nil
}

// Parse verifies signature, expiry and audience. Whether the issuer is a
// live scheme and the session still active is the caller's concern.
func (j *JWTService) Parse(tokenString string) (*TokenClaims, error) {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secretKey, nil
	},
		jwt.WithAudience(j.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, ErrTokenInvalid().WithCause(err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid()
	}

	if claims.Subject == "" || claims.ID == "" || claims.Issuer == "" {
		return nil, ErrTokenInvalid().WithDetail("reason", "missing claims")
	}

	out := &TokenClaims{
		UserID:    kernel.UserID(claims.Subject),
		SessionID: kernel.SessionID(claims.ID),
		Scheme:    claims.Issuer,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	return out, nil
}
