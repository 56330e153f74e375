package auth_test

import (
	"testing"
	"time"

	"github.com/Abraxas-365/warden/pkg/errx"
	"github.com/Abraxas-365/warden/pkg/iam/auth"
	"github.com/Abraxas-365/warden/pkg/kernel"
	"github.com/golang-jwt/jwt/v5"
)

const carol = kernel.UserID("3f6c1d2e-8a4b-4c5d-9e7f-0a1b2c3d4e5f")

func TestJWTRoundTrip(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := auth.NewJWTService(secret, "warden").WithClock(clock.Now)

	token, err := svc.Issue(carol, "sess-1", "local-token", clock.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := svc.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != carol || claims.SessionID != "sess-1" || claims.Scheme != "local-token" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if !claims.ExpiresAt.Equal(clock.Now().Add(time.Hour)) {
		t.Fatalf("exp = %v", claims.ExpiresAt)
	}

	clock.Advance(time.Hour)
	if _, err := svc.Parse(token); !errx.IsCode(err, auth.CodeTokenInvalid) {
		t.Fatalf("expected expired token rejected, got %v", err)
	}
}

func TestJWTRejectsForeignTokens(t *testing.T) {
	now := time.Now()
	svc := auth.NewJWTService(secret, "warden")

	cases := map[string]string{}

	other, _ := auth.NewJWTService(secret, "another-app").Issue(carol, "s", "local-token", now.Add(time.Hour))
	cases["wrong audience"] = other

	forged, _ := auth.NewJWTService("ffffffffffffffffffffffffffffffff", "warden").Issue(carol, "s", "local-token", now.Add(time.Hour))
	cases["wrong key"] = forged

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   carol.String(),
		ID:        "s",
		Issuer:    "local-token",
		Audience:  jwt.ClaimStrings{"warden"},
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	cases["alg none"] = none

	noJTI, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   carol.String(),
		Issuer:    "local-token",
		Audience:  jwt.ClaimStrings{"warden"},
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}).SignedString([]byte(secret))
	cases["missing session"] = noJTI

	cases["garbage"] = "not.a.token"

	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.Parse(token); !errx.IsCode(err, auth.CodeTokenInvalid) {
				t.Fatalf("expected token invalid, got %v", err)
			}
		})
	}
}
