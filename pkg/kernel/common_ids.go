package kernel

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

type UserID string

// NewUserID returns a fresh random (v4) user id.
func NewUserID() UserID         { return UserID(uuid.NewString()) }
func (u UserID) String() string { return string(u) }
func (u UserID) IsEmpty() bool  { return string(u) == "" }

// ParseUserID accepts only canonical UUIDs.
func ParseUserID(s string) (UserID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("parse user id: %w", err)
	}
	return UserID(id.String()), nil
}

// SessionID is the opaque, unguessable session handle. It doubles as the
// cookie credential for the local-cookie scheme, so it must never be logged.
type SessionID string

// sessionIDBytes of entropy gives 256 bits per id.
const sessionIDBytes = 32

func NewSessionID() (SessionID, error) {
	b := make([]byte, sessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session id entropy: %w", err)
	}
	return SessionID(base64.RawURLEncoding.EncodeToString(b)), nil
}

func (s SessionID) String() string { return string(s) }
func (s SessionID) IsEmpty() bool  { return string(s) == "" }

// Fingerprint is a short, non-reversible prefix safe for logs.
func (s SessionID) Fingerprint() string {
	if len(s) <= 8 {
		return "********"
	}
	return string(s[:6]) + "..."
}
