package user

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Abraxas-365/warden/pkg/errx"
	"github.com/Abraxas-365/warden/pkg/kernel"
)

// ============================================================================
// Roles
// ============================================================================

// Role is totally ordered: User < Admin < SuperAdmin.
type Role int

const (
	RoleUser Role = iota + 1
	RoleAdmin
	RoleSuperAdmin
)

var roleNames = map[Role]string{
	RoleUser:       "user",
	RoleAdmin:      "admin",
	RoleSuperAdmin: "super_admin",
}

func (r Role) String() string {
	if n, ok := roleNames[r]; ok {
		return n
	}
	return "unknown"
}

func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// AtLeast reports whether r grants everything min grants.
func (r Role) AtLeast(min Role) bool {
	return r.Valid() && r >= min
}

func ParseRole(s string) (Role, error) {
	for r, n := range roleNames {
		if strings.EqualFold(n, s) {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %d", int(r))
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ============================================================================
// Identities
// ============================================================================

// Identities maps an OAuth2 provider id to the subject id it reported.
type Identities map[string]string

// Value stores identities as a JSON object.
func (i Identities) Value() (driver.Value, error) {
	if i == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]string(i))
}

func (i *Identities) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*i = Identities{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("identities: unsupported type %T", src)
	}
	m := map[string]string{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("identities: %w", err)
	}
	*i = m
	return nil
}

// Identity is one provider-issued subject.
type Identity struct {
	Provider string
	Subject  string
}

// ============================================================================
// User
// ============================================================================

type User struct {
	ID           kernel.UserID `json:"id"`
	Username     string        `json:"username"`
	Email        string        `json:"email,omitempty"`
	PasswordHash string        `json:"-"`
	Role         Role          `json:"role"`
	Identities   Identities    `json:"identities,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// HasCredential reports whether the user can sign in at all.
func (u *User) HasCredential() bool {
	return u.PasswordHash != "" || len(u.Identities) > 0
}

func (u *User) HasPassword() bool { return u.PasswordHash != "" }

// Subject returns the external id linked for provider.
func (u *User) Subject(provider string) (string, bool) {
	s, ok := u.Identities[provider]
	return s, ok
}

// Clone returns a deep copy; backends hand out clones so callers cannot
// mutate stored state.
func (u *User) Clone() *User {
	c := *u
	c.Identities = maps.Clone(u.Identities)
	return &c
}

// Validate enforces the entity invariants under policy.
func (u *User) Validate(policy UsernamePolicy) error {
	if err := policy.Check(u.Username); err != nil {
		return err
	}
	if !u.Role.Valid() {
		return ErrRegistry.New(CodeInvalidRole).WithDetail("role", int(u.Role))
	}
	if !u.HasCredential() {
		return ErrRegistry.New(CodeNoCredential)
	}
	return nil
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Username     *string
	Email        *string
	PasswordHash *string
	Role         *Role
	Link         *Identity
	Unlink       *string
}

// Apply mutates u in place and stamps UpdatedAt.
func (p Patch) Apply(u *User, now time.Time) {
	if p.Username != nil {
		u.Username = *p.Username
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.PasswordHash != nil {
		u.PasswordHash = *p.PasswordHash
	}
	if p.Role != nil {
		u.Role = *p.Role
	}
	if p.Link != nil {
		if u.Identities == nil {
			u.Identities = Identities{}
		}
		u.Identities[p.Link.Provider] = p.Link.Subject
	}
	if p.Unlink != nil {
		delete(u.Identities, *p.Unlink)
	}
	u.UpdatedAt = now
}

// ============================================================================
// Username policy
// ============================================================================

type UsernamePolicy struct {
	Min       int
	Max       int
	Forbidden []string
}

// Check validates length in runes and the forbidden list (case-insensitive).
func (p UsernamePolicy) Check(username string) error {
	n := utf8.RuneCountInString(username)
	if n < p.Min || n > p.Max {
		return ErrRegistry.New(CodeUsernameLength).
			WithDetail("min", p.Min).
			WithDetail("max", p.Max).
			WithDetail("length", n)
	}
	if slices.Contains(p.Forbidden, strings.ToLower(username)) {
		return ErrRegistry.New(CodeUsernameForbidden).WithDetail("username", username)
	}
	return nil
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("USER")

var (
	CodeUsernameLength    = ErrRegistry.Register("USERNAME_LENGTH", errx.TypeValidation, http.StatusBadRequest, "Username length out of bounds")
	CodeUsernameForbidden = ErrRegistry.Register("USERNAME_FORBIDDEN", errx.TypeValidation, http.StatusBadRequest, "Username is reserved")
	CodeInvalidRole       = ErrRegistry.Register("INVALID_ROLE", errx.TypeValidation, http.StatusBadRequest, "Invalid role")
	CodeNoCredential      = ErrRegistry.Register("NO_CREDENTIAL", errx.TypeValidation, http.StatusBadRequest, "User needs a password or a linked identity")
	CodeWeakPassword      = ErrRegistry.Register("WEAK_PASSWORD", errx.TypeValidation, http.StatusBadRequest, "Password is too short")
	CodeProtected         = ErrRegistry.Register("PROTECTED", errx.TypeBusiness, http.StatusUnprocessableEntity, "The super admin cannot be deleted")
)
