package kernel

import "time"

type ContextKey string

// PrincipalContextKey stores the authenticated principal on a request context.
const PrincipalContextKey ContextKey = "principal"

// Clock returns the current time. Expiry logic takes a Clock so tests can
// move time without sleeping.
type Clock func() time.Time

// SystemClock is the wall clock in UTC.
func SystemClock() time.Time { return time.Now().UTC() }
