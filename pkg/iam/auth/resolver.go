package auth

import (
	"slices"
	"strings"

	"github.com/Abraxas-365/warden/pkg/config"
)

// Resolver maps scheme ids to the schemes enabled at startup. It is built
// once and read-only afterwards.
type Resolver struct {
	schemes map[string]Scheme
	ordered []Scheme
}

// NewResolver indexes schemes. Local schemes come first in a fixed order,
// OAuth2 schemes follow sorted by provider id. A repeated id keeps the first.
func NewResolver(schemes ...Scheme) *Resolver {
	r := &Resolver{schemes: make(map[string]Scheme, len(schemes))}
	for _, s := range schemes {
		if _, dup := r.schemes[s.ID()]; dup {
			continue
		}
		r.schemes[s.ID()] = s
		r.ordered = append(r.ordered, s)
	}
	slices.SortStableFunc(r.ordered, func(a, b Scheme) int {
		if ra, rb := rank(a.ID()), rank(b.ID()); ra != rb {
			return ra - rb
		}
		return strings.Compare(a.ID(), b.ID())
	})
	return r
}

func rank(id string) int {
	switch id {
	case SchemeLocalCookie:
		return 0
	case SchemeLocalToken:
		return 1
	}
	return 2
}

// ResolverDeps are the collaborators BuildResolver wires into schemes.
type ResolverDeps struct {
	Users     UserDirectory
	Verifier  PasswordVerifier
	Providers OAuth2Registry
	States    StateStore
}

// BuildResolver enables the local schemes the config turns on and one
// OAuth2 scheme per enabled provider.
func BuildResolver(cfg config.AuthConfig, deps ResolverDeps) (*Resolver, error) {
	var schemes []Scheme

	if cfg.Local.CookieSchemeEnabled() {
		schemes = append(schemes, NewLocalCookieScheme(cfg.Local.CookieTTL, deps.Users, deps.Verifier))
	}
	if cfg.Local.TokenSchemeEnabled() {
		schemes = append(schemes, NewLocalTokenScheme(cfg.Local.TokenTTL, deps.Users, deps.Verifier))
	}

	if deps.Providers != nil {
		for _, id := range deps.Providers.ListEnabled() {
			client, err := deps.Providers.Resolve(id)
			if err != nil {
				return nil, err
			}
			schemes = append(schemes, NewOAuth2Scheme(client, deps.States, cfg.OAuth2.StateTTL, deps.Users))
		}
	}

	return NewResolver(schemes...), nil
}

func (r *Resolver) Resolve(id string) (Scheme, error) {
	s, ok := r.schemes[id]
	if !ok {
		return nil, ErrSchemeNotFound(id)
	}
	return s, nil
}

// ListAvailable returns the enabled schemes in display order.
func (r *Resolver) ListAvailable() []Scheme {
	return slices.Clone(r.ordered)
}
