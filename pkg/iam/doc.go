// Package iam is the identity and session core of warden.
//
// # Layout
//
//   - iam/user           User entity, roles, username policy, repository port
//   - iam/user/usersrv   user service (creation, super-admin bootstrap, deletion)
//   - iam/user/userinfra Users backends: postgres, dynamodb, memory
//   - iam/session        Session entity, lifecycle states, repository port
//   - iam/session/sessionsrv   session manager and expiry reaper
//   - iam/session/sessioninfra Sessions backends: postgres, redis, dynamodb, memory
//   - iam/auth           schemes, resolver, token service, login service, middleware
//   - iam/auth/oauth2x   OAuth2 provider catalog and client registry
//   - iam/auth/authinfra password hashing, OAuth2 state stores, audit log
//   - iam/auth/authapi   thin fiber adapter, including the token-validity check
//   - iam/iamcontainer   ordered startup (readiness) and the assembled container
//
// # Flow
//
//	request → authapi → auth.Service → Resolver → Scheme → usersrv / sessionsrv → backend
//
// Each bounded context owns an errx registry ("USER", "SESSION", "AUTH",
// "OAUTH2", "READINESS"); storage failures use the shared "STORE" taxonomy
// from pkg/storex.
//
// # Sessions
//
// A session is dead as soon as its expiry passes, whether or not it has been
// deleted yet. Lookup enforces this on every read; the reaper only reclaims
// storage.
package iam
