package usersrv_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/Abraxas-365/warden/pkg/errx"
	"github.com/Abraxas-365/warden/pkg/iam/user"
	"github.com/Abraxas-365/warden/pkg/iam/user/userinfra"
	"github.com/Abraxas-365/warden/pkg/iam/user/usersrv"
	"github.com/Abraxas-365/warden/pkg/kernel"
	"github.com/Abraxas-365/warden/pkg/storex"
)

type plainHasher struct{}

func (plainHasher) Hash(p string) (string, error) { return "plain:" + p, nil }

type recordingRevoker struct {
	mu    sync.Mutex
	calls []kernel.UserID
}

func (r *recordingRevoker) RevokeAll(_ context.Context, id kernel.UserID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, id)
	return 2, nil
}

var policy = user.UsernamePolicy{Min: 3, Max: 32, Forbidden: []string{"admin", "me"}}

func newService(opts ...usersrv.Option) (*usersrv.UserService, *userinfra.MemoryRepository) {
	repo := userinfra.NewMemoryRepository()
	return usersrv.NewUserService(repo, plainHasher{}, policy, opts...), repo
}

func TestRegisterDuplicateLeavesOneRecord(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService()

	first, err := svc.Register(ctx, usersrv.RegisterInput{Username: "alice", Password: "correct horse"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err = svc.Register(ctx, usersrv.RegisterInput{Username: "alice", Password: "another pass"})
	if !storex.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}

	n, _ := repo.Count(ctx)
	if n != 1 {
		t.Fatalf("expected 1 user, got %d", n)
	}
	stored, _ := repo.Get(ctx, first.ID)
	if stored.PasswordHash != "plain:correct horse" {
		t.Fatal("existing record was modified")
	}
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()

	cases := []struct {
		name string
		in   usersrv.RegisterInput
		code *errx.ErrorCode
	}{
		{"short password", usersrv.RegisterInput{Username: "alice", Password: "short"}, user.CodeWeakPassword},
		{"short username", usersrv.RegisterInput{Username: "al", Password: "long enough"}, user.CodeUsernameLength},
		{"forbidden", usersrv.RegisterInput{Username: "Admin", Password: "long enough"}, user.CodeUsernameForbidden},
		{"multibyte counts runes", usersrv.RegisterInput{Username: strings.Repeat("é", 33), Password: "long enough"}, user.CodeUsernameLength},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tc.in)
			if !errx.IsCode(err, tc.code) {
				t.Fatalf("expected %s, got %v", tc.code.Code, err)
			}
		})
	}
}

func TestResolveExternalProvisionsThenReuses(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService()
	profile := usersrv.ExternalProfile{Provider: "github", Subject: "9001"}

	u, created, err := svc.ResolveExternal(ctx, profile)
	if err != nil || !created {
		t.Fatalf("expected a new user, got created=%v err=%v", created, err)
	}
	if u.Role != user.RoleUser || !strings.HasPrefix(u.Username, "user_") {
		t.Fatalf("unexpected provisioned user: %+v", u)
	}

	again, created, err := svc.ResolveExternal(ctx, profile)
	if err != nil || created || again.ID != u.ID {
		t.Fatalf("expected the same user, got %v created=%v err=%v", again, created, err)
	}
	if n, _ := repo.Count(ctx); n != 1 {
		t.Fatalf("expected 1 user, got %d", n)
	}
}

// staleIdentityLookup misses the first identity lookup, as if another login
// created the user right after it.
type staleIdentityLookup struct {
	*userinfra.MemoryRepository
	missed bool
}

func (r *staleIdentityLookup) FindByIdentity(ctx context.Context, provider, subject string) (*user.User, error) {
	if !r.missed {
		r.missed = true
		return nil, storex.ErrNotFound("memory")
	}
	return r.MemoryRepository.FindByIdentity(ctx, provider, subject)
}

func TestResolveExternalReturnsRaceWinner(t *testing.T) {
	ctx := context.Background()
	repo := &staleIdentityLookup{MemoryRepository: userinfra.NewMemoryRepository()}
	svc := usersrv.NewUserService(repo, plainHasher{}, policy)
	profile := usersrv.ExternalProfile{Provider: "github", Subject: "42"}

	winner, _, err := usersrv.NewUserService(repo.MemoryRepository, plainHasher{}, policy).ResolveExternal(ctx, profile)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	u, created, err := svc.ResolveExternal(ctx, profile)
	if err != nil || created {
		t.Fatalf("expected the existing user, got created=%v err=%v", created, err)
	}
	if u.ID != winner.ID {
		t.Fatalf("expected %s, got %s", winner.ID, u.ID)
	}
}

func TestConcurrentResolveExternalCreatesOneUser(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService()
	profile := usersrv.ExternalProfile{Provider: "github", Subject: "42"}

	const logins = 8
	ids := make(chan kernel.UserID, logins)
	errs := make(chan error, logins)
	var wg sync.WaitGroup
	for range logins {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, _, err := svc.ResolveExternal(ctx, profile)
			if err != nil {
				errs <- err
				return
			}
			ids <- u.ID
		}()
	}
	wg.Wait()
	close(ids)
	close(errs)

	for err := range errs {
		t.Fatalf("resolve: %v", err)
	}
	var first kernel.UserID
	for id := range ids {
		if first == "" {
			first = id
		}
		if id != first {
			t.Fatalf("logins resolved to different users: %s and %s", first, id)
		}
	}
	if n, _ := repo.Count(ctx); n != 1 {
		t.Fatalf("expected 1 user, got %d", n)
	}
}

func TestResolveExternalLinksByEmail(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()
	local, _ := svc.Register(ctx, usersrv.RegisterInput{Username: "dora", Email: "Dora@Example.com", Password: "long enough"})

	u, created, err := svc.ResolveExternal(ctx, usersrv.ExternalProfile{Provider: "google", Subject: "g-1", Email: "dora@example.com"})
	if err != nil || created {
		t.Fatalf("expected a link, got created=%v err=%v", created, err)
	}
	if u.ID != local.ID {
		t.Fatal("linked the wrong user")
	}
	if s, _ := u.Subject("google"); s != "g-1" {
		t.Fatalf("identity not linked: %v", u.Identities)
	}
}

func TestEnsureSuperAdminIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService()

	created, err := svc.EnsureSuperAdmin(ctx, "admin", "bootstrap-pass")
	if err != nil || !created {
		t.Fatalf("expected creation, got %v %v", created, err)
	}
	created, err = svc.EnsureSuperAdmin(ctx, "admin", "bootstrap-pass")
	if err != nil || created {
		t.Fatalf("expected no-op, got %v %v", created, err)
	}

	admin, _ := repo.FindByUsername(ctx, "admin")
	if admin.Role != user.RoleSuperAdmin {
		t.Fatalf("expected super admin, got %v", admin.Role)
	}
}

func TestDemotionRevokesSessions(t *testing.T) {
	ctx := context.Background()
	rev := &recordingRevoker{}
	svc, _ := newService(usersrv.WithSessionRevoker(rev))
	u, _ := svc.Register(ctx, usersrv.RegisterInput{Username: "erin", Password: "long enough", Role: user.RoleAdmin})

	if _, err := svc.ChangeRole(ctx, u.ID, user.RoleAdmin); err != nil {
		t.Fatalf("same role: %v", err)
	}
	if len(rev.calls) != 0 {
		t.Fatal("no demotion, no revocation expected")
	}

	if _, err := svc.ChangeRole(ctx, u.ID, user.RoleUser); err != nil {
		t.Fatalf("demote: %v", err)
	}
	if len(rev.calls) != 1 || rev.calls[0] != u.ID {
		t.Fatalf("expected one revocation for %s, got %v", u.ID, rev.calls)
	}
}

func TestSuperAdminIsProtected(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService()
	svc.EnsureSuperAdmin(ctx, "admin", "bootstrap-pass")
	admin, _ := repo.FindByUsername(ctx, "admin")

	if err := svc.Delete(ctx, admin.ID); !errx.IsCode(err, user.CodeProtected) {
		t.Fatalf("expected protected, got %v", err)
	}
	if _, err := svc.ChangeRole(ctx, admin.ID, user.RoleAdmin); !errx.IsCode(err, user.CodeProtected) {
		t.Fatalf("expected protected, got %v", err)
	}
}
