package auth_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Abraxas-365/warden/pkg/iam/auth"
	"github.com/Abraxas-365/warden/pkg/iam/session/sessioninfra"
	"github.com/Abraxas-365/warden/pkg/iam/session/sessionsrv"
	"github.com/Abraxas-365/warden/pkg/iam/user"
	"github.com/Abraxas-365/warden/pkg/iam/user/userinfra"
	"github.com/Abraxas-365/warden/pkg/iam/user/usersrv"
	"golang.org/x/oauth2"
)

const secret = "0123456789abcdef0123456789abcdef"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// plainCrypto stores passwords as "plain:<pw>" and counts dummy verifies.
type plainCrypto struct {
	dummies atomic.Int32
}

func (*plainCrypto) Hash(p string) (string, error)      { return "plain:" + p, nil }
func (*plainCrypto) Verify(enc, p string) (bool, error) { return enc == "plain:"+p, nil }
func (c *plainCrypto) DummyVerify(string)               { c.dummies.Add(1) }

type fakeClient struct {
	id          string
	profile     auth.Profile
	exchangeErr error
}

func (f *fakeClient) ID() string              { return f.id }
func (f *fakeClient) TokenTTL() time.Duration { return time.Hour }

func (f *fakeClient) AuthCodeURL(state string) string {
	return "https://idp.test/" + f.id + "/authorize?state=" + state
}

func (f *fakeClient) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &oauth2.Token{AccessToken: "at-" + code}, nil
}

func (f *fakeClient) FetchProfile(context.Context, *oauth2.Token) (*auth.Profile, error) {
	p := f.profile
	return &p, nil
}

type fakeRegistry map[string]auth.OAuth2Client

func (r fakeRegistry) Resolve(id string) (auth.OAuth2Client, error) {
	c, ok := r[id]
	if !ok {
		return nil, auth.ErrSchemeNotFound(auth.OAuth2SchemeID(id))
	}
	return c, nil
}

func (r fakeRegistry) ListEnabled() []string {
	out := make([]string, 0, len(r))
	for id := range r {
		out = append(out, id)
	}
	return out
}

type fixture struct {
	svc      *auth.Service
	users    *usersrv.UserService
	userRepo *userinfra.MemoryRepository
	sessions *sessionsrv.Manager
	states   *auth.MemoryStateStore
	tokens   *auth.JWTService
	crypto   *plainCrypto
	clock    *fakeClock
}

func newFixture(t *testing.T, clients ...auth.OAuth2Client) *fixture {
	t.Helper()
	f := &fixture{
		clock:    &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		crypto:   &plainCrypto{},
		userRepo: userinfra.NewMemoryRepository(),
	}
	policy := user.UsernamePolicy{Min: 3, Max: 32, Forbidden: []string{"admin", "me"}}
	f.users = usersrv.NewUserService(f.userRepo, f.crypto, policy, usersrv.WithClock(f.clock.Now))
	f.sessions = sessionsrv.NewManager(sessioninfra.NewMemoryRepository(), sessionsrv.WithClock(f.clock.Now))
	f.states = auth.NewMemoryStateStore().WithClock(f.clock.Now)
	f.tokens = auth.NewJWTService(secret, "warden").WithClock(f.clock.Now)

	schemes := []auth.Scheme{
		auth.NewLocalCookieScheme(24*time.Hour, f.users, f.crypto),
		auth.NewLocalTokenScheme(30*time.Minute, f.users, f.crypto),
	}
	for _, c := range clients {
		schemes = append(schemes, auth.NewOAuth2Scheme(c, f.states, 10*time.Minute, f.users).WithClock(f.clock.Now))
	}
	f.svc = auth.NewService(auth.NewResolver(schemes...), f.sessions, f.users, f.tokens)
	return f
}

func (f *fixture) register(t *testing.T, name, password string) *user.User {
	t.Helper()
	u, err := f.users.Register(context.Background(), usersrv.RegisterInput{
		Username: name,
		Email:    name + "@example.com",
		Password: password,
	})
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return u
}
