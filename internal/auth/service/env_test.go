package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/domain"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/idp"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/store/drivers/sqlite"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/cryptox"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/jwtx"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/kv"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// cheap argon2 parameters so tests stay fast.
var testArgon2 = cryptox.Argon2Params{Memory: 64, Iterations: 1, Parallelism: 1, KeyLength: 16, SaltLength: 8}

type testEnv struct {
	Clock    *fakeClock
	KV       *kv.Memory
	Codec    *jwtx.HMACCodec
	Tokens   *TokenService
	Limiter  *RateLimiter
	Sessions *SessionRegistry
	Users    *UserService
	Auth     *Authenticator
	External *fakeProvider
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := newClock()
	store := kv.NewMemory(kv.WithClock(clock.Now))

	codec, err := jwtx.NewHMACCodec([]byte("0123456789abcdef0123456789abcdef"), "kc-auth-test")
	require.NoError(t, err)

	db, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.ApplyMigrations())

	e := &testEnv{
		Clock: clock,
		KV:    store,
		Codec: codec,
		Tokens: &TokenService{
			Codec:         codec,
			KV:            store,
			RotateRefresh: true,
			Now:           clock.Now,
		},
		Limiter:  &RateLimiter{KV: store, Now: clock.Now},
		Sessions: &SessionRegistry{KV: store, Now: clock.Now},
		Users: &UserService{
			Store:  db,
			Hasher: cryptox.NewPasswordHasher("pepper", testArgon2),
			Now:    clock.Now,
		},
		External: &fakeProvider{tokens: map[string]idp.ExternalIdentity{}},
	}
	e.Auth = &Authenticator{
		Tokens:   e.Tokens,
		Limiter:  e.Limiter,
		External: e.External,
		Users:    e.Users,
	}
	return e
}

func (e *testEnv) user(t *testing.T, email string, roles ...string) domain.User {
	t.Helper()
	u, err := e.Users.Register(context.Background(), email, "correct horse battery", "Test")
	require.NoError(t, err)
	if len(roles) > 0 {
		u, err = (&RolesService{Store: e.Users.Store}).SetUserRoles(context.Background(), u.ID, roles)
		require.NoError(t, err)
	}
	return u
}

// fakeProvider accepts a fixed set of raw tokens.
type fakeProvider struct {
	mu     sync.Mutex
	tokens map[string]idp.ExternalIdentity
	calls  int
}

func (p *fakeProvider) add(raw string, ext idp.ExternalIdentity) {
	p.mu.Lock()
	p.tokens[raw] = ext
	p.mu.Unlock()
}

func (p *fakeProvider) VerifyExternalToken(_ context.Context, raw string) (idp.ExternalIdentity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	ext, ok := p.tokens[raw]
	if !ok {
		return idp.ExternalIdentity{}, idp.ErrInvalidToken
	}
	return ext, nil
}
