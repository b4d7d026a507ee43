package goSession

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goSession/password"
)

const testPassword = "correct-password-123"

// memPrincipals is a PrincipalStore over a map. It counts lookups so tests can assert
// the store was not consulted.
type memPrincipals struct {
	mu      sync.Mutex
	byID    map[string]Principal
	nextID  int
	lookups atomic.Int64
	// createErr is returned from CreatePrincipal when set.
	createErr error
}

func newMemPrincipals() *memPrincipals {
	return &memPrincipals{byID: map[string]Principal{}}
}

func (s *memPrincipals) FindByUsername(_ context.Context, username string) (Principal, error) {
	s.lookups.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.byID {
		if p.Username == username {
			return clonePrincipal(p), nil
		}
	}
	return Principal{}, ErrPrincipalNotFound
}

func (s *memPrincipals) FindByID(_ context.Context, id string) (Principal, error) {
	s.lookups.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return Principal{}, ErrPrincipalNotFound
	}
	return clonePrincipal(p), nil
}

func (s *memPrincipals) ExistsByUsername(_ context.Context, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.byID {
		if strings.EqualFold(p.Username, username) {
			return true, nil
		}
	}
	return false, nil
}

func (s *memPrincipals) ExistsByEmail(_ context.Context, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.byID {
		if p.Email != "" && strings.EqualFold(p.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (s *memPrincipals) CreatePrincipal(_ context.Context, p Principal) (Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return Principal{}, s.createErr
	}
	s.nextID++
	p.ID = "p" + strconv.Itoa(s.nextID)
	p.Enabled = true
	s.byID[p.ID] = clonePrincipal(p)
	return p, nil
}

func (s *memPrincipals) update(id string, fn func(*Principal)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.byID[id]
	fn(&p)
	s.byID[id] = p
}

func (s *memPrincipals) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
}

func clonePrincipal(p Principal) Principal {
	p.Roles = append([]string(nil), p.Roles...)
	return p
}

func testHasherConfig() PasswordConfig {
	return PasswordConfig{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func newTestHasher(t *testing.T) *password.Argon2 {
	t.Helper()

	h, err := password.NewArgon2(testHasherConfig().argon2())
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	return h
}

// testConfig is the documented scenario: lockout at 3 failures, 2 sessions per principal.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte("test-secret-test-secret-test-sec")
	cfg.Lockout.Threshold = 3
	cfg.Refresh.MaxPerPrincipal = 2
	cfg.Sweep.Enabled = false
	cfg.Password = testHasherConfig()
	return cfg
}

func newTestRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}

type testEnv struct {
	engine     *Engine
	mr         *miniredis.Miniredis
	rdb        *redis.Client
	principals *memPrincipals
}

func newTestEngine(t testing.TB, cfg Config, opts ...func(*Builder)) *testEnv {
	t.Helper()

	mr, rdb := newTestRedis(t)
	principals := newMemPrincipals()

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithPrincipalStore(principals)
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, mr: mr, rdb: rdb, principals: principals}
}

func (env *testEnv) register(t testing.TB, username string, roles ...string) *AuthResult {
	t.Helper()

	res, err := env.engine.Register(context.Background(), RegisterRequest{
		Username: username,
		Email:    username + "@example.com",
		Password: testPassword,
		Roles:    roles,
	})
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", username, err)
	}
	return res
}

// fakeClock starts at the wall clock so backends that read time.Now agree with it.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
