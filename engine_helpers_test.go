package authcore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/labelforge/authcore/account"
	"github.com/labelforge/authcore/notify"
	"github.com/labelforge/authcore/password"
)

var testSecret = KeyMaterial("0123456789abcdef0123456789abcdef")

const (
	alicePassword = "correct-horse-battery"
	wrongPassword = "wrong-password-123"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = testSecret
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.PasswordReset.MinDelay = 0
	cfg.PasswordReset.MaxDelay = 0
	return cfg
}

type testEnv struct {
	engine *Engine
	store  *account.MemoryStore
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	clock  *testClock
	sent   chan notify.Message
	audit  *auditCapture
}

type auditCapture struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (a *auditCapture) Emit(_ context.Context, e AuditEvent) {
	a.mu.Lock()
	a.events = append(a.events, e)
	a.mu.Unlock()
}

func (a *auditCapture) types() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.events))
	for _, e := range a.events {
		out = append(out, e.Type)
	}
	return out
}

func newTestEngine(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}

	env := &testEnv{
		store: account.NewMemoryStore(),
		mr:    mr,
		rdb:   rdb,
		clock: newTestClock(),
		sent:  make(chan notify.Message, 32),
		audit: &auditCapture{},
	}
	sender := notify.SenderFunc(func(_ context.Context, msg notify.Message) error {
		env.sent <- msg
		return nil
	})

	engine, err := New().
		WithConfig(cfg).
		WithAccountStore(env.store).
		WithRedis(rdb).
		WithNotifier(sender).
		WithAuditSink(env.audit).
		WithClock(env.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = engine.Close(ctx)
	})
	env.engine = engine
	return env
}

func (env *testEnv) register(t *testing.T, username, email, password string) AccountInfo {
	t.Helper()
	info, err := env.engine.Register(context.Background(), RegisterRequest{
		Username: username,
		Email:    email,
		Password: password,
	})
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return info
}

func (env *testEnv) login(username, password string) (TokenPair, error) {
	return env.engine.Login(context.Background(), LoginRequest{Username: username, Password: password})
}

func (env *testEnv) mustLogin(t *testing.T, username, password string) TokenPair {
	t.Helper()
	pair, err := env.login(username, password)
	if err != nil {
		t.Fatalf("login %s: %v", username, err)
	}
	return pair
}

func (env *testEnv) account(t *testing.T, username string) account.Account {
	t.Helper()
	acct, err := env.store.GetByUsername(context.Background(), username)
	if err != nil {
		t.Fatalf("load %s: %v", username, err)
	}
	return acct
}

func (env *testEnv) nextMessage(t *testing.T) notify.Message {
	t.Helper()
	select {
	case msg := <-env.sent:
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("no notification delivered")
		return notify.Message{}
	}
}

func mustHasher(t *testing.T, mutate func(*Config)) *password.Hasher {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	h, err := password.NewHasher(cfg.Password.params())
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}
	return h
}
