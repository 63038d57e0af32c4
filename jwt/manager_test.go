package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
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

func newHSManager(t *testing.T, clock *fakeClock, mutate ...func(*Config)) *Manager {
	t.Helper()
	cfg := Config{
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    testSecret,
		Issuer:        "authcore",
	}
	for _, m := range mutate {
		m(&cfg)
	}
	m, err := NewManager(cfg, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestIssuePairRoundTrip(t *testing.T) {
	clock := newFakeClock()
	m := newHSManager(t, clock)

	pair, err := m.IssuePair("acct-1", "alice")
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	if pair.RefreshID == "" {
		t.Fatal("expected refresh id")
	}
	if !pair.AccessExpiresAt.Equal(clock.Now().Add(15 * time.Minute)) {
		t.Fatalf("unexpected access expiry %v", pair.AccessExpiresAt)
	}

	access, err := m.VerifyAccess(pair.Access)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if access.Subject != "acct-1" || access.Username != "alice" || access.Purpose != PurposeAccess {
		t.Fatalf("unexpected access claims %+v", access)
	}

	refresh, err := m.VerifyRefresh(pair.Refresh)
	if err != nil {
		t.Fatalf("VerifyRefresh: %v", err)
	}
	if refresh.TokenID != pair.RefreshID || refresh.Subject != "acct-1" {
		t.Fatalf("unexpected refresh claims %+v", refresh)
	}
	if !refresh.ExpiresAt.Equal(pair.RefreshExpiresAt) {
		t.Fatalf("refresh expiry mismatch %v vs %v", refresh.ExpiresAt, pair.RefreshExpiresAt)
	}
}

func TestRefreshIDsAreUnique(t *testing.T) {
	m := newHSManager(t, newFakeClock())
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		pair, err := m.IssuePair("acct-1", "alice")
		if err != nil {
			t.Fatalf("IssuePair: %v", err)
		}
		if _, dup := seen[pair.RefreshID]; dup {
			t.Fatalf("duplicate refresh id %s", pair.RefreshID)
		}
		seen[pair.RefreshID] = struct{}{}
	}
}

func TestVerifyAccessAfterExpiryFails(t *testing.T) {
	clock := newFakeClock()
	m := newHSManager(t, clock)

	pair, err := m.IssuePair("acct-1", "alice")
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}

	clock.Advance(15*time.Minute + time.Second)
	if _, err := m.VerifyAccess(pair.Access); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if _, err := m.VerifyRefresh(pair.Refresh); err != nil {
		t.Fatalf("refresh token should still be valid: %v", err)
	}
}

func TestExpiryIsStrictRegardlessOfClockSkew(t *testing.T) {
	clock := newFakeClock()
	m := newHSManager(t, clock, func(c *Config) { c.ClockSkew = 2 * time.Minute })

	pair, err := m.IssuePair("acct-1", "alice")
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}

	clock.Advance(15*time.Minute - time.Second)
	if _, err := m.VerifyAccess(pair.Access); err != nil {
		t.Fatalf("token before exp should pass: %v", err)
	}
	clock.Advance(time.Second)
	if _, err := m.VerifyAccess(pair.Access); !errors.Is(err, ErrExpired) {
		t.Fatalf("token at exp: expected ErrExpired, got %v", err)
	}

	clock.Advance(7 * 24 * time.Hour)
	if _, err := m.VerifyRefresh(pair.Refresh); !errors.Is(err, ErrExpired) {
		t.Fatalf("refresh past exp: expected ErrExpired, got %v", err)
	}
}

func TestClockSkewAppliesToIssuedAt(t *testing.T) {
	issuerClock := newFakeClock()
	issuerClock.Advance(time.Minute)
	issuer := newHSManager(t, issuerClock)
	pair, err := issuer.IssuePair("acct-1", "alice")
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}

	strict := newHSManager(t, newFakeClock())
	if _, err := strict.VerifyAccess(pair.Access); !errors.Is(err, ErrClaimsInvalid) {
		t.Fatalf("future iat without skew: expected ErrClaimsInvalid, got %v", err)
	}
	tolerant := newHSManager(t, newFakeClock(), func(c *Config) { c.ClockSkew = 2 * time.Minute })
	if _, err := tolerant.VerifyAccess(pair.Access); err != nil {
		t.Fatalf("future iat within skew should pass: %v", err)
	}
}

func TestCrossPurposeRejected(t *testing.T) {
	m := newHSManager(t, newFakeClock())
	pair, _ := m.IssuePair("acct-1", "alice")

	if _, err := m.VerifyAccess(pair.Refresh); !errors.Is(err, ErrPurposeMismatch) {
		t.Fatalf("refresh as access: expected ErrPurposeMismatch, got %v", err)
	}
	if _, err := m.VerifyRefresh(pair.Access); !errors.Is(err, ErrPurposeMismatch) {
		t.Fatalf("access as refresh: expected ErrPurposeMismatch, got %v", err)
	}
}

func TestWrongKeyRejected(t *testing.T) {
	clock := newFakeClock()
	issuer := newHSManager(t, clock, func(c *Config) { c.PrivateKey = []byte("ffffffffffffffffffffffffffffffff") })
	verifier := newHSManager(t, clock)

	pair, _ := issuer.IssuePair("acct-1", "alice")
	if _, err := verifier.VerifyAccess(pair.Access); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestTamperedPayloadRejected(t *testing.T) {
	m := newHSManager(t, newFakeClock())
	pair, _ := m.IssuePair("acct-1", "alice")

	parts := strings.Split(pair.Access, ".")
	other, _ := m.IssuePair("acct-2", "bob")
	forged := parts[0] + "." + strings.Split(other.Access, ".")[1] + "." + parts[2]
	if _, err := m.VerifyAccess(forged); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestWrongAlgorithmRejected(t *testing.T) {
	clock := newFakeClock()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	edMgr, err := NewManager(Config{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		Issuer:        "authcore",
	}, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	hsMgr := newHSManager(t, clock)

	pair, _ := hsMgr.IssuePair("acct-1", "alice")
	if _, err := edMgr.VerifyAccess(pair.Access); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected HS256 token rejected by Ed25519 manager, got %v", err)
	}

	edPair, err := edMgr.IssuePair("acct-1", "alice")
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	if _, err := edMgr.VerifyAccess(edPair.Access); err != nil {
		t.Fatalf("Ed25519 round trip: %v", err)
	}
}

func TestIssuerAndAudienceEnforced(t *testing.T) {
	clock := newFakeClock()
	m := newHSManager(t, clock, func(c *Config) { c.Audience = "api" })

	claims := wireClaims{
		Purpose: PurposeAccess,
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   "acct-1",
			ID:        "x",
			Issuer:    "someone-else",
			Audience:  gjwt.ClaimStrings{"api"},
			IssuedAt:  gjwt.NewNumericDate(clock.Now()),
			ExpiresAt: gjwt.NewNumericDate(clock.Now().Add(time.Minute)),
		},
	}
	signed, _ := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString(testSecret)
	if _, err := m.VerifyAccess(signed); !errors.Is(err, ErrClaimsInvalid) {
		t.Fatalf("wrong issuer: expected ErrClaimsInvalid, got %v", err)
	}

	claims.Issuer = "authcore"
	claims.Audience = gjwt.ClaimStrings{"other"}
	signed, _ = gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString(testSecret)
	if _, err := m.VerifyAccess(signed); !errors.Is(err, ErrClaimsInvalid) {
		t.Fatalf("wrong audience: expected ErrClaimsInvalid, got %v", err)
	}
}

func TestKeyRotationWithKid(t *testing.T) {
	clock := newFakeClock()
	oldKey := []byte("old-old-old-old-old-old-old-old-")
	newKey := testSecret

	oldMgr := newHSManager(t, clock, func(c *Config) {
		c.PrivateKey = oldKey
		c.KeyID = "k1"
	})
	rotated := newHSManager(t, clock, func(c *Config) {
		c.PrivateKey = newKey
		c.KeyID = "k2"
		c.VerifyKeys = map[string][]byte{"k1": oldKey, "k2": newKey}
	})

	oldPair, _ := oldMgr.IssuePair("acct-1", "alice")
	if _, err := rotated.VerifyAccess(oldPair.Access); err != nil {
		t.Fatalf("token signed with retired key should verify: %v", err)
	}
	newPair, _ := rotated.IssuePair("acct-1", "alice")
	if _, err := oldMgr.VerifyAccess(newPair.Access); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("unknown kid should be rejected, got %v", err)
	}
}

func TestMalformedTokens(t *testing.T) {
	m := newHSManager(t, newFakeClock())
	for _, in := range []string{"", "not-a-jwt", "a.b.c", "eyJhbGciOiJub25lIn0.eyJzdWIiOiJ4In0."} {
		if _, err := m.VerifyAccess(in); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
	if _, err := m.VerifyAccess("not-a-jwt"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestNewManagerValidation(t *testing.T) {
	base := Config{AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodHS256, PrivateKey: testSecret}
	cases := map[string]func(*Config){
		"short secret":     func(c *Config) { c.PrivateKey = []byte("short") },
		"zero access ttl":  func(c *Config) { c.AccessTTL = 0 },
		"refresh < access": func(c *Config) { c.RefreshTTL = time.Second },
		"skew too large":   func(c *Config) { c.ClockSkew = time.Hour },
		"unknown method":   func(c *Config) { c.SigningMethod = "rs512" },
		"kid not in keyset": func(c *Config) {
			c.KeyID = "k9"
			c.VerifyKeys = map[string][]byte{"k1": testSecret}
		},
	}
	for name, mutate := range cases {
		cfg := base
		mutate(&cfg)
		if _, err := NewManager(cfg); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if _, err := NewManager(base); err != nil {
		t.Fatalf("base config: %v", err)
	}
}

// FuzzVerifyAccess feeds arbitrary strings to the verifier; it must never
// panic and must never accept a token it did not sign.
func FuzzVerifyAccess(f *testing.F) {
	clock := newFakeClock()
	m, err := NewManager(Config{
		AccessTTL:     5 * time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    testSecret,
		Issuer:        "fuzz",
	}, WithClock(clock.Now))
	if err != nil {
		f.Fatal(err)
	}
	pair, err := m.IssuePair("acct", "fuzzer")
	if err != nil {
		f.Fatal(err)
	}

	f.Add(pair.Access)
	f.Add(pair.Refresh)
	f.Add("")
	f.Add("not.a.jwt")
	f.Add("eyJhbGciOiJub25lIn0.eyJzdWIiOiJ0ZXN0In0.")

	f.Fuzz(func(t *testing.T, input string) {
		claims, err := m.VerifyAccess(input)
		if err != nil {
			return
		}
		if claims.Subject != "acct" {
			t.Fatalf("accepted foreign token with subject %q", claims.Subject)
		}
	})
}
