package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRegistryTest(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return NewRedis(rdb, "test"), mr
}

func TestRegisterAndRevoke(t *testing.T) {
	reg, _ := newRegistryTest(t)
	ctx := context.Background()

	if err := reg.Register(ctx, "jti-1", "acct-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("register: %v", err)
	}
	revoked, err := reg.IsRevoked(ctx, "jti-1")
	if err != nil || revoked {
		t.Fatalf("fresh token should be active, revoked=%v err=%v", revoked, err)
	}

	if err := reg.Revoke(ctx, "jti-1"); err != nil {
		t.Fatalf("first revoke: %v", err)
	}
	if err := reg.Revoke(ctx, "jti-1"); !errors.Is(err, ErrAlreadyRevoked) {
		t.Fatalf("second revoke: expected ErrAlreadyRevoked, got %v", err)
	}
	revoked, err = reg.IsRevoked(ctx, "jti-1")
	if err != nil || !revoked {
		t.Fatalf("revoked token should report revoked, revoked=%v err=%v", revoked, err)
	}
}

func TestRegisterDuplicateAndExpired(t *testing.T) {
	reg, _ := newRegistryTest(t)
	ctx := context.Background()

	if err := reg.Register(ctx, "jti-1", "acct-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(ctx, "jti-1", "acct-2", time.Now().Add(time.Hour)); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if err := reg.Register(ctx, "jti-2", "acct-1", time.Now().Add(-time.Second)); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestUnknownTokenCountsAsRevoked(t *testing.T) {
	reg, _ := newRegistryTest(t)
	ctx := context.Background()

	revoked, err := reg.IsRevoked(ctx, "never-issued")
	if err != nil || !revoked {
		t.Fatalf("unknown id must be revoked, revoked=%v err=%v", revoked, err)
	}
	if err := reg.Revoke(ctx, "never-issued"); !errors.Is(err, ErrAlreadyRevoked) {
		t.Fatalf("expected ErrAlreadyRevoked, got %v", err)
	}
}

func TestEntriesExpireWithToken(t *testing.T) {
	reg, mr := newRegistryTest(t)
	ctx := context.Background()

	if err := reg.Register(ctx, "jti-1", "acct-1", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Revoke(ctx, "jti-1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	// Revocation keeps the remaining lifetime.
	if ttl := mr.TTL("test:t:jti-1"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected ttl after revoke: %v", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if mr.Exists("test:t:jti-1") {
		t.Fatal("entry should be garbage collected after expiry")
	}
	revoked, err := reg.IsRevoked(ctx, "jti-1")
	if err != nil || !revoked {
		t.Fatalf("expired id must be revoked, revoked=%v err=%v", revoked, err)
	}
}

func TestRevokeAll(t *testing.T) {
	reg, mr := newRegistryTest(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	for i := 0; i < 3; i++ {
		if err := reg.Register(ctx, fmt.Sprintf("a-%d", i), "acct-1", exp); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	if err := reg.Register(ctx, "b-0", "acct-2", exp); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Revoke(ctx, "a-0"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	n, err := reg.RevokeAll(ctx, "acct-1")
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 newly revoked tokens, got %d", n)
	}
	for i := 0; i < 3; i++ {
		if revoked, _ := reg.IsRevoked(ctx, fmt.Sprintf("a-%d", i)); !revoked {
			t.Fatalf("a-%d should be revoked", i)
		}
	}
	if revoked, _ := reg.IsRevoked(ctx, "b-0"); revoked {
		t.Fatal("other account's token must stay active")
	}

	n, err = reg.RevokeAll(ctx, "acct-1")
	if err != nil || n != 0 {
		t.Fatalf("second revoke all: n=%d err=%v", n, err)
	}
	if !mr.Exists("test:a:acct-1") {
		t.Fatal("account index should remain while entries live")
	}
}

func TestPruneAccount(t *testing.T) {
	reg, mr := newRegistryTest(t)
	ctx := context.Background()

	if err := reg.Register(ctx, "short", "acct-1", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(ctx, "long", "acct-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("register: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	removed, err := reg.PruneAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned member, got %d", removed)
	}
	members, err := mr.Members("test:a:acct-1")
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if len(members) != 1 || members[0] != "long" {
		t.Fatalf("unexpected index members %v", members)
	}
}

func TestConcurrentRevokeSingleWinner(t *testing.T) {
	reg, _ := newRegistryTest(t)
	ctx := context.Background()

	if err := reg.Register(ctx, "jti-race", "acct-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("register: %v", err)
	}

	const workers = 16
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
		losers  atomic.Int32
	)
	start := make(chan struct{})
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			<-start
			err := reg.Revoke(ctx, "jti-race")
			switch {
			case err == nil:
				winners.Add(1)
			case errors.Is(err, ErrAlreadyRevoked):
				losers.Add(1)
			default:
				t.Errorf("unexpected revoke error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if winners.Load() != 1 || losers.Load() != workers-1 {
		t.Fatalf("expected exactly one winner, got winners=%d losers=%d", winners.Load(), losers.Load())
	}
}

func TestRedisFailureIsUnavailable(t *testing.T) {
	reg, mr := newRegistryTest(t)
	mr.Close()
	ctx := context.Background()

	if err := reg.Register(ctx, "jti", "acct", time.Now().Add(time.Hour)); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("register: expected ErrUnavailable, got %v", err)
	}
	if _, err := reg.IsRevoked(ctx, "jti"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("is revoked: expected ErrUnavailable, got %v", err)
	}
	if err := reg.Revoke(ctx, "jti"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("revoke: expected ErrUnavailable, got %v", err)
	}
	if _, err := reg.RevokeAll(ctx, "acct"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("revoke all: expected ErrUnavailable, got %v", err)
	}
}

func TestRevokeAllFromRequiresActiveToken(t *testing.T) {
	reg, _ := newRegistryTest(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	for _, id := range []string{"a-0", "a-1", "a-2"} {
		if err := reg.Register(ctx, id, "acct-1", exp); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	if err := reg.Revoke(ctx, "a-0"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	if _, err := reg.RevokeAllFrom(ctx, "acct-1", "a-0"); !errors.Is(err, ErrAlreadyRevoked) {
		t.Fatalf("revoked presenter: expected ErrAlreadyRevoked, got %v", err)
	}
	if _, err := reg.RevokeAllFrom(ctx, "acct-1", "unknown"); !errors.Is(err, ErrAlreadyRevoked) {
		t.Fatalf("unknown presenter: expected ErrAlreadyRevoked, got %v", err)
	}
	if revoked, _ := reg.IsRevoked(ctx, "a-1"); revoked {
		t.Fatal("a rejected call must not revoke anything")
	}

	n, err := reg.RevokeAllFrom(ctx, "acct-1", "a-1")
	if err != nil {
		t.Fatalf("revoke all from: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 revoked, got %d", n)
	}
}
