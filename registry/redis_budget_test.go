package registry

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// cmdCounter is a go-redis hook counting commands sent to Redis.
type cmdCounter struct {
	commands atomic.Int64
}

func (h *cmdCounter) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *cmdCounter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.commands.Add(1)
		return next(ctx, cmd)
	}
}

func (h *cmdCounter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		h.commands.Add(int64(len(cmds)))
		return next(ctx, cmds)
	}
}

func newCountedRegistry(t *testing.T) (*Redis, *cmdCounter) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	// Warm the connection so handshake commands are not counted.
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("warmup ping: %v", err)
	}
	counter := &cmdCounter{}
	rdb.AddHook(counter)
	return NewRedis(rdb, "budget"), counter
}

// Script calls may cost EVALSHA plus an EVAL fallback the first time.
func TestRegistryRedisBudget(t *testing.T) {
	reg, counter := newCountedRegistry(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	steps := []struct {
		name   string
		budget int64
		run    func() error
	}{
		{"register", 2, func() error { return reg.Register(ctx, "jti-1", "acct-1", exp) }},
		{"register again", 1, func() error { return reg.Register(ctx, "jti-2", "acct-1", exp) }},
		{"is revoked", 1, func() error { _, err := reg.IsRevoked(ctx, "jti-1"); return err }},
		{"revoke", 2, func() error { return reg.Revoke(ctx, "jti-1") }},
		{"revoke all", 2, func() error { _, err := reg.RevokeAll(ctx, "acct-1"); return err }},
	}
	for _, s := range steps {
		counter.commands.Store(0)
		if err := s.run(); err != nil {
			t.Fatalf("%s: %v", s.name, err)
		}
		if got := counter.commands.Load(); got > s.budget {
			t.Errorf("%s used %d Redis commands; budget is %d", s.name, got, s.budget)
		}
	}
}
