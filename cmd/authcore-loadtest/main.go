package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/labelforge/authcore/registry"
)

// tokenState is one seeded refresh lineage. rotate replaces id under mu.
type tokenState struct {
	account string
	id      string
	mu      sync.Mutex
}

func main() {
	var (
		tokens      = flag.Int("tokens", 100000, "number of refresh tokens to seed")
		accounts    = flag.Int("accounts", 1000, "number of accounts the tokens are spread over")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (check + rotate)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "authcore:rt", "registry key prefix")
	)
	flag.Parse()

	if *tokens <= 0 || *accounts <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "tokens, accounts, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	reg := registry.NewRedis(client, *prefix)
	expiresAt := time.Now().Add(24 * time.Hour)

	states := make([]tokenState, *tokens)
	fmt.Printf("seeding %d tokens over %d accounts...\n", *tokens, *accounts)
	startSeed := time.Now()
	for i := range states {
		states[i].account = fmt.Sprintf("acct-%d", i%*accounts)
		states[i].id = uuid.NewString()
		if err := reg.Register(ctx, states[i].id, states[i].account, expiresAt); err != nil {
			fmt.Fprintf(os.Stderr, "register failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	checkStats := runPhase(*ops, *concurrency, 7919, func(r *rand.Rand, _ int) error {
		st := &states[r.Intn(len(states))]
		st.mu.Lock()
		id := st.id
		st.mu.Unlock()
		revoked, err := reg.IsRevoked(ctx, id)
		if err != nil {
			return err
		}
		if revoked {
			return errors.New("active token reported revoked")
		}
		return nil
	})

	rotateStats := runPhase(*ops, *concurrency, 6151, func(r *rand.Rand, _ int) error {
		st := &states[r.Intn(len(states))]
		st.mu.Lock()
		defer st.mu.Unlock()
		if err := reg.Revoke(ctx, st.id); err != nil {
			return err
		}
		next := uuid.NewString()
		if err := reg.Register(ctx, next, st.account, expiresAt); err != nil {
			return err
		}
		st.id = next
		return nil
	})

	fmt.Println("---- results ----")
	printStats("check", checkStats)
	printStats("rotate", rotateStats)
}

// runPhase spreads ops calls of fn over concurrency workers and records
// per-call latency.
func runPhase(ops, concurrency int, seed int64, fn func(r *rand.Rand, op int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := fn(r, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
