package main

import (
	"math/rand"
	"testing"
	"time"
)

func TestPercentile(t *testing.T) {
	samples := make([]time.Duration, 100)
	for i := range samples {
		samples[i] = time.Duration(i+1) * time.Millisecond
	}
	cases := map[int]time.Duration{
		0:   time.Millisecond,
		50:  50 * time.Millisecond,
		99:  99 * time.Millisecond,
		100: 100 * time.Millisecond,
	}
	for p, want := range cases {
		if got := percentile(samples, p); got != want {
			t.Fatalf("p%d: got %s want %s", p, got, want)
		}
	}
	if got := percentile(nil, 50); got != 0 {
		t.Fatalf("empty samples: got %s", got)
	}
}

func TestRunPhaseCountsEveryOp(t *testing.T) {
	s := runPhase(500, 8, 31, func(_ *rand.Rand, op int) error {
		if op%10 == 0 {
			return errTest
		}
		return nil
	})
	if s.ops != 500 {
		t.Fatalf("expected 500 ops, got %d", s.ops)
	}
	if s.failures != 50 {
		t.Fatalf("expected 50 failures, got %d", s.failures)
	}
	if s.p50 > s.p99 {
		t.Fatalf("percentiles out of order: p50=%s p99=%s", s.p50, s.p99)
	}
}

type testError string

func (e testError) Error() string { return string(e) }

const errTest = testError("boom")
