package jobrunner

import (
	"math/rand"
	"testing"
	"time"
)

func TestNextRetryAt_StaysWithinExponentialWindow(t *testing.T) {
	cfg := DefaultBackoff()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		attempt int
		max     time.Duration
	}{
		{0, 5 * time.Second},
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{4, 40 * time.Second},
		{5, 80 * time.Second},
		{6, 2 * time.Minute},
		{40, 2 * time.Minute},
		{1 << 20, 2 * time.Minute},
	}
	for _, tt := range tests {
		rng := rand.New(rand.NewSource(int64(tt.attempt)))
		for i := 0; i < 50; i++ {
			next := NextRetryAt(now, tt.attempt, cfg, rng)
			if next.Before(now) || next.After(now.Add(tt.max)) {
				t.Fatalf("attempt %d: delay %s outside [0, %s]", tt.attempt, next.Sub(now), tt.max)
			}
		}
	}
}

func TestNextRetryAt_FixesUnsetConfig(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	next := NextRetryAt(now, 3, BackoffConfig{}, rand.New(rand.NewSource(3)))
	if next.Before(now) || next.After(now.Add(time.Minute)) {
		t.Fatalf("delay %s outside default cap", next.Sub(now))
	}
}
