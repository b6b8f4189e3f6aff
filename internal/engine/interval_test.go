package engine

import (
	"testing"
	"time"
)

func TestFastIntervalBounds(t *testing.T) {
	cases := []struct {
		name             string
		consecutiveEmpty int
		min, max         time.Duration
	}{
		{"fresh", 0, 500 * time.Millisecond, 800 * time.Millisecond},
		{"at step threshold", 10, 500 * time.Millisecond, 800 * time.Millisecond},
		{"one step", 15, 700 * time.Millisecond, 1000 * time.Millisecond},
		{"capped", 60, 1100 * time.Millisecond, 1400 * time.Millisecond},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for i := 0; i < 200; i++ {
				d := fastInterval(tc.consecutiveEmpty)
				if d < tc.min || d > tc.max {
					t.Fatalf("fastInterval(%d) = %v, want in [%v, %v]", tc.consecutiveEmpty, d, tc.min, tc.max)
				}
			}
		})
	}
}

func TestFastIntervalNeverBelowFloor(t *testing.T) {
	for empty := 0; empty < 120; empty++ {
		for i := 0; i < 50; i++ {
			if d := fastInterval(empty); d < fastFloor {
				t.Fatalf("fastInterval(%d) = %v, below floor %v", empty, d, fastFloor)
			}
		}
	}
}

func TestSlowIntervalJitterBounds(t *testing.T) {
	step := 10 * time.Second
	min := 8 * time.Second
	max := 12 * time.Second
	for i := 0; i < 200; i++ {
		d := slowInterval(step)
		if d < min || d > max {
			t.Fatalf("slowInterval(%v) = %v, want within ±20%%", step, d)
		}
	}
}
