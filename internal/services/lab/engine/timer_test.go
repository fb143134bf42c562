package engine

import (
	"testing"
	"time"
)

func TestStepTimerGenerations(t *testing.T) {
	clock := newManualClock()
	timer := newStepTimer(clock, time.Minute)

	var fired []uint64
	first := timer.arm(func(generation uint64) { fired = append(fired, generation) })
	clock.Advance(20 * time.Second)
	if got := timer.remaining(); got != 40*time.Second {
		t.Fatalf("expected 40s remaining, got %s", got)
	}

	second := timer.arm(func(generation uint64) { fired = append(fired, generation) })
	if timer.current(first) {
		t.Fatal("expected re-arm to retire the first generation")
	}
	if !timer.current(second) {
		t.Fatal("expected second generation to be live")
	}

	clock.Advance(time.Minute)
	if len(fired) != 1 || fired[0] != second {
		t.Fatalf("expected only second generation to fire, got %v", fired)
	}
}

func TestStepTimerCancelFreezesRemaining(t *testing.T) {
	clock := newManualClock()
	timer := newStepTimer(clock, time.Minute)
	generation := timer.arm(func(uint64) { t.Fatal("cancelled timer fired") })

	clock.Advance(15 * time.Second)
	timer.cancel()
	clock.Advance(time.Hour)

	if timer.current(generation) {
		t.Fatal("expected cancelled generation to be stale")
	}
	if got := timer.remaining(); got != 45*time.Second {
		t.Fatalf("expected frozen 45s, got %s", got)
	}
}
