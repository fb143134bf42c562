package engine

import "time"

// stepTimer is the per-step countdown. Each arm bumps the generation so a
// firing that raced with cancel or re-arm can be recognized as stale.
type stepTimer struct {
	clock    Clock
	duration time.Duration

	generation uint64
	armed      bool
	deadline   time.Time
	timer      Timer
	frozen     time.Duration
}

func newStepTimer(clock Clock, duration time.Duration) *stepTimer {
	return &stepTimer{clock: clock, duration: duration}
}

// arm starts a fresh countdown and returns its generation. onExpire receives
// that generation when the countdown elapses.
func (t *stepTimer) arm(onExpire func(generation uint64)) uint64 {
	t.stop()
	t.generation++
	generation := t.generation
	t.armed = true
	t.deadline = t.clock.Now().Add(t.duration)
	t.frozen = 0
	t.timer = t.clock.AfterFunc(t.duration, func() {
		onExpire(generation)
	})
	return generation
}

// cancel stops the countdown and freezes the remaining time.
func (t *stepTimer) cancel() {
	if !t.armed {
		return
	}
	t.frozen = t.remaining()
	t.stop()
}

func (t *stepTimer) stop() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.armed = false
}

// current reports whether generation belongs to the live countdown.
func (t *stepTimer) current(generation uint64) bool {
	return t.armed && t.generation == generation
}

func (t *stepTimer) remaining() time.Duration {
	if !t.armed {
		return t.frozen
	}
	left := t.deadline.Sub(t.clock.Now())
	if left < 0 {
		return 0
	}
	return left
}
