package resolve

import (
	"testing"
	"time"
)

func TestDelayBeforeAttempt(t *testing.T) {
	p := BackoffPolicy{Initial: 250 * time.Millisecond, Multiplier: 2.0, Max: 5 * time.Second}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 0},
		{2, 250 * time.Millisecond},
		{3, 500 * time.Millisecond},
		{4, 1 * time.Second},
		{5, 2 * time.Second},
		{6, 4 * time.Second},
		{7, 5 * time.Second}, // capped
		{8, 5 * time.Second},
	}
	for _, tc := range cases {
		if got := p.DelayBeforeAttempt(tc.attempt, ""); got != tc.want {
			t.Errorf("attempt %d: delay = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestDelayBeforeAttemptZeroInitial(t *testing.T) {
	p := BackoffPolicy{Initial: 0, Multiplier: 2.0, Max: 5 * time.Second}
	if got := p.DelayBeforeAttempt(4, ""); got != 0 {
		t.Errorf("zero initial should never wait, got %v", got)
	}
}

func TestDelayBeforeAttemptSubUnityMultiplier(t *testing.T) {
	p := BackoffPolicy{Initial: time.Second, Multiplier: 0.5, Max: 5 * time.Second}
	if got := p.DelayBeforeAttempt(3, ""); got != time.Second {
		t.Errorf("multiplier below 1 should clamp to 1, got %v", got)
	}
}

func TestDelayBeforeAttemptJitterDeterministic(t *testing.T) {
	p := BackoffPolicy{Initial: time.Second, Multiplier: 2.0, Max: 10 * time.Second, Jitter: true}
	a := p.DelayBeforeAttempt(3, "seed")
	b := p.DelayBeforeAttempt(3, "seed")
	if a != b {
		t.Fatalf("same seed produced different delays: %v vs %v", a, b)
	}
	base := 2 * time.Second
	if a < base/2 || a > base*3/2 {
		t.Errorf("jittered delay %v outside [%v, %v]", a, base/2, base*3/2)
	}
	if c := p.DelayBeforeAttempt(3, "other-seed"); c == a {
		t.Logf("distinct seeds collided at %v; possible but unexpected", c)
	}
}

func TestScheduleAttempts(t *testing.T) {
	p := BackoffPolicy{Initial: 500 * time.Millisecond, Multiplier: 2.0, Max: 5 * time.Second}
	got := ScheduleAttempts(4, p)
	want := []time.Duration{0, 500 * time.Millisecond, time.Second, 2 * time.Second}
	if len(got) != len(want) {
		t.Fatalf("schedule = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if got := ScheduleAttempts(0, p); got != nil {
		t.Errorf("zero attempts should schedule nothing, got %v", got)
	}
}
