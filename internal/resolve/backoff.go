package resolve

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"time"
)

// BackoffPolicy bounds how fast a backend is retried. Jitter is off by
// default so retry timing stays deterministic; when enabled it is
// derived from the seed, not from a random source, so a given
// resolution always waits the same amounts.
type BackoffPolicy struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
	Jitter     bool
}

// DelayBeforeAttempt returns the wait before the 1-indexed attempt.
// The first attempt never waits; attempt n waits
// min(cap, initial * multiplier^(n-2)).
func (p BackoffPolicy) DelayBeforeAttempt(attempt int, jitterSeed string) time.Duration {
	if attempt <= 1 || p.Initial <= 0 {
		return 0
	}
	factor := p.Multiplier
	if factor < 1 {
		factor = 1
	}
	base := float64(p.Initial) * math.Pow(factor, float64(attempt-2))
	if p.Max > 0 {
		base = math.Min(base, float64(p.Max))
	}
	if p.Jitter {
		base *= 0.5 + jitterUnit(jitterSeed) // [0.5, 1.5)
	}
	if base < 0 {
		base = 0
	}
	return time.Duration(base)
}

// ScheduleAttempts lists the delay before each of maxAttempts attempts.
func ScheduleAttempts(maxAttempts int, p BackoffPolicy) []time.Duration {
	if maxAttempts <= 0 {
		return nil
	}
	delays := make([]time.Duration, maxAttempts)
	for i := range delays {
		delays[i] = p.DelayBeforeAttempt(i+1, "")
	}
	return delays
}

func jitterUnit(seed string) float64 {
	sum := sha256.Sum256([]byte(seed))
	u := binary.BigEndian.Uint64(sum[:8])
	return float64(u) / float64(^uint64(0))
}
