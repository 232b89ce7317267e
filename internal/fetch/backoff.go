package fetch

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// Backoff computes jittered exponential delays between attempts.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff starts at 250ms and caps at 5s.
func DefaultBackoff() Backoff {
	return Backoff{Base: 250 * time.Millisecond, Max: 5 * time.Second}
}

// Delay returns the wait before retry number retry (0-based). The result lies in [d/2, d) where d is
// Base*2^retry capped at Max.
func (b Backoff) Delay(retry int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if retry < 0 {
		retry = 0
	}
	delay := float64(b.Base) * math.Pow(2, float64(retry))
	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	return time.Duration(delay/2) + randomJitter(time.Duration(delay)/2)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
