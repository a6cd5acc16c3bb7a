package catalog

import (
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Backoff picks the wait before the next retry from the previous wait,
// which is zero before the first retry.
type Backoff interface {
	Delay(prev time.Duration) time.Duration
}

// ConstantBackoff always waits the same duration.
type ConstantBackoff time.Duration

func (b ConstantBackoff) Delay(time.Duration) time.Duration { return time.Duration(b) }

// DecorrelatedJitter draws each wait uniformly from [Base, 3*prev], capped
// at Cap. Concurrent workers retrying the same outage spread out instead
// of hitting the gateway in lockstep.
type DecorrelatedJitter struct {
	Base time.Duration
	Cap  time.Duration
}

// DefaultBackoff returns the strategy used between catalog retries.
func DefaultBackoff() DecorrelatedJitter {
	return DecorrelatedJitter{Base: 500 * time.Millisecond, Cap: 15 * time.Second}
}

func (b DecorrelatedJitter) Delay(prev time.Duration) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	hi := min(3*max(prev, b.Base), max(b.Cap, b.Base))
	if hi <= b.Base {
		return b.Base
	}
	return b.Base + rand.N(hi-b.Base+1)
}

// retryAfter reads a Retry-After header given either as delay seconds or
// as an HTTP date. It reports false when the header is absent, malformed
// or already in the past.
func retryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	at, err := http.ParseTime(v)
	if err != nil || !at.After(now) {
		return 0, false
	}
	return at.Sub(now), true
}
