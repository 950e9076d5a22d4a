// Package retry implements the exponential-backoff-with-jitter and
// linear-backoff policies used by the caption provider (C6) and the
// Gateway submission client (C11), honoring a server-supplied Retry-After
// when present.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy is an exponential backoff policy with jitter, per §4.5:
// delay = min(base * 2^attempt, max) ± jitter fuzz.
type Policy struct {
	MaxRetries int
	Base       time.Duration
	Max        time.Duration
	Jitter     float64 // fraction, e.g. 0.2 == ±20%
}

// DefaultCaptionPolicy matches the cloud caption backend defaults.
func DefaultCaptionPolicy() Policy {
	return Policy{
		MaxRetries: 5,
		Base:       500 * time.Millisecond,
		Max:        20 * time.Second,
		Jitter:     0.2,
	}
}

// Delay returns the backoff delay before attempt N (0-indexed) with the
// ±Jitter fuzz already applied from math/rand, or, when retryAfter > 0,
// the Retry-After override capped at Max (without jitter).
func (p Policy) Delay(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		if retryAfter > p.Max {
			return p.Max
		}
		return retryAfter
	}

	base := float64(p.Base) * math.Pow(2, float64(attempt))
	if base > float64(p.Max) {
		base = float64(p.Max)
	}

	if p.Jitter <= 0 {
		return time.Duration(base)
	}
	fuzz := 1 + (rand.Float64()*2-1)*p.Jitter
	d := time.Duration(base * fuzz)
	if d < 0 {
		d = 0
	}
	return d
}

// LinearPolicy implements the Gateway HTTP-layer backoff: delay = 0.5 * attempt seconds.
type LinearPolicy struct {
	MaxAttempts int
	Step        time.Duration
}

// DefaultGatewayPolicy matches the Gateway submission client defaults (§4.10).
func DefaultGatewayPolicy() LinearPolicy {
	return LinearPolicy{MaxAttempts: 3, Step: 500 * time.Millisecond}
}

func (p LinearPolicy) Delay(attempt int) time.Duration {
	return p.Step * time.Duration(attempt)
}

// Classifier decides whether an HTTP status code is retryable for a given policy.
type Classifier func(statusCode int) bool

// CaptionRetryable matches §4.5: retry on 429 and 5xx.
func CaptionRetryable(statusCode int) bool {
	return statusCode == 429 || (statusCode >= 500 && statusCode < 600)
}

// GatewayRetryable matches §4.10: retry on 429 and 503 only.
func GatewayRetryable(statusCode int) bool {
	return statusCode == 429 || statusCode == 503
}

// Sleep blocks for d or until ctx is cancelled, whichever comes first.
// Returns ctx.Err() if cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
