// Package recovery holds the pure remediation-selection logic and the
// fault classifier/router that drives it.
package recovery

import (
	"math"
	"math/rand"
	"time"

	"github.com/dkeye/voicelink/internal/core"
)

// Strategy names the remediation applied to a recoverable fault.
type Strategy string

const (
	StrategyRetryConnection Strategy = "retry-connection"
	StrategyRestartMedia    Strategy = "restart-media"
	StrategyRecreateChannel Strategy = "recreate-channel"
	StrategyFullReconnect   Strategy = "full-reconnect"
)

// SelectStrategy picks a remediation from the fault code alone.
// Deterministic, no hidden state.
func SelectStrategy(code core.FaultCode) Strategy {
	switch code {
	case core.FaultNetworkTimeout:
		return StrategyRetryConnection
	case core.FaultMediaConnection:
		return StrategyRestartMedia
	case core.FaultChannelFailed:
		return StrategyRecreateChannel
	default:
		return StrategyFullReconnect
	}
}

// BackoffPolicy parameterizes the delay schedule of one recovery episode.
type BackoffPolicy struct {
	Base       time.Duration
	Cap        time.Duration
	Multiplier float64
}

func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Base:       500 * time.Millisecond,
		Cap:        10 * time.Second,
		Multiplier: 2,
	}
}

// Backoff computes the delay before the given attempt. The first attempt
// is always immediate; attempt n (n>=2) is
// min(base * multiplier^(n-2) + jitter, cap) with jitter uniform in
// [0, 0.1*exponential]. Safe for concurrent use.
func Backoff(attempt int, p BackoffPolicy) time.Duration {
	if attempt <= 1 {
		return 0
	}
	exp := float64(p.Base) * math.Pow(p.Multiplier, float64(attempt-2))
	jitter := rand.Float64() * 0.1 * exp
	d := time.Duration(exp + jitter)
	if d > p.Cap {
		return p.Cap
	}
	return d
}

// RetryState tracks one recovery episode. It is scoped to a single
// originating fault and never shared across unrelated faults.
type RetryState struct {
	Attempt     int
	MaxAttempts int
	Policy      BackoffPolicy
}

func NewRetryState(max int, p BackoffPolicy) *RetryState {
	return &RetryState{MaxAttempts: max, Policy: p}
}

// Next advances to the following attempt and returns its delay, or false
// when the episode is exhausted.
func (r *RetryState) Next() (time.Duration, bool) {
	if r.Attempt >= r.MaxAttempts {
		return 0, false
	}
	r.Attempt++
	return Backoff(r.Attempt, r.Policy), true
}

// Reset returns the episode to zero attempts.
func (r *RetryState) Reset() { r.Attempt = 0 }
