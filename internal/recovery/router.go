package recovery

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicelink/internal/core"
)

// Outcome reports how the router disposed of a fault.
type Outcome int

const (
	// OutcomeRecovered means a retry attempt succeeded.
	OutcomeRecovered Outcome = iota
	// OutcomeExhausted means every attempt failed and the fault was
	// escalated to the fatal callback.
	OutcomeExhausted
	// OutcomeSkipped means another recovery episode for this connection
	// was already in flight; nothing was attempted or queued.
	OutcomeSkipped
	// OutcomeEscalated means the fault skipped local retry entirely
	// (non-recoverable, or routed to credential refresh).
	OutcomeEscalated
	// OutcomeAborted means the caller's context ended mid-episode; the
	// fault is neither recovered nor fatal.
	OutcomeAborted
)

// Executor performs one remediation attempt for the given strategy.
type Executor func(ctx context.Context, s Strategy) error

// Router classifies faults and drives recovery episodes. Attempts within
// an episode are strictly sequential; a second fault arriving while an
// episode runs is skipped, never queued.
type Router struct {
	MaxAttempts int
	Policy      BackoffPolicy

	// OnFatal receives non-recoverable faults and exhausted episodes.
	OnFatal func(*core.Fault)
	// OnAuthRefresh receives authentication faults for credential renewal.
	OnAuthRefresh func(context.Context, *core.Fault)

	bus      *core.Bus
	logger   zerolog.Logger
	inFlight atomic.Bool

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRouter(bus *core.Bus, maxAttempts int, policy BackoffPolicy) *Router {
	return &Router{
		MaxAttempts: maxAttempts,
		Policy:      policy,
		bus:         bus,
		logger:      log.With().Str("module", "recovery").Logger(),
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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

// Handle classifies err and either escalates it or runs a recovery
// episode with exec. Escalation callbacks are invoked in-line.
func (r *Router) Handle(ctx context.Context, err error, exec Executor) Outcome {
	fault := Classify(err)

	switch {
	case fault.Code == core.FaultAuthenticationFailed:
		// No local backoff: renewal is the host's job.
		r.logger.Warn().Str("code", string(fault.Code)).Msg("escalating to credential refresh")
		if r.OnAuthRefresh != nil {
			r.OnAuthRefresh(ctx, fault)
		}
		return OutcomeEscalated
	case fault.Code == core.FaultNegotiationFailed, !fault.Recoverable:
		r.logger.Error().Str("code", string(fault.Code)).Err(fault).Msg("non-recoverable fault")
		if r.OnFatal != nil {
			r.OnFatal(fault)
		}
		return OutcomeEscalated
	}

	if !r.inFlight.CompareAndSwap(false, true) {
		r.logger.Warn().Str("code", string(fault.Code)).Msg("recovery already in flight, skipping")
		return OutcomeSkipped
	}
	defer r.inFlight.Store(false)

	return r.runEpisode(ctx, fault, exec)
}

func (r *Router) runEpisode(ctx context.Context, fault *core.Fault, exec Executor) Outcome {
	strategy := SelectStrategy(fault.Code)
	state := NewRetryState(r.MaxAttempts, r.Policy)
	r.logger.Info().
		Str("code", string(fault.Code)).
		Str("strategy", string(strategy)).
		Int("max_attempts", state.MaxAttempts).
		Msg("recovery episode started")

	for {
		delay, ok := state.Next()
		if !ok {
			break
		}
		if err := r.sleep(ctx, delay); err != nil {
			// Orderly shutdown, not exhaustion: no fatal escalation.
			r.logger.Info().Str("code", string(fault.Code)).Msg("recovery aborted by context")
			return OutcomeAborted
		}

		r.bus.Emit(core.EventReconnectAttempt, core.ReconnectPayload{
			Strategy: string(strategy),
			Attempt:  state.Attempt,
			Max:      state.MaxAttempts,
		})

		attemptErr := exec(ctx, strategy)
		if attemptErr == nil {
			r.bus.Emit(core.EventReconnectSucceeded, core.ReconnectPayload{
				Strategy: string(strategy),
				Attempt:  state.Attempt,
				Max:      state.MaxAttempts,
			})
			r.logger.Info().Int("attempt", state.Attempt).Msg("recovery succeeded")
			return OutcomeRecovered
		}

		r.bus.Emit(core.EventReconnectFailed, core.ReconnectPayload{
			Strategy: string(strategy),
			Attempt:  state.Attempt,
			Max:      state.MaxAttempts,
			Error:    attemptErr.Error(),
		})
		r.logger.Warn().Err(attemptErr).Int("attempt", state.Attempt).Msg("recovery attempt failed")
	}

	r.logger.Error().Str("code", string(fault.Code)).Msg("recovery exhausted")
	if r.OnFatal != nil {
		r.OnFatal(fault)
	}
	return OutcomeExhausted
}
