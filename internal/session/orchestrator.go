package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicelink/internal/core"
	"github.com/dkeye/voicelink/internal/media"
	"github.com/dkeye/voicelink/internal/recovery"
)

// Transport is the connection contract the orchestrator drives.
// *rtc.Transport satisfies it; tests use a fake.
type Transport interface {
	Establish(ctx context.Context, cred core.Credential) error
	Close()
	SendMessage(data []byte) error
	SetOnMessage(fn func([]byte))
	SetOnFailure(fn func(error))
	RestartMedia(ctx context.Context) error
	RecreateChannel(ctx context.Context) *webrtc.DataChannel
	FullReconnect(ctx context.Context) error
	UpdateCredential(cred core.Credential)
	Stats() core.ConnectionStats
	State() core.ConnectionState
}

// Orchestrator ties credential refresh, text-turn dispatch and transcript
// forwarding together on top of one transport and one track manager.
type Orchestrator struct {
	transport Transport
	media     *media.Manager
	router    *recovery.Router
	creds     core.CredentialProvider
	bus       *core.Bus
	monitor   *media.QualityMonitor
	guard     responseGuard
	logger    zerolog.Logger

	// VAD tuning sent with the initial session.update.
	Voice        string
	VADThreshold float64
	VADSilenceMs int

	// QualityPoll overrides the monitor interval; zero keeps the default.
	QualityPoll time.Duration
}

func NewOrchestrator(transport Transport, mgr *media.Manager, router *recovery.Router, creds core.CredentialProvider, bus *core.Bus) *Orchestrator {
	o := &Orchestrator{
		transport: transport,
		media:     mgr,
		router:    router,
		creds:     creds,
		bus:       bus,
		logger:    log.With().Str("module", "session").Logger(),
		Voice:     "alloy",
	}
	transport.SetOnMessage(o.handleMessage)
	transport.SetOnFailure(func(err error) { go o.HandleFault(context.Background(), err) })
	router.OnAuthRefresh = o.refreshAndReconnect
	router.OnFatal = o.onFatal
	return o
}

// Connect fetches an ephemeral credential, establishes the transport,
// starts capture and begins quality monitoring.
func (o *Orchestrator) Connect(ctx context.Context) error {
	cred, err := o.creds.Refresh(ctx)
	if err != nil {
		return core.WrapFault(core.FaultAuthenticationFailed, "fetch credential", err)
	}
	if err := o.transport.Establish(ctx, cred); err != nil {
		return err
	}

	o.sendSessionConfig()

	if o.media != nil {
		if tb, ok := o.transport.(media.Transport); ok {
			o.media.Bind(tb)
		}
		if err := o.media.Start(ctx); err != nil {
			o.logger.Error().Err(err).Msg("capture start failed, continuing without local audio")
		}
		o.monitor = media.NewQualityMonitor(o.QualityPoll, o.transport.Stats, func(prev, cur core.Quality) {
			o.media.SetQuality(cur)
		})
		o.monitor.Start()
	}
	return nil
}

// sendSessionConfig queues the initial session.update; it drains to the
// service the moment the control channel opens.
func (o *Orchestrator) sendSessionConfig() {
	cfg := sessionUpdate{
		Type: MsgSessionUpdate,
		Session: sessionConfig{
			Voice:             o.Voice,
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
			TurnDetection: &turnDetection{
				Type:              "server_vad",
				Threshold:         o.VADThreshold,
				SilenceDurationMs: o.VADSilenceMs,
			},
		},
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		o.logger.Error().Err(err).Msg("marshal session config")
		return
	}
	if err := o.transport.SendMessage(raw); err != nil {
		o.logger.Error().Err(err).Msg("queue session config")
	}
}

// SendText dispatches one user text turn. A turn is rejected locally,
// before any wire message, while a prior response is outstanding.
func (o *Orchestrator) SendText(text string) error {
	if err := o.guard.begin(); err != nil {
		return err
	}

	item, err := json.Marshal(conversationItemCreate{
		Type: MsgConversationItemCreate,
		Item: conversationItem{
			Type:    "message",
			Role:    "user",
			Content: []contentPart{{Type: "input_text", Text: text}},
		},
	})
	if err != nil {
		o.guard.reset()
		return err
	}
	create, err := json.Marshal(responseCreate{Type: MsgResponseCreate})
	if err != nil {
		o.guard.reset()
		return err
	}

	if err := o.transport.SendMessage(item); err != nil {
		o.guard.reset()
		return err
	}
	if err := o.transport.SendMessage(create); err != nil {
		o.guard.reset()
		return err
	}
	o.logger.Info().Int("chars", len(text)).Msg("text turn dispatched")
	return nil
}

// ResetPendingResponse clears the guard for an explicit host reason.
func (o *Orchestrator) ResetPendingResponse(reason string) {
	o.guard.reset()
	o.logger.Info().Str("reason", reason).Msg("pending response cleared")
}

// PendingResponse reports the guard state.
func (o *Orchestrator) PendingResponse() (bool, string) {
	return o.guard.outstanding()
}

// State reports the transport lifecycle state.
func (o *Orchestrator) State() core.ConnectionState { return o.transport.State() }

// Stats returns the latest connection statistics snapshot.
func (o *Orchestrator) Stats() core.ConnectionStats { return o.transport.Stats() }

func (o *Orchestrator) handleMessage(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		o.logger.Warn().Err(err).Msg("bad control message")
		return
	}

	switch env.Type {
	case MsgResponseCreated:
		o.guard.started(env.responseID())
	case MsgResponseDone:
		o.guard.finish(env.responseID())
	case MsgResponseInterrupted:
		o.guard.finish(env.responseID())
	case MsgSpeechStarted:
		// Barge-in: the user talking interrupts the outstanding response.
		o.guard.reset()
	case MsgTextDelta:
		o.bus.Emit(core.EventTranscriptDelta, core.TranscriptPayload{ResponseID: env.responseID(), Text: env.Delta})
	case MsgTextDone:
		o.bus.Emit(core.EventTranscriptDone, core.TranscriptPayload{ResponseID: env.responseID(), Final: true})
	case MsgAudioDelta:
		o.bus.Emit(core.EventTranscriptDelta, core.TranscriptPayload{ResponseID: env.responseID(), Audio: true})
	case MsgAudioDone:
		o.bus.Emit(core.EventTranscriptDone, core.TranscriptPayload{ResponseID: env.responseID(), Audio: true, Final: true})
	case MsgError:
		o.logger.Warn().RawJSON("payload", raw).Msg("service error event")
	case MsgSessionUpdate, MsgConversationItemCreate, MsgResponseCreate, MsgSpeechStopped:
		// Inbound echoes of client-originated types carry nothing to do.
	default:
		o.logger.Debug().Str("type", string(env.Type)).Msg("unhandled control message")
	}
}

// HandleFault routes a raw failure through the classifier/router with the
// transport remediation executor.
func (o *Orchestrator) HandleFault(ctx context.Context, err error) recovery.Outcome {
	return o.router.Handle(ctx, err, o.execute)
}

func (o *Orchestrator) execute(ctx context.Context, s recovery.Strategy) error {
	switch s {
	case recovery.StrategyRestartMedia:
		return o.transport.RestartMedia(ctx)
	case recovery.StrategyRecreateChannel:
		if dc := o.transport.RecreateChannel(ctx); dc == nil {
			return core.NewFault(core.FaultChannelFailed, "channel recreate failed")
		}
		return nil
	case recovery.StrategyRetryConnection, recovery.StrategyFullReconnect:
		o.guard.reset()
		return o.transport.FullReconnect(ctx)
	default:
		return errors.New("unknown strategy " + string(s))
	}
}

// refreshAndReconnect is the authentication escalation path: renew the
// ephemeral credential, then rebuild the session under it.
func (o *Orchestrator) refreshAndReconnect(ctx context.Context, fault *core.Fault) {
	o.logger.Warn().Err(fault).Msg("refreshing credential")
	cred, err := o.creds.Refresh(ctx)
	if err != nil {
		o.onFatal(core.WrapFault(core.FaultAuthenticationFailed, "credential refresh failed", err))
		return
	}
	o.transport.UpdateCredential(cred)
	o.guard.reset()
	if err := o.transport.FullReconnect(ctx); err != nil {
		o.onFatal(recovery.Classify(err))
	}
}

func (o *Orchestrator) onFatal(fault *core.Fault) {
	o.logger.Error().Err(fault).Str("code", string(fault.Code)).Msg("terminal fault")
	o.bus.Emit(core.EventConnectionStateChanged, core.StatePayload{State: core.StateFailed.String()})
}

// Close tears the session down: monitor, capture, then transport.
func (o *Orchestrator) Close() {
	if o.monitor != nil {
		o.monitor.Stop()
	}
	if o.media != nil {
		o.media.Stop()
	}
	o.guard.reset()
	o.transport.Close()
}
