package rtc

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicelink/internal/core"
)

const controlChannelLabel = "oai-events"

// Options configures one Transport instance.
type Options struct {
	ICEServers         []webrtc.ICEServer
	ConnectTimeout     time.Duration
	NegotiationTimeout time.Duration
	ChannelOpenTimeout time.Duration
	StatsInterval      time.Duration
	ConvergencePoll    time.Duration
	QueueCapacity      int
}

func DefaultOptions() Options {
	return Options{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
		ConnectTimeout:     5 * time.Second,
		NegotiationTimeout: 5 * time.Second,
		ChannelOpenTimeout: 3 * time.Second,
		StatsInterval:      5 * time.Second,
		ConvergencePoll:    200 * time.Millisecond,
		QueueCapacity:      DefaultQueueCapacity,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if len(o.ICEServers) == 0 {
		o.ICEServers = d.ICEServers
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = d.ConnectTimeout
	}
	if o.NegotiationTimeout <= 0 {
		o.NegotiationTimeout = d.NegotiationTimeout
	}
	if o.ChannelOpenTimeout <= 0 {
		o.ChannelOpenTimeout = d.ChannelOpenTimeout
	}
	if o.StatsInterval <= 0 {
		o.StatsInterval = d.StatsInterval
	}
	if o.ConvergencePoll <= 0 {
		o.ConvergencePoll = d.ConvergencePoll
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = d.QueueCapacity
	}
	return o
}

// Transport owns the peer connection, the control channel, negotiation
// timing and statistics sampling for one logical session. All underlying
// resources are exclusively owned by one instance and torn down on Close.
type Transport struct {
	mu     sync.Mutex
	opts   Options
	neg    core.Negotiator
	bus    *core.Bus
	logger zerolog.Logger

	id       string
	pc       *webrtc.PeerConnection
	state    core.ConnectionState
	channel  *controlChannel
	tracks   map[string]*TrackRegistration
	procRef  *core.ProcessingContext
	lastCred core.Credential

	startedAt    time.Time
	negotiatedIn time.Duration
	lastStats    core.ConnectionStats
	lastQuality  core.Quality
	sampling     bool
	samplerStop  func()

	timers timerSet

	// epoch guards against a negotiation that outlives its timeout:
	// anything completing under a stale epoch is discarded.
	epoch uint64

	// onFailure receives faults detected on a live connection
	// (signal-layer degradation); routing happens upstream.
	onFailure func(error)
}

func NewTransport(neg core.Negotiator, bus *core.Bus, opts Options) *Transport {
	t := &Transport{
		opts:        opts.withDefaults(),
		neg:         neg,
		bus:         bus,
		id:          uuid.NewString(),
		state:       core.StateDisconnected,
		tracks:      make(map[string]*TrackRegistration),
		lastQuality: core.QualityUnknown,
	}
	t.logger = log.With().Str("module", "rtc").Str("conn", t.id).Logger()
	t.channel = newControlChannel(t.opts.QueueCapacity, bus, t.logger)
	return t
}

// ID returns the connection identity token.
func (t *Transport) ID() string { return t.id }

func (t *Transport) State() core.ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) setState(s core.ConnectionState) {
	t.mu.Lock()
	prev := t.state
	t.state = s
	t.mu.Unlock()
	if prev == s {
		return
	}
	t.logger.Info().Str("from", prev.String()).Str("to", s.String()).Msg("connection state")
	t.bus.Emit(core.EventConnectionStateChanged, core.StatePayload{State: s.String(), Previous: prev.String()})
}

// SetOnMessage installs the inbound control-message handler.
func (t *Transport) SetOnMessage(fn func([]byte)) { t.channel.setOnMessage(fn) }

// SetOnFailure installs the live-connection failure callback.
func (t *Transport) SetOnFailure(fn func(error)) {
	t.mu.Lock()
	t.onFailure = fn
	t.mu.Unlock()
}

func (t *Transport) failureHandler() func(error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onFailure
}

// UpdateCredential swaps the ephemeral credential used by subsequent
// negotiations (after a refresh escalation).
func (t *Transport) UpdateCredential(cred core.Credential) {
	t.mu.Lock()
	t.lastCred = cred
	t.mu.Unlock()
}

// Establish builds the peer session, opens the control channel, runs the
// offer/answer exchange under the negotiation time budget and waits for
// signaling convergence bounded by the connection timeout.
func (t *Transport) Establish(ctx context.Context, cred core.Credential) error {
	t.mu.Lock()
	if t.state != core.StateDisconnected && t.state != core.StateFailed {
		st := t.state
		t.mu.Unlock()
		return core.NewFatalFault(core.FaultConfigurationInvalid, "establish from state "+st.String())
	}
	t.lastCred = cred
	t.epoch++
	epoch := t.epoch
	t.mu.Unlock()

	t.setState(core.StateConnecting)
	t.startedAt = time.Now()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: t.opts.ICEServers})
	if err != nil {
		t.setState(core.StateFailed)
		return core.WrapFault(core.FaultConfigurationInvalid, "new peer connection", err)
	}

	t.mu.Lock()
	t.pc = pc
	t.mu.Unlock()

	t.bindPeerHandlers(pc)

	dc, err := pc.CreateDataChannel(controlChannelLabel, nil)
	if err != nil {
		t.teardown(core.StateFailed, true)
		return core.WrapFault(core.FaultChannelFailed, "create control channel", err)
	}
	t.bindChannel(dc)

	if err := t.reattachTracks(pc); err != nil {
		t.teardown(core.StateFailed, true)
		return core.WrapFault(core.FaultTrackFailed, "reattach tracks", err)
	}

	answer, report, err := t.exchangeOffer(ctx, pc, cred, epoch, false)
	t.emitDiagnostics(report)
	if err != nil {
		t.teardown(core.StateFailed, true)
		return err
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		t.teardown(core.StateFailed, true)
		return core.WrapFault(core.FaultNegotiationFailed, "apply answer", err)
	}

	if err := t.waitConnected(ctx, pc); err != nil {
		t.teardown(core.StateFailed, true)
		return err
	}

	t.mu.Lock()
	t.negotiatedIn = report.Elapsed
	t.mu.Unlock()
	t.setState(core.StateConnected)
	t.startSampler()
	return nil
}

// exchangeOffer runs CreateOffer / SetLocalDescription / ICE gathering /
// remote negotiation under the negotiation time budget. A reply arriving
// after the budget is discarded and its exchange is aborted.
func (t *Transport) exchangeOffer(ctx context.Context, pc *webrtc.PeerConnection, cred core.Credential, epoch uint64, iceRestart bool) (string, *core.NegotiationReport, error) {
	start := time.Now()
	report := &core.NegotiationReport{}

	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := pc.CreateOffer(opts)
	if err != nil {
		report.Elapsed = time.Since(start)
		return "", report, core.WrapFault(core.FaultNegotiationFailed, "create offer", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		report.Elapsed = time.Since(start)
		return "", report, core.WrapFault(core.FaultNegotiationFailed, "set local description", err)
	}

	gathered := webrtc.GatheringCompletePromise(pc)
	timer := time.NewTimer(t.opts.NegotiationTimeout)
	defer timer.Stop()

	select {
	case <-gathered:
	case <-timer.C:
		report.Elapsed = time.Since(start)
		report.TimedOut = true
		return "", report, core.NewFault(core.FaultNetworkTimeout, "ice gathering timed out")
	case <-ctx.Done():
		report.Elapsed = time.Since(start)
		return "", report, core.WrapFault(core.FaultNetworkTimeout, "negotiation aborted", ctx.Err())
	}

	answer, err := t.negotiateRemote(ctx, pc.LocalDescription().SDP, cred, epoch, start, report, timer)
	return answer, report, err
}

// negotiateRemote submits the offer and enforces the remaining negotiation
// budget. On expiry the in-flight exchange is cancelled so a late answer
// cannot be applied to the superseded session.
func (t *Transport) negotiateRemote(ctx context.Context, offerSDP string, cred core.Credential, epoch uint64, start time.Time, report *core.NegotiationReport, budget *time.Timer) (string, error) {
	type result struct {
		answer string
		err    error
	}
	nctx, cancel := context.WithCancel(ctx)
	stopCancel := t.timers.add(cancel)

	ch := make(chan result, 1)
	go func() {
		answer, err := t.neg.Negotiate(nctx, offerSDP, cred)
		ch <- result{answer, err}
	}()

	select {
	case res := <-ch:
		stopCancel()
		report.Elapsed = time.Since(start)
		if res.err != nil {
			return "", res.err
		}
		if t.currentEpoch() != epoch {
			// A teardown superseded this exchange while it was in flight.
			return "", core.NewFault(core.FaultNetworkTimeout, "negotiation superseded")
		}
		return res.answer, nil
	case <-budget.C:
		stopCancel()
		report.Elapsed = time.Since(start)
		report.TimedOut = true
		t.logger.Warn().Dur("elapsed", report.Elapsed).Msg("negotiation timed out, discarding exchange")
		return "", core.NewFault(core.FaultNetworkTimeout, "negotiation timed out")
	case <-ctx.Done():
		stopCancel()
		report.Elapsed = time.Since(start)
		return "", core.WrapFault(core.FaultNetworkTimeout, "negotiation aborted", ctx.Err())
	}
}

func (t *Transport) currentEpoch() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.epoch
}

// waitConnected polls for signaling convergence at a fixed short interval,
// bounded by the connection timeout.
func (t *Transport) waitConnected(ctx context.Context, pc *webrtc.PeerConnection) error {
	deadline := time.NewTimer(t.opts.ConnectTimeout)
	ticker := time.NewTicker(t.opts.ConvergencePoll)
	stopDeadline := t.timers.add(func() { deadline.Stop() })
	stopTicker := t.timers.add(ticker.Stop)
	defer stopDeadline()
	defer stopTicker()

	for {
		select {
		case <-ctx.Done():
			return core.WrapFault(core.FaultNetworkTimeout, "connection wait aborted", ctx.Err())
		case <-deadline.C:
			return core.NewFault(core.FaultNetworkTimeout, "connection timed out")
		case <-ticker.C:
			switch pc.ConnectionState() {
			case webrtc.PeerConnectionStateConnected:
				return nil
			case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
				return core.NewFault(core.FaultMediaConnection, "peer connection failed during setup")
			}
		}
	}
}

func (t *Transport) bindPeerHandlers(pc *webrtc.PeerConnection) {
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		t.logger.Info().Str("peer_state", s.String()).Msg("peer connection state")
	})
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		t.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
		if s != webrtc.ICEConnectionStateDisconnected && s != webrtc.ICEConnectionStateFailed {
			return
		}
		// Reconnecting is entered only from degradation of an
		// already-connected session.
		if t.State() != core.StateConnected {
			return
		}
		t.setState(core.StateReconnecting)
		if fn := t.failureHandler(); fn != nil {
			fn(core.NewFault(core.FaultMediaConnection, "ice connection "+s.String()))
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		t.logger.Info().Str("track_id", track.ID()).Str("kind", track.Kind().String()).Msg("remote track")
		t.bus.Emit(core.EventAudioTrackAdded, core.TrackPayload{TrackID: track.ID(), Local: false})
	})
}

func (t *Transport) bindChannel(dc *webrtc.DataChannel) {
	t.channel.attach(dc)
	dc.OnOpen(t.channel.handleOpen)
	dc.OnClose(func() {
		t.channel.handleClose()
		if fn := t.failureHandler(); fn != nil && t.State() == core.StateConnected {
			fn(core.NewFault(core.FaultChannelFailed, "control channel closed"))
		}
	})
	dc.OnMessage(func(m webrtc.DataChannelMessage) {
		t.channel.handleMessage(m.Data)
	})
}

// SendMessage queues or sends one control message (§ control channel
// ordering rules live in controlChannel.Send).
func (t *Transport) SendMessage(data []byte) error {
	return t.channel.Send(data)
}

// ChannelFallback reports whether the control channel is in fallback mode.
func (t *Transport) ChannelFallback() bool { return t.channel.inFallback() }

// QueuedMessages reports current outbound queue depth.
func (t *Transport) QueuedMessages() int { return t.channel.depth() }

// RestartMedia renegotiates via ICE restart on the live peer connection.
// Track registrations are kept. On failure the transport stays in its
// prior state; escalation is the caller's decision.
func (t *Transport) RestartMedia(ctx context.Context) error {
	t.mu.Lock()
	pc := t.pc
	cred := t.lastCred
	t.epoch++
	epoch := t.epoch
	t.mu.Unlock()
	if pc == nil {
		return core.NewFault(core.FaultMediaConnection, "no peer connection to restart")
	}

	answer, report, err := t.exchangeOffer(ctx, pc, cred, epoch, true)
	t.emitDiagnostics(report)
	if err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		return core.WrapFault(core.FaultMediaConnection, "apply restart answer", err)
	}
	if err := t.waitConnected(ctx, pc); err != nil {
		return err
	}
	t.setState(core.StateConnected)
	return nil
}

// RecreateChannel tears down and rebuilds only the control channel. The
// peer session is untouched; on failure the result is nil.
func (t *Transport) RecreateChannel(ctx context.Context) *webrtc.DataChannel {
	t.mu.Lock()
	pc := t.pc
	t.mu.Unlock()
	if pc == nil {
		return nil
	}

	t.channel.close()
	dc, err := pc.CreateDataChannel(controlChannelLabel, nil)
	if err != nil {
		t.logger.Error().Err(err).Msg("recreate control channel")
		return nil
	}

	opened := make(chan struct{})
	dc.OnOpen(func() {
		t.channel.handleOpen()
		close(opened)
	})
	t.channel.attach(dc)
	dc.OnClose(t.channel.handleClose)
	dc.OnMessage(func(m webrtc.DataChannelMessage) { t.channel.handleMessage(m.Data) })

	timer := time.NewTimer(t.opts.ChannelOpenTimeout)
	stop := t.timers.add(func() { timer.Stop() })
	defer stop()

	select {
	case <-opened:
		return dc
	case <-timer.C:
		t.logger.Warn().Dur("wait", t.opts.ChannelOpenTimeout).Msg("channel open wait expired")
		return nil
	case <-ctx.Done():
		return nil
	}
}

// FullReconnect closes everything and re-establishes from scratch with a
// fresh negotiation under the stored credential. Track registrations and
// their capture sources survive the rebuild and are reattached by the new
// session.
func (t *Transport) FullReconnect(ctx context.Context) error {
	t.mu.Lock()
	cred := t.lastCred
	t.mu.Unlock()
	t.teardown(core.StateDisconnected, true)
	return t.Establish(ctx, cred)
}

// Close releases the connection and every resource scoped to it.
func (t *Transport) Close() {
	t.teardown(core.StateClosed, false)
}

// teardown releases everything scoped to the current peer session. With
// keepTracks the registrations, their capture sources and the processing
// context survive for the next Establish to reattach; senders always die
// with the peer connection.
func (t *Transport) teardown(final core.ConnectionState, keepTracks bool) {
	t.mu.Lock()
	t.epoch++ // discard any in-flight negotiation result
	pc := t.pc
	t.pc = nil
	var regs map[string]*TrackRegistration
	var proc *core.ProcessingContext
	if keepTracks {
		for _, reg := range t.tracks {
			reg.Sender = nil
		}
	} else {
		regs = t.tracks
		t.tracks = make(map[string]*TrackRegistration)
		proc = t.procRef
		t.procRef = nil
	}
	stopSampler := t.samplerStop
	t.samplerStop = nil
	t.mu.Unlock()

	if stopSampler != nil {
		stopSampler()
	}
	t.timers.drain()
	t.channel.close()

	for id, reg := range regs {
		if reg.Source != nil {
			if err := reg.Source.Stop(); err != nil {
				t.logger.Error().Err(err).Str("track_id", id).Msg("stop source track")
			}
		}
		t.bus.Emit(core.EventAudioTrackRemoved, core.TrackPayload{TrackID: id, Local: true})
	}
	if proc != nil {
		proc.Release()
	}

	if pc != nil {
		if err := pc.Close(); err != nil {
			t.logger.Error().Err(err).Msg("close peer connection")
		}
	}
	t.setState(final)
}
