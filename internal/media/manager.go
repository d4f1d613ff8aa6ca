package media

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicelink/internal/core"
)

// Transport is the track-registration contract the manager binds against.
// *rtc.Transport satisfies it; tests use a fake.
type Transport interface {
	AddAudioTrack(local webrtc.TrackLocal, source core.AudioTrack, proc *core.ProcessingContext, meta map[string]string) (string, error)
	ReplaceAudioTrack(id string, local webrtc.TrackLocal, source core.AudioTrack, proc *core.ProcessingContext) error
	RemoveAudioTrack(id string) error
}

// Processor derives a processed capture track (echo-cancellation chain)
// sharing the source track's identity.
type Processor interface {
	Process(src core.AudioTrack) (core.AudioTrack, *core.ProcessingContext, error)
}

// Manager owns the capture side of the microphone track: acquisition,
// mute, device switching and the quality-to-constraints mapping. The
// sender side moves to the transport on registration.
type Manager struct {
	mu        sync.Mutex
	capture   core.AudioCapture
	processor Processor
	transport Transport
	logger    zerolog.Logger

	quality  core.Quality
	deviceID string
	muted    bool

	source    core.AudioTrack
	processed core.AudioTrack
	local     *webrtc.TrackLocalStaticRTP
	trackID   string
	pumpStop  context.CancelFunc
}

func NewManager(capture core.AudioCapture, processor Processor) *Manager {
	return &Manager{
		capture:   capture,
		processor: processor,
		quality:   core.QualityGood,
		logger:    log.With().Str("module", "media").Logger(),
	}
}

// Bind attaches the manager to a transport for track registration.
func (m *Manager) Bind(t Transport) {
	m.mu.Lock()
	m.transport = t
	m.mu.Unlock()
}

// SetQuality accepts a quality classification pushed in by the transport's
// statistics. It drives the constraints used at the next acquisition.
func (m *Manager) SetQuality(q core.Quality) {
	m.mu.Lock()
	prev := m.quality
	m.quality = q
	m.mu.Unlock()
	if prev != q {
		m.logger.Info().Str("from", string(prev)).Str("to", string(q)).Msg("capture quality tier")
	}
}

func (m *Manager) Quality() core.Quality {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quality
}

// Start acquires the microphone under current constraints and registers
// the resulting track on the bound transport.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	deviceID := m.deviceID
	m.mu.Unlock()

	src, processed, proc, local, err := m.acquire(ctx, deviceID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	transport := m.transport
	m.mu.Unlock()

	trackID := ""
	if transport != nil {
		trackID, err = transport.AddAudioTrack(local, src, proc, map[string]string{"device": deviceID})
		if err != nil {
			m.stopTracks(src, processed)
			return err
		}
	}

	m.install(ctx, src, processed, local, trackID)
	return nil
}

// SwitchDevice acquires a new track for deviceID under current
// constraints, then either replaces in place on the transport or runs a
// stop-all/acquire/register sequence. A failed acquisition fully stops
// the newly opened stream before the error propagates.
func (m *Manager) SwitchDevice(ctx context.Context, deviceID string) error {
	src, processed, proc, local, err := m.acquire(ctx, deviceID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	transport := m.transport
	trackID := m.trackID
	m.mu.Unlock()

	if transport != nil && trackID != "" {
		if err := transport.ReplaceAudioTrack(trackID, local, src, proc); err != nil {
			m.stopTracks(src, processed)
			if proc != nil {
				proc.Release()
			}
			return err
		}
		m.mu.Lock()
		m.deviceID = deviceID
		m.trackID = local.ID()
		m.mu.Unlock()
		m.install(ctx, src, processed, local, local.ID())
		m.logger.Info().Str("device", deviceID).Msg("device switched in place")
		return nil
	}

	// No live registration: stop everything, then adopt the new capture.
	m.stopCurrent()
	newTrackID := ""
	if transport != nil {
		newTrackID, err = transport.AddAudioTrack(local, src, proc, map[string]string{"device": deviceID})
		if err != nil {
			m.stopTracks(src, processed)
			if proc != nil {
				proc.Release()
			}
			return err
		}
	}
	m.mu.Lock()
	m.deviceID = deviceID
	m.mu.Unlock()
	m.install(ctx, src, processed, local, newTrackID)
	m.logger.Info().Str("device", deviceID).Msg("device switched")
	return nil
}

// SetMuted flips the capture track's enabled flag and mirrors it to the
// derived track sharing its identity.
func (m *Manager) SetMuted(muted bool) {
	m.mu.Lock()
	m.muted = muted
	src := m.source
	processed := m.processed
	m.mu.Unlock()

	if src != nil {
		src.SetEnabled(!muted)
	}
	if processed != nil && src != nil && processed.ID() == src.ID() {
		processed.SetEnabled(!muted)
	}
	m.logger.Info().Bool("muted", muted).Msg("mute state")
}

func (m *Manager) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

// Devices lists host capture devices.
func (m *Manager) Devices(ctx context.Context) ([]core.DeviceInfo, error) {
	return m.capture.Devices(ctx)
}

// Stop releases the capture side. Transport-side registrations are the
// transport's to clean up.
func (m *Manager) Stop() {
	m.stopCurrent()
}

// acquire opens the microphone under current constraints and builds the
// pion track it will feed. Any partial acquisition is stopped before an
// error is returned so no hardware handle leaks.
func (m *Manager) acquire(ctx context.Context, deviceID string) (src, processed core.AudioTrack, proc *core.ProcessingContext, local *webrtc.TrackLocalStaticRTP, err error) {
	m.mu.Lock()
	constraints := ConstraintsFor(m.quality, deviceID)
	muted := m.muted
	m.mu.Unlock()

	src, err = m.capture.Open(ctx, constraints)
	if err != nil {
		return nil, nil, nil, nil, core.WrapFault(core.FaultTrackFailed, "open capture device", err)
	}

	if m.processor != nil {
		processed, proc, err = m.processor.Process(src)
		if err != nil {
			_ = src.Stop()
			return nil, nil, nil, nil, core.WrapFault(core.FaultTrackFailed, "attach audio processing", err)
		}
	}

	local, err = newLocalTrack(src.ID(), constraints.SampleRate, constraints.Channels)
	if err != nil {
		m.stopTracks(src, processed)
		return nil, nil, nil, nil, core.WrapFault(core.FaultTrackFailed, "build local track", err)
	}

	src.SetEnabled(!muted)
	if processed != nil {
		processed.SetEnabled(!muted)
	}
	return src, processed, proc, local, nil
}

// install adopts a freshly acquired capture chain and starts its pump.
func (m *Manager) install(ctx context.Context, src, processed core.AudioTrack, local *webrtc.TrackLocalStaticRTP, trackID string) {
	m.mu.Lock()
	if m.pumpStop != nil {
		m.pumpStop()
	}
	m.source = src
	m.processed = processed
	m.local = local
	m.trackID = trackID

	pumpCtx, cancel := context.WithCancel(ctx)
	m.pumpStop = cancel
	feed := src
	if processed != nil {
		feed = processed
	}
	sampleRate := int(local.Codec().ClockRate)
	m.mu.Unlock()

	pump := newRTPPump(feed, local, sampleRate, m.logger)
	go pump.run(pumpCtx)
}

func (m *Manager) stopCurrent() {
	m.mu.Lock()
	src := m.source
	processed := m.processed
	stop := m.pumpStop
	m.source = nil
	m.processed = nil
	m.local = nil
	m.trackID = ""
	m.pumpStop = nil
	m.mu.Unlock()

	if stop != nil {
		stop()
	}
	m.stopTracks(src, processed)
}

func (m *Manager) stopTracks(tracks ...core.AudioTrack) {
	seen := map[string]bool{}
	for _, tr := range tracks {
		if tr == nil || seen[tr.ID()] {
			continue
		}
		seen[tr.ID()] = true
		if err := tr.Stop(); err != nil {
			m.logger.Error().Err(err).Str("track_id", tr.ID()).Msg("stop capture track")
		}
	}
}
