package rtc

import (
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/voicelink/internal/core"
)

// startSampler begins periodic statistics sampling. Samples never overlap:
// a tick arriving while a sample is still being computed is skipped.
func (t *Transport) startSampler() {
	t.mu.Lock()
	if t.samplerStop != nil {
		t.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	stopFn := t.timers.add(func() { close(stop) })
	t.samplerStop = stopFn
	t.mu.Unlock()

	go t.sampleLoop(stop)
}

func (t *Transport) sampleLoop(stop chan struct{}) {
	ticker := time.NewTicker(t.opts.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.mu.Lock()
			busy := t.sampling
			if !busy {
				t.sampling = true
			}
			t.mu.Unlock()
			if busy {
				t.logger.Debug().Msg("stats sample still in flight, skipping tick")
				continue
			}
			t.sampleOnce()
			t.mu.Lock()
			t.sampling = false
			t.mu.Unlock()
		}
	}
}

// Stats returns the last snapshot, recomputing on demand when a peer
// connection is live and no sample is in flight.
func (t *Transport) Stats() core.ConnectionStats {
	t.mu.Lock()
	busy := t.sampling
	live := t.pc != nil
	if live && !busy {
		t.sampling = true
	}
	t.mu.Unlock()

	if live && !busy {
		t.sampleOnce()
		t.mu.Lock()
		t.sampling = false
		t.mu.Unlock()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastStats
}

// sampleOnce computes a wholesale snapshot from the pion stats report and
// publishes diagnostics plus quality-changed when the tier moves.
func (t *Transport) sampleOnce() {
	started := time.Now()
	t.mu.Lock()
	pc := t.pc
	negotiatedIn := t.negotiatedIn
	prevQuality := t.lastQuality
	t.mu.Unlock()
	if pc == nil {
		return
	}

	snap := buildSnapshot(pc.GetStats())
	snap.ChannelState = t.channel.stateString()
	snap.NegotiationMs = negotiatedIn.Milliseconds()
	snap.Timestamp = time.Now()
	snap.SampleDuration = time.Since(started)
	snap.Quality = core.ClassifyQuality(snap.LossRatio, snap.RTTMs, snap.JitterMs)
	if t.State() == core.StateFailed {
		snap.Quality = core.QualityFailed
	}

	t.mu.Lock()
	t.lastStats = snap
	t.lastQuality = snap.Quality
	t.mu.Unlock()

	if prevQuality != snap.Quality {
		t.bus.Emit(core.EventConnectionQuality, core.QualityPayload{Previous: prevQuality, Current: snap.Quality})
	}
	t.emitDiagnosticsStats(snap)
}

func buildSnapshot(report webrtc.StatsReport) core.ConnectionStats {
	var snap core.ConnectionStats
	for _, s := range report {
		switch st := s.(type) {
		case webrtc.OutboundRTPStreamStats:
			snap.PacketsSent += uint64(st.PacketsSent)
			snap.BytesSent += st.BytesSent
		case webrtc.InboundRTPStreamStats:
			snap.PacketsReceived += uint64(st.PacketsReceived)
			snap.BytesReceived += st.BytesReceived
			snap.PacketsLost += int64(st.PacketsLost)
			if jitterMs := st.Jitter * 1000; jitterMs > snap.JitterMs {
				snap.JitterMs = jitterMs
			}
		case webrtc.ICECandidatePairStats:
			if st.State == webrtc.StatsICECandidatePairStateSucceeded && st.CurrentRoundTripTime > 0 {
				snap.RTTMs = st.CurrentRoundTripTime * 1000
			}
		}
	}
	if total := float64(snap.PacketsReceived) + float64(snap.PacketsLost); total > 0 {
		snap.LossRatio = float64(snap.PacketsLost) / total
	}
	return snap
}

func (t *Transport) emitDiagnostics(report *core.NegotiationReport) {
	t.mu.Lock()
	stats := t.lastStats
	t.mu.Unlock()
	t.bus.Emit(core.EventConnectionDiagnostics, core.DiagnosticsPayload{Stats: stats, Negotiation: report})
}

func (t *Transport) emitDiagnosticsStats(stats core.ConnectionStats) {
	t.bus.Emit(core.EventConnectionDiagnostics, core.DiagnosticsPayload{Stats: stats})
}
