package media

import (
	"context"
	"errors"
	"math/rand"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/voicelink/internal/core"
)

const (
	pcmMimeType = "audio/L16"
	// 20 ms frames, the fixed framing for PCM16 capture.
	frameDurationMs = 20
	rtpPayloadType  = 96
)

// newLocalTrack builds the pion local track a capture source feeds into.
func newLocalTrack(id string, sampleRate, channels int) (*webrtc.TrackLocalStaticRTP, error) {
	return webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
		MimeType:  pcmMimeType,
		ClockRate: uint32(sampleRate),
		Channels:  uint16(channels),
	}, id, "voicelink-mic")
}

// rtpPump reads PCM16 frames from a capture track, packetizes them and
// writes RTP onto the registered local track until the context ends or
// the source closes.
type rtpPump struct {
	source core.AudioTrack
	local  *webrtc.TrackLocalStaticRTP
	seq    uint16
	ts     uint32
	ssrc   uint32
	step   uint32
	logger zerolog.Logger
}

func newRTPPump(source core.AudioTrack, local *webrtc.TrackLocalStaticRTP, sampleRate int, logger zerolog.Logger) *rtpPump {
	return &rtpPump{
		source: source,
		local:  local,
		seq:    uint16(rand.Intn(1 << 16)),
		ts:     rand.Uint32(),
		ssrc:   rand.Uint32(),
		step:   uint32(sampleRate * frameDurationMs / 1000),
		logger: logger,
	}
}

func (p *rtpPump) run(ctx context.Context) {
	for {
		frame, err := p.source.ReadFrame(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				p.logger.Warn().Err(err).Msg("capture read ended")
			}
			return
		}
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    rtpPayloadType,
				SequenceNumber: p.seq,
				Timestamp:      p.ts,
				SSRC:           p.ssrc,
			},
			Payload: frame,
		}
		p.seq++
		p.ts += p.step
		if err := p.local.WriteRTP(pkt); err != nil {
			p.logger.Warn().Err(err).Msg("write RTP failed, stopping pump")
			return
		}
	}
}
