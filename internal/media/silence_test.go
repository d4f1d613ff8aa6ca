package media

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicelink/internal/core"
)

func TestSilenceCaptureFrameSize(t *testing.T) {
	capture := NewSilenceCapture()
	track, err := capture.Open(context.Background(), core.CaptureConstraints{SampleRate: 24000, Channels: 1})
	require.NoError(t, err)
	defer track.Stop()

	frame, err := track.ReadFrame(context.Background())
	require.NoError(t, err)
	// 20 ms of mono PCM16 at 24 kHz.
	require.Len(t, frame, 24000*2*20/1000)
	for _, b := range frame {
		require.Zero(t, b)
	}
}

func TestSilenceCaptureRejectsBadConstraints(t *testing.T) {
	capture := NewSilenceCapture()
	_, err := capture.Open(context.Background(), core.CaptureConstraints{})
	require.Error(t, err)
}

func TestSilenceTrackStopEndsReads(t *testing.T) {
	capture := NewSilenceCapture()
	track, err := capture.Open(context.Background(), core.CaptureConstraints{SampleRate: 8000, Channels: 1})
	require.NoError(t, err)

	require.NoError(t, track.Stop())
	_, err = track.ReadFrame(context.Background())
	require.Error(t, err)
}

func TestSilenceTrackReadHonoursContext(t *testing.T) {
	capture := NewSilenceCapture()
	track, err := capture.Open(context.Background(), core.CaptureConstraints{SampleRate: 8000, Channels: 1})
	require.NoError(t, err)
	defer track.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	_, err = track.ReadFrame(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
