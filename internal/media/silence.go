package media

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dkeye/voicelink/internal/core"
)

// SilenceCapture is a host-independent capture implementation producing
// zeroed PCM16 frames at the requested rate. It keeps the full pipeline
// running on machines without microphone access (development, CI).
type SilenceCapture struct{}

func NewSilenceCapture() *SilenceCapture { return &SilenceCapture{} }

func (s *SilenceCapture) Devices(_ context.Context) ([]core.DeviceInfo, error) {
	return []core.DeviceInfo{{ID: "silence", Label: "Silence (synthetic)"}}, nil
}

func (s *SilenceCapture) Open(_ context.Context, c core.CaptureConstraints) (core.AudioTrack, error) {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return nil, errors.New("invalid capture constraints")
	}
	frameBytes := c.SampleRate * c.Channels * 2 * frameDurationMs / 1000
	return &silenceTrack{
		id:       uuid.NewString(),
		deviceID: c.DeviceID,
		frame:    make([]byte, frameBytes),
		enabled:  true,
	}, nil
}

type silenceTrack struct {
	id       string
	deviceID string
	frame    []byte

	mu      sync.Mutex
	enabled bool
	stopped bool
}

func (t *silenceTrack) ID() string       { return t.id }
func (t *silenceTrack) DeviceID() string { return t.deviceID }

func (t *silenceTrack) ReadFrame(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	stopped := t.stopped
	t.mu.Unlock()
	if stopped {
		return nil, errors.New("capture track stopped")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(frameDurationMs * time.Millisecond):
	}
	return t.frame, nil
}

func (t *silenceTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *silenceTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *silenceTrack) Stop() error {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	return nil
}
