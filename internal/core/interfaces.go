package core

import (
	"context"
	"sync/atomic"
	"time"
)

// ConnectionState is the transport lifecycle state.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Credential is the opaque ephemeral credential issued by an external
// service. The transport only reads it; renewal happens via
// CredentialProvider on authentication faults.
type Credential struct {
	Token     string
	ExpiresAt time.Time
	SessionID string
}

// CredentialProvider mints or refreshes ephemeral credentials.
// Owned by the host; the core only calls it on escalation.
type CredentialProvider interface {
	Refresh(ctx context.Context) (Credential, error)
}

// Negotiator submits a local SDP offer to the remote negotiation endpoint
// and returns the remote answer SDP.
type Negotiator interface {
	Negotiate(ctx context.Context, offerSDP string, cred Credential) (string, error)
}

// CaptureConstraints describes how the microphone should be captured.
type CaptureConstraints struct {
	DeviceID         string
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DeviceInfo identifies one capture device on the host.
type DeviceInfo struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// AudioTrack is a live capture track handed out by the host capture API.
// The track manager keeps ownership of the capture side (start/stop/mute);
// the sender side moves to the transport on registration.
type AudioTrack interface {
	ID() string
	DeviceID() string
	// ReadFrame blocks for the next PCM16 frame or ctx cancellation.
	ReadFrame(ctx context.Context) ([]byte, error)
	SetEnabled(bool)
	Enabled() bool
	Stop() error
}

// AudioCapture is the host platform capture boundary: the core supplies
// constraints and consumes the returned track.
type AudioCapture interface {
	Devices(ctx context.Context) ([]DeviceInfo, error)
	Open(ctx context.Context, c CaptureConstraints) (AudioTrack, error)
}

// ProcessingContext is a shared audio-processing handle reference-counted
// across track registrations. The last release closes it.
type ProcessingContext struct {
	refs    atomic.Int32
	closeFn func()
}

func NewProcessingContext(closeFn func()) *ProcessingContext {
	p := &ProcessingContext{closeFn: closeFn}
	p.refs.Store(1)
	return p
}

func (p *ProcessingContext) Acquire() { p.refs.Add(1) }

// Release drops one reference and reports whether the context was closed.
func (p *ProcessingContext) Release() bool {
	if p.refs.Add(-1) == 0 {
		if p.closeFn != nil {
			p.closeFn()
		}
		return true
	}
	return false
}
