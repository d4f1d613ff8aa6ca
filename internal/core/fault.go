package core

import (
	"fmt"
	"time"
)

// FaultCode is the closed taxonomy of connection faults.
type FaultCode string

const (
	FaultAuthenticationFailed FaultCode = "authentication_failed"
	FaultNegotiationFailed    FaultCode = "negotiation_failed"
	FaultMediaConnection      FaultCode = "media_connection_failed"
	FaultChannelFailed        FaultCode = "channel_failed"
	FaultTrackFailed          FaultCode = "track_failed"
	FaultNetworkTimeout       FaultCode = "network_timeout"
	FaultRegionNotSupported   FaultCode = "region_not_supported"
	FaultConfigurationInvalid FaultCode = "configuration_invalid"
)

// recoverableByCode fixes the default recoverable flag per code.
var recoverableByCode = map[FaultCode]bool{
	FaultAuthenticationFailed: false,
	FaultNegotiationFailed:    false,
	FaultMediaConnection:      true,
	FaultChannelFailed:        true,
	FaultTrackFailed:          true,
	FaultNetworkTimeout:       true,
	FaultRegionNotSupported:   false,
	FaultConfigurationInvalid: false,
}

// Fault is an immutable classified connection error.
// It is constructed once and never mutated while it propagates.
type Fault struct {
	Code        FaultCode
	Message     string
	Recoverable bool
	Timestamp   time.Time
	Cause       error
}

func NewFault(code FaultCode, msg string) *Fault {
	return &Fault{
		Code:        code,
		Message:     msg,
		Recoverable: recoverableByCode[code],
		Timestamp:   time.Now(),
	}
}

func WrapFault(code FaultCode, msg string, cause error) *Fault {
	f := NewFault(code, msg)
	f.Cause = cause
	return f
}

// NewFatalFault builds a fault whose recoverable flag is forced off
// regardless of the code's default.
func NewFatalFault(code FaultCode, msg string) *Fault {
	f := NewFault(code, msg)
	f.Recoverable = false
	return f
}

func (f *Fault) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Code, f.Message, f.Cause)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

func (f *Fault) Unwrap() error { return f.Cause }
