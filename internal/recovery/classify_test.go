package recovery

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicelink/internal/core"
)

func TestClassifyKeepsExplicitFault(t *testing.T) {
	orig := core.NewFault(core.FaultChannelFailed, "dc broke")
	wrapped := fmt.Errorf("while sending: %w", orig)
	require.Same(t, orig, Classify(wrapped))
}

func TestClassifyVocabulary(t *testing.T) {
	cases := []struct {
		msg  string
		code core.FaultCode
	}{
		{"microphone permission denied", core.FaultAuthenticationFailed},
		{"server returned 401 unauthorized", core.FaultAuthenticationFailed},
		{"failed to parse SDP answer", core.FaultNegotiationFailed},
		{"ice candidate pair failed", core.FaultMediaConnection},
		{"dtls handshake error", core.FaultMediaConnection},
		{"data channel closed unexpectedly", core.FaultChannelFailed},
		{"request timed out after 5s", core.FaultNetworkTimeout},
		{"context deadline exceeded", core.FaultNetworkTimeout},
		{"something totally else", core.FaultConfigurationInvalid},
	}
	for _, tc := range cases {
		got := Classify(errors.New(tc.msg))
		require.Equal(t, tc.code, got.Code, tc.msg)
	}
}

func TestClassifyPriorityAuthBeforeTimeout(t *testing.T) {
	// Permission vocabulary outranks the timeout vocabulary.
	got := Classify(errors.New("consent denied before timeout"))
	require.Equal(t, core.FaultAuthenticationFailed, got.Code)
	require.False(t, got.Recoverable)
}
