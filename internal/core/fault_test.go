package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecoverableFixedByCode(t *testing.T) {
	nonRecoverable := []FaultCode{
		FaultAuthenticationFailed,
		FaultNegotiationFailed,
		FaultRegionNotSupported,
		FaultConfigurationInvalid,
	}
	for _, code := range nonRecoverable {
		require.False(t, NewFault(code, "x").Recoverable, string(code))
	}

	recoverable := []FaultCode{
		FaultNetworkTimeout,
		FaultMediaConnection,
		FaultChannelFailed,
		FaultTrackFailed,
	}
	for _, code := range recoverable {
		require.True(t, NewFault(code, "x").Recoverable, string(code))
	}
}

func TestFatalFaultOverridesDefault(t *testing.T) {
	f := NewFatalFault(FaultNetworkTimeout, "give up")
	require.False(t, f.Recoverable)
}

func TestFaultUnwrap(t *testing.T) {
	cause := errors.New("boom")
	f := WrapFault(FaultChannelFailed, "channel died", cause)
	require.ErrorIs(t, f, cause)
	require.Contains(t, f.Error(), "channel_failed")
	require.Contains(t, f.Error(), "boom")
}

func TestClassifyQualityTiers(t *testing.T) {
	require.Equal(t, QualityExcellent, ClassifyQuality(0, 20, 5))
	require.Equal(t, QualityGood, ClassifyQuality(0.02, 20, 5))
	require.Equal(t, QualityFair, ClassifyQuality(0.05, 20, 5))
	require.Equal(t, QualityFair, ClassifyQuality(0, 350, 5))
	require.Equal(t, QualityPoor, ClassifyQuality(0.15, 20, 5))
	require.Equal(t, QualityPoor, ClassifyQuality(0, 700, 5))
	require.Equal(t, QualityFailed, ClassifyQuality(0.3, 20, 5))
}
