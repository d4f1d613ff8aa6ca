// Package media owns microphone acquisition, mute state, device switching
// and the quality-to-constraints mapping that feeds tracks into the
// transport.
package media

import "github.com/dkeye/voicelink/internal/core"

// constraintsByQuality fixes the capture tuple per coarse quality tier.
// Fair and poor share a tier; failed drops to the bare minimum.
var constraintsByQuality = map[core.Quality]core.CaptureConstraints{
	core.QualityExcellent: {
		SampleRate:       48000,
		Channels:         1,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	},
	core.QualityGood: {
		SampleRate:       24000,
		Channels:         1,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	},
	core.QualityFair: {
		SampleRate:       16000,
		Channels:         1,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  false,
	},
	core.QualityPoor: {
		SampleRate:       16000,
		Channels:         1,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  false,
	},
	core.QualityFailed: {
		SampleRate:       8000,
		Channels:         1,
		EchoCancellation: false,
		NoiseSuppression: false,
		AutoGainControl:  false,
	},
}

// ConstraintsFor returns the capture constraints for a quality tier,
// pinned to the given device.
func ConstraintsFor(q core.Quality, deviceID string) core.CaptureConstraints {
	c, ok := constraintsByQuality[q]
	if !ok {
		c = constraintsByQuality[core.QualityGood]
	}
	c.DeviceID = deviceID
	return c
}
