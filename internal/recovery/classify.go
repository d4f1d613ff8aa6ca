package recovery

import (
	"errors"
	"strings"

	"github.com/dkeye/voicelink/internal/core"
)

// Classify maps a raw error to a Fault. Rules apply in priority order,
// first match wins:
//
//  1. an explicit *core.Fault anywhere in the chain is kept as-is
//  2. permission/consent denial vocabulary -> authentication fault
//  3. negotiation / media / channel / timeout vocabulary -> that code
//  4. anything else -> configuration fault
func Classify(err error) *core.Fault {
	var f *core.Fault
	if errors.As(err, &f) {
		return f
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "permission", "consent", "denied", "unauthorized", "401", "forbidden"):
		return core.WrapFault(core.FaultAuthenticationFailed, "authentication rejected", err)
	case containsAny(msg, "sdp", "negotiat", "offer", "answer"):
		return core.WrapFault(core.FaultNegotiationFailed, "session negotiation failed", err)
	case containsAny(msg, "ice", "media", "srtp", "dtls"):
		return core.WrapFault(core.FaultMediaConnection, "media connection failed", err)
	case containsAny(msg, "channel"):
		return core.WrapFault(core.FaultChannelFailed, "control channel failed", err)
	case containsAny(msg, "timeout", "timed out", "deadline"):
		return core.WrapFault(core.FaultNetworkTimeout, "operation timed out", err)
	default:
		return core.WrapFault(core.FaultConfigurationInvalid, "unclassified error", err)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
