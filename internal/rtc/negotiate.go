package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicelink/internal/core"
)

// HTTPNegotiator submits SDP offers to the remote negotiation endpoint:
// the offer goes out as the request body under a bearer credential, the
// response body is the remote answer SDP.
type HTTPNegotiator struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPNegotiator(endpoint string) *HTTPNegotiator {
	return &HTTPNegotiator{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (n *HTTPNegotiator) Negotiate(ctx context.Context, offerSDP string, cred core.Credential) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.Endpoint, strings.NewReader(offerSDP))
	if err != nil {
		return "", core.WrapFault(core.FaultNegotiationFailed, "build negotiation request", err)
	}
	req.Header.Set("Content-Type", "application/sdp")
	req.Header.Set("Authorization", "Bearer "+cred.Token)

	resp, err := n.Client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "", core.WrapFault(core.FaultNetworkTimeout, "negotiation request aborted", err)
		}
		return "", core.WrapFault(core.FaultNegotiationFailed, "negotiation request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", core.WrapFault(core.FaultNegotiationFailed, "read negotiation response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Error().Str("module", "rtc").Int("status", resp.StatusCode).Msg("negotiation endpoint rejected offer")
		return "", core.WrapFault(
			core.FaultNegotiationFailed,
			fmt.Sprintf("negotiation endpoint returned %d", resp.StatusCode),
			errors.New(snippet(body)),
		)
	}
	return string(body), nil
}

func snippet(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max])
	}
	return string(b)
}
