package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dkeye/voicelink/internal/core"
)

// StaticCredentialProvider hands out a fixed token as an ephemeral
// credential. It covers development and API-key setups; hosts with a
// real credential service supply their own core.CredentialProvider.
type StaticCredentialProvider struct {
	Token string
	TTL   time.Duration
}

func NewStaticCredentialProvider(token string, ttl time.Duration) *StaticCredentialProvider {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &StaticCredentialProvider{Token: token, TTL: ttl}
}

func (p *StaticCredentialProvider) Refresh(_ context.Context) (core.Credential, error) {
	if p.Token == "" {
		return core.Credential{}, core.NewFault(core.FaultAuthenticationFailed, "no credential configured")
	}
	return core.Credential{
		Token:     p.Token,
		ExpiresAt: time.Now().Add(p.TTL),
		SessionID: uuid.NewString(),
	}, nil
}
