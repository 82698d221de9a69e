package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRemote struct {
	status Status
	err    error
	calls  int
}

func (s *stubRemote) Authorize(_ context.Context, _ Identifier) (Status, error) {
	s.calls++
	return s.status, s.err
}

func buildChain(cache *Cache, lookup LocalLookup, remote RemoteAuthorizer, breaker *Breaker, policy OfflinePolicy) *Chain {
	return NewChain(cache,
		&CacheStrategy{Cache: cache},
		&LocalListStrategy{Lookup: lookup},
		&RemoteStrategy{Authorizer: remote, Breaker: breaker},
		&OfflineFallbackStrategy{Policy: func() OfflinePolicy { return policy }},
	)
}

func TestChainLocalListWins(t *testing.T) {
	cache := NewCache(CacheConfig{RateLimit: RateLimiterConfig{MaxRequests: 100}})
	remote := &stubRemote{status: StatusAccepted}
	chain := buildChain(cache, func(id string) bool { return id == "AAA" }, remote, nil, OfflinePolicy{})

	res := chain.Evaluate(context.Background(), Request{Identifier: Identifier{Value: "AAA"}})
	assert.Equal(t, StatusAccepted, res.Status)
	assert.Equal(t, StrategyLocalName, res.Source)
	assert.Zero(t, remote.calls)

	// The accepted decision was written back to the cache.
	status, ok := cache.Lookup("AAA")
	require.True(t, ok)
	assert.Equal(t, StatusAccepted, status)
}

func TestChainFallsThroughToRemote(t *testing.T) {
	remote := &stubRemote{status: StatusBlocked}
	chain := buildChain(nil, func(string) bool { return false }, remote, nil, OfflinePolicy{})

	res := chain.Evaluate(context.Background(), Request{Identifier: Identifier{Value: "BBB"}})
	assert.Equal(t, StatusBlocked, res.Status)
	assert.Equal(t, StrategyRemoteName, res.Source)
	assert.Equal(t, 1, remote.calls)
}

func TestChainOfflineFallback(t *testing.T) {
	remote := &stubRemote{err: errors.New("connection refused")}
	chain := buildChain(nil, func(string) bool { return false }, remote,
		nil, OfflinePolicy{AllowOfflineTxForUnknownID: true})

	res := chain.Evaluate(context.Background(), Request{
		Identifier:   Identifier{Value: "CCC"},
		AllowOffline: true,
	})
	assert.Equal(t, StatusAccepted, res.Status)
	assert.True(t, res.IsOffline)
	assert.Equal(t, StrategyOfflineName, res.Source)
}

func TestChainTailInvalid(t *testing.T) {
	remote := &stubRemote{err: errors.New("timeout")}
	chain := buildChain(nil, func(string) bool { return false }, remote, nil, OfflinePolicy{})

	res := chain.Evaluate(context.Background(), Request{Identifier: Identifier{Value: "DDD"}})
	assert.Equal(t, StatusInvalid, res.Status)
}

func TestBreakerShortCircuitsRemote(t *testing.T) {
	remote := &stubRemote{err: errors.New("down")}
	breaker := NewBreaker(BreakerConfig{ConsecutiveFailures: 2, OpenTimeout: time.Hour})
	chain := buildChain(nil, func(string) bool { return false }, remote,
		breaker, OfflinePolicy{LocalAuthorizeOffline: true})

	req := Request{Identifier: Identifier{Value: "EEE"}, AllowOffline: true}
	chain.Evaluate(context.Background(), req)
	chain.Evaluate(context.Background(), req)
	assert.Equal(t, BreakerOpen, breaker.State())

	// Breaker open: remote is skipped, offline fallback answers.
	res := chain.Evaluate(context.Background(), req)
	assert.Equal(t, 2, remote.calls)
	assert.Equal(t, StatusAccepted, res.Status)
	assert.True(t, res.IsOffline)
}

func TestBreakerRecovery(t *testing.T) {
	b := NewBreaker(BreakerConfig{ConsecutiveFailures: 1, OpenTimeout: time.Millisecond})
	b.Record(false)
	assert.Equal(t, BreakerOpen, b.State())

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, b.Allow())
	b.Record(true)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestAdapters(t *testing.T) {
	id16 := OCPP16Adapter{}.ToUnified("THIS-TAG-IS-WAY-TOO-LONG-FOR-16")
	assert.Len(t, id16.Value, MaxIDTagLength)
	assert.Equal(t, TokenIDTag, id16.Type)

	token := OCPP20Adapter{}.ToUnified(OCPP20Token{IDToken: "ABC", Type: "eMAID"})
	assert.Equal(t, TokenISO14443, token.Type) // unknown type defaults

	wire := OCPP20Adapter{}.FromUnified(Identifier{Value: "ABC", Type: TokenIDTag})
	assert.Equal(t, string(TokenISO14443), wire.Type)
}
