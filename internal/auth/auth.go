// Package auth implements the authorization pipeline gating every
// authorization decision a station makes: an ordered strategy chain over a
// shared TTL+LRU cache, the station-local tag list, the remote Authorize
// round-trip, and the offline fallback.
package auth

import "context"

// Status is the terminal authorization decision for an identifier.
type Status string

const (
	StatusAccepted Status = "Accepted"
	StatusBlocked  Status = "Blocked"
	StatusExpired  Status = "Expired"
	StatusInvalid  Status = "Invalid"
)

// RequestContext describes why the authorization is being asked for.
type RequestContext string

const (
	ContextTransactionStart RequestContext = "TransactionStart"
	ContextTransactionStop  RequestContext = "TransactionStop"
	ContextRemoteStart      RequestContext = "RemoteStart"
	ContextRemoteStop       RequestContext = "RemoteStop"
)

// TokenType classifies the identifier across protocol versions.
type TokenType string

const (
	TokenIDTag      TokenType = "ID_TAG"
	TokenCentral    TokenType = "CENTRAL"
	TokenLocal      TokenType = "LOCAL"
	TokenEMAID      TokenType = "E_MAID"
	TokenISO14443   TokenType = "ISO14443"
	TokenISO15693   TokenType = "ISO15693"
	TokenKeyCode    TokenType = "KEY_CODE"
	TokenMACAddress TokenType = "MAC_ADDRESS"
)

// Identifier is the version-neutral form of an idTag / idToken.
type Identifier struct {
	Value          string
	Type           TokenType
	OCPPVersion    string
	ParentID       string
	AdditionalInfo map[string]string
}

// Request is one authorization question posed to the chain.
type Request struct {
	Identifier    Identifier
	ConnectorID   int
	Context       RequestContext
	TransactionID string
	AllowOffline  bool
}

// Result is the chain's answer.
type Result struct {
	Status         Status
	IsOffline      bool
	Source         string
	AdditionalInfo map[string]string
}

// Strategy is one link of the chain. A nil result means "no opinion, ask the
// next strategy" (e.g. a cache miss or a rate-limited lookup).
type Strategy interface {
	Name() string
	Evaluate(ctx context.Context, req Request) *Result
}

// Chain evaluates strategies in order. The first non-Invalid decision wins;
// Invalid decisions fall through, and only the tail strategy's answer is
// returned as-is.
type Chain struct {
	strategies []Strategy
	cache      *Cache
}

// NewChain builds the canonical order: cache, local list, remote, offline
// fallback. cache may be nil when caching is disabled.
func NewChain(cache *Cache, strategies ...Strategy) *Chain {
	return &Chain{strategies: strategies, cache: cache}
}

// Evaluate runs the chain. Accepted, Blocked and Expired results from
// non-cache sources are written back to the cache.
func (c *Chain) Evaluate(ctx context.Context, req Request) Result {
	last := Result{Status: StatusInvalid}
	for i, s := range c.strategies {
		res := s.Evaluate(ctx, req)
		if res == nil {
			continue
		}
		last = *res
		last.Source = s.Name()
		if res.Status != StatusInvalid {
			if c.cache != nil && s.Name() != StrategyCacheName {
				c.cache.Put(req.Identifier.Value, res.Status)
			}
			return last
		}
		if i == len(c.strategies)-1 {
			return last
		}
	}
	return last
}
