package auth

import (
	"context"
	"log/slog"
)

// Strategy names used as the Source field of results.
const (
	StrategyCacheName   = "Cache"
	StrategyLocalName   = "LocalList"
	StrategyRemoteName  = "Remote"
	StrategyOfflineName = "OfflineFallback"
)

// CacheStrategy consults the shared authorization cache. A miss (including a
// rate-limited lookup) yields no opinion.
type CacheStrategy struct {
	Cache *Cache
}

func (s *CacheStrategy) Name() string { return StrategyCacheName }

func (s *CacheStrategy) Evaluate(_ context.Context, req Request) *Result {
	if s.Cache == nil {
		return nil
	}
	status, ok := s.Cache.Lookup(req.Identifier.Value)
	if !ok {
		return nil
	}
	return &Result{Status: status}
}

// LocalLookup answers whether an identifier appears in the station's local
// authorization data (idTags file and/or SendLocalList entries).
type LocalLookup func(identifier string) bool

// LocalListStrategy checks the station-local authorization list.
type LocalListStrategy struct {
	Lookup LocalLookup
}

func (s *LocalListStrategy) Name() string { return StrategyLocalName }

func (s *LocalListStrategy) Evaluate(_ context.Context, req Request) *Result {
	if s.Lookup == nil {
		return nil
	}
	if s.Lookup(req.Identifier.Value) {
		return &Result{Status: StatusAccepted}
	}
	return &Result{Status: StatusInvalid}
}

// RemoteAuthorizer performs the protocol-level Authorize round-trip.
type RemoteAuthorizer interface {
	Authorize(ctx context.Context, id Identifier) (Status, error)
}

// RemoteStrategy asks the Central System, short-circuited by a breaker so a
// dead backend degrades to the offline fallback quickly.
type RemoteStrategy struct {
	Authorizer RemoteAuthorizer
	Breaker    *Breaker
	Logger     *slog.Logger
}

func (s *RemoteStrategy) Name() string { return StrategyRemoteName }

func (s *RemoteStrategy) Evaluate(ctx context.Context, req Request) *Result {
	if s.Authorizer == nil {
		return nil
	}
	if s.Breaker != nil {
		if err := s.Breaker.Allow(); err != nil {
			s.logger().Warn("remote authorize skipped", "identifier", req.Identifier.Value, "error", err)
			return &Result{Status: StatusInvalid, AdditionalInfo: map[string]string{"error": err.Error()}}
		}
	}

	status, err := s.Authorizer.Authorize(ctx, req.Identifier)
	if s.Breaker != nil {
		s.Breaker.Record(err == nil)
	}
	if err != nil {
		s.logger().Warn("remote authorize failed", "identifier", req.Identifier.Value, "error", err)
		return &Result{Status: StatusInvalid, AdditionalInfo: map[string]string{"error": err.Error()}}
	}
	return &Result{Status: status}
}

func (s *RemoteStrategy) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// OfflinePolicy holds the configuration-key driven offline behavior.
type OfflinePolicy struct {
	AllowOfflineTxForUnknownID bool
	LocalAuthorizeOffline      bool
}

// OfflineFallbackStrategy is the chain tail: accept offline when the request
// permits it and either offline policy flag is set.
type OfflineFallbackStrategy struct {
	Policy func() OfflinePolicy
}

func (s *OfflineFallbackStrategy) Name() string { return StrategyOfflineName }

func (s *OfflineFallbackStrategy) Evaluate(_ context.Context, req Request) *Result {
	if !req.AllowOffline {
		return &Result{Status: StatusInvalid}
	}
	var policy OfflinePolicy
	if s.Policy != nil {
		policy = s.Policy()
	}
	if policy.AllowOfflineTxForUnknownID || policy.LocalAuthorizeOffline {
		return &Result{Status: StatusAccepted, IsOffline: true}
	}
	return &Result{Status: StatusInvalid}
}
