package api

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"synscope/geo"
	"synscope/logging"
)

// CachedLookup answers host info queries from the cache and falls back to
// the upstream lookup on a miss. Only successful answers are cached.
type CachedLookup struct {
	upstream geo.Lookup
	cache    HostInfoCache
	ttl      time.Duration
	logger   *slog.Logger
}

// NewCachedLookup wraps upstream with cache. A non-positive ttl disables
// caching.
func NewCachedLookup(upstream geo.Lookup, cache HostInfoCache, ttl time.Duration) *CachedLookup {
	return &CachedLookup{upstream: upstream, cache: cache, ttl: ttl, logger: logging.Logger()}
}

// Lookup implements geo.Lookup.
func (l *CachedLookup) Lookup(ctx context.Context, ip string) (*geo.HostInfo, error) {
	if l.ttl <= 0 {
		return l.upstream.Lookup(ctx, ip)
	}

	info, err := l.cache.GetHostInfo(ctx, ip)
	if err == nil {
		return info, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		l.logger.WarnContext(ctx, "host info cache read failed", "ip", ip, "error", err)
	}

	info, err = l.upstream.Lookup(ctx, ip)
	if err != nil {
		return nil, err
	}
	if err := l.cache.SetHostInfo(ctx, ip, info, l.ttl); err != nil {
		l.logger.WarnContext(ctx, "host info cache write failed", "ip", ip, "error", err)
	}
	return info, nil
}
