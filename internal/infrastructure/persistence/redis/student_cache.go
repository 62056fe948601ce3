package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vrlab/classroom-monitor/internal/domain/student"
	"github.com/vrlab/classroom-monitor/pkg/circuitbreaker"
)

// StudentCache resolves headset addresses through Redis before falling back
// to the roster. Only hits are cached, so a student registered after a miss
// is found on the next help request. After repeated Redis failures the
// breaker opens and lookups go straight to the roster.
type StudentCache struct {
	cache   *Cache
	roster  student.Resolver
	ttl     time.Duration
	breaker *circuitbreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewStudentCache creates a new StudentCache in front of roster.
func NewStudentCache(cache *Cache, roster student.Resolver, ttl time.Duration, logger *slog.Logger) *StudentCache {
	if ttl <= 0 {
		ttl = TTLStudentCache
	}
	if logger == nil {
		logger = slog.Default()
	}
	breaker := circuitbreaker.CacheBreaker(func(name string, from, to circuitbreaker.State) {
		logger.Warn("student cache breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
	})
	return &StudentCache{cache: cache, roster: roster, ttl: ttl, breaker: breaker, logger: logger}
}

// ResolveStudentByAddress implements student.Resolver. Redis failures are
// logged and bypassed; roster failures are returned.
func (s *StudentCache) ResolveStudentByAddress(ctx context.Context, address string) (*student.Student, error) {
	key := s.cache.Key(PrefixStudentAddress, address)

	var cached student.Student
	hit := false
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		err := s.cache.Get(ctx, key, &cached)
		if errors.Is(err, ErrCacheMiss) {
			return nil
		}
		hit = err == nil
		return err
	})
	if hit {
		return &cached, nil
	}
	if err != nil && !circuitbreaker.IsRejected(err) {
		s.logger.Warn("student cache read failed", "address", address, "error", err)
	}

	st, err := s.roster.ResolveStudentByAddress(ctx, address)
	if err != nil || st == nil {
		return st, err
	}

	err = s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.cache.Set(ctx, key, st, s.ttl)
	})
	if err != nil && !circuitbreaker.IsRejected(err) {
		s.logger.Warn("student cache write failed", "address", address, "error", err)
	}
	return st, nil
}

// BreakerState reports whether Redis is currently being bypassed.
func (s *StudentCache) BreakerState() circuitbreaker.State {
	return s.breaker.State()
}

// Invalidate drops the cached entry of one address.
func (s *StudentCache) Invalidate(ctx context.Context, address string) error {
	return s.cache.Delete(ctx, s.cache.Key(PrefixStudentAddress, address))
}

// InvalidateAll clears every cached address.
func (s *StudentCache) InvalidateAll(ctx context.Context) error {
	return s.cache.DeleteByPattern(ctx, s.cache.Key(PrefixStudentAddress, "*"))
}

// Compile-time check.
var _ student.Resolver = (*StudentCache)(nil)
