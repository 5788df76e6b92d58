package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/homeprojects/lead-auction-exchange/internal/domain/buyer"
)

// EligibilityCache caches the coverage join for a (serviceTypeID, zipCode)
// pair. Daily-quota filtering always recomputes; only the join result is
// cached.
type EligibilityCache struct {
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewEligibilityCache creates the eligibility read cache.
func NewEligibilityCache(cache Cache, ttl time.Duration, logger *zap.Logger) *EligibilityCache {
	return &EligibilityCache{cache: cache, ttl: ttl, logger: logger}
}

func eligibilityKey(serviceTypeID uuid.UUID, zipCode string) string {
	return fmt.Sprintf("eligibility:%s:%s", serviceTypeID, zipCode)
}

// Get returns the cached candidate set, or ok=false on miss. Cache errors
// degrade to a miss; the caller falls back to the database.
func (c *EligibilityCache) Get(ctx context.Context, serviceTypeID uuid.UUID, zipCode string) ([]buyer.Candidate, bool) {
	var candidates []buyer.Candidate
	err := c.cache.GetJSON(ctx, eligibilityKey(serviceTypeID, zipCode), &candidates)
	if err != nil {
		if !errors.Is(err, ErrKeyNotFound) {
			c.logger.Warn("eligibility cache read failed",
				zap.String("zip", zipCode),
				zap.Error(err))
		}
		return nil, false
	}
	return candidates, true
}

// Set stores the candidate set. Failures are logged and swallowed; a missing
// cache entry only costs a join.
func (c *EligibilityCache) Set(ctx context.Context, serviceTypeID uuid.UUID, zipCode string, candidates []buyer.Candidate) {
	if err := c.cache.SetJSON(ctx, eligibilityKey(serviceTypeID, zipCode), candidates, c.ttl); err != nil {
		c.logger.Warn("eligibility cache write failed",
			zap.String("zip", zipCode),
			zap.Error(err))
	}
}

// Invalidate drops the entry for one (serviceTypeID, zipCode) pair. Admin
// writes to buyers, configs or coverage must call this (or InvalidateAll).
func (c *EligibilityCache) Invalidate(ctx context.Context, serviceTypeID uuid.UUID, zipCode string) error {
	return c.cache.Delete(ctx, eligibilityKey(serviceTypeID, zipCode))
}

// InvalidateAll drops the entire eligibility namespace.
func (c *EligibilityCache) InvalidateAll(ctx context.Context) error {
	return c.cache.DeletePattern(ctx, "eligibility:*")
}
