package eligibility

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/homeprojects/lead-auction-exchange/internal/domain/buyer"
	"github.com/homeprojects/lead-auction-exchange/internal/domain/values"
	"github.com/homeprojects/lead-auction-exchange/internal/infrastructure/cache"
)

// RankedBuyer is one eligible auction participant with its effective bid
// range resolved and its zip-row priority attached.
type RankedBuyer struct {
	Buyer  buyer.Buyer
	Config buyer.ServiceConfig

	MinBid values.Money
	MaxBid values.Money

	// Zip-row priority, 1..1000. The config-level priority is not used for
	// ranking.
	Priority int

	DailyCountUsed int
}

// Exclusion records why a covering buyer was left out of an auction.
type Exclusion struct {
	BuyerID uuid.UUID `json:"buyer_id"`
	Reason  string    `json:"reason"`
}

// Exclusion reasons.
const (
	ReasonDailyQuota       = "DAILY_QUOTA"
	ReasonExcludedByCaller = "EXCLUDED_BY_CALLER"
)

// CandidateSource yields the coverage join for a (serviceTypeID, zipCode)
// pair. Backed by the buyer repository in production.
type CandidateSource interface {
	GetCandidates(ctx context.Context, serviceTypeID uuid.UUID, zipCode string) ([]buyer.Candidate, error)
}

// DailyCounter counts a buyer's successful POSTs for the current day.
type DailyCounter interface {
	CountBuyerDailyPosts(ctx context.Context, buyerID uuid.UUID, now time.Time) (int, error)
}

// Service resolves the ranked participant list for an auction.
type Service struct {
	candidates      CandidateSource
	counter         DailyCounter
	cache           *cache.EligibilityCache
	maxParticipants int
	logger          *zap.Logger
}

// NewService creates the eligibility service. cache may be nil, in which case
// every resolution hits the database join.
func NewService(candidates CandidateSource, counter DailyCounter, c *cache.EligibilityCache, maxParticipants int, logger *zap.Logger) *Service {
	return &Service{
		candidates:      candidates,
		counter:         counter,
		cache:           c,
		maxParticipants: maxParticipants,
		logger:          logger,
	}
}

// Resolve returns the ranked, truncated participant list for a lead, plus the
// exclusions applied. The coverage join may come from cache; quota counts are
// always recomputed so a stale cache can never overshoot a daily cap by more
// than one race.
func (s *Service) Resolve(ctx context.Context, serviceTypeID uuid.UUID, zipCode string, excludeBuyers []uuid.UUID) ([]RankedBuyer, []Exclusion, error) {
	candidates, err := s.loadCandidates(ctx, serviceTypeID, zipCode)
	if err != nil {
		return nil, nil, err
	}

	excluded := make(map[uuid.UUID]bool, len(excludeBuyers))
	for _, id := range excludeBuyers {
		excluded[id] = true
	}

	now := time.Now()
	var ranked []RankedBuyer
	var exclusions []Exclusion
	for _, c := range candidates {
		if excluded[c.Buyer.ID] {
			exclusions = append(exclusions, Exclusion{BuyerID: c.Buyer.ID, Reason: ReasonExcludedByCaller})
			continue
		}

		used := 0
		if c.Coverage.MaxLeadsPerDay != nil {
			used, err = s.counter.CountBuyerDailyPosts(ctx, c.Buyer.ID, now)
			if err != nil {
				return nil, nil, err
			}
			if used >= *c.Coverage.MaxLeadsPerDay {
				exclusions = append(exclusions, Exclusion{BuyerID: c.Buyer.ID, Reason: ReasonDailyQuota})
				continue
			}
		}

		ranked = append(ranked, RankedBuyer{
			Buyer:          c.Buyer,
			Config:         c.Config,
			MinBid:         c.Coverage.EffectiveMinBid(&c.Config),
			MaxBid:         c.Coverage.EffectiveMaxBid(&c.Config),
			Priority:       c.Coverage.Priority,
			DailyCountUsed: used,
		})
	}

	sortRanked(ranked)

	if len(ranked) > s.maxParticipants {
		s.logger.Debug("truncating auction participants",
			zap.String("zip", zipCode),
			zap.Int("eligible", len(ranked)),
			zap.Int("cap", s.maxParticipants))
		ranked = ranked[:s.maxParticipants]
	}
	return ranked, exclusions, nil
}

func sortRanked(ranked []RankedBuyer) {
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Priority != ranked[j].Priority {
			return ranked[i].Priority > ranked[j].Priority
		}
		if cmp := ranked[i].MaxBid.Cmp(ranked[j].MaxBid); cmp != 0 {
			return cmp > 0
		}
		return strings.Compare(ranked[i].Buyer.ID.String(), ranked[j].Buyer.ID.String()) < 0
	})
}

func (s *Service) loadCandidates(ctx context.Context, serviceTypeID uuid.UUID, zipCode string) ([]buyer.Candidate, error) {
	if s.cache != nil {
		if cached, hit := s.cache.Get(ctx, serviceTypeID, zipCode); hit {
			return cached, nil
		}
	}

	candidates, err := s.candidates.GetCandidates(ctx, serviceTypeID, zipCode)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, serviceTypeID, zipCode, candidates)
	}
	return candidates, nil
}
