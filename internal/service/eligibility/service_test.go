package eligibility

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/homeprojects/lead-auction-exchange/internal/domain/buyer"
	"github.com/homeprojects/lead-auction-exchange/internal/domain/values"
	"github.com/homeprojects/lead-auction-exchange/internal/infrastructure/cache"
)

type fakeSource struct {
	candidates []buyer.Candidate
	calls      int
}

func (f *fakeSource) GetCandidates(ctx context.Context, serviceTypeID uuid.UUID, zipCode string) ([]buyer.Candidate, error) {
	f.calls++
	return f.candidates, nil
}

type fakeCounter struct {
	counts map[uuid.UUID]int
}

func (f *fakeCounter) CountBuyerDailyPosts(ctx context.Context, buyerID uuid.UUID, now time.Time) (int, error) {
	return f.counts[buyerID], nil
}

func newCandidate(name string, priority int, minBid, maxBid string) buyer.Candidate {
	return buyer.Candidate{
		Buyer: buyer.Buyer{ID: uuid.New(), Name: name, Active: true},
		Config: buyer.ServiceConfig{
			MinBid:   values.MustMoney(minBid),
			MaxBid:   values.MustMoney(maxBid),
			Priority: 5,
			Active:   true,
		},
		Coverage: buyer.ZipCoverage{
			ZipCode:  "90210",
			Priority: priority,
			Active:   true,
		},
	}
}

func newTestService(src *fakeSource, counter *fakeCounter, maxParticipants int) *Service {
	if counter == nil {
		counter = &fakeCounter{counts: map[uuid.UUID]int{}}
	}
	return NewService(src, counter, nil, maxParticipants, zap.NewNop())
}

func TestResolveRanksByPriorityThenMaxBid(t *testing.T) {
	low := newCandidate("low-priority", 10, "50.00", "500.00")
	highSmallBid := newCandidate("high-small", 100, "50.00", "200.00")
	highBigBid := newCandidate("high-big", 100, "50.00", "300.00")

	src := &fakeSource{candidates: []buyer.Candidate{low, highSmallBid, highBigBid}}
	svc := newTestService(src, nil, 10)

	ranked, exclusions, err := svc.Resolve(context.Background(), uuid.New(), "90210", nil)
	require.NoError(t, err)
	require.Empty(t, exclusions)
	require.Len(t, ranked, 3)

	assert.Equal(t, "high-big", ranked[0].Buyer.Name)
	assert.Equal(t, "high-small", ranked[1].Buyer.Name)
	assert.Equal(t, "low-priority", ranked[2].Buyer.Name)
}

func TestResolveBuyerIDTieBreakIsDeterministic(t *testing.T) {
	a := newCandidate("a", 100, "50.00", "300.00")
	b := newCandidate("b", 100, "50.00", "300.00")

	src := &fakeSource{candidates: []buyer.Candidate{a, b}}
	svc := newTestService(src, nil, 10)

	first, _, err := svc.Resolve(context.Background(), uuid.New(), "90210", nil)
	require.NoError(t, err)

	src.candidates = []buyer.Candidate{b, a}
	second, _, err := svc.Resolve(context.Background(), uuid.New(), "90210", nil)
	require.NoError(t, err)

	require.Len(t, first, 2)
	assert.Equal(t, first[0].Buyer.ID, second[0].Buyer.ID)
	assert.Equal(t, first[1].Buyer.ID, second[1].Buyer.ID)
}

func TestResolveZipOverridesBidRange(t *testing.T) {
	c := newCandidate("override", 100, "50.00", "300.00")
	zipMin := values.MustMoney("75.00")
	zipMax := values.MustMoney("250.00")
	c.Coverage.MinBid = &zipMin
	c.Coverage.MaxBid = &zipMax

	src := &fakeSource{candidates: []buyer.Candidate{c}}
	svc := newTestService(src, nil, 10)

	ranked, _, err := svc.Resolve(context.Background(), uuid.New(), "90210", nil)
	require.NoError(t, err)
	require.Len(t, ranked, 1)

	assert.True(t, ranked[0].MinBid.Equal(zipMin))
	assert.True(t, ranked[0].MaxBid.Equal(zipMax))
}

func TestResolveDailyQuotaExcludes(t *testing.T) {
	capped := newCandidate("capped", 100, "50.00", "300.00")
	limit := 5
	capped.Coverage.MaxLeadsPerDay = &limit
	open := newCandidate("open", 50, "50.00", "300.00")

	counter := &fakeCounter{counts: map[uuid.UUID]int{capped.Buyer.ID: 5}}
	src := &fakeSource{candidates: []buyer.Candidate{capped, open}}
	svc := newTestService(src, counter, 10)

	ranked, exclusions, err := svc.Resolve(context.Background(), uuid.New(), "90210", nil)
	require.NoError(t, err)

	require.Len(t, ranked, 1)
	assert.Equal(t, "open", ranked[0].Buyer.Name)
	require.Len(t, exclusions, 1)
	assert.Equal(t, capped.Buyer.ID, exclusions[0].BuyerID)
	assert.Equal(t, ReasonDailyQuota, exclusions[0].Reason)
}

func TestResolveUnderQuotaStaysIn(t *testing.T) {
	c := newCandidate("capped", 100, "50.00", "300.00")
	limit := 5
	c.Coverage.MaxLeadsPerDay = &limit

	counter := &fakeCounter{counts: map[uuid.UUID]int{c.Buyer.ID: 4}}
	src := &fakeSource{candidates: []buyer.Candidate{c}}
	svc := newTestService(src, counter, 10)

	ranked, exclusions, err := svc.Resolve(context.Background(), uuid.New(), "90210", nil)
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Empty(t, exclusions)
	assert.Equal(t, 4, ranked[0].DailyCountUsed)
}

func TestResolveCallerExclusion(t *testing.T) {
	skip := newCandidate("failed-winner", 100, "50.00", "300.00")
	keep := newCandidate("fallback", 50, "50.00", "300.00")

	src := &fakeSource{candidates: []buyer.Candidate{skip, keep}}
	svc := newTestService(src, nil, 10)

	ranked, exclusions, err := svc.Resolve(context.Background(), uuid.New(), "90210", []uuid.UUID{skip.Buyer.ID})
	require.NoError(t, err)

	require.Len(t, ranked, 1)
	assert.Equal(t, "fallback", ranked[0].Buyer.Name)
	require.Len(t, exclusions, 1)
	assert.Equal(t, ReasonExcludedByCaller, exclusions[0].Reason)
}

func TestResolveTruncatesToMaxParticipants(t *testing.T) {
	var candidates []buyer.Candidate
	for i := 0; i < 15; i++ {
		candidates = append(candidates, newCandidate("buyer", 100, "50.00", "300.00"))
	}

	src := &fakeSource{candidates: candidates}
	svc := newTestService(src, nil, 10)

	ranked, _, err := svc.Resolve(context.Background(), uuid.New(), "90210", nil)
	require.NoError(t, err)
	assert.Len(t, ranked, 10)
}

func TestResolveUsesCacheOnSecondCall(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ec := cache.NewEligibilityCache(cache.NewRedisCacheFromClient(client, zap.NewNop()), time.Minute, zap.NewNop())

	src := &fakeSource{candidates: []buyer.Candidate{newCandidate("cached", 100, "50.00", "300.00")}}
	svc := NewService(src, &fakeCounter{counts: map[uuid.UUID]int{}}, ec, 10, zap.NewNop())

	serviceTypeID := uuid.New()
	ctx := context.Background()

	_, _, err := svc.Resolve(ctx, serviceTypeID, "90210", nil)
	require.NoError(t, err)
	_, _, err = svc.Resolve(ctx, serviceTypeID, "90210", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, src.calls)
}
