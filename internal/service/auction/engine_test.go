package auction

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domain "github.com/homeprojects/lead-auction-exchange/internal/domain/auction"
	"github.com/homeprojects/lead-auction-exchange/internal/domain/buyer"
	"github.com/homeprojects/lead-auction-exchange/internal/domain/lead"
	"github.com/homeprojects/lead-auction-exchange/internal/domain/mapping"
	"github.com/homeprojects/lead-auction-exchange/internal/domain/values"
	"github.com/homeprojects/lead-auction-exchange/internal/infrastructure/buyerclient"
	"github.com/homeprojects/lead-auction-exchange/internal/service/eligibility"
)

type fakeStore struct {
	mu      sync.Mutex
	lead    *lead.Lead
	txs     []*domain.Transaction
	audits  []*domain.ComplianceAuditEntry
	history []*lead.StatusHistory
}

func (s *fakeStore) ClaimLead(ctx context.Context, leadID uuid.UUID) (*lead.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	from := s.lead.Status
	if err := s.lead.MarkProcessing(); err != nil {
		return nil, err
	}
	s.history = append(s.history, lead.NewStatusHistory(s.lead.ID, from, s.lead.Status, ""))
	return s.lead, nil
}

func (s *fakeStore) InsertTransaction(ctx context.Context, t *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs = append(s.txs, t)
	return nil
}

func (s *fakeStore) Finalize(ctx context.Context, l *lead.Lead, postTx *domain.Transaction, audit *domain.ComplianceAuditEntry, history *lead.StatusHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lead = l
	if postTx != nil {
		s.txs = append(s.txs, postTx)
	}
	if audit != nil {
		s.audits = append(s.audits, audit)
	}
	if history != nil {
		s.history = append(s.history, history)
	}
	return nil
}

func (s *fakeStore) txsByAction(action domain.ActionType) []*domain.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Transaction
	for _, t := range s.txs {
		if t.ActionType == action {
			out = append(out, t)
		}
	}
	return out
}

type fakeResolver struct {
	ranked []eligibility.RankedBuyer
}

func (r *fakeResolver) Resolve(ctx context.Context, serviceTypeID uuid.UUID, zipCode string, excludeBuyers []uuid.UUID) ([]eligibility.RankedBuyer, []eligibility.Exclusion, error) {
	return r.ranked, nil, nil
}

type fakeClient struct {
	mu     sync.Mutex
	pings  map[uuid.UUID]*buyerclient.PingResult
	posts  map[uuid.UUID]*buyerclient.PostResult
	pinged []uuid.UUID
	posted []uuid.UUID
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		pings: make(map[uuid.UUID]*buyerclient.PingResult),
		posts: make(map[uuid.UUID]*buyerclient.PostResult),
	}
}

func (c *fakeClient) Ping(ctx context.Context, b *buyer.Buyer, payload json.RawMessage) (*buyerclient.PingResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pinged = append(c.pinged, b.ID)
	if r, ok := c.pings[b.ID]; ok {
		return r, nil
	}
	return &buyerclient.PingResult{Status: domain.CallSuccess, Accepted: false}, nil
}

func (c *fakeClient) Post(ctx context.Context, b *buyer.Buyer, payload json.RawMessage) (*buyerclient.PostResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.posted = append(c.posted, b.ID)
	if r, ok := c.posts[b.ID]; ok {
		return r, nil
	}
	return &buyerclient.PostResult{Status: domain.CallSuccess, Accepted: true, Attempts: 1}, nil
}

func acceptedPing(bid string) *buyerclient.PingResult {
	m := values.MustMoney(bid)
	return &buyerclient.PingResult{Status: domain.CallSuccess, Accepted: true, BidAmount: &m}
}

func rankedBuyer(name string, priority int, minBid, maxBid string) eligibility.RankedBuyer {
	return eligibility.RankedBuyer{
		Buyer: buyer.Buyer{
			ID:          uuid.New(),
			Name:        name,
			Active:      true,
			PingTimeout: time.Second,
			PostTimeout: time.Second,
		},
		Config: buyer.ServiceConfig{
			MinBid:   values.MustMoney(minBid),
			MaxBid:   values.MustMoney(maxBid),
			Priority: 5,
			Active:   true,
		},
		MinBid:   values.MustMoney(minBid),
		MaxBid:   values.MustMoney(maxBid),
		Priority: priority,
	}
}

func pendingLead(t *testing.T) *lead.Lead {
	t.Helper()
	l, err := lead.NewLead(uuid.New(), "90210", true, lead.TimeframeImmediate,
		map[string]any{"windows_count": "5"}, lead.ComplianceData{})
	require.NoError(t, err)
	return l
}

func newEngine(store *fakeStore, resolver *fakeResolver, client *fakeClient) *Engine {
	return NewEngine(store, resolver, client, 500*time.Millisecond, zap.NewNop())
}

func TestRunHappyPathSingleBuyer(t *testing.T) {
	l := pendingLead(t)
	b1 := rankedBuyer("b1", 100, "50.00", "300.00")

	store := &fakeStore{lead: l}
	client := newFakeClient()
	client.pings[b1.Buyer.ID] = acceptedPing("150.00")

	engine := newEngine(store, &fakeResolver{ranked: []eligibility.RankedBuyer{b1}}, client)
	outcome, err := engine.Run(context.Background(), l.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.ResultSold, outcome.Result)
	assert.Equal(t, b1.Buyer.ID, outcome.WinnerID)
	assert.Equal(t, "150.00", outcome.WinningBid.String())

	assert.Equal(t, lead.StatusSold, store.lead.Status)
	require.NotNil(t, store.lead.WinningBuyerID)
	assert.Equal(t, b1.Buyer.ID, *store.lead.WinningBuyerID)
	assert.Equal(t, "150.00", store.lead.WinningBid.String())

	pings := store.txsByAction(domain.ActionPing)
	require.Len(t, pings, 1)
	assert.Equal(t, domain.CallSuccess, pings[0].Status)
	assert.Equal(t, "150.00", pings[0].BidAmount.String())

	posts := store.txsByAction(domain.ActionPost)
	require.Len(t, posts, 1)
	assert.Equal(t, domain.CallSuccess, posts[0].Status)
	assert.Equal(t, b1.Buyer.ID, posts[0].BuyerID)

	require.Len(t, store.audits, 1)
	assert.Equal(t, domain.EventLeadSold, store.audits[0].EventType)
}

func TestRunFanOutHighestBidWins(t *testing.T) {
	l := pendingLead(t)
	b1 := rankedBuyer("b1", 100, "50.00", "500.00")
	b2 := rankedBuyer("b2", 100, "50.00", "500.00")
	b3 := rankedBuyer("b3", 100, "50.00", "500.00")

	store := &fakeStore{lead: l}
	client := newFakeClient()
	client.pings[b1.Buyer.ID] = acceptedPing("200.00")
	client.pings[b2.Buyer.ID] = acceptedPing("250.00")
	client.pings[b3.Buyer.ID] = acceptedPing("300.00")

	engine := newEngine(store, &fakeResolver{ranked: []eligibility.RankedBuyer{b1, b2, b3}}, client)
	outcome, err := engine.Run(context.Background(), l.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.ResultSold, outcome.Result)
	assert.Equal(t, b3.Buyer.ID, outcome.WinnerID)
	assert.Equal(t, "300.00", outcome.WinningBid.String())

	assert.Len(t, store.txsByAction(domain.ActionPing), 3)
	posts := store.txsByAction(domain.ActionPost)
	require.Len(t, posts, 1)
	assert.Equal(t, b3.Buyer.ID, posts[0].BuyerID)
}

func TestRunEqualBidsZipPriorityBreaksTie(t *testing.T) {
	l := pendingLead(t)
	low := rankedBuyer("low", 10, "50.00", "500.00")
	high := rankedBuyer("high", 900, "50.00", "500.00")

	store := &fakeStore{lead: l}
	client := newFakeClient()
	client.pings[low.Buyer.ID] = acceptedPing("250.00")
	client.pings[high.Buyer.ID] = acceptedPing("250.00")

	engine := newEngine(store, &fakeResolver{ranked: []eligibility.RankedBuyer{low, high}}, client)
	outcome, err := engine.Run(context.Background(), l.ID)
	require.NoError(t, err)

	assert.Equal(t, high.Buyer.ID, outcome.WinnerID)
}

func TestRunBidAtRangeBoundaryIsValid(t *testing.T) {
	l := pendingLead(t)
	b1 := rankedBuyer("b1", 100, "50.00", "300.00")

	store := &fakeStore{lead: l}
	client := newFakeClient()
	client.pings[b1.Buyer.ID] = acceptedPing("300.00")

	engine := newEngine(store, &fakeResolver{ranked: []eligibility.RankedBuyer{b1}}, client)
	outcome, err := engine.Run(context.Background(), l.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.ResultSold, outcome.Result)
	assert.Equal(t, "300.00", outcome.WinningBid.String())
}

func TestRunBidOutOfRangeRejectsNoBids(t *testing.T) {
	l := pendingLead(t)
	b1 := rankedBuyer("b1", 100, "50.00", "300.00")

	store := &fakeStore{lead: l}
	client := newFakeClient()
	client.pings[b1.Buyer.ID] = acceptedPing("1000.00")

	engine := newEngine(store, &fakeResolver{ranked: []eligibility.RankedBuyer{b1}}, client)
	outcome, err := engine.Run(context.Background(), l.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.ResultRejected, outcome.Result)
	assert.Equal(t, domain.ReasonNoBids, outcome.Reason)
	assert.Equal(t, lead.StatusRejected, store.lead.Status)

	pings := store.txsByAction(domain.ActionPing)
	require.Len(t, pings, 1)
	assert.Equal(t, domain.CallSuccess, pings[0].Status)
	assert.Nil(t, pings[0].BidAmount)
	assert.Equal(t, domain.ReasonOutOfRange, pings[0].Reason)
	assert.Empty(t, store.txsByAction(domain.ActionPost))
}

func TestRunWinnerPostFailsFallbackSells(t *testing.T) {
	l := pendingLead(t)
	b1 := rankedBuyer("b1", 100, "50.00", "500.00")
	b2 := rankedBuyer("b2", 100, "50.00", "500.00")

	store := &fakeStore{lead: l}
	client := newFakeClient()
	client.pings[b1.Buyer.ID] = acceptedPing("300.00")
	client.pings[b2.Buyer.ID] = acceptedPing("250.00")
	client.posts[b1.Buyer.ID] = &buyerclient.PostResult{Status: domain.CallFailed, Reason: "HTTP_500", Attempts: 3}

	engine := newEngine(store, &fakeResolver{ranked: []eligibility.RankedBuyer{b1, b2}}, client)
	outcome, err := engine.Run(context.Background(), l.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.ResultSold, outcome.Result)
	assert.Equal(t, b2.Buyer.ID, outcome.WinnerID)
	assert.Equal(t, "250.00", outcome.WinningBid.String())

	posts := store.txsByAction(domain.ActionPost)
	require.Len(t, posts, 2)
	assert.Equal(t, b1.Buyer.ID, posts[0].BuyerID)
	assert.Equal(t, domain.CallFailed, posts[0].Status)
	assert.Equal(t, b2.Buyer.ID, posts[1].BuyerID)
	assert.Equal(t, domain.CallSuccess, posts[1].Status)

	for _, a := range store.audits {
		assert.NotEqual(t, domain.EventAuctionError, a.EventType)
	}
}

func TestRunPostPayloadBuildFailureRecordsFailedPost(t *testing.T) {
	l := pendingLead(t)
	l.FormData["callback"] = make(chan int) // not JSON-marshalable
	b1 := rankedBuyer("b1", 100, "50.00", "500.00")
	b1.Config.PostTemplate = mapping.FieldMapping{
		Fields: []mapping.FieldRule{{SourcePath: "form_data.callback", TargetPath: "callback"}},
	}
	b2 := rankedBuyer("b2", 100, "50.00", "500.00")

	store := &fakeStore{lead: l}
	client := newFakeClient()
	client.pings[b1.Buyer.ID] = acceptedPing("300.00")
	client.pings[b2.Buyer.ID] = acceptedPing("250.00")

	engine := newEngine(store, &fakeResolver{ranked: []eligibility.RankedBuyer{b1, b2}}, client)
	outcome, err := engine.Run(context.Background(), l.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.ResultSold, outcome.Result)
	assert.Equal(t, b2.Buyer.ID, outcome.WinnerID)
	assert.NotContains(t, client.posted, b1.Buyer.ID)

	// The skipped top bidder still leaves a FAILED POST row behind.
	posts := store.txsByAction(domain.ActionPost)
	require.Len(t, posts, 2)
	assert.Equal(t, b1.Buyer.ID, posts[0].BuyerID)
	assert.Equal(t, domain.CallFailed, posts[0].Status)
	assert.Equal(t, ReasonPayloadError, posts[0].Reason)
	assert.Equal(t, b2.Buyer.ID, posts[1].BuyerID)
	assert.Equal(t, domain.CallSuccess, posts[1].Status)
}

func TestRunAllPostsFailed(t *testing.T) {
	l := pendingLead(t)
	b1 := rankedBuyer("b1", 100, "50.00", "500.00")

	store := &fakeStore{lead: l}
	client := newFakeClient()
	client.pings[b1.Buyer.ID] = acceptedPing("300.00")
	client.posts[b1.Buyer.ID] = &buyerclient.PostResult{Status: domain.CallFailed, Reason: "HTTP_500", Attempts: 3}

	engine := newEngine(store, &fakeResolver{ranked: []eligibility.RankedBuyer{b1}}, client)
	outcome, err := engine.Run(context.Background(), l.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.ResultFailed, outcome.Result)
	assert.Equal(t, domain.ReasonAllPostsFailed, outcome.Reason)
	assert.Equal(t, lead.StatusFailed, store.lead.Status)
}

func TestRunNoEligibleBuyers(t *testing.T) {
	l := pendingLead(t)
	store := &fakeStore{lead: l}

	engine := newEngine(store, &fakeResolver{}, newFakeClient())
	outcome, err := engine.Run(context.Background(), l.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.ResultRejected, outcome.Result)
	assert.Equal(t, domain.ReasonNoEligibleBuyers, outcome.Reason)
	assert.Equal(t, lead.StatusRejected, store.lead.Status)
	require.Len(t, store.audits, 1)
	assert.Equal(t, domain.EventAuctionNoBuyer, store.audits[0].EventType)
}

func TestRunAllPingsTimeout(t *testing.T) {
	l := pendingLead(t)
	b1 := rankedBuyer("b1", 100, "50.00", "500.00")
	b2 := rankedBuyer("b2", 100, "50.00", "500.00")

	store := &fakeStore{lead: l}
	client := newFakeClient()
	client.pings[b1.Buyer.ID] = &buyerclient.PingResult{Status: domain.CallTimeout, Reason: "TIMEOUT"}
	client.pings[b2.Buyer.ID] = &buyerclient.PingResult{Status: domain.CallTimeout, Reason: "TIMEOUT"}

	engine := newEngine(store, &fakeResolver{ranked: []eligibility.RankedBuyer{b1, b2}}, client)
	outcome, err := engine.Run(context.Background(), l.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.ResultRejected, outcome.Result)
	assert.Equal(t, domain.ReasonNoBids, outcome.Reason)

	pings := store.txsByAction(domain.ActionPing)
	require.Len(t, pings, 2)
	for _, p := range pings {
		assert.Equal(t, domain.CallTimeout, p.Status)
	}
}

func TestRunMissingTrustedFormSkipsBuyer(t *testing.T) {
	l := pendingLead(t)
	strict := rankedBuyer("strict", 100, "50.00", "500.00")
	strict.Config.RequiresTrustedForm = true
	open := rankedBuyer("open", 50, "50.00", "500.00")

	store := &fakeStore{lead: l}
	client := newFakeClient()
	client.pings[open.Buyer.ID] = acceptedPing("100.00")

	engine := newEngine(store, &fakeResolver{ranked: []eligibility.RankedBuyer{strict, open}}, client)
	outcome, err := engine.Run(context.Background(), l.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.ResultSold, outcome.Result)
	assert.Equal(t, open.Buyer.ID, outcome.WinnerID)

	assert.NotContains(t, client.pinged, strict.Buyer.ID)
	require.Len(t, store.txsByAction(domain.ActionPing), 1)
}

func TestRunTrustedFormPresentIncludesStrictBuyer(t *testing.T) {
	l := pendingLead(t)
	l.Compliance.TrustedFormCertURL = "https://cert.trustedform.com/abc"
	strict := rankedBuyer("strict", 100, "50.00", "500.00")
	strict.Config.RequiresTrustedForm = true

	store := &fakeStore{lead: l}
	client := newFakeClient()
	client.pings[strict.Buyer.ID] = acceptedPing("100.00")

	engine := newEngine(store, &fakeResolver{ranked: []eligibility.RankedBuyer{strict}}, client)
	outcome, err := engine.Run(context.Background(), l.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.ResultSold, outcome.Result)
	assert.Contains(t, client.pinged, strict.Buyer.ID)
}

func TestRunClaimConflict(t *testing.T) {
	l := pendingLead(t)
	require.NoError(t, l.MarkProcessing())

	store := &fakeStore{lead: l}
	engine := newEngine(store, &fakeResolver{}, newFakeClient())

	_, err := engine.Run(context.Background(), l.ID)
	assert.Error(t, err)
}

func TestRunRejectedPingDoesNotBid(t *testing.T) {
	l := pendingLead(t)
	b1 := rankedBuyer("b1", 100, "50.00", "500.00")

	store := &fakeStore{lead: l}
	client := newFakeClient()
	client.pings[b1.Buyer.ID] = &buyerclient.PingResult{Status: domain.CallSuccess, Accepted: false, Reason: "not buying today"}

	engine := newEngine(store, &fakeResolver{ranked: []eligibility.RankedBuyer{b1}}, client)
	outcome, err := engine.Run(context.Background(), l.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.ResultRejected, outcome.Result)
	pings := store.txsByAction(domain.ActionPing)
	require.Len(t, pings, 1)
	assert.Equal(t, domain.CallSuccess, pings[0].Status)
	assert.Nil(t, pings[0].BidAmount)
}
