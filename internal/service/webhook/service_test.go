package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domain "github.com/homeprojects/lead-auction-exchange/internal/domain/auction"
	"github.com/homeprojects/lead-auction-exchange/internal/domain/buyer"
	apperrors "github.com/homeprojects/lead-auction-exchange/internal/domain/errors"
	"github.com/homeprojects/lead-auction-exchange/internal/domain/lead"
	"github.com/homeprojects/lead-auction-exchange/internal/domain/values"
	"github.com/homeprojects/lead-auction-exchange/internal/infrastructure/cache"
)

type fakeStore struct {
	buyers        map[string]*buyer.Buyer
	leads         map[uuid.UUID]*lead.Lead
	txs           []*domain.Transaction
	compAudits    []*domain.ComplianceAuditEntry
	webhookAudits []*domain.WebhookAudit
	reversed      *lead.Lead
	reverseErrs   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		buyers: make(map[string]*buyer.Buyer),
		leads:  make(map[uuid.UUID]*lead.Lead),
	}
}

func (f *fakeStore) GetBuyerByName(ctx context.Context, name string) (*buyer.Buyer, error) {
	b, ok := f.buyers[name]
	if !ok {
		return nil, apperrors.ErrBuyerNotFound
	}
	return b, nil
}

// GetLead hands out a copy, like a database read would; mutations only land
// back in the store through ReverseSale.
func (f *fakeStore) GetLead(ctx context.Context, id uuid.UUID) (*lead.Lead, error) {
	l, ok := f.leads[id]
	if !ok {
		return nil, apperrors.ErrLeadNotFound
	}
	cp := *l
	return &cp, nil
}

func (f *fakeStore) InsertTransaction(ctx context.Context, t *domain.Transaction) error {
	f.txs = append(f.txs, t)
	return nil
}

func (f *fakeStore) InsertComplianceEntry(ctx context.Context, e *domain.ComplianceAuditEntry) error {
	f.compAudits = append(f.compAudits, e)
	return nil
}

func (f *fakeStore) InsertWebhookAudit(ctx context.Context, w *domain.WebhookAudit) error {
	f.webhookAudits = append(f.webhookAudits, w)
	return nil
}

func (f *fakeStore) ReverseSale(ctx context.Context, l *lead.Lead, audit *domain.ComplianceAuditEntry, history *lead.StatusHistory) error {
	if f.reverseErrs > 0 {
		f.reverseErrs--
		return apperrors.NewInternalError("reverse sale failed")
	}
	f.reversed = l
	f.leads[l.ID] = l
	f.compAudits = append(f.compAudits, audit)
	return nil
}

func (f *fakeStore) auditTypes() []string {
	var out []string
	for _, a := range f.compAudits {
		out = append(out, a.EventType)
	}
	return out
}

func testWebhookBuyer() *buyer.Buyer {
	return &buyer.Buyer{
		ID:            uuid.New(),
		Name:          "acme-home",
		Active:        true,
		WebhookSecret: "s3cret",
	}
}

func soldLead(t *testing.T, winnerID uuid.UUID, bid string) *lead.Lead {
	t.Helper()
	l, err := lead.NewLead(uuid.New(), "90210", true, lead.TimeframeImmediate, nil, lead.ComplianceData{})
	require.NoError(t, err)
	require.NoError(t, l.MarkProcessing())
	require.NoError(t, l.MarkSold(winnerID, values.MustMoney(bid)))
	return l
}

func newTestService(t *testing.T, store *fakeStore) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := cache.NewRedisCacheFromClient(client, zap.NewNop())
	return NewService(store, c, time.UTC, zap.NewNop()), mr
}

func signedBody(t *testing.T, secret string, env any) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(env)
	require.NoError(t, err)
	return body, Sign(secret, body)
}

func TestProcessUnknownBuyer(t *testing.T) {
	svc, _ := newTestService(t, newFakeStore())

	_, err := svc.Process(context.Background(), "nobody", []byte(`{}`), "sig")
	require.Error(t, err)
	assert.Equal(t, 404, apperrors.GetStatusCode(err))
}

func TestProcessInactiveBuyer(t *testing.T) {
	store := newFakeStore()
	b := testWebhookBuyer()
	b.Active = false
	store.buyers[b.Name] = b

	svc, _ := newTestService(t, store)
	_, err := svc.Process(context.Background(), b.Name, []byte(`{}`), "sig")
	require.Error(t, err)
	assert.Equal(t, 403, apperrors.GetStatusCode(err))
}

func TestProcessBadSignature(t *testing.T) {
	store := newFakeStore()
	b := testWebhookBuyer()
	store.buyers[b.Name] = b

	svc, _ := newTestService(t, store)
	_, err := svc.Process(context.Background(), b.Name, []byte(`{}`), "deadbeef")
	require.Error(t, err)
	assert.Equal(t, 401, apperrors.GetStatusCode(err))
}

func TestProcessMalformedEnvelope(t *testing.T) {
	store := newFakeStore()
	b := testWebhookBuyer()
	store.buyers[b.Name] = b
	svc, _ := newTestService(t, store)

	body := []byte(`{"action": "post_response"}`)
	_, err := svc.Process(context.Background(), b.Name, body, Sign(b.WebhookSecret, body))
	require.Error(t, err)
	assert.Equal(t, 400, apperrors.GetStatusCode(err))
}

func TestProcessUnknownLead(t *testing.T) {
	store := newFakeStore()
	b := testWebhookBuyer()
	store.buyers[b.Name] = b
	svc, _ := newTestService(t, store)

	body, sig := signedBody(t, b.WebhookSecret, domain.WebhookEnvelope{
		LeadID: uuid.New(),
		Action: domain.WebhookActionStatusUpdate,
		Status: "accepted",
	})
	_, err := svc.Process(context.Background(), b.Name, body, sig)
	require.Error(t, err)
	assert.Equal(t, 404, apperrors.GetStatusCode(err))
}

func TestProcessSaleReversalRetainsWinner(t *testing.T) {
	store := newFakeStore()
	b := testWebhookBuyer()
	store.buyers[b.Name] = b
	l := soldLead(t, b.ID, "150.00")
	store.leads[l.ID] = l
	svc, _ := newTestService(t, store)

	body, sig := signedBody(t, b.WebhookSecret, domain.WebhookEnvelope{
		LeadID: l.ID,
		Action: domain.WebhookActionPostResponse,
		Status: domain.PostStatusDuplicate,
	})
	receipt, err := svc.Process(context.Background(), b.Name, body, sig)
	require.NoError(t, err)

	assert.Equal(t, AppliedReversal, receipt.Applied)
	require.NotNil(t, store.reversed)
	assert.Equal(t, lead.StatusRejected, store.reversed.Status)
	require.NotNil(t, store.reversed.WinningBuyerID)
	assert.Equal(t, b.ID, *store.reversed.WinningBuyerID)
	assert.Contains(t, store.auditTypes(), domain.EventSaleReversed)
	require.Len(t, store.webhookAudits, 1)
}

func TestProcessDeliveredIncrementsRevenue(t *testing.T) {
	store := newFakeStore()
	b := testWebhookBuyer()
	store.buyers[b.Name] = b
	l := soldLead(t, b.ID, "150.00")
	store.leads[l.ID] = l
	svc, mr := newTestService(t, store)

	body, sig := signedBody(t, b.WebhookSecret, domain.WebhookEnvelope{
		LeadID: l.ID,
		Action: domain.WebhookActionPostResponse,
		Status: domain.PostStatusDelivered,
	})
	receipt, err := svc.Process(context.Background(), b.Name, body, sig)
	require.NoError(t, err)
	assert.Equal(t, AppliedDelivered, receipt.Applied)

	day := time.Now().UTC().Format("2006-01-02")
	got, err := mr.Get(fmt.Sprintf("revenue:%s:%s", b.ID, day))
	require.NoError(t, err)
	assert.Equal(t, "15000", got)

	// The lead stays SOLD.
	assert.Equal(t, lead.StatusSold, store.leads[l.ID].Status)
	assert.Nil(t, store.reversed)
}

func TestProcessLatePingWhileProcessing(t *testing.T) {
	store := newFakeStore()
	b := testWebhookBuyer()
	store.buyers[b.Name] = b

	l, err := lead.NewLead(uuid.New(), "90210", true, lead.TimeframeImmediate, nil, lead.ComplianceData{})
	require.NoError(t, err)
	require.NoError(t, l.MarkProcessing())
	store.leads[l.ID] = l
	svc, _ := newTestService(t, store)

	bid := values.MustMoney("120.00")
	body, sig := signedBody(t, b.WebhookSecret, domain.WebhookEnvelope{
		LeadID: l.ID,
		Action: domain.WebhookActionPingResponse,
		Status: "accepted",
		Bid:    &bid,
	})
	receipt, err := svc.Process(context.Background(), b.Name, body, sig)
	require.NoError(t, err)

	assert.Equal(t, AppliedLatePing, receipt.Applied)
	require.Len(t, store.txs, 1)
	assert.Equal(t, domain.ActionPing, store.txs[0].ActionType)
	assert.Equal(t, domain.CallSuccess, store.txs[0].Status)
	assert.Equal(t, "120.00", store.txs[0].BidAmount.String())
}

func TestProcessLatePingAfterAuctionIsAuditOnly(t *testing.T) {
	store := newFakeStore()
	b := testWebhookBuyer()
	store.buyers[b.Name] = b
	l := soldLead(t, b.ID, "150.00")
	store.leads[l.ID] = l
	svc, _ := newTestService(t, store)

	body, sig := signedBody(t, b.WebhookSecret, domain.WebhookEnvelope{
		LeadID: l.ID,
		Action: domain.WebhookActionPingResponse,
		Status: "accepted",
	})
	receipt, err := svc.Process(context.Background(), b.Name, body, sig)
	require.NoError(t, err)

	assert.Equal(t, AppliedAuditOnly, receipt.Applied)
	assert.Empty(t, store.txs)
	assert.Contains(t, store.auditTypes(), domain.EventWebhookLatePing)
}

func TestProcessDeduplicatesByTransactionID(t *testing.T) {
	store := newFakeStore()
	b := testWebhookBuyer()
	store.buyers[b.Name] = b
	l := soldLead(t, b.ID, "150.00")
	store.leads[l.ID] = l
	svc, _ := newTestService(t, store)

	body, sig := signedBody(t, b.WebhookSecret, domain.WebhookEnvelope{
		LeadID:        l.ID,
		Action:        domain.WebhookActionPostResponse,
		Status:        domain.PostStatusDuplicate,
		TransactionID: "tx-1",
	})

	first, err := svc.Process(context.Background(), b.Name, body, sig)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := svc.Process(context.Background(), b.Name, body, sig)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)

	// Only the first application reversed the sale and audited.
	require.Len(t, store.webhookAudits, 1)
}

func TestProcessFailedApplicationDoesNotDeduplicateRetry(t *testing.T) {
	store := newFakeStore()
	store.reverseErrs = 1
	b := testWebhookBuyer()
	store.buyers[b.Name] = b
	l := soldLead(t, b.ID, "150.00")
	store.leads[l.ID] = l
	svc, mr := newTestService(t, store)

	body, sig := signedBody(t, b.WebhookSecret, domain.WebhookEnvelope{
		LeadID:        l.ID,
		Action:        domain.WebhookActionPostResponse,
		Status:        domain.PostStatusDuplicate,
		TransactionID: "tx-9",
	})

	_, err := svc.Process(context.Background(), b.Name, body, sig)
	require.Error(t, err)
	assert.Nil(t, store.reversed)

	// The failed application released its dedup marker, so the buyer's
	// retry is applied instead of being answered as a duplicate.
	assert.False(t, mr.Exists(fmt.Sprintf("webhook:dedup:%s:%s", b.ID, "tx-9")))

	receipt, err := svc.Process(context.Background(), b.Name, body, sig)
	require.NoError(t, err)
	assert.False(t, receipt.Duplicate)
	assert.Equal(t, AppliedReversal, receipt.Applied)
	require.NotNil(t, store.reversed)
	assert.Equal(t, lead.StatusRejected, store.reversed.Status)
}

func TestProcessStatusUpdateIsAuditOnly(t *testing.T) {
	store := newFakeStore()
	b := testWebhookBuyer()
	store.buyers[b.Name] = b
	l := soldLead(t, b.ID, "150.00")
	store.leads[l.ID] = l
	svc, _ := newTestService(t, store)

	body, sig := signedBody(t, b.WebhookSecret, domain.WebhookEnvelope{
		LeadID: l.ID,
		Action: domain.WebhookActionStatusUpdate,
		Status: "accepted",
	})
	receipt, err := svc.Process(context.Background(), b.Name, body, sig)
	require.NoError(t, err)

	assert.Equal(t, AppliedAuditOnly, receipt.Applied)
	assert.Contains(t, store.auditTypes(), domain.EventWebhookStatus)
}
