package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domain "github.com/homeprojects/lead-auction-exchange/internal/domain/auction"
	"github.com/homeprojects/lead-auction-exchange/internal/domain/buyer"
	apperrors "github.com/homeprojects/lead-auction-exchange/internal/domain/errors"
	"github.com/homeprojects/lead-auction-exchange/internal/domain/lead"
	"github.com/homeprojects/lead-auction-exchange/internal/infrastructure/cache"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Signature"

// Webhook audit rows and dedup markers are retained 30 days.
const dedupTTL = 30 * 24 * time.Hour

// Store is the persistence surface for inbound webhook reconciliation.
type Store interface {
	GetBuyerByName(ctx context.Context, name string) (*buyer.Buyer, error)
	GetLead(ctx context.Context, id uuid.UUID) (*lead.Lead, error)
	InsertTransaction(ctx context.Context, t *domain.Transaction) error
	InsertComplianceEntry(ctx context.Context, e *domain.ComplianceAuditEntry) error
	InsertWebhookAudit(ctx context.Context, w *domain.WebhookAudit) error
	// ReverseSale applies the SOLD -> REJECTED compensation atomically.
	ReverseSale(ctx context.Context, l *lead.Lead, audit *domain.ComplianceAuditEntry, history *lead.StatusHistory) error
}

// Receipt summarizes how an accepted webhook was applied.
type Receipt struct {
	Duplicate bool   `json:"duplicate"`
	Applied   string `json:"applied"`
}

// How a webhook was applied.
const (
	AppliedLatePing  = "late_ping"
	AppliedAuditOnly = "audit_only"
	AppliedReversal  = "sale_reversed"
	AppliedDelivered = "delivery_confirmed"
)

// Service authenticates and applies buyer webhook callbacks.
type Service struct {
	store  Store
	cache  cache.Cache
	loc    *time.Location
	logger *zap.Logger
}

// NewService creates the webhook service. loc governs the revenue counter day
// boundary; nil falls back to UTC.
func NewService(store Store, c cache.Cache, loc *time.Location, logger *zap.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{store: store, cache: c, loc: loc, logger: logger}
}

// Sign computes the webhook signature for a body, exported for buyers'
// integration tests and our own.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Process authenticates one inbound webhook and reconciles auction state.
// Errors carry the HTTP status the transport should answer with.
func (s *Service) Process(ctx context.Context, buyerName string, body []byte, signature string) (*Receipt, error) {
	b, err := s.store.GetBuyerByName(ctx, buyerName)
	if err != nil {
		return nil, err
	}
	if !b.Active {
		return nil, apperrors.NewForbiddenError("buyer is inactive")
	}
	if b.WebhookSecret == "" {
		return nil, apperrors.NewAuthenticationError("buyer has no webhook secret configured")
	}
	if !hmac.Equal([]byte(Sign(b.WebhookSecret, body)), []byte(signature)) {
		return nil, apperrors.NewAuthenticationError("invalid webhook signature")
	}

	var env domain.WebhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, apperrors.NewValidationError("MALFORMED_WEBHOOK", "webhook body is not valid JSON").WithCause(err)
	}
	if !env.Valid() {
		return nil, apperrors.NewValidationError("MALFORMED_WEBHOOK", "webhook envelope is missing required fields")
	}

	logger := s.logger.With(
		zap.String("buyer", b.Name),
		zap.String("lead_id", env.LeadID.String()),
		zap.String("action", env.Action),
		zap.String("status", env.Status))

	var dedupKey string
	if env.TransactionID != "" {
		key := fmt.Sprintf("webhook:dedup:%s:%s", b.ID, env.TransactionID)
		fresh, err := s.cache.SetNX(ctx, key, 1, dedupTTL)
		if err != nil {
			logger.Warn("webhook dedup check failed, processing anyway", zap.Error(err))
		} else if !fresh {
			logger.Info("duplicate webhook ignored", zap.String("transaction_id", env.TransactionID))
			return &Receipt{Duplicate: true}, nil
		} else {
			dedupKey = key
		}
	}

	l, err := s.store.GetLead(ctx, env.LeadID)
	if err != nil {
		s.releaseDedup(ctx, dedupKey, logger)
		return nil, err
	}

	var applied string
	switch env.Action {
	case domain.WebhookActionPingResponse:
		applied, err = s.applyPingResponse(ctx, b, l, &env, body)
	case domain.WebhookActionPostResponse:
		applied, err = s.applyPostResponse(ctx, b, l, &env)
	default:
		applied = AppliedAuditOnly
		err = s.store.InsertComplianceEntry(ctx, domain.NewComplianceAuditEntry(l.ID, domain.EventWebhookStatus, env))
	}
	if err != nil {
		s.releaseDedup(ctx, dedupKey, logger)
		return nil, err
	}

	audit := &domain.WebhookAudit{
		ID:            uuid.New(),
		BuyerID:       b.ID,
		LeadID:        l.ID,
		Action:        env.Action,
		Status:        env.Status,
		TransactionID: env.TransactionID,
		Body:          body,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.InsertWebhookAudit(ctx, audit); err != nil {
		logger.Error("webhook audit insert failed", zap.Error(err))
	}

	logger.Info("webhook applied", zap.String("applied", applied))
	return &Receipt{Applied: applied}, nil
}

// releaseDedup drops the dedup marker after a failed application so the
// buyer's retry of the same transactionId is not answered as a duplicate.
func (s *Service) releaseDedup(ctx context.Context, key string, logger *zap.Logger) {
	if key == "" {
		return
	}
	if err := s.cache.Delete(ctx, key); err != nil {
		logger.Warn("webhook dedup release failed", zap.Error(err))
	}
}

// applyPingResponse records a late PING reply. It only becomes a transaction
// row while the auction is still open; afterwards it is audit-only.
func (s *Service) applyPingResponse(ctx context.Context, b *buyer.Buyer, l *lead.Lead, env *domain.WebhookEnvelope, body []byte) (string, error) {
	audit := domain.NewComplianceAuditEntry(l.ID, domain.EventWebhookLatePing, env)
	if l.Status != lead.StatusProcessing {
		return AppliedAuditOnly, s.store.InsertComplianceEntry(ctx, audit)
	}

	status := domain.CallFailed
	if env.Status == "accepted" {
		status = domain.CallSuccess
	}
	t := domain.NewTransaction(l.ID, b.ID, domain.ActionPing, status)
	t.BidAmount = env.Bid
	t.Reason = env.Reason
	t.Response = body
	if err := s.store.InsertTransaction(ctx, t); err != nil {
		return "", err
	}
	return AppliedLatePing, s.store.InsertComplianceEntry(ctx, audit)
}

// applyPostResponse confirms or reverses a delivery. Only a terminal failure
// status on a SOLD lead moves it out of SOLD; the winner is retained for the
// audit trail.
func (s *Service) applyPostResponse(ctx context.Context, b *buyer.Buyer, l *lead.Lead, env *domain.WebhookEnvelope) (string, error) {
	if env.Status == domain.PostStatusDelivered {
		s.recordRevenue(ctx, b, l)
		audit := domain.NewComplianceAuditEntry(l.ID, domain.EventWebhookStatus, env)
		return AppliedDelivered, s.store.InsertComplianceEntry(ctx, audit)
	}

	if env.TerminalFailure() && l.Status == lead.StatusSold {
		from := l.Status
		if err := l.MarkRejectedAfterSale(); err != nil {
			return "", err
		}
		audit := domain.NewComplianceAuditEntry(l.ID, domain.EventSaleReversed, map[string]any{
			"status": env.Status,
			"reason": env.Reason,
		})
		history := lead.NewStatusHistory(l.ID, from, l.Status, env.Status)
		if err := s.store.ReverseSale(ctx, l, audit, history); err != nil {
			return "", err
		}
		return AppliedReversal, nil
	}

	audit := domain.NewComplianceAuditEntry(l.ID, domain.EventWebhookStatus, env)
	return AppliedAuditOnly, s.store.InsertComplianceEntry(ctx, audit)
}

// recordRevenue bumps the buyer's daily revenue accumulator in cents. Cache
// failures only cost the counter, never the webhook.
func (s *Service) recordRevenue(ctx context.Context, b *buyer.Buyer, l *lead.Lead) {
	if l.WinningBid == nil {
		return
	}
	day := time.Now().In(s.loc).Format("2006-01-02")
	key := fmt.Sprintf("revenue:%s:%s", b.ID, day)
	if _, err := s.cache.IncrementBy(ctx, key, l.WinningBid.Cents()); err != nil {
		s.logger.Warn("revenue counter update failed",
			zap.String("buyer", b.Name),
			zap.Error(err))
	}
}
