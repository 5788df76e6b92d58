package repository

import (
	"context"

	"github.com/homeprojects/lead-auction-exchange/internal/domain/auction"
)

// AuditRepository appends compliance and webhook audit rows. Both tables are
// insert-only; nothing in the core updates or deletes them.
type AuditRepository struct {
	db Querier
}

// NewAuditRepository creates an audit repository over a pool or transaction.
func NewAuditRepository(db Querier) *AuditRepository {
	return &AuditRepository{db: db}
}

// InsertComplianceEntry appends one compliance audit row.
func (r *AuditRepository) InsertComplianceEntry(ctx context.Context, e *auction.ComplianceAuditEntry) error {
	query := `
		INSERT INTO compliance_audit_log (id, lead_id, event_type, event_data, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		e.ID, e.LeadID, e.EventType, e.EventData, e.IPAddress, e.UserAgent, e.CreatedAt)
	if err != nil {
		return wrapError(err)
	}
	return nil
}

// InsertWebhookAudit appends one webhook audit row.
func (r *AuditRepository) InsertWebhookAudit(ctx context.Context, w *auction.WebhookAudit) error {
	query := `
		INSERT INTO webhook_audits (id, buyer_id, lead_id, action, status, transaction_id, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Exec(ctx, query,
		w.ID, w.BuyerID, w.LeadID, w.Action, w.Status, w.TransactionID, w.Body, w.CreatedAt)
	if err != nil {
		return wrapError(err)
	}
	return nil
}
