package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/homeprojects/lead-auction-exchange/internal/domain/auction"
	"github.com/homeprojects/lead-auction-exchange/internal/domain/values"
)

// TransactionRepository appends outbound attempt rows and serves the derived
// reads built on them. Rows are insert-only.
type TransactionRepository struct {
	db Querier

	// Timezone boundary for "start of day" in the daily POST counters.
	dayBoundary *time.Location
}

// NewTransactionRepository creates a transaction repository. loc governs the
// daily counter day boundary; nil falls back to UTC.
func NewTransactionRepository(db Querier, loc *time.Location) *TransactionRepository {
	if loc == nil {
		loc = time.UTC
	}
	return &TransactionRepository{db: db, dayBoundary: loc}
}

// Insert appends one attempt row.
func (r *TransactionRepository) Insert(ctx context.Context, t *auction.Transaction) error {
	query := `
		INSERT INTO transactions (
			id, lead_id, buyer_id, action_type, status, bid_amount,
			response_time_ms, payload, response, reason, compliance_included, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	var bidAmount any
	if t.BidAmount != nil {
		bidAmount = t.BidAmount.String()
	}

	_, err := r.db.Exec(ctx, query,
		t.ID, t.LeadID, t.BuyerID, string(t.ActionType), string(t.Status),
		bidAmount, t.ResponseTimeMs, t.Payload, t.Response, t.Reason,
		t.ComplianceIncluded, t.CreatedAt,
	)
	if err != nil {
		return wrapError(err)
	}
	return nil
}

// ListByLead returns a lead's attempt rows in insertion order.
func (r *TransactionRepository) ListByLead(ctx context.Context, leadID uuid.UUID) ([]*auction.Transaction, error) {
	query := `
		SELECT id, lead_id, buyer_id, action_type, status, bid_amount,
		       response_time_ms, payload, response, reason, compliance_included, created_at
		FROM transactions
		WHERE lead_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.db.Query(ctx, query, leadID)
	if err != nil {
		return nil, wrapError(err)
	}
	defer rows.Close()

	var out []*auction.Transaction
	for rows.Next() {
		var (
			t          auction.Transaction
			actionStr  string
			statusStr  string
			bidAmount  *string
		)
		err := rows.Scan(
			&t.ID, &t.LeadID, &t.BuyerID, &actionStr, &statusStr, &bidAmount,
			&t.ResponseTimeMs, &t.Payload, &t.Response, &t.Reason,
			&t.ComplianceIncluded, &t.CreatedAt,
		)
		if err != nil {
			return nil, wrapError(err)
		}
		t.ActionType = auction.ActionType(actionStr)
		t.Status = auction.CallStatus(statusStr)
		if bidAmount != nil {
			m, err := values.NewMoneyFromString(*bidAmount)
			if err != nil {
				return nil, err
			}
			t.BidAmount = &m
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(err)
	}
	return out, nil
}

// CountBuyerDailyPosts counts successful POST deliveries for the buyer since
// start of day. The day boundary is midnight in the configured counter
// timezone; a DST transition shifts the boundary with the local wall clock.
func (r *TransactionRepository) CountBuyerDailyPosts(ctx context.Context, buyerID uuid.UUID, now time.Time) (int, error) {
	local := now.In(r.dayBoundary)
	startOfDay := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.dayBoundary)

	query := `
		SELECT COUNT(*)
		FROM transactions
		WHERE buyer_id = $1
		  AND action_type = 'POST'
		  AND status = 'SUCCESS'
		  AND created_at >= $2
	`

	var count int
	if err := r.db.QueryRow(ctx, query, buyerID, startOfDay.UTC()).Scan(&count); err != nil {
		return 0, wrapError(err)
	}
	return count, nil
}

// HighestPingBid returns the maximum recorded bid across the lead's
// successful pings, or zero when none bid.
func (r *TransactionRepository) HighestPingBid(ctx context.Context, leadID uuid.UUID) (values.Money, error) {
	query := `
		SELECT MAX(bid_amount)
		FROM transactions
		WHERE lead_id = $1
		  AND action_type = 'PING'
		  AND status = 'SUCCESS'
		  AND bid_amount IS NOT NULL
	`

	var maxBid *string
	if err := r.db.QueryRow(ctx, query, leadID).Scan(&maxBid); err != nil {
		return values.Zero(), wrapError(err)
	}
	if maxBid == nil {
		return values.Zero(), nil
	}
	return values.NewMoneyFromString(*maxBid)
}
