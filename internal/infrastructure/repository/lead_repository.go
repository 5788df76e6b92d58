package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/homeprojects/lead-auction-exchange/internal/domain/lead"
	"github.com/homeprojects/lead-auction-exchange/internal/domain/values"
)

// LeadRepository persists leads and their status history.
type LeadRepository struct {
	db Querier
}

// NewLeadRepository creates a lead repository over a pool or transaction.
func NewLeadRepository(db Querier) *LeadRepository {
	return &LeadRepository{db: db}
}

const leadColumns = `
	id, service_type_id, zip_code, owns_home, timeframe, form_data,
	compliance, quality_score, status, winning_buyer_id, winning_bid,
	created_at, updated_at
`

// Create stores a new lead.
func (r *LeadRepository) Create(ctx context.Context, l *lead.Lead) error {
	formJSON, err := json.Marshal(l.FormData)
	if err != nil {
		return fmt.Errorf("failed to marshal form data: %w", err)
	}
	complianceJSON, err := json.Marshal(l.Compliance)
	if err != nil {
		return fmt.Errorf("failed to marshal compliance data: %w", err)
	}

	query := `
		INSERT INTO leads (` + leadColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	var winningBid any
	if l.WinningBid != nil {
		winningBid = l.WinningBid.String()
	}

	_, err = r.db.Exec(ctx, query,
		l.ID, l.ServiceTypeID, l.ZipCode, l.OwnsHome, l.Timeframe.String(),
		formJSON, complianceJSON, l.QualityScore, l.Status.String(),
		l.WinningBuyerID, winningBid, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return wrapError(err)
	}
	return nil
}

// GetByID retrieves a lead.
func (r *LeadRepository) GetByID(ctx context.Context, id uuid.UUID) (*lead.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE id = $1`
	return r.scanLead(r.db.QueryRow(ctx, query, id))
}

// GetByIDForUpdate retrieves a lead under a row lock; call inside a
// transaction.
func (r *LeadRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*lead.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE id = $1 FOR UPDATE`
	return r.scanLead(r.db.QueryRow(ctx, query, id))
}

// Update persists lead mutations (status, winner fields, updated_at).
func (r *LeadRepository) Update(ctx context.Context, l *lead.Lead) error {
	query := `
		UPDATE leads
		SET status = $2, winning_buyer_id = $3, winning_bid = $4, updated_at = $5
		WHERE id = $1
	`

	var winningBid any
	if l.WinningBid != nil {
		winningBid = l.WinningBid.String()
	}

	tag, err := r.db.Exec(ctx, query,
		l.ID, l.Status.String(), l.WinningBuyerID, winningBid, l.UpdatedAt)
	if err != nil {
		return wrapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendStatusHistory records one status transition.
func (r *LeadRepository) AppendStatusHistory(ctx context.Context, h *lead.StatusHistory) error {
	query := `
		INSERT INTO lead_status_history (id, lead_id, from_status, to_status, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Exec(ctx, query, h.ID, h.LeadID, h.From, h.To, h.Reason, h.CreatedAt)
	if err != nil {
		return wrapError(err)
	}
	return nil
}

func (r *LeadRepository) scanLead(row pgx.Row) (*lead.Lead, error) {
	var (
		l              lead.Lead
		timeframeStr   string
		statusStr      string
		formJSON       []byte
		complianceJSON []byte
		winningBid     *string
	)

	err := row.Scan(
		&l.ID, &l.ServiceTypeID, &l.ZipCode, &l.OwnsHome, &timeframeStr,
		&formJSON, &complianceJSON, &l.QualityScore, &statusStr,
		&l.WinningBuyerID, &winningBid, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, wrapError(err)
	}

	if l.Timeframe, err = lead.ParseTimeframe(timeframeStr); err != nil {
		return nil, err
	}
	if l.Status, err = lead.ParseStatus(statusStr); err != nil {
		return nil, err
	}
	if len(formJSON) > 0 {
		if err := json.Unmarshal(formJSON, &l.FormData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal form data: %w", err)
		}
	}
	if len(complianceJSON) > 0 {
		if err := json.Unmarshal(complianceJSON, &l.Compliance); err != nil {
			return nil, fmt.Errorf("failed to unmarshal compliance data: %w", err)
		}
	}
	if winningBid != nil {
		bid, err := values.NewMoneyFromString(*winningBid)
		if err != nil {
			return nil, err
		}
		l.WinningBid = &bid
	}

	return &l, nil
}
