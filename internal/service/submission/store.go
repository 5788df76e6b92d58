package submission

import (
	"context"

	"github.com/jackc/pgx/v5"

	domain "github.com/homeprojects/lead-auction-exchange/internal/domain/auction"
	"github.com/homeprojects/lead-auction-exchange/internal/domain/lead"
	"github.com/homeprojects/lead-auction-exchange/internal/infrastructure/database"
	"github.com/homeprojects/lead-auction-exchange/internal/infrastructure/repository"
)

type dbStore struct {
	db *database.Pool
}

// NewStore creates the submission persistence layer.
func NewStore(db *database.Pool) Store {
	return &dbStore{db: db}
}

// CreateLead inserts the lead, its initial history row and the submission
// audit entry in one transaction.
func (s *dbStore) CreateLead(ctx context.Context, l *lead.Lead, history *lead.StatusHistory, audit *domain.ComplianceAuditEntry) error {
	return s.db.Transaction(ctx, func(tx pgx.Tx) error {
		leads := repository.NewLeadRepository(tx)
		if err := leads.Create(ctx, l); err != nil {
			return err
		}
		if err := leads.AppendStatusHistory(ctx, history); err != nil {
			return err
		}
		return repository.NewAuditRepository(tx).InsertComplianceEntry(ctx, audit)
	})
}
