package webhook

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	domain "github.com/homeprojects/lead-auction-exchange/internal/domain/auction"
	"github.com/homeprojects/lead-auction-exchange/internal/domain/buyer"
	apperrors "github.com/homeprojects/lead-auction-exchange/internal/domain/errors"
	"github.com/homeprojects/lead-auction-exchange/internal/domain/lead"
	"github.com/homeprojects/lead-auction-exchange/internal/infrastructure/database"
	"github.com/homeprojects/lead-auction-exchange/internal/infrastructure/repository"
)

type dbStore struct {
	db *database.Pool
}

// NewStore creates the webhook persistence layer.
func NewStore(db *database.Pool) Store {
	return &dbStore{db: db}
}

func (s *dbStore) GetBuyerByName(ctx context.Context, name string) (*buyer.Buyer, error) {
	b, err := repository.NewBuyerRepository(s.db.Pgx()).GetByName(ctx, name)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, apperrors.ErrBuyerNotFound
		}
		return nil, err
	}
	return b, nil
}

func (s *dbStore) GetLead(ctx context.Context, id uuid.UUID) (*lead.Lead, error) {
	l, err := repository.NewLeadRepository(s.db.Pgx()).GetByID(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, apperrors.ErrLeadNotFound
		}
		return nil, err
	}
	return l, nil
}

func (s *dbStore) InsertTransaction(ctx context.Context, t *domain.Transaction) error {
	return repository.NewTransactionRepository(s.db.Pgx(), nil).Insert(ctx, t)
}

func (s *dbStore) InsertComplianceEntry(ctx context.Context, e *domain.ComplianceAuditEntry) error {
	return repository.NewAuditRepository(s.db.Pgx()).InsertComplianceEntry(ctx, e)
}

func (s *dbStore) InsertWebhookAudit(ctx context.Context, w *domain.WebhookAudit) error {
	return repository.NewAuditRepository(s.db.Pgx()).InsertWebhookAudit(ctx, w)
}

// ReverseSale applies the compensating SOLD -> REJECTED transition, its audit
// entry and history row in one transaction.
func (s *dbStore) ReverseSale(ctx context.Context, l *lead.Lead, audit *domain.ComplianceAuditEntry, history *lead.StatusHistory) error {
	return s.db.Transaction(ctx, func(tx pgx.Tx) error {
		leads := repository.NewLeadRepository(tx)
		if err := leads.Update(ctx, l); err != nil {
			return err
		}
		if err := repository.NewAuditRepository(tx).InsertComplianceEntry(ctx, audit); err != nil {
			return err
		}
		return leads.AppendStatusHistory(ctx, history)
	})
}
