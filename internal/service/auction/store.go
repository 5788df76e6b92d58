package auction

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	domain "github.com/homeprojects/lead-auction-exchange/internal/domain/auction"
	apperrors "github.com/homeprojects/lead-auction-exchange/internal/domain/errors"
	"github.com/homeprojects/lead-auction-exchange/internal/domain/lead"
	"github.com/homeprojects/lead-auction-exchange/internal/infrastructure/database"
	"github.com/homeprojects/lead-auction-exchange/internal/infrastructure/repository"
)

// dbStore is the production Store over PostgreSQL.
type dbStore struct {
	db *database.Pool
}

// NewStore creates the engine's persistence layer.
func NewStore(db *database.Pool) Store {
	return &dbStore{db: db}
}

// ClaimLead moves a pending lead to processing under a row lock. A lead that
// is not pending cannot be claimed, which serializes concurrent workers.
func (s *dbStore) ClaimLead(ctx context.Context, leadID uuid.UUID) (*lead.Lead, error) {
	var claimed *lead.Lead
	err := s.db.Transaction(ctx, func(tx pgx.Tx) error {
		leads := repository.NewLeadRepository(tx)

		l, err := leads.GetByIDForUpdate(ctx, leadID)
		if err != nil {
			if repository.IsNotFound(err) {
				return apperrors.ErrLeadNotFound
			}
			return err
		}

		from := l.Status
		if err := l.MarkProcessing(); err != nil {
			return apperrors.ErrAlreadyProcessing.WithCause(err)
		}
		if err := leads.Update(ctx, l); err != nil {
			return err
		}
		if err := leads.AppendStatusHistory(ctx, lead.NewStatusHistory(l.ID, from, l.Status, "")); err != nil {
			return err
		}
		claimed = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// InsertTransaction appends one PING/POST attempt row outside any auction
// transaction; attempt rows survive even when the auction later fails.
func (s *dbStore) InsertTransaction(ctx context.Context, t *domain.Transaction) error {
	return repository.NewTransactionRepository(s.db.Pgx(), nil).Insert(ctx, t)
}

// Finalize applies the terminal transition atomically: lead row, optional
// POST transaction, audit entry, history row.
func (s *dbStore) Finalize(ctx context.Context, l *lead.Lead, postTx *domain.Transaction, audit *domain.ComplianceAuditEntry, history *lead.StatusHistory) error {
	return s.db.Transaction(ctx, func(tx pgx.Tx) error {
		if err := repository.NewLeadRepository(tx).Update(ctx, l); err != nil {
			return err
		}
		if postTx != nil {
			if err := repository.NewTransactionRepository(tx, nil).Insert(ctx, postTx); err != nil {
				return err
			}
		}
		if audit != nil {
			if err := repository.NewAuditRepository(tx).InsertComplianceEntry(ctx, audit); err != nil {
				return err
			}
		}
		if history != nil {
			if err := repository.NewLeadRepository(tx).AppendStatusHistory(ctx, history); err != nil {
				return err
			}
		}
		return nil
	})
}
