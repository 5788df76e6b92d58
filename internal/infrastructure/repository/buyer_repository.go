package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/homeprojects/lead-auction-exchange/internal/domain/buyer"
	"github.com/homeprojects/lead-auction-exchange/internal/domain/values"
)

// BuyerRepository reads buyers and their coverage. The core never writes
// buyer rows; admin flows own them.
type BuyerRepository struct {
	db Querier
}

// NewBuyerRepository creates a buyer repository over a pool or transaction.
func NewBuyerRepository(db Querier) *BuyerRepository {
	return &BuyerRepository{db: db}
}

const buyerColumns = `
	id, name, type, api_url, auth_config, ping_timeout_ms, post_timeout_ms,
	active, compliance_field_aliases, webhook_secret, created_at, updated_at
`

// GetByID retrieves a buyer.
func (r *BuyerRepository) GetByID(ctx context.Context, id uuid.UUID) (*buyer.Buyer, error) {
	query := `SELECT ` + buyerColumns + ` FROM buyers WHERE id = $1`
	return scanBuyer(r.db.QueryRow(ctx, query, id))
}

// GetByName retrieves a buyer by its unique name; used by the webhook
// receiver to resolve the URL path segment.
func (r *BuyerRepository) GetByName(ctx context.Context, name string) (*buyer.Buyer, error) {
	query := `SELECT ` + buyerColumns + ` FROM buyers WHERE name = $1`
	return scanBuyer(r.db.QueryRow(ctx, query, name))
}

// GetCandidates runs the eligibility join: active zip coverage rows for
// (serviceTypeID, zipCode) with their active buyer and active service
// config. Quota and caller exclusions are applied by the eligibility index,
// not here.
func (r *BuyerRepository) GetCandidates(ctx context.Context, serviceTypeID uuid.UUID, zipCode string) ([]buyer.Candidate, error) {
	query := `
		SELECT
			b.id, b.name, b.type, b.api_url, b.auth_config,
			b.ping_timeout_ms, b.post_timeout_ms, b.active,
			b.compliance_field_aliases, b.webhook_secret, b.created_at, b.updated_at,
			c.ping_template, c.post_template, c.min_bid, c.max_bid, c.priority,
			c.requires_trusted_form, c.requires_jornaya, c.active,
			z.zip_code, z.active, z.priority, z.max_leads_per_day, z.min_bid, z.max_bid
		FROM buyer_service_zip_codes z
		JOIN buyers b ON b.id = z.buyer_id
		JOIN buyer_service_configs c
			ON c.buyer_id = z.buyer_id AND c.service_type_id = z.service_type_id
		WHERE z.service_type_id = $1
		  AND z.zip_code = $2
		  AND z.active AND b.active AND c.active
	`

	rows, err := r.db.Query(ctx, query, serviceTypeID, zipCode)
	if err != nil {
		return nil, wrapError(err)
	}
	defer rows.Close()

	var candidates []buyer.Candidate
	for rows.Next() {
		var (
			cand           buyer.Candidate
			typeStr        string
			authJSON       []byte
			pingTimeoutMs  int64
			postTimeoutMs  int64
			aliasesJSON    []byte
			pingTplJSON    []byte
			postTplJSON    []byte
			minBidStr      string
			maxBidStr      string
			zipMinBid      *string
			zipMaxBid      *string
		)

		err := rows.Scan(
			&cand.Buyer.ID, &cand.Buyer.Name, &typeStr, &cand.Buyer.APIURL, &authJSON,
			&pingTimeoutMs, &postTimeoutMs, &cand.Buyer.Active,
			&aliasesJSON, &cand.Buyer.WebhookSecret, &cand.Buyer.CreatedAt, &cand.Buyer.UpdatedAt,
			&pingTplJSON, &postTplJSON, &minBidStr, &maxBidStr, &cand.Config.Priority,
			&cand.Config.RequiresTrustedForm, &cand.Config.RequiresJornaya, &cand.Config.Active,
			&cand.Coverage.ZipCode, &cand.Coverage.Active, &cand.Coverage.Priority,
			&cand.Coverage.MaxLeadsPerDay, &zipMinBid, &zipMaxBid,
		)
		if err != nil {
			return nil, wrapError(err)
		}

		if err := finishCandidate(&cand, typeStr, authJSON, pingTimeoutMs, postTimeoutMs,
			aliasesJSON, pingTplJSON, postTplJSON, minBidStr, maxBidStr, zipMinBid, zipMaxBid); err != nil {
			return nil, err
		}

		cand.Config.BuyerID = cand.Buyer.ID
		cand.Config.ServiceTypeID = serviceTypeID
		cand.Coverage.BuyerID = cand.Buyer.ID
		cand.Coverage.ServiceTypeID = serviceTypeID

		candidates = append(candidates, cand)
	}

	if err := rows.Err(); err != nil {
		return nil, wrapError(err)
	}
	return candidates, nil
}

func scanBuyer(row pgx.Row) (*buyer.Buyer, error) {
	var (
		b             buyer.Buyer
		typeStr       string
		authJSON      []byte
		pingTimeoutMs int64
		postTimeoutMs int64
		aliasesJSON   []byte
	)

	err := row.Scan(
		&b.ID, &b.Name, &typeStr, &b.APIURL, &authJSON,
		&pingTimeoutMs, &postTimeoutMs, &b.Active,
		&aliasesJSON, &b.WebhookSecret, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, wrapError(err)
	}

	if b.Type, err = buyer.ParseType(typeStr); err != nil {
		return nil, err
	}
	if len(authJSON) > 0 {
		if err := json.Unmarshal(authJSON, &b.Auth); err != nil {
			return nil, fmt.Errorf("failed to unmarshal auth config: %w", err)
		}
	}
	if len(aliasesJSON) > 0 {
		if err := json.Unmarshal(aliasesJSON, &b.ComplianceFieldAliases); err != nil {
			return nil, fmt.Errorf("failed to unmarshal compliance aliases: %w", err)
		}
	}
	b.PingTimeout = time.Duration(pingTimeoutMs) * time.Millisecond
	b.PostTimeout = time.Duration(postTimeoutMs) * time.Millisecond

	return &b, nil
}

func finishCandidate(cand *buyer.Candidate, typeStr string, authJSON []byte,
	pingTimeoutMs, postTimeoutMs int64, aliasesJSON, pingTplJSON, postTplJSON []byte,
	minBidStr, maxBidStr string, zipMinBid, zipMaxBid *string,
) error {
	var err error
	if cand.Buyer.Type, err = buyer.ParseType(typeStr); err != nil {
		return err
	}
	if len(authJSON) > 0 {
		if err := json.Unmarshal(authJSON, &cand.Buyer.Auth); err != nil {
			return fmt.Errorf("failed to unmarshal auth config: %w", err)
		}
	}
	if len(aliasesJSON) > 0 {
		if err := json.Unmarshal(aliasesJSON, &cand.Buyer.ComplianceFieldAliases); err != nil {
			return fmt.Errorf("failed to unmarshal compliance aliases: %w", err)
		}
	}
	cand.Buyer.PingTimeout = time.Duration(pingTimeoutMs) * time.Millisecond
	cand.Buyer.PostTimeout = time.Duration(postTimeoutMs) * time.Millisecond

	if len(pingTplJSON) > 0 {
		if err := json.Unmarshal(pingTplJSON, &cand.Config.PingTemplate); err != nil {
			return fmt.Errorf("failed to unmarshal ping template: %w", err)
		}
	}
	if len(postTplJSON) > 0 {
		if err := json.Unmarshal(postTplJSON, &cand.Config.PostTemplate); err != nil {
			return fmt.Errorf("failed to unmarshal post template: %w", err)
		}
	}

	if cand.Config.MinBid, err = values.NewMoneyFromString(minBidStr); err != nil {
		return err
	}
	if cand.Config.MaxBid, err = values.NewMoneyFromString(maxBidStr); err != nil {
		return err
	}
	if zipMinBid != nil {
		m, err := values.NewMoneyFromString(*zipMinBid)
		if err != nil {
			return err
		}
		cand.Coverage.MinBid = &m
	}
	if zipMaxBid != nil {
		m, err := values.NewMoneyFromString(*zipMaxBid)
		if err != nil {
			return err
		}
		cand.Coverage.MaxBid = &m
	}
	return nil
}
