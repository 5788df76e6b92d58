package buyer

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/homeprojects/lead-auction-exchange/internal/domain/mapping"
	"github.com/homeprojects/lead-auction-exchange/internal/domain/values"
)

// ServiceConfig holds a buyer's per-service-type auction settings, keyed by
// (BuyerID, ServiceTypeID).
type ServiceConfig struct {
	BuyerID       uuid.UUID `json:"buyer_id"`
	ServiceTypeID uuid.UUID `json:"service_type_id"`

	PingTemplate mapping.FieldMapping `json:"ping_template"`
	PostTemplate mapping.FieldMapping `json:"post_template"`

	MinBid values.Money `json:"min_bid"`
	MaxBid values.Money `json:"max_bid"`

	// 1..10; informational only, ranking uses the zip-row priority.
	Priority int `json:"priority"`

	RequiresTrustedForm bool `json:"requires_trusted_form"`
	RequiresJornaya     bool `json:"requires_jornaya"`

	Active bool `json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the config invariants.
func (c *ServiceConfig) Validate() error {
	if c.MinBid.Amount().IsNegative() {
		return fmt.Errorf("min bid cannot be negative")
	}
	if c.MinBid.GreaterThan(c.MaxBid) {
		return fmt.Errorf("min bid %s exceeds max bid %s", c.MinBid, c.MaxBid)
	}
	if c.Priority < 1 || c.Priority > 10 {
		return fmt.Errorf("config priority %d outside [1, 10]", c.Priority)
	}
	return nil
}

// ZipCoverage marks a buyer as serving a zip code for a service type, keyed
// uniquely by (BuyerID, ServiceTypeID, ZipCode).
type ZipCoverage struct {
	BuyerID       uuid.UUID `json:"buyer_id"`
	ServiceTypeID uuid.UUID `json:"service_type_id"`
	ZipCode       string    `json:"zip_code"`

	Active bool `json:"active"`

	// 1..1000, higher ranks sooner. This is the priority the auction uses.
	Priority int `json:"priority"`

	// Nil means no daily cap.
	MaxLeadsPerDay *int `json:"max_leads_per_day,omitempty"`

	// Per-zip overrides of the config-level bid range. Nil falls back.
	MinBid *values.Money `json:"min_bid,omitempty"`
	MaxBid *values.Money `json:"max_bid,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the zip-row invariants.
func (z *ZipCoverage) Validate() error {
	if z.Priority < 1 || z.Priority > 1000 {
		return fmt.Errorf("zip priority %d outside [1, 1000]", z.Priority)
	}
	if z.MaxLeadsPerDay != nil && *z.MaxLeadsPerDay < 0 {
		return fmt.Errorf("max leads per day cannot be negative")
	}
	if z.MinBid != nil && z.MaxBid != nil && z.MinBid.GreaterThan(*z.MaxBid) {
		return fmt.Errorf("zip min bid %s exceeds max bid %s", z.MinBid, z.MaxBid)
	}
	return nil
}

// EffectiveMinBid resolves the bid floor: zip override if set, else config.
func (z *ZipCoverage) EffectiveMinBid(cfg *ServiceConfig) values.Money {
	if z.MinBid != nil {
		return *z.MinBid
	}
	return cfg.MinBid
}

// EffectiveMaxBid resolves the bid ceiling: zip override if set, else config.
func (z *ZipCoverage) EffectiveMaxBid(cfg *ServiceConfig) values.Money {
	if z.MaxBid != nil {
		return *z.MaxBid
	}
	return cfg.MaxBid
}
