package lead

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/homeprojects/lead-auction-exchange/internal/domain/values"
)

var zipPattern = regexp.MustCompile(`^\d{5}$`)

// Lead is a home-services inquiry flowing through the auction.
type Lead struct {
	ID            uuid.UUID `json:"id"`
	ServiceTypeID uuid.UUID `json:"service_type_id"`
	ZipCode       string    `json:"zip_code"`
	OwnsHome      bool      `json:"owns_home"`
	Timeframe     Timeframe `json:"timeframe"`

	// Free-form answers from the submission form, shape governed by the
	// service type's form schema.
	FormData map[string]any `json:"form_data"`

	// Compliance tokens are opaque pass-through values.
	Compliance ComplianceData `json:"compliance"`

	QualityScore int `json:"quality_score"`

	Status         Status        `json:"status"`
	WinningBuyerID *uuid.UUID    `json:"winning_buyer_id,omitempty"`
	WinningBid     *values.Money `json:"winning_bid,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ComplianceData carries opaque lead-gen compliance tokens.
type ComplianceData struct {
	TrustedFormCertURL   string            `json:"trusted_form_cert_url,omitempty"`
	TrustedFormCertID    string            `json:"trusted_form_cert_id,omitempty"`
	TrustedFormScore     *int              `json:"trusted_form_score,omitempty"`
	TrustedFormValidated bool              `json:"trusted_form_validated,omitempty"`
	JornayaLeadID        string            `json:"jornaya_lead_id,omitempty"`
	TCPAConsent          bool              `json:"tcpa_consent,omitempty"`
	Attribution          map[string]string `json:"attribution,omitempty"`
}

type Status int

const (
	StatusPending Status = iota
	StatusProcessing
	StatusSold
	StatusRejected
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusProcessing:
		return "processing"
	case StatusSold:
		return "sold"
	case StatusRejected:
		return "rejected"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseStatus converts a stored status string back to a Status.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "pending":
		return StatusPending, nil
	case "processing":
		return StatusProcessing, nil
	case "sold":
		return StatusSold, nil
	case "rejected":
		return StatusRejected, nil
	case "failed":
		return StatusFailed, nil
	default:
		return StatusPending, fmt.Errorf("unknown lead status %q", s)
	}
}

type Timeframe int

const (
	TimeframeImmediate Timeframe = iota
	TimeframeOneToThreeMonths
	TimeframeThreeToSixMonths
	TimeframeFlexible
)

func (t Timeframe) String() string {
	switch t {
	case TimeframeImmediate:
		return "immediate"
	case TimeframeOneToThreeMonths:
		return "1_3_months"
	case TimeframeThreeToSixMonths:
		return "3_6_months"
	case TimeframeFlexible:
		return "flexible"
	default:
		return "unknown"
	}
}

// ParseTimeframe converts a submission value to a Timeframe.
func ParseTimeframe(s string) (Timeframe, error) {
	switch s {
	case "immediate":
		return TimeframeImmediate, nil
	case "1_3_months":
		return TimeframeOneToThreeMonths, nil
	case "3_6_months":
		return TimeframeThreeToSixMonths, nil
	case "flexible":
		return TimeframeFlexible, nil
	default:
		return TimeframeFlexible, fmt.Errorf("unknown timeframe %q", s)
	}
}

// NewLead creates a pending lead with its quality score computed.
func NewLead(serviceTypeID uuid.UUID, zipCode string, ownsHome bool, timeframe Timeframe, formData map[string]any, compliance ComplianceData) (*Lead, error) {
	if serviceTypeID == uuid.Nil {
		return nil, fmt.Errorf("service type ID cannot be nil")
	}
	if !zipPattern.MatchString(zipCode) {
		return nil, fmt.Errorf("invalid zip code %q", zipCode)
	}

	now := time.Now().UTC()
	return &Lead{
		ID:            uuid.New(),
		ServiceTypeID: serviceTypeID,
		ZipCode:       zipCode,
		OwnsHome:      ownsHome,
		Timeframe:     timeframe,
		FormData:      formData,
		Compliance:    compliance,
		QualityScore:  QualityScore(compliance),
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// QualityScore derives the 0..100 lead quality score from compliance data.
// Base 50; TrustedForm adds by validation score band, an unvalidated cert
// still adds 10; Jornaya adds 20; TCPA consent adds 5.
func QualityScore(c ComplianceData) int {
	score := 50

	if c.TrustedFormCertURL != "" {
		switch {
		case c.TrustedFormValidated && c.TrustedFormScore != nil && *c.TrustedFormScore >= 80:
			score += 25
		case c.TrustedFormValidated && c.TrustedFormScore != nil && *c.TrustedFormScore >= 60:
			score += 15
		case c.TrustedFormValidated:
			score += 5
		default:
			score += 10
		}
	}

	if c.JornayaLeadID != "" {
		score += 20
	}
	if c.TCPAConsent {
		score += 5
	}

	if score > 100 {
		score = 100
	}
	return score
}

// HighPriority reports whether the lead goes to the high-priority queue.
func (l *Lead) HighPriority() bool {
	return l.QualityScore >= 80
}

// MarkProcessing claims the lead for an auction run. Only pending leads can
// be claimed; at most one worker may hold a lead in processing.
func (l *Lead) MarkProcessing() error {
	if l.Status != StatusPending {
		return fmt.Errorf("cannot claim lead in status %s", l.Status)
	}
	l.Status = StatusProcessing
	l.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkSold records the winning buyer and bid.
func (l *Lead) MarkSold(buyerID uuid.UUID, bid values.Money) error {
	if l.Status != StatusProcessing {
		return fmt.Errorf("cannot sell lead in status %s", l.Status)
	}
	if buyerID == uuid.Nil {
		return fmt.Errorf("winning buyer ID cannot be nil")
	}
	if !bid.IsPositive() {
		return fmt.Errorf("winning bid must be positive, got %s", bid)
	}
	l.Status = StatusSold
	l.WinningBuyerID = &buyerID
	l.WinningBid = &bid
	l.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkRejected ends the auction without a sale.
func (l *Lead) MarkRejected() error {
	if l.Status != StatusProcessing {
		return fmt.Errorf("cannot reject lead in status %s", l.Status)
	}
	l.Status = StatusRejected
	l.WinningBuyerID = nil
	l.WinningBid = nil
	l.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkFailed records an auction error.
func (l *Lead) MarkFailed() error {
	if l.Status != StatusProcessing {
		return fmt.Errorf("cannot fail lead in status %s", l.Status)
	}
	l.Status = StatusFailed
	l.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkRejectedAfterSale reverses a sale on a terminal post-response webhook.
// The winning buyer is retained for the audit trail.
func (l *Lead) MarkRejectedAfterSale() error {
	if l.Status != StatusSold {
		return fmt.Errorf("cannot reverse sale of lead in status %s", l.Status)
	}
	l.Status = StatusRejected
	l.UpdatedAt = time.Now().UTC()
	return nil
}

// StatusHistory is one row of the lead's transition log.
type StatusHistory struct {
	ID        uuid.UUID `json:"id"`
	LeadID    uuid.UUID `json:"lead_id"`
	From      string    `json:"from_status"`
	To        string    `json:"to_status"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewStatusHistory builds a transition row.
func NewStatusHistory(leadID uuid.UUID, from, to Status, reason string) *StatusHistory {
	return &StatusHistory{
		ID:        uuid.New(),
		LeadID:    leadID,
		From:      from.String(),
		To:        to.String(),
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
}
