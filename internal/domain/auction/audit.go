package auction

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/homeprojects/lead-auction-exchange/internal/domain/values"
)

// ComplianceAuditEntry is one append-only compliance log row. Entries are
// never mutated after insert.
type ComplianceAuditEntry struct {
	ID        uuid.UUID       `json:"id"`
	LeadID    uuid.UUID       `json:"lead_id"`
	EventType string          `json:"event_type"`
	EventData json.RawMessage `json:"event_data,omitempty"`
	IPAddress string          `json:"ip_address,omitempty"`
	UserAgent string          `json:"user_agent,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Audit event types emitted by the core.
const (
	EventLeadSubmitted   = "LEAD_SUBMITTED"
	EventAuctionNoBuyer  = "AUCTION_NO_BUYERS"
	EventAuctionNoBids   = "AUCTION_NO_BIDS"
	EventLeadSold        = "LEAD_SOLD"
	EventAuctionError    = "AUCTION_ERROR"
	EventSaleReversed    = "SALE_REVERSED"
	EventWebhookLatePing = "WEBHOOK_LATE_PING"
	EventWebhookStatus   = "WEBHOOK_STATUS_UPDATE"
)

// NewComplianceAuditEntry builds an audit row; eventData is marshaled to JSON
// and dropped (left empty) if it cannot be.
func NewComplianceAuditEntry(leadID uuid.UUID, eventType string, eventData any) *ComplianceAuditEntry {
	entry := &ComplianceAuditEntry{
		ID:        uuid.New(),
		LeadID:    leadID,
		EventType: eventType,
		CreatedAt: time.Now().UTC(),
	}
	if eventData != nil {
		if raw, err := json.Marshal(eventData); err == nil {
			entry.EventData = raw
		}
	}
	return entry
}

// WebhookAudit records every accepted inbound webhook. Retained 30 days.
type WebhookAudit struct {
	ID            uuid.UUID       `json:"id"`
	BuyerID       uuid.UUID       `json:"buyer_id"`
	LeadID        uuid.UUID       `json:"lead_id"`
	Action        string          `json:"action"`
	Status        string          `json:"status"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Body          json.RawMessage `json:"body"`
	CreatedAt     time.Time       `json:"created_at"`
}

// WebhookEnvelope is the inbound buyer callback body.
type WebhookEnvelope struct {
	LeadID        uuid.UUID     `json:"leadId"`
	Action        string        `json:"action"`
	Status        string        `json:"status"`
	Bid           *values.Money `json:"bid,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	TransactionID string        `json:"transactionId,omitempty"`
}

// Webhook actions.
const (
	WebhookActionPingResponse = "ping_response"
	WebhookActionPostResponse = "post_response"
	WebhookActionStatusUpdate = "status_update"
)

// post_response statuses.
const (
	PostStatusDelivered = "delivered"
	PostStatusFailed    = "failed"
	PostStatusDuplicate = "duplicate"
	PostStatusInvalid   = "invalid"
)

// Valid reports whether the envelope carries the required fields and a known
// action.
func (e *WebhookEnvelope) Valid() bool {
	if e.LeadID == uuid.Nil || e.Status == "" {
		return false
	}
	switch e.Action {
	case WebhookActionPingResponse, WebhookActionPostResponse, WebhookActionStatusUpdate:
		return true
	default:
		return false
	}
}

// TerminalFailure reports whether a post_response status reverses a sale.
func (e *WebhookEnvelope) TerminalFailure() bool {
	switch e.Status {
	case PostStatusFailed, PostStatusDuplicate, PostStatusInvalid:
		return true
	default:
		return false
	}
}
