package auction

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/homeprojects/lead-auction-exchange/internal/domain/values"
)

// Transaction records one outbound PING or POST attempt against a buyer.
// Rows are append-only; a sold lead ends up with exactly one successful PING
// carrying the winning bid and exactly one successful POST for the winner.
type Transaction struct {
	ID      uuid.UUID `json:"id"`
	LeadID  uuid.UUID `json:"lead_id"`
	BuyerID uuid.UUID `json:"buyer_id"`

	ActionType ActionType `json:"action_type"`
	Status     CallStatus `json:"status"`

	// Populated only for accepted in-range PING bids.
	BidAmount *values.Money `json:"bid_amount,omitempty"`

	ResponseTimeMs int64 `json:"response_time_ms"`

	Payload  json.RawMessage `json:"payload,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`

	Reason string `json:"reason,omitempty"`

	ComplianceIncluded bool `json:"compliance_included"`

	CreatedAt time.Time `json:"created_at"`
}

type ActionType string

const (
	ActionPing ActionType = "PING"
	ActionPost ActionType = "POST"
)

type CallStatus string

const (
	CallSuccess CallStatus = "SUCCESS"
	CallFailed  CallStatus = "FAILED"
	CallTimeout CallStatus = "TIMEOUT"
)

// NewTransaction builds an attempt row.
func NewTransaction(leadID, buyerID uuid.UUID, action ActionType, status CallStatus) *Transaction {
	return &Transaction{
		ID:         uuid.New(),
		LeadID:     leadID,
		BuyerID:    buyerID,
		ActionType: action,
		Status:     status,
		CreatedAt:  time.Now().UTC(),
	}
}

// OutOfRange marks bid rejection reasons on otherwise successful pings.
const ReasonOutOfRange = "OUT_OF_RANGE"

// Outcome is the terminal result of one auction run.
type Outcome struct {
	Result     Result        `json:"result"`
	WinnerID   uuid.UUID     `json:"winner_id,omitempty"`
	WinningBid *values.Money `json:"winning_bid,omitempty"`
	Reason     string        `json:"reason,omitempty"`
}

type Result string

const (
	ResultSold     Result = "SOLD"
	ResultRejected Result = "REJECTED"
	ResultFailed   Result = "FAILED"
)

// Rejection reasons surfaced in outcomes and audit rows.
const (
	ReasonNoEligibleBuyers = "NO_ELIGIBLE_BUYERS"
	ReasonNoBids           = "NO_BIDS"
	ReasonAllPostsFailed   = "ALL_POSTS_FAILED"
)

// Sold builds a winning outcome.
func Sold(winnerID uuid.UUID, bid values.Money) Outcome {
	return Outcome{Result: ResultSold, WinnerID: winnerID, WinningBid: &bid}
}

// Rejected builds a no-sale outcome.
func Rejected(reason string) Outcome {
	return Outcome{Result: ResultRejected, Reason: reason}
}

// Failed builds an error outcome.
func Failed(reason string) Outcome {
	return Outcome{Result: ResultFailed, Reason: reason}
}
