package auction

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookEnvelopeValid(t *testing.T) {
	id := uuid.New()

	valid := &WebhookEnvelope{LeadID: id, Action: WebhookActionPostResponse, Status: PostStatusDelivered}
	assert.True(t, valid.Valid())

	assert.False(t, (&WebhookEnvelope{Action: WebhookActionPostResponse, Status: "x"}).Valid())
	assert.False(t, (&WebhookEnvelope{LeadID: id, Action: WebhookActionPostResponse}).Valid())
	assert.False(t, (&WebhookEnvelope{LeadID: id, Action: "unknown_action", Status: "x"}).Valid())
}

func TestWebhookEnvelopeTerminalFailure(t *testing.T) {
	for _, status := range []string{PostStatusFailed, PostStatusDuplicate, PostStatusInvalid} {
		e := &WebhookEnvelope{Status: status}
		assert.True(t, e.TerminalFailure(), status)
	}
	assert.False(t, (&WebhookEnvelope{Status: PostStatusDelivered}).TerminalFailure())
	assert.False(t, (&WebhookEnvelope{Status: "accepted"}).TerminalFailure())
}

func TestWebhookEnvelopeBidDecoding(t *testing.T) {
	var numeric WebhookEnvelope
	require.NoError(t, json.Unmarshal([]byte(`{"leadId":"`+uuid.NewString()+`","action":"ping_response","status":"accepted","bid":125.5}`), &numeric))
	require.NotNil(t, numeric.Bid)
	assert.Equal(t, "125.50", numeric.Bid.String())

	var quoted WebhookEnvelope
	require.NoError(t, json.Unmarshal([]byte(`{"leadId":"`+uuid.NewString()+`","action":"ping_response","status":"accepted","bid":"87.25"}`), &quoted))
	require.NotNil(t, quoted.Bid)
	assert.Equal(t, "87.25", quoted.Bid.String())
}

func TestNewComplianceAuditEntryMarshalsEventData(t *testing.T) {
	leadID := uuid.New()
	entry := NewComplianceAuditEntry(leadID, EventLeadSold, map[string]any{"bid": "150.00"})

	assert.Equal(t, leadID, entry.LeadID)
	assert.Equal(t, EventLeadSold, entry.EventType)
	assert.JSONEq(t, `{"bid":"150.00"}`, string(entry.EventData))
}
