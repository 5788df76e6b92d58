package auction

import (
	"encoding/json"

	"github.com/homeprojects/lead-auction-exchange/internal/domain/buyer"
	"github.com/homeprojects/lead-auction-exchange/internal/domain/lead"
	"github.com/homeprojects/lead-auction-exchange/internal/domain/mapping"
)

// Canonical compliance field names used by buyer alias configs.
const (
	fieldTrustedFormCertURL = "trustedform.cert_url"
	fieldTrustedFormCertID  = "trustedform.cert_id"
	fieldJornayaLeadID      = "jornaya.lead_id"
	fieldTCPAConsent        = "tcpa.consent"
)

// leadView assembles the composite source tree templates project from.
func leadView(l *lead.Lead) map[string]any {
	attribution := make(map[string]any, len(l.Compliance.Attribution))
	for k, v := range l.Compliance.Attribution {
		attribution[k] = v
	}

	compliance := map[string]any{
		"trusted_form_cert_url": nilIfEmpty(l.Compliance.TrustedFormCertURL),
		"trusted_form_cert_id":  nilIfEmpty(l.Compliance.TrustedFormCertID),
		"jornaya_lead_id":       nilIfEmpty(l.Compliance.JornayaLeadID),
		"tcpa_consent":          l.Compliance.TCPAConsent,
	}
	if l.Compliance.TrustedFormScore != nil {
		compliance["trusted_form_score"] = *l.Compliance.TrustedFormScore
	}

	return map[string]any{
		"lead": map[string]any{
			"id":            l.ID.String(),
			"zip_code":      l.ZipCode,
			"owns_home":     l.OwnsHome,
			"timeframe":     l.Timeframe.String(),
			"quality_score": l.QualityScore,
			"created_at":    l.CreatedAt,
		},
		"form_data":   l.FormData,
		"compliance":  compliance,
		"attribution": attribution,
	}
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// complianceValues maps canonical compliance field names to present values,
// the input side of the buyer alias expansion.
func complianceValues(l *lead.Lead) map[string]any {
	values := make(map[string]any)
	if l.Compliance.TrustedFormCertURL != "" {
		values[fieldTrustedFormCertURL] = l.Compliance.TrustedFormCertURL
	}
	if l.Compliance.TrustedFormCertID != "" {
		values[fieldTrustedFormCertID] = l.Compliance.TrustedFormCertID
	}
	if l.Compliance.JornayaLeadID != "" {
		values[fieldJornayaLeadID] = l.Compliance.JornayaLeadID
	}
	if l.Compliance.TCPAConsent {
		values[fieldTCPAConsent] = true
	}
	return values
}

// buildPayload projects the lead through a buyer's template and expands
// compliance aliases. The second return reports whether any compliance value
// was included.
func buildPayload(l *lead.Lead, b *buyer.Buyer, template mapping.FieldMapping) (json.RawMessage, bool, error) {
	payload := template.Build(leadView(l))

	cv := complianceValues(l)
	mapping.ApplyComplianceAliases(payload, cv, b.ComplianceFieldAliases)
	complianceIncluded := len(cv) > 0 && len(b.ComplianceFieldAliases) > 0

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, false, err
	}
	return data, complianceIncluded, nil
}
