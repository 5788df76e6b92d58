package mapping

// FieldMapping projects a lead's composite view into a buyer-specific
// outbound payload shape. Each rule copies one source path to one target
// path, optionally through a registered transform.
type FieldMapping struct {
	Fields []FieldRule `json:"fields"`

	// Static values merged into the payload before field projection, e.g.
	// a buyer-assigned campaign ID.
	Static map[string]any `json:"static,omitempty"`
}

// FieldRule is one projection entry.
type FieldRule struct {
	SourcePath string `json:"source_path"`
	TargetPath string `json:"target_path"`

	// Optional transform ID; unknown IDs pass the value through unchanged.
	Transform string `json:"transform,omitempty"`

	// Emitted when the source is missing or the transform yields nil.
	// Unset means the target key is omitted.
	Default any `json:"default,omitempty"`
}

// Build projects the view through the mapping. The view is the composite
// {lead, form_data, compliance, attribution} tree assembled by the caller.
func (fm FieldMapping) Build(view map[string]any) map[string]any {
	payload := make(map[string]any)

	for k, v := range fm.Static {
		SetPath(payload, k, v)
	}

	for _, rule := range fm.Fields {
		value, ok := Lookup(view, rule.SourcePath)
		if ok {
			value = Apply(rule.Transform, value)
		} else {
			value = nil
		}

		if value == nil {
			if rule.Default != nil {
				SetPath(payload, rule.TargetPath, rule.Default)
			}
			continue
		}
		SetPath(payload, rule.TargetPath, value)
	}

	return payload
}

// ApplyComplianceAliases emits each configured alias key with the same value.
// complianceValues is keyed by canonical field name (e.g.
// "trustedform.cert_url"); aliases maps those names to the buyer's preferred
// outbound key names. A field with no alias entry is skipped — the ping/post
// template is responsible for its canonical placement.
func ApplyComplianceAliases(payload map[string]any, complianceValues map[string]any, aliases map[string][]string) {
	for field, names := range aliases {
		value, ok := complianceValues[field]
		if !ok || value == nil {
			continue
		}
		for _, name := range names {
			SetPath(payload, name, value)
		}
	}
}
