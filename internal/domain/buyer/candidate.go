package buyer

// Candidate is one row of the eligibility join: a buyer together with its
// service config and the zip coverage row matching a lead's
// (serviceTypeID, zipCode).
type Candidate struct {
	Buyer    Buyer         `json:"buyer"`
	Config   ServiceConfig `json:"config"`
	Coverage ZipCoverage   `json:"coverage"`
}
