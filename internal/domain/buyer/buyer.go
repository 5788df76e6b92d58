package buyer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Buyer is a lead purchaser reachable over HTTP.
type Buyer struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Type   Type      `json:"type"`
	APIURL string    `json:"api_url"`

	Auth AuthConfig `json:"auth"`

	PingTimeout time.Duration `json:"ping_timeout"`
	PostTimeout time.Duration `json:"post_timeout"`

	Active bool `json:"active"`

	// Alternate outbound field names per compliance token, e.g.
	// trustedform.cert_url -> ["xxTrustedFormCertUrl", "trustedFormToken"].
	ComplianceFieldAliases map[string][]string `json:"compliance_field_aliases,omitempty"`

	// Shared secret for inbound webhook HMAC signatures. Empty means the
	// buyer cannot call back.
	WebhookSecret string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Type int

const (
	TypeContractor Type = iota
	TypeNetwork
)

func (t Type) String() string {
	switch t {
	case TypeContractor:
		return "contractor"
	case TypeNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// ParseType converts a stored type string back to a Type.
func ParseType(s string) (Type, error) {
	switch s {
	case "contractor":
		return TypeContractor, nil
	case "network":
		return TypeNetwork, nil
	default:
		return TypeContractor, fmt.Errorf("unknown buyer type %q", s)
	}
}

const (
	minPingTimeout = 1 * time.Second
	maxPingTimeout = 30 * time.Second
	minPostTimeout = 1 * time.Second
	maxPostTimeout = 60 * time.Second
)

// Validate checks the buyer's structural invariants.
func (b *Buyer) Validate() error {
	if b.Name == "" {
		return fmt.Errorf("buyer name cannot be empty")
	}
	if b.APIURL == "" {
		return fmt.Errorf("buyer API URL cannot be empty")
	}
	if b.PingTimeout < minPingTimeout || b.PingTimeout > maxPingTimeout {
		return fmt.Errorf("ping timeout %s outside [%s, %s]", b.PingTimeout, minPingTimeout, maxPingTimeout)
	}
	if b.PostTimeout < minPostTimeout || b.PostTimeout > maxPostTimeout {
		return fmt.Errorf("post timeout %s outside [%s, %s]", b.PostTimeout, minPostTimeout, maxPostTimeout)
	}
	return nil
}

// AuthConfig is a tagged variant describing how outbound requests to the
// buyer are authenticated.
type AuthConfig struct {
	Kind AuthKind `json:"kind"`

	// Bearer
	Token string `json:"token,omitempty"`

	// Basic
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	// Custom headers merged into the request verbatim.
	Headers map[string]string `json:"headers,omitempty"`
}

type AuthKind string

const (
	AuthNone   AuthKind = "none"
	AuthBearer AuthKind = "bearer"
	AuthBasic  AuthKind = "basic"
	AuthCustom AuthKind = "custom"
)

// BearerAuth builds a bearer-token auth config.
func BearerAuth(token string) AuthConfig {
	return AuthConfig{Kind: AuthBearer, Token: token}
}

// BasicAuth builds an RFC 7617 basic auth config.
func BasicAuth(username, password string) AuthConfig {
	return AuthConfig{Kind: AuthBasic, Username: username, Password: password}
}

// CustomAuth builds a custom-headers auth config.
func CustomAuth(headers map[string]string) AuthConfig {
	return AuthConfig{Kind: AuthCustom, Headers: headers}
}

// ServiceType categorizes leads, e.g. windows or roofing.
type ServiceType struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	DisplayName string          `json:"display_name"`
	FormSchema  json.RawMessage `json:"form_schema,omitempty"`
	Active      bool            `json:"active"`
}
