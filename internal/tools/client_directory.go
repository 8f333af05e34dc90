package tools

import (
	"context"
	"regexp"
)

// Client is an external-system customer record the lookup_client/
// register_client/save_credentials built-ins operate against.
type Client struct {
	ID    string
	CURP  string
	Phone string
	Email string
	Name  string
}

// ClientDirectory is the external collaborator the client-management
// built-ins call through. A real deployment backs this with whatever
// CRM/ERP the tenant already runs; this orchestrator only defines the
// contract (spec.md treats the client system itself as external).
type ClientDirectory interface {
	Lookup(ctx context.Context, botID string, curpOrPhoneOrEmail string) (*Client, error)
	Register(ctx context.Context, botID string, c Client) (*Client, error)
	SaveCredentials(ctx context.Context, botID, clientID string, credentials map[string]string) error
}

var (
	curpRE  = regexp.MustCompile(`^[A-Z]{4}\d{6}[HM][A-Z]{5}[A-Z0-9]\d$`)
	phoneRE = regexp.MustCompile(`^\+?[0-9]{10,15}$`)
	emailRE = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// ValidateCURP reports whether v matches the 18-character Mexican CURP
// format: 4 letters, 6 digits (birth date), sex (H/M), 5 letters, one
// alphanumeric disambiguator, one check digit.
func ValidateCURP(v string) bool { return curpRE.MatchString(v) }

// ValidatePhone accepts an optional leading '+' followed by 10-15 digits.
func ValidatePhone(v string) bool { return phoneRE.MatchString(v) }

// ValidateEmail performs a permissive structural check (local@domain.tld).
func ValidateEmail(v string) bool { return emailRE.MatchString(v) }
