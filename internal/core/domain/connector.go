package domain

import "time"

// Connector represents one configured source. The secret credential is
// never part of this record; it is supplied per Connect call and held
// in adapter memory only.
type Connector struct {
	// ID is the unique identifier for the connector.
	ID string

	// Type identifies the connector family (e.g., "fints", "tokenapi").
	Type string

	// Name is the human-readable name for this connector.
	Name string

	// Config contains connector-specific, non-secret configuration.
	Config map[string]string

	// LastError is the most recent terminal error message, if any.
	LastError string

	// CreatedAt is when the connector was created.
	CreatedAt time.Time

	// UpdatedAt is when the connector was last updated.
	UpdatedAt time.Time
}

// SyncState tracks the last successful fetch window for a connector.
type SyncState struct {
	// ConnectorID links to the Connector being fetched.
	ConnectorID string

	// LastStart and LastEnd are the bounds of the last fetched range.
	LastStart time.Time
	LastEnd   time.Time

	// LastFetch is when the last successful fetch completed.
	LastFetch time.Time
}

// Credentials carries the identity and secret for one authentication
// attempt. The secret must never be persisted or logged.
type Credentials struct {
	// UserID is the login identifier at the source.
	UserID string
	// Secret is the PIN or password. Held in memory only.
	Secret string
	// BankCode is the routing code for banking-protocol sources.
	BankCode string
	// Endpoint overrides the source endpoint URL, if configured.
	Endpoint string
	// Extra carries source-specific, non-secret fields.
	Extra map[string]string
}

// Redacted returns a loggable view of the credentials with the secret
// removed.
func (c Credentials) Redacted() map[string]string {
	out := map[string]string{
		"user_id":   c.UserID,
		"bank_code": c.BankCode,
		"endpoint":  c.Endpoint,
	}
	for k, v := range c.Extra {
		out[k] = v
	}
	return out
}

// ConnectorType describes a supported connector family.
type ConnectorType struct {
	// ID is the unique identifier (e.g., "fints", "tokenapi", "browser").
	ID string
	// Name is the human-readable display name.
	Name string
	// Description provides a brief explanation of the connector.
	Description string
	// ConfigKeys lists the configuration fields required by this
	// connector family.
	ConfigKeys []ConfigKey
}

// ConfigKey describes a configuration field for a connector.
type ConfigKey struct {
	// Key is the configuration key name.
	Key string
	// Label is the human-readable label for UI display.
	Label string
	// Description explains what this field is for.
	Description string
	// Default is the default value for this field.
	Default string
	// Required indicates whether this field must be provided.
	Required bool
	// Secret indicates whether this field should be masked in UI.
	Secret bool
}
