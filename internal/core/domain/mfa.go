package domain

import "time"

// MFAType identifies the kind of second factor a source demands.
type MFAType string

const (
	// MFATypeSMS is a numeric code delivered by text message.
	MFATypeSMS MFAType = "sms"
	// MFATypePush is a confirmation inside the vendor's mobile app.
	MFATypePush MFAType = "push"
	// MFATypePhotoTAN is a code derived from a displayed image.
	MFATypePhotoTAN MFAType = "photo_tan"
	// MFATypeChipTAN is a code generated by a card reader device.
	MFATypeChipTAN MFAType = "chip_tan"
	// MFATypeAppTAN is a code generated in the vendor's TAN app.
	MFATypeAppTAN MFAType = "app_tan"
	// MFATypeTOTP is a time-based one-time password.
	MFATypeTOTP MFAType = "totp"
	// MFATypeDecoupled is resolved entirely out of band; no code is
	// typed into this system, only the confirmation state is polled.
	MFATypeDecoupled MFAType = "decoupled"
)

// DefaultChallengeTTL is how long a challenge stays valid when the
// source does not report an expiry of its own.
const DefaultChallengeTTL = 5 * time.Minute

// MFAChallenge represents a pending second factor.
// Decoupled implies no code is expected from the caller; resolution
// happens by re-polling until the external confirmation completes.
type MFAChallenge struct {
	// Type is the challenge mechanism.
	Type MFAType `json:"type"`
	// Decoupled is true when the user acts in an external channel and
	// this system only polls for completion.
	Decoupled bool `json:"decoupled"`
	// Message is the vendor-supplied instruction text.
	Message string `json:"message"`
	// ImagePNG carries the challenge image for photo-TAN flows.
	ImagePNG []byte `json:"image_png,omitempty"`
	// Reference is the opaque token linking a submission to this
	// challenge (e.g., an mfa_token or dialog task reference).
	Reference string `json:"reference,omitempty"`
	// ExpiresAt is when the challenge stops being resolvable.
	ExpiresAt time.Time `json:"expires_at"`
	// AttemptsLeft is how many submissions the source still accepts.
	// Zero means the source did not report a limit.
	AttemptsLeft int `json:"attempts_left,omitempty"`
}

// Expired reports whether the challenge can no longer be resolved.
func (c *MFAChallenge) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// OperationKind distinguishes which call a pending challenge resumes.
type OperationKind string

const (
	// OpConnect resumes authentication via SubmitMFA.
	OpConnect OperationKind = "connect"
	// OpFetch resumes a transaction fetch via FetchTransactionsWithMFA.
	OpFetch OperationKind = "fetch"
)

// PendingOperation is the continuation state linking a challenge to the
// call it will resume. It exists only between a challenge being issued
// and its resolution; it is cleared on success or terminal failure.
type PendingOperation struct {
	// Kind selects the continuation entry point.
	Kind OperationKind
	// Reference mirrors the challenge reference token.
	Reference string
	// Range holds the original fetch window when Kind is OpFetch.
	Range DateRange
	// AccountID holds the original fetch account when Kind is OpFetch.
	AccountID string
	// IssuedAt is when the challenge was raised.
	IssuedAt time.Time
}
