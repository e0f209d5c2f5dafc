package domain

// ConnectionStatus is the observable lifecycle state of a connector
// instance, independent of which protocol is underneath.
type ConnectionStatus string

const (
	// StatusDisconnected is the initial and post-disconnect rest state.
	StatusDisconnected ConnectionStatus = "disconnected"
	// StatusConnecting means an authentication exchange is in flight.
	StatusConnecting ConnectionStatus = "connecting"
	// StatusMFARequired means a challenge is pending external input.
	StatusMFARequired ConnectionStatus = "mfa_required"
	// StatusConnected means the session is authenticated and idle.
	StatusConnected ConnectionStatus = "connected"
	// StatusFetching means a transaction fetch is in flight.
	StatusFetching ConnectionStatus = "fetching"
	// StatusError is a stable rest state requiring explicit retry or
	// deletion to leave.
	StatusError ConnectionStatus = "error"
)

// CanTransition reports whether moving from s to the target status is a
// legal state machine transition. Any state may move to StatusError and
// to StatusDisconnected (explicit disconnect). MFA_REQUIRED self-loops
// on decoupled "still pending" responses.
func (s ConnectionStatus) CanTransition(to ConnectionStatus) bool {
	if to == StatusError || to == StatusDisconnected {
		return true
	}
	switch s {
	case StatusDisconnected:
		return to == StatusConnecting
	case StatusConnecting:
		return to == StatusMFARequired || to == StatusConnected
	case StatusMFARequired:
		// Self-loop for decoupled polling. A resolved fetch-time
		// challenge lands back on StatusConnected; fetching is only
		// entered from there.
		return to == StatusMFARequired || to == StatusConnecting ||
			to == StatusConnected
	case StatusConnected:
		return to == StatusFetching || to == StatusConnecting
	case StatusFetching:
		return to == StatusConnected || to == StatusMFARequired
	case StatusError:
		return to == StatusConnecting
	}
	return false
}

// Terminal reports whether the status is a rest state that requires
// explicit caller action to leave.
func (s ConnectionStatus) Terminal() bool {
	return s == StatusDisconnected || s == StatusError
}

// Progress reports how far a multi-step operation has come.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// ConnectorState is the poll-friendly observable status of an instance.
// Challenge is non-nil iff Status is StatusMFARequired.
type ConnectorState struct {
	// Status is the current lifecycle state.
	Status ConnectionStatus `json:"status"`
	// Message is a human-readable status or error description.
	Message string `json:"message,omitempty"`
	// Challenge is the active MFA challenge, if any.
	Challenge *MFAChallenge `json:"challenge,omitempty"`
	// Progress is set during multi-account fetches.
	Progress *Progress `json:"progress,omitempty"`
}

// ConnectResult is the typed outcome of Connect and SubmitMFA.
// Exactly one of Connected or RequiresMFA is set on success paths;
// failures are returned as errors alongside a nil result.
type ConnectResult struct {
	// Connected is true once the session is fully authenticated.
	Connected bool `json:"connected"`
	// RequiresMFA is true when a challenge must be resolved first.
	RequiresMFA bool `json:"requires_mfa"`
	// Challenge describes the pending second factor when RequiresMFA.
	Challenge *MFAChallenge `json:"challenge,omitempty"`
	// Accounts lists the accounts discovered during authentication.
	Accounts []AccountInfo `json:"accounts,omitempty"`
}

// FetchResult is the typed outcome of FetchTransactions and its MFA
// continuation. A fetch may itself demand a second factor independent
// of login; then RequiresMFA is set and Transactions is empty.
type FetchResult struct {
	// Transactions is the canonical batch in source order.
	Transactions []FetchedTransaction `json:"transactions"`
	// Stats summarises parsing of the underlying records.
	Stats ImportStats `json:"stats"`
	// RequiresMFA is true when the fetch is TAN-gated.
	RequiresMFA bool `json:"requires_mfa"`
	// Challenge describes the fetch-time challenge when RequiresMFA.
	Challenge *MFAChallenge `json:"challenge,omitempty"`
}

// MFAResolution is the service-level outcome of resolving a challenge.
// When the pending operation was a fetch, Fetch carries the resumed
// result; otherwise Connect does.
type MFAResolution struct {
	// Connect is set when the challenge guarded authentication.
	Connect *ConnectResult `json:"connect,omitempty"`
	// Fetch is set when the challenge guarded a transaction fetch.
	Fetch *FetchResult `json:"fetch,omitempty"`
	// StillPending is true for decoupled challenges awaiting external
	// confirmation; the same challenge stays active.
	StillPending bool `json:"still_pending"`
}
