package domain

import "time"

// FetchedTransaction is the canonical transaction record every connector
// and parser ultimately produces.
type FetchedTransaction struct {
	// ExternalID is stable across repeated fetches of the same underlying
	// event. It is the deduplication key for idempotent re-import.
	ExternalID string `json:"external_id"`

	// Date is when the transaction was booked or occurred.
	Date time.Time `json:"date"`

	// Description is the human-readable purpose or merchant text.
	Description string `json:"description"`

	// Amount is signed: negative for money leaving the account.
	Amount float64 `json:"amount"`

	// Currency is the ISO 4217 currency code, if known.
	Currency string `json:"currency,omitempty"`

	// Beneficiary is the counterparty name, if the source provides one.
	Beneficiary string `json:"beneficiary,omitempty"`

	// AccountID identifies the account at the source this transaction
	// belongs to. Empty for single-account sources and file imports.
	AccountID string `json:"account_id,omitempty"`

	// Raw preserves the source-specific payload for auditability.
	Raw map[string]any `json:"raw,omitempty"`
}

// AccountInfo describes a reachable account at a source.
type AccountInfo struct {
	// Number is the account number at the source.
	Number string `json:"number"`
	// IBAN is the international account number, if available.
	IBAN string `json:"iban,omitempty"`
	// BIC is the bank identifier code, if available.
	BIC string `json:"bic,omitempty"`
	// Type is the account type (e.g., "checking", "savings", "credit").
	Type string `json:"type,omitempty"`
	// Currency is the account currency.
	Currency string `json:"currency,omitempty"`
	// Owner is the account holder name.
	Owner string `json:"owner,omitempty"`
}

// DateRange is an inclusive fetch window.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Validate returns ErrInvalidInput if the range is inverted.
func (r DateRange) Validate() error {
	if r.End.Before(r.Start) {
		return ErrInvalidInput
	}
	return nil
}

// Contains reports whether t falls within the range, inclusive on both
// ends. Comparison is by calendar day.
func (r DateRange) Contains(t time.Time) bool {
	day := t.Truncate(24 * time.Hour)
	start := r.Start.Truncate(24 * time.Hour)
	end := r.End.Truncate(24 * time.Hour)
	return !day.Before(start) && !day.After(end)
}

// ImportRecord is the bookkeeping entry for one completed file import.
type ImportRecord struct {
	// ID is the unique batch identifier.
	ID string
	// Path is the imported file's path at import time.
	Path string
	// Stats summarises the batch.
	Stats ImportStats
	// ImportedAt is when the import completed.
	ImportedAt time.Time
}

// MaxRowErrors bounds the row-level error list kept in ImportStats.
// Callers typically display the first 20; we keep more so the cap is
// never the limiting factor for reasonable UIs.
const MaxRowErrors = 50

// ImportStats summarises a parse or fetch batch.
type ImportStats struct {
	// TotalRows is the number of rows or records seen in the input.
	TotalRows int `json:"total_rows"`
	// Imported is the number of canonical transactions produced.
	Imported int `json:"imported"`
	// Skipped counts rows dropped for missing or unparseable fields.
	Skipped int `json:"skipped"`
	// Errors counts rows that produced a row-level error.
	Errors int `json:"errors"`
	// RowErrors holds human-readable row-level error strings, capped at
	// MaxRowErrors.
	RowErrors []string `json:"row_errors,omitempty"`
}

// AddRowError records a row-level error, incrementing the error count
// and appending the message up to the cap.
func (s *ImportStats) AddRowError(msg string) {
	s.Errors++
	if len(s.RowErrors) < MaxRowErrors {
		s.RowErrors = append(s.RowErrors, msg)
	}
}

// Merge folds other into s.
func (s *ImportStats) Merge(other ImportStats) {
	s.TotalRows += other.TotalRows
	s.Imported += other.Imported
	s.Skipped += other.Skipped
	s.Errors += other.Errors
	for _, e := range other.RowErrors {
		if len(s.RowErrors) >= MaxRowErrors {
			break
		}
		s.RowErrors = append(s.RowErrors, e)
	}
}
