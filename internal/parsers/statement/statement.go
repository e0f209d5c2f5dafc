// Package statement normalizes the three statement encodings a banking
// dialog can deliver into canonical transactions:
//
//   - structured: tagged records, one per line, with explicit signed
//     amounts and an end-to-end reference
//   - indicator: SWIFT-style entry lines carrying a separate
//     credit/debit indicator from which the sign is derived
//   - booked: raw semicolon-delimited booked-transaction rows
//
// Records lacking a parseable date are dropped and counted as skipped,
// never silently defaulted to "now".
package statement

import (
	"fmt"
	"strings"
	"time"

	"github.com/custodia-labs/bankfeed/internal/aggregate"
	"github.com/custodia-labs/bankfeed/internal/core/domain"
	"github.com/custodia-labs/bankfeed/internal/parsers/money"
)

// Encoding identifies a statement wire format.
type Encoding string

const (
	// EncodingStructured is the tagged structured-transaction list.
	EncodingStructured Encoding = "structured"
	// EncodingIndicator is the entry list with a separate credit/debit
	// indicator.
	EncodingIndicator Encoding = "indicator"
	// EncodingBooked is the raw booked-transaction list.
	EncodingBooked Encoding = "booked"
)

// DetectEncoding sniffs the statement format from its content.
func DetectEncoding(data []byte) (Encoding, error) {
	s := string(data)
	switch {
	case strings.Contains(s, ":61:"):
		return EncodingIndicator, nil
	case strings.Contains(s, "DATE:"):
		return EncodingStructured, nil
	case strings.Contains(s, ";"):
		return EncodingBooked, nil
	}
	return "", fmt.Errorf("%w: statement matches no known encoding", domain.ErrUnsupportedFormat)
}

// Parse normalizes statement data of the given encoding. Use
// DetectEncoding first when the encoding is not known from the dialog.
func Parse(enc Encoding, data []byte) ([]domain.FetchedTransaction, domain.ImportStats, error) {
	switch enc {
	case EncodingStructured:
		return parseStructured(data)
	case EncodingIndicator:
		return parseIndicator(data)
	case EncodingBooked:
		return parseBooked(data)
	}
	return nil, domain.ImportStats{}, fmt.Errorf("%w: encoding %q", domain.ErrUnsupportedFormat, enc)
}

// parseStructured handles tagged records such as:
//
//	DATE:2024-03-21|AMT:-12,34|CUR:EUR|NAME:ACME GmbH|SVWZ:Invoice 42|EREF:E2024-001
func parseStructured(data []byte) ([]domain.FetchedTransaction, domain.ImportStats, error) {
	var (
		stats domain.ImportStats
		txns  []domain.FetchedTransaction
	)

	for _, line := range nonEmptyLines(data) {
		stats.TotalRows++
		fields := map[string]string{}
		for _, part := range strings.Split(line, "|") {
			key, val, ok := strings.Cut(part, ":")
			if ok {
				fields[strings.ToUpper(strings.TrimSpace(key))] = strings.TrimSpace(val)
			}
		}

		date, err := time.Parse("2006-01-02", fields["DATE"])
		if err != nil {
			stats.Skipped++
			stats.AddRowError(fmt.Sprintf("structured record %d: unparseable date %q", stats.TotalRows, fields["DATE"]))
			continue
		}
		amount, err := money.ParseAmount(fields["AMT"])
		if err != nil {
			stats.Skipped++
			stats.AddRowError(fmt.Sprintf("structured record %d: %v", stats.TotalRows, err))
			continue
		}

		externalID := fields["EREF"]
		if externalID == "" {
			externalID = contentID(date, fields["NAME"], fields["SVWZ"], amount)
		}

		txns = append(txns, domain.FetchedTransaction{
			ExternalID:  externalID,
			Date:        date,
			Description: fields["SVWZ"],
			Amount:      amount,
			Currency:    fields["CUR"],
			Beneficiary: fields["NAME"],
			Raw:         map[string]any{"source": "statement", "encoding": string(EncodingStructured), "line": line},
		})
		stats.Imported++
	}

	return txns, stats, nil
}

// parseIndicator handles entry lines with a separate credit/debit
// indicator:
//
//	:61:240321D12,34NTRF//REF123
//	:86:ACME GmbH Invoice 42
//
// The amount carries no sign of its own; D books as negative, C (and
// reversal RC) as positive, RD negative again.
func parseIndicator(data []byte) ([]domain.FetchedTransaction, domain.ImportStats, error) {
	var (
		stats domain.ImportStats
		txns  []domain.FetchedTransaction
	)

	lines := nonEmptyLines(data)
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if !strings.HasPrefix(line, ":61:") {
			continue
		}
		stats.TotalRows++

		entry := strings.TrimPrefix(line, ":61:")
		if len(entry) < 8 {
			stats.Skipped++
			stats.AddRowError(fmt.Sprintf("entry %d: truncated :61: line", stats.TotalRows))
			continue
		}

		date, err := time.Parse("060102", entry[:6])
		if err != nil {
			stats.Skipped++
			stats.AddRowError(fmt.Sprintf("entry %d: unparseable date %q", stats.TotalRows, entry[:6]))
			continue
		}

		rest := entry[6:]
		sign, rest, err := cutIndicator(rest)
		if err != nil {
			stats.Skipped++
			stats.AddRowError(fmt.Sprintf("entry %d: %v", stats.TotalRows, err))
			continue
		}

		amountStr, ref := cutAmount(rest)
		amount, err := money.ParseAmount(amountStr)
		if err != nil {
			stats.Skipped++
			stats.AddRowError(fmt.Sprintf("entry %d: %v", stats.TotalRows, err))
			continue
		}
		amount = sign * amount

		purpose := ""
		if i+1 < len(lines) && strings.HasPrefix(lines[i+1], ":86:") {
			purpose = strings.TrimSpace(strings.TrimPrefix(lines[i+1], ":86:"))
			i++
		}

		externalID := ref
		if externalID == "" {
			externalID = contentID(date, "", purpose, amount)
		}

		txns = append(txns, domain.FetchedTransaction{
			ExternalID:  externalID,
			Date:        date,
			Description: purpose,
			Amount:      amount,
			Raw:         map[string]any{"source": "statement", "encoding": string(EncodingIndicator), "line": line},
		})
		stats.Imported++
	}

	return txns, stats, nil
}

// parseBooked handles raw rows: date;amount;currency;name;purpose
func parseBooked(data []byte) ([]domain.FetchedTransaction, domain.ImportStats, error) {
	var (
		stats domain.ImportStats
		txns  []domain.FetchedTransaction
	)

	for _, line := range nonEmptyLines(data) {
		stats.TotalRows++
		parts := strings.Split(line, ";")
		if len(parts) < 5 {
			stats.Skipped++
			stats.AddRowError(fmt.Sprintf("booked row %d: expected 5 fields, got %d", stats.TotalRows, len(parts)))
			continue
		}

		date, err := parseBookedDate(parts[0])
		if err != nil {
			stats.Skipped++
			stats.AddRowError(fmt.Sprintf("booked row %d: %v", stats.TotalRows, err))
			continue
		}
		amount, err := money.ParseAmount(parts[1])
		if err != nil {
			stats.Skipped++
			stats.AddRowError(fmt.Sprintf("booked row %d: %v", stats.TotalRows, err))
			continue
		}

		name := strings.TrimSpace(parts[3])
		purpose := strings.TrimSpace(parts[4])
		txns = append(txns, domain.FetchedTransaction{
			ExternalID:  contentID(date, name, purpose, amount),
			Date:        date,
			Description: purpose,
			Amount:      amount,
			Currency:    strings.TrimSpace(parts[2]),
			Beneficiary: name,
			Raw:         map[string]any{"source": "statement", "encoding": string(EncodingBooked), "line": line},
		})
		stats.Imported++
	}

	return txns, stats, nil
}

func cutIndicator(s string) (float64, string, error) {
	switch {
	case strings.HasPrefix(s, "RC"):
		return 1, s[2:], nil
	case strings.HasPrefix(s, "RD"):
		return -1, s[2:], nil
	case strings.HasPrefix(s, "C"):
		return 1, s[1:], nil
	case strings.HasPrefix(s, "D"):
		return -1, s[1:], nil
	}
	return 0, "", fmt.Errorf("missing credit/debit indicator")
}

// cutAmount splits the leading amount (digits and comma) from the
// booking key and reference that follow it.
func cutAmount(s string) (amount, ref string) {
	end := 0
	for end < len(s) && (s[end] >= '0' && s[end] <= '9' || s[end] == ',') {
		end++
	}
	amount = s[:end]
	rest := s[end:]
	if idx := strings.Index(rest, "//"); idx >= 0 {
		ref = strings.TrimSpace(rest[idx+2:])
	}
	return amount, ref
}

func parseBookedDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", "02.01.2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

func contentID(date time.Time, name, purpose string, amount float64) string {
	return aggregate.StableID("statement", date.Format("2006-01-02"),
		fmt.Sprintf("%s|%s|%.2f", name, purpose, amount))
}

func nonEmptyLines(data []byte) []string {
	var out []string
	for _, line := range strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
