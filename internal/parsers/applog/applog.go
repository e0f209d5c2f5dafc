// Package applog parses app-exported activity logs: fixed three-line
// blocks of merchant, signed amount with currency, and a year-less date
// plus payment type. An optional quoted note and a recurrence marker
// may trail a block. Month-header lines establish the year context for
// the dates below them.
package applog

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/bankfeed/internal/aggregate"
	"github.com/custodia-labs/bankfeed/internal/core/domain"
	"github.com/custodia-labs/bankfeed/internal/parsers/money"
)

var monthNames = map[string]time.Month{
	"januar": time.January, "january": time.January,
	"februar": time.February, "february": time.February,
	"märz": time.March, "maerz": time.March, "march": time.March,
	"april": time.April,
	"mai":   time.May, "may": time.May,
	"juni": time.June, "june": time.June,
	"juli": time.July, "july": time.July,
	"august":    time.August,
	"september": time.September,
	"oktober":   time.October, "october": time.October,
	"november": time.November,
	"dezember": time.December, "december": time.December,
}

var recurrenceMarkers = []string{"wiederkehrend", "recurring", "abo"}

// Parse reads an activity log. now anchors year resolution for dates
// outside any month header: a month chronologically after the current
// one is assumed to belong to the previous year.
func Parse(r io.Reader, now time.Time) ([]domain.FetchedTransaction, domain.ImportStats, error) {
	var (
		stats domain.ImportStats
		txns  []domain.FetchedTransaction
	)

	lines, err := readLines(r)
	if err != nil {
		return nil, stats, err
	}

	ctxYear := 0
	for i := 0; i < len(lines); {
		line := lines[i]

		if year, ok := parseMonthHeader(line); ok {
			ctxYear = year
			i++
			continue
		}

		// A block needs merchant, amount, and date lines.
		if i+2 >= len(lines) {
			stats.TotalRows++
			stats.Skipped++
			stats.AddRowError(fmt.Sprintf("line %d: truncated block %q", i+1, line))
			break
		}

		stats.TotalRows++
		merchant := line
		amountLine := lines[i+1]
		dateLine := lines[i+2]
		i += 3

		note := ""
		recurring := false
		for i < len(lines) {
			trailing := lines[i]
			if strings.HasPrefix(trailing, `"`) && strings.HasSuffix(trailing, `"`) && len(trailing) >= 2 {
				note = trailing[1 : len(trailing)-1]
				i++
				continue
			}
			if isRecurrenceMarker(trailing) {
				recurring = true
				i++
				continue
			}
			break
		}

		tx, err := parseBlock(merchant, amountLine, dateLine, ctxYear, now)
		if err != nil {
			stats.Skipped++
			stats.AddRowError(fmt.Sprintf("block %q: %v", merchant, err))
			continue
		}
		if note != "" {
			tx.Raw["note"] = note
		}
		if recurring {
			tx.Raw["recurring"] = true
		}
		txns = append(txns, tx)
		stats.Imported++
	}

	return txns, stats, nil
}

func parseBlock(merchant, amountLine, dateLine string, ctxYear int, now time.Time) (domain.FetchedTransaction, error) {
	amountStr, currency := money.SplitCurrency(amountLine)
	amount, err := money.ParseAmount(amountStr)
	if err != nil {
		return domain.FetchedTransaction{}, err
	}

	date, paymentType, err := parseDateLine(dateLine, ctxYear, now)
	if err != nil {
		return domain.FetchedTransaction{}, err
	}

	dateKey := date.Format("2006-01-02")
	return domain.FetchedTransaction{
		ExternalID:  aggregate.StableID("applog", dateKey, fmt.Sprintf("%s|%.2f", merchant, amount)),
		Date:        date,
		Description: merchant,
		Amount:      amount,
		Currency:    currency,
		Raw: map[string]any{
			"source":       "applog",
			"payment_type": paymentType,
		},
	}, nil
}

// parseDateLine splits "21.03. Lastschrift" into a resolved date and
// the payment type text.
func parseDateLine(line string, ctxYear int, now time.Time) (time.Time, string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return time.Time{}, "", fmt.Errorf("empty date line")
	}

	datePart := strings.TrimSuffix(fields[0], ".")
	parts := strings.Split(datePart, ".")
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("unparseable date %q", fields[0])
	}
	day, err1 := strconv.Atoi(parts[0])
	month, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, "", fmt.Errorf("unparseable date %q", fields[0])
	}

	year := ctxYear
	if year == 0 {
		year = now.Year()
		// Without a governing header, a month after the current one
		// belongs to the previous year.
		if time.Month(month) > now.Month() {
			year--
		}
	}

	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return date, strings.Join(fields[1:], " "), nil
}

// parseMonthHeader recognises lines like "März 2024" or "March 2024"
// and returns the year they establish.
func parseMonthHeader(line string) (int, bool) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return 0, false
	}
	if _, ok := monthNames[strings.ToLower(fields[0])]; !ok {
		return 0, false
	}
	year, err := strconv.Atoi(fields[1])
	if err != nil || year < 1990 || year > 2999 {
		return 0, false
	}
	return year, true
}

func isRecurrenceMarker(line string) bool {
	lower := strings.ToLower(line)
	for _, marker := range recurrenceMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}
