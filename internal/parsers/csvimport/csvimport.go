// Package csvimport parses tabular order-history exports into canonical
// transactions. Two purchase schema variants are recognised by their
// header rows, plus a refund variant recognised by keyword match that
// produces positive-signed transactions (money returning).
package csvimport

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/custodia-labs/bankfeed/internal/aggregate"
	"github.com/custodia-labs/bankfeed/internal/core/domain"
	"github.com/custodia-labs/bankfeed/internal/logger"
	"github.com/custodia-labs/bankfeed/internal/parsers/money"
)

// Variant identifies which known schema a file matches.
type Variant string

const (
	// VariantOrders is the order-level export: one row per order.
	VariantOrders Variant = "orders"
	// VariantItems is the item-level export: one row per line item,
	// multiple rows per order.
	VariantItems Variant = "items"
	// VariantRefunds is the refund/return export.
	VariantRefunds Variant = "refunds"
)

// Column names are matched lowercase after trimming.
//
// The item-level variant carries both "unit price" and "total owed";
// "total owed" is the charged amount and is authoritative.
var (
	ordersRequired  = []string{"order date", "order id", "title", "total charged"}
	itemsRequired   = []string{"date", "order id", "product name", "total owed"}
	refundsRequired = []string{"order id", "title", "refund amount"}
)

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"02.01.2006",
	"01/02/06",
	"Jan 2, 2006",
}

// Parse reads a tabular export and returns canonical transactions in
// row order, before the aggregation pass. Rows missing a required field
// are skipped and counted, never fatal to the whole import. An
// unrecognised header set is a hard error naming the found headers.
func Parse(r io.Reader) ([]domain.FetchedTransaction, domain.ImportStats, error) {
	var stats domain.ImportStats

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, stats, fmt.Errorf("read header: %w", err)
	}

	headerMap := headerIndex(header)
	variant, err := DetectVariant(headerMap)
	if err != nil {
		return nil, stats, err
	}
	logger.Debug("csvimport: detected %s variant (%d columns)", variant, len(headerMap))

	var txns []domain.FetchedTransaction
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			stats.TotalRows++
			stats.AddRowError(fmt.Sprintf("row %d: %v", stats.TotalRows, err))
			continue
		}
		stats.TotalRows++

		row := rowReader{record: record, headers: headerMap}
		tx, err := parseRow(variant, row)
		if err != nil {
			stats.Skipped++
			stats.AddRowError(fmt.Sprintf("row %d: %v", stats.TotalRows, err))
			continue
		}
		txns = append(txns, tx)
		stats.Imported++
	}

	return txns, stats, nil
}

// DetectVariant identifies the schema from the header set. The refund
// variant is recognised first by keyword, then the purchase variants by
// their required columns.
func DetectVariant(headers map[string]int) (Variant, error) {
	hasAll := func(cols []string) bool {
		for _, c := range cols {
			if _, ok := headers[c]; !ok {
				return false
			}
		}
		return true
	}

	refundKeyword := false
	for h := range headers {
		if strings.Contains(h, "refund") || strings.Contains(h, "return") {
			refundKeyword = true
			break
		}
	}
	if refundKeyword && hasAll(refundsRequired) {
		return VariantRefunds, nil
	}
	if hasAll(ordersRequired) {
		return VariantOrders, nil
	}
	if hasAll(itemsRequired) {
		return VariantItems, nil
	}

	found := make([]string, 0, len(headers))
	for h := range headers {
		found = append(found, h)
	}
	return "", fmt.Errorf("%w: unrecognised headers [%s]",
		domain.ErrUnsupportedFormat, strings.Join(found, ", "))
}

func parseRow(variant Variant, row rowReader) (domain.FetchedTransaction, error) {
	switch variant {
	case VariantOrders:
		return parsePurchase(row, "order date", "title", "total charged", string(VariantOrders))
	case VariantItems:
		return parsePurchase(row, "date", "product name", "total owed", string(VariantItems))
	case VariantRefunds:
		return parseRefund(row)
	}
	return domain.FetchedTransaction{}, domain.ErrUnsupportedFormat
}

func parsePurchase(row rowReader, dateCol, nameCol, amountCol, source string) (domain.FetchedTransaction, error) {
	orderID := row.get("order id")
	name := row.get(nameCol)
	if orderID == "" || name == "" {
		return domain.FetchedTransaction{}, fmt.Errorf("missing order id or %s", nameCol)
	}

	date, err := parseDate(row.get(dateCol))
	if err != nil {
		return domain.FetchedTransaction{}, err
	}

	amount, err := money.ParseAmount(row.get(amountCol))
	if err != nil {
		return domain.FetchedTransaction{}, err
	}
	// Purchases are money leaving the account regardless of how the
	// export signs the column.
	if amount > 0 {
		amount = -amount
	}

	return domain.FetchedTransaction{
		ExternalID:  aggregate.StableID(source, orderID, name),
		Date:        date,
		Description: name,
		Amount:      amount,
		Currency:    row.get("currency"),
		Raw: map[string]any{
			"source":   source,
			"order_id": orderID,
		},
	}, nil
}

func parseRefund(row rowReader) (domain.FetchedTransaction, error) {
	orderID := row.get("order id")
	name := row.get("title")
	if orderID == "" || name == "" {
		return domain.FetchedTransaction{}, fmt.Errorf("missing order id or title")
	}

	dateVal := row.get("refund date")
	if dateVal == "" {
		dateVal = row.get("date")
	}
	date, err := parseDate(dateVal)
	if err != nil {
		return domain.FetchedTransaction{}, err
	}

	amount, err := money.ParseAmount(row.get("refund amount"))
	if err != nil {
		return domain.FetchedTransaction{}, err
	}
	// Refunds are money returning: always positive.
	if amount < 0 {
		amount = -amount
	}

	return domain.FetchedTransaction{
		ExternalID:  aggregate.StableID(string(VariantRefunds), orderID, name),
		Date:        date,
		Description: name,
		Amount:      amount,
		Currency:    row.get("currency"),
		Raw: map[string]any{
			"source":   string(VariantRefunds),
			"order_id": orderID,
			"refund":   true,
		},
	}, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("missing date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

func headerIndex(header []string) map[string]int {
	m := make(map[string]int, len(header))
	for i, h := range header {
		m[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	return m
}

// rowReader resolves named columns against a record, tolerating short
// rows.
type rowReader struct {
	record  []string
	headers map[string]int
}

func (r rowReader) get(col string) string {
	idx, ok := r.headers[col]
	if !ok || idx >= len(r.record) {
		return ""
	}
	return strings.TrimSpace(r.record[idx])
}
