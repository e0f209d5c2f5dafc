// Package aggregate assigns stable identifiers to transactions that
// lack a natural key and collapses multi-row source records (multi-item
// orders) into single canonical transactions.
package aggregate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/custodia-labs/bankfeed/internal/core/domain"
)

// StableID derives a deterministic external id from record content so
// re-importing the same file yields the same ids. The hash covers the
// source, the order id, and the item name.
func StableID(source, orderID, itemName string) string {
	h := sha256.Sum256([]byte(source + "|" + orderID + "|" + itemName))
	return hex.EncodeToString(h[:])[:16]
}

// CollapseOrders merges transactions sharing an order id (stored under
// Raw["order_id"]) into one transaction per order. Amounts accumulate,
// the description is rewritten to an item count, and every original
// line item is preserved under Raw["items"] of the retained record.
// Transactions without an order id pass through untouched. Input order
// is preserved by first appearance.
func CollapseOrders(txns []domain.FetchedTransaction) []domain.FetchedTransaction {
	byOrder := make(map[string]int)
	out := make([]domain.FetchedTransaction, 0, len(txns))

	for _, tx := range txns {
		orderID, _ := tx.Raw["order_id"].(string)
		if orderID == "" {
			out = append(out, tx)
			continue
		}

		idx, seen := byOrder[orderID]
		if !seen {
			merged := tx
			merged.Raw = cloneRaw(tx.Raw)
			merged.Raw["items"] = []map[string]any{itemPayload(tx)}
			byOrder[orderID] = len(out)
			out = append(out, merged)
			continue
		}

		retained := &out[idx]
		retained.Amount += tx.Amount
		items, _ := retained.Raw["items"].([]map[string]any)
		items = append(items, itemPayload(tx))
		retained.Raw["items"] = items
		retained.Description = fmt.Sprintf("%d items", len(items))
		// The merged record's id must not depend on which item came
		// first in the file.
		retained.ExternalID = StableID(sourceOf(*retained), orderID, "")
	}

	return out
}

// DedupByExternalID drops later occurrences of an already seen external
// id, keeping the first. Returns the deduplicated slice and the number
// of duplicates removed.
func DedupByExternalID(txns []domain.FetchedTransaction) ([]domain.FetchedTransaction, int) {
	seen := make(map[string]struct{}, len(txns))
	out := make([]domain.FetchedTransaction, 0, len(txns))
	dropped := 0
	for _, tx := range txns {
		if tx.ExternalID != "" {
			if _, dup := seen[tx.ExternalID]; dup {
				dropped++
				continue
			}
			seen[tx.ExternalID] = struct{}{}
		}
		out = append(out, tx)
	}
	return out, dropped
}

func itemPayload(tx domain.FetchedTransaction) map[string]any {
	return map[string]any{
		"description": tx.Description,
		"amount":      tx.Amount,
		"external_id": tx.ExternalID,
	}
}

func sourceOf(tx domain.FetchedTransaction) string {
	if s, ok := tx.Raw["source"].(string); ok {
		return s
	}
	return ""
}

func cloneRaw(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw)+1)
	for k, v := range raw {
		out[k] = v
	}
	return out
}
