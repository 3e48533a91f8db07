/**
 * @description
 * Shape-tolerant extraction of STK settlement callbacks. The provider's webhook
 * payload is not a fixed shape: fields appear at different nesting depths and
 * with different casing depending on provider version. Rather than ad hoc
 * nested lookups, each logical field is declared as an ordered list of
 * candidate paths evaluated against the generic JSON tree, first match wins.
 * Path steps match map keys case-insensitively.
 */

package app

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Candidate locations of the callback node and its logical fields, in
// probe order.
var (
	callbackNodePaths = [][]string{
		{"Body", "stkCallback"},
		{"stkCallback"},
		{}, // flat payload: fields at the root
	}
	resultCodePaths = [][]string{
		{"ResultCode"},
		{"Result"},
	}
	resultDescPaths = [][]string{
		{"ResultDesc"},
		{"ResultDescription"},
	}
	checkoutIDPaths = [][]string{
		{"CheckoutRequestID"},
	}
	merchantIDPaths = [][]string{
		{"MerchantRequestID"},
	}
	metadataItemPaths = [][]string{
		{"CallbackMetadata", "Item"},
		{"CallbackMetadata"},
	}
)

// Known metadata item names per logical field, matched case-insensitively.
var (
	amountItemNames  = []string{"Amount"}
	receiptItemNames = []string{"MpesaReceiptNumber", "ReceiptNumber"}
	phoneItemNames   = []string{"PhoneNumber", "MSISDN"}
	txDateItemNames  = []string{"TransactionDate", "Transaction"}
)

// stkCallbackFields is the canonical result record produced from one webhook
// payload, whatever its shape.
type stkCallbackFields struct {
	ResultCode        int
	ResultDesc        string
	CheckoutRequestID string
	MerchantRequestID string
	Amount            int64 // in cents; 0 when the provider sent none
	Receipt           string
	Phone             string
	TransactionDate   *time.Time
}

// extractStkCallback parses a raw webhook body into the canonical field set.
// Only a malformed JSON document is an error; missing fields are left zero so
// the caller can decide which ones are fatal.
func extractStkCallback(raw []byte) (*stkCallbackFields, error) {
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("failed to parse callback payload: %w", err)
	}

	node, ok := firstMatch(tree, callbackNodePaths)
	if !ok {
		node = tree
	}

	fields := &stkCallbackFields{ResultCode: -1}
	if v, ok := firstMatch(node, resultCodePaths); ok {
		if code, ok := asInt(v); ok {
			fields.ResultCode = int(code)
		}
	}
	if v, ok := firstMatch(node, resultDescPaths); ok {
		fields.ResultDesc, _ = asString(v)
	}
	if v, ok := firstMatch(node, checkoutIDPaths); ok {
		fields.CheckoutRequestID, _ = asString(v)
	}
	if v, ok := firstMatch(node, merchantIDPaths); ok {
		fields.MerchantRequestID, _ = asString(v)
	}

	items, _ := firstMatch(node, metadataItemPaths)

	// A direct Amount field on the callback node wins over the metadata list.
	if v, ok := lookup(node, []string{"Amount"}); ok {
		if f, ok := asFloat(v); ok {
			fields.Amount = centsFromShillings(f)
		}
	} else if v, ok := findMetadataItem(items, amountItemNames); ok {
		if f, ok := asFloat(v); ok {
			fields.Amount = centsFromShillings(f)
		}
	}

	if v, ok := findMetadataItem(items, receiptItemNames); ok {
		fields.Receipt, _ = asString(v)
	}
	if v, ok := findMetadataItem(items, phoneItemNames); ok {
		fields.Phone, _ = asString(v)
	}
	if v, ok := findMetadataItem(items, txDateItemNames); ok {
		if s, ok := asString(v); ok {
			fields.TransactionDate = parseTransactionTimestamp(s)
		}
	}

	return fields, nil
}

// lookup descends the JSON tree one case-insensitive key at a time. An empty
// path returns the node itself.
func lookup(node any, path []string) (any, bool) {
	current := node
	for _, step := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		found := false
		for key, value := range m {
			if strings.EqualFold(key, step) {
				current = value
				found = true
				break
			}
		}
		if !found {
			return nil, false
		}
	}
	return current, true
}

// firstMatch probes an ordered list of candidate paths and returns the first hit.
func firstMatch(node any, paths [][]string) (any, bool) {
	for _, path := range paths {
		if v, ok := lookup(node, path); ok {
			return v, true
		}
	}
	return nil, false
}

// findMetadataItem scans a CallbackMetadata item list ({Name, Value} pairs)
// for the first item whose name matches any of the given variants.
func findMetadataItem(items any, names []string) (any, bool) {
	list, ok := items.([]any)
	if !ok {
		return nil, false
	}
	for _, item := range list {
		name, ok := lookup(item, []string{"Name"})
		if !ok {
			continue
		}
		nameStr, ok := asString(name)
		if !ok {
			continue
		}
		for _, candidate := range names {
			if strings.EqualFold(nameStr, candidate) {
				return lookup(item, []string{"Value"})
			}
		}
	}
	return nil, false
}

// parseTransactionTimestamp interprets the provider's YYYYMMDDHHMMSS numeric
// string as a UTC instant. Some payloads carry an ISO-8601 timestamp instead,
// so that is tried as a fallback. Anything unparsable yields nil rather than
// an error; the settlement is stored without a timestamp in that case.
func parseTransactionTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if len(s) == 14 {
		if t, err := time.ParseInLocation("20060102150405", s, time.UTC); err == nil {
			return &t
		}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.UTC()
		return &t
	}
	return nil
}

func centsFromShillings(shillings float64) int64 {
	return int64(math.Round(shillings * 100))
}

func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case float64:
		return strconv.FormatInt(int64(s), 10), true
	case json.Number:
		return s.String(), true
	default:
		return "", false
	}
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
