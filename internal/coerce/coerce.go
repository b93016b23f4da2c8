// Package coerce converts raw source cells into the canonical order record
// types.
package coerce

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"order-etl/internal/models"
	"order-etl/internal/table"
)

// errNotNumeric is wrapped with models.ErrConversion by the callers' context
var errNotNumeric = errors.New("not a number")

// dateLayouts are tried in order. Layouts without a zone parse as UTC.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006",
	"1/2/2006 15:04",
	"1/2/2006",
	"02-Jan-2006",
	"2 Jan 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	time.RFC1123Z,
	time.RFC1123,
	"20060102",
}

// Date parses an order_date string
func Date(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty order_date", models.ErrFormat)
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unparseable order_date %q", models.ErrFormat, s)
}

// DateValue normalizes an order_date cell. Time cells pass through.
func DateValue(v table.Value) (table.Value, error) {
	switch v.Kind() {
	case table.KindTime:
		return v, nil
	case table.KindString:
		s, _ := v.AsString()
		t, err := Date(s)
		if err != nil {
			return v, err
		}
		return table.Time(t), nil
	case table.KindAbsent:
		return v, fmt.Errorf("%w: missing order_date", models.ErrFormat)
	default:
		return v, fmt.Errorf("%w: order_date of type %s", models.ErrFormat, v.Kind())
	}
}

// OrderID normalizes a present order_id cell to a non-negative integer or
// the missing sentinel -1. Integral floats and numeric text ("7", "7.0") are
// accepted.
func OrderID(v table.Value) (int64, error) {
	var id int64
	switch v.Kind() {
	case table.KindInt:
		id, _ = v.AsInt()
	case table.KindFloat:
		f, _ := v.AsFloat()
		n, ok := integral(f)
		if !ok {
			return 0, fmt.Errorf("%w: order_id %v is not an integer", models.ErrConversion, f)
		}
		id = n
	case table.KindString:
		s, _ := v.AsString()
		s = strings.TrimSpace(s)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			id = n
			break
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: order_id %q is not an integer", models.ErrConversion, s)
		}
		n, ok := integral(f)
		if !ok {
			return 0, fmt.Errorf("%w: order_id %q is not an integer", models.ErrConversion, s)
		}
		id = n
	default:
		return 0, fmt.Errorf("%w: order_id of type %s", models.ErrConversion, v.Kind())
	}

	if id < 0 && id != models.MissingOrderID {
		return 0, fmt.Errorf("%w: order_id %d is negative", models.ErrConversion, id)
	}
	return id, nil
}

// missingTokens are the field texts read as no value, matching the pandas
// read_csv defaults. Matching is exact.
var missingTokens = map[string]struct{}{
	"": {}, "#N/A": {}, "#N/A N/A": {}, "#NA": {}, "-1.#IND": {}, "-1.#QNAN": {},
	"-NaN": {}, "-nan": {}, "1.#IND": {}, "1.#QNAN": {}, "<NA>": {}, "N/A": {},
	"NA": {}, "NULL": {}, "NaN": {}, "None": {}, "n/a": {}, "nan": {}, "null": {},
}

// IsMissing reports whether a raw CSV field stands for no value
func IsMissing(field string) bool {
	_, ok := missingTokens[field]
	return ok
}

// Number coerces an order_total cell to Int or Float. Absent passes through.
func Number(v table.Value) (table.Value, error) {
	switch v.Kind() {
	case table.KindAbsent, table.KindInt:
		return v, nil
	case table.KindFloat:
		f, _ := v.AsFloat()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return v, fmt.Errorf("%w: order_total %v: %v", models.ErrConversion, f, errNotNumeric)
		}
		return v, nil
	case table.KindString:
		s, _ := v.AsString()
		trimmed := strings.TrimSpace(s)
		if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return table.Int(n), nil
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return v, fmt.Errorf("%w: order_total %q: %v", models.ErrConversion, s, errNotNumeric)
		}
		return table.Float(f), nil
	default:
		return v, fmt.Errorf("%w: order_total of type %s: %v", models.ErrConversion, v.Kind(), errNotNumeric)
	}
}

// Email lowercases then trims a customer_email cell. Non-string cells are
// returned unchanged.
func Email(v table.Value) table.Value {
	s, ok := v.AsString()
	if !ok {
		return v
	}
	return table.String(strings.TrimSpace(strings.ToLower(s)))
}

func integral(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}
