package domain

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RawRecord is one item of an upstream collection as decoded from JSON with UseNumber.
// Field names vary between upstream versions, so every accessor takes a list of aliases
// and returns the first present, non-null value. Accessors never panic.
type RawRecord map[string]interface{}

// timestampLayouts are tried in order when a field holds a textual timestamp
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	DateLayout,
}

// Lookup returns the first non-nil value among keys
func (r RawRecord) Lookup(keys ...string) (interface{}, bool) {
	for _, key := range keys {
		if v, ok := r[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// String returns the first alias rendered as text, or "" when absent
func (r RawRecord) String(keys ...string) string {
	v, ok := r.Lookup(keys...)
	if !ok {
		return ""
	}
	return stringify(v)
}

// Decimal returns the first alias parsed as a decimal amount
func (r RawRecord) Decimal(keys ...string) (decimal.Decimal, bool) {
	for _, key := range keys {
		v, ok := r[key]
		if !ok || v == nil {
			continue
		}
		if d, ok := toDecimal(v); ok {
			return d, true
		}
	}
	return decimal.Zero, false
}

// Int returns the first alias parsed as an integer
func (r RawRecord) Int(keys ...string) (int64, bool) {
	d, ok := r.Decimal(keys...)
	if !ok {
		return 0, false
	}
	return d.IntPart(), true
}

// Bool returns the first alias interpreted as a boolean.
// Numbers are true when non-zero; strings accept true/false/1/0/yes/no.
func (r RawRecord) Bool(keys ...string) (value bool, present bool) {
	for _, key := range keys {
		v, ok := r[key]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case bool:
			return t, true
		case json.Number:
			f, err := t.Float64()
			if err != nil {
				continue
			}
			return f != 0, true
		case float64:
			return t != 0, true
		case int:
			return t != 0, true
		case int64:
			return t != 0, true
		case string:
			switch strings.ToLower(strings.TrimSpace(t)) {
			case "true", "1", "yes", "y", "active":
				return true, true
			case "false", "0", "no", "n", "inactive", "":
				return false, true
			}
		}
	}
	return false, false
}

// Time returns the first alias parsed as a timestamp. Zone-less values are
// interpreted in loc; numeric values are Unix seconds.
func (r RawRecord) Time(loc *time.Location, keys ...string) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	for _, key := range keys {
		v, ok := r[key]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			if ts, ok := parseTimestamp(strings.TrimSpace(t), loc); ok {
				return ts, true
			}
		case json.Number:
			if n, err := t.Int64(); err == nil && n > 0 {
				return time.Unix(n, 0).In(loc), true
			}
		case float64:
			if t > 0 {
				return time.Unix(int64(t), 0).In(loc), true
			}
		case time.Time:
			if !t.IsZero() {
				return t.In(loc), true
			}
		}
	}
	return time.Time{}, false
}

// Record returns a nested object stored under key
func (r RawRecord) Record(key string) (RawRecord, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return nil, false
	}
	switch t := v.(type) {
	case map[string]interface{}:
		return RawRecord(t), true
	case RawRecord:
		return t, true
	}
	return nil, false
}

// Merge returns a copy of r where every non-empty field of other overrides r
func (r RawRecord) Merge(other RawRecord) RawRecord {
	merged := make(RawRecord, len(r)+len(other))
	for k, v := range r {
		merged[k] = v
	}
	for k, v := range other {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		merged[k] = v
	}
	return merged
}

func parseTimestamp(s string, loc *time.Location) (time.Time, bool) {
	if s == "" || strings.HasPrefix(s, "0001-01-01") {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, s, loc); err == nil {
			return ts.In(loc), true
		}
	}
	return time.Time{}, false
}

func toDecimal(v interface{}) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(t), true
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	case decimal.Decimal:
		return t, true
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(t), " ", "")
		s = strings.Replace(s, ",", ".", 1)
		if s == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(s)
		return d, err == nil
	}
	return decimal.Zero, false
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case decimal.Decimal:
		return t.String()
	}
	return ""
}
