package schema

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// dateLayouts are tried in order when parsing date strings.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Coerce converts v to the Go representation of the column's type:
//
//	Text    → string (NFC normalized)
//	Integer → int64
//	Float   → float64
//	Date    → time.Time (UTC)
//	Boolean → bool
//	Blob    → []byte
//
// nil stays nil. Inputs may come from JSON decoding (float64, json.Number,
// string) or from a database driver (int64, []byte, time.Time, ...).
func (c Column) Coerce(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	var (
		out any
		err error
	)
	switch c.Type {
	case Text:
		out, err = toText(v)
	case Integer:
		out, err = toInteger(v)
	case Float:
		out, err = toFloat(v)
	case Date:
		out, err = toDate(v)
	case Boolean:
		out, err = toBoolean(v)
	case Blob:
		out, err = toBlob(v)
	default:
		return v, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: column %q (%s): %v", ErrInvalidValue, c.Name, c.Type, err)
	}
	return out, nil
}

func toText(v any) (any, error) {
	switch x := v.(type) {
	case string:
		return norm.NFC.String(x), nil
	case []byte:
		return norm.NFC.String(string(x)), nil
	case json.Number:
		return x.String(), nil
	case bool:
		return strconv.FormatBool(x), nil
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), nil
	case fmt.Stringer:
		return norm.NFC.String(x.String()), nil
	}
	if i, ok := asInt64(v); ok {
		return strconv.FormatInt(i, 10), nil
	}
	if f, ok := asFloat64(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	return nil, fmt.Errorf("cannot convert %T", v)
}

func toInteger(v any) (any, error) {
	if i, ok := asInt64(v); ok {
		return i, nil
	}
	switch x := v.(type) {
	case float64:
		return integral(x)
	case float32:
		return integral(float64(x))
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, err
		}
		return integral(f)
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		return parseInteger(x)
	case []byte:
		return parseInteger(string(x))
	}
	return nil, fmt.Errorf("cannot convert %T", v)
}

func parseInteger(s string) (any, error) {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("not an integer: %q", s)
	}
	return integral(f)
}

func integral(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return nil, fmt.Errorf("not an integer: %v", f)
	}
	// float64(math.MaxInt64) rounds up to 2^63, so the upper bound is exclusive.
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return nil, fmt.Errorf("integer out of range: %v", f)
	}
	return int64(f), nil
}

func toFloat(v any) (any, error) {
	if f, ok := asFloat64(v); ok {
		return f, nil
	}
	if i, ok := asInt64(v); ok {
		return float64(i), nil
	}
	switch x := v.(type) {
	case json.Number:
		return x.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	case []byte:
		return strconv.ParseFloat(strings.TrimSpace(string(x)), 64)
	}
	return nil, fmt.Errorf("cannot convert %T", v)
}

func toDate(v any) (any, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case string:
		return parseDate(x)
	case []byte:
		return parseDate(string(x))
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return nil, err
		}
		return time.UnixMilli(i).UTC(), nil
	case float64:
		return time.UnixMilli(int64(x)).UTC(), nil
	}
	if i, ok := asInt64(v); ok {
		return time.UnixMilli(i).UTC(), nil
	}
	return nil, fmt.Errorf("cannot convert %T", v)
}

func parseDate(s string) (any, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return nil, fmt.Errorf("unrecognized date %q", s)
}

func toBoolean(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		return parseBool(x)
	case []byte:
		return parseBool(string(x))
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil, err
		}
		return f != 0, nil
	}
	if i, ok := asInt64(v); ok {
		return i != 0, nil
	}
	if f, ok := asFloat64(v); ok {
		return f != 0, nil
	}
	return nil, fmt.Errorf("cannot convert %T", v)
}

func parseBool(s string) (any, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "1", "yes":
		return true, nil
	case "false", "f", "0", "no", "":
		return false, nil
	}
	return nil, fmt.Errorf("not a boolean: %q", s)
}

func toBlob(v any) (any, error) {
	switch x := v.(type) {
	case []byte:
		out := make([]byte, len(x))
		copy(out, x)
		return out, nil
	case string:
		if b, err := base64.StdEncoding.DecodeString(x); err == nil {
			return b, nil
		}
		return []byte(x), nil
	}
	return nil, fmt.Errorf("cannot convert %T", v)
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	}
	return 0, false
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	}
	return 0, false
}
