package query

import (
	"encoding/json"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ParseValue converts a stored payload value to float64. Numbers of any
// width, numeric strings (surrounding blanks ignored), json.Number and BSON
// Decimal128 are accepted; anything else is a *SampleParseError.
func ParseValue(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int8:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint:
		return float64(x), nil
	case uint8:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return f, nil
		}
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f, nil
		}
	case primitive.Decimal128:
		if f, err := strconv.ParseFloat(x.String(), 64); err == nil {
			return f, nil
		}
	}
	return 0, &SampleParseError{Value: v}
}

// fieldValue reads and parses one payload field.
func fieldValue(payload map[string]any, field string) (float64, error) {
	raw, ok := payload[field]
	if !ok {
		return 0, &SampleParseError{Field: field}
	}
	f, err := ParseValue(raw)
	if err != nil {
		return 0, &SampleParseError{Field: field, Value: raw}
	}
	return f, nil
}
