package connector

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/shopspring/decimal"
)

// RemoteTimeLayout is the timestamp format used by Magento payloads.
const RemoteTimeLayout = "2006-01-02 15:04:05"

// DecimalValue parses a payload number. Magento 1.7 sends "19.9900" strings,
// 2.0 sends JSON numbers.
func DecimalValue(v any) (decimal.Decimal, error) {
	switch val := v.(type) {
	case nil:
		return decimal.Zero, nil
	case decimal.Decimal:
		return val, nil
	case float64:
		return decimal.NewFromFloat(val), nil
	case float32:
		return decimal.NewFromFloat32(val), nil
	case int:
		return decimal.NewFromInt(int64(val)), nil
	case int64:
		return decimal.NewFromInt(val), nil
	case json.Number:
		return decimal.NewFromString(val.String())
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(s)
	default:
		return decimal.Zero, fmt.Errorf("cannot convert %T to decimal", v)
	}
}

// ToDecimal converts a payload number to a decimal.
func ToDecimal(v any) (any, error) {
	d, err := DecimalValue(v)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ToFloat converts a payload number to float64.
func ToFloat(v any) (any, error) {
	d, err := DecimalValue(v)
	if err != nil {
		return nil, err
	}
	return d.InexactFloat64(), nil
}

// ToInt converts a payload number to int.
func ToInt(v any) (any, error) {
	d, err := DecimalValue(v)
	if err != nil {
		return nil, err
	}
	return int(d.IntPart()), nil
}

// ToString renders any scalar as a string.
func ToString(v any) (any, error) {
	return integration.AsString(v), nil
}

// ToBool accepts booleans, numbers and the strings "1"/"0"/"true"/"false".
func ToBool(v any) (any, error) {
	return BoolValue(v), nil
}

// BoolValue interprets a payload flag.
func BoolValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(val))
		return err == nil && b
	default:
		d, err := DecimalValue(v)
		return err == nil && !d.IsZero()
	}
}

// ToTime parses a remote timestamp; empty values map to nil.
func ToTime(v any) (any, error) {
	if integration.AsString(v) == "" {
		return nil, nil
	}
	t, ok := ParseRemoteTime(v)
	if !ok {
		return nil, fmt.Errorf("invalid timestamp %v", v)
	}
	return t, nil
}

// ParseRemoteTime reads a Magento timestamp (UTC, "2006-01-02 15:04:05") or
// an RFC 3339 one.
func ParseRemoteTime(v any) (time.Time, bool) {
	if t, ok := v.(time.Time); ok {
		return t, true
	}
	s := integration.AsString(v)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.ParseInLocation(RemoteTimeLayout, s, time.UTC); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}
