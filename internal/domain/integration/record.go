package integration

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/tidwall/gjson"
)

// Record is a loosely typed field map. Adapters return remote payloads as
// Records and mappers produce Records of values to write.
type Record map[string]any

// DecodeRecord parses a JSON object into a Record.
func DecodeRecord(raw []byte) (Record, error) {
	if len(raw) == 0 {
		return Record{}, nil
	}
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("integration: decode record: %w", err)
	}
	if r == nil {
		r = Record{}
	}
	return r, nil
}

// Has reports whether key is present, even with a nil value.
func (r Record) Has(key string) bool {
	_, ok := r[key]
	return ok
}

// String returns the value under key rendered as a string, or "" when absent.
func (r Record) String(key string) string {
	return AsString(r[key])
}

// Path looks up a dotted gjson path such as
// "extension_attributes.stock_item.qty".
func (r Record) Path(path string) gjson.Result {
	raw, err := json.Marshal(r)
	if err != nil {
		return gjson.Result{}
	}
	return gjson.GetBytes(raw, path)
}

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge copies every key of other into r, overwriting existing keys.
func (r Record) Merge(other Record) {
	for k, v := range other {
		r[k] = v
	}
}

// Keys returns the keys in sorted order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Only returns a copy restricted to the given keys. An empty key list
// returns a full copy.
func (r Record) Only(keys []string) Record {
	if len(keys) == 0 {
		return r.Clone()
	}
	out := make(Record, len(keys))
	for _, k := range keys {
		if v, ok := r[k]; ok {
			out[k] = v
		}
	}
	return out
}

// JSON encodes the record.
func (r Record) JSON() (json.RawMessage, error) {
	if r == nil {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(r)
}

// AsString renders scalar payload values the way remote ids are compared:
// 12 and "12" are the same id, and 0 stays "0".
func AsString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case bool:
		return strconv.FormatBool(val)
	case json.Number:
		return val.String()
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}
