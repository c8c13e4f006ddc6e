package magento

import (
	"sort"

	"github.com/connectorhq/magento-connector/internal/application/connector"
	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/tidwall/gjson"
)

// records reads a list of objects from a decoded payload.
func records(v any) []integration.Record {
	switch val := v.(type) {
	case []integration.Record:
		return val
	case []map[string]any:
		out := make([]integration.Record, 0, len(val))
		for _, m := range val {
			out = append(out, integration.Record(m))
		}
		return out
	case []any:
		out := make([]integration.Record, 0, len(val))
		for _, item := range val {
			if rec, ok := asRecord(item); ok {
				out = append(out, rec)
			}
		}
		return out
	default:
		return nil
	}
}

// asRecord reads one object from a decoded payload.
func asRecord(v any) (integration.Record, bool) {
	switch val := v.(type) {
	case integration.Record:
		return val, true
	case map[string]any:
		return integration.Record(val), true
	default:
		return nil, false
	}
}

// intValue reads a payload number, 0 when it is not one.
func intValue(v any) int {
	d, err := connector.DecimalValue(v)
	if err != nil {
		return 0
	}
	return int(d.IntPart())
}

// stringList reads a list of scalars as strings.
func stringList(v any) []string {
	switch val := v.(type) {
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s := integration.AsString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	default:
		return nil
	}
}

// pathStrings collects every scalar reached by a gjson path, flattening
// the nested arrays produced by "#" queries.
func pathStrings(record integration.Record, path string) []string {
	var out []string
	var walk func(r gjson.Result)
	walk = func(r gjson.Result) {
		if r.IsArray() {
			r.ForEach(func(_, item gjson.Result) bool {
				walk(item)
				return true
			})
			return
		}
		if r.Exists() && r.Type != gjson.Null && r.String() != "" {
			out = append(out, r.String())
		}
	}
	walk(record.Path(path))
	return out
}

// flattenCustomAttributes lifts Magento 2 custom attributes to top-level
// keys, so "url_key" or "category_ids" read the same on both versions.
// Existing keys are not overwritten.
func flattenCustomAttributes(record integration.Record) integration.Record {
	for _, attr := range records(record["custom_attributes"]) {
		code := attr.String("attribute_code")
		if code == "" || record.Has(code) {
			continue
		}
		record[code] = attr["value"]
	}
	return record
}

// sortedUnique returns the distinct values in sorted order.
func sortedUnique(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func sameStrings(a, b []string) bool {
	a, b = sortedUnique(a), sortedUnique(b)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
