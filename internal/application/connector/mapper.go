package connector

import (
	"context"
	"fmt"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
)

// Converter coerces one source value.
type Converter func(v any) (any, error)

// Direct copies a source key to a destination key, optionally converting it.
type Direct struct {
	From    string
	To      string
	Convert Converter
}

// Field is a plain rename.
func Field(from, to string) Direct {
	return Direct{From: from, To: to}
}

// FieldWith is a rename with a conversion.
func FieldWith(from, to string, convert Converter) Direct {
	return Direct{From: from, To: to, Convert: convert}
}

// RuleFunc produces part of the output from the full source record. binding
// is the existing binding, nil on first materialization.
type RuleFunc func(ctx context.Context, w *Work, record integration.Record, binding *integration.Binding) (integration.Record, error)

// Rule is a named mapping step.
type Rule struct {
	Name string
	// OnlyCreate rules run only when no binding exists yet
	OnlyCreate bool
	// ChangedBy lists the source fields this rule reads; with a field
	// filter the rule only runs if one of them is requested
	ChangedBy []string
	Apply     RuleFunc
}

// Mapping declares a rule applied on create and update.
func Mapping(name string, fn RuleFunc, changedBy ...string) Rule {
	return Rule{Name: name, Apply: fn, ChangedBy: changedBy}
}

// OnlyCreate declares a rule applied on first materialization only.
func OnlyCreate(name string, fn RuleFunc) Rule {
	return Rule{Name: name, Apply: fn, OnlyCreate: true}
}

// Mapper transforms a record of one shape into field values of another.
// Direct renames run first, then rules in declaration order; a later write to
// the same destination key wins.
type Mapper struct {
	Direct []Direct
	Rules  []Rule
}

// MapRecord prepares the mapping of one source record.
func (m *Mapper) MapRecord(w *Work, source integration.Record) *MapRecord {
	if source == nil {
		source = integration.Record{}
	}
	return &MapRecord{
		work:   w,
		mapper: m,
		source: source,
		extra:  integration.Record{},
	}
}

// MapOptions tunes MapRecord.Values.
type MapOptions struct {
	ForCreate bool
	Binding   *integration.Binding
	// Fields restricts the mapping to the given source fields
	Fields []string
}

// MapRecord is the request-scoped result of a mapping.
type MapRecord struct {
	work       *Work
	mapper     *Mapper
	source     integration.Record
	extra      integration.Record
	provenance map[string]string
}

// Source returns the record being mapped.
func (r *MapRecord) Source() integration.Record {
	return r.source
}

// Update adds values on top of the mapped output.
func (r *MapRecord) Update(values integration.Record) {
	r.extra.Merge(values)
}

// Values computes the output. A failing rule aborts the whole mapping.
func (r *MapRecord) Values(ctx context.Context, opts MapOptions) (integration.Record, error) {
	out := integration.Record{}
	provenance := make(map[string]string)
	requested := make(map[string]bool, len(opts.Fields))
	for _, f := range opts.Fields {
		requested[f] = true
	}

	for _, d := range r.mapper.Direct {
		if len(requested) > 0 && !requested[d.From] {
			continue
		}
		v, ok := r.source[d.From]
		if !ok {
			continue
		}
		if d.Convert != nil {
			converted, err := d.Convert(v)
			if err != nil {
				return nil, fmt.Errorf("mapping %s -> %s: %w", d.From, d.To, err)
			}
			v = converted
		}
		out[d.To] = v
		provenance[d.To] = "direct:" + d.From
	}

	for _, rule := range r.mapper.Rules {
		if rule.OnlyCreate && !opts.ForCreate {
			continue
		}
		if len(requested) > 0 && len(rule.ChangedBy) > 0 && !anyRequested(requested, rule.ChangedBy) {
			continue
		}
		values, err := rule.Apply(ctx, r.work, r.source, opts.Binding)
		if err != nil {
			return nil, fmt.Errorf("mapping rule %s: %w", rule.Name, err)
		}
		for k, v := range values {
			out[k] = v
			provenance[k] = rule.Name
		}
	}

	for k, v := range r.extra {
		out[k] = v
		provenance[k] = "update"
	}

	r.provenance = provenance
	return out, nil
}

// Provenance maps each output key to the rule that last wrote it. It is
// filled by Values.
func (r *MapRecord) Provenance() map[string]string {
	return r.provenance
}

func anyRequested(requested map[string]bool, fields []string) bool {
	for _, f := range fields {
		if requested[f] {
			return true
		}
	}
	return false
}
