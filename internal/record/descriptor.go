package record

import "fmt"

// Descriptor declares the shape of one record kind: an ordered list of
// typed fields plus the group tag it was registered under (spec §3.1's
// "record group", used by the registry to expand group subscriptions).
type Descriptor struct {
	Kind   string
	Group  string
	Fields []FieldSpec
}

// NewDescriptor builds a Descriptor, preserving field declaration order.
func NewDescriptor(kind, group string, fields ...FieldSpec) Descriptor {
	return Descriptor{Kind: kind, Group: group, Fields: fields}
}

// Validate applies defaults and checks the supplied field values against the
// descriptor, returning a normalized copy. It rejects unknown fields and
// missing required fields with no default.
func (d Descriptor) Validate(values map[string]interface{}) (map[string]interface{}, error) {
	known := make(map[string]FieldSpec, len(d.Fields))
	for _, f := range d.Fields {
		known[f.Name] = f
	}
	for name := range values {
		if _, ok := known[name]; !ok {
			return nil, fmt.Errorf("record kind %q: unknown field %q", d.Kind, name)
		}
	}

	out := make(map[string]interface{}, len(d.Fields))
	for _, spec := range d.Fields {
		v, present := values[spec.Name]
		if !present {
			if spec.Default != nil {
				out[spec.Name] = spec.Default
				continue
			}
			if spec.Required {
				return nil, fmt.Errorf("record kind %q: missing required field %q", d.Kind, spec.Name)
			}
			continue
		}
		if err := checkValue(spec, v); err != nil {
			return nil, fmt.Errorf("record kind %q: %w", d.Kind, err)
		}
		out[spec.Name] = v
	}
	return out, nil
}
