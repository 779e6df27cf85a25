// Package record implements the schema-bearing record model (spec §3.1):
// typed field descriptors, and the Record value itself with its
// system-populated attributes and bidirectional provenance edges.
//
// Field descriptors are a plain data registry rather than the source
// system's field-descriptor metaclasses (spec §9 design note) — a kind's
// shape is declared once as a Descriptor, and every Record of that kind is
// validated against it at construction time.
package record

import "fmt"

// FieldType enumerates the field types spec §3.1 requires.
type FieldType int

const (
	TypeString FieldType = iota
	TypeBool
	TypeBytes
	TypeInt
	TypeFloat
	TypeDict
	TypeList
	TypeStrOrBytes
	TypeNumeric // int-or-float
)

func (t FieldType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeBool:
		return "bool"
	case TypeBytes:
		return "bytes"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeDict:
		return "dict"
	case TypeList:
		return "list"
	case TypeStrOrBytes:
		return "str-or-bytes"
	case TypeNumeric:
		return "numeric"
	default:
		return "unknown"
	}
}

// FieldSpec declares one field of a record kind.
type FieldSpec struct {
	Name     string
	Type     FieldType
	ElemType *FieldType // only meaningful when Type == TypeList; nil means unconstrained
	Required bool
	Default  interface{}
	Allowed  []interface{} // empty means unconstrained
}

// checkScalar reports whether v satisfies FieldType t (TypeList excluded;
// lists are checked element-wise by checkValue).
func checkScalar(t FieldType, v interface{}) bool {
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBool:
		_, ok := v.(bool)
		return ok
	case TypeBytes:
		_, ok := v.([]byte)
		return ok
	case TypeInt:
		switch v.(type) {
		case int, int32, int64:
			return true
		}
		return false
	case TypeFloat:
		switch v.(type) {
		case float32, float64:
			return true
		}
		return false
	case TypeNumeric:
		switch v.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case TypeDict:
		_, ok := v.(map[string]interface{})
		return ok
	case TypeStrOrBytes:
		switch v.(type) {
		case string, []byte:
			return true
		}
		return false
	default:
		return false
	}
}

// checkValue validates a single field's value against its spec, including
// element-wise enforcement for typed lists.
func checkValue(spec FieldSpec, v interface{}) error {
	if spec.Type == TypeList {
		items, ok := v.([]interface{})
		if !ok {
			return fmt.Errorf("field %q: expected list, got %T", spec.Name, v)
		}
		if spec.ElemType != nil {
			for i, item := range items {
				if !checkScalar(*spec.ElemType, item) {
					return fmt.Errorf("field %q: element %d is not %s", spec.Name, i, spec.ElemType.String())
				}
			}
		}
		return nil
	}
	if !checkScalar(spec.Type, v) {
		return fmt.Errorf("field %q: expected %s, got %T", spec.Name, spec.Type.String(), v)
	}
	if len(spec.Allowed) > 0 {
		for _, allowed := range spec.Allowed {
			if allowed == v {
				return nil
			}
		}
		return fmt.Errorf("field %q: value %v not in allowed set %v", spec.Name, v, spec.Allowed)
	}
	return nil
}
