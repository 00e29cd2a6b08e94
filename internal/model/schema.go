package model

import (
	"fmt"
	"sort"
)

// IndexType is the closed enumeration of declared field types, persisted as
// a short stable tag string.
type IndexType string

const (
	TypeInt     IndexType = "INT"
	TypeBigint  IndexType = "BIGINT"
	TypeDecimal IndexType = "DECIMAL"
	TypeVarchar IndexType = "VARCHAR"
)

// ParseIndexType resolves a persisted tag back to its IndexType.
func ParseIndexType(tag string) (IndexType, error) {
	switch IndexType(tag) {
	case TypeInt, TypeBigint, TypeDecimal, TypeVarchar:
		return IndexType(tag), nil
	default:
		return "", fmt.Errorf("unknown index type tag %q", tag)
	}
}

// Numeric reports whether the type produces a point field.
func (t IndexType) Numeric() bool { return t != TypeVarchar }

// Accepts reports whether a runtime scalar kind satisfies the declared type.
func (t IndexType) Accepts(k ScalarKind) bool {
	switch t {
	case TypeInt, TypeBigint:
		return k == KindInt64
	case TypeDecimal:
		return k == KindFloat64 || k == KindDecimal
	case TypeVarchar:
		return k == KindString
	default:
		return false
	}
}

// IndexTypeOf maps a runtime scalar kind to its declared type.
func IndexTypeOf(k ScalarKind) IndexType {
	switch k {
	case KindInt64:
		return TypeBigint
	case KindString:
		return TypeVarchar
	default:
		return TypeDecimal
	}
}

// FieldClass is the role a schema field plays in a record.
type FieldClass string

const (
	ClassDimension FieldClass = "DIMENSION"
	ClassTag       FieldClass = "TAG"
	ClassValue     FieldClass = "VALUE"
	ClassTimestamp FieldClass = "TIMESTAMP"
)

// SchemaField declares one typed field of a metric.
type SchemaField struct {
	Name  string
	Class FieldClass
	Type  IndexType
}

// Schema is the declared set of typed fields of a metric.
type Schema struct {
	Metric string
	Fields map[string]SchemaField
}

// TimestampField and ValueField are the reserved field names.
const (
	TimestampField = "timestamp"
	ValueField     = "value"
	CountField     = "_count"
)

// NewSchema builds a schema from a field list, keyed by name.
func NewSchema(metric string, fields ...SchemaField) Schema {
	m := make(map[string]SchemaField, len(fields))
	for _, f := range fields {
		m[f.Name] = f
	}
	return Schema{Metric: metric, Fields: m}
}

// Validate checks the schema invariants: unique names are guaranteed by the
// map; exactly one Value field and exactly one Timestamp field must exist.
func (s Schema) Validate() error {
	var values, timestamps int
	for name, f := range s.Fields {
		if name != f.Name {
			return fmt.Errorf("schema %s: field keyed %q declares name %q", s.Metric, name, f.Name)
		}
		switch f.Class {
		case ClassValue:
			values++
		case ClassTimestamp:
			timestamps++
		}
	}
	if values != 1 {
		return fmt.Errorf("schema %s: expected exactly one value field, found %d", s.Metric, values)
	}
	if timestamps != 1 {
		return fmt.Errorf("schema %s: expected exactly one timestamp field, found %d", s.Metric, timestamps)
	}
	return nil
}

// Field returns the declared field with the given name.
func (s Schema) Field(name string) (SchemaField, bool) {
	f, ok := s.Fields[name]
	return f, ok
}

// FieldsOfClass returns the declared fields of a class, sorted by name.
func (s Schema) FieldsOfClass(class FieldClass) []SchemaField {
	var out []SchemaField
	for _, f := range s.Fields {
		if f.Class == class {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ValueType returns the declared type of the value field.
func (s Schema) ValueType() IndexType {
	for _, f := range s.Fields {
		if f.Class == ClassValue {
			return f.Type
		}
	}
	return TypeDecimal
}

// Copy returns a deep copy; registries hand out copies so readers can never
// observe a mutation in flight.
func (s Schema) Copy() Schema {
	m := make(map[string]SchemaField, len(s.Fields))
	for k, v := range s.Fields {
		m[k] = v
	}
	return Schema{Metric: s.Metric, Fields: m}
}

// SchemaFrom derives the candidate schema carried by a single record:
// the reserved timestamp and value fields plus one field per dimension and tag,
// typed by their runtime kinds.
func SchemaFrom(metric string, bit Bit) Schema {
	fields := []SchemaField{
		{Name: TimestampField, Class: ClassTimestamp, Type: TypeBigint},
		{Name: ValueField, Class: ClassValue, Type: IndexTypeOf(bit.Value.Kind())},
	}
	for name, v := range bit.Dimensions {
		fields = append(fields, SchemaField{Name: name, Class: ClassDimension, Type: IndexTypeOf(v.Kind())})
	}
	for name, v := range bit.Tags {
		fields = append(fields, SchemaField{Name: name, Class: ClassTag, Type: IndexTypeOf(v.Kind())})
	}
	return NewSchema(metric, fields...)
}
