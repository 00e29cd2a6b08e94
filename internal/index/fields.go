package index

import (
	"github.com/robbenti/nsdb/internal/model"
)

// Validate checks a record against its metric's schema. A field whose runtime
// kind mismatches the declared index type fails with a SchemaViolation.
// Unknown fields pass (they trigger schema evolution upstream); absent
// non-reserved fields pass (sparse rows).
func Validate(schema model.Schema, bit model.Bit) error {
	if f, ok := schema.Field(model.ValueField); ok {
		if !f.Type.Accepts(bit.Value.Kind()) {
			return &model.SchemaViolation{Field: model.ValueField, Expected: f.Type, Found: bit.Value.Kind()}
		}
	}
	for name, v := range bit.Dimensions {
		if f, ok := schema.Field(name); ok && !f.Type.Accepts(v.Kind()) {
			return &model.SchemaViolation{Field: name, Expected: f.Type, Found: v.Kind()}
		}
	}
	for name, v := range bit.Tags {
		if f, ok := schema.Field(name); ok && !f.Type.Accepts(v.Kind()) {
			return &model.SchemaViolation{Field: name, Expected: f.Type, Found: v.Kind()}
		}
	}
	return nil
}

// buildDocument materialises the index fields of a record. The timestamp
// becomes a stored point field, the value a typed point+stored field, and each
// dimension/tag a term field (VARCHAR) or point field (numerics), all stored
// for reconstruction.
func buildDocument(bit model.Bit) map[string]interface{} {
	doc := make(map[string]interface{}, 2+len(bit.Dimensions)+len(bit.Tags))
	doc[model.TimestampField] = bit.Timestamp
	doc[model.ValueField] = bit.Value.Native()
	for name, v := range bit.Dimensions {
		doc[name] = v.Native()
	}
	for name, v := range bit.Tags {
		doc[name] = v.Native()
	}
	return doc
}

// scalarFromStored rebuilds a typed scalar from a stored field value,
// which bleve hands back as float64 for numerics and string for text.
func scalarFromStored(t model.IndexType, v interface{}) (model.Scalar, bool) {
	switch t {
	case model.TypeInt, model.TypeBigint:
		f, ok := v.(float64)
		if !ok {
			return model.Scalar{}, false
		}
		return model.Int64Scalar(int64(f)), true
	case model.TypeDecimal:
		f, ok := v.(float64)
		if !ok {
			return model.Scalar{}, false
		}
		return model.DecimalScalar(f), true
	default:
		s, ok := v.(string)
		if !ok {
			return model.Scalar{}, false
		}
		return model.StringScalar(s), true
	}
}
