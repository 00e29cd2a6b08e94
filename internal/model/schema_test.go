package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexTypeAccepts(t *testing.T) {
	assert.True(t, TypeBigint.Accepts(KindInt64))
	assert.True(t, TypeInt.Accepts(KindInt64))
	assert.False(t, TypeBigint.Accepts(KindString))
	assert.True(t, TypeDecimal.Accepts(KindFloat64))
	assert.True(t, TypeDecimal.Accepts(KindDecimal))
	assert.False(t, TypeDecimal.Accepts(KindInt64))
	assert.True(t, TypeVarchar.Accepts(KindString))
}

func TestParseIndexType(t *testing.T) {
	tt, err := ParseIndexType("VARCHAR")
	require.NoError(t, err)
	assert.Equal(t, TypeVarchar, tt)

	_, err = ParseIndexType("BLOB")
	assert.Error(t, err)
}

func TestSchemaValidate(t *testing.T) {
	valid := NewSchema("people",
		SchemaField{Name: TimestampField, Class: ClassTimestamp, Type: TypeBigint},
		SchemaField{Name: ValueField, Class: ClassValue, Type: TypeBigint},
		SchemaField{Name: "name", Class: ClassTag, Type: TypeVarchar},
	)
	require.NoError(t, valid.Validate())

	noValue := NewSchema("people",
		SchemaField{Name: TimestampField, Class: ClassTimestamp, Type: TypeBigint},
	)
	assert.Error(t, noValue.Validate())

	twoValues := NewSchema("people",
		SchemaField{Name: TimestampField, Class: ClassTimestamp, Type: TypeBigint},
		SchemaField{Name: ValueField, Class: ClassValue, Type: TypeBigint},
		SchemaField{Name: "other", Class: ClassValue, Type: TypeBigint},
	)
	assert.Error(t, twoValues.Validate())
}

func TestSchemaFrom(t *testing.T) {
	bit := Bit{
		Timestamp: 10,
		Value:     Int64Scalar(1),
		Dimensions: map[string]Scalar{
			"creationDate": Int64Scalar(123),
		},
		Tags: map[string]Scalar{
			"name":    StringScalar("John"),
			"surname": StringScalar("Doe"),
		},
	}
	s := SchemaFrom("people", bit)
	require.NoError(t, s.Validate())

	f, ok := s.Field("name")
	require.True(t, ok)
	assert.Equal(t, ClassTag, f.Class)
	assert.Equal(t, TypeVarchar, f.Type)

	f, ok = s.Field("creationDate")
	require.True(t, ok)
	assert.Equal(t, ClassDimension, f.Class)
	assert.Equal(t, TypeBigint, f.Type)

	f, ok = s.Field(ValueField)
	require.True(t, ok)
	assert.Equal(t, TypeBigint, f.Type)
}

func TestSchemaCopyIsolation(t *testing.T) {
	s := NewSchema("m",
		SchemaField{Name: TimestampField, Class: ClassTimestamp, Type: TypeBigint},
		SchemaField{Name: ValueField, Class: ClassValue, Type: TypeBigint},
	)
	c := s.Copy()
	c.Fields["extra"] = SchemaField{Name: "extra", Class: ClassDimension, Type: TypeVarchar}

	_, ok := s.Field("extra")
	assert.False(t, ok)
}

func TestFieldsOfClassSorted(t *testing.T) {
	s := NewSchema("m",
		SchemaField{Name: TimestampField, Class: ClassTimestamp, Type: TypeBigint},
		SchemaField{Name: ValueField, Class: ClassValue, Type: TypeBigint},
		SchemaField{Name: "b", Class: ClassDimension, Type: TypeVarchar},
		SchemaField{Name: "a", Class: ClassDimension, Type: TypeVarchar},
	)
	dims := s.FieldsOfClass(ClassDimension)
	require.Len(t, dims, 2)
	assert.Equal(t, "a", dims[0].Name)
	assert.Equal(t, "b", dims[1].Name)
}
