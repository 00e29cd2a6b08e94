package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScalarKinds(t *testing.T) {
	assert.Equal(t, KindInt64, Int64Scalar(42).Kind())
	assert.Equal(t, KindFloat64, Float64Scalar(1.5).Kind())
	assert.Equal(t, KindDecimal, DecimalScalar(1.5).Kind())
	assert.Equal(t, KindString, StringScalar("x").Kind())

	assert.Equal(t, int64(42), Int64Scalar(42).Int64())
	assert.Equal(t, 42.0, Int64Scalar(42).Float64())
	assert.Equal(t, "x", StringScalar("x").Str())
}

func TestScalarString(t *testing.T) {
	assert.Equal(t, "42", Int64Scalar(42).String())
	assert.Equal(t, "-7", Int64Scalar(-7).String())
	assert.Equal(t, "1.5", DecimalScalar(1.5).String())
	assert.Equal(t, "abc", StringScalar("abc").String())
}

func TestScalarCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b Scalar
		want int
	}{
		{"int less", Int64Scalar(1), Int64Scalar(2), -1},
		{"int greater", Int64Scalar(3), Int64Scalar(2), 1},
		{"int equal", Int64Scalar(2), Int64Scalar(2), 0},
		{"int vs decimal", Int64Scalar(2), DecimalScalar(2.5), -1},
		{"string order", StringScalar("Bill"), StringScalar("John"), -1},
		{"numeric before string", Int64Scalar(9), StringScalar("a"), -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Compare(tt.b))
		})
	}
}

func TestScalarEqual(t *testing.T) {
	assert.True(t, Int64Scalar(5).Equal(Int64Scalar(5)))
	assert.False(t, Int64Scalar(5).Equal(DecimalScalar(5)))
	assert.True(t, StringScalar("Doe").Equal(StringScalar("Doe")))
}

func TestScalarFrom(t *testing.T) {
	s, err := ScalarFrom(int32(7))
	require.NoError(t, err)
	assert.Equal(t, Int64Scalar(7), s)

	s, err = ScalarFrom(2.5)
	require.NoError(t, err)
	assert.Equal(t, KindDecimal, s.Kind())
	assert.Equal(t, 2.5, s.Float64())

	s, err = ScalarFrom("Doe")
	require.NoError(t, err)
	assert.Equal(t, StringScalar("Doe"), s)

	_, err = ScalarFrom([]byte("nope"))
	assert.Error(t, err)

	_, err = ScalarFrom(uint64(1) << 63)
	assert.Error(t, err)
}
