package api

import (
	"encoding/json"
	"fmt"

	"github.com/robbenti/nsdb/internal/model"
)

// scalarPayload is the tagged wire form of a scalar, used on the internal
// node-to-node surface where the kind must survive the round trip.
type scalarPayload struct {
	Kind int8    `json:"k" msgpack:"k"`
	I    int64   `json:"i,omitempty" msgpack:"i,omitempty"`
	F    float64 `json:"f,omitempty" msgpack:"f,omitempty"`
	S    string  `json:"s,omitempty" msgpack:"s,omitempty"`
}

func encodeScalar(s model.Scalar) scalarPayload {
	switch s.Kind() {
	case model.KindInt64:
		return scalarPayload{Kind: int8(model.KindInt64), I: s.Int64()}
	case model.KindString:
		return scalarPayload{Kind: int8(model.KindString), S: s.Str()}
	default:
		return scalarPayload{Kind: int8(s.Kind()), F: s.Float64()}
	}
}

func decodeScalar(p scalarPayload) model.Scalar {
	switch model.ScalarKind(p.Kind) {
	case model.KindInt64:
		return model.Int64Scalar(p.I)
	case model.KindFloat64:
		return model.Float64Scalar(p.F)
	case model.KindString:
		return model.StringScalar(p.S)
	default:
		return model.DecimalScalar(p.F)
	}
}

// recordPayload is the wire form of one record.
type recordPayload struct {
	Timestamp  int64                    `json:"timestamp" msgpack:"timestamp"`
	Value      scalarPayload            `json:"value" msgpack:"value"`
	Dimensions map[string]scalarPayload `json:"dimensions" msgpack:"dimensions"`
	Tags       map[string]scalarPayload `json:"tags" msgpack:"tags"`
}

func encodeBit(b model.Bit) recordPayload {
	p := recordPayload{
		Timestamp:  b.Timestamp,
		Value:      encodeScalar(b.Value),
		Dimensions: make(map[string]scalarPayload, len(b.Dimensions)),
		Tags:       make(map[string]scalarPayload, len(b.Tags)),
	}
	for k, v := range b.Dimensions {
		p.Dimensions[k] = encodeScalar(v)
	}
	for k, v := range b.Tags {
		p.Tags[k] = encodeScalar(v)
	}
	return p
}

func decodeBit(p recordPayload) model.Bit {
	b := model.Bit{
		Timestamp:  p.Timestamp,
		Value:      decodeScalar(p.Value),
		Dimensions: make(map[string]model.Scalar, len(p.Dimensions)),
		Tags:       make(map[string]model.Scalar, len(p.Tags)),
	}
	for k, v := range p.Dimensions {
		b.Dimensions[k] = decodeScalar(v)
	}
	for k, v := range p.Tags {
		b.Tags[k] = decodeScalar(v)
	}
	return b
}

func encodeBits(bits []model.Bit) []recordPayload {
	out := make([]recordPayload, len(bits))
	for i, b := range bits {
		out[i] = encodeBit(b)
	}
	return out
}

func decodeBits(payloads []recordPayload) []model.Bit {
	out := make([]model.Bit, len(payloads))
	for i, p := range payloads {
		out[i] = decodeBit(p)
	}
	return out
}

// recordJSON renders a record with native values for the public SQL response.
func recordJSON(b model.Bit) map[string]interface{} {
	dims := make(map[string]interface{}, len(b.Dimensions))
	for k, v := range b.Dimensions {
		dims[k] = v.Native()
	}
	tags := make(map[string]interface{}, len(b.Tags))
	for k, v := range b.Tags {
		tags[k] = v.Native()
	}
	return map[string]interface{}{
		"timestamp":  b.Timestamp,
		"value":      b.Value.Native(),
		"dimensions": dims,
		"tags":       tags,
	}
}

// toScalar normalises a decoded public write value. JSON numbers arrive as
// json.Number so integral values keep their integer kind.
func toScalar(v interface{}) (model.Scalar, error) {
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return model.Int64Scalar(i), nil
		}
		f, err := n.Float64()
		if err != nil {
			return model.Scalar{}, fmt.Errorf("invalid number %q", n.String())
		}
		return model.DecimalScalar(f), nil
	}
	return model.ScalarFrom(v)
}

func toScalarMap(src map[string]interface{}) (map[string]model.Scalar, error) {
	out := make(map[string]model.Scalar, len(src))
	for k, v := range src {
		s, err := toScalar(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = s
	}
	return out, nil
}
