// Package codec performs the bidirectional coercion between loosely typed
// AAS (JSON/XSD) values and OPC UA Variant-native Go types, following the
// OPC 30270 (I4AAS) conventions of spec §4.1. It is deliberately free of
// any OPC UA or AAS transport dependency: callers extract the native Go
// value out of a ua.Variant (or out of json.Unmarshal) and hand it here; a
// tagged-union dispatch over model.ValueType (per the DESIGN NOTES'
// "polymorphism over variant families" guidance) does the rest.
package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/industrial-twin/opcua-aas-bridge/internal/model"
)

// intRange is the XSD-intrinsic inclusive bound for an integer ValueType.
type intRange struct {
	min, max int64
	unsigned bool
	umax     uint64
}

var intRanges = map[model.ValueType]intRange{
	model.Byte:          {min: -128, max: 127},
	model.UnsignedByte:  {unsigned: true, umax: 255},
	model.Short:         {min: math.MinInt16, max: math.MaxInt16},
	model.UnsignedShort: {unsigned: true, umax: math.MaxUint16},
	model.Int:           {min: math.MinInt32, max: math.MaxInt32},
	model.UnsignedInt:   {unsigned: true, umax: math.MaxUint32},
	model.Long:          {min: math.MinInt64, max: math.MaxInt64},
	model.UnsignedLong:  {unsigned: true, umax: math.MaxUint64},
}

// IntrinsicRange reports the XSD-intrinsic min/max for an integer
// ValueType as float64, for display/validation purposes. Panics if vt is
// not an integer type; callers must check first.
func IntrinsicRange(vt model.ValueType) (min, max float64) {
	r, ok := intRanges[vt]
	if !ok {
		panic(fmt.Sprintf("codec: %s has no intrinsic integer range", vt))
	}
	if r.unsigned {
		return 0, float64(r.umax)
	}
	return float64(r.min), float64(r.max)
}

func isIntegerType(vt model.ValueType) bool {
	_, ok := intRanges[vt]
	return ok
}

// Encode coerces a loosely-typed AAS-side value (as produced by
// json.Unmarshal into interface{}, or a plain Go bool/string/time.Time) to
// the exact native Go representation of vt, applying the declared range
// (if any) on top of the XSD-intrinsic range. The result is ready to be
// wrapped in an OPC UA Variant by the caller.
func Encode(v interface{}, vt model.ValueType, rng *model.Range, nullable bool) (interface{}, error) {
	if v == nil {
		if nullable {
			return nil, nil
		}
		return nil, model.NewBridgeError(model.KindNullError, "encode", fmt.Errorf("value for %s is null", vt))
	}

	switch vt {
	case model.Boolean:
		return encodeBool(v)
	case model.Byte, model.UnsignedByte, model.Short, model.UnsignedShort,
		model.Int, model.UnsignedInt, model.Long, model.UnsignedLong:
		return encodeInteger(v, vt, rng)
	case model.Float:
		return encodeFloat(v, rng, 32)
	case model.Double:
		return encodeFloat(v, rng, 64)
	case model.String:
		return encodeString(v)
	case model.DateTime:
		return encodeDateTime(v)
	case model.Duration:
		return encodeDuration(v)
	case model.Base64Binary:
		return encodeBinary(v)
	default:
		return nil, model.NewBridgeError(model.KindTypeError, "encode", fmt.Errorf("unsupported value type %s", vt))
	}
}

// EncodeArray applies Encode element-wise, preserving length (empty arrays
// allowed).
func EncodeArray(v interface{}, vt model.ValueType, rng *model.Range, nullable bool) ([]interface{}, error) {
	arr, ok := v.([]interface{})
	if !ok {
		return nil, model.NewBridgeError(model.KindTypeError, "encode_array", fmt.Errorf("expected array, got %T", v))
	}
	out := make([]interface{}, len(arr))
	for i, elem := range arr {
		coerced, err := Encode(elem, vt, rng, nullable)
		if err != nil {
			return nil, err
		}
		out[i] = coerced
	}
	return out, nil
}

// Decode coerces a native Go value extracted from an OPC UA Variant to the
// exact representation of vt, applying range validation. The output uses
// the same native representations Encode produces, so hashing either
// direction is consistent.
func Decode(v interface{}, vt model.ValueType, rng *model.Range, nullable bool) (interface{}, error) {
	if v == nil {
		if nullable {
			return nil, nil
		}
		return nil, model.NewBridgeError(model.KindNullError, "decode", fmt.Errorf("value for %s is null", vt))
	}

	switch vt {
	case model.Boolean:
		return encodeBool(v)
	case model.Byte, model.UnsignedByte, model.Short, model.UnsignedShort,
		model.Int, model.UnsignedInt, model.Long, model.UnsignedLong:
		return encodeInteger(v, vt, rng)
	case model.Float:
		return encodeFloat(v, rng, 32)
	case model.Double:
		return encodeFloat(v, rng, 64)
	case model.String:
		return encodeString(v)
	case model.DateTime:
		return encodeDateTime(v)
	case model.Duration:
		return encodeDuration(v)
	case model.Base64Binary:
		return encodeBinary(v)
	default:
		return nil, model.NewBridgeError(model.KindTypeError, "decode", fmt.Errorf("unsupported value type %s", vt))
	}
}

// DecodeArray applies Decode element-wise, preserving length.
func DecodeArray(v interface{}, vt model.ValueType, rng *model.Range, nullable bool) ([]interface{}, error) {
	arr, ok := v.([]interface{})
	if !ok {
		return nil, model.NewBridgeError(model.KindTypeError, "decode_array", fmt.Errorf("expected array, got %T", v))
	}
	out := make([]interface{}, len(arr))
	for i, elem := range arr {
		coerced, err := Decode(elem, vt, rng, nullable)
		if err != nil {
			return nil, err
		}
		out[i] = coerced
	}
	return out, nil
}

func encodeBool(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case int:
		return intToBool(int64(val))
	case int64:
		return intToBool(val)
	case float64:
		if val == math.Trunc(val) {
			return intToBool(int64(val))
		}
	}
	return nil, model.NewBridgeError(model.KindTypeError, "encode_bool", fmt.Errorf("cannot coerce %T(%v) to xs:boolean", v, v))
}

func intToBool(n int64) (bool, error) {
	switch n {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, model.NewBridgeError(model.KindTypeError, "encode_bool", fmt.Errorf("integer %d has no boolean equivalent", n))
	}
}

// asInt64 extracts an exact integer from common JSON/OPC native
// representations. Float64 values must be integral.
func asInt64(v interface{}) (int64, bool, error) {
	switch val := v.(type) {
	case bool:
		if val {
			return 1, false, nil
		}
		return 0, false, nil
	case int:
		return int64(val), false, nil
	case int8:
		return int64(val), false, nil
	case int16:
		return int64(val), false, nil
	case int32:
		return int64(val), false, nil
	case int64:
		return val, false, nil
	case uint:
		return int64(val), val > math.MaxInt64, nil
	case uint8:
		return int64(val), false, nil
	case uint16:
		return int64(val), false, nil
	case uint32:
		return int64(val), false, nil
	case uint64:
		return int64(val), val > math.MaxInt64, nil
	case float64:
		if val != math.Trunc(val) {
			return 0, false, fmt.Errorf("non-integral value %v", val)
		}
		return int64(val), val > math.MaxInt64 || val < math.MinInt64, nil
	case float32:
		f := float64(val)
		if f != math.Trunc(f) {
			return 0, false, fmt.Errorf("non-integral value %v", val)
		}
		return int64(f), false, nil
	case string:
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			// May be a uint64 that overflows int64 (encoded as string per §4.3).
			u, uerr := strconv.ParseUint(val, 10, 64)
			if uerr != nil {
				return 0, false, err
			}
			return int64(u), u > math.MaxInt64, nil
		}
		return n, false, nil
	default:
		return 0, false, fmt.Errorf("unsupported numeric representation %T", v)
	}
}

func encodeInteger(v interface{}, vt model.ValueType, rng *model.Range) (interface{}, error) {
	n, overflowsInt64, err := asInt64(v)
	if err != nil {
		return nil, model.NewBridgeError(model.KindTypeError, "encode_integer", err)
	}

	ir := intRanges[vt]
	if ir.unsigned {
		var u uint64
		if overflowsInt64 {
			// Recover the true uint64 magnitude for values that don't fit
			// in int64 (e.g. xs:unsignedLong near 2^64-1 encoded as string).
			switch val := v.(type) {
			case uint64:
				u = val
			case string:
				u, _ = strconv.ParseUint(val, 10, 64)
			default:
				return nil, model.NewBridgeError(model.KindRangeError, "encode_integer", fmt.Errorf("value overflows %s", vt))
			}
		} else {
			if n < 0 {
				return nil, model.NewBridgeError(model.KindRangeError, "encode_integer", fmt.Errorf("negative value %d for unsigned type %s", n, vt))
			}
			u = uint64(n)
		}
		if u > ir.umax {
			return nil, model.NewBridgeError(model.KindRangeError, "encode_integer", fmt.Errorf("%d exceeds intrinsic max %d for %s", u, ir.umax, vt))
		}
		if err := checkRangeUint(u, rng); err != nil {
			return nil, err
		}
		return castUnsigned(u, vt), nil
	}

	if overflowsInt64 {
		return nil, model.NewBridgeError(model.KindRangeError, "encode_integer", fmt.Errorf("value overflows %s", vt))
	}
	if n < ir.min || n > ir.max {
		return nil, model.NewBridgeError(model.KindRangeError, "encode_integer", fmt.Errorf("%d outside intrinsic range [%d,%d] for %s", n, ir.min, ir.max, vt))
	}
	if err := checkRangeInt(n, rng); err != nil {
		return nil, err
	}
	return castSigned(n, vt), nil
}

func checkRangeInt(n int64, rng *model.Range) error {
	if rng == nil {
		return nil
	}
	f := float64(n)
	if f < rng.Min || f > rng.Max {
		return model.NewBridgeError(model.KindRangeError, "range_check", fmt.Errorf("%d outside configured range [%v,%v]", n, rng.Min, rng.Max))
	}
	return nil
}

func checkRangeUint(u uint64, rng *model.Range) error {
	if rng == nil {
		return nil
	}
	f := float64(u)
	if f < rng.Min || f > rng.Max {
		return model.NewBridgeError(model.KindRangeError, "range_check", fmt.Errorf("%d outside configured range [%v,%v]", u, rng.Min, rng.Max))
	}
	return nil
}

func castSigned(n int64, vt model.ValueType) interface{} {
	switch vt {
	case model.Byte:
		return int8(n)
	case model.Short:
		return int16(n)
	case model.Int:
		return int32(n)
	case model.Long:
		return n
	default:
		return n
	}
}

func castUnsigned(u uint64, vt model.ValueType) interface{} {
	switch vt {
	case model.UnsignedByte:
		return uint8(u)
	case model.UnsignedShort:
		return uint16(u)
	case model.UnsignedInt:
		return uint32(u)
	case model.UnsignedLong:
		return u
	default:
		return u
	}
}

func asFloat64(v interface{}) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int32:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case string:
		switch val {
		case "NaN":
			return math.NaN(), nil
		case "Infinity", "+Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, err
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unsupported numeric representation %T", v)
	}
}

func encodeFloat(v interface{}, rng *model.Range, bits int) (interface{}, error) {
	f, err := asFloat64(v)
	if err != nil {
		return nil, model.NewBridgeError(model.KindTypeError, "encode_float", err)
	}

	if bits == 32 {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			// Non-finite values are representable as float32 NaN/Inf; only
			// reject when the magnitude would overflow a finite float32.
			return float32(f), nil
		}
		if math.Abs(f) > math.MaxFloat32 {
			return nil, model.NewBridgeError(model.KindRangeError, "encode_float", fmt.Errorf("%v overflows xs:float", f))
		}
		if rng != nil && (f < rng.Min || f > rng.Max) {
			return nil, model.NewBridgeError(model.KindRangeError, "range_check", fmt.Errorf("%v outside configured range [%v,%v]", f, rng.Min, rng.Max))
		}
		return float32(f), nil
	}

	if rng != nil && !math.IsNaN(f) && !math.IsInf(f, 0) && (f < rng.Min || f > rng.Max) {
		return nil, model.NewBridgeError(model.KindRangeError, "range_check", fmt.Errorf("%v outside configured range [%v,%v]", f, rng.Min, rng.Max))
	}
	return f, nil
}

func encodeString(v interface{}) (interface{}, error) {
	s, ok := v.(string)
	if !ok {
		return nil, model.NewBridgeError(model.KindTypeError, "encode_string", fmt.Errorf("cannot coerce %T to xs:string", v))
	}
	return s, nil
}

const opcuaEpochYear = 1601

func encodeDateTime(v interface{}) (interface{}, error) {
	var t time.Time
	switch val := v.(type) {
	case time.Time:
		t = val
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, val)
		if err != nil {
			return nil, model.NewBridgeError(model.KindTypeError, "encode_datetime", err)
		}
		t = parsed
	default:
		return nil, model.NewBridgeError(model.KindTypeError, "encode_datetime", fmt.Errorf("cannot coerce %T to xs:dateTime", v))
	}
	t = t.UTC()
	if t.Year() < opcuaEpochYear || t.Year() > 9999 {
		return nil, model.NewBridgeError(model.KindRangeError, "encode_datetime", fmt.Errorf("%v outside representable OPC UA DateTime range", t))
	}
	return t, nil
}

func encodeDuration(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case time.Duration:
		return val, nil
	case string:
		d, err := ParseISODuration(val)
		if err != nil {
			return nil, model.NewBridgeError(model.KindTypeError, "encode_duration", err)
		}
		return d, nil
	case float64:
		// OPC UA Duration is milliseconds as Double; fractional ms preserved.
		return time.Duration(val * float64(time.Millisecond)), nil
	default:
		return nil, model.NewBridgeError(model.KindTypeError, "encode_duration", fmt.Errorf("cannot coerce %T to xs:duration", v))
	}
}

func encodeBinary(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case []byte:
		return val, nil
	case string:
		return DecodeBase64(val)
	default:
		return nil, model.NewBridgeError(model.KindTypeError, "encode_binary", fmt.Errorf("cannot coerce %T to xs:base64Binary", v))
	}
}

// Hash produces a stable, type-tagged canonical byte serialization of a
// decoded/encoded value, used by the Loop-Suppression Cache key. Equal
// values (by the coercion rules above) always hash equal regardless of
// which direction produced them.
func Hash(v interface{}) []byte {
	switch val := v.(type) {
	case nil:
		return []byte{0x00}
	case bool:
		if val {
			return []byte{0x01, 0x01}
		}
		return []byte{0x01, 0x00}
	case int8:
		return tagInt(0x10, int64(val))
	case uint8:
		return tagUint(0x11, uint64(val))
	case int16:
		return tagInt(0x12, int64(val))
	case uint16:
		return tagUint(0x13, uint64(val))
	case int32:
		return tagInt(0x14, int64(val))
	case uint32:
		return tagUint(0x15, uint64(val))
	case int64:
		return tagInt(0x16, val)
	case uint64:
		return tagUint(0x17, val)
	case float32:
		return tagBits(0x20, uint64(math.Float32bits(val)), 4)
	case float64:
		return tagBits(0x21, math.Float64bits(val), 8)
	case string:
		return append([]byte{0x30}, []byte(val)...)
	case time.Time:
		buf := make([]byte, 9)
		buf[0] = 0x40
		binary.BigEndian.PutUint64(buf[1:], uint64(val.UTC().UnixNano()))
		return buf
	case time.Duration:
		buf := make([]byte, 9)
		buf[0] = 0x41
		binary.BigEndian.PutUint64(buf[1:], uint64(val))
		return buf
	case []byte:
		return append([]byte{0x50}, val...)
	case []interface{}:
		out := []byte{0x60}
		lenBuf := make([]byte, 4)
		binary.BigEndian.PutUint32(lenBuf, uint32(len(val)))
		out = append(out, lenBuf...)
		for _, elem := range val {
			h := Hash(elem)
			elemLen := make([]byte, 4)
			binary.BigEndian.PutUint32(elemLen, uint32(len(h)))
			out = append(out, elemLen...)
			out = append(out, h...)
		}
		return out
	default:
		return append([]byte{0xFF}, []byte(fmt.Sprintf("%v", val))...)
	}
}

func tagInt(tag byte, n int64) []byte {
	buf := make([]byte, 9)
	buf[0] = tag
	binary.BigEndian.PutUint64(buf[1:], uint64(n))
	return buf
}

func tagUint(tag byte, n uint64) []byte {
	buf := make([]byte, 9)
	buf[0] = tag
	binary.BigEndian.PutUint64(buf[1:], n)
	return buf
}

func tagBits(tag byte, bits uint64, width int) []byte {
	buf := make([]byte, 1+width)
	buf[0] = tag
	switch width {
	case 4:
		binary.BigEndian.PutUint32(buf[1:], uint32(bits))
	case 8:
		binary.BigEndian.PutUint64(buf[1:], bits)
	}
	return buf
}
