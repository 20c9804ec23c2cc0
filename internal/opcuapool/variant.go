package opcuapool

import (
	"fmt"
	"time"

	"github.com/gopcua/opcua/ua"

	"github.com/industrial-twin/opcua-aas-bridge/internal/model"
)

// NativeValue unwraps an ua.Variant into the plain Go type the codec
// package expects as input to Decode.
func NativeValue(v *ua.Variant) interface{} {
	if v == nil {
		return nil
	}
	switch v.Type() {
	case ua.TypeIDBoolean:
		return v.Bool()
	case ua.TypeIDSByte:
		return int8(v.Int())
	case ua.TypeIDByte:
		return uint8(v.Uint())
	case ua.TypeIDInt16:
		return int16(v.Int())
	case ua.TypeIDUint16:
		return uint16(v.Uint())
	case ua.TypeIDInt32:
		return int32(v.Int())
	case ua.TypeIDUint32:
		return uint32(v.Uint())
	case ua.TypeIDInt64:
		return v.Int()
	case ua.TypeIDUint64:
		return v.Uint()
	case ua.TypeIDFloat:
		return float32(v.Float())
	case ua.TypeIDDouble:
		return v.Float()
	case ua.TypeIDString:
		return v.String()
	case ua.TypeIDDateTime:
		return v.Time()
	default:
		return v.Value()
	}
}

// ToVariant wraps a codec-decoded native Go value (already coerced to the
// mapping's ValueType) into an ua.Variant suitable for a WriteValue.
func ToVariant(value interface{}, vt model.ValueType) (*ua.Variant, error) {
	switch vt {
	case model.Boolean, model.Byte, model.UnsignedByte, model.Short, model.UnsignedShort,
		model.Int, model.UnsignedInt, model.Long, model.UnsignedLong,
		model.Float, model.Double, model.String:
		variant, err := ua.NewVariant(value)
		if err != nil {
			return nil, model.NewBridgeError(model.KindTypeError, "opcuapool.ToVariant", err)
		}
		return variant, nil
	case model.DateTime:
		variant, err := ua.NewVariant(value)
		if err != nil {
			return nil, model.NewBridgeError(model.KindTypeError, "opcuapool.ToVariant", err)
		}
		return variant, nil
	case model.Duration:
		d, ok := value.(time.Duration)
		if !ok {
			return nil, model.NewBridgeError(model.KindTypeError, "opcuapool.ToVariant", fmt.Errorf("expected time.Duration for xs:duration, got %T", value))
		}
		// OPC UA's Duration type is milliseconds as Double; fractional
		// milliseconds are preserved the same way codec.encodeDuration
		// produces them on decode.
		variant, err := ua.NewVariant(float64(d) / float64(time.Millisecond))
		if err != nil {
			return nil, model.NewBridgeError(model.KindTypeError, "opcuapool.ToVariant", err)
		}
		return variant, nil
	case model.Base64Binary:
		b, ok := value.([]byte)
		if !ok {
			return nil, model.NewBridgeError(model.KindTypeError, "opcuapool.ToVariant", fmt.Errorf("expected []byte for xs:base64Binary, got %T", value))
		}
		variant, err := ua.NewVariant(b)
		if err != nil {
			return nil, model.NewBridgeError(model.KindTypeError, "opcuapool.ToVariant", err)
		}
		return variant, nil
	default:
		return nil, model.NewBridgeError(model.KindTypeError, "opcuapool.ToVariant", fmt.Errorf("unsupported value type %q for OPC UA write", vt))
	}
}
