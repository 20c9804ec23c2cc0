package aasclient

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/industrial-twin/opcua-aas-bridge/internal/codec"
	"github.com/industrial-twin/opcua-aas-bridge/internal/model"
)

// jsonSafeIntBound is 2^53, the largest integer magnitude a JSON number
// can carry without silent precision loss in a conforming parser.
const jsonSafeIntBound = 1 << 53

// ToJSONValue renders a codec-encoded native Go value as the JSON
// representation the AAS REST $value endpoints expect, per the ValueType's
// XSD-to-JSON convention.
func ToJSONValue(v interface{}, vt model.ValueType) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	switch vt {
	case model.Boolean:
		b, ok := v.(bool)
		if !ok {
			return nil, model.NewBridgeError(model.KindTypeError, "aasclient.ToJSONValue", fmt.Errorf("expected bool, got %T", v))
		}
		return b, nil

	case model.Byte, model.UnsignedByte, model.Short, model.UnsignedShort, model.Int, model.UnsignedInt:
		n, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		return n, nil

	case model.Long:
		n, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		if n > jsonSafeIntBound || n < -jsonSafeIntBound {
			return strconv.FormatInt(n, 10), nil
		}
		return n, nil

	case model.UnsignedLong:
		u, ok := v.(uint64)
		if !ok {
			n, err := toInt64(v)
			if err != nil {
				return nil, err
			}
			u = uint64(n)
		}
		if u > jsonSafeIntBound {
			return strconv.FormatUint(u, 10), nil
		}
		return u, nil

	case model.Float, model.Double:
		f, err := toFloat64(v)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, model.NewBridgeError(model.KindRangeError, "aasclient.ToJSONValue", fmt.Errorf("NaN/Inf is not JSON-representable"))
		}
		return f, nil

	case model.String:
		s, ok := v.(string)
		if !ok {
			return nil, model.NewBridgeError(model.KindTypeError, "aasclient.ToJSONValue", fmt.Errorf("expected string, got %T", v))
		}
		return s, nil

	case model.DateTime:
		t, ok := v.(time.Time)
		if !ok {
			return nil, model.NewBridgeError(model.KindTypeError, "aasclient.ToJSONValue", fmt.Errorf("expected time.Time, got %T", v))
		}
		return t.UTC().Format(time.RFC3339Nano), nil

	case model.Duration:
		d, ok := v.(time.Duration)
		if !ok {
			return nil, model.NewBridgeError(model.KindTypeError, "aasclient.ToJSONValue", fmt.Errorf("expected time.Duration, got %T", v))
		}
		return codec.FormatISODuration(d), nil

	case model.Base64Binary:
		b, ok := v.([]byte)
		if !ok {
			return nil, model.NewBridgeError(model.KindTypeError, "aasclient.ToJSONValue", fmt.Errorf("expected []byte, got %T", v))
		}
		return codec.EncodeBase64(b), nil

	default:
		return nil, model.NewBridgeError(model.KindTypeError, "aasclient.ToJSONValue", fmt.Errorf("unsupported value type %q", vt))
	}
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case int:
		return int64(n), nil
	default:
		return 0, model.NewBridgeError(model.KindTypeError, "aasclient.toInt64", fmt.Errorf("expected integer, got %T", v))
	}
}

func toFloat64(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return 0, model.NewBridgeError(model.KindTypeError, "aasclient.toFloat64", fmt.Errorf("expected float, got %T", v))
	}
}

// FromJSONValue parses a JSON-decoded raw value (as produced by
// encoding/json.Unmarshal into interface{}) back into a value suitable for
// codec.Encode, reversing the JSON-safe-integer-as-string convention for
// 64-bit types.
func FromJSONValue(raw interface{}, vt model.ValueType) (interface{}, error) {
	if raw == nil {
		return nil, nil
	}

	switch vt {
	case model.Long, model.UnsignedLong:
		switch n := raw.(type) {
		case string:
			return n, nil
		case float64:
			return n, nil
		default:
			return nil, model.NewBridgeError(model.KindTypeError, "aasclient.FromJSONValue", fmt.Errorf("unexpected JSON type %T for %s", raw, vt))
		}
	case model.DateTime:
		s, ok := raw.(string)
		if !ok {
			return nil, model.NewBridgeError(model.KindTypeError, "aasclient.FromJSONValue", fmt.Errorf("expected string for dateTime"))
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, model.NewBridgeError(model.KindTypeError, "aasclient.FromJSONValue", err)
		}
		return t, nil
	case model.Base64Binary:
		s, ok := raw.(string)
		if !ok {
			return nil, model.NewBridgeError(model.KindTypeError, "aasclient.FromJSONValue", fmt.Errorf("expected string for base64Binary"))
		}
		return codec.DecodeBase64(s)
	default:
		return raw, nil
	}
}
