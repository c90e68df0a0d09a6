package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// Wrapper keys for value types JSON has no native representation for.
const (
	jsonDecimalKey = "$dec"
	jsonTimeKey    = "$time"
	jsonBinaryKey  = "$bin"
)

// EncodeJSON serializes a payload into the JSON interchange form.
func (c *RecordCodec) EncodeJSON(p Payload) ([]byte, error) {
	obj, err := payloadToJSON(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}

// DecodeJSON parses the JSON interchange form back into a payload. Plain
// JSON numbers become exact decimals; wrapped values ($dec, $time, $bin)
// restore their original kinds.
func (c *RecordCodec) DecodeJSON(data []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptEncoding, err)
	}
	return jsonToPayload(raw)
}

func payloadToJSON(p Payload) (map[string]interface{}, error) {
	obj := make(map[string]interface{}, len(p))
	for name, v := range p {
		if strings.HasPrefix(name, "$") {
			return nil, fmt.Errorf("%w: field name %q is reserved", ErrUnsupportedType, name)
		}
		jv, err := valueToJSON(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		obj[name] = jv
	}
	return obj, nil
}

func valueToJSON(v Value) (interface{}, error) {
	switch v.kind {
	case KindString:
		return v.str, nil
	case KindBool:
		return v.b, nil
	case KindBytes:
		return map[string]interface{}{jsonBinaryKey: base64.StdEncoding.EncodeToString(v.raw)}, nil
	case KindDecimal:
		if v.dec == nil || v.dec.Form != apd.Finite {
			return nil, fmt.Errorf("%w: non-finite decimal", ErrUnsupportedType)
		}
		// String keeps the scale: 5E+2 must not flatten to "500", which
		// re-parses with a different exponent.
		return map[string]interface{}{jsonDecimalKey: v.dec.String()}, nil
	case KindTime:
		return map[string]interface{}{jsonTimeKey: v.ts.UTC().Format(time.RFC3339Nano)}, nil
	case KindMap:
		return payloadToJSON(v.m)
	case KindList:
		items := make([]interface{}, len(v.list))
		for i, item := range v.list {
			jv, err := valueToJSON(item)
			if err != nil {
				return nil, fmt.Errorf("list index %d: %w", i, err)
			}
			items[i] = jv
		}
		return items, nil
	default:
		return nil, fmt.Errorf("%w: kind %v", ErrUnsupportedType, v.kind)
	}
}

func jsonToPayload(obj map[string]interface{}) (Payload, error) {
	p := make(Payload, len(obj))
	for name, raw := range obj {
		if strings.HasPrefix(name, "$") {
			return nil, fmt.Errorf("%w: field name %q is reserved", ErrUnsupportedType, name)
		}
		v, err := jsonToValue(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		p[name] = v
	}
	return p, nil
}

func jsonToValue(raw interface{}) (Value, error) {
	switch t := raw.(type) {
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		d, _, err := apd.NewFromString(t.String())
		if err != nil {
			return Value{}, fmt.Errorf("%w: bad number %q", ErrCorruptEncoding, t.String())
		}
		return Decimal(d), nil
	case []interface{}:
		items := make([]Value, 0, len(t))
		for i, item := range t {
			v, err := jsonToValue(item)
			if err != nil {
				return Value{}, fmt.Errorf("list index %d: %w", i, err)
			}
			items = append(items, v)
		}
		return List(items...), nil
	case map[string]interface{}:
		if v, ok, err := unwrapTyped(t); ok || err != nil {
			return v, err
		}
		m, err := jsonToPayload(t)
		if err != nil {
			return Value{}, err
		}
		return Map(m), nil
	case nil:
		return Value{}, fmt.Errorf("%w: null is not a payload value", ErrUnsupportedType)
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedType, raw)
	}
}

// unwrapTyped handles the single-key wrapper objects for decimals,
// timestamps and binary blobs.
func unwrapTyped(obj map[string]interface{}) (Value, bool, error) {
	if len(obj) != 1 {
		return Value{}, false, nil
	}
	for key, raw := range obj {
		switch key {
		case jsonDecimalKey:
			s, ok := raw.(string)
			if !ok {
				return Value{}, true, fmt.Errorf("%w: %s wrapper must hold a string", ErrCorruptEncoding, jsonDecimalKey)
			}
			d, _, err := apd.NewFromString(s)
			if err != nil {
				return Value{}, true, fmt.Errorf("%w: bad decimal %q", ErrCorruptEncoding, s)
			}
			return Decimal(d), true, nil
		case jsonTimeKey:
			s, ok := raw.(string)
			if !ok {
				return Value{}, true, fmt.Errorf("%w: %s wrapper must hold a string", ErrCorruptEncoding, jsonTimeKey)
			}
			ts, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return Value{}, true, fmt.Errorf("%w: bad timestamp %q", ErrCorruptEncoding, s)
			}
			return Time(ts), true, nil
		case jsonBinaryKey:
			s, ok := raw.(string)
			if !ok {
				return Value{}, true, fmt.Errorf("%w: %s wrapper must hold a string", ErrCorruptEncoding, jsonBinaryKey)
			}
			b, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return Value{}, true, fmt.Errorf("%w: bad base64 blob", ErrCorruptEncoding)
			}
			return Bytes(b), true, nil
		}
	}
	return Value{}, false, nil
}
