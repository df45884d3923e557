package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"mini-session-rpc/rpcerr"
)

// JSONCodec uses encoding/json. Numbers are decoded as json.Number so 64-bit
// integers survive until Cast gives them their declared type.
// Pros: human-readable, cross-language, easy to debug.
// Cons: []byte travels as base64, loose typing needs Cast on the server.
type JSONCodec struct{}

func (c *JSONCodec) Name() string {
	return "json"
}

func (c *JSONCodec) EncodeArgs(args []any) ([]byte, error) {
	if len(args) == 0 {
		return nil, nil
	}
	return json.Marshal(args)
}

func (c *JSONCodec) DecodeArgs(data []byte) ([]any, error) {
	if IsEmpty(data) {
		return nil, nil
	}
	var args []any
	if err := c.unmarshal(data, &args); err != nil {
		return nil, rpcerr.Decode(fmt.Errorf("json args: %w", err))
	}
	return args, nil
}

func (c *JSONCodec) EncodeResult(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func (c *JSONCodec) DecodeResult(data []byte) (any, error) {
	if IsEmpty(data) {
		return nil, nil
	}
	var v any
	if err := c.unmarshal(data, &v); err != nil {
		return nil, rpcerr.Decode(fmt.Errorf("json result: %w", err))
	}
	return v, nil
}

// Cast returns v unchanged when it already fits target; otherwise it
// re-encodes v and decodes it into a fresh target value, which covers numbers,
// base64 byte slices, structs, maps and typed slices.
func (c *JSONCodec) Cast(v any, target reflect.Type) (any, error) {
	if target == nil {
		return v, nil
	}
	if v == nil {
		if nilable(target) {
			return reflect.Zero(target).Interface(), nil
		}
		return nil, rpcerr.Decode(fmt.Errorf("cannot cast null to %s", target))
	}
	if reflect.TypeOf(v).AssignableTo(target) {
		return v, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, rpcerr.Decode(fmt.Errorf("cannot cast %T to %s: %w", v, target, err))
	}
	out := reflect.New(target)
	if err := json.Unmarshal(raw, out.Interface()); err != nil {
		return nil, rpcerr.Decode(fmt.Errorf("cannot cast %T to %s: %w", v, target, err))
	}
	return out.Elem().Interface(), nil
}

func (c *JSONCodec) unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after value")
	}
	return nil
}

func nilable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface, reflect.Chan, reflect.Func:
		return true
	}
	return false
}
