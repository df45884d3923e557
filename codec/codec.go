// Package codec defines how call arguments and return values become wire bytes.
//
// Arguments are decoded generically (the server does not know the parameter
// types until it has resolved the method), so every codec also provides Cast
// to coerce a generically decoded value into the declared parameter type.
package codec

import (
	"reflect"
)

// Codec encodes argument arrays and results. Implementations must be safe for
// concurrent use.
type Codec interface {
	// EncodeArgs encodes an argument array. Nil or empty args encode to the
	// empty sentinel.
	EncodeArgs(args []any) ([]byte, error)
	// DecodeArgs decodes an argument array. The empty sentinel decodes to no
	// arguments without touching the parser.
	DecodeArgs(data []byte) ([]any, error)
	EncodeResult(v any) ([]byte, error)
	DecodeResult(data []byte) (any, error)
	// Cast coerces v into a value assignable to target. Failure is a
	// *rpcerr.DecodeError, never a silent zero value.
	Cast(v any, target reflect.Type) (any, error)
	Name() string
}

// IsEmpty reports whether data is the empty sentinel.
func IsEmpty(data []byte) bool {
	return len(data) == 0
}

// Default is the codec used when none is configured.
var Default Codec = &JSONCodec{}
