// Package message defines the Request and Response records exchanged between
// client and server.
//
// Both records are encoded as protobuf wire-format fields (without generated
// code) and then wrapped in a protocol frame for transmission over TCP.
//
//	Request:  1=requestId(varint) 2=serviceName(bytes) 3=methodName(bytes) 4=payload(bytes)
//	Response: 1=requestId(varint) 2=status(varint) 3=message(bytes) 4=encoded(varint) 5=payload(bytes)
//
// Unknown fields are skipped so either side can add fields later.
package message

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Request carries a single call from client to server.
type Request struct {
	RequestID   uint64 // Correlation key, unique per in-flight call on a client
	ServiceName string // Routing key from the interface metadata, e.g. "/inner/session"
	MethodName  string // Resolved on the server together with the argument count
	Payload     []byte // Codec-encoded argument array, may be empty
}

// Response carries the outcome of a Request back to the caller.
//
//   - Status >= StatusNoSuchMethod is an error; Message is authoritative only then.
//   - Encoded=false means Payload is raw bytes and must skip the codec.
type Response struct {
	RequestID uint64
	Status    Status
	Message   string
	Encoded   bool
	Payload   []byte
}

// Marshal encodes the request body.
func (r *Request) Marshal() []byte {
	b := make([]byte, 0, 24+len(r.ServiceName)+len(r.MethodName)+len(r.Payload))
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, r.RequestID)
	b = appendString(b, 2, r.ServiceName)
	b = appendString(b, 3, r.MethodName)
	b = appendBytes(b, 4, r.Payload)
	return b
}

// Unmarshal decodes a request body produced by Marshal.
func (r *Request) Unmarshal(data []byte) error {
	*r = Request{}
	return walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) int {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			r.RequestID = v
			return n
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			r.ServiceName = v
			return n
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			r.MethodName = v
			return n
		case num == 4 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			r.Payload = cloneBytes(v)
			return n
		}
		return protowire.ConsumeFieldValue(num, typ, data)
	})
}

// Marshal encodes the response body.
func (r *Response) Marshal() []byte {
	b := make([]byte, 0, 24+len(r.Message)+len(r.Payload))
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, r.RequestID)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Status))
	b = appendString(b, 3, r.Message)
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(r.Encoded))
	b = appendBytes(b, 5, r.Payload)
	return b
}

// Unmarshal decodes a response body produced by Marshal.
func (r *Response) Unmarshal(data []byte) error {
	*r = Response{}
	return walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) int {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			r.RequestID = v
			return n
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			r.Status = Status(v)
			return n
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			r.Message = v
			return n
		case num == 4 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			r.Encoded = protowire.DecodeBool(v)
			return n
		case num == 5 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			r.Payload = cloneBytes(v)
			return n
		}
		return protowire.ConsumeFieldValue(num, typ, data)
	})
}

// walkFields iterates over the tagged fields of data. fn consumes the value of
// one field and reports how many bytes it used (negative on a parse error).
func walkFields(data []byte, fn func(protowire.Number, protowire.Type, []byte) int) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("message: bad tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		n = fn(num, typ, data)
		if n < 0 {
			return fmt.Errorf("message: bad field %d: %w", num, protowire.ParseError(n))
		}
		data = data[n:]
	}
	return nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func cloneBytes(v []byte) []byte {
	if len(v) == 0 {
		return nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out
}
