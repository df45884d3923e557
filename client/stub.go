package client

import (
	"fmt"
	"reflect"
	"time"

	"mini-session-rpc/contract"
	"mini-session-rpc/rpcerr"
)

// Stub is the client-side stand-in for one declared interface. Typed
// facades wrap it, one method per interface method:
//
//	func (s echoClient) Echo(b []byte) ([]byte, error) {
//		return client.Invoke[[]byte](s.stub, "Echo", b)
//	}
type Stub struct {
	client  *Client
	iface   reflect.Type
	service string
	timeout time.Duration
}

// NewStub reads the metadata declared on T and binds it to c. It fails with
// a ConfigError when T carries none.
func NewStub[T any](c *Client) (*Stub, error) {
	iface := contract.TypeOf[T]()
	md, err := contract.Of(iface)
	if err != nil {
		return nil, err
	}
	return &Stub{client: c, iface: iface, service: md.Name, timeout: md.Timeout}, nil
}

// WithTimeout returns a copy of the stub whose calls wait up to d. An
// explicit override always wins over the declared timeout.
func (s *Stub) WithTimeout(d time.Duration) *Stub {
	cp := *s
	cp.timeout = d
	return &cp
}

func (s *Stub) Service() string {
	return s.service
}

func (s *Stub) Timeout() time.Duration {
	return s.timeout
}

// String is answered locally, never over the wire.
func (s *Stub) String() string {
	return fmt.Sprintf("Stub(%s → %s %s)", s.iface, s.service, s.client.Addr())
}

// Call invokes method remotely and returns the generically decoded result.
func (s *Stub) Call(method string, args ...any) (any, error) {
	return s.client.Call(s.service, method, s.timeout, args...)
}

// Invoke calls method and casts the result to R. A remote nil becomes the
// zero R.
func Invoke[R any](s *Stub, method string, args ...any) (R, error) {
	var zero R
	v, err := s.Call(method, args...)
	if err != nil || v == nil {
		return zero, err
	}
	if r, ok := v.(R); ok {
		return r, nil
	}
	cast, err := s.client.codec.Cast(v, reflect.TypeOf((*R)(nil)).Elem())
	if err != nil {
		return zero, rpcerr.Decode(err)
	}
	if cast == nil {
		return zero, nil
	}
	return cast.(R), nil
}

// Exec calls a method that has no result besides its error.
func Exec(s *Stub, method string, args ...any) error {
	_, err := s.Call(method, args...)
	return err
}
