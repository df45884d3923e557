// Package contract attaches RPC metadata to Go interface types.
//
// An interface becomes callable over the wire once it is declared:
//
//	type Echo interface {
//		Echo(b []byte) ([]byte, error)
//	}
//
//	var _ = contract.MustDeclare[Echo](contract.Metadata{Name: "echo"})
//
// The server derives the service name and method table from the declared
// interface, and the client reads the same metadata to build a Stub.
package contract

import (
	"reflect"
	"sync"
	"time"

	"mini-session-rpc/rpcerr"
)

// DefaultTimeout applies when an interface declares no timeout.
const DefaultTimeout = 3 * time.Second

// Metadata is the routing information attached to an interface.
type Metadata struct {
	Name    string        // Wire-level routing key, e.g. "/inner/session"
	Timeout time.Duration // Default per-call wait bound
}

var (
	mu       sync.RWMutex
	declared = make(map[reflect.Type]Metadata)
)

// TypeOf returns the reflect.Type of the interface T.
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Declare attaches md to the interface T. Redeclaring T with the same
// metadata is a no-op; with different metadata it is a ConfigError.
func Declare[T any](md Metadata) (reflect.Type, error) {
	t := TypeOf[T]()
	if t.Kind() != reflect.Interface {
		return nil, rpcerr.Configf("contract: %s is not an interface", t)
	}
	if md.Name == "" {
		return nil, rpcerr.Configf("contract: %s declares an empty service name", t)
	}
	if md.Timeout < 0 {
		return nil, rpcerr.Configf("contract: %s declares a negative timeout %s", t, md.Timeout)
	}
	if md.Timeout == 0 {
		md.Timeout = DefaultTimeout
	}

	mu.Lock()
	defer mu.Unlock()
	if prev, ok := declared[t]; ok && prev != md {
		return nil, rpcerr.Configf("contract: %s already declared as %q", t, prev.Name)
	}
	declared[t] = md
	return t, nil
}

// MustDeclare is like Declare but panics on error. It is meant for package
// level var blocks.
func MustDeclare[T any](md Metadata) reflect.Type {
	t, err := Declare[T](md)
	if err != nil {
		panic(err)
	}
	return t
}

// Of returns the metadata declared for t.
func Of(t reflect.Type) (Metadata, error) {
	if t == nil {
		return Metadata{}, rpcerr.Configf("contract: nil type")
	}
	mu.RLock()
	md, ok := declared[t]
	mu.RUnlock()
	if !ok {
		return Metadata{}, rpcerr.Configf("contract: %s carries no service metadata", t)
	}
	return md, nil
}
