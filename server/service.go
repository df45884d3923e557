package server

import (
	"fmt"
	"reflect"
	"runtime/debug"
	"time"

	"mini-session-rpc/contract"
	"mini-session-rpc/rpcerr"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// methodKey identifies a method by name and argument count. Go has no
// overloading, but a call with the wrong number of arguments must still
// resolve to "no such method" instead of failing inside the call.
type methodKey struct {
	name  string
	arity int
}

type methodType struct {
	name      string
	fn        reflect.Value // Method bound to the receiver
	argTypes  []reflect.Type
	hasResult bool // First out is a value
	hasError  bool // Last out is an error
}

type service struct {
	name    string
	timeout time.Duration // Declared hint, reported to clients only through metadata
	iface   reflect.Type
	rcvr    reflect.Value
	method  map[methodKey]*methodType
}

// newService builds the method table of rcvr from the full method set of the
// declared interface iface, embedded interfaces included.
func newService(iface reflect.Type, rcvr any) (*service, error) {
	if iface == nil || iface.Kind() != reflect.Interface {
		return nil, rpcerr.Configf("rpc: %v is not an interface type", iface)
	}
	md, err := contract.Of(iface)
	if err != nil {
		return nil, err
	}
	if rcvr == nil {
		return nil, rpcerr.Configf("rpc: nil implementation for service %q", md.Name)
	}
	val := reflect.ValueOf(rcvr)
	if !val.Type().Implements(iface) {
		return nil, rpcerr.Configf("rpc: %s does not implement %s", val.Type(), iface)
	}

	s := &service{
		name:    md.Name,
		timeout: md.Timeout,
		iface:   iface,
		rcvr:    val,
		method:  make(map[methodKey]*methodType),
	}
	for i := 0; i < iface.NumMethod(); i++ {
		m := iface.Method(i)
		mt, err := newMethodType(m, val.MethodByName(m.Name))
		if err != nil {
			return nil, rpcerr.Configf("rpc: service %q: %w", md.Name, err)
		}
		s.method[methodKey{m.Name, len(mt.argTypes)}] = mt
	}
	if len(s.method) == 0 {
		return nil, rpcerr.Configf("rpc: service %q has no methods", md.Name)
	}
	return s, nil
}

// newMethodType accepts the shapes (), (R), (error) and (R, error).
func newMethodType(m reflect.Method, fn reflect.Value) (*methodType, error) {
	mtype := m.Type
	if mtype.IsVariadic() {
		return nil, fmt.Errorf("method %s is variadic", m.Name)
	}
	mt := &methodType{name: m.Name, fn: fn}
	for i := 0; i < mtype.NumIn(); i++ {
		mt.argTypes = append(mt.argTypes, mtype.In(i))
	}
	switch mtype.NumOut() {
	case 0:
	case 1:
		if mtype.Out(0) == errorType {
			mt.hasError = true
		} else {
			mt.hasResult = true
		}
	case 2:
		if mtype.Out(1) != errorType {
			return nil, fmt.Errorf("method %s: second result must be error, got %s", m.Name, mtype.Out(1))
		}
		mt.hasResult, mt.hasError = true, true
	default:
		return nil, fmt.Errorf("method %s has %d results, at most 2 are supported", m.Name, mtype.NumOut())
	}
	return mt, nil
}

func (s *service) lookup(name string, arity int) *methodType {
	return s.method[methodKey{name, arity}]
}

// panicError carries a recovered panic out of call.
type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

// call invokes the method. A panic in the implementation is returned as a
// *panicError so it can never unwind into the serving loop.
func (s *service) call(mt *methodType, argv []reflect.Value) (result any, err error) {
	defer func() {
		if x := recover(); x != nil {
			result, err = nil, &panicError{value: x, stack: debug.Stack()}
		}
	}()

	out := mt.fn.Call(argv)
	if mt.hasError {
		if e := out[len(out)-1]; !e.IsNil() {
			return nil, e.Interface().(error)
		}
	}
	if mt.hasResult {
		return out[0].Interface(), nil
	}
	return nil, nil
}
