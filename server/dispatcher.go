package server

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"mini-session-rpc/codec"
	"mini-session-rpc/contract"
	"mini-session-rpc/logger"
	"mini-session-rpc/message"
	"mini-session-rpc/metrics"
	"mini-session-rpc/rpcerr"
)

// Dispatcher maps service names to services and turns every Request into a
// Response. It is safe for concurrent Dispatch calls: the service map is
// replaced wholesale on registration, so lookups never take a lock.
type Dispatcher struct {
	mu       sync.Mutex // Serializes Register
	services atomic.Pointer[map[string]*service]
	codec    codec.Codec
	log      *zap.Logger
	metrics  *metrics.Metrics
}

// NewDispatcher creates a dispatcher with the heartbeat service already
// registered.
func NewDispatcher(c codec.Codec, log *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if c == nil {
		c = codec.Default
	}
	d := &Dispatcher{
		codec:   c,
		log:     logger.OrNop(log),
		metrics: m,
	}
	empty := make(map[string]*service)
	d.services.Store(&empty)
	if err := d.Register(contract.TypeOf[contract.Heartbeat](), heartbeat{}); err != nil {
		panic(err)
	}
	return d
}

// Register adds impl under the service name declared on iface. A second
// registration of the same name fails; the first one stays in place.
func (d *Dispatcher) Register(iface reflect.Type, impl any) error {
	svc, err := newService(iface, impl)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	current := *d.services.Load()
	if _, dup := current[svc.name]; dup {
		return rpcerr.Configf("rpc: service already defined: %s", svc.name)
	}
	next := make(map[string]*service, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[svc.name] = svc
	d.services.Store(&next)

	d.log.Info("service registered", zap.String("service", svc.name), zap.Int("methods", len(svc.method)), zap.Stringer("interface", svc.iface))
	return nil
}

// Services lists the registered service names.
func (d *Dispatcher) Services() []string {
	m := *d.services.Load()
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	return names
}

// Dispatch resolves and invokes the target method. It always returns a
// Response: resolution failures map to NO_SUCH_SERVICE / NO_SUCH_METHOD and
// everything else that goes wrong maps to SERVER_ERROR.
func (d *Dispatcher) Dispatch(ctx context.Context, req *message.Request) *message.Response {
	d.metrics.Invoked()
	resp := d.dispatch(req)
	resp.RequestID = req.RequestID
	if resp.Status.IsError() {
		d.metrics.Failed()
	} else {
		d.metrics.Succeeded()
	}
	return resp
}

func (d *Dispatcher) dispatch(req *message.Request) *message.Response {
	svc := (*d.services.Load())[req.ServiceName]
	if svc == nil {
		return errorResponse(message.StatusNoSuchService, "no such service: "+req.ServiceName)
	}

	args, err := d.codec.DecodeArgs(req.Payload)
	if err != nil {
		return d.serverError(req, err)
	}

	mt := svc.lookup(req.MethodName, len(args))
	if mt == nil {
		return errorResponse(message.StatusNoSuchMethod,
			fmt.Sprintf("no such method: %s.%s with %d argument(s)", req.ServiceName, req.MethodName, len(args)))
	}

	argv := make([]reflect.Value, len(args))
	for i, arg := range args {
		argType := mt.argTypes[i]
		if arg == nil || !reflect.TypeOf(arg).AssignableTo(argType) {
			arg, err = d.codec.Cast(arg, argType)
			if err != nil {
				return d.serverError(req, fmt.Errorf("argument %d: %w", i, err))
			}
		}
		if arg == nil {
			argv[i] = reflect.Zero(argType)
		} else {
			argv[i] = reflect.ValueOf(arg)
		}
	}

	result, err := svc.call(mt, argv)
	if err != nil {
		return d.serverError(req, err)
	}

	// Raw bytes skip the codec; the client hands them back untouched.
	if raw, ok := result.([]byte); ok {
		return &message.Response{Status: message.StatusOK, Encoded: false, Payload: raw}
	}
	payload, err := d.codec.EncodeResult(result)
	if err != nil {
		return d.serverError(req, fmt.Errorf("encode result: %w", err))
	}
	return &message.Response{Status: message.StatusOK, Encoded: true, Payload: payload}
}

// serverError logs the cause locally; only the message crosses the wire.
func (d *Dispatcher) serverError(req *message.Request, err error) *message.Response {
	fields := []zap.Field{
		zap.String("service", req.ServiceName),
		zap.String("method", req.MethodName),
		zap.Uint64("request_id", req.RequestID),
		zap.Error(err),
	}
	var pe *panicError
	if errors.As(err, &pe) {
		fields = append(fields, zap.ByteString("stack", pe.stack))
	}
	d.log.Error("call failed", fields...)

	msg := err.Error()
	if msg == "" {
		msg = fmt.Sprintf("%T", err)
	}
	return errorResponse(message.StatusServerError, msg)
}

func errorResponse(status message.Status, msg string) *message.Response {
	return &message.Response{Status: status, Message: msg}
}

// heartbeat is the built-in liveness service.
type heartbeat struct{}

func (heartbeat) Ping() ([]byte, error) {
	return contract.Pong, nil
}
