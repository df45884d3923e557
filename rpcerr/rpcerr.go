// Package rpcerr holds the error kinds callers can tell apart with errors.As:
//
//   - ConfigError:  setup mistakes (missing metadata, duplicate service, no methods)
//   - ConnectError: no usable connection, raised before a request id is used
//   - TimeoutError: no response arrived within the bound
//   - RemoteError:  the server answered with an error status
//   - DecodeError:  the call succeeded but its result could not be decoded or cast
package rpcerr

import (
	"errors"
	"fmt"
	"time"

	"mini-session-rpc/message"
)

var (
	ErrNotConnected = errors.New("no active connection")
	ErrClosed       = errors.New("connection is shut down")
)

// ConfigError is raised synchronously at setup time.
type ConfigError struct {
	error
}

func (err *ConfigError) Error() string {
	return "config error: " + err.error.Error()
}

func (err *ConfigError) Unwrap() error {
	return err.error
}

// Configf builds a ConfigError from a format string.
func Configf(format string, args ...any) error {
	return &ConfigError{fmt.Errorf(format, args...)}
}

// ConnectError reports a missing or broken connection.
type ConnectError struct {
	error
}

func (err *ConnectError) Error() string {
	return "connect error: " + err.error.Error()
}

func (err *ConnectError) Unwrap() error {
	return err.error
}

// Connect wraps err as a ConnectError.
func Connect(err error) error {
	return &ConnectError{err}
}

// TimeoutError identifies the call that got no response in time.
type TimeoutError struct {
	Service string
	Method  string
	Timeout time.Duration
}

func (err *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: %s.%s got no response within %s", err.Service, err.Method, err.Timeout)
}

// RemoteError carries the status and message of a failed remote call.
// Only the message crosses the wire; the server logs the cause.
type RemoteError struct {
	Status  message.Status
	Message string
}

func (err *RemoteError) Error() string {
	return fmt.Sprintf("remote error %d %s: %s", uint32(err.Status), err.Status, err.Message)
}

// DecodeError reports an unusable payload: bad encoding or a failed cast.
type DecodeError struct {
	error
}

func (err *DecodeError) Error() string {
	return "decode error: " + err.error.Error()
}

func (err *DecodeError) Unwrap() error {
	return err.error
}

// Decode wraps err as a DecodeError, leaving existing DecodeErrors untouched.
func Decode(err error) error {
	if err == nil {
		return nil
	}
	var de *DecodeError
	if errors.As(err, &de) {
		return err
	}
	return &DecodeError{err}
}

// IsTimeout reports whether err is a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsConnect reports whether err is a ConnectError.
func IsConnect(err error) bool {
	var ce *ConnectError
	return errors.As(err, &ce)
}

// StatusOf returns the remote status carried by err, or 0 when err is not a
// RemoteError.
func StatusOf(err error) message.Status {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Status
	}
	return 0
}
