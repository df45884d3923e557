// Package registry lets a server announce where it listens, and lets a
// client look that address up once before it connects. It is not discovery:
// a client still talks to exactly one fixed peer for its whole lifetime.
package registry

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("registry: no instance announced")

type ServiceInstance struct {
	Addr    string
	Version string // Protocol version of the announcing server
}

type Registry interface {
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
}

// Resolve returns the address of the first announced instance of
// serviceName.
func Resolve(ctx context.Context, reg Registry, serviceName string) (string, error) {
	instances, err := reg.Discover(ctx, serviceName)
	if err != nil {
		return "", err
	}
	if len(instances) == 0 {
		return "", ErrNotFound
	}
	return instances[0].Addr, nil
}
