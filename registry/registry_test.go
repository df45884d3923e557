package registry

import (
	"context"
	"errors"
	"testing"
)

type staticRegistry map[string][]ServiceInstance

func (s staticRegistry) Register(ctx context.Context, name string, inst ServiceInstance, ttl int64) error {
	s[name] = append(s[name], inst)
	return nil
}

func (s staticRegistry) Deregister(ctx context.Context, name string, addr string) error {
	return nil
}

func (s staticRegistry) Discover(ctx context.Context, name string) ([]ServiceInstance, error) {
	if name == "broken" {
		return nil, errors.New("unreachable")
	}
	return s[name], nil
}

func TestResolve(t *testing.T) {
	reg := staticRegistry{}
	reg.Register(context.Background(), "/inner/session", ServiceInstance{Addr: "10.0.0.1:7070"}, 10)

	addr, err := Resolve(context.Background(), reg, "/inner/session")
	if err != nil || addr != "10.0.0.1:7070" {
		t.Fatalf("unexpected %q, %v", addr, err)
	}
	if _, err := Resolve(context.Background(), reg, "/missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expect ErrNotFound, got %v", err)
	}
	if _, err := Resolve(context.Background(), reg, "broken"); err == nil {
		t.Fatal("expect discover error to propagate")
	}
}
