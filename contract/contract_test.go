package contract

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"mini-session-rpc/rpcerr"
)

type greeter interface {
	Greet(name string) (string, error)
}

type undeclared interface {
	Nothing()
}

type notAnInterface struct{}

func TestDeclareAndLookup(t *testing.T) {
	typ, err := Declare[greeter](Metadata{Name: "greeter"})
	if err != nil {
		t.Fatal(err)
	}
	md, err := Of(typ)
	if err != nil {
		t.Fatal(err)
	}
	if md.Name != "greeter" || md.Timeout != DefaultTimeout {
		t.Fatalf("unexpected metadata %+v", md)
	}

	// identical redeclaration is allowed
	if _, err := Declare[greeter](Metadata{Name: "greeter"}); err != nil {
		t.Fatal(err)
	}
	if _, err := Declare[greeter](Metadata{Name: "other"}); err == nil {
		t.Fatal("expect error for conflicting redeclaration")
	}
}

func TestMissingMetadataIsConfigError(t *testing.T) {
	_, err := Of(TypeOf[undeclared]())
	var ce *rpcerr.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expect ConfigError, got %v", err)
	}
}

func TestDeclareValidation(t *testing.T) {
	if _, err := Declare[notAnInterface](Metadata{Name: "x"}); err == nil {
		t.Fatal("expect error for struct type")
	}
	if _, err := Declare[undeclared](Metadata{}); err == nil {
		t.Fatal("expect error for empty name")
	}
	if _, err := Declare[undeclared](Metadata{Name: "x", Timeout: -time.Second}); err == nil {
		t.Fatal("expect error for negative timeout")
	}
}

func TestHeartbeatIsDeclared(t *testing.T) {
	md, err := Of(reflect.TypeOf((*Heartbeat)(nil)).Elem())
	if err != nil {
		t.Fatal(err)
	}
	if md.Name != HeartbeatService {
		t.Fatalf("unexpected heartbeat name %q", md.Name)
	}
}
