package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"mini-session-rpc/client"
	"mini-session-rpc/rpcerr"
	"mini-session-rpc/server"
)

func TestLRUStore(t *testing.T) {
	s, err := NewLRUStore(2, nil)
	if err != nil {
		t.Fatal(err)
	}

	if got, _ := s.Get("missing"); got == nil || len(got) != 0 {
		t.Fatalf("expect empty slice for a missing id, got %#v", got)
	}

	blob := []byte("cart=3")
	if err := s.Put("a", blob); err != nil {
		t.Fatal(err)
	}
	blob[0] = 'X'
	if got, _ := s.Get("a"); string(got) != "cart=3" {
		t.Fatalf("store must keep its own copy, got %q", got)
	}

	s.Put("b", []byte("2"))
	s.Get("a") // a is now more recent than b
	s.Put("c", []byte("3"))
	if n, _ := s.Len(); n != 2 {
		t.Fatalf("expect capacity bound 2, got %d", n)
	}
	if got, _ := s.Get("b"); len(got) != 0 {
		t.Fatalf("expect b evicted, got %q", got)
	}

	if ok, _ := s.Remove("a"); !ok {
		t.Fatal("expect a removed")
	}
	if ok, _ := s.Remove("a"); ok {
		t.Fatal("expect second remove to report absent")
	}
	if err := s.Put("", nil); err == nil {
		t.Fatal("expect empty id rejected")
	}
}

func TestLRUStoreCapacity(t *testing.T) {
	_, err := NewLRUStore(0, nil)
	var ce *rpcerr.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expect ConfigError, got %v", err)
	}
}

func startSessionServer(t *testing.T) *Client {
	t.Helper()
	store, err := NewLRUStore(100, nil)
	if err != nil {
		t.Fatal(err)
	}
	svr := server.NewServer()
	if err := server.Register[Store](svr, store); err != nil {
		t.Fatal(err)
	}
	if err := svr.Listen("tcp", "127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	go svr.Serve()
	t.Cleanup(func() { svr.Shutdown(time.Second) })

	c, err := client.Dial(context.Background(), svr.Addr().String(), client.WithConnections(2))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })

	sc, err := Connect(c)
	if err != nil {
		t.Fatal(err)
	}
	return sc
}

func TestRemoteStore(t *testing.T) {
	var s Store = startSessionServer(t)

	got, err := s.Get("nobody")
	if err != nil || got == nil || len(got) != 0 {
		t.Fatalf("expect empty slice, got %#v (%v)", got, err)
	}

	blob := []byte{0x00, 0xff, 0x10, 0x7f}
	if err := s.Put("sid-1", blob); err != nil {
		t.Fatal(err)
	}
	got, err = s.Get("sid-1")
	if err != nil || string(got) != string(blob) {
		t.Fatalf("expect blob back, got %v (%v)", got, err)
	}
	if n, err := s.Len(); err != nil || n != 1 {
		t.Fatalf("expect 1 session, got %d (%v)", n, err)
	}
	if ok, err := s.Remove("sid-1"); err != nil || !ok {
		t.Fatalf("expect removed, got %v (%v)", ok, err)
	}
	if ok, err := s.Remove("sid-1"); err != nil || ok {
		t.Fatalf("expect absent, got %v (%v)", ok, err)
	}

	err = s.Put("", []byte("x"))
	var re *rpcerr.RemoteError
	if !errors.As(err, &re) || re.Message != errEmptyID.Error() {
		t.Fatalf("expect remote empty id error, got %v", err)
	}
}

func TestRemoteStoreConcurrent(t *testing.T) {
	s := startSessionServer(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("sid-%d", n)
			want := fmt.Sprintf("state-%d", n)
			if err := s.Put(id, []byte(want)); err != nil {
				t.Error(err)
				return
			}
			got, err := s.Get(id)
			if err != nil || string(got) != want {
				t.Errorf("%s: got %q (%v)", id, got, err)
			}
		}(i)
	}
	wg.Wait()

	if n, _ := s.Len(); n != 20 {
		t.Fatalf("expect 20 sessions, got %d", n)
	}
}
