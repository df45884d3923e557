package server

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"mini-session-rpc/codec"
	"mini-session-rpc/message"
	"mini-session-rpc/protocol"
	"mini-session-rpc/registry"
)

func startServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	svr := NewServer(opts...)
	if err := Register[Arith](svr, arithImpl{}); err != nil {
		t.Fatal(err)
	}
	if err := svr.Listen("tcp", "127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	go svr.Serve()
	t.Cleanup(func() { svr.Shutdown(time.Second) })
	return svr
}

func roundTrip(t *testing.T, conn net.Conn, r *bufio.Reader, req *message.Request) *message.Response {
	t.Helper()
	if err := protocol.Encode(conn, protocol.MsgTypeRequest, req.Marshal()); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, body, err := protocol.Decode(r)
	if err != nil {
		t.Fatal(err)
	}
	if typ != protocol.MsgTypeResponse {
		t.Fatalf("Expect response frame, got %v", typ)
	}
	resp := &message.Response{}
	if err := resp.Unmarshal(body); err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestServer(t *testing.T) {
	svr := startServer(t)

	conn, err := net.Dial("tcp", svr.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	r := bufio.NewReader(conn)

	payload, _ := codec.Default.EncodeArgs([]any{1, 2})
	resp := roundTrip(t, conn, r, &message.Request{
		RequestID:   123,
		ServiceName: "/test/arith",
		MethodName:  "Add",
		Payload:     payload,
	})
	if resp.RequestID != 123 {
		t.Fatalf("Expect request id 123, got %v", resp.RequestID)
	}
	if resp.Status != message.StatusOK || !bytes.Equal(resp.Payload, []byte("3")) {
		t.Fatalf("Expect OK 3, got %v %q", resp.Status, resp.Payload)
	}

	resp = roundTrip(t, conn, r, &message.Request{RequestID: 124, ServiceName: "/nope", MethodName: "Add"})
	if resp.RequestID != 124 || resp.Status != message.StatusNoSuchService {
		t.Fatalf("Expect NO_SUCH_SERVICE for 124, got %v %v", resp.RequestID, resp.Status)
	}
}

func TestServerIgnoresMalformedRequest(t *testing.T) {
	svr := startServer(t)

	conn, err := net.Dial("tcp", svr.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	r := bufio.NewReader(conn)

	// field 1 with a truncated varint
	if err := protocol.Encode(conn, protocol.MsgTypeRequest, []byte{0x08, 0xff}); err != nil {
		t.Fatal(err)
	}
	resp := roundTrip(t, conn, r, &message.Request{RequestID: 7, ServiceName: "/inner/heartbeat", MethodName: "Ping"})
	if resp.RequestID != 7 || resp.Status != message.StatusOK {
		t.Fatalf("Expect the connection to keep serving, got %v %v", resp.RequestID, resp.Status)
	}
}

type recordingRegistry struct {
	mu           sync.Mutex
	registered   map[string]string
	deregistered []string
}

func (r *recordingRegistry) Register(ctx context.Context, name string, inst registry.ServiceInstance, ttl int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered[name] = inst.Addr
	return nil
}

func (r *recordingRegistry) Deregister(ctx context.Context, name, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deregistered = append(r.deregistered, name)
	return nil
}

func (r *recordingRegistry) Discover(ctx context.Context, name string) ([]registry.ServiceInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if addr, ok := r.registered[name]; ok {
		return []registry.ServiceInstance{{Addr: addr, Version: ProtocolVersion}}, nil
	}
	return nil, registry.ErrNotFound
}

func TestServerAnnouncesAndShutsDown(t *testing.T) {
	reg := &recordingRegistry{registered: make(map[string]string)}
	svr := NewServer(WithRegistry(reg, "10.0.0.1:7070", 5))
	if err := Register[Arith](svr, arithImpl{}); err != nil {
		t.Fatal(err)
	}
	if err := svr.Listen("tcp", "127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	served := make(chan error, 1)
	go func() { served <- svr.Serve() }()

	conn, err := net.Dial("tcp", svr.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	// Serve announces before accepting, so one round trip orders the two
	r := bufio.NewReader(conn)
	roundTrip(t, conn, r, &message.Request{RequestID: 1, ServiceName: "/inner/heartbeat", MethodName: "Ping"})

	for _, name := range []string{"/test/arith", "/inner/heartbeat"} {
		if addr, err := registry.Resolve(context.Background(), reg, name); err != nil || addr != "10.0.0.1:7070" {
			t.Fatalf("Expect %s announced, got %q (%v)", name, addr, err)
		}
	}
	deadline := time.Now().Add(time.Second)
	for svr.ActivePeers() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if svr.ActivePeers() != 1 {
		t.Fatalf("Expect 1 active peer, got %d", svr.ActivePeers())
	}

	if err := svr.Shutdown(time.Second); err != nil {
		t.Fatal(err)
	}
	if err := <-served; err != nil {
		t.Fatalf("Expect Serve to return nil after Shutdown, got %v", err)
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if len(reg.deregistered) != 2 {
		t.Fatalf("Expect both services withdrawn, got %v", reg.deregistered)
	}

	// the peer connection is closed by Shutdown
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := protocol.Decode(r); err == nil {
		t.Fatal("Expect the connection to be closed")
	}
}

func TestServerPeerCountSettlesAfterShortLivedConnections(t *testing.T) {
	svr := startServer(t)

	for i := 0; i < 200; i++ {
		conn, err := net.Dial("tcp", svr.Addr().String())
		if err != nil {
			t.Fatal(err)
		}
		conn.Close()
	}

	// every close must be matched by its open, or a phantom peer remains
	deadline := time.Now().Add(2 * time.Second)
	for svr.ActivePeers() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := svr.ActivePeers(); n != 0 {
		t.Fatalf("Expect 0 active peers, got %d", n)
	}
}
