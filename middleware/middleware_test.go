package middleware

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"mini-session-rpc/contract"
	"mini-session-rpc/message"
)

// 模拟一个简单的 handler：直接返回成功响应
func echoHandler(ctx context.Context, req *message.Request) *message.Response {
	return &message.Response{
		RequestID: req.RequestID,
		Status:    message.StatusOK,
		Payload:   []byte("ok"),
	}
}

// 模拟一个慢 handler：睡 200ms
func slowHandler(ctx context.Context, req *message.Request) *message.Response {
	time.Sleep(200 * time.Millisecond)
	return echoHandler(ctx, req)
}

func TestLogging(t *testing.T) {
	handler := LoggingMiddleware(zap.NewNop())(echoHandler)

	req := &message.Request{ServiceName: "echo", MethodName: "Echo"}
	resp := handler(context.Background(), req)

	if resp == nil {
		t.Fatal("expect non-nil response")
	}
	if string(resp.Payload) != "ok" {
		t.Fatalf("expect payload 'ok', got '%s'", string(resp.Payload))
	}
}

func TestTimeoutPass(t *testing.T) {
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)

	resp := handler(context.Background(), &message.Request{ServiceName: "echo"})
	if resp.Status != message.StatusOK {
		t.Fatalf("expect OK, got %v '%s'", resp.Status, resp.Message)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)

	resp := handler(context.Background(), &message.Request{RequestID: 4, ServiceName: "echo"})
	if resp.Status != message.StatusServerError || resp.Message != "request timed out" {
		t.Fatalf("expect timeout error, got %v '%s'", resp.Status, resp.Message)
	}
	if resp.RequestID != 4 {
		t.Fatalf("expect request id 4, got %d", resp.RequestID)
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2 → 前 2 个立刻放行，第 3 个被拒
	handler := RateLimitMiddleware(1, 2)(echoHandler)
	req := &message.Request{ServiceName: "echo"}

	for i := 0; i < 2; i++ {
		resp := handler(context.Background(), req)
		if resp.Status.IsError() {
			t.Fatalf("request %d should pass, got error: %s", i, resp.Message)
		}
	}

	resp := handler(context.Background(), req)
	if resp.Status != message.StatusThrottled {
		t.Fatalf("request 3 should be rate limited, got: %v", resp.Status)
	}

	// heartbeats bypass the limiter
	resp = handler(context.Background(), &message.Request{ServiceName: contract.HeartbeatService})
	if resp.Status != message.StatusOK {
		t.Fatalf("heartbeat should not be throttled, got %v", resp.Status)
	}
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.Request) *message.Response {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}

	handler := Chain(mark("a"), LoggingMiddleware(zap.NewNop()), mark("b"), TimeOutMiddleware(500*time.Millisecond))(echoHandler)
	resp := handler(context.Background(), &message.Request{ServiceName: "echo"})

	if resp == nil || resp.Status != message.StatusOK {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("unexpected order %v", order)
	}
}
