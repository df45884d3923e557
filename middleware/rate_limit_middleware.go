package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"mini-session-rpc/contract"
	"mini-session-rpc/message"
)

// RateLimitMiddleware 创建一个基于令牌桶算法的限流中间件.
// Heartbeats are never throttled, otherwise a busy server would look dead to
// its clients.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if req.ServiceName != contract.HeartbeatService && !limiter.Allow() {
				return &message.Response{
					RequestID: req.RequestID,
					Status:    message.StatusThrottled,
					Message:   "rate limit exceeded",
				}
			}
			return next(ctx, req)
		}
	}
}
