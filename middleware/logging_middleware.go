package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mini-session-rpc/message"
)

func LoggingMiddleware(log *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.String("service", req.ServiceName),
				zap.String("method", req.MethodName),
				zap.Uint64("request_id", req.RequestID),
				zap.Duration("duration", time.Since(start)),
				zap.Stringer("status", resp.Status),
			}
			if resp.Status.IsError() {
				log.Warn("call", append(fields, zap.String("error", resp.Message))...)
			} else {
				log.Debug("call", fields...)
			}
			return resp
		}
	}
}
