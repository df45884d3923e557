package middleware

import (
	"context"
	"time"

	"mini-session-rpc/message"
)

// TimeOutMiddleware answers SERVER_ERROR when the handler runs longer than
// timeout. The handler keeps running in the background; its late result is
// dropped.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Response, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return &message.Response{
					RequestID: req.RequestID,
					Status:    message.StatusServerError,
					Message:   "request timed out",
				}
			}
		}
	}
}
