package audit

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
)

type ctxKey int

const clientCtxKey ctxKey = 1

func WithClient(ctx context.Context, c *Client) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, clientCtxKey, c)
}

func ClientFromContext(ctx context.Context) *Client {
	if ctx == nil {
		return nil
	}
	c, _ := ctx.Value(clientCtxKey).(*Client)
	return c
}

// InjectClientMiddleware makes the client reachable from request contexts.
func InjectClientMiddleware(c *Client) gin.HandlerFunc {
	return func(gc *gin.Context) {
		if c != nil && gc.Request != nil {
			gc.Request = gc.Request.WithContext(WithClient(gc.Request.Context(), c))
		}
		gc.Next()
	}
}

// LogBestEffort writes an entry through the client carried by ctx, if any.
// Failures are dropped; the write never outlives two seconds.
func LogBestEffort(ctx context.Context, action, level string, details map[string]any) {
	c := ClientFromContext(ctx)
	if c == nil {
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	_ = c.Write(wctx, Entry{
		Action:  action,
		Level:   level,
		Details: details,
	})
}
