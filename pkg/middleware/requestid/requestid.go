// Package requestid correlates log lines and responses for one request.
package requestid

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Header carries the request id between client, proxy and server.
const Header = "X-Request-ID"

const contextKey = "request_id"

// Middleware keeps the caller's request id or mints a fresh one, storing it
// in the context and echoing it on the response.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(Header))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(contextKey, id)
		c.Writer.Header().Set(Header, id)
		c.Next()
	}
}

// Value returns the request id bound to the context, or "".
func Value(c *gin.Context) string {
	if v, ok := c.Get(contextKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
