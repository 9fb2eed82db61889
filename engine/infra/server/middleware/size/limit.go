package size

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/compozy/policyrag/engine/infra/server/router"
)

// BodySizeLimiter caps upload bodies at limit bytes. A declared Content-Length
// above the limit is refused up front; chunked bodies are cut off while the
// handler reads them. Non-positive limits disable the cap.
func BodySizeLimiter(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 || c.Request.Body == nil {
			c.Next()
			return
		}
		if c.Request.ContentLength > limit {
			router.RespondProblemWithCode(c, http.StatusRequestEntityTooLarge, router.ErrPayloadTooLargeCode,
				fmt.Sprintf("upload exceeds the %d byte limit", limit))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
