package api

import "github.com/gin-gonic/gin"

const ctxNothingWritten = "nothing_written"

// MarkNothingWritten records that the request failed before any write could
// have committed. Only such failures release an Idempotency-Key for reuse.
func MarkNothingWritten(c *gin.Context) {
	c.Set(ctxNothingWritten, true)
}

func NothingWritten(c *gin.Context) bool {
	return c.GetBool(ctxNothingWritten)
}
