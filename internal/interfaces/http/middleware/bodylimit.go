package middleware

import (
	"net/http"
	"strings"

	"github.com/erp/syncengine/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// BodyLimit caps request bodies at maxBytes. Paths under one of the exempt
// prefixes are left alone; webhook receivers enforce their own limit so the
// rejection is recorded against the delivery. A non-positive maxBytes
// disables the check.
func BodyLimit(maxBytes int64, exemptPrefixes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes <= 0 || c.Request.Body == nil || c.Request.Body == http.NoBody {
			c.Next()
			return
		}
		for _, prefix := range exemptPrefixes {
			if strings.HasPrefix(c.Request.URL.Path, prefix) {
				c.Next()
				return
			}
		}
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge,
				dto.NewErrorResponseWithRequestID(dto.ErrCodeTooLarge, "Request body exceeds maximum allowed size", c.GetString("request_id")))
			return
		}
		// bodies without a declared length fail while being read
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
