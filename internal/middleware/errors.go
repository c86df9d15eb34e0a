package middleware

import (
	"storefront-orders/internal/apperr"

	"github.com/gin-gonic/gin"
)

// AbortWithError renders err as {"error": code, "message": msg} and stops
// the handler chain. Wrapped causes are never written to the client.
func AbortWithError(c *gin.Context, err error) {
	e := apperr.From(err)
	c.AbortWithStatusJSON(e.Kind.HTTPStatus(), gin.H{
		"error":   e.Code,
		"message": e.Message,
	})
}
