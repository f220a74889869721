package middleware

import (
	"net/http"

	"TMProject/global/config"

	"github.com/gin-gonic/gin"
)

// Origin applies the configured CORS policy. "*" allows everything,
// which is the dev default.
func Origin() gin.HandlerFunc {
	allowed := "*"
	if config.Global != nil && config.Global.CORSOrigin != "" {
		allowed = config.Global.CORSOrigin
	}
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", allowed)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, If-None-Match")
		c.Header("Access-Control-Expose-Headers", "ETag, Cache-Control")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
