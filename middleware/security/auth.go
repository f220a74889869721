// Package security holds the bearer-token guard used on mutating
// routes. Token verification itself is delegated to the upstream
// gateway; this layer only requires a token to be present and exposes
// it to handlers.
package security

import (
	"net/http"
	"strings"

	"TMProject/global/config"

	"github.com/gin-gonic/gin"
)

// CtxAuthKey is the gin context key handlers read the raw token from.
const CtxAuthKey = "authorization"

type Options struct {
	HeaderToken  string // defaults to "authorization"
	EnableBearer bool   // accept "Authorization: Bearer xxx"
}

func DefaultOptions() *Options {
	return &Options{
		HeaderToken:  CtxAuthKey,
		EnableBearer: true,
	}
}

func Middleware(opts *Options) gin.HandlerFunc {
	if opts == nil {
		opts = DefaultOptions()
	}
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader(opts.HeaderToken))

		if token == "" && opts.EnableBearer {
			if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
				if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
					token = strings.TrimSpace(authz[len("bearer "):])
				}
			}
		}

		if token != "" {
			c.Set(CtxAuthKey, token)
		}

		if config.Global != nil && config.Global.AuthRequired && token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		c.Next()
	}
}
