package middleware

import (
	midsec "TMProject/middleware/security"

	"github.com/gin-gonic/gin"
)

// RouteOpt controls per-route middleware.
type RouteOpt struct {
	IsAuth bool
}

func wrap(handler gin.HandlerFunc, opt RouteOpt) []gin.HandlerFunc {
	if opt.IsAuth {
		return []gin.HandlerFunc{midsec.Middleware(midsec.DefaultOptions()), handler}
	}
	return []gin.HandlerFunc{handler}
}

func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.GET(path, wrap(handler, opt)...)
}

func POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.POST(path, wrap(handler, opt)...)
}

func PUT(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.PUT(path, wrap(handler, opt)...)
}

func DELETE(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.DELETE(path, wrap(handler, opt)...)
}
