package httpx

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// WeakETag returns a deterministic weak validator for a payload.
// Structs and maps are normalized to compact JSON first (encoding/json
// emits struct fields in declaration order and sorts map keys, so equal
// payloads always hash the same).
func WeakETag(payload any) string {
	var raw []byte
	switch v := payload.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			b = []byte(fmt.Sprintf("%v", payload))
		}
		raw = b
	}
	sum := md5.Sum(raw)
	return `W/"` + hex.EncodeToString(sum[:]) + `"`
}

// Conditional stamps ETag and Cache-Control headers for a cacheable read
// and short-circuits with 304 when the request's If-None-Match hits.
// Returns true when the 304 has been written and no body should follow.
func Conditional(c *gin.Context, payload any, maxAge, staleWhileRevalidate int) bool {
	tag := WeakETag(payload)
	c.Header("Cache-Control", fmt.Sprintf("public, max-age=%d, stale-while-revalidate=%d", maxAge, staleWhileRevalidate))
	c.Header("ETag", tag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == tag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}
