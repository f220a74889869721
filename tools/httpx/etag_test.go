package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeakETagDeterministic(t *testing.T) {
	type payload struct {
		B string `json:"b"`
		A int    `json:"a"`
	}
	first := WeakETag(payload{B: "x", A: 1})
	second := WeakETag(payload{B: "x", A: 1})
	assert.Equal(t, first, second)
	assert.Regexp(t, `^W/"[0-9a-f]{32}"$`, first)

	assert.NotEqual(t, first, WeakETag(payload{B: "y", A: 1}))
}

func TestWeakETagMapKeysSorted(t *testing.T) {
	a := WeakETag(map[string]int{"a": 1, "b": 2, "c": 3})
	b := WeakETag(map[string]int{"c": 3, "b": 2, "a": 1})
	assert.Equal(t, a, b)
}

func TestWeakETagRawBytesPassThrough(t *testing.T) {
	assert.Equal(t, WeakETag([]byte("abc")), WeakETag("abc"))
}

func TestConditionalMissServesHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	hit := Conditional(c, gin.H{"v": 1}, 10, 30)
	require.False(t, hit)
	assert.Equal(t, "public, max-age=10, stale-while-revalidate=30", w.Header().Get("Cache-Control"))
	assert.NotEmpty(t, w.Header().Get("ETag"))
}

func TestConditionalHitWrites304(t *testing.T) {
	gin.SetMode(gin.TestMode)
	body := gin.H{"v": 1}
	tag := WeakETag(body)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.Header.Set("If-None-Match", tag)

	hit := Conditional(c, body, 10, 30)
	require.True(t, hit)
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Body.Bytes())
}
