package chat

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"TMProject/module/chat/model"
	"TMProject/module/chat/reply"
	"TMProject/module/chat/service"
	"TMProject/module/chat/store"
	"TMProject/module/chat/store/storetest"
	"TMProject/service/bus"
	"TMProject/service/cache"
	"TMProject/service/cachebus"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T) (*gin.Engine, *storetest.Fake) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fake := storetest.New()
	local := cache.New()
	broker := bus.NewMemoryBroker()
	b := bus.New(bus.Config{
		Enabled:     true,
		TopicPrefix: "tm",
		Topics:      []string{service.MessagesTopic, cachebus.Topic},
	}, broker.Transport())
	t.Cleanup(b.Stop)

	mat := store.NewMaterializer(fake, local, nil, 10, []int{50, 100}, 15)
	inv := cachebus.New(local, nil, b)
	svc := service.New(fake, mat, reply.NewResolver(fake), local, nil, inv, b, 15, 500)

	r := gin.New()
	NewHandler(svc).RegisterRoutes(r)
	return r, fake
}

func doJSON(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestLatestCarriesCachingHeaders(t *testing.T) {
	r, fake := newRouter(t)
	fake.Seed(model.Message{RoomID: "g1", MessageID: "m1", Username: "ada", Text: "hi", CreatedAt: 1})

	w := doJSON(r, http.MethodGet, "/messages/g1/latest", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "public, max-age=10, stale-while-revalidate=30", w.Header().Get("Cache-Control"))
	assert.Regexp(t, `^W/"[0-9a-f]{32}"$`, w.Header().Get("ETag"))
}

func TestLatestNotModifiedRoundTrip(t *testing.T) {
	r, fake := newRouter(t)
	fake.Seed(model.Message{RoomID: "g1", MessageID: "m1", Username: "ada", Text: "hi", CreatedAt: 1})

	first := doJSON(r, http.MethodGet, "/messages/g1/latest", nil)
	require.Equal(t, http.StatusOK, first.Code)
	tag := first.Header().Get("ETag")
	require.NotEmpty(t, tag)

	req := httptest.NewRequest(http.MethodGet, "/messages/g1/latest", nil)
	req.Header.Set("If-None-Match", tag)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Body.Bytes())
	assert.Equal(t, tag, w.Header().Get("ETag"))
}

func TestLatestETagChangesWithContent(t *testing.T) {
	r, fake := newRouter(t)
	fake.Seed(model.Message{RoomID: "g1", MessageID: "m1", Username: "ada", Text: "hi", CreatedAt: 1})

	first := doJSON(r, http.MethodGet, "/messages/g1/latest", nil)
	tag := first.Header().Get("ETag")

	w := doJSON(r, http.MethodPost, "/messages/g1", model.CreateMessageRequest{
		UserID: "u1", Username: "ada", Text: "another",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/messages/g1/latest", nil)
	req.Header.Set("If-None-Match", tag)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEqual(t, tag, rec.Header().Get("ETag"))
}

func TestCreateValidatesBody(t *testing.T) {
	r, _ := newRouter(t)

	// username missing
	w := doJSON(r, http.MethodPost, "/messages/g1", map[string]any{"userId": "u1", "text": "hi"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateReturnsDocument(t *testing.T) {
	r, _ := newRouter(t)

	w := doJSON(r, http.MethodPost, "/messages/g1", model.CreateMessageRequest{
		UserID: "u1", Username: "ada", Text: "hello",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var msg model.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msg))
	assert.NotEmpty(t, msg.MessageID)
	assert.Equal(t, "g1", msg.RoomID)
	assert.Equal(t, "hello", msg.Text)
}

func TestEditUnknownMessageIs404(t *testing.T) {
	r, _ := newRouter(t)

	w := doJSON(r, http.MethodPut, "/messages/g1/ghost", model.EditMessageRequest{NewText: "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteThenLatestShowsTombstone(t *testing.T) {
	r, fake := newRouter(t)
	fake.Seed(model.Message{RoomID: "g1", MessageID: "m1", Username: "ada", Text: "gone soon", CreatedAt: 1})

	w := doJSON(r, http.MethodDelete, "/messages/g1/m1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	latest := doJSON(r, http.MethodGet, "/messages/g1/latest", nil)
	require.Equal(t, http.StatusOK, latest.Code)

	var body struct {
		Messages []model.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(latest.Body.Bytes(), &body))
	require.Len(t, body.Messages, 1)
	assert.True(t, body.Messages[0].Deleted)
	assert.Empty(t, body.Messages[0].Text)
}

func TestReactRequiresUser(t *testing.T) {
	r, fake := newRouter(t)
	fake.Seed(model.Message{RoomID: "g1", MessageID: "m1", Username: "ada", Text: "hi", CreatedAt: 1})

	w := doJSON(r, http.MethodPost, "/messages/g1/m1/reactions", model.ReactRequest{Emoji: "🔥"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReactReturnsSummary(t *testing.T) {
	r, fake := newRouter(t)
	fake.Seed(model.Message{RoomID: "g1", MessageID: "m1", Username: "ada", Text: "hi", CreatedAt: 1})

	w := doJSON(r, http.MethodPost, "/messages/g1/m1/reactions", model.ReactRequest{
		Emoji: "🔥",
		User:  model.ReactUser{UserID: "u2", Username: "bob"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Reactions map[string]model.Reaction `json:"reactions"`
		Summary   model.ReactionSummary     `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "🔥", body.Reactions["u2"].Emoji)
	assert.Equal(t, 1, body.Summary.TotalCount)
}

func TestPreviewsEndpoint(t *testing.T) {
	r, fake := newRouter(t)
	fake.Seed(model.Message{RoomID: "g1", MessageID: "m1", Username: "ada", Text: "latest in g1", CreatedAt: 2})

	w := doJSON(r, http.MethodGet, "/inbox/previews?groups=g1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "public, max-age=5, stale-while-revalidate=15", w.Header().Get("Cache-Control"))

	var body struct {
		Count    int             `json:"count"`
		Previews []model.Preview `json:"previews"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "g1", body.Previews[0].ThreadID)
	assert.Equal(t, "latest in g1", body.Previews[0].Text)
}

func TestRecordingsEndpoint(t *testing.T) {
	r, fake := newRouter(t)
	fake.Seed(model.Message{RoomID: "g1", MessageID: "a1", Username: "ada", Kind: "audio", CreatedAt: 1})
	fake.Seed(model.Message{RoomID: "g1", MessageID: "t1", Username: "ada", Kind: "text", CreatedAt: 2})

	w := doJSON(r, http.MethodGet, "/users/ada/recordings", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Count      int             `json:"count"`
		Recordings []model.Message `json:"recordings"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "a1", body.Recordings[0].MessageID)
}

func TestBackfillRepliesEndpoint(t *testing.T) {
	r, fake := newRouter(t)
	fake.Seed(model.Message{RoomID: "g1", MessageID: "m1", Username: "ada", Text: "the original", CreatedAt: 1})
	fake.Seed(model.Message{
		RoomID: "g1", MessageID: "m2", Username: "bob", Text: "a reply", CreatedAt: 2,
		ReplyTo: &model.ReplyRef{MessageID: "m1"},
	})

	w := doJSON(r, http.MethodPost, "/messages/g1/backfill-replies", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Checked int `json:"checked"`
		Updated int `json:"updated"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Checked)
	assert.Equal(t, 1, body.Updated)
}
