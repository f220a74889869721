// Package chat exposes the message HTTP surface.
package chat

import (
	"net/http"
	"strconv"

	"TMProject/middleware"
	"TMProject/module/chat/model"
	"TMProject/module/chat/service"
	"TMProject/tools"
	"TMProject/tools/httpx"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

type Handler struct {
	svc *service.Service
}

func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the chat surface. Mutations go through the
// token guard; cacheable reads are open and carry conditional headers.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	middleware.GET(r, "/messages/:groupId/latest", h.Latest, middleware.RouteOpt{})
	middleware.GET(r, "/inbox/previews", h.Previews, middleware.RouteOpt{})
	middleware.GET(r, "/users/:username/recordings", h.Recordings, middleware.RouteOpt{})

	middleware.POST(r, "/messages/:groupId", h.Create, middleware.RouteOpt{IsAuth: true})
	middleware.PUT(r, "/messages/:groupId/:messageId", h.Edit, middleware.RouteOpt{IsAuth: true})
	middleware.DELETE(r, "/messages/:groupId/:messageId", h.Delete, middleware.RouteOpt{IsAuth: true})
	middleware.POST(r, "/messages/:groupId/:messageId/reactions", h.React, middleware.RouteOpt{IsAuth: true})
	middleware.POST(r, "/messages/:groupId/backfill-replies", h.BackfillReplies, middleware.RouteOpt{IsAuth: true})
}

func intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func fail(c *gin.Context, err error) {
	if errors.Is(err, service.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// Latest returns the last N messages of a thread with conditional
// caching headers; unchanged payloads answer 304 with no body.
func (h *Handler) Latest(c *gin.Context) {
	groupID := c.Param("groupId")
	count := h.svc.ClampCount(intQuery(c, "count", 100))

	items, err := h.svc.Latest(c.Request.Context(), groupID, count)
	if err != nil {
		fail(c, err)
		return
	}

	body := gin.H{"groupId": groupID, "count": len(items), "messages": items}
	if httpx.Conditional(c, body, 10, 30) {
		return
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) Previews(c *gin.Context) {
	joined := tools.SplitCSV(c.Query("groups"))

	previews, err := h.svc.Previews(c.Request.Context(), joined)
	if err != nil {
		fail(c, err)
		return
	}

	body := gin.H{"count": len(previews), "previews": previews}
	if httpx.Conditional(c, body, 5, 15) {
		return
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) Recordings(c *gin.Context) {
	username := c.Param("username")
	limit := intQuery(c, "limit", 100)

	items, err := h.svc.Recordings(c.Request.Context(), username, limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"username": username, "count": len(items), "recordings": items})
}

func (h *Handler) Create(c *gin.Context) {
	var req model.CreateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.svc.Create(c.Request.Context(), c.Param("groupId"), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) Edit(c *gin.Context) {
	var req model.EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.svc.Edit(c.Request.Context(), c.Param("groupId"), c.Param("messageId"), req.NewText)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *Handler) Delete(c *gin.Context) {
	deletedAt, err := h.svc.Delete(c.Request.Context(), c.Param("groupId"), c.Param("messageId"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true, "deletedAt": deletedAt})
}

func (h *Handler) React(c *gin.Context) {
	var req model.ReactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.User.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user.userId is required"})
		return
	}

	reactions, summary, err := h.svc.React(c.Request.Context(), c.Param("groupId"), c.Param("messageId"), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reactions": reactions, "summary": summary})
}

func (h *Handler) BackfillReplies(c *gin.Context) {
	limit := intQuery(c, "limit", 0)

	checked, updated, err := h.svc.BackfillReplies(c.Request.Context(), c.Param("groupId"), limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"checked": checked, "updated": updated})
}
