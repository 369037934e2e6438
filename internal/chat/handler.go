package chat

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"annothub/internal/auth"
	"annothub/pkg/models"
)

type Handler struct {
	Repo *Repo
}

func NewHandler(repo *Repo) *Handler {
	return &Handler{Repo: repo}
}

func (h *Handler) RegisterRoutes(public, protected *gin.RouterGroup) {
	public.GET("/chat/messages", h.list)
	protected.POST("/chat/messages", h.post)
	protected.DELETE("/chat/messages", h.delete)
}

func (h *Handler) list(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Query("session_id"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "session_id is required"})
		return
	}

	if raw := strings.TrimSpace(c.Query("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "since must be RFC3339"})
			return
		}

		msgs, err := h.Repo.ListSince(c.Request.Context(), sessionID, since)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "list failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": msgs})
		return
	}

	page := parseInt(c.Query("page"), 1)
	limit := parseInt(c.Query("limit"), 50)

	msgs, total, err := h.Repo.List(c.Request.Context(), sessionID, page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "list failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    msgs,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

type postReq struct {
	SessionID   string         `json:"session_id"`
	Message     string         `json:"message"`
	MessageType string         `json:"message_type"`
	Metadata    map[string]any `json:"metadata"`
}

func (h *Handler) post(c *gin.Context) {
	claims := auth.MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req postReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid json"})
		return
	}

	req.SessionID = strings.TrimSpace(req.SessionID)
	req.Message = strings.TrimSpace(req.Message)
	if req.SessionID == "" || req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "session_id and message are required"})
		return
	}

	msgType := strings.TrimSpace(req.MessageType)
	if msgType == "" {
		msgType = "text"
	}

	// Display name comes from the authenticated identity, never from
	// the payload.
	msg := models.ChatMessage{
		ID:          uuid.NewString(),
		SessionID:   req.SessionID,
		UserID:      claims.UserID,
		UserName:    claims.Username,
		Message:     req.Message,
		MessageType: msgType,
		Metadata:    req.Metadata,
		CreatedAt:   time.Now().UTC(),
	}

	if err := h.Repo.Insert(c.Request.Context(), msg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "save failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "data": msg})
}

func (h *Handler) delete(c *gin.Context) {
	claims := auth.MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	messageID := strings.TrimSpace(c.Query("message_id"))
	if messageID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "message_id is required"})
		return
	}

	err := h.Repo.Delete(c.Request.Context(), messageID, claims.UserID)
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "message not found"})
	case errors.Is(err, ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "only the author can delete a message"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "delete failed"})
	default:
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func parseInt(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
