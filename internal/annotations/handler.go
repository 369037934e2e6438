package annotations

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"annothub/internal/auth"
	"annothub/internal/identity"
	"annothub/internal/presence"
	"annothub/pkg/models"
)

type Handler struct {
	Proc    *Processor
	Store   Store
	Hub     *presence.Hub
	limiter *rate.Limiter
}

func NewHandler(proc *Processor, store Store, hub *presence.Hub) *Handler {
	return &Handler{
		Proc:  proc,
		Store: store,
		Hub:   hub,
		// proactive throttle on ingest: bursts of 40, 20 req/s sustained
		limiter: rate.NewLimiter(rate.Limit(20), 40),
	}
}

func (h *Handler) RegisterRoutes(public, protected *gin.RouterGroup) {
	public.GET("/annotations", h.get)
	protected.POST("/annotations/batch", h.rateLimit, h.ingestBatch)
	protected.PUT("/annotations/:document_id/:id", h.update)
	protected.DELETE("/annotations/:document_id/:id", h.deleteOne)
	protected.DELETE("/annotations", h.clearDocument)
}

func (h *Handler) rateLimit(c *gin.Context) {
	if !h.limiter.Allow() {
		c.JSON(http.StatusTooManyRequests, gin.H{"success": false, "message": "rate limit exceeded"})
		c.Abort()
	}
}

type documentInfo struct {
	Identifier  *models.Identifier `json:"identifier"`
	Title       string             `json:"title"`
	Authors     []string           `json:"authors"`
	Publication string             `json:"publication"`
	Year        int                `json:"year"`
}

type batchReq struct {
	DocumentInfo *documentInfo `json:"documentInfo"`
	Annotations  []Native      `json:"annotations"`
	Source       string        `json:"source"`
	Version      string        `json:"version"`
}

func (h *Handler) ingestBatch(c *gin.Context) {
	var req batchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid json"})
		return
	}

	if req.DocumentInfo == nil || req.DocumentInfo.Identifier == nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "documentInfo.identifier is required"})
		return
	}
	if strings.TrimSpace(req.DocumentInfo.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "documentInfo.title is required"})
		return
	}
	if req.Annotations == nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "annotations must be an array"})
		return
	}

	ident := *req.DocumentInfo.Identifier
	if ident.Type == models.IdentifierDOI && !strings.HasPrefix(strings.TrimSpace(ident.Value), "10.") {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid DOI format"})
		return
	}

	normalized, err := identity.Normalize(ident)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}
	ident.Normalized = normalized

	documentID, err := identity.DocumentID(ident)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	doc := models.Document{
		ID:          documentID,
		Identifier:  ident,
		Title:       strings.TrimSpace(req.DocumentInfo.Title),
		Authors:     req.DocumentInfo.Authors,
		Publication: req.DocumentInfo.Publication,
		Year:        req.DocumentInfo.Year,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.Store.PutDocument(c.Request.Context(), doc); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "save document failed"})
		return
	}

	results, created, err := h.Proc.ProcessBatch(c.Request.Context(), documentID, req.Annotations)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "batch processing failed"})
		return
	}

	if h.Hub != nil {
		userID := ""
		if claims := auth.MustGetClaims(c); claims != nil {
			userID = claims.UserID
		}
		for _, ann := range created {
			ev := presence.NewEnvelope(presence.TypeAnnotationCreated, userID, ann)
			go h.Hub.Broadcast(documentID, ev)
		}
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "batch processed",
		"data": gin.H{
			"documentId":     documentID,
			"processedCount": len(results),
			"annotations":    results,
		},
	})
}

func (h *Handler) get(c *gin.Context) {
	ctx := c.Request.Context()

	var doc *models.Document
	var err error

	switch {
	case strings.TrimSpace(c.Query("doi")) != "":
		ident := models.Identifier{Type: models.IdentifierDOI, Value: c.Query("doi")}
		normalized, nerr := identity.Normalize(ident)
		if nerr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid DOI format"})
			return
		}
		doc, err = h.Store.FindDocumentByIdentifier(ctx, models.IdentifierDOI, normalized)
	case strings.TrimSpace(c.Query("documentId")) != "":
		doc, err = h.Store.GetDocument(ctx, strings.TrimSpace(c.Query("documentId")))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "doi or documentId is required"})
		return
	}

	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "lookup failed"})
		return
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "document not found"})
		return
	}

	anns, err := h.Store.ListAnnotations(ctx, doc.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "list failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"document":    doc,
			"annotations": anns,
			"total":       len(anns),
		},
	})
}

func (h *Handler) update(c *gin.Context) {
	documentID := strings.TrimSpace(c.Param("document_id"))
	id := strings.TrimSpace(c.Param("id"))

	var native Native
	if err := c.ShouldBindJSON(&native); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid json"})
		return
	}
	native.ID = id

	now := time.Now().UTC()
	ann, err := Normalize(native, documentID, now)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	existing, err := h.Store.GetAnnotation(c.Request.Context(), documentID, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "lookup failed"})
		return
	}
	if existing == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "annotation not found"})
		return
	}

	ann.CreatedAt = existing.CreatedAt
	ann.Version = existing.Version + 1

	if _, err := h.Store.UpdateAnnotation(c.Request.Context(), ann); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "update failed"})
		return
	}

	if h.Hub != nil {
		userID := ""
		if claims := auth.MustGetClaims(c); claims != nil {
			userID = claims.UserID
		}
		go h.Hub.Broadcast(documentID, presence.NewEnvelope(presence.TypeAnnotationUpdated, userID, ann))
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": ann})
}

func (h *Handler) deleteOne(c *gin.Context) {
	documentID := strings.TrimSpace(c.Param("document_id"))
	id := strings.TrimSpace(c.Param("id"))

	deleted, err := h.Store.DeleteAnnotation(c.Request.Context(), documentID, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "delete failed"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "annotation not found"})
		return
	}

	if h.Hub != nil {
		userID := ""
		if claims := auth.MustGetClaims(c); claims != nil {
			userID = claims.UserID
		}
		go h.Hub.Broadcast(documentID, presence.NewEnvelope(presence.TypeAnnotationDeleted, userID, gin.H{"id": id}))
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// clearDocument is the scoped reset primitive: it clears one document's
// annotations, never the whole store.
func (h *Handler) clearDocument(c *gin.Context) {
	documentID := strings.TrimSpace(c.Query("documentId"))
	if documentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "documentId is required"})
		return
	}

	n, err := h.Store.ClearDocument(c.Request.Context(), documentID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "clear failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"deleted": n}})
}
