package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"messaging-core/internal/messaging"
	"messaging-core/internal/models"
	"messaging-core/internal/telemetry"
)

// MessageHandler manages message log endpoints.
type MessageHandler struct {
	service *messaging.Service
	audit   *telemetry.AuditEmitter
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(service *messaging.Service, audit *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{service: service, audit: audit}
}

type contentRequest struct {
	Kind         string `json:"kind" binding:"required"`
	Text         string `json:"text"`
	URI          string `json:"uri"`
	Size         int64  `json:"size"`
	ThumbnailURI string `json:"thumbnail_uri"`
}

func (r contentRequest) toModel() models.MessageContent {
	return models.MessageContent{
		Kind:         r.Kind,
		Text:         r.Text,
		URI:          r.URI,
		Size:         r.Size,
		ThumbnailURI: r.ThumbnailURI,
	}
}

// Post appends a message to the conversation log and broadcasts it.
func (h *MessageHandler) Post(c *gin.Context) {
	var req struct {
		Content   contentRequest `json:"content" binding:"required"`
		ReplyToID string         `json:"reply_to_message_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	self := participantFromContext(c)
	msg, err := h.service.Send(c.Request.Context(), self, c.Param("conversation_id"), req.Content.toModel(), req.ReplyToID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// Edit replaces a message's content (sender only).
func (h *MessageHandler) Edit(c *gin.Context) {
	var req struct {
		Content contentRequest `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	self := participantFromContext(c)
	msg, err := h.service.Edit(c.Request.Context(), self, c.Param("message_id"), req.Content.toModel())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// Delete tombstones a message (sender only). The sequence slot survives.
func (h *MessageHandler) Delete(c *gin.Context) {
	self := participantFromContext(c)
	if err := h.service.Delete(c.Request.Context(), self, c.Param("message_id")); err != nil {
		respondServiceError(c, err)
		return
	}

	if h.audit != nil {
		var actor *string
		if self != "" {
			actor = &self
		}
		h.audit.Emit(c.Request.Context(), "INFO", "message deleted", requestIDFromContext(c), actor)
	}
	c.Status(http.StatusNoContent)
}

// History pages through the conversation log in ascending sequence order.
func (h *MessageHandler) History(c *gin.Context) {
	afterSeq, err := strconv.ParseInt(c.DefaultQuery("after_seq", "0"), 10, 64)
	if err != nil || afterSeq < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after_seq"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	self := participantFromContext(c)
	msgs, err := h.service.History(c.Request.Context(), self, c.Param("conversation_id"), afterSeq, limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// Receipts returns the per-recipient delivery detail for a message.
func (h *MessageHandler) Receipts(c *gin.Context) {
	self := participantFromContext(c)
	receipts, err := h.service.Receipts(c.Request.Context(), self, c.Param("message_id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"receipts": receipts})
}

// ReportDelivered lets a recipient's client acknowledge receipt over HTTP;
// connected clients usually ack over the subscription stream instead.
func (h *MessageHandler) ReportDelivered(c *gin.Context) {
	self := participantFromContext(c)
	if err := h.service.MarkDelivered(c.Request.Context(), self, c.Param("message_id")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ReportFailed records a terminal transport failure for a message. The
// failure shows up as message status, keeping the message in history with an
// explicit retry affordance.
func (h *MessageHandler) ReportFailed(c *gin.Context) {
	self := participantFromContext(c)
	if err := h.service.ReportFailed(c.Request.Context(), self, c.Param("message_id")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
