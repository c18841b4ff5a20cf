package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"messaging-core/internal/messaging"
	"messaging-core/internal/models"
	"messaging-core/internal/presence"
	"messaging-core/internal/repositories"
	"messaging-core/internal/telemetry"
)

// ConversationHandler manages conversation lifecycle, read state and typing
// endpoints.
type ConversationHandler struct {
	service       *messaging.Service
	conversations repositories.ConversationRepository
	typing        *presence.Broadcaster
	audit         *telemetry.AuditEmitter
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(service *messaging.Service, conversations repositories.ConversationRepository, typing *presence.Broadcaster, audit *telemetry.AuditEmitter) *ConversationHandler {
	return &ConversationHandler{
		service:       service,
		conversations: conversations,
		typing:        typing,
		audit:         audit,
	}
}

// StartDirect resolves or creates the direct conversation with another
// participant. Repeated and concurrent calls for the same pair return the
// same conversation.
func (h *ConversationHandler) StartDirect(c *gin.Context) {
	var req struct {
		ParticipantID string `json:"participant_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	self := participantFromContext(c)
	conv, err := h.service.CreateOrGetDirect(c.Request.Context(), self, req.ParticipantID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	h.emitAudit(c, "direct conversation resolved")
	c.JSON(http.StatusOK, conv)
}

// CreateGroup creates a new group conversation.
func (h *ConversationHandler) CreateGroup(c *gin.Context) {
	var req struct {
		Name           string   `json:"name" binding:"required"`
		ImageURI       string   `json:"image_uri"`
		ParticipantIDs []string `json:"participant_ids" binding:"required,min=1,dive,required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	self := participantFromContext(c)
	conv, err := h.service.CreateGroup(c.Request.Context(), self, req.Name, req.ImageURI, req.ParticipantIDs)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	h.emitAudit(c, "group conversation created")
	c.JSON(http.StatusCreated, conv)
}

// AddParticipant grows a group conversation.
func (h *ConversationHandler) AddParticipant(c *gin.Context) {
	var req struct {
		ParticipantID string `json:"participant_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	self := participantFromContext(c)
	if err := h.service.AddParticipant(c.Request.Context(), c.Param("conversation_id"), self, req.ParticipantID); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// List returns the caller's conversations with unread counts, most recently
// active first.
func (h *ConversationHandler) List(c *gin.Context) {
	self := participantFromContext(c)

	convs, err := h.service.ListConversations(c.Request.Context(), self)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	unread, err := h.service.UnreadAll(c.Request.Context(), self)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	type conversationResponse struct {
		models.Conversation
		UnreadCount int64 `json:"unread_count"`
	}

	responses := lo.Map(convs, func(conv models.Conversation, _ int) conversationResponse {
		return conversationResponse{Conversation: conv, UnreadCount: unread[conv.ID]}
	})
	c.JSON(http.StatusOK, gin.H{"conversations": responses})
}

// MarkRead advances the caller's read marker. Backward marks are accepted and
// ignored.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	// through_seq is a pointer so a zero mark binds; the service treats it as
	// a no-op rather than an error.
	var req struct {
		ThroughSeq *int64 `json:"through_seq" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	self := participantFromContext(c)
	if err := h.service.MarkRead(c.Request.Context(), self, c.Param("conversation_id"), *req.ThroughSeq); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Unread returns the caller's unread count for one conversation.
func (h *ConversationHandler) Unread(c *gin.Context) {
	self := participantFromContext(c)
	count, err := h.service.Unread(c.Request.Context(), self, c.Param("conversation_id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread_count": count})
}

// UnreadAll returns per-conversation unread counts for badge totals.
func (h *ConversationHandler) UnreadAll(c *gin.Context) {
	self := participantFromContext(c)
	counts, err := h.service.UnreadAll(c.Request.Context(), self)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread_counts": counts})
}

// SetTyping records or clears the caller's typing signal.
func (h *ConversationHandler) SetTyping(c *gin.Context) {
	var req struct {
		IsTyping *bool `json:"is_typing" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conversationID := c.Param("conversation_id")
	self := participantFromContext(c)
	member, err := h.conversations.IsParticipant(c.Request.Context(), conversationID, self)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
		return
	}

	if *req.IsTyping {
		h.typing.StartTyping(conversationID, self)
	} else {
		h.typing.StopTyping(conversationID, self)
	}
	c.Status(http.StatusNoContent)
}

func (h *ConversationHandler) emitAudit(c *gin.Context, text string) {
	if h.audit == nil {
		return
	}
	self := participantFromContext(c)
	var actor *string
	if self != "" {
		actor = &self
	}
	h.audit.Emit(c.Request.Context(), "INFO", text, requestIDFromContext(c), actor)
}
