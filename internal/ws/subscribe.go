package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"messaging-core/internal/messaging"
	"messaging-core/internal/middleware"
	"messaging-core/internal/observability"
	"messaging-core/internal/presence"
	"messaging-core/internal/repositories"
)

// SubscribeHandler upgrades conversation subscriptions. Subscribers receive
// the event stream (messages, status changes, typing) and may send two frame
// types upstream: delivery acknowledgements and typing signals.
type SubscribeHandler struct {
	hub           *Hub
	conversations repositories.ConversationRepository
	service       *messaging.Service
	typing        *presence.Broadcaster
	verifier      *middleware.TokenVerifier
}

// NewSubscribeHandler constructs a SubscribeHandler.
func NewSubscribeHandler(hub *Hub, conversations repositories.ConversationRepository, service *messaging.Service, typing *presence.Broadcaster, verifier *middleware.TokenVerifier) *SubscribeHandler {
	return &SubscribeHandler{hub: hub, conversations: conversations, service: service, typing: typing, verifier: verifier}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// inboundFrame is what clients send over an open subscription.
type inboundFrame struct {
	Type      string `json:"type"` // "delivered" or "typing"
	MessageID string `json:"message_id,omitempty"`
	IsTyping  bool   `json:"is_typing,omitempty"`
}

// Handle validates access, upgrades the connection and registers the client.
func (h *SubscribeHandler) Handle(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	ctx, span := otel.Tracer("messaging-core/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.GetHeader("Authorization")
	if token == "" {
		if q := c.Query("token"); q != "" {
			token = "Bearer " + q
		}
	}

	participantID, err := h.validateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	member, err := h.conversations.IsParticipant(c.Request.Context(), conversationID, participantID)
	if err != nil || !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	traceID := span.SpanContext().TraceID().String()
	requestID := observability.RequestIDFromRequest(c.Request)
	info := ConnInfo{
		ConnID:        newConnID(),
		ParticipantID: participantID,
		DeviceID:      observability.DeviceIDFromRequest(c.Request),
		IP:            observability.IPFromRequest(c.Request),
		RequestID:     requestID,
		TraceID:       traceID,
		ConnectedAt:   time.Now(),
	}
	h.hub.AddClient(conversationID, conn, info)

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	h.publishLifecycle(ctx, conversationID, info, "ws_connect", "")

	go h.readPump(conversationID, conn, info)
}

func (h *SubscribeHandler) readPump(conversationID string, conn *websocket.Conn, info ConnInfo) {
	// The request context dies once the handler returns; the pump outlives it.
	ctx := context.Background()
	var closeReason string
	defer func() {
		h.hub.RemoveClient(conversationID, conn)
		h.typing.StopTyping(conversationID, info.ParticipantID)
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		h.publishLifecycle(ctx, conversationID, info, "ws_disconnect", closeReason)
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
				h.publishLifecycle(ctx, conversationID, info, "ws_error", closeReason)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			logrus.WithError(err).Debug("ignoring malformed ws frame")
			continue
		}

		switch frame.Type {
		case "delivered":
			if frame.MessageID == "" {
				continue
			}
			if err := h.service.MarkDelivered(ctx, info.ParticipantID, frame.MessageID); err != nil &&
				!errors.Is(err, messaging.ErrNotFound) && !errors.Is(err, messaging.ErrInvalidOperation) {
				logrus.WithError(err).WithField("message_id", frame.MessageID).Warn("delivery ack failed")
			}
		case "typing":
			if frame.IsTyping {
				h.typing.StartTyping(conversationID, info.ParticipantID)
			} else {
				h.typing.StopTyping(conversationID, info.ParticipantID)
			}
		}
	}
}

func (h *SubscribeHandler) publishLifecycle(ctx context.Context, conversationID string, info ConnInfo, event, reason string) {
	_ = observability.PublishEvent(ctx, "ws_events.conversations", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"conversation_id": conversationID,
				"event":           event,
				"conn_id":         info.ConnID,
				"duration_ms":     time.Since(info.ConnectedAt).Milliseconds(),
				"reason":          reason,
			},
			"identity": map[string]interface{}{
				"participant_id": info.ParticipantID,
				"device_id":      info.DeviceID,
				"ip":             info.IP,
			},
		},
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}

func (h *SubscribeHandler) validateToken(header string) (string, error) {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return h.verifier.Verify(header[len(prefix):])
	}
	return "", errors.New("invalid token")
}
