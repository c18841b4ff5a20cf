package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"messaging-core/internal/models"
	"messaging-core/internal/observability"
)

// writeWait bounds how long a single frame write may stall on a slow client.
const writeWait = 10 * time.Second

// client pairs a subscription's metadata with the write lock serializing
// frames to its connection.
type client struct {
	mu   sync.Mutex
	info ConnInfo
}

// Hub maintains the active subscriptions per conversation and fans events out
// to them. It implements the facade's Notifier contract.
type Hub struct {
	rooms map[string]map[*websocket.Conn]*client
	mu    sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*websocket.Conn]*client)}
}

// AddClient registers a websocket connection to a conversation room.
func (h *Hub) AddClient(conversationID string, conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[conversationID]; !ok {
		h.rooms[conversationID] = make(map[*websocket.Conn]*client)
	}
	h.rooms[conversationID][conn] = &client{info: info}
}

// RemoveClient removes a websocket connection from a conversation room.
func (h *Hub) RemoveClient(conversationID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[conversationID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.rooms, conversationID)
		}
	}
}

// MessageAppended sends a freshly appended message to all subscribers.
func (h *Hub) MessageAppended(conversationID string, msg models.Message) {
	h.broadcast(conversationID, "", models.Event{Type: models.EventMessage, Message: &msg})
}

// MessageUpdated sends an edited message to all subscribers.
func (h *Hub) MessageUpdated(conversationID string, msg models.Message) {
	h.broadcast(conversationID, "", models.Event{Type: models.EventMessage, Message: &msg})
}

// StatusChanged sends an aggregate delivery status change to all subscribers.
func (h *Hub) StatusChanged(conversationID string, msg models.Message) {
	h.broadcast(conversationID, "", models.Event{Type: models.EventStatus, Message: &msg})
}

// TypingChanged sends a typing presence change to the other subscribers. The
// typer's own connections are skipped; the client already knows it is typing.
func (h *Hub) TypingChanged(conversationID, participantID string, isTyping bool) {
	h.broadcast(conversationID, participantID, models.Event{Type: models.EventTyping, Typing: &models.TypingEvent{
		ConversationID: conversationID,
		ParticipantID:  participantID,
		IsTyping:       isTyping,
	}})
}

type target struct {
	conn *websocket.Conn
	cl   *client
}

// snapshot copies a room's members under the read lock. Connections owned by
// excludeParticipant are left out.
func (h *Hub) snapshot(conversationID, excludeParticipant string) []target {
	h.mu.RLock()
	defer h.mu.RUnlock()
	targets := make([]target, 0, len(h.rooms[conversationID]))
	for conn, cl := range h.rooms[conversationID] {
		if excludeParticipant != "" && cl.info.ParticipantID == excludeParticipant {
			continue
		}
		targets = append(targets, target{conn: conn, cl: cl})
	}
	return targets
}

func (h *Hub) broadcast(conversationID, excludeParticipant string, event models.Event) {
	payload, _ := json.Marshal(event)
	for _, tgt := range h.snapshot(conversationID, excludeParticipant) {
		tgt.cl.mu.Lock()
		_ = tgt.conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := tgt.conn.WriteMessage(websocket.TextMessage, payload)
		tgt.cl.mu.Unlock()
		if err != nil {
			logrus.WithError(err).Warn("websocket write error")
			tgt.conn.Close()
			h.RemoveClient(conversationID, tgt.conn)
			h.publishWSError(conversationID, tgt.cl.info, err)
		}
	}
}

func (h *Hub) publishWSError(conversationID string, info ConnInfo, err error) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"conversation_id": conversationID,
			"event":           "ws_error",
			"conn_id":         info.ConnID,
			"duration_ms":     time.Since(info.ConnectedAt).Milliseconds(),
			"reason":          err.Error(),
		},
		"identity": map[string]interface{}{
			"participant_id": info.ParticipantID,
			"device_id":      info.DeviceID,
			"ip":             info.IP,
		},
	}

	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), "ws_events.conversations", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_error",
		Payload:   payload,
	}, headers)
	observability.IncWSEvent("ws_error")
}

func (h *Hub) getConnInfo(conversationID string, conn *websocket.Conn) (ConnInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if cl, ok := h.rooms[conversationID][conn]; ok {
		return cl.info, true
	}
	return ConnInfo{}, false
}
