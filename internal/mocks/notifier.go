package mocks

import (
	"sync"

	"messaging-core/internal/models"
)

// NotifierCall records a single fan-out invocation.
type NotifierCall struct {
	Kind           string
	ConversationID string
	Message        models.Message
	ParticipantID  string
	IsTyping       bool
}

// NotifierRecorder captures fan-out calls for assertions. It satisfies both
// the messaging and presence notifier interfaces.
type NotifierRecorder struct {
	mu    sync.Mutex
	calls []NotifierCall
}

func (n *NotifierRecorder) record(call NotifierCall) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, call)
}

func (n *NotifierRecorder) MessageAppended(conversationID string, msg models.Message) {
	n.record(NotifierCall{Kind: "message_appended", ConversationID: conversationID, Message: msg})
}

func (n *NotifierRecorder) MessageUpdated(conversationID string, msg models.Message) {
	n.record(NotifierCall{Kind: "message_updated", ConversationID: conversationID, Message: msg})
}

func (n *NotifierRecorder) StatusChanged(conversationID string, msg models.Message) {
	n.record(NotifierCall{Kind: "status_changed", ConversationID: conversationID, Message: msg})
}

func (n *NotifierRecorder) TypingChanged(conversationID, participantID string, isTyping bool) {
	n.record(NotifierCall{Kind: "typing_changed", ConversationID: conversationID, ParticipantID: participantID, IsTyping: isTyping})
}

// Calls returns a snapshot of the recorded calls.
func (n *NotifierRecorder) Calls() []NotifierCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]NotifierCall(nil), n.calls...)
}

// CallsOf returns the recorded calls of one kind.
func (n *NotifierRecorder) CallsOf(kind string) []NotifierCall {
	var out []NotifierCall
	for _, call := range n.Calls() {
		if call.Kind == kind {
			out = append(out, call)
		}
	}
	return out
}
