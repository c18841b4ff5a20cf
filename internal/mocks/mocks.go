package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"messaging-core/internal/models"
)

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) CreateOrGetDirect(ctx context.Context, a, b string) (models.Conversation, error) {
	args := m.Called(ctx, a, b)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) CreateGroup(ctx context.Context, creatorID, name, imageURI string, participantIDs []string) (models.Conversation, error) {
	args := m.Called(ctx, creatorID, name, imageURI, participantIDs)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) Get(ctx context.Context, conversationID string) (models.Conversation, error) {
	args := m.Called(ctx, conversationID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) IsParticipant(ctx context.Context, conversationID, participantID string) (bool, error) {
	args := m.Called(ctx, conversationID, participantID)
	return args.Bool(0), args.Error(1)
}

func (m *ConversationRepositoryMock) AddParticipant(ctx context.Context, conversationID, participantID string) error {
	args := m.Called(ctx, conversationID, participantID)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) ListForParticipant(ctx context.Context, participantID string) ([]models.Conversation, error) {
	args := m.Called(ctx, participantID)
	var list []models.Conversation
	if val := args.Get(0); val != nil {
		list = val.([]models.Conversation)
	}
	return list, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Append(ctx context.Context, conversationID, senderID string, content models.MessageContent, replyToID string, recipientIDs []string) (models.Message, error) {
	args := m.Called(ctx, conversationID, senderID, content, replyToID, recipientIDs)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) Get(ctx context.Context, messageID string) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) Edit(ctx context.Context, messageID string, content models.MessageContent) (models.Message, error) {
	args := m.Called(ctx, messageID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) Tombstone(ctx context.Context, messageID string) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) FetchRange(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, afterSeq, limit)
	var list []models.Message
	if val := args.Get(0); val != nil {
		list = val.([]models.Message)
	}
	return list, args.Error(1)
}

func (m *MessageRepositoryMock) AdvanceReceipt(ctx context.Context, messageID, participantID string, status models.DeliveryStatus) (bool, error) {
	args := m.Called(ctx, messageID, participantID, status)
	return args.Bool(0), args.Error(1)
}

func (m *MessageRepositoryMock) ReadReceiptsThrough(ctx context.Context, conversationID, participantID string, throughSeq int64) error {
	args := m.Called(ctx, conversationID, participantID, throughSeq)
	return args.Error(0)
}

func (m *MessageRepositoryMock) PromoteAggregate(ctx context.Context, messageID string) (models.Message, bool, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Bool(1), args.Error(2)
}

func (m *MessageRepositoryMock) PromoteAggregatesThrough(ctx context.Context, conversationID string, throughSeq int64) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, throughSeq)
	var list []models.Message
	if val := args.Get(0); val != nil {
		list = val.([]models.Message)
	}
	return list, args.Error(1)
}

func (m *MessageRepositoryMock) MarkFailed(ctx context.Context, messageID string) (models.Message, bool, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Bool(1), args.Error(2)
}

func (m *MessageRepositoryMock) Receipts(ctx context.Context, messageID string) ([]models.Receipt, error) {
	args := m.Called(ctx, messageID)
	var list []models.Receipt
	if val := args.Get(0); val != nil {
		list = val.([]models.Receipt)
	}
	return list, args.Error(1)
}

type ReadMarkerRepositoryMock struct {
	mock.Mock
}

func (m *ReadMarkerRepositoryMock) Advance(ctx context.Context, conversationID, participantID string, throughSeq int64) (bool, error) {
	args := m.Called(ctx, conversationID, participantID, throughSeq)
	return args.Bool(0), args.Error(1)
}

func (m *ReadMarkerRepositoryMock) Get(ctx context.Context, conversationID, participantID string) (int64, error) {
	args := m.Called(ctx, conversationID, participantID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *ReadMarkerRepositoryMock) UnreadCount(ctx context.Context, conversationID, participantID string) (int64, error) {
	args := m.Called(ctx, conversationID, participantID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *ReadMarkerRepositoryMock) UnreadCountsForAll(ctx context.Context, participantID string) (map[string]int64, error) {
	args := m.Called(ctx, participantID)
	var counts map[string]int64
	if val := args.Get(0); val != nil {
		counts = val.(map[string]int64)
	}
	return counts, args.Error(1)
}
