package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"messaging-core/internal/models"
	"messaging-core/internal/observability"
	"messaging-core/internal/repositories"
)

// Notifier fans out events to connected clients. Fan-out is at-least-once;
// the status monotonicity rules absorb duplicates.
type Notifier interface {
	MessageAppended(conversationID string, msg models.Message)
	MessageUpdated(conversationID string, msg models.Message)
	StatusChanged(conversationID string, msg models.Message)
	TypingChanged(conversationID, participantID string, isTyping bool)
}

// Service is the messaging facade: the single entry point for creating
// conversations, appending messages, driving delivery state and read
// bookkeeping. All mutations on one conversation pass through that
// conversation's critical section.
type Service struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	markers       repositories.ReadMarkerRepository
	notifier      Notifier
	locks         *conversationLocks
	lockTimeout   time.Duration
	historyLimit  int
	log           *logrus.Entry
}

// NewService wires the facade with its collaborators.
func NewService(conversations repositories.ConversationRepository, messages repositories.MessageRepository, markers repositories.ReadMarkerRepository, notifier Notifier, lockTimeout time.Duration, historyLimit int) *Service {
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	if historyLimit <= 0 {
		historyLimit = 100
	}
	return &Service{
		conversations: conversations,
		messages:      messages,
		markers:       markers,
		notifier:      notifier,
		locks:         newConversationLocks(),
		lockTimeout:   lockTimeout,
		historyLimit:  historyLimit,
		log:           logrus.WithField("component", "messaging"),
	}
}

// lockConversation enters the conversation's critical section, bounded by the
// configured deadline. Timeouts surface as ErrTransient.
func (s *Service) lockConversation(ctx context.Context, conversationID string) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	release, err := s.locks.acquire(ctx, conversationID)
	if err != nil {
		cancel()
		return nil, err
	}
	return func() {
		release()
		cancel()
	}, nil
}

// CreateOrGetDirect resolves the direct conversation between self and other,
// creating it on first use. Idempotent by participant pair: concurrent calls
// for the same pair, in either argument order, yield the same conversation.
func (s *Service) CreateOrGetDirect(ctx context.Context, self, other string) (models.Conversation, error) {
	if other == "" || other == self {
		return models.Conversation{}, fmt.Errorf("%w: direct conversation needs a distinct counterpart", ErrInvalidOperation)
	}
	conv, err := s.conversations.CreateOrGetDirect(ctx, self, other)
	if err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// CreateGroup creates a fresh group conversation. The creator is always a
// member; at least three distinct participants are required. Two-participant
// requests must go through CreateOrGetDirect instead.
func (s *Service) CreateGroup(ctx context.Context, creator, name, imageURI string, participantIDs []string) (models.Conversation, error) {
	members := lo.Uniq(append([]string{creator}, participantIDs...))
	if len(members) < 3 {
		return models.Conversation{}, fmt.Errorf("%w: a group needs at least 3 participants", ErrInvalidOperation)
	}
	conv, err := s.conversations.CreateGroup(ctx, creator, name, imageURI, members)
	if err != nil {
		return models.Conversation{}, err
	}
	s.log.WithFields(logrus.Fields{"conversation_id": conv.ID, "members": len(members)}).Info("group created")
	return conv, nil
}

// AddParticipant grows a group conversation. Direct conversations cannot grow.
func (s *Service) AddParticipant(ctx context.Context, conversationID, actorID, newParticipantID string) error {
	release, err := s.lockConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	defer release()

	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(actorID) {
		return ErrForbidden
	}
	if !conv.IsGroup {
		return fmt.Errorf("%w: direct conversations cannot grow", ErrInvalidOperation)
	}
	if newParticipantID == "" {
		return fmt.Errorf("%w: empty participant id", ErrInvalidOperation)
	}
	return s.conversations.AddParticipant(ctx, conversationID, newParticipantID)
}

// ListConversations returns the caller's conversations, most recently active
// first.
func (s *Service) ListConversations(ctx context.Context, self string) ([]models.Conversation, error) {
	return s.conversations.ListForParticipant(ctx, self)
}

// Send appends a message to the conversation's log. The sequence number is
// assigned inside the critical section and the message is recorded with
// status sent; the sending state only exists client-side before this call
// acknowledges.
func (s *Service) Send(ctx context.Context, self, conversationID string, content models.MessageContent, replyToID string) (models.Message, error) {
	if err := content.Validate(); err != nil {
		return models.Message{}, fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}

	msg, err := s.appendLocked(ctx, self, conversationID, content, replyToID)
	if err != nil {
		return models.Message{}, err
	}

	// Fan-out runs after the critical section is released; a slow subscriber
	// must never hold the conversation's lock.
	observability.IncMessageAppended(content.Kind)
	s.notifier.MessageAppended(conversationID, msg)
	s.publish(ctx, "messages.appended", msg)
	return msg, nil
}

func (s *Service) appendLocked(ctx context.Context, self, conversationID string, content models.MessageContent, replyToID string) (models.Message, error) {
	release, err := s.lockConversation(ctx, conversationID)
	if err != nil {
		return models.Message{}, err
	}
	defer release()

	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return models.Message{}, err
	}
	if !conv.HasParticipant(self) {
		return models.Message{}, ErrForbidden
	}
	if replyToID != "" {
		parent, err := s.getMessage(ctx, replyToID)
		if err != nil {
			return models.Message{}, err
		}
		if parent.ConversationID != conversationID {
			return models.Message{}, fmt.Errorf("%w: reply target belongs to another conversation", ErrInvalidOperation)
		}
	}

	msg, err := s.messages.Append(ctx, conversationID, self, content, replyToID, conv.Recipients(self))
	if err != nil {
		if errors.Is(err, repositories.ErrConversationNotFound) {
			return models.Message{}, ErrNotFound
		}
		return models.Message{}, err
	}
	return msg, nil
}

// Edit replaces a message's content. Only the original sender may edit; the
// sequence number and status are untouched. Concurrent edits from two devices
// resolve last-writer-wins at the critical section.
func (s *Service) Edit(ctx context.Context, self, messageID string, content models.MessageContent) (models.Message, error) {
	if err := content.Validate(); err != nil {
		return models.Message{}, fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}

	msg, err := s.getMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.SenderID != self {
		return models.Message{}, ErrForbidden
	}

	edited, err := s.editLocked(ctx, msg.ConversationID, messageID, content)
	if err != nil {
		return models.Message{}, err
	}
	s.notifier.MessageUpdated(edited.ConversationID, edited)
	return edited, nil
}

func (s *Service) editLocked(ctx context.Context, conversationID, messageID string, content models.MessageContent) (models.Message, error) {
	release, err := s.lockConversation(ctx, conversationID)
	if err != nil {
		return models.Message{}, err
	}
	defer release()

	edited, err := s.messages.Edit(ctx, messageID, content)
	if err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			return models.Message{}, fmt.Errorf("%w: message is deleted", ErrInvalidOperation)
		}
		return models.Message{}, err
	}
	return edited, nil
}

// Delete tombstones a message: the payload is cleared but the sequence slot
// survives, so history stays gapless. Only the sender may delete.
func (s *Service) Delete(ctx context.Context, self, messageID string) error {
	msg, err := s.getMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != self {
		return ErrForbidden
	}

	deleted, err := s.tombstoneLocked(ctx, msg.ConversationID, messageID)
	if err != nil {
		return err
	}
	observability.IncStatusTransition(string(models.StatusDeleted))
	s.notifier.StatusChanged(deleted.ConversationID, deleted)
	s.publish(ctx, "messages.status", deleted)
	return nil
}

func (s *Service) tombstoneLocked(ctx context.Context, conversationID, messageID string) (models.Message, error) {
	release, err := s.lockConversation(ctx, conversationID)
	if err != nil {
		return models.Message{}, err
	}
	defer release()

	deleted, err := s.messages.Tombstone(ctx, messageID)
	if err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			return models.Message{}, ErrNotFound
		}
		return models.Message{}, err
	}
	return deleted, nil
}

// History returns up to limit messages after afterSeq in ascending sequence
// order.
func (s *Service) History(ctx context.Context, self, conversationID string, afterSeq int64, limit int) ([]models.Message, error) {
	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(self) {
		return nil, ErrForbidden
	}
	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}
	return s.messages.FetchRange(ctx, conversationID, afterSeq, limit)
}

// MarkDelivered records that the message reached one recipient's client. The
// transport collaborator calls this back; duplicates and out-of-order reports
// are no-ops. The sender-visible aggregate advances once all recipients have
// the message.
func (s *Service) MarkDelivered(ctx context.Context, reporter, messageID string) error {
	msg, err := s.getMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if reporter == msg.SenderID {
		return fmt.Errorf("%w: sender cannot report delivery", ErrInvalidOperation)
	}
	member, err := s.conversations.IsParticipant(ctx, msg.ConversationID, reporter)
	if err != nil {
		return err
	}
	if !member {
		return ErrForbidden
	}

	promoted, moved, err := s.deliverLocked(ctx, msg.ConversationID, messageID, reporter)
	if err != nil {
		return err
	}
	if moved {
		observability.IncStatusTransition(string(promoted.Status))
		s.notifier.StatusChanged(promoted.ConversationID, promoted)
		s.publish(ctx, "messages.status", promoted)
	}
	return nil
}

func (s *Service) deliverLocked(ctx context.Context, conversationID, messageID, reporter string) (models.Message, bool, error) {
	release, err := s.lockConversation(ctx, conversationID)
	if err != nil {
		return models.Message{}, false, err
	}
	defer release()

	changed, err := s.messages.AdvanceReceipt(ctx, messageID, reporter, models.StatusDelivered)
	if err != nil || !changed {
		return models.Message{}, false, err
	}
	return s.messages.PromoteAggregate(ctx, messageID)
}

// ReportFailed records a terminal delivery failure from the transport layer.
// Failure surfaces as message status, never as a send error: the message
// stays in history with status failed and retry is an explicit new Send.
func (s *Service) ReportFailed(ctx context.Context, reporter, messageID string) error {
	msg, err := s.getMessage(ctx, messageID)
	if err != nil {
		return err
	}
	member, err := s.conversations.IsParticipant(ctx, msg.ConversationID, reporter)
	if err != nil {
		return err
	}
	if !member {
		return ErrForbidden
	}

	failed, changed, err := s.failLocked(ctx, msg.ConversationID, messageID)
	if err != nil {
		return err
	}
	if changed {
		observability.IncStatusTransition(string(models.StatusFailed))
		s.notifier.StatusChanged(failed.ConversationID, failed)
		s.publish(ctx, "messages.status", failed)
	}
	return nil
}

func (s *Service) failLocked(ctx context.Context, conversationID, messageID string) (models.Message, bool, error) {
	release, err := s.lockConversation(ctx, conversationID)
	if err != nil {
		return models.Message{}, false, err
	}
	defer release()
	return s.messages.MarkFailed(ctx, messageID)
}

// MarkRead advances the caller's read marker to throughSeq, cascades read
// receipts up to it and promotes any message whose aggregate became
// delivered or read. Backward marks are no-ops.
func (s *Service) MarkRead(ctx context.Context, self, conversationID string, throughSeq int64) error {
	promoted, err := s.markReadLocked(ctx, self, conversationID, throughSeq)
	if err != nil {
		return err
	}
	for _, msg := range promoted {
		observability.IncStatusTransition(string(msg.Status))
		s.notifier.StatusChanged(conversationID, msg)
		s.publish(ctx, "messages.status", msg)
	}
	return nil
}

func (s *Service) markReadLocked(ctx context.Context, self, conversationID string, throughSeq int64) ([]models.Message, error) {
	release, err := s.lockConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	defer release()

	// The conversation is read inside the critical section so the clamp sees
	// the sequence as of this mark, not an earlier snapshot.
	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(self) {
		return nil, ErrForbidden
	}
	if throughSeq <= 0 {
		return nil, nil
	}
	if throughSeq > conv.LastSeq {
		throughSeq = conv.LastSeq
	}

	advanced, err := s.markers.Advance(ctx, conversationID, self, throughSeq)
	if err != nil {
		return nil, err
	}
	if !advanced {
		return nil, nil
	}

	if err := s.messages.ReadReceiptsThrough(ctx, conversationID, self, throughSeq); err != nil {
		return nil, err
	}
	return s.messages.PromoteAggregatesThrough(ctx, conversationID, throughSeq)
}

// Unread returns the caller's unread count for one conversation.
func (s *Service) Unread(ctx context.Context, self, conversationID string) (int64, error) {
	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if !conv.HasParticipant(self) {
		return 0, ErrForbidden
	}
	return s.markers.UnreadCount(ctx, conversationID, self)
}

// UnreadAll returns per-conversation unread counts for badge totals.
func (s *Service) UnreadAll(ctx context.Context, self string) (map[string]int64, error) {
	return s.markers.UnreadCountsForAll(ctx, self)
}

// Receipts returns the per-recipient delivery detail for a message. Any
// participant of the conversation may view it.
func (s *Service) Receipts(ctx context.Context, self, messageID string) ([]models.Receipt, error) {
	msg, err := s.getMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	member, err := s.conversations.IsParticipant(ctx, msg.ConversationID, self)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrForbidden
	}
	return s.messages.Receipts(ctx, messageID)
}

func (s *Service) getConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	conv, err := s.conversations.Get(ctx, conversationID)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		return models.Conversation{}, ErrNotFound
	}
	return conv, err
}

func (s *Service) getMessage(ctx context.Context, messageID string) (models.Message, error) {
	msg, err := s.messages.Get(ctx, messageID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return models.Message{}, ErrNotFound
	}
	return msg, err
}

func (s *Service) publish(ctx context.Context, routingKey string, msg models.Message) {
	err := observability.PublishEvent(ctx, routingKey, observability.EventEnvelope{
		EventType: "messaging",
		EventName: routingKey,
		Payload:   msg,
	}, nil)
	if err != nil {
		s.log.WithError(err).WithField("routing_key", routingKey).Warn("event publish failed")
	}
}
