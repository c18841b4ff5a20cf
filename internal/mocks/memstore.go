package mocks

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"messaging-core/internal/models"
	"messaging-core/internal/repositories"
)

var statusRank = map[models.DeliveryStatus]int{
	models.StatusSending:   0,
	models.StatusSent:      1,
	models.StatusDelivered: 2,
	models.StatusRead:      3,
}

// MemoryStore holds conversations, messages, receipts and markers in memory,
// mirroring the SQL semantics (pair dedup, gapless sequences, monotonic
// receipts and markers). Its Conversations/Messages/Markers views implement
// the repository interfaces, so service tests run without a database.
type MemoryStore struct {
	mu            sync.Mutex
	conversations map[string]*models.Conversation
	directIndex   map[string]string
	messages      map[string]*models.Message
	order         map[string][]string
	receipts      map[string]map[string]*models.Receipt
	markers       map[string]map[string]int64
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*models.Conversation),
		directIndex:   make(map[string]string),
		messages:      make(map[string]*models.Message),
		order:         make(map[string][]string),
		receipts:      make(map[string]map[string]*models.Receipt),
		markers:       make(map[string]map[string]int64),
	}
}

// Conversations returns the store's ConversationRepository view.
func (s *MemoryStore) Conversations() *MemoryConversations { return &MemoryConversations{store: s} }

// Messages returns the store's MessageRepository view.
func (s *MemoryStore) Messages() *MemoryMessages { return &MemoryMessages{store: s} }

// Markers returns the store's ReadMarkerRepository view.
func (s *MemoryStore) Markers() *MemoryMarkers { return &MemoryMarkers{store: s} }

func pairKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "|")
}

func copyConversation(conv *models.Conversation) models.Conversation {
	out := *conv
	out.Participants = append([]string(nil), conv.Participants...)
	return out
}

// MemoryConversations implements repositories.ConversationRepository.
type MemoryConversations struct {
	store *MemoryStore
}

func (r *MemoryConversations) CreateOrGetDirect(ctx context.Context, a, b string) (models.Conversation, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(a, b)
	if id, ok := s.directIndex[key]; ok {
		return copyConversation(s.conversations[id]), nil
	}

	pair := []string{a, b}
	sort.Strings(pair)
	now := time.Now()
	conv := &models.Conversation{
		ID:             uuid.NewString(),
		CreatedBy:      a,
		CreatedAt:      now,
		LastActivityAt: now,
		Participants:   pair,
	}
	s.conversations[conv.ID] = conv
	s.directIndex[key] = conv.ID
	return copyConversation(conv), nil
}

func (r *MemoryConversations) CreateGroup(ctx context.Context, creatorID, name, imageURI string, participantIDs []string) (models.Conversation, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	members := append([]string(nil), participantIDs...)
	sort.Strings(members)
	now := time.Now()
	conv := &models.Conversation{
		ID:             uuid.NewString(),
		IsGroup:        true,
		Name:           name,
		ImageURI:       imageURI,
		CreatedBy:      creatorID,
		CreatedAt:      now,
		LastActivityAt: now,
		Participants:   members,
	}
	s.conversations[conv.ID] = conv
	return copyConversation(conv), nil
}

func (r *MemoryConversations) Get(ctx context.Context, conversationID string) (models.Conversation, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return models.Conversation{}, repositories.ErrConversationNotFound
	}
	return copyConversation(conv), nil
}

func (r *MemoryConversations) IsParticipant(ctx context.Context, conversationID, participantID string) (bool, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return false, nil
	}
	return conv.HasParticipant(participantID), nil
}

func (r *MemoryConversations) AddParticipant(ctx context.Context, conversationID, participantID string) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return repositories.ErrConversationNotFound
	}
	if !conv.HasParticipant(participantID) {
		conv.Participants = append(conv.Participants, participantID)
		sort.Strings(conv.Participants)
	}
	return nil
}

func (r *MemoryConversations) ListForParticipant(ctx context.Context, participantID string) ([]models.Conversation, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Conversation
	for _, conv := range s.conversations {
		if conv.HasParticipant(participantID) {
			out = append(out, copyConversation(conv))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out, nil
}

// MemoryMessages implements repositories.MessageRepository.
type MemoryMessages struct {
	store *MemoryStore
}

func (r *MemoryMessages) Append(ctx context.Context, conversationID, senderID string, content models.MessageContent, replyToID string, recipientIDs []string) (models.Message, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return models.Message{}, repositories.ErrConversationNotFound
	}
	conv.LastSeq++
	conv.LastActivityAt = time.Now()

	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Seq:            conv.LastSeq,
		MessageContent: content,
		Status:         models.StatusSent,
		ReplyToID:      replyToID,
		CreatedAt:      time.Now(),
	}
	s.messages[msg.ID] = msg
	s.order[conversationID] = append(s.order[conversationID], msg.ID)

	s.receipts[msg.ID] = make(map[string]*models.Receipt, len(recipientIDs))
	for _, id := range recipientIDs {
		s.receipts[msg.ID][id] = &models.Receipt{MessageID: msg.ID, ParticipantID: id, Status: models.StatusSent}
	}
	return *msg, nil
}

func (r *MemoryMessages) Get(ctx context.Context, messageID string) (models.Message, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	return *msg, nil
}

func (r *MemoryMessages) Edit(ctx context.Context, messageID string, content models.MessageContent) (models.Message, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok || msg.Status == models.StatusDeleted {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	msg.MessageContent = content
	now := time.Now()
	msg.EditedAt = &now
	return *msg, nil
}

func (r *MemoryMessages) Tombstone(ctx context.Context, messageID string) (models.Message, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	msg.Status = models.StatusDeleted
	msg.MessageContent = models.Tombstone()
	return *msg, nil
}

func (r *MemoryMessages) FetchRange(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]models.Message, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Message
	for _, id := range s.order[conversationID] {
		msg := s.messages[id]
		if msg.Seq > afterSeq {
			out = append(out, *msg)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *MemoryMessages) AdvanceReceipt(ctx context.Context, messageID, participantID string, status models.DeliveryStatus) (bool, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	receipt, ok := s.receipts[messageID][participantID]
	if !ok {
		return false, nil
	}
	if statusRank[status] <= statusRank[receipt.Status] {
		return false, nil
	}
	receipt.Status = status
	now := time.Now()
	if receipt.DeliveredAt == nil {
		receipt.DeliveredAt = &now
	}
	if status == models.StatusRead && receipt.ReadAt == nil {
		receipt.ReadAt = &now
	}
	return true, nil
}

func (r *MemoryMessages) ReadReceiptsThrough(ctx context.Context, conversationID, participantID string, throughSeq int64) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order[conversationID] {
		msg := s.messages[id]
		if msg.Seq > throughSeq {
			break
		}
		receipt, ok := s.receipts[id][participantID]
		if !ok || statusRank[receipt.Status] >= statusRank[models.StatusRead] {
			continue
		}
		receipt.Status = models.StatusRead
		now := time.Now()
		if receipt.DeliveredAt == nil {
			receipt.DeliveredAt = &now
		}
		if receipt.ReadAt == nil {
			receipt.ReadAt = &now
		}
	}
	return nil
}

// aggregateLocked promotes the message's aggregate status to the minimum
// across its per-recipient receipts. Caller holds the store mutex.
func (s *MemoryStore) aggregateLocked(msg *models.Message) bool {
	if msg.Status != models.StatusSent && msg.Status != models.StatusDelivered {
		return false
	}
	min := statusRank[models.StatusRead]
	for _, receipt := range s.receipts[msg.ID] {
		if rank := statusRank[receipt.Status]; rank < min {
			min = rank
		}
	}
	if min <= statusRank[msg.Status] {
		return false
	}
	switch min {
	case statusRank[models.StatusDelivered]:
		msg.Status = models.StatusDelivered
	case statusRank[models.StatusRead]:
		msg.Status = models.StatusRead
	}
	return true
}

func (r *MemoryMessages) PromoteAggregate(ctx context.Context, messageID string) (models.Message, bool, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, false, repositories.ErrMessageNotFound
	}
	changed := s.aggregateLocked(msg)
	return *msg, changed, nil
}

func (r *MemoryMessages) PromoteAggregatesThrough(ctx context.Context, conversationID string, throughSeq int64) ([]models.Message, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var promoted []models.Message
	for _, id := range s.order[conversationID] {
		msg := s.messages[id]
		if msg.Seq > throughSeq {
			break
		}
		if s.aggregateLocked(msg) {
			promoted = append(promoted, *msg)
		}
	}
	return promoted, nil
}

func (r *MemoryMessages) MarkFailed(ctx context.Context, messageID string) (models.Message, bool, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, false, repositories.ErrMessageNotFound
	}
	if msg.Status == models.StatusSending || msg.Status == models.StatusSent {
		msg.Status = models.StatusFailed
		return *msg, true, nil
	}
	return *msg, false, nil
}

func (r *MemoryMessages) Receipts(ctx context.Context, messageID string) ([]models.Receipt, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Receipt
	for _, receipt := range s.receipts[messageID] {
		out = append(out, *receipt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out, nil
}

// MemoryMarkers implements repositories.ReadMarkerRepository.
type MemoryMarkers struct {
	store *MemoryStore
}

func (r *MemoryMarkers) Advance(ctx context.Context, conversationID, participantID string, throughSeq int64) (bool, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	byParticipant, ok := s.markers[conversationID]
	if !ok {
		byParticipant = make(map[string]int64)
		s.markers[conversationID] = byParticipant
	}
	if throughSeq <= byParticipant[participantID] {
		return false, nil
	}
	byParticipant[participantID] = throughSeq
	return true, nil
}

func (r *MemoryMarkers) Get(ctx context.Context, conversationID, participantID string) (int64, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markers[conversationID][participantID], nil
}

func (s *MemoryStore) unreadLocked(conversationID, participantID string) int64 {
	marker := s.markers[conversationID][participantID]
	var count int64
	for _, id := range s.order[conversationID] {
		msg := s.messages[id]
		if msg.Seq > marker && msg.SenderID != participantID && msg.Status != models.StatusDeleted {
			count++
		}
	}
	return count
}

func (r *MemoryMarkers) UnreadCount(ctx context.Context, conversationID, participantID string) (int64, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unreadLocked(conversationID, participantID), nil
}

func (r *MemoryMarkers) UnreadCountsForAll(ctx context.Context, participantID string) (map[string]int64, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := map[string]int64{}
	for id, conv := range s.conversations {
		if !conv.HasParticipant(participantID) {
			continue
		}
		if count := s.unreadLocked(id, participantID); count > 0 {
			counts[id] = count
		}
	}
	return counts, nil
}
