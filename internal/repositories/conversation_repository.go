package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"messaging-core/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

const conversationColumns = `id, is_group, name, image_uri, created_by, last_seq, created_at, last_activity_at`

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	CreateOrGetDirect(ctx context.Context, a, b string) (models.Conversation, error)
	CreateGroup(ctx context.Context, creatorID, name, imageURI string, participantIDs []string) (models.Conversation, error)
	Get(ctx context.Context, conversationID string) (models.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, participantID string) (bool, error)
	AddParticipant(ctx context.Context, conversationID, participantID string) error
	ListForParticipant(ctx context.Context, participantID string) ([]models.Conversation, error)
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// CreateOrGetDirect returns the direct conversation for the unordered pair
// {a, b}, creating it if absent. The pair is normalized to (lo, hi) order and
// creation races collapse on the partial unique index, so two simultaneous
// callers always end up with the same row.
func (r *ConversationRepo) CreateOrGetDirect(ctx context.Context, a, b string) (models.Conversation, error) {
	pair := []string{a, b}
	sort.Strings(pair)
	lo, hi := pair[0], pair[1]

	var conv models.Conversation
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE is_group = FALSE AND user_lo=$1 AND user_hi=$2`
	err := r.db.GetContext(ctx, &conv, query, lo, hi)
	if err == nil {
		return r.withParticipants(ctx, conv)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	err = tx.QueryRowxContext(ctx, `INSERT INTO conversations (id, is_group, user_lo, user_hi, created_by)
        VALUES ($1, FALSE, $2, $3, $4)
        ON CONFLICT (user_lo, user_hi) WHERE is_group = FALSE DO NOTHING
        RETURNING `+conversationColumns, uuid.NewString(), lo, hi, a).StructScan(&conv)
	if errors.Is(err, sql.ErrNoRows) {
		// Lost the race; another session inserted the pair first.
		tx.Rollback()
		err = r.db.GetContext(ctx, &conv, query, lo, hi)
		if err != nil {
			return models.Conversation{}, err
		}
		return r.withParticipants(ctx, conv)
	}
	if err != nil {
		return models.Conversation{}, err
	}

	for _, id := range pair {
		if _, err = tx.ExecContext(ctx, `INSERT INTO conversation_participants (conversation_id, participant_id) VALUES ($1, $2)
            ON CONFLICT DO NOTHING`, conv.ID, id); err != nil {
			return models.Conversation{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Conversation{}, err
	}
	conv.Participants = pair
	return conv, nil
}

// CreateGroup creates a group conversation and its membership atomically.
// Groups are never deduplicated: every call produces a fresh conversation.
func (r *ConversationRepo) CreateGroup(ctx context.Context, creatorID, name, imageURI string, participantIDs []string) (models.Conversation, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var conv models.Conversation
	if err = tx.QueryRowxContext(ctx, `INSERT INTO conversations (id, is_group, name, image_uri, created_by)
        VALUES ($1, TRUE, $2, $3, $4) RETURNING `+conversationColumns,
		uuid.NewString(), name, imageURI, creatorID).StructScan(&conv); err != nil {
		return models.Conversation{}, err
	}

	memberSet := map[string]struct{}{creatorID: {}}
	for _, id := range participantIDs {
		memberSet[id] = struct{}{}
	}
	ids := make([]string, 0, len(memberSet))
	for id := range memberSet {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if _, err = tx.ExecContext(ctx, `INSERT INTO conversation_participants (conversation_id, participant_id) VALUES ($1, $2)`, conv.ID, id); err != nil {
			return models.Conversation{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Conversation{}, err
	}
	conv.Participants = ids
	return conv, nil
}

// Get fetches a conversation with its membership.
func (r *ConversationRepo) Get(ctx context.Context, conversationID string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return models.Conversation{}, err
	}
	return r.withParticipants(ctx, conv)
}

// IsParticipant checks whether the participant belongs to the conversation.
func (r *ConversationRepo) IsParticipant(ctx context.Context, conversationID, participantID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM conversation_participants WHERE conversation_id=$1 AND participant_id=$2)`, conversationID, participantID)
	return exists, err
}

// AddParticipant adds a member to a group conversation. Membership is
// add-only; repeated adds are idempotent.
func (r *ConversationRepo) AddParticipant(ctx context.Context, conversationID, participantID string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO conversation_participants (conversation_id, participant_id) VALUES ($1, $2)
        ON CONFLICT DO NOTHING`, conversationID, participantID)
	return err
}

// ListForParticipant returns the participant's conversations ordered by most
// recent activity.
func (r *ConversationRepo) ListForParticipant(ctx context.Context, participantID string) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := r.db.SelectContext(ctx, &convs, `SELECT c.id, c.is_group, c.name, c.image_uri, c.created_by, c.last_seq, c.created_at, c.last_activity_at
        FROM conversations c
        INNER JOIN conversation_participants cp ON cp.conversation_id = c.id
        WHERE cp.participant_id=$1
        ORDER BY c.last_activity_at DESC`, participantID)
	if err != nil {
		return nil, err
	}
	for i := range convs {
		conv, err := r.withParticipants(ctx, convs[i])
		if err != nil {
			return nil, err
		}
		convs[i] = conv
	}
	return convs, nil
}

func (r *ConversationRepo) withParticipants(ctx context.Context, conv models.Conversation) (models.Conversation, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `SELECT participant_id FROM conversation_participants WHERE conversation_id=$1 ORDER BY participant_id`, conv.ID)
	if err != nil {
		return models.Conversation{}, err
	}
	conv.Participants = ids
	return conv, nil
}
