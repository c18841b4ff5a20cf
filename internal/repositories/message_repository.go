package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"messaging-core/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

const messageColumns = `id, conversation_id, sender_id, seq, content_kind, content_text, content_uri, content_size, content_thumbnail_uri, status, reply_to_message_id, created_at, edited_at`

// MessageRepository defines interactions with the per-conversation message log
// and its delivery receipts.
type MessageRepository interface {
	Append(ctx context.Context, conversationID, senderID string, content models.MessageContent, replyToID string, recipientIDs []string) (models.Message, error)
	Get(ctx context.Context, messageID string) (models.Message, error)
	Edit(ctx context.Context, messageID string, content models.MessageContent) (models.Message, error)
	Tombstone(ctx context.Context, messageID string) (models.Message, error)
	FetchRange(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]models.Message, error)
	AdvanceReceipt(ctx context.Context, messageID, participantID string, status models.DeliveryStatus) (bool, error)
	ReadReceiptsThrough(ctx context.Context, conversationID, participantID string, throughSeq int64) error
	PromoteAggregate(ctx context.Context, messageID string) (models.Message, bool, error)
	PromoteAggregatesThrough(ctx context.Context, conversationID string, throughSeq int64) ([]models.Message, error)
	MarkFailed(ctx context.Context, messageID string) (models.Message, bool, error)
	Receipts(ctx context.Context, messageID string) ([]models.Receipt, error)
}

// MessageRepo is a sqlx-backed MessageRepository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Append assigns the next sequence number and inserts the message plus one
// receipt per recipient in a single transaction. The counter bump and the
// insert commit together, so readers never see a reserved-but-uncommitted
// sequence and the log stays gapless.
func (r *MessageRepo) Append(ctx context.Context, conversationID, senderID string, content models.MessageContent, replyToID string, recipientIDs []string) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var seq int64
	err = tx.QueryRowxContext(ctx, `UPDATE conversations SET last_seq = last_seq + 1, last_activity_at = NOW()
        WHERE id=$1 RETURNING last_seq`, conversationID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrConversationNotFound
		return models.Message{}, err
	}
	if err != nil {
		return models.Message{}, err
	}

	var msg models.Message
	err = tx.QueryRowxContext(ctx, `INSERT INTO messages
        (id, conversation_id, sender_id, seq, content_kind, content_text, content_uri, content_size, content_thumbnail_uri, status, reply_to_message_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'sent', $10)
        RETURNING `+messageColumns,
		uuid.NewString(), conversationID, senderID, seq,
		content.Kind, content.Text, content.URI, content.Size, content.ThumbnailURI,
		replyToID).StructScan(&msg)
	if err != nil {
		return models.Message{}, err
	}

	for _, id := range recipientIDs {
		if _, err = tx.ExecContext(ctx, `INSERT INTO message_receipts (message_id, participant_id, status) VALUES ($1, $2, 'sent')`, msg.ID, id); err != nil {
			return models.Message{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// Get fetches a single message.
func (r *MessageRepo) Get(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// Edit replaces the content payload and stamps edited_at. Sequence number and
// status are untouched. Tombstoned messages cannot be edited.
func (r *MessageRepo) Edit(ctx context.Context, messageID string, content models.MessageContent) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `UPDATE messages SET
        content_kind=$2, content_text=$3, content_uri=$4, content_size=$5, content_thumbnail_uri=$6, edited_at=NOW()
        WHERE id=$1 AND status <> 'deleted'
        RETURNING `+messageColumns,
		messageID, content.Kind, content.Text, content.URI, content.Size, content.ThumbnailURI).StructScan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// Tombstone clears the payload and marks the message deleted while keeping
// its sequence slot.
func (r *MessageRepo) Tombstone(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `UPDATE messages SET
        status='deleted', content_kind='deleted', content_text='', content_uri='', content_size=0, content_thumbnail_uri=''
        WHERE id=$1
        RETURNING `+messageColumns, messageID).StructScan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// FetchRange returns up to limit messages with seq > afterSeq in ascending
// sequence order. This is the pagination contract for history scroll-back.
func (r *MessageRepo) FetchRange(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
        WHERE conversation_id=$1 AND seq > $2
        ORDER BY seq ASC LIMIT $3`, conversationID, afterSeq, limit)
	return msgs, err
}

// AdvanceReceipt moves one recipient's receipt forward. Backward or equal
// moves touch no rows, which makes duplicate transport notifications safe.
func (r *MessageRepo) AdvanceReceipt(ctx context.Context, messageID, participantID string, status models.DeliveryStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE message_receipts SET status=$3,
        delivered_at = CASE WHEN $3 IN ('delivered','read') THEN COALESCE(delivered_at, NOW()) ELSE delivered_at END,
        read_at = CASE WHEN $3 = 'read' THEN COALESCE(read_at, NOW()) ELSE read_at END
        WHERE message_id=$1 AND participant_id=$2
        AND CASE status WHEN 'sending' THEN 0 WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 ELSE 99 END
          < CASE $3 WHEN 'sending' THEN 0 WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 ELSE 0 END`,
		messageID, participantID, status)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ReadReceiptsThrough marks all of the participant's receipts up to and
// including throughSeq as read.
func (r *MessageRepo) ReadReceiptsThrough(ctx context.Context, conversationID, participantID string, throughSeq int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE message_receipts r SET status='read',
        delivered_at = COALESCE(r.delivered_at, NOW()),
        read_at = COALESCE(r.read_at, NOW())
        FROM messages m
        WHERE m.id = r.message_id AND m.conversation_id=$1 AND m.seq <= $3
        AND r.participant_id=$2 AND r.status <> 'read'`,
		conversationID, participantID, throughSeq)
	return err
}

// PromoteAggregate recomputes the sender-visible aggregate for one message:
// delivered once every recipient received it, read once every recipient read
// it. Returns the message and whether its status moved.
func (r *MessageRepo) PromoteAggregate(ctx context.Context, messageID string) (models.Message, bool, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `UPDATE messages m SET status='read'
        WHERE m.id=$1 AND m.status IN ('sent','delivered')
        AND NOT EXISTS (SELECT 1 FROM message_receipts r WHERE r.message_id = m.id AND r.status <> 'read')
        RETURNING `+messageColumns, messageID).StructScan(&msg)
	if err == nil {
		return msg, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, false, err
	}

	err = r.db.QueryRowxContext(ctx, `UPDATE messages m SET status='delivered'
        WHERE m.id=$1 AND m.status = 'sent'
        AND NOT EXISTS (SELECT 1 FROM message_receipts r WHERE r.message_id = m.id AND r.status NOT IN ('delivered','read'))
        RETURNING `+messageColumns, messageID).StructScan(&msg)
	if err == nil {
		return msg, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, false, err
	}

	msg, err = r.Get(ctx, messageID)
	return msg, false, err
}

// PromoteAggregatesThrough recomputes aggregates for every message at or below
// throughSeq after a read-marker advance and returns the ones that moved.
func (r *MessageRepo) PromoteAggregatesThrough(ctx context.Context, conversationID string, throughSeq int64) ([]models.Message, error) {
	var promoted []models.Message

	var read []models.Message
	err := r.db.SelectContext(ctx, &read, `UPDATE messages m SET status='read'
        WHERE m.conversation_id=$1 AND m.seq <= $2 AND m.status IN ('sent','delivered')
        AND NOT EXISTS (SELECT 1 FROM message_receipts r WHERE r.message_id = m.id AND r.status <> 'read')
        RETURNING `+messageColumns, conversationID, throughSeq)
	if err != nil {
		return nil, err
	}
	promoted = append(promoted, read...)

	var delivered []models.Message
	err = r.db.SelectContext(ctx, &delivered, `UPDATE messages m SET status='delivered'
        WHERE m.conversation_id=$1 AND m.seq <= $2 AND m.status = 'sent'
        AND NOT EXISTS (SELECT 1 FROM message_receipts r WHERE r.message_id = m.id AND r.status NOT IN ('delivered','read'))
        RETURNING `+messageColumns, conversationID, throughSeq)
	if err != nil {
		return nil, err
	}
	promoted = append(promoted, delivered...)

	return promoted, nil
}

// MarkFailed records a terminal transport failure. Only undelivered messages
// can fail; late reports after delivery are no-ops.
func (r *MessageRepo) MarkFailed(ctx context.Context, messageID string) (models.Message, bool, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `UPDATE messages SET status='failed'
        WHERE id=$1 AND status IN ('sending','sent')
        RETURNING `+messageColumns, messageID).StructScan(&msg)
	if err == nil {
		return msg, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, false, err
	}
	msg, err = r.Get(ctx, messageID)
	return msg, false, err
}

// Receipts returns the per-recipient detail view for a message.
func (r *MessageRepo) Receipts(ctx context.Context, messageID string) ([]models.Receipt, error) {
	var receipts []models.Receipt
	err := r.db.SelectContext(ctx, &receipts, `SELECT message_id, participant_id, status, delivered_at, read_at
        FROM message_receipts WHERE message_id=$1 ORDER BY participant_id`, messageID)
	return receipts, err
}
