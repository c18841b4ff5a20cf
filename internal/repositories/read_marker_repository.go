package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// ReadMarkerRepository owns per-participant read high-water marks and the
// unread counts derived from them. Unread is always computed from the message
// log plus the marker; there is no separately maintained counter to drift.
type ReadMarkerRepository interface {
	Advance(ctx context.Context, conversationID, participantID string, throughSeq int64) (bool, error)
	Get(ctx context.Context, conversationID, participantID string) (int64, error)
	UnreadCount(ctx context.Context, conversationID, participantID string) (int64, error)
	UnreadCountsForAll(ctx context.Context, participantID string) (map[string]int64, error)
}

// ReadMarkerRepo is a sqlx implementation of ReadMarkerRepository.
type ReadMarkerRepo struct {
	db *sqlx.DB
}

// NewReadMarkerRepo constructs a ReadMarkerRepo.
func NewReadMarkerRepo(db *sqlx.DB) *ReadMarkerRepo {
	return &ReadMarkerRepo{db: db}
}

// Advance moves the marker forward to throughSeq. Backward or equal moves are
// no-ops enforced in the upsert itself; the return value reports whether the
// marker actually moved.
func (r *ReadMarkerRepo) Advance(ctx context.Context, conversationID, participantID string, throughSeq int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO read_markers (conversation_id, participant_id, last_read_seq)
        VALUES ($1, $2, $3)
        ON CONFLICT (conversation_id, participant_id) DO UPDATE
        SET last_read_seq = EXCLUDED.last_read_seq, updated_at = NOW()
        WHERE read_markers.last_read_seq < EXCLUDED.last_read_seq`,
		conversationID, participantID, throughSeq)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Get returns the participant's marker, zero when none exists yet.
func (r *ReadMarkerRepo) Get(ctx context.Context, conversationID, participantID string) (int64, error) {
	var seq int64
	err := r.db.GetContext(ctx, &seq, `SELECT last_read_seq FROM read_markers WHERE conversation_id=$1 AND participant_id=$2`, conversationID, participantID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

// UnreadCount counts messages past the marker that the participant did not
// send. Tombstoned messages are excluded.
func (r *ReadMarkerRepo) UnreadCount(ctx context.Context, conversationID, participantID string) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages m
        LEFT JOIN read_markers rm ON rm.conversation_id = m.conversation_id AND rm.participant_id = $2
        WHERE m.conversation_id=$1 AND m.sender_id <> $2 AND m.status <> 'deleted'
        AND m.seq > COALESCE(rm.last_read_seq, 0)`, conversationID, participantID)
	return count, err
}

// UnreadCountsForAll aggregates unread counts across every conversation that
// contains the participant; conversations with zero unread are omitted.
func (r *ReadMarkerRepo) UnreadCountsForAll(ctx context.Context, participantID string) (map[string]int64, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT cp.conversation_id, COUNT(m.id) FROM conversation_participants cp
        INNER JOIN messages m ON m.conversation_id = cp.conversation_id
        LEFT JOIN read_markers rm ON rm.conversation_id = cp.conversation_id AND rm.participant_id = cp.participant_id
        WHERE cp.participant_id=$1 AND m.sender_id <> $1 AND m.status <> 'deleted'
        AND m.seq > COALESCE(rm.last_read_seq, 0)
        GROUP BY cp.conversation_id`, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int64{}
	for rows.Next() {
		var conversationID string
		var count int64
		if err := rows.Scan(&conversationID, &count); err != nil {
			return nil, err
		}
		counts[conversationID] = count
	}
	return counts, rows.Err()
}
