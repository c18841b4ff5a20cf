package models

import "time"

// Conversation is a set of participants sharing an ordered message history.
// Direct conversations have exactly two participants and are unique per
// unordered pair; groups have three or more and are never deduplicated.
type Conversation struct {
	ID             string    `db:"id" json:"id"`
	IsGroup        bool      `db:"is_group" json:"is_group"`
	Name           string    `db:"name" json:"name,omitempty"`
	ImageURI       string    `db:"image_uri" json:"image_uri,omitempty"`
	CreatedBy      string    `db:"created_by" json:"created_by"`
	LastSeq        int64     `db:"last_seq" json:"last_seq"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	LastActivityAt time.Time `db:"last_activity_at" json:"last_activity_at"`

	// Participants is loaded from the membership table, not a column.
	Participants []string `db:"-" json:"participant_ids,omitempty"`
}

// HasParticipant reports whether the id is a current member.
func (c Conversation) HasParticipant(participantID string) bool {
	for _, p := range c.Participants {
		if p == participantID {
			return true
		}
	}
	return false
}

// Recipients returns all participants except the sender.
func (c Conversation) Recipients(senderID string) []string {
	out := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p != senderID {
			out = append(out, p)
		}
	}
	return out
}

// ReadMarker is a per-participant high-water mark of read progress.
// LastReadSeq is monotonically non-decreasing.
type ReadMarker struct {
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	ParticipantID  string    `db:"participant_id" json:"participant_id"`
	LastReadSeq    int64     `db:"last_read_seq" json:"last_read_seq"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}
