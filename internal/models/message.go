package models

import (
	"errors"
	"time"
)

// DeliveryStatus is the lifecycle state of a message as seen by its sender.
type DeliveryStatus string

const (
	StatusSending   DeliveryStatus = "sending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
	StatusDeleted   DeliveryStatus = "deleted"
)

// statusRank orders the forward path sending -> sent -> delivered -> read.
// The side branches (failed, deleted) are handled explicitly in CanAdvanceTo.
var statusRank = map[DeliveryStatus]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// Valid reports whether s is a known status value.
func (s DeliveryStatus) Valid() bool {
	switch s {
	case StatusSending, StatusSent, StatusDelivered, StatusRead, StatusFailed, StatusDeleted:
		return true
	}
	return false
}

// CanAdvanceTo reports whether a transition from s to next is a forward move.
// Backward or equal requests return false so callers treat them as no-ops;
// duplicate and out-of-order notifications from the transport are expected.
func (s DeliveryStatus) CanAdvanceTo(next DeliveryStatus) bool {
	if s == next {
		return false
	}
	switch next {
	case StatusDeleted:
		// Tombstoning is reachable from any state.
		return s != StatusDeleted
	case StatusFailed:
		// A message already delivered cannot later be reported failed.
		return s == StatusSending || s == StatusSent
	}
	if s == StatusFailed || s == StatusDeleted {
		return false
	}
	from, okFrom := statusRank[s]
	to, okTo := statusRank[next]
	return okFrom && okTo && to > from
}

// Content kinds. A message carries exactly one payload: inline text or an
// attachment reference. Attachment bytes live in the media store; the core
// only records the reference.
const (
	ContentText    = "text"
	ContentImage   = "image"
	ContentVideo   = "video"
	ContentAudio   = "audio"
	ContentFile    = "file"
	ContentDeleted = "deleted"
)

var (
	ErrEmptyText     = errors.New("text content requires non-empty text")
	ErrMissingURI    = errors.New("attachment content requires a uri")
	ErrUnknownKind   = errors.New("unknown content kind")
	ErrReservedKind  = errors.New("content kind is reserved")
	ErrMixedPayload  = errors.New("content must be either text or an attachment, not both")
	ErrNegativeBytes = errors.New("attachment size cannot be negative")
)

// MessageContent is the single payload of a message.
type MessageContent struct {
	Kind         string `db:"content_kind" json:"kind"`
	Text         string `db:"content_text" json:"text,omitempty"`
	URI          string `db:"content_uri" json:"uri,omitempty"`
	Size         int64  `db:"content_size" json:"size,omitempty"`
	ThumbnailURI string `db:"content_thumbnail_uri" json:"thumbnail_uri,omitempty"`
}

// Validate checks the payload shape for the declared kind.
func (c MessageContent) Validate() error {
	switch c.Kind {
	case ContentText:
		if c.Text == "" {
			return ErrEmptyText
		}
		if c.URI != "" {
			return ErrMixedPayload
		}
	case ContentImage, ContentVideo, ContentAudio, ContentFile:
		if c.URI == "" {
			return ErrMissingURI
		}
		if c.Text != "" {
			return ErrMixedPayload
		}
		if c.Size < 0 {
			return ErrNegativeBytes
		}
	case ContentDeleted:
		return ErrReservedKind
	default:
		return ErrUnknownKind
	}
	return nil
}

// Tombstone is the empty payload left behind by a delete. The sequence slot
// is preserved so readers never observe a gap.
func Tombstone() MessageContent {
	return MessageContent{Kind: ContentDeleted}
}

// Message is one entry in a conversation's append-only log. Seq is assigned
// at append time and is the sole ordering key; CreatedAt is the client's
// reported send time and is advisory only.
type Message struct {
	ID             string `db:"id" json:"id"`
	ConversationID string `db:"conversation_id" json:"conversation_id"`
	SenderID       string `db:"sender_id" json:"sender_id"`
	Seq            int64  `db:"seq" json:"seq"`
	MessageContent
	Status    DeliveryStatus `db:"status" json:"status"`
	ReplyToID string         `db:"reply_to_message_id" json:"reply_to_message_id,omitempty"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	EditedAt  *time.Time     `db:"edited_at" json:"edited_at,omitempty"`
}

// Receipt is the per-recipient delivery state backing the sender-visible
// aggregate status in group conversations.
type Receipt struct {
	MessageID     string         `db:"message_id" json:"message_id"`
	ParticipantID string         `db:"participant_id" json:"participant_id"`
	Status        DeliveryStatus `db:"status" json:"status"`
	DeliveredAt   *time.Time     `db:"delivered_at" json:"delivered_at,omitempty"`
	ReadAt        *time.Time     `db:"read_at" json:"read_at,omitempty"`
}
