// Package store defines the durable-store domain types and the repository
// contract the hub consumes. Two drivers implement the contract: the Supabase
// PostgREST client and the direct Postgres client.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors shared by both repository drivers.
var (
	// ErrNotFound is returned when no row matches the operation. For
	// ownership-guarded writes this also covers sender mismatch and
	// already-deleted rows; drivers cannot distinguish the causes without a
	// second query and callers surface the same failure either way.
	ErrNotFound = errors.New("record not found")
)

// Message is a chat message row, optionally carrying its attachment and the
// denormalized sender profile attached on emit. The JSON form is the wire
// payload for message events and the offline-queue envelope.
type Message struct {
	ID          uuid.UUID  `json:"id"`
	RoomID      uuid.UUID  `json:"room_id"`
	SenderID    uuid.UUID  `json:"sender_id"`
	Content     *string    `json:"content"`
	MessageType string     `json:"message_type"`
	ReplyTo     *uuid.UUID `json:"reply_to,omitempty"`
	IsEdited    bool       `json:"is_edited"`
	IsDeleted   bool       `json:"is_deleted"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// Sender fields denormalized from the profiles table.
	SenderUsername    *string `json:"sender_username,omitempty"`
	SenderDisplayName *string `json:"sender_display_name,omitempty"`
	SenderAvatar      *string `json:"sender_avatar,omitempty"`

	Attachment *Attachment `json:"attachment,omitempty"`
}

// Attachment is a file attached to a message. Uploads go directly from the
// client to object storage; the hub records metadata only.
type Attachment struct {
	ID            uuid.UUID `json:"id"`
	MessageID     uuid.UUID `json:"message_id"`
	FileName      string    `json:"file_name"`
	FileType      string    `json:"file_type"`
	FileSize      int64     `json:"file_size"`
	StoragePath   string    `json:"storage_path"`
	MimeType      *string   `json:"mime_type,omitempty"`
	ThumbnailPath *string   `json:"thumbnail_path,omitempty"`
	Width         *int      `json:"width,omitempty"`
	Height        *int      `json:"height,omitempty"`
	Duration      *float64  `json:"duration,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// SenderProfile is the denormalized profile snapshot attached to messages.
type SenderProfile struct {
	Username    *string `json:"username"`
	DisplayName *string `json:"display_name"`
	AvatarURL   *string `json:"avatar_url"`
}

// NewMessage groups the inputs for inserting a message row.
type NewMessage struct {
	RoomID      uuid.UUID
	SenderID    uuid.UUID
	Content     *string
	MessageType string
	ReplyTo     *uuid.UUID
}

// NewAttachment groups the inputs for inserting an attachment row.
type NewAttachment struct {
	FileName      string
	FileType      string
	FileSize      int64
	StoragePath   string
	MimeType      *string
	ThumbnailPath *string
	Width         *int
	Height        *int
	Duration      *float64
}

// NewNotification groups the inputs for inserting a notification row.
type NewNotification struct {
	UserID      uuid.UUID
	Title       string
	Body        *string
	Type        string
	ReferenceID *uuid.UUID
}

// MembershipRepository answers room membership questions. IsMember backs
// authorization checks; ListRoomMembers is the authoritative member list used
// for offline fan-out.
type MembershipRepository interface {
	IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error)
	ListRoomMembers(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error)
}

// MessageRepository persists messages and attachments. Identity and
// timestamps are assigned on insert. UpdateMessageContent and
// SoftDeleteMessage enforce ownership: rows whose sender does not match are
// treated as not found.
type MessageRepository interface {
	InsertMessage(ctx context.Context, params NewMessage) (*Message, error)
	InsertAttachment(ctx context.Context, messageID uuid.UUID, params NewAttachment) (*Attachment, error)
	UpdateMessageContent(ctx context.Context, messageID, senderID uuid.UUID, content string) (*Message, error)
	SoftDeleteMessage(ctx context.Context, messageID, senderID uuid.UUID) (uuid.UUID, error)
}

// ProfileRepository reads and updates user profile rows.
type ProfileRepository interface {
	FetchSenderProfile(ctx context.Context, userID uuid.UUID) (*SenderProfile, error)
	UpdateProfileStatus(ctx context.Context, userID uuid.UUID, status string) error
	FetchProfileStatus(ctx context.Context, userID uuid.UUID) (string, error)
}

// NotificationRepository inserts push notification rows consumed by the
// downstream dispatcher.
type NotificationRepository interface {
	InsertNotification(ctx context.Context, params NewNotification) error
}

// Repository is the full driver contract.
type Repository interface {
	MembershipRepository
	MessageRepository
	ProfileRepository
	NotificationRepository
}
