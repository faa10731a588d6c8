// Package message owns the message lifecycle: validation, persistence and
// sender enrichment. Broadcast and offline delivery live elsewhere; this
// package only talks to the repository.
package message

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"github.com/papo-chat/papo-hub/internal/store"
)

// Sentinel errors for the message package.
var (
	ErrEmptyContent   = errors.New("message content must not be empty")
	ErrContentTooLong = errors.New("message content exceeds the maximum length")
)

// MaxContentLength is the maximum rune count for text message content.
const MaxContentLength = 4000

const (
	// TypeText marks plain text messages; other values name the attachment
	// kind (image, video, audio, file).
	TypeText = "text"

	profileCacheSize = 1024
	profileCacheTTL  = time.Minute
)

// CreateParams groups the inputs for a text message.
type CreateParams struct {
	RoomID   uuid.UUID
	SenderID uuid.UUID
	Content  string
	ReplyTo  *uuid.UUID
}

// AttachmentParams groups the inputs for a file message. FileType doubles as
// the message type so clients render by kind without inspecting the
// attachment.
type AttachmentParams struct {
	RoomID        uuid.UUID
	SenderID      uuid.UUID
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

// Service persists messages and enriches them with the sender's profile. Hot
// senders are served from an expiring LRU so a burst of messages costs one
// profile fetch, not one per message.
type Service struct {
	repo     store.Repository
	profiles *expirable.LRU[uuid.UUID, *store.SenderProfile]
	log      zerolog.Logger
}

// NewService creates a message service over the repository.
func NewService(repo store.Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		profiles: expirable.NewLRU[uuid.UUID, *store.SenderProfile](profileCacheSize, nil, profileCacheTTL),
		log:      logger.With().Str("component", "message").Logger(),
	}
}

// ValidateContent checks that content is non-empty after trimming and does
// not exceed MaxContentLength runes.
func ValidateContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(trimmed) > MaxContentLength {
		return "", ErrContentTooLong
	}
	return trimmed, nil
}

// Create persists a text message and returns it enriched with the sender's
// profile.
func (s *Service) Create(ctx context.Context, params CreateParams) (*store.Message, error) {
	content, err := ValidateContent(params.Content)
	if err != nil {
		return nil, err
	}

	msg, err := s.repo.InsertMessage(ctx, store.NewMessage{
		RoomID:      params.RoomID,
		SenderID:    params.SenderID,
		Content:     &content,
		MessageType: TypeText,
		ReplyTo:     params.ReplyTo,
	})
	if err != nil {
		return nil, fmt.Errorf("insert message in %s: %w", params.RoomID, err)
	}

	s.enrich(ctx, msg)
	return msg, nil
}

// CreateWithAttachment persists a file message plus its attachment row and
// returns the enriched message. The message row carries no content; the
// attachment holds the file metadata.
func (s *Service) CreateWithAttachment(ctx context.Context, params AttachmentParams) (*store.Message, error) {
	msg, err := s.repo.InsertMessage(ctx, store.NewMessage{
		RoomID:      params.RoomID,
		SenderID:    params.SenderID,
		MessageType: params.FileType,
	})
	if err != nil {
		return nil, fmt.Errorf("insert file message in %s: %w", params.RoomID, err)
	}

	attachment, err := s.repo.InsertAttachment(ctx, msg.ID, store.NewAttachment{
		FileName:      params.FileName,
		FileType:      params.FileType,
		FileSize:      params.FileSize,
		StoragePath:   params.StoragePath,
		MimeType:      params.MimeType,
		ThumbnailPath: params.ThumbnailPath,
		Width:         params.Width,
		Height:        params.Height,
		Duration:      params.Duration,
	})
	if err != nil {
		return nil, fmt.Errorf("insert attachment for message %s: %w", msg.ID, err)
	}
	msg.Attachment = attachment

	s.enrich(ctx, msg)
	return msg, nil
}

// Edit replaces a message's content. The repository enforces ownership:
// a message owned by someone else surfaces as store.ErrNotFound.
func (s *Service) Edit(ctx context.Context, messageID, senderID uuid.UUID, content string) (*store.Message, error) {
	trimmed, err := ValidateContent(content)
	if err != nil {
		return nil, err
	}

	msg, err := s.repo.UpdateMessageContent(ctx, messageID, senderID, trimmed)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update message %s: %w", messageID, err)
	}
	return msg, nil
}

// Delete soft-deletes a message, clearing its content, and returns the room
// it belonged to so the caller can broadcast the removal. Ownership is
// enforced by the repository.
func (s *Service) Delete(ctx context.Context, messageID, senderID uuid.UUID) (uuid.UUID, error) {
	roomID, err := s.repo.SoftDeleteMessage(ctx, messageID, senderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return uuid.Nil, err
		}
		return uuid.Nil, fmt.Errorf("delete message %s: %w", messageID, err)
	}
	return roomID, nil
}

// enrich attaches the sender's profile snapshot to the message. Enrichment
// is cosmetic: a failed profile fetch logs and leaves the sender fields
// empty rather than failing a message that is already persisted.
func (s *Service) enrich(ctx context.Context, msg *store.Message) {
	profile, ok := s.profiles.Get(msg.SenderID)
	if !ok {
		var err error
		profile, err = s.repo.FetchSenderProfile(ctx, msg.SenderID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				s.log.Warn().Err(err).Stringer("sender_id", msg.SenderID).Msg("Failed to fetch sender profile")
			}
			return
		}
		s.profiles.Add(msg.SenderID, profile)
	}

	msg.SenderUsername = profile.Username
	msg.SenderDisplayName = profile.DisplayName
	msg.SenderAvatar = profile.AvatarURL
}
