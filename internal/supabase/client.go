// Package supabase implements the repository contract against the Supabase
// PostgREST API using the service-role key. Each operation maps to a single
// REST call; writes request representation so inserted and updated rows come
// back in the same round trip.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/papo-chat/papo-hub/internal/store"
)

// Client is a PostgREST repository driver.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     zerolog.Logger
}

// New creates a repository client for the given Supabase project URL. The
// service-role key bypasses row-level security, which the hub requires to act
// on behalf of any user.
func New(baseURL, serviceKey string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/") + "/rest/v1",
		apiKey:  serviceKey,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     logger.With().Str("component", "supabase").Logger(),
	}
}

// do issues a PostgREST request. Writes carry Prefer: return=representation
// so affected rows are decoded into out; pass a nil out to discard them.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost || method == http.MethodPatch {
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("postgrest returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// messageRow mirrors the messages table.
type messageRow struct {
	ID          uuid.UUID  `json:"id"`
	RoomID      uuid.UUID  `json:"room_id"`
	SenderID    uuid.UUID  `json:"sender_id"`
	Content     *string    `json:"content"`
	MessageType string     `json:"message_type"`
	ReplyTo     *uuid.UUID `json:"reply_to"`
	IsEdited    bool       `json:"is_edited"`
	IsDeleted   bool       `json:"is_deleted"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (r *messageRow) toMessage() *store.Message {
	return &store.Message{
		ID:          r.ID,
		RoomID:      r.RoomID,
		SenderID:    r.SenderID,
		Content:     r.Content,
		MessageType: r.MessageType,
		ReplyTo:     r.ReplyTo,
		IsEdited:    r.IsEdited,
		IsDeleted:   r.IsDeleted,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

// attachmentRow mirrors the message_attachments table.
type attachmentRow struct {
	ID            uuid.UUID `json:"id"`
	MessageID     uuid.UUID `json:"message_id"`
	FileName      string    `json:"file_name"`
	FileType      string    `json:"file_type"`
	FileSize      int64     `json:"file_size"`
	StoragePath   string    `json:"storage_path"`
	MimeType      *string   `json:"mime_type"`
	ThumbnailPath *string   `json:"thumbnail_path"`
	Width         *int      `json:"width"`
	Height        *int      `json:"height"`
	Duration      *float64  `json:"duration"`
	CreatedAt     time.Time `json:"created_at"`
}

func (r *attachmentRow) toAttachment() *store.Attachment {
	return &store.Attachment{
		ID:            r.ID,
		MessageID:     r.MessageID,
		FileName:      r.FileName,
		FileType:      r.FileType,
		FileSize:      r.FileSize,
		StoragePath:   r.StoragePath,
		MimeType:      r.MimeType,
		ThumbnailPath: r.ThumbnailPath,
		Width:         r.Width,
		Height:        r.Height,
		Duration:      r.Duration,
		CreatedAt:     r.CreatedAt,
	}
}

// IsMember reports whether the user is a member of the room.
func (c *Client) IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	var rows []struct {
		UserID uuid.UUID `json:"user_id"`
	}
	path := fmt.Sprintf("/room_members?select=user_id&room_id=eq.%s&user_id=eq.%s&limit=1", roomID, userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &rows); err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return len(rows) > 0, nil
}

// ListRoomMembers returns the user IDs of every member of the room.
func (c *Client) ListRoomMembers(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	var rows []struct {
		UserID uuid.UUID `json:"user_id"`
	}
	path := fmt.Sprintf("/room_members?select=user_id&room_id=eq.%s", roomID)
	if err := c.do(ctx, http.MethodGet, path, nil, &rows); err != nil {
		return nil, fmt.Errorf("list room members: %w", err)
	}

	ids := make([]uuid.UUID, len(rows))
	for i, row := range rows {
		ids[i] = row.UserID
	}
	return ids, nil
}

// InsertMessage inserts a message row and returns it with identity and
// timestamps assigned by the database.
func (c *Client) InsertMessage(ctx context.Context, params store.NewMessage) (*store.Message, error) {
	body := map[string]any{
		"room_id":      params.RoomID,
		"sender_id":    params.SenderID,
		"content":      params.Content,
		"message_type": params.MessageType,
	}
	if params.ReplyTo != nil {
		body["reply_to"] = *params.ReplyTo
	}

	var rows []messageRow
	if err := c.do(ctx, http.MethodPost, "/messages", body, &rows); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert message: %w", store.ErrNotFound)
	}
	return rows[0].toMessage(), nil
}

// InsertAttachment inserts an attachment row for the given message.
func (c *Client) InsertAttachment(ctx context.Context, messageID uuid.UUID, params store.NewAttachment) (*store.Attachment, error) {
	body := map[string]any{
		"message_id":   messageID,
		"file_name":    params.FileName,
		"file_type":    params.FileType,
		"file_size":    params.FileSize,
		"storage_path": params.StoragePath,
	}
	if params.MimeType != nil {
		body["mime_type"] = *params.MimeType
	}
	if params.ThumbnailPath != nil {
		body["thumbnail_path"] = *params.ThumbnailPath
	}
	if params.Width != nil {
		body["width"] = *params.Width
	}
	if params.Height != nil {
		body["height"] = *params.Height
	}
	if params.Duration != nil {
		body["duration"] = *params.Duration
	}

	var rows []attachmentRow
	if err := c.do(ctx, http.MethodPost, "/message_attachments", body, &rows); err != nil {
		return nil, fmt.Errorf("insert attachment: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert attachment: %w", store.ErrNotFound)
	}
	return rows[0].toAttachment(), nil
}

// UpdateMessageContent sets new content on a message owned by senderID and
// marks it edited. Deleted messages and messages owned by someone else are
// not matched, so the edit silently touches zero rows and ErrNotFound is
// returned.
func (c *Client) UpdateMessageContent(ctx context.Context, messageID, senderID uuid.UUID, content string) (*store.Message, error) {
	path := fmt.Sprintf("/messages?id=eq.%s&sender_id=eq.%s&is_deleted=eq.false", messageID, senderID)
	body := map[string]any{
		"content":    content,
		"is_edited":  true,
		"updated_at": time.Now().UTC(),
	}

	var rows []messageRow
	if err := c.do(ctx, http.MethodPatch, path, body, &rows); err != nil {
		return nil, fmt.Errorf("update message content: %w", err)
	}
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}
	return rows[0].toMessage(), nil
}

// SoftDeleteMessage marks a message owned by senderID as deleted and nulls
// its content. It returns the room ID for fan-out.
func (c *Client) SoftDeleteMessage(ctx context.Context, messageID, senderID uuid.UUID) (uuid.UUID, error) {
	path := fmt.Sprintf("/messages?id=eq.%s&sender_id=eq.%s&select=room_id", messageID, senderID)
	body := map[string]any{
		"is_deleted": true,
		"content":    nil,
	}

	var rows []struct {
		RoomID uuid.UUID `json:"room_id"`
	}
	if err := c.do(ctx, http.MethodPatch, path, body, &rows); err != nil {
		return uuid.Nil, fmt.Errorf("soft delete message: %w", err)
	}
	if len(rows) == 0 {
		return uuid.Nil, store.ErrNotFound
	}
	return rows[0].RoomID, nil
}

// FetchSenderProfile returns the profile snapshot used to enrich messages.
func (c *Client) FetchSenderProfile(ctx context.Context, userID uuid.UUID) (*store.SenderProfile, error) {
	var rows []store.SenderProfile
	path := fmt.Sprintf("/profiles?select=username,display_name,avatar_url&id=eq.%s&limit=1", userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &rows); err != nil {
		return nil, fmt.Errorf("fetch sender profile: %w", err)
	}
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}
	return &rows[0], nil
}

// UpdateProfileStatus writes the durable presence mirror on the profile row.
func (c *Client) UpdateProfileStatus(ctx context.Context, userID uuid.UUID, status string) error {
	path := fmt.Sprintf("/profiles?id=eq.%s", userID)
	body := map[string]any{
		"status":    status,
		"last_seen": time.Now().UTC(),
	}
	if err := c.do(ctx, http.MethodPatch, path, body, nil); err != nil {
		return fmt.Errorf("update profile status: %w", err)
	}
	return nil
}

// FetchProfileStatus reads the durable presence status from the profile row.
func (c *Client) FetchProfileStatus(ctx context.Context, userID uuid.UUID) (string, error) {
	var rows []struct {
		Status *string `json:"status"`
	}
	path := fmt.Sprintf("/profiles?select=status&id=eq.%s&limit=1", userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &rows); err != nil {
		return "", fmt.Errorf("fetch profile status: %w", err)
	}
	if len(rows) == 0 || rows[0].Status == nil {
		return "", store.ErrNotFound
	}
	return *rows[0].Status, nil
}

// InsertNotification inserts an unread notification row.
func (c *Client) InsertNotification(ctx context.Context, params store.NewNotification) error {
	body := map[string]any{
		"user_id":           params.UserID,
		"title":             params.Title,
		"notification_type": params.Type,
		"is_read":           false,
	}
	if params.Body != nil {
		body["body"] = *params.Body
	}
	if params.ReferenceID != nil {
		body["reference_id"] = *params.ReferenceID
	}

	if err := c.do(ctx, http.MethodPost, "/notifications", body, nil); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}
