package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/papo-chat/papo-hub/internal/message"
	"github.com/papo-chat/papo-hub/internal/presence"
	"github.com/papo-chat/papo-hub/internal/store"
)

// handlerTimeout bounds the store and repository work for one inbound event.
const handlerTimeout = 10 * time.Second

// dispatch routes one authenticated frame to its handler. Handler failures
// answer with an error event on the same connection; they never close it.
func (h *Hub) dispatch(client *Client, frame Frame) {
	ctx, cancel := context.WithTimeout(client.ctx, handlerTimeout)
	defer cancel()

	switch frame.Event {
	case EventAuth:
		client.sendError("Already authenticated")
	case EventJoinRoom:
		h.handleJoinRoom(ctx, client, frame.Data)
	case EventLeaveRoom:
		h.handleLeaveRoom(ctx, client, frame.Data)
	case EventSendMessage:
		h.handleSendMessage(ctx, client, frame.Data)
	case EventEditMessage:
		h.handleEditMessage(ctx, client, frame.Data)
	case EventDeleteMessage:
		h.handleDeleteMessage(ctx, client, frame.Data)
	case EventTypingStart:
		h.handleTypingStart(ctx, client, frame.Data)
	case EventTypingStop:
		h.handleTypingStop(ctx, client, frame.Data)
	case EventUpdateStatus:
		h.handleUpdateStatus(ctx, client, frame.Data)
	case EventFileUploaded:
		h.handleFileUploaded(ctx, client, frame.Data)
	default:
		client.sendError("Unknown event: " + frame.Event)
	}
}

// parseID validates a required UUID field from a client payload. On failure
// it reports to the client and returns false.
func parseID(client *Client, field, value string) (uuid.UUID, bool) {
	if value == "" {
		client.sendError(field + " is required")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(value)
	if err != nil {
		client.sendError("Invalid " + field)
		return uuid.Nil, false
	}
	return id, true
}

type roomRequest struct {
	RoomID string `json:"room_id"`
}

func (h *Hub) handleJoinRoom(ctx context.Context, client *Client, data json.RawMessage) {
	var req roomRequest
	if err := json.Unmarshal(data, &req); err != nil {
		client.sendError("Invalid payload")
		return
	}
	roomID, ok := parseID(client, "room_id", req.RoomID)
	if !ok {
		return
	}
	userID := client.UserID()

	isMember, err := h.members.IsMember(ctx, roomID, userID)
	if err != nil {
		h.log.Error().Err(err).Stringer("room_id", roomID).Stringer("user_id", userID).Msg("Membership check failed")
		client.sendError("Failed to verify membership")
		return
	}
	if !isMember {
		client.sendError("Not a member of this room")
		return
	}

	h.joinRoom(roomID, client)
	h.broadcastRoom(roomID, EventUserJoinedRoom, roomMemberPayload{UserID: userID, RoomID: roomID}, client.connID)
	client.sendEvent(EventRoomJoined, roomPayload{RoomID: roomID})

	h.log.Debug().Stringer("user_id", userID).Stringer("room_id", roomID).Msg("User joined room")
}

func (h *Hub) handleLeaveRoom(_ context.Context, client *Client, data json.RawMessage) {
	var req roomRequest
	if err := json.Unmarshal(data, &req); err != nil {
		client.sendError("Invalid payload")
		return
	}
	roomID, ok := parseID(client, "room_id", req.RoomID)
	if !ok {
		return
	}
	userID := client.UserID()

	h.leaveRoom(roomID, client)
	h.broadcastRoom(roomID, EventUserLeftRoom, roomMemberPayload{UserID: userID, RoomID: roomID}, uuid.Nil)

	h.log.Debug().Stringer("user_id", userID).Stringer("room_id", roomID).Msg("User left room")
}

type sendMessageRequest struct {
	RoomID  string `json:"room_id"`
	Content string `json:"content"`
	ReplyTo string `json:"reply_to"`
}

func (h *Hub) handleSendMessage(ctx context.Context, client *Client, data json.RawMessage) {
	var req sendMessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		client.sendError("Invalid payload")
		return
	}
	roomID, ok := parseID(client, "room_id", req.RoomID)
	if !ok {
		return
	}
	userID := client.UserID()

	if !h.limiter.Allow(ctx, userID) {
		client.sendError("Rate limit exceeded")
		return
	}

	isMember, err := h.members.IsMember(ctx, roomID, userID)
	if err != nil {
		h.log.Error().Err(err).Stringer("room_id", roomID).Stringer("user_id", userID).Msg("Membership check failed")
		client.sendError("Failed to verify membership")
		return
	}
	if !isMember {
		client.sendError("Not a member of this room")
		return
	}

	var replyTo *uuid.UUID
	if req.ReplyTo != "" {
		id, err := uuid.Parse(req.ReplyTo)
		if err != nil {
			client.sendError("Invalid reply_to")
			return
		}
		replyTo = &id
	}

	msg, err := h.messages.Create(ctx, message.CreateParams{
		RoomID:   roomID,
		SenderID: userID,
		Content:  req.Content,
		ReplyTo:  replyTo,
	})
	if err != nil {
		switch {
		case errors.Is(err, message.ErrEmptyContent):
			client.sendError("content is required")
		case errors.Is(err, message.ErrContentTooLong):
			client.sendError("Message content too long")
		default:
			h.log.Error().Err(err).Stringer("room_id", roomID).Msg("Failed to save message")
			client.sendError("Failed to save message")
		}
		return
	}

	// The sender hears their own message too; delivery confirms persistence.
	h.broadcastRoom(roomID, EventMessage, msg, uuid.Nil)

	if err := h.notifier.NotifyOffline(ctx, msg); err != nil {
		h.log.Warn().Err(err).Stringer("message_id", msg.ID).Msg("Offline fan-out failed")
	}
}

type editMessageRequest struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

func (h *Hub) handleEditMessage(ctx context.Context, client *Client, data json.RawMessage) {
	var req editMessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		client.sendError("Invalid payload")
		return
	}
	messageID, ok := parseID(client, "message_id", req.MessageID)
	if !ok {
		return
	}
	userID := client.UserID()

	updated, err := h.messages.Edit(ctx, messageID, userID, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, message.ErrEmptyContent):
			client.sendError("content is required")
		case errors.Is(err, message.ErrContentTooLong):
			client.sendError("Message content too long")
		case errors.Is(err, store.ErrNotFound):
			// Not the sender's message, or it no longer exists. The client
			// is told no more than the original would reveal.
			h.log.Debug().Stringer("message_id", messageID).Stringer("user_id", userID).Msg("Edit refused")
			client.sendError("Failed to edit message")
		default:
			h.log.Error().Err(err).Stringer("message_id", messageID).Msg("Failed to edit message")
			client.sendError("Failed to edit message")
		}
		return
	}

	h.broadcastRoom(updated.RoomID, EventMessageEdited, updated, uuid.Nil)
}

type deleteMessageRequest struct {
	MessageID string `json:"message_id"`
}

func (h *Hub) handleDeleteMessage(ctx context.Context, client *Client, data json.RawMessage) {
	var req deleteMessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		client.sendError("Invalid payload")
		return
	}
	messageID, ok := parseID(client, "message_id", req.MessageID)
	if !ok {
		return
	}
	userID := client.UserID()

	roomID, err := h.messages.Delete(ctx, messageID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.log.Debug().Stringer("message_id", messageID).Stringer("user_id", userID).Msg("Delete refused")
		} else {
			h.log.Error().Err(err).Stringer("message_id", messageID).Msg("Failed to delete message")
		}
		client.sendError("Failed to delete message")
		return
	}

	h.broadcastRoom(roomID, EventMessageDeleted, messageDeletedPayload{MessageID: messageID, RoomID: roomID}, uuid.Nil)
}

func (h *Hub) handleTypingStart(ctx context.Context, client *Client, data json.RawMessage) {
	var req roomRequest
	if err := json.Unmarshal(data, &req); err != nil {
		client.sendError("Invalid payload")
		return
	}
	roomID, ok := parseID(client, "room_id", req.RoomID)
	if !ok {
		return
	}
	userID := client.UserID()

	if err := h.presence.AddTyping(ctx, roomID, userID); err != nil {
		h.log.Warn().Err(err).Stringer("room_id", roomID).Msg("Failed to record typing state")
		return
	}
	h.broadcastRoom(roomID, EventUserTyping, roomMemberPayload{UserID: userID, RoomID: roomID}, client.connID)
}

func (h *Hub) handleTypingStop(ctx context.Context, client *Client, data json.RawMessage) {
	var req roomRequest
	if err := json.Unmarshal(data, &req); err != nil {
		client.sendError("Invalid payload")
		return
	}
	roomID, ok := parseID(client, "room_id", req.RoomID)
	if !ok {
		return
	}
	userID := client.UserID()

	if err := h.presence.RemoveTyping(ctx, roomID, userID); err != nil {
		h.log.Warn().Err(err).Stringer("room_id", roomID).Msg("Failed to clear typing state")
		return
	}
	h.broadcastRoom(roomID, EventUserStoppedTyping, roomMemberPayload{UserID: userID, RoomID: roomID}, client.connID)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (h *Hub) handleUpdateStatus(ctx context.Context, client *Client, data json.RawMessage) {
	var req updateStatusRequest
	if err := json.Unmarshal(data, &req); err != nil {
		client.sendError("Invalid payload")
		return
	}
	if req.Status == "" {
		client.sendError("status is required")
		return
	}
	userID := client.UserID()

	if err := h.presence.UpdateStatus(ctx, userID, req.Status); err != nil {
		if errors.Is(err, presence.ErrInvalidStatus) {
			client.sendError("Invalid status")
			return
		}
		h.log.Warn().Err(err).Stringer("user_id", userID).Msg("Failed to update status")
		return
	}

	h.broadcastAll(EventUserStatusChanged, statusPayload{UserID: userID, Status: req.Status}, client.connID)
}

type fileUploadedRequest struct {
	RoomID        string   `json:"room_id"`
	FileName      string   `json:"file_name"`
	FileType      string   `json:"file_type"`
	FileSize      int64    `json:"file_size"`
	StoragePath   string   `json:"storage_path"`
	MimeType      *string  `json:"mime_type"`
	ThumbnailPath *string  `json:"thumbnail_path"`
	Width         *int     `json:"width"`
	Height        *int     `json:"height"`
	Duration      *float64 `json:"duration"`
}

func (h *Hub) handleFileUploaded(ctx context.Context, client *Client, data json.RawMessage) {
	var req fileUploadedRequest
	if err := json.Unmarshal(data, &req); err != nil {
		client.sendError("Invalid payload")
		return
	}
	roomID, ok := parseID(client, "room_id", req.RoomID)
	if !ok {
		return
	}
	switch {
	case req.FileName == "":
		client.sendError("file_name is required")
		return
	case req.FileType == "":
		client.sendError("file_type is required")
		return
	case req.FileSize <= 0:
		client.sendError("file_size is required")
		return
	case req.StoragePath == "":
		client.sendError("storage_path is required")
		return
	}
	userID := client.UserID()

	msg, err := h.messages.CreateWithAttachment(ctx, message.AttachmentParams{
		RoomID:        roomID,
		SenderID:      userID,
		FileName:      req.FileName,
		FileType:      req.FileType,
		FileSize:      req.FileSize,
		StoragePath:   req.StoragePath,
		MimeType:      req.MimeType,
		ThumbnailPath: req.ThumbnailPath,
		Width:         req.Width,
		Height:        req.Height,
		Duration:      req.Duration,
	})
	if err != nil {
		h.log.Error().Err(err).Stringer("room_id", roomID).Msg("Failed to save message")
		client.sendError("Failed to save message")
		return
	}

	h.broadcastRoom(roomID, EventMessage, msg, uuid.Nil)

	if err := h.notifier.NotifyOffline(ctx, msg); err != nil {
		h.log.Warn().Err(err).Stringer("message_id", msg.ID).Msg("Offline fan-out failed")
	}
}
