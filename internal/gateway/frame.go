package gateway

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Event names sent by clients.
const (
	EventAuth          = "auth"
	EventJoinRoom      = "join_room"
	EventLeaveRoom     = "leave_room"
	EventSendMessage   = "send_message"
	EventEditMessage   = "edit_message"
	EventDeleteMessage = "delete_message"
	EventTypingStart   = "typing_start"
	EventTypingStop    = "typing_stop"
	EventUpdateStatus  = "update_status"
	EventFileUploaded  = "file_uploaded"
)

// Event names sent by the server.
const (
	EventMessage           = "message"
	EventMessageEdited     = "message_edited"
	EventMessageDeleted    = "message_deleted"
	EventUserOnline        = "user_online"
	EventUserOffline       = "user_offline"
	EventUserJoinedRoom    = "user_joined_room"
	EventUserLeftRoom      = "user_left_room"
	EventRoomJoined        = "room_joined"
	EventUserTyping        = "user_typing"
	EventUserStoppedTyping = "user_stopped_typing"
	EventUserStatusChanged = "user_status_changed"
	EventError             = "error"
)

// Frame is the wire envelope for every event in both directions. Data stays
// raw on the inbound path so each handler decodes its own payload shape.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// encodeFrame marshals an event name and payload into a wire frame.
func encodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

// Server-sent payload shapes. Message events carry the store.Message row
// directly; everything else uses one of these.

type errorPayload struct {
	Message string `json:"message"`
}

type presencePayload struct {
	UserID uuid.UUID `json:"user_id"`
}

type statusPayload struct {
	UserID uuid.UUID `json:"user_id"`
	Status string    `json:"status"`
}

type roomPayload struct {
	RoomID uuid.UUID `json:"room_id"`
}

type roomMemberPayload struct {
	UserID uuid.UUID `json:"user_id"`
	RoomID uuid.UUID `json:"room_id"`
}

type messageDeletedPayload struct {
	MessageID uuid.UUID `json:"message_id"`
	RoomID    uuid.UUID `json:"room_id"`
}
