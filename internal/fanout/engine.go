// Package fanout routes persisted messages to room members who are not
// connected: each offline member gets the message envelope queued for their
// next connection plus a notification row for the push pipeline. Online
// members are served by the gateway broadcast and are never touched here.
package fanout

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/papo-chat/papo-hub/internal/presence"
	"github.com/papo-chat/papo-hub/internal/store"
)

const (
	notificationTitle = "Nova mensagem"
	notificationType  = "new_message"

	// attachmentBody replaces the notification body for messages that carry
	// no text content.
	attachmentBody = "Arquivo"
)

// Engine finds the offline members of a message's room and fans the message
// out to their queues.
type Engine struct {
	members  store.MembershipRepository
	notifs   store.NotificationRepository
	presence *presence.Store
	queue    *Queue
	log      zerolog.Logger
}

// NewEngine creates a fan-out engine.
func NewEngine(
	members store.MembershipRepository,
	notifs store.NotificationRepository,
	pres *presence.Store,
	queue *Queue,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		members:  members,
		notifs:   notifs,
		presence: pres,
		queue:    queue,
		log:      logger.With().Str("component", "fanout").Logger(),
	}
}

// NotifyOffline queues the message for every room member without a live
// presence key and records a new_message notification for each. The member
// list comes from the repository, never the membership cache; a stale cache
// must not decide who misses a message. Per-member failures are logged and
// the remaining members are still served.
func (e *Engine) NotifyOffline(ctx context.Context, msg *store.Message) error {
	members, err := e.members.ListRoomMembers(ctx, msg.RoomID)
	if err != nil {
		return fmt.Errorf("list members of %s: %w", msg.RoomID, err)
	}

	recipients := make([]uuid.UUID, 0, len(members))
	for _, id := range members {
		if id != msg.SenderID {
			recipients = append(recipients, id)
		}
	}
	if len(recipients) == 0 {
		return nil
	}

	online, err := e.presence.GetMany(ctx, recipients)
	if err != nil {
		return fmt.Errorf("check presence for room %s: %w", msg.RoomID, err)
	}

	for _, memberID := range recipients {
		if _, ok := online[memberID]; ok {
			continue
		}

		if err := e.queue.Push(ctx, memberID, msg); err != nil {
			e.log.Warn().Err(err).
				Stringer("user_id", memberID).
				Stringer("message_id", msg.ID).
				Msg("Failed to queue message for offline member")
		}

		body := attachmentBody
		if msg.Content != nil {
			body = *msg.Content
		}
		if err := e.notifs.InsertNotification(ctx, store.NewNotification{
			UserID:      memberID,
			Title:       notificationTitle,
			Body:        &body,
			Type:        notificationType,
			ReferenceID: &msg.ID,
		}); err != nil {
			e.log.Warn().Err(err).
				Stringer("user_id", memberID).
				Stringer("message_id", msg.ID).
				Msg("Failed to insert notification for offline member")
		}
	}
	return nil
}
