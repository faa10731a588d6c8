package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/papo-chat/papo-hub/internal/store"
)

// Repository implements the repository contract against a direct PostgreSQL
// connection pool.
type Repository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewRepository creates a PostgreSQL-backed repository.
func NewRepository(db *pgxpool.Pool, logger zerolog.Logger) *Repository {
	return &Repository{db: db, log: logger}
}

const messageColumns = `id, room_id, sender_id, content, message_type, reply_to, is_edited, is_deleted, created_at, updated_at`

const attachmentColumns = `id, message_id, file_name, file_type, file_size, storage_path, mime_type, thumbnail_path, width, height, duration, created_at`

// scanMessage scans a message row. pgx.ErrNoRows is mapped to
// store.ErrNotFound; other errors come back unwrapped for the caller to
// contextualize.
func scanMessage(row pgx.Row) (*store.Message, error) {
	var m store.Message
	err := row.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Content, &m.MessageType, &m.ReplyTo,
		&m.IsEdited, &m.IsDeleted, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func scanAttachment(row pgx.Row) (*store.Attachment, error) {
	var a store.Attachment
	err := row.Scan(&a.ID, &a.MessageID, &a.FileName, &a.FileType, &a.FileSize, &a.StoragePath,
		&a.MimeType, &a.ThumbnailPath, &a.Width, &a.Height, &a.Duration, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// IsMember reports whether the user is a member of the room.
func (r *Repository) IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2)`,
		roomID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}

// ListRoomMembers returns the user IDs of every member of the room.
func (r *Repository) ListRoomMembers(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx,
		`SELECT user_id FROM room_members WHERE room_id = $1`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query room members: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan room member: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate room members: %w", err)
	}
	return ids, nil
}

// InsertMessage inserts a message row and returns it with identity and
// timestamps assigned by the database. A foreign key violation means the room
// or sender no longer exists and surfaces as store.ErrNotFound.
func (r *Repository) InsertMessage(ctx context.Context, params store.NewMessage) (*store.Message, error) {
	query := fmt.Sprintf(`INSERT INTO messages (room_id, sender_id, content, message_type, reply_to)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING %s`, messageColumns)

	msg, err := scanMessage(r.db.QueryRow(ctx, query,
		params.RoomID, params.SenderID, params.Content, params.MessageType, params.ReplyTo))
	if err != nil {
		if IsForeignKeyViolation(err) {
			return nil, fmt.Errorf("insert message: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// InsertAttachment inserts an attachment row for the given message.
func (r *Repository) InsertAttachment(ctx context.Context, messageID uuid.UUID, params store.NewAttachment) (*store.Attachment, error) {
	query := fmt.Sprintf(`INSERT INTO message_attachments
		(message_id, file_name, file_type, file_size, storage_path, mime_type, thumbnail_path, width, height, duration)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING %s`, attachmentColumns)

	att, err := scanAttachment(r.db.QueryRow(ctx, query,
		messageID, params.FileName, params.FileType, params.FileSize, params.StoragePath,
		params.MimeType, params.ThumbnailPath, params.Width, params.Height, params.Duration))
	if err != nil {
		if IsForeignKeyViolation(err) {
			return nil, fmt.Errorf("insert attachment: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("insert attachment: %w", err)
	}
	return att, nil
}

// UpdateMessageContent sets new content on a message owned by senderID and
// marks it edited. Deleted messages and messages owned by someone else are
// not matched, so the update touches zero rows and store.ErrNotFound is
// returned.
func (r *Repository) UpdateMessageContent(ctx context.Context, messageID, senderID uuid.UUID, content string) (*store.Message, error) {
	query := fmt.Sprintf(`UPDATE messages
		SET content = $3, is_edited = true, updated_at = now()
		WHERE id = $1 AND sender_id = $2 AND is_deleted = false
		RETURNING %s`, messageColumns)

	msg, err := scanMessage(r.db.QueryRow(ctx, query, messageID, senderID, content))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("update message content: %w", err)
	}
	return msg, nil
}

// SoftDeleteMessage marks a message owned by senderID as deleted and nulls
// its content. It returns the room ID for fan-out.
func (r *Repository) SoftDeleteMessage(ctx context.Context, messageID, senderID uuid.UUID) (uuid.UUID, error) {
	var roomID uuid.UUID
	err := r.db.QueryRow(ctx, `UPDATE messages
		SET is_deleted = true, content = NULL, updated_at = now()
		WHERE id = $1 AND sender_id = $2
		RETURNING room_id`, messageID, senderID).Scan(&roomID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, store.ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("soft delete message: %w", err)
	}
	return roomID, nil
}

// FetchSenderProfile returns the profile snapshot used to enrich messages.
func (r *Repository) FetchSenderProfile(ctx context.Context, userID uuid.UUID) (*store.SenderProfile, error) {
	var p store.SenderProfile
	err := r.db.QueryRow(ctx,
		`SELECT username, display_name, avatar_url FROM profiles WHERE id = $1`, userID).
		Scan(&p.Username, &p.DisplayName, &p.AvatarURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("fetch sender profile: %w", err)
	}
	return &p, nil
}

// UpdateProfileStatus writes the durable presence mirror on the profile row.
// A missing profile touches zero rows and is not an error, matching the
// PostgREST driver.
func (r *Repository) UpdateProfileStatus(ctx context.Context, userID uuid.UUID, status string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE profiles SET status = $2, last_seen = now(), updated_at = now() WHERE id = $1`,
		userID, status)
	if err != nil {
		return fmt.Errorf("update profile status: %w", err)
	}
	return nil
}

// FetchProfileStatus reads the durable presence status from the profile row.
func (r *Repository) FetchProfileStatus(ctx context.Context, userID uuid.UUID) (string, error) {
	var status string
	err := r.db.QueryRow(ctx,
		`SELECT status FROM profiles WHERE id = $1`, userID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", fmt.Errorf("fetch profile status: %w", err)
	}
	return status, nil
}

// InsertNotification inserts an unread notification row.
func (r *Repository) InsertNotification(ctx context.Context, params store.NewNotification) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO notifications (user_id, title, body, notification_type, reference_id)
		VALUES ($1, $2, $3, $4, $5)`,
		params.UserID, params.Title, params.Body, params.Type, params.ReferenceID)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return fmt.Errorf("insert notification: %w", store.ErrNotFound)
		}
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}
