package presence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/papo-chat/papo-hub/internal/store"
)

// ErrInvalidStatus is returned when a client requests a status outside the
// online/away/busy/offline enum.
var ErrInvalidStatus = errors.New("invalid status")

// Service reconciles the ephemeral presence keys with the durable profile
// row. The ephemeral key is authoritative for "is the user online right
// now"; the profile row serves cold reads and survives restarts. Durable
// writes are best-effort: failures are logged, never surfaced, because a
// slow profiles table must not hold up connection handling.
type Service struct {
	store    *Store
	profiles store.ProfileRepository
	log      zerolog.Logger
}

// NewService creates a presence service over the ephemeral store and the
// durable profile repository.
func NewService(ephemeral *Store, profiles store.ProfileRepository, logger zerolog.Logger) *Service {
	return &Service{
		store:    ephemeral,
		profiles: profiles,
		log:      logger.With().Str("component", "presence").Logger(),
	}
}

// SetOnline writes the ephemeral presence key and mirrors the status to the
// profile row.
func (s *Service) SetOnline(ctx context.Context, userID uuid.UUID, status string) error {
	if err := s.store.Set(ctx, userID, status); err != nil {
		return err
	}
	s.syncProfile(ctx, userID, status)
	return nil
}

// SetOffline deletes the ephemeral presence key and mirrors offline to the
// profile row.
func (s *Service) SetOffline(ctx context.Context, userID uuid.UUID) error {
	if err := s.store.Delete(ctx, userID); err != nil {
		return err
	}
	s.syncProfile(ctx, userID, StatusOffline)
	return nil
}

// UpdateStatus validates the requested status and routes it: offline deletes
// the presence key, anything else stores it.
func (s *Service) UpdateStatus(ctx context.Context, userID uuid.UUID, status string) error {
	if !ValidStatus(status) {
		return ErrInvalidStatus
	}
	if status == StatusOffline {
		return s.SetOffline(ctx, userID)
	}
	return s.SetOnline(ctx, userID, status)
}

// GetStatus returns the user's status, preferring the ephemeral key. When
// the key is missing the durable profile row answers the cold read; a user
// unknown to both is offline.
func (s *Service) GetStatus(ctx context.Context, userID uuid.UUID) string {
	status, err := s.store.Get(ctx, userID)
	if err != nil {
		s.log.Warn().Err(err).Stringer("user_id", userID).Msg("Ephemeral presence read failed, falling back to profile")
	} else if status != StatusOffline {
		return status
	}

	durable, err := s.profiles.FetchProfileStatus(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.log.Warn().Err(err).Stringer("user_id", userID).Msg("Durable presence read failed")
		}
		return StatusOffline
	}
	return durable
}

// Refresh extends the ephemeral presence TTL. Called from the keepalive
// path, so failures are logged rather than returned.
func (s *Service) Refresh(ctx context.Context, userID uuid.UUID) {
	if err := s.store.Refresh(ctx, userID); err != nil {
		s.log.Debug().Err(err).Stringer("user_id", userID).Msg("Failed to refresh presence TTL")
	}
}

// AddTyping marks the user as typing in the room.
func (s *Service) AddTyping(ctx context.Context, roomID, userID uuid.UUID) error {
	return s.store.AddTyping(ctx, roomID, userID)
}

// RemoveTyping clears the user's typing marker in the room.
func (s *Service) RemoveTyping(ctx context.Context, roomID, userID uuid.UUID) error {
	return s.store.RemoveTyping(ctx, roomID, userID)
}

func (s *Service) syncProfile(ctx context.Context, userID uuid.UUID, status string) {
	if err := s.profiles.UpdateProfileStatus(ctx, userID, status); err != nil {
		s.log.Warn().Err(err).Stringer("user_id", userID).Str("status", status).Msg("Failed to sync presence to profile")
	}
}
