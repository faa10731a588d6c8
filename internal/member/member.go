// Package member answers room membership questions for the gateway.
//
// The durable room_members table is authoritative. A Redis set per room
// caches its member ids for five minutes so the hot path (members sending
// messages) skips the repository. The cache may grant only what it
// evidences: a missing set, or a set that does not contain the user, always
// falls through to the repository, whose verdict wins and rebuilds the
// cache.
package member

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/papo-chat/papo-hub/internal/store"
)

// Service verifies room membership, caching positive results.
type Service struct {
	repo  store.MembershipRepository
	cache *Cache
	log   zerolog.Logger
}

// NewService creates a membership service over the repository and cache.
func NewService(repo store.MembershipRepository, cache *Cache, logger zerolog.Logger) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
		log:   logger.With().Str("component", "member").Logger(),
	}
}

// IsMember reports whether the user belongs to the room. A cached set that
// contains the user answers immediately; anything else is decided by the
// repository. A positive repository verdict rebuilds the room's cache so
// the next checks stay off the database.
func (s *Service) IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	members, cached, err := s.cache.Members(ctx, roomID)
	if err != nil {
		s.log.Warn().Err(err).Stringer("room_id", roomID).Msg("Membership cache read failed, falling back to repository")
	} else if cached {
		for _, id := range members {
			if id == userID {
				return true, nil
			}
		}
		// The set may predate this user's join; only the repository can
		// deny access.
	}

	member, err := s.repo.IsMember(ctx, roomID, userID)
	if err != nil {
		return false, fmt.Errorf("verify membership of %s in %s: %w", userID, roomID, err)
	}
	if member {
		s.rebuildCache(ctx, roomID)
	}
	return member, nil
}

func (s *Service) rebuildCache(ctx context.Context, roomID uuid.UUID) {
	members, err := s.repo.ListRoomMembers(ctx, roomID)
	if err != nil {
		s.log.Warn().Err(err).Stringer("room_id", roomID).Msg("Failed to list room members for cache rebuild")
		return
	}
	if err := s.cache.Put(ctx, roomID, members); err != nil {
		s.log.Warn().Err(err).Stringer("room_id", roomID).Msg("Failed to rebuild membership cache")
	}
}
