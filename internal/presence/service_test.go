package presence

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/papo-chat/papo-hub/internal/store"
)

type fakeProfiles struct {
	mu       sync.Mutex
	statuses map[uuid.UUID]string
	failSync bool
	failRead bool
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{statuses: make(map[uuid.UUID]string)}
}

func (f *fakeProfiles) FetchSenderProfile(ctx context.Context, userID uuid.UUID) (*store.SenderProfile, error) {
	return nil, store.ErrNotFound
}

func (f *fakeProfiles) UpdateProfileStatus(ctx context.Context, userID uuid.UUID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSync {
		return errors.New("profiles table unavailable")
	}
	f.statuses[userID] = status
	return nil
}

func (f *fakeProfiles) FetchProfileStatus(ctx context.Context, userID uuid.UUID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRead {
		return "", errors.New("profiles table unavailable")
	}
	status, ok := f.statuses[userID]
	if !ok {
		return "", store.ErrNotFound
	}
	return status, nil
}

func (f *fakeProfiles) statusOf(userID uuid.UUID) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.statuses[userID]
	return status, ok
}

func newTestService(t *testing.T) (*Service, *fakeProfiles) {
	t.Helper()
	_, rdb := newTestRedis(t)
	profiles := newFakeProfiles()
	svc := NewService(NewStore(rdb, testTypingTTL), profiles, zerolog.Nop())
	return svc, profiles
}

func TestSetOnlineSyncsProfile(t *testing.T) {
	t.Parallel()
	svc, profiles := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	if err := svc.SetOnline(ctx, userID, StatusOnline); err != nil {
		t.Fatalf("SetOnline() error = %v", err)
	}

	if got := svc.GetStatus(ctx, userID); got != StatusOnline {
		t.Errorf("GetStatus() = %q, want %q", got, StatusOnline)
	}
	if got, ok := profiles.statusOf(userID); !ok || got != StatusOnline {
		t.Errorf("profile status = %q (ok=%v), want %q", got, ok, StatusOnline)
	}
}

func TestSetOnlineSurvivesProfileFailure(t *testing.T) {
	t.Parallel()
	svc, profiles := newTestService(t)
	profiles.failSync = true
	ctx := context.Background()
	userID := uuid.New()

	if err := svc.SetOnline(ctx, userID, StatusBusy); err != nil {
		t.Fatalf("SetOnline() error = %v, want nil when only the durable sync fails", err)
	}

	if got := svc.GetStatus(ctx, userID); got != StatusBusy {
		t.Errorf("GetStatus() = %q, want %q", got, StatusBusy)
	}
}

func TestSetOfflineDeletesAndSyncs(t *testing.T) {
	t.Parallel()
	svc, profiles := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	if err := svc.SetOnline(ctx, userID, StatusOnline); err != nil {
		t.Fatalf("SetOnline() error = %v", err)
	}
	if err := svc.SetOffline(ctx, userID); err != nil {
		t.Fatalf("SetOffline() error = %v", err)
	}

	if got := svc.GetStatus(ctx, userID); got != StatusOffline {
		t.Errorf("GetStatus() = %q, want %q", got, StatusOffline)
	}
	if got, _ := profiles.statusOf(userID); got != StatusOffline {
		t.Errorf("profile status = %q, want %q", got, StatusOffline)
	}
}

func TestUpdateStatusRejectsUnknown(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	err := svc.UpdateStatus(context.Background(), uuid.New(), "sleeping")
	if !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("UpdateStatus() error = %v, want ErrInvalidStatus", err)
	}
}

func TestUpdateStatusOfflineDeletesKey(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	if err := svc.SetOnline(ctx, userID, StatusOnline); err != nil {
		t.Fatalf("SetOnline() error = %v", err)
	}
	if err := svc.UpdateStatus(ctx, userID, StatusOffline); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}

	if got := svc.GetStatus(ctx, userID); got != StatusOffline {
		t.Errorf("GetStatus() = %q, want %q", got, StatusOffline)
	}
}

func TestGetStatusFallsBackToProfile(t *testing.T) {
	t.Parallel()
	svc, profiles := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	// Durable row says busy but the ephemeral key has expired.
	profiles.statuses[userID] = StatusBusy

	if got := svc.GetStatus(ctx, userID); got != StatusBusy {
		t.Errorf("GetStatus() = %q, want %q from profile fallback", got, StatusBusy)
	}
}

func TestGetStatusUnknownUserIsOffline(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	if got := svc.GetStatus(context.Background(), uuid.New()); got != StatusOffline {
		t.Errorf("GetStatus() = %q, want %q", got, StatusOffline)
	}
}

func TestGetStatusProfileFailureIsOffline(t *testing.T) {
	t.Parallel()
	svc, profiles := newTestService(t)
	profiles.failRead = true

	if got := svc.GetStatus(context.Background(), uuid.New()); got != StatusOffline {
		t.Errorf("GetStatus() = %q, want %q when both reads miss", got, StatusOffline)
	}
}
