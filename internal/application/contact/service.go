// Package contact maintains the channel addresses reminders are delivered to.
package contact

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-reminders/internal/domain"
	"github.com/rs/zerolog"
)

type userStore interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
	Put(ctx context.Context, u *domain.User) error
}

// recipientCache drops cached recipient lookups.
type recipientCache interface {
	Invalidate(ctx context.Context, userID string) error
}

type Service interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
	Update(ctx context.Context, userID string, req domain.UpdateContactRequest) (*domain.User, error)
}

type ServiceDeps struct {
	Users userStore
	Cache recipientCache
	Log   zerolog.Logger
}

type service struct {
	users userStore
	cache recipientCache
	log   zerolog.Logger
}

func NewService(d ServiceDeps) Service {
	return &service{users: d.Users, cache: d.Cache, log: d.Log}
}

func (s *service) Get(ctx context.Context, userID string) (*domain.User, error) {
	u, err := s.users.Get(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("get user: %w: %w", domain.ErrUnavailable, err)
	}
	return u, err
}

// Update merges req into the stored record, creating it when missing, and
// invalidates the cached recipient so the next delivery sees the change.
func (s *service) Update(ctx context.Context, userID string, req domain.UpdateContactRequest) (*domain.User, error) {
	u, err := s.users.Get(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		u = &domain.User{UserID: userID}
	case err != nil:
		return nil, fmt.Errorf("get user: %w: %w", domain.ErrUnavailable, err)
	}
	u.Email = merge(u.Email, req.Email)
	u.Phone = merge(u.Phone, req.Phone)
	u.ChatID = merge(u.ChatID, req.ChatID)

	if err := s.users.Put(ctx, u); err != nil {
		return nil, fmt.Errorf("put user: %w: %w", domain.ErrUnavailable, err)
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		// Stale until the cache TTL expires.
		s.log.Warn().Err(err).Str("user_id", userID).Msg("recipient cache invalidation failed")
	}
	s.log.Info().Str("user_id", userID).Msg("contact updated")
	return u, nil
}

func merge(cur, in *string) *string {
	if in == nil {
		return cur
	}
	v := strings.TrimSpace(*in)
	if v == "" {
		return nil
	}
	return &v
}
