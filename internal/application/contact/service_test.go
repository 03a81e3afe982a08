package contact

import (
	"context"
	"errors"
	"testing"

	"github.com/go-reminders/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockUsers struct{ mock.Mock }

func (m *mockUsers) Get(ctx context.Context, userID string) (*domain.User, error) {
	args := m.Called(ctx, userID)
	if u, _ := args.Get(0).(*domain.User); u != nil {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockUsers) Put(ctx context.Context, u *domain.User) error {
	return m.Called(ctx, u).Error(0)
}

type mockCache struct{ mock.Mock }

func (m *mockCache) Invalidate(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

func ptr[T any](v T) *T { return &v }

func newSvc(users *mockUsers, cache *mockCache) Service {
	return NewService(ServiceDeps{Users: users, Cache: cache, Log: zerolog.Nop()})
}

func TestUpdate_MergesAndInvalidates(t *testing.T) {
	users, cache := &mockUsers{}, &mockCache{}
	users.On("Get", mock.Anything, "u1").Return(&domain.User{UserID: "u1", Email: ptr("old@example.com"), Phone: ptr("+525500000000")}, nil)
	users.On("Put", mock.Anything, mock.MatchedBy(func(u *domain.User) bool {
		return *u.Email == "new@example.com" && u.Phone == nil && *u.ChatID == "123456"
	})).Return(nil)
	cache.On("Invalidate", mock.Anything, "u1").Return(nil)

	u, err := newSvc(users, cache).Update(context.Background(), "u1", domain.UpdateContactRequest{
		Email:  ptr(" new@example.com "),
		Phone:  ptr(""),
		ChatID: ptr("123456"),
	})
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", *u.Email)
	users.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestUpdate_CreatesMissingUser(t *testing.T) {
	users, cache := &mockUsers{}, &mockCache{}
	users.On("Get", mock.Anything, "u2").Return(nil, domain.ErrNotFound)
	users.On("Put", mock.Anything, &domain.User{UserID: "u2", Phone: ptr("+14155550100")}).Return(nil)
	cache.On("Invalidate", mock.Anything, "u2").Return(errors.New("redis down"))

	u, err := newSvc(users, cache).Update(context.Background(), "u2", domain.UpdateContactRequest{Phone: ptr("+14155550100")})
	require.NoError(t, err, "cache failures do not fail the update")
	assert.Equal(t, "u2", u.UserID)
	users.AssertExpectations(t)
}

func TestUpdate_StoreFailureIsUnavailable(t *testing.T) {
	users, cache := &mockUsers{}, &mockCache{}
	users.On("Get", mock.Anything, "u1").Return(&domain.User{UserID: "u1"}, nil)
	users.On("Put", mock.Anything, mock.Anything).Return(errors.New("throttled"))

	_, err := newSvc(users, cache).Update(context.Background(), "u1", domain.UpdateContactRequest{Email: ptr("a@b.co")})
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	cache.AssertNotCalled(t, "Invalidate", mock.Anything, mock.Anything)
}

func TestGet_PassesNotFoundThrough(t *testing.T) {
	users := &mockUsers{}
	users.On("Get", mock.Anything, "ghost").Return(nil, domain.ErrNotFound)
	_, err := newSvc(users, &mockCache{}).Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NotErrorIs(t, err, domain.ErrUnavailable)
}
