package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-reminders/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockLookup struct{ mock.Mock }

func (m *mockLookup) Lookup(ctx context.Context, userID string) (*domain.Recipient, error) {
	args := m.Called(ctx, userID)
	if r, _ := args.Get(0).(*domain.Recipient); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func email(s string) *domain.Recipient { return &domain.Recipient{EmailAddress: &s} }

func TestRecipientCache_ReadsThroughOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	inner := &mockLookup{}
	inner.On("Lookup", mock.Anything, "u1").Return(email("a@b.com"), nil).Once()

	c := NewRecipientCache(rdb, inner, "reminders", time.Minute, zerolog.Nop())
	for i := 0; i < 3; i++ {
		r, err := c.Lookup(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, "a@b.com", r.Address(domain.ChannelEmail))
	}
	inner.AssertNumberOfCalls(t, "Lookup", 1)
	assert.True(t, mr.Exists("reminders:recipient:u1"))
	assert.Equal(t, time.Minute, mr.TTL("reminders:recipient:u1"))
}

func TestRecipientCache_ExpiryAndInvalidate(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	inner := &mockLookup{}
	inner.On("Lookup", mock.Anything, "u1").Return(email("a@b.com"), nil)

	c := NewRecipientCache(rdb, inner, "reminders", time.Minute, zerolog.Nop())
	_, err := c.Lookup(context.Background(), "u1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)
	_, err = c.Lookup(context.Background(), "u1")
	require.NoError(t, err)

	require.NoError(t, c.Invalidate(context.Background(), "u1"))
	_, err = c.Lookup(context.Background(), "u1")
	require.NoError(t, err)

	inner.AssertNumberOfCalls(t, "Lookup", 3)
}

func TestRecipientCache_ErrorsAreNotCached(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	inner := &mockLookup{}
	inner.On("Lookup", mock.Anything, "ghost").Return(nil, domain.ErrNotFound)

	c := NewRecipientCache(rdb, inner, "reminders", time.Minute, zerolog.Nop())
	_, err := c.Lookup(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.False(t, mr.Exists("reminders:recipient:ghost"))
}

func TestRecipientCache_RedisDownFallsBack(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	mr.Close()
	inner := &mockLookup{}
	inner.On("Lookup", mock.Anything, "u1").Return(email("a@b.com"), nil)

	c := NewRecipientCache(rdb, inner, "reminders", time.Minute, zerolog.Nop())
	r, err := c.Lookup(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", r.Address(domain.ChannelEmail))
}
