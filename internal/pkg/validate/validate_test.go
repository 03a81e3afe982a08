package validate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-reminders/internal/domain"
)

func TestStruct_MissingRequiredField(t *testing.T) {
	err := Struct(domain.ParseReminderRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidation))
	assert.Contains(t, err.Error(), "field 'Text' failed 'required'")
}

func TestStruct_SnoozeBounds(t *testing.T) {
	tooLong := 20000
	err := Struct(domain.SnoozeRequest{Minutes: &tooLong})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidation))

	ok := 30
	assert.NoError(t, Struct(domain.SnoozeRequest{Minutes: &ok}))
	assert.NoError(t, Struct(domain.SnoozeRequest{}))
}

func TestStruct_ChannelOneOf(t *testing.T) {
	bad := "pigeon"
	err := Struct(domain.CreateReminderRequest{Title: "x", DueAtISO: "2030-01-01T00:00:00Z", Channel: &bad})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'oneof'")
}

func TestStruct_Recurrence(t *testing.T) {
	req := domain.CreateReminderRequest{Title: "rent", DueAtISO: "2030-03-15T15:00:00Z"}
	for _, rule := range []string{"monthly", "every 90m", "0 9 * * 1-5"} {
		req.Recurrence = &rule
		assert.NoError(t, Struct(req), rule)
	}

	bad := "every blue moon"
	req.Recurrence = &bad
	err := Struct(req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidation))
	assert.Contains(t, err.Error(), "failed 'recurrence'")

	req.Recurrence = nil
	assert.NoError(t, Struct(req))
}
