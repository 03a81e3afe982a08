package smtp

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/go-reminders/internal/infrastructure/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/mail.v2"
)

type captureDialer struct {
	sent []*mail.Message
	err  error
}

func (c *captureDialer) DialAndSend(m ...*mail.Message) error {
	c.sent = append(c.sent, m...)
	return c.err
}

func TestMailer_Send(t *testing.T) {
	d := &captureDialer{}
	m := newMailer("Reminders <noreply@example.com>", d)

	msgID, err := m.Send(context.Background(), "alice@example.com", notify.Message{Subject: "Reminder: pay rent", Body: "pay rent"})
	require.NoError(t, err)
	assert.Regexp(t, `^<[0-9A-Z]{26}@example\.com>$`, msgID)

	require.Len(t, d.sent, 1)
	sent := d.sent[0]
	assert.Equal(t, []string{"alice@example.com"}, sent.GetHeader("To"))
	assert.Equal(t, []string{"Reminder: pay rent"}, sent.GetHeader("Subject"))
	assert.Equal(t, []string{msgID}, sent.GetHeader("Message-ID"))

	var buf bytes.Buffer
	_, err = sent.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "pay rent")
}

func TestMailer_Errors(t *testing.T) {
	m := newMailer("noreply@example.com", &captureDialer{err: errors.New("421 try later")})

	_, err := m.Send(context.Background(), "alice@example.com", notify.Message{})
	assert.ErrorContains(t, err, "421")

	_, err = m.Send(context.Background(), "not-an-email", notify.Message{})
	assert.ErrorIs(t, err, notify.ErrInvalidAddress)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Send(ctx, "alice@example.com", notify.Message{})
	assert.ErrorIs(t, err, context.Canceled)
}
