package smtp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-reminders/internal/config"
	"github.com/go-reminders/internal/infrastructure/notify"
	"github.com/go-reminders/internal/pkg/id"
	"gopkg.in/mail.v2"
)

// dialer is the part of mail.Dialer the mailer uses.
type dialer interface {
	DialAndSend(m ...*mail.Message) error
}

// Mailer sends plain-text email through an SMTP relay.
type Mailer struct {
	from   string
	domain string
	dialer dialer
}

func NewMailer(cfg *config.Config) *Mailer {
	d := mail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
	d.Timeout = cfg.ProviderTimeout
	return newMailer(cfg.SMTPFrom, d)
}

func newMailer(from string, d dialer) *Mailer {
	dom := "localhost"
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		dom = strings.Trim(from[at+1:], "> ")
	}
	return &Mailer{from: from, domain: dom, dialer: d}
}

var _ notify.Sender = (*Mailer)(nil)

// Send returns the Message-ID it stamped on the email.
func (m *Mailer) Send(ctx context.Context, to string, msg notify.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !strings.Contains(to, "@") {
		return "", fmt.Errorf("%q: %w", to, notify.ErrInvalidAddress)
	}
	messageID := fmt.Sprintf("<%s@%s>", id.New(), m.domain)

	message := mail.NewMessage()
	message.SetHeader("From", m.from)
	message.SetHeader("To", to)
	message.SetHeader("Subject", msg.Subject)
	message.SetHeader("Message-ID", messageID)
	message.SetDateHeader("Date", time.Now())
	message.SetBody("text/plain", msg.Body)

	if err := m.dialer.DialAndSend(message); err != nil {
		return "", fmt.Errorf("smtp send: %w", err)
	}
	return messageID, nil
}
