// Package telegram sends reminder messages through the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-reminders/internal/infrastructure/notify"
	tele "gopkg.in/telebot.v4"
)

type Sender struct {
	bot *tele.Bot
}

// NewSender builds an offline bot: it only sends and never polls for updates.
// apiURL may be empty for the public Bot API.
func NewSender(token, apiURL string, timeout time.Duration) (*Sender, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     apiURL,
		Token:   token,
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Sender{bot: b}, nil
}

var _ notify.Sender = (*Sender)(nil)

// Send posts msg.Body to a numeric chat ID and returns the Telegram message ID.
func (s *Sender) Send(ctx context.Context, to string, msg notify.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(to), 10, 64)
	if err != nil {
		return "", fmt.Errorf("chat id %q: %w", to, notify.ErrInvalidAddress)
	}
	sent, err := s.bot.Send(tele.ChatID(chatID), msg.Body, &tele.SendOptions{DisableWebPagePreview: true})
	if err != nil {
		return "", fmt.Errorf("telegram send: %w", err)
	}
	return strconv.Itoa(sent.ID), nil
}
