// Package notify routes a rendered message to the provider registered for a channel.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-reminders/internal/domain"
	"github.com/go-reminders/internal/pkg/id"
	"github.com/rs/zerolog"
)

var (
	// ErrNoProvider means no sender is registered for the channel.
	ErrNoProvider = errors.New("no provider for channel")
	// ErrInvalidAddress means the provider rejected the address format before sending.
	ErrInvalidAddress = errors.New("invalid recipient address")
)

// Message is the provider-neutral content of a notification.
type Message struct {
	Subject string
	Body    string
}

// Sender delivers a message to one address and returns the provider's message ID.
type Sender interface {
	Send(ctx context.Context, address string, msg Message) (string, error)
}

type Router struct {
	senders map[domain.Channel]Sender
}

func NewRouter() *Router {
	return &Router{senders: make(map[domain.Channel]Sender)}
}

// Register binds s to ch, replacing any previous sender.
func (r *Router) Register(ch domain.Channel, s Sender) *Router {
	r.senders[ch] = s
	return r
}

func (r *Router) Send(ctx context.Context, ch domain.Channel, address string, msg Message) (string, error) {
	s, ok := r.senders[ch]
	if !ok {
		return "", fmt.Errorf("%s: %w", ch, ErrNoProvider)
	}
	return s.Send(ctx, address, msg)
}

// LogSender writes messages to the log instead of delivering them. It stands in
// for providers without credentials in development.
type LogSender struct {
	Channel domain.Channel
	Log     zerolog.Logger
}

func (l LogSender) Send(_ context.Context, address string, msg Message) (string, error) {
	msgID := "log-" + id.New()
	l.Log.Info().
		Str("channel", string(l.Channel)).
		Str("to", address).
		Str("subject", msg.Subject).
		Str("message_id", msgID).
		Msg(msg.Body)
	return msgID, nil
}
