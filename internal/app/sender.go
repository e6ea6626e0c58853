package app

import (
	"context"
	"errors"
	"sync/atomic"

	"hostwatch/internal/reminder"
	kit "hostwatch/internal/transport"
)

var errNoChat = errors.New("telegram.chat_id is not set")

type deliverer interface {
	Deliver(ctx context.Context, n kit.Notification) error
}

// chatSender routes reminder and digest messages into the notifier and
// waits for the confirmed result. The target chat follows hot reload.
type chatSender struct {
	out    deliverer
	target atomic.Pointer[kit.ChatTarget]
}

func newChatSender(out deliverer, to kit.ChatTarget) *chatSender {
	s := &chatSender{out: out}
	s.SetTarget(to)
	return s
}

func (s *chatSender) SetTarget(to kit.ChatTarget) { s.target.Store(&to) }

func (s *chatSender) Target() kit.ChatTarget { return *s.target.Load() }

func (s *chatSender) Send(ctx context.Context, m reminder.Message) error {
	to := s.Target()
	if to.ChatID == 0 {
		return errNoChat
	}
	return s.out.Deliver(ctx, kit.Notification{
		Kind:    m.Kind,
		Key:     m.Key,
		Target:  to,
		Text:    m.Body.HTML(),
		Options: &kit.SendOptions{ParseMode: kit.ParseModeHTML, DisablePreview: true},
	})
}
