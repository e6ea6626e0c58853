// Package router dispatches Telegram commands to handlers through a
// bounded worker pool and a middleware chain. Replies go through the
// notifier like every other outbound message.
package router

import (
	"context"
	"strings"
	"time"

	kit "hostwatch/internal/transport"
	logx "hostwatch/pkg/logx"
	"hostwatch/pkg/tgui"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string   // without the leading slash
	Aliases     []string // e.g. ["h"]
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

// Replier is the outbound path for command replies.
type Replier interface {
	Notify(ctx context.Context, n kit.Notification) error
}

type Request struct {
	Message      kit.Message
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	Command      string
	Args         []string
	// ArgText is everything after the command word, untrimmed of separators.
	ArgText string
	ReqID   string
	Logger  logx.Logger

	// Target names the object a handler acted on, for the audit trail.
	Target string

	replier Replier
}

// NewRequest parses msg into a request replying through replier. ok is
// false when msg is not a command.
func NewRequest(msg kit.Message, replier Replier) (req *Request, ok bool) {
	word, rest, ok := ParseCommand(msg.Text)
	if !ok {
		return nil, false
	}
	return &Request{
		Message:      msg,
		Chat:         kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:       msg.FromID,
		FromUsername: msg.FromUsername,
		Command:      word,
		Args:         strings.Fields(rest),
		ArgText:      rest,
		Logger:       logx.Nop(),
		replier:      replier,
	}, true
}

// Reply sends doc as HTML to the chat the command came from.
func (r *Request) Reply(ctx context.Context, doc tgui.Doc) error {
	return r.send(ctx, doc.HTML(), kit.ParseModeHTML)
}

// ReplyText sends s without markup.
func (r *Request) ReplyText(ctx context.Context, s string) error {
	return r.send(ctx, s, "")
}

func (r *Request) send(ctx context.Context, text, mode string) error {
	if r.replier == nil || strings.TrimSpace(text) == "" {
		return nil
	}
	return r.replier.Notify(ctx, kit.Notification{
		Kind:    "command",
		Key:     r.Command + ":" + r.ReqID,
		Target:  r.Chat,
		Text:    text,
		Options: &kit.SendOptions{ParseMode: mode, DisablePreview: true},
	})
}
