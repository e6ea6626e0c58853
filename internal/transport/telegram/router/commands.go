package router

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "hostwatch/internal/runtime/supervisor"
	kit "hostwatch/internal/transport"
	logx "hostwatch/pkg/logx"
)

type Option func(*CommandManager)

// WithWorkers sets the handler pool size (default 2).
func WithWorkers(n int) Option { return func(m *CommandManager) { m.workers = n } }

// WithMenu publishes the command list to Telegram's menu on start.
func WithMenu(up kit.CommandMenuUpdater) Option { return func(m *CommandManager) { m.menu = up } }

// WithMiddleware appends middleware that runs inside the request log.
func WithMiddleware(mw ...Middleware) Option {
	return func(m *CommandManager) { m.mws = append(m.mws, mw...) }
}

type CommandManager struct {
	mu    sync.RWMutex
	cmds  map[string]Command
	alias map[string]Command

	owners []int64

	log     logx.Logger
	replier Replier
	menu    kit.CommandMenuUpdater
	mws     []Middleware
	workers int

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func()
}

func NewCommandManager(log logx.Logger, replier Replier, owners []int64, opts ...Option) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &CommandManager{
		cmds:    map[string]Command{},
		alias:   map[string]Command{},
		owners:  append([]int64(nil), owners...),
		log:     log,
		replier: replier,
		workers: 2,
		jobs:    make(chan func(), 64),
	}
	for _, o := range opts {
		o(m)
	}
	if m.workers <= 0 {
		m.workers = 1
	}
	return m
}

// Supervisor returns the dispatcher's supervisor (nil if not running).
func (m *CommandManager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

// SetOwners updates the owner list. Safe during hot-reload.
func (m *CommandManager) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *CommandManager) isOwner(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.owners {
		if o == id {
			return true
		}
	}
	return false
}

// SetRegistry replaces the command set. /help is always added.
func (m *CommandManager) SetRegistry(cmds []Command) {
	cmds = append(cmds, Command{
		Name:        "help",
		Aliases:     []string{"h"},
		Description: "tampilkan bantuan",
		Usage:       "/help [cmd]",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpDoc(req.Args))
		},
	})

	byName := map[string]Command{}
	alias := map[string]Command{}
	for _, c := range cmds {
		c.Name = strings.ToLower(strings.TrimSpace(c.Name))
		if c.Name == "" || c.Handle == nil {
			continue
		}
		byName[c.Name] = c
	}
	for _, c := range byName {
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			// Canonical names win over aliases.
			if _, taken := byName[a]; !taken {
				alias[a] = c
			}
		}
	}

	m.mu.Lock()
	m.cmds = byName
	m.alias = alias
	m.mu.Unlock()
}

func (m *CommandManager) commands() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Command, 0, len(m.cmds))
	for _, c := range m.cmds {
		out = append(out, c)
	}
	return out
}

func (m *CommandManager) lookup(word string) (Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.cmds[word]; ok {
		return c, true
	}
	c, ok := m.alias[word]
	return c, ok
}

// DispatchLoop routes updates until ctx is done or updates is closed.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	jobs := m.jobs
	m.runMu.Lock()
	m.sup = sup
	m.running = true
	m.runMu.Unlock()

	m.log.Info("command dispatcher started", logx.Int("workers", m.workers), logx.Int("job_queue_cap", cap(jobs)))

	for i := 0; i < m.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-jobs:
					m.runJob(idx, job)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	if m.menu != nil {
		menu := buildMenuCommands(m.commands())
		sup.Go("telegram.menu.update", func(c context.Context) error {
			cctx, cancel := context.WithTimeout(c, 5*time.Second)
			defer cancel()
			if err := m.menu.UpdateMenuCommands(cctx, menu); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
			return nil
		})
	}

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.runMu.Lock()
		m.sup = nil
		m.running = false
		m.runMu.Unlock()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.route(ctx, up)
		}
	}
}

func (m *CommandManager) runJob(worker int, job func()) {
	if job == nil {
		return
	}
	// Middleware already recovers; this keeps the worker alive regardless.
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	job()
}

// ParseCommand splits "/cmd@bot rest" into the lowercased command word and
// the remaining text. ok is false for non-command text.
func ParseCommand(text string) (word, rest string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	text = text[1:]
	if i := strings.IndexFunc(text, func(r rune) bool { return r == ' ' || r == '\n' || r == '\t' }); i >= 0 {
		word, rest = text[:i], strings.TrimSpace(text[i+1:])
	} else {
		word = text
	}
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	word = strings.ToLower(word)
	return word, rest, word != ""
}

func (m *CommandManager) route(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	req, ok := NewRequest(*msg, m.replier)
	if !ok {
		return
	}
	rid := uuid.NewString()[:8]
	req.ReqID = rid

	cmd, found := m.lookup(req.Command)
	if !found {
		_ = req.ReplyText(ctx, "perintah tidak dikenal. coba /help")
		return
	}
	if cmd.Access == AccessOwnerOnly && !m.isOwner(msg.FromID) {
		m.log.Warn("unauthorized command", logx.Int64("from_id", msg.FromID), logx.String("cmd", cmd.Name))
		_ = req.ReplyText(ctx, "unauthorized")
		return
	}

	req.Command = cmd.Name
	req.Logger = m.log.With(
		logx.String("rid", rid),
		logx.Int64("chat_id", msg.ChatID),
		logx.Int("thread_id", msg.ThreadID),
		logx.Int64("from_id", msg.FromID),
		logx.String("cmd", cmd.Name),
	)

	chain := []Middleware{MWRequestLog(m.log)}
	chain = append(chain, m.mws...)
	chain = append(chain, MWPanicRecover(m.log), MWTimeout(cmd.Timeout))
	final := Chain(cmd.Handle, chain...)

	select {
	case m.jobs <- func() { _ = final(ctx, req) }:
	default:
		_ = req.ReplyText(ctx, "busy, try again")
	}
}
