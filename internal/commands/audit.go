package commands

import (
	"context"
	"time"

	"hostwatch/internal/storage"
	"hostwatch/internal/transport/telegram/router"
	logx "hostwatch/pkg/logx"
)

// Audit returns a router.AuditFunc that appends every command to the store.
// Audit failures are logged and never reach the user.
func Audit(store storage.Store, log logx.Logger) router.AuditFunc {
	if log.IsZero() {
		log = logx.Nop()
	}
	return func(ctx context.Context, req *router.Request, err error, took time.Duration) {
		if store == nil || req == nil {
			return
		}
		e := storage.AuditEntry{
			At:            time.Now().UTC(),
			ActorID:       req.FromID,
			ActorUsername: req.FromUsername,
			ChatID:        req.Chat.ChatID,
			ThreadID:      req.Chat.ThreadID,
			Command:       req.Command,
			Target:        req.Target,
			OK:            err == nil,
			TookMS:        took.Milliseconds(),
		}
		if err != nil {
			e.Error = err.Error()
		}
		actx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if aerr := store.AppendAudit(actx, e); aerr != nil {
			log.Warn("audit append failed", logx.String("cmd", req.Command), logx.Err(aerr))
		}
	}
}
