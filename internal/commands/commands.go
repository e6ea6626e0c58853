// Package commands holds the operator commands of the Telegram bot.
package commands

import (
	"context"
	"time"

	"hostwatch/internal/notifier"
	"hostwatch/internal/reminder"
	"hostwatch/internal/storage"
	"hostwatch/internal/task/scheduler"
	"hostwatch/internal/transport/telegram/router"
	logx "hostwatch/pkg/logx"
)

// Job names registered on the scheduler.
const (
	SweepJob  = "reminder-sweep"
	DigestJob = "daily-digest"
)

// Runner triggers registered jobs by name.
type Runner interface {
	RunNow(ctx context.Context, name string) error
	Kick(name string) error
}

type SweepReporter interface {
	LastReport() (reminder.Report, bool)
}

type SchedulerStatus interface {
	Snapshot() scheduler.Snapshot
}

type NotifierStatus interface {
	Stats() notifier.Stats
}

type Deps struct {
	Store     storage.Store
	Jobs      Runner
	Sweeps    SweepReporter
	Scheduler SchedulerStatus
	Notifier  NotifierStatus

	Location         *time.Location
	RenewalThreshold int
	Now              func() time.Time
	Log              logx.Logger
}

type handlers struct {
	d Deps
}

func (h handlers) today() reminder.Date {
	now := time.Now
	if h.d.Now != nil {
		now = h.d.Now
	}
	return reminder.Today(now(), h.d.Location)
}

// Commands builds the command set. Everything except /start is owner-only.
func Commands(d Deps) []router.Command {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	h := handlers{d: d}
	owner := router.AccessOwnerOnly
	return []router.Command{
		{Name: "start", Description: "sapaan dan info bot", Access: router.AccessEveryone, Handle: h.start},
		{Name: "subs", Aliases: []string{"list"}, Description: "daftar subscription", Usage: "/subs [all]", Access: owner, Handle: h.subs},
		{Name: "due", Description: "subscription yang masuk jadwal reminder", Usage: "/due", Access: owner, Handle: h.due},
		{Name: "add", Description: "tambah subscription", Usage: "/add name | url | YYYY-MM-DD [| brand]", Access: owner, Handle: h.add},
		{Name: "renew", Description: "perpanjang tanggal expired", Usage: "/renew <id> <YYYY-MM-DD>", Access: owner, Handle: h.renew},
		{Name: "edit", Description: "ubah nama, url, atau brand", Usage: "/edit <id> name|url|brand <value>", Access: owner, Handle: h.edit},
		{Name: "archive", Description: "arsipkan subscription", Usage: "/archive <id>", Access: owner, Handle: h.archive},
		{Name: "unarchive", Description: "aktifkan lagi subscription", Usage: "/unarchive <id>", Access: owner, Handle: h.unarchive},
		{Name: "delete", Description: "hapus subscription", Usage: "/delete <id>", Access: owner, Handle: h.remove},
		{Name: "remind", Description: "jalankan reminder sekarang", Usage: "/remind", Access: owner, Timeout: 2 * time.Minute, Handle: h.remind},
		{Name: "digest", Description: "kirim daftar lengkap sekarang", Usage: "/digest", Access: owner, Timeout: 2 * time.Minute, Handle: h.digest},
		{Name: "status", Description: "status sweep, scheduler, notifier", Usage: "/status", Access: owner, Handle: h.status},
	}
}
