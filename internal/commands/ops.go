package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hostwatch/internal/reminder"
	"hostwatch/internal/task/engine"
	"hostwatch/internal/task/scheduler"
	"hostwatch/internal/transport/telegram/router"
	"hostwatch/pkg/tgui"
)

func (h handlers) remind(ctx context.Context, req *router.Request) error {
	if h.d.Jobs == nil {
		return fail(ctx, req, "", engine.ErrDisabled)
	}
	err := h.d.Jobs.RunNow(ctx, SweepJob)
	switch {
	case errors.Is(err, engine.ErrOverlapSkip), errors.Is(err, reminder.ErrSweepRunning):
		return req.Reply(ctx, textDoc(tgui.T("⏳ sweep sedang berjalan, coba lagi sebentar")))
	case errors.Is(err, scheduler.ErrUnknownSchedule):
		return req.Reply(ctx, textDoc(tgui.T("reminder nonaktif")))
	case err != nil:
		return fail(ctx, req, "", err)
	}
	if h.d.Sweeps == nil {
		return ok(ctx, req, "sweep selesai")
	}
	rep, _ := h.d.Sweeps.LastReport()
	return req.Reply(ctx, reportDoc("✅ Sweep selesai", rep))
}

func (h handlers) digest(ctx context.Context, req *router.Request) error {
	if h.d.Jobs == nil {
		return fail(ctx, req, "", engine.ErrDisabled)
	}
	err := h.d.Jobs.RunNow(ctx, DigestJob)
	switch {
	case errors.Is(err, engine.ErrOverlapSkip):
		return req.Reply(ctx, textDoc(tgui.T("⏳ digest sedang dikirim")))
	case errors.Is(err, scheduler.ErrUnknownSchedule):
		return req.Reply(ctx, textDoc(tgui.T("digest nonaktif")))
	case err != nil:
		return fail(ctx, req, "", err)
	}
	return ok(ctx, req, "digest terkirim")
}

func reportDoc(title string, rep reminder.Report) tgui.Doc {
	var d tgui.Doc
	d.Add(tgui.B(title))
	if rep.RunID == "" {
		d.Add(tgui.I("belum ada sweep"))
		return d
	}
	d.Add(tgui.T("run "), tgui.C(rep.RunID[:min(8, len(rep.RunID))]), tgui.T(" · "+rep.Trigger+" · "+rep.StartedAt.Format("02 Jan 15:04")+" · "+rep.Took.Round(time.Millisecond).String()))
	d.Add(tgui.C(fmt.Sprintf("evaluated=%d sent=%d stale=%d failed=%d reset=%d", rep.Evaluated, rep.Sent, rep.Stale, rep.Failed, rep.Reset)))
	d.Add(tgui.C(fmt.Sprintf("capped=%d deferred=%d skipped=%d errors=%d", rep.Capped, rep.Deferred, rep.Skipped, rep.Errors)))
	return d
}

func (h handlers) status(ctx context.Context, req *router.Request) error {
	var d tgui.Doc
	d.Add(tgui.T("📊 "), tgui.B("Status"))

	if h.d.Store != nil {
		state := "ok"
		if err := h.d.Store.Ping(ctx); err != nil {
			state = "error: " + err.Error()
		}
		d.Add(tgui.T("storage: "), tgui.C(state))
	}

	if h.d.Sweeps != nil {
		rep, _ := h.d.Sweeps.LastReport()
		d.Blank()
		d.Append(reportDoc("Sweep terakhir", rep))
	}

	if h.d.Scheduler != nil {
		snap := h.d.Scheduler.Snapshot()
		d.Blank()
		d.Add(tgui.B("Scheduler"), tgui.T(" "+snap.Timezone))
		for _, s := range snap.Schedules {
			next := "-"
			if !s.Next.IsZero() {
				next = s.Next.In(h.d.Location).Format("02 Jan 15:04")
			}
			d.Add(tgui.T("• "), tgui.C(s.Name), tgui.T(" "+s.Spec+" → "+next))
		}
		e := snap.Engine
		d.Add(tgui.C(fmt.Sprintf("tasks queue=%d/%d in_flight=%d skipped=%d dropped=%d", e.QueueLen, e.QueueCap, e.InFlight, e.Skipped, e.Dropped)))
	}

	if h.d.Notifier != nil {
		st := h.d.Notifier.Stats()
		d.Blank()
		d.Add(tgui.B("Notifier"))
		d.Add(tgui.C(fmt.Sprintf("queue=%d/%d sent=%d failed=%d dropped=%d", st.Queued, st.Capacity, st.Sent, st.Failed, st.Dropped)))
	}
	return req.Reply(ctx, d)
}
