package commands

import (
	"context"
	"fmt"
	"strings"

	"hostwatch/internal/reminder"
	"hostwatch/internal/transport/telegram/router"
	logx "hostwatch/pkg/logx"
	"hostwatch/pkg/tgui"
)

func (h handlers) classifier() reminder.Classifier {
	return reminder.Classifier{RenewalThreshold: h.d.RenewalThreshold}
}

func (h handlers) start(ctx context.Context, req *router.Request) error {
	var d tgui.Doc
	d.Add(tgui.T("👋 "), tgui.B("hostwatch"))
	d.Add(tgui.T("Bot pengingat masa aktif hosting dan domain."))
	d.Add(tgui.T("Ketik "), tgui.C("/help"), tgui.T(" untuk daftar perintah."))
	return req.Reply(ctx, d)
}

func (h handlers) subs(ctx context.Context, req *router.Request) error {
	all := len(req.Args) > 0 && strings.EqualFold(req.Args[0], "all")
	list, err := h.d.Store.List(ctx, all)
	if err != nil {
		return fail(ctx, req, "", err)
	}
	if len(list) == 0 {
		return req.Reply(ctx, textDoc(tgui.T(reminder.EmptyDigestText)))
	}

	today := h.today()
	cls := h.classifier()
	var d tgui.Doc
	d.Add(tgui.T("📋 "), tgui.B(fmt.Sprintf("Subscription (%d)", len(list))))
	for _, s := range list {
		d.Blank()
		d.Lines = append(d.Lines, subscriptionLines(s, today, cls)...)
	}
	return req.Reply(ctx, d)
}

// due lists active subscriptions per reminder bucket using the stage range queries.
func (h handlers) due(ctx context.Context, req *router.Request) error {
	today := h.today()
	cls := h.classifier()
	var d tgui.Doc
	d.Add(tgui.T("⏰ "), tgui.B("Jadwal reminder"), tgui.T(" "+today.String()))
	total := 0
	for _, st := range reminder.BucketStages {
		list, err := h.d.Store.ListByStage(ctx, today, st, cls.RenewalThreshold)
		if err != nil {
			return fail(ctx, req, "", err)
		}
		if len(list) == 0 {
			continue
		}
		total += len(list)
		d.Blank()
		d.Add(tgui.B(stageLabel(st)), tgui.T(fmt.Sprintf(" (%d)", len(list))))
		for _, s := range list {
			d.Lines = append(d.Lines, subscriptionLines(s, today, cls)...)
		}
	}
	if total == 0 {
		d.Add(tgui.T("Tidak ada yang perlu diingatkan. 🎉"))
	}
	return req.Reply(ctx, d)
}

func (h handlers) add(ctx context.Context, req *router.Request) error {
	const usage = "/add name | url | YYYY-MM-DD [| brand]"
	in, err := parseAdd(req.ArgText)
	if err != nil {
		return fail(ctx, req, usage, err)
	}
	sub, err := h.d.Store.Create(ctx, in)
	if err != nil {
		return fail(ctx, req, usage, err)
	}
	req.Target = idTarget(sub.ID)

	var d tgui.Doc
	d.Add(tgui.T("✅ ditambahkan"))
	d.Lines = append(d.Lines, subscriptionLines(sub, h.today(), h.classifier())...)
	if err := req.Reply(ctx, d); err != nil {
		return err
	}

	// Items already inside a reminder window get their first reminder now.
	if h.d.Jobs != nil {
		if err := h.d.Jobs.Kick(SweepJob); err != nil {
			req.Logger.Debug("sweep kick skipped", logx.Err(err))
		}
	}
	return nil
}

func (h handlers) renew(ctx context.Context, req *router.Request) error {
	const usage = "/renew <id> <YYYY-MM-DD>"
	id, exp, err := parseRenew(req.Args)
	if err != nil {
		return fail(ctx, req, usage, err)
	}
	req.Target = idTarget(id)
	if err := h.d.Store.UpdateExpiry(ctx, id, exp); err != nil {
		return fail(ctx, req, usage, err)
	}
	days := reminder.DaysLeft(h.today(), exp)
	return ok(ctx, req, fmt.Sprintf("%s diperpanjang sampai %s (%s)", idTarget(id), exp, reminder.RemainingPhrase(days)))
}

func (h handlers) edit(ctx context.Context, req *router.Request) error {
	const usage = "/edit <id> name|url|brand <value>"
	id, p, err := parseEdit(req.Args, req.ArgText)
	if err != nil {
		return fail(ctx, req, usage, err)
	}
	req.Target = idTarget(id)
	sub, err := h.d.Store.Update(ctx, id, p)
	if err != nil {
		return fail(ctx, req, usage, err)
	}
	var d tgui.Doc
	d.Add(tgui.T("✅ diperbarui"))
	d.Lines = append(d.Lines, subscriptionLines(sub, h.today(), h.classifier())...)
	return req.Reply(ctx, d)
}

func (h handlers) archive(ctx context.Context, req *router.Request) error {
	return h.setArchived(ctx, req, true)
}

func (h handlers) unarchive(ctx context.Context, req *router.Request) error {
	return h.setArchived(ctx, req, false)
}

func (h handlers) setArchived(ctx context.Context, req *router.Request, archived bool) error {
	usage := "/archive <id>"
	if !archived {
		usage = "/unarchive <id>"
	}
	id, err := parseID(req.Args)
	if err != nil {
		return fail(ctx, req, usage, err)
	}
	req.Target = idTarget(id)
	if err := h.d.Store.SetArchived(ctx, id, archived); err != nil {
		return fail(ctx, req, usage, err)
	}
	if archived {
		return ok(ctx, req, idTarget(id)+" diarsipkan")
	}
	return ok(ctx, req, idTarget(id)+" aktif lagi")
}

func (h handlers) remove(ctx context.Context, req *router.Request) error {
	const usage = "/delete <id>"
	id, err := parseID(req.Args)
	if err != nil {
		return fail(ctx, req, usage, err)
	}
	req.Target = idTarget(id)
	if err := h.d.Store.Delete(ctx, id); err != nil {
		return fail(ctx, req, usage, err)
	}
	return ok(ctx, req, idTarget(id)+" dihapus")
}
