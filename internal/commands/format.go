package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"hostwatch/internal/reminder"
	"hostwatch/internal/storage"
	"hostwatch/internal/transport/telegram/router"
	"hostwatch/pkg/tgui"
)

func textDoc(spans ...tgui.Span) tgui.Doc {
	var d tgui.Doc
	d.Add(spans...)
	return d
}

func ok(ctx context.Context, req *router.Request, msg string) error {
	return req.Reply(ctx, textDoc(tgui.T("✅ "+msg)))
}

// fail replies with a user-facing reason and returns err for the log and audit.
func fail(ctx context.Context, req *router.Request, usage string, err error) error {
	var d tgui.Doc
	switch {
	case errors.Is(err, storage.ErrNotFound):
		d.Add(tgui.T("❌ subscription tidak ditemukan"))
	case errors.Is(err, storage.ErrDisabled):
		d.Add(tgui.T("❌ storage nonaktif"))
	case errors.Is(err, errUsage), errors.Is(err, storage.ErrInvalid):
		d.Add(tgui.T("❌ " + err.Error()))
		if usage != "" {
			d.Add(tgui.T("Usage: "), tgui.C(usage))
		}
	default:
		d.Add(tgui.T("❌ gagal: " + err.Error()))
	}
	_ = req.Reply(ctx, d)
	return err
}

func idTarget(id int64) string { return "#" + strconv.FormatInt(id, 10) }

func stageLabel(st reminder.Stage) string {
	switch st {
	case reminder.StageH3:
		return "🟡 H-3"
	case reminder.StageH2:
		return "🟠 H-2"
	case reminder.StageH1:
		return "🔴 H-1"
	case reminder.StageH0:
		return "⛔ H-0"
	case reminder.StageFarFuture:
		return "🟢"
	default:
		return "🔵"
	}
}

func counters(s reminder.Subscription) string {
	parts := make([]string, 0, len(reminder.BucketStages))
	for _, st := range reminder.BucketStages {
		parts = append(parts, fmt.Sprintf("%s:%d", st, s.Count(st)))
	}
	return strings.Join(parts, " ")
}

// listNameRunes keeps one list entry on a single line in most clients.
const listNameRunes = 48

// subscriptionLines renders one subscription as two lines.
func subscriptionLines(s reminder.Subscription, today reminder.Date, cls reminder.Classifier) []tgui.Line {
	head := tgui.Line{}
	if s.Archived {
		head = append(head, tgui.T("📦 "))
	} else if !s.ExpiresAt.IsZero() {
		head = append(head, tgui.T(stageLabel(cls.Classify(reminder.DaysLeft(today, s.ExpiresAt)))+" "))
	}
	head = append(head, tgui.C(idTarget(s.ID)), tgui.T(" "))
	name := tgui.TruncRunes(s.Name, listNameRunes)
	if s.URL != "" {
		head = append(head, tgui.L(name, s.URL))
	} else {
		head = append(head, tgui.B(name))
	}
	if s.Brand != "" {
		head = append(head, tgui.T(" · "+reminder.BrandKey(s.Brand)))
	}

	var exp string
	if s.ExpiresAt.IsZero() {
		exp = "tanggal expired kosong"
	} else {
		exp = s.ExpiresAt.String() + " (" + reminder.RemainingPhrase(reminder.DaysLeft(today, s.ExpiresAt)) + ")"
	}
	detail := tgui.Line{tgui.T("    " + exp + " · "), tgui.C(counters(s))}
	return []tgui.Line{head, detail}
}
