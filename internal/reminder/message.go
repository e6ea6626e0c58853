package reminder

import (
	"fmt"
	"strings"

	"hostwatch/pkg/tgui"
)

// Message is one outbound text handed to a Sender.
type Message struct {
	Kind string // KindReminder or KindDigest
	Key  string // correlation key for logs and notifier history
	Body tgui.Doc
}

const (
	KindReminder = "reminder"
	KindDigest   = "digest"
)

// LongDateLayout is used inside reminder and digest text.
const LongDateLayout = "02 January 2006"

// Headlines escalate with the attempt index; the last entry repeats once
// attempts run past the table.
var headlines = map[Stage][]string{
	StageH3: {
		"🚨 Reminder",
		"🚨 Reminder kedua",
	},
	StageH2: {
		"⏰ Heads-up",
		"⏰ Reminder lagi",
		"⏰ Jangan sampai lupa",
	},
	StageH1: {
		"🔥 URGENT",
		"🔥 URGENT, masih belum diperpanjang",
		"🔥🔥 Makin mepet",
		"🔥🔥 Tinggal hitungan jam",
		"🔥🔥🔥 Reminder terakhir sebelum expired",
	},
	StageH0: {
		"💥 ALERT",
		"💥 ALERT lagi",
		"💥 Masih belum diperpanjang",
		"🚨💥 Segera perpanjang",
		"🚨💥 Layanan bisa mati",
		"🚨💥 Cek sekarang juga",
		"🚨💥🚨 Hampir habis jatah reminder",
		"🚨💥🚨 Reminder terakhir",
	},
}

func headline(st Stage, attempt int) string {
	list := headlines[st]
	if len(list) == 0 {
		return "🔔 Reminder"
	}
	i := min(max(attempt, 1), len(list)) - 1
	return list[i]
}

// DaysPhrase describes the remaining time inside a reminder.
func DaysPhrase(daysLeft int) string {
	switch {
	case daysLeft > 1:
		return fmt.Sprintf("expire dalam %d hari", daysLeft)
	case daysLeft == 1:
		return "expire BESOK (1 hari lagi)"
	case daysLeft == 0:
		return "EXPIRED HARI INI"
	default:
		return fmt.Sprintf("sudah expired %d hari lalu", -daysLeft)
	}
}

// ComposeReminder builds the reminder for the given attempt (1-based) of max.
func ComposeReminder(sub Subscription, st Stage, attempt, maxAttempts, daysLeft int) Message {
	var d tgui.Doc
	d.Add(tgui.T(headline(st, attempt)+": "), tgui.B(sub.Name), tgui.T(" "+DaysPhrase(daysLeft)+"!"))
	if strings.TrimSpace(sub.URL) != "" {
		d.Add(tgui.T("🔗 "), tgui.L("", sub.URL))
	}
	d.Add(tgui.T("📅 Expire: "), tgui.B(sub.ExpiresAt.Format(LongDateLayout)))
	if b := strings.TrimSpace(sub.Brand); b != "" {
		d.Add(tgui.T("🏷 "), tgui.I(b))
	}
	d.Add(tgui.C(fmt.Sprintf("[%d/%d]", attempt, maxAttempts)))

	return Message{
		Kind: KindReminder,
		Key:  fmt.Sprintf("sub:%d:%s:%d", sub.ID, st, attempt),
		Body: d,
	}
}
