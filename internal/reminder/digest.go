package reminder

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"hostwatch/internal/eventbus"
	logx "hostwatch/pkg/logx"
	"hostwatch/pkg/tgui"
)

// UnbrandedGroup collects subscriptions without a brand.
const UnbrandedGroup = "UNBRANDED"

// DefaultDigestMaxChars keeps each digest message well under Telegram's limit.
const DefaultDigestMaxChars = 3500

const (
	digestDateLayout   = "02 Jan 2006"
	digestHeaderLayout = "02 January 2006 - 15:04 MST"
	digestSeparator    = "——————————————————————————————"
)

// EmptyDigestText is shown when there is nothing to list.
const EmptyDigestText = "Belum ada subscription bro! 🚀"

type DigestConfig struct {
	Title    string
	MaxChars int
	Location *time.Location
}

func (c DigestConfig) withDefaults() DigestConfig {
	if strings.TrimSpace(c.Title) == "" {
		c.Title = "Our Hosting List"
	}
	if c.MaxChars <= 0 {
		c.MaxChars = DefaultDigestMaxChars
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return c
}

// BrandKey normalizes a brand for grouping.
func BrandKey(brand string) string {
	b := strings.Join(strings.Fields(brand), " ")
	if b == "" {
		return UnbrandedGroup
	}
	return cases.Upper(language.Und).String(b)
}

// RemainingPhrase is the digest wording for days left.
func RemainingPhrase(daysLeft int) string {
	switch {
	case daysLeft > 0:
		return fmt.Sprintf("%d hari lagi", daysLeft)
	case daysLeft == 0:
		return "Expired hari ini"
	default:
		return fmt.Sprintf("Expired %d hari lalu", -daysLeft)
	}
}

func statusEmoji(daysLeft int) string {
	switch {
	case daysLeft <= 0:
		return "💀"
	case daysLeft <= 3:
		return "🔥"
	case daysLeft <= 7:
		return "⚠️"
	default:
		return "✅"
	}
}

type brandGroup struct {
	key  string
	subs []Subscription
}

func groupByBrand(subs []Subscription) []brandGroup {
	idx := map[string]int{}
	var groups []brandGroup
	for _, s := range subs {
		if s.Archived {
			continue
		}
		k := BrandKey(s.Brand)
		i, ok := idx[k]
		if !ok {
			i = len(groups)
			idx[k] = i
			groups = append(groups, brandGroup{key: k})
		}
		groups[i].subs = append(groups[i].subs, s)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].key < groups[j].key })
	for _, g := range groups {
		sort.SliceStable(g.subs, func(i, j int) bool {
			a, b := g.subs[i], g.subs[j]
			if a.ExpiresAt != b.ExpiresAt {
				// unknown dates last
				if a.ExpiresAt.IsZero() || b.ExpiresAt.IsZero() {
					return b.ExpiresAt.IsZero()
				}
				return a.ExpiresAt.Before(b.ExpiresAt)
			}
			return strings.ToLower(a.Name) < strings.ToLower(b.Name)
		})
	}
	return groups
}

// ComposeDigest renders the full list as one or more messages, each at most
// cfg.MaxChars runes of rendered HTML. Items are never split across messages.
func ComposeDigest(subs []Subscription, now time.Time, cfg DigestConfig) []tgui.Doc {
	cfg = cfg.withDefaults()
	today := Today(now, cfg.Location)
	groups := groupByBrand(subs)

	var header tgui.Doc
	header.Add(tgui.B(cfg.Title))
	header.Add(tgui.T(now.In(cfg.Location).Format(digestHeaderLayout)))

	total := 0
	for _, g := range groups {
		total += len(g.subs)
	}
	if total == 0 {
		header.Blank()
		header.Add(tgui.T(EmptyDigestText))
		return []tgui.Doc{header}
	}

	blocks := []digestBlock{{doc: header}}
	for _, g := range groups {
		resume := tgui.Line{tgui.T("🏢 "), tgui.B(g.key), tgui.T(fmt.Sprintf(" (%d, lanjutan)", len(g.subs)))}
		for i, s := range g.subs {
			var b tgui.Doc
			if i == 0 {
				b.Add(tgui.T("🏢 "), tgui.B(g.key), tgui.T(fmt.Sprintf(" (%d)", len(g.subs))))
			}
			b.Add(tgui.T(fmt.Sprintf("%d. ", i+1)), tgui.B(s.Name))
			if strings.TrimSpace(s.URL) != "" {
				b.Add(tgui.T("🔗 "), tgui.L("", s.URL))
			}
			if s.ExpiresAt.IsZero() {
				b.Add(tgui.T("📅 tanggal tidak diketahui"))
			} else {
				days := DaysLeft(today, s.ExpiresAt)
				b.Add(tgui.T("📅 "+s.ExpiresAt.Format(digestDateLayout)+" "+statusEmoji(days)+" "), tgui.B(RemainingPhrase(days)))
			}
			blk := digestBlock{doc: b}
			if i > 0 {
				blk.resume = resume
			}
			blocks = append(blocks, blk)
		}
	}

	var footer tgui.Doc
	footer.Add(tgui.T(digestSeparator))
	unit := "SUBSCRIPTIONS"
	if total == 1 {
		unit = "SUBSCRIPTION"
	}
	footer.Add(tgui.B(fmt.Sprintf("TOTAL: %d %s", total, unit)))
	blocks = append(blocks, digestBlock{doc: footer})

	return packBlocks(blocks, cfg.MaxChars)
}

// digestBlock is one unit that is never split across segments when it fits.
// resume is the group heading to repeat when the block opens a segment in
// the middle of its group.
type digestBlock struct {
	doc    tgui.Doc
	resume tgui.Line
}

// packBlocks joins blocks with a blank line, starting a new segment when
// the next block would push the rendered size past limit. A block that is
// too large alone is split by lines.
func packBlocks(blocks []digestBlock, limit int) []tgui.Doc {
	var (
		out  []tgui.Doc
		cur  tgui.Doc
		size int
	)
	flush := func() {
		if len(cur.Lines) > 0 {
			out = append(out, cur)
		}
		cur, size = tgui.Doc{}, 0
	}
	addLine := func(ln tgui.Line) {
		n := tgui.RuneLen(ln.HTML())
		if size > 0 && size+1+n > limit {
			flush()
		}
		if size > 0 {
			size++
		}
		cur.Lines = append(cur.Lines, ln)
		size += n
	}
	// open starts a fresh segment with b, led by its group heading if any.
	open := func(b digestBlock) {
		flush()
		lines := b.doc.Lines
		if len(b.resume) > 0 {
			lines = append([]tgui.Line{b.resume}, lines...)
		}
		doc := tgui.Doc{Lines: lines}
		if n := tgui.RuneLen(doc.HTML()); n <= limit {
			cur, size = doc, n
			return
		}
		for _, ln := range lines {
			addLine(ln)
		}
	}

	for _, b := range blocks {
		n := tgui.RuneLen(b.doc.HTML())
		sep := 0
		if size > 0 {
			sep = 2 // "\n\n"
		}
		if size > 0 && size+sep+n <= limit {
			cur.Blank()
			cur.Append(b.doc)
			size += sep + n
			continue
		}
		open(b)
	}
	flush()
	return out
}

// Lister is the read side the digest needs.
type Lister interface {
	ListActive(ctx context.Context) ([]Subscription, error)
}

type DigestReport struct {
	Subscriptions int `json:"subscriptions"`
	Segments      int `json:"segments"`
	Delivered     int `json:"delivered"`
}

// Digest sends the full listing on demand or on a daily trigger.
type Digest struct {
	store   Lister
	sender  Sender
	log     logx.Logger
	bus     eventbus.Bus
	metrics *Metrics
	now     func() time.Time

	mu          sync.RWMutex
	cfg         DigestConfig
	sendTimeout time.Duration
}

func NewDigest(cfg DigestConfig, store Lister, sender Sender, opts ...DigestOption) *Digest {
	d := &Digest{
		store:       store,
		sender:      sender,
		bus:         eventbus.Nop(),
		now:         time.Now,
		cfg:         cfg.withDefaults(),
		sendTimeout: 20 * time.Second,
	}
	for _, o := range opts {
		o(d)
	}
	if d.bus == nil {
		d.bus = eventbus.Nop()
	}
	return d
}

// Apply swaps the rendering config used by the next Send.
func (d *Digest) Apply(cfg DigestConfig) {
	d.mu.Lock()
	d.cfg = cfg.withDefaults()
	d.mu.Unlock()
}

func (d *Digest) config() DigestConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

type DigestOption func(*Digest)

func DigestLogger(log logx.Logger) DigestOption { return func(d *Digest) { d.log = log } }
func DigestBus(bus eventbus.Bus) DigestOption   { return func(d *Digest) { d.bus = bus } }
func DigestMetrics(m *Metrics) DigestOption     { return func(d *Digest) { d.metrics = m } }
func DigestClock(now func() time.Time) DigestOption {
	return func(d *Digest) { d.now = now }
}
func DigestSendTimeout(t time.Duration) DigestOption {
	return func(d *Digest) {
		if t > 0 {
			d.sendTimeout = t
		}
	}
}

// Send fetches active subscriptions and delivers every segment in order.
// It stops at the first failed segment so later parts never arrive alone.
func (d *Digest) Send(ctx context.Context) (DigestReport, error) {
	subs, err := d.store.ListActive(ctx)
	if err != nil {
		d.log.Error("digest aborted; store unavailable", logx.Err(err))
		return DigestReport{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	docs := ComposeDigest(subs, d.now(), d.config())
	rep := DigestReport{Subscriptions: len(subs), Segments: len(docs)}
	for i, doc := range docs {
		msg := Message{Kind: KindDigest, Key: fmt.Sprintf("digest:%d/%d", i+1, len(docs)), Body: doc}
		sctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		err := d.sender.Send(sctx, msg)
		cancel()
		if err != nil {
			d.metrics.digestSegment("failed")
			d.log.Warn("digest segment failed", logx.Int("segment", i+1), logx.Int("segments", len(docs)), logx.Err(err))
			return rep, fmt.Errorf("digest segment %d/%d: %w", i+1, len(docs), err)
		}
		d.metrics.digestSegment("sent")
		rep.Delivered++
	}
	d.bus.Publish(eventbus.Event{Type: EventDigest, Data: rep})
	d.log.Info("digest sent", logx.Int("subscriptions", rep.Subscriptions), logx.Int("segments", rep.Segments))
	return rep, nil
}
