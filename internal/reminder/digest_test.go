package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostwatch/pkg/tgui"
)

func plainAll(docs []tgui.Doc) string {
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, d.Plain())
	}
	return strings.Join(parts, "\n")
}

func TestComposeDigestGroupsAndOrder(t *testing.T) {
	now := startOfDay()
	today := Today(now, jakarta)
	subs := []Subscription{
		{Name: "zeta-shop", Brand: "Niagahoster", ExpiresAt: today.AddDays(40)},
		{Name: "acme-main", Brand: "acme", ExpiresAt: today.AddDays(2)},
		{Name: "blog", Brand: "", ExpiresAt: today.AddDays(-3)},
		{Name: "acme-cdn", Brand: "ACME ", ExpiresAt: today.AddDays(10)},
		{Name: "alpha-shop", Brand: "Niagahoster", ExpiresAt: today.AddDays(40)},
	}

	docs := ComposeDigest(subs, now, DigestConfig{Location: jakarta})
	require.Len(t, docs, 1)
	text := docs[0].Plain()

	assert.True(t, strings.HasPrefix(text, "Our Hosting List\n19 October 2026 - 00:10 WIB"), text)
	assert.Contains(t, text, "🏢 ACME (2)")
	assert.Contains(t, text, "🏢 NIAGAHOSTER (2)")
	assert.Contains(t, text, "🏢 UNBRANDED (1)")
	assert.NotContains(t, text, "🏢 acme")

	iAcme := strings.Index(text, "🏢 ACME")
	iNiaga := strings.Index(text, "🏢 NIAGAHOSTER")
	iUnbr := strings.Index(text, "🏢 UNBRANDED")
	assert.Less(t, iAcme, iNiaga)
	assert.Less(t, iNiaga, iUnbr)

	// by expiry, then by name
	assert.Less(t, strings.Index(text, "acme-main"), strings.Index(text, "acme-cdn"))
	assert.Less(t, strings.Index(text, "alpha-shop"), strings.Index(text, "zeta-shop"))

	assert.Contains(t, text, "🔥 2 hari lagi")
	assert.Contains(t, text, "💀 Expired 3 hari lalu")
	assert.Contains(t, text, "✅ 40 hari lagi")
	assert.True(t, strings.HasSuffix(text, "TOTAL: 5 SUBSCRIPTIONS"), text)
}

func TestComposeDigestEmpty(t *testing.T) {
	docs := ComposeDigest(nil, startOfDay(), DigestConfig{Location: jakarta})
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0].Plain(), "Belum ada subscription bro! 🚀")
	assert.NotContains(t, docs[0].Plain(), "TOTAL")
}

func TestComposeDigestSingular(t *testing.T) {
	today := Today(startOfDay(), jakarta)
	docs := ComposeDigest([]Subscription{{Name: "solo", ExpiresAt: today}}, startOfDay(), DigestConfig{Location: jakarta})
	text := plainAll(docs)
	assert.Contains(t, text, "Expired hari ini")
	assert.True(t, strings.HasSuffix(text, "TOTAL: 1 SUBSCRIPTION"), text)
}

func TestComposeDigestSplitsOnItemBoundaries(t *testing.T) {
	now := startOfDay()
	today := Today(now, jakarta)
	var subs []Subscription
	brands := []string{"alpha", "bravo", "charlie"}
	for i := 0; i < 40; i++ {
		subs = append(subs, Subscription{
			Name:      fmt.Sprintf("site-%02d-%s", i, strings.Repeat("x", i%7)),
			URL:       "https://example.com/" + strings.Repeat("p", i%11),
			Brand:     brands[i%len(brands)],
			ExpiresAt: today.AddDays(i - 5),
		})
	}

	docs := ComposeDigest(subs, now, DigestConfig{Location: jakarta, MaxChars: 500})
	require.Greater(t, len(docs), 1)
	for i, d := range docs {
		assert.LessOrEqual(t, tgui.RuneLen(d.HTML()), 500, "segment %d", i)
	}

	text := plainAll(docs)
	for _, s := range subs {
		assert.Equal(t, 1, strings.Count(text, ". "+s.Name+"\n"), "item %q must appear exactly once", s.Name)
	}
	for _, b := range brands {
		assert.Equal(t, 1, strings.Count(text, "🏢 "+strings.ToUpper(b)+" ("), "one opening heading for %s", b)
	}
	assert.True(t, strings.HasSuffix(text, "TOTAL: 40 SUBSCRIPTIONS"))
}

func TestComposeDigestRepeatsBrandOnContinuation(t *testing.T) {
	now := startOfDay()
	today := Today(now, jakarta)
	brands := []string{"alpha", "bravo"}
	var subs []Subscription
	for i := 0; i < 30; i++ {
		subs = append(subs, Subscription{
			Name:      fmt.Sprintf("site-%02d", i),
			URL:       "https://example.com/" + strings.Repeat("p", i%9),
			Brand:     brands[i%len(brands)],
			ExpiresAt: today.AddDays(i),
		})
	}

	docs := ComposeDigest(subs, now, DigestConfig{Location: jakarta, MaxChars: 400})
	require.Greater(t, len(docs), 3)

	continued := 0
	for i, d := range docs[1:] {
		assert.LessOrEqual(t, tgui.RuneLen(d.HTML()), 400, "segment %d", i+1)
		lines := strings.Split(d.Plain(), "\n")
		if strings.HasPrefix(lines[0], digestSeparator) {
			continue
		}
		require.True(t, strings.HasPrefix(lines[0], "🏢 "), "segment %d opens with %q", i+1, lines[0])
		require.GreaterOrEqual(t, len(lines), 2)

		at := strings.Index(lines[1], "site-")
		require.GreaterOrEqual(t, at, 0, "segment %d: %q", i+1, lines[1])
		var n int
		_, err := fmt.Sscanf(lines[1][at:], "site-%d", &n)
		require.NoError(t, err)
		brand := strings.ToUpper(brands[n%len(brands)])
		assert.True(t, strings.HasPrefix(lines[0], "🏢 "+brand+" ("), "segment %d heading %q does not match %s", i+1, lines[0], brand)
		if strings.Contains(lines[0], "lanjutan") {
			continued++
			assert.Equal(t, "🏢 "+brand+" (15, lanjutan)", lines[0])
		}
	}
	assert.Positive(t, continued)
}

func TestRemainingPhrase(t *testing.T) {
	assert.Equal(t, "5 hari lagi", RemainingPhrase(5))
	assert.Equal(t, "Expired hari ini", RemainingPhrase(0))
	assert.Equal(t, "Expired 2 hari lalu", RemainingPhrase(-2))
}

func TestBrandKey(t *testing.T) {
	assert.Equal(t, "ACME", BrandKey(" acme "))
	assert.Equal(t, "BIZNET GIO", BrandKey("Biznet   gio"))
	assert.Equal(t, UnbrandedGroup, BrandKey("   "))
}

func TestDigestSendStopsAtFirstFailure(t *testing.T) {
	clock := &fakeClock{now: startOfDay()}
	today := Today(clock.Now(), jakarta)
	var subs []Subscription
	for i := 0; i < 30; i++ {
		subs = append(subs, Subscription{Name: fmt.Sprintf("%s-%02d", strings.Repeat("n", 20), i), ExpiresAt: today.AddDays(i)})
	}
	store := newMemStore(subs...)

	calls := 0
	sender := &recordingSender{fail: func(Message) error {
		calls++
		if calls == 2 {
			return errTransient
		}
		return nil
	}}
	d := NewDigest(DigestConfig{Location: jakarta, MaxChars: 400}, store, sender, DigestClock(clock.Now))

	rep, err := d.Send(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errTransient))
	assert.Greater(t, rep.Segments, 2)
	assert.Equal(t, 1, rep.Delivered)
	assert.Equal(t, 2, calls, "later segments must not be attempted")
	require.Equal(t, 1, sender.count())
	assert.Equal(t, fmt.Sprintf("digest:1/%d", rep.Segments), sender.msgs[0].Key)
}

func TestDigestSendDeliversInOrder(t *testing.T) {
	clock := &fakeClock{now: startOfDay()}
	today := Today(clock.Now(), jakarta)
	var subs []Subscription
	for i := 0; i < 25; i++ {
		subs = append(subs, Subscription{Name: fmt.Sprintf("svc-%02d", i), ExpiresAt: today.AddDays(i + 1)})
	}
	sender := &recordingSender{}
	d := NewDigest(DigestConfig{Location: jakarta, MaxChars: 300}, newMemStore(subs...), sender, DigestClock(clock.Now))

	rep, err := d.Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25, rep.Subscriptions)
	assert.Equal(t, rep.Segments, rep.Delivered)
	require.Equal(t, rep.Segments, sender.count())
	for i, m := range sender.msgs {
		assert.Equal(t, KindDigest, m.Kind)
		assert.Equal(t, fmt.Sprintf("digest:%d/%d", i+1, rep.Segments), m.Key)
	}
	assert.True(t, strings.HasPrefix(sender.plain(0), "Our Hosting List"))
}

func TestDigestStoreError(t *testing.T) {
	store := newMemStore()
	store.listErr = errors.New("db locked")
	d := NewDigest(DigestConfig{}, store, &recordingSender{})
	_, err := d.Send(context.Background())
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
