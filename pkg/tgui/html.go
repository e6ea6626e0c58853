package tgui

import (
	"html"
	"strings"
)

// Style marks how a span is emphasized.
type Style int

const (
	Plain Style = iota
	Bold
	Italic
	Code
	Link
)

// Span is a run of text with one style. Href is used by Link only.
type Span struct {
	Text  string
	Style Style
	Href  string
}

func T(s string) Span { return Span{Text: s} }
func B(s string) Span { return Span{Text: s, Style: Bold} }
func I(s string) Span { return Span{Text: s, Style: Italic} }
func C(s string) Span { return Span{Text: s, Style: Code} }

// L links text to href. An empty text shows the href itself.
func L(text, href string) Span {
	if text == "" {
		text = href
	}
	return Span{Text: text, Style: Link, Href: href}
}

// Line is a sequence of spans rendered on one line.
type Line []Span

// Doc is an ordered list of lines.
type Doc struct {
	Lines []Line
}

func (d *Doc) Add(spans ...Span) { d.Lines = append(d.Lines, Line(spans)) }

// Blank appends an empty line.
func (d *Doc) Blank() { d.Lines = append(d.Lines, nil) }

func (d *Doc) Append(other Doc) { d.Lines = append(d.Lines, other.Lines...) }

// HTML renders for Telegram parse_mode=HTML.
func (d Doc) HTML() string {
	var b strings.Builder
	for i, ln := range d.Lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(ln.HTML())
	}
	return b.String()
}

// Plain renders without markup.
func (d Doc) Plain() string {
	var b strings.Builder
	for i, ln := range d.Lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(ln.Plain())
	}
	return b.String()
}

func (l Line) HTML() string {
	var b strings.Builder
	for _, s := range l {
		b.WriteString(s.HTML())
	}
	return b.String()
}

func (l Line) Plain() string {
	var b strings.Builder
	for _, s := range l {
		b.WriteString(s.Text)
	}
	return b.String()
}

func (s Span) HTML() string {
	esc := html.EscapeString(s.Text)
	switch s.Style {
	case Bold:
		return "<b>" + esc + "</b>"
	case Italic:
		return "<i>" + esc + "</i>"
	case Code:
		return "<code>" + esc + "</code>"
	case Link:
		if strings.TrimSpace(s.Href) == "" {
			return esc
		}
		return `<a href="` + html.EscapeString(s.Href) + `">` + esc + "</a>"
	default:
		return esc
	}
}
