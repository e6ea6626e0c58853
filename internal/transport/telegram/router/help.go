package router

import (
	"sort"
	"strings"

	"hostwatch/pkg/tgui"
)

// helpDoc renders the command list, or one command's detail when args
// names it.
func (m *CommandManager) helpDoc(args []string) tgui.Doc {
	m.mu.RLock()
	cmds := m.cmds
	alias := m.alias
	m.mu.RUnlock()

	if len(args) > 0 {
		name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(args[0]), "/"))
		c, ok := cmds[name]
		if !ok {
			c, ok = alias[name]
		}
		if !ok {
			var d tgui.Doc
			d.Add(tgui.T("❓ "), tgui.B("Perintah tidak dikenal"))
			d.Add(tgui.T("Coba ketik "), tgui.C("/help"), tgui.T(" untuk melihat daftar perintah."))
			return d
		}
		return commandHelp(c)
	}

	list := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		list = append(list, c)
	}
	// Owner-only at the bottom, alphabetical within groups.
	sort.SliceStable(list, func(i, j int) bool {
		li, lj := list[i].Access == AccessOwnerOnly, list[j].Access == AccessOwnerOnly
		if li != lj {
			return !li
		}
		return list[i].Name < list[j].Name
	})

	var d tgui.Doc
	d.Add(tgui.T("📚 "), tgui.B("Daftar Perintah"))
	d.Add(tgui.T("Ketik "), tgui.C("/help <cmd>"), tgui.T(" untuk detail."))
	d.Blank()
	for _, c := range list {
		prefix := "• "
		if c.Access == AccessOwnerOnly {
			prefix = "• 🔒 "
		}
		line := tgui.Line{tgui.T(prefix), tgui.C("/" + c.Name)}
		if desc := strings.TrimSpace(c.Description); desc != "" {
			line = append(line, tgui.T(" - "+desc))
		}
		d.Lines = append(d.Lines, line)
	}
	return d
}

func commandHelp(c Command) tgui.Doc {
	var d tgui.Doc
	d.Add(tgui.T("📚 "), tgui.B("Bantuan"), tgui.T(" "), tgui.C("/"+c.Name))
	if desc := strings.TrimSpace(c.Description); desc != "" {
		d.Add(tgui.T(desc))
	}
	if c.Access == AccessOwnerOnly {
		d.Add(tgui.T("🔒 "), tgui.I("Khusus owner"))
	}
	if u := strings.TrimSpace(c.Usage); u != "" {
		d.Blank()
		d.Add(tgui.B("Usage"))
		d.Add(tgui.C(u))
	}
	if len(c.Aliases) > 0 {
		d.Blank()
		d.Add(tgui.B("Shortcut"))
		aliases := append([]string(nil), c.Aliases...)
		sort.Strings(aliases)
		for _, a := range aliases {
			d.Add(tgui.T("• "), tgui.C("/"+a))
		}
	}
	return d
}
