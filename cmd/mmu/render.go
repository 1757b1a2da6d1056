package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/muesli/termenv"

	"mmu/internal/config"
	"mmu/internal/console"
	"mmu/internal/domain"
	"mmu/internal/ledger"
)

// groupMarkdown describes a group as a markdown document.
func groupMarkdown(group domain.ModGroup) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", group.Name)
	fmt.Fprintf(&b, "Location: `%s`\n\n", group.Location)
	if len(group.Mods) == 0 {
		b.WriteString("_No mods configured._\n")
		return b.String()
	}
	b.WriteString("| Mod | Pattern | Repository |\n")
	b.WriteString("| --- | --- | --- |\n")
	for _, mod := range group.Mods {
		fmt.Fprintf(&b, "| %s | `%s` | %s |\n", escapeCell(mod.Name), mod.Pattern, escapeCell(mod.DownloadLink))
	}
	return b.String()
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func (a *app) renderGroup(group domain.ModGroup, plain bool) string {
	format := config.GetString(config.KeyOutputFormat)
	if plain {
		format = "plain"
	}
	render := console.MarkdownRenderer(format, renderWidth)
	return render(groupMarkdown(group))
}

func renderHistory(w io.Writer, entries []ledger.Entry, plain bool) string {
	r := lipgloss.NewRenderer(w)
	if plain {
		r.SetColorProfile(termenv.Ascii)
	}
	header := r.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Padding(0, 1)
	cell := r.NewStyle().Padding(0, 1)
	dim := r.NewStyle().Foreground(lipgloss.Color("240")).Padding(0, 1)

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		removed := e.Removed
		if removed == "" {
			removed = "-"
		}
		rows = append(rows, []string{
			e.InstalledAt.Local().Format("2006-01-02 15:04"),
			e.Mod,
			e.File,
			e.Tag,
			removed,
			humanize.Bytes(uint64(max(e.Bytes, 0))),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dim).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return header
			case col == 0:
				return dim
			default:
				return cell
			}
		}).
		Headers("Installed", "Mod", "File", "Tag", "Replaced", "Size").
		Rows(rows...)

	return t.String()
}
