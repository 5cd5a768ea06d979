// Package ui renders the CLI's human-readable reports.
package ui

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"tagbridge/pkg/route"
)

// RenderRoutes draws the route table in evaluation order.
func RenderRoutes(routes []route.Route) string {
	th := defaultTheme()

	title := th.header.Render("tagbridge routes")
	if len(routes) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, title, th.muted.Render("no routes configured"))
	}

	rows := make([][]string, 0, len(routes))
	for i, r := range routes {
		rows = append(rows, []string{strconv.Itoa(i + 1), r.Name, r.Matcher.String(), r.Destination.String()})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(th.border).
		Headers("#", "NAME", "MATCHER", "DESTINATION").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return th.column
			}
			return th.cell
		})

	meta := th.headerMeta.Render(fmt.Sprintf("%d route(s), evaluated independently for every message", len(routes)))
	return lipgloss.JoinVertical(lipgloss.Left, title, meta, t.Render())
}

// RenderCursor describes the persisted cursor for source.
func RenderCursor(source string, cursor int, stored bool) string {
	th := defaultTheme()

	title := th.header.Render("tagbridge cursor")
	if !stored {
		return lipgloss.JoinVertical(lipgloss.Left, title,
			th.muted.Render(fmt.Sprintf("%s: no cursor stored, polling starts at 0", source)))
	}

	line := fmt.Sprintf("%s: next update id %s", source, th.ok.Render(strconv.Itoa(cursor)))
	return lipgloss.JoinVertical(lipgloss.Left, title, line)
}
