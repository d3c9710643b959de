package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/go-i2p/logger"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Bold(true).Width(10)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle   = lipgloss.NewStyle().Faint(true)
)

// fieldOrder lists envelope fields in reading order; unknown fields
// follow alphabetically.
var fieldOrder = []string{"kind", "version", "src", "dst", "expiry", "protocol", "msg_len", "body_len", "mac", "sig"}

func orderedKeys(fields logger.Fields) []string {
	rank := make(map[string]int, len(fieldOrder))
	for i, k := range fieldOrder {
		rank[k] = i
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, iok := rank[keys[i]]
		rj, jok := rank[keys[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return keys[i] < keys[j]
		}
	})
	return keys
}

// renderFields renders a titled label/value block.
func renderFields(title string, fields logger.Fields) string {
	lines := []string{titleStyle.Render(title)}
	for _, k := range orderedKeys(fields) {
		lines = append(lines, labelStyle.Render(k)+" "+fmt.Sprint(fields[k]))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderVerdict(ok bool, text string) string {
	if ok {
		return okStyle.Render("✓ " + text)
	}
	return badStyle.Render("✗ " + text)
}

func renderTable(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	render := func(cells []string, style lipgloss.Style) string {
		parts := make([]string, len(cells))
		for i, c := range cells {
			parts[i] = style.Width(widths[i]).Render(c)
		}
		return strings.Join(parts, "  ")
	}
	lines := []string{render(header, titleStyle)}
	for _, row := range rows {
		lines = append(lines, render(row, lipgloss.NewStyle()))
	}
	return strings.Join(lines, "\n")
}
