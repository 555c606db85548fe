package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/marcus/coursesync/internal/models"
	"github.com/marcus/coursesync/internal/output"
)

const panelRows = 8

// View renders the dashboard
func (m Model) View() string {
	if !m.loaded {
		return m.spinner.View() + " loading..."
	}

	var sections []string
	sections = append(sections, m.renderHeader())
	for p := Panel(0); p < panelCount; p++ {
		sections = append(sections, m.renderPanel(p))
	}
	sections = append(sections, m.renderFooter())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderHeader() string {
	conn := offlineStyle.Render("○ offline")
	if m.data.Online {
		conn = onlineStyle.Render("● online")
	}
	title := "coursesync monitor"
	if m.opts.Version != "" {
		title += " " + m.opts.Version
	}
	c := m.data.Counts
	badges := fmt.Sprintf("draft %d  pending %d  synced %d  failed %d",
		c.Draft, c.Pending, c.Synced, c.Failed)
	if c.Exhausted > 0 {
		badges += "  " + errStyle.Render(fmt.Sprintf("exhausted %d", c.Exhausted))
	}
	line := headerStyle.Render(title) + "  " + conn + "  " + badges
	if m.syncing || m.data.Syncing {
		line += "  " + m.spinner.View() + " syncing"
	}
	if m.width > 10 {
		line = ansi.Truncate(line, m.width, "…")
	}
	return line
}

func (m Model) renderPanel(p Panel) string {
	titleStyle, boxStyle := panelTitleStyle, panelStyle
	if p == m.panel {
		titleStyle, boxStyle = activePanelTitleStyle, activePanelStyle
	}

	var rows []string
	switch p {
	case PanelDrafts:
		for _, r := range m.data.Drafts {
			rows = append(rows, output.FormatDraftShort(r.Entry, r.Exhausted))
		}
	case PanelCache:
		for _, c := range m.data.Collections {
			rows = append(rows, output.FormatSnapshotHeader(c))
		}
	case PanelHistory:
		for _, r := range m.data.Runs {
			rows = append(rows, output.FormatSyncRun(r))
		}
	}

	body := m.renderRows(p, rows)
	if width := m.width - 2; width > 20 {
		boxStyle = boxStyle.Width(width)
	}
	return boxStyle.Render(titleStyle.Render(fmt.Sprintf("%s (%d)", p, len(rows))) + "\n" + body)
}

// renderRows shows a window of rows that keeps the cursor visible.
func (m Model) renderRows(p Panel, rows []string) string {
	if len(rows) == 0 {
		return subtleStyle.Render(emptyText(p))
	}
	cur := m.cursor[p]
	start := 0
	if cur >= panelRows {
		start = cur - panelRows + 1
	}
	end := min(start+panelRows, len(rows))
	// border plus padding
	maxWidth := m.width - 6

	var sb strings.Builder
	for i := start; i < end; i++ {
		row := rows[i]
		if maxWidth > 10 {
			row = ansi.Truncate(row, maxWidth, "…")
		}
		if p == m.panel && i == cur {
			row = selectedRowStyle.Render(row)
		}
		sb.WriteString(row)
		if i < end-1 {
			sb.WriteString("\n")
		}
	}
	if end < len(rows) {
		sb.WriteString("\n" + subtleStyle.Render(fmt.Sprintf("... %d more", len(rows)-end)))
	}
	return sb.String()
}

func emptyText(p Panel) string {
	switch p {
	case PanelDrafts:
		return "queue is empty"
	case PanelCache:
		return "nothing cached yet"
	default:
		return "no sync passes recorded"
	}
}

func (m Model) renderFooter() string {
	var parts []string
	if m.status != "" {
		parts = append(parts, m.status)
	}
	if m.data.Err != nil {
		parts = append(parts, errStyle.Render("error: "+m.data.Err.Error()))
	}
	if sel := m.selectedDraft(); sel != nil && sel.LastError != "" {
		line := sel.ID + ": " + sel.LastError
		if m.width > 10 {
			line = ansi.Truncate(line, m.width, "…")
		}
		parts = append(parts, warnStyle.Render(line))
	}
	keys := []string{"tab panel", "j/k move", "r refresh", "q quit"}
	if m.opts.Sync != nil {
		keys = append([]string{"s sync"}, keys...)
	}
	parts = append(parts, helpStyle.Render(strings.Join(keys, " · ")))
	return strings.Join(parts, "\n")
}

func (m Model) selectedDraft() *models.DraftEntry {
	if m.panel != PanelDrafts || len(m.data.Drafts) == 0 {
		return nil
	}
	return &m.data.Drafts[m.cursor[PanelDrafts]].Entry
}
