// Package output provides styled terminal output helpers (success, error,
// warning, draft and snapshot formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/marcus/coursesync/internal/models"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	kindStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	statusStyles = map[models.Status]lipgloss.Style{
		models.StatusDraft:   lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.StatusPending: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.StatusSynced:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		models.StatusFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// Success prints a success message
func Success(format string, args ...any) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...any) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...any) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...any) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Error codes for structured JSON output
const (
	ErrCodeNotFound     = "not_found"
	ErrCodeInvalidInput = "invalid_input"
	ErrCodeBusy         = "sync_in_progress"
	ErrCodeStoreError   = "store_error"
	ErrCodeRemoteError  = "remote_error"
)

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	data, _ := json.Marshal(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
	fmt.Println(string(data))
}

// FormatStatus formats a status with color
func FormatStatus(s models.Status) string {
	style, ok := statusStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(fmt.Sprintf("[%s]", s))
}

// StatusLabel is FormatStatus plus the exhausted marker for failed entries
// that will not be retried automatically.
func StatusLabel(e models.DraftEntry, exhausted bool) string {
	label := FormatStatus(e.Status)
	if e.Status == models.StatusFailed {
		switch {
		case e.Rejected:
			label += " " + errorStyle.Render("rejected")
		case exhausted:
			label += " " + errorStyle.Render("exhausted")
		default:
			label += " " + subtleStyle.Render(fmt.Sprintf("retry %d", e.RetryCount))
		}
	}
	return label
}

// FormatDraftShort formats a draft entry on one line
func FormatDraftShort(e models.DraftEntry, exhausted bool) string {
	parts := []string{
		titleStyle.Render(e.ID),
		kindStyle.Render(string(e.Kind)),
		e.CourseID(),
	}
	if d := e.DiscussionID(); d != "" {
		parts = append(parts, subtleStyle.Render("re:"+d))
	}
	parts = append(parts, e.Title(), StatusLabel(e, exhausted))
	return strings.Join(parts, "  ")
}

// FormatDraftLong formats a draft entry with its full payload
func FormatDraftLong(e models.DraftEntry, exhausted bool) string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render(fmt.Sprintf("%s: %s", e.ID, e.Title())))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Status: %s\n", StatusLabel(e, exhausted)))
	sb.WriteString(fmt.Sprintf("Kind: %s | Course: %s", e.Kind, e.CourseID()))
	if d := e.DiscussionID(); d != "" {
		sb.WriteString(fmt.Sprintf(" | Discussion: %s", d))
	}
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Created: %s", FormatTimeAgo(e.CreatedAt)))
	if e.SyncedAt != nil {
		sb.WriteString(fmt.Sprintf(" | Synced: %s", FormatTimeAgo(*e.SyncedAt)))
	}
	sb.WriteString("\n")

	var body string
	var anon bool
	switch p := e.Payload.(type) {
	case models.Discussion:
		body, anon = p.Body, p.Anonymous
	case models.Comment:
		body, anon = p.Body, p.Anonymous
	}
	if anon {
		sb.WriteString(subtleStyle.Render("Posted anonymously"))
		sb.WriteString("\n")
	}
	if body != "" {
		sb.WriteString("\n")
		sb.WriteString(RenderBody(body))
		sb.WriteString("\n")
	}

	if e.LastError != "" {
		sb.WriteString("\n")
		sb.WriteString(errorStyle.Render("Last error: " + e.LastError))
		sb.WriteString("\n")
	}
	return sb.String()
}

// FormatDocument formats one cached document on one line
func FormatDocument(d models.Document) string {
	title := d.String("title")
	if title == "" {
		title = d.String("body")
	}
	parts := []string{
		subtleStyle.Render(d.CreatedAt.Local().Format("2006-01-02 15:04")),
		titleStyle.Render(title),
	}
	if author := d.String("authorName"); author != "" {
		parts = append(parts, subtleStyle.Render("by "+author))
	}
	if n := d.Int("replyCount"); n > 0 {
		parts = append(parts, subtleStyle.Render(fmt.Sprintf("%d replies", n)))
	}
	return strings.Join(parts, "  ")
}

// FormatSnapshotHeader formats the heading shown above a cached collection
func FormatSnapshotHeader(c models.CachedCollection) string {
	name := c.CourseName
	if name == "" {
		name = c.CourseID
	}
	synced := "never synced"
	if !c.LastSyncedAt.IsZero() {
		synced = "synced " + FormatTimeAgo(c.LastSyncedAt)
	}
	return fmt.Sprintf("%s %s  %s",
		titleStyle.Render(name),
		kindStyle.Render(string(c.Kind)),
		subtleStyle.Render(fmt.Sprintf("%d items, %s", len(c.Items), synced)))
}

// FormatSyncRun formats one sync history row
func FormatSyncRun(r models.SyncRun) string {
	line := fmt.Sprintf("%s  %-9s synced %d  failed %d  refreshed %d  (%s)",
		r.StartedAt.Local().Format("2006-01-02 15:04:05"),
		r.Trigger, r.Synced, r.Failed, r.Refreshed, r.Duration.Round(time.Millisecond))
	if r.Errors > 0 {
		return warningStyle.Render(line)
	}
	return line
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nDRAFTS:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}

// IndentString indents each line in a string by the specified number of spaces
func IndentString(s string, spaces int) string {
	if s == "" {
		return ""
	}
	indent := strings.Repeat(" ", spaces)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = indent + line
	}
	return strings.Join(lines, "\n")
}
