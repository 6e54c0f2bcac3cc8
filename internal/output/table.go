// Package output renders mamba's terminal output.
//
// This package includes:
//   - Tables for registered environments, revisions and journaled transactions
//   - Styles for solver problem explanations
//   - A download progress bar and a spinner for solving
//   - The interactive confirmation prompt
//
// Color is only emitted on a terminal and never when NO_COLOR is set.
// Progress indicators are safe for concurrent use.
package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/SandrineP/mamba/internal/history"
	"github.com/SandrineP/mamba/internal/solver"
	"github.com/SandrineP/mamba/internal/store"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	addStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	removeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// IsColorEnabled returns true if styled output should be emitted.
// It checks that os.Stdout is a TTY and that the NO_COLOR env var is not set.
func IsColorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

// style renders text with st when color is enabled.
func style(st lipgloss.Style, text string) string {
	if IsColorEnabled() {
		return st.Render(text)
	}
	return text
}

// Palette returns the styles used to explain unsolvable requests.
func Palette() solver.Palette {
	if !IsColorEnabled() {
		return solver.PlainPalette()
	}
	return solver.Palette{
		Unavailable: removeStyle.Bold(true),
		Available:   addStyle,
	}
}

// Confirm asks question on w and reads the answer from r. An empty answer
// accepts. Read errors, including EOF, decline.
func Confirm(r io.Reader, w io.Writer, question string) bool {
	fmt.Fprintf(w, "%s [Y/n]: ", question)

	response, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && response == "" {
		fmt.Fprintln(w)
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "" || response == "y" || response == "yes"
}

// WriteJSON writes v as indented JSON followed by a newline.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// RenderEnvTable renders registered environments. The row matching active
// is marked with "*".
func RenderEnvTable(envs []*store.Env, active string) string {
	if len(envs) == 0 {
		return "No environments found.\n"
	}

	var sb strings.Builder
	sb.WriteString(style(headerStyle, fmt.Sprintf("  %-20s %-6s %s", "Name", "Active", "Path")))
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("─", 72))
	sb.WriteString("\n")

	for _, env := range envs {
		name := env.Name
		if name == "" {
			name = filepath.Base(env.Prefix)
		}
		mark := ""
		if env.Prefix == active {
			mark = "*"
		}
		fmt.Fprintf(&sb, "  %-20s %-6s %s\n", truncate(name, 20), mark, env.Prefix)
	}
	return sb.String()
}

// RenderRevisions renders the revision log of an environment, one block
// per revision with the linked and unlinked packages.
func RenderRevisions(requests []history.UserRequest) string {
	if len(requests) == 0 {
		return "No revisions found.\n"
	}

	var sb strings.Builder
	for i, req := range requests {
		if i > 0 {
			sb.WriteString("\n")
		}
		header := fmt.Sprintf("%s  (rev %d)", req.Date, req.Revision)
		sb.WriteString(style(headerStyle, header))
		sb.WriteString("\n")
		if req.Cmd != "" {
			sb.WriteString(style(dimStyle, "    # "+req.Cmd))
			sb.WriteString("\n")
		}
		for _, d := range req.UnlinkDists {
			sb.WriteString("    " + style(removeStyle, "-"+d) + "\n")
		}
		for _, d := range req.LinkDists {
			sb.WriteString("    " + style(addStyle, "+"+d) + "\n")
		}
	}
	return sb.String()
}

// RenderTransactionTable renders journaled transactions.
func RenderTransactionTable(recs []*store.TxRecord) string {
	if len(recs) == 0 {
		return "No transactions found.\n"
	}

	var sb strings.Builder
	sb.WriteString(style(headerStyle, fmt.Sprintf("%-9s %-16s %-12s %s", "ID", "Started", "Status", "Command")))
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("─", 72))
	sb.WriteString("\n")

	for _, rec := range recs {
		status := rec.Status
		switch status {
		case store.StatusCommitted:
			status = style(addStyle, fmt.Sprintf("%-12s", status))
		case store.StatusFailed, store.StatusRolledBack:
			status = style(removeStyle, fmt.Sprintf("%-12s", status))
		default:
			status = fmt.Sprintf("%-12s", status)
		}
		fmt.Fprintf(&sb, "%-9s %-16s %s %s\n",
			truncate(rec.ID, 8),
			formatRelativeTime(rec.StartedAt),
			status,
			truncate(rec.Command, 40))
	}
	return sb.String()
}

// formatRelativeTime converts a timestamp to relative time (e.g., "2 days ago").
func formatRelativeTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	diff := time.Since(t)
	plural := func(n int, unit string) string {
		if n == 1 {
			return "1 " + unit + " ago"
		}
		return fmt.Sprintf("%d %ss ago", n, unit)
	}

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute")
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour")
	case diff < 7*24*time.Hour:
		return plural(int(diff.Hours()/24), "day")
	case diff < 30*24*time.Hour:
		return plural(int(diff.Hours()/24/7), "week")
	case diff < 365*24*time.Hour:
		return plural(int(diff.Hours()/24/30), "month")
	default:
		return plural(int(diff.Hours()/24/365), "year")
	}
}

// truncate truncates a string to maxLen. IDs are cut short, longer text
// gets "..." appended.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 8 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
