package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Renderer serializes a DailySummary to bytes.
type Renderer interface {
	Render(sum *DailySummary, now time.Time) ([]byte, error)
}

// ForFormat returns the renderer for "json" or "markdown" (the default).
func ForFormat(format string) Renderer {
	if format == "json" {
		return &JSONRenderer{}
	}
	return &MarkdownRenderer{}
}

// JSONRenderer renders a DailySummary as indented JSON.
type JSONRenderer struct{}

func (r *JSONRenderer) Render(sum *DailySummary, _ time.Time) ([]byte, error) {
	return json.MarshalIndent(sum, "", "  ")
}

// MarkdownRenderer renders a DailySummary as human-readable Markdown.
type MarkdownRenderer struct{}

func (r *MarkdownRenderer) Render(sum *DailySummary, now time.Time) ([]byte, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Focus — %s\n\n", sum.Date.Format("Monday, 2006-01-02"))

	// ## Summary
	sb.WriteString("## Summary\n\n")
	fmt.Fprintf(&sb, "- Tracked time: %s\n", FormatDuration(sum.TotalActiveTime))
	fmt.Fprintf(&sb, "- Sessions: %d\n", len(sum.Sessions))
	fmt.Fprintf(&sb, "- Applications: %d\n", len(sum.Apps))
	sb.WriteString("\n")

	// ## Applications
	sb.WriteString("## Applications\n\n")
	if len(sum.Apps) == 0 {
		sb.WriteString("_No activity recorded._\n")
	} else {
		sb.WriteString("| Application | Time | Share | Sessions |\n")
		sb.WriteString("|-------------|------|-------|----------|\n")
		for _, a := range sum.Apps {
			fmt.Fprintf(&sb, "| %s | %s | %.0f%% | %d |\n",
				escapeCell(a.AppName),
				FormatDuration(a.TotalTime),
				a.Percentage,
				a.Sessions,
			)
		}
	}
	sb.WriteString("\n")

	// ## Timeline
	sb.WriteString("## Timeline\n\n")
	if len(sum.Sessions) == 0 {
		sb.WriteString("_No sessions._\n")
	} else {
		for _, s := range sum.Sessions {
			end := "now"
			if s.EndTime != nil {
				end = s.EndTime.Format("15:04:05")
			}
			fmt.Fprintf(&sb, "- %s–%s %s (%s)",
				s.StartTime.Format("15:04:05"),
				end,
				s.AppName,
				FormatDuration(s.Duration(now)),
			)
			if s.WindowTitle != "" {
				fmt.Fprintf(&sb, " — %s", s.WindowTitle)
			}
			sb.WriteString("\n")
		}
	}
	sb.WriteString("\n")

	return []byte(sb.String()), nil
}

// escapeCell keeps pipes in application names from breaking the table.
func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
