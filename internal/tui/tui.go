// Package tui provides a Bubble Tea viewer for daily focus summaries.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fakeyudi/focustrack/internal/report"
)

// ── Styles ────────────

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 2)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245")).
				Background(lipgloss.Color("235")).
				Padding(0, 1)

	tabSepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("238")).
			Background(lipgloss.Color("235"))

	sectionHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	appStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("178"))

	barStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205"))

	liveStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)
)

// ── Tabs ─────────────────

type tabID int

const (
	tabApps tabID = iota
	tabTimeline
	tabCount
)

var tabNames = [tabCount]string{"Apps", "Timeline"}

// barWidth is the widest share bar drawn on the Apps tab.
const barWidth = 30

// ── Model ────────────────────

// Model is the root Bubble Tea model for the viewer.
type Model struct {
	summary   *report.DailySummary
	now       time.Time
	activeTab tabID
	viewports [tabCount]viewport.Model
	width     int
	height    int
	ready     bool
}

// New creates a viewer for sum. Active sessions are measured up to now.
func New(sum *report.DailySummary, now time.Time) Model {
	return Model{summary: sum, now: now}
}

// ActiveTab returns the name of the tab being shown.
func (m Model) ActiveTab() string { return tabNames[m.activeTab] }

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "tab", "l", "right":
			m.activeTab = (m.activeTab + 1) % tabCount
			return m, nil
		case "shift+tab", "h", "left":
			m.activeTab = (m.activeTab - 1 + tabCount) % tabCount
			return m, nil
		case "1", "2":
			m.activeTab = tabID(msg.String()[0] - '1')
			return m, nil
		}
		if !m.ready {
			return m, nil
		}
		var cmd tea.Cmd
		m.viewports[m.activeTab], cmd = m.viewports[m.activeTab].Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.initViewports()
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	if !m.ready {
		return "Loading…"
	}

	title := titleStyle.Width(m.width).Render(fmt.Sprintf("  focustrack  %s  %s tracked",
		m.summary.Date.Format("Mon 2006-01-02"),
		report.FormatDuration(m.summary.TotalActiveTime),
	))

	var tabParts []string
	for i := tabID(0); i < tabCount; i++ {
		label := fmt.Sprintf(" %d %s ", i+1, tabNames[i])
		if i == m.activeTab {
			tabParts = append(tabParts, activeTabStyle.Render(label))
		} else {
			tabParts = append(tabParts, inactiveTabStyle.Render(label))
		}
		if i < tabCount-1 {
			tabParts = append(tabParts, tabSepStyle.Render("│"))
		}
	}
	tabRow := lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Width(m.width).
		Render(lipgloss.JoinHorizontal(lipgloss.Top, tabParts...))

	content := m.viewports[m.activeTab].View()

	hint := "  ←/→ tab  ↑/↓ scroll  q quit"
	pct := fmt.Sprintf("%3.0f%%", m.viewports[m.activeTab].ScrollPercent()*100)
	pad := m.width - lipgloss.Width(hint) - len(pct) - 2
	if pad < 1 {
		pad = 1
	}
	statusBar := statusBarStyle.Width(m.width).Render(hint + strings.Repeat(" ", pad) + pct)

	return lipgloss.JoinVertical(lipgloss.Left, title, tabRow, content, statusBar)
}

func (m *Model) initViewports() {
	// title, tab row and status bar
	vpHeight := m.height - 3
	if vpHeight < 1 {
		vpHeight = 1
	}
	for i := tabID(0); i < tabCount; i++ {
		vp := viewport.New(m.width, vpHeight)
		vp.SetContent(m.renderTab(i))
		m.viewports[i] = vp
	}
}

func (m *Model) renderTab(t tabID) string {
	switch t {
	case tabApps:
		return m.renderApps()
	case tabTimeline:
		return m.renderTimeline()
	}
	return ""
}

func heading(s string) string {
	return "\n" + sectionHeader.Render("  "+s) + "\n\n"
}

func (m *Model) renderApps() string {
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("Applications (%d)", len(m.summary.Apps))))
	if len(m.summary.Apps) == 0 {
		sb.WriteString(dimStyle.Render("  (no activity recorded)") + "\n")
		return sb.String()
	}
	for _, a := range m.summary.Apps {
		filled := int(a.Percentage / 100 * barWidth)
		bar := barStyle.Render(strings.Repeat("█", filled)) + dimStyle.Render(strings.Repeat("░", barWidth-filled))
		fmt.Fprintf(&sb, "  %s  %s %s  %s\n",
			appStyle.Render(fmt.Sprintf("%-24s", truncate(a.AppName, 24))),
			bar,
			timeStyle.Render(fmt.Sprintf("%8s", report.FormatDuration(a.TotalTime))),
			dimStyle.Render(fmt.Sprintf("%3.0f%%  %d sessions", a.Percentage, a.Sessions)),
		)
	}
	return sb.String()
}

func (m *Model) renderTimeline() string {
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("Timeline (%d)", len(m.summary.Sessions))))
	if len(m.summary.Sessions) == 0 {
		sb.WriteString(dimStyle.Render("  (no sessions)") + "\n")
		return sb.String()
	}
	for _, s := range m.summary.Sessions {
		end := liveStyle.Render("  now   ")
		if s.EndTime != nil {
			end = timeStyle.Render(s.EndTime.Format("15:04:05"))
		}
		line := fmt.Sprintf("  %s → %s  %s  %s",
			timeStyle.Render(s.StartTime.Format("15:04:05")),
			end,
			appStyle.Render(s.AppName),
			dimStyle.Render(report.FormatDuration(s.Duration(m.now))),
		)
		if s.WindowTitle != "" {
			line += "  " + dimStyle.Render(s.WindowTitle)
		}
		sb.WriteString(line + "\n")
	}
	return sb.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// Run opens the viewer on the alternate screen and blocks until it quits.
func Run(sum *report.DailySummary, now time.Time) error {
	p := tea.NewProgram(New(sum, now), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
