package orchestrator

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"snipbridge/internal/agentrun"
	"snipbridge/internal/runstate"
)

// Theme contains style tokens used when printing a run report.
type Theme struct {
	Name           string
	HeaderStyle    lipgloss.Style
	PanelStyle     lipgloss.Style
	LabelStyle     lipgloss.Style
	UserStyle      lipgloss.Style
	AssistantStyle lipgloss.Style
	ToolStyle      lipgloss.Style
	OKStyle        lipgloss.Style
	ErrorStyle     lipgloss.Style
}

// ResolveTheme returns the named theme. "plain" disables all styling.
func ResolveTheme(name string) Theme {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "plain", "none":
		return newPlainTheme()
	case "light":
		return newLightTheme()
	default:
		return newDarkTheme()
	}
}

func newDarkTheme() Theme {
	return Theme{
		Name: "dark",
		HeaderStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("63")).
			Padding(0, 1),
		PanelStyle: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1),
		LabelStyle:     lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		UserStyle:      lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
		AssistantStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Bold(true),
		ToolStyle:      lipgloss.NewStyle().Foreground(lipgloss.Color("111")).Bold(true),
		OKStyle:        lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		ErrorStyle:     lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true),
	}
}

func newLightTheme() Theme {
	return Theme{
		Name: "light",
		HeaderStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("16")).
			Background(lipgloss.Color("189")).
			Padding(0, 1),
		PanelStyle: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("246")).
			Padding(0, 1),
		LabelStyle:     lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		UserStyle:      lipgloss.NewStyle().Foreground(lipgloss.Color("25")).Bold(true),
		AssistantStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("94")).Bold(true),
		ToolStyle:      lipgloss.NewStyle().Foreground(lipgloss.Color("31")).Bold(true),
		OKStyle:        lipgloss.NewStyle().Foreground(lipgloss.Color("28")).Bold(true),
		ErrorStyle:     lipgloss.NewStyle().Foreground(lipgloss.Color("160")).Bold(true),
	}
}

func newPlainTheme() Theme {
	plain := lipgloss.NewStyle()
	return Theme{
		Name:           "plain",
		HeaderStyle:    plain,
		PanelStyle:     plain,
		LabelStyle:     plain,
		UserStyle:      plain,
		AssistantStyle: plain,
		ToolStyle:      plain,
		OKStyle:        plain,
		ErrorStyle:     plain,
	}
}

// Render formats a report for a terminal.
func Render(report *Report, theme Theme) string {
	if report == nil {
		return ""
	}

	var b strings.Builder
	status := runstate.Status("unknown")
	if report.Run != nil {
		status = report.Run.Status
	}
	statusStyle := theme.OKStyle
	if status != runstate.StatusCompleted {
		statusStyle = theme.ErrorStyle
	}
	b.WriteString(theme.HeaderStyle.Render("run " + report.Session.RunID))
	b.WriteString(" ")
	b.WriteString(statusStyle.Render(string(status)))
	b.WriteString("\n")

	if report.Run != nil && report.Run.LastError != nil {
		fmt.Fprintf(&b, "%s %s: %s\n", theme.LabelStyle.Render("error"), report.Run.LastError.Code, report.Run.LastError.Message)
	}
	if len(report.Transitions) > 0 {
		parts := make([]string, 0, len(report.Transitions)+1)
		parts = append(parts, string(report.Transitions[0].From))
		for _, tr := range report.Transitions {
			parts = append(parts, string(tr.To))
		}
		fmt.Fprintf(&b, "%s %s\n", theme.LabelStyle.Render("states"), strings.Join(parts, " -> "))
	}

	calls := report.ToolCalls()
	if len(calls) > 0 {
		lines := make([]string, 0, len(calls))
		for _, call := range calls {
			line := theme.ToolStyle.Render(call.Name) + " " + call.Arguments
			if call.Output != nil {
				line += "\n  -> " + *call.Output
			}
			lines = append(lines, line)
		}
		b.WriteString(theme.PanelStyle.Render(strings.Join(lines, "\n")))
		b.WriteString("\n")
	}

	for _, msg := range report.Messages {
		prefix := theme.UserStyle.Render("user>")
		if msg.Role == agentrun.RoleAssistant {
			prefix = theme.AssistantStyle.Render("assistant>")
		}
		fmt.Fprintf(&b, "%s %s\n", prefix, msg.Text())
	}
	return b.String()
}
