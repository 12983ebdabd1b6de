package dash

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/allay-dev/allay/internal/instance"
)

var (
	primaryColor = lipgloss.Color("99")  // Purple
	mutedColor   = lipgloss.Color("245") // Gray
	accentColor  = lipgloss.Color("212") // Pink
	errorColor   = lipgloss.Color("196") // Red

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	headerStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(mutedColor).
			PaddingBottom(1)

	rowStyle = lipgloss.NewStyle().
			PaddingLeft(1)

	selectedRowStyle = lipgloss.NewStyle().
				PaddingLeft(1).
				Bold(true).
				Foreground(accentColor)

	noticeStyle = lipgloss.NewStyle().
			Foreground(primaryColor)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	emptyStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true).
			PaddingTop(1).
			PaddingBottom(1)

	footerStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			BorderStyle(lipgloss.NormalBorder()).
			BorderTop(true).
			BorderForeground(mutedColor).
			PaddingTop(1).
			MarginTop(1)

	spinnerStyle = lipgloss.NewStyle().
			Foreground(primaryColor)
)

// stateStyle colors a state label with the state's own color.
func stateStyle(s instance.State) lipgloss.Style {
	style := lipgloss.NewStyle().Foreground(s.Color())
	if s == instance.StateReady || s == instance.StateFailed {
		style = style.Bold(true)
	}
	return style
}
