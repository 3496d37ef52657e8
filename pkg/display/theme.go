package display

import (
	"github.com/charmbracelet/lipgloss"
)

// Theme defines colors and symbols for console output using lipgloss
// Immutable
type Theme struct {
	Cyan  lipgloss.Style
	Green lipgloss.Style
	Dim   lipgloss.Style

	Check string
}

func DefaultTheme() *Theme {
	return &Theme{
		Cyan:  lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
		Green: lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		Dim:   lipgloss.NewStyle().Faint(true),

		Check: "✓",
	}
}

func (t *Theme) Styled(style lipgloss.Style, text string) string {
	return style.Render(text)
}
