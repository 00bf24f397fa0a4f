package commands

import (
	"github.com/charmbracelet/lipgloss"

	"coachmic/internal/domain"
)

var (
	labelStyle   = lipgloss.NewStyle().Bold(true).Width(12)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	commandStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
)

func stateStyle(state domain.TurnState) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)
	switch state {
	case domain.TurnStateListening:
		return base.Foreground(lipgloss.Color("10"))
	case domain.TurnStateSpeaking:
		return base.Foreground(lipgloss.Color("14"))
	case domain.TurnStateRecovering:
		return base.Foreground(lipgloss.Color("11"))
	case domain.TurnStateAnalyzing:
		return base.Foreground(lipgloss.Color("13"))
	case domain.TurnStateUnavailable:
		return base.Foreground(lipgloss.Color("9"))
	default:
		return base.Foreground(lipgloss.Color("8"))
	}
}

func dot(on bool) string {
	if on {
		return commandStyle.Render("●")
	}
	return mutedStyle.Render("○")
}
