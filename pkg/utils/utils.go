package utils

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var levelStyles = map[string]lipgloss.Style{
	"INFO": lipgloss.NewStyle().
		Padding(0, 1, 0, 1).
		Bold(true).
		MaxWidth(80).
		Background(lipgloss.Color("87")).
		Foreground(lipgloss.Color("16")),
	"WARN": lipgloss.NewStyle().
		Padding(0, 1, 0, 1).
		Bold(true).
		MaxWidth(80).
		Background(lipgloss.Color("214")).
		Foreground(lipgloss.Color("0")),
	"ERRO": lipgloss.NewStyle().
		Padding(0, 1, 0, 1).
		Bold(true).
		MaxWidth(80).
		Background(lipgloss.Color("204")).
		Foreground(lipgloss.Color("0")),
	"DEBU": lipgloss.NewStyle().
		Padding(0, 1, 0, 1).
		Bold(true).
		MaxWidth(80).
		Background(lipgloss.Color("63")).
		Foreground(lipgloss.Color("0")),
}

// ColorizeLogs styles the level tag of each plain log line for the
// dashboard viewport. Lines that already carry ANSI codes are left alone.
func ColorizeLogs(logs []string) []string {
	for i, line := range logs {
		if strings.Contains(line, "\x1b[") {
			continue
		}
		for level, style := range levelStyles {
			if strings.Contains(line, level) {
				logs[i] = strings.Replace(line, level, style.Render(level), 1)
				break
			}
		}
	}
	return logs
}
