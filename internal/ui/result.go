package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// RenderSuccess renders a success box with the given title and details
func RenderSuccess(title string, details map[string]string) string {
	lines := []string{"", SuccessTitleStyle.Render(fmt.Sprintf("   %s  %s", SuccessMarker, title)), ""}
	lines = append(lines, detailLines(details)...)
	lines = append(lines, "")
	return box(SuccessColor, strings.Join(lines, "\n"))
}

// RenderFailure renders a failure box with the given title, error, and hints
func RenderFailure(title string, err error, hints []string) string {
	lines := []string{"", ErrorTitleStyle.Render(fmt.Sprintf("   %s  FAILED  ─  %s", FailureMarker, title)), ""}
	if err != nil {
		lines = append(lines, ErrorMessageStyle.Render("   Error: "+err.Error()), "")
	}
	for _, hint := range hints {
		lines = append(lines, MutedStyle.Render("   • "+hint))
	}
	if len(hints) > 0 {
		lines = append(lines, "")
	}
	return box(ErrorColor, strings.Join(lines, "\n"))
}

// RenderWarning renders a warning box with the given title and details
func RenderWarning(title string, details map[string]string) string {
	lines := []string{"", lipgloss.NewStyle().Foreground(WarningColor).Bold(true).Render("   !  " + title), ""}
	lines = append(lines, detailLines(details)...)
	lines = append(lines, "")
	return box(WarningColor, strings.Join(lines, "\n"))
}

// PrintCommandHeader prints a command header to stdout
func PrintCommandHeader(title, command string, params map[string]string) {
	fmt.Println(NewHeader(title, command, params).Render())
	fmt.Println()
}

// PrintSuccess prints a success result to stdout
func PrintSuccess(title string, details map[string]string) {
	fmt.Println()
	fmt.Println(RenderSuccess(title, details))
}

// PrintFailure prints a failure result to stdout
func PrintFailure(title string, err error, hints []string) {
	fmt.Println()
	fmt.Println(RenderFailure(title, err, hints))
}

// PrintWarning prints a warning result to stdout
func PrintWarning(title string, details map[string]string) {
	fmt.Println()
	fmt.Println(RenderWarning(title, details))
}

func detailLines(details map[string]string) []string {
	keys := make([]string, 0, len(details))
	for key := range details {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, ResultKeyStyle.Render(fmt.Sprintf("   %s:", key))+" "+ResultValueStyle.Render(details[key]))
	}
	return lines
}

func box(color lipgloss.Color, content string) string {
	return lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(color).
		Width(GetTerminalWidth() - 2).
		Padding(0, 2).
		Render(content)
}
