// Package ui renders mbotlink terminal output with Lipgloss.
//
// Commands print a Header on start, stream one FormatMessage line per decoded
// message, and finish with a success, warning or failure box. ConfigureColor
// drops styling when output is piped so captured logs stay plain text.
package ui
