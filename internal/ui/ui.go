// Package ui renders CLI status output: styled on a terminal, plain when
// piped. Structured logging stays on slog; this is the human-facing layer
// of the searchsync commands only.
package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

const (
	colorGreen  = "114"
	colorYellow = "220"
	colorRed    = "196"
	colorGray   = "245"
)

// Styles holds the output styles.
type Styles struct {
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Label   lipgloss.Style
}

// DefaultStyles returns the colored styles for terminal output.
func DefaultStyles() Styles {
	return Styles{
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color(colorGreen)),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color(colorYellow)),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color(colorRed)),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray)),
	}
}

// NoColorStyles returns unstyled components for plain mode.
func NoColorStyles() Styles {
	return Styles{
		Success: lipgloss.NewStyle(),
		Warning: lipgloss.NewStyle(),
		Error:   lipgloss.NewStyle(),
		Label:   lipgloss.NewStyle(),
	}
}

// Printer writes status lines.
type Printer struct {
	out    io.Writer
	styles Styles
}

// NewPrinter creates a printer for out, choosing styled or plain output by
// whether out is a terminal.
func NewPrinter(out io.Writer) *Printer {
	styles := NoColorStyles()
	if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		styles = DefaultStyles()
	}
	return &Printer{out: out, styles: styles}
}

// Successf prints a success line.
func (p *Printer) Successf(format string, args ...any) {
	fmt.Fprintln(p.out, p.styles.Success.Render("✓")+" "+fmt.Sprintf(format, args...))
}

// Warnf prints a warning line.
func (p *Printer) Warnf(format string, args ...any) {
	fmt.Fprintln(p.out, p.styles.Warning.Render("!")+" "+fmt.Sprintf(format, args...))
}

// Errorf prints an error line.
func (p *Printer) Errorf(format string, args ...any) {
	fmt.Fprintln(p.out, p.styles.Error.Render("✗")+" "+fmt.Sprintf(format, args...))
}

// Infof prints a neutral status line.
func (p *Printer) Infof(format string, args ...any) {
	fmt.Fprintln(p.out, p.styles.Label.Render("•")+" "+fmt.Sprintf(format, args...))
}
