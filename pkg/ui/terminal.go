// Package ui renders operator-facing output: the banner, progress line,
// run summary and journal status tables.
package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

const banner = `
   ┌─────────────────────────────────────┐
   │  docharvest · paginated PDF fetcher │
   └─────────────────────────────────────┘`

// Printer writes styled lines to an output stream.
type Printer struct {
	out   io.Writer
	theme Theme
}

// NewPrinter returns a printer for w. Colors are used only when color is
// true and w is a terminal.
func NewPrinter(w io.Writer, color bool) *Printer {
	r := lipgloss.NewRenderer(w)
	if !color {
		r.SetColorProfile(termenv.Ascii)
	}
	return &Printer{out: w, theme: newTheme(r)}
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Banner prints the program banner with its version.
func (p *Printer) Banner(version string) {
	fmt.Fprintln(p.out, p.theme.Title.Render(banner))
	fmt.Fprintln(p.out, p.theme.Dim.Render("   version "+version))
	fmt.Fprintln(p.out)
}

func (p *Printer) Info(label, value string) {
	fmt.Fprintf(p.out, "%s: %s\n", p.theme.Label.Render(label), p.theme.Value.Render(value))
}

func (p *Printer) Success(msg string) {
	fmt.Fprintln(p.out, p.theme.Success.Render("✓ "+msg))
}

func (p *Printer) Warning(msg string) {
	fmt.Fprintln(p.out, p.theme.Warning.Render("⚠ "+msg))
}

// Error prints msg with err appended when non-nil.
func (p *Printer) Error(msg string, err error) {
	if err != nil {
		msg = msg + ": " + err.Error()
	}
	fmt.Fprintln(p.out, p.theme.Error.Render("✗ "+msg))
}
