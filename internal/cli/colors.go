// Package cli renders verification verdicts for the terminal.
package cli

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// ANSI color codes for terminal output.
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorBold   = "\033[1m"
)

// ColorEnabled reports whether w is a terminal that should receive ANSI
// colors. NO_COLOR disables colors everywhere.
func ColorEnabled(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Printer writes reports to w, colored when w is a terminal.
type Printer struct {
	w     io.Writer
	color bool
}

// NewPrinter returns a Printer for w with color auto-detection.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, color: ColorEnabled(w)}
}

// NewPlainPrinter returns a Printer that never emits colors.
func NewPlainPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) paint(color, s string) string {
	if !p.color {
		return s
	}
	return color + s + ColorReset
}

// FormatStatus returns a colored status string.
func (p *Printer) FormatStatus(status string) string {
	switch status {
	case "VALID", "YES", "high":
		return p.paint(ColorGreen, status)
	case "INVALID", "NO", "conflict":
		return p.paint(ColorRed, status)
	case "NOT EVALUATED", "unverifiable", "confirmed_invalid":
		return p.paint(ColorYellow, status)
	default:
		return status
	}
}
