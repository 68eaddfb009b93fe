// Package output provides consistent CLI output formatting.
package output

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// Writer provides formatted output for the CLI.
type Writer struct {
	out      io.Writer
	useColor bool
}

// New creates a Writer. Color is enabled only when out is a terminal and
// NO_COLOR is unset.
func New(out io.Writer) *Writer {
	return &Writer{
		out:      out,
		useColor: IsTTY(out) && !noColor(),
	}
}

// ANSI color codes.
const (
	colorReset = "\033[0m"
	colorBold  = "\033[1m"
	colorDim   = "\033[2m"
	colorGreen = "\033[32m"
	colorRed   = "\033[31m"
)

// Println writes a plain line.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Println(msg string) {
	_, _ = fmt.Fprintln(w.out, msg)
}

// Printf writes formatted text.
func (w *Writer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(w.out, format, args...)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	_, _ = fmt.Fprintf(w.out, "%s\n", w.colorize(colorGreen, fmt.Sprintf(format, args...)))
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	_, _ = fmt.Fprintf(w.out, "%s\n", w.colorize(colorRed, fmt.Sprintf(format, args...)))
}

// Bold emphasizes text when color is enabled.
func (w *Writer) Bold(text string) string {
	return w.colorize(colorBold, text)
}

// Dim de-emphasizes text when color is enabled.
func (w *Writer) Dim(text string) string {
	return w.colorize(colorDim, text)
}

func (w *Writer) colorize(code, text string) string {
	if !w.useColor {
		return text
	}
	return code + text + colorReset
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// noColor checks the NO_COLOR convention.
func noColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}
