package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/ftpkit/ftp"
)

// printer writes status lines for humans. Results go to out, failures and
// progress to err so that stdout stays scriptable.
type printer struct {
	out io.Writer
	err io.Writer

	successColor *color.Color
	errorColor   *color.Color
	warningColor *color.Color
	infoColor    *color.Color
}

func newPrinter(out, err io.Writer) *printer {
	return &printer{
		out:          out,
		err:          err,
		successColor: color.New(color.FgGreen),
		errorColor:   color.New(color.FgRed),
		warningColor: color.New(color.FgYellow),
		infoColor:    color.New(color.FgCyan),
	}
}

func (p *printer) status(w io.Writer, tone *color.Color, mark, format string, args ...any) {
	tone.Fprint(w, mark+" ")
	fmt.Fprintf(w, format+"\n", args...)
}

// Success writes a success message with a checkmark.
func (p *printer) Success(format string, args ...any) {
	p.status(p.out, p.successColor, "✓", format, args...)
}

// Failure writes an error message with an X mark.
func (p *printer) Failure(format string, args ...any) {
	p.status(p.err, p.errorColor, "✗", format, args...)
}

// Warning writes a warning message.
func (p *printer) Warning(format string, args ...any) {
	p.status(p.out, p.warningColor, "!", format, args...)
}

// Info writes an info message.
func (p *printer) Info(format string, args ...any) {
	p.status(p.out, p.infoColor, "i", format, args...)
}

// Progress redraws a single progress line on err.
func (p *printer) Progress(name string, pr ftp.Progress) {
	if pr.Percent >= 0 {
		fmt.Fprintf(p.err, "\r%s %5.1f%% %s/s", name, pr.Percent, humanBytes(int64(pr.Speed)))
		return
	}
	fmt.Fprintf(p.err, "\r%s %s %s/s", name, humanBytes(pr.Position), humanBytes(int64(pr.Speed)))
}

// EndProgress terminates a progress line.
func (p *printer) EndProgress() {
	fmt.Fprintln(p.err)
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
